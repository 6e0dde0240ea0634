package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nexus-tt/nexus/internal/port/conversationstore"
	"github.com/nexus-tt/nexus/internal/port/engineprofile"
	"github.com/nexus-tt/nexus/internal/port/usagestore"
)

// Store implements the conversation, engine profile and usage ports on
// PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ conversationstore.Repository = (*Store)(nil)
	_ engineprofile.Store          = (*Store)(nil)
	_ usagestore.Store             = (*Store)(nil)
)

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks database connectivity for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
