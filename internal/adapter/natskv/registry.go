package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/nexus-tt/nexus/internal/port/transport"
)

// Registry records live connections in a KV bucket so every replica can see
// them. Stale entries expire with the bucket TTL.
type Registry struct {
	kv jetstream.KeyValue
}

var _ transport.Registry = (*Registry)(nil)

// NewRegistry creates a registry on kv.
func NewRegistry(kv jetstream.KeyValue) *Registry {
	return &Registry{kv: kv}
}

func (r *Registry) Register(ctx context.Context, c transport.Connection) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal connection: %w", err)
	}
	if _, err := r.kv.Put(ctx, kvKey(c.ID), data); err != nil {
		return fmt.Errorf("register connection %s: %w", c.ID, err)
	}
	return nil
}

func (r *Registry) Forget(ctx context.Context, connectionID string) error {
	err := r.kv.Delete(ctx, kvKey(connectionID))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("forget connection %s: %w", connectionID, err)
	}
	return nil
}
