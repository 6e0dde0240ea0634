// Package usagestore defines the port for monthly usage counters.
package usagestore

import (
	"context"

	"github.com/nexus-tt/nexus/internal/domain/usage"
)

// Store persists usage counters. Apply must be an atomic additive update.
type Store interface {
	Apply(ctx context.Context, e usage.Event) (*usage.Record, error)
	ListUsage(ctx context.Context, userID string) ([]usage.Record, error)
}
