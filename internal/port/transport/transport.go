// Package transport defines the port for pushing events to live client connections.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrGone is returned by Send when the remote end no longer exists.
var ErrGone = errors.New("transport: connection gone")

// Sender pushes one JSON-encodable event to a connection.
type Sender interface {
	Send(ctx context.Context, connectionID string, event any) error
}

// Connection is a registry entry for a live connection.
type Connection struct {
	ID          string    `json:"connectionId"`
	UserID      string    `json:"userId,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Registry records which connections are live.
type Registry interface {
	Register(ctx context.Context, c Connection) error
	Forget(ctx context.Context, connectionID string) error
}
