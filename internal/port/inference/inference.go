// Package inference defines the port for streaming text generation.
package inference

import (
	"context"
	"errors"
)

// ErrIncompleteStream is returned by Recv when the stream ended without the
// end-of-stream marker.
var ErrIncompleteStream = errors.New("inference: stream ended without completion marker")

// Message is one turn of the alternating sequence sent to the model.
type Message struct {
	Role    string
	Content string
}

// Request is one streaming generation call.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// Stream yields text deltas in order. Recv returns io.EOF after the
// end-of-stream marker and ErrIncompleteStream if the stream broke off.
// The next delta is not requested until Recv is called again.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Client opens streaming generation calls.
type Client interface {
	StreamChat(ctx context.Context, req Request) (Stream, error)
}
