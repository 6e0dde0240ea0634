// Package engineprofile defines the port for operator-authored engine profiles.
package engineprofile

import (
	"context"

	"github.com/nexus-tt/nexus/internal/domain/engine"
)

// Reader is what the chat path needs. GetProfile returns domain.ErrNotFound
// when the engine has no profile.
type Reader interface {
	GetProfile(ctx context.Context, sel engine.Selector) (*engine.Profile, error)
	ListKnowledge(ctx context.Context, sel engine.Selector) ([]engine.KnowledgeFile, error)
}

// Store adds the management operations behind the prompt and file APIs.
type Store interface {
	Reader
	PutProfile(ctx context.Context, p *engine.Profile) error
	AddKnowledge(ctx context.Context, f *engine.KnowledgeFile) error
	UpdateKnowledge(ctx context.Context, f *engine.KnowledgeFile) error
	DeleteKnowledge(ctx context.Context, sel engine.Selector, fileID string) error
}
