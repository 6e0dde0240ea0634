package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nexus-tt/nexus/internal/domain"
	"github.com/nexus-tt/nexus/internal/domain/engine"
	"github.com/nexus-tt/nexus/internal/port/cache"
	"github.com/nexus-tt/nexus/internal/port/engineprofile"
)

// ProfileCache stores assembled profiles. GetOrLoad collapses concurrent loads
// of one key.
type ProfileCache interface {
	GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(context.Context) ([]byte, error)) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// EngineService reads and manages engine profiles and their knowledge files.
type EngineService struct {
	store engineprofile.Store
	cache ProfileCache
	ttl   time.Duration
}

// NewEngineService creates an EngineService. cache may be nil.
func NewEngineService(store engineprofile.Store, c ProfileCache, ttl time.Duration) *EngineService {
	return &EngineService{store: store, cache: c, ttl: ttl}
}

// Load returns the profile of sel with its knowledge files attached. It
// returns domain.ErrNotFound when the engine has no profile.
func (s *EngineService) Load(ctx context.Context, sel engine.Selector) (*engine.Profile, error) {
	if s.cache == nil {
		return s.load(ctx, sel)
	}
	data, err := s.cache.GetOrLoad(ctx, cache.ProfileKey(string(sel)), s.ttl, func(ctx context.Context) ([]byte, error) {
		p, err := s.load(ctx, sel)
		if err != nil {
			return nil, err
		}
		return json.Marshal(p)
	})
	if err != nil {
		return nil, err
	}
	var p engine.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode cached profile %s: %w", sel, err)
	}
	return &p, nil
}

func (s *EngineService) load(ctx context.Context, sel engine.Selector) (*engine.Profile, error) {
	var (
		profile *engine.Profile
		files   []engine.KnowledgeFile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		profile, err = s.store.GetProfile(gctx, sel)
		return err
	})
	g.Go(func() error {
		var err error
		files, err = s.store.ListKnowledge(gctx, sel)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load engine %s: %w", sel, err)
	}
	profile.Knowledge = files
	return profile, nil
}

func (s *EngineService) invalidate(ctx context.Context, sel engine.Selector) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.ProfileKey(string(sel))); err != nil {
		slog.WarnContext(ctx, "profile cache invalidation failed", "engine", sel, "error", err)
	}
}

// PutProfile replaces the persona and instruction of sel.
func (s *EngineService) PutProfile(ctx context.Context, sel engine.Selector, req engine.ProfileRequest) (*engine.Profile, error) {
	if strings.TrimSpace(req.Instruction) == "" {
		return nil, fmt.Errorf("%w: instruction is required", domain.ErrValidation)
	}
	p := &engine.Profile{
		Engine:      sel,
		Description: req.Description,
		Instruction: req.Instruction,
	}
	if err := s.store.PutProfile(ctx, p); err != nil {
		return nil, err
	}
	s.invalidate(ctx, sel)
	return p, nil
}

// ListFiles returns the knowledge files of sel in display order.
func (s *EngineService) ListFiles(ctx context.Context, sel engine.Selector) ([]engine.KnowledgeFile, error) {
	return s.store.ListKnowledge(ctx, sel)
}

// AddFile attaches a knowledge file to sel.
func (s *EngineService) AddFile(ctx context.Context, sel engine.Selector, req engine.FileRequest) (*engine.KnowledgeFile, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: file_name is required", domain.ErrValidation)
	}
	f := &engine.KnowledgeFile{Engine: sel, Name: req.Name, Content: req.Content, Type: req.Type}
	if err := s.store.AddKnowledge(ctx, f); err != nil {
		return nil, err
	}
	s.invalidate(ctx, sel)
	return f, nil
}

// UpdateFile replaces the name, content and type of a knowledge file.
func (s *EngineService) UpdateFile(ctx context.Context, sel engine.Selector, fileID string, req engine.FileRequest) (*engine.KnowledgeFile, error) {
	if fileID == "" {
		return nil, fmt.Errorf("%w: file id is required", domain.ErrValidation)
	}
	f := &engine.KnowledgeFile{ID: fileID, Engine: sel, Name: req.Name, Content: req.Content, Type: req.Type}
	if err := s.store.UpdateKnowledge(ctx, f); err != nil {
		return nil, err
	}
	s.invalidate(ctx, sel)
	return f, nil
}

// DeleteFile detaches a knowledge file from sel.
func (s *EngineService) DeleteFile(ctx context.Context, sel engine.Selector, fileID string) error {
	if err := s.store.DeleteKnowledge(ctx, sel, fileID); err != nil {
		return err
	}
	s.invalidate(ctx, sel)
	return nil
}

// IsMissingProfile reports whether err means the engine has no profile yet.
func IsMissingProfile(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
