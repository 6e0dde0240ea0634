package postgres

import (
	"context"
	"fmt"

	"github.com/nexus-tt/nexus/internal/domain/engine"
)

// GetProfile returns the persona and instruction of an engine. Knowledge is
// loaded separately through ListKnowledge.
func (s *Store) GetProfile(ctx context.Context, sel engine.Selector) (*engine.Profile, error) {
	var p engine.Profile
	err := s.pool.QueryRow(ctx,
		`SELECT engine, description, instruction, updated_at FROM engine_profiles WHERE engine = $1`,
		string(sel),
	).Scan(&p.Engine, &p.Description, &p.Instruction, &p.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get profile %s", sel)
	}
	return &p, nil
}

// PutProfile creates or replaces the persona and instruction of an engine.
func (s *Store) PutProfile(ctx context.Context, p *engine.Profile) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO engine_profiles (engine, description, instruction)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (engine) DO UPDATE
		 SET description = EXCLUDED.description, instruction = EXCLUDED.instruction, updated_at = now()
		 RETURNING updated_at`,
		string(p.Engine), p.Description, p.Instruction,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put profile %s: %w", p.Engine, err)
	}
	return nil
}

// ListKnowledge returns the engine's knowledge files in upload order.
func (s *Store) ListKnowledge(ctx context.Context, sel engine.Selector) ([]engine.KnowledgeFile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, engine, file_name, file_content, file_type, created_at, updated_at
		 FROM knowledge_files WHERE engine = $1 ORDER BY created_at, id`,
		string(sel))
	if err != nil {
		return nil, fmt.Errorf("list knowledge %s: %w", sel, err)
	}
	defer rows.Close()

	files := []engine.KnowledgeFile{}
	for rows.Next() {
		f, err := scanKnowledgeFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan knowledge file: %w", err)
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

func scanKnowledgeFile(row scannable) (*engine.KnowledgeFile, error) {
	var f engine.KnowledgeFile
	if err := row.Scan(&f.ID, &f.Engine, &f.Name, &f.Content, &f.Type, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

// AddKnowledge stores a new file. ID and timestamps are assigned by the database.
func (s *Store) AddKnowledge(ctx context.Context, f *engine.KnowledgeFile) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO knowledge_files (engine, file_name, file_content, file_type)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id::text, created_at, updated_at`,
		string(f.Engine), f.Name, f.Content, f.Type,
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("add knowledge file %s: %w", f.Name, err)
	}
	return nil
}

// UpdateKnowledge rewrites name, content and type of a file that belongs to f.Engine.
func (s *Store) UpdateKnowledge(ctx context.Context, f *engine.KnowledgeFile) error {
	err := s.pool.QueryRow(ctx,
		`UPDATE knowledge_files
		 SET file_name = $3, file_content = $4, file_type = $5, updated_at = now()
		 WHERE id = $1 AND engine = $2
		 RETURNING created_at, updated_at`,
		f.ID, string(f.Engine), f.Name, f.Content, f.Type,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return notFoundWrap(err, "update knowledge file %s", f.ID)
	}
	return nil
}

func (s *Store) DeleteKnowledge(ctx context.Context, sel engine.Selector, fileID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM knowledge_files WHERE id = $1 AND engine = $2`, fileID, string(sel))
	return execExpectOne(tag, err, "delete knowledge file %s", fileID)
}
