// Package engine defines the operator-authored engine profiles that govern a
// chat turn: a persona, an instruction and an ordered set of knowledge files.
package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/nexus-tt/nexus/internal/domain"
)

// Selector names one of the configured engines.
type Selector string

const (
	T5 Selector = "T5"
	H8 Selector = "H8"
)

// Default is used when a request does not name an engine.
const Default = T5

// Selectors lists every known engine in display order.
var Selectors = []Selector{T5, H8}

// ParseSelector validates s against the closed engine set. An empty string
// yields Default.
func ParseSelector(s string) (Selector, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Default, nil
	}
	for _, sel := range Selectors {
		if string(sel) == s {
			return sel, nil
		}
	}
	return "", fmt.Errorf("%w: unknown engine %q", domain.ErrValidation, s)
}

// Profile is the persona/instruction pair plus knowledge for one engine.
type Profile struct {
	Engine      Selector        `json:"engine"`
	Description string          `json:"description"`
	Instruction string          `json:"instruction"`
	Knowledge   []KnowledgeFile `json:"knowledge,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// KnowledgeFile is a reference document attached to an engine.
type KnowledgeFile struct {
	ID        string    `json:"id"`
	Engine    Selector  `json:"engine"`
	Name      string    `json:"file_name"`
	Content   string    `json:"file_content"`
	Type      string    `json:"file_type,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileRequest is the request body for replacing an engine's persona and instruction.
type ProfileRequest struct {
	Description string `json:"description" validate:"max=20000"`
	Instruction string `json:"instruction" validate:"required,max=100000"`
}

// FileRequest is the request body for adding or updating a knowledge file.
type FileRequest struct {
	Name    string `json:"file_name" validate:"required,max=256"`
	Content string `json:"file_content" validate:"max=1000000"`
	Type    string `json:"file_type" validate:"omitempty,max=64"`
}
