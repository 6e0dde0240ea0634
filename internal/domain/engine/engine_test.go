package engine

import (
	"errors"
	"testing"

	"github.com/nexus-tt/nexus/internal/domain"
)

func TestParseSelector(t *testing.T) {
	tests := []struct {
		in      string
		want    Selector
		wantErr bool
	}{
		{"", T5, false},
		{"T5", T5, false},
		{" h8 ", H8, false},
		{"X1", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSelector(tt.in)
		if tt.wantErr {
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("ParseSelector(%q): expected validation error, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSelector(%q): unexpected error %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseSelector(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
