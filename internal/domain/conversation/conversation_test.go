package conversation

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		label  string
		want   Role
		wantOK bool
	}{
		{"user", RoleUser, true},
		{"Human", RoleUser, true},
		{"assistant", RoleAssistant, true},
		{"ai", RoleAssistant, true},
		{"BOT", RoleAssistant, true},
		{"system", RoleUser, false},
		{"", RoleUser, false},
	}
	for _, tt := range tests {
		got, ok := ParseRole(tt.label)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseRole(%q) = (%q, %v), want (%q, %v)", tt.label, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestLegacyRoundTrip(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	// Only "type" present on write: both duals are filled on the way back.
	m, ok := FromLegacy(LegacyMessage{Type: "assistant", Content: "hello", Timestamp: ts})
	if !ok {
		t.Fatal("expected assistant type to be recognised")
	}
	lm := ToLegacy(m)
	if lm.Role != "assistant" || lm.Type != "assistant" {
		t.Errorf("expected role and type both assistant, got role=%q type=%q", lm.Role, lm.Type)
	}
	if lm.Content != "hello" || !lm.Timestamp.Equal(ts) {
		t.Errorf("content or timestamp changed: %+v", lm)
	}

	// role wins over type when both are present.
	m, _ = FromLegacy(LegacyMessage{Role: "user", Type: "assistant", Content: "x"})
	if m.Role != RoleUser {
		t.Errorf("expected role to win, got %q", m.Role)
	}
}

func TestDeriveTitle(t *testing.T) {
	if got := DeriveTitle("  "); got != DefaultTitle {
		t.Errorf("expected default title, got %q", got)
	}
	if got := DeriveTitle("첫 줄\n둘째 줄"); got != "첫 줄" {
		t.Errorf("expected first line, got %q", got)
	}
	long := strings.Repeat("가", 60)
	got := DeriveTitle(long)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected ellipsis, got %q", got)
	}
	if n := len([]rune(strings.TrimSuffix(got, "..."))); n != titleMaxRunes {
		t.Errorf("expected %d runes, got %d", titleMaxRunes, n)
	}
}

func TestLegacyMessageLenientTimestamp(t *testing.T) {
	tests := []struct {
		name string
		ts   string
		want time.Time
	}{
		{"rfc3339", `"2025-03-14T09:00:00Z"`, time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)},
		{"offset", `"2025-03-14T18:00:00+09:00"`, time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)},
		{"naive isoformat", `"2025-03-14T09:00:00.123456"`, time.Date(2025, 3, 14, 9, 0, 0, 123456000, time.UTC)},
		{"space separated", `"2025-03-14 09:00:00"`, time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)},
		{"epoch seconds", `1741942800`, time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)},
		{"epoch millis", `1741942800000`, time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)},
		{"empty string", `""`, time.Time{}},
		{"garbage", `"yesterday"`, time.Time{}},
		{"null", `null`, time.Time{}},
		{"object", `{}`, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := `{"role":"user","content":"안녕","timestamp":` + tt.ts + `}`
			var lm LegacyMessage
			if err := json.Unmarshal([]byte(data), &lm); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if !lm.Timestamp.Equal(tt.want) {
				t.Errorf("timestamp = %v, want %v", lm.Timestamp, tt.want)
			}
			if lm.Role != "user" || lm.Content != "안녕" {
				t.Errorf("other fields lost: %+v", lm)
			}
		})
	}

	var lm LegacyMessage
	if err := json.Unmarshal([]byte(`{"type":"ai","content":"x"}`), &lm); err != nil {
		t.Fatal(err)
	}
	if lm.Type != "ai" || !lm.Timestamp.IsZero() {
		t.Errorf("missing timestamp: %+v", lm)
	}
}
