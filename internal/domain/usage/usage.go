// Package usage estimates token consumption and models monthly usage counters.
package usage

import (
	"math"
	"time"
	"unicode"

	"github.com/nexus-tt/nexus/internal/domain/engine"
)

// EstimateTokens approximates the token count of text by character class:
// Hangul syllables 2.5 chars/token, ASCII letters 4, digits 3.5, whitespace 4,
// everything else 3. Non-empty text counts at least one token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	var hangul, latin, digits, spaces, other int
	for _, r := range text {
		switch {
		case r >= '가' && r <= '힣':
			hangul++
		case r < unicode.MaxASCII && unicode.IsLetter(r):
			latin++
		case unicode.IsDigit(r):
			digits++
		case unicode.IsSpace(r):
			spaces++
		default:
			other++
		}
	}
	total := float64(hangul)/2.5 +
		float64(latin)/4 +
		float64(digits)/3.5 +
		float64(spaces)/4 +
		float64(other)/3
	return max(1, int(math.Floor(total)))
}

// PeriodLayout formats the month a usage counter belongs to.
const PeriodLayout = "2006-01"

// Period returns the UTC month of t, e.g. "2025-03".
func Period(t time.Time) string {
	return t.UTC().Format(PeriodLayout)
}

// Event is one completed turn to be accounted.
type Event struct {
	UserID       string          `json:"userId"`
	Engine       engine.Selector `json:"engineType"`
	InputTokens  int             `json:"inputTokens"`
	OutputTokens int             `json:"outputTokens"`
	OccurredAt   time.Time       `json:"occurredAt"`
}

// NewEvent estimates the tokens of one exchange.
func NewEvent(userID string, sel engine.Selector, input, output string, at time.Time) Event {
	return Event{
		UserID:       userID,
		Engine:       sel,
		InputTokens:  EstimateTokens(input),
		OutputTokens: EstimateTokens(output),
		OccurredAt:   at,
	}
}

// Total is input plus output tokens.
func (e Event) Total() int { return e.InputTokens + e.OutputTokens }

// Record is a monthly per-user per-engine counter.
type Record struct {
	UserID       string          `json:"userId"`
	Engine       engine.Selector `json:"engineType"`
	Period       string          `json:"yearMonth"`
	TotalTokens  int64           `json:"totalTokens"`
	InputTokens  int64           `json:"inputTokens"`
	OutputTokens int64           `json:"outputTokens"`
	MessageCount int64           `json:"messageCount"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	LastUsedAt   time.Time       `json:"lastUsedAt,omitzero"`
}

// Summary is a Record measured against a monthly token limit.
type Summary struct {
	Record
	Percentage float64 `json:"percentage"`
	Remaining  int64   `json:"remaining"`
}

// Summarize computes the share of limit used by r. A limit <= 0 disables the
// calculation.
func Summarize(r Record, limit int64) Summary {
	s := Summary{Record: r}
	if limit <= 0 {
		return s
	}
	pct := float64(r.TotalTokens) / float64(limit) * 100
	s.Percentage = math.Round(min(100, pct)*10) / 10
	s.Remaining = max(0, limit-r.TotalTokens)
	return s
}
