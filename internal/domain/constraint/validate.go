package constraint

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Result is the outcome of validating one response.
type Result struct {
	Valid  bool
	Errors []string
}

// Summary joins the violations into one diagnostic line.
func (r Result) Summary() string {
	return strings.Join(r.Errors, " / ")
}

// linePrefixRe strips an ordinal, bullet or short label before measuring a line.
var linePrefixRe = regexp.MustCompile(`^\d+\.\s*|^-\s*|^•\s*|^[가-힣]+:\s*`)

// Validate checks response against s. Checks run in a fixed order: count,
// per-line length, JSON well-formedness, required fields.
func Validate(response string, s Set) Result {
	var errs []string
	lines := nonBlankLines(response)

	if s.ExactCount != nil && len(lines) != *s.ExactCount {
		errs = append(errs, fmt.Sprintf("항목 개수가 %d개가 아님 (현재: %d개)", *s.ExactCount, len(lines)))
	}

	if s.CharRange != nil {
		for i, line := range lines {
			content := linePrefixRe.ReplaceAllString(line, "")
			n := utf8.RuneCountInString(content)
			if n < s.CharRange.Min || n > s.CharRange.Max {
				errs = append(errs, fmt.Sprintf("%d번째 항목 길이 %d자 (%d-%d자 범위 벗어남)",
					i+1, n, s.CharRange.Min, s.CharRange.Max))
			}
		}
	}

	if s.Format == FormatJSON && !json.Valid([]byte(strings.TrimSpace(response))) {
		errs = append(errs, "유효한 JSON 형식이 아님")
	}

	for _, field := range s.RequiredFields {
		if !strings.Contains(response, field) {
			errs = append(errs, fmt.Sprintf("필수 필드 '%s' 누락", field))
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

func nonBlankLines(text string) []string {
	raw := strings.Split(strings.TrimSpace(text), "\n")
	out := raw[:0]
	for _, l := range raw {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// RetryMessage augments the user turn with the violation list for a regeneration attempt.
func RetryMessage(userMessage string, r Result) string {
	return userMessage + "\n\n[오류 수정 요청]\n다음 문제를 수정하여 다시 생성하세요: " +
		r.Summary() + "\n형식과 개수, 길이 지침을 정확히 지켜주세요."
}
