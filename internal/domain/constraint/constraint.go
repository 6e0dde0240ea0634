// Package constraint extracts structural output requirements from operator
// instructions and checks generated responses against them.
package constraint

import (
	"regexp"
	"strconv"
	"strings"
)

// Format is the output format an instruction asks for.
type Format string

const (
	FormatJSON  Format = "json"
	FormatXML   Format = "xml"
	FormatList  Format = "list"
	FormatTable Format = "table"
)

// Range is an inclusive character-length range.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Set is the constraint record derived from one instruction string.
// A nil pointer or empty value means the category did not match.
type Set struct {
	ExactCount      *int     `json:"exact_count,omitempty"`
	TargetCount     *int     `json:"target_count,omitempty"`
	CharRange       *Range   `json:"char_range,omitempty"`
	MaxChars        *int     `json:"max_chars,omitempty"`
	Format          Format   `json:"format,omitempty"`
	RequiredFields  []string `json:"required_fields,omitempty"`
	HasProhibitions bool     `json:"has_prohibitions,omitempty"`
}

// Empty reports whether no category matched.
func (s Set) Empty() bool {
	return s.ExactCount == nil &&
		s.TargetCount == nil &&
		s.CharRange == nil &&
		s.MaxChars == nil &&
		s.Format == "" &&
		len(s.RequiredFields) == 0 &&
		!s.HasProhibitions
}

// Checkable reports whether Validate has anything to check.
func (s Set) Checkable() bool {
	return s.ExactCount != nil || s.CharRange != nil || s.Format == FormatJSON || len(s.RequiredFields) > 0
}

var (
	exactCountRe = regexp.MustCompile(`(?i)정확히\s*(\d+)\s*개|exactly\s+(\d+)\s+(?:items?|lines?|titles?|entries)`)
	countRe      = regexp.MustCompile(`(?i)(\d+)\s*개|\b(\d+)\s+(?:items?|lines?|titles?|entries)\b`)
	charRangeRe  = regexp.MustCompile(`(?i)(\d+)\s*[-~]\s*(\d+)\s*(?:자|characters?|chars?)`)
	maxCharsRe   = regexp.MustCompile(`(?i)(\d+)\s*자\s*이내|within\s+(\d+)\s+(?:characters?|chars?)`)
	quotedRe     = regexp.MustCompile(`"([^"]+)"|“([^”]+)”`)

	listMarkerRe  = regexp.MustCompile(`목록|리스트|번호|(?i)\b(?:list|numbered)\b`)
	tableMarkerRe = regexp.MustCompile(`표|테이블|(?i)\btable\b`)
	prohibitionRe = regexp.MustCompile(`하지\s*마|금지|제외|(?i)\bdon'?t\b|\bdo not\b|\bforbidden\b|\bexclude`)
)

// Extract parses instruction for explicit output constraints. It never fails;
// unparseable input yields an empty Set.
func Extract(instruction string) Set {
	var s Set

	if n, ok := firstInt(exactCountRe, instruction); ok {
		s.ExactCount = &n
	} else if n, ok := firstInt(countRe, instruction); ok {
		s.TargetCount = &n
	}

	if m := charRangeRe.FindStringSubmatch(instruction); m != nil {
		lo, errLo := strconv.Atoi(m[1])
		hi, errHi := strconv.Atoi(m[2])
		if errLo == nil && errHi == nil {
			if lo > hi {
				lo, hi = hi, lo
			}
			s.CharRange = &Range{Min: lo, Max: hi}
		}
	}
	if s.CharRange == nil {
		if n, ok := firstInt(maxCharsRe, instruction); ok {
			s.MaxChars = &n
		}
	}

	upper := strings.ToUpper(instruction)
	switch {
	case strings.Contains(upper, "JSON"):
		s.Format = FormatJSON
	case strings.Contains(upper, "XML"):
		s.Format = FormatXML
	case listMarkerRe.MatchString(instruction):
		s.Format = FormatList
	case tableMarkerRe.MatchString(instruction):
		s.Format = FormatTable
	}

	seen := make(map[string]bool)
	for _, m := range quotedRe.FindAllStringSubmatch(instruction, -1) {
		field := m[1]
		if field == "" {
			field = m[2]
		}
		field = strings.TrimSpace(field)
		if field == "" || seen[field] {
			continue
		}
		seen[field] = true
		s.RequiredFields = append(s.RequiredFields, field)
	}

	s.HasProhibitions = prohibitionRe.MatchString(instruction)
	return s
}

// firstInt returns the first non-empty capture group of the first match as an int.
func firstInt(re *regexp.Regexp, text string) (int, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	for _, g := range m[1:] {
		if g == "" {
			continue
		}
		n, err := strconv.Atoi(g)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
