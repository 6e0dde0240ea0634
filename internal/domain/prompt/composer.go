// Package prompt composes the system instruction sent with every inference call.
package prompt

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/nexus-tt/nexus/internal/domain/constraint"
	"github.com/nexus-tt/nexus/internal/domain/engine"
)

//go:embed templates/system.tmpl
var systemTmplText string

var systemTmpl = template.Must(template.New("system").Parse(systemTmplText))

// Strictness selects how forcefully the guideline is imposed.
type Strictness string

const (
	Strict   Strictness = "strict"
	Balanced Strictness = "balanced"
	Flexible Strictness = "flexible"
)

// ParseStrictness returns Strict for anything unrecognised.
func ParseStrictness(s string) Strictness {
	switch Strictness(strings.ToLower(strings.TrimSpace(s))) {
	case Balanced:
		return Balanced
	case Flexible:
		return Flexible
	default:
		return Strict
	}
}

// DefaultGuideline stands in for an empty instruction.
const DefaultGuideline = "제공된 지침을 정확히 따라 작업하세요."

// Limits bound the knowledge block.
type Limits struct {
	MaxFiles        int
	MaxCharsPerFile int
}

// DefaultLimits matches the knowledge summary used in production.
var DefaultLimits = Limits{MaxFiles: 3, MaxCharsPerFile: 500}

// Input is the profile data a prompt is built from.
type Input struct {
	Engine    engine.Selector
	Persona   string
	Guideline string
	Knowledge []engine.KnowledgeFile
}

// Prompt is a composed system instruction and the constraints found in its guideline.
type Prompt struct {
	Text        string
	Constraints constraint.Set
}

// Composer renders system instructions. It is safe for concurrent use.
type Composer struct {
	strictness Strictness
	limits     Limits
}

// NewComposer creates a Composer. Zero limits fall back to DefaultLimits.
func NewComposer(strictness Strictness, limits Limits) *Composer {
	if limits.MaxFiles <= 0 {
		limits.MaxFiles = DefaultLimits.MaxFiles
	}
	if limits.MaxCharsPerFile <= 0 {
		limits.MaxCharsPerFile = DefaultLimits.MaxCharsPerFile
	}
	if strictness == "" {
		strictness = Strict
	}
	return &Composer{strictness: strictness, limits: limits}
}

type snippet struct {
	Index   int
	Name    string
	Content string
}

type systemData struct {
	Persona    string
	Strictness Strictness
	Guideline  string
	Knowledge  []snippet
	Checklist  []string
}

// Compose builds the system instruction for in.
func (c *Composer) Compose(in Input) (Prompt, error) {
	persona := strings.TrimSpace(in.Persona)
	if persona == "" {
		persona = fmt.Sprintf("%s 전문 에이전트", in.Engine)
	}
	guideline := in.Guideline
	if strings.TrimSpace(guideline) == "" {
		guideline = DefaultGuideline
	}

	cs := constraint.Extract(guideline)
	data := systemData{
		Persona:    persona,
		Strictness: c.strictness,
		Guideline:  guideline,
		Knowledge:  c.snippets(in.Knowledge),
	}
	if c.strictness == Strict {
		data.Checklist = Checklist(cs)
	}

	var buf bytes.Buffer
	if err := systemTmpl.Execute(&buf, data); err != nil {
		return Prompt{}, fmt.Errorf("render system prompt: %w", err)
	}
	return Prompt{Text: buf.String(), Constraints: cs}, nil
}

func (c *Composer) snippets(files []engine.KnowledgeFile) []snippet {
	var out []snippet
	for _, f := range files {
		if len(out) == c.limits.MaxFiles {
			break
		}
		content := strings.TrimSpace(f.Content)
		if content == "" {
			continue
		}
		if utf8.RuneCountInString(content) > c.limits.MaxCharsPerFile {
			content = string([]rune(content)[:c.limits.MaxCharsPerFile]) + "..."
		}
		idx := len(out) + 1
		name := f.Name
		if name == "" {
			name = fmt.Sprintf("문서_%d", idx)
		}
		out = append(out, snippet{Index: idx, Name: name, Content: content})
	}
	return out
}

// Checklist phrases each constraint category as a yes/no question.
func Checklist(cs constraint.Set) []string {
	var out []string
	if cs.ExactCount != nil {
		out = append(out, fmt.Sprintf("정확히 %d개 생성했는가?", *cs.ExactCount))
	}
	if cs.TargetCount != nil {
		out = append(out, fmt.Sprintf("%d개를 생성했는가?", *cs.TargetCount))
	}
	if cs.CharRange != nil {
		out = append(out, fmt.Sprintf("각 항목이 %d-%d자인가?", cs.CharRange.Min, cs.CharRange.Max))
	}
	if cs.MaxChars != nil {
		out = append(out, fmt.Sprintf("각 항목이 %d자 이내인가?", *cs.MaxChars))
	}
	if cs.Format != "" {
		out = append(out, fmt.Sprintf("%s 형식을 준수했는가?", cs.Format))
	}
	if len(cs.RequiredFields) > 0 {
		out = append(out, fmt.Sprintf("필수 항목(%s)을 모두 포함했는가?", strings.Join(cs.RequiredFields, ", ")))
	}
	if cs.HasProhibitions {
		out = append(out, "금지된 내용을 포함하지 않았는가?")
	}
	return out
}
