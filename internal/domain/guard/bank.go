package guard

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Category names an intent class in the pattern bank. Declaration order of the
// rules is the priority order.
type Category string

const (
	CategoryPrompt       Category = "prompt"
	CategoryInstruction  Category = "instruction"
	CategorySystemConfig Category = "system_config"
	CategoryKnowledge    Category = "knowledge"
	CategoryPersona      Category = "persona"
)

// Rule pairs one pattern with the category it reports.
type Rule struct {
	Category Category
	Pattern  *regexp.Regexp
}

// Bank is the swappable configuration of a Guard.
type Bank struct {
	Rules []Rule
	// Responses maps a category to its canned refusal.
	Responses map[Category]string
	// DefaultResponse is used for a category with no entry in Responses.
	DefaultResponse string
	// Redactions match "label: value" shapes; capture group 1 is the value.
	// A match must not span a line break: live output is redacted line by line.
	Redactions []*regexp.Regexp
	Marker     string
	// FailClosedMessage is returned when the check itself fails.
	FailClosedMessage string
}

// Response returns the refusal text for c.
func (b Bank) Response(c Category) string {
	if msg, ok := b.Responses[c]; ok && msg != "" {
		return msg
	}
	return b.DefaultResponse
}

const (
	msgPrompt      = "죄송하지만, 서비스 내부 프롬프트나 시스템 설정에 대한 정보는 공개할 수 없습니다. 다른 질문이 있으시면 도와드리겠습니다."
	msgInstruction = "시스템 지침이나 내부 설정에 대한 정보는 보안상 제공할 수 없습니다. 제가 도움을 드릴 수 있는 다른 주제로 질문해 주세요."
	msgKnowledge   = "내부 지식베이스나 저장된 정보의 구조에 대해서는 말씀드릴 수 없습니다. 구체적인 질문을 해주시면 답변드리겠습니다."
	msgGeneral     = "보안 정책상 시스템 내부 정보는 공개할 수 없습니다. 다른 도움이 필요하시면 말씀해 주세요."
	msgFailClosed  = "보안 검사 중 오류가 발생했습니다. 다시 시도해 주세요."

	// RedactionMarker replaces leaked values in outbound text.
	RedactionMarker = "[내부 정보 제거됨]"
)

var defaultRules = []struct {
	category Category
	pattern  string
}{
	{CategoryPrompt, `프롬프트.*(?:알려|보여|제공|공개|설명)`},
	{CategoryPrompt, `(?:내부|시스템|저장된).*프롬프트`},
	{CategoryPrompt, `프롬프트.*(?:내용|지침|설명)`},
	{CategoryPrompt, `(?:어떤|무슨).*프롬프트.*(?:사용|저장)`},
	{CategoryPrompt, `(?:show|tell|reveal|print|repeat).*(?:prompt|instruction)`},
	{CategoryPrompt, `(?:internal|system|hidden).*prompt`},
	{CategoryPrompt, `(?:what|which).*prompt`},

	{CategoryInstruction, `(?:지침|instruction).*(?:알려|보여|공개)`},
	{CategoryInstruction, `(?:내부|시스템).*(?:지침|설명)`},
	{CategoryInstruction, `(?:어떤|무슨).*(?:지침|규칙).*따르`},
	{CategoryInstruction, `(?:what|which).*instruction`},
	{CategoryInstruction, `(?:internal|system).*instruction`},

	{CategorySystemConfig, `(?:시스템|내부).*(?:설정|구성|config)`},
	{CategorySystemConfig, `(?:너의|당신의).*(?:설정|규칙|지침)`},
	{CategorySystemConfig, `(?:어떻게|어떤).*(?:프로그래밍|설정|구성)`},
	{CategorySystemConfig, `(?:your|system).*(?:configuration|settings)`},

	{CategoryKnowledge, `(?:날리지|knowledge)\s*(?:베이스|base).*(?:내용|정보|뭐|무엇|저장)`},
	{CategoryKnowledge, `(?:저장된|내부).*(?:지식|정보|데이터)`},
	{CategoryKnowledge, `(?:knowledge\s*base|training data).*(?:show|list|contain|what)`},

	{CategoryPersona, `(?:너의|당신의).*(?:역할|페르소나|role)`},
	{CategoryPersona, `(?:어떤|무슨).*(?:역할|임무).*(?:수행|하고)`},
	{CategoryPersona, `your\s+(?:persona|role)`},
}

var defaultRedactions = []string{
	`(?i)프롬프트[:：][ \t]*["']?([^"'\n]+)["']?`,
	`(?i)지침[:：][ \t]*["']?([^"'\n]+)["']?`,
	`(?i)시스템[ \t]*설정[:：][ \t]*["']?([^"'\n]+)["']?`,
	`(?i)system[ \t]*prompt[:：][ \t]*["']?([^"'\n]+)["']?`,
}

// DefaultBank returns the built-in bilingual pattern bank.
func DefaultBank() Bank {
	b := Bank{
		Responses: map[Category]string{
			CategoryPrompt:       msgPrompt,
			CategoryInstruction:  msgInstruction,
			CategorySystemConfig: msgGeneral,
			CategoryKnowledge:    msgKnowledge,
			CategoryPersona:      msgGeneral,
		},
		DefaultResponse:   msgGeneral,
		Marker:            RedactionMarker,
		FailClosedMessage: msgFailClosed,
	}
	for _, r := range defaultRules {
		b.Rules = append(b.Rules, Rule{Category: r.category, Pattern: regexp.MustCompile(`(?i)` + r.pattern)})
	}
	for _, p := range defaultRedactions {
		b.Redactions = append(b.Redactions, regexp.MustCompile(p))
	}
	return b
}

// bankFile is the YAML form of a Bank.
type bankFile struct {
	Rules []struct {
		Category string `yaml:"category"`
		Pattern  string `yaml:"pattern"`
	} `yaml:"rules"`
	Responses         map[string]string `yaml:"responses"`
	DefaultResponse   string            `yaml:"default_response"`
	Redactions        []string          `yaml:"redactions"`
	Marker            string            `yaml:"marker"`
	FailClosedMessage string            `yaml:"fail_closed_message"`
}

// ParseBank decodes a YAML pattern bank. Fields left empty fall back to
// DefaultBank; a file with no rules keeps the default rules.
func ParseBank(data []byte) (Bank, error) {
	var f bankFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Bank{}, fmt.Errorf("parse guard bank: %w", err)
	}

	b := DefaultBank()
	if len(f.Rules) > 0 {
		b.Rules = b.Rules[:0:0]
		for i, r := range f.Rules {
			re, err := regexp.Compile(`(?i)` + r.Pattern)
			if err != nil {
				return Bank{}, fmt.Errorf("guard rule %d: %w", i, err)
			}
			b.Rules = append(b.Rules, Rule{Category: Category(r.Category), Pattern: re})
		}
	}
	for k, v := range f.Responses {
		b.Responses[Category(k)] = v
	}
	if f.DefaultResponse != "" {
		b.DefaultResponse = f.DefaultResponse
	}
	if len(f.Redactions) > 0 {
		b.Redactions = b.Redactions[:0:0]
		for i, p := range f.Redactions {
			re, err := regexp.Compile(p)
			if err != nil {
				return Bank{}, fmt.Errorf("guard redaction %d: %w", i, err)
			}
			if re.NumSubexp() < 1 {
				return Bank{}, fmt.Errorf("guard redaction %d: pattern needs a capture group", i)
			}
			b.Redactions = append(b.Redactions, re)
		}
	}
	if f.Marker != "" {
		b.Marker = f.Marker
	}
	if f.FailClosedMessage != "" {
		b.FailClosedMessage = f.FailClosedMessage
	}
	return b, nil
}
