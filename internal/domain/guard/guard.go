// Package guard blocks attempts to extract internal prompts, instructions and
// knowledge, and redacts leaked values from outbound text.
package guard

import (
	"fmt"
	"strings"

	"github.com/nexus-tt/nexus/internal/domain/conversation"
)

// DefaultPrivilegedRole is exempt from every check.
const DefaultPrivilegedRole = "admin"

// Decision is the result of checking one inbound message.
type Decision struct {
	Allowed  bool
	Category Category
	// Message is the canned refusal; empty when Allowed.
	Message string
}

// Guard evaluates a Bank against inbound and outbound text.
type Guard struct {
	bank       Bank
	privileged string
}

// New creates a Guard. An empty privilegedRole means DefaultPrivilegedRole.
func New(bank Bank, privilegedRole string) *Guard {
	if privilegedRole == "" {
		privilegedRole = DefaultPrivilegedRole
	}
	return &Guard{bank: bank, privileged: privilegedRole}
}

// Privileged reports whether role bypasses the guard.
func (g *Guard) Privileged(role string) bool {
	return role == g.privileged
}

// Check classifies text for role. The first matching rule decides. A panic
// inside the check blocks the message.
func (g *Guard) Check(text, role string) (d Decision) {
	if g.Privileged(role) {
		return Decision{Allowed: true}
	}

	defer func() {
		if r := recover(); r != nil {
			d = Decision{Allowed: false, Message: g.bank.FailClosedMessage}
		}
	}()

	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, rule := range g.bank.Rules {
		if rule.Pattern.MatchString(normalized) {
			return Decision{
				Allowed:  false,
				Category: rule.Category,
				Message:  g.bank.Response(rule.Category),
			}
		}
	}
	return Decision{Allowed: true}
}

// Sanitize replaces leaked values in text with the redaction marker. The label
// before the value is kept.
func (g *Guard) Sanitize(text, role string) string {
	if g.Privileged(role) || text == "" {
		return text
	}
	for _, re := range g.bank.Redactions {
		text = redact(text, re.FindAllStringSubmatchIndex(text, -1), g.bank.Marker)
	}
	return text
}

// redact rewrites capture group 1 of every match.
func redact(text string, matches [][]int, marker string) string {
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		if len(m) < 4 || m[2] < 0 {
			continue
		}
		b.WriteString(text[last:m[2]])
		b.WriteString(marker)
		last = m[3]
	}
	b.WriteString(text[last:])
	return b.String()
}

// FilterHistory drops stored user turns the guard would block and sanitizes
// assistant turns. The input is not modified.
func (g *Guard) FilterHistory(msgs []conversation.Message, role string) []conversation.Message {
	if g.Privileged(role) {
		return msgs
	}
	out := make([]conversation.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case conversation.RoleUser:
			if !g.Check(m.Content, role).Allowed {
				continue
			}
			out = append(out, m)
		case conversation.RoleAssistant:
			m.Content = g.Sanitize(m.Content, role)
			out = append(out, m)
		default:
			out = append(out, m)
		}
	}
	return out
}

const (
	errRephrase = "요청을 처리할 수 없습니다. 다른 방식으로 질문해 주세요."
	errAccess   = "해당 기능에 대한 접근 권한이 없습니다."
	errGeneric  = "요청 처리 중 오류가 발생했습니다. 잠시 후 다시 시도해 주세요."
)

// SafeErrorMessage maps err to text that is safe to show role. The privileged
// role sees the raw error.
func (g *Guard) SafeErrorMessage(err error, role string) string {
	if err == nil {
		return ""
	}
	if g.Privileged(role) {
		return err.Error()
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "prompt") || strings.Contains(msg, "instruction"):
		return errRephrase
	case strings.Contains(msg, "permission") || strings.Contains(msg, "access"):
		return errAccess
	default:
		return errGeneric
	}
}

// String implements fmt.Stringer for logging.
func (d Decision) String() string {
	if d.Allowed {
		return "allowed"
	}
	return fmt.Sprintf("denied(%s)", d.Category)
}
