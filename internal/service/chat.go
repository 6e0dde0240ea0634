package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	cfotel "github.com/nexus-tt/nexus/internal/adapter/otel"
	"github.com/nexus-tt/nexus/internal/adapter/ws"
	"github.com/nexus-tt/nexus/internal/config"
	"github.com/nexus-tt/nexus/internal/domain"
	"github.com/nexus-tt/nexus/internal/domain/constraint"
	"github.com/nexus-tt/nexus/internal/domain/conversation"
	"github.com/nexus-tt/nexus/internal/domain/engine"
	"github.com/nexus-tt/nexus/internal/domain/guard"
	"github.com/nexus-tt/nexus/internal/domain/history"
	"github.com/nexus-tt/nexus/internal/domain/prompt"
	"github.com/nexus-tt/nexus/internal/logger"
	"github.com/nexus-tt/nexus/internal/port/conversationstore"
	"github.com/nexus-tt/nexus/internal/port/inference"
	"github.com/nexus-tt/nexus/internal/port/transport"
)

const (
	aiStartMessage      = "AI가 응답을 생성하고 있습니다..."
	persistenceWarning  = "대화 기록 저장에 실패했습니다. 새로고침 후 기록이 보이지 않을 수 있습니다."
	invalidFrameMessage = "요청 형식이 올바르지 않습니다. 메시지와 엔진 종류를 확인해 주세요."
	logContentRunes     = 100
)

var frameValidator = validator.New(validator.WithRequiredStructEnabled())

// ProfileLoader returns the assembled profile of an engine.
type ProfileLoader interface {
	Load(ctx context.Context, sel engine.Selector) (*engine.Profile, error)
}

// TurnHook runs after a turn completed. It must not block for long and its
// failures stay inside it.
type TurnHook interface {
	AfterTurn(ctx context.Context, t TurnSummary)
}

// ChatConfig holds the per-turn settings of ChatService.
type ChatConfig struct {
	MaxTokens           int
	Temperature         float32
	TopP                float32
	TurnTimeout         time.Duration
	PersistTimeout      time.Duration
	ValidateConstraints bool
	MaxRetries          int
	GuardEnabled        bool
}

// NewChatConfig extracts the chat settings from the service configuration.
func NewChatConfig(cfg *config.Config) ChatConfig {
	return ChatConfig{
		MaxTokens:           cfg.Inference.MaxTokens,
		Temperature:         float32(cfg.Inference.Temperature),
		TopP:                float32(cfg.Inference.TopP),
		TurnTimeout:         cfg.Inference.TurnTimeout,
		PersistTimeout:      cfg.Chat.PersistTimeout,
		ValidateConstraints: cfg.Chat.ValidateConstraints,
		MaxRetries:          cfg.Chat.MaxRetries,
		GuardEnabled:        cfg.Guard.Enabled,
	}
}

// ChatDeps are the collaborators of ChatService. Hook, Registry and Metrics
// may be nil.
type ChatDeps struct {
	Store    conversationstore.Store
	Profiles ProfileLoader
	LLM      inference.Client
	Sender   transport.Sender
	Registry transport.Registry
	Guard    *guard.Guard
	Roles    *RoleResolver
	History  *history.Reconciler
	Composer *prompt.Composer
	Hook     TurnHook
	Metrics  *cfotel.Metrics
}

// ChatService drives a chat turn end to end: guard, persist the user turn,
// reconcile history, compose the system prompt, stream the response with
// constraint-validated regeneration, persist the answer and report completion.
type ChatService struct {
	deps  ChatDeps
	cfg   ChatConfig
	now   func() time.Time
	newID func() string
}

// NewChatService creates a ChatService.
func NewChatService(deps ChatDeps, cfg ChatConfig) *ChatService {
	if deps.Roles == nil {
		deps.Roles = NewRoleResolver(config.Guard{})
	}
	return &ChatService{deps: deps, cfg: cfg, now: time.Now, newID: uuid.NewString}
}

// ChatRequest is one validated send-message request.
type ChatRequest struct {
	ConversationID string
	UserID         string
	Role           string
	Engine         engine.Selector
	Message        string
	History        []conversation.LegacyMessage
}

// turn is the request-scoped state of one chat turn.
type turn struct {
	ChatRequest
	connID   string
	chunks   int
	warnings []string
}

// HandleFrame serves a sendMessage frame. It satisfies ws.Handler.
func (s *ChatService) HandleFrame(ctx context.Context, connectionID string, f ws.Frame) {
	req, err := s.parseFrame(f)
	if err != nil {
		slog.InfoContext(ctx, "chat frame rejected", "error", err)
		msg := invalidFrameMessage
		if role := s.deps.Roles.Resolve(f.Role, f.AdminKey); s.deps.Guard.Privileged(role) {
			msg = err.Error()
		}
		if err := s.deps.Sender.Send(ctx, connectionID, ws.NewError(msg)); err != nil {
			s.handleSendError(ctx, connectionID, err)
		}
		return
	}
	_ = s.Run(ctx, connectionID, req)
}

func (s *ChatService) parseFrame(f ws.Frame) (ChatRequest, error) {
	if err := frameValidator.Struct(f); err != nil {
		return ChatRequest{}, fmt.Errorf("%w: %s", domain.ErrValidation, err.Error())
	}
	if strings.TrimSpace(f.Message) == "" {
		return ChatRequest{}, fmt.Errorf("%w: message is required", domain.ErrValidation)
	}
	sel, err := engine.ParseSelector(f.EngineType)
	if err != nil {
		return ChatRequest{}, err
	}
	return ChatRequest{
		ConversationID: f.ConversationID,
		UserID:         f.UserID,
		Role:           s.deps.Roles.Resolve(f.Role, f.AdminKey),
		Engine:         sel,
		Message:        f.Message,
		History:        f.ConversationHistory,
	}, nil
}

// Run executes one turn and reports the error that ended it, if any. Every
// outcome has already been delivered to the connection when Run returns.
func (s *ChatService) Run(ctx context.Context, connectionID string, req ChatRequest) error {
	start := s.now()
	t := &turn{ChatRequest: req, connID: connectionID}
	if t.ConversationID == "" {
		t.ConversationID = s.newID()
	}
	sel := string(t.Engine)

	ctx = logger.WithConversationID(ctx, t.ConversationID)
	ctx, span := cfotel.StartTurnSpan(ctx, t.ConversationID, sel)
	defer span.End()
	if s.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TurnTimeout)
		defer cancel()
	}

	s.deps.Metrics.TurnStarted(ctx, sel)
	slog.InfoContext(ctx, "chat turn started",
		"engine", sel, "user_id", t.UserID, "role", t.Role,
		"message", logger.Truncate(t.Message, logContentRunes),
		"client_history", len(t.History))

	if s.cfg.GuardEnabled {
		if d := s.deps.Guard.Check(t.Message, t.Role); !d.Allowed {
			return s.refuse(ctx, t, d)
		}
	}

	stored, err := s.deps.Store.Get(ctx, t.ConversationID)
	if err != nil {
		slog.WarnContext(ctx, "stored history unavailable, using client history only", "error", err)
		stored = nil
	}

	userAt := s.now().UTC()
	s.persist(ctx, t, conversation.Message{Role: conversation.RoleUser, Content: t.Message, Timestamp: userAt})

	msgs, p, err := s.compose(ctx, t, stored, userAt)
	if err != nil {
		return s.fail(ctx, t, err)
	}

	if err := s.send(ctx, t, ws.NewAIStart(sel, t.ConversationID, aiStartMessage)); err != nil {
		return s.fail(ctx, t, err)
	}

	res, err := s.generate(ctx, t, msgs, p)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && strings.TrimSpace(res.text) != "" {
			s.persist(ctx, t, conversation.Message{
				Role:      conversation.RoleAssistant,
				Content:   res.text,
				Timestamp: s.now().UTC(),
				Metadata:  map[string]any{"partial": true, "attempts": res.attempts},
			})
		}
		return s.fail(ctx, t, err)
	}

	s.persist(ctx, t, conversation.Message{
		Role:      conversation.RoleAssistant,
		Content:   res.text,
		Timestamp: s.now().UTC(),
		Metadata:  map[string]any{"attempts": res.attempts, "compliance": res.outcome},
	})

	length := utf8.RuneCountInString(res.text)
	end := ws.NewChatEnd(sel, t.ConversationID, t.chunks, length)
	if len(t.warnings) > 0 {
		end.PersistenceWarning = persistenceWarning
	}
	endErr := s.send(ctx, t, end)
	if endErr != nil {
		s.handleSendError(ctx, t.connID, endErr)
	}

	elapsed := s.now().Sub(start)
	s.deps.Metrics.TurnCompleted(ctx, sel, res.outcome, t.chunks, length, elapsed.Seconds())
	slog.InfoContext(ctx, "chat turn completed",
		"chunks", t.chunks, "response_length", length,
		"attempts", res.attempts, "compliance", res.outcome,
		"duration_ms", elapsed.Milliseconds())

	s.afterTurn(ctx, t, res)
	return endErr
}

// compose reconciles history and renders the system prompt.
func (s *ChatService) compose(ctx context.Context, t *turn, stored []conversation.Message, userAt time.Time) ([]conversation.Message, prompt.Prompt, error) {
	profile, err := s.deps.Profiles.Load(ctx, t.Engine)
	if err != nil {
		if IsMissingProfile(err) {
			slog.WarnContext(ctx, "no prompt configured for engine", "engine", t.Engine)
		}
		return nil, prompt.Prompt{}, fmt.Errorf("load engine profile: %w", err)
	}

	in := history.Input{
		Client:     make([]history.Turn, 0, len(t.History)),
		Stored:     stored,
		Incoming:   t.Message,
		IncomingAt: userAt,
	}
	for _, lm := range t.History {
		in.Client = append(in.Client, history.Turn{
			Role: lm.Role, Type: lm.Type, Content: lm.Content, Timestamp: lm.Timestamp, Metadata: lm.Metadata,
		})
	}
	if s.cfg.GuardEnabled {
		role := t.Role
		in.Filter = func(msgs []conversation.Message) []conversation.Message {
			return s.deps.Guard.FilterHistory(msgs, role)
		}
	}

	res, err := s.deps.History.Reconcile(in)
	if err != nil {
		return nil, prompt.Prompt{}, fmt.Errorf("reconcile history: %w", err)
	}
	for _, w := range res.Warnings {
		slog.WarnContext(ctx, "history normalized", "detail", w)
	}

	p, err := s.deps.Composer.Compose(prompt.Input{
		Engine:    t.Engine,
		Persona:   profile.Description,
		Guideline: profile.Instruction,
		Knowledge: profile.Knowledge,
	})
	if err != nil {
		return nil, prompt.Prompt{}, err
	}
	slog.DebugContext(ctx, "prompt composed",
		"system_chars", utf8.RuneCountInString(p.Text),
		"history_turns", len(res.Messages),
		"knowledge_files", len(profile.Knowledge),
		"checkable", p.Constraints.Checkable())
	return res.Messages, p, nil
}

// generation is the outcome of the streaming and validation loop.
type generation struct {
	text     string
	attempts int
	outcome  string
}

// generate streams responses until one passes validation or the retry budget
// is spent. The text of the last attempt wins.
func (s *ChatService) generate(ctx context.Context, t *turn, msgs []conversation.Message, p prompt.Prompt) (generation, error) {
	check := s.cfg.ValidateConstraints && p.Constraints.Checkable()

	req := inference.Request{
		System:      p.Text,
		Messages:    make([]inference.Message, 0, len(msgs)),
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
		TopP:        s.cfg.TopP,
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, inference.Message{Role: string(m.Role), Content: m.Content})
	}
	last := len(req.Messages) - 1
	base := req.Messages[last].Content

	for attempt := 1; ; attempt++ {
		text, err := s.stream(ctx, t, req, attempt)
		g := generation{text: text, attempts: attempt}
		if err != nil {
			return g, err
		}
		if !check {
			g.outcome = cfotel.ComplianceUnchecked
			return g, nil
		}

		result := constraint.Validate(text, p.Constraints)
		if result.Valid {
			g.outcome = cfotel.ComplianceValidFirstTry
			if attempt > 1 {
				g.outcome = cfotel.ComplianceValidAfterRetry
			}
			return g, nil
		}
		if attempt > s.cfg.MaxRetries {
			slog.WarnContext(ctx, "response still violates constraints, retries exhausted",
				"attempts", attempt, "violations", result.Summary())
			g.outcome = cfotel.ComplianceInvalid
			return g, nil
		}

		slog.InfoContext(ctx, "response violates constraints, regenerating",
			"attempt", attempt, "violations", result.Summary())
		req.Messages[last].Content = constraint.RetryMessage(base, result)
	}
}

// stream runs one inference call and forwards what it received before asking
// for the next delta. It returns the text accumulated so far on error.
func (s *ChatService) stream(ctx context.Context, t *turn, req inference.Request, attempt int) (string, error) {
	ctx, span := cfotel.StartInferenceSpan(ctx, attempt)
	defer span.End()

	st, err := s.deps.LLM.StreamChat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("open inference stream: %w", err)
	}
	defer st.Close()

	// Redaction patterns never cross a line break, so for a guarded caller
	// the text after the last newline is held until its line is complete.
	redact := s.cfg.GuardEnabled && !s.deps.Guard.Privileged(t.Role)
	var (
		b       strings.Builder
		pending string
	)
	flush := func() error {
		if pending == "" {
			return nil
		}
		out := s.deps.Guard.Sanitize(pending, t.Role)
		pending = ""
		return s.sendChunk(ctx, t, out)
	}
	for {
		delta, err := st.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), flush()
		}
		if err != nil {
			if ferr := flush(); errors.Is(ferr, transport.ErrGone) {
				return b.String(), ferr
			}
			return b.String(), fmt.Errorf("receive delta: %w", err)
		}
		if delta == "" {
			continue
		}
		b.WriteString(delta)

		out := delta
		if redact {
			pending += delta
			i := strings.LastIndexByte(pending, '\n')
			if i < 0 {
				continue
			}
			out = s.deps.Guard.Sanitize(pending[:i+1], t.Role)
			pending = pending[i+1:]
		}
		if err := s.sendChunk(ctx, t, out); err != nil {
			return b.String(), err
		}
	}
}

// sendChunk forwards one ai_chunk and advances the chunk index.
func (s *ChatService) sendChunk(ctx context.Context, t *turn, text string) error {
	if err := s.send(ctx, t, ws.NewAIChunk(text, t.chunks)); err != nil {
		return err
	}
	t.chunks++
	return nil
}

// refuse answers a blocked message with the canned refusal. Nothing is
// persisted and inference is never called.
func (s *ChatService) refuse(ctx context.Context, t *turn, d guard.Decision) error {
	sel := string(t.Engine)
	s.deps.Metrics.TurnDenied(ctx, sel, string(d.Category))
	slog.WarnContext(ctx, "message blocked by prompt guard",
		"category", d.Category, "message", logger.Truncate(t.Message, logContentRunes))

	events := []any{
		ws.NewAIStart(sel, t.ConversationID, aiStartMessage),
		ws.NewAIChunk(d.Message, 0),
		ws.NewChatEnd(sel, t.ConversationID, 1, utf8.RuneCountInString(d.Message)),
	}
	for _, ev := range events {
		if err := s.send(ctx, t, ev); err != nil {
			s.handleSendError(ctx, t.connID, err)
			return err
		}
	}
	return nil
}

// fail ends the turn with a chat_error event. When the connection is gone no
// event is attempted and the connection is forgotten instead.
func (s *ChatService) fail(ctx context.Context, t *turn, err error) error {
	if errors.Is(err, transport.ErrGone) {
		s.handleSendError(ctx, t.connID, err)
		return err
	}

	s.deps.Metrics.TurnFailed(ctx, string(t.Engine))
	slog.ErrorContext(ctx, "chat turn failed", "error", err, "chunks", t.chunks)

	ev := ws.NewChatError(string(t.Engine), t.ConversationID, s.safeError(err, t.Role))
	if len(t.warnings) > 0 {
		ev.PersistenceWarning = persistenceWarning
	}
	if sendErr := s.deps.Sender.Send(context.WithoutCancel(ctx), t.connID, ev); sendErr != nil {
		s.handleSendError(ctx, t.connID, sendErr)
	}
	return err
}

// safeError maps err to text that reveals nothing internal to role.
func (s *ChatService) safeError(err error, role string) string {
	return s.deps.Guard.Sanitize(s.deps.Guard.SafeErrorMessage(err, role), role)
}

// send delivers ev. Only a gone connection or a dead context is reported;
// other failures are logged and the turn continues.
func (s *ChatService) send(ctx context.Context, t *turn, ev any) error {
	err := s.deps.Sender.Send(ctx, t.connID, ev)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transport.ErrGone):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		slog.WarnContext(ctx, "send event failed", "error", err)
		return nil
	}
}

// handleSendError forgets a connection that is gone and logs anything else.
func (s *ChatService) handleSendError(ctx context.Context, connectionID string, err error) {
	if !errors.Is(err, transport.ErrGone) {
		slog.DebugContext(ctx, "send event failed", "error", err)
		return
	}
	slog.InfoContext(ctx, "connection gone, forgetting it")
	if s.deps.Registry == nil {
		return
	}
	if ferr := s.deps.Registry.Forget(context.WithoutCancel(ctx), connectionID); ferr != nil {
		slog.WarnContext(ctx, "forget connection failed", "error", ferr)
	}
}

// persist appends m to the conversation. A failure is logged and remembered
// so the closing event can carry a warning.
func (s *ChatService) persist(ctx context.Context, t *turn, m conversation.Message) {
	pctx := context.WithoutCancel(ctx)
	if s.cfg.PersistTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(pctx, s.cfg.PersistTimeout)
		defer cancel()
	}
	pctx, span := cfotel.StartPersistSpan(pctx, string(m.Role))
	defer span.End()

	err := s.deps.Store.Append(pctx, conversationstore.AppendRequest{
		ConversationID: t.ConversationID,
		UserID:         t.UserID,
		Engine:         t.Engine,
		Message:        m,
	})
	if err != nil {
		slog.ErrorContext(ctx, "persist turn failed", "role", m.Role, "error", err)
		t.warnings = append(t.warnings, string(m.Role))
	}
}

// afterTurn runs the post-completion hook isolated from the turn outcome.
func (s *ChatService) afterTurn(ctx context.Context, t *turn, g generation) {
	if s.deps.Hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "post-turn hook panicked", "panic", r)
		}
	}()
	hctx := context.WithoutCancel(ctx)
	if s.cfg.PersistTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(hctx, s.cfg.PersistTimeout)
		defer cancel()
	}
	s.deps.Hook.AfterTurn(hctx, TurnSummary{
		ConversationID: t.ConversationID,
		UserID:         t.UserID,
		Engine:         t.Engine,
		Input:          t.Message,
		Output:         g.text,
		Chunks:         t.chunks,
		Attempts:       g.attempts,
		Valid:          g.outcome != cfotel.ComplianceInvalid,
		CompletedAt:    s.now().UTC(),
	})
}
