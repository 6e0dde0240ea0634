package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nexus-tt/nexus/internal/domain"
	"github.com/nexus-tt/nexus/internal/domain/conversation"
	"github.com/nexus-tt/nexus/internal/domain/engine"
	"github.com/nexus-tt/nexus/internal/domain/usage"
	"github.com/nexus-tt/nexus/internal/port/conversationstore"
	"github.com/nexus-tt/nexus/internal/port/inference"
	"github.com/nexus-tt/nexus/internal/port/messagequeue"
	"github.com/nexus-tt/nexus/internal/port/transport"
)

// memConversations implements conversationstore.Repository in memory.
type memConversations struct {
	mu        sync.Mutex
	convs     map[string]*conversation.Conversation
	appends   []conversationstore.AppendRequest
	appendErr error
	getErr    error
}

func newMemConversations() *memConversations {
	return &memConversations{convs: make(map[string]*conversation.Conversation)}
}

func (m *memConversations) seed(id, userID string, msgs ...conversation.Message) {
	m.convs[id] = &conversation.Conversation{ID: id, UserID: userID, Engine: engine.T5, Messages: msgs}
}

func (m *memConversations) Get(_ context.Context, id string) ([]conversation.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	c, ok := m.convs[id]
	if !ok {
		return []conversation.Message{}, nil
	}
	return append([]conversation.Message(nil), c.Messages...), nil
}

func (m *memConversations) Append(_ context.Context, req conversationstore.AppendRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.appends = append(m.appends, req)
	c, ok := m.convs[req.ConversationID]
	if !ok {
		c = &conversation.Conversation{ID: req.ConversationID, UserID: req.UserID, Engine: req.Engine}
		m.convs[req.ConversationID] = c
	}
	c.Messages = append(c.Messages, req.Message)
	return nil
}

func (m *memConversations) ReplaceAll(_ context.Context, id string, msgs []conversation.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Messages = msgs
	return nil
}

func (m *memConversations) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[id]; !ok {
		return fmt.Errorf("delete conversation %s: %w", id, domain.ErrNotFound)
	}
	delete(m.convs, id)
	return nil
}

func (m *memConversations) Find(_ context.Context, id string) (*conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return nil, fmt.Errorf("get conversation %s: %w", id, domain.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *memConversations) ListByUser(_ context.Context, userID string, f conversationstore.ListFilter) ([]conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []conversation.Conversation
	for _, c := range m.convs {
		if c.UserID != userID || (f.Engine != "" && c.Engine != f.Engine) {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (m *memConversations) Upsert(_ context.Context, c *conversation.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.convs[c.ID] = &cp
	return nil
}

func (m *memConversations) UpdateTitle(_ context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Title = title
	return nil
}

func (m *memConversations) DeleteByUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.convs {
		if c.UserID == userID {
			delete(m.convs, id)
			n++
		}
	}
	return n, nil
}

func (m *memConversations) roles() []conversation.Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]conversation.Role, 0, len(m.appends))
	for _, a := range m.appends {
		out = append(out, a.Message.Role)
	}
	return out
}

// staticProfiles implements ProfileLoader.
type staticProfiles struct {
	profiles map[engine.Selector]*engine.Profile
	calls    int
}

func (s *staticProfiles) Load(_ context.Context, sel engine.Selector) (*engine.Profile, error) {
	s.calls++
	p, ok := s.profiles[sel]
	if !ok {
		return nil, fmt.Errorf("get profile %s: %w", sel, domain.ErrNotFound)
	}
	return p, nil
}

// scriptedLLM replays one script per StreamChat call and records requests.
type scriptedLLM struct {
	mu       sync.Mutex
	scripts  [][]string
	tailErr  []error
	openErr  error
	block    bool
	requests []inference.Request
}

func (l *scriptedLLM) StreamChat(ctx context.Context, req inference.Request) (inference.Stream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := req
	cp.Messages = append([]inference.Message(nil), req.Messages...)
	l.requests = append(l.requests, cp)
	if l.openErr != nil {
		return nil, l.openErr
	}
	i := len(l.requests) - 1
	var deltas []string
	if i < len(l.scripts) {
		deltas = l.scripts[i]
	}
	var tail error = io.EOF
	if i < len(l.tailErr) && l.tailErr[i] != nil {
		tail = l.tailErr[i]
	}
	return &scriptedStream{ctx: ctx, deltas: deltas, tail: tail, block: l.block}, nil
}

func (l *scriptedLLM) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

type scriptedStream struct {
	ctx    context.Context
	deltas []string
	tail   error
	block  bool
	closed bool
}

func (s *scriptedStream) Recv() (string, error) {
	if len(s.deltas) > 0 {
		d := s.deltas[0]
		s.deltas = s.deltas[1:]
		return d, nil
	}
	if s.block {
		<-s.ctx.Done()
		return "", s.ctx.Err()
	}
	return "", s.tail
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

// recordingSender implements transport.Sender. goneAfter > 0 makes the
// goneAfter-th and later sends fail with transport.ErrGone.
type recordingSender struct {
	mu        sync.Mutex
	events    []any
	goneAfter int
	sendErr   error
}

func (r *recordingSender) Send(_ context.Context, _ string, ev any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.goneAfter > 0 && len(r.events)+1 >= r.goneAfter {
		return fmt.Errorf("%w: socket closed", transport.ErrGone)
	}
	r.events = append(r.events, ev)
	return r.sendErr
}

func (r *recordingSender) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, eventType(ev))
	}
	return out
}

// fakeRegistry implements transport.Registry.
type fakeRegistry struct {
	mu        sync.Mutex
	forgotten []string
}

func (f *fakeRegistry) Register(context.Context, transport.Connection) error { return nil }

func (f *fakeRegistry) Forget(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, id)
	return nil
}

// recordingHook implements TurnHook.
type recordingHook struct {
	summaries []TurnSummary
	panicWith any
}

func (h *recordingHook) AfterTurn(_ context.Context, t TurnSummary) {
	h.summaries = append(h.summaries, t)
	if h.panicWith != nil {
		panic(h.panicWith)
	}
}

// memUsage implements usagestore.Store.
type memUsage struct {
	mu       sync.Mutex
	events   []usage.Event
	records  []usage.Record
	applyErr error
}

func (m *memUsage) Apply(_ context.Context, e usage.Event) (*usage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return nil, m.applyErr
	}
	m.events = append(m.events, e)
	return &usage.Record{
		UserID:       e.UserID,
		Engine:       e.Engine,
		Period:       usage.Period(e.OccurredAt),
		TotalTokens:  int64(e.Total()),
		MessageCount: 1,
	}, nil
}

func (m *memUsage) ListUsage(_ context.Context, userID string) ([]usage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []usage.Record
	for _, r := range m.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

// fakeQueue implements messagequeue.Queue and delivers synchronously.
type fakeQueue struct {
	mu         sync.Mutex
	published  map[string][][]byte
	handlers   map[string]messagequeue.Handler
	publishErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{published: make(map[string][][]byte), handlers: make(map[string]messagequeue.Handler)}
}

func (q *fakeQueue) Publish(ctx context.Context, subject string, data []byte) error {
	q.mu.Lock()
	if q.publishErr != nil {
		q.mu.Unlock()
		return q.publishErr
	}
	q.published[subject] = append(q.published[subject], data)
	h := q.handlers[subject]
	q.mu.Unlock()
	if h != nil {
		return h(ctx, subject, data)
	}
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = h
	return func() {
		q.mu.Lock()
		delete(q.handlers, subject)
		q.mu.Unlock()
	}, nil
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

var errBoom = errors.New("boom")

// fixedClock returns a clock advancing one second per call.
func fixedClock() func() time.Time {
	t := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}
