// Package ws implements the WebSocket adapter: the chat connection transport
// and the per-connection dispatch of inbound frames.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/nexus-tt/nexus/internal/logger"
	"github.com/nexus-tt/nexus/internal/port/transport"
)

// Handler processes one inbound frame. Frames of a connection are handled
// one at a time, in arrival order.
type Handler func(ctx context.Context, connectionID string, f Frame)

// Limiter admits or rejects an inbound frame for a key.
type Limiter interface {
	Allow(key string) bool
}

// Options tunes a Hub.
type Options struct {
	WriteTimeout time.Duration
	ReadLimit    int64
	// QueueSize bounds frames waiting behind a running turn.
	QueueSize int
	Limiter   Limiter
}

// conn wraps a single WebSocket connection.
type conn struct {
	id     string
	userID string
	ws     *websocket.Conn
	cancel context.CancelFunc
	frames chan Frame
}

// Hub tracks live chat connections by id and implements transport.Sender.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*conn
	handlers map[string]Handler
	registry transport.Registry
	opts     Options
}

var _ transport.Sender = (*Hub)(nil)

// NewHub creates a hub. registry may be nil.
func NewHub(registry transport.Registry, opts Options) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 4
	}
	return &Hub{
		conns:    make(map[string]*conn),
		handlers: make(map[string]Handler),
		registry: registry,
		opts:     opts,
	}
}

// Handle registers fn for frames whose action equals action.
func (h *Hub) Handle(action string, fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[action] = fn
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}
	if h.opts.ReadLimit > 0 {
		ws.SetReadLimit(h.opts.ReadLimit)
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(logger.WithConnectionID(context.WithoutCancel(r.Context()), id))
	c := &conn{
		id:     id,
		userID: r.URL.Query().Get("userId"),
		ws:     ws,
		cancel: cancel,
		frames: make(chan Frame, h.opts.QueueSize),
	}
	h.add(ctx, c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.work(ctx, c)
	}()

	h.readLoop(ctx, c)

	close(c.frames)
	h.remove(ctx, c)
	<-done
	_ = ws.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) readLoop(ctx context.Context, c *conn) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				slog.DebugContext(ctx, "websocket read ended", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.sendBestEffort(ctx, c.id, NewError("잘못된 요청 형식입니다."))
			continue
		}
		if strings.TrimSpace(f.Action) == "" {
			f.Action = ActionSendMessage
		}
		if f.UserID == "" {
			f.UserID = c.userID
		}
		if h.opts.Limiter != nil && !h.opts.Limiter.Allow(limiterKey(c, f)) {
			h.sendBestEffort(ctx, c.id, NewError("요청이 너무 많습니다. 잠시 후 다시 시도해 주세요."))
			continue
		}

		select {
		case c.frames <- f:
		default:
			h.sendBestEffort(ctx, c.id, NewError("이전 요청을 처리하고 있습니다. 잠시 후 다시 시도해 주세요."))
		}
	}
}

func limiterKey(c *conn, f Frame) string {
	if f.UserID != "" {
		return "user:" + f.UserID
	}
	return "conn:" + c.id
}

func (h *Hub) work(ctx context.Context, c *conn) {
	for f := range c.frames {
		h.mu.RLock()
		fn := h.handlers[f.Action]
		h.mu.RUnlock()

		if fn == nil {
			h.sendBestEffort(ctx, c.id, NewError("Unknown action: "+f.Action))
			continue
		}
		fn(ctx, c.id, f)
	}
}

// Send writes one JSON event to the connection. It returns transport.ErrGone
// if the connection is unknown or the write failed on the socket.
func (h *Hub) Send(ctx context.Context, connectionID string, event any) error {
	h.mu.RLock()
	c, ok := h.conns[connectionID]
	h.mu.RUnlock()
	if !ok {
		return transport.ErrGone
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	wctx := ctx
	if h.opts.WriteTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, h.opts.WriteTimeout)
		defer cancel()
	}
	if err := c.ws.Write(wctx, websocket.MessageText, data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.cancel()
		return fmt.Errorf("%w: %v", transport.ErrGone, err)
	}
	return nil
}

func (h *Hub) sendBestEffort(ctx context.Context, connectionID string, event any) {
	if err := h.Send(ctx, connectionID, event); err != nil {
		slog.DebugContext(ctx, "websocket send failed", "error", err)
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close cancels every connection. ServeHTTP calls return once their current
// frame is handled.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		c.cancel()
	}
}

func (h *Hub) add(ctx context.Context, c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	if h.registry != nil {
		err := h.registry.Register(ctx, transport.Connection{ID: c.id, UserID: c.userID, ConnectedAt: time.Now().UTC()})
		if err != nil {
			slog.WarnContext(ctx, "register connection failed", "error", err)
		}
	}
	slog.InfoContext(ctx, "websocket connected", "user_id", c.userID)
}

func (h *Hub) remove(ctx context.Context, c *conn) {
	h.mu.Lock()
	_, ok := h.conns[c.id]
	delete(h.conns, c.id)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.cancel()

	if h.registry != nil {
		if err := h.registry.Forget(context.WithoutCancel(ctx), c.id); err != nil {
			slog.WarnContext(ctx, "forget connection failed", "error", err)
		}
	}
	slog.InfoContext(ctx, "websocket disconnected")
}
