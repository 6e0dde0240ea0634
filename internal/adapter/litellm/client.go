// Package litellm talks to a LiteLLM proxy: streaming chat completions through
// its OpenAI-compatible API and liveness through its admin API.
package litellm

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nexus-tt/nexus/internal/port/inference"
	"github.com/nexus-tt/nexus/internal/resilience"
)

// Client streams chat completions from the proxy.
type Client struct {
	baseURL    string
	masterKey  string
	model      string
	httpClient *http.Client
	oai        *openai.Client
	breaker    *resilience.Breaker
	keySource  func() string
}

var _ inference.Client = (*Client)(nil)

// NewClient creates a client for the proxy at baseURL that requests model.
func NewClient(baseURL, masterKey, model string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	cfg := openai.DefaultConfig(masterKey)
	cfg.BaseURL = baseURL + "/v1"

	return &Client{
		baseURL:   baseURL,
		masterKey: masterKey,
		model:     model,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		oai: openai.NewClientWithConfig(cfg),
	}
}

// SetBreaker attaches a circuit breaker to all outgoing calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// SetKeySource makes every request authenticate with the key src returns at
// call time. An empty key falls back to the key given to NewClient.
func (c *Client) SetKeySource(src func() string) {
	c.keySource = src
	cfg := openai.DefaultConfig(c.masterKey)
	cfg.BaseURL = c.baseURL + "/v1"
	cfg.HTTPClient = &http.Client{Transport: &keyTransport{base: http.DefaultTransport, key: c.key}}
	c.oai = openai.NewClientWithConfig(cfg)
}

func (c *Client) key() string {
	if c.keySource != nil {
		if k := c.keySource(); k != "" {
			return k
		}
	}
	return c.masterKey
}

// keyTransport sets the bearer token of each request from key.
type keyTransport struct {
	base http.RoundTripper
	key  func() string
}

func (t *keyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	k := t.key()
	if k == "" {
		return t.base.RoundTrip(r)
	}
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+k)
	return t.base.RoundTrip(r)
}

// Health checks if LiteLLM is healthy.
func (c *Client) Health(ctx context.Context) error {
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health/liveliness", http.NoBody)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if k := c.key(); k != "" {
			req.Header.Set("Authorization", "Bearer "+k)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 400 {
			return fmt.Errorf("litellm health status %d", resp.StatusCode)
		}
		return nil
	}

	if c.breaker != nil {
		return c.breaker.Execute(call)
	}
	return call()
}

// StreamChat opens a streaming completion. The returned stream must be closed.
func (c *Client) StreamChat(ctx context.Context, req inference.Request) (inference.Stream, error) {
	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			return nil, err
		}
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	// A zero temperature would be dropped by omitempty and the proxy would
	// fall back to its own default.
	temperature := req.Temperature
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	s, err := c.oai.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: temperature,
		TopP:        req.TopP,
		Stream:      true,
	})
	if err != nil {
		c.record(err)
		return nil, fmt.Errorf("open completion stream: %w", err)
	}
	return &stream{s: s, client: c}, nil
}

func (c *Client) record(err error) {
	if c.breaker != nil {
		c.breaker.Record(err)
	}
}
