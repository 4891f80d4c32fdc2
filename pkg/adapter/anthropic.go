package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AnthropicAdapter implements Adapter against the Anthropic Messages
// API directly over net/http, the same way the teacher's own
// AnthropicProvider talks to the backend (no official SDK is used
// anywhere in the example pack for this vendor). Session persistence
// is not a backend feature of the Messages API, so the adapter keeps
// conversation history itself, in memory. It declares CapResumeSession,
// but a session resumed after a process restart starts with empty
// history under the same id.
type AnthropicAdapter struct {
	apiKey     string
	httpClient *http.Client
	registry   *Registry

	mu       sync.Mutex
	sessions map[string]*anthropicSession
}

type anthropicSession struct {
	id       string
	model    string
	started  time.Time
	modified time.Time
	messages []anthropicMessage
	usage    Usage
	handler  EventHandler
}

// NewAnthropicAdapter builds an adapter using apiKey for auth.
func NewAnthropicAdapter(apiKey string) *AnthropicAdapter {
	reg := NewRegistry()
	reg.Register(ModelInfo{ID: "claude-opus-4", Vendor: "anthropic", Family: "claude", Tier: "premium", Speed: "deliberate", Capability: "reasoning", ContextMax: 200_000})
	reg.Register(ModelInfo{ID: "claude-sonnet-4", Vendor: "anthropic", Family: "claude", Tier: "standard", Speed: "standard", Capability: "code", ContextMax: 200_000})
	reg.Register(ModelInfo{ID: "claude-haiku-4", Vendor: "anthropic", Family: "claude", Tier: "economy", Speed: "fast", Capability: "general", ContextMax: 200_000})

	return &AnthropicAdapter{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		registry:   reg,
		sessions:   map[string]*anthropicSession{},
	}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) Capabilities() Capabilities {
	return Capabilities{
		CapResumeSession:  true,
		CapListSessions:   true,
		CapDeleteSession:  true,
		CapAuthStatus:     true,
		CapCancelInFlight: true,
	}
}

func (a *AnthropicAdapter) Start(ctx context.Context) error { return nil }
func (a *AnthropicAdapter) Stop(ctx context.Context) error  { return nil }

func (a *AnthropicAdapter) CreateSession(ctx context.Context, cfg CreateConfig) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := uuid.NewString()
	now := time.Now()
	a.sessions[id] = &anthropicSession{id: id, model: cfg.Model, started: now, modified: now}
	return id, nil
}

func (a *AnthropicAdapter) ResumeSession(ctx context.Context, id string, cfg CreateConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.sessions[id]; ok {
		return nil
	}
	// The transcript itself is not recoverable from the backend; a
	// resumed session starts with empty history under the same id.
	now := time.Now()
	a.sessions[id] = &anthropicSession{id: id, model: cfg.Model, started: now, modified: now}
	return nil
}

func (a *AnthropicAdapter) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]SessionInfo, 0, len(a.sessions))
	for _, s := range a.sessions {
		out = append(out, SessionInfo{ID: s.id, StartTime: s.started, ModifiedTime: s.modified})
	}
	return out, nil
}

func (a *AnthropicAdapter) DeleteSession(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.sessions[id]; !ok {
		return ErrUnknownSession
	}
	delete(a.sessions, id)
	return nil
}

func (a *AnthropicAdapter) RegisterEventHandler(sessionID string, handler EventHandler) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	if s.handler != nil {
		return ErrHandlerAlreadyRegistered
	}
	s.handler = handler
	return nil
}

func (a *AnthropicAdapter) Send(ctx context.Context, sessionID, prompt string) (Response, error) {
	a.mu.Lock()
	s, ok := a.sessions[sessionID]
	if !ok {
		a.mu.Unlock()
		return Response{}, ErrUnknownSession
	}
	s.messages = append(s.messages, anthropicMessage{Role: "user", Content: prompt})
	model := s.model
	messages := append([]anthropicMessage(nil), s.messages...)
	handler := s.handler
	a.mu.Unlock()

	reqBody := anthropicRequest{
		Model:     model,
		MaxTokens: 4096,
		Messages:  messages,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, fmt.Errorf("adapter: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("adapter: build request: %w", err)
	}
	a.setHeaders(httpReq)

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("adapter: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("adapter: read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return Response{}, a.parseError(httpResp.StatusCode, body)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Response{}, fmt.Errorf("adapter: decode response: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	usage := Usage{
		Used: int64(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		Max:  200_000,
	}

	a.mu.Lock()
	s.messages = append(s.messages, anthropicMessage{Role: "assistant", Content: text.String()})
	s.usage = usage
	s.modified = time.Now()
	a.mu.Unlock()

	if handler != nil {
		handler(Event{Kind: EventDelta, Session: sessionID, Delta: text.String()})
		handler(Event{Kind: EventUsage, Session: sessionID, Usage: usage})
		handler(Event{Kind: EventDone, Session: sessionID})
	}

	return Response{Text: text.String(), FinishReason: mapStopReason(resp.StopReason), Usage: usage}, nil
}

func (a *AnthropicAdapter) GetContextUsage(ctx context.Context, sessionID string) (Usage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionID]
	if !ok {
		return Usage{}, ErrUnknownSession
	}
	return s.usage, nil
}

// Compact is not a backend feature of the Messages API: the adapter
// declares no CapCompaction and always returns ErrNotSupported; local
// history is left untouched.
func (a *AnthropicAdapter) Compact(ctx context.Context, sessionID string, preserveCategories []string) (CompactionResult, error) {
	return CompactionResult{}, ErrNotSupported
}

func (a *AnthropicAdapter) GetStatus(ctx context.Context) (Status, error) {
	return Status{Name: a.Name(), Running: true}, nil
}

func (a *AnthropicAdapter) GetAuthStatus(ctx context.Context) (AuthStatus, error) {
	if a.apiKey == "" {
		return AuthStatus{Authenticated: false, Detail: "ANTHROPIC_API_KEY not set"}, nil
	}
	return AuthStatus{Authenticated: true, Identity: "api-key"}, nil
}

func (a *AnthropicAdapter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return a.registry.Models(), nil
}

func (a *AnthropicAdapter) SelectModel(ctx context.Context, req Requirements) (string, error) {
	return a.registry.Select(req)
}

func (a *AnthropicAdapter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
}

func (a *AnthropicAdapter) parseError(statusCode int, body []byte) error {
	var errResp anthropicErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return fmt.Errorf("adapter: anthropic http %d: %s", statusCode, string(body))
	}
	if statusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", ErrRateLimited, errResp.Error.Message)
	}
	return fmt.Errorf("adapter: anthropic %s: %s", errResp.Error.Type, errResp.Error.Message)
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "max_tokens"
	case "tool_use":
		return "tool_use"
	default:
		return reason
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Content    []anthropicContentBlock `json:"content"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicErrorResponse struct {
	Type  string         `json:"type"`
	Error anthropicError `json:"error"`
}
