package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// mockSession is one in-memory conversation tracked by MockAdapter.
type mockSession struct {
	id           string
	model        string
	startTime    time.Time
	modifiedTime time.Time
	turns        int
	usage        Usage
	handler      EventHandler
}

// MockAdapter is a deterministic, in-process Adapter used by tests, by
// `sessions` commands run without credentials, and as the default CLI
// adapter (spec §1's "one reference adapter" budget share is spent on
// the Anthropic/Gemini adapters; this one exists purely so the engine
// and executors are exercisable without any backend). Each Send
// consumes a fixed per-turn token cost and echoes the prompt, closely
// mirroring the scripted responses the teacher's own test doubles use
// for pkg/agent and pkg/orchestra tests.
type MockAdapter struct {
	mu       sync.Mutex
	sessions map[string]*mockSession
	registry *Registry
	running  bool

	// TokensPerTurn is the Usage.Used delta Send adds each call.
	TokensPerTurn int64
	// MaxTokens is the Usage.Max reported for every session.
	MaxTokens int64
	// Responses, if set, is consumed in order (one entry per Send);
	// once exhausted Send echoes the prompt instead.
	Responses []string

	sendCount map[string]int
}

// NewMockAdapter builds a MockAdapter with sensible defaults and a
// small built-in model registry covering the tier/speed/capability
// space the spec's constraint bag names.
func NewMockAdapter() *MockAdapter {
	reg := NewRegistry()
	reg.Register(ModelInfo{ID: "mock-economy", Vendor: "mock", Family: "mock", Tier: "economy", Speed: "fast", Capability: "general", ContextMax: 32_000})
	reg.Register(ModelInfo{ID: "mock-standard", Vendor: "mock", Family: "mock", Tier: "standard", Speed: "standard", Capability: "code", ContextMax: 128_000})
	reg.Register(ModelInfo{ID: "mock-premium", Vendor: "mock", Family: "mock", Tier: "premium", Speed: "deliberate", Capability: "reasoning", ContextMax: 1_000_000})

	return &MockAdapter{
		sessions:      map[string]*mockSession{},
		registry:      reg,
		TokensPerTurn: 250,
		MaxTokens:     128_000,
		sendCount:     map[string]int{},
	}
}

func (a *MockAdapter) Name() string { return "mock" }

func (a *MockAdapter) Capabilities() Capabilities {
	return Capabilities{
		CapResumeSession:     true,
		CapListSessions:      true,
		CapDeleteSession:     true,
		CapCompaction:        true,
		CapBackgroundCompact: true,
		CapCancelInFlight:    true,
		CapAuthStatus:        true,
	}
}

func (a *MockAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = true
	return nil
}

func (a *MockAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
	return nil
}

func (a *MockAdapter) CreateSession(ctx context.Context, cfg CreateConfig) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := fmt.Sprintf("mock-session-%d", len(a.sessions)+1)
	now := time.Now()
	a.sessions[id] = &mockSession{
		id:           id,
		model:        cfg.Model,
		startTime:    now,
		modifiedTime: now,
		usage:        Usage{Used: 0, Max: a.MaxTokens},
	}
	return id, nil
}

func (a *MockAdapter) ResumeSession(ctx context.Context, id string, cfg CreateConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.sessions[id]; ok {
		return nil
	}
	a.sessions[id] = &mockSession{
		id:           id,
		model:        cfg.Model,
		startTime:    time.Now(),
		modifiedTime: time.Now(),
		usage:        Usage{Used: 0, Max: a.MaxTokens},
	}
	return nil
}

func (a *MockAdapter) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]SessionInfo, 0, len(a.sessions))
	for _, s := range a.sessions {
		out = append(out, SessionInfo{
			ID:           s.id,
			StartTime:    s.startTime,
			ModifiedTime: s.modifiedTime,
			IsRemote:     false,
		})
	}
	return out, nil
}

func (a *MockAdapter) DeleteSession(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.sessions[id]; !ok {
		return ErrUnknownSession
	}
	delete(a.sessions, id)
	return nil
}

// RegisterEventHandler enforces one-shot registration per session
// (spec §8 property 6): a second call for the same id is rejected
// rather than silently replacing or chaining the existing handler.
func (a *MockAdapter) RegisterEventHandler(sessionID string, handler EventHandler) error {
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

func (a *MockAdapter) Send(ctx context.Context, sessionID, prompt string) (Response, error) {
	a.mu.Lock()
	s, ok := a.sessions[sessionID]
	if !ok {
		a.mu.Unlock()
		return Response{}, ErrUnknownSession
	}

	text := prompt
	idx := a.sendCount[sessionID]
	if idx < len(a.Responses) {
		text = a.Responses[idx]
	}
	a.sendCount[sessionID] = idx + 1

	s.turns++
	s.usage.Used += a.TokensPerTurn
	if s.usage.Max == 0 {
		s.usage.Max = a.MaxTokens
	}
	s.modifiedTime = time.Now()
	usage := s.usage
	handler := s.handler
	a.mu.Unlock()

	if handler != nil {
		handler(Event{Kind: EventDelta, Session: sessionID, Delta: text})
		handler(Event{Kind: EventUsage, Session: sessionID, Usage: usage})
		handler(Event{Kind: EventDone, Session: sessionID})
	}

	return Response{Text: text, FinishReason: "stop", Usage: usage}, nil
}

func (a *MockAdapter) GetContextUsage(ctx context.Context, sessionID string) (Usage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionID]
	if !ok {
		return Usage{}, ErrUnknownSession
	}
	return s.usage, nil
}

func (a *MockAdapter) Compact(ctx context.Context, sessionID string, preserveCategories []string) (CompactionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionID]
	if !ok {
		return CompactionResult{}, ErrUnknownSession
	}
	before := s.usage.Used
	after := before / 2
	s.usage.Used = after
	return CompactionResult{TokensBefore: before, TokensAfter: after, PreservedItems: len(preserveCategories)}, nil
}

func (a *MockAdapter) GetStatus(ctx context.Context) (Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{Name: a.Name(), Running: a.running, Detail: fmt.Sprintf("%d sessions", len(a.sessions))}, nil
}

func (a *MockAdapter) GetAuthStatus(ctx context.Context) (AuthStatus, error) {
	return AuthStatus{Authenticated: true, Identity: "mock-user"}, nil
}

func (a *MockAdapter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return a.registry.Models(), nil
}

func (a *MockAdapter) SelectModel(ctx context.Context, req Requirements) (string, error) {
	return a.registry.Select(req)
}
