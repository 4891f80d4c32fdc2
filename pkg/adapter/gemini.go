package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// GeminiAdapter implements Adapter against Google's Gemini API using the
// official google.golang.org/genai SDK, the second concrete backend
// alongside AnthropicAdapter (spec §4.5 "one reference adapter" is
// spent on two vendors here so select_model's vendor/family dimension
// has something real to discriminate on). Grounded on the teacher's
// pkg/index/llm.go, which reaches for Gemini as its summarization
// backend but does so over raw HTTP; this adapter instead exercises the
// real SDK the teacher's go.mod never wired to a non-test surface.
type GeminiAdapter struct {
	client   *genai.Client
	registry *Registry

	mu       sync.Mutex
	sessions map[string]*geminiSession
}

type geminiSession struct {
	id       string
	model    string
	started  time.Time
	modified time.Time
	history  []*genai.Content
	usage    Usage
	handler  EventHandler
}

// NewGeminiAdapter builds an adapter using apiKey for auth. It returns
// an error if the genai client cannot be created.
func NewGeminiAdapter(ctx context.Context, apiKey string) (*GeminiAdapter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("adapter: create gemini client: %w", err)
	}

	reg := NewRegistry()
	reg.Register(ModelInfo{ID: "gemini-2.0-flash", Vendor: "google", Family: "gemini", Tier: "standard", Speed: "fast", Capability: "general", ContextMax: 1_000_000})
	reg.Register(ModelInfo{ID: "gemini-2.0-pro", Vendor: "google", Family: "gemini", Tier: "premium", Speed: "deliberate", Capability: "reasoning", ContextMax: 2_000_000})

	return &GeminiAdapter{
		client:   client,
		registry: reg,
		sessions: map[string]*geminiSession{},
	}, nil
}

func (a *GeminiAdapter) Name() string { return "gemini" }

func (a *GeminiAdapter) Capabilities() Capabilities {
	return Capabilities{
		CapResumeSession: true,
		CapListSessions:  true,
		CapDeleteSession: true,
		CapAuthStatus:    true,
	}
}

func (a *GeminiAdapter) Start(ctx context.Context) error { return nil }
func (a *GeminiAdapter) Stop(ctx context.Context) error  { return nil }

func (a *GeminiAdapter) CreateSession(ctx context.Context, cfg CreateConfig) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := uuid.NewString()
	now := time.Now()
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	a.sessions[id] = &geminiSession{id: id, model: model, started: now, modified: now}
	return id, nil
}

func (a *GeminiAdapter) ResumeSession(ctx context.Context, id string, cfg CreateConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.sessions[id]; ok {
		return nil
	}
	now := time.Now()
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	a.sessions[id] = &geminiSession{id: id, model: model, started: now, modified: now}
	return nil
}

func (a *GeminiAdapter) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]SessionInfo, 0, len(a.sessions))
	for _, s := range a.sessions {
		out = append(out, SessionInfo{ID: s.id, StartTime: s.started, ModifiedTime: s.modified})
	}
	return out, nil
}

func (a *GeminiAdapter) DeleteSession(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.sessions[id]; !ok {
		return ErrUnknownSession
	}
	delete(a.sessions, id)
	return nil
}

func (a *GeminiAdapter) RegisterEventHandler(sessionID string, handler EventHandler) error {
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

func (a *GeminiAdapter) Send(ctx context.Context, sessionID, prompt string) (Response, error) {
	a.mu.Lock()
	s, ok := a.sessions[sessionID]
	if !ok {
		a.mu.Unlock()
		return Response{}, ErrUnknownSession
	}
	s.history = append(s.history, genai.NewContentFromText(prompt, genai.RoleUser))
	model := s.model
	history := append([]*genai.Content(nil), s.history...)
	handler := s.handler
	a.mu.Unlock()

	result, err := a.client.Models.GenerateContent(ctx, model, history, nil)
	if err != nil {
		return Response{}, fmt.Errorf("adapter: gemini generate content: %w", err)
	}

	text := result.Text()
	usage := Usage{Max: 1_000_000}
	if result.UsageMetadata != nil {
		usage.Used = int64(result.UsageMetadata.TotalTokenCount)
	}

	a.mu.Lock()
	s.history = append(s.history, genai.NewContentFromText(text, genai.RoleModel))
	s.usage = usage
	s.modified = time.Now()
	a.mu.Unlock()

	if handler != nil {
		handler(Event{Kind: EventDelta, Session: sessionID, Delta: text})
		handler(Event{Kind: EventUsage, Session: sessionID, Usage: usage})
		handler(Event{Kind: EventDone, Session: sessionID})
	}

	finish := "stop"
	if len(result.Candidates) > 0 {
		finish = string(result.Candidates[0].FinishReason)
	}

	return Response{Text: text, FinishReason: finish, Usage: usage}, nil
}

func (a *GeminiAdapter) GetContextUsage(ctx context.Context, sessionID string) (Usage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionID]
	if !ok {
		return Usage{}, ErrUnknownSession
	}
	return s.usage, nil
}

// Compact is not a Gemini API feature; the adapter declares no
// CapCompaction so the engine never calls this outside of a capability
// check gone wrong.
func (a *GeminiAdapter) Compact(ctx context.Context, sessionID string, preserveCategories []string) (CompactionResult, error) {
	return CompactionResult{}, ErrNotSupported
}

func (a *GeminiAdapter) GetStatus(ctx context.Context) (Status, error) {
	return Status{Name: a.Name(), Running: a.client != nil}, nil
}

func (a *GeminiAdapter) GetAuthStatus(ctx context.Context) (AuthStatus, error) {
	if a.client == nil {
		return AuthStatus{Authenticated: false, Detail: "gemini client not configured"}, nil
	}
	return AuthStatus{Authenticated: true, Identity: "api-key"}, nil
}

func (a *GeminiAdapter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return a.registry.Models(), nil
}

func (a *GeminiAdapter) SelectModel(ctx context.Context, req Requirements) (string, error) {
	return a.registry.Select(req)
}
