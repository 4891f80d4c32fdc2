// Package adapter defines the contract abstracting an assistant
// backend (spec §4.5) and the types shared by every concrete adapter:
// token usage, events, sessions, and the constraint bag consulted by
// select_model. It is the one interface the rest of sdqctl is written
// against; pkg/engine and pkg/executor never import a concrete
// backend package directly, mirroring the way the teacher's pkg/sdk
// abstracts pkg/llm behind LLMRouter/LLMProvider.
package adapter

import (
	"context"
	"time"
)

// Capability names an optional adapter operation (spec §4.5
// "Capabilities are declared, not discovered at runtime").
type Capability string

const (
	CapResumeSession      Capability = "resume_session"
	CapListSessions       Capability = "list_sessions"
	CapDeleteSession      Capability = "delete_session"
	CapCompaction         Capability = "compaction"
	CapBackgroundCompact  Capability = "background_compaction"
	CapCancelInFlight     Capability = "cancel_in_flight"
	CapAuthStatus         Capability = "auth_status"
)

// Capabilities is the set an adapter declares at Start time.
type Capabilities map[Capability]bool

// Supports reports whether cap is declared.
func (c Capabilities) Supports(cap Capability) bool {
	return c != nil && c[cap]
}

// Usage is a (used, max) token snapshot (spec §4.4 "get_context_usage").
type Usage struct {
	Used int64
	Max  int64
}

// SessionInfo describes one adapter-known conversation (spec §4.5
// "list_sessions").
type SessionInfo struct {
	ID           string
	StartTime    time.Time
	ModifiedTime time.Time
	Summary      string
	IsRemote     bool
}

// CreateConfig parameterizes create_session / resume_session: the
// model (or requirement set resolved via SelectModel), workspace root,
// and any adapter-specific options.
type CreateConfig struct {
	Model     string
	Workspace string
	Options   map[string]string
}

// EventKind tags the structured records an adapter multiplexes its
// backend's event stream into (spec §4.5 "send ... structured event
// stream (tool calls, deltas, usage updates)").
type EventKind string

const (
	EventDelta    EventKind = "delta"
	EventToolCall EventKind = "tool_call"
	EventUsage    EventKind = "usage"
	EventDone     EventKind = "done"
)

// Event is one structured record from a session's event stream.
type Event struct {
	Kind      EventKind
	Session   string
	Delta     string
	ToolName  string
	ToolArgs  map[string]any
	Usage     Usage
}

// EventHandler receives a session's events. The engine registers
// exactly one handler per session (spec §4.5, §8 property 6, §9
// "one-shot registration"); RegisterEventHandler enforces that by
// refusing a second registration rather than chaining handlers.
type EventHandler func(Event)

// Response is the blocking result of Send (spec §4.5 "send(session,
// prompt) -> Response").
type Response struct {
	Text         string
	FinishReason string
	Usage        Usage
}

// CompactionResult is the result of Compact (spec §4.4).
type CompactionResult struct {
	TokensBefore     int64
	TokensAfter      int64
	PreservedItems   int
}

// Status is adapter-level health/metadata (spec §4.5 "get_status").
type Status struct {
	Name      string
	Running   bool
	Detail    string
}

// AuthStatus reports whether the adapter is authenticated to its
// backend (spec §4.5 "get_auth_status").
type AuthStatus struct {
	Authenticated bool
	Identity      string
	Detail        string
}

// ModelInfo is one entry of list_models.
type ModelInfo struct {
	ID         string
	Vendor     string
	Family     string
	Tier       string // economy | standard | premium
	Speed      string // fast | standard | deliberate
	Capability string // code | reasoning | general
	ContextMax int64
}

// Requirements is the constraint bag select_model resolves against
// (spec §4.5): a minimum context window plus optional tier/speed/
// capability/vendor/family filters. Zero-value fields are unconstrained.
type Requirements struct {
	MinContext int64
	Tier       string
	Speed      string
	Capability string
	Vendor     string
	Family     string
}

// Adapter abstracts an assistant backend (spec §4.5). Every method may
// block; callers pass a context so the engine's single cancellation
// signal (spec §4.7 "Cancellation") can reach an in-flight call.
type Adapter interface {
	// Name identifies the adapter, e.g. "anthropic", "gemini", "mock".
	Name() string

	// Capabilities declares which optional operations this adapter
	// supports; callers must check before relying on them.
	Capabilities() Capabilities

	// Start/Stop are idempotent lifecycle hooks.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// CreateSession opens a new conversation, returning its durable id.
	CreateSession(ctx context.Context, cfg CreateConfig) (string, error)

	// ResumeSession reopens a session by id. Returns ErrUnknownSession
	// if absent, or ErrNotSupported if CapResumeSession is not declared.
	ResumeSession(ctx context.Context, id string, cfg CreateConfig) error

	// ListSessions returns adapter-known sessions, or ErrNotSupported.
	ListSessions(ctx context.Context) ([]SessionInfo, error)

	// DeleteSession removes a session's adapter-side state, or
	// ErrNotSupported.
	DeleteSession(ctx context.Context, id string) error

	// RegisterEventHandler attaches the session's single event sink.
	// A second call for the same session id returns an error; this is
	// the one-shot-registration guard spec §8 property 6 tests for.
	RegisterEventHandler(sessionID string, handler EventHandler) error

	// Send blocks until the assistant responds, synchronizing final
	// token counts into the returned Response.Usage.
	Send(ctx context.Context, sessionID, prompt string) (Response, error)

	// GetContextUsage returns the adapter's authoritative token count
	// for a session; the engine trusts no local estimate (spec §4.4).
	GetContextUsage(ctx context.Context, sessionID string) (Usage, error)

	// Compact requests a context reduction preserving the named
	// categories, or ErrNotSupported if CapCompaction is not declared.
	Compact(ctx context.Context, sessionID string, preserveCategories []string) (CompactionResult, error)

	// GetStatus, GetAuthStatus, ListModels are pure metadata reads.
	GetStatus(ctx context.Context) (Status, error)
	GetAuthStatus(ctx context.Context) (AuthStatus, error)
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// SelectModel resolves a constraint bag to a concrete model id.
	SelectModel(ctx context.Context, req Requirements) (string, error)
}
