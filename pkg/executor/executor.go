// Package executor implements the per-step executors (spec §4.6):
// prompt, run, verify, context-inject, compact, checkpoint, pause,
// consult, and plugin-dispatched custom steps. Each executor reads the
// shared Context, may call the Adapter or a Verifier, and reports an
// Outcome the iteration engine (pkg/engine) acts on — suspend, tear
// down the conversation, or simply continue. Grounded on the teacher's
// orchestra.Worker/Validator split (one function per unit of work,
// returning a result the caller interprets) generalized from "worker
// implements a step, validator grades it" to "executor runs a step,
// Outcome tells the engine what changed".
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sdqctl/sdqctl/pkg/adapter"
	"github.com/sdqctl/sdqctl/pkg/refs"
	"github.com/sdqctl/sdqctl/pkg/session"
	"github.com/sdqctl/sdqctl/pkg/template"
	"github.com/sdqctl/sdqctl/pkg/verify"
	"github.com/sdqctl/sdqctl/pkg/wf"
)

// ErrUnknownDirective is wrapped into the error a PluginDispatcher
// returns when step.Type names no registered handler. runCustom treats
// this one case as a lenient-mode warning rather than a fatal RunError
// (spec §4.1 "unknown directive ... lenient: warn"); any other error a
// dispatcher returns (a handler that ran and failed, a transport
// error) stays fatal regardless of validation mode.
var ErrUnknownDirective = errors.New("executor: unknown custom directive")

// PluginDispatcher dispatches a CustomStep to a plugin-registered
// handler. Declared here, implemented by pkg/plugin, to keep
// pkg/executor free of a direct import on pkg/plugin (plugin-registered
// verifier kinds already share executor's verify.Registry directly;
// only the non-verifier custom-directive path needs this seam).
type PluginDispatcher interface {
	Dispatch(ctx context.Context, step wf.CustomStep, workspace string) (PluginResult, error)
}

// PluginResult is a plugin handler's report of one custom-step run.
type PluginResult struct {
	Output string
	Passed bool
}

// Context is the state shared by every step dispatch within one
// session run. The engine owns one Context per session and refreshes
// Vars before each Dispatch call, since CYCLE/STEP_INDEX change every
// cycle (spec §4.2) while everything else here is stable for the
// session's lifetime.
type Context struct {
	Workspace      string
	Mode           wf.Mode
	ValidationMode wf.ValidationMode

	Adapter   adapter.Adapter
	SessionID string
	Session   *session.Session

	Verify *verify.Registry
	Plugin PluginDispatcher

	Roots refs.Roots
	Vars  template.Vars

	// Thresholds and DefaultPreserve carry the workflow header's
	// compaction policy (spec §4.4); the engine sets these once at
	// startup from wf.Header.Compaction/CompactPreserve.
	Thresholds      wf.CompactionThresholds
	DefaultPreserve []string

	Async *AsyncRegistry

	mu      sync.Mutex
	pending []string

	toolCalls int64
}

// NewContext builds a Context with a fresh AsyncRegistry (a workflow
// with no RUN-ASYNC step never touches it).
func NewContext(workspace string, mode wf.Mode, vmode wf.ValidationMode, a adapter.Adapter, sessionID string, sess *session.Session, ver *verify.Registry, plugin PluginDispatcher, roots refs.Roots) *Context {
	return &Context{
		Workspace:      workspace,
		Mode:           mode,
		ValidationMode: vmode,
		Adapter:        a,
		SessionID:      sessionID,
		Session:        sess,
		Verify:         ver,
		Plugin:         plugin,
		Roots:          roots,
		Async:          NewAsyncRegistry(),
	}
}

// QueuePending appends text (already expanded) to the buffer folded
// into the next Prompt step's body — the mechanism REFCAT,
// CONTEXT-INJECT, and RUN/VERIFY output=always|on-error all share.
func (c *Context) QueuePending(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.mu.Lock()
	c.pending = append(c.pending, text)
	c.mu.Unlock()
}

// drainPending returns and clears the accumulated pending text.
func (c *Context) drainPending() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return ""
	}
	out := strings.Join(c.pending, "\n\n")
	c.pending = nil
	return out
}

// EventHandler builds the single event handler the engine registers
// for this session via adapter.RegisterEventHandler (spec §8 property 6,
// one-shot). It only needs to count tool calls per turn for loop
// detection; deltas and usage events are consumed synchronously through
// Send's return value instead.
func (c *Context) EventHandler() adapter.EventHandler {
	return func(ev adapter.Event) {
		if ev.Kind == adapter.EventToolCall {
			atomic.AddInt64(&c.toolCalls, 1)
		}
	}
}

func (c *Context) drainToolCalls() int {
	return int(atomic.SwapInt64(&c.toolCalls, 0))
}

func (c *Context) templateMode() template.Mode {
	if c.ValidationMode == wf.ValidationStrict {
		return template.Strict
	}
	return template.Lenient
}

func (c *Context) expand(s string) (string, error) {
	return template.Expand(s, c.Vars, c.templateMode(), nil)
}

// Expand is the exported form of expand, for callers outside this
// package (pkg/engine's ELIDE handling expands an elided Prompt step's
// text itself, since that step is queued rather than dispatched).
func (c *Context) Expand(s string) (string, error) {
	return c.expand(s)
}

// PauseRequest is returned by Dispatch for a Pause step; the engine
// writes the checkpoint and suspends.
type PauseRequest struct {
	Message string
}

// ConsultRequest is returned by Dispatch for a Consult step.
type ConsultRequest struct {
	Topic   string
	Timeout time.Duration
}

// Outcome reports a state change the engine must act on beyond "the
// step ran"; the zero value means "continue to the next step".
type Outcome struct {
	Pause           *PauseRequest
	Consult         *ConsultRequest
	NewConversation bool
}

// Dispatch runs one step against ec and returns its Outcome. Branch
// blocks (ON-SUCCESS/ON-FAILURE) are handled by the run executor, which
// dispatches each block step; RUN-WAIT is handled by the custom
// executor. Dispatch itself is a flat switch over Kind, never recursing
// into itself except through the branch-block path.
func Dispatch(ctx context.Context, ec *Context, step wf.Step) (Outcome, error) {
	switch step.Kind {
	case wf.KindPrompt:
		return Outcome{}, runPrompt(ctx, ec, step.Prompt)
	case wf.KindRun:
		return Outcome{}, runRun(ctx, ec, step.Run)
	case wf.KindVerify:
		return Outcome{}, runVerifyStep(ctx, ec, step.Verify)
	case wf.KindContextInject:
		return Outcome{}, runContextInject(ctx, ec, step.ContextInject)
	case wf.KindCompact:
		return Outcome{}, runCompact(ctx, ec, step.Compact)
	case wf.KindCheckpoint:
		return runCheckpoint(ctx, ec, step.Checkpoint)
	case wf.KindPause:
		msg, err := ec.expand(step.Pause.Message)
		if err != nil {
			return Outcome{}, fmt.Errorf("executor: pause: %w", err)
		}
		return Outcome{Pause: &PauseRequest{Message: msg}}, nil
	case wf.KindConsult:
		topic, err := ec.expand(step.Consult.Topic)
		if err != nil {
			return Outcome{}, fmt.Errorf("executor: consult: %w", err)
		}
		return Outcome{Consult: &ConsultRequest{
			Topic:   topic,
			Timeout: time.Duration(step.Consult.Timeout),
		}}, nil
	case wf.KindCustom:
		return Outcome{}, runCustom(ctx, ec, step.Custom)
	default:
		return Outcome{}, fmt.Errorf("executor: unknown step kind %q", step.Kind)
	}
}
