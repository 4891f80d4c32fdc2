package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sdqctl/sdqctl/internal/errkind"
	"github.com/sdqctl/sdqctl/pkg/adapter"
	"github.com/sdqctl/sdqctl/pkg/executor"
	"github.com/sdqctl/sdqctl/pkg/refs"
	"github.com/sdqctl/sdqctl/pkg/session"
	"github.com/sdqctl/sdqctl/pkg/wf"
)

// preflight validates REQUIRE paths and, in strict validation mode,
// required (non-optional) context references — all before any adapter
// contact, so a missing-context failure never costs a session (spec §7
// ordering, exit code 2).
func (e *Engine) preflight(ctx context.Context) error {
	for _, p := range e.workflow.RequireExists {
		full := p
		if !filepath.IsAbs(full) {
			full = filepath.Join(e.workspace, full)
		}
		if _, err := os.Stat(full); err != nil {
			return errkind.New(errkind.Validation, fmt.Sprintf("required path %q does not exist", p), err)
		}
	}

	if e.workflow.Header.ValidationMode != wf.ValidationStrict {
		return nil
	}

	result, err := refs.Resolve(ctx, e.roots, e.workflow.RequiredContext)
	if err != nil {
		return errkind.New(errkind.Validation, "resolve required context", err)
	}
	for _, miss := range result.Misses {
		if miss.Optional {
			continue
		}
		return errkind.New(errkind.Validation, fmt.Sprintf("required context %q: %s", miss.Ref.Pattern, miss.Reason), nil)
	}
	return nil
}

// openSession either creates a fresh adapter session (resumeDir == "")
// or reopens one from a checkpoint, returning the executor Context
// ready to dispatch against and any synthetic resume prelude to queue.
func (e *Engine) openSession(ctx context.Context, resumeDir string) (*session.Session, *executor.Context, string, error) {
	loopDet, err := session.NewLoopDetector(e.loopConfig, e.embedFunc)
	if err != nil {
		return nil, nil, "", errkind.New(errkind.Internal, "create loop detector", err)
	}

	if resumeDir == "" {
		return e.createSession(ctx, loopDet)
	}
	return e.resumeSession(ctx, resumeDir, loopDet)
}

func (e *Engine) createSession(ctx context.Context, loopDet *session.LoopDetector) (*session.Session, *executor.Context, string, error) {
	modelID, err := e.resolveModel(ctx)
	if err != nil {
		return nil, nil, "", err
	}

	id, err := e.adapter.CreateSession(ctx, adapter.CreateConfig{Model: modelID, Workspace: e.workspace})
	if err != nil {
		return nil, nil, "", errkind.New(errkind.AdapterUnavailable, "create session", err)
	}

	dirName := e.workflow.Header.SessionName
	if dirName == "" {
		dirName = id
	}
	sessDir := filepath.Join(e.sessionDir, dirName)

	sess := session.New(id, sessDir, e.workflow.Hash(), session.NewRateEstimator(0, nil), loopDet, session.NewRateLimiter(e.rateLimitPerMinute))
	if err := sess.Transition(session.StateRunning); err != nil {
		return nil, nil, "", errkind.New(errkind.Internal, "transition session", err)
	}

	ec := e.newExecutorContext(e.adapter, id, sess)
	if err := e.adapter.RegisterEventHandler(id, ec.EventHandler()); err != nil {
		return nil, nil, "", errkind.New(errkind.AdapterUnavailable, "register event handler", err)
	}
	return sess, ec, "", nil
}

func (e *Engine) resumeSession(ctx context.Context, resumeDir string, loopDet *session.LoopDetector) (*session.Session, *executor.Context, string, error) {
	cp, ok, err := session.ReadCheckpoint(resumeDir)
	if err != nil {
		return nil, nil, "", errkind.New(errkind.SessionError, "read checkpoint", err)
	}
	if !ok {
		return nil, nil, "", errkind.New(errkind.SessionError, fmt.Sprintf("no checkpoint found in %s", resumeDir), nil)
	}
	if cp.WorkflowHash != e.workflow.Hash() {
		return nil, nil, "", errkind.New(errkind.Validation, "checkpoint workflow hash does not match the workflow being resumed", nil)
	}
	if err := session.CheckConsultExpiry(cp, e.consultTimeout, e.now()); err != nil {
		return nil, nil, "", errkind.New(errkind.ConsultExpired, err.Error(), err)
	}
	if !e.adapter.Capabilities().Supports(adapter.CapResumeSession) {
		return nil, nil, "", errkind.New(errkind.AdapterUnavailable, "adapter does not support resuming sessions", nil)
	}

	modelID, err := e.resolveModel(ctx)
	if err != nil {
		return nil, nil, "", err
	}
	if err := e.adapter.ResumeSession(ctx, cp.SessionID, adapter.CreateConfig{Model: modelID, Workspace: e.workspace}); err != nil {
		return nil, nil, "", errkind.New(errkind.AdapterUnavailable, "resume session", err)
	}

	sess := session.New(cp.SessionID, resumeDir, cp.WorkflowHash, session.NewRateEstimator(0, nil), loopDet, session.NewRateLimiter(e.rateLimitPerMinute))
	sess.Cycle = cp.Cycle
	// The checkpoint's StepIndex is the step that suspended the run
	// (PAUSE/CONSULT/a stop signal); resuming continues just past it,
	// never re-running it.
	sess.StepIndex = cp.StepIndex + 1
	if err := sess.Transition(session.StateRunning); err != nil {
		return nil, nil, "", errkind.New(errkind.Internal, "transition resumed session", err)
	}

	if usage, err := e.adapter.GetContextUsage(ctx, cp.SessionID); err == nil {
		sess.SyncUsage(session.Usage{Used: usage.Used, Max: usage.Max})
	}

	ec := e.newExecutorContext(e.adapter, cp.SessionID, sess)
	if err := e.adapter.RegisterEventHandler(cp.SessionID, ec.EventHandler()); err != nil {
		return nil, nil, "", errkind.New(errkind.AdapterUnavailable, "register event handler", err)
	}

	var prelude string
	if cp.Status == session.StatusConsulting {
		prelude = session.ResumePrelude(cp.ConsultationTopic)
	}
	return sess, ec, prelude, nil
}

// suspend writes a durable checkpoint for a PAUSE/CONSULT outcome and
// returns the *errkind.Error the run must exit with. Paused covers both
// suspension reasons (spec §7 propagation policy); the distinction
// between "paused" and "consulting" lives in the checkpoint's own
// Status field, not in the error kind.
func (e *Engine) suspend(sess *session.Session, status session.Status, message, topic string, cycle, stepIndex int) error {
	var target session.State
	switch status {
	case session.StatusPaused:
		target = session.StatePaused
	case session.StatusConsulting:
		target = session.StateConsulting
	default:
		target = session.StateError
	}
	if err := sess.Transition(target); err != nil {
		return errkind.New(errkind.Internal, "transition session for suspend", err).WithSession(sess.ID, cycle, stepIndex)
	}

	cp := sess.Checkpoint(status, message, topic, e.now())
	if err := session.WriteCheckpoint(sess.SessionDir, cp); err != nil {
		return errkind.New(errkind.SessionError, "write checkpoint", err).WithSession(sess.ID, cycle, stepIndex)
	}
	e.writeMetrics(sess)

	msg := message
	if msg == "" {
		msg = fmt.Sprintf("suspended pending consultation on %q", topic)
	}
	return errkind.New(errkind.Paused, msg, nil).WithSession(sess.ID, cycle, stepIndex)
}

// suspendCancelled persists an error checkpoint for a cancellation or
// stop-file signal (spec §4.7 "Cancellation ... persist a checkpoint
// with status=error").
func (e *Engine) suspendCancelled(sess *session.Session, kind errkind.Kind, reason string) error {
	_ = sess.Transition(session.StateError)
	cp := sess.Checkpoint(session.StatusError, reason, "", e.now())
	_ = session.WriteCheckpoint(sess.SessionDir, cp)
	e.writeMetrics(sess)
	return errkind.New(kind, reason, nil).WithSession(sess.ID, sess.Cycle, sess.StepIndex)
}

// classifyStepError maps a step-dispatch failure to the spec §7 error
// taxonomy and, for anything that is not itself a Paused suspension,
// persists an error checkpoint — satisfying the invariant that every
// checkpoint's status is one of running/paused/consulting/error.
func (e *Engine) classifyStepError(err error, sess *session.Session, cycle, stepIndex int) error {
	var rateLimited *session.AdapterRateLimited
	var loopDetected *session.ErrLoopDetected

	kind := errkind.RunError
	switch {
	case errors.As(err, &rateLimited):
		kind = errkind.RateLimited
	case errors.As(err, &loopDetected):
		kind = errkind.LoopDetected
	}

	wrapped := errkind.New(kind, err.Error(), err).WithSession(sess.ID, cycle, stepIndex)

	_ = sess.Transition(session.StateError)
	cp := sess.Checkpoint(session.StatusError, err.Error(), "", e.now())
	_ = session.WriteCheckpoint(sess.SessionDir, cp)
	e.writeMetrics(sess)

	return wrapped
}
