// Package engine implements the iteration engine (spec §4.7): the
// outer MAX-CYCLES-bounded cycle loop that walks a workflow's step
// list, dispatching each step through pkg/executor, merging ELIDE
// chains into single assistant turns, triggering compaction ahead of
// sends, and suspending with a durable checkpoint on PAUSE/CONSULT/
// cancellation. Grounded on the teacher's Agent.RunLoop
// (pkg/agent/agent.go): the same iteration-counting loop, context-
// with-cancel lifecycle, and defer-based teardown, adapted from "run a
// skill repeatedly against a task" to "run a workflow's step list
// repeatedly against a session".
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/sdqctl/sdqctl/internal/errkind"
	"github.com/sdqctl/sdqctl/internal/logger"
	"github.com/sdqctl/sdqctl/pkg/adapter"
	"github.com/sdqctl/sdqctl/pkg/executor"
	"github.com/sdqctl/sdqctl/pkg/refs"
	"github.com/sdqctl/sdqctl/pkg/render"
	"github.com/sdqctl/sdqctl/pkg/session"
	"github.com/sdqctl/sdqctl/pkg/template"
	"github.com/sdqctl/sdqctl/pkg/verify"
	"github.com/sdqctl/sdqctl/pkg/wf"
)

// Engine runs one Workflow to completion (or suspension) against one
// Adapter. Reused across a fresh run and a resumed one; Run and
// Resume are the two entry points, sharing the cycle-loop core.
type Engine struct {
	mu sync.Mutex

	workflow  *wf.Workflow
	workspace string
	sessionDir string

	adapter adapter.Adapter
	verify  *verify.Registry
	plugin  executor.PluginDispatcher
	roots   refs.Roots
	vars    template.Vars

	cliCompaction      *wf.CompactionThresholds
	rateLimitPerMinute int
	loopConfig         session.LoopDetectorConfig
	embedFunc          chromem.EmbeddingFunc
	consultTimeout     time.Duration
	now                func() time.Time

	running      bool
	loopCancel   context.CancelFunc
	metricsStart time.Time

	doc *render.Document
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithVars supplies the already-merged author/CLI/stdin variable
// layer (template.Merge's result); the engine layers its own runtime
// variables (CYCLE, STEP_INDEX, etc.) on top per expansion.
func WithVars(v template.Vars) Option {
	return func(e *Engine) { e.vars = v }
}

// WithCLICompaction overrides the workflow header's compaction
// thresholds (spec §4.4 "CLI > directive > default" priority).
func WithCLICompaction(t *wf.CompactionThresholds) Option {
	return func(e *Engine) { e.cliCompaction = t }
}

// WithRateLimit sets the per-session adapter send rate limit
// (requests per minute); 0 uses session.NewRateLimiter's own default.
func WithRateLimit(perMinute int) Option {
	return func(e *Engine) { e.rateLimitPerMinute = perMinute }
}

// WithLoopConfig overrides the default productivity-loop detector
// configuration.
func WithLoopConfig(cfg session.LoopDetectorConfig) Option {
	return func(e *Engine) { e.loopConfig = cfg }
}

// WithEmbedFunc supplies the chromem-go embedding function used for
// semantic near-duplicate detection; nil disables the semantic check
// even if LoopConfig.SemanticSimilarity is non-zero.
func WithEmbedFunc(fn chromem.EmbeddingFunc) Option {
	return func(e *Engine) { e.embedFunc = fn }
}

// WithConsultTimeout sets the default CONSULT-TIMEOUT applied on
// resume when a CONSULT step itself set none.
func WithConsultTimeout(d time.Duration) Option {
	return func(e *Engine) { e.consultTimeout = d }
}

// withClock overrides the wall clock; test-only.
func withClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an Engine for w, rooted at workspace, persisting session
// state under sessionDir.
func New(w *wf.Workflow, workspace, sessionDir string, a adapter.Adapter, ver *verify.Registry, plugin executor.PluginDispatcher, roots refs.Roots, opts ...Option) *Engine {
	e := &Engine{
		workflow:    w,
		workspace:   workspace,
		sessionDir:  sessionDir,
		adapter:     a,
		verify:      ver,
		plugin:      plugin,
		roots:       roots,
		vars:        template.Vars{},
		loopConfig:  session.DefaultLoopDetectorConfig(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes w as a fresh session.
func (e *Engine) Run(ctx context.Context) (*render.Document, error) {
	return e.run(ctx, "")
}

// Resume continues a suspended session whose checkpoint lives under
// resumeDir (a subdirectory of sessionDir named after the session).
func (e *Engine) Resume(ctx context.Context, resumeDir string) (*render.Document, error) {
	return e.run(ctx, resumeDir)
}

// Stop requests the running engine abort at the next safe point,
// equivalent to a stop-file signal delivered programmatically.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loopCancel != nil {
		e.loopCancel()
	}
}

func (e *Engine) run(ctx context.Context, resumeDir string) (*render.Document, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine: already running")
	}
	e.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	e.loopCancel = cancel
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.loopCancel()
		e.mu.Unlock()
	}()

	// Required-context pre-flight happens before any adapter contact
	// (spec §7 ordering): a strict-mode missing-context failure must
	// never cost an adapter session.
	if err := e.preflight(loopCtx); err != nil {
		return nil, err
	}

	if err := e.adapter.Start(loopCtx); err != nil {
		return nil, errkind.New(errkind.AdapterUnavailable, "start adapter", err)
	}

	e.metricsStart = e.now()

	sess, ec, prelude, err := e.openSession(loopCtx, resumeDir)
	if err != nil {
		return nil, err
	}

	stopPath := session.StopFilePath(sess.SessionDir, sess.ID)
	stop, err := session.NewStopWatch(stopPath)
	if err != nil {
		return nil, errkind.New(errkind.Internal, "start stop-file watch", err).WithSession(sess.ID, sess.Cycle, sess.StepIndex)
	}
	defer stop.Close()
	ec.Vars["STOP_FILE"] = stopPath

	e.doc = render.NewTrace(e.workflow)

	if prelude != "" {
		ec.QueuePending(prelude)
	}

	defer ec.Async.TerminateAll()

	if err := e.loop(loopCtx, sess, ec, stop); err != nil {
		return e.doc, err
	}

	_ = sess.Transition(session.StateCompleted)
	_ = session.DeleteCheckpoint(sess.SessionDir)
	e.writeMetrics(sess)
	return e.doc, nil
}

// writeMetrics refreshes the session directory's metrics.json from the
// trace document and current usage accumulated so far (spec §6
// persisted state layout). StartedAt is preserved across a resume by
// reading back whatever the prior run recorded.
func (e *Engine) writeMetrics(sess *session.Session) {
	started := e.metricsStart
	if existing, ok, _ := session.ReadMetrics(sess.SessionDir); ok && !existing.StartedAt.IsZero() {
		started = existing.StartedAt
	}

	var turns int
	if e.doc != nil {
		for _, c := range e.doc.Cycles {
			for _, st := range c.Steps {
				if st.Type == string(wf.KindPrompt) && st.Error == "" {
					turns++
				}
			}
		}
	}

	usage := sess.Usage()
	m := session.Metrics{
		WorkflowPath: e.workflow.SourcePath,
		Turns:        turns,
		TokensOut:    usage.Used,
		StartedAt:    started,
		ModifiedAt:   e.now(),
	}
	_ = session.WriteMetrics(sess.SessionDir, m)
}

// loop runs the outer MAX-CYCLES-bounded cycle loop, reopening the
// adapter session whenever a cycle ends in NEW-CONVERSATION.
func (e *Engine) loop(ctx context.Context, sess *session.Session, ec *executor.Context, stop *session.StopWatch) error {
	start := sess.Cycle
	if start < 1 {
		start = 1
	}
	// A checkpoint resumed mid-cycle restarts that one cycle at the step
	// after the one it was suspended on rather than from the top; every
	// subsequent cycle starts fresh at step 0.
	stepStart := sess.StepIndex

	for cycle := start; e.withinBudget(cycle, start); cycle++ {
		sess.Cycle = cycle

		select {
		case <-stop.Stopped:
			return e.suspendCancelled(sess, errkind.StopFileRequested, "stop file created")
		case <-ctx.Done():
			return e.suspendCancelled(sess, errkind.Cancelled, "run cancelled")
		default:
		}

		newConversation, err := e.runCycle(ctx, ec, sess, cycle, stepStart, stop)
		if err != nil {
			return err
		}
		stepStart = 0
		if newConversation {
			var err error
			sess, ec, err = e.reopenConversation(ctx, sess, ec)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// withinBudget reports whether cycle is still permitted under
// MAX-CYCLES. wf.UnboundedCycles (-1) never bounds; 0 bounds to zero
// cycles executed (spec §8 boundary behavior); N > 0 allows cycles
// start..start+N-1.
func (e *Engine) withinBudget(cycle, start int) bool {
	max := e.workflow.Header.MaxCycles
	if max == wf.UnboundedCycles {
		return true
	}
	return cycle < start+max
}

// runCycle walks the workflow's step list once, returning whether the
// cycle ended on a NEW-CONVERSATION checkpoint. Any other non-nil
// error (pause, consult, loop detection, adapter failure, cancellation)
// is terminal for the whole run.
func (e *Engine) runCycle(ctx context.Context, ec *executor.Context, sess *session.Session, cycle, stepStart int, stop *session.StopWatch) (bool, error) {
	for i, step := range e.workflow.Steps {
		if i < stepStart {
			continue
		}
		sess.StepIndex = i

		select {
		case <-stop.Stopped:
			return false, e.suspendCancelled(sess, errkind.StopFileRequested, "stop file created")
		case <-ctx.Done():
			return false, e.suspendCancelled(sess, errkind.Cancelled, "run cancelled")
		default:
		}

		e.refreshRuntimeVars(ec, sess, cycle, i)

		if step.Elide {
			if err := elideStep(ctx, ec, step); err != nil {
				return false, e.classifyStepError(err, sess, cycle, i)
			}
			continue
		}

		if step.Kind == wf.KindPrompt {
			if err := e.beforeSend(ctx, ec, sess); err != nil {
				return false, err
			}
		}

		st := render.StepTrace{Index: i, Type: string(step.Kind)}
		out, err := executor.Dispatch(ctx, ec, step)
		if err != nil {
			st.Error = err.Error()
			e.doc.RecordStep(cycle, st)
			e.persistTrace(sess)
			return false, e.classifyStepError(err, sess, cycle, i)
		}
		e.doc.RecordStep(cycle, st)
		e.persistTrace(sess)

		switch {
		case out.Pause != nil:
			return false, e.suspend(sess, session.StatusPaused, out.Pause.Message, "", cycle, i)
		case out.Consult != nil:
			return false, e.suspend(sess, session.StatusConsulting, "", out.Consult.Topic, cycle, i)
		case out.NewConversation:
			return true, nil
		}
	}
	return false, nil
}

// refreshRuntimeVars layers the engine's per-step runtime variables
// (CYCLE, STEP_INDEX, TIMESTAMP, ...) under the caller-supplied vars,
// since those change every step while everything else is stable for
// the session (spec §4.2).
func (e *Engine) refreshRuntimeVars(ec *executor.Context, sess *session.Session, cycle, stepIndex int) {
	rt := template.Runtime{
		WorkflowPath: e.workflow.SourcePath,
		WorkflowHash: e.workflow.Hash(),
		SessionID:    sess.ID,
		Cycle:        cycle,
		StepIndex:    stepIndex,
		Timestamp:    e.now().UTC().Format(time.RFC3339),
		StopFile:     session.StopFilePath(sess.SessionDir, sess.ID),
		WorkflowName: workflowName(e.workflow.SourcePath),
	}
	includeName := false
	if step := currentStepText(e.workflow.Steps, stepIndex); step != "" {
		includeName = template.RequestsWorkflowName(step)
	}
	ec.Vars = template.Merge(rt.Defaults(includeName), nil, e.vars, nil)
}

func currentStepText(steps []wf.Step, i int) string {
	if i < 0 || i >= len(steps) {
		return ""
	}
	s := steps[i]
	if s.Kind == wf.KindPrompt && s.Prompt != nil {
		return s.Prompt.Text
	}
	return ""
}

func workflowName(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}

// beforeSend triggers compaction ahead of a Prompt dispatch when
// COMPACTION-MAX has been crossed (blocking) or, in infinite-session
// mode with an adapter that supports it, when COMPACTION-THRESHOLD has
// (background). The engine is single-threaded per session, so both
// cases compact synchronously here rather than truly backgrounding,
// which still satisfies the ordering guarantee that sends quiesce
// behind any pending compaction (spec §5).
func (e *Engine) beforeSend(ctx context.Context, ec *executor.Context, sess *session.Session) error {
	usage := sess.Usage()
	needsCompaction := session.ShouldBlockSend(usage, ec.Thresholds) ||
		session.ShouldBackgroundCompact(usage, ec.Thresholds, e.workflow.Header.InfiniteSessions, e.adapter.Capabilities().Supports(adapter.CapBackgroundCompact))
	if !needsCompaction {
		return nil
	}
	return e.compactNow(ctx, ec, sess)
}

func (e *Engine) compactNow(ctx context.Context, ec *executor.Context, sess *session.Session) error {
	if err := sess.Transition(session.StateCompacting); err != nil {
		return errkind.New(errkind.Internal, "transition to compacting", err).WithSession(sess.ID, sess.Cycle, sess.StepIndex)
	}

	step := wf.Step{Kind: wf.KindCompact, Compact: &wf.CompactStep{Preserve: ec.DefaultPreserve}}
	_, dispatchErr := executor.Dispatch(ctx, ec, step)

	if err := sess.Transition(session.StateRunning); err != nil && dispatchErr == nil {
		dispatchErr = err
	}
	if dispatchErr != nil {
		return errkind.New(errkind.CompactionIneffective, "pre-send compaction", dispatchErr).WithSession(sess.ID, sess.Cycle, sess.StepIndex)
	}
	return nil
}

// reopenConversation tears down the current adapter session and opens
// a fresh one (NEW-CONVERSATION), preserving the cycle counter but
// resetting per-conversation state (token usage, loop detector window).
func (e *Engine) reopenConversation(ctx context.Context, sess *session.Session, ec *executor.Context) (*session.Session, *executor.Context, error) {
	if e.adapter.Capabilities().Supports(adapter.CapDeleteSession) {
		_ = e.adapter.DeleteSession(ctx, sess.ID)
	}

	modelID, err := e.resolveModel(ctx)
	if err != nil {
		return nil, nil, err
	}
	id, err := e.adapter.CreateSession(ctx, adapter.CreateConfig{Model: modelID, Workspace: e.workspace})
	if err != nil {
		return nil, nil, errkind.New(errkind.AdapterUnavailable, "reopen session", err)
	}

	newSess := session.New(id, sess.SessionDir, sess.WorkflowHash, session.NewRateEstimator(0, nil), sess.Loop, session.NewRateLimiter(e.rateLimitPerMinute))
	newSess.Cycle = sess.Cycle
	if err := newSess.Transition(session.StateRunning); err != nil {
		return nil, nil, errkind.New(errkind.Internal, "transition reopened session", err)
	}

	newEC := e.newExecutorContext(e.adapter, id, newSess)
	if err := e.adapter.RegisterEventHandler(id, newEC.EventHandler()); err != nil {
		return nil, nil, errkind.New(errkind.AdapterUnavailable, "register event handler", err)
	}
	return newSess, newEC, nil
}

// persistTrace writes the in-progress trace document to the session
// directory so pkg/monitorhttp (and `status --all`) can read it without
// the run having completed. Best-effort: a write failure is logged, not
// fatal to the run itself.
func (e *Engine) persistTrace(sess *session.Session) {
	if err := render.WriteTrace(sess.SessionDir, e.doc); err != nil {
		logger.GetLogger().Warn().Err(err).Str("session", sess.ID).Msg("persist trace document")
	}
}

func (e *Engine) newExecutorContext(a adapter.Adapter, sessionID string, sess *session.Session) *executor.Context {
	ec := executor.NewContext(e.workspace, e.workflow.Header.Mode, e.workflow.Header.ValidationMode, a, sessionID, sess, e.verify, e.plugin, e.roots)
	ec.Thresholds = session.ResolveThresholds(e.cliCompaction, e.workflow.Header.Compaction)
	ec.DefaultPreserve = e.workflow.Header.CompactPreserve
	return ec
}

func (e *Engine) resolveModel(ctx context.Context) (string, error) {
	if e.workflow.Header.Model != "" {
		return e.workflow.Header.Model, nil
	}
	var req adapter.Requirements
	for _, r := range e.workflow.Header.ModelRequires {
		applyRequirement(&req, r)
	}
	for _, r := range e.workflow.Header.ModelPrefers {
		applyRequirement(&req, r)
	}
	model, err := e.adapter.SelectModel(ctx, req)
	if err != nil {
		return "", errkind.New(errkind.ModelUnsupported, "select model", err)
	}
	return model, nil
}

func applyRequirement(req *adapter.Requirements, r wf.ModelRequirement) {
	switch r.Key {
	case "context":
		if n, err := strconv.ParseInt(r.Value, 10, 64); err == nil {
			req.MinContext = n
		}
	case "tier":
		req.Tier = r.Value
	case "speed":
		req.Speed = r.Value
	case "capability":
		req.Capability = r.Value
	case "vendor":
		req.Vendor = r.Value
	case "family":
		req.Family = r.Value
	}
}
