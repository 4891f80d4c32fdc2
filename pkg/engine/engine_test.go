package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdqctl/sdqctl/internal/errkind"
	"github.com/sdqctl/sdqctl/pkg/adapter"
	"github.com/sdqctl/sdqctl/pkg/refs"
	"github.com/sdqctl/sdqctl/pkg/session"
	"github.com/sdqctl/sdqctl/pkg/verify"
	"github.com/sdqctl/sdqctl/pkg/wf"
)

func newTestEngine(t *testing.T, w *wf.Workflow, a adapter.Adapter) (*Engine, string) {
	t.Helper()
	sessionDir := t.TempDir()
	e := New(w, t.TempDir(), sessionDir, a, verify.NewRegistry(), nil, refs.Roots{})
	return e, sessionDir
}

func workflowWithSteps(steps []wf.Step) *wf.Workflow {
	h := wf.DefaultHeader()
	return wf.NewWorkflow("test.wf", h, steps, nil, nil, "test-source")
}

func promptStep(text string) wf.Step {
	return wf.Step{Kind: wf.KindPrompt, Prompt: &wf.PromptStep{Text: text}}
}

// firstMockSessionDir locates the checkpoint directory for the first
// session MockAdapter ever issues, deterministic since each test uses a
// fresh adapter whose session ids are assigned "mock-session-1", "...-2", ...
func firstMockSessionDir(sessionDir string) string {
	return filepath.Join(sessionDir, "mock-session-1")
}

func TestRunSimpleWorkflowCompletes(t *testing.T) {
	w := workflowWithSteps([]wf.Step{
		promptStep("hello"),
		promptStep("world"),
	})
	w.Header.MaxCycles = 1

	a := adapter.NewMockAdapter()
	e, sessionDir := newTestEngine(t, w, a)

	doc, err := e.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, doc)
	require.Len(t, doc.Cycles, 1)
	assert.Len(t, doc.Cycles[0].Steps, 2)

	// A completed run deletes its checkpoint rather than leaving one
	// behind for a future resume.
	_, ok, err := session.ReadCheckpoint(firstMockSessionDir(sessionDir))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMaxCyclesZeroRunsNoCycles(t *testing.T) {
	w := workflowWithSteps([]wf.Step{promptStep("never sent")})
	w.Header.MaxCycles = 0

	a := adapter.NewMockAdapter()
	e, _ := newTestEngine(t, w, a)

	doc, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, doc.Cycles, 0)
}

func TestElideMergesIntoSingleSend(t *testing.T) {
	// PROMPT .../ELIDE, RUN .../ELIDE, PROMPT Summarize. — exactly one
	// adapter.Send call should fire, carrying all three bodies merged
	// together into the trailing real Prompt's turn.
	steps := []wf.Step{
		{Kind: wf.KindPrompt, Elide: true, Prompt: &wf.PromptStep{Text: "first turn body"}},
		{Kind: wf.KindRun, Elide: true, Run: &wf.RunStep{Command: "echo elided-output", OutputPolicy: wf.OutputNever, OnError: wf.DefaultOnError()}},
		promptStep("Summarize."),
	}
	w := workflowWithSteps(steps)
	w.Header.MaxCycles = 1

	a := adapter.NewMockAdapter()
	e, _ := newTestEngine(t, w, a)

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	sessions, err := a.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	usage, err := a.GetContextUsage(context.Background(), sessions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, a.TokensPerTurn, usage.Used, "exactly one Send call should have billed tokens")
}

func TestPauseStepProducesCheckpointAndPausedError(t *testing.T) {
	steps := []wf.Step{
		promptStep("before pause"),
		{Kind: wf.KindPause, Pause: &wf.PauseStep{Message: "waiting for a human"}},
		promptStep("never reached"),
	}
	w := workflowWithSteps(steps)
	w.Header.MaxCycles = 1

	a := adapter.NewMockAdapter()
	e, sessionDir := newTestEngine(t, w, a)

	_, err := e.Run(context.Background())
	require.Error(t, err)

	kerr, ok := errkind.As(err)
	require.True(t, ok)
	assert.Equal(t, errkind.Paused, kerr.Kind)

	cp, ok, readErr := session.ReadCheckpoint(firstMockSessionDir(sessionDir))
	require.NoError(t, readErr)
	require.True(t, ok)
	assert.Equal(t, "waiting for a human", cp.Message)
	assert.Equal(t, session.StatusPaused, cp.Status)
}

func TestNewConversationReopensSession(t *testing.T) {
	steps := []wf.Step{
		promptStep("cycle one"),
		{Kind: wf.KindCheckpoint, Checkpoint: &wf.CheckpointStep{NewConversation: true}},
	}
	w := workflowWithSteps(steps)
	w.Header.MaxCycles = 1

	a := adapter.NewMockAdapter()
	e, _ := newTestEngine(t, w, a)

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	sessions, err := a.ListSessions(context.Background())
	require.NoError(t, err)
	// The original session was torn down and a fresh one opened; only
	// the replacement remains registered with the adapter.
	assert.Len(t, sessions, 1)
	assert.Equal(t, "mock-session-2", sessions[0].ID)
}

func TestConsultSuspendsWithTopicCheckpoint(t *testing.T) {
	steps := []wf.Step{
		{Kind: wf.KindConsult, Consult: &wf.ConsultStep{Topic: "should we proceed?"}},
	}
	w := workflowWithSteps(steps)
	w.Header.MaxCycles = 1

	a := adapter.NewMockAdapter()
	e, sessionDir := newTestEngine(t, w, a)

	_, err := e.Run(context.Background())
	require.Error(t, err)
	kerr, ok := errkind.As(err)
	require.True(t, ok)
	assert.Equal(t, errkind.Paused, kerr.Kind)

	cp, ok, readErr := session.ReadCheckpoint(firstMockSessionDir(sessionDir))
	require.NoError(t, readErr)
	require.True(t, ok)
	assert.Equal(t, session.StatusConsulting, cp.Status)
	assert.Equal(t, "should we proceed?", cp.ConsultationTopic)
}

func TestResumeFromConsultInjectsPrelude(t *testing.T) {
	steps := []wf.Step{
		{Kind: wf.KindConsult, Consult: &wf.ConsultStep{Topic: "should we proceed?"}},
	}
	w := workflowWithSteps(steps)
	w.Header.MaxCycles = 1

	a := adapter.NewMockAdapter()
	e, sessionDir := newTestEngine(t, w, a)

	_, err := e.Run(context.Background())
	require.Error(t, err)

	resumeDir := firstMockSessionDir(sessionDir)

	// The checkpoint's StepIndex (0, the lone CONSULT step) means resume
	// continues just past it; give the resume workflow a throwaway step
	// at index 0 so the real continuation prompt lands at index 1.
	w2 := workflowWithSteps([]wf.Step{
		promptStep("dummy, should be skipped on resume"),
		promptStep("continuing"),
	})
	w2.Header.MaxCycles = 1
	e2 := New(w2, e.workspace, sessionDir, a, verify.NewRegistry(), nil, refs.Roots{})

	_, err = e2.Resume(context.Background(), resumeDir)
	require.NoError(t, err)

	usage, err := a.GetContextUsage(context.Background(), "mock-session-1")
	require.NoError(t, err)
	// One Send for the injected resume prelude folded into the
	// continuation's first real prompt.
	assert.Equal(t, a.TokensPerTurn, usage.Used)
}
