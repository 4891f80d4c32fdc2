package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdqctl/sdqctl/pkg/adapter"
	"github.com/sdqctl/sdqctl/pkg/refs"
	"github.com/sdqctl/sdqctl/pkg/session"
	"github.com/sdqctl/sdqctl/pkg/template"
	"github.com/sdqctl/sdqctl/pkg/verify"
	"github.com/sdqctl/sdqctl/pkg/wf"
)

func newTestContext(t *testing.T, workspace string) (*Context, *adapter.MockAdapter) {
	t.Helper()
	a := adapter.NewMockAdapter()
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	sessionID, err := a.CreateSession(ctx, adapter.CreateConfig{Model: "mock-standard", Workspace: workspace})
	require.NoError(t, err)

	sess := session.New(sessionID, t.TempDir(), "hash", session.NewRateEstimator(0, nil), nil, nil)
	require.NoError(t, sess.Transition(session.StateRunning))

	ec := NewContext(workspace, wf.ModeFull, wf.ValidationLenient, a, sessionID, sess, verify.NewRegistry(), nil, refs.Roots{"": workspace})
	ec.Vars = template.Vars{}

	require.NoError(t, a.RegisterEventHandler(sessionID, ec.EventHandler()))

	return ec, a
}

func TestDispatchPrompt(t *testing.T) {
	dir := t.TempDir()
	ec, a := newTestContext(t, dir)

	step := wf.Step{Kind: wf.KindPrompt, Prompt: &wf.PromptStep{Text: "hello ${name}"}}
	ec.Vars["name"] = "world"

	out, err := Dispatch(context.Background(), ec, step)
	require.NoError(t, err)
	assert.Equal(t, Outcome{}, out)
	assert.Equal(t, int64(250), ec.Session.Usage().Used)

	sessions, err := a.ListSessions(context.Background())
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestDispatchRunSuccess(t *testing.T) {
	dir := t.TempDir()
	ec, _ := newTestContext(t, dir)

	step := wf.Step{Kind: wf.KindRun, Run: &wf.RunStep{
		Command:      "echo hello",
		OutputPolicy: wf.OutputAlways,
		OnError:      wf.DefaultOnError(),
	}}

	_, err := Dispatch(context.Background(), ec, step)
	require.NoError(t, err)

	pending := ec.drainPending()
	assert.Contains(t, pending, "exit code: 0")
	assert.Contains(t, pending, "hello")
}

func TestDispatchRunStopsOnFailure(t *testing.T) {
	dir := t.TempDir()
	ec, _ := newTestContext(t, dir)

	step := wf.Step{Kind: wf.KindRun, Run: &wf.RunStep{
		Command: "false",
		OnError: wf.DefaultOnError(),
	}}

	_, err := Dispatch(context.Background(), ec, step)
	assert.Error(t, err)
}

func TestDispatchRunContinueOnFailure(t *testing.T) {
	dir := t.TempDir()
	ec, _ := newTestContext(t, dir)

	step := wf.Step{Kind: wf.KindRun, Run: &wf.RunStep{
		Command: "false",
		OnError: wf.OnError{Kind: wf.OnErrorContinue},
	}}

	_, err := Dispatch(context.Background(), ec, step)
	require.NoError(t, err)
}

func TestDispatchRunBranchBlocks(t *testing.T) {
	dir := t.TempDir()
	ec, _ := newTestContext(t, dir)

	step := wf.Step{Kind: wf.KindRun, Run: &wf.RunStep{
		Command: "true",
		OnError: wf.DefaultOnError(),
		Success: []wf.Step{
			{Kind: wf.KindPrompt, Prompt: &wf.PromptStep{Text: "on success"}},
		},
	}}

	before := ec.Session.Usage().Used
	_, err := Dispatch(context.Background(), ec, step)
	require.NoError(t, err)
	assert.Greater(t, ec.Session.Usage().Used, before)
}

func TestDispatchRunNoShellByDefault(t *testing.T) {
	dir := t.TempDir()
	ec, _ := newTestContext(t, dir)

	step := wf.Step{Kind: wf.KindRun, Run: &wf.RunStep{
		Command: "echo $HOME",
		OnError: wf.DefaultOnError(),
	}}

	_, err := Dispatch(context.Background(), ec, step)
	require.NoError(t, err)
}

func TestAsyncRunAndWait(t *testing.T) {
	dir := t.TempDir()
	ec, _ := newTestContext(t, dir)

	asyncStep := wf.Step{Kind: wf.KindRun, Run: &wf.RunStep{
		Command: "echo async-done",
		Async:   true,
		OnError: wf.DefaultOnError(),
	}}
	_, err := Dispatch(context.Background(), ec, asyncStep)
	require.NoError(t, err)

	waitStep := wf.Step{Kind: wf.KindCustom, Custom: &wf.CustomStep{
		Type: "run-wait",
		Args: []string{"echo async-done"},
	}}
	_, err = Dispatch(context.Background(), ec, waitStep)
	require.NoError(t, err)

	pending := ec.drainPending()
	assert.Contains(t, pending, "async-done")
}

func TestDispatchVerifyBuiltin(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.md"), []byte("ASSERT-CONTAINS: ok\nok\n"), 0644))
	ec, _ := newTestContext(t, dir)

	step := wf.Step{Kind: wf.KindVerify, Verify: &wf.VerifyStep{
		Kind:         "assertions",
		OnError:      wf.DefaultOnError(),
		OutputPolicy: wf.OutputAlways,
	}}

	_, err := Dispatch(context.Background(), ec, step)
	require.NoError(t, err)
}

func TestDispatchContextInject(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("important notes"), 0644))
	ec, _ := newTestContext(t, dir)

	step := wf.Step{Kind: wf.KindContextInject, ContextInject: &wf.ContextInjectStep{
		Patterns: []wf.Ref{{Pattern: "notes.txt"}},
	}}

	_, err := Dispatch(context.Background(), ec, step)
	require.NoError(t, err)

	pending := ec.drainPending()
	assert.Contains(t, pending, "important notes")
}

func TestDispatchPauseAndConsult(t *testing.T) {
	dir := t.TempDir()
	ec, _ := newTestContext(t, dir)

	out, err := Dispatch(context.Background(), ec, wf.Step{Kind: wf.KindPause, Pause: &wf.PauseStep{Message: "hold on"}})
	require.NoError(t, err)
	require.NotNil(t, out.Pause)
	assert.Equal(t, "hold on", out.Pause.Message)

	out, err = Dispatch(context.Background(), ec, wf.Step{Kind: wf.KindConsult, Consult: &wf.ConsultStep{Topic: "pick a or b"}})
	require.NoError(t, err)
	require.NotNil(t, out.Consult)
	assert.Equal(t, "pick a or b", out.Consult.Topic)
}

func TestDispatchCheckpoint(t *testing.T) {
	dir := t.TempDir()
	ec, _ := newTestContext(t, dir)

	out, err := Dispatch(context.Background(), ec, wf.Step{Kind: wf.KindCheckpoint, Checkpoint: &wf.CheckpointStep{Name: "progress"}})
	require.NoError(t, err)
	assert.False(t, out.NewConversation)

	cp, ok, err := session.ReadCheckpoint(ec.Session.SessionDir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "progress", cp.Message)
}

func TestDispatchNewConversationCheckpoint(t *testing.T) {
	dir := t.TempDir()
	ec, _ := newTestContext(t, dir)

	out, err := Dispatch(context.Background(), ec, wf.Step{Kind: wf.KindCheckpoint, Checkpoint: &wf.CheckpointStep{NewConversation: true}})
	require.NoError(t, err)
	assert.True(t, out.NewConversation)
}

func TestDispatchCompactSkipsBelowMin(t *testing.T) {
	dir := t.TempDir()
	ec, _ := newTestContext(t, dir)
	ec.Thresholds = wf.DefaultCompactionThresholds()

	out, err := Dispatch(context.Background(), ec, wf.Step{Kind: wf.KindCompact, Compact: &wf.CompactStep{}})
	require.NoError(t, err)
	assert.Equal(t, Outcome{}, out)
}

func TestDispatchCompactProceeds(t *testing.T) {
	dir := t.TempDir()
	ec, a := newTestContext(t, dir)
	ec.Thresholds = wf.CompactionThresholds{Min: 0, Background: 80, Max: 95}
	ec.DefaultPreserve = []string{"prompts"}

	// Drive usage up so the mock reports a non-trivial token count.
	for i := 0; i < 3; i++ {
		_, err := Dispatch(context.Background(), ec, wf.Step{Kind: wf.KindPrompt, Prompt: &wf.PromptStep{Text: "hi"}})
		require.NoError(t, err)
	}
	before := ec.Session.Usage().Used

	_, err := Dispatch(context.Background(), ec, wf.Step{Kind: wf.KindCompact, Compact: &wf.CompactStep{}})
	require.NoError(t, err)
	assert.Less(t, ec.Session.Usage().Used, before)
	_ = a
}

type fakePlugin struct {
	output string
	passed bool
}

func (f *fakePlugin) Dispatch(ctx context.Context, step wf.CustomStep, workspace string) (PluginResult, error) {
	return PluginResult{Output: f.output, Passed: f.passed}, nil
}

func TestDispatchCustomPlugin(t *testing.T) {
	dir := t.TempDir()
	ec, _ := newTestContext(t, dir)
	ec.Plugin = &fakePlugin{output: "plugin ran", passed: true}

	step := wf.Step{Kind: wf.KindCustom, Custom: &wf.CustomStep{Type: "directive", Name: "my-plugin"}}
	_, err := Dispatch(context.Background(), ec, step)
	require.NoError(t, err)

	assert.Contains(t, ec.drainPending(), "plugin ran")
}

func TestDispatchCustomPluginFailure(t *testing.T) {
	dir := t.TempDir()
	ec, _ := newTestContext(t, dir)
	ec.Plugin = &fakePlugin{output: "broke", passed: false}

	step := wf.Step{Kind: wf.KindCustom, Custom: &wf.CustomStep{Type: "directive", Name: "my-plugin"}}
	_, err := Dispatch(context.Background(), ec, step)
	assert.Error(t, err)
}

type unknownDirectivePlugin struct{}

func (unknownDirectivePlugin) Dispatch(ctx context.Context, step wf.CustomStep, workspace string) (PluginResult, error) {
	return PluginResult{}, fmt.Errorf("plugin: no handler registered for directive %q: %w", step.Type, ErrUnknownDirective)
}

func TestDispatchCustomUnresolvedLenientWarnsAndSkips(t *testing.T) {
	dir := t.TempDir()
	ec, _ := newTestContext(t, dir)
	ec.ValidationMode = wf.ValidationLenient
	ec.Plugin = unknownDirectivePlugin{}

	step := wf.Step{Kind: wf.KindCustom, Custom: &wf.CustomStep{Type: "nope", Name: "nope"}}
	_, err := Dispatch(context.Background(), ec, step)
	require.NoError(t, err)
	assert.Contains(t, ec.drainPending(), "skipped")
}

func TestDispatchCustomUnresolvedStrictFails(t *testing.T) {
	dir := t.TempDir()
	ec, _ := newTestContext(t, dir)
	ec.ValidationMode = wf.ValidationStrict
	ec.Plugin = unknownDirectivePlugin{}

	step := wf.Step{Kind: wf.KindCustom, Custom: &wf.CustomStep{Type: "nope", Name: "nope"}}
	_, err := Dispatch(context.Background(), ec, step)
	assert.Error(t, err)
}

func TestDispatchCustomNoDispatcherLenientWarns(t *testing.T) {
	dir := t.TempDir()
	ec, _ := newTestContext(t, dir)
	ec.ValidationMode = wf.ValidationLenient
	ec.Plugin = nil

	step := wf.Step{Kind: wf.KindCustom, Custom: &wf.CustomStep{Type: "nope", Name: "nope"}}
	_, err := Dispatch(context.Background(), ec, step)
	require.NoError(t, err)
	assert.Contains(t, ec.drainPending(), "skipped")
}
