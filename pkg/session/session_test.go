package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdqctl/sdqctl/pkg/wf"
)

func TestSession_StateTransitions(t *testing.T) {
	s := New("s1", t.TempDir(), "hash", NewRateEstimator(time.Minute, nil), nil, nil)
	assert.Equal(t, StateInitialized, s.State())

	require.NoError(t, s.Transition(StateRunning))
	require.NoError(t, s.Transition(StateCompacting))
	require.NoError(t, s.Transition(StateRunning))
	require.NoError(t, s.Transition(StatePaused))
	require.NoError(t, s.Transition(StateRunning))
	require.NoError(t, s.Transition(StateCompleted))

	err := s.Transition(StateRunning)
	assert.Error(t, err)
}

func TestSession_SyncUsageFeedsRateEstimator(t *testing.T) {
	var now time.Time
	clock := func() time.Time { return now }
	s := New("s1", t.TempDir(), "hash", NewRateEstimator(time.Minute, clock), nil, nil)

	now = time.Unix(0, 0)
	s.SyncUsage(Usage{Used: 100, Max: 1000})
	now = now.Add(30 * time.Second)
	s.SyncUsage(Usage{Used: 160, Max: 1000})
	now = now.Add(30 * time.Second)
	s.SyncUsage(Usage{Used: 220, Max: 1000})

	// Two 60-token samples spanning 60s of observed history: 120/min.
	assert.InDelta(t, 120, s.Rate.TokensPerMinute(), 1)
}

func TestCheckpoint_WriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cp := Checkpoint{
		SessionID:    "s1",
		WorkflowHash: "abc123",
		Cycle:        2,
		StepIndex:    5,
		Status:       StatusPaused,
		Timestamp:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, WriteCheckpoint(dir, cp))

	got, ok, err := ReadCheckpoint(dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cp.SessionID, got.SessionID)
	assert.Equal(t, cp.StepIndex, got.StepIndex)

	// Exactly one checkpoint file should exist: the atomic temp file is
	// cleaned up by the rename.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, checkpointFileName, entries[0].Name())
}

func TestCheckpoint_MissingIsNotAnError(t *testing.T) {
	_, ok, err := ReadCheckpoint(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckConsultExpiry(t *testing.T) {
	cp := Checkpoint{Status: StatusConsulting, ConsultationTopic: "pick one", Timestamp: time.Now().Add(-10 * time.Minute)}
	err := CheckConsultExpiry(cp, 5*time.Minute, time.Now())
	require.Error(t, err)
	var expired *ErrConsultExpired
	assert.ErrorAs(t, err, &expired)
}

func TestCheckConsultExpiry_NoTimeoutNeverExpires(t *testing.T) {
	cp := Checkpoint{Status: StatusConsulting, Timestamp: time.Now().Add(-time.Hour)}
	require.NoError(t, CheckConsultExpiry(cp, 0, time.Now()))
}

func TestEvaluateCompaction_SkipBelowMin(t *testing.T) {
	th := wf.DefaultCompactionThresholds()
	decision := Evaluate(Usage{Used: 10, Max: 100}, th)
	assert.Equal(t, DecisionSkip, decision)
}

func TestEvaluateCompaction_ProceedAboveMin(t *testing.T) {
	th := wf.DefaultCompactionThresholds()
	decision := Evaluate(Usage{Used: 50, Max: 100}, th)
	assert.Equal(t, DecisionProceed, decision)
}

func TestShouldBlockSend_AtMax(t *testing.T) {
	th := wf.DefaultCompactionThresholds()
	assert.True(t, ShouldBlockSend(Usage{Used: 96, Max: 100}, th))
	assert.False(t, ShouldBlockSend(Usage{Used: 50, Max: 100}, th))
}

func TestCompactionTracker_WarnsOnSustainedIneffectiveness(t *testing.T) {
	var tr CompactionTracker
	for i := 0; i < 3; i++ {
		tr.Record(CompactionEvent{Result: CompactionResult{TokensBefore: 100, TokensAfter: 100}})
	}
	warn, msg := tr.Warn()
	assert.True(t, warn)
	assert.NotEmpty(t, msg)
}

func TestCompactionTracker_NoWarnUnderThreeEvents(t *testing.T) {
	var tr CompactionTracker
	tr.Record(CompactionEvent{Result: CompactionResult{TokensBefore: 100, TokensAfter: 100}})
	warn, _ := tr.Warn()
	assert.False(t, warn)
}

func TestLoopDetector_TripsOnConsecutiveEmptyTurns(t *testing.T) {
	d, err := NewLoopDetector(DefaultLoopDetectorConfig(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, d.Observe(ctx, Turn{Response: "ok", ToolCallCount: 0}))
	require.NoError(t, d.Observe(ctx, Turn{Response: "ok", ToolCallCount: 0}))
	err = d.Observe(ctx, Turn{Response: "ok", ToolCallCount: 0})
	require.Error(t, err)
	var loopErr *ErrLoopDetected
	assert.ErrorAs(t, err, &loopErr)
}

func TestLoopDetector_ResetsOnProductiveTurn(t *testing.T) {
	d, err := NewLoopDetector(DefaultLoopDetectorConfig(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, d.Observe(ctx, Turn{Response: "ok", ToolCallCount: 0}))
	require.NoError(t, d.Observe(ctx, Turn{Response: "did something useful", ToolCallCount: 2}))
	require.NoError(t, d.Observe(ctx, Turn{Response: "ok", ToolCallCount: 0}))
	require.NoError(t, d.Observe(ctx, Turn{Response: "ok", ToolCallCount: 0}))
}
