package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_WriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := Metrics{
		WorkflowPath: "/workspace/flow.sdq",
		Turns:        3,
		ToolCalls:    7,
		TokensIn:     1200,
		TokensOut:    800,
		StartedAt:    time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC),
		ModifiedAt:   time.Date(2026, 1, 2, 3, 5, 0, 0, time.UTC),
	}
	require.NoError(t, WriteMetrics(dir, m))

	got, ok, err := ReadMetrics(dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m.WorkflowPath, got.WorkflowPath)
	assert.Equal(t, m.Turns, got.Turns)
	assert.Equal(t, m.ToolCalls, got.ToolCalls)
	assert.Equal(t, m.TokensIn, got.TokensIn)
	assert.Equal(t, m.TokensOut, got.TokensOut)
	assert.True(t, m.StartedAt.Equal(got.StartedAt))
}

func TestMetrics_ReadMissingIsNotError(t *testing.T) {
	dir := t.TempDir()
	got, ok, err := ReadMetrics(dir)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Metrics{}, got)
}

func TestMetrics_RecordTurnAccumulates(t *testing.T) {
	var m Metrics
	at := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	m.RecordTurn(100, 50, 2, at)
	m.RecordTurn(80, 40, 1, at.Add(time.Minute))

	assert.Equal(t, 2, m.Turns)
	assert.Equal(t, 3, m.ToolCalls)
	assert.Equal(t, int64(180), m.TokensIn)
	assert.Equal(t, int64(90), m.TokensOut)
	assert.True(t, m.ModifiedAt.Equal(at.Add(time.Minute)))
}

func TestMetrics_RecordCompactionAppends(t *testing.T) {
	var m Metrics
	at := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	m.RecordCompaction(10000, 4000, 3, at)

	require.Len(t, m.Compactions, 1)
	assert.Equal(t, int64(10000), m.Compactions[0].Before)
	assert.Equal(t, int64(4000), m.Compactions[0].After)
	assert.Equal(t, 3, m.Compactions[0].Preserved)
}
