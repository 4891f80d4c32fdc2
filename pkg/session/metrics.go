package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// metricsFileName is the per-session counters file (spec §6 persisted
// state layout).
const metricsFileName = "metrics.json"

// MetricsCompaction is one entry of Metrics.Compactions.
type MetricsCompaction struct {
	Before    int64     `json:"before"`
	After     int64     `json:"after"`
	Preserved int       `json:"preserved"`
	Timestamp time.Time `json:"timestamp"`
}

// Metrics is the metrics.json record (spec §6): turn/tool counters,
// token totals, and the compaction history, refreshed as the engine
// runs a session. WorkflowPath is additional to the spec's named
// fields: `sessions resume <id>` (spec §6) takes only a session id, no
// workflow file argument, so the engine records the originating path
// each time it writes this record, so a later resume can re-parse the
// same file without the caller repeating it.
type Metrics struct {
	WorkflowPath string              `json:"workflow_path,omitempty"`
	Turns        int                 `json:"turns"`
	ToolCalls    int                 `json:"tool_calls"`
	TokensIn     int64               `json:"tokens_in"`
	TokensOut    int64               `json:"tokens_out"`
	Compactions  []MetricsCompaction `json:"compactions,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	ModifiedAt   time.Time           `json:"modified_at"`
}

// RecordTurn accounts one assistant turn's token/tool-call deltas.
func (m *Metrics) RecordTurn(tokensIn, tokensOut int64, toolCalls int, at time.Time) {
	m.Turns++
	m.ToolCalls += toolCalls
	m.TokensIn += tokensIn
	m.TokensOut += tokensOut
	m.ModifiedAt = at
}

// RecordCompaction appends one compaction event.
func (m *Metrics) RecordCompaction(before, after int64, preserved int, at time.Time) {
	m.Compactions = append(m.Compactions, MetricsCompaction{Before: before, After: after, Preserved: preserved, Timestamp: at})
	m.ModifiedAt = at
}

// MetricsPath returns the metrics file path for a session directory.
func MetricsPath(sessionDir string) string {
	return filepath.Join(sessionDir, metricsFileName)
}

// WriteMetrics persists m under sessionDir via the same temp-file-then-
// rename pattern as WriteCheckpoint, so a concurrent reader (`sessions
// show`) never observes a half-written file.
func WriteMetrics(sessionDir string, m Metrics) error {
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return fmt.Errorf("session: create session dir: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal metrics: %w", err)
	}

	final := MetricsPath(sessionDir)
	tmp, err := os.CreateTemp(sessionDir, ".metrics-*.json.tmp")
	if err != nil {
		return fmt.Errorf("session: create temp metrics: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("session: write temp metrics: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("session: close temp metrics: %w", err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("session: rename metrics: %w", err)
	}
	return nil
}

// ReadMetrics loads a session directory's metrics record, if any. A
// missing file is not an error: ok is false.
func ReadMetrics(sessionDir string) (Metrics, bool, error) {
	data, err := os.ReadFile(MetricsPath(sessionDir))
	if os.IsNotExist(err) {
		return Metrics{}, false, nil
	}
	if err != nil {
		return Metrics{}, false, fmt.Errorf("session: read metrics: %w", err)
	}
	var m Metrics
	if err := json.Unmarshal(data, &m); err != nil {
		return Metrics{}, false, fmt.Errorf("session: unmarshal metrics: %w", err)
	}
	return m, true, nil
}
