package render

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// traceFileName is the on-disk trace document written alongside a
// session's pause.json, mirroring pkg/session's one-file-per-concern
// layout (checkpoint.go's checkpointFileName).
const traceFileName = "trace.json"

// TracePath returns the trace document path for a session directory.
func TracePath(sessionDir string) string {
	return filepath.Join(sessionDir, traceFileName)
}

// WriteTrace persists d under sessionDir via a temp-file-then-rename, the
// same atomic-write pattern session.WriteCheckpoint uses, so a reader
// (pkg/monitorhttp, `status --all`) never observes a half-written file.
func WriteTrace(sessionDir string, d *Document) error {
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return fmt.Errorf("render: create session dir: %w", err)
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("render: marshal trace: %w", err)
	}

	final := TracePath(sessionDir)
	tmp, err := os.CreateTemp(sessionDir, ".trace-*.json.tmp")
	if err != nil {
		return fmt.Errorf("render: create temp trace: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("render: write temp trace: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("render: close temp trace: %w", err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("render: rename trace: %w", err)
	}
	return nil
}

// ReadTrace loads a session directory's trace document, if any. A
// missing file is not an error: ok is false.
func ReadTrace(sessionDir string) (d *Document, ok bool, err error) {
	data, err := os.ReadFile(TracePath(sessionDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("render: read trace: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}
