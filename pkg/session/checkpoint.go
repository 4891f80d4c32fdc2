package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Status is the checkpoint's recorded session status (spec §4.4).
type Status string

const (
	StatusRunning    Status = "running"
	StatusPaused     Status = "paused"
	StatusConsulting Status = "consulting"
	StatusError      Status = "error"
)

// Checkpoint is the single pause.json record held per session directory.
type Checkpoint struct {
	SessionID          string    `json:"session_id"`
	WorkflowHash        string    `json:"workflow_hash"`
	Cycle               int       `json:"cycle"`
	StepIndex           int       `json:"step_index"`
	Status              Status    `json:"status"`
	Message             string    `json:"message,omitempty"`
	ConsultationTopic   string    `json:"consultation_topic,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// checkpointFileName is fixed per spec §4.4: "at most one pause.json".
const checkpointFileName = "pause.json"

// CheckpointPath returns the checkpoint file path for a session directory.
func CheckpointPath(sessionDir string) string {
	return filepath.Join(sessionDir, checkpointFileName)
}

// WriteCheckpoint persists cp atomically: write to a temp file in the
// same directory, then rename over the canonical path, so a crash mid
// write never leaves a torn checkpoint (spec §4.4, "Writes are atomic").
func WriteCheckpoint(sessionDir string, cp Checkpoint) error {
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return fmt.Errorf("session: create session dir: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal checkpoint: %w", err)
	}

	final := CheckpointPath(sessionDir)
	tmp, err := os.CreateTemp(sessionDir, ".pause-*.json.tmp")
	if err != nil {
		return fmt.Errorf("session: create temp checkpoint: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("session: write temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("session: close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("session: rename checkpoint: %w", err)
	}
	return nil
}

// ReadCheckpoint loads the session directory's checkpoint record, if any.
// A missing file is not an error: ok is false.
func ReadCheckpoint(sessionDir string) (cp Checkpoint, ok bool, err error) {
	data, err := os.ReadFile(CheckpointPath(sessionDir))
	if os.IsNotExist(err) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("session: read checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("session: unmarshal checkpoint: %w", err)
	}
	return cp, true, nil
}

// DeleteCheckpoint removes the checkpoint record, used once a run
// completes.
func DeleteCheckpoint(sessionDir string) error {
	err := os.Remove(CheckpointPath(sessionDir))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: delete checkpoint: %w", err)
	}
	return nil
}

// ErrConsultExpired is returned on resume when CONSULT-TIMEOUT was set
// and the checkpoint has aged past it (spec §4.4).
type ErrConsultExpired struct {
	Topic string
	Age   time.Duration
}

func (e *ErrConsultExpired) Error() string {
	return fmt.Sprintf("consultation on %q expired after %s", e.Topic, e.Age)
}

// CheckConsultExpiry enforces CONSULT-TIMEOUT on resume. timeout of 0
// means no timeout was set.
func CheckConsultExpiry(cp Checkpoint, timeout time.Duration, now time.Time) error {
	if cp.Status != StatusConsulting || timeout <= 0 {
		return nil
	}
	age := now.Sub(cp.Timestamp)
	if age > timeout {
		return &ErrConsultExpired{Topic: cp.ConsultationTopic, Age: age}
	}
	return nil
}

// ResumePrelude builds the synthetic prompt injected before the next
// authored prompt on a CONSULT resume (spec §4.4).
func ResumePrelude(topic string) string {
	return fmt.Sprintf("Consultation resumed on topic: %s. Open questions follow...", topic)
}
