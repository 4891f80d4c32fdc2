// Package render implements the Renderer / Pipeline I/O component
// (spec §4.9): a versioned, structured document describing a resolved
// workflow and, once the iteration engine has run it, a post-execution
// trace. The document round-trips through --json/--from-json, mirroring
// internal/config's JSON load/save shape but for the workflow/trace
// document rather than operator configuration.
package render

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sdqctl/sdqctl/pkg/wf"
)

// SchemaVersion is the current document schema version (spec §4.9
// "schema_version: MAJOR.MINOR"). Bumping the minor component is
// forward-compatible; bumping the major component is a breaking change
// consumers must reject.
const SchemaVersion = "1.0"

// currentMajor is SchemaVersion's major component, computed once.
var currentMajor = majorOf(SchemaVersion)

// BranchTaken records which ON-SUCCESS/ON-FAILURE block a RUN step's
// execution entered, if any.
type BranchTaken string

const (
	BranchSuccess BranchTaken = "success"
	BranchFailure BranchTaken = "failure"
	BranchNone    BranchTaken = "none"
)

// StepTrace is one step's rendered (pre-execution) or recorded
// (post-execution) entry.
type StepTrace struct {
	Index       int            `json:"index"`
	Type        string         `json:"type"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	BranchTaken BranchTaken    `json:"branch_taken,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// CycleTrace groups the steps executed (or, pre-execution, to be
// executed) within one cycle of the outer loop.
type CycleTrace struct {
	Cycle int         `json:"cycle"`
	Steps []StepTrace `json:"steps"`
}

// Document is the top-level structure serialized by `render`/`iterate
// --json` and consumed by `--from-json` (spec §4.9).
type Document struct {
	SchemaVersion string       `json:"schema_version"`
	WorkflowHash  string       `json:"workflow_hash"`
	Cycles        []CycleTrace `json:"cycles"`
}

// Render builds the pre-execution form of w: one CycleTrace (cycle 1)
// with every step's static inputs, no outputs. The iteration engine
// extends this document cycle-by-cycle as it actually runs (see
// NewTrace/RecordStep) rather than recomputing it from scratch.
func Render(w *wf.Workflow) *Document {
	steps := make([]StepTrace, len(w.Steps))
	for i, s := range w.Steps {
		steps[i] = StepTrace{Index: i, Type: string(s.Kind), Inputs: stepInputs(s)}
	}
	return &Document{
		SchemaVersion: SchemaVersion,
		WorkflowHash:  w.Hash(),
		Cycles:        []CycleTrace{{Cycle: 1, Steps: steps}},
	}
}

// NewTrace builds an empty post-execution trace document for w, ready
// for the engine to append cycles to via RecordStep.
func NewTrace(w *wf.Workflow) *Document {
	return &Document{SchemaVersion: SchemaVersion, WorkflowHash: w.Hash(), Cycles: []CycleTrace{}}
}

// cycleIndex returns the index of the CycleTrace for cycle, appending a
// new one if this is the first step recorded for it.
func (d *Document) cycleIndex(cycle int) int {
	for i, c := range d.Cycles {
		if c.Cycle == cycle {
			return i
		}
	}
	d.Cycles = append(d.Cycles, CycleTrace{Cycle: cycle})
	return len(d.Cycles) - 1
}

// RecordStep appends (or overwrites, on a VERIFY-retry re-entry) one
// step's post-execution trace entry under cycle.
func (d *Document) RecordStep(cycle int, st StepTrace) {
	idx := d.cycleIndex(cycle)
	c := &d.Cycles[idx]
	for i, existing := range c.Steps {
		if existing.Index == st.Index {
			c.Steps[i] = st
			return
		}
	}
	c.Steps = append(c.Steps, st)
}

// stepInputs projects a Step's configuration into the document's
// generic inputs map, switching on Kind the same way pkg/executor's
// Dispatch does (spec §9 "tagged variant, not an inheritance hierarchy").
func stepInputs(s wf.Step) map[string]any {
	m := map[string]any{}
	if s.Elide {
		m["elide"] = true
	}
	switch s.Kind {
	case wf.KindPrompt:
		m["text"] = s.Prompt.Text
	case wf.KindRun:
		m["command"] = s.Run.Command
		if s.Run.Cwd != "" {
			m["cwd"] = s.Run.Cwd
		}
		m["async"] = s.Run.Async
		m["output_policy"] = string(s.Run.OutputPolicy)
		m["on_error"] = string(s.Run.OnError.Kind)
		if len(s.Run.Success) > 0 {
			m["on_success_steps"] = len(s.Run.Success)
		}
		if len(s.Run.Failure) > 0 {
			m["on_failure_steps"] = len(s.Run.Failure)
		}
	case wf.KindVerify:
		m["verifier"] = s.Verify.Kind
		m["args"] = s.Verify.Args
		m["output_policy"] = string(s.Verify.OutputPolicy)
		m["on_error"] = string(s.Verify.OnError.Kind)
	case wf.KindContextInject:
		patterns := make([]string, len(s.ContextInject.Patterns))
		for i, p := range s.ContextInject.Patterns {
			patterns[i] = p.Pattern
		}
		m["patterns"] = patterns
	case wf.KindCompact:
		m["preserve"] = s.Compact.Preserve
	case wf.KindCheckpoint:
		m["name"] = s.Checkpoint.Name
		m["new_conversation"] = s.Checkpoint.NewConversation
	case wf.KindPause:
		m["message"] = s.Pause.Message
	case wf.KindConsult:
		m["topic"] = s.Consult.Topic
	case wf.KindCustom:
		m["directive"] = s.Custom.Type
		m["name"] = s.Custom.Name
		m["args"] = s.Custom.Args
	}
	return m
}

// Marshal serializes d as indented JSON.
func Marshal(d *Document) ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render: marshal document: %w", err)
	}
	return data, nil
}

// ErrSchemaMismatch is returned by Parse when data's schema_version
// major component does not match the version this binary understands
// (spec §4.9 "a mismatched major version is a hard error").
type ErrSchemaMismatch struct {
	Got, Want string
}

func (e *ErrSchemaMismatch) Error() string {
	return fmt.Sprintf("render: document schema major version %q is incompatible with %q", e.Got, e.Want)
}

// Parse decodes data into a Document, validating it against the
// embedded JSON Schema and checking schema_version's major component.
// Unknown fields are tolerated (spec §4.9 forward-compatibility); a
// missing required field or a major-version mismatch is a hard error.
func Parse(data []byte) (*Document, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}

	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("render: unmarshal document: %w", err)
	}

	if got := majorOf(d.SchemaVersion); got != currentMajor {
		return nil, &ErrSchemaMismatch{Got: d.SchemaVersion, Want: SchemaVersion}
	}
	return &d, nil
}

func majorOf(version string) string {
	parts := strings.SplitN(version, ".", 2)
	if len(parts) == 0 {
		return ""
	}
	if _, err := strconv.Atoi(parts[0]); err != nil {
		return parts[0]
	}
	return parts[0]
}
