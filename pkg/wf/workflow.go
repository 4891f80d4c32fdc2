// Package wf defines the in-memory representation of a parsed workflow:
// header metadata plus an ordered list of steps. Values produced by
// pkg/parser are immutable after parse; the iteration engine and step
// executors only read them.
package wf

import (
	"crypto/sha256"
	"encoding/hex"
)

// Mode controls how much latitude the engine gives RUN/plugin steps.
type Mode string

const (
	ModeFull     Mode = "full"
	ModeReadOnly Mode = "read-only"
	ModeAudit    Mode = "audit"
)

// ValidationMode controls how the parser and context resolver treat
// unknown directives, unresolved references, and unexpanded templates.
type ValidationMode string

const (
	ValidationStrict  ValidationMode = "strict"
	ValidationLenient ValidationMode = "lenient"
)

// CompactionThresholds are percentages of max_tokens, in (0,100].
type CompactionThresholds struct {
	Min        float64
	Background float64
	Max        float64
}

// DefaultCompactionThresholds matches spec §4.4.
func DefaultCompactionThresholds() CompactionThresholds {
	return CompactionThresholds{Min: 30, Background: 80, Max: 95}
}

// ModelRequirement is one entry of a MODEL-REQUIRES/MODEL-PREFERS
// constraint bag, e.g. "context:100000", "tier:premium", "vendor:anthropic".
type ModelRequirement struct {
	Key   string
	Value string
}

// Header holds everything set before the first executable step. It is
// immutable once Parse returns.
type Header struct {
	Model             string
	ModelRequires     []ModelRequirement
	ModelPrefers      []ModelRequirement
	Adapter           string
	Mode              Mode
	// MaxCycles bounds the outer cycle loop: UnboundedCycles (-1) means
	// no bound (the default); 0 is a distinct, explicit "run zero
	// cycles" (spec §8 boundary behavior); any N > 0 bounds the loop to
	// N cycles.
	MaxCycles         int
	SessionName       string
	ValidationMode    ValidationMode
	Compaction        CompactionThresholds
	InfiniteSessions  bool
	CompactPreserve   []string
}

// UnboundedCycles is the MaxCycles sentinel meaning "no MAX-CYCLES
// directive was given" — distinct from an explicit "MAX-CYCLES 0".
const UnboundedCycles = -1

// DefaultHeader returns header values with spec-mandated defaults applied.
func DefaultHeader() Header {
	return Header{
		Mode:            ModeFull,
		MaxCycles:       UnboundedCycles,
		ValidationMode:  ValidationLenient,
		Compaction:      DefaultCompactionThresholds(),
		CompactPreserve: []string{"prompts", "errors", "tool-results"},
	}
}

// Workflow is the parsed unit: header, ordered steps, required context
// patterns, and a content hash computed post-INCLUDE, pre-template-expansion.
type Workflow struct {
	Header          Header
	Steps           []Step
	RequiredContext []Ref
	RequireExists   []string // REQUIRE: paths that must exist before execution
	SourcePath      string

	// expanded is the fully-included, pre-template-expansion source text
	// the content hash is computed over. Kept so re-hashing after a
	// splice (INCLUDE) is reproducible without re-reading files.
	expanded string
}

// NewWorkflow constructs a Workflow from parser output. expandedSource is
// the INCLUDE-resolved text used to compute the content hash.
func NewWorkflow(path string, header Header, steps []Step, required []Ref, requireExists []string, expandedSource string) *Workflow {
	return &Workflow{
		Header:          header,
		Steps:           steps,
		RequiredContext: required,
		RequireExists:   requireExists,
		SourcePath:      path,
		expanded:        expandedSource,
	}
}

// Hash returns the content hash: sha256 of the fully-included workflow
// text, hex-encoded. Stable across runs given identical input; used as
// WORKFLOW_HASH and to detect a changed workflow on checkpoint resume.
func (w *Workflow) Hash() string {
	sum := sha256.Sum256([]byte(w.expanded))
	return hex.EncodeToString(sum[:])
}

// StepCount returns the number of steps, ignoring nested branch-block steps.
func (w *Workflow) StepCount() int {
	return len(w.Steps)
}
