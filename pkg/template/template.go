// Package template expands the closed set of template variables into
// directive arguments and prompt bodies, exactly once, before execution
// (spec §4.2). It deliberately offers no loops, arithmetic, or
// user-defined variables: Vars is a flat string map, expansion syntax is
// `${NAME}`, following the same os.Expand convention the teacher's own
// config loader uses for its env-var substitution.
package template

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Vars is a closed, flat variable environment. Values are strings; there
// is no nesting, no arithmetic, and no conditional expansion.
type Vars map[string]string

// Merge layers JSON-stdin vars over CLI vars over workflow-literal vars
// over defaults, returning a new Vars with the spec's precedence applied
// (highest wins): stdin > cli > literal > defaults.
func Merge(defaults, literal, cli, stdin Vars) Vars {
	out := Vars{}
	for _, layer := range []Vars{defaults, literal, cli, stdin} {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// UnresolvedError is returned in strict mode when a reference names a
// variable not present in Vars.
type UnresolvedError struct {
	Name string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved template variable: %s", e.Name)
}

// Mode controls how an unknown reference is handled.
type Mode int

const (
	Lenient Mode = iota
	Strict
)

// Expand substitutes every `${NAME}` reference in s using vars. In
// Lenient mode an unknown name is left intact in the output and
// reported via warn (may be nil). In Strict mode the first unknown name
// aborts expansion and returns an *UnresolvedError.
//
// WORKFLOW_NAME is deliberately never part of the default variable set
// (spec §9, "Filename semantics quirk"): callers that want the workflow's
// base name available to prompts must supply it explicitly under the
// opt-in key __WORKFLOW_NAME__.
func Expand(s string, vars Vars, mode Mode, warn func(name string)) (string, error) {
	var firstErr error
	out := os.Expand(s, func(name string) string {
		if firstErr != nil {
			return ""
		}
		val, ok := vars[name]
		if ok {
			return val
		}
		if mode == Strict {
			firstErr = &UnresolvedError{Name: name}
			return ""
		}
		if warn != nil {
			warn(name)
		}
		return "${" + name + "}"
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// reservedNames are the fixed, always-available template variables
// (spec §4.2), distinct from author- or CLI-supplied entries.
var reservedNames = []string{
	"WORKFLOW_PATH", "WORKFLOW_HASH", "SESSION_ID", "CYCLE", "STEP_INDEX",
	"TIMESTAMP", "STOP_FILE",
}

// IsReserved reports whether name is one of the fixed template variables
// the engine populates on every expansion pass.
func IsReserved(name string) bool {
	for _, n := range reservedNames {
		if n == name {
			return true
		}
	}
	return false
}

// Runtime builds the Vars contributed by the engine itself for a given
// cycle/step, to be layered under author/CLI/stdin vars via Merge.
type Runtime struct {
	WorkflowPath string
	WorkflowHash string
	SessionID    string
	Cycle        int
	StepIndex    int
	Timestamp    string // RFC3339, supplied by the caller (no wall-clock read here)
	StopFile     string
	WorkflowName string // only consulted if __WORKFLOW_NAME__ was requested
}

// Defaults renders the reserved variable set for one expansion pass.
func (r Runtime) Defaults(includeWorkflowName bool) Vars {
	v := Vars{
		"WORKFLOW_PATH": r.WorkflowPath,
		"WORKFLOW_HASH": r.WorkflowHash,
		"SESSION_ID":    r.SessionID,
		"CYCLE":         strconv.Itoa(r.Cycle),
		"STEP_INDEX":    strconv.Itoa(r.StepIndex),
		"TIMESTAMP":     r.Timestamp,
		"STOP_FILE":     r.StopFile,
	}
	if includeWorkflowName {
		v["__WORKFLOW_NAME__"] = r.WorkflowName
	}
	return v
}

// RequestsWorkflowName reports whether s references the opt-in
// filename variable, so callers can decide whether to populate it.
func RequestsWorkflowName(s string) bool {
	return strings.Contains(s, "${__WORKFLOW_NAME__}")
}
