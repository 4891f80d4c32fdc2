package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand_KnownVariable(t *testing.T) {
	out, err := Expand("cycle ${CYCLE} of run", Vars{"CYCLE": "3"}, Lenient, nil)
	require.NoError(t, err)
	assert.Equal(t, "cycle 3 of run", out)
}

func TestExpand_LenientUnknownLeftIntact(t *testing.T) {
	var warned string
	out, err := Expand("value: ${MISSING}", Vars{}, Lenient, func(name string) { warned = name })
	require.NoError(t, err)
	assert.Equal(t, "value: ${MISSING}", out)
	assert.Equal(t, "MISSING", warned)
}

func TestExpand_StrictUnknownErrors(t *testing.T) {
	_, err := Expand("value: ${MISSING}", Vars{}, Strict, nil)
	require.Error(t, err)
	var target *UnresolvedError
	assert.ErrorAs(t, err, &target)
	assert.Equal(t, "MISSING", target.Name)
}

func TestMerge_Precedence(t *testing.T) {
	defaults := Vars{"A": "default", "B": "default"}
	literal := Vars{"A": "literal"}
	cli := Vars{"A": "cli", "C": "cli"}
	stdin := Vars{"A": "stdin"}

	out := Merge(defaults, literal, cli, stdin)

	assert.Equal(t, "stdin", out["A"])
	assert.Equal(t, "default", out["B"])
	assert.Equal(t, "cli", out["C"])
}

func TestRuntime_Defaults_ExcludesWorkflowNameByDefault(t *testing.T) {
	rt := Runtime{WorkflowPath: "/x/y.wf", Cycle: 2, StepIndex: 5, WorkflowName: "y"}
	v := rt.Defaults(false)

	assert.Equal(t, "/x/y.wf", v["WORKFLOW_PATH"])
	assert.Equal(t, "2", v["CYCLE"])
	assert.Equal(t, "5", v["STEP_INDEX"])
	_, ok := v["__WORKFLOW_NAME__"]
	assert.False(t, ok, "WORKFLOW_NAME must never be injected implicitly")
}

func TestRuntime_Defaults_OptInWorkflowName(t *testing.T) {
	rt := Runtime{WorkflowName: "deploy"}
	v := rt.Defaults(true)
	assert.Equal(t, "deploy", v["__WORKFLOW_NAME__"])
}

func TestRequestsWorkflowName(t *testing.T) {
	assert.True(t, RequestsWorkflowName("hello ${__WORKFLOW_NAME__} world"))
	assert.False(t, RequestsWorkflowName("hello ${WORKFLOW_PATH}"))
}

func TestIsReserved(t *testing.T) {
	assert.True(t, IsReserved("CYCLE"))
	assert.False(t, IsReserved("CUSTOM_VAR"))
}
