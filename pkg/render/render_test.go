package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdqctl/sdqctl/pkg/parser"
)

func TestRenderRoundTrip(t *testing.T) {
	src := "ADAPTER mock\nPROMPT Say hello.\n"
	w, _, err := parser.Parse("wf.txt", src, parser.Options{})
	require.NoError(t, err)

	doc := Render(w)
	data, err := Marshal(doc)
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, doc.WorkflowHash, parsed.WorkflowHash)
	assert.Equal(t, SchemaVersion, parsed.SchemaVersion)
	require.Len(t, parsed.Cycles, 1)
	require.Len(t, parsed.Cycles[0].Steps, 1)
	assert.Equal(t, "prompt", parsed.Cycles[0].Steps[0].Type)
	assert.Equal(t, "Say hello.", parsed.Cycles[0].Steps[0].Inputs["text"])
}

func TestParseRejectsMajorVersionMismatch(t *testing.T) {
	data := []byte(`{"schema_version":"2.0","workflow_hash":"h","cycles":[]}`)
	_, err := Parse(data)
	require.Error(t, err)
	var mismatch *ErrSchemaMismatch
	assert.ErrorAs(t, err, &mismatch)
}

func TestParseToleratesUnknownFields(t *testing.T) {
	data := []byte(`{"schema_version":"1.0","workflow_hash":"h","cycles":[],"future_field":"x"}`)
	doc, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "h", doc.WorkflowHash)
}

func TestRecordStepAppendsAndOverwrites(t *testing.T) {
	d := &Document{SchemaVersion: SchemaVersion, WorkflowHash: "h"}
	d.RecordStep(1, StepTrace{Index: 0, Type: "run", Outputs: map[string]any{"exit_code": 1}})
	d.RecordStep(1, StepTrace{Index: 0, Type: "run", Outputs: map[string]any{"exit_code": 0}, BranchTaken: BranchSuccess})
	d.RecordStep(1, StepTrace{Index: 1, Type: "prompt"})

	require.Len(t, d.Cycles, 1)
	require.Len(t, d.Cycles[0].Steps, 2)
	assert.Equal(t, 0, d.Cycles[0].Steps[0].Outputs["exit_code"])
	assert.Equal(t, BranchSuccess, d.Cycles[0].Steps[0].BranchTaken)
}
