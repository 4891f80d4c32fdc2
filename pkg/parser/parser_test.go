package parser

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdqctl/sdqctl/pkg/wf"
)

func TestParse_HeaderAndPrompt(t *testing.T) {
	src := `MODEL claude-opus
MAX-CYCLES 3
PROMPT say hello
`
	w, diags, err := Parse("wf.sdq", src, Options{})
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.Equal(t, "claude-opus", w.Header.Model)
	assert.Equal(t, 3, w.Header.MaxCycles)
	require.Len(t, w.Steps, 1)
	assert.Equal(t, wf.KindPrompt, w.Steps[0].Kind)
	assert.Equal(t, "say hello", w.Steps[0].Prompt.Text)
}

func TestParse_HeaderAfterStepIsError(t *testing.T) {
	src := `PROMPT hi
MODEL claude-opus
`
	_, _, err := Parse("wf.sdq", src, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "header directive")
}

func TestParse_RunModifiersAttachToPrecedingRun(t *testing.T) {
	src := `RUN make build
RUN-CWD ./cmd
RUN-TIMEOUT 30
RUN-ON-ERROR continue
`
	w, _, err := Parse("wf.sdq", src, Options{})
	require.NoError(t, err)
	require.Len(t, w.Steps, 1)
	run := w.Steps[0].Run
	assert.Equal(t, "make build", run.Command)
	assert.Equal(t, "./cmd", run.Cwd)
	assert.Equal(t, wf.OnErrorContinue, run.OnError.Kind)
}

func TestParse_OnFailureBlockAttaches(t *testing.T) {
	src := `RUN make test
ON-FAILURE
PROMPT the tests failed, please fix
END
`
	w, _, err := Parse("wf.sdq", src, Options{})
	require.NoError(t, err)
	require.Len(t, w.Steps, 1)
	require.Len(t, w.Steps[0].Run.Failure, 1)
	assert.Equal(t, wf.KindPrompt, w.Steps[0].Run.Failure[0].Kind)
}

func TestParse_OnFailureWithoutPrecedingRunIsError(t *testing.T) {
	src := `PROMPT hi
ON-FAILURE
PROMPT nope
END
`
	_, _, err := Parse("wf.sdq", src, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must immediately follow a RUN step")
}

func TestParse_NestedBlockIsError(t *testing.T) {
	src := `RUN make test
ON-FAILURE
RUN make retry
ON-FAILURE
PROMPT give up
END
END
`
	_, _, err := Parse("wf.sdq", src, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nested")
}

func TestParse_UnclosedBlockIsError(t *testing.T) {
	src := `RUN make test
ON-FAILURE
PROMPT fix it
`
	_, _, err := Parse("wf.sdq", src, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing END")
}

func TestParse_ElideBeforeBranchIsError(t *testing.T) {
	src := `RUN make test
ELIDE
ON-FAILURE
PROMPT fix it
END
`
	_, _, err := Parse("wf.sdq", src, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "branching block")
}

func TestParse_NewConversationLowersToCheckpoint(t *testing.T) {
	src := `NEW-CONVERSATION
PROMPT continue fresh
`
	w, _, err := Parse("wf.sdq", src, Options{})
	require.NoError(t, err)
	require.Len(t, w.Steps, 2)
	assert.Equal(t, wf.KindCheckpoint, w.Steps[0].Kind)
	assert.True(t, w.Steps[0].Checkpoint.NewConversation)
}

func TestParse_ContextAndRequire(t *testing.T) {
	src := `CONTEXT src:main.go#L10-L20
CONTEXT-OPTIONAL docs/*.md
REQUIRE ./go.mod
PROMPT go
`
	w, _, err := Parse("wf.sdq", src, Options{})
	require.NoError(t, err)
	require.Len(t, w.RequiredContext, 1)
	assert.Equal(t, "src", w.RequiredContext[0].Alias)
	assert.Equal(t, "main.go", w.RequiredContext[0].Pattern)
	assert.Equal(t, 10, w.RequiredContext[0].LineFrom)
	assert.Equal(t, 20, w.RequiredContext[0].LineTo)
	assert.Equal(t, []string{"./go.mod"}, w.RequireExists)

	// Both CONTEXT and CONTEXT-OPTIONAL also queue a context-inject step
	// ahead of the next prompt.
	require.Len(t, w.Steps, 2)
	assert.Equal(t, wf.KindContextInject, w.Steps[0].Kind)
	require.Len(t, w.Steps[0].ContextInject.Patterns, 2)
	assert.True(t, w.Steps[0].ContextInject.Patterns[1].Optional)
}

func TestParse_IncludeCycleIsError(t *testing.T) {
	fr := fakeFS{"a.sdq": "INCLUDE b.sdq\n", "b.sdq": "INCLUDE a.sdq\n"}
	_, _, err := Parse("a.sdq", fr["a.sdq"], Options{FileReader: fr})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INCLUDE cycle")
}

func TestParse_CustomPluginDirective(t *testing.T) {
	src := `JIRA-COMMENT PROJ-123 "looks good"
`
	w, _, err := Parse("wf.sdq", src, Options{})
	require.NoError(t, err)
	require.Len(t, w.Steps, 1)
	require.Equal(t, wf.KindCustom, w.Steps[0].Kind)
	assert.Equal(t, "jira-comment", w.Steps[0].Custom.Type)
	assert.Equal(t, "PROJ-123", w.Steps[0].Custom.Name)
}

func TestParse_UnknownDirectiveStrictIsError(t *testing.T) {
	src := `VALIDATION-MODE strict
JIRA-COMMENT PROJ-123 "looks good"
`
	_, _, err := Parse("wf.sdq", src, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown directive JIRA-COMMENT")
}

func TestParse_UnknownDirectiveLenientWarns(t *testing.T) {
	src := `VALIDATION-MODE lenient
JIRA-COMMENT PROJ-123 "looks good"
`
	w, diags, err := Parse("wf.sdq", src, Options{})
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Equal(t, SeverityWarning, diags[0].Severity)
	assert.Contains(t, diags[0].Message, "unknown directive JIRA-COMMENT")
	require.Len(t, w.Steps, 1)
	assert.Equal(t, wf.KindCustom, w.Steps[0].Kind)
}

func TestParse_EmptyWorkflowIsError(t *testing.T) {
	_, _, err := Parse("wf.sdq", "# just a comment\n", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty workflow")
}

func TestScan_ContinuationForm(t *testing.T) {
	src := "PROMPT |\n  line one\n  line two\nRUN echo hi\n"
	directives, err := scan("wf.sdq", src)
	require.NoError(t, err)
	require.Len(t, directives, 2)
	assert.Equal(t, "line one\nline two", directives[0].Args)
}

func TestParseRef_LineRange(t *testing.T) {
	ref := parseRef("@src:pkg/foo.go#L5-L9")
	assert.Equal(t, "src", ref.Alias)
	assert.Equal(t, "pkg/foo.go", ref.Pattern)
	assert.Equal(t, 5, ref.LineFrom)
	assert.Equal(t, 9, ref.LineTo)
}

func TestParseRef_SymbolRegex(t *testing.T) {
	ref := parseRef("pkg/**/*.go#/func Handle.*/")
	assert.Equal(t, "pkg/**/*.go", ref.Pattern)
	assert.Equal(t, "func Handle.*", ref.Symbol)
	assert.True(t, ref.HasSymbol())
}

type fakeFS map[string]string

func (f fakeFS) ReadFile(path string) ([]byte, error) {
	if s, ok := f[filepath.Base(path)]; ok {
		return []byte(s), nil
	}
	return nil, assertNotFound(path)
}

type notFoundErr string

func (n notFoundErr) Error() string { return string(n) + ": not found" }

func assertNotFound(path string) error { return notFoundErr(path) }
