package monitorhttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdqctl/sdqctl/pkg/render"
	"github.com/sdqctl/sdqctl/pkg/wf"
)

func TestHandleHealth(t *testing.T) {
	s := NewServer(DirTraceStore{SessionRoot: t.TempDir()})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}

func TestHandleTraceMissingIsNotFound(t *testing.T) {
	s := NewServer(DirTraceStore{SessionRoot: t.TempDir()})
	req := httptest.NewRequest(http.MethodGet, "/sessions/nope/trace", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleTraceReturnsPersistedDocument(t *testing.T) {
	root := t.TempDir()
	w := wf.NewWorkflow("wf.sdq", wf.DefaultHeader(), []wf.Step{
		{Kind: wf.KindPrompt, Prompt: &wf.PromptStep{Text: "hi"}},
	}, nil, nil, "source")

	doc := render.NewTrace(w)
	doc.RecordStep(1, render.StepTrace{Index: 0, Type: "prompt"})
	require.NoError(t, render.WriteTrace(filepath.Join(root, "sess-1"), doc))

	s := NewServer(DirTraceStore{SessionRoot: root})
	req := httptest.NewRequest(http.MethodGet, "/sessions/sess-1/trace", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got render.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, doc.WorkflowHash, got.WorkflowHash)
	require.Len(t, got.Cycles, 1)
	assert.Equal(t, 0, got.Cycles[0].Steps[0].Index)
}
