package monitorhttp

import (
	"path/filepath"

	"github.com/sdqctl/sdqctl/pkg/render"
)

// DirTraceStore reads a trace document straight off disk, from
// <sessionRoot>/<id>/trace.json — the same layout pkg/engine writes to
// via render.WriteTrace as a run progresses.
type DirTraceStore struct {
	SessionRoot string
}

// Trace implements TraceStore.
func (s DirTraceStore) Trace(id string) (*render.Document, bool, error) {
	return render.ReadTrace(filepath.Join(s.SessionRoot, id))
}
