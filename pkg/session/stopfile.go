package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// StopFilePath derives the STOP_FILE path for a session id, following
// the template variable of the same name (spec §4.2/§4.4): an
// "<id>.stop" file inside the session directory, which a user (or the
// agent itself) can touch to request a clean abort at the next safe point.
func StopFilePath(sessionDir, sessionID string) string {
	return filepath.Join(sessionDir, fmt.Sprintf("%s.stop", sessionID))
}

// StopWatch watches a single stop file and reports its creation via a
// channel, adapted from the teacher's fsnotify-based index watcher but
// narrowed to one file instead of a directory tree.
type StopWatch struct {
	watcher *fsnotify.Watcher
	path    string

	stopCh   chan struct{}
	closeOne sync.Once
	Stopped  chan struct{}
}

// NewStopWatch starts watching path's parent directory for path's
// creation. fsnotify cannot watch a not-yet-existing file directly, so
// the directory is watched and events are filtered by name, mirroring
// the teacher's watcher's event-filtering pattern.
func NewStopWatch(path string) (*StopWatch, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create stop-file directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("session: create stop-file watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("session: watch stop-file directory: %w", err)
	}

	sw := &StopWatch{
		watcher: w,
		path:    path,
		stopCh:  make(chan struct{}),
		Stopped: make(chan struct{}),
	}

	if _, err := os.Stat(path); err == nil {
		close(sw.Stopped)
		return sw, nil
	}

	go sw.run()
	return sw, nil
}

func (sw *StopWatch) run() {
	for {
		select {
		case <-sw.stopCh:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if event.Name == sw.path && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				sw.closeOne.Do(func() { close(sw.Stopped) })
				return
			}
		case _, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the underlying watcher.
func (sw *StopWatch) Close() error {
	close(sw.stopCh)
	return sw.watcher.Close()
}
