package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdqctl/sdqctl/pkg/executor"
	"github.com/sdqctl/sdqctl/pkg/wf"
)

func writeManifest(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "directives.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadManifestMissingIsNotError(t *testing.T) {
	m, ok, err := LoadManifest(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, m)
}

func TestLoadManifestRejectsUnknownVersion(t *testing.T) {
	path := writeManifest(t, t.TempDir(), "version: 2\ndirectives: {}\n")
	_, _, err := LoadManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported manifest version")
}

func TestLoadManifestRejectsUnknownCapability(t *testing.T) {
	path := writeManifest(t, t.TempDir(), `
version: 1
directives:
  greet:
    handler:
      type: subprocess
      command: echo
    capabilities: [fly]
`)
	_, _, err := LoadManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown capability")
}

func TestLoadManifestParsesSubprocessAndMCP(t *testing.T) {
	path := writeManifest(t, t.TempDir(), `
version: 1
directives:
  greet:
    description: says hello
    handler:
      type: subprocess
      command: ./handlers/greet.sh
    capabilities: [run-commands]
  search:
    handler:
      type: mcp
      command: ./handlers/search-server
      tool: web_search
    capabilities: [network]
`)
	m, ok, err := LoadManifest(path)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, m.Directives, 2)
	assert.Equal(t, "subprocess", m.Directives["greet"].Handler.Type)
	assert.Equal(t, "mcp", m.Directives["search"].Handler.Type)
	assert.Equal(t, "web_search", m.Directives["search"].Handler.Tool)
}

func TestDispatchUnknownDirective(t *testing.T) {
	r, err := NewRegistry(nil)
	require.NoError(t, err)
	_, err = r.Dispatch(context.Background(), wf.CustomStep{Type: "nope"}, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler registered")
	assert.True(t, errors.Is(err, executor.ErrUnknownDirective), "caller must be able to tell an unresolvable directive apart from a handler failure")
}

func TestDispatchSubprocessHandler(t *testing.T) {
	workspace := t.TempDir()
	script := filepath.Join(workspace, "handler.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho '{\"output\":\"ok\",\"passed\":true}'\n"), 0o755))

	m := &Manifest{
		Version: ManifestVersion,
		Directives: map[string]DirectiveSpec{
			"greet": {
				Handler:      HandlerSpec{Type: "subprocess", Command: script},
				Capabilities: []Capability{CapRunCommands},
			},
		},
	}
	r, err := NewRegistry(m)
	require.NoError(t, err)

	res, err := r.Dispatch(context.Background(), wf.CustomStep{Type: "greet", Name: "world"}, workspace)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, "ok", res.Output)
}

func TestGuardPathsRejectsEscapingArgument(t *testing.T) {
	workspace := t.TempDir()
	caps := map[Capability]bool{CapReadFiles: true}
	err := guardPaths(wf.CustomStep{Args: []string{"../../etc/passwd"}}, workspace, caps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside the workspace root")
}

func TestGuardPathsRequiresDeclaredCapability(t *testing.T) {
	workspace := t.TempDir()
	err := guardPaths(wf.CustomStep{Args: []string{"sub/file.txt"}}, workspace, map[Capability]bool{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither read-files nor write-files")
}

func TestGuardPathsAllowsDeclaredInsideWorkspace(t *testing.T) {
	workspace := t.TempDir()
	err := guardPaths(wf.CustomStep{Args: []string{"sub/file.txt"}}, workspace, map[Capability]bool{CapReadFiles: true})
	assert.NoError(t, err)
}

func TestGuardPathsIgnoresNonPathArgs(t *testing.T) {
	workspace := t.TempDir()
	err := guardPaths(wf.CustomStep{Args: []string{"--verbose", "greeting"}}, workspace, map[Capability]bool{})
	assert.NoError(t, err)
}
