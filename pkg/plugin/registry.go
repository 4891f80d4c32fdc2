package plugin

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sdqctl/sdqctl/pkg/executor"
	"github.com/sdqctl/sdqctl/pkg/wf"
)

// transport is what registry.Dispatch actually invokes once a
// directive's capabilities have cleared the guard.
type transport interface {
	call(ctx context.Context, workspace string, step wf.CustomStep, caps map[Capability]bool) (executor.PluginResult, error)
}

type binding struct {
	spec      DirectiveSpec
	transport transport
}

// Registry is the directive-name-to-handler map built from a Manifest,
// implementing executor.PluginDispatcher. Modeled on the teacher's
// skill registry (pkg/agent/registry.go): a name-keyed map guarded by a
// mutex, built once at startup and looked up on every dispatch.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]binding
}

// NewRegistry builds a Registry from m. A nil m yields an empty
// registry: every custom directive dispatch then fails with "no
// handler registered", which is the correct outcome for a workspace
// with no .sdqctl/directives.yaml.
func NewRegistry(m *Manifest) (*Registry, error) {
	r := &Registry{bindings: map[string]binding{}}
	if m == nil {
		return r, nil
	}
	for name, spec := range m.Directives {
		var t transport
		switch spec.Handler.Type {
		case "subprocess":
			t = &subprocessTransport{spec: spec.Handler}
		case "mcp":
			t = &mcpTransport{spec: spec.Handler}
		default:
			return nil, fmt.Errorf("plugin: directive %q: unknown handler type %q", name, spec.Handler.Type)
		}
		r.bindings[strings.ToLower(name)] = binding{spec: spec, transport: t}
	}
	return r, nil
}

// Register adds or replaces a single directive binding directly,
// bypassing manifest parsing. Nothing in this module calls it;
// RUN-WAIT is handled in pkg/executor, not registered here.
func (r *Registry) Register(name string, spec DirectiveSpec, t transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[strings.ToLower(name)] = binding{spec: spec, transport: t}
}

// Dispatch implements executor.PluginDispatcher.
func (r *Registry) Dispatch(ctx context.Context, step wf.CustomStep, workspace string) (executor.PluginResult, error) {
	r.mu.RLock()
	b, ok := r.bindings[strings.ToLower(step.Type)]
	r.mu.RUnlock()
	if !ok {
		return executor.PluginResult{}, fmt.Errorf("plugin: no handler registered for directive %q: %w", step.Type, executor.ErrUnknownDirective)
	}

	caps := make(map[Capability]bool, len(b.spec.Capabilities))
	for _, c := range b.spec.Capabilities {
		caps[c] = true
	}

	if err := guardPaths(step, workspace, caps); err != nil {
		return executor.PluginResult{}, fmt.Errorf("plugin: directive %q: %w", step.Type, err)
	}

	return b.transport.call(ctx, workspace, step, caps)
}

// guardPaths enforces the path-restriction half of the capability
// contract (spec §4.8): any argument that looks like a filesystem path
// must resolve inside workspace, and referencing one at all requires
// read-files or write-files to have been declared. Command-line flags
// and plain identifiers (no path separator) are left alone.
func guardPaths(step wf.CustomStep, workspace string, caps map[Capability]bool) error {
	for _, arg := range step.Args {
		if !looksLikePath(arg) {
			continue
		}
		if !caps[CapReadFiles] && !caps[CapWriteFiles] {
			return fmt.Errorf("argument %q looks like a path but neither read-files nor write-files is declared", arg)
		}
		abs := arg
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(workspace, abs)
		}
		rel, err := filepath.Rel(workspace, abs)
		if err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("argument %q resolves outside the workspace root", arg)
		}
	}
	return nil
}

func looksLikePath(s string) bool {
	return strings.ContainsRune(s, '/') || strings.Contains(s, string(filepath.Separator))
}

// Close shuts down every MCP server any binding in r started. Safe to
// call even if no mcp-handled directive was ever dispatched.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var firstErr error
	for _, b := range r.bindings {
		if m, ok := b.transport.(*mcpTransport); ok {
			if err := m.close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
