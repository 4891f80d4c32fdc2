package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/sdqctl/sdqctl/pkg/executor"
	"github.com/sdqctl/sdqctl/pkg/wf"
)

// subprocessOutputLimit mirrors pkg/executor's RUN output cap; a
// misbehaving plugin handler gets the same truncation discipline as an
// author's own RUN step.
const subprocessOutputLimit = 16 * 1024

// callRequest is the JSON document piped to a subprocess handler's
// stdin: the directive name, its arguments, and the capabilities it
// was granted, so a conforming handler can self-restrict consistently
// with guardPaths's enforcement.
type callRequest struct {
	Directive    string   `json:"directive"`
	Name         string   `json:"name"`
	Args         []string `json:"args"`
	Workspace    string   `json:"workspace"`
	Capabilities []string `json:"capabilities"`
}

// callResponse is the JSON document a subprocess handler is expected
// to print to stdout. A handler that instead prints plain text (no
// valid JSON) has its entire stdout treated as Output with Passed set
// by exit code, so trivial shell-script handlers still work.
type callResponse struct {
	Output string `json:"output"`
	Passed bool   `json:"passed"`
}

type subprocessTransport struct {
	spec HandlerSpec
}

func (t *subprocessTransport) call(ctx context.Context, workspace string, step wf.CustomStep, caps map[Capability]bool) (executor.PluginResult, error) {
	req := callRequest{Directive: step.Type, Name: step.Name, Args: step.Args, Workspace: workspace}
	for c := range caps {
		req.Capabilities = append(req.Capabilities, string(c))
	}
	body, err := json.Marshal(req)
	if err != nil {
		return executor.PluginResult{}, fmt.Errorf("plugin: marshal subprocess request: %w", err)
	}

	cmd := exec.CommandContext(ctx, t.spec.Command, t.spec.Args...)
	cmd.Dir = workspace
	cmd.Stdin = bytes.NewReader(body)
	cmd.Env = append(cmd.Environ(),
		"SDQCTL_PLUGIN_NETWORK="+boolEnv(caps[CapNetwork]),
		"SDQCTL_PLUGIN_RUN_COMMANDS="+boolEnv(caps[CapRunCommands]),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedBuf{buf: &stdout, limit: subprocessOutputLimit}
	cmd.Stderr = &limitedBuf{buf: &stderr, limit: subprocessOutputLimit}

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			runErr = nil
		}
	}
	if runErr != nil {
		return executor.PluginResult{}, fmt.Errorf("plugin: spawn handler %q: %w", t.spec.Command, runErr)
	}

	var resp callResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return executor.PluginResult{Output: stdout.String(), Passed: exitCode == 0}, nil
	}
	return executor.PluginResult{Output: resp.Output, Passed: resp.Passed}, nil
}

func boolEnv(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// limitedBuf is pkg/executor's limitedWriter, duplicated rather than
// exported across the package boundary since plugin handlers are a
// different output-capture surface (JSON-or-text stdout, not raw
// stdout/stderr streams) from a RUN step's.
type limitedBuf struct {
	buf       *bytes.Buffer
	limit     int
	truncated bool
}

func (w *limitedBuf) Write(p []byte) (int, error) {
	n := len(p)
	if w.truncated {
		return n, nil
	}
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		w.buf.WriteString("\n[output truncated]")
		w.truncated = true
		return n, nil
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		w.buf.WriteString("\n[output truncated]")
		w.truncated = true
		return n, nil
	}
	w.buf.Write(p)
	return n, nil
}
