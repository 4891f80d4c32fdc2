package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/sdqctl/sdqctl/pkg/parser"
	"github.com/sdqctl/sdqctl/pkg/wf"
)

// defaultRunTimeout and defaultOutputLimit are the spec-mandated
// fallbacks when a RUN step sets neither (spec §4.6).
const (
	defaultRunTimeout  = 10 * time.Minute
	defaultOutputLimit = 16 * 1024
)

// runResult is one command invocation's captured outcome.
type runResult struct {
	exitCode int
	stdout   []byte
	stderr   []byte
	err      error // non-nil on spawn failure or ctx cancellation
}

// runRun implements the Run executor (spec §4.6): tokenize or shell-out
// depending on ALLOW-SHELL, spawn with cwd/env/timeout, capture output
// up to the configured limit, apply RUN-ON-ERROR policy, then run the
// matching ON-SUCCESS/ON-FAILURE block. RUN-ASYNC detaches the spawn
// into ec.Async instead of waiting inline.
func runRun(ctx context.Context, ec *Context, step *wf.RunStep) error {
	if ec.Mode == wf.ModeAudit {
		ec.QueuePending(fmt.Sprintf("[audit mode: would run %q]", step.Command))
		return nil
	}

	command, err := ec.expand(step.Command)
	if err != nil {
		return fmt.Errorf("executor: run: %w", err)
	}

	if step.Async {
		return spawnAsync(ctx, ec, step, command)
	}

	res := execCommand(ctx, ec, step, command)
	return finishRun(ctx, ec, step, command, res)
}

// execCommand runs command once, synchronously, applying cwd/env/
// timeout and the output limit.
func execCommand(ctx context.Context, ec *Context, step *wf.RunStep, command string) runResult {
	timeout := time.Duration(step.Timeout)
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := buildCmd(runCtx, ec, step, command)

	var stdout, stderr bytes.Buffer
	limit := step.OutputLimit
	if limit <= 0 {
		limit = defaultOutputLimit
	}
	cmd.Stdout = &limitedWriter{buf: &stdout, limit: limit}
	cmd.Stderr = &limitedWriter{buf: &stderr, limit: limit}

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			err = nil
		}
	}

	return runResult{exitCode: exitCode, stdout: stdout.Bytes(), stderr: stderr.Bytes(), err: err}
}

// buildCmd constructs the *exec.Cmd for command, honoring ALLOW-SHELL
// (spec §4.6 "shell features only if ALLOW-SHELL is explicitly
// enabled"). Without it, arguments are parsed via the same quote-aware
// tokenizer the parser uses for directive argument lists, and the
// command runs directly — no shell, no injection surface.
func buildCmd(ctx context.Context, ec *Context, step *wf.RunStep, command string) *exec.Cmd {
	var cmd *exec.Cmd
	if step.AllowShell {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	} else {
		args := parser.SplitArgs(command)
		if len(args) == 0 {
			cmd = exec.CommandContext(ctx, "true")
		} else {
			cmd = exec.CommandContext(ctx, args[0], args[1:]...)
		}
	}

	if step.Cwd != "" {
		cmd.Dir = step.Cwd
	} else {
		cmd.Dir = ec.Workspace
	}

	if len(step.Env) > 0 {
		env := cmd.Environ()
		for k, v := range step.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	return cmd
}

// limitedWriter caps the number of bytes retained, appending an
// explicit truncation marker once the limit is hit (spec §4.6 "output
// is captured up to output-limit ... truncation marked explicitly").
type limitedWriter struct {
	buf       *bytes.Buffer
	limit     int
	truncated bool
}

func (w *limitedWriter) Write(p []byte) (int, error) {
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

// finishRun applies RUN-ON-ERROR policy to res, queues output per
// RUN-OUTPUT policy, and runs the matching branch block.
func finishRun(ctx context.Context, ec *Context, step *wf.RunStep, command string, res runResult) error {
	if res.err != nil {
		return fmt.Errorf("executor: run %q: %w", command, res.err)
	}

	failed := res.exitCode != 0
	queueOutput(ec, step.OutputPolicy, failed, res)

	if failed {
		switch step.OnError.Kind {
		case wf.OnErrorContinue:
			// fall through to branch block below
		case wf.OnErrorRetry:
			var err error
			res, err = retryRun(ctx, ec, step, command, res)
			if err != nil {
				return err
			}
			failed = res.exitCode != 0
			queueOutput(ec, step.OutputPolicy, failed, res)
		default: // OnErrorStop
			return fmt.Errorf("executor: run %q: exit code %d: %s", command, res.exitCode, res.stderr)
		}
	}

	blocks := step.Success
	if failed {
		blocks = step.Failure
	}
	for _, bstep := range blocks {
		if _, err := Dispatch(ctx, ec, bstep); err != nil {
			return fmt.Errorf("executor: branch block: %w", err)
		}
	}

	return nil
}

// retryRun implements RUN-RETRY/RUN-ON-ERROR retry(N, prompt): send the
// retry prompt plus stderr to the adapter, then re-run the command, up
// to RetryCount times. If every attempt still fails, the final failing
// result is returned to the caller as a (non-fatal) continue — an
// author who opted into retry is presumed to want the workflow to carry
// on and record the failure, not to halt outright after exhausting
// retries it explicitly asked for.
func retryRun(ctx context.Context, ec *Context, step *wf.RunStep, command string, last runResult) (runResult, error) {
	for i := 0; i < step.OnError.RetryCount; i++ {
		prompt, err := ec.expand(step.OnError.RetryPrompt)
		if err != nil {
			return last, fmt.Errorf("executor: retry prompt: %w", err)
		}
		prompt = fmt.Sprintf("%s\n\nstderr:\n%s", prompt, last.stderr)

		if !ec.Session.AllowSend() {
			return last, fmt.Errorf("executor: retry: rate limited")
		}
		if _, err := ec.Adapter.Send(ctx, ec.SessionID, prompt); err != nil {
			return last, fmt.Errorf("executor: retry: adapter send: %w", err)
		}

		last = execCommand(ctx, ec, step, command)
		if last.err != nil {
			return last, fmt.Errorf("executor: run %q: %w", command, last.err)
		}
		if last.exitCode == 0 {
			break
		}
	}
	return last, nil
}

func queueOutput(ec *Context, policy wf.OutputPolicy, failed bool, res runResult) {
	switch policy {
	case wf.OutputNever:
		return
	case wf.OutputOnError:
		if !failed {
			return
		}
	}
	ec.QueuePending(fmt.Sprintf("exit code: %d\nstdout:\n%s\nstderr:\n%s", res.exitCode, res.stdout, res.stderr))
}

// spawnAsync starts command without waiting, registering it under its
// own command text as the RUN-WAIT handle (spec §4.6 "RUN-ASYNC ...
// returns a handle").
func spawnAsync(ctx context.Context, ec *Context, step *wf.RunStep, command string) error {
	cmd := buildCmd(ctx, ec, step, command)

	var stdout, stderr bytes.Buffer
	limit := step.OutputLimit
	if limit <= 0 {
		limit = defaultOutputLimit
	}
	cmd.Stdout = &limitedWriter{buf: &stdout, limit: limit}
	cmd.Stderr = &limitedWriter{buf: &stderr, limit: limit}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("executor: run-async %q: %w", command, err)
	}

	proc := &asyncProcess{cmd: cmd, done: make(chan struct{})}
	ec.Async.register(command, proc)

	go func() {
		defer close(proc.done)
		err := cmd.Wait()
		exitCode := 0
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
				err = nil
			}
		}
		proc.exitCode = exitCode
		proc.stdout = stdout.Bytes()
		proc.stderr = stderr.Bytes()
		proc.waitErr = err
	}()

	return nil
}
