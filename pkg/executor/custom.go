package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/sdqctl/sdqctl/pkg/wf"
)

// runCustom implements the Custom executor (spec §4.6, §4.8): most
// custom directives are plugin-defined and dispatched through
// ec.Plugin, but RUN-WAIT lowers to a CustomStep at parse time (it has
// no directive family of its own) and is handled here directly against
// ec.Async instead of round-tripping through a plugin.
//
// Whether step.Type actually names a registered handler is only known
// at dispatch time, once a manifest is loaded, so the strict/lenient
// validation-mode split from spec §4.1 applies here too: strict mode
// fails the step, lenient mode warns and skips it.
func runCustom(ctx context.Context, ec *Context, step *wf.CustomStep) error {
	if step.Type == "run-wait" {
		return runWait(ec, step)
	}

	if ec.Plugin == nil {
		return ec.unresolvedDirective(step, "no plugin dispatcher configured")
	}

	res, err := ec.Plugin.Dispatch(ctx, *step, ec.Workspace)
	if err != nil {
		if errors.Is(err, ErrUnknownDirective) {
			return ec.unresolvedDirective(step, err.Error())
		}
		return fmt.Errorf("executor: custom directive %q: %w", step.Name, err)
	}
	if res.Output != "" {
		ec.QueuePending(res.Output)
	}
	if !res.Passed {
		return fmt.Errorf("executor: custom directive %q reported failure", step.Name)
	}
	return nil
}

// unresolvedDirective implements the strict/lenient split for a custom
// directive that no dispatcher could resolve: fatal in strict mode,
// a queued warning (and the step skipped) in lenient mode.
func (c *Context) unresolvedDirective(step *wf.CustomStep, reason string) error {
	if c.ValidationMode == wf.ValidationStrict {
		return fmt.Errorf("executor: custom directive %q: %s", step.Name, reason)
	}
	c.QueuePending(fmt.Sprintf("warning: custom directive %q skipped: %s", step.Name, reason))
	return nil
}

func runWait(ec *Context, step *wf.CustomStep) error {
	handle := ""
	if len(step.Args) > 0 {
		handle = step.Args[0]
	}

	exitCode, stdout, stderr, err := ec.Async.Wait(handle)
	if err != nil {
		return fmt.Errorf("executor: run-wait: %w", err)
	}

	ec.QueuePending(fmt.Sprintf("exit code: %d\nstdout:\n%s\nstderr:\n%s", exitCode, stdout, stderr))
	return nil
}
