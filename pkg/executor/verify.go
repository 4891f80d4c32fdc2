package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/sdqctl/sdqctl/pkg/verify"
	"github.com/sdqctl/sdqctl/pkg/wf"
)

// runVerifyStep implements the Verify executor (spec §4.6): dispatch to
// the registered kind (built-in or plugin-contributed — the Registry
// never distinguishes), apply VERIFY-OUTPUT/VERIFY-ON-ERROR the same
// way RUN applies its RUN-OUTPUT/RUN-ON-ERROR.
func runVerifyStep(ctx context.Context, ec *Context, step *wf.VerifyStep) error {
	args := make([]string, len(step.Args))
	for i, a := range step.Args {
		expanded, err := ec.expand(a)
		if err != nil {
			return fmt.Errorf("executor: verify: %w", err)
		}
		args[i] = expanded
	}

	res, err := ec.Verify.Run(ctx, step.Kind, ec.Workspace, args)
	if err != nil {
		return fmt.Errorf("executor: verify %q: %w", step.Kind, err)
	}
	queueVerifyOutput(ec, step, res)

	if res.Passed {
		return nil
	}

	switch step.OnError.Kind {
	case wf.OnErrorContinue:
		return nil
	case wf.OnErrorRetry:
		// Up to RetryCount passes, each sending the retry prompt and
		// re-running the verifier, stopping once it passes; matches
		// RUN-RETRY's shape without a command to re-spawn.
		for i := 0; i < step.OnError.RetryCount && !res.Passed; i++ {
			prompt, perr := ec.expand(step.OnError.RetryPrompt)
			if perr != nil {
				return fmt.Errorf("executor: verify retry prompt: %w", perr)
			}
			if ec.Session.AllowSend() {
				if _, serr := ec.Adapter.Send(ctx, ec.SessionID, prompt); serr != nil {
					return fmt.Errorf("executor: verify retry: adapter send: %w", serr)
				}
			}
			res, err = ec.Verify.Run(ctx, step.Kind, ec.Workspace, args)
			if err != nil {
				return fmt.Errorf("executor: verify %q: %w", step.Kind, err)
			}
			queueVerifyOutput(ec, step, res)
		}
		return nil
	default:
		return fmt.Errorf("executor: verify %q failed: %s", step.Kind, strings.Join(res.Errors, "; "))
	}
}

func queueVerifyOutput(ec *Context, step *wf.VerifyStep, res verify.Result) {
	switch step.OutputPolicy {
	case wf.OutputNever:
		return
	case wf.OutputOnError:
		if res.Passed {
			return
		}
	}

	text := res.Output
	if len(res.Errors) > 0 {
		text += "\nerrors:\n" + strings.Join(res.Errors, "\n")
	}
	if len(res.Warnings) > 0 {
		text += "\nwarnings:\n" + strings.Join(res.Warnings, "\n")
	}

	limit := step.Limit
	if limit > 0 && len(text) > limit {
		text = text[:limit] + "\n[output truncated]"
	}

	ec.QueuePending(text)
}
