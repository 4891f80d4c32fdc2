package engine

import (
	"context"

	"github.com/sdqctl/sdqctl/pkg/executor"
	"github.com/sdqctl/sdqctl/pkg/wf"
)

// elideStep runs a step marked ELIDE without letting it consume its own
// assistant turn (spec §4.1/§4.6): a Prompt step's expanded text is
// queued directly rather than sent, and a Run/Verify step is dispatched
// with its output policy forced to "always" for this one call so its
// result reaches the next real prompt regardless of the author's
// configured RUN-OUTPUT/VERIFY-OUTPUT. Steps immutable after parse, so
// the forced policy is applied to a shallow copy, never the original.
func elideStep(ctx context.Context, ec *executor.Context, step wf.Step) error {
	switch step.Kind {
	case wf.KindPrompt:
		text, err := ec.Expand(step.Prompt.Text)
		if err != nil {
			return err
		}
		ec.QueuePending(text)
		return nil

	case wf.KindRun:
		forced := *step.Run
		forced.OutputPolicy = wf.OutputAlways
		_, err := executor.Dispatch(ctx, ec, wf.Step{Kind: wf.KindRun, Line: step.Line, Run: &forced})
		return err

	case wf.KindVerify:
		forced := *step.Verify
		forced.OutputPolicy = wf.OutputAlways
		_, err := executor.Dispatch(ctx, ec, wf.Step{Kind: wf.KindVerify, Line: step.Line, Verify: &forced})
		return err

	default:
		_, err := executor.Dispatch(ctx, ec, step)
		return err
	}
}
