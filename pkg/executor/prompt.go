package executor

import (
	"context"
	"fmt"

	"github.com/sdqctl/sdqctl/pkg/session"
	"github.com/sdqctl/sdqctl/pkg/wf"
)

// runPrompt implements the Prompt executor (spec §4.6): expand
// templates, prepend any pending context, send, and synchronize both
// token usage and the loop detector from the adapter's authoritative
// report.
func runPrompt(ctx context.Context, ec *Context, step *wf.PromptStep) error {
	text, err := ec.expand(step.Text)
	if err != nil {
		return fmt.Errorf("executor: prompt: %w", err)
	}

	if pre := ec.drainPending(); pre != "" {
		text = pre + "\n\n" + text
	}

	if !ec.Session.AllowSend() {
		return &session.AdapterRateLimited{}
	}

	resp, err := ec.Adapter.Send(ctx, ec.SessionID, text)
	if err != nil {
		return fmt.Errorf("executor: adapter send: %w", err)
	}

	ec.Session.SyncUsage(session.Usage{Used: resp.Usage.Used, Max: resp.Usage.Max})

	if ec.Session.Loop != nil {
		turn := session.Turn{Response: resp.Text, ToolCallCount: ec.drainToolCalls()}
		if err := ec.Session.Loop.Observe(ctx, turn); err != nil {
			return err
		}
	}

	return nil
}
