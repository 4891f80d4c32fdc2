package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/sdqctl/sdqctl/pkg/adapter"
	"github.com/sdqctl/sdqctl/pkg/session"
	"github.com/sdqctl/sdqctl/pkg/wf"
)

// runCompact implements the Compaction executor (spec §4.4/§4.6):
// evaluate thresholds, call adapter.Compact on proceed, record the
// event, and re-synchronize token counts.
func runCompact(ctx context.Context, ec *Context, step *wf.CompactStep) error {
	usage := ec.Session.Usage()
	decision := session.Evaluate(usage, ec.Thresholds)

	if decision == session.DecisionSkip {
		ec.Session.RecordCompaction(session.CompactionEvent{
			Skipped: true,
			SkipWhy: fmt.Sprintf("usage %.1f%% below COMPACTION-MIN %.1f%%", usage.Fraction()*100, ec.Thresholds.Min),
		})
		return nil
	}

	if !ec.Adapter.Capabilities().Supports(adapter.CapCompaction) {
		return fmt.Errorf("executor: compact: adapter %q does not support compaction", ec.Adapter.Name())
	}

	preserve := session.PreserveCategories(step.Preserve, ec.DefaultPreserve)

	if step.Prologue != "" {
		if prologue, err := ec.expand(step.Prologue); err == nil {
			ec.QueuePending(prologue)
		}
	}

	result, err := ec.Adapter.Compact(ctx, ec.SessionID, preserve)
	if err != nil {
		return fmt.Errorf("executor: compact: %w", err)
	}

	warn, msg := ec.Session.RecordCompaction(session.CompactionEvent{
		Result:   session.CompactionResult(result),
		Preserve: preserve,
	})
	if warn {
		ec.QueuePending("[compaction warning] " + msg)
	}

	newUsage, err := ec.Adapter.GetContextUsage(ctx, ec.SessionID)
	if err != nil {
		return fmt.Errorf("executor: compact: resync usage: %w", err)
	}
	ec.Session.SyncUsage(session.Usage{Used: newUsage.Used, Max: newUsage.Max})

	if step.Epilogue != "" {
		if epilogue, err := ec.expand(step.Epilogue); err == nil {
			ec.QueuePending(epilogue)
		}
	}

	return nil
}

// runCheckpoint implements the Checkpoint executor (spec §4.4/§4.6):
// write a named checkpoint without suspending, or — for
// NEW-CONVERSATION — report to the engine that the adapter session
// must be torn down and reopened.
func runCheckpoint(ctx context.Context, ec *Context, step *wf.CheckpointStep) (Outcome, error) {
	cp := ec.Session.Checkpoint(session.StatusRunning, step.Name, "", time.Now())
	if err := session.WriteCheckpoint(ec.Session.SessionDir, cp); err != nil {
		return Outcome{}, fmt.Errorf("executor: checkpoint: %w", err)
	}
	return Outcome{NewConversation: step.NewConversation}, nil
}
