package session

import (
	"fmt"

	"github.com/sdqctl/sdqctl/pkg/wf"
)

// ResolveThresholds applies the priority order CLI flag > workflow
// directive > defaults; header is assumed to already carry either the
// workflow's directive values or DefaultCompactionThresholds().
func ResolveThresholds(cliOverride *wf.CompactionThresholds, header wf.CompactionThresholds) wf.CompactionThresholds {
	if cliOverride != nil {
		return *cliOverride
	}
	return header
}

// CompactionResult is what the adapter returns from compact() (spec §4.5).
type CompactionResult struct {
	TokensBefore   int64
	TokensAfter    int64
	PreservedItems int
}

// Effectiveness is after/before; lower is better (more was reclaimed).
func (r CompactionResult) Effectiveness() float64 {
	if r.TokensBefore <= 0 {
		return 0
	}
	return float64(r.TokensAfter) / float64(r.TokensBefore)
}

// CompactionEvent is appended to the session's turn log after every
// compaction, successful or skipped.
type CompactionEvent struct {
	Result    CompactionResult
	Preserve  []string
	Skipped   bool
	SkipWhy   string
}

// CompactionTracker accumulates effectiveness across events to support
// the spec's "cumulative effectiveness >= 1.0 over >= 3 events" warning.
type CompactionTracker struct {
	events []CompactionEvent
}

func (t *CompactionTracker) Record(ev CompactionEvent) {
	t.events = append(t.events, ev)
}

// Warn reports whether cumulative compaction effectiveness has stopped
// helping: at least 3 non-skipped events with a combined after/before
// ratio >= 1.0.
func (t *CompactionTracker) Warn() (bool, string) {
	var before, after int64
	var n int
	for _, ev := range t.events {
		if ev.Skipped {
			continue
		}
		before += ev.Result.TokensBefore
		after += ev.Result.TokensAfter
		n++
	}
	if n < 3 || before == 0 {
		return false, ""
	}
	ratio := float64(after) / float64(before)
	if ratio >= 1.0 {
		return true, fmt.Sprintf("cumulative compaction effectiveness %.2f over %d events: compaction is no longer reclaiming tokens", ratio, n)
	}
	return false, ""
}

// Decision is the outcome of evaluating compaction policy for an
// explicit COMPACT step or a background-compaction check.
type Decision string

const (
	DecisionProceed Decision = "proceed"
	DecisionSkip    Decision = "skip-below-min"
	DecisionBlock   Decision = "block-until-compacted" // at/above COMPACTION-MAX
)

// Evaluate decides what to do for an explicit COMPACT step given the
// current usage and resolved thresholds.
func Evaluate(usage Usage, thresholds wf.CompactionThresholds) Decision {
	pct := usage.Fraction() * 100
	if pct < thresholds.Min {
		return DecisionSkip
	}
	return DecisionProceed
}

// ShouldBlockSend reports whether a send must wait for compaction to
// complete first, per COMPACTION-MAX (buffer exhaustion).
func ShouldBlockSend(usage Usage, thresholds wf.CompactionThresholds) bool {
	return usage.Fraction()*100 >= thresholds.Max
}

// ShouldBackgroundCompact reports whether background compaction should
// begin, which additionally requires infinite-session mode and adapter
// support for background compaction (checked by the caller).
func ShouldBackgroundCompact(usage Usage, thresholds wf.CompactionThresholds, infiniteSessions, adapterSupportsBackground bool) bool {
	if !infiniteSessions || !adapterSupportsBackground {
		return false
	}
	return usage.Fraction()*100 >= thresholds.Background
}

// PreserveCategories resolves the preserve list for a COMPACT step:
// the step's own Preserve overrides Header.CompactPreserve when set.
func PreserveCategories(stepPreserve, headerPreserve []string) []string {
	if len(stepPreserve) > 0 {
		return stepPreserve
	}
	return headerPreserve
}
