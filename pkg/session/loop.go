package session

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"
)

// ErrLoopDetected is returned when the productivity detector trips.
type ErrLoopDetected struct {
	ConsecutiveEmptyTurns int
}

func (e *ErrLoopDetected) Error() string {
	return fmt.Sprintf("loop detected: %d consecutive empty-productivity turns", e.ConsecutiveEmptyTurns)
}

// Turn is one assistant turn's outcome, as handed to the loop detector
// after a prompt/verify/run step completes.
type Turn struct {
	Response      string
	ToolCallCount int
}

// LoopDetectorConfig configures the detector (spec §4.4 defaults).
type LoopDetectorConfig struct {
	WindowSize          int     // last N responses kept, default 3
	MinResponseLength   int     // default 16
	EmptyTurnThreshold   int     // consecutive empty turns before abort, default 3
	SemanticSimilarity   float64 // 0 disables; else cosine-similarity threshold, e.g. 0.97
}

// DefaultLoopDetectorConfig matches spec §4.4.
func DefaultLoopDetectorConfig() LoopDetectorConfig {
	return LoopDetectorConfig{
		WindowSize:         3,
		MinResponseLength:  16,
		EmptyTurnThreshold: 3,
	}
}

// LoopDetector tracks the last N assistant responses both literally and,
// when a non-zero SemanticSimilarity threshold is configured, via
// chromem-go in-memory embeddings so that paraphrased non-progress
// ("Let's try a different approach" repeated with varying wording) is
// also caught, not just byte-identical repeats.
type LoopDetector struct {
	cfg LoopDetectorConfig

	recent       []string
	emptyStreak  int

	embedFunc chromem.EmbeddingFunc
	collection *chromem.Collection
	turnSeq    int
}

// NewLoopDetector builds a detector. embedFunc may be nil, in which case
// semantic comparison is skipped even if cfg.SemanticSimilarity > 0.
func NewLoopDetector(cfg LoopDetectorConfig, embedFunc chromem.EmbeddingFunc) (*LoopDetector, error) {
	d := &LoopDetector{cfg: cfg, embedFunc: embedFunc}
	if embedFunc != nil && cfg.SemanticSimilarity > 0 {
		db := chromem.NewDB()
		col, err := db.CreateCollection("loop-responses", nil, embedFunc)
		if err != nil {
			return nil, fmt.Errorf("session: create loop-detection collection: %w", err)
		}
		d.collection = col
	}
	return d, nil
}

// Observe records a turn and reports a *ErrLoopDetected if the
// productivity streak has tripped the threshold.
func (d *LoopDetector) Observe(ctx context.Context, t Turn) error {
	empty := t.ToolCallCount == 0 && len(t.Response) < d.cfg.MinResponseLength
	if empty {
		d.emptyStreak++
	} else {
		d.emptyStreak = 0
	}

	d.pushRecent(t.Response)

	if d.emptyStreak >= d.cfg.EmptyTurnThreshold {
		return &ErrLoopDetected{ConsecutiveEmptyTurns: d.emptyStreak}
	}

	if d.collection != nil && t.Response != "" {
		if dup, err := d.semanticDuplicate(ctx, t.Response); err != nil {
			return err
		} else if dup {
			return &ErrLoopDetected{ConsecutiveEmptyTurns: d.emptyStreak}
		}
	}

	return nil
}

func (d *LoopDetector) pushRecent(resp string) {
	d.recent = append(d.recent, resp)
	if len(d.recent) > d.cfg.WindowSize {
		d.recent = d.recent[len(d.recent)-d.cfg.WindowSize:]
	}
}

// semanticDuplicate embeds resp and queries the in-memory collection for
// a near-duplicate among the last WindowSize turns.
func (d *LoopDetector) semanticDuplicate(ctx context.Context, resp string) (bool, error) {
	id := fmt.Sprintf("turn-%d", d.turnSeq)
	d.turnSeq++

	if d.collection.Count() > 0 {
		n := d.cfg.WindowSize
		if d.collection.Count() < n {
			n = d.collection.Count()
		}
		results, err := d.collection.Query(ctx, resp, n, nil, nil)
		if err != nil {
			return false, fmt.Errorf("session: query loop-detection collection: %w", err)
		}
		for _, r := range results {
			if r.Similarity >= float32(d.cfg.SemanticSimilarity) {
				return true, nil
			}
		}
	}

	if err := d.collection.AddDocument(ctx, chromem.Document{ID: id, Content: resp}); err != nil {
		return false, fmt.Errorf("session: index turn for loop detection: %w", err)
	}
	return false, nil
}

// RecentResponses returns the retained window, most-recent last.
func (d *LoopDetector) RecentResponses() []string {
	out := make([]string, len(d.recent))
	copy(out, d.recent)
	return out
}
