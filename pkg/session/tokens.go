// Package session implements the Session/Context Manager (spec §4.4):
// token accounting, compaction policy, checkpoint persistence,
// pause/consult suspension, loop and over-spend detection, and a
// stop-file watch. The adapter's get_context_usage is always the
// source of truth for token counts; nothing here estimates locally.
package session

import (
	"sync"
	"time"
)

// Usage is a (used, max) token snapshot as reported by the adapter.
type Usage struct {
	Used int64
	Max  int64
}

// Fraction returns Used/Max, or 0 if Max is unset.
func (u Usage) Fraction() float64 {
	if u.Max <= 0 {
		return 0
	}
	return float64(u.Used) / float64(u.Max)
}

// sample is one rate-estimator observation.
type sample struct {
	at     time.Time
	tokens int64
}

// RateEstimator maintains a rolling window of token consumption to
// report a tokens/minute rate and an estimated time-to-limit.
type RateEstimator struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	prior   int64
	priorAt time.Time
	have    bool
	samples []sample
}

// NewRateEstimator builds an estimator over the given rolling window
// (spec default: 5 minutes). now lets tests inject a deterministic clock.
func NewRateEstimator(window time.Duration, now func() time.Time) *RateEstimator {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &RateEstimator{window: window, now: now}
}

// Observe records a new used-token total from the adapter, diffing
// against the prior total to find tokens consumed since the last call.
func (r *RateEstimator) Observe(used int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	at := r.now()
	if r.have {
		delta := used - r.prior
		if delta < 0 {
			delta = 0 // compaction reduced used_tokens; not a consumption sample
		}
		// The sample's timestamp is the start of the interval it
		// measures (the prior observation), not the current one, so
		// that TokensPerMinute's elapsed-time window covers every
		// interval a retained sample represents.
		r.samples = append(r.samples, sample{at: r.priorAt, tokens: delta})
	}
	r.prior = used
	r.priorAt = at
	r.have = true
	r.evict(at)
}

func (r *RateEstimator) evict(at time.Time) {
	cutoff := at.Add(-r.window)
	i := 0
	for i < len(r.samples) && r.samples[i].at.Before(cutoff) {
		i++
	}
	r.samples = r.samples[i:]
}

// TokensPerMinute returns the rolling consumption rate.
func (r *RateEstimator) TokensPerMinute() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) == 0 {
		return 0
	}
	var total int64
	for _, s := range r.samples {
		total += s.tokens
	}
	elapsed := r.now().Sub(r.samples[0].at).Minutes()
	if elapsed <= 0 {
		elapsed = r.window.Minutes()
	}
	return float64(total) / elapsed
}

// TimeToLimit estimates how long until used reaches max at the current
// rate. Returns false if the rate is zero (no meaningful estimate).
func (r *RateEstimator) TimeToLimit(current Usage) (time.Duration, bool) {
	rate := r.TokensPerMinute()
	if rate <= 0 || current.Max <= 0 {
		return 0, false
	}
	remaining := float64(current.Max - current.Used)
	if remaining <= 0 {
		return 0, true
	}
	minutes := remaining / rate
	return time.Duration(minutes * float64(time.Minute)), true
}
