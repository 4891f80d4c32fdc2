package adapter

import "sync"

// Registry is the engine-provided fallback model registry (spec §4.5
// "engine may provide a fallback registry keyed by well-known model
// ids"), used by adapters whose backend has no native constraint-based
// selection. It scores ModelInfo entries against a Requirements bag:
// MinContext/Tier/Speed/Capability/Vendor/Family are hard filters when
// set, and earlier-registered models win ties, mirroring the way the
// teacher's Router keeps one canonical model per role rather than
// re-deriving one per request.
type Registry struct {
	mu     sync.RWMutex
	models []ModelInfo
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds or replaces a model entry by id.
func (r *Registry) Register(m ModelInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.models {
		if existing.ID == m.ID {
			r.models[i] = m
			return
		}
	}
	r.models = append(r.models, m)
}

// Models returns a snapshot of registered models.
func (r *Registry) Models() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelInfo, len(r.models))
	copy(out, r.models)
	return out
}

var tierRank = map[string]int{"economy": 0, "standard": 1, "premium": 2}
var speedRank = map[string]int{"deliberate": 0, "standard": 1, "fast": 2}

// Select resolves req to the best-matching registered model id, or
// ErrModelUnsupported if none satisfies every hard constraint.
func (r *Registry) Select(req Requirements) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best ModelInfo
	bestScore := -1
	for _, m := range r.models {
		if !satisfies(m, req) {
			continue
		}
		score := preferenceScore(m, req)
		if score > bestScore {
			bestScore = score
			best = m
		}
	}
	if bestScore < 0 {
		return "", ErrModelUnsupported
	}
	return best.ID, nil
}

func satisfies(m ModelInfo, req Requirements) bool {
	if req.MinContext > 0 && m.ContextMax < req.MinContext {
		return false
	}
	if req.Tier != "" && m.Tier != req.Tier {
		return false
	}
	if req.Speed != "" && m.Speed != req.Speed {
		return false
	}
	if req.Capability != "" && m.Capability != req.Capability {
		return false
	}
	if req.Vendor != "" && m.Vendor != req.Vendor {
		return false
	}
	if req.Family != "" && m.Family != req.Family {
		return false
	}
	return true
}

// preferenceScore ranks models that already pass every hard filter:
// higher tier and faster speed score higher, so the strongest
// satisfying model wins rather than an arbitrary registration order.
func preferenceScore(m ModelInfo, req Requirements) int {
	score := 0
	if req.Speed != "" && m.Speed == req.Speed {
		score += 2
	}
	if req.Tier != "" && m.Tier == req.Tier {
		score += 2
	}
	score += tierRank[m.Tier]
	score += speedRank[m.Speed]
	return score
}
