// Package skipset tracks, per job id, the set of action fingerprints a
// worker has already performed so that no two workers repeat the same DOM
// action for the same logical job.
//
// The atomic check-and-insert semantics mirror sync.Map.LoadOrStore: "was
// this new?" is answered in one step, race-free without a separate
// query-then-insert pair.
package skipset

import "sync"

// Registry holds one fingerprint set per job id.
type Registry struct {
	mu   sync.Mutex
	sets map[string]map[string]struct{}
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{sets: make(map[string]map[string]struct{})}
}

// IsSkipped reports whether fingerprint has already been recorded for
// jobID. Missing entries yield false.
func (r *Registry) IsSkipped(jobID, fingerprint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sets[jobID]
	if !ok {
		return false
	}
	_, present := set[fingerprint]
	return present
}

// MarkSkip records fingerprint for jobID and reports whether it was newly
// inserted (true) or already present (false). Callers that need an atomic
// "check, then act only if new" should use this return value rather than
// pairing IsSkipped with a separate MarkSkip call.
func (r *Registry) MarkSkip(jobID, fingerprint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sets[jobID]
	if !ok {
		set = make(map[string]struct{})
		r.sets[jobID] = set
	}
	if _, present := set[fingerprint]; present {
		return false
	}
	set[fingerprint] = struct{}{}
	return true
}

// MergeSkips unions fingerprints into jobID's set.
func (r *Registry) MergeSkips(jobID string, fingerprints []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sets[jobID]
	if !ok {
		set = make(map[string]struct{})
		r.sets[jobID] = set
	}
	for _, f := range fingerprints {
		set[f] = struct{}{}
	}
}

// Drop frees the fingerprint set for jobID. A no-op if none exists.
func (r *Registry) Drop(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sets, jobID)
}
