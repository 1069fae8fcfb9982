package collect

// Identifier is an opaque per-source handle: a LeetCode username, a GitHub
// login or a StackExchange user id.
type Identifier = string

// WorkingSet is the ordered, deduplicated set of identifiers gathered during
// listing. It never grows past its target; identifiers offered after it is
// full are dropped, which truncates in discovery order.
//
// A WorkingSet is only mutated by the sequential listing phase and is not
// safe for concurrent writes.
type WorkingSet struct {
	target int
	ids    []string
	seen   map[string]struct{}
}

// NewWorkingSet returns an empty set capped at target. A target <= 0 means
// the set accepts nothing.
func NewWorkingSet(target int) *WorkingSet {
	if target < 0 {
		target = 0
	}
	return &WorkingSet{
		target: target,
		seen:   make(map[string]struct{}, target),
	}
}

// Add inserts id and reports whether it was new and accepted.
func (w *WorkingSet) Add(id string) bool {
	if id == "" || w.Full() {
		return false
	}
	if _, dup := w.seen[id]; dup {
		return false
	}
	w.seen[id] = struct{}{}
	w.ids = append(w.ids, id)
	return true
}

// AddAll inserts ids in order and returns how many were new.
func (w *WorkingSet) AddAll(ids []string) int {
	added := 0
	for _, id := range ids {
		if w.Add(id) {
			added++
		}
	}
	return added
}

// Contains reports whether id is in the set.
func (w *WorkingSet) Contains(id string) bool {
	_, ok := w.seen[id]
	return ok
}

// Full reports whether the target has been reached.
func (w *WorkingSet) Full() bool { return len(w.ids) >= w.target }

// Len returns the number of identifiers collected.
func (w *WorkingSet) Len() int { return len(w.ids) }

// Target returns the configured cap.
func (w *WorkingSet) Target() int { return w.target }

// IDs returns the identifiers in discovery order.
func (w *WorkingSet) IDs() []string {
	out := make([]string, len(w.ids))
	copy(out, w.ids)
	return out
}
