package dedup

import "sync"

// DefaultLimit is the maximum number of IDs kept before eviction.
const DefaultLimit = 1000

// Tracker keeps track of notified message IDs to prevent duplicates.
// The set is bounded: once the limit is exceeded the oldest ID is
// dropped first. State is in-memory only and resets on restart, which
// trades a possible duplicate notification after a restart for never
// missing one.
type Tracker struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	order []string
	limit int
}

// NewTracker creates a tracker bounded at limit IDs. A non-positive
// limit selects DefaultLimit.
func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Tracker{
		ids:   make(map[string]struct{}),
		limit: limit,
	}
}

// Seen reports whether an ID has already been tracked.
func (t *Tracker) Seen(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ids[id]
	return ok
}

// MarkSeen adds an ID, evicting the oldest tracked ID if the set
// outgrows its limit.
func (t *Tracker) MarkSeen(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.ids[id]; exists {
		return
	}
	t.ids[id] = struct{}{}
	t.order = append(t.order, id)
	if len(t.order) > t.limit {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.ids, oldest)
	}
}

// SeenIDs returns a snapshot of all tracked IDs.
func (t *Tracker) SeenIDs() map[string]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make(map[string]struct{}, len(t.ids))
	for k := range t.ids {
		cp[k] = struct{}{}
	}
	return cp
}

// Count returns the number of tracked IDs.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}
