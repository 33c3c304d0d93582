package cache

import "sync"

const DefaultDedupLimit = 1000

// DedupWindow remembers recently seen ids. Once it grows past its limit it
// is emptied in one step, so an id seen just before the reset can pass again.
type DedupWindow struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	limit int
}

func NewDedupWindow(limit int) *DedupWindow {
	if limit <= 0 {
		limit = DefaultDedupLimit
	}
	return &DedupWindow{
		seen:  make(map[string]struct{}, limit),
		limit: limit,
	}
}

// Seen records id and reports whether it was already present. Empty and
// "0" ids are never treated as duplicates.
func (w *DedupWindow) Seen(id string) bool {
	if id == "" || id == "0" {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[id]; ok {
		return true
	}
	if len(w.seen) >= w.limit {
		w.seen = make(map[string]struct{}, w.limit)
	}
	w.seen[id] = struct{}{}
	return false
}

// Contains reports presence without recording.
func (w *DedupWindow) Contains(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.seen[id]
	return ok
}

func (w *DedupWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}
