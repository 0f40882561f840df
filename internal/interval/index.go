package interval

import (
	"sort"
	"sync"
	"time"
)

// Window is a half-open time span [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Valid reports whether the window is well-formed (start strictly before end).
func (w Window) Valid() bool {
	return w.Start.Before(w.End)
}

// Overlaps reports whether two windows share at least one instant.
// Touching endpoints do not overlap: [10:00,11:00) and [11:00,12:00)
// are adjacent, not conflicting.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Contains reports whether o lies entirely inside w.
func (w Window) Contains(o Window) bool {
	return !o.Start.Before(w.Start) && !w.End.Before(o.End)
}

// Entry associates a reservation id with its window.
type Entry struct {
	ID     int64
	Window Window
}

type resourceSet struct {
	mu      sync.Mutex
	entries []Entry // sorted by Window.Start
}

// Index holds the active windows of every resource and answers overlap
// tests. It is purely in-memory; the store rebuilds it from durable rows
// at startup.
type Index struct {
	mu        sync.RWMutex
	resources map[string]*resourceSet
}

func NewIndex() *Index {
	return &Index{resources: make(map[string]*resourceSet)}
}

func (ix *Index) set(resourceID string) *resourceSet {
	ix.mu.RLock()
	rs, ok := ix.resources[resourceID]
	ix.mu.RUnlock()
	if ok {
		return rs
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	rs, ok = ix.resources[resourceID]
	if !ok {
		rs = &resourceSet{}
		ix.resources[resourceID] = rs
	}
	return rs
}

// TestAndInsert atomically checks w against the resource's active windows
// and inserts it when free. On conflict it returns the id of the blocking
// reservation and leaves the set untouched.
func (ix *Index) TestAndInsert(resourceID string, id int64, w Window) (conflictID int64, ok bool) {
	rs := ix.set(resourceID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	pos := sort.Search(len(rs.entries), func(i int) bool {
		return !rs.entries[i].Window.Start.Before(w.Start)
	})

	// The set is pairwise non-overlapping and sorted by start, so only
	// the immediate neighbors can conflict.
	if pos > 0 && rs.entries[pos-1].Window.Overlaps(w) {
		return rs.entries[pos-1].ID, false
	}
	if pos < len(rs.entries) && rs.entries[pos].Window.Overlaps(w) {
		return rs.entries[pos].ID, false
	}

	rs.entries = append(rs.entries, Entry{})
	copy(rs.entries[pos+1:], rs.entries[pos:])
	rs.entries[pos] = Entry{ID: id, Window: w}
	return 0, true
}

// Conflict tests w against the resource's active windows without
// inserting. Callers that serialize per resource externally use this
// before the reservation id is known.
func (ix *Index) Conflict(resourceID string, w Window) (conflictID int64, conflict bool) {
	rs := ix.set(resourceID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	pos := sort.Search(len(rs.entries), func(i int) bool {
		return !rs.entries[i].Window.Start.Before(w.Start)
	})

	if pos > 0 && rs.entries[pos-1].Window.Overlaps(w) {
		return rs.entries[pos-1].ID, true
	}
	if pos < len(rs.entries) && rs.entries[pos].Window.Overlaps(w) {
		return rs.entries[pos].ID, true
	}
	return 0, false
}

// Remove drops the window registered under id, if present.
func (ix *Index) Remove(resourceID string, id int64) {
	rs := ix.set(resourceID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for i, e := range rs.entries {
		if e.ID == id {
			rs.entries = append(rs.entries[:i], rs.entries[i+1:]...)
			return
		}
	}
}

// Load replaces the resource's set wholesale. Used when rebuilding the
// index from the store at startup.
func (ix *Index) Load(resourceID string, entries []Entry) {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Window.Start.Before(sorted[j].Window.Start)
	})

	rs := ix.set(resourceID)
	rs.mu.Lock()
	rs.entries = sorted
	rs.mu.Unlock()
}

// Len returns the number of active windows held for a resource.
func (ix *Index) Len(resourceID string) int {
	rs := ix.set(resourceID)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.entries)
}
