package planner

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/archtypes"
)

// ReferenceMap maps source object URIs to destination URIs. Entries are
// insert-once: a key's destination never changes after it is added.
type ReferenceMap struct {
	mu    sync.RWMutex
	m     map[string]string
	added int
}

// NewReferenceMap creates an empty map.
func NewReferenceMap() *ReferenceMap {
	return &ReferenceMap{m: map[string]string{}}
}

// LoadReferenceMap seeds a map from a persisted plan. Loaded entries do not
// count as added.
func LoadReferenceMap(entries map[string]string) *ReferenceMap {
	r := NewReferenceMap()
	for k, v := range entries {
		r.m[k] = v
	}
	return r
}

// Lookup returns the destination of src.
func (r *ReferenceMap) Lookup(src string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.m[src]
	return d, ok
}

// Insert adds src -> dst unless src is already present, and returns the
// destination now on record and whether it was newly added.
func (r *ReferenceMap) Insert(src, dst string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.m[src]; ok {
		return existing, false
	}
	r.m[src] = dst
	r.added++
	return dst, true
}

// Len returns the number of entries.
func (r *ReferenceMap) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}

// Added returns how many entries were inserted since the map was created
// or loaded.
func (r *ReferenceMap) Added() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.added
}

// Entries returns a copy of the map.
func (r *ReferenceMap) Entries() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.m))
	for k, v := range r.m {
		out[k] = v
	}
	return out
}

// Pairs returns every entry ordered by source.
func (r *ReferenceMap) Pairs() []archtypes.Pair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pairs := make([]archtypes.Pair, 0, len(r.m))
	for k, v := range r.m {
		pairs = append(pairs, archtypes.Pair{Source: k, Destination: v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Source < pairs[j].Source })
	return pairs
}

// MarshalJSON renders the map as a JSON object with sorted keys.
func (r *ReferenceMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Entries())
}
