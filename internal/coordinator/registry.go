// Package coordinator implements the master's slave registry, consistent
// hashing placement, two-phase commit driver, and the client-facing
// request handler that ties them to a read-through cache (§4.9).
//
// The source this design replaces kept slaves on a doubly-linked ring
// with raw cross-pointers (§9 "Cyclic/linked slave list"). Registry
// instead keeps an ordered slice sorted by id, computing "next" and
// "prev" by index arithmetic modulo the slice length — same ring
// semantics, no pointer cycles.
package coordinator

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/kvring/internal/kverr"
	"github.com/dreamware/kvring/internal/store"
)

// Slave is one registered replica's address and routing identity.
type Slave struct {
	Host string
	Port int
	ID   uint64
}

// Addr formats the dial target for this slave.
func (s Slave) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// Registry is the master's slave list: an ordered ring keyed by
// hash64("<port>:<host>"), supporting registration, consistent-hash
// primary placement, and successor traversal. The zero value is not
// usable; construct with NewRegistry.
type Registry struct {
	byID     map[uint64]int // id -> index into ordered, kept in sync with it
	mu       sync.RWMutex
	ordered  []Slave // ascending by ID
	capacity int
}

// ErrCapacity is returned by Register when the registry is already at
// capacity and the slave is not already registered.
var ErrCapacity = kverr.New(kverr.KindUnableToProcess)

// NewRegistry builds an empty registry that accepts up to capacity
// slaves.
func NewRegistry(capacity int) *Registry {
	return &Registry{capacity: capacity, byID: make(map[uint64]int)}
}

// Register assigns id = hash64("<port>:<host>") and inserts the slave
// into the ordered ring. Re-registering the same id is a no-op success
// (§3 "insertion is idempotent"). Exceeding capacity is ErrCapacity.
func (r *Registry) Register(host string, port int) (Slave, error) {
	id := store.HashID(fmt.Sprintf("%d:%s", port, host))
	s := Slave{ID: id, Host: host, Port: port}

	r.mu.Lock()
	defer r.mu.Unlock()

	if idx, ok := r.byID[id]; ok {
		return r.ordered[idx], nil
	}
	if len(r.ordered) >= r.capacity {
		return Slave{}, ErrCapacity
	}

	pos := sort.Search(len(r.ordered), func(i int) bool { return r.ordered[i].ID >= id })
	r.ordered = slices.Insert(r.ordered, pos, s)
	r.reindex()
	return s, nil
}

// reindex rebuilds byID after an insertion shifts indices. Caller must
// hold the write lock.
func (r *Registry) reindex() {
	for i, s := range r.ordered {
		r.byID[s.ID] = i
	}
}

// Count returns the number of registered slaves.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}

// Primary returns the slave responsible for key: the first slave whose
// id exceeds hash64(key), wrapping to the smallest id (§4.9). ok is
// false if no slave is registered.
func (r *Registry) Primary(key string) (Slave, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.ordered) == 0 {
		return Slave{}, false
	}
	h := store.HashID(key)
	idx := sort.Search(len(r.ordered), func(i int) bool { return r.ordered[i].ID > h })
	if idx == len(r.ordered) {
		idx = 0
	}
	return r.ordered[idx], true
}

// Successor returns the slave immediately following s in id order,
// wrapping to the head (§4.9). ok is false if s is not registered.
func (r *Registry) Successor(s Slave) (Slave, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byID[s.ID]
	if !ok || len(r.ordered) == 0 {
		return Slave{}, false
	}
	return r.ordered[(idx+1)%len(r.ordered)], true
}

// Replicas returns the primary for key followed by redundancy-1
// successors, all distinct, clamped to the number of registered slaves
// (§4.9 "redundancy is clamped to slave_capacity").
func (r *Registry) Replicas(key string, redundancy int) []Slave {
	primary, ok := r.Primary(key)
	if !ok {
		return nil
	}
	if redundancy < 1 {
		redundancy = 1
	}
	if n := r.Count(); redundancy > n {
		redundancy = n
	}

	out := make([]Slave, 0, redundancy)
	out = append(out, primary)
	cur := primary
	for len(out) < redundancy {
		next, ok := r.Successor(cur)
		if !ok || next.ID == primary.ID {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out
}
