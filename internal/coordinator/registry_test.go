package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/kvring/internal/store"
)

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry(4)
	s1, err := r.Register("localhost", 9000)
	require.NoError(t, err)
	s2, err := r.Register("localhost", 9000)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
	assert.Equal(t, 1, r.Count())
}

func TestRegisterRespectsCapacity(t *testing.T) {
	r := NewRegistry(1)
	_, err := r.Register("localhost", 9000)
	require.NoError(t, err)
	_, err = r.Register("localhost", 9001)
	assert.ErrorIs(t, err, ErrCapacity)
}

func TestPrimaryWrapsToSmallest(t *testing.T) {
	r := NewRegistry(4)
	s1, err := r.Register("host-a", 9000)
	require.NoError(t, err)
	s2, err := r.Register("host-b", 9001)
	require.NoError(t, err)

	// A key hashing above every registered id must wrap to the smallest.
	var maxID uint64
	for _, s := range []struct{ id uint64 }{{s1.ID}, {s2.ID}} {
		if s.id > maxID {
			maxID = s.id
		}
	}
	smallest := s1
	if s2.ID < smallest.ID {
		smallest = s2
	}

	// Find some key whose hash exceeds both ids by probing a handful of
	// candidates (the hash is deterministic but not invertible).
	found := false
	for i := 0; i < 10000 && !found; i++ {
		key := string(rune(i))
		if store.HashID(key) <= maxID {
			continue
		}
		p, ok := r.Primary(key)
		require.True(t, ok)
		if p.ID == smallest.ID {
			found = true
		}
	}
	assert.True(t, found, "expected at least one probed key to wrap to the smallest id")
}

func TestSuccessorWrapsAround(t *testing.T) {
	r := NewRegistry(4)
	s1, _ := r.Register("host-a", 9000)
	s2, _ := r.Register("host-b", 9001)

	first, second := s1, s2
	if s2.ID < s1.ID {
		first, second = s2, s1
	}

	next, ok := r.Successor(first)
	require.True(t, ok)
	assert.Equal(t, second.ID, next.ID)

	wrapped, ok := r.Successor(second)
	require.True(t, ok)
	assert.Equal(t, first.ID, wrapped.ID)
}

func TestReplicasDistinctAndClamped(t *testing.T) {
	r := NewRegistry(4)
	r.Register("host-a", 9000)
	r.Register("host-b", 9001)

	replicas := r.Replicas("some-key", 5)
	assert.Len(t, replicas, 2, "redundancy clamps to the number of registered slaves")

	seen := map[uint64]bool{}
	for _, s := range replicas {
		assert.False(t, seen[s.ID], "replicas must be distinct")
		seen[s.ID] = true
	}
}

func TestReplicasEmptyWhenNoSlaves(t *testing.T) {
	r := NewRegistry(4)
	assert.Nil(t, r.Replicas("k", 2))
}
