package cache

import (
	"testing"

	"github.com/dreamware/kvring/internal/kverr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetSecondChanceEviction(t *testing.T) {
	// §8 worked example, M=2: PUT(a,1); PUT(b,2); GET(a); PUT(c,3) must
	// evict b, not a — the GET gave a a second chance that b never got.
	cs := NewCacheSet(0, 2, nil)

	cs.Put("a", []byte("1"))
	cs.Put("b", []byte("2"))

	_, err := cs.Get("a")
	require.NoError(t, err)

	cs.Put("c", []byte("3"))

	assert.Equal(t, 2, cs.Len())
	v, err := cs.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	v, err = cs.Get("c")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), v)

	_, err = cs.Get("b")
	assert.ErrorIs(t, err, kverr.New(kverr.KindNoKey))
}

func TestCacheSetUpdateInPlace(t *testing.T) {
	cs := NewCacheSet(0, 2, nil)
	cs.Put("a", []byte("1"))
	cs.Put("a", []byte("2"))

	assert.Equal(t, 1, cs.Len())
	v, err := cs.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)
}

func TestCacheSetDelete(t *testing.T) {
	cs := NewCacheSet(0, 2, nil)
	cs.Put("a", []byte("1"))

	require.NoError(t, cs.Delete("a"))
	assert.Equal(t, 0, cs.Len())

	err := cs.Delete("a")
	assert.True(t, kverr.Is(err, kverr.KindNoKey))
}

func TestCacheSetAllFreshBitsEvictsOldest(t *testing.T) {
	// With no GETs in between, every entry's ref_bit stays false from
	// insertion, so the sweep evicts the oldest (FIFO) entry immediately.
	cs := NewCacheSet(0, 2, nil)
	cs.Put("a", []byte("1"))
	cs.Put("b", []byte("2"))
	cs.Put("c", []byte("3"))

	_, err := cs.Get("a")
	assert.ErrorIs(t, err, kverr.New(kverr.KindNoKey))

	v, err := cs.Get("b")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)
}

func TestCacheRoutesByHash(t *testing.T) {
	c := NewCache(4, 4, nil)
	c.Put([]byte("alpha"), []byte("1"))
	v, err := c.Get([]byte("alpha"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	err = c.Delete([]byte("alpha"))
	require.NoError(t, err)
	_, err = c.Get([]byte("alpha"))
	assert.Error(t, err)
}
