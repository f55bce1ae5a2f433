package indexcache

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nuclia/nidx/internal/nidxerrors"
)

type fakeSearcher struct {
	id     string
	closed bool
}

func (f *fakeSearcher) Close() error {
	f.closed = true
	return nil
}

// TestConcurrentGetLoadsOnce is Invariant 8 of §8: two concurrent Get calls
// on a cold entry invoke the loader exactly once.
func TestConcurrentGetLoadsOnce(t *testing.T) {
	var loads int32
	loader := func(id string) (Searcher, error) {
		atomic.AddInt32(&loads, 1)
		return &fakeSearcher{id: id}, nil
	}
	c := New(10, loader)

	var wg sync.WaitGroup
	const n = 20
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := c.Get("idx1")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&loads))
	require.Equal(t, 1, c.Len())
}

// TestReloadAfterDeleteEvicts is Scenario F of §8: after an index is
// deleted from the metadata store, Reload drops it from the cache, and a
// subsequent Get surfaces the loader's NotFound error.
func TestReloadAfterDeleteEvicts(t *testing.T) {
	deleted := false
	loader := func(id string) (Searcher, error) {
		if deleted {
			return nil, nidxerrors.NotFound("index %s no longer exists", id)
		}
		return &fakeSearcher{id: id}, nil
	}
	c := New(10, loader)

	_, err := c.Get("idx1")
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	deleted = true
	require.NoError(t, c.Reload("idx1"))
	require.Equal(t, 0, c.Len())

	_, err = c.Get("idx1")
	require.Error(t, err)
	require.True(t, nidxerrors.Is(err, nidxerrors.KindNotFound))
}

// TestEvictionSecondChance confirms an entry evicted from the LRU for
// capacity reasons, but still referenced, is revived without a reload when
// requested again.
func TestEvictionSecondChance(t *testing.T) {
	loader := func(id string) (Searcher, error) { return &fakeSearcher{id: id}, nil }
	c := New(1, loader)

	s1, err := c.Get("a")
	require.NoError(t, err)
	_, err = c.Get("b")
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	revived, err := c.Get("a")
	require.NoError(t, err)
	require.Same(t, s1, revived)
	require.False(t, s1.(*fakeSearcher).closed)
}

// TestReleaseClosesEvictedEntryAtZeroRefs confirms Release tears down an
// evicted entry once its last reference drops.
func TestReleaseClosesEvictedEntryAtZeroRefs(t *testing.T) {
	loader := func(id string) (Searcher, error) { return &fakeSearcher{id: id}, nil }
	c := New(1, loader)

	s1, err := c.Get("a")
	require.NoError(t, err)
	_, err = c.Get("b") // evicts "a" into the weak-reference map
	require.NoError(t, err)

	c.Release("a")
	require.True(t, s1.(*fakeSearcher).closed)
}
