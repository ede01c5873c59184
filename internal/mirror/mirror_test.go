package mirror

import (
	"context"
	"sync"
	"testing"

	"github.com/cloudoperators/greenhouse-mirror/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	mu     sync.Mutex
	size   map[string]int
	events map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{size: map[string]int{}, events: map[string]int{}}
}

func (r *fakeRecorder) ObserveSize(watch string, size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.size[watch] = size
}

func (r *fakeRecorder) ObserveEvents(watch, eventType string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[watch+"/"+eventType] += count
}

func newTestMirror() *Mirror {
	return New("clusters", logger.NewTestLogger())
}

func TestMirrorScenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("repeated upsert of same payload", func(t *testing.T) {
		m := newTestMirror()
		m.Upsert(ctx, EventAdded, []Resource{res("x1")})
		assert.Equal(t, Collection{res("x1")}, m.Current())

		m.Upsert(ctx, EventAdded, []Resource{res("x1")})
		assert.Equal(t, Collection{res("x1")}, m.Current())
		assert.Equal(t, 1, m.Len())
	})

	t.Run("upsert replaces payload", func(t *testing.T) {
		m := newTestMirror()
		m.Upsert(ctx, EventAdded, []Resource{res("x1", "v", 1)})
		m.Upsert(ctx, EventModified, []Resource{res("x1", "v", 2)})

		got := m.Current()
		require.Len(t, got, 1)
		assert.Equal(t, 2, got[0].Object["v"])
	})

	t.Run("delete present name", func(t *testing.T) {
		m := newTestMirror()
		m.Upsert(ctx, EventAdded, []Resource{res("x1")})
		m.Delete(ctx, []Resource{res("x1")})
		assert.Empty(t, m.Current())
	})

	t.Run("delete absent name", func(t *testing.T) {
		m := newTestMirror()
		m.Upsert(ctx, EventAdded, []Resource{res("x1")})
		m.Delete(ctx, []Resource{res("doesnotexist")})
		assert.Equal(t, Collection{res("x1")}, m.Current())
	})
}

func TestMirrorAddedAndModifiedAreEquivalent(t *testing.T) {
	ctx := context.Background()
	batches := [][]Resource{
		{res("a"), res("b")},
		{res("b", "v", 2)},
		{res("c")},
	}

	viaAdd, viaModify := newTestMirror(), newTestMirror()
	for _, b := range batches {
		viaAdd.Upsert(ctx, EventAdded, b)
		viaModify.Upsert(ctx, EventModified, b)
	}
	assert.Equal(t, viaAdd.Current(), viaModify.Current())
}

func TestMirrorCurrentIsACopy(t *testing.T) {
	ctx := context.Background()
	m := newTestMirror()
	m.Upsert(ctx, EventAdded, []Resource{res("a", "v", 1)})

	snap := m.Current()
	snap[0].Object["v"] = 99
	snap[0].Name = "changed"

	got, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, got.Object["v"])

	_, ok = m.Get("changed")
	assert.False(t, ok)
}

func TestMirrorEmptyBatchIsIgnored(t *testing.T) {
	m := newTestMirror()
	calls := 0
	m.Subscribe(func(Collection) { calls++ })

	m.Upsert(context.Background(), EventAdded, nil)
	m.Delete(context.Background(), []Resource{})
	assert.Zero(t, calls)
}

func TestMirrorSubscribe(t *testing.T) {
	ctx := context.Background()
	m := newTestMirror()

	var seen [][]string
	unsubscribe := m.Subscribe(func(c Collection) {
		seen = append(seen, c.Names())
	})

	m.Upsert(ctx, EventAdded, []Resource{res("a"), res("b")})
	m.Delete(ctx, []Resource{res("a")})
	unsubscribe()
	unsubscribe()
	m.Upsert(ctx, EventAdded, []Resource{res("c")})

	assert.Equal(t, [][]string{{"a", "b"}, {"b"}}, seen)
}

func TestMirrorCloseStopsPublishing(t *testing.T) {
	ctx := context.Background()
	m := newTestMirror()

	calls := 0
	m.Subscribe(func(Collection) { calls++ })
	m.Upsert(ctx, EventAdded, []Resource{res("a")})
	m.Close()
	m.Upsert(ctx, EventAdded, []Resource{res("b")})

	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"a", "b"}, m.Current().Names())

	m.Subscribe(func(Collection) { calls++ })()
	m.Upsert(ctx, EventAdded, []Resource{res("c")})
	assert.Equal(t, 1, calls)
}

func TestMirrorBatchIsAtomicForReaders(t *testing.T) {
	ctx := context.Background()
	m := newTestMirror()

	const batchSize = 50
	batch := func(gen int) []Resource {
		items := make([]Resource, batchSize)
		for i := range items {
			items[i] = res(string(rune('A'+i%26))+string(rune('a'+i/26)), "gen", gen)
		}
		return items
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for gen := 0; gen < 100; gen++ {
			m.Upsert(ctx, EventModified, batch(gen))
		}
		close(done)
	}()

	for {
		select {
		case <-done:
			wg.Wait()
			assert.Equal(t, batchSize, m.Len())
			return
		default:
		}
		snap := m.Current()
		if len(snap) == 0 {
			continue
		}
		require.Len(t, snap, batchSize)
		gen := snap[0].Object["gen"]
		for _, r := range snap {
			require.Equal(t, gen, r.Object["gen"], "reader saw a partially applied batch")
		}
	}
}

func TestMirrorNotifiesInCommitOrder(t *testing.T) {
	ctx := context.Background()
	m := newTestMirror()

	var mu sync.Mutex
	var sizes []int
	m.Subscribe(func(c Collection) {
		mu.Lock()
		defer mu.Unlock()
		sizes = append(sizes, len(c))
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Upsert(ctx, EventAdded, []Resource{res(string(rune('a' + i)))})
		}(i)
	}
	wg.Wait()

	require.Len(t, sizes, 20)
	for i := range sizes {
		assert.Equal(t, i+1, sizes[i])
	}
}

func TestMirrorDiagnostics(t *testing.T) {
	ctx := context.Background()
	log, capture := logger.NewCaptureLogger()
	m := New("plugins", log)

	m.Upsert(ctx, EventModified, []Resource{res("p1")})
	assert.True(t, capture.Contains("unexpected insert via modify"))
	assert.False(t, capture.Contains("unexpected overwrite via add"))

	capture.Reset()
	m.Upsert(ctx, EventAdded, []Resource{res("p1")})
	assert.True(t, capture.Contains("unexpected overwrite via add"))

	capture.Reset()
	m.Upsert(ctx, EventAdded, []Resource{res("p2")})
	m.Upsert(ctx, EventModified, []Resource{res("p2", "v", 2)})
	assert.False(t, capture.Contains("unexpected"))

	assert.Equal(t, []string{"p1", "p2"}, m.Current().Names())
}

func TestMirrorRecorder(t *testing.T) {
	ctx := context.Background()
	rec := newFakeRecorder()
	m := New("secrets", logger.NewTestLogger(), WithRecorder(rec))

	m.Upsert(ctx, EventAdded, []Resource{res("s1"), res("s2")})
	m.Upsert(ctx, EventModified, []Resource{res("s1")})
	m.Delete(ctx, []Resource{res("s2")})

	assert.Equal(t, 1, rec.size["secrets"])
	assert.Equal(t, 2, rec.events["secrets/added"])
	assert.Equal(t, 1, rec.events["secrets/modified"])
	assert.Equal(t, 1, rec.events["secrets/deleted"])
	assert.Equal(t, "secrets", m.Name())
}
