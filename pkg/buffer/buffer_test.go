package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorstream/metric"
)

func mustRing[T any](t *testing.T, capacity int, opts ...Option) *Ring[T] {
	t.Helper()
	r, err := NewRing[T](capacity, opts...)
	require.NoError(t, err)
	return r
}

func TestRing_WriteThenRead(t *testing.T) {
	r := mustRing[string](t, 3)

	r.Write("first")
	r.Write("second")
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 3, r.Cap())

	v, ok := r.Read()
	require.True(t, ok)
	assert.Equal(t, "first", v)

	v, ok = r.Read()
	require.True(t, ok)
	assert.Equal(t, "second", v)

	_, ok = r.Read()
	assert.False(t, ok, "empty ring must not yield items")
	assert.Equal(t, 0, r.Len())
}

func TestRing_DropOldestKeepsNewestWindow(t *testing.T) {
	r := mustRing[int](t, 3)

	for i := 1; i <= 5; i++ {
		r.Write(i)
	}

	assert.Equal(t, []int{3, 4, 5}, r.Items())
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, int64(2), r.Stats().Drops())
}

func TestRing_DropNewestKeepsStoredWindow(t *testing.T) {
	r := mustRing[int](t, 3, WithPolicy(DropNewest))

	for i := 1; i <= 5; i++ {
		r.Write(i)
	}

	assert.Equal(t, []int{1, 2, 3}, r.Items())
	assert.Equal(t, int64(2), r.Stats().Drops())
}

func TestRing_ItemsDoesNotConsume(t *testing.T) {
	r := mustRing[int](t, 4)
	r.Write(10)
	r.Write(20)

	first := r.Items()
	second := r.Items()
	assert.Equal(t, first, second)
	assert.Equal(t, 2, r.Len())

	// The returned slice is a copy, not a view into the ring.
	first[0] = 99
	assert.Equal(t, []int{10, 20}, r.Items())
}

func TestRing_ItemsOrderAcrossWrap(t *testing.T) {
	r := mustRing[int](t, 3)

	r.Write(1)
	r.Write(2)
	if _, ok := r.Read(); !ok {
		t.Fatal("read failed")
	}
	r.Write(3)
	r.Write(4) // wraps the backing slice

	assert.Equal(t, []int{2, 3, 4}, r.Items())
}

func TestRing_EmptyItemsIsNil(t *testing.T) {
	r := mustRing[int](t, 2)
	assert.Nil(t, r.Items())
}

func TestRing_Clear(t *testing.T) {
	r := mustRing[int](t, 3)
	r.Write(1)
	r.Write(2)

	r.Clear()

	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.Items())

	// The ring stays usable after Clear.
	r.Write(7)
	assert.Equal(t, []int{7}, r.Items())
}

func TestRing_CapacityClamp(t *testing.T) {
	r := mustRing[int](t, 0)
	assert.Equal(t, 1, r.Cap())

	r.Write(1)
	r.Write(2)
	assert.Equal(t, []int{2}, r.Items())
}

func TestRing_Stats(t *testing.T) {
	r := mustRing[int](t, 2)

	r.Write(1)
	r.Write(2)
	r.Write(3) // drops oldest
	if _, ok := r.Read(); !ok {
		t.Fatal("read failed")
	}

	s := r.Stats()
	assert.Equal(t, int64(3), s.Writes())
	assert.Equal(t, int64(1), s.Reads())
	assert.Equal(t, int64(1), s.Drops())
	assert.Equal(t, int64(1), s.Len())
	assert.Equal(t, int64(2), s.MaxLen())
	assert.Positive(t, s.Uptime())
}

func TestRing_PolicyString(t *testing.T) {
	assert.Equal(t, "DropOldest", DropOldest.String())
	assert.Equal(t, "DropNewest", DropNewest.String())
	assert.Equal(t, "Unknown", DropPolicy(42).String())
}

// Writers, readers, and snapshotters race here; run with -race. The
// accounting invariant writes - reads - drops == len must hold once
// everything settles.
func TestRing_ConcurrentAccess(t *testing.T) {
	r := mustRing[int](t, 64)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				r.Write(base*1000 + i)
			}
		}(w)
	}
	for c := 0; c < 2; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				r.Read()
				r.Items()
			}
		}()
	}
	wg.Wait()

	s := r.Stats()
	assert.Equal(t, int64(r.Len()), s.Writes()-s.Reads()-s.Drops())
	assert.LessOrEqual(t, r.Len(), r.Cap())
}

func TestRing_MetricsExport(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	r, err := NewRing[int](2, WithMetrics(registry, "history_test"))
	require.NoError(t, err)

	r.Write(1)
	r.Write(2)
	r.Write(3)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	assert.True(t, found["sensorstream_ring_writes_total"], "writes counter not exported")
	assert.True(t, found["sensorstream_ring_drops_total"], "drops counter not exported")
	assert.True(t, found["sensorstream_ring_size"], "size gauge not exported")
}

func TestRing_MetricsNameCollision(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	_, err := NewRing[int](2, WithMetrics(registry, "dup"))
	require.NoError(t, err)

	_, err = NewRing[int](2, WithMetrics(registry, "dup"))
	assert.Error(t, err, "second ring under the same component must fail registration")
}

func TestRing_NilRegistryIgnored(t *testing.T) {
	r, err := NewRing[int](2, WithMetrics(nil, "ignored"))
	require.NoError(t, err)
	r.Write(1)
	assert.Equal(t, 1, r.Len())
}
