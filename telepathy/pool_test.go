package telepathy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolReuse(t *testing.T) {
	allocs := 0
	p := NewPool(func() []byte {
		allocs++
		return make([]byte, 16)
	})

	a := p.Take()
	p.Return(a)
	b := p.Take()

	require.Same(t, &a[0], &b[0])
	require.Equal(t, 1, allocs)

	stats := p.Stats()
	require.EqualValues(t, 1, stats.New)
	require.EqualValues(t, 1, stats.Reused)
	require.EqualValues(t, 1, stats.Returned)
	require.EqualValues(t, 1, stats.Leased())
}

func TestPoolTakeAllocatesWhenEmpty(t *testing.T) {
	allocs := 0
	p := NewPool(func() *int {
		allocs++
		return new(int)
	})

	a, b := p.Take(), p.Take()
	require.NotSame(t, a, b)
	require.Equal(t, 2, allocs)
	require.Zero(t, p.Count())

	p.Return(a)
	p.Return(b)
	require.Equal(t, 2, p.Count())

	// most recently returned first
	require.Same(t, b, p.Take())
	require.Same(t, a, p.Take())
	require.Equal(t, 2, allocs)
}

func TestPoolClear(t *testing.T) {
	p := NewPool(func() []byte { return make([]byte, 4) })

	leased := p.Take()
	p.Return(p.Take())
	p.Return(p.Take())
	require.Equal(t, 1, p.Count())

	p.Clear()
	require.Zero(t, p.Count())

	// leased items are untouched and can still come back
	p.Return(leased)
	require.Equal(t, 1, p.Count())
	got := p.Take()
	require.Same(t, &leased[0], &got[0])
}
