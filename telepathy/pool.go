package telepathy

// Pool is an unbounded free list of reusable items. Items are never
// released once allocated; the pool keeps its high water mark.
//
// Pool is not safe for concurrent use. The pipes only touch their pool
// while holding their own lock.
type Pool[T any] struct {
	items   []T
	factory func() T
	m       *PoolMetrics
}

func NewPool[T any](factory func() T) *Pool[T] {
	return newPoolWithMetrics(factory, &PoolMetrics{})
}

func newPoolWithMetrics[T any](factory func() T, m *PoolMetrics) *Pool[T] {
	return &Pool[T]{factory: factory, m: m}
}

// Take pops the most recently returned item, or allocates a new one.
func (p *Pool[T]) Take() T {
	n := len(p.items)
	if n == 0 {
		p.m.addNew()
		return p.factory()
	}
	item := p.items[n-1]
	var zero T
	p.items[n-1] = zero
	p.items = p.items[:n-1]
	p.m.addReused()
	return item
}

// Return pushes item back. Duplicates are not detected: the caller must
// not keep using item afterwards.
func (p *Pool[T]) Return(item T) {
	p.items = append(p.items, item)
	p.m.addReturned()
}

// Count is the number of idle items.
func (p *Pool[T]) Count() int { return len(p.items) }

// Clear drops all idle items. Leased items are unaffected.
func (p *Pool[T]) Clear() {
	var zero T
	for i := range p.items {
		p.items[i] = zero
	}
	p.items = p.items[:0]
}

func (p *Pool[T]) Stats() PoolStats { return p.m.Stats() }
