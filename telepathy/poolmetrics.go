package telepathy

import (
	"fmt"
	"sync/atomic"
)

// na + nr equal the total number of takes
// na + nr - np equal the number of buffers still leased.
type PoolMetrics struct {
	na uint64 // number of new allocations
	nr uint64 // number of reuse from pool
	np uint64 // number of put back to pool
}

// PoolStats is a point in time copy of PoolMetrics.
type PoolStats struct {
	New      uint64
	Reused   uint64
	Returned uint64
}

// Leased is the number of items taken and not yet returned.
func (s PoolStats) Leased() uint64 { return s.New + s.Reused - s.Returned }

func (s PoolStats) String() string {
	return fmt.Sprintf("[ %v|%v|%v ]", s.New, s.Reused, s.Returned)
}

func (p *PoolMetrics) addNew()      { atomic.AddUint64(&p.na, 1) }
func (p *PoolMetrics) addReused()   { atomic.AddUint64(&p.nr, 1) }
func (p *PoolMetrics) addReturned() { atomic.AddUint64(&p.np, 1) }

func (p *PoolMetrics) Stats() PoolStats {
	return PoolStats{
		New:      atomic.LoadUint64(&p.na),
		Reused:   atomic.LoadUint64(&p.nr),
		Returned: atomic.LoadUint64(&p.np),
	}
}

// Buffer pools of every pipe in the process report into these.
var (
	sendBufferMetrics    = &PoolMetrics{}
	receiveBufferMetrics = &PoolMetrics{}
)

// SendPoolStats aggregates the buffer pools of all send pipes.
func SendPoolStats() PoolStats { return sendBufferMetrics.Stats() }

// ReceivePoolStats aggregates the buffer pools of all receive pipes.
func ReceivePoolStats() PoolStats { return receiveBufferMetrics.Stats() }

func PoolMetricsString() string {
	return fmt.Sprintf("{\"sendBufferPool\" = %s, \"receiveBufferPool\" = %s}",
		SendPoolStats(),
		ReceivePoolStats(),
	)
}
