package telepathy

import "sync"

type EventType byte

const (
	EventConnected EventType = iota
	EventData
	EventDisconnected
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventData:
		return "data"
	case EventDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Event is one queued receive record. Data is only set for EventData and
// points into a pooled buffer owned by the pipe.
type Event struct {
	ConnectionID int
	Type         EventType
	Data         []byte
}

// compactThreshold bounds how many dequeued slots are kept at the front
// of the queue before it is shifted down.
const compactThreshold = 1024

// ReceivePipe is the inbound event queue. A Server shares one pipe across
// all of its connections; a Client owns one. Order is global arrival
// order, while Count tracks queued events per connection so read loops
// can shed slow consumers.
type ReceivePipe struct {
	mu     sync.Mutex
	queue  []Event
	head   int
	counts map[int]int
	pool   *Pool[[]byte]

	// gen is bumped by Clear. delivering is set between peek and dequeue;
	// a Clear in that window parks the head's buffer in orphan instead of
	// recycling it, since a callback may still be reading it.
	gen        uint64
	delivering bool
	orphan     []byte
}

func NewReceivePipe(maxMessageSize int) *ReceivePipe {
	return &ReceivePipe{
		counts: make(map[int]int),
		pool: newPoolWithMetrics(func() []byte {
			return make([]byte, maxMessageSize)
		}, receiveBufferMetrics),
	}
}

// Count is the number of queued events for one connection.
func (p *ReceivePipe) Count(connectionID int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[connectionID]
}

// TotalCount is the number of queued events across all connections.
func (p *ReceivePipe) TotalCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) - p.head
}

// Enqueue appends an event. For EventData, message is copied into a
// pooled buffer, so the caller may reuse message right away.
func (p *ReceivePipe) Enqueue(connectionID int, eventType EventType, message []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	event := Event{ConnectionID: connectionID, Type: eventType}
	if eventType == EventData {
		buf := p.pool.Take()
		n := copy(buf, message)
		event.Data = buf[:n]
	}

	p.queue = append(p.queue, event)
	p.counts[connectionID]++
}

// TryPeek returns the oldest event without removing it. Its Data stays
// valid until the matching TryDequeue.
func (p *ReceivePipe) TryPeek() (Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.head == len(p.queue) {
		return Event{}, false
	}
	return p.queue[p.head], true
}

// TryDequeue removes the oldest event and recycles its buffer.
func (p *ReceivePipe) TryDequeue() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dequeueLocked()
}

// peek is TryPeek for Tick. It returns the generation that the matching
// dequeue has to present.
func (p *ReceivePipe) peek() (Event, uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.head == len(p.queue) {
		return Event{}, p.gen, false
	}
	p.delivering = true
	return p.queue[p.head], p.gen, true
}

// dequeue removes the event handed out by peek. If the pipe was cleared
// in between, that event is already gone: nothing else is removed and
// only its parked buffer is recycled.
func (p *ReceivePipe) dequeue(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.delivering = false
	if gen != p.gen {
		if p.orphan != nil {
			p.pool.Return(p.orphan[:cap(p.orphan)])
			p.orphan = nil
		}
		return false
	}
	return p.dequeueLocked()
}

func (p *ReceivePipe) dequeueLocked() bool {
	if p.head == len(p.queue) {
		return false
	}

	event := p.queue[p.head]
	p.queue[p.head] = Event{}
	p.head++
	p.release(event)

	switch {
	case p.head == len(p.queue):
		p.queue = p.queue[:0]
		p.head = 0
	case p.head >= compactThreshold && p.head*2 >= len(p.queue):
		n := copy(p.queue, p.queue[p.head:])
		for i := n; i < len(p.queue); i++ {
			p.queue[i] = Event{}
		}
		p.queue = p.queue[:n]
		p.head = 0
	}
	return true
}

// Clear drops every queued event and resets all per connection counts.
func (p *ReceivePipe) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := p.head; i < len(p.queue); i++ {
		event := p.queue[i]
		p.queue[i] = Event{}
		if event.Data == nil {
			continue
		}
		if i == p.head && p.delivering {
			p.orphan = event.Data
			continue
		}
		p.pool.Return(event.Data[:cap(event.Data)])
	}
	p.queue = p.queue[:0]
	p.head = 0
	for id := range p.counts {
		delete(p.counts, id)
	}
	p.delivering = false
	p.gen++
}

func (p *ReceivePipe) release(event Event) {
	if event.Data != nil {
		p.pool.Return(event.Data[:cap(event.Data)])
	}
	if n := p.counts[event.ConnectionID] - 1; n > 0 {
		p.counts[event.ConnectionID] = n
	} else {
		delete(p.counts, event.ConnectionID)
	}
}
