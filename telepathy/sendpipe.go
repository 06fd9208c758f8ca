package telepathy

import (
	"sync"

	"github.com/valyala/bytebufferpool"
)

// SendPipe is the outbound queue of one connection. Send calls enqueue
// from any goroutine; the write loop drains everything pending in one go
// and hands the socket a single contiguous buffer.
type SendPipe struct {
	mu    sync.Mutex
	queue [][]byte
	pool  *Pool[[]byte]
}

func NewSendPipe(maxMessageSize int) *SendPipe {
	return &SendPipe{
		pool: newPoolWithMetrics(func() []byte {
			return make([]byte, maxMessageSize)
		}, sendBufferMetrics),
	}
}

func (p *SendPipe) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Enqueue copies message into a pooled buffer. The caller has already
// checked len(message) against the max message size.
func (p *SendPipe) Enqueue(message []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := p.pool.Take()
	n := copy(buf, message)
	p.queue = append(p.queue, buf[:n])
}

// DequeueAndSerializeAll appends a frame for every pending message to buf,
// in FIFO order, and returns how many messages were written. Zero means
// the pipe was empty.
func (p *SendPipe) DequeueAndSerializeAll(buf *bytebufferpool.ByteBuffer) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.queue)
	for i, message := range p.queue {
		buf.B = AppendFrame(buf.B, message)
		p.pool.Return(message[:cap(message)])
		p.queue[i] = nil
	}
	p.queue = p.queue[:0]
	return n
}

// Clear drops pending messages, returning their buffers to the pool.
func (p *SendPipe) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, message := range p.queue {
		p.pool.Return(message[:cap(message)])
		p.queue[i] = nil
	}
	p.queue = p.queue[:0]
}

// pooled is the number of idle buffers, exposed for tests.
func (p *SendPipe) pooled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool.Count()
}
