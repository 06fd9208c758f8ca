package telepathy

import (
	"context"
	"net"
	"sync"

	"go.uber.org/multierr"
)

// connection is the state of one live socket: the socket itself, its
// send pipe and the signal that wakes its write loop.
type connection struct {
	id   int
	conn net.Conn
	cfg  Config

	sendPipe    *SendPipe
	sendPending chan struct{} // wakes the write loop; capacity 1

	ctx    context.Context
	cancel context.CancelFunc

	once     sync.Once
	closeErr error
}

func newConnection(parent context.Context, id int, conn net.Conn, cfg Config) *connection {
	ctx, cancel := context.WithCancel(parent)
	return &connection{
		id:          id,
		conn:        conn,
		cfg:         cfg,
		sendPipe:    NewSendPipe(cfg.MaxMessageSize),
		sendPending: make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// send enqueues message and wakes the write loop.
func (c *connection) send(message []byte) {
	c.sendPipe.Enqueue(message)
	c.signal()
}

func (c *connection) signal() {
	select {
	case c.sendPending <- struct{}{}:
	default:
	}
}

// resetSignal drops a pending wake up. The write loop calls it before
// looking at the pipe so an enqueue racing with the drain is not lost.
func (c *connection) resetSignal() {
	select {
	case <-c.sendPending:
	default:
	}
}

func (c *connection) closed() bool {
	return c.ctx.Err() != nil
}

// close tears the connection down. It is safe to call from any goroutine
// and any number of times; blocked reads and writes fail once the socket
// is closed, and a write loop waiting for work sees the context end.
func (c *connection) close() error {
	c.once.Do(func() {
		c.cancel()
		c.closeErr = c.conn.Close()
		c.sendPipe.Clear()
	})
	return c.closeErr
}

// backlog reports whether the send pipe is at or beyond limit.
func (c *connection) backlog(limit int) bool {
	return limit > 0 && c.sendPipe.Count() >= limit
}

func closeAll(conns ...*connection) error {
	var err error
	for _, c := range conns {
		err = multierr.Append(err, c.close())
	}
	return err
}
