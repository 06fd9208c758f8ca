package telepathy

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"
)

// readLoop runs for the lifetime of c. It enqueues EventConnected, then
// one EventData per frame, and always ends with exactly one
// EventDisconnected for c.id, whatever made it stop.
func readLoop(c *connection, pipe *ReceivePipe, log *zap.Logger, m *Metrics) {
	log = log.With(zap.Int("connection_id", c.id))

	// Metrics are updated before the matching event is queued so that
	// whoever Ticks the event also observes the counter.
	m.connectionOpened()
	pipe.Enqueue(c.id, EventConnected, nil)

	reason := reasonClosed
	defer func() {
		if err := c.close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Debug("close failed", zap.Error(err))
		}
		m.connectionClosed(reason)
		pipe.Enqueue(c.id, EventDisconnected, nil)
	}()

	header := make([]byte, HeaderSize)
	payload := make([]byte, c.cfg.MaxMessageSize)

	for {
		if c.cfg.ReceiveTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReceiveTimeout)); err != nil {
				reason = classify(c, err)
				return
			}
		}

		size, err := ReadMessageBlocking(c.conn, c.cfg.MaxMessageSize, header, payload)
		if err != nil {
			reason = classify(c, err)
			switch reason {
			case reasonProtocol:
				log.Warn("possible header attack, dropping connection", zap.Error(err))
			case reasonIO:
				log.Info("read failed, dropping connection", zap.Error(err))
			default:
				log.Debug("connection ended", zap.String("reason", reason))
			}
			return
		}

		m.received(size)
		pipe.Enqueue(c.id, EventData, payload[:size])

		// A consumer that does not Tick fast enough gets disconnected
		// instead of growing the queue without bound.
		if limit := c.cfg.ReceiveQueueLimit; limit > 0 && pipe.Count(c.id) >= limit {
			log.Warn("receive queue limit reached, disconnecting", zap.Int("limit", limit))
			reason = reasonQueueLimit
			return
		}
	}
}

// writeLoop drains c's send pipe until c is closed or a write fails.
// While the pipe has backlog every wake up results in a single write of
// all pending frames; while it is empty the loop blocks on the signal.
func writeLoop(c *connection, log *zap.Logger, m *Metrics) {
	log = log.With(zap.Int("connection_id", c.id))
	defer c.close()

	for !c.closed() {
		c.resetSignal()

		buf := bytebufferpool.Get()
		n := c.sendPipe.DequeueAndSerializeAll(buf)
		if n == 0 {
			bytebufferpool.Put(buf)
			select {
			case <-c.sendPending:
			case <-c.ctx.Done():
			}
			continue
		}

		err := write(c, buf.B)
		size := buf.Len()
		bytebufferpool.Put(buf)
		if err != nil {
			if !c.closed() {
				log.Info("write failed, dropping connection", zap.Error(err))
			}
			return
		}
		m.wrote(n, size)
	}
}

func write(c *connection, b []byte) error {
	if c.cfg.SendTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.SendTimeout)); err != nil {
			return err
		}
	}
	_, err := c.conn.Write(b)
	return err
}

func classify(c *connection, err error) string {
	switch {
	case errors.Is(err, ErrInvalidSize):
		return reasonProtocol
	case c.closed(), errors.Is(err, net.ErrClosed):
		return reasonClosed
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return reasonEOF
	default:
		return reasonIO
	}
}
