package telepathy

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Client is a single connection to a Server. All socket I/O happens on
// background goroutines; callbacks run on whichever goroutine calls Tick.
type Client struct {
	Config

	OnConnected    func()
	OnData         func(message []byte)
	OnDisconnected func()

	Logger  *zap.Logger
	Metrics *Metrics

	maxMessageSize int
	mu             sync.Mutex // serializes Connect and Disconnect
	state          atomic.Pointer[clientState]
	receivePipe    *ReceivePipe
}

// clientState lives from one Connect call until the next. The dial and
// read loop goroutine owns it; Disconnect may cancel it at any point.
type clientState struct {
	connecting atomic.Bool
	conn       atomic.Pointer[connection]
	cancel     context.CancelFunc
	done       chan struct{} // closed once the final event is queued
}

func NewClient(maxMessageSize int) *Client {
	return NewClientWithConfig(DefaultConfig(maxMessageSize))
}

func NewClientWithConfig(cfg Config) *Client {
	return &Client{
		Config:         cfg,
		maxMessageSize: cfg.MaxMessageSize,
		receivePipe:    NewReceivePipe(cfg.MaxMessageSize),
	}
}

func (c *Client) log() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.L()
}

// Connected reports whether the socket is currently open.
func (c *Client) Connected() bool {
	return c.current() != nil
}

// Connecting reports whether a dial is in flight.
func (c *Client) Connecting() bool {
	st := c.state.Load()
	return st != nil && st.connecting.Load()
}

// ReceivePipeCount is the number of events waiting for Tick.
func (c *Client) ReceivePipeCount() int {
	return c.receivePipe.TotalCount()
}

func (c *Client) current() *connection {
	st := c.state.Load()
	if st == nil {
		return nil
	}
	conn := st.conn.Load()
	if conn == nil || conn.closed() {
		return nil
	}
	return conn
}

// Connect starts dialing host:port in the background and returns
// immediately. Failures never surface here: a failed dial queues an
// EventDisconnected that the next Tick delivers.
func (c *Client) Connect(host string, port int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Connecting() || c.Connected() {
		c.log().Warn("client: already connecting or connected")
		return
	}

	// The previous connection is already closed; wait for its read loop
	// to queue its last event, then drop whatever is left so stale events
	// never reach the new connection.
	if prev := c.state.Load(); prev != nil {
		<-prev.done
	}
	c.receivePipe.Clear()

	cfg := c.Config
	cfg.MaxMessageSize = c.maxMessageSize

	ctx, cancel := context.WithCancel(context.Background())
	st := &clientState{cancel: cancel, done: make(chan struct{})}
	st.connecting.Store(true)
	c.state.Store(st)

	go c.run(ctx, st, cfg, HostAddr(host, port))
}

func (c *Client) run(ctx context.Context, st *clientState, cfg Config, address string) {
	defer close(st.done)
	defer st.cancel()

	log := c.log().With(zap.String("address", address))

	var dialer net.Dialer
	nc, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		st.connecting.Store(false)
		log.Info("client: failed to connect", zap.Error(err))
		c.receivePipe.Enqueue(0, EventDisconnected, nil)
		return
	}

	if err := applySocketOptions(nc, cfg); err != nil {
		log.Debug("client: failed to apply socket options", zap.Error(err))
	}

	conn := newConnection(ctx, 0, nc, cfg)
	st.conn.Store(conn)
	st.connecting.Store(false)

	// Disconnect may have run between the dial and the store above.
	if ctx.Err() != nil {
		_ = conn.close()
	}

	go writeLoop(conn, log, c.Metrics)
	readLoop(conn, c.receivePipe, log, c.Metrics)
}

// Disconnect closes the connection or aborts a dial in flight. It is a
// no-op if the client is neither connecting nor connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state.Load()
	if st == nil {
		return
	}
	if !st.connecting.Load() && c.current() == nil {
		return
	}

	st.connecting.Store(false)
	st.cancel()
	if conn := st.conn.Load(); conn != nil {
		_ = conn.close()
	}
}

// Send queues message for the write loop. It returns false if the client
// is not connected, if message is empty or larger than MaxMessageSize, or
// if the send pipe already holds SendQueueLimit messages. In the last case
// the connection is closed as well.
func (c *Client) Send(message []byte) bool {
	conn := c.current()
	if conn == nil {
		c.log().Warn("client: send while not connected")
		return false
	}
	return sendChecked(conn, message, c.log())
}

// Tick delivers up to processLimit queued events to the callbacks on the
// calling goroutine. checkEnabled, if set, is consulted before each event
// and stops processing when it returns false. The returned value is the
// number of events still queued. Callbacks may call Connect; events of
// the new connection are then delivered by this or the next Tick.
func (c *Client) Tick(processLimit int, checkEnabled func() bool) int {
	for i := 0; i < processLimit; i++ {
		if checkEnabled != nil && !checkEnabled() {
			break
		}

		event, gen, ok := c.receivePipe.peek()
		if !ok {
			break
		}

		switch event.Type {
		case EventConnected:
			if c.OnConnected != nil {
				c.OnConnected()
			}
		case EventData:
			if c.OnData != nil {
				c.OnData(event.Data)
			}
		case EventDisconnected:
			if c.OnDisconnected != nil {
				c.OnDisconnected()
			}
		}

		c.receivePipe.dequeue(gen)
	}
	return c.receivePipe.TotalCount()
}

// sendChecked applies the size and backpressure checks shared by Client
// and Server before enqueuing.
func sendChecked(conn *connection, message []byte, log *zap.Logger) bool {
	switch {
	case len(message) == 0:
		log.Error("send rejected", zap.Int("connection_id", conn.id), zap.Error(ErrEmptyMessage))
		return false
	case len(message) > conn.cfg.MaxMessageSize:
		log.Error("send rejected",
			zap.Int("connection_id", conn.id),
			zap.Int("size", len(message)),
			zap.Int("max", conn.cfg.MaxMessageSize),
			zap.Error(ErrMessageTooLarge))
		return false
	case conn.backlog(conn.cfg.SendQueueLimit):
		log.Warn("send queue limit reached, disconnecting",
			zap.Int("connection_id", conn.id),
			zap.Int("limit", conn.cfg.SendQueueLimit))
		_ = conn.close()
		return false
	}
	conn.send(message)
	return true
}
