package telepathy

import (
	"context"
	"errors"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/puzpuzpuz/xsync/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Server accepts connections and runs a read and a write goroutine for
// each of them. Events from all connections share one receive pipe and
// are delivered by Tick.
type Server struct {
	Config

	// AcceptRate limits how fast new connections are accepted. Zero means
	// unlimited.
	AcceptRate  rate.Limit
	AcceptBurst int

	OnConnected    func(connectionID int)
	OnData         func(connectionID int, message []byte)
	OnDisconnected func(connectionID int)

	Logger  *zap.Logger
	Metrics *Metrics

	maxMessageSize int
	bind           func(address string) (net.Listener, error) // nil means net.Listen over TCP

	mu          sync.Mutex // guards run
	run         *serverRun
	receivePipe atomic.Pointer[ReceivePipe]

	connections *xsync.MapOf[int, *connection]
	counter     atomic.Int32
}

// serverRun is the state of one Start..Stop cycle.
type serverRun struct {
	ln     net.Listener
	cancel context.CancelFunc
	done   chan struct{} // closed when the accept loop exits
}

func NewServer(maxMessageSize int) *Server {
	return NewServerWithConfig(DefaultConfig(maxMessageSize))
}

func NewServerWithConfig(cfg Config) *Server {
	return &Server{
		Config:         cfg,
		maxMessageSize: cfg.MaxMessageSize,
		connections:    xsync.NewIntegerMapOf[int, *connection](),
	}
}

func (s *Server) log() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.L()
}

// Active reports whether the accept loop is running.
func (s *Server) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return false
	}
	select {
	case <-s.run.done:
		return false
	default:
		return true
	}
}

// Addr is the bound listen address, or nil if the server is stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return nil
	}
	return s.run.ln.Addr()
}

// ReceivePipeTotalCount is the number of events waiting for Tick.
func (s *Server) ReceivePipeTotalCount() int {
	pipe := s.receivePipe.Load()
	if pipe == nil {
		return 0
	}
	return pipe.TotalCount()
}

// Start binds port on all interfaces and accepts connections in the
// background. It returns false if the server is already active or the
// port cannot be bound. Port 0 picks an ephemeral port; see Addr.
func (s *Server) Start(port int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil {
		select {
		case <-s.run.done:
			// The accept loop died on its own; retire what it left behind.
			s.shutdown(s.run)
			s.run = nil
		default:
			s.log().Warn("server: already started")
			return false
		}
	}

	bind := s.bind
	if bind == nil {
		bind = func(address string) (net.Listener, error) { return net.Listen("tcp", address) }
	}
	ln, err := bind(HostAddr("", port))
	if err != nil {
		s.log().Error("server: failed to listen", zap.Int("port", port), zap.Error(err))
		return false
	}

	pipe := NewReceivePipe(s.maxMessageSize)
	s.receivePipe.Store(pipe)

	cfg := s.Config
	cfg.MaxMessageSize = s.maxMessageSize

	var limiter *rate.Limiter
	if s.AcceptRate > 0 {
		burst := s.AcceptBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(s.AcceptRate, burst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &serverRun{ln: ln, cancel: cancel, done: make(chan struct{})}
	s.run = run

	s.log().Info("server: listening", zap.Stringer("address", ln.Addr()))

	go s.listen(ctx, run, pipe, cfg, limiter)
	return true
}

func (s *Server) listen(ctx context.Context, run *serverRun, pipe *ReceivePipe, cfg Config, limiter *rate.Limiter) {
	defer close(run.done)

	log := s.log()
	b := &backoff.Backoff{
		Factor: 2,
		Jitter: true,
		Min:    5 * time.Millisecond,
		Max:    1 * time.Second,
	}

	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		nc, err := run.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info("server: stopped listening")
				return
			}
			if isTemporary(err) {
				d := b.Duration()
				log.Warn("server: accept failed, retrying", zap.Duration("delay", d), zap.Error(err))
				select {
				case <-time.After(d):
					continue
				case <-ctx.Done():
					return
				}
			}
			log.Error("server: accept failed", zap.Error(err))
			return
		}
		b.Reset()

		if err := applySocketOptions(nc, cfg); err != nil {
			log.Debug("server: failed to apply socket options", zap.Error(err))
		}

		id := s.nextConnectionID()
		conn := newConnection(ctx, id, nc, cfg)
		s.connections.Store(id, conn)

		connLog := log.With(zap.String("address", nc.RemoteAddr().String()))
		go writeLoop(conn, connLog, s.Metrics)
		go readLoop(conn, pipe, connLog, s.Metrics)
	}
}

// nextConnectionID hands out ids starting at 1. Running out of the 32-bit
// id space is unrecoverable.
func (s *Server) nextConnectionID() int {
	id := s.counter.Add(1)
	if id == math.MaxInt32 {
		panic("telepathy: connection id space exhausted")
	}
	return int(id)
}

// Stop closes the listener and every connection. Each closed connection
// still queues its EventDisconnected.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run == nil {
		return
	}
	s.shutdown(s.run)
	s.run = nil
}

func (s *Server) shutdown(run *serverRun) {
	run.cancel()
	if err := run.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log().Debug("server: failed to close listener", zap.Error(err))
	}
	// An Accept that won the race with Close may still be registering its
	// connection.
	<-run.done

	var conns []*connection
	s.connections.Range(func(id int, conn *connection) bool {
		conns = append(conns, conn)
		s.connections.Delete(id)
		return true
	})
	if err := closeAll(conns...); err != nil {
		s.log().Debug("server: errors while closing connections", zap.Error(err))
	}
	s.counter.Store(0)

	s.log().Info("server: stopped", zap.Int("connections", len(conns)))
}

// Send queues message for one connection. Unknown ids return false
// without logging: the connection is already gone.
func (s *Server) Send(connectionID int, message []byte) bool {
	conn, ok := s.connections.Load(connectionID)
	if !ok || conn.closed() {
		return false
	}
	return sendChecked(conn, message, s.log())
}

// Disconnect closes one connection and reports whether it was known.
func (s *Server) Disconnect(connectionID int) bool {
	conn, ok := s.connections.Load(connectionID)
	if !ok {
		return false
	}
	_ = conn.close()
	return true
}

// GetClientAddress returns the remote IP of a connection, or "".
func (s *Server) GetClientAddress(connectionID int) string {
	conn, ok := s.connections.Load(connectionID)
	if !ok {
		return ""
	}
	return remoteIP(conn.conn)
}

// Tick delivers up to processLimit queued events, see Client.Tick.
// Delivering EventDisconnected forgets the connection.
func (s *Server) Tick(processLimit int, checkEnabled func() bool) int {
	pipe := s.receivePipe.Load()
	if pipe == nil {
		return 0
	}

	for i := 0; i < processLimit; i++ {
		if checkEnabled != nil && !checkEnabled() {
			break
		}

		event, gen, ok := pipe.peek()
		if !ok {
			break
		}

		switch event.Type {
		case EventConnected:
			if s.OnConnected != nil {
				s.OnConnected(event.ConnectionID)
			}
		case EventData:
			if s.OnData != nil {
				s.OnData(event.ConnectionID, event.Data)
			}
		case EventDisconnected:
			s.connections.Delete(event.ConnectionID)
			if s.OnDisconnected != nil {
				s.OnDisconnected(event.ConnectionID)
			}
		}

		pipe.dequeue(gen)
	}
	return pipe.TotalCount()
}

func isTemporary(err error) bool {
	var te interface{ Temporary() bool }
	return errors.As(err, &te) && te.Temporary()
}
