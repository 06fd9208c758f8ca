package telepathy

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const waitTimeout = 5 * time.Second

// waitFor runs tick and then checks cond until cond holds or waitTimeout
// passes. Everything runs on the test goroutine, like a game loop would.
func waitFor(t testing.TB, what string, cond func() bool, tick func()) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		if tick != nil {
			tick()
		}
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			require.FailNow(t, "timed out waiting for "+what)
		}
		time.Sleep(time.Millisecond)
	}
}

func startServer(t testing.TB, maxMessageSize int, configure func(s *Server)) (*Server, int) {
	t.Helper()
	s := NewServer(maxMessageSize)
	s.Logger = zaptest.NewLogger(t)
	if configure != nil {
		configure(s)
	}
	require.True(t, s.Start(0))
	return s, s.Addr().(*net.TCPAddr).Port
}

func newClient(t testing.TB, maxMessageSize int) *Client {
	t.Helper()
	c := NewClient(maxMessageSize)
	c.Logger = zaptest.NewLogger(t)
	return c
}

// serverEvents records server callbacks. Payloads are copied because the
// slice handed to OnData is recycled after the callback returns.
type serverEvents struct {
	mu           sync.Mutex
	connected    []int
	disconnected []int
	data         map[int][][]byte
	trace        map[int][]EventType
}

func recordServer(s *Server) *serverEvents {
	e := &serverEvents{data: make(map[int][][]byte), trace: make(map[int][]EventType)}
	s.OnConnected = func(id int) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.connected = append(e.connected, id)
		e.trace[id] = append(e.trace[id], EventConnected)
	}
	s.OnData = func(id int, message []byte) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.data[id] = append(e.data[id], append([]byte(nil), message...))
		e.trace[id] = append(e.trace[id], EventData)
	}
	s.OnDisconnected = func(id int) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.disconnected = append(e.disconnected, id)
		e.trace[id] = append(e.trace[id], EventDisconnected)
	}
	return e
}

func (e *serverEvents) connectedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.connected)
}

func (e *serverEvents) disconnectedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.disconnected)
}

func (e *serverEvents) messages(id int) [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.data[id]...)
}

func (e *serverEvents) firstID() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.connected) == 0 {
		return 0
	}
	return e.connected[0]
}

type clientEvents struct {
	connected    int
	disconnected int
	data         [][]byte
	trace        []EventType
}

func recordClient(c *Client) *clientEvents {
	e := &clientEvents{}
	c.OnConnected = func() {
		e.connected++
		e.trace = append(e.trace, EventConnected)
	}
	c.OnData = func(message []byte) {
		e.data = append(e.data, append([]byte(nil), message...))
		e.trace = append(e.trace, EventData)
	}
	c.OnDisconnected = func() {
		e.disconnected++
		e.trace = append(e.trace, EventDisconnected)
	}
	return e
}

// requirePaired checks that trace is Connected, zero or more Data, then
// exactly one Disconnected.
func requirePaired(t testing.TB, trace []EventType) {
	t.Helper()
	require.GreaterOrEqual(t, len(trace), 2, "trace %v", trace)
	require.Equal(t, EventConnected, trace[0], "trace %v", trace)
	require.Equal(t, EventDisconnected, trace[len(trace)-1], "trace %v", trace)
	for _, typ := range trace[1 : len(trace)-1] {
		require.Equal(t, EventData, typ, "trace %v", trace)
	}
}

func repeat(b byte, n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return buf
}
