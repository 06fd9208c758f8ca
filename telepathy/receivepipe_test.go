package telepathy

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReceivePipeOrderAcrossConnections(t *testing.T) {
	p := NewReceivePipe(16)

	p.Enqueue(1, EventConnected, nil)
	p.Enqueue(2, EventConnected, nil)
	p.Enqueue(1, EventData, []byte("hi"))
	p.Enqueue(2, EventData, []byte("yo"))
	p.Enqueue(1, EventDisconnected, nil)

	require.Equal(t, 5, p.TotalCount())
	require.Equal(t, 3, p.Count(1))
	require.Equal(t, 2, p.Count(2))
	require.Zero(t, p.Count(3))

	want := []Event{
		{ConnectionID: 1, Type: EventConnected},
		{ConnectionID: 2, Type: EventConnected},
		{ConnectionID: 1, Type: EventData, Data: []byte("hi")},
		{ConnectionID: 2, Type: EventData, Data: []byte("yo")},
		{ConnectionID: 1, Type: EventDisconnected},
	}
	for _, w := range want {
		got, ok := p.TryPeek()
		require.True(t, ok)
		require.Equal(t, w, got)
		require.True(t, p.TryDequeue())
	}

	_, ok := p.TryPeek()
	require.False(t, ok)
	require.False(t, p.TryDequeue())
	require.Zero(t, p.TotalCount())
	require.Zero(t, p.Count(1))
	require.Zero(t, p.Count(2))
}

func TestReceivePipePeekKeepsEvent(t *testing.T) {
	p := NewReceivePipe(16)
	p.Enqueue(7, EventData, []byte("abc"))

	first, ok := p.TryPeek()
	require.True(t, ok)
	second, ok := p.TryPeek()
	require.True(t, ok)
	require.Equal(t, first, second)
	require.Equal(t, 1, p.TotalCount())
}

func TestReceivePipeCopiesData(t *testing.T) {
	p := NewReceivePipe(16)

	msg := []byte("abc")
	p.Enqueue(1, EventData, msg)
	msg[0] = 'X'

	event, ok := p.TryPeek()
	require.True(t, ok)
	require.Equal(t, []byte("abc"), event.Data)
}

func TestReceivePipeRecyclesBuffers(t *testing.T) {
	p := NewReceivePipe(16)

	p.Enqueue(1, EventData, []byte("a"))
	first, _ := p.TryPeek()
	p.TryDequeue()

	p.Enqueue(1, EventData, []byte("b"))
	second, _ := p.TryPeek()
	require.Same(t, &first.Data[:1][0], &second.Data[:1][0])
}

func TestReceivePipeClear(t *testing.T) {
	p := NewReceivePipe(16)

	p.Enqueue(1, EventConnected, nil)
	p.Enqueue(1, EventData, []byte("x"))
	p.Enqueue(2, EventConnected, nil)
	p.Clear()

	require.Zero(t, p.TotalCount())
	require.Zero(t, p.Count(1))
	require.Zero(t, p.Count(2))
	_, ok := p.TryPeek()
	require.False(t, ok)

	p.Enqueue(3, EventConnected, nil)
	require.Equal(t, 1, p.TotalCount())
	require.Equal(t, 1, p.Count(3))
}

func TestReceivePipeKeepsOrderWhileCompacting(t *testing.T) {
	p := NewReceivePipe(8)

	var next, expect uint64
	enqueue := func() {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, next)
		p.Enqueue(1, EventData, buf)
		next++
	}
	dequeue := func() {
		event, ok := p.TryPeek()
		require.True(t, ok)
		require.Equal(t, expect, binary.BigEndian.Uint64(event.Data))
		require.True(t, p.TryDequeue())
		expect++
	}

	// keep a standing backlog so the queue never drains to empty
	for i := 0; i < 100; i++ {
		enqueue()
	}
	for i := 0; i < 5*compactThreshold; i++ {
		enqueue()
		dequeue()
	}
	require.Equal(t, 100, p.TotalCount())
	require.Equal(t, 100, p.Count(1))

	for p.TotalCount() > 0 {
		dequeue()
	}
	require.Equal(t, next, expect)
}

func TestReceivePipeClearDuringDelivery(t *testing.T) {
	p := NewReceivePipe(16)

	p.Enqueue(0, EventData, []byte("old"))
	p.Enqueue(0, EventDisconnected, nil)

	event, gen, ok := p.peek()
	require.True(t, ok)

	// a callback reconnecting clears the pipe and the new connection
	// queues its events before the callback returns
	p.Clear()
	p.Enqueue(0, EventConnected, nil)
	p.Enqueue(0, EventData, []byte("new"))

	require.Equal(t, []byte("old"), event.Data)
	require.False(t, p.dequeue(gen))
	require.Equal(t, 2, p.TotalCount())
	require.Equal(t, 2, p.Count(0))

	next, gen, ok := p.peek()
	require.True(t, ok)
	require.Equal(t, EventConnected, next.Type)
	require.True(t, p.dequeue(gen))

	next, gen, ok = p.peek()
	require.True(t, ok)
	require.Equal(t, []byte("new"), next.Data)
	require.True(t, p.dequeue(gen))
	require.Zero(t, p.TotalCount())

	// the parked buffer went back to the pool with the others
	require.Equal(t, 2, p.pool.Count())
}
