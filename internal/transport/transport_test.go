package transport

import (
	"net"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	data []byte
	from net.Addr
}

func collector() (Handler, <-chan frame) {
	ch := make(chan frame, 16)
	return func(data []byte, from net.Addr) { ch <- frame{data, from} }, ch
}

func receive(t *testing.T, ch <-chan frame) frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return frame{}
	}
}

func TestUDPLoopback(t *testing.T) {
	h0, ch0 := collector()
	h1, ch1 := collector()

	a, err := NewUDP(UDPConfig{ListenAddr: "127.0.0.1:0", Handler: h0, LoggerFactory: logging.NewDefaultLoggerFactory()})
	require.NoError(t, err)
	b, err := NewUDP(UDPConfig{ListenAddr: "127.0.0.1:0", Handler: h1})
	require.NoError(t, err)
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	defer a.Stop()
	defer b.Stop()

	require.NoError(t, a.Send([]byte("hello"), b.LocalAddr()))
	got := receive(t, ch1)
	assert.Equal(t, []byte("hello"), got.data)
	assert.Equal(t, a.LocalAddr().String(), got.from.String())

	require.NoError(t, b.Send([]byte{'5'}, got.from))
	assert.Equal(t, []byte{'5'}, receive(t, ch0).data)
}

func TestUDPErrors(t *testing.T) {
	_, err := NewUDP(UDPConfig{})
	assert.ErrorIs(t, err, ErrNoHandler)

	h, _ := collector()
	u, err := NewUDP(UDPConfig{ListenAddr: "127.0.0.1:0", Handler: h})
	require.NoError(t, err)
	require.NoError(t, u.Start())
	assert.ErrorIs(t, u.Start(), ErrAlreadyStarted)

	assert.ErrorIs(t, u.Send([]byte("x"), nil), ErrInvalidAddress)
	assert.ErrorIs(t, u.Send(make([]byte, MaxFrameSize+1), u.LocalAddr()), ErrFrameTooLarge)

	require.NoError(t, u.Stop())
	assert.ErrorIs(t, u.Stop(), ErrClosed)
	assert.ErrorIs(t, u.Send([]byte("x"), u.LocalAddr()), ErrClosed)
	assert.ErrorIs(t, u.Start(), ErrClosed)
}

func TestUDPOverPipe(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	h0, ch0 := collector()
	h1, ch1 := collector()
	a, err := NewUDP(UDPConfig{Conn: p.Conn(0), Handler: h0})
	require.NoError(t, err)
	b, err := NewUDP(UDPConfig{Conn: p.Conn(1), Handler: h1})
	require.NoError(t, err)
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())

	require.NoError(t, a.Send([]byte("ping"), p.Conn(0).PeerAddr()))
	got := receive(t, ch1)
	assert.Equal(t, []byte("ping"), got.data)
	assert.Equal(t, PipeAddr{ID: 0}, got.from)

	require.NoError(t, b.Send([]byte("pong"), got.from))
	assert.Equal(t, []byte("pong"), receive(t, ch0).data)

	require.NoError(t, a.Stop())
	require.NoError(t, b.Stop())
}

func TestManualPipe(t *testing.T) {
	p := NewManualPipe()
	defer p.Close()

	c0, c1 := p.Conn(0), p.Conn(1)
	_, err := c0.WriteTo([]byte("one"), c0.PeerAddr())
	require.NoError(t, err)
	_, err = c0.WriteTo([]byte("two"), c0.PeerAddr())
	require.NoError(t, err)
	assert.Equal(t, 2, p.Pending(0))

	got := make(chan string, 2)
	go func() {
		buf := make([]byte, 16)
		for i := 0; i < 2; i++ {
			n, _, err := c1.ReadFrom(buf)
			if err != nil {
				return
			}
			got <- string(buf[:n])
		}
	}()

	// Packets only move while a reader is blocked.
	delivered := 0
	deadline := time.Now().Add(2 * time.Second)
	for delivered < 2 && time.Now().Before(deadline) {
		delivered += p.Tick()
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 2, delivered)
	assert.Equal(t, "one", <-got)
	assert.Equal(t, "two", <-got)
	assert.Equal(t, 0, p.Pending(0))
}

func TestPipeDrop(t *testing.T) {
	p := NewManualPipe()
	defer p.Close()

	p.SetDrop(1, true)
	n, err := p.Conn(1).WriteTo([]byte("lost"), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 0, p.Pending(1))

	p.SetDrop(1, false)
	_, err = p.Conn(1).WriteTo([]byte("kept"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Pending(1))
}

func TestPipeAddr(t *testing.T) {
	p := NewManualPipe()
	defer p.Close()

	assert.Equal(t, "pipe:0", p.Conn(0).LocalAddr().String())
	assert.Equal(t, "pipe", p.Conn(0).LocalAddr().Network())
	assert.Equal(t, PipeAddr{ID: 0}, p.Conn(1).PeerAddr())
}

func TestPipeCloseIdempotent(t *testing.T) {
	p := NewPipe()
	require.NoError(t, p.Conn(0).Close())
	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close())
}
