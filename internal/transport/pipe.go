package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// Pipe connects two endpoints in memory. It wraps pion's test.Bridge and
// exposes each side as a net.PacketConn, so a UDP transport can run over
// it unchanged.
//
// By default packets are delivered by a background goroutine. With
// NewManualPipe the caller delivers them with Tick or Process.
type Pipe struct {
	bridge *test.Bridge
	conns  [2]*PipeConn

	mu      sync.Mutex
	drop    [2]bool
	closed  bool
	stopCh  chan struct{}
	stopped chan struct{}
}

// NewPipe creates a pipe that delivers packets every millisecond.
func NewPipe() *Pipe {
	p := newPipe()
	p.stopCh = make(chan struct{})
	p.stopped = make(chan struct{})
	go p.autoProcess(time.Millisecond)
	return p
}

// NewManualPipe creates a pipe whose packets only move on Tick or Process.
func NewManualPipe() *Pipe {
	return newPipe()
}

func newPipe() *Pipe {
	p := &Pipe{bridge: test.NewBridge()}
	p.conns[0] = &PipeConn{pipe: p, id: 0, conn: p.bridge.GetConn0()}
	p.conns[1] = &PipeConn{pipe: p, id: 1, conn: p.bridge.GetConn1()}
	return p
}

func (p *Pipe) autoProcess(interval time.Duration) {
	defer close(p.stopped)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.bridge.Tick()
		}
	}
}

// Conn returns endpoint 0 or 1.
func (p *Pipe) Conn(id int) *PipeConn {
	return p.conns[id]
}

// SetDrop makes endpoint id silently discard everything it writes.
func (p *Pipe) SetDrop(id int, drop bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drop[id] = drop
}

func (p *Pipe) dropping(id int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drop[id]
}

// Pending returns the number of packets queued from endpoint id.
func (p *Pipe) Pending(id int) int {
	return p.bridge.Len(id)
}

// Tick hands at most one queued packet in each direction to a blocked
// reader and returns the number delivered.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers every queued packet.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			return count
		}
		count += n
	}
}

// Close stops delivery and closes both endpoints.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.stopCh != nil {
		close(p.stopCh)
		<-p.stopped
	}
	err0 := p.conns[0].Close()
	err1 := p.conns[1].Close()
	if err0 != nil {
		return err0
	}
	return err1
}

// PipeAddr names a pipe endpoint.
type PipeAddr struct {
	ID int
}

// Network returns "pipe".
func (a PipeAddr) Network() string { return "pipe" }

func (a PipeAddr) String() string { return fmt.Sprintf("pipe:%d", a.ID) }

// PipeConn is one end of a Pipe. Every read reports the other end as the
// source; the destination of a write is ignored.
type PipeConn struct {
	pipe *Pipe
	id   int
	conn net.Conn

	closeOnce sync.Once
	closeErr  error
}

// ReadFrom reads one packet.
func (c *PipeConn) ReadFrom(b []byte) (int, net.Addr, error) {
	n, err := c.conn.Read(b)
	return n, PipeAddr{ID: 1 - c.id}, err
}

// WriteTo queues one packet for the other end.
func (c *PipeConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	if c.pipe.dropping(c.id) {
		return len(b), nil
	}
	return c.conn.Write(b)
}

// Close closes this end. Later calls are no-ops.
func (c *PipeConn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.conn.Close() })
	return c.closeErr
}

// LocalAddr returns this end's address.
func (c *PipeConn) LocalAddr() net.Addr { return PipeAddr{ID: c.id} }

// PeerAddr returns the other end's address.
func (c *PipeConn) PeerAddr() net.Addr { return PipeAddr{ID: 1 - c.id} }

func (c *PipeConn) SetDeadline(t time.Time) error { return c.conn.SetDeadline(t) }

func (c *PipeConn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

func (c *PipeConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

var _ net.PacketConn = (*PipeConn)(nil)
