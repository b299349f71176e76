// Package device binds protocol engines to a transport. It keeps one engine
// per peer address, so concurrent peers never share session state.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/pion/logging"

	"github.com/smallyu/go-ibihop/internal/crypto/curves"
	"github.com/smallyu/go-ibihop/internal/protocol/keygen"
	"github.com/smallyu/go-ibihop/internal/protocol/reader"
	"github.com/smallyu/go-ibihop/internal/protocol/tag"
	"github.com/smallyu/go-ibihop/internal/transport"
	"github.com/smallyu/go-ibihop/pkg/ibihop"
)

var (
	// ErrSessionTimeout is the outcome error of a run abandoned by Sweep.
	ErrSessionTimeout = errors.New("device: session timed out")

	// ErrBusy is returned when a run with the same peer is still in flight.
	ErrBusy = errors.New("device: session with peer already in flight")

	// ErrWrongRole is returned when an operation does not fit the device role.
	ErrWrongRole = errors.New("device: operation not available for role")
)

// DefaultSessionTimeout bounds how long a run may wait for the next pass.
const DefaultSessionTimeout = 10 * time.Second

// Config configures a Device.
type Config struct {
	Role  ibihop.Role
	Curve *curves.Curve
	Key   *keygen.KeyPair

	// Peers are the tags a reader accepts, or the reader a tag talks to.
	Peers []ibihop.Peer

	// SessionTimeout defaults to DefaultSessionTimeout.
	SessionTimeout time.Duration

	// Clock drives Sweep and Run. Defaults to the wall clock.
	Clock clock.Clock

	// Rand is the nonce source. Defaults to crypto/rand.
	Rand io.Reader

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory

	// Observer receives per-step timings and outcomes from every engine.
	Observer ibihop.Observer

	// OnOutcome is called once per finished run, outside the device lock.
	OnOutcome func(peer net.Addr, outcome *ibihop.Outcome)
}

// activeSessions is implemented by observers that track in-flight runs.
type activeSessions interface {
	SetActiveSessions(role ibihop.Role, n int)
}

// entry is one run. mu serializes its engine; the device table lock is never
// held while an engine computes.
type entry struct {
	mu   sync.Mutex
	sm   ibihop.StateMachine
	addr net.Addr
	done chan *ibihop.Outcome // tag runs started by Authenticate

	lastSeen time.Time // guarded by Device.mu
	closed   atomic.Bool
}

// close claims the right to report e's outcome. Only the first caller wins.
func (e *entry) close() bool {
	return e.closed.CompareAndSwap(false, true)
}

// Device runs the protocol for one provisioned identity.
type Device struct {
	cfg    Config
	sender transport.Sender
	clock  clock.Clock
	log    logging.LeveledLogger
	start  ibihop.ProtocolInitializer

	mu       sync.Mutex
	sessions map[string]*entry
}

// New creates a device that sends through sender.
func New(cfg Config, sender transport.Sender) (*Device, error) {
	if cfg.Role != ibihop.RoleReader && cfg.Role != ibihop.RoleTag {
		return nil, fmt.Errorf("%w: role %s", ibihop.ErrInvalidParameters, cfg.Role)
	}
	if sender == nil {
		return nil, fmt.Errorf("%w: no sender", ibihop.ErrInvalidParameters)
	}
	if err := cfg.params().Validate(); err != nil {
		return nil, err
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}

	d := &Device{
		cfg:      cfg,
		sender:   sender,
		clock:    cfg.Clock,
		sessions: make(map[string]*entry),
		start:    reader.NewStateMachine,
	}
	if cfg.Role == ibihop.RoleTag {
		d.start = tag.NewStateMachine
	}
	if cfg.LoggerFactory != nil {
		d.log = cfg.LoggerFactory.NewLogger("device")
	}
	return d, nil
}

func (c *Config) params() *ibihop.Parameters {
	return &ibihop.Parameters{
		Curve:         c.Curve,
		Key:           c.Key,
		Peers:         c.Peers,
		Rand:          c.Rand,
		LoggerFactory: c.LoggerFactory,
		Observer:      c.Observer,
	}
}

// Role returns the role the device plays.
func (d *Device) Role() ibihop.Role { return d.cfg.Role }

// ActiveSessions returns the number of runs in flight.
func (d *Device) ActiveSessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// HandleMessage is the transport receive callback.
func (d *Device) HandleMessage(data []byte, from net.Addr) {
	msg, err := ibihop.Unmarshal(data, d.cfg.Curve.Digits)
	if err != nil {
		if d.log != nil {
			d.log.Debugf("dropping frame from %v: %v", from, err)
		}
		return
	}

	key := from.String()
	now := d.clock.Now()
	d.mu.Lock()
	e, ok := d.sessions[key]
	if d.cfg.Role == ibihop.RoleReader && msg.Type() == ibihop.TypeHello {
		sm, _, err := d.start(d.cfg.params())
		if err != nil {
			d.mu.Unlock()
			if d.log != nil {
				d.log.Errorf("starting reader engine: %v", err)
			}
			return
		}
		if ok {
			e.close()
			if d.log != nil {
				d.log.Infof("new greeting from %v replaces a running session", from)
			}
		}
		e = &entry{sm: sm, addr: from}
		d.sessions[key] = e
		d.reportActive(len(d.sessions))
		ok = true
	}
	if ok {
		e.lastSeen = now
	}
	d.mu.Unlock()
	if !ok {
		if d.log != nil {
			d.log.Debugf("dropping %s from %v: no session", msg.Type(), from)
		}
		return
	}

	e.mu.Lock()
	if e.closed.Load() {
		e.mu.Unlock()
		return
	}
	next, out, err := e.sm.Update(msg)
	e.sm = next
	finished := d.finished(e)
	e.mu.Unlock()

	if err != nil && !ibihop.IsAbort(err) && d.log != nil {
		d.log.Debugf("discarded %s from %v: %v", msg.Type(), from, err)
	}
	d.send(out, from)
	if finished && e.close() {
		d.remove(key, e)
		d.complete(e, next.Result())
	}
}

// remove drops e from the table if it is still the run for key.
func (d *Device) remove(key string, e *entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sessions[key] == e {
		delete(d.sessions, key)
		d.reportActive(len(d.sessions))
	}
}

// finished reports whether nothing more is expected for e. A Done tag
// still waits for the reader's confirmation.
func (d *Device) finished(e *entry) bool {
	switch e.sm.Phase() {
	case ibihop.PhaseFailed:
		return true
	case ibihop.PhaseDone:
		return d.cfg.Role == ibihop.RoleReader || e.sm.Result().Confirmed
	}
	return false
}

func (d *Device) complete(e *entry, outcome *ibihop.Outcome) {
	if e.done != nil {
		e.done <- outcome
	}
	if d.cfg.OnOutcome != nil {
		d.cfg.OnOutcome(e.addr, outcome)
	}
}

func (d *Device) send(out []ibihop.Message, to net.Addr) {
	for _, m := range out {
		data, err := ibihop.Marshal(m, d.cfg.Curve.Digits)
		if err == nil {
			err = d.sender.Send(data, to)
		}
		if err != nil && d.log != nil {
			d.log.Warnf("sending %s to %v: %v", m.Type(), to, err)
		}
	}
}

// unfinished reports a run that ended before its engine reached a result.
func (d *Device) unfinished(outcome *ibihop.Outcome) {
	if d.cfg.Observer != nil {
		d.cfg.Observer.SessionFinished(outcome)
	}
}

// reportActive is called with d.mu held so that reports stay in order.
func (d *Device) reportActive(n int) {
	if g, ok := d.cfg.Observer.(activeSessions); ok {
		g.SetActiveSessions(d.cfg.Role, n)
	}
}

// Authenticate runs one tag-initiated exchange with the reader at addr. It
// returns when the run failed or the reader confirmed it. If ctx ends first
// the run is abandoned and ctx's error is returned together with whatever
// outcome the tag reached.
func (d *Device) Authenticate(ctx context.Context, addr net.Addr) (*ibihop.Outcome, error) {
	if d.cfg.Role != ibihop.RoleTag {
		return nil, ErrWrongRole
	}

	sm, out, err := d.start(d.cfg.params())
	if err != nil {
		return nil, err
	}
	e := &entry{sm: sm, addr: addr, lastSeen: d.clock.Now(), done: make(chan *ibihop.Outcome, 1)}

	key := addr.String()
	d.mu.Lock()
	if _, busy := d.sessions[key]; busy {
		d.mu.Unlock()
		return nil, ErrBusy
	}
	d.sessions[key] = e
	d.reportActive(len(d.sessions))
	d.mu.Unlock()

	d.send(out, addr)

	select {
	case outcome := <-e.done:
		return outcome, outcome.Err
	case <-ctx.Done():
	}

	d.remove(key, e)
	if !e.close() {
		// The run ended while ctx was ending.
		outcome := <-e.done
		return outcome, outcome.Err
	}
	e.mu.Lock()
	outcome := e.sm.Result()
	details := e.sm.Details()
	e.mu.Unlock()

	if d.log != nil {
		d.log.Infof("abandoning %s: %v", details, ctx.Err())
	}
	if outcome == nil {
		d.unfinished(&ibihop.Outcome{Role: d.cfg.Role, Err: ctx.Err()})
	}
	return outcome, ctx.Err()
}

// Sweep abandons runs that have not advanced within the session timeout.
func (d *Device) Sweep() int {
	now := d.clock.Now()

	d.mu.Lock()
	var expired []*entry
	for key, e := range d.sessions {
		if now.Sub(e.lastSeen) < d.cfg.SessionTimeout {
			continue
		}
		delete(d.sessions, key)
		if e.close() {
			expired = append(expired, e)
		}
	}
	if len(expired) > 0 {
		d.reportActive(len(d.sessions))
	}
	d.mu.Unlock()

	for _, e := range expired {
		e.mu.Lock()
		r := e.sm.Result()
		details := e.sm.Details()
		e.mu.Unlock()
		if d.log != nil {
			d.log.Infof("session with %v timed out: %s", e.addr, details)
		}
		// A Done tag that was never confirmed also ends in a timeout.
		outcome := &ibihop.Outcome{Role: d.cfg.Role}
		if r != nil {
			*outcome = *r
		}
		if outcome.Err == nil {
			outcome.Err = ErrSessionTimeout
		}
		if r == nil {
			d.unfinished(outcome)
		}
		d.complete(e, outcome)
	}
	return len(expired)
}

// Run sweeps expired runs until ctx ends.
func (d *Device) Run(ctx context.Context) error {
	interval := d.cfg.SessionTimeout / 2
	ticker := d.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			d.Sweep()
		}
	}
}
