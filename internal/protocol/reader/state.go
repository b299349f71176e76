// Package reader implements the reader side of IBIHOP: it answers a tag's
// greeting with a challenge, proves its own key in Pass3 and verifies the
// tag's response.
package reader

import (
	"fmt"
	"time"

	"github.com/pion/logging"

	"github.com/smallyu/go-ibihop/internal/crypto/curves"
	"github.com/smallyu/go-ibihop/internal/crypto/modint"
	"github.com/smallyu/go-ibihop/pkg/ibihop"
)

// session holds the ephemeral values of one run.
type session struct {
	id ibihop.SessionID

	e    modint.Int // reader nonce, dropped once f is sent
	eInv modint.Int // e⁻¹ mod n, kept for TagVerf
	E    curves.Point
	R    curves.Point
	f    modint.Int
}

// wipe zeroes the nonces in place and drops the public values.
func (ss *session) wipe() {
	ss.e.Clear()
	ss.eInv.Clear()
	ss.E = curves.Point{}
	ss.R = curves.Point{}
	ss.f = modint.Int{}
}

type state struct {
	params *ibihop.Parameters
	curve  *curves.Curve
	log    logging.LeveledLogger

	phase   ibihop.Phase
	session session
}

var _ ibihop.ProtocolInitializer = NewStateMachine

// NewStateMachine initializes a Reader in the Idle phase. It produces no
// message until a greeting arrives.
func NewStateMachine(params *ibihop.Parameters) (ibihop.StateMachine, []ibihop.Message, error) {
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}
	s := &state{
		params: params,
		curve:  params.Curve,
		phase:  ibihop.PhaseIdle,
	}
	if params.LoggerFactory != nil {
		s.log = params.LoggerFactory.NewLogger("ibihop-reader")
	}
	return s, nil, nil
}

func (s *state) Update(msg ibihop.Message) (ibihop.StateMachine, []ibihop.Message, error) {
	if s.phase == ibihop.PhaseIdle {
		hello, ok := msg.(*ibihop.Hello)
		if !ok {
			return s, nil, s.unexpected(msg)
		}
		return s.pass1(hello.SessionID)
	}

	if msg.Session() != s.session.id {
		return s, nil, fmt.Errorf("%w: got %s, running %s", ibihop.ErrSessionMismatch, msg.Session(), s.session.id)
	}

	switch m := msg.(type) {
	case *ibihop.Pass2:
		if s.phase == ibihop.PhaseAwaitingR {
			return s.pass3(m)
		}
	case *ibihop.Pass4:
		if s.phase == ibihop.PhaseAwaitingS {
			return s.tagVerify(m)
		}
	case *ibihop.ReaderRejected:
		// The tag answers '8' from Pass2 onwards, so it can arrive before s.
		return s.fail("tag rejected the reader", ibihop.ErrAuthentication)
	}
	return s, nil, s.unexpected(msg)
}

func (s *state) unexpected(msg ibihop.Message) error {
	return fmt.Errorf("%w: %s in %s", ibihop.ErrUnexpectedMessage, msg.Type(), s.phase)
}

func (s *state) Result() *ibihop.Outcome {
	return nil
}

func (s *state) Details() string {
	if s.phase == ibihop.PhaseIdle {
		return "Reader Idle"
	}
	return fmt.Sprintf("Reader %s (session %s)", s.phase, s.session.id)
}

func (s *state) Phase() ibihop.Phase {
	return s.phase
}

// observe reports the time spent in one step.
func (s *state) observe(step ibihop.Step, start time.Time) {
	elapsed := time.Since(start)
	if s.log != nil {
		s.log.Debugf("session %s: %s completed in %s", s.session.id, step, elapsed)
	}
	if s.params.Observer != nil {
		s.params.Observer.StepCompleted(ibihop.RoleReader, step, elapsed)
	}
}

// fail ends the run without telling the tag.
func (s *state) fail(reason string, cause error) (ibihop.StateMachine, []ibihop.Message, error) {
	abort := ibihop.NewAbort(ibihop.RoleReader, s.phase, reason, cause)
	if s.log != nil {
		s.log.Warnf("session %s: %v", s.session.id, abort)
	}
	return s.finish(ibihop.PhaseFailed, &ibihop.Outcome{
		Role:      ibihop.RoleReader,
		SessionID: s.session.id,
		Err:       abort,
	}), nil, abort
}

// finish wipes the session and moves to a terminal state.
func (s *state) finish(phase ibihop.Phase, outcome *ibihop.Outcome) *finishedState {
	s.session.wipe()
	s.phase = phase
	if s.params.Observer != nil {
		s.params.Observer.SessionFinished(outcome)
	}
	return &finishedState{phase: phase, outcome: outcome}
}

// finishedState is the terminal state of a run.
type finishedState struct {
	phase   ibihop.Phase
	outcome *ibihop.Outcome
}

func (s *finishedState) Update(msg ibihop.Message) (ibihop.StateMachine, []ibihop.Message, error) {
	return s, nil, ibihop.ErrProtocolDone
}

func (s *finishedState) Result() *ibihop.Outcome {
	return s.outcome
}

func (s *finishedState) Details() string {
	return fmt.Sprintf("Reader %s (session %s)", s.phase, s.outcome.SessionID)
}

func (s *finishedState) Phase() ibihop.Phase {
	return s.phase
}
