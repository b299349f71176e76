// Package tag implements the tag side of IBIHOP: it greets a reader,
// commits to a nonce, authenticates the reader's Pass3 answer and only then
// releases its own response.
package tag

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

	r modint.Int // tag nonce
	E curves.Point
	R curves.Point
}

// wipe zeroes the nonce in place and drops the public values.
func (ss *session) wipe() {
	ss.r.Clear()
	ss.E = curves.Point{}
	ss.R = curves.Point{}
}

type state struct {
	params *ibihop.Parameters
	curve  *curves.Curve
	reader ibihop.Peer
	log    logging.LeveledLogger

	phase   ibihop.Phase
	session session
}

var _ ibihop.ProtocolInitializer = NewStateMachine

// NewStateMachine starts a run. The returned greeting carries the session
// token every later frame must repeat.
func NewStateMachine(params *ibihop.Parameters) (ibihop.StateMachine, []ibihop.Message, error) {
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}
	id := params.SessionID
	if id.IsZero() {
		var err error
		if id, err = ibihop.NewSessionID(params.Random()); err != nil {
			return nil, nil, err
		}
	}

	s := &state{
		params:  params,
		curve:   params.Curve,
		reader:  params.Peers[0],
		phase:   ibihop.PhaseAwaitingChallenge,
		session: session{id: id},
	}
	if params.LoggerFactory != nil {
		s.log = params.LoggerFactory.NewLogger("ibihop-tag")
		s.log.Debugf("session %s: greeting reader %q", id, s.reader.Name)
	}
	return s, []ibihop.Message{&ibihop.Hello{SessionID: id}}, nil
}

func (s *state) Update(msg ibihop.Message) (ibihop.StateMachine, []ibihop.Message, error) {
	if msg.Session() != s.session.id {
		return s, nil, fmt.Errorf("%w: got %s, running %s", ibihop.ErrSessionMismatch, msg.Session(), s.session.id)
	}

	switch m := msg.(type) {
	case *ibihop.Pass1:
		if s.phase == ibihop.PhaseAwaitingChallenge {
			return s.pass2(m)
		}
	case *ibihop.Pass3:
		if s.phase == ibihop.PhaseAwaitingF {
			return s.pass4(m)
		}
	}
	return s, nil, fmt.Errorf("%w: %s in %s", ibihop.ErrUnexpectedMessage, msg.Type(), s.phase)
}

func (s *state) Result() *ibihop.Outcome {
	return nil
}

func (s *state) Details() string {
	return fmt.Sprintf("Tag %s (session %s)", s.phase, s.session.id)
}

func (s *state) Phase() ibihop.Phase {
	return s.phase
}

func (s *state) observe(step ibihop.Step, start time.Time) {
	elapsed := time.Since(start)
	if s.log != nil {
		s.log.Debugf("session %s: %s completed in %s", s.session.id, step, elapsed)
	}
	if s.params.Observer != nil {
		s.params.Observer.StepCompleted(ibihop.RoleTag, step, elapsed)
	}
}

// reject ends the run and tells the reader it was not accepted.
func (s *state) reject(reason string, cause error) (ibihop.StateMachine, []ibihop.Message, error) {
	next, _, err := s.fail(reason, cause)
	return next, []ibihop.Message{&ibihop.ReaderRejected{SessionID: s.session.id}}, err
}

// fail ends the run without telling the reader.
func (s *state) fail(reason string, cause error) (ibihop.StateMachine, []ibihop.Message, error) {
	abort := ibihop.NewAbort(ibihop.RoleTag, s.phase, reason, cause)
	if s.log != nil {
		s.log.Warnf("session %s: %v", s.session.id, abort)
	}
	return s.finish(ibihop.PhaseFailed, &ibihop.Outcome{
		Role:      ibihop.RoleTag,
		SessionID: s.session.id,
		Err:       abort,
	}), nil, abort
}

func (s *state) finish(phase ibihop.Phase, outcome *ibihop.Outcome) *finishedState {
	s.session.wipe()
	s.phase = phase
	if s.params.Observer != nil {
		s.params.Observer.SessionFinished(outcome)
	}
	return &finishedState{phase: phase, outcome: outcome, log: s.log}
}

// finishedState is the terminal state of a run. A Done tag still accepts
// the reader's confirmation.
type finishedState struct {
	phase   ibihop.Phase
	outcome *ibihop.Outcome
	log     logging.LeveledLogger
}

func (s *finishedState) Update(msg ibihop.Message) (ibihop.StateMachine, []ibihop.Message, error) {
	if s.phase != ibihop.PhaseDone || msg.Type() != ibihop.TypeTagVerified {
		return s, nil, ibihop.ErrProtocolDone
	}
	if msg.Session() != s.outcome.SessionID {
		return s, nil, fmt.Errorf("%w: got %s, finished %s", ibihop.ErrSessionMismatch, msg.Session(), s.outcome.SessionID)
	}
	if !s.outcome.Confirmed && s.log != nil {
		s.log.Infof("session %s: mutual authentication with %q succeeded", s.outcome.SessionID, s.outcome.Peer)
	}
	s.outcome.Confirmed = true
	return s, nil, nil
}

func (s *finishedState) Result() *ibihop.Outcome {
	return s.outcome
}

func (s *finishedState) Details() string {
	if s.outcome.Confirmed {
		return fmt.Sprintf("Tag %s, confirmed (session %s)", s.phase, s.outcome.SessionID)
	}
	return fmt.Sprintf("Tag %s (session %s)", s.phase, s.outcome.SessionID)
}

func (s *finishedState) Phase() ibihop.Phase {
	return s.phase
}
