// Package ibihop defines the public surface of the IBIHOP mutual
// authentication protocol: roles, phases, wire messages, session tokens
// and the state machine contract shared by the reader and tag engines.
package ibihop

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/pion/logging"

	"github.com/smallyu/go-ibihop/internal/crypto/curves"
	"github.com/smallyu/go-ibihop/internal/protocol/keygen"
)

// Role is the side of the exchange an engine plays.
type Role int

const (
	// RoleReader initiates Pass1, verifies the tag and is verified by it.
	RoleReader Role = iota + 1
	// RoleTag sends the greeting, verifies the reader and is verified by it.
	RoleTag
)

func (r Role) String() string {
	switch r {
	case RoleReader:
		return "reader"
	case RoleTag:
		return "tag"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole maps "reader" or "tag" to a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "reader":
		return RoleReader, nil
	case "tag":
		return RoleTag, nil
	}
	return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidParameters, s)
}

// Phase is the position of an engine within one run.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingChallenge
	PhaseAwaitingR
	PhaseAwaitingF
	PhaseAwaitingS
	PhaseDone
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseIdle:              "Idle",
	PhaseAwaitingChallenge: "AwaitingChallenge",
	PhaseAwaitingR:         "AwaitingR",
	PhaseAwaitingF:         "AwaitingF",
	PhaseAwaitingS:         "AwaitingS",
	PhaseDone:              "Done",
	PhaseFailed:            "Failed",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Terminal reports whether no further pass can happen in this run.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// Step names a timed unit of protocol work.
type Step string

const (
	StepPass1     Step = "pass1"
	StepPass2     Step = "pass2"
	StepPass3     Step = "pass3"
	StepPass4     Step = "pass4"
	StepTagVerify Step = "tagverf"
)

// StateMachine is the core engine that drives one run of the protocol.
// It follows a functional state transition pattern.
type StateMachine interface {
	// Update applies an incoming message to the current state.
	// It returns:
	// - next: the state machine to use for the following message. It is
	//   never nil; a discarded message returns the receiver unchanged.
	// - out: messages to send to the peer, in order.
	// - err: nil, a discard error (ErrUnexpectedMessage, ErrSessionMismatch,
	//   ErrProtocolDone) or an *Abort when the run failed.
	Update(msg Message) (next StateMachine, out []Message, err error)

	// Result returns the outcome of the run, or nil while it is in flight.
	Result() *Outcome

	// Details returns a human readable description of the current state.
	Details() string

	// Phase returns the current phase.
	Phase() Phase
}

// Outcome is the result of a finished run.
type Outcome struct {
	Role      Role
	SessionID SessionID

	// Authenticated is true when this side accepted its peer.
	Authenticated bool

	// Peer is the provisioned name of the authenticated peer.
	Peer string

	// Confirmed is set on the tag once the reader reported success, so
	// both directions of the mutual authentication have been observed.
	Confirmed bool

	// Err is the abort cause for failed runs.
	Err error
}

func (o *Outcome) String() string {
	switch {
	case o.Err != nil:
		return fmt.Sprintf("%s session %s failed: %v", o.Role, o.SessionID, o.Err)
	case o.Confirmed:
		return fmt.Sprintf("%s session %s: mutual authentication with %q succeeded", o.Role, o.SessionID, o.Peer)
	default:
		return fmt.Sprintf("%s session %s: authenticated %q", o.Role, o.SessionID, o.Peer)
	}
}

// Observer receives timing and result notifications from engines.
// Implementations must be safe for concurrent use.
type Observer interface {
	// StepCompleted is called after each pass or verification step.
	StepCompleted(role Role, step Step, elapsed time.Duration)

	// SessionFinished is called once per run on its terminal transition.
	SessionFinished(outcome *Outcome)
}

// Peer is a provisioned counterpart identity.
type Peer struct {
	Name      string
	PublicKey keygen.PublicKey
}

// Parameters holds the configuration for one protocol run.
type Parameters struct {
	Curve *curves.Curve   // The curve all keys and messages use
	Key   *keygen.KeyPair // Long-lived key pair of the local party

	// Peers lists the counterparts this side accepts. A reader matches the
	// tag against all of them; a tag uses the first entry as its reader.
	Peers []Peer

	// SessionID fixes the run token a tag announces in its greeting. When
	// zero the tag draws a fresh token from Rand. Readers adopt the token of
	// the greeting they answer and ignore this field.
	SessionID SessionID

	Rand          io.Reader // Nonce source; crypto/rand when nil
	LoggerFactory logging.LoggerFactory
	Observer      Observer
}

// Validate checks that the parameters are complete and consistent.
func (p *Parameters) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil parameters", ErrInvalidParameters)
	}
	if p.Curve == nil {
		return fmt.Errorf("%w: no curve", ErrInvalidParameters)
	}
	if p.Key == nil {
		return fmt.Errorf("%w: no key pair", ErrInvalidParameters)
	}
	if p.Key.Curve() != p.Curve {
		return fmt.Errorf("%w: key pair is on %s, want %s", ErrInvalidParameters, p.Key.Curve(), p.Curve)
	}
	if len(p.Peers) == 0 {
		return fmt.Errorf("%w: no peers provisioned", ErrInvalidParameters)
	}
	for _, peer := range p.Peers {
		if peer.PublicKey.Curve != p.Curve {
			return fmt.Errorf("%w: peer %q is not on %s", ErrInvalidParameters, peer.Name, p.Curve)
		}
	}
	return nil
}

// Random returns the configured nonce source.
func (p *Parameters) Random() io.Reader {
	if p.Rand == nil {
		return rand.Reader
	}
	return p.Rand
}

// ProtocolInitializer is the signature shared by the role constructors.
type ProtocolInitializer func(params *Parameters) (StateMachine, []Message, error)
