package ibihop

import (
	"fmt"
	"io"

	"github.com/google/uuid"
)

// SessionIDSize is the length of the token trailer on every frame.
const SessionIDSize = 16

// SessionID binds every frame of a run to that run. It is a random
// version 4 UUID drawn by the tag when it starts the run.
type SessionID [SessionIDSize]byte

// NewSessionID draws a fresh token from rand.
func NewSessionID(rand io.Reader) (SessionID, error) {
	u, err := uuid.NewRandomFromReader(rand)
	if err != nil {
		return SessionID{}, fmt.Errorf("%w: session id: %w", ErrRandomSource, err)
	}
	return SessionID(u), nil
}

// ParseSessionID parses the canonical UUID text form.
func ParseSessionID(s string) (SessionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return SessionID{}, fmt.Errorf("ibihop: session id: %w", err)
	}
	return SessionID(u), nil
}

// IsZero reports whether no token has been assigned.
func (s SessionID) IsZero() bool {
	return s == SessionID{}
}

func (s SessionID) String() string {
	return uuid.UUID(s).String()
}
