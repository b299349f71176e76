package reader

import (
	"fmt"
	"time"

	"github.com/smallyu/go-ibihop/pkg/ibihop"
)

// pass1 answers a greeting with the challenge E = e⁻¹·G for a fresh e.
func (s *state) pass1(id ibihop.SessionID) (ibihop.StateMachine, []ibihop.Message, error) {
	start := time.Now()
	s.session.id = id
	c := s.curve

	e, err := c.NewScalar(s.params.Random())
	if err != nil {
		return s.fail("drawing nonce e", fmt.Errorf("%w: %w", ibihop.ErrRandomSource, err))
	}
	eInv := c.N.Inv(e)
	E := c.ScalarBaseMult(eInv)

	s.session.e = e
	s.session.eInv = eInv
	s.session.E = E
	s.phase = ibihop.PhaseAwaitingR
	s.observe(ibihop.StepPass1, start)

	return s, []ibihop.Message{&ibihop.Pass1{SessionID: id, E: E}}, nil
}
