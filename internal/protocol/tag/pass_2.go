package tag

import (
	"fmt"
	"time"

	"github.com/smallyu/go-ibihop/pkg/ibihop"
)

// pass2 commits to a fresh nonce r with R = r·G.
func (s *state) pass2(m *ibihop.Pass1) (ibihop.StateMachine, []ibihop.Message, error) {
	start := time.Now()
	c := s.curve

	if !c.IsOnCurve(m.E) {
		return s.reject("reader challenge E", ibihop.ErrInvalidPoint)
	}

	r, err := c.NewScalar(s.params.Random())
	if err != nil {
		return s.fail("drawing nonce r", fmt.Errorf("%w: %w", ibihop.ErrRandomSource, err))
	}
	R := c.ScalarBaseMult(r)

	s.session.r = r
	s.session.E = m.E
	s.session.R = R
	s.phase = ibihop.PhaseAwaitingF
	s.observe(ibihop.StepPass2, start)

	return s, []ibihop.Message{&ibihop.Pass2{SessionID: s.session.id, R: R}}, nil
}
