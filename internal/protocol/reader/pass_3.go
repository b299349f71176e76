package reader

import (
	"time"

	"github.com/smallyu/go-ibihop/pkg/ibihop"
)

// pass3 proves the reader key: f = ((sk·R).x mod n + e) mod n.
func (s *state) pass3(m *ibihop.Pass2) (ibihop.StateMachine, []ibihop.Message, error) {
	start := time.Now()
	c := s.curve

	if !c.IsOnCurve(m.R) {
		return s.fail("tag commitment R", ibihop.ErrInvalidPoint)
	}

	T := c.ScalarMult(s.params.Key.Private(), m.R)
	f := c.N.Add(c.N.Reduce(T.X), s.session.e)

	// e is not needed past this point; e⁻¹ stays for TagVerf.
	s.session.e.Clear()
	s.session.R = m.R
	s.session.f = f
	s.phase = ibihop.PhaseAwaitingS
	s.observe(ibihop.StepPass3, start)

	return s, []ibihop.Message{&ibihop.Pass3{SessionID: s.session.id, F: f}}, nil
}
