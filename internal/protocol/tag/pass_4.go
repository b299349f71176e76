package tag

import (
	"time"

	"github.com/smallyu/go-ibihop/pkg/ibihop"
)

// pass4 recovers the reader nonce as e' = f - (r·pk_reader).x and accepts
// the reader only if e'·E is the generator. s is computed strictly after
// that check.
func (s *state) pass4(m *ibihop.Pass3) (ibihop.StateMachine, []ibihop.Message, error) {
	start := time.Now()
	c := s.curve
	n := c.N

	if !n.Contains(m.F) {
		return s.reject("reader response f is not reduced", ibihop.ErrAuthentication)
	}

	shared := c.ScalarMult(s.session.r, s.reader.PublicKey.Point)
	ePrime := n.Sub(m.F, n.Reduce(shared.X))
	defer ePrime.Clear()

	if !c.IsGenerator(c.ScalarMult(ePrime, s.session.E)) {
		return s.reject("generator check failed", ibihop.ErrAuthentication)
	}

	resp := n.Add(n.Mul(ePrime, s.params.Key.Private()), s.session.r)
	s.observe(ibihop.StepPass4, start)

	id := s.session.id
	if s.log != nil {
		s.log.Infof("session %s: reader %q authenticated", id, s.reader.Name)
	}
	next := s.finish(ibihop.PhaseDone, &ibihop.Outcome{
		Role:          ibihop.RoleTag,
		SessionID:     id,
		Authenticated: true,
		Peer:          s.reader.Name,
	})
	return next, []ibihop.Message{&ibihop.Pass4{SessionID: id, S: resp}}, nil
}
