package reader

import (
	"time"

	"github.com/smallyu/go-ibihop/pkg/ibihop"
)

// tagVerify checks s against the provisioned tag keys. With s' = s·e⁻¹ the
// point s'·G - e⁻¹·R equals sk_tag·G for an honest tag, so its x-coordinate
// must match one of the known public keys.
func (s *state) tagVerify(m *ibihop.Pass4) (ibihop.StateMachine, []ibihop.Message, error) {
	start := time.Now()
	c := s.curve
	n := c.N

	if !n.Contains(m.S) {
		return s.fail("tag response s is not reduced", ibihop.ErrVerification)
	}

	sPrime := n.Mul(m.S, s.session.eInv)
	x := c.ShamirDualMult(s.session.R, c.G, n.Neg(s.session.eInv), sPrime)
	s.observe(ibihop.StepTagVerify, start)

	for _, peer := range s.params.Peers {
		if !x.Equal(peer.PublicKey.X()) {
			continue
		}
		id := s.session.id
		if s.log != nil {
			s.log.Infof("session %s: tag %q authenticated", id, peer.Name)
		}
		next := s.finish(ibihop.PhaseDone, &ibihop.Outcome{
			Role:          ibihop.RoleReader,
			SessionID:     id,
			Authenticated: true,
			Peer:          peer.Name,
		})
		return next, []ibihop.Message{&ibihop.TagVerified{SessionID: id}}, nil
	}
	return s.fail("tag response does not match any known tag", ibihop.ErrVerification)
}
