package curves

import "github.com/smallyu/go-ibihop/internal/crypto/modint"

// ScalarMult returns k·p using MSB-first double-and-add over the full digit
// width. k may be any value that fits in Digits bytes, so k = n is accepted
// and yields the point at infinity.
func (c *Curve) ScalarMult(k modint.Int, p Point) Point {
	base := c.toJacobian(p)
	acc := jacobianInfinity()
	for _, b := range k.Bytes(c.Digits) {
		for bit := 7; bit >= 0; bit-- {
			acc = c.doubleJacobian(acc)
			if (b>>uint(bit))&1 == 1 {
				acc = c.addJacobian(acc, base)
			}
		}
	}
	return c.toAffine(acc)
}

// ScalarBaseMult returns k·G.
func (c *Curve) ScalarBaseMult(k modint.Int) Point {
	return c.ScalarMult(k, c.G)
}

// DualMult returns t·r + m·q with Shamir's trick: one shared doubling chain,
// adding r, q or the precomputed r+q depending on the bit pair.
func (c *Curve) DualMult(r, q Point, t, m modint.Int) Point {
	rj := c.toJacobian(r)
	qj := c.toJacobian(q)
	rq := c.addJacobian(rj, qj)

	tb := t.Bytes(c.Digits)
	mb := m.Bytes(c.Digits)

	acc := jacobianInfinity()
	for i := range tb {
		for bit := 7; bit >= 0; bit-- {
			acc = c.doubleJacobian(acc)
			tBit := (tb[i] >> uint(bit)) & 1
			mBit := (mb[i] >> uint(bit)) & 1
			switch {
			case tBit == 1 && mBit == 1:
				acc = c.addJacobian(acc, rq)
			case tBit == 1:
				acc = c.addJacobian(acc, rj)
			case mBit == 1:
				acc = c.addJacobian(acc, qj)
			}
		}
	}
	return c.toAffine(acc)
}

// ShamirDualMult returns the x-coordinate of t·r + m·q, or zero when the
// sum is the point at infinity.
func (c *Curve) ShamirDualMult(r, q Point, t, m modint.Int) modint.Int {
	p := c.DualMult(r, q, t, m)
	if p.IsInfinity() {
		return modint.FromUint64(0)
	}
	return p.X
}
