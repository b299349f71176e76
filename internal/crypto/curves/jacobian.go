package curves

import "github.com/smallyu/go-ibihop/internal/crypto/modint"

// Internally points are kept in Jacobian coordinates (X, Y, Z) with
// x = X/Z² and y = Y/Z³, so that only the final conversion back to affine
// needs a field inversion. Z = 0 is the point at infinity.
type jacobian struct {
	x, y, z modint.Int
}

var one = modint.FromUint64(1)

func jacobianInfinity() jacobian {
	return jacobian{x: one, y: one, z: modint.FromUint64(0)}
}

func (c *Curve) toJacobian(p Point) jacobian {
	if p.inf {
		return jacobianInfinity()
	}
	return jacobian{x: p.X, y: p.Y, z: one}
}

func (c *Curve) toAffine(j jacobian) Point {
	if j.z.IsZero() {
		return Infinity()
	}
	f := c.P
	zinv := f.Inv(j.z)
	zinv2 := f.Square(zinv)
	x := f.Mul(j.x, zinv2)
	y := f.Mul(j.y, f.Mul(zinv2, zinv))
	return NewPoint(x, y)
}

// doubleJacobian uses dbl-2001-b, which relies on a = -3.
// See https://hyperelliptic.org/EFD/g1p/auto-shortw-jacobian-3.html#doubling-dbl-2001-b
func (c *Curve) doubleJacobian(j jacobian) jacobian {
	if j.z.IsZero() || j.y.IsZero() {
		return jacobianInfinity()
	}
	f := c.P

	delta := f.Square(j.z)
	gamma := f.Square(j.y)
	beta := f.Mul(j.x, gamma)

	alpha := f.Mul(f.Sub(j.x, delta), f.Add(j.x, delta))
	alpha = f.Add(f.Add(alpha, alpha), alpha)

	beta4 := f.Add(beta, beta)
	beta4 = f.Add(beta4, beta4)
	beta8 := f.Add(beta4, beta4)

	x3 := f.Sub(f.Square(alpha), beta8)

	z3 := f.Square(f.Add(j.y, j.z))
	z3 = f.Sub(f.Sub(z3, gamma), delta)

	gamma8 := f.Square(gamma)
	gamma8 = f.Add(gamma8, gamma8)
	gamma8 = f.Add(gamma8, gamma8)
	gamma8 = f.Add(gamma8, gamma8)

	y3 := f.Sub(f.Mul(alpha, f.Sub(beta4, x3)), gamma8)

	return jacobian{x: x3, y: y3, z: z3}
}

// addJacobian uses add-2007-bl and falls back to doubling when both inputs
// are the same point.
// See https://hyperelliptic.org/EFD/g1p/auto-shortw-jacobian-3.html#addition-add-2007-bl
func (c *Curve) addJacobian(a, b jacobian) jacobian {
	if a.z.IsZero() {
		return b
	}
	if b.z.IsZero() {
		return a
	}
	f := c.P

	z1z1 := f.Square(a.z)
	z2z2 := f.Square(b.z)

	u1 := f.Mul(a.x, z2z2)
	u2 := f.Mul(b.x, z1z1)
	s1 := f.Mul(f.Mul(a.y, b.z), z2z2)
	s2 := f.Mul(f.Mul(b.y, a.z), z1z1)

	h := f.Sub(u2, u1)
	r := f.Sub(s2, s1)
	if h.IsZero() {
		if r.IsZero() {
			return c.doubleJacobian(a)
		}
		return jacobianInfinity()
	}

	i := f.Add(h, h)
	i = f.Square(i)
	jj := f.Mul(h, i)
	r = f.Add(r, r)
	v := f.Mul(u1, i)

	x3 := f.Sub(f.Sub(f.Square(r), jj), f.Add(v, v))

	s1j := f.Mul(s1, jj)
	y3 := f.Sub(f.Mul(r, f.Sub(v, x3)), f.Add(s1j, s1j))

	z3 := f.Square(f.Add(a.z, b.z))
	z3 = f.Mul(f.Sub(f.Sub(z3, z1z1), z2z2), h)

	return jacobian{x: x3, y: y3, z: z3}
}
