package curves

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/smallyu/go-ibihop/internal/crypto/modint"
)

var (
	// ErrUnknownCurve is returned for a curve name or width that is not supported.
	ErrUnknownCurve = errors.New("curves: unknown curve")

	// ErrInvalidPoint is returned when encoded coordinates do not describe a
	// point on the curve.
	ErrInvalidPoint = errors.New("curves: point not on curve")

	// ErrEncoding is returned when an encoding has the wrong length.
	ErrEncoding = errors.New("curves: wrong encoding length")
)

// Curve is a short-Weierstrass curve y² = x³ - 3x + b over GF(p) with a
// base point G of prime order n.
//
// Field elements and scalars are fixed-width: Digits bytes each.
type Curve struct {
	Name   string
	Digits int

	P *modint.Modulus // field prime
	N *modint.Modulus // order of G
	B modint.Int
	G Point
}

func newCurve(name, p, n, b, gx, gy string) *Curve {
	P := modint.MustModulusFromHex(p)
	N := modint.MustModulusFromHex(n)
	if P.Size() != N.Size() {
		panic("curves: " + name + ": field and order widths differ")
	}
	return &Curve{
		Name:   name,
		Digits: P.Size(),
		P:      P,
		N:      N,
		B:      mustHex(b),
		G:      NewPoint(mustHex(gx), mustHex(gy)),
	}
}

func mustHex(s string) modint.Int {
	v, err := modint.FromHex(s)
	if err != nil {
		panic(err)
	}
	return v
}

// SEC 2 parameters.
var (
	secp128r1 = newCurve("secp128r1",
		"fffffffdffffffffffffffffffffffff",
		"fffffffe0000000075a30d1b9038a115",
		"e87579c11079f43dd824993c2cee5ed3",
		"161ff7528b899b2d0c28607ca52c5b86",
		"cf5ac8395bafeb13c02da292dded7a83",
	)
	secp192r1 = newCurve("secp192r1",
		"fffffffffffffffffffffffffffffffeffffffffffffffff",
		"ffffffffffffffffffffffff99def836146bc9b1b4d22831",
		"64210519e59c80e70fa7e9ab72243049feb8deecc146b9b1",
		"188da80eb03090f67cbf20eb43a18800f4ff0afd82ff1012",
		"07192b95ffc8da78631011ed6b24cdd573f977a11e794811",
	)
	secp256r1 = newCurve("secp256r1",
		"ffffffff00000001000000000000000000000000ffffffffffffffffffffffff",
		"ffffffff00000000ffffffffffffffffbce6faada7179e84f3b9cac2fc632551",
		"5ac635d8aa3a93e7b3ebbd55769886bc651d06b0cc53b0f63bce3c3e27d2604b",
		"6b17d1f2e12c4247f8bce6e563a440f277037d812deb33a0f4a13945d898c296",
		"4fe342e2fe1a7f9b8ee7eb4a7c0f9e162bce33576b315ececbb6406837bf51f5",
	)
	secp384r1 = newCurve("secp384r1",
		"fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffeffffffff0000000000000000ffffffff",
		"ffffffffffffffffffffffffffffffffffffffffffffffffc7634d81f4372ddf581a0db248b0a77aecec196accc52973",
		"b3312fa7e23ee7e4988e056be3f82d19181d9c6efe8141120314088f5013875ac656398d8a2ed19d2a85c8edd3ec2aef",
		"aa87ca22be8b05378eb1c71ef320ad746e1d3b628ba79b9859f741e082542a385502f25dbf55296c3a545e3872760ab7",
		"3617de4a96262c6f5d9e98bf9292dc29f8f41dbd289a147ce9da3113b5f0b8c00a60b1ce1d7e819d7a431d7c90ea0e5f",
	)
)

var byName = map[string]*Curve{
	"secp128r1":  secp128r1,
	"secp192r1":  secp192r1,
	"prime192v1": secp192r1,
	"p-192":      secp192r1,
	"secp256r1":  secp256r1,
	"prime256v1": secp256r1,
	"p-256":      secp256r1,
	"secp384r1":  secp384r1,
	"p-384":      secp384r1,
}

// DefaultName is the curve used when none is configured.
const DefaultName = "secp192r1"

// Secp128r1 returns SEC 2 secp128r1 (16-byte digits).
func Secp128r1() *Curve { return secp128r1 }

// Secp192r1 returns SEC 2 secp192r1, also NIST P-192 (24-byte digits).
func Secp192r1() *Curve { return secp192r1 }

// Secp256r1 returns SEC 2 secp256r1, also NIST P-256 (32-byte digits).
func Secp256r1() *Curve { return secp256r1 }

// Secp384r1 returns SEC 2 secp384r1, also NIST P-384 (48-byte digits).
func Secp384r1() *Curve { return secp384r1 }

// All returns the supported curves ordered by digit width.
func All() []*Curve {
	return []*Curve{secp128r1, secp192r1, secp256r1, secp384r1}
}

// Names returns the canonical curve names.
func Names() []string {
	names := make([]string, 0, 4)
	for _, c := range All() {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// ByName looks a curve up by SEC or NIST name, case-insensitively.
func ByName(name string) (*Curve, error) {
	c, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCurve, name)
	}
	return c, nil
}

// ByDigits looks a curve up by its digit width in bytes (16, 24, 32 or 48).
func ByDigits(digits int) (*Curve, error) {
	for _, c := range All() {
		if c.Digits == digits {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %d-byte digits", ErrUnknownCurve, digits)
}

func (c *Curve) String() string { return c.Name }

// NewScalar draws a nonce or private key uniformly from [1, n-1].
func (c *Curve) NewScalar(rand io.Reader) (modint.Int, error) {
	return c.N.Random(rand)
}

// IsOnCurve reports whether p is an affine point with coordinates in
// [0, p) satisfying y² = x³ - 3x + b. The point at infinity is not on the
// curve.
func (c *Curve) IsOnCurve(p Point) bool {
	if p.inf || !c.P.Contains(p.X) || !c.P.Contains(p.Y) {
		return false
	}
	f := c.P
	x3 := f.Mul(f.Square(p.X), p.X)
	threeX := f.Add(f.Add(p.X, p.X), p.X)
	rhs := f.Add(f.Sub(x3, threeX), c.B)
	return f.Square(p.Y).Equal(rhs)
}

// IsGenerator reports whether p equals the fixed base point G. It is an
// equality test, not a check that p generates the group.
func (c *Curve) IsGenerator(p Point) bool {
	return p.Equal(c.G)
}

// Neg returns -p.
func (c *Curve) Neg(p Point) Point {
	if p.inf {
		return p
	}
	return NewPoint(p.X, c.P.Neg(p.Y))
}

// Add returns p + q.
func (c *Curve) Add(p, q Point) Point {
	return c.toAffine(c.addJacobian(c.toJacobian(p), c.toJacobian(q)))
}

// Double returns 2p.
func (c *Curve) Double(p Point) Point {
	return c.toAffine(c.doubleJacobian(c.toJacobian(p)))
}
