package curves

import (
	"fmt"

	"github.com/smallyu/go-ibihop/internal/crypto/modint"
)

// Point is an affine curve point or the point at infinity.
//
// A Point built by NewPoint or RawPoint is not validated; callers must run
// IsOnCurve before using a point that came from outside the process.
type Point struct {
	X, Y modint.Int
	inf  bool
}

// NewPoint returns the affine point (x, y).
func NewPoint(x, y modint.Int) Point {
	return Point{X: x, Y: y}
}

// Infinity returns the identity element.
func Infinity() Point {
	return Point{inf: true}
}

// IsInfinity reports whether p is the point at infinity.
func (p Point) IsInfinity() bool { return p.inf }

// Equal reports whether p and q are the same point.
func (p Point) Equal(q Point) bool {
	if p.inf || q.inf {
		return p.inf == q.inf
	}
	return p.X.Equal(q.X) && p.Y.Equal(q.Y)
}

func (p Point) String() string {
	if p.inf {
		return "(inf)"
	}
	return fmt.Sprintf("(%s, %s)", p.X, p.Y)
}

// EncodePoint returns X‖Y, each Digits bytes big-endian. The point at
// infinity encodes as all zeros, which never decodes.
func (c *Curve) EncodePoint(p Point) []byte {
	out := make([]byte, 2*c.Digits)
	if p.inf {
		return out
	}
	copy(out[:c.Digits], p.X.Bytes(c.Digits))
	copy(out[c.Digits:], p.Y.Bytes(c.Digits))
	return out
}

// RawPoint splits X‖Y into a point without any range or curve check.
func (c *Curve) RawPoint(b []byte) (Point, error) {
	if len(b) != 2*c.Digits {
		return Point{}, fmt.Errorf("%w: point is %d bytes, want %d", ErrEncoding, len(b), 2*c.Digits)
	}
	return NewPoint(modint.FromBytes(b[:c.Digits]), modint.FromBytes(b[c.Digits:])), nil
}

// DecodePoint parses X‖Y and requires the result to lie on the curve.
func (c *Curve) DecodePoint(b []byte) (Point, error) {
	p, err := c.RawPoint(b)
	if err != nil {
		return Point{}, err
	}
	if !c.IsOnCurve(p) {
		return Point{}, ErrInvalidPoint
	}
	return p, nil
}

// EncodeScalar returns k as Digits bytes. k must be reduced mod n.
func (c *Curve) EncodeScalar(k modint.Int) []byte {
	return c.N.Encode(k)
}

// DecodeScalar parses Digits bytes into a value reduced mod n.
func (c *Curve) DecodeScalar(b []byte) (modint.Int, error) {
	return c.N.Decode(b)
}
