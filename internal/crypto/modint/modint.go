// Package modint implements fixed-width modular naturals used for curve
// coordinates (mod p) and scalars (mod n).
//
// Values are built raw with FromBytes or FromUint64 and only become
// canonical relative to a Modulus. Arithmetic on a Modulus requires
// canonical inputs; anything else is a programming error and panics.
// None of the operations are constant time.
package modint

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/cronokirby/safenum"
)

var (
	// ErrLength is returned when an encoding does not match the modulus width.
	ErrLength = errors.New("modint: wrong encoded length")

	// ErrNotCanonical is returned when a decoded value is not below the modulus.
	ErrNotCanonical = errors.New("modint: value not reduced")
)

// ProgrammingError is the panic value raised when arithmetic is invoked on
// values outside the modulus range. It is never meant to be recovered from.
type ProgrammingError struct {
	Op  string
	Msg string
}

func (e *ProgrammingError) Error() string {
	return fmt.Sprintf("modint: %s: %s", e.Op, e.Msg)
}

// Int is an unsigned big integer. The zero value is 0.
type Int struct {
	nat *safenum.Nat
}

// FromBytes interprets b as a big-endian natural. The result is not reduced.
func FromBytes(b []byte) Int {
	return Int{nat: new(safenum.Nat).SetBytes(b)}
}

// FromUint64 returns v as an Int.
func FromUint64(v uint64) Int {
	return Int{nat: new(safenum.Nat).SetUint64(v)}
}

// FromHex parses a big-endian hex string.
func FromHex(s string) (Int, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Int{}, fmt.Errorf("modint: invalid hex: %w", err)
	}
	return FromBytes(b), nil
}

// value returns the backing natural. safenum's Mod family only reads its
// operands, so the result may be handed to those; comparisons go through
// scratch copies because safenum's Cmp resizes both sides in place.
func (a Int) value() *safenum.Nat {
	if a.nat == nil {
		return new(safenum.Nat).SetUint64(0)
	}
	return a.nat
}

// scratch returns a private copy of a with capacity for bits.
func (a Int) scratch(bits int) *safenum.Nat {
	return new(safenum.Nat).Resize(bits).SetNat(a.value())
}

// settle moves an arithmetic result into storage of exactly its width, so
// that Clear can reach every limb, and zeroes the source.
func settle(n *safenum.Nat) Int {
	out := Int{nat: new(safenum.Nat).SetNat(n)}
	wipe(n)
	return out
}

// wipe zeroes every limb of n up to its announced width.
func wipe(n *safenum.Nat) {
	n.SetBytes(make([]byte, (n.AnnouncedLen()+7)/8))
}

// Clear overwrites a with zero in place and releases its storage. Only use
// it on values that are not shared, such as nonces.
func (a *Int) Clear() {
	if a.nat != nil {
		wipe(a.nat)
	}
	a.nat = nil
}

// compare returns safenum's (>, =, <) for a and b on throwaway copies.
func compare(a, b Int) (gt, eq, lt safenum.Choice) {
	bits := a.value().AnnouncedLen()
	if l := b.value().AnnouncedLen(); l > bits {
		bits = l
	}
	x, y := a.scratch(bits), b.scratch(bits)
	defer wipe(x)
	defer wipe(y)
	return x.Cmp(y)
}

// Cmp returns -1, 0 or +1 depending on whether a is less than, equal to or
// greater than b.
func (a Int) Cmp(b Int) int {
	gt, eq, _ := compare(a, b)
	switch {
	case gt == 1:
		return 1
	case eq == 1:
		return 0
	default:
		return -1
	}
}

// Equal reports whether a == b.
func (a Int) Equal(b Int) bool {
	_, eq, _ := compare(a, b)
	return eq == 1
}

// IsZero reports whether a == 0.
func (a Int) IsZero() bool {
	return a.value().EqZero() == 1
}

// BitLen returns the number of significant bits of a.
func (a Int) BitLen() int {
	return a.value().TrueLen()
}

// Bit returns bit i of a (bit 0 is the least significant).
func (a Int) Bit(i int) uint {
	return uint(a.value().Byte(i/8)>>(uint(i)%8)) & 1
}

// Bytes returns a as exactly size big-endian bytes. It panics if a does not
// fit.
func (a Int) Bytes(size int) []byte {
	if (a.BitLen()+7)/8 > size {
		panic(&ProgrammingError{Op: "Bytes", Msg: fmt.Sprintf("value does not fit in %d bytes", size)})
	}
	return a.value().FillBytes(make([]byte, size))
}

// String returns the minimal big-endian hex form of a.
func (a Int) String() string {
	return a.value().Big().Text(16)
}

// Modulus is an odd modulus together with its fixed encoding width.
type Modulus struct {
	m    *safenum.Modulus
	v    Int
	size int
}

// NewModulus builds a modulus from its big-endian encoding. The encoding
// length defines the width of every value handled by the modulus.
func NewModulus(b []byte) *Modulus {
	return &Modulus{
		m:    safenum.ModulusFromBytes(b),
		v:    FromBytes(b),
		size: len(b),
	}
}

// MustModulusFromHex is NewModulus for compile-time constants.
func MustModulusFromHex(s string) *Modulus {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return NewModulus(b)
}

// Size returns the encoding width in bytes.
func (m *Modulus) Size() int { return m.size }

// BitLen returns the bit length of the modulus.
func (m *Modulus) BitLen() int { return m.m.BitLen() }

// Value returns the modulus as an Int.
func (m *Modulus) Value() Int { return m.v }

// Contains reports whether 0 <= a < m.
func (m *Modulus) Contains(a Int) bool {
	_, _, lt := compare(a, m.v)
	return lt == 1
}

// Decode parses exactly Size() big-endian bytes into a canonical value.
func (m *Modulus) Decode(b []byte) (Int, error) {
	if len(b) != m.size {
		return Int{}, fmt.Errorf("%w: got %d, want %d", ErrLength, len(b), m.size)
	}
	a := FromBytes(b)
	if !m.Contains(a) {
		return Int{}, ErrNotCanonical
	}
	return a, nil
}

// Encode returns a as Size() big-endian bytes.
func (m *Modulus) Encode(a Int) []byte {
	m.mustCanonical("Encode", a)
	return a.Bytes(m.size)
}

// Reduce returns a mod m for any raw value.
func (m *Modulus) Reduce(a Int) Int {
	return settle(new(safenum.Nat).Mod(a.value(), m.m))
}

// Zero returns 0.
func (m *Modulus) Zero() Int { return FromUint64(0) }

// One returns 1.
func (m *Modulus) One() Int { return FromUint64(1) }

// Add returns a + b mod m.
func (m *Modulus) Add(a, b Int) Int {
	m.mustCanonical("Add", a, b)
	return settle(new(safenum.Nat).ModAdd(a.value(), b.value(), m.m))
}

// Sub returns a - b mod m.
func (m *Modulus) Sub(a, b Int) Int {
	m.mustCanonical("Sub", a, b)
	return settle(new(safenum.Nat).ModSub(a.value(), b.value(), m.m))
}

// Mul returns a * b mod m. The double-width product is reduced fully.
func (m *Modulus) Mul(a, b Int) Int {
	m.mustCanonical("Mul", a, b)
	return settle(new(safenum.Nat).ModMul(a.value(), b.value(), m.m))
}

// Square returns a² mod m.
func (m *Modulus) Square(a Int) Int {
	return m.Mul(a, a)
}

// Neg returns m - a, mapping 0 to 0.
func (m *Modulus) Neg(a Int) Int {
	m.mustCanonical("Neg", a)
	return settle(new(safenum.Nat).ModNeg(a.value(), m.m))
}

// Inv returns a⁻¹ mod m. The modulus must be prime and a non-zero.
func (m *Modulus) Inv(a Int) Int {
	m.mustCanonical("Inv", a)
	if a.IsZero() {
		panic(&ProgrammingError{Op: "Inv", Msg: "zero has no inverse"})
	}
	return settle(new(safenum.Nat).ModInverse(a.value(), m.m))
}

// Random draws a value uniformly from [1, m-1]. Draws of zero or of values
// not below m are discarded and sampled again.
func (m *Modulus) Random(rand io.Reader) (Int, error) {
	buf := make([]byte, m.size)
	defer clear(buf)
	for {
		if _, err := io.ReadFull(rand, buf); err != nil {
			return Int{}, fmt.Errorf("modint: random source: %w", err)
		}
		a := FromBytes(buf)
		if a.IsZero() || !m.Contains(a) {
			continue
		}
		return a, nil
	}
}

func (m *Modulus) mustCanonical(op string, vals ...Int) {
	for _, a := range vals {
		if !m.Contains(a) {
			panic(&ProgrammingError{Op: op, Msg: "operand not reduced"})
		}
	}
}
