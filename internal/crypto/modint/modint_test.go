package modint

import (
	"bytes"
	"crypto/rand"
	"math/big"
	"math/bits"
	"testing"
	"unsafe"

	"github.com/cronokirby/safenum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// secp192r1 group order.
const n192 = "ffffffffffffffffffffffff99def836146bc9b1b4d22831"

func randomNonZero(t *testing.T, m *Modulus) Int {
	t.Helper()
	a, err := m.Random(rand.Reader)
	require.NoError(t, err)
	return a
}

func TestAddSubRoundTrip(t *testing.T) {
	m := MustModulusFromHex(n192)
	for i := 0; i < 50; i++ {
		a := randomNonZero(t, m)
		b := randomNonZero(t, m)
		sum := m.Add(a, b)
		assert.True(t, m.Contains(sum))
		assert.True(t, m.Sub(sum, b).Equal(a))
	}
}

func TestMulInverse(t *testing.T) {
	m := MustModulusFromHex(n192)
	for i := 0; i < 50; i++ {
		a := randomNonZero(t, m)
		assert.True(t, m.Mul(m.Inv(a), a).Equal(m.One()))
	}
}

func TestMulMatchesBig(t *testing.T) {
	m := MustModulusFromHex(n192)
	nb := m.Value().value().Big()
	for i := 0; i < 20; i++ {
		a := randomNonZero(t, m)
		b := randomNonZero(t, m)
		want := new(big.Int).Mul(a.value().Big(), b.value().Big())
		want.Mod(want, nb)
		assert.Equal(t, 0, want.Cmp(m.Mul(a, b).value().Big()))
	}
}

func TestNeg(t *testing.T) {
	m := MustModulusFromHex(n192)
	assert.True(t, m.Neg(m.Zero()).IsZero())

	a := randomNonZero(t, m)
	assert.True(t, m.Add(a, m.Neg(a)).IsZero())
	assert.True(t, m.Neg(m.One()).Equal(m.Sub(m.Zero(), m.One())))
}

func TestCmp(t *testing.T) {
	one := FromUint64(1)
	two := FromBytes([]byte{0, 0, 0, 2})
	assert.Equal(t, -1, one.Cmp(two))
	assert.Equal(t, 1, two.Cmp(one))
	assert.Equal(t, 0, two.Cmp(FromUint64(2)))
	assert.True(t, Int{}.IsZero())
}

func TestDecode(t *testing.T) {
	m := MustModulusFromHex(n192)

	_, err := m.Decode(make([]byte, 23))
	assert.ErrorIs(t, err, ErrLength)

	_, err = m.Decode(m.Value().Bytes(24))
	assert.ErrorIs(t, err, ErrNotCanonical)

	a := randomNonZero(t, m)
	got, err := m.Decode(m.Encode(a))
	require.NoError(t, err)
	assert.True(t, got.Equal(a))
}

func TestReduce(t *testing.T) {
	m := MustModulusFromHex(n192)
	above := m.Add(m.One(), m.One())
	raw := FromBytes(new(big.Int).Add(m.Value().value().Big(), above.value().Big()).Bytes())
	assert.False(t, m.Contains(raw))
	assert.True(t, m.Reduce(raw).Equal(above))
}

func TestNonCanonicalPanics(t *testing.T) {
	m := MustModulusFromHex(n192)
	assert.PanicsWithError(t, "modint: Add: operand not reduced", func() {
		m.Add(m.Value(), m.One())
	})
	assert.Panics(t, func() { m.Inv(m.Zero()) })
	assert.Panics(t, func() { m.Value().Bytes(10) })
}

func TestRandomResamplesZeroAndOutOfRange(t *testing.T) {
	m := MustModulusFromHex(n192)
	var stream bytes.Buffer
	// zero, then a value above n
	stream.Write(make([]byte, 24))
	stream.Write(bytes.Repeat([]byte{0xff}, 24))
	want := FromUint64(7)
	stream.Write(want.Bytes(24))

	got, err := m.Random(&stream)
	require.NoError(t, err)
	assert.True(t, got.Equal(want))

	_, err = m.Random(&stream)
	assert.Error(t, err)
}

// natLayout mirrors safenum.Nat so tests can inspect the limb storage.
type natLayout struct {
	announced int
	reduced   *safenum.Modulus
	limbs     []safenum.Word
}

func backingLimbs(a Int) []safenum.Word {
	limbs := (*natLayout)(unsafe.Pointer(a.nat)).limbs
	return limbs[:cap(limbs)]
}

func TestClear(t *testing.T) {
	a := FromUint64(12345)
	alias := a
	a.Clear()
	assert.True(t, a.IsZero())
	assert.True(t, alias.IsZero(), "storage is overwritten, not just dropped")

	var zero Int
	zero.Clear()
	assert.True(t, zero.IsZero())
}

func TestClearFullWidth(t *testing.T) {
	m := MustModulusFromHex(n192)
	x := randomNonZero(t, m)
	values := map[string]Int{
		"decoded": FromBytes(bytes.Repeat([]byte{0xab}, 24)),
		"random":  randomNonZero(t, m),
		"product": m.Mul(x, x),
		"inverse": m.Inv(x),
		"sum":     m.Add(x, m.One()),
	}
	for name, v := range values {
		t.Run(name, func(t *testing.T) {
			limbs := backingLimbs(v)
			require.GreaterOrEqual(t, len(limbs)*bits.UintSize, 192)
			v.Clear()
			for i, w := range limbs {
				assert.Zero(t, w, "limb %d", i)
			}
		})
	}
}

func TestCompareLeavesOperandsAlone(t *testing.T) {
	m := MustModulusFromHex(n192)
	short := FromUint64(3)
	before := backingLimbs(short)
	assert.True(t, m.Contains(short))
	assert.Equal(t, -1, short.Cmp(m.Value()))
	after := backingLimbs(short)
	assert.Len(t, after, len(before))
	assert.Same(t, &before[0], &after[0])
}
