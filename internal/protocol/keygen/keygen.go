// Package keygen creates and loads the long-lived key pairs that readers
// and tags are provisioned with.
package keygen

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/smallyu/go-ibihop/internal/crypto/curves"
	"github.com/smallyu/go-ibihop/internal/crypto/modint"
)

var (
	// ErrInvalidKey is returned for key material that cannot be decoded or
	// is out of range.
	ErrInvalidKey = errors.New("keygen: invalid key")

	// ErrKeyMismatch is returned when a public key is not private·G.
	ErrKeyMismatch = errors.New("keygen: public key does not match private key")
)

// PublicKey is a validated point on a named curve.
type PublicKey struct {
	Curve *curves.Curve
	Point curves.Point
}

// X returns the affine x-coordinate.
func (pk PublicKey) X() modint.Int { return pk.Point.X }

// Bytes returns X‖Y in fixed-width big-endian form.
func (pk PublicKey) Bytes() []byte {
	return pk.Curve.EncodePoint(pk.Point)
}

// Hex returns Bytes as lowercase hex.
func (pk PublicKey) Hex() string {
	return hex.EncodeToString(pk.Bytes())
}

// Equal reports whether both keys name the same point on the same curve.
func (pk PublicKey) Equal(o PublicKey) bool {
	return pk.Curve == o.Curve && pk.Point.Equal(o.Point)
}

func (pk PublicKey) String() string {
	return pk.Curve.Name + ":" + pk.Hex()
}

// ParsePublicKey decodes a hex X‖Y public key and checks that it lies on c.
func ParsePublicKey(c *curves.Curve, s string) (PublicKey, error) {
	b, err := decodeHex(s)
	if err != nil {
		return PublicKey{}, err
	}
	p, err := c.DecodePoint(b)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: public key: %w", ErrInvalidKey, err)
	}
	return PublicKey{Curve: c, Point: p}, nil
}

// KeyPair is a private scalar in [1, n-1] and its public point.
type KeyPair struct {
	curve   *curves.Curve
	private modint.Int
	public  curves.Point
}

// Generate draws a fresh private key from rand and derives its public key.
func Generate(c *curves.Curve, rand io.Reader) (*KeyPair, error) {
	sk, err := c.NewScalar(rand)
	if err != nil {
		return nil, fmt.Errorf("keygen: %w", err)
	}
	return &KeyPair{curve: c, private: sk, public: c.ScalarBaseMult(sk)}, nil
}

// FromPrivate derives the key pair for a provisioned private scalar given
// as Digits big-endian bytes.
func FromPrivate(c *curves.Curve, sk []byte) (*KeyPair, error) {
	k, err := c.DecodeScalar(sk)
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %w", ErrInvalidKey, err)
	}
	if k.IsZero() {
		return nil, fmt.Errorf("%w: private key is zero", ErrInvalidKey)
	}
	return &KeyPair{curve: c, private: k, public: c.ScalarBaseMult(k)}, nil
}

// FromPrivateHex is FromPrivate for a hex string.
func FromPrivateHex(c *curves.Curve, s string) (*KeyPair, error) {
	b, err := decodeHex(s)
	if err != nil {
		return nil, err
	}
	return FromPrivate(c, b)
}

// New loads a provisioned key pair and rejects it unless pk = sk·G.
func New(c *curves.Curve, sk, pk []byte) (*KeyPair, error) {
	kp, err := FromPrivate(c, sk)
	if err != nil {
		return nil, err
	}
	p, err := c.DecodePoint(pk)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %w", ErrInvalidKey, err)
	}
	if !p.Equal(kp.public) {
		return nil, ErrKeyMismatch
	}
	return kp, nil
}

// NewFromHex is New for hex strings. An empty public key skips the
// consistency check and derives it instead.
func NewFromHex(c *curves.Curve, sk, pk string) (*KeyPair, error) {
	if strings.TrimSpace(pk) == "" {
		return FromPrivateHex(c, sk)
	}
	skb, err := decodeHex(sk)
	if err != nil {
		return nil, err
	}
	pkb, err := decodeHex(pk)
	if err != nil {
		return nil, err
	}
	return New(c, skb, pkb)
}

// Curve returns the curve the pair belongs to.
func (k *KeyPair) Curve() *curves.Curve { return k.curve }

// Private returns the private scalar.
func (k *KeyPair) Private() modint.Int { return k.private }

// PrivateHex returns the private scalar as Digits bytes of hex.
func (k *KeyPair) PrivateHex() string {
	return hex.EncodeToString(k.curve.EncodeScalar(k.private))
}

// Public returns the public key.
func (k *KeyPair) Public() PublicKey {
	return PublicKey{Curve: k.curve, Point: k.public}
}

// String prints the public half only.
func (k *KeyPair) String() string {
	return "KeyPair{" + k.Public().String() + "}"
}

// Document is the provisioning form of a key pair.
type Document struct {
	Private string `yaml:"private"`
	Public  string `yaml:"public"`
}

// MarshalYAML emits the key section of a provisioning file.
func (k *KeyPair) MarshalYAML() (interface{}, error) {
	return Document{Private: k.PrivateHex(), Public: k.Public().Hex()}, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return b, nil
}
