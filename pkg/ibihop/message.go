package ibihop

import (
	"bytes"
	"fmt"

	"github.com/smallyu/go-ibihop/internal/crypto/curves"
	"github.com/smallyu/go-ibihop/internal/crypto/modint"
)

// MessageType is byte 0 of every frame.
type MessageType byte

const (
	TypeHello          MessageType = 'h'
	TypePass1          MessageType = '1'
	TypePass2          MessageType = '2'
	TypePass3          MessageType = '3'
	TypePass4          MessageType = '4'
	TypeTagVerified    MessageType = '5'
	TypeReaderRejected MessageType = '8'
)

func (t MessageType) String() string {
	switch t {
	case TypeHello:
		return "Hello"
	case TypePass1:
		return "Pass1"
	case TypePass2:
		return "Pass2"
	case TypePass3:
		return "Pass3"
	case TypePass4:
		return "Pass4"
	case TypeTagVerified:
		return "TagVerified"
	case TypeReaderRejected:
		return "ReaderRejected"
	default:
		return fmt.Sprintf("MessageType(%#02x)", byte(t))
	}
}

// greeting is the literal a tag opens a run with.
var greeting = []byte("hello")

// Message is one protocol frame.
type Message interface {
	// Type returns the frame's type byte.
	Type() MessageType

	// Session returns the run the frame belongs to.
	Session() SessionID
}

// Hello is the greeting a tag sends to start a run.
type Hello struct {
	SessionID SessionID
}

// Pass1 carries the reader challenge E = e⁻¹·G.
type Pass1 struct {
	SessionID SessionID
	E         curves.Point
}

// Pass2 carries the tag commitment R = r·G.
type Pass2 struct {
	SessionID SessionID
	R         curves.Point
}

// Pass3 carries the reader response f.
type Pass3 struct {
	SessionID SessionID
	F         modint.Int
}

// Pass4 carries the tag response s.
type Pass4 struct {
	SessionID SessionID
	S         modint.Int
}

// TagVerified tells the tag the reader accepted it.
type TagVerified struct {
	SessionID SessionID
}

// ReaderRejected tells the reader the tag refused to answer.
type ReaderRejected struct {
	SessionID SessionID
}

func (*Hello) Type() MessageType { return TypeHello }
func (*Pass1) Type() MessageType { return TypePass1 }
func (*Pass2) Type() MessageType { return TypePass2 }
func (*Pass3) Type() MessageType { return TypePass3 }
func (*Pass4) Type() MessageType { return TypePass4 }
func (*TagVerified) Type() MessageType { return TypeTagVerified }
func (*ReaderRejected) Type() MessageType { return TypeReaderRejected }

func (m *Hello) Session() SessionID { return m.SessionID }
func (m *Pass1) Session() SessionID { return m.SessionID }
func (m *Pass2) Session() SessionID { return m.SessionID }
func (m *Pass3) Session() SessionID { return m.SessionID }
func (m *Pass4) Session() SessionID { return m.SessionID }
func (m *TagVerified) Session() SessionID { return m.SessionID }
func (m *ReaderRejected) Session() SessionID { return m.SessionID }

// FrameSize returns the exact encoded length of a frame of type t for the
// given digit width, or 0 for an unknown type.
func FrameSize(t MessageType, digits int) int {
	var body int
	switch t {
	case TypeHello:
		body = len(greeting) - 1
	case TypePass1, TypePass2:
		body = 2 * digits
	case TypePass3, TypePass4:
		body = digits
	case TypeTagVerified, TypeReaderRejected:
		body = 0
	default:
		return 0
	}
	return 1 + body + SessionIDSize
}

// Marshal encodes msg as type ‖ body ‖ session token. Field elements are
// written big-endian, digits bytes each.
func Marshal(msg Message, digits int) ([]byte, error) {
	size := FrameSize(msg.Type(), digits)
	if size == 0 {
		return nil, fmt.Errorf("%w: cannot encode %s", ErrDecode, msg.Type())
	}
	buf := make([]byte, 0, size)

	switch m := msg.(type) {
	case *Hello:
		buf = append(buf, greeting...)
	case *Pass1:
		buf = appendPoint(append(buf, byte(TypePass1)), m.E, digits)
	case *Pass2:
		buf = appendPoint(append(buf, byte(TypePass2)), m.R, digits)
	case *Pass3:
		buf = append(append(buf, byte(TypePass3)), m.F.Bytes(digits)...)
	case *Pass4:
		buf = append(append(buf, byte(TypePass4)), m.S.Bytes(digits)...)
	case *TagVerified, *ReaderRejected:
		buf = append(buf, byte(msg.Type()))
	default:
		return nil, fmt.Errorf("%w: unsupported message %T", ErrDecode, msg)
	}

	sid := msg.Session()
	return append(buf, sid[:]...), nil
}

func appendPoint(buf []byte, p curves.Point, digits int) []byte {
	if p.IsInfinity() {
		return append(buf, make([]byte, 2*digits)...)
	}
	buf = append(buf, p.X.Bytes(digits)...)
	return append(buf, p.Y.Bytes(digits)...)
}

// Unmarshal decodes one frame. The type byte and exact length are checked
// before any field is interpreted. Points and scalars are returned raw:
// on-curve and range checks are the engine's job.
func Unmarshal(data []byte, digits int) (Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrDecode)
	}
	t := MessageType(data[0])
	size := FrameSize(t, digits)
	if size == 0 {
		return nil, fmt.Errorf("%w: unknown type byte %#02x", ErrDecode, data[0])
	}
	if len(data) != size {
		return nil, fmt.Errorf("%w: %s frame is %d bytes, want %d", ErrDecode, t, len(data), size)
	}

	body := data[1 : size-SessionIDSize]
	var sid SessionID
	copy(sid[:], data[size-SessionIDSize:])

	switch t {
	case TypeHello:
		if !bytes.Equal(data[:len(greeting)], greeting) {
			return nil, fmt.Errorf("%w: bad greeting", ErrDecode)
		}
		return &Hello{SessionID: sid}, nil
	case TypePass1:
		return &Pass1{SessionID: sid, E: rawPoint(body, digits)}, nil
	case TypePass2:
		return &Pass2{SessionID: sid, R: rawPoint(body, digits)}, nil
	case TypePass3:
		return &Pass3{SessionID: sid, F: modint.FromBytes(body)}, nil
	case TypePass4:
		return &Pass4{SessionID: sid, S: modint.FromBytes(body)}, nil
	case TypeTagVerified:
		return &TagVerified{SessionID: sid}, nil
	default:
		return &ReaderRejected{SessionID: sid}, nil
	}
}

func rawPoint(b []byte, digits int) curves.Point {
	return curves.NewPoint(modint.FromBytes(b[:digits]), modint.FromBytes(b[digits:]))
}
