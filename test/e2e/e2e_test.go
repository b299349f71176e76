package e2e

import (
	"context"
	"crypto/rand"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/smallyu/go-ibihop/internal/crypto/curves"
	"github.com/smallyu/go-ibihop/internal/device"
	"github.com/smallyu/go-ibihop/internal/protocol/keygen"
	"github.com/smallyu/go-ibihop/internal/protocol/reader"
	"github.com/smallyu/go-ibihop/internal/protocol/tag"
	"github.com/smallyu/go-ibihop/internal/transport"
	"github.com/smallyu/go-ibihop/pkg/ibihop"
)

type pair struct {
	curve     *curves.Curve
	readerKey *keygen.KeyPair
	tagKey    *keygen.KeyPair
}

func newPair(t *testing.T, c *curves.Curve) *pair {
	t.Helper()
	rk, err := keygen.Generate(c, rand.Reader)
	if err != nil {
		t.Fatalf("reader key: %v", err)
	}
	tk, err := keygen.Generate(c, rand.Reader)
	if err != nil {
		t.Fatalf("tag key: %v", err)
	}
	return &pair{curve: c, readerKey: rk, tagKey: tk}
}

func (p *pair) readerConfig() device.Config {
	return device.Config{
		Role:  ibihop.RoleReader,
		Curve: p.curve,
		Key:   p.readerKey,
		Peers: []ibihop.Peer{{Name: "tag", PublicKey: p.tagKey.Public()}},
	}
}

func (p *pair) tagConfig() device.Config {
	return device.Config{
		Role:  ibihop.RoleTag,
		Curve: p.curve,
		Key:   p.tagKey,
		Peers: []ibihop.Peer{{Name: "reader", PublicKey: p.readerKey.Public()}},
	}
}

func startUDP(t *testing.T, cfg device.Config) (*device.Device, net.Addr) {
	t.Helper()
	var d *device.Device
	u, err := transport.NewUDP(transport.UDPConfig{
		ListenAddr: "127.0.0.1:0",
		Handler:    func(data []byte, from net.Addr) { d.HandleMessage(data, from) },
	})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if d, err = device.New(cfg, u); err != nil {
		t.Fatalf("device: %v", err)
	}
	if err := u.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { u.Stop() })
	return d, u.LocalAddr()
}

func TestAuthenticationAllCurves(t *testing.T) {
	for _, c := range curves.All() {
		t.Run(c.Name, func(t *testing.T) {
			p := newPair(t, c)

			got := make(chan *ibihop.Outcome, 1)
			rc := p.readerConfig()
			rc.OnOutcome = func(_ net.Addr, o *ibihop.Outcome) { got <- o }
			_, readerAddr := startUDP(t, rc)
			td, _ := startUDP(t, p.tagConfig())

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			outcome, err := td.Authenticate(ctx, readerAddr)
			if err != nil {
				t.Fatalf("Authenticate: %v", err)
			}
			if !outcome.Authenticated || !outcome.Confirmed {
				t.Fatalf("tag outcome %s", outcome)
			}

			select {
			case o := <-got:
				if !o.Authenticated || o.Peer != "tag" {
					t.Errorf("reader outcome %s", o)
				}
				if o.SessionID != outcome.SessionID {
					t.Errorf("session %s, tag used %s", o.SessionID, outcome.SessionID)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("reader reported no outcome")
			}
		})
	}
}

// relay hands frames to the other device, optionally rewriting them.
type relay struct {
	to      *device.Device
	from    net.Addr
	rewrite func([]byte) []byte
}

func (r *relay) Send(data []byte, _ net.Addr) error {
	frame := append([]byte(nil), data...)
	if r.rewrite != nil {
		frame = r.rewrite(frame)
	}
	go r.to.HandleMessage(frame, r.from)
	return nil
}

func TestTamperedChallengeResponse(t *testing.T) {
	p := newPair(t, curves.Secp192r1())

	got := make(chan *ibihop.Outcome, 1)
	rc := p.readerConfig()
	rc.OnOutcome = func(_ net.Addr, o *ibihop.Outcome) { got <- o }

	toTag := &relay{from: transport.PipeAddr{ID: 0}, rewrite: func(b []byte) []byte {
		if ibihop.MessageType(b[0]) == ibihop.TypePass3 {
			b[len(b)-ibihop.SessionIDSize-1] ^= 0x80
		}
		return b
	}}
	toReader := &relay{from: transport.PipeAddr{ID: 1}}
	rd, err := device.New(rc, toTag)
	if err != nil {
		t.Fatal(err)
	}
	td, err := device.New(p.tagConfig(), toReader)
	if err != nil {
		t.Fatal(err)
	}
	toTag.to, toReader.to = td, rd

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := td.Authenticate(ctx, transport.PipeAddr{ID: 0})
	if !errors.Is(err, ibihop.ErrAuthentication) {
		t.Fatalf("Authenticate error %v, want %v", err, ibihop.ErrAuthentication)
	}
	if outcome.Authenticated {
		t.Error("tag accepted a tampered f")
	}

	select {
	case o := <-got:
		if o.Authenticated || !errors.Is(o.Err, ibihop.ErrAuthentication) {
			t.Errorf("reader outcome %s", o)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reader reported no outcome")
	}
}

// TestCrossSessionReplay feeds frames recorded in one run into another.
func TestCrossSessionReplay(t *testing.T) {
	p := newPair(t, curves.Secp128r1())
	readerParams := &ibihop.Parameters{
		Curve: p.curve,
		Key:   p.readerKey,
		Peers: []ibihop.Peer{{Name: "tag", PublicKey: p.tagKey.Public()}},
	}
	tagParams := &ibihop.Parameters{
		Curve: p.curve,
		Key:   p.tagKey,
		Peers: []ibihop.Peer{{Name: "reader", PublicKey: p.readerKey.Public()}},
	}

	// Record the first run's frames.
	var recorded [][]byte
	rd, _, err := reader.NewStateMachine(readerParams)
	if err != nil {
		t.Fatal(err)
	}
	tg, out, err := tag.NewStateMachine(tagParams)
	if err != nil {
		t.Fatal(err)
	}
	for toReader := true; len(out) > 0; toReader = !toReader {
		frame, err := ibihop.Marshal(out[0], p.curve.Digits)
		if err != nil {
			t.Fatal(err)
		}
		recorded = append(recorded, frame)
		if toReader {
			rd, out, err = rd.Update(out[0])
		} else {
			tg, out, err = tg.Update(out[0])
		}
		if err != nil {
			t.Fatal(err)
		}
	}
	if len(recorded) != 6 {
		t.Fatalf("recorded %d frames, want 6", len(recorded))
	}

	// A fresh tag must not accept the old reader frames.
	tg2, out, err := tag.NewStateMachine(tagParams)
	if err != nil {
		t.Fatal(err)
	}
	for _, frame := range [][]byte{recorded[1], recorded[3], recorded[5]} {
		msg, err := ibihop.Unmarshal(frame, p.curve.Digits)
		if err != nil {
			t.Fatal(err)
		}
		next, replies, err := tg2.Update(msg)
		if !errors.Is(err, ibihop.ErrSessionMismatch) {
			t.Errorf("%s: error %v, want %v", msg.Type(), err, ibihop.ErrSessionMismatch)
		}
		if len(replies) != 0 || next.Phase() != ibihop.PhaseAwaitingChallenge {
			t.Errorf("%s changed the tag", msg.Type())
		}
	}

	// The same for a reader that already answered a new greeting.
	rd2, _, err := reader.NewStateMachine(readerParams)
	if err != nil {
		t.Fatal(err)
	}
	rd2, _, err = rd2.Update(out[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, frame := range [][]byte{recorded[2], recorded[4]} {
		msg, err := ibihop.Unmarshal(frame, p.curve.Digits)
		if err != nil {
			t.Fatal(err)
		}
		_, replies, err := rd2.Update(msg)
		if !errors.Is(err, ibihop.ErrSessionMismatch) {
			t.Errorf("%s: error %v, want %v", msg.Type(), err, ibihop.ErrSessionMismatch)
		}
		if len(replies) != 0 || rd2.Phase() != ibihop.PhaseAwaitingR {
			t.Errorf("%s changed the reader", msg.Type())
		}
	}
}
