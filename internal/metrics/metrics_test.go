package metrics

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallyu/go-ibihop/internal/crypto/curves"
	"github.com/smallyu/go-ibihop/internal/device"
	"github.com/smallyu/go-ibihop/internal/protocol/keygen"
	"github.com/smallyu/go-ibihop/internal/transport"
	"github.com/smallyu/go-ibihop/pkg/ibihop"
)

func TestResult(t *testing.T) {
	abort := func(cause error) error { return ibihop.NewAbort(ibihop.RoleReader, ibihop.PhaseAwaitingS, "x", cause) }
	tests := []struct {
		outcome ibihop.Outcome
		want    string
	}{
		{ibihop.Outcome{Authenticated: true}, ResultAuthenticated},
		{ibihop.Outcome{Err: abort(ibihop.ErrVerification)}, ResultRejected},
		{ibihop.Outcome{Err: abort(ibihop.ErrAuthentication)}, ResultRejected},
		{ibihop.Outcome{Err: abort(ibihop.ErrInvalidPoint)}, ResultInvalidPoint},
		{ibihop.Outcome{Authenticated: true, Err: device.ErrSessionTimeout}, ResultTimeout},
		{ibihop.Outcome{Err: context.DeadlineExceeded}, ResultTimeout},
		{ibihop.Outcome{Err: context.Canceled}, ResultAbandoned},
		{ibihop.Outcome{Err: abort(ibihop.ErrRandomSource)}, ResultError},
		{ibihop.Outcome{}, ResultError},
	}
	for i, tt := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			assert.Equal(t, tt.want, Result(&tt.outcome))
		})
	}
}

func TestObserver(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.StepCompleted(ibihop.RoleReader, ibihop.StepPass1, time.Millisecond)
	m.StepCompleted(ibihop.RoleReader, ibihop.StepPass3, 2*time.Millisecond)
	m.SessionFinished(&ibihop.Outcome{Role: ibihop.RoleReader, Authenticated: true})
	m.SessionFinished(&ibihop.Outcome{Role: ibihop.RoleTag, Err: context.Canceled})
	m.SetActiveSessions(ibihop.RoleReader, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions.WithLabelValues("reader", ResultAuthenticated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions.WithLabelValues("tag", ResultAbandoned)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.active.WithLabelValues("reader")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.passes))

	_, err = New(reg)
	assert.Error(t, err, "collectors are registered once per registry")
}

type sender struct {
	mu    sync.Mutex
	other *device.Device
	from  net.Addr
}

func (s *sender) Send(data []byte, _ net.Addr) error {
	s.mu.Lock()
	other := s.other
	s.mu.Unlock()
	go other.HandleMessage(data, s.from)
	return nil
}

func TestDeviceRun(t *testing.T) {
	c := curves.Secp128r1()
	rk, err := keygen.Generate(c, rand.Reader)
	require.NoError(t, err)
	tk, err := keygen.Generate(c, rand.Reader)
	require.NoError(t, err)

	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	toTag := &sender{from: transport.PipeAddr{ID: 0}}
	toReader := &sender{from: transport.PipeAddr{ID: 1}}
	rd, err := device.New(device.Config{
		Role:     ibihop.RoleReader,
		Curve:    c,
		Key:      rk,
		Peers:    []ibihop.Peer{{Name: "tag", PublicKey: tk.Public()}},
		Observer: m,
	}, toTag)
	require.NoError(t, err)
	td, err := device.New(device.Config{
		Role:     ibihop.RoleTag,
		Curve:    c,
		Key:      tk,
		Peers:    []ibihop.Peer{{Name: "reader", PublicKey: rk.Public()}},
		Observer: m,
	}, toReader)
	require.NoError(t, err)
	toTag.other, toReader.other = td, rd

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := td.Authenticate(ctx, transport.PipeAddr{ID: 0})
	require.NoError(t, err)
	require.True(t, outcome.Confirmed)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.sessions.WithLabelValues("reader", ResultAuthenticated)) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions.WithLabelValues("tag", ResultAuthenticated)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.active.WithLabelValues("tag")))
	assert.Equal(t, 5, testutil.CollectAndCount(m.passes))
}
