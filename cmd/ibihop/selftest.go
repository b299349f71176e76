package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/smallyu/go-ibihop/internal/crypto/curves"
	"github.com/smallyu/go-ibihop/internal/device"
	"github.com/smallyu/go-ibihop/internal/protocol/keygen"
	"github.com/smallyu/go-ibihop/internal/transport"
	"github.com/smallyu/go-ibihop/pkg/ibihop"
)

func newSelftestCmd() *cobra.Command {
	var (
		curveName string
		runs      int
	)
	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Run a reader and a tag in process and report pass timings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := curves.ByName(curveName)
			if err != nil {
				return err
			}
			return selftest(cmd.Context(), cmd.OutOrStdout(), c, runs)
		},
	}
	cmd.Flags().StringVar(&curveName, "curve", curves.Secp192r1().Name, fmt.Sprintf("curve, one of %v", curves.Names()))
	cmd.Flags().IntVarP(&runs, "runs", "n", 10, "number of runs")
	return cmd
}

// timings collects step durations from both engines.
type timings struct {
	mu    sync.Mutex
	steps map[ibihop.Step][]time.Duration
}

func (t *timings) StepCompleted(_ ibihop.Role, step ibihop.Step, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps[step] = append(t.steps[step], elapsed)
}

func (t *timings) SessionFinished(*ibihop.Outcome) {}

func (t *timings) write(w io.Writer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "step\truns\tmean")
	for _, step := range []ibihop.Step{ibihop.StepPass1, ibihop.StepPass2, ibihop.StepPass3, ibihop.StepPass4, ibihop.StepTagVerify} {
		d := t.steps[step]
		if len(d) == 0 {
			continue
		}
		var sum time.Duration
		for _, v := range d {
			sum += v
		}
		fmt.Fprintf(tw, "%s\t%d\t%v\n", step, len(d), sum/time.Duration(len(d)))
	}
	return tw.Flush()
}

func selftest(ctx context.Context, w io.Writer, c *curves.Curve, runs int) error {
	rk, err := keygen.Generate(c, rand.Reader)
	if err != nil {
		return err
	}
	tk, err := keygen.Generate(c, rand.Reader)
	if err != nil {
		return err
	}
	obs := &timings{steps: make(map[ibihop.Step][]time.Duration)}

	p := transport.NewPipe()
	defer p.Close()

	start := func(cfg device.Config, conn net.PacketConn) (*device.Device, func(), error) {
		var d *device.Device
		u, err := transport.NewUDP(transport.UDPConfig{
			Conn:    conn,
			Handler: func(data []byte, from net.Addr) { d.HandleMessage(data, from) },
		})
		if err != nil {
			return nil, nil, err
		}
		if d, err = device.New(cfg, u); err != nil {
			return nil, nil, err
		}
		if err := u.Start(); err != nil {
			return nil, nil, err
		}
		return d, func() { _ = u.Stop() }, nil
	}

	_, stopReader, err := start(device.Config{
		Role:     ibihop.RoleReader,
		Curve:    c,
		Key:      rk,
		Peers:    []ibihop.Peer{{Name: "tag", PublicKey: tk.Public()}},
		Observer: obs,
	}, p.Conn(0))
	if err != nil {
		return err
	}
	defer stopReader()
	td, stopTag, err := start(device.Config{
		Role:     ibihop.RoleTag,
		Curve:    c,
		Key:      tk,
		Peers:    []ibihop.Peer{{Name: "reader", PublicKey: rk.Public()}},
		Observer: obs,
	}, p.Conn(1))
	if err != nil {
		return err
	}
	defer stopTag()

	fmt.Fprintf(w, "curve %s, %d runs\n", c, runs)
	for i := 0; i < runs; i++ {
		runCtx, cancel := context.WithTimeout(ctx, device.DefaultSessionTimeout)
		outcome, err := td.Authenticate(runCtx, p.Conn(1).PeerAddr())
		cancel()
		if err != nil {
			return fmt.Errorf("run %d: %w", i+1, err)
		}
		if !outcome.Confirmed {
			return fmt.Errorf("run %d: %s", i+1, outcome)
		}
	}
	return obs.write(w)
}
