package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/smallyu/go-ibihop/internal/device"
	"github.com/smallyu/go-ibihop/internal/transport"
	"github.com/smallyu/go-ibihop/pkg/ibihop"
)

func newTagCmd(opts *rootOptions) *cobra.Command {
	var (
		count    int
		interval time.Duration
		peer     string
	)
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Authenticate against a reader",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if peer != "" {
				opts.peer = peer
			}
			r, err := opts.load(ibihop.RoleTag, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			failed, err := runTag(cmd.Context(), r, count, interval, func(o *ibihop.Outcome) {
				fmt.Fprintln(cmd.OutOrStdout(), o)
			})
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d runs failed", failed, count)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of runs")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "pause between runs")
	cmd.Flags().StringVar(&peer, "peer", "", "reader address, overrides peer")
	return cmd
}

// runTag authenticates count times and returns how many runs failed.
func runTag(ctx context.Context, r *resolved, count int, interval time.Duration, report func(*ibihop.Outcome)) (int, error) {
	cfg := r.rt.Device
	log := cfg.LoggerFactory.NewLogger("tag")

	var d *device.Device
	u, err := transport.NewUDP(transport.UDPConfig{
		ListenAddr:    r.rt.Listen,
		Handler:       func(data []byte, from net.Addr) { d.HandleMessage(data, from) },
		LoggerFactory: cfg.LoggerFactory,
	})
	if err != nil {
		return 0, err
	}
	d, err = device.New(cfg, u)
	if err != nil {
		_ = u.Stop()
		return 0, err
	}
	if err := u.Start(); err != nil {
		return 0, err
	}
	defer u.Stop()

	timeout := cfg.SessionTimeout
	if timeout <= 0 {
		timeout = device.DefaultSessionTimeout
	}

	failed := 0
	for i := 0; i < count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return failed, ctx.Err()
			case <-time.After(interval):
			}
		}

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		outcome, err := d.Authenticate(runCtx, r.rt.Peer)
		cancel()
		if ctx.Err() != nil {
			return failed, ctx.Err()
		}
		if outcome == nil {
			outcome = &ibihop.Outcome{Role: ibihop.RoleTag, Err: err}
		}
		if err != nil || !outcome.Confirmed {
			failed++
			log.Warnf("run %d with %v failed: %v", i+1, r.rt.Peer, err)
		}
		report(outcome)
	}
	return failed, nil
}
