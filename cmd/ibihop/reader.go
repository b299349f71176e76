package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/smallyu/go-ibihop/internal/device"
	"github.com/smallyu/go-ibihop/internal/metrics"
	"github.com/smallyu/go-ibihop/internal/transport"
	"github.com/smallyu/go-ibihop/pkg/ibihop"
)

func newReaderCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reader",
		Short: "Serve tags until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := opts.load(ibihop.RoleReader, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runReader(cmd.Context(), r)
		},
	}
}

func runReader(ctx context.Context, r *resolved) error {
	cfg := r.rt.Device
	log := cfg.LoggerFactory.NewLogger("reader")

	if r.rt.MetricsListen != "" {
		m, stop, err := serveMetrics(r.rt.MetricsListen, log)
		if err != nil {
			return err
		}
		defer stop()
		cfg.Observer = m
	}
	cfg.OnOutcome = func(peer net.Addr, o *ibihop.Outcome) {
		if o.Authenticated {
			log.Infof("%v authenticated as %q (session %s)", peer, o.Peer, o.SessionID)
			return
		}
		log.Warnf("%v rejected: %v", peer, o.Err)
	}

	var d *device.Device
	u, err := transport.NewUDP(transport.UDPConfig{
		ListenAddr:    r.rt.Listen,
		Handler:       func(data []byte, from net.Addr) { d.HandleMessage(data, from) },
		LoggerFactory: cfg.LoggerFactory,
	})
	if err != nil {
		return err
	}
	d, err = device.New(cfg, u)
	if err != nil {
		_ = u.Stop()
		return err
	}
	if err := u.Start(); err != nil {
		return err
	}
	defer u.Stop()

	log.Infof("reader on %s with %d provisioned tags", u.LocalAddr(), len(cfg.Peers))
	if err := d.Run(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// serveMetrics exposes a fresh registry on addr. stop shuts the server down.
func serveMetrics(addr string, log logging.LeveledLogger) (*metrics.Metrics, func(), error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return nil, nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server: %v", err)
		}
	}()
	log.Infof("metrics on http://%s/metrics", ln.Addr())

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return m, stop, nil
}
