// Command ibihop runs an IBIHOP reader or tag, provisions keys and runs a
// local self-test.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smallyu/go-ibihop/internal/config"
	"github.com/smallyu/go-ibihop/pkg/ibihop"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
	peer       string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "ibihop",
		Short:        "IBIHOP mutual authentication between readers and tags",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "configuration file (YAML)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log_level")

	root.AddCommand(
		newKeygenCmd(),
		newReaderCmd(opts),
		newTagCmd(opts),
		newSelftestCmd(),
	)
	return root
}

// resolved is a loaded configuration and its runtime form.
type resolved struct {
	cfg *config.Config
	rt  *config.Runtime
}

// load reads the configuration and checks that it provisions role.
func (o *rootOptions) load(role ibihop.Role, logOut io.Writer) (*resolved, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Role == "" {
		cfg.Role = role.String()
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.peer != "" {
		cfg.Peer = o.peer
	}
	rt, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}
	if rt.Device.Role != role {
		return nil, fmt.Errorf("%w: configuration is for a %s", config.ErrInvalidConfig, rt.Device.Role)
	}
	lf, err := cfg.NewLoggerFactory(logOut)
	if err != nil {
		return nil, err
	}
	rt.Device.LoggerFactory = lf
	return &resolved{cfg: cfg, rt: rt}, nil
}
