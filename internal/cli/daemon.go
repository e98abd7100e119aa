// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/linerpc"
	"github.com/luxfi/linerpc/admin"
	"github.com/luxfi/linerpc/config"
	"github.com/luxfi/linerpc/internal/pool"
	"github.com/luxfi/linerpc/linerpcotel"
	"github.com/luxfi/linerpc/tcp"
)

const (
	daemonName      = "linerpcd"
	shutdownTimeout = 5 * time.Second
)

// DaemonOptions holds the linerpcd flags. Flags left unset keep the value
// from the config file.
type DaemonOptions struct {
	Config       string
	Listen       string
	MaxClients   int
	Workers      int
	Perm         string
	Admin        string
	AdminSurface string
	Trace        bool
	Verbose      bool
}

// NewDaemonCommand creates the linerpcd command.
func NewDaemonCommand() *cobra.Command {
	opts := &DaemonOptions{}

	cmd := &cobra.Command{
		Use:   daemonName,
		Short: "Serve linerpc sessions over TCP",
		Long: `Serve one linerpc session per TCP client.

Every client may call the builtins its permissions allow plus the demo
functions echo, atoi, toall and mul. An optional admin surface lists the
connected clients and broadcasts calls to them.

Example:
  linerpcd --listen 127.0.0.1:4810
  linerpcd --config ./linerpcd.yaml --admin 127.0.0.1:4811 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, opts)
		},
	}

	def := config.Default()
	f := cmd.Flags()
	f.StringVarP(&opts.Config, "config", "c", "", "path to a YAML config file")
	f.StringVarP(&opts.Listen, "listen", "l", def.Listen, "TCP address to listen on")
	f.IntVar(&opts.MaxClients, "max-clients", def.MaxClients, "maximum connected clients (0 for no limit)")
	f.IntVar(&opts.Workers, "workers", def.Workers, "serve clients on a fixed worker pool of this size (0 for one goroutine each)")
	f.StringVar(&opts.Perm, "perm", def.Perm, "permissions granted to clients (names, default or all)")
	f.StringVar(&opts.Admin, "admin", def.Admin.Listen, "admin surface address (empty to disable)")
	f.StringVar(&opts.AdminSurface, "admin-surface", def.Admin.Surface, "admin surface kind")
	f.BoolVar(&opts.Trace, "trace", def.Trace.Enabled, "export spans and metrics to stderr")
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	return cmd
}

// load reads the config file, if any, and applies the flags that were set.
func (o *DaemonOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if o.Config != "" {
		var err error
		if cfg, err = config.Load(o.Config); err != nil {
			return nil, err
		}
	}

	f := cmd.Flags()
	if f.Changed("listen") {
		cfg.Listen = o.Listen
	}
	if f.Changed("max-clients") {
		cfg.MaxClients = o.MaxClients
	}
	if f.Changed("workers") {
		cfg.Workers = o.Workers
	}
	if f.Changed("perm") {
		cfg.Perm = o.Perm
	}
	if f.Changed("admin") {
		cfg.Admin.Listen = o.Admin
	}
	if f.Changed("admin-surface") {
		cfg.Admin.Surface = o.AdminSurface
	}
	if f.Changed("trace") {
		cfg.Trace.Enabled = o.Trace
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runDaemon(cmd *cobra.Command, opts *DaemonOptions) error {
	cfg, err := opts.load(cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	level, _ := cfg.LogLevel()
	log := newLogger(cmd.ErrOrStderr(), level, opts.Verbose)
	slog.SetDefault(log)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	demo := NewDemo(log)
	sessOpts := []linerpc.Option{linerpc.WithFuncs(demo.Funcs())}
	if cfg.Trace.Enabled {
		providers, err := linerpcotel.NewStdout(cmd.ErrOrStderr(), daemonName, cfg.Trace.Interval)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to set up tracing", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := providers.Shutdown(shutdownCtx); err != nil {
				log.Error("error flushing telemetry", "error", err)
			}
		}()
		sessOpts = append(sessOpts, linerpcotel.Option(providers.Config(daemonName)))
	}

	daemonOpts := append(cfg.DaemonOptions(),
		tcp.WithLogger(log),
		tcp.WithSessionOptions(sessOpts...),
	)
	if cfg.Workers > 0 {
		workers := pool.New(cfg.Workers)
		defer workers.Close()
		daemonOpts = append(daemonOpts, tcp.WithSpawner(workers))
	}

	d, err := tcp.NewDaemon(cfg.Listen, daemonOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	demo.Bind(d)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := d.Serve(gctx); err != nil && !errors.Is(err, tcp.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Admin.Listen != "" {
		g.Go(func() error {
			return admin.Serve(gctx, cfg.Admin.Surface, cfg.Admin.Listen, d, log)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", "clients", d.Count())
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return d.Stop(stopCtx)
	})

	fmt.Fprintf(cmd.OutOrStdout(), "%s listening on %s\n", daemonName, d.Addr())

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "daemon error", err)
	}
	log.Info("daemon stopped")
	return nil
}
