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
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/luxfi/linerpc"
	"github.com/luxfi/linerpc/tcp"
)

const clientName = "linerpc"

// ClientOptions holds global flags for all client commands.
type ClientOptions struct {
	Addr    string
	Timeout time.Duration
	Verbose bool
}

// NewClientCommand creates the root command of the linerpc client.
func NewClientCommand() *cobra.Command {
	opts := &ClientOptions{}

	cmd := &cobra.Command{
		Use:   clientName,
		Short: "Call a linerpc daemon",
		Long: `Connect to a linerpc daemon, run one command and disconnect.

Example:
  linerpc ping
  linerpc --addr 10.0.0.7:4810 call atoi 12345
  linerpc listen
  linerpc admin peers`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.Addr, "addr", "a", "127.0.0.1:4810", "daemon address")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 5*time.Second, "connect timeout")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newPingCommand(opts))
	cmd.AddCommand(newCallCommand(opts))
	cmd.AddCommand(newVersionCommand(opts))
	cmd.AddCommand(newNamesCommand(opts, "help", "List the daemon's builtin functions",
		func(ctx context.Context, s *linerpc.Session) ([]string, error) { return s.RemoteHelp(ctx) }))
	cmd.AddCommand(newNamesCommand(opts, "list", "List the daemon's user functions",
		func(ctx context.Context, s *linerpc.Session) ([]string, error) { return s.RemoteList(ctx) }))
	cmd.AddCommand(newPermCommand(opts))
	cmd.AddCommand(newPutCommand(opts))
	cmd.AddCommand(newGetCommand(opts))
	cmd.AddCommand(newMulCommand(opts))
	cmd.AddCommand(newListenCommand(opts))
	cmd.AddCommand(newAdminCommand(opts))

	return cmd
}

func (o *ClientOptions) context(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func (o *ClientOptions) connect(cmd *cobra.Command, sessOpts ...linerpc.Option) (*tcp.Client, error) {
	log := newLogger(cmd.ErrOrStderr(), slog.LevelWarn, o.Verbose)
	c, err := tcp.Dial(o.context(cmd), o.Addr,
		tcp.WithLogger(log),
		tcp.WithDialTimeout(o.Timeout),
		tcp.WithSessionOptions(sessOpts...),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to connect", err)
	}
	return c, nil
}

// run connects, runs fn with the session lock held and disconnects.
func (o *ClientOptions) run(cmd *cobra.Command, fn func(ctx context.Context, s *linerpc.Session) error) error {
	c, err := o.connect(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			slog.Debug("error closing connection", "error", err)
		}
	}()

	ctx := o.context(cmd)
	if err := c.Do(ctx, func(s *linerpc.Session) error { return fn(ctx, s) }); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		return WrapExitError(ExitFailure, cmd.Name()+" failed", err)
	}
	return nil
}

func newPingCommand(opts *ClientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the daemon answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, s *linerpc.Session) error {
				start := time.Now()
				ok, err := s.RemotePing(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return NewExitError(ExitFailure, "unexpected ping reply")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pong from %s in %s\n", opts.Addr, time.Since(start).Round(time.Microsecond))
				return nil
			})
		},
	}
}

func newCallCommand(opts *ClientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "call <function> [args...]",
		Short: "Call a function and print its results",
		Long: `Call a function on the daemon and print its results on one line,
escaped the way they travel on the wire.

Example:
  linerpc call echo "hello world"
  linerpc call malloc 1024`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, s *linerpc.Session) error {
				res, err := s.Invoke(ctx, args...)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), linerpc.Join(res))
				return nil
			})
		},
	}
}

func newVersionCommand(opts *ClientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the daemon's protocol version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, s *linerpc.Session) error {
				v, err := s.RemoteVersion(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				if v != linerpc.Version {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: local protocol version is %s\n", linerpc.Version)
				}
				return nil
			})
		},
	}
}

func newNamesCommand(opts *ClientOptions, use, short string, fetch func(context.Context, *linerpc.Session) ([]string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, s *linerpc.Session) error {
				names, err := fetch(ctx, s)
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
}

func newPermCommand(opts *ClientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "perm",
		Short: "Print the permissions the daemon grants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, s *linerpc.Session) error {
				p, err := s.RemotePerm(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", int(p), p)
				return nil
			})
		},
	}
}

func newPutCommand(opts *ClientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put <file>",
		Short: "Upload a file into a block on the daemon",
		Long: `Upload a file into a newly allocated block on the daemon and report the
transfer. The block is freed before disconnecting.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read file", err)
			}
			if len(data) == 0 {
				return NewExitError(ExitCommandError, "file is empty")
			}
			return opts.run(cmd, func(ctx context.Context, s *linerpc.Session) error {
				start := time.Now()
				id, err := s.RemoteMalloc(ctx, len(data))
				if err != nil {
					return fmt.Errorf("malloc: %w", err)
				}
				n, err := s.RemoteWrite(ctx, data, id, 0, linerpc.FormatBinary)
				if err != nil {
					return fmt.Errorf("write block %d: %w", id, err)
				}
				elapsed := time.Since(start)
				if err := s.RemoteFree(ctx, id); err != nil {
					return fmt.Errorf("free block %d: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "block %d: wrote %d bytes in %s\n", id, n, elapsed.Round(time.Microsecond))
				return nil
			})
		},
	}
}

func newGetCommand(opts *ClientOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get <size>",
		Short: "Download a block from the daemon",
		Long: `Allocate a block of size bytes on the daemon, download it and report the
transfer. The bytes go to --output when set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := strconv.Atoi(args[0])
			if err != nil || size <= 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid size %q", args[0]))
			}
			var data []byte
			err = opts.run(cmd, func(ctx context.Context, s *linerpc.Session) error {
				start := time.Now()
				id, err := s.RemoteMalloc(ctx, size)
				if err != nil {
					return fmt.Errorf("malloc: %w", err)
				}
				buf := make([]byte, size)
				n, err := s.RemoteRead(ctx, buf, id, 0, linerpc.FormatBinary)
				if err != nil {
					return fmt.Errorf("read block %d: %w", id, err)
				}
				elapsed := time.Since(start)
				if err := s.RemoteFree(ctx, id); err != nil {
					return fmt.Errorf("free block %d: %w", id, err)
				}
				data = buf[:n]
				fmt.Fprintf(cmd.OutOrStdout(), "block %d: read %d bytes in %s\n", id, n, elapsed.Round(time.Microsecond))
				return nil
			})
			if err != nil {
				return err
			}
			if output != "" {
				if err := os.WriteFile(output, data, 0o644); err != nil {
					return WrapExitError(ExitCommandError, "failed to write output", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write the downloaded bytes to")
	return cmd
}

func newMulCommand(opts *ClientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mul <count>",
		Short: "Stream integers through the daemon's mul function",
		Long: `Send count raw integers after a mul call, read the transformed values
back and check them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 || n > MaxMulValues {
				return NewExitError(ExitCommandError, fmt.Sprintf("count must be between 1 and %d", MaxMulValues))
			}
			vals := make([]int32, n)
			for i := range vals {
				vals[i] = int32(i * i)
			}

			return opts.run(cmd, func(ctx context.Context, s *linerpc.Session) error {
				start := time.Now()
				got, err := Mul(ctx, s, vals)
				if err != nil {
					return err
				}
				bad := 0
				for i, v := range got {
					if v != vals[i]*MulFactor(i) {
						bad++
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "mul: %d values in %s, %d mismatches\n", n, time.Since(start).Round(time.Microsecond), bad)
				if bad > 0 {
					return NewExitError(ExitFailure, "mul returned wrong values")
				}
				return nil
			})
		},
	}
}

// Mul streams vals through the peer's mul function.
func Mul(ctx context.Context, s *linerpc.Session, vals []int32) ([]int32, error) {
	if err := s.CallArgs("mul", len(vals)); err != nil {
		return nil, err
	}
	if err := s.Write(linerpc.Int32s(vals...)); err != nil {
		return nil, err
	}
	buf := make([]byte, len(vals)*4)
	if err := s.ReadFull(buf); err != nil {
		return nil, err
	}
	if err := s.Wait(ctx); err != nil {
		return nil, err
	}
	if ret := s.Ret(); len(ret) > 0 {
		return nil, linerpc.Code(linerpc.ParseInt(ret[0]))
	}
	return linerpc.DecodeInt32s(buf), nil
}

func newListenCommand(opts *ClientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Stay connected and print calls from the daemon",
		Long: `Stay connected and print every call the daemon makes, such as the
"msg" broadcasts of toall, until interrupted or told to exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			funcs := linerpc.FuncTable{
				{Name: "msg", Fn: func(_ context.Context, _ *linerpc.Session, argv []string) []string {
					fmt.Fprintf(out, "msg: %s\n", strings.Join(argv[1:], " "))
					return nil
				}},
			}
			def := func(_ context.Context, _ *linerpc.Session, argv []string) []string {
				fmt.Fprintf(out, "call: %s\n", linerpc.Join(argv))
				return nil
			}

			c, err := opts.connect(cmd, linerpc.WithFuncs(funcs), linerpc.WithDefault(def))
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, stop := signal.NotifyContext(opts.context(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(out, "listening to %s, press Ctrl-C to stop\n", opts.Addr)
			select {
			case <-ctx.Done():
				return nil
			case <-c.Done():
			}

			switch err := c.Err(); {
			case errors.Is(err, linerpc.ErrExit):
				fmt.Fprintln(out, "daemon asked to exit")
				return nil
			case err == nil, errors.Is(err, linerpc.ErrEOP):
				fmt.Fprintln(out, "connection closed")
				return nil
			default:
				return WrapExitError(ExitFailure, "connection lost", err)
			}
		},
	}
}
