// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/luxfi/linerpc/admin"
)

const defaultAdminURL = "http://127.0.0.1:4811" + admin.Path

// AdminOptions holds the flags of the admin commands.
type AdminOptions struct {
	URL     string
	Headers []string
	Query   []string
	Retries int
}

func newAdminCommand(opts *ClientOptions) *cobra.Command {
	aopts := &AdminOptions{}

	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Query a daemon's admin surface",
		Long: `Call the JSON-RPC admin surface a daemon serves with --admin.

Example:
  linerpc admin stats
  linerpc admin peers --admin-url http://10.0.0.7:4811/rpc
  linerpc admin broadcast msg "hello all" --header "Authorization: Bearer token"`,
	}
	cmd.PersistentFlags().StringVar(&aopts.URL, "admin-url", defaultAdminURL, "admin surface endpoint")
	cmd.PersistentFlags().StringArrayVar(&aopts.Headers, "header", nil, `extra request header "Name: value" (repeatable)`)
	cmd.PersistentFlags().StringArrayVar(&aopts.Query, "query", nil, "extra query parameter key=value (repeatable)")
	cmd.PersistentFlags().IntVar(&aopts.Retries, "retries", admin.DefaultRetries, "attempts on dropped connections")

	cmd.AddCommand(newAdminPeersCommand(opts, aopts))
	cmd.AddCommand(newAdminStatsCommand(opts, aopts))
	cmd.AddCommand(newAdminBroadcastCommand(opts, aopts))
	return cmd
}

func (o *AdminOptions) client(cmd *cobra.Command, verbose bool) (*admin.Client, error) {
	copts := []admin.ClientOption{
		admin.WithRetries(o.Retries),
		admin.WithClientLogger(newLogger(cmd.ErrOrStderr(), slog.LevelWarn, verbose)),
	}
	for _, h := range o.Headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid header %q: want \"Name: value\"", h))
		}
		copts = append(copts, admin.WithHeader(strings.TrimSpace(name), strings.TrimSpace(value)))
	}
	for _, q := range o.Query {
		key, value, ok := strings.Cut(q, "=")
		if !ok || key == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid query parameter %q: want key=value", q))
		}
		copts = append(copts, admin.WithQueryParam(key, value))
	}
	c, err := admin.NewClient(o.URL, copts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "bad --admin-url", err)
	}
	return c, nil
}

// runAdmin builds the admin client and runs fn within the request timeout.
func runAdmin(cmd *cobra.Command, opts *ClientOptions, aopts *AdminOptions, fn func(ctx context.Context, c *admin.Client) error) error {
	c, err := aopts.client(cmd, opts.Verbose)
	if err != nil {
		return err
	}
	ctx := opts.context(cmd)
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if err := fn(ctx, c); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		return WrapExitError(ExitFailure, "admin "+cmd.Name()+" failed", err)
	}
	return nil
}

func newAdminPeersCommand(opts *ClientOptions, aopts *AdminOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List connected peers as: id address state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdmin(cmd, opts, aopts, func(ctx context.Context, c *admin.Client) error {
				peers, err := c.Peers(ctx)
				if err != nil {
					return err
				}
				for _, p := range peers {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", p.ID, p.Addr, p.State)
				}
				return nil
			})
		},
	}
}

func newAdminStatsCommand(opts *ClientOptions, aopts *AdminOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show client count, protocol version and uptime",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdmin(cmd, opts, aopts, func(ctx context.Context, c *admin.Client) error {
				st, err := c.Stats(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "clients: %d\nversion: %s\nuptime: %s\n", st.Clients, st.Version, st.Uptime)
				return nil
			})
		},
	}
}

func newAdminBroadcastCommand(opts *ClientOptions, aopts *AdminOptions) *cobra.Command {
	var exclude string
	cmd := &cobra.Command{
		Use:   "broadcast <function> [args...]",
		Short: "Call a function on every connected peer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdmin(cmd, opts, aopts, func(ctx context.Context, c *admin.Client) error {
				sent, err := c.Broadcast(ctx, admin.BroadcastArgs{
					Function: args[0],
					Args:     args[1:],
					Exclude:  exclude,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sent to %d peers\n", sent)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&exclude, "exclude", "", "peer id to skip")
	return cmd
}
