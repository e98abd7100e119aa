// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package admin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/gorilla/rpc/v2/json2"
)

const (
	DefaultRetries = 3
	retryBaseWait  = 200 * time.Millisecond
	requestTimeout = 30 * time.Second
)

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	headers     http.Header
	queryParams url.Values
	retries     int
	httpClient  *http.Client
	log         *slog.Logger
}

func newClientOptions(opts []ClientOption) *clientOptions {
	o := &clientOptions{
		headers:     http.Header{},
		queryParams: url.Values{},
		retries:     DefaultRetries,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithHeader adds a header to every request, e.g. an auth token for a proxy
// in front of the surface.
func WithHeader(key, value string) ClientOption {
	return func(o *clientOptions) { o.headers.Add(key, value) }
}

// WithQueryParam adds a query parameter to the endpoint URL.
func WithQueryParam(key, value string) ClientOption {
	return func(o *clientOptions) { o.queryParams.Add(key, value) }
}

// WithRetries sets the number of attempts on transient errors.
func WithRetries(n int) ClientOption {
	return func(o *clientOptions) {
		if n > 0 {
			o.retries = n
		}
	}
}

func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) { o.httpClient = c }
}

func WithClientLogger(l *slog.Logger) ClientOption {
	return func(o *clientOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// Client calls the JSON surface of one daemon.
type Client struct {
	endpoint string
	opts     *clientOptions
	http     *http.Client
}

// NewClient validates endpoint, such as "http://127.0.0.1:4811/rpc", and
// merges the configured query parameters into it.
func NewClient(endpoint string, opts ...ClientOption) (*Client, error) {
	uri, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("admin: invalid endpoint: %w", err)
	}
	if uri.Scheme != "http" && uri.Scheme != "https" {
		return nil, fmt.Errorf("admin: invalid endpoint %q: scheme must be http or https", endpoint)
	}
	o := newClientOptions(opts)
	if len(o.queryParams) > 0 {
		q := uri.Query()
		for k, vs := range o.queryParams {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		uri.RawQuery = q.Encode()
	}
	hc := o.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: requestTimeout}
	}
	return &Client{endpoint: uri.String(), opts: o, http: hc}, nil
}

// Endpoint returns the URL requests are posted to.
func (c *Client) Endpoint() string { return c.endpoint }

// Peers lists the daemon's connected peers.
func (c *Client) Peers(ctx context.Context) ([]PeerInfo, error) {
	var reply PeersReply
	if err := c.Call(ctx, ServiceName+".Peers", &NoArgs{}, &reply); err != nil {
		return nil, err
	}
	return reply.Peers, nil
}

func (c *Client) Stats(ctx context.Context) (StatsReply, error) {
	var reply StatsReply
	err := c.Call(ctx, ServiceName+".Stats", &NoArgs{}, &reply)
	return reply, err
}

// Broadcast pushes a call to every peer and returns how many were reached.
func (c *Client) Broadcast(ctx context.Context, args BroadcastArgs) (int, error) {
	var reply BroadcastReply
	if err := c.Call(ctx, ServiceName+".Broadcast", &args, &reply); err != nil {
		return 0, err
	}
	return reply.Sent, nil
}

// Call sends one JSON-RPC 2.0 request and decodes the result into reply.
// Dropped connections are retried with exponential backoff.
func (c *Client) Call(ctx context.Context, method string, params, reply any) error {
	body, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		return fmt.Errorf("admin: encode %s: %w", method, err)
	}

	var lastErr error
	for attempt := 0; attempt < c.opts.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBaseWait << (attempt - 1)):
			}
		}
		err := c.post(ctx, body, reply)
		if err == nil {
			return nil
		}
		if !transient(err) {
			return err
		}
		c.opts.log.Debug("admin request failed", "method", method, "attempt", attempt+1, "err", err)
		lastErr = err
	}
	return fmt.Errorf("admin: %s failed after %d attempts: %w", method, c.opts.retries, lastErr)
}

func (c *Client) post(ctx context.Context, body []byte, reply any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("admin: build request: %w", err)
	}
	req.Header = c.opts.headers.Clone()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("admin: %s returned status code %d", c.endpoint, resp.StatusCode)
	}
	if err := json2.DecodeClientResponse(resp.Body, reply); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	return nil
}

// transient reports failures where the request never reached a handler.
func transient(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// Call sends one request to endpoint with a throwaway Client.
func Call(ctx context.Context, endpoint, method string, params, reply any, opts ...ClientOption) error {
	c, err := NewClient(endpoint, opts...)
	if err != nil {
		return err
	}
	return c.Call(ctx, method, params, reply)
}
