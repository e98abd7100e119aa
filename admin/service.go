// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package admin exposes a JSON-RPC 2.0 control surface for a tcp.Daemon.
//
// Methods, served by NewHandler under the service name "Daemon":
//
//	Daemon.Peers     -> connected peers and their session state
//	Daemon.Broadcast -> push a call to every peer, optionally excluding one
//	Daemon.Stats     -> client count, protocol version, uptime
package admin

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"

	"github.com/luxfi/linerpc"
	"github.com/luxfi/linerpc/tcp"
)

const ServiceName = "Daemon"

var ErrNoFunction = errors.New("admin: broadcast needs a function name")

// NoArgs is the argument of methods without parameters.
type NoArgs struct{}

type PeerInfo struct {
	ID    string `json:"id"`
	Addr  string `json:"addr"`
	State string `json:"state"`
}

type PeersReply struct {
	Peers []PeerInfo `json:"peers"`
}

type BroadcastArgs struct {
	Function string   `json:"function"`
	Args     []string `json:"args,omitempty"`
	// Exclude is the ID of a peer to skip.
	Exclude string `json:"exclude,omitempty"`
}

type BroadcastReply struct {
	Sent int `json:"sent"`
}

type StatsReply struct {
	Clients int    `json:"clients"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// Service implements the "Daemon" JSON-RPC service.
type Service struct {
	d       *tcp.Daemon
	log     *slog.Logger
	started time.Time
}

func NewService(d *tcp.Daemon, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{d: d, log: log, started: time.Now()}
}

func (s *Service) Peers(_ *http.Request, _ *NoArgs, reply *PeersReply) error {
	peers := s.d.Peers()
	reply.Peers = make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		reply.Peers = append(reply.Peers, PeerInfo{
			ID:    p.ID().String(),
			Addr:  p.Addr(),
			State: p.State().String(),
		})
	}
	return nil
}

func (s *Service) Broadcast(r *http.Request, args *BroadcastArgs, reply *BroadcastReply) error {
	if args.Function == "" {
		return ErrNoFunction
	}
	var exclude *tcp.Peer
	if args.Exclude != "" {
		for _, p := range s.d.Peers() {
			if p.ID().String() == args.Exclude {
				exclude = p
				break
			}
		}
		if exclude == nil {
			return fmt.Errorf("admin: unknown peer %q", args.Exclude)
		}
	}
	argv := append([]string{args.Function}, args.Args...)
	reply.Sent = s.d.Broadcast(r.Context(), exclude, argv...)
	s.log.Info("admin broadcast", "function", args.Function, "sent", reply.Sent)
	return nil
}

func (s *Service) Stats(_ *http.Request, _ *NoArgs, reply *StatsReply) error {
	reply.Clients = s.d.Count()
	reply.Version = linerpc.Version
	reply.Uptime = time.Since(s.started).Round(time.Second).String()
	return nil
}

// NewHandler returns the JSON-RPC 2.0 handler for d.
func NewHandler(d *tcp.Daemon, log *slog.Logger) (http.Handler, error) {
	server := rpc.NewServer()
	server.RegisterCodec(json2.NewCodec(), "application/json")
	server.RegisterCodec(json2.NewCodec(), "application/json;charset=UTF-8")
	if err := server.RegisterService(NewService(d, log), ServiceName); err != nil {
		return nil, fmt.Errorf("admin: register service: %w", err)
	}
	return server, nil
}
