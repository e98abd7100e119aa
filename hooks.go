// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package linerpc

import "context"

// Dispatch stages reported in DispatchInfo.Stage.
const (
	StageUser    = "user"
	StageBuiltin = "builtin"
	StageDefault = "default"
	StageNone    = "none"
)

// DispatchHook provides observability callpoints around request dispatch.
// Implementations shared between sessions must be safe for concurrent use.
type DispatchHook interface {
	OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken)
	OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, err error)
}

// HookToken is an opaque value returned by OnDispatchStart and passed back to
// OnDispatchEnd.
type HookToken interface{}

// DispatchInfo describes one inbound request.
type DispatchInfo struct {
	Function string // requested function name
	Stage    string // table that served it
	Args     int    // number of arguments after the name
	Peer     string // remote address, if known
	State    State  // session state when the request arrived
}
