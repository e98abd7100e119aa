// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package linerpc

import "context"

// HandlerFunc serves one request. argv[0] is the function name. The returned
// list is sent back as "ret <results>"; builtins put their status code first.
type HandlerFunc func(ctx context.Context, s *Session, argv []string) []string

// Func names a handler.
type Func struct {
	Name string
	Fn   HandlerFunc
}

// FuncTable is an ordered set of handlers. The first entry with a matching
// name wins.
type FuncTable []Func

// Lookup finds the handler registered for name.
func (t FuncTable) Lookup(name string) (HandlerFunc, bool) {
	for _, f := range t {
		if f.Name == name {
			return f.Fn, true
		}
	}
	return nil, false
}

// Names lists the function names in table order.
func (t FuncTable) Names() []string {
	names := make([]string, len(t))
	for i, f := range t {
		names[i] = f.Name
	}
	return names
}
