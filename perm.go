// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package linerpc

import (
	"fmt"
	"strings"
)

// Perm is the bitmask of operations a session lets its peer perform.
type Perm int

const (
	PermRead        Perm = 1 << iota // read a memory block
	PermWrite                        // write a memory block
	PermMalloc                       // allocate a memory block
	PermFree                         // free a memory block
	PermExit                         // stop the session loop
	PermCall                         // call user functions
	PermCallDefault                  // fall through to the default function
	PermCallback                     // serve requests while a call is outstanding

	PermDefault = PermRead | PermExit | PermCall | PermCallDefault | PermCallback
	PermAll     = PermRead | PermWrite | PermMalloc | PermFree | PermExit |
		PermCall | PermCallDefault | PermCallback
)

var permNames = []struct {
	name string
	perm Perm
}{
	{"read", PermRead},
	{"write", PermWrite},
	{"malloc", PermMalloc},
	{"free", PermFree},
	{"exit", PermExit},
	{"call", PermCall},
	{"cdef", PermCallDefault},
	{"cback", PermCallback},
}

// Has reports whether every bit of q is set in p.
func (p Perm) Has(q Perm) bool { return p&q == q }

func (p Perm) String() string {
	if p == 0 {
		return "none"
	}
	var names []string
	for _, n := range permNames {
		if p&n.perm != 0 {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, ",")
}

// ParsePerm parses a comma separated list of permission names. The names
// "default", "all" and "none" stand for the predefined sets.
func ParsePerm(s string) (Perm, error) {
	var p Perm
	for _, f := range strings.Split(s, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		switch f {
		case "":
			continue
		case "none":
		case "default":
			p |= PermDefault
		case "all":
			p |= PermAll
		default:
			found := false
			for _, n := range permNames {
				if n.name == f {
					p |= n.perm
					found = true
					break
				}
			}
			if !found {
				return 0, fmt.Errorf("linerpc: unknown permission %q", f)
			}
		}
	}
	return p, nil
}
