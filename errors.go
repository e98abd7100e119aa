// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package linerpc

import (
	"errors"
	"strconv"
)

// Code is a wire status code. Builtins report it as the first token of a
// "ret" reply, the dispatcher as the single argument of an "err" reply.
// A Code is itself an error so that sentinel comparisons work with errors.Is.
type Code int

const (
	CodeRet   Code = 1   // function complete and return
	CodeNone  Code = 0   // success
	CodeFNF   Code = -1  // function not found
	CodePerm  Code = -2  // permission denied
	CodeEOP   Code = -3  // end of pipe
	CodeEmpty Code = -4  // no data in pipe yet
	CodeOver  Code = -5  // input buffer too big
	CodeMem   Code = -6  // allocation failure
	CodeNFMB  Code = -7  // no free memory block
	CodeTBMB  Code = -8  // memory block too big
	CodeBusy  Code = -9  // a call is already outstanding
	CodeNRun  Code = -10 // no call outstanding
	CodeProt  Code = -11 // protocol error
	CodeBArg  Code = -12 // bad argument
	CodeExit  Code = -13 // peer called exit
)

var (
	ErrFNF   error = CodeFNF
	ErrPerm  error = CodePerm
	ErrEOP   error = CodeEOP
	ErrEmpty error = CodeEmpty
	ErrOver  error = CodeOver
	ErrMem   error = CodeMem
	ErrNFMB  error = CodeNFMB
	ErrTBMB  error = CodeTBMB
	ErrBusy  error = CodeBusy
	ErrNRun  error = CodeNRun
	ErrProt  error = CodeProt
	ErrBArg  error = CodeBArg
	ErrExit  error = CodeExit
)

var codeText = [...]string{
	"function complete and return",
	"no error all success",
	"function not found",
	"permission denied",
	"end of pipe (disconnect)",
	"empty pipe (no data in pipe)",
	"input buffer too big",
	"memory error (allocation failed)",
	"no free memory block",
	"try to allocate too big memory block",
	"can't call more than one function",
	"procedure not run yet",
	"error of protocol",
	"bad argument",
	"peer called 'exit'",
}

// String returns the human readable description of c.
func (c Code) String() string {
	i := int(CodeRet - c)
	if i < 0 || i >= len(codeText) {
		return "unknown error"
	}
	return codeText[i]
}

func (c Code) Error() string {
	return "linerpc: " + c.String() + " (" + strconv.Itoa(int(c)) + ")"
}

// Token returns the wire form of c.
func (c Code) Token() string {
	return strconv.Itoa(int(c))
}

// CodeOf extracts the status code carried by err. A nil error is CodeNone;
// an error that carries no code is reported as CodeProt.
func CodeOf(err error) Code {
	if err == nil {
		return CodeNone
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return CodeProt
}

// codeErr converts a status code into an error, mapping success to nil.
func codeErr(c Code) error {
	if c == CodeNone {
		return nil
	}
	return c
}
