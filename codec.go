// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package linerpc

import (
	"fmt"
	"strconv"
	"strings"
)

// Message keywords.
const (
	KeywordRet = "ret"
	KeywordErr = "err"
	Pong       = "pong"
)

// emptyToken is the packed form of the empty string.
const emptyToken = `\0`

// Pack escapes s so that it forms exactly one token on the wire.
// Space and backslash are prefixed with a backslash, tab, LF and CR become
// \t, \n and \r, and the empty string becomes \0.
func Pack(s string) string {
	if s == "" {
		return emptyToken
	}
	if !strings.ContainsAny(s, " \t\\\n\r") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case ' ', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Unpack reverses Pack. Unknown escapes yield the escaped character as-is
// and a \0 inside a longer token yields a NUL byte.
func Unpack(tok string) string {
	if tok == emptyToken {
		return ""
	}
	if strings.IndexByte(tok, '\\') < 0 {
		return tok
	}
	var b strings.Builder
	b.Grow(len(tok))
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if c == '\\' && i+1 < len(tok) {
			i++
			switch c = tok[i]; c {
			case 't':
				c = '\t'
			case 'n':
				c = '\n'
			case 'r':
				c = '\r'
			case '0':
				c = 0
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Join packs every element of argv and joins them with single spaces.
func Join(argv []string) string {
	var b strings.Builder
	for i, a := range argv {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(Pack(a))
	}
	return b.String()
}

// Split breaks a line into tokens on unescaped spaces and tabs and unpacks
// each one. A blank line yields nil.
func Split(line string) []string {
	var (
		argv  []string
		start = -1
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == ' ' || c == '\t' {
			if start >= 0 {
				argv = append(argv, Unpack(line[start:i]))
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
		if c == '\\' {
			i++ // the escaped byte never delimits
		}
	}
	if start >= 0 {
		argv = append(argv, Unpack(line[start:]))
	}
	return argv
}

// Shift drops the first element of argv.
func Shift(argv []string) []string {
	if len(argv) == 0 {
		return nil
	}
	return argv[1:]
}

// Args converts values into an argument vector. Strings are taken verbatim,
// integers use decimal notation, float32 is printed with 8 significant digits
// and float64 with 16. Codes are printed as their numeric value.
func Args(vals ...any) ([]string, error) {
	argv := make([]string, 0, len(vals))
	for i, v := range vals {
		switch x := v.(type) {
		case string:
			argv = append(argv, x)
		case Code:
			argv = append(argv, x.Token())
		case int:
			argv = append(argv, strconv.Itoa(x))
		case int32:
			argv = append(argv, FormatInt64(int64(x)))
		case int64:
			argv = append(argv, FormatInt64(x))
		case uint32:
			argv = append(argv, strconv.FormatUint(uint64(x), 10))
		case float32:
			argv = append(argv, FormatFloat32(x))
		case float64:
			argv = append(argv, FormatFloat64(x))
		case bool:
			if x {
				argv = append(argv, "1")
			} else {
				argv = append(argv, "0")
			}
		case fmt.Stringer:
			argv = append(argv, x.String())
		default:
			return nil, fmt.Errorf("linerpc: argument %d: unsupported type %T", i, v)
		}
	}
	return argv, nil
}

// statusArgs builds a builtin result list that starts with a status code.
func statusArgs(c Code, rest ...string) []string {
	return append([]string{c.Token()}, rest...)
}

func FormatInt64(v int64) string { return strconv.FormatInt(v, 10) }

func FormatFloat32(v float32) string { return strconv.FormatFloat(float64(v), 'g', 8, 32) }

func FormatFloat64(v float64) string { return strconv.FormatFloat(v, 'g', 16, 64) }

// ParseInt reads a leading decimal integer the way atoi does: leading blanks
// and a sign are accepted, parsing stops at the first non-digit and garbage
// yields 0.
func ParseInt(s string) int {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	neg := false
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		neg = s[i] == '-'
		i++
	}
	n := 0
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
	}
	if neg {
		return -n
	}
	return n
}

// ParseFloat reads the longest leading floating point number of s. Garbage
// yields 0.
func ParseFloat(s string) float64 {
	s = strings.TrimLeft(s, " \t\r\n")
	for end := len(s); end > 0; end-- {
		if v, err := strconv.ParseFloat(s[:end], 64); err == nil {
			return v
		}
	}
	return 0
}
