// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package linerpc

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// BinToHex renders bin as colon separated upper-case octets ("01:23:AB").
func BinToHex(bin []byte) string {
	if len(bin) == 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(len(bin) * 3)
	for i, v := range bin {
		if i > 0 {
			b.WriteByte(':')
		}
		fmt.Fprintf(&b, "%02X", v)
	}
	return b.String()
}

// HexToBin parses the BinToHex form. Octets are case insensitive.
func HexToBin(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if (len(s)+1)%3 != 0 {
		return nil, fmt.Errorf("linerpc: hex %q: bad length", s)
	}
	out := make([]byte, (len(s)+1)/3)
	for i := range out {
		oct := s[i*3 : i*3+2]
		if _, err := hex.Decode(out[i:i+1], []byte(oct)); err != nil {
			return nil, fmt.Errorf("linerpc: hex %q: %w", s, err)
		}
		if sep := i*3 + 2; sep < len(s) && s[sep] != ':' {
			return nil, fmt.Errorf("linerpc: hex %q: expected ':' at %d", s, sep)
		}
	}
	return out, nil
}
