package wpa

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var errDanglingEscape = errors.New("dangling escape")

// escapes maps the single character escapes of the control interface's
// printf_encode to the bytes they stand for.
var escapes = map[byte]byte{
	'"':  '"',
	'\\': '\\',
	'e':  '\033',
	'n':  '\n',
	'r':  '\r',
	't':  '\t',
}

// decodeSSID reverses the printf_encode escaping applied to SSIDs in
// STATUS and SCAN_RESULTS responses. Non-printable bytes arrive as \xNN.
// Unknown escapes decode to the escaped character.
func decodeSSID(v []byte) (string, error) {
	out := make([]byte, 0, len(v))
	for i := 0; i < len(v); i++ {
		if v[i] != '\\' {
			out = append(out, v[i])
			continue
		}

		i++
		if i == len(v) {
			return "", errDanglingEscape
		}
		if b, ok := escapes[v[i]]; ok {
			out = append(out, b)
			continue
		}
		if v[i] != 'x' {
			out = append(out, v[i])
			continue
		}

		if i+2 >= len(v) {
			return "", fmt.Errorf("%w: truncated \\x sequence", errDanglingEscape)
		}
		var b [1]byte
		if _, err := hex.Decode(b[:], v[i+1:i+3]); err != nil {
			return "", fmt.Errorf("invalid \\x sequence %q: %w", v[i+1:i+3], err)
		}
		out = append(out, b[0])
		i += 2
	}
	return string(out), nil
}

// encodeSSID returns the SSID in the unquoted hex form accepted by
// SET_NETWORK, which needs no escaping.
func encodeSSID(ssid string) string {
	return hex.EncodeToString([]byte(ssid))
}

// quote returns v as a double quoted control interface string value.
func quote(v string) string {
	return `"` + v + `"`
}
