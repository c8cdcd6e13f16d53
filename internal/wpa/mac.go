package wpa

import (
	"net"
	"strings"
)

// isMAC reports whether v is a colon separated EUI-48 address, the only
// form the control interfaces emit.
func isMAC(v string) bool {
	hw, err := net.ParseMAC(v)
	return err == nil && len(hw) == 6 && strings.Count(v, ":") == 5
}
