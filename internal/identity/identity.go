// Package identity derives the device name used in topics and as the
// MQTT client id.
package identity

import (
	"fmt"
	"net"
)

// DefaultPrefix is used by Derive.
const DefaultPrefix = "esp-rs"

// Derive returns the device name for addr using DefaultPrefix.
func Derive(addr net.HardwareAddr) string {
	return DeriveWithPrefix(DefaultPrefix, addr)
}

// DeriveWithPrefix returns prefix followed by an underscore and the last
// three bytes of a 6-byte addr as uppercase hex, e.g. "esp-rs_12ABCD".
// Any other addr yields prefix alone.
func DeriveWithPrefix(prefix string, addr net.HardwareAddr) string {
	if len(addr) != 6 {
		return prefix
	}
	return fmt.Sprintf("%s_%02X%02X%02X", prefix, addr[3], addr[4], addr[5])
}
