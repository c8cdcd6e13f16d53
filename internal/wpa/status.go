package wpa

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Station states reported by wpa_supplicant in the wpa_state field.
const (
	StateDisconnected      = "DISCONNECTED"
	StateInterfaceDisabled = "INTERFACE_DISABLED"
	StateInactive          = "INACTIVE"
	StateScanning          = "SCANNING"
	StateAuthenticating    = "AUTHENTICATING"
	StateAssociating       = "ASSOCIATING"
	StateAssociated        = "ASSOCIATED"
	State4WayHandshake     = "4WAY_HANDSHAKE"
	StateGroupHandshake    = "GROUP_HANDSHAKE"
	StateCompleted         = "COMPLETED"
)

// Interface states reported by hostapd in the state field.
const (
	APStateUninitialized = "UNINITIALIZED"
	APStateDisabled      = "DISABLED"
	APStateCountryUpdate = "COUNTRY_UPDATE"
	APStateACS           = "ACS"
	APStateHTScan        = "HT_SCAN"
	APStateDFS           = "DFS"
	APStateEnabled       = "ENABLED"
)

// StationStatus is the wpa_supplicant view of the client interface. This
// is a subset of all the fields returned from the control interface.
// More info:
// https://w1.fi/wpa_supplicant/devel/ctrl_iface_page.html#ctrl_iface_STATUS
type StationStatus struct {
	State     string
	SSID      string
	BSSID     string
	Frequency int
	IPAddress string
	Address   string
}

// parse parses the STATUS response of wpa_supplicant and updates s.
func (s *StationStatus) parse(p []byte) error {
	return parseKeyValues(p, func(key, val string, raw []byte) error {
		var err error
		switch key {
		case "wpa_state":
			s.State = val
		case "ssid":
			s.SSID, err = decodeSSID(raw)
		case "bssid":
			s.BSSID = val
		case "freq":
			s.Frequency, err = strconv.Atoi(val)
		case "ip_address":
			s.IPAddress = val
		case "address":
			s.Address = val
		}
		return err
	})
}

// APStatus holds information about the hostapd access point. This is a
// subset of all the fields returned from the control interface.
type APStatus struct {
	State      string
	Channel    int
	MaxTxPower int
	SSID       string
	BSSID      string
}

// parse parses the STATUS response of hostapd and updates s.
func (s *APStatus) parse(p []byte) error {
	return parseKeyValues(p, func(key, val string, raw []byte) error {
		var err error
		switch key {
		case "state":
			s.State = val
		case "channel":
			s.Channel, err = strconv.Atoi(val)
		case "max_txpower":
			s.MaxTxPower, err = strconv.Atoi(val)
		case "ssid[0]":
			s.SSID, err = decodeSSID(raw)
		case "bssid[0]":
			s.BSSID = val
		}
		return err
	})
}

// parseKeyValues calls f for each key=value line of p. raw holds the
// undecoded bytes of the value.
func parseKeyValues(p []byte, f func(key, val string, raw []byte) error) error {
	scanner := bufio.NewScanner(bytes.NewReader(p))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid status response line %q", line)
		}
		raw := scanner.Bytes()[len(key)+1:]
		if err := f(key, val, raw); err != nil {
			return fmt.Errorf("invalid status field %q: %w", key, err)
		}
	}

	return scanner.Err()
}
