package wpa

import (
	"errors"
	"fmt"
	"strconv"
)

// hostapd specific commands.
const (
	cmdSet     = "SET"
	cmdEnable  = "ENABLE"
	cmdDisable = "DISABLE"
)

// Hostapd is a hostapd control interface client. It drives the local
// access point role of the wireless interface.
type Hostapd struct {
	*client
}

// NewHostapd connects to the hostapd control interface located
// at ctrlSock, e.g. /var/run/hostapd/ap0.
func NewHostapd(localSockDir, ctrlSock string) (*Hostapd, error) {
	c, err := newClient(localSockDir, "hap", ctrlSock)
	if err != nil {
		return nil, err
	}
	return &Hostapd{client: c}, nil
}

// Status returns the access point's status.
func (h *Hostapd) Status() (APStatus, error) {
	var st APStatus
	return st, h.ctrl.cmd(cmdStatus, func(resp []byte) error {
		return st.parse(resp)
	})
}

// AccessPoint describes the access point hostapd should advertise.
type AccessPoint struct {
	SSID       string
	Channel    int
	Passphrase string // Blank for an open access point.
}

// Configure updates the running configuration with ap and restarts
// the interface so the change takes effect.
func (h *Hostapd) Configure(ap AccessPoint) error {
	if ap.SSID == "" {
		return errors.New("access point SSID cannot be blank")
	}
	if ap.Channel <= 0 {
		return fmt.Errorf("invalid access point channel %d", ap.Channel)
	}

	set := [][2]string{
		{"ssid", ap.SSID},
		{"channel", strconv.Itoa(ap.Channel)},
	}
	if ap.Passphrase == "" {
		set = append(set, [2]string{"wpa", "0"})
	} else {
		set = append(set,
			[2]string{"wpa", "2"},
			[2]string{"wpa_key_mgmt", "WPA-PSK"},
			[2]string{"wpa_passphrase", ap.Passphrase},
		)
	}

	for _, kv := range set {
		if err := h.ctrl.cmdOK(fmt.Sprintf("%s %s %s", cmdSet, kv[0], kv[1])); err != nil {
			return fmt.Errorf("set %s: %w", kv[0], err)
		}
	}

	// DISABLE fails if the interface is not enabled yet, which is fine.
	_ = h.ctrl.cmdOK(cmdDisable)
	return h.ctrl.cmdOK(cmdEnable)
}
