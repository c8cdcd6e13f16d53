package wpa

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// wpa_supplicant specific commands.
const (
	cmdScan          = "SCAN"
	cmdScanResults   = "SCAN_RESULTS"
	cmdAddNetwork    = "ADD_NETWORK"
	cmdSetNetwork    = "SET_NETWORK"
	cmdSelectNetwork = "SELECT_NETWORK"
	cmdRemoveNetwork = "REMOVE_NETWORK"
	respFailBusy     = "FAIL-BUSY"
)

// ErrScanFailed is returned by Scan when wpa_supplicant reports that
// the requested scan could not be performed.
var ErrScanFailed = errors.New("scan failed")

// Supplicant is a wpa_supplicant control interface client. It drives
// the station (client) role of the wireless interface.
type Supplicant struct {
	*client
}

// NewSupplicant connects to the wpa_supplicant control interface located
// at ctrlSock, e.g. /var/run/wpa_supplicant/wlan0. Local sockets are
// created in localSockDir, or the temporary directory if blank.
func NewSupplicant(localSockDir, ctrlSock string) (*Supplicant, error) {
	c, err := newClient(localSockDir, "wpa", ctrlSock)
	if err != nil {
		return nil, err
	}
	return &Supplicant{client: c}, nil
}

// Status returns the station's status.
func (s *Supplicant) Status() (StationStatus, error) {
	var st StationStatus
	return st, s.ctrl.cmd(cmdStatus, func(resp []byte) error {
		return st.parse(resp)
	})
}

// Scan requests a new scan and waits until its results are available.
// The context bounds the wait.
func (s *Supplicant) Scan(ctx context.Context) ([]ScanResult, error) {
	trigger := func() error {
		err := s.ctrl.cmdOK(cmdScan)
		var failed *ErrCmdFailed
		if errors.As(err, &failed) && failed.Resp == respFailBusy {
			// A scan is already in progress; its results will do.
			return nil
		}
		return err
	}

	err := s.attach(ctx, trigger, func(event Event) error {
		switch event.(type) {
		case EventScanResults:
			return errStopAttach
		case EventScanFailed:
			return ErrScanFailed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("waiting for scan results: %w", err)
	}

	return s.ScanResults()
}

// ScanResults returns the results of the most recent scan.
func (s *Supplicant) ScanResults() ([]ScanResult, error) {
	var results []ScanResult
	return results, s.ctrl.cmd(cmdScanResults, func(resp []byte) error {
		var err error
		results, err = parseScanResults(resp)
		return err
	})
}

// Network describes the network the station should join.
type Network struct {
	SSID       string
	Passphrase string // Blank for an open network.
	Frequency  int    // Optional, restricts scanning to this frequency (MHz).
}

// Configure replaces all configured networks with n and selects it.
// The returned value is the network id assigned by wpa_supplicant.
func (s *Supplicant) Configure(n Network) (int, error) {
	if n.SSID == "" {
		return 0, errors.New("network SSID cannot be blank")
	}

	if err := s.ctrl.cmdOK(cmdRemoveNetwork + " all"); err != nil {
		return 0, err
	}

	id, err := s.ctrl.cmdInt(cmdAddNetwork)
	if err != nil {
		return 0, err
	}

	set := [][2]string{{"ssid", encodeSSID(n.SSID)}}
	if n.Passphrase == "" {
		set = append(set, [2]string{"key_mgmt", "NONE"})
	} else {
		set = append(set, [2]string{"psk", quote(n.Passphrase)})
	}
	if n.Frequency > 0 {
		set = append(set, [2]string{"scan_freq", strconv.Itoa(n.Frequency)})
	}

	for _, kv := range set {
		cmd := strings.Join([]string{cmdSetNetwork, strconv.Itoa(id), kv[0], kv[1]}, " ")
		if err := s.ctrl.cmdOK(cmd); err != nil {
			return id, fmt.Errorf("set network %s: %w", kv[0], err)
		}
	}

	if err := s.ctrl.cmdOK(fmt.Sprintf("%s %d", cmdSelectNetwork, id)); err != nil {
		return id, err
	}
	return id, nil
}
