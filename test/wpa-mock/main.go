// This program starts mock wpa_supplicant and hostapd control interfaces
// listening on Unix sockets, so aht20-agent can be run without a wireless
// interface. The station state can be changed via prompts on STDIN.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/awilliams/aht20-agent/internal/logger"
	"github.com/awilliams/aht20-agent/internal/wpa"
	"github.com/awilliams/aht20-agent/internal/wpa/wpatest"

	"github.com/spf13/pflag"
)

func main() {
	dir := pflag.String("dir", ".", "Directory in which to create the wpa_supplicant (wlan0) and hostapd (ap0) sockets")
	ssid := pflag.String("ssid", "home", "SSID of the mock network")
	freq := pflag.Int("freq", 2437, "Frequency of the mock network in MHz")
	ip := pflag.String("ip", "192.168.1.20", "Station IP address once connected")
	mac := pflag.String("mac", "24:0a:c4:12:ab:cd", "Station hardware address")
	connected := pflag.Bool("connected", true, "If true, then the station is initially connected")
	pflag.Parse()

	lg, err := logger.New(logger.DebugLevel, os.Stderr)
	if err != nil {
		bail(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	st := &station{resp: wpatest.StationStatusResp{
		State:     wpa.StateDisconnected,
		SSID:      *ssid,
		Frequency: *freq,
		Address:   *mac,
	}}
	connect := func() { st.set(wpa.StateCompleted, *ip) }
	disconnect := func() { st.set(wpa.StateDisconnected, "") }
	if *connected {
		connect()
	}

	staSrv, err := wpatest.NewServer(filepath.Join(*dir, "wlan0"))
	if err != nil {
		bail(err)
	}
	defer func() {
		staSrv.Close()
		os.Remove(staSrv.Addr)
	}()
	apSrv, err := wpatest.NewServer(filepath.Join(*dir, "ap0"))
	if err != nil {
		bail(err)
	}
	defer func() {
		apSrv.Close()
		os.Remove(apSrv.Addr)
	}()

	staHandler := wpatest.DefaultSupplicantHandler(st.get(), []wpatest.ScanResultResp{
		{BSSID: "02:00:01:02:03:04", Frequency: *freq, Signal: -52, Flags: "[WPA2-PSK-CCMP][ESS]", SSID: *ssid},
	})
	staHandler.OnCommand("STATUS", func(string) string { return st.encode() })
	staHandler.OnMessage(func(msg string) { lg.Debugw("wpa_supplicant <", "msg", redact(msg)) })

	events := make(chan string)
	apHandler := wpatest.DefaultHostapdHandler(wpatest.APStatusResp{
		State:   wpa.APStateEnabled,
		Channel: wpa.Channel(*freq),
		SSID:    "aptest",
		BSSID:   "02:00:0a:0b:0c:0d",
	})
	apHandler.OnAttach(func() <-chan string { return events })
	apHandler.OnMessage(func(msg string) { lg.Debugw("hostapd <", "msg", redact(msg)) })

	go func() {
		if err := staSrv.Serve(staHandler); err != nil {
			bail(err)
		}
	}()
	go func() {
		if err := apSrv.Serve(apHandler); err != nil {
			bail(err)
		}
	}()

	const instructions = `
Enter the following number for the corresponding action:
1:      Associate the station with %q
2:      Disassociate the station
3:      Send TERMINATING event to attached hostapd clients
q:      Exit

Command: `

	lg.Infow("Created mock control interfaces", "wpa_supplicant", staSrv.Addr, "hostapd", apSrv.Addr)
	fmt.Printf(instructions, *ssid)

	sendEvent := func(event string) error {
		select {
		case events <- event:
			lg.Infow("Sent event", "event", event)
			return nil
		case <-time.After(time.Second):
			return errors.New("timeout sending event, no client attached")
		}
	}

	lines := readLines(ctx)
	for {
		select {
		case line := <-lines:
			switch line {
			case "1":
				connect()
				lg.Infow("Station associated", "ssid", *ssid, "ip", *ip)
			case "2":
				disconnect()
				lg.Infow("Station disassociated")
			case "3":
				if err := sendEvent("<3>CTRL-EVENT-TERMINATING"); err != nil {
					lg.Warnw("Unable to send event", "error", err)
				}
			case "q", "Q", "exit":
				return
			default:
				lg.Warnw("Unrecognized number", "input", line)
			}

			fmt.Printf(instructions, *ssid)

		case <-ctx.Done():
			return
		}
	}
}

// station is the mutable wpa_supplicant status.
type station struct {
	mu   sync.Mutex
	resp wpatest.StationStatusResp
}

func (s *station) set(state, ip string) {
	s.mu.Lock()
	s.resp.State = state
	s.resp.IPAddress = ip
	s.mu.Unlock()
}

func (s *station) get() wpatest.StationStatusResp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resp
}

func (s *station) encode() string {
	r := s.get()
	return r.Encode()
}

// redact hides passphrases sent by the agent.
func redact(msg string) string {
	for _, key := range []string{" psk ", " wpa_passphrase "} {
		if before, _, ok := strings.Cut(msg, key); ok {
			return before + key + "******"
		}
	}
	return msg
}

func readLines(ctx context.Context) <-chan string {
	lines := make(chan string)
	scanner := bufio.NewScanner(os.Stdin)
	go func() {
		<-ctx.Done()
		os.Stdin.Close()
	}()
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func bail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	os.Exit(1)
}
