package wpatest

import (
	"fmt"
	"strings"
	"sync"
)

// Handler is a collection of user-definable functions
// used for handling control interface messages.
type Handler struct {
	sync.Mutex // Protects following.
	onMessage  func(msg string)
	onPing     func() bool // Reply to PING with PONG unless onPing is defined and returns false.
	onAttach   func() <-chan string
	onDetach   func()
	commands   map[string]func(args string) string
}

// OnMessage registers a callback that will be called
// with every message received after calling Serve.
func (h *Handler) OnMessage(f func(msg string)) {
	h.Lock()
	h.onMessage = f
	h.Unlock()
}

func (h *Handler) handleMessage(msg string) {
	h.Lock()
	f := h.onMessage
	h.Unlock()
	if f != nil {
		f(msg)
	}
}

// OnPing registers a callback that will be called with every ping
// message. If false is returned, then no PONG reply is sent.
func (h *Handler) OnPing(f func() bool) {
	h.Lock()
	h.onPing = f
	h.Unlock()
}

func (h *Handler) handlePing() bool {
	h.Lock()
	defer h.Unlock()
	if h.onPing == nil {
		return true
	}
	return h.onPing()
}

// OnAttach registers a callback function for when ATTACH is received.
// The returned channel will be read from and sent to the remote connection.
// The channel may be closed by the caller.
func (h *Handler) OnAttach(f func() <-chan string) {
	h.Lock()
	h.onAttach = f
	h.Unlock()
}

func (h *Handler) handleAttach() <-chan string {
	h.Lock()
	defer h.Unlock()
	if h.onAttach == nil {
		return nil
	}
	return h.onAttach()
}

// OnDetach registers a callback for when a DETACH message is received.
func (h *Handler) OnDetach(f func()) {
	h.Lock()
	h.onDetach = f
	h.Unlock()
}

func (h *Handler) handleDetach() {
	h.Lock()
	f := h.onDetach
	h.Unlock()
	if f != nil {
		f()
	}
}

// OnCommand registers the response function for the named command. It is
// given everything following the command name. Unregistered commands are
// answered with "UNKNOWN COMMAND".
func (h *Handler) OnCommand(name string, f func(args string) string) {
	h.Lock()
	if h.commands == nil {
		h.commands = make(map[string]func(string) string)
	}
	h.commands[name] = f
	h.Unlock()
}

func (h *Handler) handleCommand(msg string) (string, bool) {
	name, args, _ := strings.Cut(msg, " ")
	h.Lock()
	f, ok := h.commands[name]
	h.Unlock()
	if !ok {
		return "", false
	}
	return f(args), true
}

// StationStatusResp forms the wpa_supplicant response to a STATUS message.
type StationStatusResp struct {
	State     string
	SSID      string
	BSSID     string
	Frequency int
	IPAddress string
	Address   string
}

// Encode formats s as a STATUS response body.
func (s *StationStatusResp) Encode() string {
	var b strings.Builder
	if s.BSSID != "" {
		fmt.Fprintf(&b, "bssid=%s\n", s.BSSID)
	}
	if s.Frequency != 0 {
		fmt.Fprintf(&b, "freq=%d\n", s.Frequency)
	}
	if s.SSID != "" {
		fmt.Fprintf(&b, "ssid=%s\n", s.SSID)
	}
	fmt.Fprintf(&b, "mode=station\n")
	fmt.Fprintf(&b, "wpa_state=%s\n", s.State)
	if s.IPAddress != "" {
		fmt.Fprintf(&b, "ip_address=%s\n", s.IPAddress)
	}
	if s.Address != "" {
		fmt.Fprintf(&b, "address=%s\n", s.Address)
	}
	return b.String()
}

// APStatusResp forms the hostapd response to a STATUS message.
type APStatusResp struct {
	State      string
	Channel    int
	SSID       string
	BSSID      string
	MaxTxPower int
}

// Encode formats s as a STATUS response body.
func (s *APStatusResp) Encode() string {
	var b strings.Builder
	fmt.Fprintf(&b, "state=%s\n", s.State)
	fmt.Fprintf(&b, "channel=%d\n", s.Channel)
	fmt.Fprintf(&b, "max_txpower=%d\n", s.MaxTxPower)
	fmt.Fprintf(&b, "ssid[0]=%s\n", s.SSID)
	fmt.Fprintf(&b, "bssid[0]=%s\n", s.BSSID)
	return b.String()
}

// ScanResultResp is one line of a SCAN_RESULTS response.
type ScanResultResp struct {
	BSSID     string
	Frequency int
	Signal    int
	Flags     string
	SSID      string
}

func encodeScanResults(results []ScanResultResp) string {
	var b strings.Builder
	fmt.Fprintln(&b, "bssid / frequency / signal level / flags / ssid")
	for _, r := range results {
		fmt.Fprintf(&b, "%s\t%d\t%d\t%s\t%s\n", r.BSSID, r.Frequency, r.Signal, r.Flags, r.SSID)
	}
	return b.String()
}

// DefaultSupplicantHandler is a convenience function to define a Handler
// that behaves like wpa_supplicant: it reports the given status, answers
// SCAN with a scan results event followed by the given results, and
// accepts network configuration commands.
func DefaultSupplicantHandler(status StationStatusResp, results []ScanResultResp) *Handler {
	var (
		h      Handler
		events = make(chan string)
		nextID int
	)
	h.OnAttach(func() <-chan string { return events })
	h.OnCommand("STATUS", func(string) string { return status.Encode() })
	h.OnCommand("SCAN", func(string) string {
		go func() { events <- "<3>CTRL-EVENT-SCAN-RESULTS " }()
		return "OK"
	})
	h.OnCommand("SCAN_RESULTS", func(string) string { return encodeScanResults(results) })
	h.OnCommand("REMOVE_NETWORK", func(string) string { return "OK" })
	h.OnCommand("ADD_NETWORK", func(string) string {
		h.Lock()
		id := nextID
		nextID++
		h.Unlock()
		return fmt.Sprintf("%d\n", id)
	})
	h.OnCommand("SET_NETWORK", func(string) string { return "OK" })
	h.OnCommand("SELECT_NETWORK", func(string) string { return "OK" })
	return &h
}

// DefaultHostapdHandler is a convenience function to define a Handler
// that behaves like hostapd: it reports the given status and accepts
// configuration changes.
func DefaultHostapdHandler(status APStatusResp) *Handler {
	var h Handler
	h.OnCommand("STATUS", func(string) string { return status.Encode() })
	h.OnCommand("SET", func(string) string { return "OK" })
	h.OnCommand("DISABLE", func(string) string { return "OK" })
	h.OnCommand("ENABLE", func(string) string { return "OK" })
	return &h
}
