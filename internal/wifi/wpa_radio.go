package wifi

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/awilliams/aht20-agent/internal/wpa"
)

// Supplicant is the wpa_supplicant control interface used by WPARadio.
type Supplicant interface {
	Scan(ctx context.Context) ([]wpa.ScanResult, error)
	Configure(n wpa.Network) (int, error)
	Status() (wpa.StationStatus, error)
}

// Hostapd is the hostapd control interface used by WPARadio.
type Hostapd interface {
	Configure(ap wpa.AccessPoint) error
	Status() (wpa.APStatus, error)
}

// WPARadioConfig names the network interfaces of both roles.
type WPARadioConfig struct {
	StationInterface string // e.g. wlan0
	APInterface      string // e.g. ap0
}

// associationGrace is how long after Configure a DISCONNECTED or INACTIVE
// station is still reported as Connecting. wpa_supplicant may report the
// old state for a moment after SELECT_NETWORK.
const associationGrace = 3 * time.Second

// WPARadio is a Radio backed by wpa_supplicant (station role) and
// hostapd (access point role).
type WPARadio struct {
	sta Supplicant
	ap  Hostapd
	cfg WPARadioConfig

	// Replaced in tests.
	now            func() time.Time
	interfaceAddrs func(name string) ([]net.Addr, error)
	interfaceHW    func(name string) (net.HardwareAddr, error)

	mu           sync.Mutex
	configuredAt time.Time
}

// NewWPARadio returns a Radio using the given control interfaces.
func NewWPARadio(sta Supplicant, ap Hostapd, cfg WPARadioConfig) *WPARadio {
	return &WPARadio{
		sta:            sta,
		ap:             ap,
		cfg:            cfg,
		now:            time.Now,
		interfaceAddrs: interfaceAddrs,
		interfaceHW:    interfaceHW,
	}
}

// Scan implements Radio.
func (r *WPARadio) Scan(ctx context.Context) ([]AccessPointInfo, error) {
	results, err := r.sta.Scan(ctx)
	if err != nil {
		return nil, err
	}
	aps := make([]AccessPointInfo, 0, len(results))
	for _, res := range results {
		aps = append(aps, AccessPointInfo{
			SSID:      res.SSID,
			BSSID:     res.BSSID,
			Channel:   res.Channel(),
			Frequency: res.Frequency,
			Signal:    res.Signal,
			Flags:     res.Flags,
		})
	}
	return aps, nil
}

// Configure implements Radio. The access point is configured first, then
// the station network is replaced and selected. A client channel hint
// restricts the station's scan to that channel's frequency.
func (r *WPARadio) Configure(ctx context.Context, cfg Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := r.ap.Configure(wpa.AccessPoint{
		SSID:       cfg.AP.SSID,
		Channel:    cfg.AP.Channel,
		Passphrase: cfg.AP.Password,
	})
	if err != nil {
		return fmt.Errorf("access point: %w", err)
	}

	n := wpa.Network{SSID: cfg.Client.SSID, Passphrase: cfg.Client.Password}
	if cfg.Client.Channel > 0 {
		n.Frequency = wpa.Frequency(cfg.Client.Channel)
	}
	if _, err := r.sta.Configure(n); err != nil {
		return fmt.Errorf("station: %w", err)
	}

	r.mu.Lock()
	r.configuredAt = r.now()
	r.mu.Unlock()
	return nil
}

// Status implements Radio.
func (r *WPARadio) Status(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}

	sta, err := r.sta.Status()
	if err != nil {
		return Status{}, fmt.Errorf("station status: %w", err)
	}
	ap, err := r.ap.Status()
	if err != nil {
		return Status{}, fmt.Errorf("access point status: %w", err)
	}

	st := Status{
		Client: r.clientState(sta),
		AP:     r.apState(ap),
	}
	if st.Client == ClientConnected {
		st.IP = net.ParseIP(sta.IPAddress)
	}
	return st, nil
}

// HardwareAddr implements Radio. The station address reported by
// wpa_supplicant is preferred over the interface lookup.
func (r *WPARadio) HardwareAddr(ctx context.Context) (net.HardwareAddr, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sta, err := r.sta.Status(); err == nil && sta.Address != "" {
		if hw, err := net.ParseMAC(sta.Address); err == nil {
			return hw, nil
		}
	}
	if r.cfg.StationInterface == "" {
		return nil, fmt.Errorf("no station address reported and no station interface configured")
	}
	return r.interfaceHW(r.cfg.StationInterface)
}

func (r *WPARadio) clientState(sta wpa.StationStatus) ClientState {
	switch sta.State {
	case wpa.StateInterfaceDisabled, "", "UNKNOWN":
		return ClientStopped
	case wpa.StateDisconnected, wpa.StateInactive:
		r.mu.Lock()
		grace := !r.configuredAt.IsZero() && r.now().Sub(r.configuredAt) < associationGrace
		r.mu.Unlock()
		if grace {
			return ClientConnecting
		}
		return ClientDisconnected
	case wpa.StateScanning, wpa.StateAuthenticating, wpa.StateAssociating,
		wpa.StateAssociated, wpa.State4WayHandshake, wpa.StateGroupHandshake:
		return ClientConnecting
	case wpa.StateCompleted:
		if net.ParseIP(sta.IPAddress) == nil {
			return ClientWaitingIP
		}
		return ClientConnected
	default:
		return ClientStopped
	}
}

func (r *WPARadio) apState(ap wpa.APStatus) APState {
	switch ap.State {
	case wpa.APStateEnabled:
		if r.apHasIPv4() {
			return APReady
		}
		return APWaitingIP
	case wpa.APStateCountryUpdate, wpa.APStateACS, wpa.APStateHTScan, wpa.APStateDFS:
		return APStarting
	default:
		return APStopped
	}
}

// apHasIPv4 reports whether the access point interface has an IPv4
// address. Without a configured interface the address is not checked.
func (r *WPARadio) apHasIPv4() bool {
	if r.cfg.APInterface == "" {
		return true
	}
	addrs, err := r.interfaceAddrs(r.cfg.APInterface)
	if err != nil {
		return false
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok && ipn.IP.To4() != nil {
			return true
		}
	}
	return false
}

func interfaceAddrs(name string) ([]net.Addr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}
	return iface.Addrs()
}

func interfaceHW(name string) (net.HardwareAddr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}
	if len(iface.HardwareAddr) == 0 {
		return nil, fmt.Errorf("interface %q has no hardware address", name)
	}
	return iface.HardwareAddr, nil
}
