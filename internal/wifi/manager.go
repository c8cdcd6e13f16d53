// Package wifi brings the wireless interface to a validated connected
// state: station associated with an address and local access point ready.
package wifi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/awilliams/aht20-agent/internal/logger"
)

// Defaults used by NewManager.
const (
	DefaultPollInterval = 250 * time.Millisecond
	DefaultTimeout      = 20 * time.Second
	DefaultScanTimeout  = 10 * time.Second
	DefaultAPSSID       = "aptest"
	defaultAPChannel    = 1
)

// Radio is the wireless stack the Manager drives.
type Radio interface {
	// Scan returns the access points currently visible.
	Scan(ctx context.Context) ([]AccessPointInfo, error)
	// Configure applies both roles of cfg.
	Configure(ctx context.Context, cfg Config) error
	// Status returns the current state of both roles.
	Status(ctx context.Context) (Status, error)
	// HardwareAddr returns the interface's MAC address.
	HardwareAddr(ctx context.Context) (net.HardwareAddr, error)
}

// ManagerConfig names the network to join and the access point to advertise.
type ManagerConfig struct {
	SSID       string
	Password   string
	APSSID     string // Defaults to DefaultAPSSID.
	APPassword string
}

// Opt is a configuration option for Manager.
type Opt func(*Manager)

// WithLogger is optional and defines a logger for the manager to use.
func WithLogger(l *logger.Logger) Opt {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithPollInterval sets how often the status is polled while waiting
// for the link to settle.
func WithPollInterval(d time.Duration) Opt {
	return func(m *Manager) {
		m.pollInterval = d
	}
}

// WithTimeout bounds the wait for the link to settle.
func WithTimeout(d time.Duration) Opt {
	return func(m *Manager) {
		m.timeout = d
	}
}

// WithScanTimeout bounds the wait for scan results.
func WithScanTimeout(d time.Duration) Opt {
	return func(m *Manager) {
		m.scanTimeout = d
	}
}

// Manager drives a Radio to a connected Link.
type Manager struct {
	radio        Radio
	cfg          ManagerConfig
	logger       *logger.Logger
	pollInterval time.Duration
	timeout      time.Duration
	scanTimeout  time.Duration
}

// NewManager returns a Manager, configured via the Opt arguments.
func NewManager(radio Radio, cfg ManagerConfig, opts ...Opt) (*Manager, error) {
	if radio == nil {
		return nil, errors.New("radio is required")
	}
	if cfg.SSID == "" {
		return nil, errors.New("SSID is required")
	}
	if cfg.APSSID == "" {
		cfg.APSSID = DefaultAPSSID
	}

	m := Manager{
		radio:        radio,
		cfg:          cfg,
		pollInterval: DefaultPollInterval,
		timeout:      DefaultTimeout,
		scanTimeout:  DefaultScanTimeout,
	}
	for _, opt := range opts {
		opt(&m)
	}
	if m.logger == nil {
		m.logger = logger.Nop()
	}
	if m.pollInterval <= 0 {
		m.pollInterval = DefaultPollInterval
	}
	if m.timeout <= 0 {
		m.timeout = DefaultTimeout
	}
	if m.scanTimeout <= 0 {
		m.scanTimeout = DefaultScanTimeout
	}

	return &m, nil
}

// Connect scans for the configured network, configures the radio, waits
// for the link to settle and validates the result. Any failure is returned
// and Connect should not be retried without reconfiguring.
func (m *Manager) Connect(ctx context.Context) (Link, error) {
	scanCtx, cancel := context.WithTimeout(ctx, m.scanTimeout)
	aps, err := m.radio.Scan(scanCtx)
	cancel()
	if err != nil {
		return Link{}, fmt.Errorf("%w: %w", ErrScan, err)
	}
	m.logger.Debugw("Scan complete", "accessPoints", len(aps))

	cfg := m.config(aps)
	if err := m.radio.Configure(ctx, cfg); err != nil {
		return Link{}, fmt.Errorf("%w: %w", ErrConfigure, err)
	}
	m.logger.Infow("Wifi configuration set, waiting for status", "ssid", cfg.Client.SSID, "apSSID", cfg.AP.SSID, "apChannel", cfg.AP.Channel)

	st, err := m.settle(ctx)
	if err != nil {
		return Link{}, err
	}
	if !st.connected() {
		return Link{}, &StatusError{Status: st}
	}
	m.logger.Infow("Wifi connected", "ip", st.IP)

	link := Link{Status: st}
	if link.HardwareAddr, err = m.radio.HardwareAddr(ctx); err != nil {
		m.logger.Warnw("Unable to read hardware address", "error", err)
		link.HardwareAddr = nil
	}
	return link, nil
}

// config builds the radio configuration, using the channel of the
// strongest access point advertising the configured SSID as a hint.
func (m *Manager) config(aps []AccessPointInfo) Config {
	var (
		found bool
		best  AccessPointInfo
	)
	for _, ap := range aps {
		if ap.SSID != m.cfg.SSID {
			continue
		}
		if !found || ap.Signal > best.Signal {
			best = ap
			found = true
		}
	}

	cfg := Config{
		Client: ClientConfig{SSID: m.cfg.SSID, Password: m.cfg.Password},
		AP:     APConfig{SSID: m.cfg.APSSID, Password: m.cfg.APPassword, Channel: defaultAPChannel},
	}
	if found {
		m.logger.Infow("Found configured access point", "ssid", m.cfg.SSID, "channel", best.Channel, "bssid", best.BSSID, "signal", best.Signal)
		cfg.Client.Channel = best.Channel
		if best.Channel > 0 {
			cfg.AP.Channel = best.Channel
		}
	} else {
		m.logger.Infow("Configured access point not found during scanning, will go with unknown channel", "ssid", m.cfg.SSID)
	}
	return cfg
}

// settle polls the radio until its status is no longer transitional.
// Status errors are logged and polling continues.
func (m *Manager) settle(ctx context.Context) (Status, error) {
	timeout := time.NewTimer(m.timeout)
	defer timeout.Stop()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	var last Status
	for {
		st, err := m.radio.Status(ctx)
		switch {
		case err != nil:
			m.logger.Debugw("Status error", "error", err)
		case !st.Transitional():
			return st, nil
		default:
			last = st
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-timeout.C:
			return last, &TimeoutError{Timeout: m.timeout, Last: last}
		case <-ticker.C:
		}
	}
}
