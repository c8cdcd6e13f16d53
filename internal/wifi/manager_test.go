package wifi

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/awilliams/aht20-agent/internal/logger"

	"go.uber.org/zap/zaptest"
)

// fakeRadio replays a scripted sequence of statuses.
type fakeRadio struct {
	mu         sync.Mutex
	scan       []AccessPointInfo
	scanErr    error
	confErr    error
	configured []Config
	statuses   []Status // The last status repeats.
	statusErrs int      // Number of initial Status calls that fail.
	statusN    int
	hw         net.HardwareAddr
	hwErr      error
}

func (f *fakeRadio) Scan(context.Context) ([]AccessPointInfo, error) {
	return f.scan, f.scanErr
}

func (f *fakeRadio) Configure(_ context.Context, cfg Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configured = append(f.configured, cfg)
	return f.confErr
}

func (f *fakeRadio) Status(context.Context) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.statusN
	f.statusN++
	if n < f.statusErrs {
		return Status{}, errors.New("status unavailable")
	}
	n -= f.statusErrs
	if n >= len(f.statuses) {
		n = len(f.statuses) - 1
	}
	return f.statuses[n], nil
}

func (f *fakeRadio) HardwareAddr(context.Context) (net.HardwareAddr, error) {
	return f.hw, f.hwErr
}

var connected = Status{Client: ClientConnected, IP: net.IPv4(10, 0, 0, 7), AP: APReady}

func newTestManager(t *testing.T, r Radio, opts ...Opt) *Manager {
	t.Helper()
	opts = append([]Opt{
		WithLogger(logger.Wrap(zaptest.NewLogger(t))),
		WithPollInterval(time.Millisecond),
		WithTimeout(time.Second),
	}, opts...)
	m, err := NewManager(r, ManagerConfig{SSID: "home", Password: "secret"}, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestNewManager_Invalid(t *testing.T) {
	if _, err := NewManager(nil, ManagerConfig{SSID: "home"}); err == nil {
		t.Error("expected error for nil radio")
	}
	if _, err := NewManager(&fakeRadio{}, ManagerConfig{}); err == nil {
		t.Error("expected error for blank SSID")
	}
}

func TestManager_Connect(t *testing.T) {
	hw := net.HardwareAddr{0x24, 0x0a, 0xc4, 0x12, 0xab, 0xcd}
	r := &fakeRadio{
		scan: []AccessPointInfo{
			{SSID: "neighbor", Channel: 11, Signal: -30},
			{SSID: "home", Channel: 6, Signal: -70},
			{SSID: "home", Channel: 1, Signal: -50},
		},
		statuses: []Status{
			{Client: ClientConnecting, AP: APStarting},
			{Client: ClientWaitingIP, AP: APReady},
			connected,
		},
		hw: hw,
	}

	link, err := newTestManager(t, r).Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if link.HardwareAddr.String() != hw.String() {
		t.Errorf("got HardwareAddr %v; want %v", link.HardwareAddr, hw)
	}
	if link.Status.Client != ClientConnected || link.Status.AP != APReady {
		t.Errorf("got Status %v", link.Status)
	}

	if len(r.configured) != 1 {
		t.Fatalf("Configure called %d times; want 1", len(r.configured))
	}
	want := Config{
		Client: ClientConfig{SSID: "home", Password: "secret", Channel: 1},
		AP:     APConfig{SSID: DefaultAPSSID, Channel: 1},
	}
	if r.configured[0] != want {
		t.Errorf("got Config %+v; want %+v", r.configured[0], want)
	}
}

func TestManager_Connect_NoHint(t *testing.T) {
	r := &fakeRadio{
		scan:     []AccessPointInfo{{SSID: "neighbor", Channel: 11}},
		statuses: []Status{connected},
	}

	if _, err := newTestManager(t, r).Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	got := r.configured[0]
	if got.Client.Channel != 0 {
		t.Errorf("got client channel %d; want 0", got.Client.Channel)
	}
	if got.AP.Channel != 1 {
		t.Errorf("got AP channel %d; want 1", got.AP.Channel)
	}
}

func TestManager_Connect_HardwareAddrError(t *testing.T) {
	r := &fakeRadio{
		statuses: []Status{connected},
		hwErr:    errors.New("no such interface"),
	}

	link, err := newTestManager(t, r).Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if link.HardwareAddr != nil {
		t.Errorf("got HardwareAddr %v; want nil", link.HardwareAddr)
	}
}

func TestManager_Connect_StatusErrorsRetried(t *testing.T) {
	r := &fakeRadio{
		statuses:   []Status{connected},
		statusErrs: 3,
	}

	if _, err := newTestManager(t, r).Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
}

func TestManager_Connect_Errors(t *testing.T) {
	boom := errors.New("boom")

	testCases := []struct {
		name  string
		radio *fakeRadio
		want  error
	}{
		{
			name:  "scan",
			radio: &fakeRadio{scanErr: boom, statuses: []Status{connected}},
			want:  ErrScan,
		},
		{
			name:  "configure",
			radio: &fakeRadio{confErr: boom, statuses: []Status{connected}},
			want:  ErrConfigure,
		},
		{
			name:  "client disconnected",
			radio: &fakeRadio{statuses: []Status{{Client: ClientDisconnected, AP: APReady}}},
			want:  ErrUnexpectedStatus,
		},
		{
			name:  "ap no ip",
			radio: &fakeRadio{statuses: []Status{{Client: ClientConnected, AP: APNoIP}}},
			want:  ErrUnexpectedStatus,
		},
		{
			name:  "client no ip",
			radio: &fakeRadio{statuses: []Status{{Client: ClientNoIP, AP: APReady}}},
			want:  ErrUnexpectedStatus,
		},
		{
			name:  "stopped",
			radio: &fakeRadio{statuses: []Status{{}}},
			want:  ErrUnexpectedStatus,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newTestManager(t, tc.radio).Connect(context.Background())
			if !errors.Is(err, tc.want) {
				t.Fatalf("Connect() error = %v; want %v", err, tc.want)
			}
			if errors.Is(tc.want, ErrScan) || errors.Is(tc.want, ErrConfigure) {
				if !errors.Is(err, boom) {
					t.Errorf("Connect() error = %v; does not wrap cause", err)
				}
			}
		})
	}
}

func TestManager_Connect_StatusErrorMessage(t *testing.T) {
	r := &fakeRadio{statuses: []Status{{Client: ClientDisconnected, AP: APReady}}}

	_, err := newTestManager(t, r).Connect(context.Background())
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Connect() error = %v; want %T", err, se)
	}
	if !strings.Contains(err.Error(), "client=Disconnected ap=Ready") {
		t.Errorf("error %q does not include the status", err)
	}
}

func TestManager_Connect_Timeout(t *testing.T) {
	stuck := Status{Client: ClientConnecting, AP: APReady}
	r := &fakeRadio{statuses: []Status{stuck}}

	_, err := newTestManager(t, r, WithTimeout(20*time.Millisecond)).Connect(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Connect() error = %v; want %v", err, ErrTimeout)
	}
	if errors.Is(err, ErrUnexpectedStatus) {
		t.Errorf("timeout reported as unexpected status: %v", err)
	}
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("Connect() error = %v; want %T", err, te)
	}
	if te.Last.Client != ClientConnecting {
		t.Errorf("got last status %v; want %v", te.Last, stuck)
	}
}

func TestManager_Connect_Canceled(t *testing.T) {
	r := &fakeRadio{statuses: []Status{{Client: ClientConnecting, AP: APReady}}}
	m := newTestManager(t, r, WithTimeout(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := m.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Connect() error = %v; want %v", err, context.DeadlineExceeded)
	}
}

func TestStatus_Transitional(t *testing.T) {
	testCases := []struct {
		status Status
		want   bool
	}{
		{Status{Client: ClientStopped, AP: APStopped}, false},
		{Status{Client: ClientStarting, AP: APStopped}, true},
		{Status{Client: ClientDisconnected, AP: APReady}, false},
		{Status{Client: ClientConnecting, AP: APReady}, true},
		{Status{Client: ClientWaitingIP, AP: APReady}, true},
		{Status{Client: ClientNoIP, AP: APReady}, false},
		{Status{Client: ClientConnected, AP: APStarting}, true},
		{Status{Client: ClientConnected, AP: APWaitingIP}, true},
		{Status{Client: ClientConnected, AP: APNoIP}, false},
		{Status{Client: ClientConnected, AP: APReady}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.status.String(), func(t *testing.T) {
			if got := tc.status.Transitional(); got != tc.want {
				t.Errorf("Transitional() = %v; want %v", got, tc.want)
			}
		})
	}
}

// Only Connected with a ready access point is accepted; every other
// settled combination is rejected and every transitional one times out.
func TestManager_Connect_AllStates(t *testing.T) {
	for c := ClientStopped; c <= ClientConnected; c++ {
		for ap := APStopped; ap <= APReady; ap++ {
			st := Status{Client: c, AP: ap}
			if c == ClientConnected {
				st.IP = net.IPv4(10, 0, 0, 7)
			}
			t.Run(st.String(), func(t *testing.T) {
				r := &fakeRadio{statuses: []Status{st}}
				_, err := newTestManager(t, r, WithTimeout(20*time.Millisecond)).Connect(context.Background())

				switch {
				case st.Transitional():
					if !errors.Is(err, ErrTimeout) {
						t.Errorf("Connect() error = %v; want %v", err, ErrTimeout)
					}
				case c == ClientConnected && ap == APReady:
					if err != nil {
						t.Errorf("Connect() error = %v; want success", err)
					}
				default:
					if !errors.Is(err, ErrUnexpectedStatus) {
						t.Errorf("Connect() error = %v; want %v", err, ErrUnexpectedStatus)
					}
				}
			})
		}
	}
}
