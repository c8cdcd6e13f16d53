package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/awilliams/aht20-agent/internal/journal"
	"github.com/awilliams/aht20-agent/internal/logger"
	"github.com/awilliams/aht20-agent/internal/sensor"

	"go.uber.org/zap/zaptest"
)

// scriptedDriver returns results in order and calls onRead before each.
type scriptedDriver struct {
	results []error // nil entries produce a sample.
	n       int
	onRead  func(n int)
}

func (d *scriptedDriver) Read() (sensor.Sample, error) {
	n := d.n
	d.n++
	if d.onRead != nil {
		d.onRead(n)
	}
	if n < len(d.results) && d.results[n] != nil {
		return sensor.Sample{}, d.results[n]
	}
	return sensor.Sample{Humidity: 55.2, Temperature: 21.7}, nil
}

type memRecorder struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (r *memRecorder) Record(_ context.Context, e journal.Entry) error {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
	return nil
}

// newTestLoop returns a loop whose sleeps return immediately. The
// requested durations are appended to waits.
func newTestLoop(t *testing.T, d sensor.Driver, b *fakeBroker, opts ...LoopOpt) (*Loop, *[]time.Duration) {
	t.Helper()
	pub, err := NewPublisher(PolicyScalar, "esp-rs", b)
	if err != nil {
		t.Fatal(err)
	}
	opts = append([]LoopOpt{WithLoopLogger(logger.Wrap(zaptest.NewLogger(t)))}, opts...)
	l, err := NewLoop(sensor.NewChannel(d), pub, opts...)
	if err != nil {
		t.Fatal(err)
	}

	var waits []time.Duration
	l.after = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		c := make(chan time.Time, 1)
		c <- time.Now()
		return c
	}
	return l, &waits
}

func TestNewLoop_Defaults(t *testing.T) {
	for _, policy := range []Policy{PolicyScalar, PolicyStructured} {
		pub, err := NewPublisher(policy, "esp-rs", newFakeBroker())
		if err != nil {
			t.Fatal(err)
		}
		l, err := NewLoop(sensor.NewChannel(&scriptedDriver{}), pub)
		if err != nil {
			t.Fatal(err)
		}
		if l.interval != policy.DefaultInterval() {
			t.Errorf("%s: got interval %v; want %v", policy, l.interval, policy.DefaultInterval())
		}
		if l.maxSensorFailures != 5 || l.maxPublishFailures != 10 {
			t.Errorf("%s: got thresholds %d/%d; want 5/10", policy, l.maxSensorFailures, l.maxPublishFailures)
		}
	}
}

func TestNewLoop_Invalid(t *testing.T) {
	pub, err := NewPublisher(PolicyScalar, "esp-rs", newFakeBroker())
	if err != nil {
		t.Fatal(err)
	}
	ch := sensor.NewChannel(&scriptedDriver{})

	if _, err := NewLoop(nil, pub); err == nil {
		t.Error("expected error for nil channel")
	}
	if _, err := NewLoop(ch, nil); err == nil {
		t.Error("expected error for nil publisher")
	}
	if _, err := NewLoop(ch, pub, WithInterval(-time.Second)); err == nil {
		t.Error("expected error for negative interval")
	}
	if _, err := NewLoop(ch, pub, WithMaxSensorFailures(-1)); err == nil {
		t.Error("expected error for negative threshold")
	}
}

func TestLoop_SensorErrorContinues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := &scriptedDriver{
		results: []error{nil, sensor.ErrChecksum, nil},
		onRead: func(n int) {
			if n == 2 {
				cancel()
			}
		},
	}
	b := newFakeBroker()
	rec := &memRecorder{}
	l, waits := newTestLoop(t, d, b, WithRecorder(rec))

	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v; want nil", err)
	}

	msgs := b.messages()
	if len(msgs) != 4 {
		t.Fatalf("got %d messages; want 4 (two samples)", len(msgs))
	}
	for i, want := range []string{"/aht20/h", "/aht20/t", "/aht20/h", "/aht20/t"} {
		if msgs[i].Topic != want {
			t.Errorf("message[%d] topic %q; want %q", i, msgs[i].Topic, want)
		}
	}

	// One wait after the first sample, the backoff after the failure.
	// The third iteration is canceled at the sleep boundary.
	if len(*waits) != 2 || (*waits)[0] != time.Minute || (*waits)[1] != DefaultSensorBackoff {
		t.Errorf("got waits %v; want [1m0s 5s]", *waits)
	}

	if len(rec.entries) != 3 {
		t.Fatalf("got %d journal entries; want 3", len(rec.entries))
	}
	if e := rec.entries[1]; !errors.Is(e.SensorError, sensor.ErrChecksum) || e.Sample != nil {
		t.Errorf("got entry %+v; want sensor error", e)
	}
	if e := rec.entries[2]; e.Sample == nil || e.SensorError != nil || e.PublishError != nil {
		t.Errorf("got entry %+v; want sample", e)
	}
}

func TestLoop_SensorEscalation(t *testing.T) {
	d := &scriptedDriver{results: []error{sensor.ErrBusy, sensor.ErrBusy, sensor.ErrBusy, sensor.ErrBusy}}
	b := newFakeBroker()
	l, waits := newTestLoop(t, d, b, WithMaxSensorFailures(3), WithInterval(12*time.Second))

	err := l.Run(context.Background())
	if !errors.Is(err, ErrSensorFailed) {
		t.Fatalf("Run() error = %v; want %v", err, ErrSensorFailed)
	}
	if !errors.Is(err, sensor.ErrBusy) {
		t.Errorf("Run() error = %v; does not wrap cause", err)
	}
	if d.n != 3 {
		t.Errorf("got %d reads; want 3", d.n)
	}
	if len(b.messages()) != 0 {
		t.Error("published without a sample")
	}
	if len(*waits) != 2 || (*waits)[0] != 5*time.Second || (*waits)[1] != 10*time.Second {
		t.Errorf("got waits %v; want [5s 10s]", *waits)
	}
}

func TestLoop_SensorRecoveryResets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := sensor.ErrChecksum
	d := &scriptedDriver{
		results: []error{e, e, nil, e, e, nil},
		onRead: func(n int) {
			if n == 5 {
				cancel()
			}
		},
	}
	l, _ := newTestLoop(t, d, newFakeBroker(), WithMaxSensorFailures(3))

	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v; want nil", err)
	}
}

func TestLoop_PublishEscalation(t *testing.T) {
	boom := errors.New("not connected")
	b := newFakeBroker()
	b.errs = map[int]error{}
	for i := 0; i < 10; i++ {
		b.errs[i] = boom
	}
	l, waits := newTestLoop(t, &scriptedDriver{}, b, WithMaxPublishFailures(2))

	err := l.Run(context.Background())
	if !errors.Is(err, ErrPublishFailed) || !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v; want %v wrapping %v", err, ErrPublishFailed, boom)
	}
	if len(*waits) != 1 || (*waits)[0] != time.Minute {
		t.Errorf("got waits %v; want [1m0s]", *waits)
	}
}

func TestLoop_PublishCanceledRecorded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := &scriptedDriver{onRead: func(int) { cancel() }}
	b := newFakeBroker()
	b.errs = map[int]error{0: context.Canceled}
	rec := &memRecorder{}
	l, _ := newTestLoop(t, d, b, WithRecorder(rec))

	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v; want nil", err)
	}
	if len(rec.entries) != 1 {
		t.Fatalf("got %d journal entries; want 1", len(rec.entries))
	}
	if e := rec.entries[0]; e.Sample == nil || !errors.Is(e.PublishError, context.Canceled) {
		t.Errorf("got entry %+v; want sample with publish error", e)
	}
	if l.publishFailures != 0 {
		t.Errorf("got %d publish failures; want 0", l.publishFailures)
	}
}

func TestLoop_UnlimitedFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make([]error, 20)
	for i := range results {
		results[i] = sensor.ErrBusy
	}
	d := &scriptedDriver{
		results: results,
		onRead: func(n int) {
			if n == len(results)-1 {
				cancel()
			}
		},
	}
	l, waits := newTestLoop(t, d, newFakeBroker(), WithMaxSensorFailures(0), WithSensorBackoff(0))

	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v; want nil", err)
	}
	for _, w := range *waits {
		if w != time.Minute {
			t.Fatalf("got wait %v with backoff disabled; want interval", w)
		}
	}
}

func TestLoop_Backoff(t *testing.T) {
	l := &Loop{interval: time.Minute, sensorBackoff: 5 * time.Second}

	testCases := []struct {
		failures int
		want     time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, time.Minute},
		{30, time.Minute},
	}
	for _, tc := range testCases {
		l.sensorFailures = tc.failures
		if got := l.backoff(); got != tc.want {
			t.Errorf("backoff(%d) = %v; want %v", tc.failures, got, tc.want)
		}
	}
}

func TestLoop_Cancel(t *testing.T) {
	pub, err := NewPublisher(PolicyScalar, "esp-rs", newFakeBroker())
	if err != nil {
		t.Fatal(err)
	}
	l, err := NewLoop(sensor.NewChannel(&scriptedDriver{}), pub, WithInterval(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v; want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Run to return")
	}
}
