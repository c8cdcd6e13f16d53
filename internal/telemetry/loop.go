package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/awilliams/aht20-agent/internal/journal"
	"github.com/awilliams/aht20-agent/internal/logger"
	"github.com/awilliams/aht20-agent/internal/sensor"
)

// Errors returned by Loop.Run once too many consecutive iterations fail.
var (
	ErrSensorFailed  = errors.New("too many consecutive sensor failures")
	ErrPublishFailed = errors.New("too many consecutive publish failures")
)

// Defaults used by NewLoop.
const (
	DefaultMaxSensorFailures  = 5
	DefaultMaxPublishFailures = 10
	DefaultSensorBackoff      = 5 * time.Second
)

// Recorder stores the outcome of each iteration.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// LoopOpt is a configuration option for Loop.
type LoopOpt func(*Loop)

// WithInterval sets the time between iterations. It defaults to the
// publisher policy's DefaultInterval.
func WithInterval(d time.Duration) LoopOpt {
	return func(l *Loop) {
		l.interval = d
	}
}

// WithMaxSensorFailures sets how many consecutive sensor failures are
// tolerated. Zero tolerates any number.
func WithMaxSensorFailures(n int) LoopOpt {
	return func(l *Loop) {
		l.maxSensorFailures = n
	}
}

// WithMaxPublishFailures sets how many consecutive publish failures are
// tolerated. Zero tolerates any number.
func WithMaxPublishFailures(n int) LoopOpt {
	return func(l *Loop) {
		l.maxPublishFailures = n
	}
}

// WithSensorBackoff sets the first wait after a sensor failure. It
// doubles with each consecutive failure, capped at the interval. Zero
// always waits the interval.
func WithSensorBackoff(d time.Duration) LoopOpt {
	return func(l *Loop) {
		l.sensorBackoff = d
	}
}

// WithRecorder records each iteration's outcome. Recorder errors are logged.
func WithRecorder(r Recorder) LoopOpt {
	return func(l *Loop) {
		l.recorder = r
	}
}

// WithLoopLogger is optional and defines a logger for the loop to use.
func WithLoopLogger(lg *logger.Logger) LoopOpt {
	return func(l *Loop) {
		l.logger = lg
	}
}

// Loop samples the sensor and publishes each sample until canceled.
type Loop struct {
	ch  *sensor.Channel
	pub *Publisher

	interval           time.Duration
	maxSensorFailures  int
	maxPublishFailures int
	sensorBackoff      time.Duration
	recorder           Recorder
	logger             *logger.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	sensorFailures  int
	publishFailures int
}

// NewLoop returns a Loop, configured via the LoopOpt arguments.
func NewLoop(ch *sensor.Channel, pub *Publisher, opts ...LoopOpt) (*Loop, error) {
	if ch == nil {
		return nil, errors.New("sensor channel is required")
	}
	if pub == nil {
		return nil, errors.New("publisher is required")
	}

	l := Loop{
		ch:                 ch,
		pub:                pub,
		interval:           pub.policy.DefaultInterval(),
		maxSensorFailures:  DefaultMaxSensorFailures,
		maxPublishFailures: DefaultMaxPublishFailures,
		sensorBackoff:      DefaultSensorBackoff,
		now:                time.Now,
		after:              time.After,
	}
	for _, opt := range opts {
		opt(&l)
	}

	if l.interval <= 0 {
		return nil, fmt.Errorf("invalid interval %v", l.interval)
	}
	if l.maxSensorFailures < 0 || l.maxPublishFailures < 0 {
		return nil, errors.New("failure thresholds cannot be negative")
	}
	if l.logger == nil {
		l.logger = logger.Nop()
	}

	return &l, nil
}

// Run blocks, sampling and publishing every interval. It returns nil
// when ctx is canceled, or ErrSensorFailed or ErrPublishFailed (wrapping
// the last cause) once a failure threshold is reached.
func (l *Loop) Run(ctx context.Context) error {
	for {
		wait, err := l.iterate(ctx)
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			l.logger.Debugw("Loop canceled")
			return nil
		}
		select {
		case <-ctx.Done():
			l.logger.Debugw("Loop canceled")
			return nil
		case <-l.after(wait):
		}
	}
}

// iterate runs one read and publish cycle and returns how long to wait
// before the next one.
func (l *Loop) iterate(ctx context.Context) (time.Duration, error) {
	entry := journal.Entry{TakenAt: l.now()}
	defer l.record(ctx, &entry)

	s, err := l.ch.Read()
	if err != nil {
		entry.SensorError = err
		l.sensorFailures++
		l.logger.Warnw("Sensor read failed", "error", err, "consecutive", l.sensorFailures)
		if l.maxSensorFailures > 0 && l.sensorFailures >= l.maxSensorFailures {
			return 0, fmt.Errorf("%w (%d): %w", ErrSensorFailed, l.sensorFailures, err)
		}
		return l.backoff(), nil
	}
	l.sensorFailures = 0
	entry.Sample = &s

	if err := l.pub.Publish(ctx, s); err != nil {
		entry.PublishError = err
		if ctx.Err() != nil {
			// Shutting down; the next sleep boundary returns.
			return 0, nil
		}
		l.publishFailures++
		l.logger.Warnw("Publish failed", "error", err, "consecutive", l.publishFailures)
		if l.maxPublishFailures > 0 && l.publishFailures >= l.maxPublishFailures {
			return 0, fmt.Errorf("%w (%d): %w", ErrPublishFailed, l.publishFailures, err)
		}
		return l.interval, nil
	}
	l.publishFailures = 0
	l.logger.Infow("Published sample", "humidity", s.Humidity, "temperature", s.Temperature)

	return l.interval, nil
}

// backoff returns min(interval, sensorBackoff * 2^(n-1)) for n
// consecutive sensor failures.
func (l *Loop) backoff() time.Duration {
	if l.sensorBackoff <= 0 {
		return l.interval
	}
	d := l.sensorBackoff
	for i := 1; i < l.sensorFailures && d < l.interval; i++ {
		d *= 2
	}
	if d > l.interval {
		return l.interval
	}
	return d
}

func (l *Loop) record(ctx context.Context, e *journal.Entry) {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.Record(context.WithoutCancel(ctx), *e); err != nil {
		l.logger.Warnw("Journal record failed", "error", err)
	}
}
