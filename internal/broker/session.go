// Package broker maintains the MQTT session used to publish telemetry.
package broker

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/awilliams/aht20-agent/internal/logger"
)

// Publisher publishes a message with at-most-once delivery.
type Publisher interface {
	Publish(ctx context.Context, topic string, retained bool, payload []byte) error
}

// client is implemented for each supported protocol version.
type client interface {
	publish(ctx context.Context, topic string, retained bool, payload []byte) error
	subscribe(ctx context.Context, filters []string) error
	disconnect(ctx context.Context)
}

// Session is a connected MQTT session. It implements Publisher.
type Session struct {
	c        client
	strategy Strategy
	events   chan Event
	dropped  atomic.Int64
	logger   *logger.Logger
}

// Open connects to the broker. The connection attempt is bounded by
// Options.ConnectTimeout and ctx; failing to connect is an error.
func Open(ctx context.Context, opts Options, l *logger.Logger) (*Session, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if l == nil {
		l = logger.Nop()
	}

	s := newSession(opts, l)

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	var err error
	switch opts.Protocol {
	case Protocol5:
		s.c, err = dial5(ctx, opts, s.emit, l)
	default:
		s.c, err = dial3(ctx, opts, s.emit, l)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to connect to MQTT broker: %w", err)
	}

	if len(opts.Subscribe) > 0 {
		if err := s.c.subscribe(ctx, opts.Subscribe); err != nil {
			s.c.disconnect(context.Background())
			return nil, fmt.Errorf("subscribe %q: %w", opts.Subscribe, err)
		}
	}

	l.Infow("MQTT connected", "url", opts.URL, "clientID", opts.ClientID, "protocol", opts.Protocol, "strategy", opts.Strategy)
	return s, nil
}

func newSession(opts Options, l *logger.Logger) *Session {
	s := Session{
		strategy: opts.Strategy,
		logger:   l,
	}
	if opts.Strategy == StrategyBackground {
		s.events = make(chan Event, opts.QueueSize)
	}
	return &s
}

// Publish sends payload to topic with QoS 0. It blocks until the client
// library has handed the message to the network or ctx is done.
func (s *Session) Publish(ctx context.Context, topic string, retained bool, payload []byte) error {
	if err := s.c.publish(ctx, topic, retained, payload); err != nil {
		return fmt.Errorf("publish %q: %w", topic, err)
	}
	return nil
}

// Run handles inbound events until ctx is canceled. With
// StrategyCallback it only waits for cancellation. It always returns nil;
// inbound errors are logged.
func (s *Session) Run(ctx context.Context) error {
	if s.events == nil {
		<-ctx.Done()
		return nil
	}

	s.logger.Debugw("MQTT listening for events")
	for {
		select {
		case <-ctx.Done():
			s.logger.Debugw("MQTT event loop exit")
			return nil
		case e := <-s.events:
			s.handle(e)
		}
	}
}

// Dropped returns the number of events discarded because the queue
// was full.
func (s *Session) Dropped() int64 {
	return s.dropped.Load()
}

// Close disconnects from the broker, waiting for in-flight work until
// ctx is done.
func (s *Session) Close(ctx context.Context) {
	s.c.disconnect(ctx)
	if n := s.Dropped(); n > 0 {
		s.logger.Warnw("MQTT events dropped", "count", n)
	}
}

// emit is called from the client library's goroutines. It never blocks.
func (s *Session) emit(e Event) {
	if s.events == nil {
		s.handle(e)
		return
	}
	select {
	case s.events <- e:
	default:
		s.dropped.Add(1)
	}
}

func (s *Session) handle(e Event) {
	switch e.Kind {
	case EventMessage:
		s.logger.Infow("MQTT message", "topic", e.Topic, "payload", string(e.Payload))
	case EventConnectionLost, EventError:
		s.logger.Errorw("MQTT "+e.Kind.String(), "error", e.Err)
	default:
		s.logger.Infow("MQTT " + e.Kind.String())
	}
}
