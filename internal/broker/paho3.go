package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/awilliams/aht20-agent/internal/logger"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap/zapcore"
)

// Disconnect quiesce time in milliseconds.
const quiesceMillis = 2500

var bridgeOnce sync.Once

// bridgeLoggers routes paho.mqtt.golang's package level loggers to l.
// The library only supports a single set of loggers per process.
func bridgeLoggers(l *logger.Logger) {
	bridgeOnce.Do(func() {
		l = l.Named("paho")
		mqtt.CRITICAL = l.StdLog(zapcore.ErrorLevel)
		mqtt.ERROR = l.StdLog(zapcore.ErrorLevel)
		mqtt.WARN = l.StdLog(zapcore.WarnLevel)
		mqtt.DEBUG = l.StdLog(zapcore.DebugLevel)
	})
}

type paho3Client struct {
	c mqtt.Client
}

func dial3(ctx context.Context, opts Options, emit func(Event), l *logger.Logger) (*paho3Client, error) {
	bridgeLoggers(l)

	o := mqtt.NewClientOptions()
	o.AddBroker(opts.URL)
	o.SetClientID(opts.ClientID)
	o.SetCleanSession(true)
	o.SetOrderMatters(false) // Handlers must not block the network loop.
	o.SetConnectRetry(false)
	o.SetAutoReconnect(true)
	o.SetKeepAlive(opts.KeepAlive)
	o.SetConnectTimeout(opts.ConnectTimeout)
	if opts.Username != "" || opts.Password != "" {
		o.SetCredentialsProvider(mqtt.CredentialsProvider(func() (username string, password string) {
			return opts.Username, opts.Password
		}))
	}
	if w := opts.Will; w != nil {
		o.SetBinaryWill(w.Topic, w.Payload, qosAtMostOnce, w.Retained)
	}

	o.SetOnConnectHandler(func(mqtt.Client) {
		emit(Event{Kind: EventConnected})
	})
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		emit(Event{Kind: EventConnectionLost, Err: err})
	})
	o.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		emit(Event{Kind: EventReconnecting})
	})
	o.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		emit(Event{Kind: EventMessage, Topic: msg.Topic(), Payload: msg.Payload()})
	})

	c := &paho3Client{c: mqtt.NewClient(o)}
	if err := tokenWait(ctx, c.c.Connect(), "connect"); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *paho3Client) publish(ctx context.Context, topic string, retained bool, payload []byte) error {
	return tokenWait(ctx, c.c.Publish(topic, qosAtMostOnce, retained, payload), "publish")
}

// subscribe registers filters without a callback; their messages are
// handled by the default publish handler.
func (c *paho3Client) subscribe(ctx context.Context, filters []string) error {
	f := make(map[string]byte, len(filters))
	for _, topic := range filters {
		f[topic] = qosAtMostOnce
	}
	return tokenWait(ctx, c.c.SubscribeMultiple(f, nil), "subscribe")
}

func (c *paho3Client) disconnect(ctx context.Context) {
	c.c.Disconnect(quiesce(ctx))
}

// quiesce returns how long Disconnect may wait for in-flight work: the
// time left until ctx's deadline, at most quiesceMillis.
func quiesce(ctx context.Context) uint {
	deadline, ok := ctx.Deadline()
	if !ok {
		return quiesceMillis
	}
	ms := time.Until(deadline).Milliseconds()
	switch {
	case ms <= 0:
		return 0
	case ms > quiesceMillis:
		return quiesceMillis
	}
	return uint(ms)
}

// tokenWait waits for an MQTT token to complete, otherwise returning an error.
func tokenWait(ctx context.Context, tkn mqtt.Token, description string) error {
	select {
	case <-tkn.Done():
		if err := tkn.Error(); err != nil {
			return fmt.Errorf("mqtt token error (%s): %w", description, err)
		}
	case <-ctx.Done():
		return fmt.Errorf("mqtt timeout waiting for token completion (%s): %w", description, ctx.Err())
	}
	return nil
}
