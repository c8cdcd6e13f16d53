package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"

	"github.com/awilliams/aht20-agent/internal/logger"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"go.uber.org/zap/zapcore"
)

type paho5Client struct {
	cm *autopaho.ConnectionManager
}

func dial5(ctx context.Context, opts Options, emit func(Event), l *logger.Logger) (*paho5Client, error) {
	brokerURL, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	l = l.Named("autopaho")
	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     uint16(opts.KeepAlive.Seconds()),
		CleanStartOnInitialConnection: true,
		ConnectTimeout:                opts.ConnectTimeout,
		ConnectUsername:               opts.Username,
		ConnectPassword:               []byte(opts.Password),
		OnConnectionUp: func(*autopaho.ConnectionManager, *paho.Connack) {
			emit(Event{Kind: EventConnected})
		},
		OnConnectError: func(err error) {
			emit(Event{Kind: EventError, Err: err})
		},
		Errors:     l.StdLog(zapcore.ErrorLevel),
		PahoErrors: l.StdLog(zapcore.ErrorLevel),
		ClientConfig: paho.ClientConfig{
			ClientID: opts.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					emit(Event{Kind: EventMessage, Topic: pr.Packet.Topic, Payload: pr.Packet.Payload})
					return true, nil
				},
			},
			OnClientError: func(err error) {
				emit(Event{Kind: EventError, Err: err})
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				emit(Event{Kind: EventConnectionLost, Err: fmt.Errorf("server disconnect, reason code %d", d.ReasonCode)})
			},
		},
	}
	if w := opts.Will; w != nil {
		cfg.WillMessage = &paho.WillMessage{
			Topic:   w.Topic,
			Payload: w.Payload,
			QoS:     qosAtMostOnce,
			Retain:  w.Retained,
		}
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		cfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	// The connection manager outlives ctx, which only bounds the initial
	// connection attempt.
	cm, err := autopaho.NewConnection(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	if err := cm.AwaitConnection(ctx); err != nil {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
		defer cancel()
		_ = cm.Disconnect(disconnectCtx)
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return &paho5Client{cm: cm}, nil
}

func (c *paho5Client) publish(ctx context.Context, topic string, retained bool, payload []byte) error {
	_, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qosAtMostOnce,
		Retain:  retained,
	})
	return err
}

func (c *paho5Client) subscribe(ctx context.Context, filters []string) error {
	subs := make([]paho.SubscribeOptions, 0, len(filters))
	for _, topic := range filters {
		subs = append(subs, paho.SubscribeOptions{Topic: topic, QoS: qosAtMostOnce})
	}
	_, err := c.cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs})
	return err
}

func (c *paho5Client) disconnect(ctx context.Context) {
	_ = c.cm.Disconnect(ctx)
}
