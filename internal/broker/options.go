package broker

import (
	"errors"
	"fmt"
	"time"
)

// MQTT protocol versions.
const (
	Protocol311 = 3 // MQTT 3.1.1, eclipse/paho.mqtt.golang.
	Protocol5   = 5 // MQTT 5, eclipse/paho.golang autopaho.
)

// Strategy selects how inbound events are handled.
type Strategy string

const (
	// StrategyBackground queues events for a goroutine started by Session.Run.
	StrategyBackground Strategy = "background"
	// StrategyCallback handles events directly in the client library's callbacks.
	StrategyCallback Strategy = "callback"
)

// Defaults applied by Open.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultKeepAlive      = 30 * time.Second
	DefaultQueueSize      = 64
)

// MQTT QoS Values.
const (
	qosAtMostOnce = 0x00
)

// Will is published by the broker if the connection is lost.
type Will struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Options configures a Session.
type Options struct {
	URL                string // Required, e.g. mqtt://localhost:1883
	ClientID           string // Required
	Username, Password string // Optional

	Protocol       int      // Protocol311 (default) or Protocol5.
	Strategy       Strategy // StrategyBackground (default) or StrategyCallback.
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	QueueSize      int      // Event queue length for StrategyBackground.
	Subscribe      []string // Optional topic filters.
	Will           *Will    // Optional.
}

func (o *Options) setDefaults() {
	if o.Protocol == 0 {
		o.Protocol = Protocol311
	}
	if o.Strategy == "" {
		o.Strategy = StrategyBackground
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
}

func (o *Options) validate() error {
	if o.URL == "" {
		return errors.New("broker URL cannot be blank")
	}
	if o.ClientID == "" {
		return errors.New("client ID cannot be blank")
	}
	switch o.Protocol {
	case Protocol311, Protocol5:
	default:
		return fmt.Errorf("unsupported MQTT protocol version %d", o.Protocol)
	}
	switch o.Strategy {
	case StrategyBackground, StrategyCallback:
	default:
		return fmt.Errorf("unknown strategy %q", o.Strategy)
	}
	if o.Will != nil && o.Will.Topic == "" {
		return errors.New("will topic cannot be blank")
	}
	return nil
}
