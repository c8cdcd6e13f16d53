// Package telemetry formats sensor samples into MQTT messages and runs
// the sample and publish loop.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/awilliams/aht20-agent/internal/broker"
	"github.com/awilliams/aht20-agent/internal/sensor"
)

// Defaults used by NewPublisher.
const (
	DefaultRoot           = "/aht20"
	DefaultPublishTimeout = 2 * time.Second
)

// Availability payloads of the structured policy.
const (
	StatusOnline  = "Online"
	StatusOffline = "Offline"
)

const (
	helloPayload = "hi"
	tempUnit     = "C"
)

// Message is a single MQTT publish.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// PublisherOpt is a configuration option for Publisher.
type PublisherOpt func(*Publisher)

// WithRoot sets the root topic of the scalar policy.
func WithRoot(root string) PublisherOpt {
	return func(p *Publisher) {
		p.root = root
	}
}

// WithPublishTimeout bounds each publish.
func WithPublishTimeout(d time.Duration) PublisherOpt {
	return func(p *Publisher) {
		p.timeout = d
	}
}

// Publisher formats samples according to a Policy and publishes them.
// Topics are computed once by NewPublisher.
type Publisher struct {
	policy  Policy
	device  string
	pub     broker.Publisher
	root    string
	timeout time.Duration

	humidityTopic    string
	temperatureTopic string
	sensorTopic      string
	lwtTopic         string
}

// NewPublisher returns a Publisher for device using pub.
func NewPublisher(policy Policy, device string, pub broker.Publisher, opts ...PublisherOpt) (*Publisher, error) {
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, err
	}
	if pub == nil {
		return nil, errors.New("broker publisher is required")
	}
	if policy == PolicyStructured && device == "" {
		return nil, errors.New("device cannot be blank")
	}

	p := Publisher{
		policy:  policy,
		device:  device,
		pub:     pub,
		root:    DefaultRoot,
		timeout: DefaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(&p)
	}
	if p.root == "" {
		p.root = DefaultRoot
	}
	if p.timeout <= 0 {
		p.timeout = DefaultPublishTimeout
	}

	p.humidityTopic = path.Join(p.root, "h")
	p.temperatureTopic = path.Join(p.root, "t")
	p.sensorTopic = SensorTopic(device)
	p.lwtTopic = LWTTopic(device)
	return &p, nil
}

// SensorTopic is the structured policy's telemetry topic.
func SensorTopic(device string) string {
	return "tele/" + device + "/SENSOR"
}

// LWTTopic is the structured policy's availability topic.
func LWTTopic(device string) string {
	return "tele/" + device + "/LWT"
}

// Will returns the message the broker should publish when device drops
// off, or nil if the policy has none.
func Will(policy Policy, device string) *broker.Will {
	if policy != PolicyStructured {
		return nil
	}
	return &broker.Will{
		Topic:    LWTTopic(device),
		Payload:  []byte(StatusOffline),
		Retained: true,
	}
}

type structuredPayload struct {
	AHT20    structuredReading `json:"AHT20"`
	TempUnit string            `json:"TempUnit"`
}

// Values are float32 to render with the sensor's precision.
type structuredReading struct {
	Temperature float32 `json:"Temperature"`
	Humidity    float32 `json:"Humidity"`
}

// formatScalar renders v as the shortest decimal string with the
// sensor's precision, e.g. 55.2.
func formatScalar(v float64) []byte {
	return []byte(strconv.FormatFloat(v, 'f', -1, 32))
}

// Messages formats s.
func (p *Publisher) Messages(s sensor.Sample) ([]Message, error) {
	switch p.policy {
	case PolicyStructured:
		payload, err := json.Marshal(structuredPayload{
			AHT20: structuredReading{
				Temperature: float32(s.Temperature),
				Humidity:    float32(s.Humidity),
			},
			TempUnit: tempUnit,
		})
		if err != nil {
			return nil, err
		}
		return []Message{{Topic: p.sensorTopic, Payload: payload}}, nil

	default:
		return []Message{
			{Topic: p.humidityTopic, Payload: formatScalar(s.Humidity)},
			{Topic: p.temperatureTopic, Payload: formatScalar(s.Temperature)},
		}, nil
	}
}

// Publish formats and publishes s. The first failed publish is returned.
func (p *Publisher) Publish(ctx context.Context, s sensor.Sample) error {
	msgs, err := p.Messages(s)
	if err != nil {
		return fmt.Errorf("format sample: %w", err)
	}
	for _, m := range msgs {
		if err := p.publish(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Announce publishes the greeting of the policy: "hi" to the root topic
// for scalar, a retained Online for structured.
func (p *Publisher) Announce(ctx context.Context) error {
	if p.policy == PolicyStructured {
		return p.publish(ctx, Message{Topic: p.lwtTopic, Payload: []byte(StatusOnline), Retained: true})
	}
	return p.publish(ctx, Message{Topic: p.root, Payload: []byte(helloPayload)})
}

// Goodbye publishes a retained Offline for the structured policy. It is
// a no-op for scalar.
func (p *Publisher) Goodbye(ctx context.Context) error {
	if p.policy != PolicyStructured {
		return nil
	}
	return p.publish(ctx, Message{Topic: p.lwtTopic, Payload: []byte(StatusOffline), Retained: true})
}

func (p *Publisher) publish(ctx context.Context, m Message) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.pub.Publish(ctx, m.Topic, m.Retained, m.Payload)
}
