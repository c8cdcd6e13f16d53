package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/awilliams/aht20-agent/internal/broker"
	"github.com/awilliams/aht20-agent/internal/config"
	"github.com/awilliams/aht20-agent/internal/sensor"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var mqttAddr = flag.String("mqttAddr", "", "Test MQTT broker address, e.g. tcp://localhost:1883")

func mqttClient(t *testing.T) mqtt.Client {
	t.Helper()
	opts := mqtt.NewClientOptions().
		AddBroker(*mqttAddr).
		SetClientID(fmt.Sprintf("%s.subscriber.%d", t.Name(), time.Now().UnixNano())).
		SetOrderMatters(false)
	c := mqtt.NewClient(opts)
	if tkn := c.Connect(); !tkn.WaitTimeout(5*time.Second) || tkn.Error() != nil {
		t.Fatalf("unable to connect to %q: %v", *mqttAddr, tkn.Error())
	}
	t.Cleanup(func() { c.Disconnect(250) })
	return c
}

func subTopic(t *testing.T, c mqtt.Client, topic string) <-chan mqtt.Message {
	t.Helper()
	msgs := make(chan mqtt.Message, 16)
	tkn := c.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if msg.Retained() {
			return
		}
		select {
		case msgs <- msg:
		default:
		}
	})
	if !tkn.WaitTimeout(time.Second) || tkn.Error() != nil {
		t.Fatalf("subscribe %q: %v", topic, tkn.Error())
	}
	t.Cleanup(func() { c.Unsubscribe(topic) })
	return msgs
}

func waitMessage(t *testing.T, c <-chan mqtt.Message, errs <-chan error) mqtt.Message {
	t.Helper()
	select {
	case err := <-errs:
		t.Fatalf("agent stopped: %v", err)
	case msg := <-c:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for MQTT message")
	}
	return nil
}

// TestAgent_Broker runs the agent against a real broker, with mock
// control interfaces and a fake sensor.
func TestAgent_Broker(t *testing.T) {
	if *mqttAddr == "" {
		t.Skip("mqttAddr flag not set")
	}

	for _, protocol := range []int{broker.Protocol311, broker.Protocol5} {
		t.Run(fmt.Sprintf("v%d", protocol), func(t *testing.T) {
			staSock, apSock := startRadio(t)
			cfg := testConfig(t, staSock, apSock)
			cfg.MQTT.URL = *mqttAddr
			cfg.MQTT.Protocol = protocol
			cfg.MQTT.ConnectTimeout = config.Duration(5 * time.Second)
			cfg.Telemetry.Interval = config.Duration(100 * time.Millisecond)
			cfg.Device.Prefix = fmt.Sprintf("aht20-it-%d", time.Now().UnixNano()/1000)
			device := cfg.Device.Prefix + "_12ABCD"

			sub := mqttClient(t)
			lwt := subTopic(t, sub, "tele/"+device+"/LWT")
			readings := subTopic(t, sub, "tele/"+device+"/SENSOR")

			a := newAgent(cfg)
			a.logOut = io.Discard
			a.openSensor = func(config.SensorConfig) (sensor.Driver, error) {
				return fakeDriver{sample: sensor.Sample{Humidity: 55.2, Temperature: 21.7}}, nil
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			errs := make(chan error, 1)
			go func() { errs <- a.run(ctx) }()

			if msg := waitMessage(t, lwt, errs); string(msg.Payload()) != "Online" {
				t.Fatalf("got status %q; want Online", msg.Payload())
			}
			msg := waitMessage(t, readings, errs)
			if p := string(msg.Payload()); !strings.Contains(p, `"Temperature":21.7`) {
				t.Errorf("got reading %q", p)
			}

			cancel()
			if msg := waitMessage(t, lwt, nil); string(msg.Payload()) != "Offline" {
				t.Errorf("got status %q; want Offline", msg.Payload())
			}
			if err := <-errs; err != nil {
				t.Errorf("run() error: %v", err)
			}
		})
	}
}
