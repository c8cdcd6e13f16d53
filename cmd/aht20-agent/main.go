package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/awilliams/aht20-agent/internal/config"
	"github.com/awilliams/aht20-agent/internal/identity"
	"github.com/awilliams/aht20-agent/internal/sensor"
	"github.com/awilliams/aht20-agent/internal/telemetry"

	"github.com/spf13/pflag"
)

const appName = "aht20-agent"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, appName, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

const helpTxt = `
About:
aht20-agent reads an AHT20 temperature and humidity sensor over I2C and
publishes every reading to an MQTT broker. Before publishing, the wireless
interface is associated with the configured network through wpa_supplicant
while hostapd advertises a local access point on the same channel.

Configuration:
Settings are read from %[1]s.yaml in the working directory or
/etc/%[1]s/, or the file given by --config. Environment variables
override the file, e.g. AHT20_TELEMETRY_POLICY=structured. The network
and broker credentials may also be given as SSID, PASS, MQTT_URL,
MQTT_USERNAME and MQTT_PASSWORD. Flags override both.

MQTT:
The scalar policy publishes each value as a bare decimal string:

%[2]s
The structured policy publishes a single JSON document and maintains a
retained availability message (Online/Offline) on tele/$device/LWT:

%[3]s
The device name is derived from the wireless hardware address, e.g. %[4]s.
`

// args are the flags which are not configuration keys.
type args struct {
	configPath  string
	printConfig bool
	version     bool
}

func parseArgs(name string, argv []string) (*pflag.FlagSet, args, error) {
	var a args
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVar(&a.configPath, "config", "", "Configuration file (YAML)")
	fs.BoolVar(&a.printConfig, "print-config", false, "Print the effective configuration, secrets masked, and exit")
	fs.BoolVar(&a.version, "version", false, "Print version and exit")
	config.RegisterFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [options]\n\nOptions:\n", name)
		fs.PrintDefaults()
		fmt.Fprintf(fs.Output(), helpTxt, name,
			examples(telemetry.PolicyScalar),
			examples(telemetry.PolicyStructured),
			identity.Derive([]byte{0xDC, 0xA6, 0x32, 0x1A, 0x2B, 0x3C}),
		)
	}
	return fs, a, fs.Parse(argv)
}

// examples renders the messages of policy for a sample reading.
func examples(policy telemetry.Policy) string {
	device := identity.Derive([]byte{0xDC, 0xA6, 0x32, 0x1A, 0x2B, 0x3C})
	p, err := telemetry.NewPublisher(policy, device, discard{})
	if err != nil {
		return ""
	}
	msgs, err := p.Messages(sensor.Sample{Humidity: 55.2, Temperature: 21.7})
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "  %s  %s\n", m.Topic, m.Payload)
	}
	return b.String()
}

// discard is a broker.Publisher that drops every message.
type discard struct{}

func (discard) Publish(context.Context, string, bool, []byte) error { return nil }

// run executes the agent. It returns nil when ctx is canceled or a
// terminating signal is received, or the first fatal error.
func run(ctx context.Context, name string, argv []string) error {
	fs, a, err := parseArgs(name, argv)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if a.version {
		fmt.Printf("%s v%s\n", name, version)
		return nil
	}

	cfg, err := config.Load(a.configPath, fs)
	if err != nil {
		return err
	}

	if a.printConfig {
		return cfg.Dump(os.Stdout)
	}

	err = newAgent(cfg).run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
