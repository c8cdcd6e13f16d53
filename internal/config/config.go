// Package config loads the agent configuration from a YAML file, the
// environment and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/awilliams/aht20-agent/internal/broker"
	"github.com/awilliams/aht20-agent/internal/identity"
	"github.com/awilliams/aht20-agent/internal/journal"
	"github.com/awilliams/aht20-agent/internal/logger"
	"github.com/awilliams/aht20-agent/internal/telemetry"
	"github.com/awilliams/aht20-agent/internal/wifi"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	configName = "aht20-agent"
	envPrefix  = "AHT20"
)

// Config is the complete agent configuration.
type Config struct {
	Wifi      WifiConfig      `mapstructure:"wifi" yaml:"wifi"`
	MQTT      MQTTConfig      `mapstructure:"mqtt" yaml:"mqtt"`
	Sensor    SensorConfig    `mapstructure:"sensor" yaml:"sensor"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Device    DeviceConfig    `mapstructure:"device" yaml:"device"`
	Journal   JournalConfig   `mapstructure:"journal" yaml:"journal"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// WifiConfig configures both roles of the wireless interface.
type WifiConfig struct {
	SSID             string   `mapstructure:"ssid" yaml:"ssid"`
	Password         string   `mapstructure:"password" yaml:"password"`
	APSSID           string   `mapstructure:"ap_ssid" yaml:"ap_ssid"`
	APPassword       string   `mapstructure:"ap_password" yaml:"ap_password"`
	SupplicantSocket string   `mapstructure:"supplicant_socket" yaml:"supplicant_socket"`
	HostapdSocket    string   `mapstructure:"hostapd_socket" yaml:"hostapd_socket"`
	StationInterface string   `mapstructure:"station_interface" yaml:"station_interface"`
	APInterface      string   `mapstructure:"ap_interface" yaml:"ap_interface"`
	LocalSocketDir   string   `mapstructure:"local_socket_dir" yaml:"local_socket_dir"`
	PollInterval     Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Timeout          Duration `mapstructure:"timeout" yaml:"timeout"`
	ScanTimeout      Duration `mapstructure:"scan_timeout" yaml:"scan_timeout"`
}

// MQTTConfig configures the broker session.
type MQTTConfig struct {
	URL            string   `mapstructure:"url" yaml:"url"`
	Username       string   `mapstructure:"username" yaml:"username"`
	Password       string   `mapstructure:"password" yaml:"password"`
	ClientID       string   `mapstructure:"client_id" yaml:"client_id"` // Defaults to the device identity.
	Protocol       int      `mapstructure:"protocol" yaml:"protocol"`
	Strategy       string   `mapstructure:"strategy" yaml:"strategy"`
	ConnectTimeout Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	PublishTimeout Duration `mapstructure:"publish_timeout" yaml:"publish_timeout"`
	KeepAlive      Duration `mapstructure:"keep_alive" yaml:"keep_alive"`
	QueueSize      int      `mapstructure:"queue_size" yaml:"queue_size"`
	Subscribe      []string `mapstructure:"subscribe" yaml:"subscribe"`
}

// SensorConfig configures the I2C bus.
type SensorConfig struct {
	Bus     string `mapstructure:"bus" yaml:"bus"` // Blank selects the first bus.
	SpeedHz int64  `mapstructure:"speed_hz" yaml:"speed_hz"`
}

// TelemetryConfig configures the publish loop.
type TelemetryConfig struct {
	Policy             string   `mapstructure:"policy" yaml:"policy"`
	Root               string   `mapstructure:"root" yaml:"root"`
	Interval           Duration `mapstructure:"interval" yaml:"interval"` // Zero uses the policy default.
	MaxSensorFailures  int      `mapstructure:"max_sensor_failures" yaml:"max_sensor_failures"`
	MaxPublishFailures int      `mapstructure:"max_publish_failures" yaml:"max_publish_failures"`
	SensorBackoff      Duration `mapstructure:"sensor_backoff" yaml:"sensor_backoff"`
}

// DeviceConfig configures the device identity.
type DeviceConfig struct {
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// JournalConfig configures the local reading journal.
type JournalConfig struct {
	Path    string `mapstructure:"path" yaml:"path"` // Blank disables the journal.
	MaxRows int    `mapstructure:"max_rows" yaml:"max_rows"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Environment variables without the AHT20_ prefix, kept for deployments
// that configure the credentials as build-time constants.
var plainEnv = map[string]string{
	"wifi.ssid":     "SSID",
	"wifi.password": "PASS",
	"mqtt.url":      "MQTT_URL",
	"mqtt.username": "MQTT_USERNAME",
	"mqtt.password": "MQTT_PASSWORD",
}

// Keys that may be overridden on the command line.
var flagKeys = []string{
	"log.level",
	"mqtt.url",
	"mqtt.protocol",
	"mqtt.strategy",
	"telemetry.policy",
	"telemetry.interval",
	"journal.path",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("wifi.ssid", "")
	v.SetDefault("wifi.password", "")
	v.SetDefault("wifi.ap_ssid", wifi.DefaultAPSSID)
	v.SetDefault("wifi.ap_password", "")
	v.SetDefault("wifi.supplicant_socket", "/var/run/wpa_supplicant/wlan0")
	v.SetDefault("wifi.hostapd_socket", "/var/run/hostapd/ap0")
	v.SetDefault("wifi.station_interface", "wlan0")
	v.SetDefault("wifi.ap_interface", "ap0")
	v.SetDefault("wifi.local_socket_dir", "")
	v.SetDefault("wifi.poll_interval", wifi.DefaultPollInterval)
	v.SetDefault("wifi.timeout", wifi.DefaultTimeout)
	v.SetDefault("wifi.scan_timeout", wifi.DefaultScanTimeout)

	v.SetDefault("mqtt.url", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.protocol", broker.Protocol311)
	v.SetDefault("mqtt.strategy", string(broker.StrategyBackground))
	v.SetDefault("mqtt.connect_timeout", broker.DefaultConnectTimeout)
	v.SetDefault("mqtt.publish_timeout", telemetry.DefaultPublishTimeout)
	v.SetDefault("mqtt.keep_alive", broker.DefaultKeepAlive)
	v.SetDefault("mqtt.queue_size", broker.DefaultQueueSize)
	v.SetDefault("mqtt.subscribe", []string{})

	v.SetDefault("sensor.bus", "")
	v.SetDefault("sensor.speed_hz", 100_000)

	v.SetDefault("telemetry.policy", string(telemetry.PolicyScalar))
	v.SetDefault("telemetry.root", telemetry.DefaultRoot)
	v.SetDefault("telemetry.interval", time.Duration(0))
	v.SetDefault("telemetry.max_sensor_failures", telemetry.DefaultMaxSensorFailures)
	v.SetDefault("telemetry.max_publish_failures", telemetry.DefaultMaxPublishFailures)
	v.SetDefault("telemetry.sensor_backoff", telemetry.DefaultSensorBackoff)

	v.SetDefault("device.prefix", identity.DefaultPrefix)

	v.SetDefault("journal.path", "")
	v.SetDefault("journal.max_rows", journal.DefaultMaxRows)

	v.SetDefault("log.level", logger.InfoLevel)
}

// RegisterFlags adds the command line overrides to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("log.level", "", "Log level: debug, info, warn or error")
	fs.String("mqtt.url", "", "MQTT broker URL, e.g. \"mqtt://broker:1883\"")
	fs.Int("mqtt.protocol", 0, "MQTT protocol version, 3 or 5")
	fs.String("mqtt.strategy", "", "Inbound event handling: background or callback")
	fs.String("telemetry.policy", "", "Telemetry format: scalar or structured")
	fs.Duration("telemetry.interval", 0, "Time between samples, e.g. 60s")
	fs.String("journal.path", "", "SQLite journal file, blank disables")
}

// Load reads the configuration. If path is blank, aht20-agent.yaml is
// searched in the working directory and /etc/aht20-agent; a missing file
// is not an error. Environment variables override the file and changed
// flags in fs (which may be nil) override both.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range plainEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, err
		}
	}

	if fs != nil {
		for _, key := range flagKeys {
			if f := fs.Lookup(key); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/aht20-agent")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&c, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports the first invalid setting. Secrets are never
// included in the error.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Wifi.SSID != "", "wifi.ssid is required (SSID)")
	check(c.Wifi.SupplicantSocket != "", "wifi.supplicant_socket is required")
	check(c.Wifi.HostapdSocket != "", "wifi.hostapd_socket is required")
	check(c.Wifi.PollInterval > 0, "wifi.poll_interval must be positive")
	check(c.Wifi.Timeout > 0, "wifi.timeout must be positive")
	check(c.Wifi.ScanTimeout > 0, "wifi.scan_timeout must be positive")
	check(c.Wifi.Password == "" || len(c.Wifi.Password) >= 8, "wifi.password must be at least 8 characters")
	check(c.Wifi.APPassword == "" || len(c.Wifi.APPassword) >= 8, "wifi.ap_password must be at least 8 characters")

	check(c.MQTT.URL != "", "mqtt.url is required (MQTT_URL)")
	check(c.MQTT.Protocol == broker.Protocol311 || c.MQTT.Protocol == broker.Protocol5, "mqtt.protocol must be 3 or 5, got %d", c.MQTT.Protocol)
	check(broker.Strategy(c.MQTT.Strategy) == broker.StrategyBackground || broker.Strategy(c.MQTT.Strategy) == broker.StrategyCallback,
		"mqtt.strategy must be %q or %q, got %q", broker.StrategyBackground, broker.StrategyCallback, c.MQTT.Strategy)
	check(c.MQTT.ConnectTimeout > 0, "mqtt.connect_timeout must be positive")
	check(c.MQTT.PublishTimeout > 0, "mqtt.publish_timeout must be positive")
	check(c.MQTT.QueueSize > 0, "mqtt.queue_size must be positive")

	check(c.Sensor.SpeedHz > 0, "sensor.speed_hz must be positive")

	_, err := telemetry.ParsePolicy(c.Telemetry.Policy)
	check(err == nil, "telemetry.policy must be %q or %q, got %q", telemetry.PolicyScalar, telemetry.PolicyStructured, c.Telemetry.Policy)
	check(c.Telemetry.Interval >= 0, "telemetry.interval cannot be negative")
	check(c.Telemetry.MaxSensorFailures >= 0, "telemetry.max_sensor_failures cannot be negative")
	check(c.Telemetry.MaxPublishFailures >= 0, "telemetry.max_publish_failures cannot be negative")
	check(c.Telemetry.SensorBackoff >= 0, "telemetry.sensor_backoff cannot be negative")

	check(c.Device.Prefix != "", "device.prefix is required")
	check(c.Journal.MaxRows >= 0, "journal.max_rows cannot be negative")

	_, err = logger.ParseLevel(c.Log.Level)
	check(err == nil, "log.level %q is invalid", c.Log.Level)

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Interval returns the configured telemetry interval or the policy default.
func (c *Config) Interval() time.Duration {
	if c.Telemetry.Interval > 0 {
		return c.Telemetry.Interval.Std()
	}
	return telemetry.Policy(c.Telemetry.Policy).DefaultInterval()
}
