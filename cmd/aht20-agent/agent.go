package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awilliams/aht20-agent/internal/broker"
	"github.com/awilliams/aht20-agent/internal/config"
	"github.com/awilliams/aht20-agent/internal/identity"
	"github.com/awilliams/aht20-agent/internal/journal"
	"github.com/awilliams/aht20-agent/internal/logger"
	"github.com/awilliams/aht20-agent/internal/sensor"
	"github.com/awilliams/aht20-agent/internal/sensor/aht20"
	"github.com/awilliams/aht20-agent/internal/telemetry"
	"github.com/awilliams/aht20-agent/internal/wifi"
	"github.com/awilliams/aht20-agent/internal/wpa"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/physic"
)

// shutdownTimeout bounds the Offline publish and the disconnect on exit.
const shutdownTimeout = time.Second

// session is the part of broker.Session used by the agent.
type session interface {
	broker.Publisher
	Run(ctx context.Context) error
	Close(ctx context.Context)
}

// agent wires the sensor, the wireless link and the broker session
// together and runs the telemetry loop.
type agent struct {
	cfg    *config.Config
	logOut io.Writer

	// Replaced in tests.
	openSensor func(c config.SensorConfig) (sensor.Driver, error)
	openBroker func(ctx context.Context, opts broker.Options, l *logger.Logger) (session, error)
}

func newAgent(cfg *config.Config) *agent {
	return &agent{
		cfg:        cfg,
		logOut:     os.Stdout,
		openSensor: openAHT20,
		openBroker: func(ctx context.Context, opts broker.Options, l *logger.Logger) (session, error) {
			return broker.Open(ctx, opts, l)
		},
	}
}

func openAHT20(c config.SensorConfig) (sensor.Driver, error) {
	return aht20.Open(c.Bus, physic.Frequency(c.SpeedHz)*physic.Hertz)
}

// run blocks until ctx is canceled, a terminating signal is received or
// a fatal error occurs.
func (a *agent) run(ctx context.Context) error {
	lg, err := logger.New(a.cfg.Log.Level, a.logOut)
	if err != nil {
		return err
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Cancel context when a terminating signal is received.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case sig := <-sigs:
			lg.Infow("Received signal, exiting", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	bootID := uuid.NewString()
	lg.Infow("Starting", "version", version, "boot", bootID, "policy", a.cfg.Telemetry.Policy)

	drv, err := a.openSensor(a.cfg.Sensor)
	if err != nil {
		return fmt.Errorf("unable to open sensor: %w", err)
	}
	ch := sensor.NewChannel(drv)
	defer ch.Close()

	var loopOpts []telemetry.LoopOpt
	if a.cfg.Journal.Path != "" {
		j, err := journal.Open(a.cfg.Journal.Path, bootID, a.cfg.Journal.MaxRows)
		if err != nil {
			return err
		}
		defer j.Close()
		loopOpts = append(loopOpts, telemetry.WithRecorder(j))
		lg.Infow("Journal opened", "path", a.cfg.Journal.Path, "maxRows", a.cfg.Journal.MaxRows)
	}

	link, err := a.connect(ctx, lg.Named("wifi"))
	if err != nil {
		return err
	}

	device := identity.DeriveWithPrefix(a.cfg.Device.Prefix, link.HardwareAddr)
	policy := telemetry.Policy(a.cfg.Telemetry.Policy)
	lg.Infow("Device identity", "device", device, "hardwareAddr", link.HardwareAddr.String())

	clientID := a.cfg.MQTT.ClientID
	if clientID == "" {
		clientID = device
	}
	sess, err := a.openBroker(ctx, broker.Options{
		URL:            a.cfg.MQTT.URL,
		ClientID:       clientID,
		Username:       a.cfg.MQTT.Username,
		Password:       a.cfg.MQTT.Password,
		Protocol:       a.cfg.MQTT.Protocol,
		Strategy:       broker.Strategy(a.cfg.MQTT.Strategy),
		ConnectTimeout: a.cfg.MQTT.ConnectTimeout.Std(),
		KeepAlive:      a.cfg.MQTT.KeepAlive.Std(),
		QueueSize:      a.cfg.MQTT.QueueSize,
		Subscribe:      a.cfg.MQTT.Subscribe,
		Will:           telemetry.Will(policy, device),
	}, lg.Named("mqtt"))
	if err != nil {
		return err
	}

	pub, err := telemetry.NewPublisher(policy, device, sess,
		telemetry.WithRoot(a.cfg.Telemetry.Root),
		telemetry.WithPublishTimeout(a.cfg.MQTT.PublishTimeout.Std()),
	)
	if err != nil {
		sess.Close(context.Background())
		return err
	}

	// The will is only published by the broker if the connection breaks,
	// so Offline is published explicitly on a normal shutdown.
	defer func() {
		// Cannot use original context since it may have already
		// been cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := pub.Goodbye(ctx); err != nil {
			lg.Warnw("Unable to publish offline status", "error", err)
		}
		sess.Close(ctx)
		cancel()
	}()

	if err := pub.Announce(ctx); err != nil {
		return fmt.Errorf("unable to announce: %w", err)
	}

	loopOpts = append(loopOpts,
		telemetry.WithInterval(a.cfg.Interval()),
		telemetry.WithMaxSensorFailures(a.cfg.Telemetry.MaxSensorFailures),
		telemetry.WithMaxPublishFailures(a.cfg.Telemetry.MaxPublishFailures),
		telemetry.WithSensorBackoff(a.cfg.Telemetry.SensorBackoff.Std()),
		telemetry.WithLoopLogger(lg.Named("loop")),
	)
	loop, err := telemetry.NewLoop(ch, pub, loopOpts...)
	if err != nil {
		return err
	}

	// Stop the listener when the loop fails, and the loop when the
	// listener fails.
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return sess.Run(egCtx)
	})
	eg.Go(func() error {
		return loop.Run(egCtx)
	})

	err = eg.Wait()
	lg.Infow("Stopped", "error", err)
	return err
}

// connect brings up both roles of the wireless interface. The control
// sockets are only held for the duration of the call.
func (a *agent) connect(ctx context.Context, lg *logger.Logger) (wifi.Link, error) {
	wc := a.cfg.Wifi

	sta, err := wpa.NewSupplicant(wc.LocalSocketDir, wc.SupplicantSocket)
	if err != nil {
		return wifi.Link{}, fmt.Errorf("unable to connect to wpa_supplicant control socket %q: %w", wc.SupplicantSocket, err)
	}
	defer sta.Close()

	ap, err := wpa.NewHostapd(wc.LocalSocketDir, wc.HostapdSocket)
	if err != nil {
		return wifi.Link{}, fmt.Errorf("unable to connect to hostapd control socket %q: %w", wc.HostapdSocket, err)
	}
	defer ap.Close()

	radio := wifi.NewWPARadio(sta, ap, wifi.WPARadioConfig{
		StationInterface: wc.StationInterface,
		APInterface:      wc.APInterface,
	})
	m, err := wifi.NewManager(radio, wifi.ManagerConfig{
		SSID:       wc.SSID,
		Password:   wc.Password,
		APSSID:     wc.APSSID,
		APPassword: wc.APPassword,
	},
		wifi.WithLogger(lg),
		wifi.WithPollInterval(wc.PollInterval.Std()),
		wifi.WithTimeout(wc.Timeout.Std()),
		wifi.WithScanTimeout(wc.ScanTimeout.Std()),
	)
	if err != nil {
		return wifi.Link{}, err
	}

	return m.Connect(ctx)
}
