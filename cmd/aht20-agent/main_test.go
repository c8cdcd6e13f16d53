package main

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/awilliams/aht20-agent/internal/telemetry"
)

func TestParseArgs(t *testing.T) {
	fs, a, err := parseArgs(appName, []string{"--config", "/tmp/agent.yaml", "--print-config", "--telemetry.policy", "structured"})
	if err != nil {
		t.Fatal(err)
	}
	if a.configPath != "/tmp/agent.yaml" || !a.printConfig || a.version {
		t.Errorf("got args %+v", a)
	}
	if f := fs.Lookup("telemetry.policy"); f == nil || !f.Changed || f.Value.String() != "structured" {
		t.Errorf("telemetry.policy flag not parsed: %+v", f)
	}
}

func TestParseArgs_Unknown(t *testing.T) {
	if _, _, err := parseArgs(appName, []string{"--nope"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestExamples(t *testing.T) {
	testCases := []struct {
		policy telemetry.Policy
		want   []string
	}{
		{
			policy: telemetry.PolicyScalar,
			want:   []string{"/aht20/h  55.2", "/aht20/t  21.7"},
		},
		{
			policy: telemetry.PolicyStructured,
			want:   []string{"tele/esp-rs_1A2B3C/SENSOR", `"TempUnit":"C"`},
		},
	}

	for _, tc := range testCases {
		t.Run(string(tc.policy), func(t *testing.T) {
			got := examples(tc.policy)
			for _, w := range tc.want {
				if !strings.Contains(got, w) {
					t.Errorf("examples(%q) = %q; want it to contain %q", tc.policy, got, w)
				}
			}
		})
	}
}

func TestRun_Version(t *testing.T) {
	if err := run(context.Background(), appName, []string{"--version"}); err != nil {
		t.Fatal(err)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SSID", "")
	t.Setenv("AHT20_WIFI_SSID", "")
	t.Setenv("MQTT_URL", "mqtt://broker:1883")

	err := run(context.Background(), appName, []string{"--print-config"})
	if err == nil || !strings.Contains(err.Error(), "wifi.ssid is required") {
		t.Fatalf("got error %v", err)
	}
}

func TestRun_PrintConfig(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SSID", "home")
	t.Setenv("MQTT_URL", "mqtt://broker:1883")

	if err := run(context.Background(), appName, []string{"--print-config"}); err != nil {
		t.Fatal(err)
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+): it changes the working
// directory and restores the previous one when the test finishes.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
