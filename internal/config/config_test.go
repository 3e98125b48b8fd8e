package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "clientId: abc\nclientSecret: s3cret\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Credentials(); err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if cfg.RadonThreshold != 150 {
		t.Fatalf("expected radon threshold 150, got %v", cfg.RadonThreshold)
	}
	if len(cfg.Sensors) != 2 || cfg.Sensors[0] != "radon" || cfg.Sensors[1] != "battery" {
		t.Fatalf("unexpected default sensors: %v", cfg.Sensors)
	}
	if cfg.GracePeriod() != 14*24*time.Hour {
		t.Fatalf("unexpected grace period: %s", cfg.GracePeriod())
	}
	if cfg.PollInterval() != 300*time.Second {
		t.Fatalf("unexpected poll interval: %s", cfg.PollInterval())
	}
	if cfg.RadonUnit != "bq" {
		t.Fatalf("expected bq, got %q", cfg.RadonUnit)
	}
	if cfg.Core.GRPCAddr != DefaultGRPCAddr || cfg.Core.HTTPAddr != DefaultHTTPAddr {
		t.Fatalf("unexpected core addrs: %+v", cfg.Core)
	}
	if cfg.MQTTConfig().Enabled() || cfg.BlobConfig().Enabled() || cfg.HomeKitConfig().Enabled {
		t.Fatalf("mqtt, blob and homekit must be disabled by default")
	}
	if cfg.HomeKit.Pin != "00102003" {
		t.Fatalf("unexpected default homekit pin %q", cfg.HomeKit.Pin)
	}
}

func TestLoadFullFile(t *testing.T) {
	path := writeConfig(t, `
clientId: abc
clientSecret: s3cret
radonThreshold: 100
sensors: [Radon, co2, voc, radon]
enableEveCustomCharacteristics: true
orphanGracePeriodDays: 0.5
ignoredDevices: [" 111 ", ""]
includedDevices: ["222"]
debugMode: true
pollIntervalSeconds: 600
radonUnit: PCI
discoverySchedule: "@every 1h"
core:
  httpAddr: 127.0.0.1:8081
mqtt:
  brokerUrl: mqtt://broker:1883
  prefix: home/air
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Sensors) != 3 || cfg.Sensors[0] != "radon" {
		t.Fatalf("expected deduplicated lowercase sensors, got %v", cfg.Sensors)
	}
	if len(cfg.IgnoredDevices) != 1 || cfg.IgnoredDevices[0] != "111" {
		t.Fatalf("unexpected ignored devices: %v", cfg.IgnoredDevices)
	}
	if cfg.GracePeriod() != 12*time.Hour {
		t.Fatalf("unexpected grace period: %s", cfg.GracePeriod())
	}
	if cfg.RadonUnit != "pci" || !cfg.DebugMode || cfg.DiscoverySchedule != "@every 1h" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Core.HTTPAddr != "127.0.0.1:8081" || cfg.Core.GRPCAddr != DefaultGRPCAddr {
		t.Fatalf("unexpected core config: %+v", cfg.Core)
	}
	opts := cfg.Presentation()
	if !opts.CustomCharacteristics || opts.RadonThreshold != 100 {
		t.Fatalf("unexpected presentation options: %+v", opts)
	}
	mqttCfg := cfg.MQTTConfig()
	if !mqttCfg.Enabled() || mqttCfg.Prefix != "home/air" {
		t.Fatalf("unexpected mqtt config: %+v", mqttCfg)
	}
}

func TestLoadClampsNegativeValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, "radonThreshold: -5\norphanGracePeriodDays: -1\npollIntervalSeconds: 0\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RadonThreshold != 0 {
		t.Fatalf("expected threshold clamped to 0, got %v", cfg.RadonThreshold)
	}
	if cfg.GracePeriod() != 0 {
		t.Fatalf("expected grace clamped to 0, got %s", cfg.GracePeriod())
	}
	if cfg.PollInterval() != 300*time.Second {
		t.Fatalf("expected default poll interval, got %s", cfg.PollInterval())
	}
}

func TestGracePeriodSaturates(t *testing.T) {
	cfg, err := Load(writeConfig(t, "orphanGracePeriodDays: 200000\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.GracePeriod(); got != time.Duration(math.MaxInt64) {
		t.Fatalf("expected saturated grace period, got %s", got)
	}

	cfg.OrphanGracePeriodDays = 106750
	if got := cfg.GracePeriod(); got != 106750*24*time.Hour {
		t.Fatalf("unexpected grace period below the cap: %s", got)
	}
}

func TestLoadMissingCredentialsIsNotFatal(t *testing.T) {
	cfg, err := Load(writeConfig(t, "debugMode: false\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !errors.Is(cfg.Credentials(), ErrMissingCredentials) {
		t.Fatalf("expected missing credentials, got %v", cfg.Credentials())
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("AIRBRIDGE_CLIENTSECRET", "from-env")
	t.Setenv("AIRBRIDGE_CORE_GRPCADDR", "127.0.0.1:9100")
	cfg, err := Load(writeConfig(t, "clientId: abc\nclientSecret: from-file\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ClientSecret != "from-env" {
		t.Fatalf("expected env secret, got %q", cfg.ClientSecret)
	}
	if cfg.Core.GRPCAddr != "127.0.0.1:9100" {
		t.Fatalf("expected env grpc addr, got %q", cfg.Core.GRPCAddr)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"unknown sensor": "sensors: [radon, ozone]\n",
		"unknown unit":   "radonUnit: ppm\n",
		"blob bucket":    "blob:\n  endpoint: http://minio:9000\n",
		"homekit pin":    "homekit:\n  enabled: true\n  pin: \"123\"\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
