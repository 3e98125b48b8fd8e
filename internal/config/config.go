package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/joshp123/airbridge/internal/accessory"
	"github.com/joshp123/airbridge/internal/homekit"
	"github.com/joshp123/airbridge/internal/mqtt"
	"github.com/joshp123/airbridge/internal/store"
	"github.com/joshp123/airbridge/plugins/airthings"
)

const (
	DefaultPath                  = "/etc/airbridge/config.yaml"
	DefaultGRPCAddr              = "0.0.0.0:9000"
	DefaultHTTPAddr              = "0.0.0.0:8080"
	DefaultDashboardDir          = "/var/lib/airbridge/dashboards"
	DefaultCachePath             = "/var/lib/airbridge/accessories.json"
	DefaultOrphanGracePeriodDays = 14
	DefaultPollIntervalSeconds   = 300
	EnvPrefix                    = "AIRBRIDGE"
)

// Config is the daemon configuration. Keys are camelCase in YAML and
// AIRBRIDGE_<KEY> in the environment (nested keys joined with _).
type Config struct {
	ClientID                       string   `mapstructure:"clientId"`
	ClientSecret                   string   `mapstructure:"clientSecret"`
	RadonThreshold                 float64  `mapstructure:"radonThreshold"`
	Sensors                        []string `mapstructure:"sensors"`
	EnableEveCustomCharacteristics bool     `mapstructure:"enableEveCustomCharacteristics"`
	OrphanGracePeriodDays          float64  `mapstructure:"orphanGracePeriodDays"`
	IgnoredDevices                 []string `mapstructure:"ignoredDevices"`
	IncludedDevices                []string `mapstructure:"includedDevices"`
	DebugMode                      bool     `mapstructure:"debugMode"`
	PollIntervalSeconds            int      `mapstructure:"pollIntervalSeconds"`
	RadonUnit                      string   `mapstructure:"radonUnit"`
	DiscoverySchedule              string   `mapstructure:"discoverySchedule"`
	AuthURL                        string   `mapstructure:"authUrl"`
	APIBaseURL                     string   `mapstructure:"apiBaseUrl"`

	Core    CoreConfig    `mapstructure:"core"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Blob    BlobConfig    `mapstructure:"blob"`
	HomeKit HomeKitConfig `mapstructure:"homekit"`
}

type CoreConfig struct {
	GRPCAddr     string   `mapstructure:"grpcAddr"`
	HTTPAddr     string   `mapstructure:"httpAddr"`
	DashboardDir string   `mapstructure:"dashboardDir"`
	CachePath    string   `mapstructure:"cachePath"`
	CORSOrigins  []string `mapstructure:"corsOrigins"`
}

type MQTTConfig struct {
	BrokerURL string `mapstructure:"brokerUrl"`
	Prefix    string `mapstructure:"prefix"`
	ClientID  string `mapstructure:"clientId"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

type HomeKitConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Name        string `mapstructure:"name"`
	Pin         string `mapstructure:"pin"`
	Port        string `mapstructure:"port"`
	StoragePath string `mapstructure:"storagePath"`
}

type BlobConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	Bucket        string `mapstructure:"bucket"`
	Prefix        string `mapstructure:"prefix"`
	Region        string `mapstructure:"region"`
	AccessKeyFile string `mapstructure:"accessKeyFile"`
	SecretKeyFile string `mapstructure:"secretKeyFile"`
}

// ErrMissingCredentials marks a config without Airthings API credentials.
// The daemon keeps running so the problem is visible in health output.
var ErrMissingCredentials = errors.New("clientId and clientSecret are required")

// Load reads the YAML file at path, overlays the environment, applies
// defaults and validates. A missing file at DefaultPath is tolerated so the
// daemon can be configured from the environment alone.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultPath
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if !(path == DefaultPath && errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	normalize(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("clientId", "")
	v.SetDefault("clientSecret", "")
	v.SetDefault("radonThreshold", accessory.DefaultRadonThreshold)
	v.SetDefault("sensors", accessory.DefaultSensors)
	v.SetDefault("enableEveCustomCharacteristics", false)
	v.SetDefault("orphanGracePeriodDays", DefaultOrphanGracePeriodDays)
	v.SetDefault("ignoredDevices", []string{})
	v.SetDefault("includedDevices", []string{})
	v.SetDefault("debugMode", false)
	v.SetDefault("pollIntervalSeconds", DefaultPollIntervalSeconds)
	v.SetDefault("radonUnit", accessory.UnitBecquerel)
	v.SetDefault("discoverySchedule", "")
	v.SetDefault("authUrl", airthings.DefaultAuthURL)
	v.SetDefault("apiBaseUrl", airthings.DefaultBaseURL)

	v.SetDefault("core.grpcAddr", DefaultGRPCAddr)
	v.SetDefault("core.httpAddr", DefaultHTTPAddr)
	v.SetDefault("core.dashboardDir", DefaultDashboardDir)
	v.SetDefault("core.cachePath", DefaultCachePath)
	v.SetDefault("core.corsOrigins", []string{"*"})

	v.SetDefault("mqtt.brokerUrl", "")
	v.SetDefault("mqtt.prefix", mqtt.DefaultPrefix)
	v.SetDefault("mqtt.clientId", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")

	v.SetDefault("homekit.enabled", false)
	v.SetDefault("homekit.name", homekit.DefaultName)
	v.SetDefault("homekit.pin", homekit.DefaultPin)
	v.SetDefault("homekit.port", "")
	v.SetDefault("homekit.storagePath", homekit.DefaultStoragePath)

	v.SetDefault("blob.endpoint", "")
	v.SetDefault("blob.bucket", "")
	v.SetDefault("blob.prefix", "")
	v.SetDefault("blob.region", "")
	v.SetDefault("blob.accessKeyFile", "")
	v.SetDefault("blob.secretKeyFile", "")
}

func normalize(cfg *Config) {
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	if cfg.RadonThreshold < 0 {
		cfg.RadonThreshold = 0
	}
	if cfg.OrphanGracePeriodDays < 0 {
		cfg.OrphanGracePeriodDays = 0
	}
	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = DefaultPollIntervalSeconds
	}
	cfg.Sensors = cleanList(cfg.Sensors, true)
	if len(cfg.Sensors) == 0 {
		cfg.Sensors = append([]string(nil), accessory.DefaultSensors...)
	}
	cfg.IgnoredDevices = cleanList(cfg.IgnoredDevices, false)
	cfg.IncludedDevices = cleanList(cfg.IncludedDevices, false)
	cfg.RadonUnit = strings.ToLower(strings.TrimSpace(cfg.RadonUnit))
	if cfg.RadonUnit == "" {
		cfg.RadonUnit = accessory.UnitBecquerel
	}
}

func cleanList(values []string, lower bool) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if lower {
			value = strings.ToLower(value)
		}
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		out = append(out, value)
	}
	return out
}

// Validate enforces invariants the loader cannot express through defaults.
// Missing credentials are not an error here; see Credentials.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpcAddr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.httpAddr is required")
	}
	for _, sensor := range cfg.Sensors {
		if !accessory.ValidSensor(sensor) {
			return fmt.Errorf("unknown sensor %q", sensor)
		}
	}
	if cfg.RadonUnit != accessory.UnitBecquerel && cfg.RadonUnit != accessory.UnitPicocurie {
		return fmt.Errorf("radonUnit must be %q or %q", accessory.UnitBecquerel, accessory.UnitPicocurie)
	}
	if cfg.HomeKit.Enabled {
		if err := cfg.HomeKitConfig().Validate(); err != nil {
			return err
		}
	}
	if cfg.Blob.Endpoint != "" && cfg.Blob.Bucket == "" {
		return fmt.Errorf("blob.bucket is required when blob.endpoint is set")
	}
	return nil
}

// Credentials reports whether the Airthings API can be reached at all.
func (c *Config) Credentials() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return ErrMissingCredentials
	}
	return nil
}

// maxGraceDays is the largest whole number of days a time.Duration can hold.
const maxGraceDays = float64(math.MaxInt64 / int64(24*time.Hour))

// GracePeriod saturates instead of overflowing for very large day counts.
func (c *Config) GracePeriod() time.Duration {
	if c.OrphanGracePeriodDays >= maxGraceDays {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(c.OrphanGracePeriodDays * float64(24*time.Hour))
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c *Config) Airthings() airthings.Config {
	return airthings.Config{
		BaseURL:      c.APIBaseURL,
		AuthURL:      c.AuthURL,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
	}
}

func (c *Config) Presentation() accessory.Options {
	return accessory.Options{
		RadonThreshold:        c.RadonThreshold,
		Sensors:               c.Sensors,
		RadonUnit:             c.RadonUnit,
		CustomCharacteristics: c.EnableEveCustomCharacteristics,
	}
}

func (c *Config) MQTTConfig() mqtt.Config {
	return mqtt.Config{
		BrokerURL: c.MQTT.BrokerURL,
		Prefix:    c.MQTT.Prefix,
		ClientID:  c.MQTT.ClientID,
		Username:  c.MQTT.Username,
		Password:  c.MQTT.Password,
	}
}

func (c *Config) HomeKitConfig() homekit.Config {
	return homekit.Config{
		Enabled:     c.HomeKit.Enabled,
		Name:        c.HomeKit.Name,
		Pin:         c.HomeKit.Pin,
		Port:        c.HomeKit.Port,
		StoragePath: c.HomeKit.StoragePath,
		Debug:       c.DebugMode,
	}
}

func (c *Config) BlobConfig() store.BlobConfig {
	return store.BlobConfig{
		Endpoint:      c.Blob.Endpoint,
		Bucket:        c.Blob.Bucket,
		Prefix:        c.Blob.Prefix,
		Region:        c.Blob.Region,
		AccessKeyFile: c.Blob.AccessKeyFile,
		SecretKeyFile: c.Blob.SecretKeyFile,
	}
}
