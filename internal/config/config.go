// Package config loads CamLink configuration from defaults, an optional
// YAML file and CAMLINK_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/HerbHall/camlink/pkg/camera"
)

// EnvPrefix is prepended to environment overrides, e.g.
// CAMLINK_SERVER_ADDR or CAMLINK_SELECTOR_ORDER.
const EnvPrefix = "CAMLINK"

// Config wraps a viper instance.
type Config struct {
	v *viper.Viper
}

// New wraps v. A nil v yields an empty configuration.
func New(v *viper.Viper) *Config {
	if v == nil {
		v = viper.New()
	}
	return &Config{v: v}
}

func (c *Config) GetString(key string) string          { return c.v.GetString(key) }
func (c *Config) GetInt(key string) int                { return c.v.GetInt(key) }
func (c *Config) GetBool(key string) bool              { return c.v.GetBool(key) }
func (c *Config) GetDuration(key string) time.Duration { return c.v.GetDuration(key) }
func (c *Config) IsSet(key string) bool                { return c.v.IsSet(key) }
func (c *Config) Viper() *viper.Viper                  { return c.v }

// Sub returns the subtree at key. A missing subtree yields an empty Config.
func (c *Config) Sub(key string) *Config {
	return New(c.v.Sub(key))
}

// Unmarshal decodes the whole configuration into target.
func (c *Config) Unmarshal(target any) error {
	return c.v.Unmarshal(target)
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8470")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("database.path", "camlink.db")
	v.SetDefault("inventory.path", "")

	v.SetDefault("timeouts.ping", "3s")
	v.SetDefault("timeouts.tcp", "5s")
	v.SetDefault("timeouts.http", "10s")
	v.SetDefault("timeouts.snapshot", "15s")
	v.SetDefault("timeouts.stream", "30s")

	v.SetDefault("selector.order", "prefer_higher")
	v.SetDefault("orchestrator.fallback", "next")
	v.SetDefault("orchestrator.max_attempts", 0)
	v.SetDefault("orchestrator.record_attempts", true)
	v.SetDefault("orchestrator.attempt_retention", "168h")

	v.SetDefault("strategies.disabled", []string{})
	v.SetDefault("strategies.rtsp.require_ping", false)
	v.SetDefault("strategies.hikvision.latency", "200ms")
	v.SetDefault("strategies.dahua.latency", "150ms")

	v.SetDefault("poller.enabled", false)
	v.SetDefault("poller.interval", "60s")
	v.SetDefault("poller.rate", 5.0)
	v.SetDefault("poller.burst", 1)
	v.SetDefault("poller.concurrency", 4)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "camlink")
	v.SetDefault("mqtt.topic_prefix", "camlink")
	v.SetDefault("mqtt.qos", 0)

	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.interval", "0s")
	v.SetDefault("discovery.upnp", true)
	v.SetDefault("discovery.snmp", true)
	v.SetDefault("discovery.timeout", "5s")
	v.SetDefault("discovery.mdns_services", []string{"_rtsp._tcp", "_http._tcp", "_onvif._tcp"})
	v.SetDefault("discovery.snmp_community", "public")
	v.SetDefault("discovery.snmp_port", 161)
}

// Load builds the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return New(v), nil
}

// Settings is the typed view of the configuration.
type Settings struct {
	Server       ServerSettings       `mapstructure:"server"`
	Log          LogSettings          `mapstructure:"log"`
	Database     DatabaseSettings     `mapstructure:"database"`
	Inventory    InventorySettings    `mapstructure:"inventory"`
	Timeouts     TimeoutSettings      `mapstructure:"timeouts"`
	Selector     SelectorSettings     `mapstructure:"selector"`
	Orchestrator OrchestratorSettings `mapstructure:"orchestrator"`
	Strategies   StrategySettings     `mapstructure:"strategies"`
	Poller       PollerSettings       `mapstructure:"poller"`
	MQTT         MQTTSettings         `mapstructure:"mqtt"`
	Discovery    DiscoverySettings    `mapstructure:"discovery"`
}

type ServerSettings struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// AllowedOrigins lists extra origin host patterns for the events
	// websocket. Empty means same-origin only.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LogSettings struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type DatabaseSettings struct {
	Path string `mapstructure:"path"`
}

type InventorySettings struct {
	Path string `mapstructure:"path"`
}

type TimeoutSettings struct {
	Ping     time.Duration `mapstructure:"ping"`
	TCP      time.Duration `mapstructure:"tcp"`
	HTTP     time.Duration `mapstructure:"http"`
	Snapshot time.Duration `mapstructure:"snapshot"`
	Stream   time.Duration `mapstructure:"stream"`
}

// Table converts the settings to a camera.Timeouts table. Zero values keep
// the defaults.
func (t TimeoutSettings) Table() camera.Timeouts {
	table := camera.DefaultTimeouts()
	for op, d := range map[camera.OpType]time.Duration{
		camera.OpPing:     t.Ping,
		camera.OpTCP:      t.TCP,
		camera.OpHTTP:     t.HTTP,
		camera.OpSnapshot: t.Snapshot,
		camera.OpStream:   t.Stream,
	} {
		if d > 0 {
			table[op] = d
		}
	}
	return table
}

type SelectorSettings struct {
	// Order is prefer_higher or prefer_lower.
	Order string `mapstructure:"order"`
}

type OrchestratorSettings struct {
	// Fallback is next or none.
	Fallback       string `mapstructure:"fallback"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	RecordAttempts bool   `mapstructure:"record_attempts"`
	// AttemptRetention bounds the attempt history; zero keeps everything.
	AttemptRetention time.Duration `mapstructure:"attempt_retention"`
}

type RTSPSettings struct {
	RequirePing bool `mapstructure:"require_ping"`
}

type SDKSettings struct {
	// Available forces the SDK on or off; unset follows platform rules.
	Available *bool         `mapstructure:"available"`
	Latency   time.Duration `mapstructure:"latency"`
}

type StrategySettings struct {
	Disabled  []string     `mapstructure:"disabled"`
	RTSP      RTSPSettings `mapstructure:"rtsp"`
	Hikvision SDKSettings  `mapstructure:"hikvision"`
	Dahua     SDKSettings  `mapstructure:"dahua"`
}

type PollerSettings struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	Rate        float64       `mapstructure:"rate"`
	Burst       int           `mapstructure:"burst"`
	Concurrency int           `mapstructure:"concurrency"`
}

type MQTTSettings struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
}

type DiscoverySettings struct {
	Enabled bool `mapstructure:"enabled"`
	// Interval between background scans. Zero scans only on request.
	Interval      time.Duration `mapstructure:"interval"`
	UPnP          bool          `mapstructure:"upnp"`
	SNMP          bool          `mapstructure:"snmp"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MDNSServices  []string      `mapstructure:"mdns_services"`
	SNMPCommunity string        `mapstructure:"snmp_community"`
	SNMPPort      int           `mapstructure:"snmp_port"`
}

// Settings decodes and validates the typed settings.
func (c *Config) Settings() (Settings, error) {
	var s Settings
	if err := c.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks enumerated and numeric settings.
func (s Settings) Validate() error {
	var errs []error
	switch s.Selector.Order {
	case "prefer_higher", "prefer_lower":
	default:
		errs = append(errs, fmt.Errorf("selector.order: unknown value %q", s.Selector.Order))
	}
	switch s.Orchestrator.Fallback {
	case "next", "none":
	default:
		errs = append(errs, fmt.Errorf("orchestrator.fallback: unknown value %q", s.Orchestrator.Fallback))
	}
	if s.Orchestrator.MaxAttempts < 0 {
		errs = append(errs, errors.New("orchestrator.max_attempts: must not be negative"))
	}
	if s.Poller.Enabled && (s.Poller.Interval <= 0 || s.Poller.Rate <= 0 || s.Poller.Concurrency <= 0) {
		errs = append(errs, errors.New("poller: interval, rate and concurrency must be positive"))
	}
	if s.Discovery.Interval < 0 {
		errs = append(errs, errors.New("discovery.interval: must not be negative"))
	}
	if s.MQTT.QoS < 0 || s.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos: %d not in [0, 2]", s.MQTT.QoS))
	}
	return errors.Join(errs...)
}
