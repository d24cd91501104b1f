// Package config handles AgriAgent configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from --config) is checked first.
// Then: ./config.yaml, ~/.config/agriagent/config.yaml, /etc/agriagent/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "agriagent", "config.yaml"))
	}

	paths = append(paths, "/etc/agriagent/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all AgriAgent configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // text or json
	Reasoning ReasoningConfig `yaml:"reasoning"`
	Weather   WeatherConfig   `yaml:"weather"`
	Market    MarketConfig    `yaml:"market"`
	Geocoding GeocodingConfig `yaml:"geocoding"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Usage     UsageConfig     `yaml:"usage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	CORS      CORSConfig      `yaml:"cors"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ReasoningConfig selects and configures the hosted model behind the
// reasoning gateway.
type ReasoningConfig struct {
	// Provider is "gemini" (default) or "ollama".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	// BaseURL overrides the provider endpoint. Used for proxies and tests.
	BaseURL string `yaml:"base_url"`
	// OllamaURL is used when Provider is "ollama".
	OllamaURL     string `yaml:"ollama_url"`
	MaxToolRounds int    `yaml:"max_tool_rounds"`
	TimeoutSec    int    `yaml:"timeout_sec"`
}

// Timeout returns the per-request gateway deadline.
func (r ReasoningConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSec) * time.Second
}

// WeatherConfig configures the Open-Meteo forecast adapter.
type WeatherConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// MarketConfig configures the optional live commodities feed. When
// CommoditiesAPIKey is empty, prices come from the local tables.
type MarketConfig struct {
	CommoditiesAPIKey string `yaml:"commodities_api_key"`
	CommoditiesURL    string `yaml:"commodities_url"`
}

// LiveFeed reports whether the live commodities feed is configured.
func (m MarketConfig) LiveFeed() bool {
	return m.CommoditiesAPIKey != ""
}

// GeocodingConfig configures reverse geocoding for farm card display names.
type GeocodingConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// MQTTConfig defines the optional broker connection used to broadcast
// each generated farm card.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. mqtt://localhost:1883 or mqtts://host:8883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	DeviceName  string `yaml:"device_name"`
	TopicPrefix string `yaml:"topic_prefix"`

	// DiscoveryPrefix is the Home Assistant discovery topic root. Empty
	// disables discovery announcements.
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// Configured reports whether an MQTT broker has been set.
func (m MQTTConfig) Configured() bool {
	return m.Broker != ""
}

// UsageConfig controls the SQLite ledger of gateway token usage. An empty
// DBPath disables the ledger.
type UsageConfig struct {
	DBPath string `yaml:"db_path"`
}

// MetricsConfig toggles the Prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// CORSConfig lists allowed browser origins. "*" allows any origin.
type CORSConfig struct {
	AllowOrigins []string `yaml:"allow_origins"`
}

// Load reads configuration from a YAML file. Environment variables in
// the file (${VAR}) are expanded before parsing, and unset fields keep
// the values from [Default].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration that runs without a config file:
// Gemini as the reasoning provider and local fallbacks for market data.
func Default() *Config {
	cfg := &Config{
		Listen: ListenConfig{Port: 8000},
		Reasoning: ReasoningConfig{
			Provider:      "gemini",
			Model:         "gemini-flash-latest",
			MaxToolRounds: 5,
			TimeoutSec:    60,
		},
		Weather: WeatherConfig{
			BaseURL:    "https://api.open-meteo.com",
			TimeoutSec: 10,
		},
		Market: MarketConfig{
			CommoditiesURL: "https://commodities-api.com/api",
		},
		Geocoding: GeocodingConfig{
			BaseURL:    "https://nominatim.openstreetmap.org",
			TimeoutSec: 5,
		},
		MQTT: MQTTConfig{
			DeviceName:      "agriagent",
			TopicPrefix:     "agriagent",
			DiscoveryPrefix: "homeassistant",
		},
		Metrics: MetricsConfig{Enabled: true},
		CORS:    CORSConfig{AllowOrigins: []string{"*"}},
	}
	return cfg
}

// ApplyEnv fills secrets from the environment when the config file did
// not set them. This mirrors the conventional variable names used by
// the hosted services.
func (c *Config) ApplyEnv() {
	if c.Reasoning.APIKey == "" {
		c.Reasoning.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.Market.CommoditiesAPIKey == "" {
		c.Market.CommoditiesAPIKey = os.Getenv("COMMODITIES_API_KEY")
	}
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Listen.Port == 0 {
		c.Listen.Port = d.Listen.Port
	}
	if c.Reasoning.Provider == "" {
		c.Reasoning.Provider = d.Reasoning.Provider
	}
	if c.Reasoning.Model == "" {
		c.Reasoning.Model = d.Reasoning.Model
	}
	if c.Reasoning.MaxToolRounds <= 0 {
		c.Reasoning.MaxToolRounds = d.Reasoning.MaxToolRounds
	}
	if c.Reasoning.TimeoutSec <= 0 {
		c.Reasoning.TimeoutSec = d.Reasoning.TimeoutSec
	}
	if c.Weather.TimeoutSec <= 0 {
		c.Weather.TimeoutSec = d.Weather.TimeoutSec
	}
	if c.Geocoding.TimeoutSec <= 0 {
		c.Geocoding.TimeoutSec = d.Geocoding.TimeoutSec
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = d.MQTT.DeviceName
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = d.MQTT.TopicPrefix
	}
	c.Usage.DBPath = ExpandHome(c.Usage.DBPath)
}

// ExpandHome replaces a leading ~ with the user's home directory. Other
// paths, and all paths when the home directory is unknown, are returned
// unchanged.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// Validate checks the configuration for values that would fail at
// runtime rather than degrade gracefully.
func (c *Config) Validate() error {
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	switch strings.ToLower(c.Reasoning.Provider) {
	case "gemini", "ollama":
	default:
		return fmt.Errorf("unknown reasoning.provider %q (valid: gemini, ollama)", c.Reasoning.Provider)
	}
	if c.MQTT.Configured() && !strings.Contains(c.MQTT.Broker, "://") {
		return fmt.Errorf("mqtt.broker %q must include a scheme (mqtt://, mqtts://)", c.MQTT.Broker)
	}
	return nil
}
