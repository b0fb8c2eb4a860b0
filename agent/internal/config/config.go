package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultBufferSize   = 256
	DefaultMQTTBroker   = "tcp://broker.hivemq.com:1883"
	DefaultClientPrefix = "airguard-agent-"
	DefaultTopic        = "sensor/data/airguard"
	DefaultQoS          = 1
)

// Config is the top-level configuration for the agent.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// LogLevel is one of: debug | info | warn | error. Hot-reloadable.
	LogLevel string `yaml:"log_level"`

	// MQTT is the broker the agent publishes readings to.
	MQTT MQTTConfig `yaml:"mqtt"`

	// Topic is the telemetry topic the server subscribes to.
	Topic string `yaml:"topic"`

	// PollInterval controls how often each source is read.
	PollInterval time.Duration `yaml:"poll_interval"`

	// BufferSize is the maximum number of readings held in memory while
	// the broker is unreachable. The oldest reading is evicted first.
	BufferSize int `yaml:"buffer_size"`

	// Sources is the list of sensors to poll.
	Sources []Source `yaml:"sources"`
}

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	ClientIDPrefix string        `yaml:"client_id_prefix"`
	UsernameEnv    string        `yaml:"username_env"`
	PasswordEnv    string        `yaml:"password_env"`
	QoS            int           `yaml:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// Username returns the broker username resolved from the environment.
func (m MQTTConfig) Username() string { return fromEnv(m.UsernameEnv) }

// Password returns the broker password resolved from the environment.
func (m MQTTConfig) Password() string { return fromEnv(m.PasswordEnv) }

// Source describes one air sensor.
type Source struct {
	// ID is a unique, human-readable identifier for this source.
	ID string `yaml:"id"`

	// Type is one of: prometheus | simulated.
	Type string `yaml:"type"`

	// Endpoint is the exporter's metrics URL. Required for prometheus.
	Endpoint string `yaml:"endpoint"`

	// Metrics maps attribute names (temperature, humidity, co2, co, pm25)
	// to exporter metric names. Unset attributes use the default names.
	Metrics map[string]string `yaml:"metrics"`

	// Labels restricts the series read from each metric family.
	Labels map[string]string `yaml:"labels"`

	// Auth configures how the agent authenticates to the exporter.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`

	// Simulation tunes the built-in simulator. Ignored for other types.
	Simulation SimulationConfig `yaml:"simulation"`
}

// AuthConfig specifies the authentication mode for a source.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the HTTP header the API key is sent in.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv holds the bearer token variable name.
	TokenEnv string `yaml:"token_env"`

	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string { return fromEnv(a.KeyEnv) }

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string { return fromEnv(a.TokenEnv) }

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string { return fromEnv(a.PasswordEnv) }

// TLSConfig holds per-source TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// SimulationConfig drives the simulated sensor.
type SimulationConfig struct {
	// Seed makes the sequence reproducible. Zero seeds from the clock.
	Seed int64 `yaml:"seed"`

	// SpikeProbability is the chance per poll that a pollution spike starts.
	SpikeProbability float64 `yaml:"spike_probability"`

	// SpikeLength is the number of polls a spike lasts.
	SpikeLength int `yaml:"spike_length"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts Agent.LogLevel to a slog.Level. Unknown values map to Info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Agent.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			LogLevel:     "info",
			Topic:        DefaultTopic,
			PollInterval: DefaultPollInterval,
			BufferSize:   DefaultBufferSize,
			MQTT: MQTTConfig{
				Broker:         DefaultMQTTBroker,
				ClientIDPrefix: DefaultClientPrefix,
				QoS:            DefaultQoS,
				ConnectTimeout: 10 * time.Second,
				PublishTimeout: 5 * time.Second,
			},
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	switch strings.ToLower(a.LogLevel) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("agent.log_level %q unknown: want debug|info|warn|error", a.LogLevel)
	}
	if a.MQTT.Broker == "" {
		return fmt.Errorf("agent.mqtt.broker is required")
	}
	if a.MQTT.QoS < 0 || a.MQTT.QoS > 2 {
		return fmt.Errorf("agent.mqtt.qos %d is out of range [0, 2]", a.MQTT.QoS)
	}
	if a.Topic == "" {
		return fmt.Errorf("agent.topic is required")
	}
	if strings.ContainsAny(a.Topic, "+#") {
		return fmt.Errorf("agent.topic %q must not contain wildcards", a.Topic)
	}
	if a.PollInterval <= 0 {
		return fmt.Errorf("agent.poll_interval must be positive")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}

	seen := make(map[string]bool, len(a.Sources))
	for i, src := range a.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, src.ID)
		}
		seen[src.ID] = true

		switch src.Type {
		case "prometheus":
			if src.Endpoint == "" {
				return fmt.Errorf("sources[%d] %q: endpoint is required", i, src.ID)
			}
		case "simulated":
			s := src.Simulation
			if s.SpikeProbability < 0 || s.SpikeProbability > 1 {
				return fmt.Errorf("sources[%d] %q: simulation.spike_probability must be in [0, 1]", i, src.ID)
			}
			if s.SpikeLength < 0 {
				return fmt.Errorf("sources[%d] %q: simulation.spike_length must not be negative", i, src.ID)
			}
		default:
			return fmt.Errorf("sources[%d] %q: unknown type %q", i, src.ID, src.Type)
		}
		for attr := range src.Metrics {
			if !knownAttr(attr) {
				return fmt.Errorf("sources[%d] %q: metrics: unknown attribute %q", i, src.ID, attr)
			}
		}
		switch src.Auth.Mode {
		case "mtls", "apikey", "bearer", "basic", "none", "":
		default:
			return fmt.Errorf("sources[%d] %q: unknown auth mode %q", i, src.ID, src.Auth.Mode)
		}
		if src.Auth.Mode == "apikey" && src.Auth.Header == "" {
			return fmt.Errorf("sources[%d] %q: auth.header is required for apikey", i, src.ID)
		}
	}
	return nil
}

func knownAttr(name string) bool {
	switch name {
	case "temperature", "humidity", "co2", "co", "pm25":
		return true
	}
	return false
}

func fromEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
