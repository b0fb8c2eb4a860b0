package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort        = 8080
	DefaultTelemetryTopic  = "sensor/data/airguard"
	DefaultCommandTopic    = "device/control/airguard"
	DefaultBufferSize      = 64
	DefaultMQTTBroker      = "tcp://broker.hivemq.com:1883"
	DefaultClientIDPrefix  = "airguard_"
	DefaultQoS             = 1
	DefaultConnectTimeout  = 10 * time.Second
	DefaultPublishTimeout  = 5 * time.Second
	DefaultStorageTimeout  = 5 * time.Second
	DefaultRetention       = 24 * time.Hour
	DefaultMongoDatabase   = "airguard"
	DefaultTablePrefix     = "airguard_"
	DefaultClassifierURL   = "http://localhost:5000/predict"
	DefaultClassifierTO    = 10 * time.Second
	DefaultBreakerFailures = 5
	DefaultBreakerOpen     = 30 * time.Second
	DefaultCooldown        = 5 * time.Minute
	DefaultSendTimeout     = 30 * time.Second
	DefaultSMTPPort        = 587
	DefaultRecipientName   = "User"
	DefaultPushsaferURL    = "https://www.pushsafer.com/api"
	DefaultPingPeriod      = 54 * time.Second
)

// Config holds the server-side configuration parsed from config.yaml.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Feed       FeedConfig       `yaml:"feed"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Storage    StorageConfig    `yaml:"storage"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Stream     StreamConfig     `yaml:"stream"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// HTTPPort is the port the status API, metrics and event stream listen on.
	HTTPPort int `yaml:"http_port"`

	// LogLevel is one of: debug | info | warn | error. Hot-reloadable.
	LogLevel string `yaml:"log_level"`

	// Auth configures how the status API authenticates callers.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig controls API key authentication on the status API.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from. Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	return fromEnv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// FeedConfig selects where telemetry comes from and where commands go.
type FeedConfig struct {
	// Source is one of: mqtt | kafka.
	Source string `yaml:"source"`

	// TelemetryTopic is the only topic the ingest coordinator processes.
	TelemetryTopic string `yaml:"telemetry_topic"`

	// CommandSink is one of: mqtt | kafka.
	CommandSink string `yaml:"command_sink"`

	// CommandTopic carries indicator and alarm commands.
	CommandTopic string `yaml:"command_topic"`

	// BufferSize is how many undelivered feed messages are held before the
	// oldest is dropped.
	BufferSize int `yaml:"buffer_size"`
}

// MQTTConfig configures the MQTT broker connection.
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

// KafkaConfig configures the Kafka feed and command writer.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is one of: memory | mongo | dynamodb.
	Backend string `yaml:"backend"`

	// Timeout bounds every store call made by the pipeline.
	Timeout time.Duration `yaml:"timeout"`

	// Retention is how long the memory backend keeps readings.
	Retention time.Duration `yaml:"retention"`

	Mongo    MongoConfig    `yaml:"mongo"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
}

// MongoConfig configures the MongoDB backend.
type MongoConfig struct {
	// URIEnv is the name of the environment variable that holds the connection URI.
	URIEnv   string `yaml:"uri_env"`
	Database string `yaml:"database"`
}

// URI returns the connection URI resolved from the environment.
func (m MongoConfig) URI() string { return fromEnv(m.URIEnv) }

// DynamoDBConfig configures the DynamoDB backend.
type DynamoDBConfig struct {
	Region string `yaml:"region"`

	// Endpoint overrides the service endpoint (DynamoDB Local).
	Endpoint string `yaml:"endpoint"`

	// TablePrefix is prepended to readings, device_states, records and leases.
	TablePrefix string `yaml:"table_prefix"`
}

// ClassifierConfig configures the external scoring call-out.
type ClassifierConfig struct {
	// Type is one of: http | sagemaker.
	Type string `yaml:"type"`

	// URL is the HTTP scoring endpoint.
	URL string `yaml:"url"`

	// Timeout bounds a single classification call.
	Timeout time.Duration `yaml:"timeout"`

	// Labels maps the classifier's quality labels to good | moderate | poor.
	// Entries here are added to the built-in labels.
	Labels map[string]string `yaml:"labels"`

	SageMaker SageMakerConfig `yaml:"sagemaker"`
	Breaker   BreakerConfig   `yaml:"breaker"`
}

// SageMakerConfig configures the managed endpoint variant.
type SageMakerConfig struct {
	Region       string `yaml:"region"`
	EndpointName string `yaml:"endpoint_name"`
}

// BreakerConfig configures the circuit breaker in front of the classifier.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// AlertsConfig holds the throttle window and notification channels.
type AlertsConfig struct {
	// Cooldown is the minimum time between two sent alerts.
	Cooldown time.Duration `yaml:"cooldown"`

	// SendTimeout bounds each notification channel call.
	SendTimeout time.Duration `yaml:"send_timeout"`

	Email    EmailConfig     `yaml:"email"`
	Push     PushConfig      `yaml:"push"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// EmailConfig configures the SMTP channel. Email is the channel that decides
// whether an alert counts as sent.
type EmailConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	UsernameEnv   string `yaml:"username_env"`
	PasswordEnv   string `yaml:"password_env"`
	From          string `yaml:"from"`
	To            string `yaml:"to"`
	RecipientName string `yaml:"recipient_name"`
}

// Username returns the SMTP username resolved from the environment.
func (e EmailConfig) Username() string { return fromEnv(e.UsernameEnv) }

// Password returns the SMTP password resolved from the environment.
func (e EmailConfig) Password() string { return fromEnv(e.PasswordEnv) }

// Recipient returns the alert recipient, falling back to the SMTP username.
func (e EmailConfig) Recipient() string {
	if e.To != "" {
		return e.To
	}
	return e.Username()
}

// PushConfig configures the push notification channel.
type PushConfig struct {
	// Type is one of: pushsafer | none.
	Type   string `yaml:"type"`
	KeyEnv string `yaml:"key_env"`
	Device string `yaml:"device"`
	URL    string `yaml:"url"`
}

// Key returns the push service private key resolved from the environment.
func (p PushConfig) Key() string { return fromEnv(p.KeyEnv) }

// WebhookConfig defines one extra webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string { return fromEnv(w.URLEnv) }

// StreamConfig configures the websocket event stream.
type StreamConfig struct {
	PingPeriod time.Duration `yaml:"ping_period"`
}

// Load reads and parses the config file at path.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts Server.LogLevel to a slog.Level. Unknown values map to Info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Server.LogLevel) {
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
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			LogLevel: "info",
		},
		Feed: FeedConfig{
			Source:         "mqtt",
			TelemetryTopic: DefaultTelemetryTopic,
			CommandSink:    "mqtt",
			CommandTopic:   DefaultCommandTopic,
			BufferSize:     DefaultBufferSize,
		},
		MQTT: MQTTConfig{
			Broker:         DefaultMQTTBroker,
			ClientIDPrefix: DefaultClientIDPrefix,
			QoS:            DefaultQoS,
			ConnectTimeout: DefaultConnectTimeout,
			PublishTimeout: DefaultPublishTimeout,
		},
		Kafka: KafkaConfig{
			GroupID: "airguard-server",
		},
		Storage: StorageConfig{
			Backend:   "memory",
			Timeout:   DefaultStorageTimeout,
			Retention: DefaultRetention,
			Mongo:     MongoConfig{Database: DefaultMongoDatabase},
			DynamoDB:  DynamoDBConfig{TablePrefix: DefaultTablePrefix},
		},
		Classifier: ClassifierConfig{
			Type:    "http",
			URL:     DefaultClassifierURL,
			Timeout: DefaultClassifierTO,
			Breaker: BreakerConfig{
				FailureThreshold: DefaultBreakerFailures,
				OpenTimeout:      DefaultBreakerOpen,
			},
		},
		Alerts: AlertsConfig{
			Cooldown:    DefaultCooldown,
			SendTimeout: DefaultSendTimeout,
			Email: EmailConfig{
				Port:          DefaultSMTPPort,
				RecipientName: DefaultRecipientName,
			},
			Push: PushConfig{
				Type: "none",
				URL:  DefaultPushsaferURL,
			},
		},
		Stream: StreamConfig{
			PingPeriod: DefaultPingPeriod,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("server.log_level %q unknown: want debug|info|warn|error", cfg.Server.LogLevel)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}

	if err := validateFeed(cfg); err != nil {
		return err
	}

	switch cfg.Storage.Backend {
	case "memory":
	case "mongo":
		if cfg.Storage.Mongo.URIEnv == "" {
			return fmt.Errorf("storage.mongo.uri_env is required for the mongo backend")
		}
	case "dynamodb":
		if cfg.Storage.DynamoDB.Region == "" {
			return fmt.Errorf("storage.dynamodb.region is required for the dynamodb backend")
		}
	default:
		return fmt.Errorf("storage.backend %q unknown: want memory|mongo|dynamodb", cfg.Storage.Backend)
	}
	if cfg.Storage.Timeout <= 0 {
		return fmt.Errorf("storage.timeout must be positive")
	}
	if cfg.Storage.Retention < 0 {
		return fmt.Errorf("storage.retention must not be negative")
	}

	switch cfg.Classifier.Type {
	case "http":
		if cfg.Classifier.URL == "" {
			return fmt.Errorf("classifier.url is required for the http classifier")
		}
	case "sagemaker":
		if cfg.Classifier.SageMaker.EndpointName == "" {
			return fmt.Errorf("classifier.sagemaker.endpoint_name is required")
		}
	default:
		return fmt.Errorf("classifier.type %q unknown: want http|sagemaker", cfg.Classifier.Type)
	}
	if cfg.Classifier.Timeout <= 0 {
		return fmt.Errorf("classifier.timeout must be positive")
	}
	for label, cat := range cfg.Classifier.Labels {
		switch cat {
		case "good", "moderate", "poor":
		default:
			return fmt.Errorf("classifier.labels[%q] = %q: want good|moderate|poor", label, cat)
		}
	}
	if cfg.Classifier.Breaker.FailureThreshold < 0 {
		return fmt.Errorf("classifier.breaker.failure_threshold must not be negative")
	}

	if cfg.Alerts.Cooldown <= 0 {
		return fmt.Errorf("alerts.cooldown must be positive")
	}
	if cfg.Alerts.SendTimeout <= 0 {
		return fmt.Errorf("alerts.send_timeout must be positive")
	}
	if cfg.Alerts.Email.Host != "" && cfg.Alerts.Email.From == "" {
		return fmt.Errorf("alerts.email.from is required when alerts.email.host is set")
	}
	switch cfg.Alerts.Push.Type {
	case "pushsafer", "none", "":
	default:
		return fmt.Errorf("alerts.push.type %q unknown: want pushsafer|none", cfg.Alerts.Push.Type)
	}
	for i, wh := range cfg.Alerts.Webhooks {
		switch wh.Type {
		case "teams", "slack", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d]: unknown type %q", i, wh.Type)
		}
	}
	return nil
}

func validateFeed(cfg *Config) error {
	for _, kind := range []struct{ key, val string }{
		{"feed.source", cfg.Feed.Source},
		{"feed.command_sink", cfg.Feed.CommandSink},
	} {
		switch kind.val {
		case "mqtt":
		case "kafka":
			if len(cfg.Kafka.Brokers) == 0 {
				return fmt.Errorf("%s is kafka but kafka.brokers is empty", kind.key)
			}
		default:
			return fmt.Errorf("%s %q unknown: want mqtt|kafka", kind.key, kind.val)
		}
	}
	if cfg.Feed.TelemetryTopic == "" {
		return fmt.Errorf("feed.telemetry_topic is required")
	}
	if cfg.Feed.CommandTopic == "" {
		return fmt.Errorf("feed.command_topic is required")
	}
	if cfg.Feed.BufferSize <= 0 {
		return fmt.Errorf("feed.buffer_size must be positive")
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos %d is out of range [0, 2]", cfg.MQTT.QoS)
	}
	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	return nil
}

func fromEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
