package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func loadErr(t *testing.T, content string) error {
	t.Helper()
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatalf("expected error for config:\n%s", content)
	}
	return err
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server: {}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
	if cfg.Feed.Source != "mqtt" || cfg.Feed.CommandSink != "mqtt" {
		t.Errorf("feed: got source=%q sink=%q, want mqtt/mqtt", cfg.Feed.Source, cfg.Feed.CommandSink)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("storage.backend: got %q, want memory", cfg.Storage.Backend)
	}
	if cfg.Alerts.Cooldown != 5*time.Minute {
		t.Errorf("alerts.cooldown: got %v, want 5m", cfg.Alerts.Cooldown)
	}
	if cfg.Classifier.URL != DefaultClassifierURL {
		t.Errorf("classifier.url: got %q, want %q", cfg.Classifier.URL, DefaultClassifierURL)
	}
	if cfg.Alerts.Email.RecipientName != "User" {
		t.Errorf("recipient_name: got %q, want User", cfg.Alerts.Email.RecipientName)
	}
	if cfg.MQTT.QoS != 1 {
		t.Errorf("mqtt.qos: got %d, want 1", cfg.MQTT.QoS)
	}
}

func TestLoad_Full(t *testing.T) {
	p := writeConfig(t, `server:
  http_port: 9090
  log_level: debug
  auth:
    mode: apikey
    key_env: AG_KEY
feed:
  source: kafka
  telemetry_topic: sensor/data/23127503
  command_sink: mqtt
  command_topic: device/control/23127503
kafka:
  brokers: ["kafka:9092"]
storage:
  backend: mongo
  mongo:
    uri_env: MONGO_URI
    database: iaqm
classifier:
  type: http
  url: http://ai:5000/predict
  timeout: 3s
  labels:
    Bad: poor
alerts:
  cooldown: 10m
  email:
    host: smtp.example.com
    from: alerts@example.com
    username_env: SMTP_USER
  push:
    type: pushsafer
    key_env: PUSH_KEY
    device: "123"
  webhooks:
    - type: slack
      url_env: SLACK_URL
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("http_port: got %d, want 9090", cfg.Server.HTTPPort)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel: got %v, want debug", cfg.SlogLevel())
	}
	if cfg.Feed.Source != "kafka" || cfg.Kafka.Brokers[0] != "kafka:9092" {
		t.Errorf("feed: got %+v / %+v", cfg.Feed, cfg.Kafka)
	}
	if cfg.Storage.Mongo.Database != "iaqm" {
		t.Errorf("mongo.database: got %q, want iaqm", cfg.Storage.Mongo.Database)
	}
	if cfg.Classifier.Timeout != 3*time.Second {
		t.Errorf("classifier.timeout: got %v, want 3s", cfg.Classifier.Timeout)
	}
	if cfg.Classifier.Labels["Bad"] != "poor" {
		t.Errorf("labels: got %v", cfg.Classifier.Labels)
	}
	if cfg.Alerts.Cooldown != 10*time.Minute {
		t.Errorf("cooldown: got %v, want 10m", cfg.Alerts.Cooldown)
	}
	if cfg.Alerts.Email.Port != DefaultSMTPPort {
		t.Errorf("email.port: got %d, want %d", cfg.Alerts.Email.Port, DefaultSMTPPort)
	}
	if len(cfg.Alerts.Webhooks) != 1 || cfg.Alerts.Webhooks[0].Type != "slack" {
		t.Errorf("webhooks: got %+v", cfg.Alerts.Webhooks)
	}
}

func TestSecretsFromEnv(t *testing.T) {
	t.Setenv("AG_SMTP_USER", "ops@example.com")
	t.Setenv("AG_PUSH_KEY", "secret")
	t.Setenv("AG_MONGO", "mongodb://db:27017")

	email := EmailConfig{UsernameEnv: "AG_SMTP_USER"}
	if got := email.Recipient(); got != "ops@example.com" {
		t.Errorf("Recipient fallback: got %q, want ops@example.com", got)
	}
	email.To = "alerts@example.com"
	if got := email.Recipient(); got != "alerts@example.com" {
		t.Errorf("Recipient: got %q, want alerts@example.com", got)
	}
	if got := (PushConfig{KeyEnv: "AG_PUSH_KEY"}).Key(); got != "secret" {
		t.Errorf("push key: got %q, want secret", got)
	}
	if got := (MongoConfig{URIEnv: "AG_MONGO"}).URI(); got != "mongodb://db:27017" {
		t.Errorf("mongo uri: got %q", got)
	}
	if got := (AuthConfig{}).Key(); got != "" {
		t.Errorf("empty key_env: got %q, want empty", got)
	}
	if got := (AuthConfig{}).EffectiveHeader(); got != "x-api-key" {
		t.Errorf("EffectiveHeader: got %q, want x-api-key", got)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{"bad port", "server:\n  http_port: 70000\n", "http_port"},
		{"bad log level", "server:\n  log_level: loud\n", "log_level"},
		{"bad auth", "server:\n  auth:\n    mode: mtls\n", "auth.mode"},
		{"bad feed", "feed:\n  source: amqp\n", "feed.source"},
		{"kafka without brokers", "feed:\n  source: kafka\n", "kafka.brokers"},
		{"bad qos", "mqtt:\n  qos: 3\n", "mqtt.qos"},
		{"mongo without uri", "storage:\n  backend: mongo\n", "uri_env"},
		{"dynamo without region", "storage:\n  backend: dynamodb\n", "region"},
		{"bad backend", "storage:\n  backend: sqlite\n", "storage.backend"},
		{"sagemaker without endpoint", "classifier:\n  type: sagemaker\n", "endpoint_name"},
		{"bad label", "classifier:\n  labels:\n    Meh: okay\n", "labels"},
		{"zero cooldown", "alerts:\n  cooldown: 0s\n", "cooldown"},
		{"email without from", "alerts:\n  email:\n    host: smtp\n", "from"},
		{"bad push", "alerts:\n  push:\n    type: sms\n", "push.type"},
		{"bad webhook", "alerts:\n  webhooks:\n    - type: pagerduty\n", "webhooks"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := loadErr(t, tt.yaml)
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatch_Reload(t *testing.T) {
	p := writeConfig(t, "server:\n  log_level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, p, func(c *Config) { got <- c })
	}()

	// Let the watcher register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(p, []byte("server:\n  log_level: debug\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	// A write may surface as several events; the truncated intermediate
	// file parses as defaults, so wait for the final content.
	deadline := time.After(3 * time.Second)
	for seen := false; !seen; {
		select {
		case c := <-got:
			seen = c.Server.LogLevel == "debug"
		case <-deadline:
			t.Fatal("no reload with log_level=debug within 3s")
		}
	}

	cancel()
	<-done
}
