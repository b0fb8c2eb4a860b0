package shipper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/airguard/airguard/agent/internal/config"
)

// mqttPublisher is one paho session. Auto-reconnect is off: a lost session
// fails the next publish and Run dials a fresh one, so there is a single
// reconnect loop.
type mqttPublisher struct {
	client mqtt.Client
	qos    byte
}

// dialMQTT connects to the configured broker.
func dialMQTT(ctx context.Context, cfg config.AgentConfig) (Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.Broker).
		SetClientID(clientID(cfg.MQTT.ClientIDPrefix)).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(cfg.MQTT.ConnectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			slog.Warn("shipper: mqtt connection lost", "broker", cfg.MQTT.Broker, "err", err)
		})
	if u := cfg.MQTT.Username(); u != "" {
		opts.SetUsername(u)
		opts.SetPassword(cfg.MQTT.Password())
	}

	client := mqtt.NewClient(opts)
	if err := wait(ctx, client.Connect(), cfg.MQTT.ConnectTimeout); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.MQTT.Broker, err)
	}
	return &mqttPublisher{client: client, qos: byte(cfg.MQTT.QoS)}, nil
}

func (p *mqttPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		return mqtt.ErrNotConnected
	}
	return wait(ctx, p.client.Publish(topic, p.qos, false, payload), 0)
}

func (p *mqttPublisher) Close() {
	p.client.Disconnect(250)
}

// clientID appends a short random suffix so several agents can share a prefix.
func clientID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// wait blocks until tok completes, ctx ends or timeout elapses (zero means
// no timeout of its own).
func wait(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return fmt.Errorf("timed out after %v", timeout)
	}
}
