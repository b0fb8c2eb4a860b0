package broker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/airguard/airguard/pkg/backoff"
)

// MQTTOptions configures an MQTT link.
type MQTTOptions struct {
	Broker         string
	ClientIDPrefix string
	Username       string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	BufferSize     int
}

// MQTT is both a telemetry feed and a command publisher over one paho client.
// Subscriptions are re-established on every (re)connect because sessions are
// clean.
type MQTT struct {
	opts   MQTTOptions
	client mqtt.Client
	inbox  *inbox

	mu     sync.Mutex
	topics []string
}

// NewMQTT builds the client but does not connect.
func NewMQTT(opts MQTTOptions) *MQTT {
	m := &MQTT{opts: opts, inbox: newInbox(opts.BufferSize)}

	co := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(clientID(opts.ClientIDPrefix)).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Second).
		SetConnectTimeout(opts.ConnectTimeout).
		SetOrderMatters(true).
		SetOnConnectHandler(m.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			slog.Warn("broker: mqtt connection lost", "broker", opts.Broker, "err", err)
		})
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	m.client = mqtt.NewClient(co)
	return m
}

// clientID returns prefix followed by 8 random hex characters.
func clientID(prefix string) string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s%x", prefix, time.Now().UnixNano())
	}
	return prefix + hex.EncodeToString(b)
}

// Connect dials the broker, retrying with backoff until it succeeds or ctx
// is cancelled. After the first success paho reconnects on its own.
func (m *MQTT) Connect(ctx context.Context) error {
	bo := backoff.New(time.Second, 30*time.Second)
	for {
		tok := m.client.Connect()
		err := waitToken(ctx, tok, m.opts.ConnectTimeout)
		if err == nil {
			slog.Info("broker: mqtt connected", "broker", m.opts.Broker)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := bo.Next()
		slog.Error("broker: mqtt connect failed, will retry",
			"broker", m.opts.Broker, "err", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Subscribe registers topic. Deliveries land on Messages.
func (m *MQTT) Subscribe(topic string) error {
	m.mu.Lock()
	m.topics = append(m.topics, topic)
	m.mu.Unlock()

	if !m.client.IsConnectionOpen() {
		return nil // onConnect subscribes
	}
	return m.subscribe(topic)
}

func (m *MQTT) subscribe(topic string) error {
	tok := m.client.Subscribe(topic, m.opts.QoS, m.handle)
	if err := waitToken(context.Background(), tok, m.opts.ConnectTimeout); err != nil {
		return fmt.Errorf("broker: subscribe %q: %w", topic, err)
	}
	slog.Info("broker: subscribed", "topic", topic, "qos", m.opts.QoS)
	return nil
}

func (m *MQTT) onConnect(mqtt.Client) {
	m.mu.Lock()
	topics := append([]string(nil), m.topics...)
	m.mu.Unlock()
	for _, t := range topics {
		// Called from paho's connect goroutine; subscribe asynchronously so
		// the handler returns promptly.
		go func(t string) {
			if err := m.subscribe(t); err != nil {
				slog.Error("broker: resubscribe failed", "topic", t, "err", err)
			}
		}(t)
	}
}

func (m *MQTT) handle(_ mqtt.Client, msg mqtt.Message) {
	m.inbox.push(Message{
		Topic:      msg.Topic(),
		Payload:    append([]byte(nil), msg.Payload()...),
		ReceivedAt: time.Now(),
	})
}

// Messages returns the delivery channel. It is never closed.
func (m *MQTT) Messages() <-chan Message {
	return m.inbox.ch
}

// Dropped returns how many deliveries were evicted from the inbox.
func (m *MQTT) Dropped() uint64 {
	return m.inbox.Dropped()
}

// Connected reports whether the link is currently up.
func (m *MQTT) Connected() bool {
	return m.client.IsConnectionOpen()
}

// Publish sends payload on topic and waits for the broker acknowledgement
// (QoS 1/2) or the write (QoS 0), bounded by the publish timeout.
func (m *MQTT) Publish(ctx context.Context, topic string, payload []byte) error {
	if !m.Connected() {
		return ErrNotConnected
	}
	tok := m.client.Publish(topic, m.opts.QoS, false, payload)
	if err := waitToken(ctx, tok, m.opts.PublishTimeout); err != nil {
		return fmt.Errorf("broker: publish %q: %w", topic, err)
	}
	return nil
}

// Close disconnects, allowing 250ms for in-flight work.
func (m *MQTT) Close() {
	m.client.Disconnect(250)
}

// waitToken blocks until tok completes, ctx ends, or timeout elapses.
func waitToken(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
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
