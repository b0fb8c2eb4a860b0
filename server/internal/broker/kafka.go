package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/airguard/airguard/pkg/backoff"
)

// messageReader is the subset of *kafka.Reader used by KafkaFeed.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaFeed consumes telemetry from a Kafka topic as part of a consumer group.
type KafkaFeed struct {
	reader messageReader
	inbox  *inbox
	topic  string
}

// NewKafkaFeed creates a group reader on topic.
func NewKafkaFeed(brokers []string, groupID, topic string, bufferSize int) *KafkaFeed {
	return &KafkaFeed{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			GroupID:  groupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  500 * time.Millisecond,
		}),
		inbox: newInbox(bufferSize),
		topic: topic,
	}
}

// Run reads until ctx is cancelled, backing off on read errors.
func (k *KafkaFeed) Run(ctx context.Context) {
	bo := backoff.New(time.Second, 30*time.Second)
	for {
		msg, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			wait := bo.Next()
			slog.Error("broker: kafka read failed, will retry",
				"topic", k.topic, "err", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		k.inbox.push(Message{Topic: msg.Topic, Payload: msg.Value, ReceivedAt: time.Now()})
	}
}

// Messages returns the delivery channel. It is never closed.
func (k *KafkaFeed) Messages() <-chan Message {
	return k.inbox.ch
}

// Dropped returns how many deliveries were evicted from the inbox.
func (k *KafkaFeed) Dropped() uint64 {
	return k.inbox.Dropped()
}

// Close closes the reader and leaves the group.
func (k *KafkaFeed) Close() error {
	return k.reader.Close()
}

// messageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes commands to Kafka. The topic is chosen per message.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

// NewKafkaPublisher creates a writer that waits for all in-sync replicas.
func NewKafkaPublisher(brokers []string, timeout time.Duration) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		timeout: timeout,
	}
}

// Publish writes payload to topic, keyed by topic so commands for one device
// stay ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(topic),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("broker: kafka publish %q: %w", topic, err)
	}
	return nil
}

// Connected is always true: the writer dials per batch and reports failures
// from Publish.
func (p *KafkaPublisher) Connected() bool { return true }

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
