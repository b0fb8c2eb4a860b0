package broker

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrNotConnected is returned by Publish when the link to the broker is down.
var ErrNotConnected = errors.New("broker: not connected")

// Message is one delivery from a telemetry feed.
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// inbox is a bounded FIFO between a transport's delivery goroutine and the
// single consumer. When full, the oldest message is dropped so the consumer
// always sees the freshest readings.
type inbox struct {
	ch      chan Message
	dropped atomic.Uint64
}

func newInbox(size int) *inbox {
	if size <= 0 {
		size = 1
	}
	return &inbox{ch: make(chan Message, size)}
}

func (in *inbox) push(msg Message) {
	for {
		select {
		case in.ch <- msg:
			return
		default:
		}
		select {
		case old := <-in.ch:
			in.dropped.Add(1)
			slog.Warn("broker: inbox full, dropped oldest message",
				"topic", old.Topic, "capacity", cap(in.ch))
		default:
		}
	}
}

// Dropped returns how many messages were evicted because the consumer lagged.
func (in *inbox) Dropped() uint64 {
	return in.dropped.Load()
}
