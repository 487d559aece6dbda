package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/segmentio/kafka-go"
)

// MockWriter records written messages in memory
type MockWriter struct {
	mu         sync.Mutex
	Messages   []kafka.Message
	ShouldFail bool
}

// WriteMessages implements KafkaWriter
func (m *MockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return errors.New("mock kafka write failed")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

// Close is a no-op
func (m *MockWriter) Close() error { return nil }

// Events decodes every recorded message
func (m *MockWriter) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Event, 0, len(m.Messages))
	for _, msg := range m.Messages {
		var ev Event
		if err := json.Unmarshal(msg.Value, &ev); err == nil {
			out = append(out, ev)
		}
	}
	return out
}
