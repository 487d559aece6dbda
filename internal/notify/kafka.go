// Package notify publishes view and command events to kafka so other processes can
// react to a party's state changes.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/datnetwork/datmind/pkg/config"
	"github.com/datnetwork/datmind/pkg/logging"
)

// Event kinds
const (
	KindViews   = "views"
	KindCommand = "command"
)

// Event is one notification. Messages are keyed by party so a party's events stay
// ordered within a partition.
type Event struct {
	Kind      string    `json:"kind"`
	Party     string    `json:"party"`
	Version   uint64    `json:"version,omitempty"`
	Action    string    `json:"action,omitempty"`
	CommandID string    `json:"commandId,omitempty"`
	OK        bool      `json:"ok,omitempty"`
	At        time.Time `json:"at"`
}

// ViewsChanged announces a newly published views version
func ViewsChanged(party string, version uint64) Event {
	return Event{Kind: KindViews, Party: party, Version: version, At: time.Now().UTC()}
}

// CommandCompleted announces the ledger's verdict on a command
func CommandCompleted(party, action, commandID string, ok bool) Event {
	return Event{Kind: KindCommand, Party: party, Action: action, CommandID: commandID, OK: ok, At: time.Now().UTC()}
}

// Notifier delivers events
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// KafkaWriter is the part of kafka.Writer the publisher needs
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes events to a kafka topic
type Publisher struct {
	writer KafkaWriter
	logger *zap.Logger
}

// New creates a publisher for cfg. It returns a Nop notifier when kafka is disabled.
func New(cfg *config.KafkaConfig) Notifier {
	if !cfg.Enabled {
		logging.GetLogger().Info("Kafka notifier disabled")
		return Nop{}
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: writeTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}

	logging.GetLogger().Info("Kafka notifier initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic))
	return NewPublisher(w)
}

// NewPublisher wraps an existing writer
func NewPublisher(w KafkaWriter) *Publisher {
	return &Publisher{writer: w, logger: logging.WithComponent("notify")}
}

// Notify encodes ev and writes it keyed by party
func (p *Publisher) Notify(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.Party),
		Value: value,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write %s event: %w", ev.Kind, err)
	}
	return nil
}

// Close flushes and closes the writer
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Nop drops every event
type Nop struct{}

// Notify implements Notifier
func (Nop) Notify(context.Context, Event) error { return nil }
