package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smarthome-labs/nuki-bridge/internal/domain"
)

// lockEvent is the record published for every accepted lock event, keyed
// by device id so per-device ordering is preserved within a partition.
type lockEvent struct {
	DeviceID        string    `json:"device_id"`
	Action          string    `json:"action"`
	Trigger         string    `json:"trigger"`
	Source          string    `json:"source"`
	CompletionState string    `json:"completion_state"`
	Actor           string    `json:"actor"`
	OccurredAt      time.Time `json:"occurred_at"`
	EventCounter    int64     `json:"event_counter"`
}

// messageWriter is the slice of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher emits accepted lock events to a Kafka topic for downstream
// consumers (automations, audit pipelines).
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
}

func NewPublisher(brokers, topic string, logger *slog.Logger) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(brokers, ",")...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Publish writes one accepted event to the topic.
func (p *Publisher) Publish(ctx context.Context, ev *domain.NormalizedEvent, st *domain.DeviceState) error {
	record := lockEvent{
		DeviceID:        st.DeviceID,
		Action:          st.LastAction,
		Trigger:         st.Trigger,
		Source:          st.Source,
		CompletionState: st.CompletionState,
		Actor:           st.LastActor,
		OccurredAt:      ev.OccurredAt,
		EventCounter:    st.EventCounter,
	}

	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshalling lock event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(st.DeviceID),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("publishing lock event: %w", err)
	}

	p.logger.Debug("lock event published",
		"device_id", st.DeviceID,
		"action", st.LastAction,
		"event_counter", st.EventCounter,
	)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
