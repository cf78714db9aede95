package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smarthome-labs/nuki-bridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// captureWriter records messages instead of talking to a broker.
type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestPublish_KeyedByDeviceID(t *testing.T) {
	cw := &captureWriter{}
	p := &Publisher{writer: cw, logger: testLogger()}

	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := &domain.NormalizedEvent{
		DeviceID:   "17362131",
		Category:   domain.CategoryDeviceLogs,
		OccurredAt: occurred,
	}
	st := &domain.DeviceState{
		DeviceID:        "17362131",
		LastActor:       "Alice",
		LastAction:      "unlock",
		Trigger:         "keypad",
		Source:          "keypad_code",
		CompletionState: "success",
		LastDate:        occurred,
		EventCounter:    3,
	}

	if err := p.Publish(context.Background(), ev, st); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(cw.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(cw.msgs))
	}

	msg := cw.msgs[0]
	if string(msg.Key) != "17362131" {
		t.Errorf("key = %q, want device id 17362131", msg.Key)
	}

	var record lockEvent
	if err := json.Unmarshal(msg.Value, &record); err != nil {
		t.Fatalf("decoding record: %v", err)
	}
	if record.Action != "unlock" || record.Actor != "Alice" {
		t.Errorf("record = %s/%s, want unlock/Alice", record.Action, record.Actor)
	}
	if record.EventCounter != 3 {
		t.Errorf("event counter = %d, want 3", record.EventCounter)
	}
	if !record.OccurredAt.Equal(occurred) {
		t.Errorf("occurred at = %v, want %v", record.OccurredAt, occurred)
	}
}

func TestPublish_WriteFailureSurfaces(t *testing.T) {
	cw := &captureWriter{err: errors.New("broker down")}
	p := &Publisher{writer: cw, logger: testLogger()}

	err := p.Publish(context.Background(), &domain.NormalizedEvent{DeviceID: "1"}, &domain.DeviceState{DeviceID: "1"})
	if err == nil {
		t.Fatal("expected an error when the writer fails")
	}
}
