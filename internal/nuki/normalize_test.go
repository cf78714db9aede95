package nuki

import (
	"testing"
	"time"

	"github.com/smarthome-labs/nuki-bridge/internal/domain"
)

var testReceivedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNormalize_DeviceLog(t *testing.T) {
	body := []byte(`{
		"feature": "DEVICE_LOGS",
		"smartlockLog": {
			"id": "66b1f0",
			"smartlockId": 17362131,
			"action": 1,
			"trigger": 255,
			"state": 0,
			"source": 1,
			"deviceType": 0,
			"name": "Alice",
			"authId": 42,
			"date": "2026-03-01T11:59:30.000Z"
		}
	}`)

	ev, err := Normalize(body, testReceivedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ev.Category != domain.CategoryDeviceLogs {
		t.Errorf("category = %s, want DEVICE_LOGS", ev.Category)
	}
	if ev.DeviceID != "17362131" {
		t.Errorf("device id = %q, want 17362131", ev.DeviceID)
	}
	if ev.Action != "unlock" {
		t.Errorf("action = %q, want unlock", ev.Action)
	}
	if ev.Trigger != "keypad" {
		t.Errorf("trigger = %q, want keypad", ev.Trigger)
	}
	if ev.Source != "keypad_code" {
		t.Errorf("source = %q, want keypad_code", ev.Source)
	}
	if ev.CompletionState != "success" {
		t.Errorf("completion state = %q, want success", ev.CompletionState)
	}
	if ev.ActorName != "Alice" {
		t.Errorf("actor = %q, want Alice", ev.ActorName)
	}
	if ev.AuthID != "42" {
		t.Errorf("auth id = %q, want 42", ev.AuthID)
	}
	if ev.SequenceID != "66b1f0" {
		t.Errorf("sequence id = %q, want 66b1f0", ev.SequenceID)
	}
	want := time.Date(2026, 3, 1, 11, 59, 30, 0, time.UTC)
	if !ev.OccurredAt.Equal(want) {
		t.Errorf("occurred at = %v, want %v", ev.OccurredAt, want)
	}
}

// The device id must come out the same whether it arrives nested in the
// log object or at the top level.
func TestNormalize_DeviceIDAcrossShapes(t *testing.T) {
	shapes := map[string][]byte{
		"nested":    []byte(`{"smartlockLog": {"smartlockId": 123, "action": 2}}`),
		"top-level": []byte(`{"smartlockId": 123, "smartlockLog": {"action": 2}}`),
		"both":      []byte(`{"smartlockId": 123, "smartlockLog": {"smartlockId": 123, "action": 2}}`),
	}

	for name, body := range shapes {
		ev, err := Normalize(body, testReceivedAt)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if ev.DeviceID != "123" {
			t.Errorf("%s: device id = %q, want 123", name, ev.DeviceID)
		}
		if ev.Category != domain.CategoryDeviceLogs {
			t.Errorf("%s: category = %s, want DEVICE_LOGS", name, ev.Category)
		}
	}
}

// The platform encodes log ids and codes as JSON strings on some
// deliveries. Those must normalize the same as the numeric encoding.
func TestNormalize_StringEncodedIDs(t *testing.T) {
	body := []byte(`{
		"smartlockLog": {
			"id": "66b1f0",
			"smartlockId": "17362131",
			"action": "1",
			"authId": "42"
		}
	}`)

	ev, err := Normalize(body, testReceivedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.SequenceID != "66b1f0" {
		t.Errorf("sequence id = %q, want 66b1f0", ev.SequenceID)
	}
	if ev.DeviceID != "17362131" {
		t.Errorf("device id = %q, want 17362131", ev.DeviceID)
	}
	if ev.Action != "unlock" {
		t.Errorf("action = %q, want unlock", ev.Action)
	}
	if ev.AuthID != "42" {
		t.Errorf("auth id = %q, want 42", ev.AuthID)
	}
}

func TestNormalize_MissingDeviceID(t *testing.T) {
	_, err := Normalize([]byte(`{"feature": "DEVICE_LOGS", "smartlockLog": {"action": 1}}`), testReceivedAt)
	if !IsNormalizationError(err, ReasonMissingDeviceID) {
		t.Errorf("expected missing_device_id error, got %v", err)
	}
}

func TestNormalize_InvalidTimestampRejected(t *testing.T) {
	body := []byte(`{"smartlockId": 1, "smartlockLog": {"action": 1, "date": "not-a-date"}}`)
	_, err := Normalize(body, testReceivedAt)
	if !IsNormalizationError(err, ReasonInvalidTimestamp) {
		t.Errorf("expected invalid_timestamp error, got %v", err)
	}
}

// A log without a date falls back to the receipt time instead of failing;
// only a present-but-unparsable date is rejected.
func TestNormalize_MissingDateUsesReceiptTime(t *testing.T) {
	body := []byte(`{"smartlockId": 1, "smartlockLog": {"action": 1, "trigger": 2}}`)
	ev, err := Normalize(body, testReceivedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ev.OccurredAt.Equal(testReceivedAt) {
		t.Errorf("occurred at = %v, want receipt time %v", ev.OccurredAt, testReceivedAt)
	}
}

func TestNormalize_UnknownActionCode(t *testing.T) {
	body := []byte(`{"smartlockId": 1, "smartlockLog": {"action": 99}}`)
	ev, err := Normalize(body, testReceivedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Action != "unknown(99)" {
		t.Errorf("action = %q, want unknown(99)", ev.Action)
	}
}

func TestNormalize_DeviceStatus(t *testing.T) {
	body := []byte(`{
		"feature": "DEVICE_STATUS",
		"smartlockId": 555,
		"state": {"smartlockId": 555, "batteryCharge": 81, "doorState": 2}
	}`)

	ev, err := Normalize(body, testReceivedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Category != domain.CategoryDeviceStatus {
		t.Errorf("category = %s, want DEVICE_STATUS", ev.Category)
	}
	if ev.DeviceID != "555" {
		t.Errorf("device id = %q, want 555", ev.DeviceID)
	}
	if len(ev.Status) == 0 {
		t.Error("expected raw status block to be captured")
	}
	if ev.Action != "" || ev.ActorName != "" {
		t.Error("status events must not derive action/actor views")
	}
}

func TestNormalize_DeviceAuth(t *testing.T) {
	body := []byte(`{
		"feature": "DEVICE_AUTHS",
		"smartlockId": 7,
		"smartlockAuth": {"authId": 31, "smartlockId": 7, "name": "Cleaner"},
		"deleted": false
	}`)

	ev, err := Normalize(body, testReceivedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Category != domain.CategoryDeviceAuths {
		t.Errorf("category = %s, want DEVICE_AUTHS", ev.Category)
	}
	if ev.AuthID != "31" || ev.ActorName != "Cleaner" {
		t.Errorf("auth = %q/%q, want 31/Cleaner", ev.AuthID, ev.ActorName)
	}
	if ev.AuthDeleted {
		t.Error("deleted should be false")
	}
}

// An unrecognized discriminator still yields a record so downstream can
// decide what to do with it.
func TestNormalize_UnknownFeatureStillProduced(t *testing.T) {
	body := []byte(`{"feature": "DEVICE_CONFIG", "smartlockId": 9}`)
	ev, err := Normalize(body, testReceivedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Category != domain.CategoryUnknown {
		t.Errorf("category = %s, want UNKNOWN", ev.Category)
	}
	if ev.DeviceID != "9" {
		t.Errorf("device id = %q, want 9", ev.DeviceID)
	}
}

func TestNormalize_GarbageBody(t *testing.T) {
	_, err := Normalize([]byte(`not json at all`), testReceivedAt)
	if !IsNormalizationError(err, ReasonUnrecognizedShape) {
		t.Errorf("expected unrecognized_shape error, got %v", err)
	}
}
