package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smarthome-labs/nuki-bridge/internal/domain"
)

// RedisStore keeps the live per-device snapshots that the sensor layer
// reads, plus low-value diagnostics that do not belong in the public
// device state.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func deviceKey(deviceID string) string {
	return fmt.Sprintf("device:%s", deviceID)
}

func statusKey(deviceID string) string {
	return fmt.Sprintf("device:%s:status", deviceID)
}

func lastSeenKey(deviceID string) string {
	return fmt.Sprintf("diag:last_seen:%s", deviceID)
}

// SetDeviceSnapshot publishes the current state hash for one device.
func (s *RedisStore) SetDeviceSnapshot(ctx context.Context, st *domain.DeviceState) error {
	err := s.client.HSet(ctx, deviceKey(st.DeviceID),
		"last_actor", st.LastActor,
		"last_action", st.LastAction,
		"trigger", st.Trigger,
		"source", st.Source,
		"device_type", st.DeviceType,
		"completion_state", st.CompletionState,
		"last_date", st.LastDate.Format(time.RFC3339Nano),
		"event_counter", st.EventCounter,
	).Err()
	if err != nil {
		return fmt.Errorf("writing device snapshot: %w", err)
	}
	return nil
}

// GetDeviceSnapshot reads the published state hash for one device.
// Returns nil when no snapshot exists.
func (s *RedisStore) GetDeviceSnapshot(ctx context.Context, deviceID string) (*domain.DeviceState, error) {
	data, err := s.client.HGetAll(ctx, deviceKey(deviceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading device snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	st := &domain.DeviceState{
		DeviceID:        deviceID,
		LastActor:       data["last_actor"],
		LastAction:      data["last_action"],
		Trigger:         data["trigger"],
		Source:          data["source"],
		DeviceType:      data["device_type"],
		CompletionState: data["completion_state"],
	}
	if ts, err := time.Parse(time.RFC3339Nano, data["last_date"]); err == nil {
		st.LastDate = ts
	}
	if n, err := strconv.ParseInt(data["event_counter"], 10, 64); err == nil {
		st.EventCounter = n
	}
	return st, nil
}

// SetStatus stores the raw DEVICE_STATUS block for a device.
func (s *RedisStore) SetStatus(ctx context.Context, deviceID string, raw []byte) error {
	if err := s.client.Set(ctx, statusKey(deviceID), raw, 0).Err(); err != nil {
		return fmt.Errorf("writing device status: %w", err)
	}
	return nil
}

// GetStatus reads the raw DEVICE_STATUS block, or nil if none stored.
func (s *RedisStore) GetStatus(ctx context.Context, deviceID string) ([]byte, error) {
	data, err := s.client.Get(ctx, statusKey(deviceID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("reading device status: %w", err)
	}
	return data, nil
}

// TouchLastSeen records when any delivery for a device was last observed,
// including ones that update no public state.
func (s *RedisStore) TouchLastSeen(ctx context.Context, deviceID string, at time.Time) error {
	if err := s.client.Set(ctx, lastSeenKey(deviceID), at.Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("writing last seen: %w", err)
	}
	return nil
}
