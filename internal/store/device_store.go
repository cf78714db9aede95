package store

import (
	"context"
	"fmt"

	"github.com/smarthome-labs/nuki-bridge/internal/domain"
)

// UpsertDeviceState writes the current per-device snapshot. Only the
// latest view is kept; there is no event history table.
func (s *PostgresStore) UpsertDeviceState(ctx context.Context, st *domain.DeviceState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO device_states (
			device_id, last_actor, last_action, trigger_label, source_label,
			device_type, completion_state, last_date, event_counter, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (device_id) DO UPDATE SET
			last_actor = EXCLUDED.last_actor,
			last_action = EXCLUDED.last_action,
			trigger_label = EXCLUDED.trigger_label,
			source_label = EXCLUDED.source_label,
			device_type = EXCLUDED.device_type,
			completion_state = EXCLUDED.completion_state,
			last_date = EXCLUDED.last_date,
			event_counter = EXCLUDED.event_counter,
			updated_at = NOW()
	`, st.DeviceID, st.LastActor, st.LastAction, st.Trigger, st.Source,
		st.DeviceType, st.CompletionState, st.LastDate, st.EventCounter)
	if err != nil {
		return fmt.Errorf("upserting device state: %w", err)
	}
	return nil
}

// ListDeviceStates loads every persisted snapshot, used to seed the
// aggregator at startup so ordering survives restarts.
func (s *PostgresStore) ListDeviceStates(ctx context.Context) ([]domain.DeviceState, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT device_id, last_actor, last_action, trigger_label, source_label,
		       device_type, completion_state, last_date, event_counter, updated_at
		FROM device_states
	`)
	if err != nil {
		return nil, fmt.Errorf("querying device states: %w", err)
	}
	defer rows.Close()

	var states []domain.DeviceState
	for rows.Next() {
		var st domain.DeviceState
		if err := rows.Scan(
			&st.DeviceID, &st.LastActor, &st.LastAction, &st.Trigger, &st.Source,
			&st.DeviceType, &st.CompletionState, &st.LastDate, &st.EventCounter, &st.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning device state: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device states: %w", err)
	}
	return states, nil
}
