package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/smarthome-labs/nuki-bridge/internal/domain"
)

// SaveToken upserts the singleton credential row.
func (s *PostgresStore) SaveToken(ctx context.Context, token *domain.OAuthToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO oauth_tokens (id, access_token, refresh_token, expires_at, scope, updated_at)
		VALUES (1, $1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			scope = EXCLUDED.scope,
			updated_at = NOW()
	`, token.AccessToken, token.RefreshToken, token.ExpiresAt, token.Scope)
	if err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	return nil
}

// LoadToken returns the persisted credential, or nil if none exists.
func (s *PostgresStore) LoadToken(ctx context.Context) (*domain.OAuthToken, error) {
	var token domain.OAuthToken
	err := s.pool.QueryRow(ctx, `
		SELECT access_token, refresh_token, expires_at, scope
		FROM oauth_tokens WHERE id = 1
	`).Scan(&token.AccessToken, &token.RefreshToken, &token.ExpiresAt, &token.Scope)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("loading token: %w", err)
	}
	return &token, nil
}

// DeleteToken clears the persisted credential after a refresh failure.
func (s *PostgresStore) DeleteToken(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM oauth_tokens WHERE id = 1`); err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}
	return nil
}

// SaveRegistration upserts the last known good webhook registration.
func (s *PostgresStore) SaveRegistration(ctx context.Context, reg *domain.WebhookRegistration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_registrations (id, webhook_id, target_url, event_types, updated_at)
		VALUES (1, $1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			webhook_id = EXCLUDED.webhook_id,
			target_url = EXCLUDED.target_url,
			event_types = EXCLUDED.event_types,
			updated_at = NOW()
	`, reg.WebhookID, reg.TargetURL, reg.EventTypes)
	if err != nil {
		return fmt.Errorf("saving registration: %w", err)
	}
	return nil
}

// LoadRegistration returns the cached registration snapshot, or nil if the
// webhook was never registered.
func (s *PostgresStore) LoadRegistration(ctx context.Context) (*domain.WebhookRegistration, error) {
	var reg domain.WebhookRegistration
	err := s.pool.QueryRow(ctx, `
		SELECT webhook_id, target_url, event_types, updated_at
		FROM webhook_registrations WHERE id = 1
	`).Scan(&reg.WebhookID, &reg.TargetURL, &reg.EventTypes, &reg.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("loading registration: %w", err)
	}
	return &reg, nil
}
