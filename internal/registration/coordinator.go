package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/smarthome-labs/nuki-bridge/internal/domain"
	"github.com/smarthome-labs/nuki-bridge/internal/nukiapi"
)

// RegistrationReason classifies reconciliation failures.
type RegistrationReason string

const (
	// ReasonTransient means the retry budget ran out on retriable
	// failures (network errors, upstream 5xx); trying again later may
	// succeed.
	ReasonTransient RegistrationReason = "transient"
	// ReasonPersistent means upstream rejected the request outright;
	// operator attention is required.
	ReasonPersistent RegistrationReason = "persistent"
)

// RegistrationError is surfaced to setup when the webhook could not be
// reconciled. The caller decides whether setup fails.
type RegistrationError struct {
	Reason RegistrationReason
	Err    error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("webhook registration %s: %v", e.Reason, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// ErrAlreadyRunning is returned when a reconciliation is already in
// flight; reconciliation is setup-frequency work and never needs to queue.
var ErrAlreadyRunning = errors.New("registration already in progress")

// API is the slice of the upstream client the coordinator needs.
type API interface {
	ListWebhooks(ctx context.Context) ([]nukiapi.Webhook, error)
	CreateWebhook(ctx context.Context, targetURL string, eventTypes []string) (*nukiapi.Webhook, error)
	UpdateWebhook(ctx context.Context, id, targetURL string, eventTypes []string) error
	DeleteWebhook(ctx context.Context, id string) error
}

// Store persists the last known good registration snapshot. May be nil.
type Store interface {
	SaveRegistration(ctx context.Context, reg *domain.WebhookRegistration) error
}

// Coordinator ensures exactly one correctly-configured webhook exists
// upstream. Reconciliation is idempotent: repeated invocations with the
// same desired configuration never accumulate duplicates.
type Coordinator struct {
	api    API
	store  Store
	logger *slog.Logger

	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsed      time.Duration
	inflight        atomic.Bool

	// onFailure surfaces a persistent registration failure to the
	// config/UI layer.
	onFailure func(err error)
}

func NewCoordinator(api API, store Store, onFailure func(error), logger *slog.Logger) *Coordinator {
	return &Coordinator{
		api:             api,
		store:           store,
		logger:          logger,
		initialInterval: 500 * time.Millisecond,
		maxInterval:     10 * time.Second,
		maxElapsed:      30 * time.Second,
		onFailure:       onFailure,
	}
}

// EnsureRegistered reconciles the desired webhook configuration against
// upstream: matching URL with equal event types is a no-op, differing
// event types trigger an update, no match creates the webhook. Transient
// upstream failures are retried with capped exponential backoff.
func (c *Coordinator) EnsureRegistered(ctx context.Context, desired domain.WebhookRegistration) (*domain.WebhookRegistration, error) {
	if !c.inflight.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer c.inflight.Store(false)

	var result *domain.WebhookRegistration

	operation := func() error {
		reg, err := c.reconcile(ctx, desired)
		if err != nil {
			if isTransient(err) {
				c.logger.Warn("webhook reconciliation failed, retrying", "error", err)
				return err
			}
			return backoff.Permanent(err)
		}
		result = reg
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialInterval
	policy.MaxInterval = c.maxInterval
	policy.MaxElapsedTime = c.maxElapsed

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		reason := ReasonPersistent
		if isTransient(err) {
			// The retry budget ran out on transient failures; the caller
			// may try again later (e.g. check external reachability).
			reason = ReasonTransient
		}
		regErr := &RegistrationError{Reason: reason, Err: err}
		if c.onFailure != nil {
			c.onFailure(regErr)
		}
		return nil, regErr
	}

	if c.store != nil {
		if err := c.store.SaveRegistration(ctx, result); err != nil {
			c.logger.Error("failed to persist registration snapshot", "error", err)
		}
	}
	return result, nil
}

// Unregister removes the webhook upstream, used on teardown.
func (c *Coordinator) Unregister(ctx context.Context, webhookID string) error {
	if err := c.api.DeleteWebhook(ctx, webhookID); err != nil {
		var se *nukiapi.StatusError
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			return nil
		}
		return err
	}
	return nil
}

func (c *Coordinator) reconcile(ctx context.Context, desired domain.WebhookRegistration) (*domain.WebhookRegistration, error) {
	hooks, err := c.api.ListWebhooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}

	for _, hook := range hooks {
		if hook.URL != desired.TargetURL {
			continue
		}
		if equalEventTypes(hook.EventTypes, desired.EventTypes) {
			c.logger.Info("webhook already registered", "webhook_id", hook.ID.String())
			return snapshot(hook.ID.String(), desired), nil
		}
		if err := c.api.UpdateWebhook(ctx, hook.ID.String(), desired.TargetURL, desired.EventTypes); err != nil {
			return nil, fmt.Errorf("updating webhook: %w", err)
		}
		c.logger.Info("webhook event types updated", "webhook_id", hook.ID.String())
		return snapshot(hook.ID.String(), desired), nil
	}

	created, err := c.api.CreateWebhook(ctx, desired.TargetURL, desired.EventTypes)
	if err != nil {
		// A concurrent or stale create may conflict; the existing hook is
		// authoritative, adopt it.
		var se *nukiapi.StatusError
		if errors.As(err, &se) && se.Status == http.StatusConflict {
			hooks, lerr := c.api.ListWebhooks(ctx)
			if lerr != nil {
				return nil, fmt.Errorf("re-listing after conflict: %w", lerr)
			}
			for _, hook := range hooks {
				if hook.URL == desired.TargetURL {
					c.logger.Info("adopted existing webhook after conflict", "webhook_id", hook.ID.String())
					return snapshot(hook.ID.String(), desired), nil
				}
			}
		}
		return nil, fmt.Errorf("creating webhook: %w", err)
	}

	c.logger.Info("webhook registered", "webhook_id", created.ID.String(), "target_url", desired.TargetURL)
	return snapshot(created.ID.String(), desired), nil
}

func snapshot(id string, desired domain.WebhookRegistration) *domain.WebhookRegistration {
	return &domain.WebhookRegistration{
		WebhookID:  id,
		TargetURL:  desired.TargetURL,
		EventTypes: desired.EventTypes,
		UpdatedAt:  time.Now().UTC(),
	}
}

// isTransient reports whether an upstream failure is worth retrying:
// network errors and 5xx responses are, 4xx responses are not.
func isTransient(err error) bool {
	var se *nukiapi.StatusError
	if errors.As(err, &se) {
		return se.Status >= 500
	}
	// Backoff may hand back the permanent-wrapped error.
	var pe *backoff.PermanentError
	if errors.As(err, &pe) {
		return false
	}
	return true
}

func equalEventTypes(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
