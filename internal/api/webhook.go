package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/smarthome-labs/nuki-bridge/internal/domain"
	"github.com/smarthome-labs/nuki-bridge/internal/nuki"
	"github.com/smarthome-labs/nuki-bridge/internal/state"
)

// SignatureHeader carries the upstream HMAC-SHA256 hex digest of the raw
// body.
const SignatureHeader = "X-Nuki-Signature-SHA256"

const maxBodySize = 1 << 20

// Diagnostics receives the side records that are not part of the public
// device state. The redis store implements it.
type Diagnostics interface {
	SetStatus(ctx context.Context, deviceID string, raw []byte) error
	TouchLastSeen(ctx context.Context, deviceID string, at time.Time) error
}

// WebhookHandler accepts deliveries from the upstream platform and feeds
// them through the normalizer into the aggregator.
type WebhookHandler struct {
	webhookID  string
	secret     string
	aggregator *state.Aggregator
	diag       Diagnostics
	logger     *slog.Logger
}

func NewWebhookHandler(webhookID, secret string, agg *state.Aggregator, diag Diagnostics, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhookID:  webhookID,
		secret:     secret,
		aggregator: agg,
		diag:       diag,
		logger:     logger,
	}
}

// Receive handles one webhook delivery. Malformed payloads and stale
// events answer 200: the upstream retries on non-2xx and a redelivery
// cannot make a bad body good.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "webhookID") != h.webhookID {
		h.logger.Debug("delivery for unknown webhook id")
		respondError(w, http.StatusNotFound, "unknown webhook")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if !h.verifySignature(r.Header.Get(SignatureHeader), body) {
		h.logger.Warn("invalid webhook signature")
		respondError(w, http.StatusUnauthorized, "bad signature")
		return
	}

	ev, err := nuki.Normalize(body, time.Now().UTC())
	if err != nil {
		var ne *nuki.NormalizationError
		if errors.As(err, &ne) && ne.Reason == nuki.ReasonUnrecognizedShape {
			respondError(w, http.StatusBadRequest, "bad json")
			return
		}
		// Droppable event: log and acknowledge so upstream does not
		// redeliver something we can never use.
		h.logger.Warn("dropping delivery", "error", err)
		respondJSON(w, http.StatusOK, map[string]string{"status": "dropped"})
		return
	}

	h.apply(r.Context(), ev)
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WebhookHandler) apply(ctx context.Context, ev *domain.NormalizedEvent) {
	st, err := h.aggregator.Apply(ev)
	switch {
	case errors.Is(err, state.ErrStale):
		// Expected under redelivery; already logged by the aggregator.
		return
	case err != nil:
		h.logger.Error("failed to apply event", "device_id", ev.DeviceID, "error", err)
		return
	}

	if st != nil {
		h.logger.Info("lock event accepted",
			"device_id", st.DeviceID,
			"action", st.LastAction,
			"actor", st.LastActor,
			"event_counter", st.EventCounter,
		)
	}

	if h.diag == nil {
		return
	}
	switch ev.Category {
	case domain.CategoryDeviceStatus:
		if err := h.diag.SetStatus(ctx, ev.DeviceID, ev.Status); err != nil {
			h.logger.Error("failed to store device status", "device_id", ev.DeviceID, "error", err)
		}
	case domain.CategoryUnknown:
		if err := h.diag.TouchLastSeen(ctx, ev.DeviceID, ev.OccurredAt); err != nil {
			h.logger.Error("failed to record last seen", "device_id", ev.DeviceID, "error", err)
		}
	}
}

func (h *WebhookHandler) verifySignature(signature string, body []byte) bool {
	if h.secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}
