package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/smarthome-labs/nuki-bridge/internal/state"
)

// DeviceHandler exposes snapshot reads for the sensor layer.
type DeviceHandler struct {
	aggregator *state.Aggregator
}

func NewDeviceHandler(agg *state.Aggregator) *DeviceHandler {
	return &DeviceHandler{aggregator: agg}
}

func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.aggregator.SnapshotAll())
}

func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	st, ok := h.aggregator.Snapshot(deviceID)
	if !ok {
		respondError(w, http.StatusNotFound, "device not found")
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (h *DeviceHandler) Status(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	snap, ok := h.aggregator.Status(deviceID)
	if !ok {
		respondError(w, http.StatusNotFound, "no status received")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"device_id":   snap.DeviceID,
		"state":       json.RawMessage(snap.State),
		"received_at": snap.ReceivedAt,
	})
}
