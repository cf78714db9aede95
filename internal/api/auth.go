package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// Exchanger trades an authorization code for a token. The session manager
// implements it.
type Exchanger interface {
	Exchange(ctx context.Context, code, redirectURI string) error
}

// AuthHandler receives the authorization-code grant from the config flow.
type AuthHandler struct {
	session      Exchanger
	onAuthorized func()
	logger       *slog.Logger
}

// NewAuthHandler creates the handler. onAuthorized runs after a
// successful exchange (webhook registration, actor-map seeding); may be
// nil.
func NewAuthHandler(session Exchanger, onAuthorized func(), logger *slog.Logger) *AuthHandler {
	return &AuthHandler{session: session, onAuthorized: onAuthorized, logger: logger}
}

type exchangeRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

func (h *AuthHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		respondError(w, http.StatusBadRequest, "code is required")
		return
	}

	if err := h.session.Exchange(r.Context(), req.Code, req.RedirectURI); err != nil {
		h.logger.Error("authorization code exchange failed", "error", err)
		respondError(w, http.StatusBadGateway, "token exchange failed")
		return
	}

	if h.onAuthorized != nil {
		go h.onAuthorized()
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "authorized"})
}
