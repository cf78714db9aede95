package api

import "net/http"

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Session string `json:"session"`
}

// HealthHandler returns the health check handler. The session state is
// included so operators can see a pending re-authentication.
func HealthHandler(sessionState func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, HealthResponse{
			Status:  "healthy",
			Session: sessionState(),
		})
	}
}
