package domain

import "time"

// OAuthToken is the credential set for the upstream account. Owned
// exclusively by the session manager; replaced wholesale on refresh.
type OAuthToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope,omitempty"`
}

// Expired reports whether the access token is inside the refresh margin.
func (t *OAuthToken) Expired(margin time.Duration) bool {
	return time.Now().After(t.ExpiresAt.Add(-margin))
}
