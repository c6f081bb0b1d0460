package domain

import "time"

// Credential holds the OAuth tokens of one user for one platform.
// There is exactly one per (UserID, Platform); saving replaces it.
type Credential struct {
	UserID         string    `json:"user_id"`
	Platform       string    `json:"platform"`
	RemoteUserID   string    `json:"remote_user_id"`
	RemoteUsername string    `json:"remote_username"`
	AccessToken    string    `json:"access_token"`
	RefreshToken   string    `json:"refresh_token"`
	ExpiresAt      time.Time `json:"expires_at"`

	// Revoked is set when a refresh failed or the platform answered 401.
	// A revoked credential requires a new authorization.
	Revoked bool `json:"revoked"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ExpiresWithin reports whether the access token expires in less than skew.
// A zero ExpiresAt means the platform did not say, and is treated as fresh.
func (c *Credential) ExpiresWithin(skew time.Duration, now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return c.ExpiresAt.Sub(now) < skew
}

// PendingAuthorization is an in-flight PKCE flow, keyed by SessionID.
type PendingAuthorization struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	State        string    `json:"state"`
	CodeVerifier string    `json:"code_verifier"`
	CreatedAt    time.Time `json:"created_at"`
}
