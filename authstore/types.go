// Package authstore persists per-user authorization records, grouped into one
// document per room. Lookup within a room is a linear scan by person id; the
// number of authorized users per room is small by domain nature.
package authstore

import "time"

// AuthRecord holds everything needed to act on behalf of one user in one room:
// identity, credential material, and the webhook subscriptions registered for them.
type AuthRecord struct {
	RoomID        string    `json:"roomId"`
	RoomTitle     string    `json:"roomTitle,omitempty"`
	PersonID      string    `json:"personId"`
	DisplayName   string    `json:"displayName"`
	AccessToken   string    `json:"accessToken"`
	RefreshToken  string    `json:"refreshToken"`
	TokenExpiry   time.Time `json:"tokenExpiry"`
	RefreshExpiry time.Time `json:"refreshExpiry"`
	// WebhookIDs lists subscriptions created on this user's behalf, in
	// creation order. Non-empty iff the record is fully registered.
	WebhookIDs []string `json:"webhookIds"`
	TerseMode  bool     `json:"terseMode"`
}

// Active reports whether the record completed webhook registration.
func (r *AuthRecord) Active() bool { return len(r.WebhookIDs) > 0 }

// Refreshable reports whether the credential can still be reissued at the
// given instant.
func (r *AuthRecord) Refreshable(now time.Time) bool {
	if r.RefreshToken == "" {
		return false
	}
	return r.RefreshExpiry.IsZero() || now.Before(r.RefreshExpiry)
}
