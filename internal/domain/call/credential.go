package call

import "time"

// Credential is a media transport join token scoped to one user and one call.
// It is minted on create/accept and never persisted.
type Credential struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	Room      string    `json:"room"`
	Identity  string    `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}
