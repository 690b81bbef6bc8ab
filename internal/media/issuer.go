package media

import (
	"fmt"
	"time"

	"ringline/internal/domain/call"

	"github.com/google/uuid"
	"github.com/livekit/protocol/auth"
)

// RoomName scopes a transport room to exactly one call.
func RoomName(callID uuid.UUID) string {
	return "call-" + callID.String()
}

// Issuer mints LiveKit join tokens.
type Issuer struct {
	url       string
	apiKey    string
	apiSecret string
	ttl       time.Duration
	now       func() time.Time
}

func NewIssuer(url, apiKey, apiSecret string, ttl time.Duration) *Issuer {
	return &Issuer{
		url:       url,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Mint returns a credential valid only for this user in this call's room.
func (i *Issuer) Mint(callID, userID uuid.UUID, displayName string) (call.Credential, error) {
	room := RoomName(callID)
	identity := userID.String()

	at := auth.NewAccessToken(i.apiKey, i.apiSecret)
	at.SetVideoGrant(&auth.VideoGrant{
		RoomJoin: true,
		Room:     room,
	}).
		SetIdentity(identity).
		SetName(displayName).
		SetValidFor(i.ttl)

	token, err := at.ToJWT()
	if err != nil {
		return call.Credential{}, fmt.Errorf("mint transport token: %w", err)
	}

	return call.Credential{
		Token:     token,
		URL:       i.url,
		Room:      room,
		Identity:  identity,
		ExpiresAt: i.now().Add(i.ttl).UTC(),
	}, nil
}
