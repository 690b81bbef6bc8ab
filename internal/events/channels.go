package events

import (
	"strings"

	"github.com/google/uuid"
)

// Redis channel prefixes
const (
	ChannelPrefixUser  = "channel:user:"
	ChannelPatternUser = ChannelPrefixUser + "*"
)

// UserChannel is the private channel a user's sessions listen on.
func UserChannel(userID uuid.UUID) string {
	return ChannelPrefixUser + userID.String()
}

// UserFromChannel extracts the user id from a user channel name.
func UserFromChannel(channel string) (uuid.UUID, bool) {
	rest, ok := strings.CutPrefix(channel, ChannelPrefixUser)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
