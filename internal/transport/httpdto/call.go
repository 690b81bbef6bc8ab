package httpdto

import (
	"time"

	"ringline/internal/domain/call"
)

// CreateCallRequest is used for POST /v1/calls
type CreateCallRequest struct {
	ParticipantIDs []string `json:"participant_ids" binding:"required,min=1"`
	Type           string   `json:"type,omitempty"` // "voice" or "video"
	ChatChannel    string   `json:"chat_channel,omitempty"`
}

// ListCallsRequest holds query parameters for listing calls
type ListCallsRequest struct {
	Page  int `form:"page"`
	Limit int `form:"limit"`
}

type CredentialDTO struct {
	Token     string `json:"token"`
	URL       string `json:"url"`
	Room      string `json:"room"`
	Identity  string `json:"identity"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// CreateCallResponse is returned after creating a call
type CreateCallResponse struct {
	CallID     string        `json:"call_id"`
	Credential CredentialDTO `json:"credential"`
}

// AcceptCallResponse is returned after accepting a call
type AcceptCallResponse struct {
	CallID     string        `json:"call_id"`
	Credential CredentialDTO `json:"credential"`
}

type CallParticipantDTO struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

// CallDTO represents a call in API responses
type CallDTO struct {
	ID           string               `json:"id"`
	InitiatorID  string               `json:"initiator_id"`
	Type         string               `json:"type"`
	Status       string               `json:"status"`
	IsGroup      bool                 `json:"is_group"`
	ChatChannel  string               `json:"chat_channel,omitempty"`
	CreatedAt    string               `json:"created_at"`
	EndedAt      string               `json:"ended_at,omitempty"`
	Participants []CallParticipantDTO `json:"participants"`
}

// ListCallsResponse is returned when listing calls
type ListCallsResponse struct {
	Calls []CallDTO `json:"calls"`
	Total int64     `json:"total"`
}

func ToCredentialDTO(c call.Credential) CredentialDTO {
	dto := CredentialDTO{
		Token:    c.Token,
		URL:      c.URL,
		Room:     c.Room,
		Identity: c.Identity,
	}
	if !c.ExpiresAt.IsZero() {
		dto.ExpiresAt = c.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return dto
}

// Credential converts the wire form back for clients of the API.
func (d CredentialDTO) Credential() call.Credential {
	c := call.Credential{
		Token:    d.Token,
		URL:      d.URL,
		Room:     d.Room,
		Identity: d.Identity,
	}
	if t, err := time.Parse(time.RFC3339, d.ExpiresAt); err == nil {
		c.ExpiresAt = t
	}
	return c
}

func ToCallDTO(c call.Call) CallDTO {
	dto := CallDTO{
		ID:           c.ID.String(),
		InitiatorID:  c.InitiatorID.String(),
		Type:         string(c.Kind),
		Status:       string(c.Status),
		IsGroup:      c.IsGroup,
		ChatChannel:  c.ChatChannel.String,
		CreatedAt:    c.CreatedAt.UTC().Format(time.RFC3339),
		Participants: make([]CallParticipantDTO, 0, len(c.Participants)),
	}
	if c.EndedAt.Valid {
		dto.EndedAt = c.EndedAt.Time.UTC().Format(time.RFC3339)
	}
	for _, p := range c.Participants {
		dto.Participants = append(dto.Participants, CallParticipantDTO{
			UserID: p.UserID.String(),
			Role:   string(p.Role),
			Status: string(p.Status),
		})
	}
	return dto
}

func ToCallDTOs(calls []call.Call) []CallDTO {
	out := make([]CallDTO, 0, len(calls))
	for _, c := range calls {
		out = append(out, ToCallDTO(c))
	}
	return out
}
