package call

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Kind is the media kind requested by the initiator.
type Kind string

const (
	KindVoice Kind = "voice"
	KindVideo Kind = "video"
)

func (k Kind) Valid() bool {
	return k == KindVoice || k == KindVideo
}

// Role of a participant within one call.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleInvitee   Role = "invitee"
)

// Call represents calls table
type Call struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"tenant_id"`
	InitiatorID uuid.UUID      `gorm:"type:uuid;not null;index" json:"initiator_id"`
	Kind        Kind           `gorm:"type:varchar(8);not null" json:"kind"`
	ChatChannel sql.NullString `gorm:"type:varchar(128)" json:"-"`
	IsGroup     bool           `gorm:"default:false" json:"is_group"`
	Status      Status         `gorm:"type:varchar(16);not null;index" json:"status"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	EndedAt     sql.NullTime   `json:"-"`
	EndedBy     uuid.NullUUID  `gorm:"type:uuid" json:"-"`

	Participants []Participant `gorm:"foreignKey:CallID;references:ID" json:"participants,omitempty"`
}

// Participant represents call_participants. Rows are never deleted, only
// status-transitioned, so a call's history stays reconstructible.
type Participant struct {
	CallID    uuid.UUID         `gorm:"type:uuid;primaryKey" json:"call_id"`
	UserID    uuid.UUID         `gorm:"type:uuid;primaryKey;index" json:"user_id"`
	Role      Role              `gorm:"type:varchar(16);not null" json:"role"`
	Status    ParticipantStatus `gorm:"type:varchar(16);not null" json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	JoinedAt  sql.NullTime      `json:"-"`
	LeftAt    sql.NullTime      `json:"-"`
}

func (Call) TableName() string {
	return "calls"
}

func (Participant) TableName() string {
	return "call_participants"
}

// Participant returns the row for userID, if present in the loaded participant list.
func (c Call) Participant(userID uuid.UUID) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// ParticipantIDs returns every participant user id, initiator included.
func (c Call) ParticipantIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// LiveInvitees counts non-initiator participants still pending or in the call.
func (c Call) LiveInvitees() int {
	n := 0
	for _, p := range c.Participants {
		if p.Role == RoleInitiator {
			continue
		}
		if p.Status == ParticipantPending || p.Status == ParticipantAccepted || p.Status == ParticipantJoined {
			n++
		}
	}
	return n
}

// Present counts participants that have accepted or joined and not left.
func (c Call) Present() int {
	n := 0
	for _, p := range c.Participants {
		if p.Status == ParticipantAccepted || p.Status == ParticipantJoined {
			n++
		}
	}
	return n
}
