package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ringline/internal/domain/call"
	"ringline/pkg/logger"

	"go.uber.org/zap"
)

// ObjectWriter stores one object. Satisfied by storage.Client.
type ObjectWriter interface {
	PutObject(ctx context.Context, key, contentType string, body []byte) error
}

type CallSummary struct {
	CallID       string               `json:"call_id"`
	TenantID     string               `json:"tenant_id"`
	InitiatorID  string               `json:"initiator_id"`
	Kind         call.Kind            `json:"kind"`
	Status       call.Status          `json:"status"`
	IsGroup      bool                 `json:"is_group"`
	ChatChannel  string               `json:"chat_channel,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	EndedAt      *time.Time           `json:"ended_at,omitempty"`
	EndedBy      string               `json:"ended_by,omitempty"`
	Participants []ParticipantSummary `json:"participants"`
}

type ParticipantSummary struct {
	UserID   string                 `json:"user_id"`
	Role     call.Role              `json:"role"`
	Status   call.ParticipantStatus `json:"status"`
	JoinedAt *time.Time             `json:"joined_at,omitempty"`
	LeftAt   *time.Time             `json:"left_at,omitempty"`
}

func Summarize(c call.Call) CallSummary {
	s := CallSummary{
		CallID:       c.ID.String(),
		TenantID:     c.TenantID.String(),
		InitiatorID:  c.InitiatorID.String(),
		Kind:         c.Kind,
		Status:       c.Status,
		IsGroup:      c.IsGroup,
		ChatChannel:  c.ChatChannel.String,
		CreatedAt:    c.CreatedAt.UTC(),
		EndedAt:      nullTime(c.EndedAt.Time, c.EndedAt.Valid),
		Participants: make([]ParticipantSummary, 0, len(c.Participants)),
	}
	if c.EndedBy.Valid {
		s.EndedBy = c.EndedBy.UUID.String()
	}
	for _, p := range c.Participants {
		s.Participants = append(s.Participants, ParticipantSummary{
			UserID:   p.UserID.String(),
			Role:     p.Role,
			Status:   p.Status,
			JoinedAt: nullTime(p.JoinedAt.Time, p.JoinedAt.Valid),
			LeftAt:   nullTime(p.LeftAt.Time, p.LeftAt.Valid),
		})
	}
	return s
}

// AuditKey lays summaries out by the day the call finished.
func AuditKey(c call.Call) string {
	day := c.CreatedAt
	if c.EndedAt.Valid {
		day = c.EndedAt.Time
	}
	day = day.UTC()
	return fmt.Sprintf("calls/%04d/%02d/%02d/%s.json", day.Year(), int(day.Month()), day.Day(), c.ID)
}

// AuditArchiver writes terminal call summaries in the background.
type AuditArchiver struct {
	writer  ObjectWriter
	log     *logger.Logger
	timeout time.Duration
}

func NewAuditArchiver(writer ObjectWriter, log *logger.Logger) *AuditArchiver {
	return &AuditArchiver{writer: writer, log: log, timeout: 10 * time.Second}
}

// Archive never blocks the caller; failures are logged only.
func (a *AuditArchiver) Archive(c call.Call) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.archive(ctx, c); err != nil {
			a.log.Logger.Warn("failed to archive call", zap.String("call_id", c.ID.String()), zap.Error(err))
		}
	}()
}

func (a *AuditArchiver) archive(ctx context.Context, c call.Call) error {
	body, err := json.Marshal(Summarize(c))
	if err != nil {
		return err
	}
	return a.writer.PutObject(ctx, AuditKey(c), "application/json", body)
}

func nullTime(t time.Time, valid bool) *time.Time {
	if !valid {
		return nil
	}
	u := t.UTC()
	return &u
}
