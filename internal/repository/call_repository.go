package repository

import (
	"context"
	"fmt"
	"time"

	"ringline/internal/domain/call"
	ringline_errors "ringline/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresCallRepository struct {
	db *gorm.DB
}

func NewCallRepository(db *gorm.DB) CallRepository {
	return &PostgresCallRepository{db: db}
}

func (r *PostgresCallRepository) WithTx(ctx context.Context, fn func(CallRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PostgresCallRepository{db: tx})
	})
}

func (r *PostgresCallRepository) CreateWithParticipants(ctx context.Context, c *call.Call, participants []call.Participant) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Participants").Create(c).Error; err != nil {
			return translateError(err)
		}
		for i := range participants {
			participants[i].CallID = c.ID
		}
		if len(participants) > 0 {
			if err := tx.Create(&participants).Error; err != nil {
				return translateError(err)
			}
		}
		c.Participants = participants
		return nil
	})
}

func (r *PostgresCallRepository) GetByID(ctx context.Context, id uuid.UUID) (call.Call, error) {
	var c call.Call
	err := r.db.WithContext(ctx).
		Preload("Participants", orderParticipants).
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		return call.Call{}, translateError(err)
	}
	return c, nil
}

func (r *PostgresCallRepository) GetParticipant(ctx context.Context, callID, userID uuid.UUID) (call.Participant, error) {
	var p call.Participant
	err := r.db.WithContext(ctx).
		Where("call_id = ? AND user_id = ?", callID, userID).
		First(&p).Error
	if err != nil {
		return call.Participant{}, translateError(err)
	}
	return p, nil
}

// TransitionStatus moves the call to `to` if its current status is one of
// from. Asking for a move the status graph forbids is an invalid-state error.
func (r *PostgresCallRepository) TransitionStatus(ctx context.Context, callID uuid.UUID, from []call.Status, to call.Status, endedBy uuid.NullUUID) (bool, error) {
	for _, f := range from {
		if f != to && !f.CanTransition(to) {
			return false, fmt.Errorf("%w: call cannot move from %s to %s", ringline_errors.ErrInvalidState, f, to)
		}
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": now,
	}
	if to.Terminal() {
		updates["ended_at"] = now
		if endedBy.Valid {
			updates["ended_by"] = endedBy.UUID
		}
	}

	res := r.db.WithContext(ctx).
		Model(&call.Call{}).
		Where("id = ? AND status IN ?", callID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *PostgresCallRepository) TransitionParticipant(ctx context.Context, callID, userID uuid.UUID, from []call.ParticipantStatus, to call.ParticipantStatus) (bool, error) {
	for _, f := range from {
		if !f.CanTransition(to) {
			return false, fmt.Errorf("%w: participant cannot move from %s to %s", ringline_errors.ErrInvalidState, f, to)
		}
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": now,
	}
	switch to {
	case call.ParticipantJoined:
		updates["joined_at"] = now
	case call.ParticipantLeft:
		updates["left_at"] = now
	}

	res := r.db.WithContext(ctx).
		Model(&call.Participant{}).
		Where("call_id = ? AND user_id = ? AND status IN ?", callID, userID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *PostgresCallRepository) FindOpenCallForUser(ctx context.Context, userID uuid.UUID) (call.Call, error) {
	var c call.Call

	subQuery := r.db.Model(&call.Participant{}).
		Select("call_id").
		Where("user_id = ? AND status IN ?", userID, []call.ParticipantStatus{call.ParticipantAccepted, call.ParticipantJoined})

	err := r.db.WithContext(ctx).
		Preload("Participants", orderParticipants).
		Where("id IN (?) AND status IN ?", subQuery, []call.Status{call.StatusRinging, call.StatusActive}).
		Order("created_at DESC").
		First(&c).Error
	if err != nil {
		return call.Call{}, translateError(err)
	}
	return c, nil
}

func (r *PostgresCallRepository) ListStaleRinging(ctx context.Context, before time.Time, limit int) ([]call.Call, error) {
	if limit <= 0 {
		limit = 100
	}
	var calls []call.Call
	err := r.db.WithContext(ctx).
		Preload("Participants", orderParticipants).
		Where("status = ? AND created_at < ?", call.StatusRinging, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&calls).Error
	if err != nil {
		return nil, err
	}
	return calls, nil
}

func (r *PostgresCallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, page, limit int) ([]call.Call, int64, error) {
	var calls []call.Call
	var total int64

	subQuery := r.db.Model(&call.Participant{}).
		Select("call_id").
		Where("user_id = ?", userID)

	base := func() *gorm.DB {
		return r.db.WithContext(ctx).
			Model(&call.Call{}).
			Where("id IN (?)", subQuery)
	}

	if err := base().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := pageOffset(page, limit)
	if err := base().Preload("Participants", orderParticipants).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&calls).Error; err != nil {
		return nil, 0, err
	}

	return calls, total, nil
}

func orderParticipants(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC, role ASC")
}
