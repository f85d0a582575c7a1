package repositories

import (
	"context"
	"fmt"
	"time"

	"libreria/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GORMOutboxRepository is a GORM implementation of OutboxRepository.
type GORMOutboxRepository struct {
	db *gorm.DB
}

// NewGORMOutboxRepository creates a new instance of GORMOutboxRepository.
func NewGORMOutboxRepository(db *gorm.DB) *GORMOutboxRepository {
	return &GORMOutboxRepository{db: db}
}

func (r *GORMOutboxRepository) Enqueue(ctx context.Context, msg *models.OutboxMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Status == "" {
		msg.Status = models.OutboxPending
	}
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to enqueue %s message: %w", msg.Topic, err)
	}
	return nil
}

// PullPending returns up to limit unsent messages that are due, oldest first.
func (r *GORMOutboxRepository) PullPending(ctx context.Context, now time.Time, limit int) ([]models.OutboxMessage, error) {
	var msgs []models.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status IN ?", []models.OutboxStatus{models.OutboxPending, models.OutboxFailed}).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("created_at").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to pull pending outbox messages: %w", err)
	}
	return msgs, nil
}

func (r *GORMOutboxRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, map[string]any{
		"status":          models.OutboxSent,
		"attempts":        gorm.Expr("attempts + 1"),
		"sent_at":         at,
		"next_attempt_at": nil,
	})
}

func (r *GORMOutboxRepository) MarkFailed(ctx context.Context, id string, cause string, next *time.Time, dead bool) error {
	status := models.OutboxFailed
	if dead {
		status = models.OutboxDead
	}
	return r.update(ctx, id, map[string]any{
		"status":          status,
		"attempts":        gorm.Expr("attempts + 1"),
		"last_error":      cause,
		"next_attempt_at": next,
	})
}

func (r *GORMOutboxRepository) update(ctx context.Context, id string, values map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.OutboxMessage{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return fmt.Errorf("failed to update outbox message %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return &models.NotFoundError{Entity: "outbox message", ID: id}
	}
	return nil
}
