package repositories

import (
	"context"
	"time"

	"libreria/internal/models"

	"github.com/google/uuid"
)

// MockOutboxRepository is an in-memory implementation of OutboxRepository.
type MockOutboxRepository struct {
	memoryScope
}

func (r *MockOutboxRepository) Enqueue(ctx context.Context, msg *models.OutboxMessage) error {
	if err := r.s.injected("outbox.Enqueue"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Status == "" {
		msg.Status = models.OutboxPending
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	push(r.memoryScope, &r.s.data.outbox, *msg)
	return nil
}

// PullPending returns up to limit unsent messages that are due, oldest first.
func (r *MockOutboxRepository) PullPending(ctx context.Context, now time.Time, limit int) ([]models.OutboxMessage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	due := make([]models.OutboxMessage, 0)
	for _, msg := range r.s.data.outbox {
		if len(due) == limit {
			break
		}
		if msg.Status != models.OutboxPending && msg.Status != models.OutboxFailed {
			continue
		}
		if msg.NextAttemptAt != nil && msg.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, msg)
	}
	return due, nil
}

func (r *MockOutboxRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	return r.update(id, func(msg *models.OutboxMessage) {
		msg.Status = models.OutboxSent
		msg.Attempts++
		msg.SentAt = &at
		msg.NextAttemptAt = nil
	})
}

func (r *MockOutboxRepository) MarkFailed(ctx context.Context, id string, cause string, next *time.Time, dead bool) error {
	return r.update(id, func(msg *models.OutboxMessage) {
		msg.Status = models.OutboxFailed
		if dead {
			msg.Status = models.OutboxDead
		}
		msg.Attempts++
		msg.LastError = cause
		msg.NextAttemptAt = next
	})
}

func (r *MockOutboxRepository) update(id string, fn func(*models.OutboxMessage)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for i := range r.s.data.outbox {
		if r.s.data.outbox[i].ID == id {
			fn(&r.s.data.outbox[i])
			return nil
		}
	}
	return &models.NotFoundError{Entity: "outbox message", ID: id}
}

// Messages returns a copy of every outbox row. Tests use it to assert on
// what a unit of work recorded.
func (s *MockStore) Messages() []models.OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.OutboxMessage, len(s.data.outbox))
	copy(out, s.data.outbox)
	return out
}
