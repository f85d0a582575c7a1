// Package services holds the orchestrators of the store: checkout, order
// fulfillment, returns and refunds, plus the ledgers they write through.
//
// Every orchestrated operation runs inside one repositories.UnitOfWork and
// records its side effects as outbox rows; nothing leaves the process until
// the unit of work has committed.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"libreria/internal/config"
	"libreria/internal/locking"
	"libreria/internal/models"
	"libreria/internal/repositories"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("libreria/services")

// Kicker wakes the outbox dispatcher after a commit.
type Kicker interface {
	Kick()
}

// Deps are the collaborators shared by every orchestrator.
type Deps struct {
	UoW         repositories.UnitOfWork
	Locker      locking.Locker
	Logger      *logrus.Logger
	Outbox      Kicker
	Now         func() time.Time
	MaxAttempts int
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now()
}

func (d Deps) kick() {
	if d.Outbox != nil {
		d.Outbox.Kick()
	}
}

// inTx runs fn in a unit of work, retrying the whole unit when a versioned
// save lost a race. The returned error is always classified.
func (d Deps) inTx(ctx context.Context, operation string, fn func(ctx context.Context, store repositories.Store) error) error {
	attempts := d.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = d.UoW.Do(ctx, fn)
		if err == nil || !errors.Is(err, models.ErrConflict) {
			break
		}
		d.Logger.WithFields(logrus.Fields{
			"operation": operation,
			"attempt":   attempt,
		}).Warn("concurrent modification, retrying unit of work")
	}
	return models.Classify(operation, err)
}

// withLock holds the aggregate lock for key while fn runs.
func (d Deps) withLock(ctx context.Context, key string, fn func() error) error {
	unlock, err := d.Locker.Lock(ctx, key)
	if err != nil {
		return models.Classify("lock", err)
	}
	defer unlock()
	return fn()
}

func (d Deps) logError(funcName, context string, data any, err error) {
	config.LogError(d.Logger, "services", funcName, context, data, err)
}

// startSpan opens a span for an orchestrated operation. finish records the
// final error on it.
func startSpan(ctx context.Context, name string) (context.Context, func(*error)) {
	ctx, span := tracer.Start(ctx, name)
	return ctx, func(errp *error) {
		endSpan(span, *errp)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// notify records a customer notification for post-commit delivery.
func notify(ctx context.Context, store repositories.Store, topic, aggregateID string, payload any, now time.Time) error {
	return enqueue(ctx, store, models.OutboxNotification, "notification."+topic, aggregateID, payload, now)
}

// auditEvents records one audit message per history event appended since
// index from.
func auditEvents(ctx context.Context, store repositories.Store, entity, aggregateID, reference string, history []models.Event, from int, now time.Time) error {
	for _, ev := range history[from:] {
		topic := fmt.Sprintf("audit.%s.%s", entity, ev.Type)
		body := auditPayload{Entity: entity, ID: aggregateID, Reference: reference, Event: ev}
		if err := enqueue(ctx, store, models.OutboxAudit, topic, aggregateID, body, now); err != nil {
			return err
		}
	}
	return nil
}

type auditPayload struct {
	Entity    string       `json:"entity"`
	ID        string       `json:"id"`
	Reference string       `json:"reference,omitempty"`
	Event     models.Event `json:"event"`
}

func enqueue(ctx context.Context, store repositories.Store, kind models.OutboxKind, topic, aggregateID string, payload any, now time.Time) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", topic, err)
	}
	msg := &models.OutboxMessage{
		ID:          uuid.New().String(),
		Kind:        kind,
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     body,
		Status:      models.OutboxPending,
		CreatedAt:   now,
	}
	return store.Outbox().Enqueue(ctx, msg)
}

// publicCode builds a human-readable identifier such as ORD-20240131-3F9A1C.
func publicCode(prefix string, now time.Time) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("%s-%s-%s", prefix, now.Format("20060102"), strings.ToUpper(id[:6]))
}
