package models

import "time"

// OutboxKind separates customer notifications from audit events.
type OutboxKind string

const (
	OutboxNotification OutboxKind = "notificacion"
	OutboxAudit        OutboxKind = "auditoria"
)

// OutboxStatus is the publish state of an outbox row.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pendiente"
	OutboxSent    OutboxStatus = "enviado"
	OutboxFailed  OutboxStatus = "fallido"
	OutboxDead    OutboxStatus = "descartado"
)

// OutboxMessage is a side effect recorded inside a unit of work and
// published only after it commits.
type OutboxMessage struct {
	ID            string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Kind          OutboxKind   `json:"kind" gorm:"type:varchar(20);index"`
	Topic         string       `json:"topic" gorm:"size:100;not null"`
	AggregateID   string       `json:"aggregate_id" gorm:"size:36;index"`
	Payload       []byte       `json:"payload"`
	Status        OutboxStatus `json:"status" gorm:"type:varchar(20);index"`
	Attempts      int          `json:"attempts"`
	LastError     string       `json:"last_error,omitempty" gorm:"type:text"`
	NextAttemptAt *time.Time   `json:"next_attempt_at,omitempty" gorm:"index"`
	CreatedAt     time.Time    `json:"created_at" gorm:"index"`
	SentAt        *time.Time   `json:"sent_at,omitempty"`
}
