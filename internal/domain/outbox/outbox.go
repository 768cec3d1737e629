package outbox

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Status represents the delivery state of an outbox event
type Status string

const (
	StatusPending    Status = "pending"
	StatusDelivered  Status = "delivered"
	StatusDeadLetter Status = "dead_letter"
)

const TypeConsultApproved = "consult.approved"

// OutboxEvent stores integration events waiting to be delivered to a
// business's fulfillment webhook
type OutboxEvent struct {
	ID                  uuid.UUID         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	BusinessID          uuid.UUID         `gorm:"type:uuid;not null;index" json:"business_id"`
	Type                string            `gorm:"type:varchar(64);not null" json:"type"`
	DedupeKey           string            `gorm:"type:varchar(255);not null;uniqueIndex" json:"dedupe_key"`
	Payload             datatypes.JSON    `gorm:"type:jsonb;not null" json:"payload"`
	Status              Status            `gorm:"type:varchar(20);not null;default:'pending';index:idx_outbox_due,priority:1" json:"status"`
	Attempts            int               `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt       *time.Time        `gorm:"index:idx_outbox_due,priority:2" json:"next_attempt_at,omitempty"`
	LastError           string            `gorm:"type:text" json:"last_error,omitempty"`
	DeliveredAt         *time.Time        `json:"delivered_at,omitempty"`
	Metadata            datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	ClaimedUntil        *time.Time        `json:"-"`
	FallbackEmailSentAt *time.Time        `json:"fallback_email_sent_at,omitempty"`
	CreatedAt           time.Time         `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt           time.Time         `gorm:"not null;default:now()" json:"updated_at"`
}

// TableName returns the database table name
func (OutboxEvent) TableName() string {
	return "outbox_events"
}

// IsDue reports whether the event may be attempted at now.
func (e OutboxEvent) IsDue(now time.Time) bool {
	if e.Status != StatusPending {
		return false
	}
	return e.NextAttemptAt == nil || !e.NextAttemptAt.After(now)
}

// OutboxEventDelivery records one delivery attempt
type OutboxEventDelivery struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	EventID       uuid.UUID `gorm:"type:uuid;not null;index"`
	AttemptNumber int       `gorm:"not null"`
	Status        string    `gorm:"not null"`
	StatusCode    int
	ErrorMessage  string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"default:now()"`
}

func (OutboxEventDelivery) TableName() string {
	return "outbox_event_deliveries"
}

// ApprovalDedupeKey is the idempotency key shared by the completion path and the reconciler.
func ApprovalDedupeKey(approvalID uuid.UUID) string {
	return fmt.Sprintf("consult_approval:%s:approved", approvalID)
}
