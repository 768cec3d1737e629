package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"rxgate/internal/domain/approval"
	"rxgate/internal/domain/commerce"
	"rxgate/internal/domain/consultation"
	"rxgate/internal/domain/outbox"
)

type ConsultationRepository interface {
	Create(ctx context.Context, c *consultation.Consultation) error
	GetByID(ctx context.Context, id uuid.UUID) (consultation.Consultation, error)
	// UpdateIfStatus persists c only while the stored status still equals
	// expected. A concurrent transition surfaces as ErrConflict.
	UpdateIfStatus(ctx context.Context, c consultation.Consultation, expected consultation.Status) error
	AssignClinician(ctx context.Context, id, clinicianID uuid.UUID) error
	AppendStatusEvent(ctx context.Context, e *consultation.StatusEvent) error
	ListStatusEvents(ctx context.Context, id uuid.UUID) ([]consultation.StatusEvent, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
	Restore(ctx context.Context, id uuid.UUID) error
}

type ClinicianRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (consultation.Clinician, error)
}

type PatientRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (consultation.Patient, error)
}

// IntakeRecord is the quadruple one consult request resolves to.
type IntakeRecord struct {
	Patient      consultation.Patient
	Submission   consultation.Submission
	Consultation consultation.Consultation
	Approval     approval.ConsultApproval
}

type IntakeRepository interface {
	// CreateIfAbsent writes the quadruple unless an active submission already
	// exists for the same (business, customer, product). The insert attempt
	// decides; on conflict the existing records are returned with created=false.
	CreateIfAbsent(ctx context.Context, in IntakeRecord) (rec IntakeRecord, created bool, err error)
	MarkSubmissionReviewed(ctx context.Context, submissionID uuid.UUID) error
}

type ApprovalRepository interface {
	// LatestApproved returns the most recent approved approval for key, or ErrNotFound.
	LatestApproved(ctx context.Context, key approval.Key) (approval.ConsultApproval, error)
	// Approve turns the consultation's approval (or the pending one for key)
	// into an approved one, creating it when neither exists.
	Approve(ctx context.Context, key approval.Key, consultationID uuid.UUID, approvedAt time.Time, expiresAt *time.Time) (approval.ConsultApproval, error)
	Reject(ctx context.Context, key approval.Key, consultationID uuid.UUID) error
	ListApprovedSince(ctx context.Context, since time.Time, limit int) ([]approval.ConsultApproval, error)
}

type OutboxRepository interface {
	// CreateOnce inserts e unless its dedupe key exists; created reports which.
	CreateOnce(ctx context.Context, e *outbox.OutboxEvent) (created bool, err error)
	GetByID(ctx context.Context, id uuid.UUID) (outbox.OutboxEvent, error)
	// ClaimDue leases up to limit due pending events, oldest first. Events
	// leased by another worker are skipped until their lease lapses.
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]outbox.OutboxEvent, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, deliveredAt time.Time) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error
	MarkDeadLetter(ctx context.Context, id uuid.UUID, attempts int, lastError string) error
	// MarkFallbackSent records the fallback email; only the first caller gets true.
	MarkFallbackSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ClearFallbackSent(ctx context.Context, id uuid.UUID) error
	RecordDelivery(ctx context.Context, d *outbox.OutboxEventDelivery) error
	ListDeadLetters(ctx context.Context, limit int) ([]outbox.OutboxEvent, error)
	Requeue(ctx context.Context, id uuid.UUID) error
}

type CatalogRepository interface {
	RequiresConsult(ctx context.Context, productID uuid.UUID) (bool, error)
	// ResolveProductID maps a variant to its product; ok=false when unknown.
	ResolveProductID(ctx context.Context, variantID uuid.UUID) (productID uuid.UUID, ok bool, err error)
}

type OrderRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (commerce.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, to commerce.OrderStatus) error
}

type BusinessSettingsRepository interface {
	GetByBusinessID(ctx context.Context, businessID uuid.UUID) (commerce.BusinessSettings, error)
}
