package consultation

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusDraft      Status = "draft"
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// Consultation represents consultations
type Consultation struct {
	ID                      uuid.UUID                   `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	BusinessID              uuid.UUID                   `gorm:"type:uuid;not null;index" json:"business_id"`
	PatientID               uuid.UUID                   `gorm:"type:uuid;not null;index" json:"patient_id"`
	CustomerID              uuid.UUID                   `gorm:"type:uuid;not null" json:"customer_id"`
	ProductID               uuid.UUID                   `gorm:"type:uuid;not null" json:"product_id"`
	ClinicianID             uuid.NullUUID               `gorm:"type:uuid" json:"clinician_id"`
	Mode                    Mode                        `gorm:"type:varchar(10);not null;default:'async'" json:"mode"`
	Status                  Status                      `gorm:"type:varchar(20);not null;default:'draft'" json:"status"`
	ScheduledAt             *time.Time                  `json:"scheduled_at,omitempty"`
	StartedAt               *time.Time                  `json:"started_at,omitempty"`
	EndedAt                 *time.Time                  `json:"ended_at,omitempty"`
	DurationMinutes         *int                        `json:"duration_minutes,omitempty"`
	Outcome                 Outcome                     `gorm:"type:varchar(20);not null;default:'pending'" json:"outcome"`
	RejectionReason         string                      `gorm:"type:text" json:"rejection_reason,omitempty"`
	ApprovedProductRefs     datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"approved_product_refs,omitempty"`
	OriginatingSubmissionID uuid.NullUUID               `gorm:"type:uuid" json:"originating_submission_id"`
	OrderID                 uuid.NullUUID               `gorm:"type:uuid" json:"order_id"`
	CreatedAt               time.Time                   `gorm:"default:now()" json:"created_at"`
	UpdatedAt               time.Time                   `gorm:"default:now()" json:"updated_at"`
	DeletedAt               gorm.DeletedAt              `gorm:"index" json:"-"`
}

// StatusEvent represents consultation_status_events
type StatusEvent struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ConsultationID uuid.UUID `gorm:"type:uuid;not null;index" json:"consultation_id"`
	FromStatus     Status    `gorm:"type:varchar(20);not null" json:"from_status"`
	ToStatus       Status    `gorm:"type:varchar(20);not null" json:"to_status"`
	Actor          string    `gorm:"not null" json:"actor"`
	Reason         string    `gorm:"type:text" json:"reason,omitempty"`
	CreatedAt      time.Time `gorm:"default:now()" json:"created_at"`
}

// Patient represents patients
type Patient struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	BusinessID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_patients_business_customer" json:"business_id"`
	CustomerID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_patients_business_customer" json:"customer_id"`
	Email      string    `json:"email"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Phone      string    `json:"phone,omitempty"`
	CreatedAt  time.Time `gorm:"default:now()" json:"created_at"`
}

// Clinician represents clinicians
type Clinician struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	BusinessID uuid.UUID `gorm:"type:uuid;not null;index" json:"business_id"`
	Name       string    `gorm:"not null" json:"name"`
	IsActive   bool      `gorm:"default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"default:now()" json:"created_at"`
}

func (Consultation) TableName() string {
	return "consultations"
}

func (StatusEvent) TableName() string {
	return "consultation_status_events"
}

func (Patient) TableName() string {
	return "patients"
}

func (Clinician) TableName() string {
	return "clinicians"
}
