package consultation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionReviewed SubmissionStatus = "reviewed"
)

// Submission represents consult_submissions. At most one pending,
// non-deleted row exists per (business_id, customer_id, product_id); the
// partial unique index idx_consult_submissions_active enforces it.
type Submission struct {
	ID                 uuid.UUID        `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	BusinessID         uuid.UUID        `gorm:"type:uuid;not null" json:"business_id"`
	CustomerID         uuid.UUID        `gorm:"type:uuid;not null" json:"customer_id"`
	Email              string           `json:"email"`
	FirstName          string           `json:"first_name"`
	LastName           string           `json:"last_name"`
	Phone              string           `json:"phone,omitempty"`
	ProductID          uuid.UUID        `gorm:"type:uuid;not null" json:"product_id"`
	EligibilityAnswers datatypes.JSON   `gorm:"type:jsonb;not null" json:"eligibility_answers"`
	Status             SubmissionStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	ConsultFee         decimal.Decimal  `gorm:"type:decimal(12,2);not null;default:0" json:"consult_fee"`
	Notes              string           `gorm:"type:text" json:"notes,omitempty"`
	ConsultationID     uuid.NullUUID    `gorm:"type:uuid" json:"consultation_id"`
	CreatedAt          time.Time        `gorm:"default:now()" json:"created_at"`
	UpdatedAt          time.Time        `gorm:"default:now()" json:"updated_at"`
	DeletedAt          gorm.DeletedAt   `gorm:"index" json:"-"`
}

func (Submission) TableName() string {
	return "consult_submissions"
}
