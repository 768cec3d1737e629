package httpdto

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type SubmitConsultRequest struct {
	ProductID          string          `json:"product_id" binding:"required"`
	Email              string          `json:"email"`
	FirstName          string          `json:"first_name"`
	LastName           string          `json:"last_name"`
	Phone              string          `json:"phone"`
	EligibilityAnswers json.RawMessage `json:"eligibility_answers"`
	ConsultFee         decimal.Decimal `json:"consult_fee"`
	Notes              string          `json:"notes"`
	Mode               string          `json:"mode"`
}

type SubmitConsultResponse struct {
	SubmissionID   string `json:"submission_id"`
	ConsultationID string `json:"consultation_id"`
	ApprovalID     string `json:"approval_id"`
	PatientID      string `json:"patient_id"`
	Created        bool   `json:"created"`
}

type AssignClinicianRequest struct {
	ClinicianID string `json:"clinician_id" binding:"required"`
}

type ScheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" binding:"required"`
}

type TransitionRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type CompleteRequest struct {
	Outcome             string   `json:"outcome" binding:"required"`
	RejectionReason     string   `json:"rejection_reason"`
	ApprovedProductRefs []string `json:"approved_product_refs"`
}

type ValidApprovalResponse struct {
	ProductID string `json:"product_id"`
	Valid     bool   `json:"valid"`
}
