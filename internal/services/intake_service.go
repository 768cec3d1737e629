package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"rxgate/internal/domain/approval"
	"rxgate/internal/domain/consultation"
	"rxgate/internal/repository"
	rxgate_errors "rxgate/pkg/errors"
	"rxgate/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type IntakeInput struct {
	BusinessID         uuid.UUID
	CustomerID         uuid.UUID
	Email              string
	FirstName          string
	LastName           string
	Phone              string
	ProductID          uuid.UUID
	EligibilityAnswers json.RawMessage
	ConsultFee         decimal.Decimal
	Notes              string
	Mode               consultation.Mode
}

type IntakeService struct {
	repo    repository.IntakeRepository
	auditor Auditor
	now     func() time.Time
}

func NewIntakeService(repo repository.IntakeRepository, auditor Auditor) *IntakeService {
	return &IntakeService{repo: repo, auditor: auditor, now: time.Now}
}

// Submit resolves a consult request to its single intake record. Concurrent
// duplicates converge on the first writer's records; created reports whether
// this call wrote them.
func (s *IntakeService) Submit(ctx context.Context, in IntakeInput) (repository.IntakeRecord, bool, error) {
	if err := validateIntake(in); err != nil {
		return repository.IntakeRecord{}, false, err
	}
	now := s.now()
	mode := in.Mode
	if mode == "" {
		mode = consultation.ModeAsync
	}

	patientID := uuid.New()
	submissionID := uuid.New()
	consultationID := uuid.New()
	rec := repository.IntakeRecord{
		Patient: consultation.Patient{
			ID:         patientID,
			BusinessID: in.BusinessID,
			CustomerID: in.CustomerID,
			Email:      strings.TrimSpace(in.Email),
			FirstName:  strings.TrimSpace(in.FirstName),
			LastName:   strings.TrimSpace(in.LastName),
			Phone:      strings.TrimSpace(in.Phone),
			CreatedAt:  now,
		},
		Submission: consultation.Submission{
			ID:                 submissionID,
			BusinessID:         in.BusinessID,
			CustomerID:         in.CustomerID,
			Email:              strings.TrimSpace(in.Email),
			FirstName:          strings.TrimSpace(in.FirstName),
			LastName:           strings.TrimSpace(in.LastName),
			Phone:              strings.TrimSpace(in.Phone),
			ProductID:          in.ProductID,
			EligibilityAnswers: datatypes.JSON(in.EligibilityAnswers),
			Status:             consultation.SubmissionPending,
			ConsultFee:         in.ConsultFee,
			Notes:              in.Notes,
			CreatedAt:          now,
			UpdatedAt:          now,
		},
		Consultation: consultation.Consultation{
			ID:         consultationID,
			BusinessID: in.BusinessID,
			PatientID:  patientID,
			CustomerID: in.CustomerID,
			ProductID:  in.ProductID,
			Mode:       mode,
			Status:     consultation.StatusDraft,
			Outcome:    consultation.OutcomePending,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		Approval: approval.ConsultApproval{
			ID:             uuid.New(),
			BusinessID:     in.BusinessID,
			CustomerID:     in.CustomerID,
			ProductID:      in.ProductID,
			ConsultationID: uuid.NullUUID{UUID: consultationID, Valid: true},
			Status:         approval.StatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
	}

	out, created, err := s.repo.CreateIfAbsent(ctx, rec)
	if err != nil {
		return repository.IntakeRecord{}, false, err
	}
	if created {
		RecordAudit(ctx, s.auditor, AuditRecord{
			Actor:      "customer:" + in.CustomerID.String(),
			Action:     "consult_submission.created",
			EntityType: "consult_submission",
			EntityID:   out.Submission.ID,
			BusinessID: in.BusinessID,
			RiskLevel:  RiskMedium,
			Changes:    map[string]any{"product_id": in.ProductID, "consultation_id": out.Consultation.ID},
		})
	} else {
		logger.GetGlobalLogger().Ctx(ctx).Debugf("duplicate intake for product %s resolved to submission %s", in.ProductID, out.Submission.ID)
	}
	return out, created, nil
}

func invalidIntake(format string, args ...any) error {
	return fmt.Errorf("%w: %s", rxgate_errors.ErrInvalidIntake, fmt.Sprintf(format, args...))
}

func validateIntake(in IntakeInput) error {
	if in.BusinessID == uuid.Nil {
		return invalidIntake("business_id is required")
	}
	if in.CustomerID == uuid.Nil {
		return invalidIntake("customer_id is required")
	}
	if in.ProductID == uuid.Nil {
		return invalidIntake("product_id is required")
	}
	if e := strings.TrimSpace(in.Email); e != "" {
		if _, err := mail.ParseAddress(e); err != nil {
			return invalidIntake("email is malformed")
		}
	}
	if in.ConsultFee.IsNegative() {
		return invalidIntake("consult_fee must not be negative")
	}
	if in.Mode != "" && in.Mode != consultation.ModeSync && in.Mode != consultation.ModeAsync {
		return invalidIntake("mode must be sync or async")
	}
	return validateEligibilityAnswers(in.EligibilityAnswers)
}

// validateEligibilityAnswers accepts a non-empty JSON object whose keys are
// question ids. Values are opaque.
func validateEligibilityAnswers(raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return invalidIntake("eligibility_answers is required")
	}
	var answers map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &answers); err != nil {
		return invalidIntake("eligibility_answers must be an object")
	}
	if len(answers) == 0 {
		return invalidIntake("eligibility_answers must not be empty")
	}
	for k := range answers {
		if strings.TrimSpace(k) == "" {
			return invalidIntake("eligibility_answers has an empty question id")
		}
	}
	return nil
}
