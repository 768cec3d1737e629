package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"rxgate/internal/domain/approval"
	"rxgate/internal/domain/consultation"
	"rxgate/internal/repository"
	rxgate_errors "rxgate/pkg/errors"
	"rxgate/pkg/logger"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

var consultationTransitions = map[consultation.Status][]consultation.Status{
	consultation.StatusDraft:      {consultation.StatusScheduled, consultation.StatusCancelled},
	consultation.StatusScheduled:  {consultation.StatusInProgress, consultation.StatusCancelled, consultation.StatusNoShow},
	consultation.StatusInProgress: {consultation.StatusCompleted, consultation.StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to consultation.Status) bool {
	return lo.Contains(consultationTransitions[from], to)
}

type CompleteInput struct {
	Outcome             consultation.Outcome
	RejectionReason     string
	ApprovedProductRefs []string
}

type ConsultationService struct {
	repo       repository.ConsultationRepository
	clinicians repository.ClinicianRepository
	patients   repository.PatientRepository
	intake     repository.IntakeRepository
	approvals  repository.ApprovalRepository
	outbox     repository.OutboxRepository
	tx         repository.Transactor
	auditor    Auditor
	validity   time.Duration
	now        func() time.Time
}

func NewConsultationService(
	repo repository.ConsultationRepository,
	clinicians repository.ClinicianRepository,
	patients repository.PatientRepository,
	intake repository.IntakeRepository,
	approvals repository.ApprovalRepository,
	outboxRepo repository.OutboxRepository,
	tx repository.Transactor,
	auditor Auditor,
	validity time.Duration,
) *ConsultationService {
	return &ConsultationService{
		repo:       repo,
		clinicians: clinicians,
		patients:   patients,
		intake:     intake,
		approvals:  approvals,
		outbox:     outboxRepo,
		tx:         tx,
		auditor:    auditor,
		validity:   validity,
		now:        time.Now,
	}
}

// WithClock replaces the time source. Tests only.
func (s *ConsultationService) WithClock(now func() time.Time) *ConsultationService {
	s.now = now
	return s
}

func (s *ConsultationService) Get(ctx context.Context, id uuid.UUID) (consultation.Consultation, error) {
	return s.load(ctx, id)
}

// load reads a consultation visible to the caller. Another business's
// consultation reads as not found.
func (s *ConsultationService) load(ctx context.Context, id uuid.UUID) (consultation.Consultation, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return consultation.Consultation{}, err
	}
	if !VisibleToCaller(ctx, c.BusinessID) {
		return consultation.Consultation{}, rxgate_errors.ErrNotFound
	}
	return c, nil
}

// TransitionStatus moves a consultation along one edge of the lifecycle.
// Completion carries an outcome and must go through Complete.
func (s *ConsultationService) TransitionStatus(ctx context.Context, id uuid.UUID, to consultation.Status, actor, reason string) (consultation.Consultation, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return consultation.Consultation{}, err
	}
	if !CanTransition(c.Status, to) {
		return c, rxgate_errors.NewConsultationError(rxgate_errors.ErrInvalidTransition, id, string(c.Status), string(to))
	}
	if to == consultation.StatusCompleted {
		return s.Complete(ctx, id, CompleteInput{}, actor)
	}
	return s.apply(ctx, c, to, actor, reason, func(c *consultation.Consultation, now time.Time) {
		if to == consultation.StatusInProgress && c.StartedAt == nil {
			c.StartedAt = &now
		}
	})
}

func (s *ConsultationService) Schedule(ctx context.Context, id uuid.UUID, at time.Time, actor string) (consultation.Consultation, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return consultation.Consultation{}, err
	}
	if c.Status != consultation.StatusDraft {
		return c, rxgate_errors.NewConsultationError(rxgate_errors.ErrInvalidTransition, id, string(c.Status), string(consultation.StatusScheduled))
	}
	return s.apply(ctx, c, consultation.StatusScheduled, actor, "", func(c *consultation.Consultation, _ time.Time) {
		c.ScheduledAt = &at
	})
}

func (s *ConsultationService) Start(ctx context.Context, id uuid.UUID, actor string) (consultation.Consultation, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return consultation.Consultation{}, err
	}
	if c.Status != consultation.StatusScheduled {
		return c, rxgate_errors.NewConsultationError(rxgate_errors.ErrInvalidTransition, id, string(c.Status), string(consultation.StatusInProgress))
	}
	return s.apply(ctx, c, consultation.StatusInProgress, actor, "", func(c *consultation.Consultation, now time.Time) {
		c.StartedAt = &now
	})
}

// Cancel is limited to consultations that have not started.
func (s *ConsultationService) Cancel(ctx context.Context, id uuid.UUID, reason, actor string) (consultation.Consultation, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return consultation.Consultation{}, err
	}
	if c.Status != consultation.StatusDraft && c.Status != consultation.StatusScheduled {
		return c, rxgate_errors.NewConsultationError(rxgate_errors.ErrInvalidTransition, id, string(c.Status), string(consultation.StatusCancelled))
	}
	return s.apply(ctx, c, consultation.StatusCancelled, actor, reason, nil)
}

func (s *ConsultationService) MarkNoShow(ctx context.Context, id uuid.UUID, actor string) (consultation.Consultation, error) {
	return s.TransitionStatus(ctx, id, consultation.StatusNoShow, actor, "patient did not attend")
}

func (s *ConsultationService) apply(ctx context.Context, c consultation.Consultation, to consultation.Status, actor, reason string, mutate func(*consultation.Consultation, time.Time)) (consultation.Consultation, error) {
	from := c.Status
	now := s.now()
	c.Status = to
	if mutate != nil {
		mutate(&c, now)
	}
	if err := s.repo.UpdateIfStatus(ctx, c, from); err != nil {
		if errors.Is(err, rxgate_errors.ErrConflict) {
			return c, rxgate_errors.NewConsultationError(rxgate_errors.ErrInvalidTransition, c.ID, string(from), string(to))
		}
		return c, err
	}
	s.recordStatusEvent(ctx, c, from, to, actor, reason, now)
	return c, nil
}

func (s *ConsultationService) recordStatusEvent(ctx context.Context, c consultation.Consultation, from, to consultation.Status, actor, reason string, now time.Time) {
	evt := &consultation.StatusEvent{
		ID:             uuid.New(),
		ConsultationID: c.ID,
		FromStatus:     from,
		ToStatus:       to,
		Actor:          actor,
		Reason:         reason,
		CreatedAt:      now,
	}
	if err := s.repo.AppendStatusEvent(ctx, evt); err != nil {
		logger.GetGlobalLogger().Ctx(ctx).Logger.Warn("status event not recorded",
			zap.String("consultation_id", c.ID.String()), zap.Error(err))
	}
	RecordAudit(ctx, s.auditor, AuditRecord{
		Actor:      actor,
		Action:     "consultation.status_changed",
		EntityType: "consultation",
		EntityID:   c.ID,
		BusinessID: c.BusinessID,
		RiskLevel:  RiskMedium,
		Changes:    map[string]any{"from": from, "to": to, "reason": reason},
	})
}

// Complete closes an in-progress consultation with an outcome. An approved
// outcome upserts the consult approval and enqueues its outbox event.
func (s *ConsultationService) Complete(ctx context.Context, id uuid.UUID, in CompleteInput, actor string) (consultation.Consultation, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return consultation.Consultation{}, err
	}
	if c.Status != consultation.StatusInProgress {
		return c, rxgate_errors.NewConsultationError(rxgate_errors.ErrInvalidStateForCompletion, id, string(c.Status), string(consultation.StatusCompleted))
	}
	switch in.Outcome {
	case consultation.OutcomeApproved:
	case consultation.OutcomeRejected:
		if strings.TrimSpace(in.RejectionReason) == "" {
			return c, rxgate_errors.NewConsultationError(rxgate_errors.ErrMissingRejectionReason, id, "", "")
		}
	default:
		return c, rxgate_errors.ErrInvalidInput
	}

	customerID, err := s.customerOf(ctx, c)
	if err != nil {
		return c, err
	}

	now := s.now()
	started := now
	if c.StartedAt != nil {
		started = *c.StartedAt
	}
	duration := int(math.Round(now.Sub(started).Minutes()))

	c.Status = consultation.StatusCompleted
	c.EndedAt = &now
	c.DurationMinutes = &duration
	c.Outcome = in.Outcome
	if in.Outcome == consultation.OutcomeApproved {
		refs := lo.Uniq(lo.Compact(in.ApprovedProductRefs))
		if len(refs) == 0 {
			refs = []string{c.ProductID.String()}
		}
		c.ApprovedProductRefs = refs
		c.RejectionReason = ""
	} else {
		c.RejectionReason = strings.TrimSpace(in.RejectionReason)
		c.ApprovedProductRefs = nil
	}

	key := approval.Key{BusinessID: c.BusinessID, CustomerID: customerID, ProductID: c.ProductID}
	var a approval.ConsultApproval
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateIfStatus(ctx, c, consultation.StatusInProgress); err != nil {
			if errors.Is(err, rxgate_errors.ErrConflict) {
				return rxgate_errors.NewConsultationError(rxgate_errors.ErrInvalidStateForCompletion, id, "", string(consultation.StatusCompleted))
			}
			return err
		}
		if in.Outcome != consultation.OutcomeApproved {
			return s.approvals.Reject(ctx, key, c.ID)
		}
		var expiresAt *time.Time
		if s.validity > 0 {
			exp := now.Add(s.validity)
			expiresAt = &exp
		}
		a, err = s.approvals.Approve(ctx, key, c.ID, now, expiresAt)
		return err
	})
	if err != nil {
		return c, err
	}
	s.recordStatusEvent(ctx, c, consultation.StatusInProgress, consultation.StatusCompleted, actor, c.RejectionReason, now)

	if in.Outcome == consultation.OutcomeApproved {
		// The reconciler re-enqueues anything lost here.
		if _, err := enqueueApprovalEvent(ctx, s.outbox, a, now); err != nil {
			logger.GetGlobalLogger().Ctx(ctx).Logger.Warn("approval event not enqueued",
				zap.String("approval_id", a.ID.String()), zap.Error(err))
		}
		RecordAudit(ctx, s.auditor, AuditRecord{
			Actor:      actor,
			Action:     "consult_approval.approved",
			EntityType: "consult_approval",
			EntityID:   a.ID,
			BusinessID: a.BusinessID,
			RiskLevel:  RiskHigh,
			Changes:    map[string]any{"consultation_id": c.ID, "expires_at": a.ExpiresAt},
		})
	}

	if c.OriginatingSubmissionID.Valid && s.intake != nil {
		if err := s.intake.MarkSubmissionReviewed(ctx, c.OriginatingSubmissionID.UUID); err != nil {
			logger.GetGlobalLogger().Ctx(ctx).Warnf("submission %s not marked reviewed: %v", c.OriginatingSubmissionID.UUID, err)
		}
	}
	return c, nil
}

func (s *ConsultationService) customerOf(ctx context.Context, c consultation.Consultation) (uuid.UUID, error) {
	if s.patients != nil && c.PatientID != uuid.Nil {
		p, err := s.patients.GetByID(ctx, c.PatientID)
		if err == nil {
			return p.CustomerID, nil
		}
		if !errors.Is(err, rxgate_errors.ErrNotFound) {
			return uuid.Nil, err
		}
	}
	if c.CustomerID == uuid.Nil {
		return uuid.Nil, rxgate_errors.ErrNotFound
	}
	return c.CustomerID, nil
}

// AssignClinician overwrites the clinician on any non-terminal consultation.
func (s *ConsultationService) AssignClinician(ctx context.Context, id, clinicianID uuid.UUID, actor string) (consultation.Consultation, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return consultation.Consultation{}, err
	}
	clinician, err := s.clinicians.GetByID(ctx, clinicianID)
	if errors.Is(err, rxgate_errors.ErrNotFound) || (err == nil && clinician.BusinessID != c.BusinessID) {
		return c, rxgate_errors.NewConsultationError(rxgate_errors.ErrClinicianNotFound, id, "", "")
	}
	if err != nil {
		return c, err
	}
	if c.Status.IsTerminal() {
		return c, rxgate_errors.NewConsultationError(rxgate_errors.ErrInvalidTransition, id, string(c.Status), string(c.Status))
	}
	if err := s.repo.AssignClinician(ctx, id, clinicianID); err != nil {
		if errors.Is(err, rxgate_errors.ErrConflict) {
			return c, rxgate_errors.NewConsultationError(rxgate_errors.ErrInvalidTransition, id, string(c.Status), string(c.Status))
		}
		return c, err
	}
	c.ClinicianID = uuid.NullUUID{UUID: clinicianID, Valid: true}
	RecordAudit(ctx, s.auditor, AuditRecord{
		Actor:      actor,
		Action:     "consultation.clinician_assigned",
		EntityType: "consultation",
		EntityID:   id,
		BusinessID: c.BusinessID,
		RiskLevel:  RiskLow,
		Changes:    map[string]any{"clinician_id": clinicianID},
	})
	return c, nil
}

func (s *ConsultationService) ListStatusEvents(ctx context.Context, id uuid.UUID) ([]consultation.StatusEvent, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListStatusEvents(ctx, id)
}

func (s *ConsultationService) SoftDelete(ctx context.Context, id uuid.UUID, actor string) error {
	c, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	RecordAudit(ctx, s.auditor, AuditRecord{
		Actor: actor, Action: "consultation.deleted", EntityType: "consultation",
		EntityID: id, BusinessID: c.BusinessID, RiskLevel: RiskMedium,
	})
	return nil
}

func (s *ConsultationService) Restore(ctx context.Context, id uuid.UUID, actor string) (consultation.Consultation, error) {
	var c consultation.Consultation
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Restore(ctx, id); err != nil {
			return err
		}
		var err error
		c, err = s.load(ctx, id)
		return err
	})
	if err != nil {
		return consultation.Consultation{}, err
	}
	RecordAudit(ctx, s.auditor, AuditRecord{
		Actor: actor, Action: "consultation.restored", EntityType: "consultation",
		EntityID: id, BusinessID: c.BusinessID, RiskLevel: RiskMedium,
	})
	return c, nil
}
