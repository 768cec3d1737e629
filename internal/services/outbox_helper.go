package services

import (
	"context"
	"encoding/json"
	"time"

	"rxgate/internal/domain/approval"
	"rxgate/internal/domain/outbox"
	"rxgate/internal/repository"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ApprovalEventPayload is the body of a consult.approved event.
type ApprovalEventPayload struct {
	ApprovalID     uuid.UUID  `json:"approval_id"`
	ConsultationID uuid.UUID  `json:"consultation_id,omitempty"`
	BusinessID     uuid.UUID  `json:"business_id"`
	CustomerID     uuid.UUID  `json:"customer_id"`
	ProductID      uuid.UUID  `json:"product_id"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// NewApprovalEvent builds the outbox event for an approved approval. The
// completion path and the reconciler both go through here so they agree on
// the dedupe key.
func NewApprovalEvent(a approval.ConsultApproval, now time.Time) (*outbox.OutboxEvent, error) {
	raw, err := json.Marshal(ApprovalEventPayload{
		ApprovalID:     a.ID,
		ConsultationID: a.ConsultationID.UUID,
		BusinessID:     a.BusinessID,
		CustomerID:     a.CustomerID,
		ProductID:      a.ProductID,
		ApprovedAt:     a.ApprovedAt,
		ExpiresAt:      a.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}
	return &outbox.OutboxEvent{
		ID:         uuid.New(),
		BusinessID: a.BusinessID,
		Type:       outbox.TypeConsultApproved,
		DedupeKey:  outbox.ApprovalDedupeKey(a.ID),
		Payload:    datatypes.JSON(raw),
		Status:     outbox.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func enqueueApprovalEvent(ctx context.Context, repo repository.OutboxRepository, a approval.ConsultApproval, now time.Time) (bool, error) {
	if repo == nil {
		return false, nil
	}
	evt, err := NewApprovalEvent(a, now)
	if err != nil {
		return false, err
	}
	return repo.CreateOnce(ctx, evt)
}
