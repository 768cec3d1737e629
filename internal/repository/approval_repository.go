package repository

import (
	"context"
	"errors"
	"time"

	"rxgate/internal/domain/approval"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresApprovalRepository struct {
	db *gorm.DB
}

func NewApprovalRepository(db *gorm.DB) ApprovalRepository {
	return &PostgresApprovalRepository{db: db}
}

func (r *PostgresApprovalRepository) LatestApproved(ctx context.Context, key approval.Key) (approval.ConsultApproval, error) {
	var a approval.ConsultApproval
	err := conn(ctx, r.db).
		Where("business_id = ? AND customer_id = ? AND product_id = ? AND status = ?",
			key.BusinessID, key.CustomerID, key.ProductID, approval.StatusApproved).
		Order("approved_at DESC NULLS LAST").
		Order("created_at DESC").
		First(&a).Error
	if err != nil {
		return approval.ConsultApproval{}, translate(err)
	}
	return a, nil
}

// findForConsultation locks the approval row completion should act on: the
// one already linked to the consultation, else the pending one for key.
func findForConsultation(tx *gorm.DB, key approval.Key, consultationID uuid.UUID) (approval.ConsultApproval, bool, error) {
	var a approval.ConsultApproval
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("consultation_id = ?", consultationID).
		Order("created_at DESC").
		First(&a).Error
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return a, false, err
	}
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND customer_id = ? AND product_id = ? AND status = ?",
			key.BusinessID, key.CustomerID, key.ProductID, approval.StatusPending).
		Order("created_at DESC").
		First(&a).Error
	if err == nil {
		return a, true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return a, false, nil
	}
	return a, false, err
}

func (r *PostgresApprovalRepository) Approve(ctx context.Context, key approval.Key, consultationID uuid.UUID, approvedAt time.Time, expiresAt *time.Time) (approval.ConsultApproval, error) {
	var out approval.ConsultApproval
	err := conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		existing, found, err := findForConsultation(tx, key, consultationID)
		if err != nil {
			return err
		}
		if !found {
			out = approval.ConsultApproval{
				ID:             uuid.New(),
				BusinessID:     key.BusinessID,
				CustomerID:     key.CustomerID,
				ProductID:      key.ProductID,
				ConsultationID: uuid.NullUUID{UUID: consultationID, Valid: true},
				Status:         approval.StatusApproved,
				ApprovedAt:     &approvedAt,
				ExpiresAt:      expiresAt,
				CreatedAt:      approvedAt,
				UpdatedAt:      approvedAt,
			}
			return tx.Create(&out).Error
		}
		existing.ConsultationID = uuid.NullUUID{UUID: consultationID, Valid: true}
		existing.Status = approval.StatusApproved
		existing.ApprovedAt = &approvedAt
		existing.ExpiresAt = expiresAt
		existing.UpdatedAt = approvedAt
		out = existing
		return tx.Model(&approval.ConsultApproval{}).
			Where("id = ?", existing.ID).
			Select("consultation_id", "status", "approved_at", "expires_at", "updated_at").
			Updates(&existing).Error
	})
	if err != nil {
		return approval.ConsultApproval{}, translate(err)
	}
	return out, nil
}

func (r *PostgresApprovalRepository) Reject(ctx context.Context, key approval.Key, consultationID uuid.UUID) error {
	return conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		existing, found, err := findForConsultation(tx, key, consultationID)
		if err != nil || !found {
			return err
		}
		return tx.Model(&approval.ConsultApproval{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{
				"consultation_id": consultationID,
				"status":          approval.StatusRejected,
				"updated_at":      time.Now(),
			}).Error
	})
}

func (r *PostgresApprovalRepository) ListApprovedSince(ctx context.Context, since time.Time, limit int) ([]approval.ConsultApproval, error) {
	var items []approval.ConsultApproval
	q := conn(ctx, r.db).
		Where("status = ? AND approved_at >= ?", approval.StatusApproved, since)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Order("approved_at DESC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
