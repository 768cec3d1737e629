package repository

import (
	"context"
	"errors"
	"time"

	"rxgate/internal/domain/approval"
	"rxgate/internal/domain/consultation"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresIntakeRepository struct {
	db *gorm.DB
}

func NewIntakeRepository(db *gorm.DB) IntakeRepository {
	return &PostgresIntakeRepository{db: db}
}

// CreateIfAbsent relies on idx_consult_submissions_active. Concurrent inserts
// for the same key serialize on that index: the loser's ON CONFLICT DO NOTHING
// waits for the winner to commit and then reads the winner's rows.
func (r *PostgresIntakeRepository) CreateIfAbsent(ctx context.Context, in IntakeRecord) (IntakeRecord, bool, error) {
	var out IntakeRecord
	created := false

	err := conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		patient := in.Patient
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "business_id"}, {Name: "customer_id"}},
			DoNothing: true,
		}).Create(&patient).Error; err != nil {
			return err
		}
		if err := tx.Where("business_id = ? AND customer_id = ?", patient.BusinessID, patient.CustomerID).
			First(&out.Patient).Error; err != nil {
			return err
		}

		sub := in.Submission
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&sub)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return loadExistingIntake(tx, sub, &out)
		}
		created = true

		c := in.Consultation
		c.PatientID = out.Patient.ID
		c.OriginatingSubmissionID = uuid.NullUUID{UUID: sub.ID, Valid: true}
		if err := tx.Create(&c).Error; err != nil {
			return err
		}

		a := in.Approval
		if err := tx.Create(&a).Error; err != nil {
			return err
		}

		sub.ConsultationID = uuid.NullUUID{UUID: c.ID, Valid: true}
		if err := tx.Model(&consultation.Submission{}).
			Where("id = ?", sub.ID).
			Update("consultation_id", c.ID).Error; err != nil {
			return err
		}

		out.Submission = sub
		out.Consultation = c
		out.Approval = a
		return nil
	})
	if err != nil {
		return IntakeRecord{}, false, translate(err)
	}
	return out, created, nil
}

func loadExistingIntake(tx *gorm.DB, sub consultation.Submission, out *IntakeRecord) error {
	if err := tx.Where("business_id = ? AND customer_id = ? AND product_id = ? AND status = ?",
		sub.BusinessID, sub.CustomerID, sub.ProductID, consultation.SubmissionPending).
		First(&out.Submission).Error; err != nil {
		return err
	}

	q := tx.Where("originating_submission_id = ?", out.Submission.ID)
	if out.Submission.ConsultationID.Valid {
		q = tx.Where("id = ?", out.Submission.ConsultationID.UUID)
	}
	if err := q.First(&out.Consultation).Error; err != nil {
		return err
	}

	err := tx.Where("business_id = ? AND customer_id = ? AND product_id = ? AND status = ?",
		sub.BusinessID, sub.CustomerID, sub.ProductID, approval.StatusPending).
		Order("created_at DESC").
		First(&out.Approval).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}

func (r *PostgresIntakeRepository) MarkSubmissionReviewed(ctx context.Context, submissionID uuid.UUID) error {
	return rowsOrNotFound(conn(ctx, r.db).
		Model(&consultation.Submission{}).
		Where("id = ?", submissionID).
		Updates(map[string]interface{}{
			"status":     consultation.SubmissionReviewed,
			"updated_at": time.Now(),
		}))
}
