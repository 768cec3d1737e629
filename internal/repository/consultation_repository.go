package repository

import (
	"context"
	"time"

	"rxgate/internal/domain/consultation"
	rxgate_errors "rxgate/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresConsultationRepository struct {
	db *gorm.DB
}

func NewConsultationRepository(db *gorm.DB) ConsultationRepository {
	return &PostgresConsultationRepository{db: db}
}

var mutableConsultationColumns = []string{
	"status",
	"scheduled_at",
	"started_at",
	"ended_at",
	"duration_minutes",
	"outcome",
	"rejection_reason",
	"approved_product_refs",
	"order_id",
	"updated_at",
}

func (r *PostgresConsultationRepository) Create(ctx context.Context, c *consultation.Consultation) error {
	return translate(conn(ctx, r.db).Create(c).Error)
}

func (r *PostgresConsultationRepository) GetByID(ctx context.Context, id uuid.UUID) (consultation.Consultation, error) {
	var c consultation.Consultation
	err := conn(ctx, r.db).Where("id = ?", id).First(&c).Error
	if err != nil {
		return consultation.Consultation{}, translate(err)
	}
	return c, nil
}

func (r *PostgresConsultationRepository) UpdateIfStatus(ctx context.Context, c consultation.Consultation, expected consultation.Status) error {
	c.UpdatedAt = time.Now()
	res := conn(ctx, r.db).
		Model(&consultation.Consultation{}).
		Where("id = ? AND status = ?", c.ID, expected).
		Select(mutableConsultationColumns).
		Updates(&c)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, c.ID); err != nil {
			return err
		}
		return rxgate_errors.ErrConflict
	}
	return nil
}

func (r *PostgresConsultationRepository) AssignClinician(ctx context.Context, id, clinicianID uuid.UUID) error {
	res := conn(ctx, r.db).
		Model(&consultation.Consultation{}).
		Where("id = ? AND status NOT IN ?", id, []consultation.Status{
			consultation.StatusCompleted,
			consultation.StatusCancelled,
			consultation.StatusNoShow,
		}).
		Updates(map[string]interface{}{
			"clinician_id": clinicianID,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return rxgate_errors.ErrConflict
	}
	return nil
}

func (r *PostgresConsultationRepository) AppendStatusEvent(ctx context.Context, e *consultation.StatusEvent) error {
	return translate(conn(ctx, r.db).Create(e).Error)
}

func (r *PostgresConsultationRepository) ListStatusEvents(ctx context.Context, id uuid.UUID) ([]consultation.StatusEvent, error) {
	var events []consultation.StatusEvent
	err := conn(ctx, r.db).
		Where("consultation_id = ?", id).
		Order("created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *PostgresConsultationRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return rowsOrNotFound(conn(ctx, r.db).Delete(&consultation.Consultation{}, "id = ?", id))
}

func (r *PostgresConsultationRepository) Restore(ctx context.Context, id uuid.UUID) error {
	res := conn(ctx, r.db).
		Unscoped().
		Model(&consultation.Consultation{}).
		Where("id = ? AND deleted_at IS NOT NULL", id).
		Update("deleted_at", nil)
	return rowsOrNotFound(res)
}

type PostgresClinicianRepository struct {
	db *gorm.DB
}

func NewClinicianRepository(db *gorm.DB) ClinicianRepository {
	return &PostgresClinicianRepository{db: db}
}

func (r *PostgresClinicianRepository) GetByID(ctx context.Context, id uuid.UUID) (consultation.Clinician, error) {
	var c consultation.Clinician
	err := conn(ctx, r.db).Where("id = ? AND is_active = true", id).First(&c).Error
	if err != nil {
		return consultation.Clinician{}, translate(err)
	}
	return c, nil
}

type PostgresPatientRepository struct {
	db *gorm.DB
}

func NewPatientRepository(db *gorm.DB) PatientRepository {
	return &PostgresPatientRepository{db: db}
}

func (r *PostgresPatientRepository) GetByID(ctx context.Context, id uuid.UUID) (consultation.Patient, error) {
	var p consultation.Patient
	err := conn(ctx, r.db).Where("id = ?", id).First(&p).Error
	if err != nil {
		return consultation.Patient{}, translate(err)
	}
	return p, nil
}
