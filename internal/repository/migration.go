package repository

import (
	"fmt"

	"rxgate/internal/domain/approval"
	"rxgate/internal/domain/commerce"
	"rxgate/internal/domain/consultation"
	"rxgate/internal/domain/outbox"

	"gorm.io/gorm"
)

// Models lists every table owned by the service, in creation order.
func Models() []any {
	return []any{
		&consultation.Clinician{},
		&consultation.Patient{},
		&consultation.Submission{},
		&consultation.Consultation{},
		&consultation.StatusEvent{},
		&approval.ConsultApproval{},
		&outbox.OutboxEvent{},
		&outbox.OutboxEventDelivery{},
		&commerce.Product{},
		&commerce.ProductVariant{},
		&commerce.Order{},
		&commerce.OrderItem{},
		&commerce.BusinessSettings{},
	}
}

// partialIndexes back the intake deduplicator. gorm tags cannot express a
// WHERE clause, so they are created here.
var partialIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_consult_submissions_active
		ON consult_submissions (business_id, customer_id, product_id)
		WHERE status = 'pending' AND deleted_at IS NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_consult_approvals_pending
		ON consult_approvals (business_id, customer_id, product_id)
		WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_consult_approvals_approved_at
		ON consult_approvals (approved_at)
		WHERE status = 'approved'`,
}

// InitSchema creates extensions, tables and the partial indexes.
func InitSchema(db *gorm.DB) error {
	// gen_random_uuid() lives in pgcrypto before Postgres 13.
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto";`).Error; err != nil {
		return fmt.Errorf("failed to create extension pgcrypto: %w", err)
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}

	for _, stmt := range partialIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// DropSchema removes every table owned by the service.
func DropSchema(db *gorm.DB) error {
	models := Models()
	for i := len(models) - 1; i >= 0; i-- {
		if err := db.Migrator().DropTable(models[i]); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}
	return nil
}
