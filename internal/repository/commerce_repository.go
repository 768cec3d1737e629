package repository

import (
	"context"
	"errors"
	"time"

	"rxgate/internal/domain/commerce"
	rxgate_errors "rxgate/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresCatalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &PostgresCatalogRepository{db: db}
}

func (r *PostgresCatalogRepository) RequiresConsult(ctx context.Context, productID uuid.UUID) (bool, error) {
	var p commerce.Product
	err := conn(ctx, r.db).
		Select("id", "requires_consult").
		Where("id = ?", productID).
		First(&p).Error
	if err != nil {
		return false, translate(err)
	}
	return p.RequiresConsult, nil
}

func (r *PostgresCatalogRepository) ResolveProductID(ctx context.Context, variantID uuid.UUID) (uuid.UUID, bool, error) {
	var v commerce.ProductVariant
	err := conn(ctx, r.db).Where("id = ?", variantID).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return v.ProductID, true, nil
}

type PostgresOrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &PostgresOrderRepository{db: db}
}

func (r *PostgresOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (commerce.Order, error) {
	var o commerce.Order
	err := conn(ctx, r.db).
		Preload("Items").
		Preload("Items.Product").
		Where("id = ?", id).
		First(&o).Error
	if err != nil {
		return commerce.Order{}, translate(err)
	}
	return o, nil
}

// UpdateStatus applies the order's own transition rules; consult gating
// happens before this is called.
func (r *PostgresOrderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, to commerce.OrderStatus) error {
	return conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		var o commerce.Order
		if err := tx.Where("id = ?", id).First(&o).Error; err != nil {
			return translate(err)
		}
		if !commerce.CanTransition(o.Status, to) {
			return rxgate_errors.ErrInvalidTransition
		}
		res := tx.Model(&commerce.Order{}).
			Where("id = ? AND status = ?", id, o.Status).
			Updates(map[string]interface{}{
				"status":     to,
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return rxgate_errors.ErrConflict
		}
		return nil
	})
}

type PostgresBusinessSettingsRepository struct {
	db *gorm.DB
}

func NewBusinessSettingsRepository(db *gorm.DB) BusinessSettingsRepository {
	return &PostgresBusinessSettingsRepository{db: db}
}

func (r *PostgresBusinessSettingsRepository) GetByBusinessID(ctx context.Context, businessID uuid.UUID) (commerce.BusinessSettings, error) {
	var s commerce.BusinessSettings
	if err := conn(ctx, r.db).Where("business_id = ?", businessID).First(&s).Error; err != nil {
		return commerce.BusinessSettings{}, translate(err)
	}
	return s, nil
}
