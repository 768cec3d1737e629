package services

import (
	"context"
	"errors"

	"rxgate/internal/domain/approval"
	"rxgate/internal/repository"
	rxgate_errors "rxgate/pkg/errors"
	"rxgate/pkg/logger"

	"github.com/google/uuid"
)

// CartItem is one candidate line item. Either id may be absent.
type CartItem struct {
	ProductID uuid.NullUUID
	VariantID uuid.NullUUID
}

// PurchaseGate decides whether a cart mutation may proceed.
type PurchaseGate struct {
	catalog   repository.CatalogRepository
	approvals *ApprovalService
}

func NewPurchaseGate(catalog repository.CatalogRepository, approvals *ApprovalService) *PurchaseGate {
	return &PurchaseGate{catalog: catalog, approvals: approvals}
}

// Check stops at the first failing item. Any failure blocks the whole request.
func (g *PurchaseGate) Check(ctx context.Context, businessID uuid.UUID, items []CartItem) error {
	return g.walk(ctx, businessID, items, true).first()
}

// ValidateAll evaluates every item and returns one error per failing product.
func (g *PurchaseGate) ValidateAll(ctx context.Context, businessID uuid.UUID, items []CartItem) []error {
	return g.walk(ctx, businessID, items, false)
}

type gateErrors []error

func (e gateErrors) first() error {
	if len(e) == 0 {
		return nil
	}
	return e[0]
}

func (g *PurchaseGate) walk(ctx context.Context, businessID uuid.UUID, items []CartItem, failFast bool) gateErrors {
	var errs gateErrors
	seen := make(map[uuid.UUID]bool, len(items))
	for _, item := range items {
		productIDs, err := g.resolve(ctx, item)
		if err != nil {
			errs = append(errs, err)
		}
		for _, productID := range productIDs {
			if seen[productID] {
				continue
			}
			seen[productID] = true
			if err := g.checkProduct(ctx, businessID, productID); err != nil {
				errs = append(errs, err)
				if failFast {
					break
				}
			}
		}
		if failFast && len(errs) > 0 {
			return errs
		}
	}
	return errs
}

// resolve returns the products an item touches. An item naming both a product
// and a variant is checked against both, since the upstream may trust either.
func (g *PurchaseGate) resolve(ctx context.Context, item CartItem) ([]uuid.UUID, error) {
	var products []uuid.UUID
	if item.ProductID.Valid && item.ProductID.UUID != uuid.Nil {
		products = append(products, item.ProductID.UUID)
	}
	if !item.VariantID.Valid || item.VariantID.UUID == uuid.Nil {
		return products, nil
	}
	productID, ok, err := g.catalog.ResolveProductID(ctx, item.VariantID.UUID)
	if err != nil {
		return products, err
	}
	if !ok {
		logger.GetGlobalLogger().Ctx(ctx).Debugf("variant %s does not resolve to a product, skipping", item.VariantID.UUID)
		return products, nil
	}
	if len(products) == 0 || products[0] != productID {
		products = append(products, productID)
	}
	return products, nil
}

func (g *PurchaseGate) checkProduct(ctx context.Context, businessID, productID uuid.UUID) error {
	required, err := g.catalog.RequiresConsult(ctx, productID)
	if errors.Is(err, rxgate_errors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !required {
		return nil
	}
	id, ok := CustomerFrom(ctx)
	if !ok {
		return rxgate_errors.NewProductError(rxgate_errors.ErrUnauthorized, productID)
	}
	key := approval.Key{BusinessID: businessID, CustomerID: id.CustomerID, ProductID: productID}
	_, live, err := g.approvals.MatchLiveApproval(ctx, key)
	if err != nil {
		return err
	}
	if !live {
		return rxgate_errors.NewProductError(rxgate_errors.ErrConsultRequired, productID)
	}
	return nil
}
