package services

import (
	"context"
	"errors"

	"rxgate/internal/domain/approval"
	"rxgate/internal/domain/commerce"
	"rxgate/internal/repository"
	rxgate_errors "rxgate/pkg/errors"
	"rxgate/pkg/logger"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// FulfillmentGate guards order transitions into fulfillment stages. It reads
// approvals on every call; nothing is cached between attempts.
type FulfillmentGate struct {
	orders    repository.OrderRepository
	catalog   repository.CatalogRepository
	approvals *ApprovalService
	auditor   Auditor
}

func NewFulfillmentGate(orders repository.OrderRepository, catalog repository.CatalogRepository, approvals *ApprovalService, auditor Auditor) *FulfillmentGate {
	return &FulfillmentGate{orders: orders, catalog: catalog, approvals: approvals, auditor: auditor}
}

func denyFulfillment(productID uuid.UUID) error {
	return rxgate_errors.NewProductError(rxgate_errors.ErrConsultApprovalRequiredForFulfillment, productID)
}

// CheckOrder returns nil when the order may enter status to.
func (g *FulfillmentGate) CheckOrder(ctx context.Context, orderID uuid.UUID, to commerce.OrderStatus) error {
	if !commerce.FulfillmentStages[to] {
		return nil
	}
	order, err := g.load(ctx, orderID)
	if err != nil {
		return err
	}
	return g.check(ctx, order)
}

// load reads an order visible to the caller. Another business's order reads
// as not found.
func (g *FulfillmentGate) load(ctx context.Context, orderID uuid.UUID) (commerce.Order, error) {
	order, err := g.orders.GetByID(ctx, orderID)
	if err != nil {
		return commerce.Order{}, err
	}
	if !VisibleToCaller(ctx, order.BusinessID) {
		return commerce.Order{}, rxgate_errors.ErrNotFound
	}
	return order, nil
}

func (g *FulfillmentGate) check(ctx context.Context, order commerce.Order) error {
	required, determined, err := g.requiredProducts(ctx, order)
	if err != nil {
		return err
	}
	if order.RequiresConsultation && (!determined || len(required) == 0) {
		logger.GetGlobalLogger().Ctx(ctx).Warnf("order %s requires consultation but its consult products are unknown, denying", order.ID)
		return denyFulfillment(uuid.Nil)
	}
	if len(required) == 0 {
		return nil
	}
	if !order.CustomerID.Valid {
		return denyFulfillment(required[0])
	}
	for _, productID := range required {
		key := approval.Key{BusinessID: order.BusinessID, CustomerID: order.CustomerID.UUID, ProductID: productID}
		_, live, err := g.approvals.MatchLiveApproval(ctx, key)
		if err != nil {
			return err
		}
		if !live {
			return denyFulfillment(productID)
		}
	}
	return nil
}

// requiredProducts prefers the order's precomputed list, then preloaded
// item products, then catalog lookups. determined is false when any item
// could not be classified.
func (g *FulfillmentGate) requiredProducts(ctx context.Context, order commerce.Order) ([]uuid.UUID, bool, error) {
	if order.ConsultProductIDs != nil {
		return lo.Uniq([]uuid.UUID(order.ConsultProductIDs)), true, nil
	}

	var required []uuid.UUID
	determined := true
	for _, item := range order.Items {
		if item.Product != nil {
			if item.Product.RequiresConsult {
				required = append(required, item.Product.ID)
			}
			continue
		}
		productID := item.ProductID.UUID
		if !item.ProductID.Valid {
			if !item.VariantID.Valid {
				determined = false
				continue
			}
			resolved, ok, err := g.catalog.ResolveProductID(ctx, item.VariantID.UUID)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				determined = false
				continue
			}
			productID = resolved
		}
		needs, err := g.catalog.RequiresConsult(ctx, productID)
		if errors.Is(err, rxgate_errors.ErrNotFound) {
			determined = false
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if needs {
			required = append(required, productID)
		}
	}
	return lo.Uniq(required), determined, nil
}

// TransitionOrder runs the gate and, only if it passes, asks the order
// collaborator to apply the transition.
func (g *FulfillmentGate) TransitionOrder(ctx context.Context, orderID uuid.UUID, to commerce.OrderStatus, actor string) (commerce.Order, error) {
	order, err := g.load(ctx, orderID)
	if err != nil {
		return commerce.Order{}, err
	}
	if commerce.FulfillmentStages[to] {
		if err := g.check(ctx, order); err != nil {
			RecordAudit(ctx, g.auditor, AuditRecord{
				Actor:      actor,
				Action:     "order.fulfillment_blocked",
				EntityType: "order",
				EntityID:   order.ID,
				BusinessID: order.BusinessID,
				RiskLevel:  RiskHigh,
				Changes:    map[string]any{"to": to, "error": err.Error()},
			})
			return order, err
		}
	}
	from := order.Status
	if err := g.orders.UpdateStatus(ctx, orderID, to); err != nil {
		return order, err
	}
	order.Status = to
	RecordAudit(ctx, g.auditor, AuditRecord{
		Actor:      actor,
		Action:     "order.status_changed",
		EntityType: "order",
		EntityID:   order.ID,
		BusinessID: order.BusinessID,
		RiskLevel:  RiskLow,
		Changes:    map[string]any{"from": from, "to": to},
	})
	return order, nil
}
