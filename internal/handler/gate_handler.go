package handler

import (
	"errors"
	"net/http"

	"rxgate/internal/domain/commerce"
	"rxgate/internal/metrics"
	"rxgate/internal/services"
	"rxgate/internal/transport/httpdto"
	rxgate_errors "rxgate/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type GateHandler struct {
	purchase    *services.PurchaseGate
	fulfillment *services.FulfillmentGate
}

func NewGateHandler(purchase *services.PurchaseGate, fulfillment *services.FulfillmentGate) *GateHandler {
	return &GateHandler{purchase: purchase, fulfillment: fulfillment}
}

// CheckCart answers the first failing item, like the cart middleware does.
func (h *GateHandler) CheckCart(c *gin.Context) {
	items, businessID, ok := h.bindCart(c)
	if !ok {
		return
	}
	if err := h.purchase.Check(c.Request.Context(), businessID, items); err != nil {
		recordGate("purchase", err)
		fail(c, err)
		return
	}
	recordGate("purchase", nil)
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.GateResult{Allowed: true}))
}

// ValidateCart reports every failing product instead of stopping at the first.
func (h *GateHandler) ValidateCart(c *gin.Context) {
	items, businessID, ok := h.bindCart(c)
	if !ok {
		return
	}
	errs := h.purchase.ValidateAll(c.Request.Context(), businessID, items)
	result := httpdto.GateResult{Allowed: len(errs) == 0}
	for _, err := range errs {
		var pe *rxgate_errors.ProductError
		if !errors.As(err, &pe) {
			fail(c, err)
			return
		}
		_, code := rxgate_errors.HTTPStatus(err)
		result.Violations = append(result.Violations, httpdto.GateViolation{
			ProductID: pe.ProductID.String(),
			Code:      code,
			Error:     pe.Err.Error(),
		})
	}
	if result.Allowed {
		recordGate("purchase", nil)
	} else {
		recordGate("purchase", errs[0])
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(result))
}

func (h *GateHandler) bindCart(c *gin.Context) ([]services.CartItem, uuid.UUID, bool) {
	var req httpdto.CartCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return nil, uuid.Nil, false
	}
	id, ok := services.IdentityFrom(c.Request.Context())
	if !ok {
		fail(c, rxgate_errors.ErrUnauthorized)
		return nil, uuid.Nil, false
	}
	items := make([]services.CartItem, 0, len(req.Items))
	for _, r := range req.Items {
		product, variant, err := r.IDs()
		if err != nil {
			fail(c, err)
			return nil, uuid.Nil, false
		}
		items = append(items, services.CartItem{ProductID: product, VariantID: variant})
	}
	return items, id.BusinessID, true
}

// CheckOrder evaluates the fulfillment gate without changing the order.
func (h *GateHandler) CheckOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req httpdto.OrderCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return
	}
	err := h.fulfillment.CheckOrder(c.Request.Context(), orderID, commerce.OrderStatus(req.Status))
	recordGate("fulfillment", err)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.GateResult{Allowed: true}))
}

// TransitionOrder runs the fulfillment gate and then moves the order.
func (h *GateHandler) TransitionOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req httpdto.OrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return
	}
	order, err := h.fulfillment.TransitionOrder(c.Request.Context(), orderID, commerce.OrderStatus(req.Status), services.ActorFrom(c.Request.Context()))
	recordGate("fulfillment", err)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromOrder(order)))
}

func recordGate(gate string, err error) {
	decision := "allow"
	switch {
	case err == nil:
	case errors.Is(err, rxgate_errors.ErrConsultRequired),
		errors.Is(err, rxgate_errors.ErrConsultApprovalRequiredForFulfillment),
		errors.Is(err, rxgate_errors.ErrUnauthorized):
		decision = "deny"
	default:
		decision = "error"
	}
	metrics.GateDecisionsTotal.WithLabelValues(gate, decision).Inc()
}
