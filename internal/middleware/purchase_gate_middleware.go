package middleware

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"rxgate/internal/metrics"
	"rxgate/internal/services"
	"rxgate/internal/transport/httpdto"
	rxgate_errors "rxgate/pkg/errors"
	"rxgate/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	BusinessIDHeader = "X-Business-Id"
	maxCartBody      = 1 << 20
)

// PurchaseGateMiddleware checks every consult-required product in a cart
// mutation before the request reaches the commerce upstream. The body is
// restored for the next handler.
func PurchaseGateMiddleware(gate *services.PurchaseGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCartBody+1))
		if err != nil {
			abortWith(c, fmt.Errorf("%w: unreadable body", rxgate_errors.ErrInvalidInput))
			return
		}
		if len(body) > maxCartBody {
			c.JSON(http.StatusRequestEntityTooLarge, httpdto.NewErrorResponse("request body too large", "BODY_TOO_LARGE"))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		reqs, err := httpdto.ParseCartPayload(body)
		if err != nil {
			abortWith(c, err)
			return
		}
		items, err := toCartItems(reqs)
		if err != nil {
			abortWith(c, err)
			return
		}
		if len(items) == 0 {
			c.Next()
			return
		}

		businessID, err := businessFor(c)
		if err != nil {
			abortWith(c, err)
			return
		}
		if err := gate.Check(c.Request.Context(), businessID, items); err != nil {
			metrics.GateDecisionsTotal.WithLabelValues("purchase", "deny").Inc()
			abortWith(c, err)
			return
		}
		metrics.GateDecisionsTotal.WithLabelValues("purchase", "allow").Inc()
		c.Next()
	}
}

func toCartItems(reqs []httpdto.CartItemRequest) ([]services.CartItem, error) {
	items := make([]services.CartItem, 0, len(reqs))
	for _, r := range reqs {
		product, variant, err := r.IDs()
		if err != nil {
			return nil, err
		}
		if !product.Valid && !variant.Valid {
			continue
		}
		items = append(items, services.CartItem{ProductID: product, VariantID: variant})
	}
	return items, nil
}

// businessFor prefers the token's business over the header.
func businessFor(c *gin.Context) (uuid.UUID, error) {
	if id, ok := services.IdentityFrom(c.Request.Context()); ok && id.BusinessID != uuid.Nil {
		return id.BusinessID, nil
	}
	raw := c.GetHeader(BusinessIDHeader)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s header", rxgate_errors.ErrInvalidInput, BusinessIDHeader)
	}
	return id, nil
}

func abortWith(c *gin.Context, err error) {
	status, resp := httpdto.FromError(err)
	if status >= http.StatusInternalServerError {
		logger.GetGlobalLogger().Ctx(c.Request.Context()).Errorf("purchase gate: %v", err)
	}
	c.AbortWithStatusJSON(status, resp)
}
