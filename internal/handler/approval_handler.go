package handler

import (
	"net/http"

	"rxgate/internal/domain/approval"
	"rxgate/internal/services"
	"rxgate/internal/transport/httpdto"
	rxgate_errors "rxgate/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ApprovalHandler struct {
	approvals *services.ApprovalService
}

func NewApprovalHandler(approvals *services.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{approvals: approvals}
}

// Valid reports whether the calling customer holds a fresh approval for
// the product in the query string.
func (h *ApprovalHandler) Valid(c *gin.Context) {
	productID, err := uuid.Parse(c.Query("product_id"))
	if err != nil {
		invalid(c, "invalid product_id")
		return
	}
	id, ok := services.CustomerFrom(c.Request.Context())
	if !ok {
		fail(c, rxgate_errors.ErrUnauthorized)
		return
	}
	valid, err := h.approvals.HasValidApproval(c.Request.Context(), approval.Key{
		BusinessID: id.BusinessID,
		CustomerID: id.CustomerID,
		ProductID:  productID,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ValidApprovalResponse{
		ProductID: productID.String(),
		Valid:     valid,
	}))
}
