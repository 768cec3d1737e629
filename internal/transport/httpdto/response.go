package httpdto

import (
	"errors"

	rxgate_errors "rxgate/pkg/errors"

	"github.com/google/uuid"
)

type Response[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func NewSuccessResponse[T any](data T) Response[T] {
	return Response[T]{
		Success: true,
		Data:    data,
	}
}

func NewErrorResponse(err string, code string) Response[any] {
	return Response[any]{
		Success: false,
		Error:   err,
		Code:    code,
	}
}

// ErrorDetails names the entity a domain error is about.
type ErrorDetails struct {
	ProductID      string `json:"product_id,omitempty"`
	ConsultationID string `json:"consultation_id,omitempty"`
}

// FromError maps err to a status and an error envelope. Internal errors are
// not echoed to the caller.
func FromError(err error) (int, Response[any]) {
	status, code := rxgate_errors.HTTPStatus(err)
	msg := err.Error()
	if code == "INTERNAL_ERROR" {
		msg = "internal error"
	}
	resp := NewErrorResponse(msg, code)

	var details ErrorDetails
	if productID, ok := rxgate_errors.ProductIDOf(err); ok && productID != uuid.Nil {
		details.ProductID = productID.String()
	}
	var ce *rxgate_errors.ConsultationError
	if errors.As(err, &ce) {
		details.ConsultationID = ce.ConsultationID.String()
	}
	if details != (ErrorDetails{}) {
		resp.Data = details
	}
	return status, resp
}

// GateViolation is one failing product in a validate-all response.
type GateViolation struct {
	ProductID string `json:"product_id,omitempty"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}

type GateResult struct {
	Allowed    bool            `json:"allowed"`
	Violations []GateViolation `json:"violations,omitempty"`
}
