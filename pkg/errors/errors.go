package rxgate_errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrInvalidInput  = errors.New("invalid input")
	ErrAlreadyExists = errors.New("already exists")
)

// Consultation lifecycle
var (
	ErrInvalidTransition         = errors.New("invalid status transition")
	ErrInvalidStateForCompletion = errors.New("consultation is not in progress")
	ErrMissingRejectionReason    = errors.New("rejection reason is required")
	ErrClinicianNotFound         = errors.New("clinician not found")
	ErrInvalidIntake             = errors.New("invalid intake")
)

// Gating
var (
	ErrUnauthorized                          = errors.New("unauthorized")
	ErrConsultRequired                       = errors.New("consultation required")
	ErrConsultApprovalRequiredForFulfillment = errors.New("consult approval required for fulfillment")
)

// Outbox delivery. These never leave the dispatcher.
var (
	ErrWebhookDeliveryFailed       = errors.New("webhook delivery failed")
	ErrWebhookConfigurationMissing = errors.New("webhook configuration missing")
)

// ProductError ties a gating failure to the product that caused it.
type ProductError struct {
	Err       error
	ProductID uuid.UUID
}

func (e *ProductError) Error() string {
	if e.ProductID == uuid.Nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: product %s", e.Err.Error(), e.ProductID)
}

func (e *ProductError) Unwrap() error {
	return e.Err
}

func NewProductError(err error, productID uuid.UUID) *ProductError {
	return &ProductError{Err: err, ProductID: productID}
}

// ConsultationError ties a state machine failure to the consultation it happened on.
type ConsultationError struct {
	Err            error
	ConsultationID uuid.UUID
	From           string
	To             string
}

func (e *ConsultationError) Error() string {
	if e.From != "" || e.To != "" {
		return fmt.Sprintf("%s: consultation %s (%s -> %s)", e.Err.Error(), e.ConsultationID, e.From, e.To)
	}
	return fmt.Sprintf("%s: consultation %s", e.Err.Error(), e.ConsultationID)
}

func (e *ConsultationError) Unwrap() error {
	return e.Err
}

func NewConsultationError(err error, id uuid.UUID, from, to string) *ConsultationError {
	return &ConsultationError{Err: err, ConsultationID: id, From: from, To: to}
}

// ProductIDOf returns the product carried by err, if any.
func ProductIDOf(err error) (uuid.UUID, bool) {
	var pe *ProductError
	if errors.As(err, &pe) {
		return pe.ProductID, true
	}
	return uuid.Nil, false
}

// HTTPStatus maps an error from the core onto a response status and code.
func HTTPStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, ErrConsultRequired):
		return http.StatusForbidden, "CONSULT_REQUIRED"
	case errors.Is(err, ErrConsultApprovalRequiredForFulfillment):
		return http.StatusForbidden, "CONSULT_APPROVAL_REQUIRED_FOR_FULFILLMENT"
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, ErrInvalidStateForCompletion):
		return http.StatusConflict, "INVALID_STATE_FOR_COMPLETION"
	case errors.Is(err, ErrMissingRejectionReason):
		return http.StatusBadRequest, "MISSING_REJECTION_REASON"
	case errors.Is(err, ErrClinicianNotFound):
		return http.StatusNotFound, "CLINICIAN_NOT_FOUND"
	case errors.Is(err, ErrInvalidIntake):
		return http.StatusBadRequest, "INVALID_INTAKE"
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, ErrConflict), errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict, "CONFLICT"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
