package handler

import (
	"net/http"

	"rxgate/internal/domain/consultation"
	"rxgate/internal/repository"
	"rxgate/internal/services"
	"rxgate/internal/transport/httpdto"
	rxgate_errors "rxgate/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ConsultHandler struct {
	intake   *services.IntakeService
	consults *services.ConsultationService
}

func NewConsultHandler(intake *services.IntakeService, consults *services.ConsultationService) *ConsultHandler {
	return &ConsultHandler{intake: intake, consults: consults}
}

// Submit records a consult request for the calling customer. Repeated
// submissions for the same product return the existing records.
func (h *ConsultHandler) Submit(c *gin.Context) {
	var req httpdto.SubmitConsultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return
	}
	id, ok := services.CustomerFrom(c.Request.Context())
	if !ok {
		fail(c, rxgate_errors.ErrUnauthorized)
		return
	}
	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		invalid(c, "invalid product_id")
		return
	}

	rec, created, err := h.intake.Submit(c.Request.Context(), services.IntakeInput{
		BusinessID:         id.BusinessID,
		CustomerID:         id.CustomerID,
		Email:              req.Email,
		FirstName:          req.FirstName,
		LastName:           req.LastName,
		Phone:              req.Phone,
		ProductID:          productID,
		EligibilityAnswers: req.EligibilityAnswers,
		ConsultFee:         req.ConsultFee,
		Notes:              req.Notes,
		Mode:               consultation.Mode(req.Mode),
	})
	if err != nil {
		fail(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, httpdto.NewSuccessResponse(fromIntakeRecord(rec, created)))
}

func fromIntakeRecord(rec repository.IntakeRecord, created bool) httpdto.SubmitConsultResponse {
	return httpdto.SubmitConsultResponse{
		SubmissionID:   rec.Submission.ID.String(),
		ConsultationID: rec.Consultation.ID.String(),
		ApprovalID:     rec.Approval.ID.String(),
		PatientID:      rec.Patient.ID.String(),
		Created:        created,
	}
}

func (h *ConsultHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	item, err := h.consults.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(item))
}

func (h *ConsultHandler) AssignClinician(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req httpdto.AssignClinicianRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return
	}
	clinicianID, err := uuid.Parse(req.ClinicianID)
	if err != nil {
		fail(c, rxgate_errors.ErrClinicianNotFound)
		return
	}
	item, err := h.consults.AssignClinician(c.Request.Context(), id, clinicianID, services.ActorFrom(c.Request.Context()))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(item))
}

func (h *ConsultHandler) Schedule(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req httpdto.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return
	}
	item, err := h.consults.Schedule(c.Request.Context(), id, req.ScheduledAt, services.ActorFrom(c.Request.Context()))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(item))
}

func (h *ConsultHandler) Start(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	item, err := h.consults.Start(c.Request.Context(), id, services.ActorFrom(c.Request.Context()))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(item))
}

func (h *ConsultHandler) Complete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req httpdto.CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return
	}
	item, err := h.consults.Complete(c.Request.Context(), id, services.CompleteInput{
		Outcome:             consultation.Outcome(req.Outcome),
		RejectionReason:     req.RejectionReason,
		ApprovedProductRefs: req.ApprovedProductRefs,
	}, services.ActorFrom(c.Request.Context()))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(item))
}

func (h *ConsultHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req httpdto.CancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			invalid(c, "invalid request")
			return
		}
	}
	item, err := h.consults.Cancel(c.Request.Context(), id, req.Reason, services.ActorFrom(c.Request.Context()))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(item))
}

// Transition moves the consultation along any edge of the state machine.
// A move to completed must go through Complete.
func (h *ConsultHandler) Transition(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req httpdto.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return
	}
	item, err := h.consults.TransitionStatus(c.Request.Context(), id, consultation.Status(req.Status), services.ActorFrom(c.Request.Context()), req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(item))
}

func (h *ConsultHandler) Events(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	events, err := h.consults.ListStatusEvents(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(events))
}

func (h *ConsultHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.consults.SoftDelete(c.Request.Context(), id, services.ActorFrom(c.Request.Context())); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ConsultHandler) Restore(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	item, err := h.consults.Restore(c.Request.Context(), id, services.ActorFrom(c.Request.Context()))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(item))
}
