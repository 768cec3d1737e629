package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rxgate/internal/domain/approval"
	"rxgate/internal/domain/commerce"
	"rxgate/internal/domain/consultation"
	"rxgate/internal/middleware"
	"rxgate/internal/repository/memory"
	"rxgate/internal/services"
	"rxgate/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type harness struct {
	store      *memory.Store
	auth       *services.AuthService
	router     *gin.Engine
	businessID uuid.UUID
	customerID uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	auditor := services.Auditor(nil)
	approvals := services.NewApprovalService(store.Approvals(), 90*24*time.Hour)
	consults := services.NewConsultationService(
		store.Consultations(), store.Clinicians(), store.Patients(), store.Intake(),
		store.Approvals(), store.Outbox(), store.Transactor(), auditor, 365*24*time.Hour,
	)
	intake := services.NewIntakeService(store.Intake(), auditor)
	purchase := services.NewPurchaseGate(store.Catalog(), approvals)
	fulfillment := services.NewFulfillmentGate(store.Orders(), store.Catalog(), approvals, auditor)

	h := &harness{
		store:      store,
		auth:       services.NewAuthService("test-secret", time.Hour),
		businessID: uuid.New(),
		customerID: uuid.New(),
	}

	r := gin.New()
	r.Use(middleware.ErrorHandler(logger.Nop()))
	r.Use(middleware.OptionalAuthMiddleware(h.auth))

	ch := NewConsultHandler(intake, consults)
	ah := NewApprovalHandler(approvals)
	gh := NewGateHandler(purchase, fulfillment)

	r.POST("/v1/consults", ch.Submit)
	r.POST("/v1/consultations/:id/complete", ch.Complete)
	r.POST("/v1/consultations/:id/cancel", ch.Cancel)
	r.POST("/v1/consultations/:id/transition", ch.Transition)
	r.GET("/v1/consultations/:id/events", ch.Events)
	r.GET("/v1/approvals/valid", ah.Valid)
	r.POST("/v1/gates/cart/check", gh.CheckCart)
	r.POST("/v1/gates/cart/validate", gh.ValidateCart)
	r.POST("/v1/orders/:id/status", gh.TransitionOrder)
	h.router = r
	return h
}

func (h *harness) customerToken(t *testing.T) string {
	t.Helper()
	tok, err := h.auth.IssueAccessToken(h.customerID.String(), services.RoleCustomer, h.businessID, h.customerID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (h *harness) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %q: %v", rec.Body.String(), err)
		}
	}
	return rec, env
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func (h *harness) product(requiresConsult bool) uuid.UUID {
	id := uuid.New()
	h.store.PutProduct(commerce.Product{ID: id, BusinessID: h.businessID, RequiresConsult: requiresConsult})
	return id
}

func (h *harness) approve(productID uuid.UUID, approvedAt time.Time) {
	expires := approvedAt.Add(365 * 24 * time.Hour)
	h.store.PutApproval(approval.ConsultApproval{
		ID:         uuid.New(),
		BusinessID: h.businessID,
		CustomerID: h.customerID,
		ProductID:  productID,
		Status:     approval.StatusApproved,
		ApprovedAt: &approvedAt,
		ExpiresAt:  &expires,
		CreatedAt:  approvedAt,
	})
}

func TestSubmitConsultIsIdempotent(t *testing.T) {
	h := newHarness(t)
	tok := h.customerToken(t)
	body := map[string]any{
		"product_id":          h.product(true).String(),
		"email":               "pat@example.com",
		"eligibility_answers": map[string]any{"pregnant": "no"},
		"consult_fee":         "49.00",
	}

	rec, env := h.do(t, http.MethodPost, "/v1/consults", tok, body)
	if rec.Code != http.StatusCreated || !env.Success {
		t.Fatalf("first submit: %d %s", rec.Code, rec.Body.String())
	}
	var first struct {
		ConsultationID string `json:"consultation_id"`
		Created        bool   `json:"created"`
	}
	_ = json.Unmarshal(env.Data, &first)

	rec, env = h.do(t, http.MethodPost, "/v1/consults", tok, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("second submit: %d %s", rec.Code, rec.Body.String())
	}
	var second struct {
		ConsultationID string `json:"consultation_id"`
		Created        bool   `json:"created"`
	}
	_ = json.Unmarshal(env.Data, &second)
	if !first.Created || second.Created || first.ConsultationID != second.ConsultationID {
		t.Fatalf("expected one consultation, got %+v then %+v", first, second)
	}
}

func TestSubmitConsultErrors(t *testing.T) {
	h := newHarness(t)
	productID := h.product(true).String()

	rec, env := h.do(t, http.MethodPost, "/v1/consults", "", map[string]any{"product_id": productID})
	if rec.Code != http.StatusUnauthorized || env.Code != "UNAUTHORIZED" {
		t.Fatalf("anonymous submit: %d %s", rec.Code, rec.Body.String())
	}

	rec, env = h.do(t, http.MethodPost, "/v1/consults", h.customerToken(t), map[string]any{
		"product_id":          productID,
		"email":               "pat@example.com",
		"eligibility_answers": []int{1, 2},
	})
	if rec.Code != http.StatusBadRequest || env.Code != "INVALID_INTAKE" {
		t.Fatalf("malformed answers: %d %s", rec.Code, rec.Body.String())
	}

	rec, _ = h.do(t, http.MethodPost, "/v1/consults", h.customerToken(t), map[string]any{"product_id": "nope"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad product id: %d", rec.Code)
	}
}

func TestRejectedCompletionNeedsReason(t *testing.T) {
	h := newHarness(t)
	started := time.Now().Add(-10 * time.Minute)
	c := consultation.Consultation{
		ID:         uuid.New(),
		BusinessID: h.businessID,
		CustomerID: h.customerID,
		ProductID:  h.product(true),
		Status:     consultation.StatusInProgress,
		StartedAt:  &started,
	}
	h.store.PutConsultation(c)

	path := "/v1/consultations/" + c.ID.String() + "/complete"
	rec, env := h.do(t, http.MethodPost, path, "", map[string]any{"outcome": "rejected"})
	if rec.Code != http.StatusBadRequest || env.Code != "MISSING_REJECTION_REASON" {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}

	rec, env = h.do(t, http.MethodPost, "/v1/consultations/"+c.ID.String()+"/transition", "", map[string]any{"status": "draft"})
	if rec.Code != http.StatusConflict || env.Code != "INVALID_TRANSITION" {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
	if !bytes.Contains(env.Data, []byte(c.ID.String())) {
		t.Fatalf("expected consultation id in error details: %s", env.Data)
	}
}

func TestValidApproval(t *testing.T) {
	h := newHarness(t)
	fresh := h.product(true)
	stale := h.product(true)
	h.approve(fresh, time.Now().Add(-10*24*time.Hour))
	h.approve(stale, time.Now().Add(-91*24*time.Hour))

	for _, tc := range []struct {
		product uuid.UUID
		want    bool
	}{{fresh, true}, {stale, false}} {
		rec, env := h.do(t, http.MethodGet, "/v1/approvals/valid?product_id="+tc.product.String(), h.customerToken(t), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status %d %s", rec.Code, rec.Body.String())
		}
		var got struct {
			Valid bool `json:"valid"`
		}
		_ = json.Unmarshal(env.Data, &got)
		if got.Valid != tc.want {
			t.Fatalf("product %s: valid=%v want %v", tc.product, got.Valid, tc.want)
		}
	}
}

func TestCartCheckAndValidate(t *testing.T) {
	h := newHarness(t)
	tok := h.customerToken(t)
	a, b, otc := h.product(true), h.product(true), h.product(false)
	items := map[string]any{"items": []map[string]any{
		{"product_id": otc.String()},
		{"product_id": a.String()},
		{"product_id": b.String()},
	}}

	rec, env := h.do(t, http.MethodPost, "/v1/gates/cart/check", tok, items)
	if rec.Code != http.StatusForbidden || env.Code != "CONSULT_REQUIRED" {
		t.Fatalf("check: %d %s", rec.Code, rec.Body.String())
	}
	if !bytes.Contains(env.Data, []byte(a.String())) {
		t.Fatalf("expected first failing product in details: %s", env.Data)
	}

	rec, env = h.do(t, http.MethodPost, "/v1/gates/cart/validate", tok, items)
	if rec.Code != http.StatusOK {
		t.Fatalf("validate: %d %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Allowed    bool `json:"allowed"`
		Violations []struct {
			ProductID string `json:"product_id"`
			Code      string `json:"code"`
		} `json:"violations"`
	}
	_ = json.Unmarshal(env.Data, &result)
	if result.Allowed || len(result.Violations) != 2 {
		t.Fatalf("unexpected result %+v", result)
	}

	h.approve(a, time.Now().Add(-time.Hour))
	h.approve(b, time.Now().Add(-time.Hour))
	rec, _ = h.do(t, http.MethodPost, "/v1/gates/cart/check", tok, items)
	if rec.Code != http.StatusOK {
		t.Fatalf("check after approval: %d %s", rec.Code, rec.Body.String())
	}
}

func TestOrderStatusRunsFulfillmentGate(t *testing.T) {
	h := newHarness(t)
	productID := h.product(true)
	orderID := uuid.New()
	h.store.PutOrder(commerce.Order{
		ID:                   orderID,
		BusinessID:           h.businessID,
		CustomerID:           uuid.NullUUID{UUID: h.customerID, Valid: true},
		Status:               commerce.OrderPending,
		RequiresConsultation: true,
		Items:                []commerce.OrderItem{{ID: uuid.New(), OrderID: orderID, ProductID: uuid.NullUUID{UUID: productID, Valid: true}, Quantity: 1}},
	})
	path := "/v1/orders/" + orderID.String() + "/status"

	rec, env := h.do(t, http.MethodPost, path, "", map[string]string{"status": "processing"})
	if rec.Code != http.StatusForbidden || env.Code != "CONSULT_APPROVAL_REQUIRED_FOR_FULFILLMENT" {
		t.Fatalf("denied transition: %d %s", rec.Code, rec.Body.String())
	}

	h.approve(productID, time.Now().Add(-time.Hour))
	rec, env = h.do(t, http.MethodPost, path, "", map[string]string{"status": "processing"})
	if rec.Code != http.StatusOK {
		t.Fatalf("allowed transition: %d %s", rec.Code, rec.Body.String())
	}
	if !bytes.Contains(env.Data, []byte(`"processing"`)) {
		t.Fatalf("unexpected order %s", env.Data)
	}
}

func TestStaffTokenForAnotherBusinessSeesNotFound(t *testing.T) {
	h := newHarness(t)
	started := time.Now().Add(-10 * time.Minute)
	productID := h.product(true)
	c := consultation.Consultation{
		ID:         uuid.New(),
		BusinessID: h.businessID,
		CustomerID: h.customerID,
		ProductID:  productID,
		Status:     consultation.StatusInProgress,
		StartedAt:  &started,
	}
	h.store.PutConsultation(c)
	orderID := uuid.New()
	h.store.PutOrder(commerce.Order{
		ID:         orderID,
		BusinessID: h.businessID,
		CustomerID: uuid.NullUUID{UUID: h.customerID, Valid: true},
		Status:     commerce.OrderPending,
	})

	foreign, err := h.auth.IssueAccessToken("dr-x", services.RoleClinician, uuid.New(), uuid.Nil)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	rec, env := h.do(t, http.MethodPost, "/v1/consultations/"+c.ID.String()+"/complete", foreign, map[string]any{"outcome": "approved"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("complete: %d %s", rec.Code, rec.Body.String())
	}
	for _, a := range h.store.AllApprovals() {
		if a.Status == approval.StatusApproved {
			t.Fatalf("foreign completion issued an approval (%s)", env.Code)
		}
	}

	rec, _ = h.do(t, http.MethodPost, "/v1/orders/"+orderID.String()+"/status", foreign, map[string]string{"status": "processing"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("order status: %d %s", rec.Code, rec.Body.String())
	}

	own, _ := h.auth.IssueAccessToken("dr-a", services.RoleClinician, h.businessID, uuid.Nil)
	rec, _ = h.do(t, http.MethodPost, "/v1/consultations/"+c.ID.String()+"/complete", own, map[string]any{"outcome": "approved"})
	if rec.Code != http.StatusOK {
		t.Fatalf("own complete: %d %s", rec.Code, rec.Body.String())
	}
}
