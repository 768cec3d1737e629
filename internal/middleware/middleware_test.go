package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rxgate/internal/domain/approval"
	"rxgate/internal/domain/commerce"
	"rxgate/internal/repository/memory"
	"rxgate/internal/services"
	rxgate_errors "rxgate/pkg/errors"
	"rxgate/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type gateHarness struct {
	store      *memory.Store
	auth       *services.AuthService
	router     *gin.Engine
	businessID uuid.UUID
	customerID uuid.UUID
	forwarded  []string
}

func newGateHarness(t *testing.T) *gateHarness {
	t.Helper()
	store := memory.NewStore()
	approvals := services.NewApprovalService(store.Approvals(), 90*24*time.Hour)
	h := &gateHarness{
		store:      store,
		auth:       services.NewAuthService("test-secret", time.Hour),
		businessID: uuid.New(),
		customerID: uuid.New(),
	}
	r := gin.New()
	r.Use(RequestIDMiddleware(), ErrorHandler(logger.Nop()), OptionalAuthMiddleware(h.auth))
	upstream := func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		h.forwarded = append(h.forwarded, string(body))
		c.Status(http.StatusOK)
	}
	gate := PurchaseGateMiddleware(services.NewPurchaseGate(store.Catalog(), approvals))
	r.POST("/store/carts", gate, upstream)
	r.POST("/store/carts/:id/line-items", gate, upstream)
	r.POST("/store/carts/:id/line-items/batch", gate, upstream)
	h.router = r
	return h
}

func (h *gateHarness) token(t *testing.T) string {
	t.Helper()
	tok, err := h.auth.IssueAccessToken("cus", services.RoleCustomer, h.businessID, h.customerID)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

func (h *gateHarness) post(path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *gateHarness) variant(requiresConsult bool) (productID, variantID uuid.UUID) {
	productID, variantID = uuid.New(), uuid.New()
	h.store.PutProduct(commerce.Product{ID: productID, BusinessID: h.businessID, RequiresConsult: requiresConsult})
	h.store.PutVariant(commerce.ProductVariant{ID: variantID, ProductID: productID})
	return productID, variantID
}

func (h *gateHarness) approve(productID uuid.UUID) {
	at := time.Now().Add(-time.Hour)
	exp := at.Add(365 * 24 * time.Hour)
	h.store.PutApproval(approval.ConsultApproval{
		ID: uuid.New(), BusinessID: h.businessID, CustomerID: h.customerID, ProductID: productID,
		Status: approval.StatusApproved, ApprovedAt: &at, ExpiresAt: &exp, CreatedAt: at,
	})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) (code string, data map[string]string) {
	t.Helper()
	var env struct {
		Code string            `json:"code"`
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return env.Code, env.Data
}

func TestPurchaseGateBlocksWithoutApproval(t *testing.T) {
	h := newGateHarness(t)
	productID, variantID := h.variant(true)

	rec := h.post("/store/carts/c1/line-items", h.token(t), `{"variant_id":"`+variantID.String()+`","quantity":1}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", rec.Code, rec.Body.String())
	}
	code, data := decode(t, rec)
	if code != "CONSULT_REQUIRED" || data["product_id"] != productID.String() {
		t.Fatalf("unexpected error %s %v", code, data)
	}
	if len(h.forwarded) != 0 {
		t.Fatalf("blocked request reached upstream")
	}
}

func TestPurchaseGateAnonymousIsUnauthorized(t *testing.T) {
	h := newGateHarness(t)
	productID, variantID := h.variant(true)
	req := httptest.NewRequest(http.MethodPost, "/store/carts", strings.NewReader(`{"items":[{"variant_id":"`+variantID.String()+`"}]}`))
	req.Header.Set(BusinessIDHeader, h.businessID.String())
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if code, data := decode(t, rec); code != "UNAUTHORIZED" || data["product_id"] != productID.String() {
		t.Fatalf("unexpected error %s %v", code, data)
	}
}

func TestPurchaseGateForwardsBodyWhenApproved(t *testing.T) {
	h := newGateHarness(t)
	gated, gatedVariant := h.variant(true)
	_, otcVariant := h.variant(false)
	h.approve(gated)

	body := `{"line_items":[{"variant_id":"` + gatedVariant.String() + `"},{"variant_id":"` + otcVariant.String() + `"}]}`
	rec := h.post("/store/carts/c1/line-items/batch", h.token(t), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected pass, got %d %s", rec.Code, rec.Body.String())
	}
	if len(h.forwarded) != 1 || h.forwarded[0] != body {
		t.Fatalf("body not restored for upstream: %v", h.forwarded)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("missing request id header")
	}
}

func TestPurchaseGateOneFailureBlocksBatch(t *testing.T) {
	h := newGateHarness(t)
	approved, approvedVariant := h.variant(true)
	_, missingVariant := h.variant(true)
	h.approve(approved)

	body := `[{"variant_id":"` + approvedVariant.String() + `"},{"variant_id":"` + missingVariant.String() + `"}]`
	if rec := h.post("/store/carts/c1/line-items/batch", h.token(t), body); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestPurchaseGatePassThroughAndBadInput(t *testing.T) {
	h := newGateHarness(t)

	if rec := h.post("/store/carts", "", `{"region_id":"reg_1"}`); rec.Code != http.StatusOK {
		t.Fatalf("cart without items should pass, got %d", rec.Code)
	}
	if rec := h.post("/store/carts", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("empty body should pass, got %d", rec.Code)
	}
	if rec := h.post("/store/carts/c1/line-items", h.token(t), `{"variant_id":`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid json should be 400, got %d", rec.Code)
	}
	if rec := h.post("/store/carts/c1/line-items", h.token(t), `{"variant_id":"not-a-uuid"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid id should be 400, got %d", rec.Code)
	}
	// Unknown variants are not gated.
	if rec := h.post("/store/carts/c1/line-items", h.token(t), `{"variant_id":"`+uuid.NewString()+`"}`); rec.Code != http.StatusOK {
		t.Fatalf("unknown variant should pass, got %d", rec.Code)
	}
}

func TestPurchaseGateSeesEveryIDSpelling(t *testing.T) {
	h := newGateHarness(t)
	gated, gatedVariant := h.variant(true)
	plain, _ := h.variant(false)
	v := gatedVariant.String()

	cases := map[string]string{
		"case-folded duplicate":      `{"variant_id":"` + v + `","VARIANT_ID":"","quantity":1}`,
		"exact duplicate":            `{"variant_id":"` + v + `","variant_id":""}`,
		"camel case":                 `{"variantId":"` + v + `"}`,
		"nested wrapper":             `{"cart":{"items":[{"variant_id":"` + v + `"}]}}`,
		"product and variant differ": `{"product_id":"` + plain.String() + `","variant_id":"` + v + `"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := h.post("/store/carts/c1/line-items", h.token(t), body)
			if rec.Code != http.StatusForbidden {
				t.Fatalf("expected 403, got %d %s", rec.Code, rec.Body.String())
			}
			if code, data := decode(t, rec); code != "CONSULT_REQUIRED" || data["product_id"] != gated.String() {
				t.Fatalf("unexpected error %s %v", code, data)
			}
		})
	}
	if len(h.forwarded) != 0 {
		t.Fatalf("gated variant reached upstream: %v", h.forwarded)
	}

	if rec := h.post("/store/carts/c1/line-items", h.token(t), `{"variant_id":42}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("non-string id should be 400, got %d", rec.Code)
	}
	if rec := h.post("/store/carts/c1/line-items", h.token(t), `{"variant_id":"`+v+`"} {}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("trailing data should be 400, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRoles(t *testing.T) {
	auth := services.NewAuthService("secret", time.Hour)
	r := gin.New()
	r.GET("/ops", AuthMiddleware(auth, services.RoleOps), func(c *gin.Context) {
		c.String(http.StatusOK, services.ActorFrom(c.Request.Context()))
	})

	ops, _ := auth.IssueAccessToken("alice", services.RoleOps, uuid.New(), uuid.Nil)
	customer, _ := auth.IssueAccessToken("cus", services.RoleCustomer, uuid.New(), uuid.New())
	forged, _ := services.NewAuthService("other", time.Hour).IssueAccessToken("alice", services.RoleOps, uuid.New(), uuid.Nil)

	cases := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"forged", forged, http.StatusUnauthorized},
		{"wrong role", customer, http.StatusForbidden},
		{"ops", ops, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ops", nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("got %d want %d", rec.Code, tc.want)
			}
			if tc.want == http.StatusOK && rec.Body.String() != "ops:alice" {
				t.Fatalf("unexpected actor %q", rec.Body.String())
			}
		})
	}
}

func TestErrorHandlerHidesInternalErrors(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler(logger.Nop()))
	r.GET("/boom", func(c *gin.Context) { _ = c.Error(errors.New("pq: connection refused")) })
	r.GET("/missing", func(c *gin.Context) { _ = c.Error(rxgate_errors.ErrNotFound) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "pq:") {
		t.Fatalf("internal error leaked: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
