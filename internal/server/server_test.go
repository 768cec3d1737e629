package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"rxgate/config"
	"rxgate/internal/domain/commerce"
	"rxgate/internal/handler"
	"rxgate/internal/proxy"
	"rxgate/internal/repository/memory"
	"rxgate/internal/services"
	"rxgate/pkg/logger"

	"github.com/google/uuid"
)

type testServer struct {
	srv       *Server
	store     *memory.Store
	auth      *services.AuthService
	forwarded atomic.Int32
	healthErr error
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{store: memory.NewStore(), auth: services.NewAuthService("secret", time.Hour)}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		ts.forwarded.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(upstream.Close)

	cartProxy, err := proxy.NewCartProxy(upstream.URL, time.Second)
	if err != nil {
		t.Fatalf("proxy: %v", err)
	}

	s := ts.store
	approvals := services.NewApprovalService(s.Approvals(), 90*24*time.Hour)
	consults := services.NewConsultationService(s.Consultations(), s.Clinicians(), s.Patients(), s.Intake(),
		s.Approvals(), s.Outbox(), s.Transactor(), nil, 365*24*time.Hour)
	purchase := services.NewPurchaseGate(s.Catalog(), approvals)
	fulfillment := services.NewFulfillmentGate(s.Orders(), s.Catalog(), approvals, nil)

	ts.srv = New(&config.Config{AppPort: "0", AppMode: TestMode}, logger.Nop())
	ts.srv.SetupRoutes(&Handlers{
		Consult:  handler.NewConsultHandler(services.NewIntakeService(s.Intake(), nil), consults),
		Approval: handler.NewApprovalHandler(approvals),
		Gate:     handler.NewGateHandler(purchase, fulfillment),
	}, Dependencies{
		Auth:         ts.auth,
		PurchaseGate: purchase,
		CartProxy:    cartProxy,
		HealthChecks: map[string]func(context.Context) error{
			"database": func(context.Context) error { return ts.healthErr },
		},
	})
	return ts
}

func (ts *testServer) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	if rec := ts.serve(httptest.NewRequest(http.MethodGet, "/health", nil)); rec.Code != http.StatusOK {
		t.Fatalf("healthy: %d", rec.Code)
	}
	ts.healthErr = errors.New("connection refused")
	rec := ts.serve(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "database") {
		t.Fatalf("unhealthy: %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	if rec := ts.serve(httptest.NewRequest(http.MethodGet, "/metrics", nil)); rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
}

func TestCartRoutesAreGatedBeforeProxy(t *testing.T) {
	ts := newTestServer(t)
	businessID, customerID, productID := uuid.New(), uuid.New(), uuid.New()
	ts.store.PutProduct(commerce.Product{ID: productID, BusinessID: businessID, RequiresConsult: true})
	tok, _ := ts.auth.IssueAccessToken("cus", services.RoleCustomer, businessID, customerID)

	paths := []struct{ method, path string }{
		{http.MethodPost, "/store/carts"},
		{http.MethodPost, "/store/carts/c1"},
		{http.MethodPut, "/store/carts/c1"},
		{http.MethodPost, "/store/carts/c1/line-items"},
		{http.MethodPost, "/store/carts/c1/line-items/batch"},
		{http.MethodPost, "/store/carts/c1/line-items/li_1"},
		{http.MethodPut, "/store/carts/c1/line-items/li_1"},
	}
	for _, p := range paths {
		req := httptest.NewRequest(p.method, p.path, strings.NewReader(`{"items":[{"product_id":"`+productID.String()+`"}]}`))
		req.Header.Set("Authorization", "Bearer "+tok)
		if rec := ts.serve(req); rec.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403, got %d", p.method, p.path, rec.Code)
		}
	}
	if ts.forwarded.Load() != 0 {
		t.Fatalf("gated requests reached upstream")
	}

	req := httptest.NewRequest(http.MethodPost, "/store/carts", strings.NewReader(`{"region_id":"r"}`))
	if rec := ts.serve(req); rec.Code != http.StatusOK || ts.forwarded.Load() != 1 {
		t.Fatalf("ungated cart create: %d forwarded=%d", rec.Code, ts.forwarded.Load())
	}
}

func TestStaffRoutesRequireRole(t *testing.T) {
	ts := newTestServer(t)
	tok, _ := ts.auth.IssueAccessToken("cus", services.RoleCustomer, uuid.New(), uuid.New())
	req := httptest.NewRequest(http.MethodPost, "/v1/consultations/"+uuid.NewString()+"/start", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	if rec := ts.serve(req); rec.Code != http.StatusForbidden {
		t.Fatalf("customer on staff route: %d", rec.Code)
	}

	staff, _ := ts.auth.IssueAccessToken("dr", services.RoleClinician, uuid.New(), uuid.Nil)
	req = httptest.NewRequest(http.MethodPost, "/v1/consultations/"+uuid.NewString()+"/start", nil)
	req.Header.Set("Authorization", "Bearer "+staff)
	if rec := ts.serve(req); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown consultation: %d", rec.Code)
	}
}
