package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestCartProxyForwardsPathAndBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var gotPath, gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
	}))
	defer upstream.Close()

	p, err := NewCartProxy(upstream.URL, time.Second)
	if err != nil {
		t.Fatalf("new proxy: %v", err)
	}
	r := gin.New()
	r.POST("/store/carts/:id/line-items", p.Handle)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/store/carts/c1/line-items", strings.NewReader(`{"variant_id":"v"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d", rec.Code)
	}
	if gotPath != "/store/carts/c1/line-items" || gotBody != `{"variant_id":"v"}` {
		t.Fatalf("unexpected forward %q %q", gotPath, gotBody)
	}
}

func TestCartProxyUpstreamDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	p, err := NewCartProxy(url, time.Second)
	if err != nil {
		t.Fatalf("new proxy: %v", err)
	}
	r := gin.New()
	r.POST("/store/carts", p.Handle)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/store/carts", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestNewCartProxyRejectsBadURL(t *testing.T) {
	if _, err := NewCartProxy("localhost", time.Second); err == nil {
		t.Fatalf("expected error for url without scheme")
	}
}
