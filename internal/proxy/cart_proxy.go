// Package proxy forwards gated storefront traffic to the commerce backend.
package proxy

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"rxgate/internal/transport/httpdto"
	"rxgate/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CartProxy relays cart mutations that passed the purchase gate.
type CartProxy struct {
	target *url.URL
	rp     *httputil.ReverseProxy
}

func NewCartProxy(upstream string, timeout time.Duration) (*CartProxy, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid commerce upstream %q: %w", upstream, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid commerce upstream %q: scheme and host required", upstream)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	rp := httputil.NewSingleHostReverseProxy(target)
	director := rp.Director
	rp.Director = func(req *http.Request) {
		director(req)
		req.Host = target.Host
	}
	rp.Transport = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: timeout,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.GetGlobalLogger().Ctx(r.Context()).Errorf("commerce upstream %s: %v", target.Host, err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"success":false,"error":"commerce upstream unavailable","code":"BAD_GATEWAY"}`))
	}
	return &CartProxy{target: target, rp: rp}, nil
}

// Handle is the gin terminal handler for proxied routes.
func (p *CartProxy) Handle(c *gin.Context) {
	if p == nil {
		c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse("commerce upstream not configured", "UNAVAILABLE"))
		return
	}
	p.rp.ServeHTTP(c.Writer, c.Request)
}
