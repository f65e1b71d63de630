package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Proxy forwards requests to the single upstream API.
type Proxy struct {
	target *url.URL
	proxy  *httputil.ReverseProxy
	logger *zap.Logger
}

func New(targetURL string, logger *zap.Logger) (*Proxy, error) {
	target, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("upstream url must include scheme and host")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Proxy{
		target: target,
		proxy:  httputil.NewSingleHostReverseProxy(target),
		logger: logger,
	}
	p.proxy.ErrorHandler = p.handleError

	logger.Info("proxy initialized", zap.String("upstream", target.String()))

	return p, nil
}

// Forwards the request to the upstream
func (p *Proxy) Handle(c *gin.Context) {
	req := c.Request

	req.Header.Set("X-Forwarded-Host", req.Host)
	req.Host = p.target.Host
	if requestID := c.GetString("request_id"); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	p.proxy.ServeHTTP(c.Writer, req)
}

func (p *Proxy) Target() string {
	return p.target.String()
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	p.logger.Error("upstream request failed",
		zap.String("request_id", r.Header.Get("X-Request-ID")),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	w.Write([]byte(`{"error":"Upstream service unavailable"}`))
}
