// Package httpx provides a tuned, connection-pooled HTTP client shared by
// every backend adapter that calls out to a local or network service
// (LLM providers, the TTS endpoint, the MCP HTTP transport).
package httpx

import (
	"net/http"
	"time"
)

// NewPooledClient creates an http.Client with connection pooling sized to
// poolSize and the given per-request timeout.
func NewPooledClient(poolSize int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}
