// Package source builds retryable data-access operations over HTTP JSON endpoints.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/vietddude/steady/internal/core/domain"
	"github.com/vietddude/steady/internal/metrics"
	"github.com/vietddude/steady/internal/resilience/retry"
)

// maxErrorBody bounds how much of an error response is kept as the message.
const maxErrorBody = 512

// Config holds HTTP source configuration.
type Config struct {
	BaseURL string            `yaml:"base_url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`

	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// HTTPSource fetches JSON documents relative to a base URL.
type HTTPSource struct {
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPSource creates a new HTTP JSON source.
func NewHTTPSource(cfg Config) *HTTPSource {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &HTTPSource{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		headers: cfg.Headers,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: limiter,
	}
}

// Operation returns a retryable operation that GETs path.
func (s *HTTPSource) Operation(path string) retry.Operation {
	return func(ctx context.Context) (any, error) {
		return s.Get(ctx, path)
	}
}

// Get fetches path and decodes the JSON body.
func (s *HTTPSource) Get(ctx context.Context, path string) (any, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.SourceLatency.WithLabelValues(path).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url(path), nil)
	if err != nil {
		return nil, &domain.Error{Message: "create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, transportError(path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(path, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &domain.Error{
			Message: statusMessage(resp.StatusCode, body),
			Status:  resp.StatusCode,
		}
	}

	if len(body) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &domain.Error{Message: "parse response", Status: resp.StatusCode, Err: err}
	}
	return out, nil
}

// Close releases idle connections.
func (s *HTTPSource) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

func (s *HTTPSource) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return s.baseURL + "/" + strings.TrimLeft(path, "/")
}

// transportError maps a failed round trip to a coded domain error.
func transportError(path string, err error) *domain.Error {
	code := domain.CodeNetworkError
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		code = domain.CodeConnRefused
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		code = domain.CodeTimedOut
	}
	return &domain.Error{
		Message: fmt.Sprintf("request %s failed", path),
		Code:    code,
		Err:     err,
	}
}

func statusMessage(status int, body []byte) string {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	if msg == "" {
		return http.StatusText(status)
	}
	return msg
}
