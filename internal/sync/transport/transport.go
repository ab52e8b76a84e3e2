// Package transport performs the network call described by a queued operation.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/metrics"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/uuid"
)

// EntityVersionHeader carries the server's version of the entity a request touched.
const EntityVersionHeader = "X-Entity-Version"

// ErrConflict matches an HTTPError for a 409 response.
var ErrConflict = errors.New("entity version conflict")

// HTTPError is a non-2xx response. Code and Message come from a JSON error body when present.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error implements error.
func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrConflict) match a 409.
func (e *HTTPError) Is(target error) bool {
	return target == ErrConflict && e.StatusCode == http.StatusConflict
}

// Request is the remote call described by a queued operation.
type Request struct {
	Method  string
	URL     string
	Body    []byte
	Headers map[string]string
}

// Response is the payload of a successful call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// EntityVersion returns the server-reported entity version, if any.
func (r *Response) EntityVersion() (int64, bool) {
	if r == nil {
		return 0, false
	}
	raw := strings.TrimSpace(r.Header.Get(EntityVersionHeader))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Transport issues one request and fails on network errors and non-2xx responses.
type Transport interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// Options configures an HTTPTransport.
type Options struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
	RateLimit      float64 // requests per second; 0 disables pacing
	Burst          int
	HTTPClient     *http.Client
}

// HTTPTransport is the production Transport. It does not retry; retry policy
// belongs to the queue.
type HTTPTransport struct {
	baseURL    string
	token      string
	timeout    time.Duration
	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewHTTPTransport creates an HTTPTransport. RequestTimeout defaults to 30s.
func NewHTTPTransport(opts Options) *HTTPTransport {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return &HTTPTransport{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		token:      strings.TrimSpace(opts.Token),
		timeout:    timeout,
		limiter:    limiter,
		httpClient: httpClient,
	}
}

// Do waits for the rate limiter, then sends r with the per-request timeout.
// Relative URLs are resolved against the base URL.
func (t *HTTPTransport) Do(ctx context.Context, r Request) (*Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, t.resolve(r.URL), body)
	if err != nil {
		return nil, err
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	req.Header.Set("X-Correlation-Id", uuid.New())
	if len(r.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		metrics.TransportLatency.WithLabelValues(r.Method, "error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("request timed out after %s: %w", t.timeout, err)
		}
		return nil, err
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	metrics.TransportLatency.WithLabelValues(r.Method, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())
	if readErr != nil {
		return nil, readErr
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: payload}, nil
	}

	var errPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(payload, &errPayload)
	message := errPayload.Message
	if message == "" {
		message = errPayload.Error
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return nil, &HTTPError{
		StatusCode: resp.StatusCode,
		Code:       errPayload.Code,
		Message:    message,
	}
}

func (t *HTTPTransport) resolve(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") || t.baseURL == "" {
		return target
	}
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	return t.baseURL + target
}
