package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/studiowebux/medprobe/internal/types"
)

const (
	// DefaultTimeout bounds a single attempt
	DefaultTimeout = 12 * time.Second
	// DefaultRetries is the number of additional attempts after a transport failure
	DefaultRetries = 2
	// DefaultBackoffUnit is multiplied by the attempt number between attempts
	DefaultBackoffUnit = 400 * time.Millisecond
)

var (
	// ErrInvalidMethod is returned for methods outside GET/POST/PUT/PATCH/DELETE
	ErrInvalidMethod = errors.New("unsupported HTTP method")
	// ErrDecode is returned when a successful JSON response cannot be decoded
	ErrDecode = errors.New("failed to decode JSON response")
)

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// TransportError reports that no response was obtained within the retry budget
type TransportError struct {
	Method   string
	URL      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: no response after %d attempt(s): %v", e.Method, e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RetryPolicy controls retries on transport failures
type RetryPolicy struct {
	// Retries is the number of attempts made after the first one fails.
	Retries int
	// BackoffUnit is scaled linearly: attempt n waits BackoffUnit*n before attempt n+1.
	BackoffUnit time.Duration
}

// DefaultRetryPolicy returns two retries with a 400ms linear backoff
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Retries: DefaultRetries, BackoffUnit: DefaultBackoffUnit}
}

// NoRetry performs a single attempt
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

// Delay returns the wait after the given (1-based) failed attempt
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BackoffUnit * time.Duration(attempt)
}

// ClientConfig configures a Client
type ClientConfig struct {
	BaseURL string
	// Timeout applies per attempt when the request does not set its own.
	Timeout time.Duration
	// Retry defaults to DefaultRetryPolicy when nil.
	Retry *RetryPolicy
	TLS   *types.TLSConfig
	// MaxConns sizes the connection pool (stress runs set it to the concurrency).
	MaxConns int
	// FailOnExhaustion also returns a *TransportError next to the 599 outcome.
	FailOnExhaustion bool
	Logger           logrus.FieldLogger

	// HTTPClient overrides the pooled client built from the fields above.
	HTTPClient *http.Client
	// Sleep overrides the backoff wait; it must honor ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client performs API calls with bounded retries and a uniform result shape.
// It is safe for concurrent use.
type Client struct {
	baseURL          string
	timeout          time.Duration
	retry            RetryPolicy
	failOnExhaustion bool
	http             *http.Client
	log              logrus.FieldLogger
	sleep            func(ctx context.Context, d time.Duration) error
}

// NewClient builds a Client from cfg
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		var err error
		httpClient, err = buildHTTPClient(cfg.MaxConns, cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
		}
	}

	retry := DefaultRetryPolicy()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	if retry.Retries < 0 {
		retry.Retries = 0
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &Client{
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		timeout:          timeout,
		retry:            retry,
		failOnExhaustion: cfg.FailOnExhaustion,
		http:             httpClient,
		log:              logger,
		sleep:            sleep,
	}, nil
}

// BaseURL returns the URL every request path is appended to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Retry returns the retry policy in effect
func (c *Client) Retry() RetryPolicy {
	return c.retry
}

// Do performs req. A well-formed HTTP response of any status yields an
// outcome and a nil error. Transport failures are retried; when the budget
// runs out the outcome has status 599 and an {"error": ...} body.
//
// A non-nil error means the request could not be built, a successful JSON
// body failed to decode (ErrDecode), ctx was cancelled, or FailOnExhaustion
// is set and the budget ran out.
func (c *Client) Do(ctx context.Context, req types.Request) (*types.Outcome, error) {
	method := strings.ToUpper(req.Method)
	if !allowedMethods[method] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, req.Method)
	}

	body, err := encodePayload(req.Payload)
	if err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	url := c.baseURL + req.Path
	maxAttempts := c.retry.Retries + 1
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome, retryable, err := c.attempt(ctx, method, url, req.Token, body, timeout)
		if err == nil {
			outcome.Attempts = attempt
			outcome.Duration = time.Since(start)
			return outcome, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable {
			return nil, err
		}

		lastErr = err
		entry := c.log.WithFields(logrus.Fields{
			"method":  method,
			"path":    req.Path,
			"attempt": attempt,
			"error":   err,
		})
		if attempt == maxAttempts {
			entry.Debug("Transport failure, retry budget exhausted")
			break
		}

		delay := c.retry.Delay(attempt)
		entry.WithField("backoff", delay).Debug("Transport failure, retrying")
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	outcome := &types.Outcome{
		Status:   types.UnreachableStatus,
		Kind:     types.KindUnreachable,
		JSON:     map[string]any{"error": lastErr.Error()},
		Attempts: maxAttempts,
		Duration: time.Since(start),
		Err:      lastErr,
	}
	if c.failOnExhaustion {
		return outcome, &TransportError{Method: method, URL: url, Attempts: maxAttempts, Err: lastErr}
	}
	return outcome, nil
}

// attempt performs one HTTP exchange. retryable is true for transport failures.
func (c *Client) attempt(ctx context.Context, method, url, token string, body []byte, timeout time.Duration) (*types.Outcome, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, method, url, bodyReader)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}

	outcome, err := classify(resp.StatusCode, resp.Header.Get("Content-Type"), raw)
	return outcome, false, err
}

// classify normalizes a received response. Success and error statuses are
// deliberately asymmetric for non-JSON bodies: raw bytes on success, an
// {"error": text} mapping on error.
func classify(status int, contentType string, raw []byte) (*types.Outcome, error) {
	isJSON := strings.Contains(contentType, "application/json")

	if status < http.StatusBadRequest {
		if !isJSON {
			return &types.Outcome{Status: status, Kind: types.KindRaw, Raw: raw}, nil
		}
		value, err := decodeJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%w (status %d): %v", ErrDecode, status, err)
		}
		return &types.Outcome{Status: status, Kind: types.KindJSON, JSON: value, Raw: raw}, nil
	}

	if isJSON {
		if value, err := decodeJSON(raw); err == nil {
			return &types.Outcome{Status: status, Kind: types.KindJSON, JSON: value, Raw: raw}, nil
		}
	}
	return &types.Outcome{
		Status: status,
		Kind:   types.KindErrorText,
		JSON:   map[string]any{"error": strings.ToValidUTF8(string(raw), "")},
		Raw:    raw,
	}, nil
}

// decodeJSON treats an empty body as an empty object
func decodeJSON(raw []byte) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return value, nil
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		return data, nil
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
