package executor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studiowebux/medprobe/internal/types"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// delayRecorder captures backoff waits without sleeping
type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (d *delayRecorder) sleep(ctx context.Context, delay time.Duration) error {
	d.mu.Lock()
	d.delays = append(d.delays, delay)
	d.mu.Unlock()
	return ctx.Err()
}

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestClient(t *testing.T, cfg ClientConfig) *Client {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	client, err := NewClient(cfg)
	require.NoError(t, err)
	return client
}

func TestDo_SendsJSONPayloadAndHeaders(t *testing.T) {
	var received map[string]any
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 42, "email": "a@test.local"}`))
	}))
	defer server.Close()

	client := newTestClient(t, ClientConfig{BaseURL: server.URL})
	payload := map[string]any{
		"email":    "a@test.local",
		"nested":   map[string]any{"list": []any{1.0, "two", true}},
		"accented": "visità",
	}

	outcome, err := client.Do(context.Background(), types.Request{
		Method:  "post",
		Path:    "/api/users/users",
		Token:   "tok-123",
		Payload: payload,
	})
	require.NoError(t, err)

	assert.Equal(t, payload, received)
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "application/json", headers.Get("Accept"))
	assert.Equal(t, "Bearer tok-123", headers.Get("Authorization"))

	assert.Equal(t, http.StatusCreated, outcome.Status)
	assert.Equal(t, types.KindJSON, outcome.Kind)
	assert.Equal(t, map[string]any{"id": 42.0, "email": "a@test.local"}, outcome.Body())
	assert.Equal(t, 1, outcome.Attempts)
}

func TestDo_RawPayloadSentVerbatim(t *testing.T) {
	var got []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
		if r.Header.Get("Authorization") != "" {
			t.Errorf("unexpected Authorization header %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestClient(t, ClientConfig{BaseURL: server.URL})
	raw := []byte("not json at all")
	_, err := client.Do(context.Background(), types.Request{Method: "PUT", Path: "/x", Payload: raw})
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestDo_NoPayloadSendsNoBody(t *testing.T) {
	var length int64 = -2
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		length = r.ContentLength
	}))
	defer server.Close()

	client := newTestClient(t, ClientConfig{BaseURL: server.URL})
	_, err := client.Do(context.Background(), types.Request{Method: "GET", Path: "/"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), length)
}

func TestDo_ResponseClassification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantKind    types.BodyKind
		wantBody    any
	}{
		{
			name:        "json success",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `{"ok":true,"items":[1,2]}`,
			wantKind:    types.KindJSON,
			wantBody:    map[string]any{"ok": true, "items": []any{1.0, 2.0}},
		},
		{
			name:        "empty json body is an empty mapping",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        "",
			wantKind:    types.KindJSON,
			wantBody:    map[string]any{},
		},
		{
			name:        "plain text success keeps raw bytes",
			status:      http.StatusOK,
			contentType: "text/plain",
			body:        "hello",
			wantKind:    types.KindRaw,
			wantBody:    []byte("hello"),
		},
		{
			name:        "json error body is decoded",
			status:      http.StatusUnauthorized,
			contentType: "application/json",
			body:        `{"name":"LoginFailedError","code":401}`,
			wantKind:    types.KindJSON,
			wantBody:    map[string]any{"name": "LoginFailedError", "code": 401.0},
		},
		{
			name:        "text error body is wrapped",
			status:      http.StatusNotFound,
			contentType: "text/html",
			body:        "<h1>Not Found</h1>",
			wantKind:    types.KindErrorText,
			wantBody:    map[string]any{"error": "<h1>Not Found</h1>"},
		},
		{
			name:        "broken json error body degrades to text",
			status:      http.StatusInternalServerError,
			contentType: "application/json",
			body:        `{"half":`,
			wantKind:    types.KindErrorText,
			wantBody:    map[string]any{"error": `{"half":`},
		},
		{
			name:        "empty json error body is an empty mapping",
			status:      http.StatusBadRequest,
			contentType: "application/json",
			body:        "",
			wantKind:    types.KindJSON,
			wantBody:    map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newTestClient(t, ClientConfig{BaseURL: server.URL})
			outcome, err := client.Do(context.Background(), types.Request{Method: "GET", Path: "/"})
			require.NoError(t, err)
			assert.Equal(t, tt.status, outcome.Status)
			assert.Equal(t, tt.wantKind, outcome.Kind)
			assert.Equal(t, tt.wantBody, outcome.Body())
		})
	}
}

func TestDo_UndecodableJSONSuccessIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{not json"))
	}))
	defer server.Close()

	client := newTestClient(t, ClientConfig{BaseURL: server.URL})
	_, err := client.Do(context.Background(), types.Request{Method: "GET", Path: "/"})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDo_ApplicationErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	recorder := &delayRecorder{}
	client := newTestClient(t, ClientConfig{BaseURL: server.URL, Sleep: recorder.sleep})
	outcome, err := client.Do(context.Background(), types.Request{Method: "GET", Path: "/"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, outcome.Status)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, recorder.delays)
}

func TestDo_TransportFailuresExhaustBudget(t *testing.T) {
	for _, retries := range []int{0, 1, 2, 4} {
		var calls atomic.Int32
		failing := &http.Client{Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
			calls.Add(1)
			return nil, errors.New("dial tcp 10.0.0.1:80: connect: connection refused")
		})}

		recorder := &delayRecorder{}
		unit := 250 * time.Millisecond
		client := newTestClient(t, ClientConfig{
			BaseURL:    "http://medaryon.invalid",
			Retry:      &RetryPolicy{Retries: retries, BackoffUnit: unit},
			HTTPClient: failing,
			Sleep:      recorder.sleep,
		})

		outcome, err := client.Do(context.Background(), types.Request{Method: "GET", Path: "/api/users/me"})
		require.NoError(t, err)

		assert.Equal(t, int32(retries+1), calls.Load(), "attempts with %d retries", retries)
		assert.Equal(t, retries+1, outcome.Attempts)
		assert.Equal(t, types.UnreachableStatus, outcome.Status)
		assert.Equal(t, types.KindUnreachable, outcome.Kind)
		assert.Contains(t, outcome.ErrorText(), "connection refused")

		require.Len(t, recorder.delays, retries)
		for i, d := range recorder.delays {
			assert.Equal(t, unit*time.Duration(i+1), d)
			if i > 0 {
				assert.GreaterOrEqual(t, d, recorder.delays[i-1])
			}
		}
	}
}

func TestDo_RecoversAfterTransientFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"abc"}`))
	}))
	defer server.Close()

	var calls atomic.Int32
	flaky := &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection reset by peer")
		}
		return http.DefaultTransport.RoundTrip(r)
	})}

	recorder := &delayRecorder{}
	client := newTestClient(t, ClientConfig{BaseURL: server.URL, HTTPClient: flaky, Sleep: recorder.sleep})
	outcome, err := client.Do(context.Background(), types.Request{Method: "POST", Path: "/", Payload: map[string]string{}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, outcome.Status)
	assert.Equal(t, 2, outcome.Attempts)
	assert.Equal(t, []time.Duration{DefaultBackoffUnit}, recorder.delays)
}

func TestDo_UnreachableHost(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := newTestClient(t, ClientConfig{
		BaseURL: url,
		Retry:   &RetryPolicy{Retries: 2, BackoffUnit: time.Millisecond},
		Timeout: time.Second,
	})
	outcome, err := client.Do(context.Background(), types.Request{Method: "GET", Path: "/api/hello"})
	require.NoError(t, err)
	assert.Equal(t, 599, outcome.Status)
	assert.Equal(t, 3, outcome.Attempts)
	assert.NotEmpty(t, outcome.ErrorText())
	assert.Error(t, outcome.Err)
}

func TestDo_FailOnExhaustion(t *testing.T) {
	failing := &http.Client{Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("no such host")
	})}
	recorder := &delayRecorder{}
	client := newTestClient(t, ClientConfig{
		BaseURL:          "http://medaryon.invalid",
		HTTPClient:       failing,
		Sleep:            recorder.sleep,
		FailOnExhaustion: true,
	})

	outcome, err := client.Do(context.Background(), types.Request{Method: "GET", Path: "/"})
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, DefaultRetries+1, transportErr.Attempts)
	require.NotNil(t, outcome)
	assert.Equal(t, 599, outcome.Status)
}

func TestDo_PerAttemptTimeoutIsATransportFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := newTestClient(t, ClientConfig{
		BaseURL: server.URL,
		Retry:   &RetryPolicy{Retries: 1, BackoffUnit: time.Millisecond},
	})
	outcome, err := client.Do(context.Background(), types.Request{Method: "GET", Path: "/", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 599, outcome.Status)
	assert.Equal(t, 2, outcome.Attempts)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_CancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	failing := &http.Client{Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		cancel()
		return nil, errors.New("connection refused")
	})}

	client := newTestClient(t, ClientConfig{BaseURL: "http://medaryon.invalid", HTTPClient: failing})
	outcome, err := client.Do(ctx, types.Request{Method: "GET", Path: "/"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, outcome)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_RejectsUnsupportedMethod(t *testing.T) {
	client := newTestClient(t, ClientConfig{BaseURL: "http://localhost"})
	_, err := client.Do(context.Background(), types.Request{Method: "TRACE", Path: "/"})
	assert.ErrorIs(t, err, ErrInvalidMethod)
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)
}

func TestRetryPolicyDelayIsLinear(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 400*time.Millisecond, p.Delay(1))
	assert.Equal(t, 800*time.Millisecond, p.Delay(2))
	assert.Equal(t, 1200*time.Millisecond, p.Delay(3))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0.50ms", FormatDuration(500*time.Microsecond))
	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond))
	assert.Equal(t, "1.50s", FormatDuration(1500*time.Millisecond))
}
