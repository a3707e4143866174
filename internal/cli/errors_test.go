package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
	"testing"
)

const timeoutText = "Request timeout - check the base URL or raise --timeout (default: 12s)"

func TestCategorizeMessage(t *testing.T) {
	tests := []struct {
		name     string
		errStr   string
		wantText string
	}{
		{
			name:     "empty error",
			errStr:   "",
			wantText: "",
		},
		{
			name:     "context deadline exceeded",
			errStr:   "Post \"http://localhost:3000/api/users/login\": context deadline exceeded",
			wantText: timeoutText,
		},
		{
			name:     "DNS lookup failure",
			errStr:   "dial tcp: lookup gateway.invalid: no such host",
			wantText: "DNS resolution failed - verify the hostname in MEDARYON_BASE_URL",
		},
		{
			name:     "connection refused inside a stress sample",
			errStr:   "register: Post \"http://127.0.0.1:9/api/users/users\": dial tcp 127.0.0.1:9: connect: connection refused",
			wantText: "Connection refused - check that the gateway is running and the port is correct",
		},
		{
			name:     "connection reset",
			errStr:   "read tcp 127.0.0.1:8080->127.0.0.1:54321: read: connection reset by peer",
			wantText: "Connection reset by server - the gateway may be overloaded or restarting",
		},
		{
			name:     "file descriptors",
			errStr:   "dial tcp 127.0.0.1:3000: socket: too many open files",
			wantText: "Out of file descriptors - lower --concurrency or raise ulimit -n",
		},
		{
			name:     "TLS certificate unknown authority",
			errStr:   "x509: certificate signed by unknown authority",
			wantText: "TLS certificate verification failed - certificate is not trusted. Pass --tls-ca or --tls-insecure",
		},
		{
			name:     "network unreachable",
			errStr:   "dial tcp: network is unreachable",
			wantText: "Network unreachable - check network connection and firewall settings",
		},
		{
			name:     "too many redirects",
			errStr:   "Get \"http://example.com\": stopped after 10 redirects",
			wantText: "Too many redirects - check the base URL",
		},
		{
			name:     "invalid URL",
			errStr:   "unsupported protocol scheme \"ftp\"",
			wantText: "Invalid URL - the base URL must start with http:// or https://",
		},
		{
			name:     "proxy error",
			errStr:   "proxyconnect tcp: dial tcp 127.0.0.1:8080: connect: connection refused",
			wantText: "Proxy connection failed - verify HTTP_PROXY / HTTPS_PROXY",
		},
		{
			name:     "EOF error",
			errStr:   "unexpected EOF",
			wantText: "Connection closed unexpectedly - the gateway terminated the connection prematurely",
		},
		{
			name:     "generic timeout",
			errStr:   "i/o timeout",
			wantText: "Connection timeout - the gateway took too long to respond, raise --timeout",
		},
		{
			name:     "malformed HTTP",
			errStr:   "malformed HTTP response \"\\x00\"",
			wantText: "Malformed HTTP response - the base URL may not point at the gateway",
		},
		{
			name:     "context canceled",
			errStr:   "context canceled",
			wantText: "Request cancelled by operator",
		},
		{
			name:     "unknown error",
			errStr:   "something went wrong",
			wantText: "Request failed: something went wrong",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CategorizeMessage(tt.errStr)
			if got != tt.wantText {
				t.Errorf("CategorizeMessage() = %q, want %q", got, tt.wantText)
			}
		})
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantText string
	}{
		{
			name:     "nil error",
			err:      nil,
			wantText: "",
		},
		{
			name:     "context deadline exceeded",
			err:      context.DeadlineExceeded,
			wantText: timeoutText,
		},
		{
			name:     "wrapped cancellation",
			err:      fmt.Errorf("stress users: %w", context.Canceled),
			wantText: "Request cancelled by operator",
		},
		{
			name:     "url error with timeout",
			err:      &url.Error{Op: "Get", URL: "http://example.com", Err: context.DeadlineExceeded},
			wantText: timeoutText,
		},
		{
			name:     "net op error with connection refused",
			err:      &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED},
			wantText: "Connection refused - check that the gateway is running and the port is correct",
		},
		{
			name:     "net op error with connection reset",
			err:      &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET},
			wantText: "Connection reset by server - the gateway may be overloaded or restarting",
		},
		{
			name:     "net op error with host unreachable",
			err:      &net.OpError{Op: "dial", Net: "tcp", Err: syscall.EHOSTUNREACH},
			wantText: "Host unreachable - check that the gateway host is online",
		},
		{
			name:     "plain error falls back to message",
			err:      errors.New("dial tcp: lookup gateway.invalid: no such host"),
			wantText: "DNS resolution failed - verify the hostname in MEDARYON_BASE_URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CategorizeError(tt.err)
			if got != tt.wantText {
				t.Errorf("CategorizeError() = %q, want %q", got, tt.wantText)
			}
		})
	}
}

func TestCategorizeSSLError(t *testing.T) {
	tests := []struct {
		name     string
		errStr   string
		wantText string
	}{
		{
			name:     "certificate expired",
			errStr:   "x509: certificate has expired",
			wantText: "TLS certificate has expired - renew it on the gateway or pass --tls-insecure",
		},
		{
			name:     "hostname mismatch",
			errStr:   "x509: certificate is valid for example.com, not example.org",
			wantText: "TLS hostname mismatch - certificate doesn't match the requested hostname",
		},
		{
			name:     "handshake failure",
			errStr:   "tls: handshake failure",
			wantText: "TLS handshake failed - check TLS version compatibility and cipher suites",
		},
		{
			name:     "bad certificate",
			errStr:   "tls: bad certificate",
			wantText: "TLS bad certificate - the client certificate was rejected by the gateway",
		},
		{
			name:     "certificate required",
			errStr:   "tls: certificate required",
			wantText: "TLS client certificate required - pass --tls-cert and --tls-key",
		},
		{
			name:     "generic TLS error",
			errStr:   "tls: some other error",
			wantText: "TLS/SSL error - check certificate configuration: tls: some other error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := categorizeSSLError(tt.errStr)
			if got != tt.wantText {
				t.Errorf("categorizeSSLError() = %q, want %q", got, tt.wantText)
			}
		})
	}
}

func TestCategorizeMessage_KnownErrorsHaveNoGenericPrefix(t *testing.T) {
	for _, errStr := range []string{
		"context deadline exceeded",
		"no such host",
		"connection refused",
		"x509: certificate signed by unknown authority",
	} {
		got := CategorizeMessage(errStr)
		if strings.HasPrefix(got, "Request failed:") {
			t.Errorf("CategorizeMessage(%q) should not fall back to the generic prefix, got %q", errStr, got)
		}
	}
}
