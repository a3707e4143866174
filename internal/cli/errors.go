package cli

import (
	"context"
	"crypto/x509"
	"errors"
	"net"
	"net/url"
	"strings"
	"syscall"
)

// CategorizeMessage turns a transport error message, as kept in stress
// failure samples and 599 outcomes, into an actionable explanation.
func CategorizeMessage(errStr string) string {
	if errStr == "" {
		return ""
	}

	errLower := strings.ToLower(errStr)

	if strings.Contains(errLower, "context canceled") ||
		strings.Contains(errLower, "context cancelled") {
		return "Request cancelled by operator"
	}

	if strings.Contains(errLower, "context deadline exceeded") ||
		strings.Contains(errLower, "deadline exceeded") {
		return "Request timeout - check the base URL or raise --timeout (default: 12s)"
	}

	// Proxy errors often contain "connection refused" too
	if strings.Contains(errLower, "proxy") {
		return "Proxy connection failed - verify HTTP_PROXY / HTTPS_PROXY"
	}

	if strings.Contains(errLower, "no such host") ||
		strings.Contains(errLower, "dns") ||
		strings.Contains(errLower, "dial tcp: lookup") {
		return "DNS resolution failed - verify the hostname in MEDARYON_BASE_URL"
	}

	if strings.Contains(errLower, "connection refused") {
		return "Connection refused - check that the gateway is running and the port is correct"
	}

	if strings.Contains(errLower, "connection reset") {
		return "Connection reset by server - the gateway may be overloaded or restarting"
	}

	if strings.Contains(errLower, "too many open files") {
		return "Out of file descriptors - lower --concurrency or raise ulimit -n"
	}

	if strings.Contains(errLower, "network is unreachable") ||
		strings.Contains(errLower, "no route to host") {
		return "Network unreachable - check network connection and firewall settings"
	}

	if strings.Contains(errLower, "tls") ||
		strings.Contains(errLower, "ssl") ||
		strings.Contains(errLower, "certificate") ||
		strings.Contains(errLower, "x509") {
		return categorizeSSLError(errStr)
	}

	if strings.Contains(errLower, "stopped after") && strings.Contains(errLower, "redirect") {
		return "Too many redirects - check the base URL"
	}

	if strings.Contains(errLower, "invalid url") ||
		strings.Contains(errLower, "unsupported protocol") {
		return "Invalid URL - the base URL must start with http:// or https://"
	}

	if strings.Contains(errLower, "eof") {
		return "Connection closed unexpectedly - the gateway terminated the connection prematurely"
	}

	if strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "timed out") {
		return "Connection timeout - the gateway took too long to respond, raise --timeout"
	}

	if strings.Contains(errLower, "malformed http") {
		return "Malformed HTTP response - the base URL may not point at the gateway"
	}

	return "Request failed: " + errStr
}

func categorizeSSLError(errStr string) string {
	errLower := strings.ToLower(errStr)

	if strings.Contains(errLower, "unknown authority") ||
		strings.Contains(errLower, "certificate is not trusted") {
		return "TLS certificate verification failed - certificate is not trusted. Pass --tls-ca or --tls-insecure"
	}

	if strings.Contains(errLower, "expired") {
		return "TLS certificate has expired - renew it on the gateway or pass --tls-insecure"
	}

	if strings.Contains(errLower, "certificate is valid for") ||
		strings.Contains(errLower, "name mismatch") ||
		strings.Contains(errLower, "doesn't match") {
		return "TLS hostname mismatch - certificate doesn't match the requested hostname"
	}

	if strings.Contains(errLower, "handshake") {
		return "TLS handshake failed - check TLS version compatibility and cipher suites"
	}

	if strings.Contains(errLower, "bad certificate") {
		return "TLS bad certificate - the client certificate was rejected by the gateway"
	}

	if strings.Contains(errLower, "certificate required") {
		return "TLS client certificate required - pass --tls-cert and --tls-key"
	}

	return "TLS/SSL error - check certificate configuration: " + errStr
}

// CategorizeError explains err, looking at the root cause first
func CategorizeError(err error) string {
	if err == nil {
		return ""
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return categorizeURLError(urlErr)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return categorizeNetError(opErr)
	}

	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	switch e := rootErr.(type) {
	case x509.CertificateInvalidError:
		return "TLS certificate is invalid: " + e.Error()
	case x509.UnknownAuthorityError:
		return "TLS certificate signed by unknown authority - pass --tls-ca or --tls-insecure"
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "Request timeout - check the base URL or raise --timeout (default: 12s)"
	}
	if errors.Is(err, context.Canceled) {
		return "Request cancelled by operator"
	}

	return CategorizeMessage(err.Error())
}

func categorizeURLError(e *url.Error) string {
	if e.Timeout() {
		return "Request timeout - check the base URL or raise --timeout (default: 12s)"
	}
	return CategorizeError(e.Err)
}

func categorizeNetError(e *net.OpError) string {
	if e.Timeout() {
		return "Connection timeout - the gateway took too long to respond, raise --timeout"
	}

	if errno, ok := e.Err.(syscall.Errno); ok {
		switch errno {
		case syscall.ECONNREFUSED:
			return "Connection refused - check that the gateway is running and the port is correct"
		case syscall.ECONNRESET:
			return "Connection reset by server - the gateway may be overloaded or restarting"
		case syscall.ENETUNREACH:
			return "Network unreachable - check network connection and firewall settings"
		case syscall.EHOSTUNREACH:
			return "Host unreachable - check that the gateway host is online"
		}
	}

	return CategorizeError(e.Err)
}
