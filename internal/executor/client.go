package executor

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/studiowebux/medprobe/internal/types"
)

const (
	// HTTP transport timeouts
	TCPDialTimeout        = 5 * time.Second
	TCPKeepAliveInterval  = 30 * time.Second
	TLSHandshakeTimeout   = 5 * time.Second
	IdleConnTimeout       = 90 * time.Second
	ExpectContinueTimeout = 1 * time.Second

	defaultMaxConns = 100
)

// buildHTTPClient creates a pooled HTTP client with optional TLS/mTLS configuration.
// Per-attempt deadlines come from the request context, so the client has no global timeout.
func buildHTTPClient(maxConns int, tlsConfig *types.TLSConfig) (*http.Client, error) {
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        maxConns,
		MaxIdleConnsPerHost: maxConns,
		MaxConnsPerHost:     maxConns * 2,
		IdleConnTimeout:     IdleConnTimeout,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout:   TCPDialTimeout,
			KeepAlive: TCPKeepAliveInterval,
		}).DialContext,
		TLSHandshakeTimeout:   TLSHandshakeTimeout,
		ExpectContinueTimeout: ExpectContinueTimeout,
	}

	if !tlsConfig.IsZero() {
		tlsCfg, err := loadTLSConfig(tlsConfig)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsCfg
	}

	return &http.Client{Transport: transport}, nil
}

func loadTLSConfig(tlsConfig *types.TLSConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: tlsConfig.InsecureSkipVerify,
	}

	// Client certificate (mTLS)
	if tlsConfig.CertFile != "" && tlsConfig.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(tlsConfig.CertFile, tlsConfig.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	// CA certificate for server verification
	if tlsConfig.CAFile != "" {
		caCert, err := os.ReadFile(tlsConfig.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = caCertPool
	}

	return tlsCfg, nil
}

// FormatDuration formats a duration to a short human-readable string
func FormatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1 {
		return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000.0)
	}
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// IsSuccessStatus returns true if status code is 2xx
func IsSuccessStatus(status int) bool {
	return status >= 200 && status < 300
}

// IsClientErrorStatus returns true if status code is 4xx
func IsClientErrorStatus(status int) bool {
	return status >= 400 && status < 500
}

// IsServerErrorStatus returns true if status code is 5xx
func IsServerErrorStatus(status int) bool {
	return status >= 500 && status < 600
}
