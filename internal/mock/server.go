package mock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const maxLogs = 1000

// Server is an in-memory stand-in for the Medaryon gateway
type Server struct {
	config     *Config
	httpServer *http.Server
	listener   net.Listener
	handler    http.Handler
	log        logrus.FieldLogger

	logs      []RequestLog
	logsMutex sync.RWMutex
	notifyCh  chan struct{} // Channel to notify when new log arrives

	store *store
}

// NewServer creates a fake server. A nil logger uses the standard logger.
func NewServer(config *Config, logger logrus.FieldLogger) *Server {
	if config == nil {
		config = &Config{Logging: true}
	}
	if config.Port == 0 {
		config.Port = 3000
	}
	if config.Host == "" {
		config.Host = "localhost"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &Server{
		config:   config,
		log:      logger,
		logs:     make([]RequestLog, 0),
		notifyCh: make(chan struct{}, 100),
		store:    newStore(),
	}
	for _, u := range config.Seed {
		s.store.addUser(u.Email, u.Password, u.Role, u.FirstName, u.LastName)
	}
	s.handler = s.withLogging(s.routes())
	return s
}

// Handler returns the HTTP handler, for use with httptest.NewServer
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("Mock server stopped")
		}
	}()

	s.log.WithField("addr", s.GetAddress()).Info("Mock server listening")
	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		bodyBytes, _ := io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

		if s.config.LatencyMS > 0 {
			time.Sleep(time.Duration(s.config.LatencyMS) * time.Millisecond)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if !s.config.Logging {
			return
		}
		route := r.Pattern
		if route == "" {
			route = "none"
		}
		s.logRequest(RequestLog{
			Timestamp: start,
			Method:    r.Method,
			Path:      r.URL.RequestURI(),
			Headers:   flattenHeaders(r.Header),
			Body:      string(bodyBytes),
			Route:     route,
			Status:    rec.status,
			Duration:  time.Since(start),
		})
	})
}

// logRequest adds a request to the log
func (s *Server) logRequest(entry RequestLog) {
	s.logsMutex.Lock()
	defer s.logsMutex.Unlock()

	s.logs = append(s.logs, entry)

	if len(s.logs) > maxLogs {
		s.logs = s.logs[len(s.logs)-maxLogs:]
	}

	// Notify listeners (non-blocking)
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

// NotifyChannel returns the notification channel
func (s *Server) NotifyChannel() <-chan struct{} {
	return s.notifyCh
}

// GetLogs returns all logged requests
func (s *Server) GetLogs() []RequestLog {
	s.logsMutex.RLock()
	defer s.logsMutex.RUnlock()

	logs := make([]RequestLog, len(s.logs))
	copy(logs, s.logs)
	return logs
}

// ClearLogs clears all logged requests
func (s *Server) ClearLogs() {
	s.logsMutex.Lock()
	defer s.logsMutex.Unlock()

	s.logs = make([]RequestLog, 0)
}

// GetAddress returns the server base URL
func (s *Server) GetAddress() string {
	if s.listener != nil {
		return "http://" + s.listener.Addr().String()
	}
	return "http://" + net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// flattenHeaders converts http.Header to map[string]string (first value only)
func flattenHeaders(headers http.Header) map[string]string {
	result := make(map[string]string)
	for key, values := range headers {
		if len(values) > 0 {
			result[key] = values[0]
		}
	}
	return result
}
