package stresstest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics are the client-side collectors updated by every stress run
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight *prometheus.GaugeVec
	ErrorsTotal      *prometheus.CounterVec
}

// NewMetrics registers the collectors on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "medprobe",
				Name:      "stress_requests_total",
				Help:      "Stress samples by workload and status code",
			},
			[]string{"workload", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "medprobe",
				Name:      "stress_request_duration_seconds",
				Help:      "Stress sample latency",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"workload"},
		),
		RequestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "medprobe",
				Name:      "stress_requests_in_flight",
				Help:      "Samples currently executing",
			},
			[]string{"workload"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "medprobe",
				Name:      "stress_errors_total",
				Help:      "Failed stress samples by kind",
			},
			[]string{"workload", "kind"},
		),
	}
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observe(workload string, s Sample) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(workload, strconv.Itoa(s.Status)).Inc()
	switch {
	case s.IsNetworkError():
		m.ErrorsTotal.WithLabelValues(workload, "network").Inc()
	case s.Invalid != "":
		m.ErrorsTotal.WithLabelValues(workload, "validation").Inc()
	default:
		m.RequestDuration.WithLabelValues(workload).Observe(s.Duration.Seconds())
	}
}

func (m *Metrics) inFlight(workload string, delta float64) {
	if m == nil {
		return
	}
	m.RequestsInFlight.WithLabelValues(workload).Add(delta)
}

// Handler serves the collectors in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, addr string, logger logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.WithField("addr", ln.Addr().String()).Info("Serving stress metrics")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()
	return nil
}
