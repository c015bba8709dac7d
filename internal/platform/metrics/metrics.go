// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	OTPChallengesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "record_access_otp_requests_total",
			Help: "Record access code requests by outcome.",
		},
		[]string{"result"},
	)

	RecordAccessTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "record_access_total",
			Help: "OTP-gated record operations by operation and outcome.",
		},
		[]string{"operation", "result"},
	)

	AuthLoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Total number of login attempts.",
		},
		[]string{"result"},
	)
)

// MustRegister registers every collector with reg. Call once at startup.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		OTPChallengesTotal,
		RecordAccessTotal,
		AuthLoginsTotal,
	)
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
