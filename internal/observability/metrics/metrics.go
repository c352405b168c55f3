package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
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

	OTPIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_otp_issued_total",
			Help: "OTP issue requests by channel and result.",
		},
		[]string{"channel", "result"},
	)

	OTPConfirmTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_otp_confirm_total",
			Help: "OTP confirmations by channel and result.",
		},
		[]string{"channel", "result"},
	)

	AbuseRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_abuse_rejections_total",
			Help: "Issue requests rejected by the abuse guard, by ceiling.",
		},
		[]string{"ceiling"},
	)

	LocationVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_location_verdicts_total",
			Help: "Proximity checks by verdict.",
		},
		[]string{"verdict"},
	)

	LocationDistanceKm = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verification_location_distance_km",
			Help:    "Measured distance between device and venue.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 50, 500},
		},
	)

	IntakeSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_intake_submissions_total",
			Help: "Document and selfie submissions by kind and result.",
		},
		[]string{"kind", "result"},
	)

	StageTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_stage_transitions_total",
			Help: "Orchestrator stage transitions.",
		},
		[]string{"from", "to"},
	)

	registerOnce sync.Once
)

// MustRegister exposes every collector on the default registry, labelled
// with the service name.
func MustRegister(serviceName string) {
	registerOnce.Do(func() {
		reg := prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, prometheus.DefaultRegisterer)
		reg.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
			OTPIssuedTotal,
			OTPConfirmTotal,
			AbuseRejectionsTotal,
			LocationVerdictsTotal,
			LocationDistanceKm,
			IntakeSubmissionsTotal,
			StageTransitionsTotal,
		)
	})
}
