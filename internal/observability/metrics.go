package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics for the accounts service: the
// generic HTTP request metrics plus counters for the authentication and
// verification flows.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	loginsTotal       *prometheus.CounterVec
	signupsTotal      prometheus.Counter
	tokenRotations    prometheus.Counter
	staleTokens       prometheus.Counter
	verificationSent  prometheus.Counter
	verificationsDone prometheus.Counter
}

// NewMetrics initialises the registry with all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accounts_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "accounts_http_request_duration_seconds",
		Help:    "HTTP request duration by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	logins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accounts_logins_total",
		Help: "Password logins by outcome.",
	}, []string{"outcome"})
	signups := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accounts_signups_total",
		Help: "Accounts created.",
	})
	rotations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accounts_remember_rotations_total",
		Help: "Remember-me tokens consumed and reissued by silent login.",
	})
	stale := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accounts_remember_stale_total",
		Help: "Stale or forged remember-me cookies cleared.",
	})
	sent := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accounts_verification_emails_total",
		Help: "Verification emails dispatched.",
	})
	confirmed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accounts_verifications_total",
		Help: "Verification secrets successfully confirmed.",
	})
	registry.MustRegister(requests, duration, logins, signups, rotations, stale, sent, confirmed)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		loginsTotal:       logins,
		signupsTotal:      signups,
		tokenRotations:    rotations,
		staleTokens:       stale,
		verificationSent:  sent,
		verificationsDone: confirmed,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// LoginSuccess counts a successful password login.
func (m *Metrics) LoginSuccess() {
	if m != nil {
		m.loginsTotal.WithLabelValues("success").Inc()
	}
}

// LoginFailure counts a rejected password login.
func (m *Metrics) LoginFailure() {
	if m != nil {
		m.loginsTotal.WithLabelValues("failure").Inc()
	}
}

// SignupCreated counts a new account.
func (m *Metrics) SignupCreated() {
	if m != nil {
		m.signupsTotal.Inc()
	}
}

// TokenRotated counts a remember-me token consumed and reissued.
func (m *Metrics) TokenRotated() {
	if m != nil {
		m.tokenRotations.Inc()
	}
}

// StaleTokenCleared counts a stale or forged remember cookie cleared.
func (m *Metrics) StaleTokenCleared() {
	if m != nil {
		m.staleTokens.Inc()
	}
}

// VerificationSent counts a dispatched verification email.
func (m *Metrics) VerificationSent() {
	if m != nil {
		m.verificationSent.Inc()
	}
}

// VerificationConfirmed counts a confirmed verification secret.
func (m *Metrics) VerificationConfirmed() {
	if m != nil {
		m.verificationsDone.Inc()
	}
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
