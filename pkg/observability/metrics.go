package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Authentication exchange metrics
	AuthnRequestsTotal   *prometheus.CounterVec
	LoginsTotal          *prometheus.CounterVec
	AssertionsTotal      *prometheus.CounterVec
	MagicLinkTotal       *prometheus.CounterVec
	RememberMeResolved   prometheus.Counter
	PendingRequestsSwept prometheus.Counter

	// Storage metrics
	StorageOperationsTotal *prometheus.CounterVec
	StorageErrorsTotal     *prometheus.CounterVec

	// Metadata cache metrics
	MetadataCacheHitsTotal   prometheus.Counter
	MetadataCacheMissesTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		AuthnRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guestidp_authn_requests_total",
				Help: "Total number of inbound authentication requests",
			},
			[]string{"binding", "status"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guestidp_logins_total",
				Help: "Total number of resolved logins by strategy",
			},
			[]string{"strategy"},
		),
		AssertionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guestidp_assertions_total",
				Help: "Total number of dispatched assertions",
			},
			[]string{"binding"},
		),
		MagicLinkTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guestidp_magic_link_total",
				Help: "Total number of magic-link completion attempts",
			},
			[]string{"outcome"},
		),
		RememberMeResolved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "guestidp_remember_me_resolved_total",
				Help: "Total number of logins resolved from a remember-me cookie",
			},
		),
		PendingRequestsSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "guestidp_pending_requests_swept_total",
				Help: "Total number of expired authentication requests purged",
			},
		),
		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guestidp_storage_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guestidp_storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"operation", "backend"},
		),
		MetadataCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "guestidp_metadata_cache_hits_total",
				Help: "Total number of service provider metadata cache hits",
			},
		),
		MetadataCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "guestidp_metadata_cache_misses_total",
				Help: "Total number of service provider metadata cache misses",
			},
		),
	}

	registry.MustRegister(
		m.AuthnRequestsTotal,
		m.LoginsTotal,
		m.AssertionsTotal,
		m.MagicLinkTotal,
		m.RememberMeResolved,
		m.PendingRequestsSwept,
		m.StorageOperationsTotal,
		m.StorageErrorsTotal,
		m.MetadataCacheHitsTotal,
		m.MetadataCacheMissesTotal,
	)
	return m
}
