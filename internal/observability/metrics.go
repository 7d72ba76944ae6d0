package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cab_dispatch"

var (
	ChallengesStarted = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "challenges_started_total", Help: "Verification challenges created"})
	ChallengeVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "challenge_verifications_total", Help: "Verification attempts by outcome"},
		[]string{"outcome"},
	)
	CodeDeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "code_delivery_failures_total", Help: "Failed verification code deliveries"},
		[]string{"cause"},
	)

	BookingsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "bookings_created_total", Help: "Bookings requested"},
		[]string{"policy", "status"},
	)
	TripAccepts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "trip_accepts_total", Help: "Trip accept attempts by outcome"},
		[]string{"outcome"},
	)
	TripsCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "trips_completed_total", Help: "Trips completed"})
	AssignLatency  = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "booking_assign_latency_seconds", Help: "Time spent assigning a booking"})

	DirectoryLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "directory_cache_lookups_total", Help: "Contact directory lookups by result"},
		[]string{"result"},
	)

	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "live_connections", Help: "Open websocket connections"})

	EventsProjected = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_projected_total", Help: "Booking events written to redis"},
		[]string{"type"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
