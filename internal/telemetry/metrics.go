package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actuator_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "actuator_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Transaction metrics
	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actuator_transactions_total",
			Help: "Total number of processed transactions",
		},
		[]string{"contract_type", "status"}, // applied, rejected, failed
	)

	ValidationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actuator_validation_failures_total",
			Help: "Validation failures by kind",
		},
		[]string{"kind"},
	)

	FeesChargedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "actuator_fees_charged_sun_total",
			Help: "Fees consumed by executed transactions, in sun",
		},
	)

	TransferAmount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "actuator_transfer_amount_sun",
			Help:    "Applied transfer amount distribution (in sun)",
			Buckets: prometheus.ExponentialBuckets(1, 10, 13),
		},
	)

	AccountsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "actuator_accounts_created_total",
			Help: "Accounts created by transfers to unknown recipients",
		},
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "actuator_processing_duration_seconds",
			Help:    "Time to validate and execute one transaction",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
		},
	)

	CurrentSequence = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "actuator_current_sequence",
			Help: "Sequence number of the last processed transaction",
		},
	)

	DuplicateTransactionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "actuator_duplicate_transactions_total",
			Help: "Total number of duplicate transactions skipped",
		},
	)

	// Journal metrics
	EventsStoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actuator_events_stored_total",
			Help: "Total number of events stored",
		},
		[]string{"type"},
	)

	JournalWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "actuator_journal_write_duration_seconds",
			Help:    "Time to write events to the journal",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	// NATS metrics
	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actuator_nats_messages_published_total",
			Help: "Total number of NATS messages published",
		},
		[]string{"subject"},
	)

	NATSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actuator_nats_messages_received_total",
			Help: "Total number of NATS messages received",
		},
		[]string{"subject"},
	)

	NATSPublishDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actuator_nats_publish_dropped_total",
			Help: "Event publishes skipped or failed, by reason",
		},
		[]string{"reason"}, // breaker_open, error
	)

	// Ledger metrics
	AccountCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "actuator_account_count",
			Help: "Total number of accounts known to the processor",
		},
	)
)
