package processor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nathanyu/transfer-actuator/internal/domain"
	"github.com/nathanyu/transfer-actuator/internal/telemetry"
	"github.com/sony/gobreaker"
)

// MessagePublisher is the subset of *nats.Conn the event publisher needs
type MessagePublisher interface {
	Publish(subject string, data []byte) error
}

// BreakerSettings tunes the circuit breaker in front of the broker
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing
	OpenTimeout time.Duration
}

// DefaultBreakerSettings trips after five consecutive failures for ten seconds
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenTimeout: 10 * time.Second}
}

// EventPublisher publishes events to NATS behind a circuit breaker. While the
// breaker is open events are dropped rather than delaying the writer; the
// journal stays the source of truth.
type EventPublisher struct {
	conn    MessagePublisher
	subject string
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewEventPublisher creates a publisher for subject
func NewEventPublisher(conn MessagePublisher, subject string, settings BreakerSettings, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = DefaultBreakerSettings().ConsecutiveFailures
	}

	pub := &EventPublisher{conn: conn, subject: subject, logger: logger}
	pub.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "nats:" + subject,
		Timeout: settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("event publisher breaker changed state",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return pub
}

// State reports the breaker state
func (p *EventPublisher) State() gobreaker.State {
	return p.breaker.State()
}

// Publish implements Publisher
func (p *EventPublisher) Publish(ctx context.Context, events []domain.Event) {
	for _, event := range events {
		data, err := domain.SerializeEvent(event)
		if err != nil {
			p.logger.ErrorContext(ctx, "failed to serialize event for publishing", slog.String("error", err.Error()))
			continue
		}

		_, err = p.breaker.Execute(func() (interface{}, error) {
			return nil, p.conn.Publish(p.subject, data)
		})
		switch {
		case err == nil:
			telemetry.NATSMessagesPublished.WithLabelValues(p.subject).Inc()
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			telemetry.NATSPublishDropped.WithLabelValues("breaker_open").Inc()
		default:
			telemetry.NATSPublishDropped.WithLabelValues("error").Inc()
			p.logger.WarnContext(ctx, "failed to publish event",
				slog.String("subject", p.subject),
				slog.String("type", event.GetType()),
				slog.String("error", err.Error()),
			)
		}
	}
}
