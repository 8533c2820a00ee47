package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nathanyu/transfer-actuator/internal/domain"
	"github.com/nathanyu/transfer-actuator/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	TransactionSubject = "ledger.transactions"
	EventSubject       = "ledger.events"
)

var ErrNoConnection = errors.New("processor: no NATS connection configured")

// CommandResponse is the reply to a transaction submitted over NATS
type CommandResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	Outcome *Outcome `json:"outcome,omitempty"`
	// JournalError is set when the outcome was committed but not journaled
	JournalError bool `json:"journal_error,omitempty"`
}

// Result turns a reply back into what Process returned. A journal failure
// comes back as the outcome together with an error wrapping ErrJournal.
func (r *CommandResponse) Result() (*Outcome, error) {
	switch {
	case r.Outcome == nil:
		return nil, errors.New(r.Error)
	case r.JournalError:
		return r.Outcome, fmt.Errorf("%w: %s", ErrJournal, r.Error)
	default:
		return r.Outcome, nil
	}
}

// Start begins consuming transactions from NATS
func (p *Processor) Start() error {
	if p.natsConn == nil {
		return ErrNoConnection
	}
	sub, err := p.natsConn.Subscribe(TransactionSubject, p.handleTransaction)
	if err != nil {
		return fmt.Errorf("failed to subscribe to transactions: %w", err)
	}

	p.subscription = sub
	p.logger.Info("processor started", slog.String("subject", TransactionSubject))
	return nil
}

// Stop unsubscribes and waits for in-flight transactions
func (p *Processor) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		p.cancel()
		if p.subscription != nil {
			err = p.subscription.Unsubscribe()
		}
		p.wg.Wait()
	})
	return err
}

func (p *Processor) handleTransaction(msg *nats.Msg) {
	p.wg.Add(1)
	defer p.wg.Done()

	ctx := p.ctx
	if telemetry.Tracer != nil {
		var span trace.Span
		ctx, span = telemetry.Tracer.Start(ctx, "processor.handleTransaction",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.system", "nats"),
				attribute.String("messaging.destination", TransactionSubject),
			),
		)
		defer span.End()
	}

	telemetry.NATSMessagesReceived.WithLabelValues(TransactionSubject).Inc()

	var cmd domain.TransactionCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		p.logger.WarnContext(ctx, "failed to unmarshal transaction", slog.String("error", err.Error()))
		p.respond(msg, CommandResponse{Error: "invalid transaction format"})
		return
	}

	tx, err := cmd.Transaction()
	if err != nil {
		p.respond(msg, CommandResponse{Error: err.Error()})
		return
	}

	outcome, err := p.Process(ctx, tx)
	if err != nil {
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		p.respond(msg, CommandResponse{
			Error:        err.Error(),
			Outcome:      outcome,
			JournalError: errors.Is(err, ErrJournal),
		})
		return
	}

	resp := CommandResponse{Success: outcome.Status == StatusApplied, Outcome: outcome}
	if !resp.Success && outcome.Reason != "" {
		resp.Error = outcome.Reason
	}
	p.respond(msg, resp)
}

func (p *Processor) respond(msg *nats.Msg, resp CommandResponse) {
	if msg.Reply == "" {
		return
	}
	data, _ := json.Marshal(resp)
	if err := msg.Respond(data); err != nil {
		p.logger.Warn("failed to respond to transaction", slog.String("error", err.Error()))
	}
}
