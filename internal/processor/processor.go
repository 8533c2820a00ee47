// Package processor is the single writer in front of the actuators. It stamps
// every transaction with a sequence number, runs validate and execute, and
// journals and publishes the resulting events in sequence order.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nathanyu/transfer-actuator/internal/actuator"
	"github.com/nathanyu/transfer-actuator/internal/domain"
	"github.com/nathanyu/transfer-actuator/internal/journal"
	"github.com/nathanyu/transfer-actuator/internal/ledger"
	"github.com/nathanyu/transfer-actuator/internal/telemetry"
	"github.com/nathanyu/transfer-actuator/internal/wire"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrJournal = errors.New("processor: journal write failed")

// Status is the terminal state of a processed transaction
type Status string

const (
	StatusApplied  Status = "applied"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
	// StatusRecovered marks an id restored from the journal without its details
	StatusRecovered Status = "recovered"
)

// Outcome is what the processor reports for one transaction
type Outcome struct {
	TransactionID string              `json:"transaction_id"`
	Sequence      uint64              `json:"sequence"`
	ContractType  domain.ContractType `json:"contract_type,omitempty"`
	Status        Status              `json:"status"`
	Code          domain.ResultCode   `json:"code,omitempty"`
	Fee           int64               `json:"fee"`
	Kind          actuator.Kind       `json:"kind,omitempty"`
	Reason        string              `json:"reason,omitempty"`
	Duplicate     bool                `json:"duplicate,omitempty"`
	Events        []string            `json:"events,omitempty"`
}

// EventHandler receives committed events in sequence order
type EventHandler func(event domain.Event)

// Appender persists a transaction's events as one unit
type Appender interface {
	AppendBatch(events []domain.Event) error
}

// Publisher fans events out to other subscribers
type Publisher interface {
	Publish(ctx context.Context, events []domain.Event)
}

// Processor applies transactions to the ledger one at a time
type Processor struct {
	ledger   ledger.State
	registry *actuator.Registry
	journal  Appender
	events   Publisher
	logger   *slog.Logger
	now      func() time.Time

	// mu serializes every ledger write; the actuators hold no locks of their own
	mu        sync.Mutex
	sequence  uint64
	processed map[string]*Outcome

	handlersMu sync.RWMutex
	handlers   []EventHandler

	natsConn     *nats.Conn
	subscription *nats.Subscription
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	stopOnce     sync.Once
}

type Option func(*Processor)

// WithJournal persists events before they are published
func WithJournal(j Appender) Option {
	return func(p *Processor) { p.journal = j }
}

// WithPublisher sets the event fan-out
func WithPublisher(pub Publisher) Option {
	return func(p *Processor) { p.events = pub }
}

// WithNATS sets the connection Start subscribes on
func WithNATS(conn *nats.Conn) Option {
	return func(p *Processor) { p.natsConn = conn }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithClock sets the clock used for seeded account creation times
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// New creates a processor writing to state through the registry's actuators
func New(state ledger.State, registry *actuator.Registry, opts ...Option) *Processor {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Processor{
		ledger:    state,
		registry:  registry,
		logger:    slog.Default(),
		now:       time.Now,
		processed: make(map[string]*Outcome),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterEventHandler registers a handler to receive events
func (p *Processor) RegisterEventHandler(handler EventHandler) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.handlers = append(p.handlers, handler)
}

// Restore replays journal events into the ledger and resumes the sequence
// after the last journaled transaction.
func (p *Processor) Restore(ctx context.Context, events []domain.Event) (*journal.ReplayResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, err := journal.Replay(ctx, events, p.ledger, journal.WithReplayLogger(p.logger))
	if err != nil {
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	p.resume(res)
	p.refreshAccountCount(ctx)

	p.logger.InfoContext(ctx, "processor restored from journal",
		slog.Int("events", len(events)),
		slog.Uint64("sequence", p.sequence),
		slog.Int("applied", res.Applied),
		slog.Int("rejected", res.Rejected),
		slog.Int("failed", res.Failed),
	)

	// handlers see the restored history so read models can rebuild
	p.notify(events)
	return res, nil
}

// Resume restores the sequence and the processed ids from a replay without
// touching the ledger. It is used when the ledger is durable on its own.
func (p *Processor) Resume(res *journal.ReplayResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resume(res)
}

func (p *Processor) resume(res *journal.ReplayResult) {
	if res.Sequence > p.sequence {
		p.sequence = res.Sequence
	}
	for id := range res.Processed {
		if _, ok := p.processed[id]; !ok {
			p.processed[id] = &Outcome{TransactionID: id, Status: StatusRecovered}
		}
	}
	telemetry.CurrentSequence.Set(float64(p.sequence))
}

// Sequence returns the sequence number of the last processed transaction
func (p *Processor) Sequence() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sequence
}

// Account reads one account from the ledger
func (p *Processor) Account(ctx context.Context, addr domain.Address) (*domain.Account, error) {
	return p.ledger.Get(ctx, addr)
}

// SeedAccount places an account on the ledger outside of any transaction,
// replacing an existing record. It exists for test networks and fixtures.
func (p *Processor) SeedAccount(ctx context.Context, addr domain.Address, balance int64) (*domain.Account, error) {
	if !p.registry.ValidAddress(addr) {
		return nil, fmt.Errorf("seed %s: %w", addr.Hex(), domain.ErrInvalidAddress)
	}
	if balance < 0 {
		return nil, fmt.Errorf("seed %s: %w", addr, ledger.ErrInsufficientFunds)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	account := domain.NewAccount(addr, domain.AccountTypeNormal, p.now().UnixMilli())
	account.Balance = balance

	if err := p.ledger.Put(ctx, account); err != nil {
		return nil, fmt.Errorf("seed %s: %w", addr, err)
	}

	events := []domain.Event{domain.AccountSeeded{
		Address:    addr.Hex(),
		Balance:    balance,
		Type:       account.Type,
		CreateTime: account.CreateTime,
	}}
	if err := p.persist(events); err != nil {
		return account, err
	}
	p.refreshAccountCount(ctx)
	p.emit(ctx, events)
	return account, nil
}

// Process runs one transaction through its actuator. A transaction id seen
// before returns the earlier outcome with Duplicate set and touches nothing.
func (p *Processor) Process(ctx context.Context, tx domain.Transaction) (*Outcome, error) {
	start := time.Now()

	if telemetry.Tracer != nil {
		var span trace.Span
		ctx, span = telemetry.Tracer.Start(ctx, "processor.Process",
			trace.WithAttributes(attribute.String("transaction_id", tx.ID)),
		)
		defer span.End()
	}

	if tx.ID == "" {
		return nil, domain.ErrMissingTransactionID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.processed[tx.ID]; ok {
		p.logger.InfoContext(ctx, "transaction already processed, skipping", slog.String("transaction_id", tx.ID))
		telemetry.DuplicateTransactionsTotal.Inc()
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(attribute.Bool("duplicate", true))
		}
		dup := *prev
		dup.Duplicate = true
		return &dup, nil
	}

	seq := p.sequence + 1
	outcome, events := p.run(ctx, seq, tx)
	if events == nil {
		// nothing terminal happened; the id stays retryable
		return outcome, nil
	}

	p.sequence = seq
	p.processed[tx.ID] = outcome
	telemetry.CurrentSequence.Set(float64(seq))

	outcome.Events = make([]string, len(events))
	for i, ev := range events {
		outcome.Events[i] = ev.GetType()
	}

	p.recordMetrics(outcome, events)
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.Int64("sequence", int64(seq)),
			attribute.String("status", string(outcome.Status)),
		)
		if outcome.Status == StatusApplied {
			span.SetStatus(codes.Ok, "")
		}
	}

	if hasAccountCreated(events) {
		p.refreshAccountCount(ctx)
	}

	err := p.persist(events)
	p.emit(ctx, events)
	telemetry.ProcessingDuration.Observe(time.Since(start).Seconds())
	return outcome, err
}

// run validates and executes tx. A nil event slice means the attempt left no
// trace and must not consume the sequence number or the transaction id.
func (p *Processor) run(ctx context.Context, seq uint64, tx domain.Transaction) (*Outcome, []domain.Event) {
	outcome := &Outcome{TransactionID: tx.ID, Sequence: seq}

	kind, err := wire.ContractTypeOf(tx.Contract)
	if err != nil {
		return p.reject(ctx, outcome, actuator.KindMalformedContract, err.Error())
	}
	outcome.ContractType = kind

	act, err := p.registry.Create(kind, tx.Contract)
	if err != nil {
		k, _ := actuator.KindOf(err)
		return p.reject(ctx, outcome, k, err.Error())
	}
	outcome.Fee = act.Fee()

	if err := act.Validate(ctx); err != nil {
		var ve *actuator.ValidationError
		if !errors.As(err, &ve) {
			return p.reject(ctx, outcome, actuator.KindMalformedContract, err.Error())
		}
		if ve.Kind == actuator.KindStoreUnavailable {
			p.logger.WarnContext(ctx, "ledger unavailable during validation",
				slog.String("transaction_id", tx.ID),
				slog.String("error", ve.Error()),
			)
			outcome.Status = StatusRejected
			outcome.Kind = ve.Kind
			outcome.Reason = ve.Message
			outcome.Sequence = 0
			return outcome, nil
		}
		return p.reject(ctx, outcome, ve.Kind, ve.Message)
	}

	var result domain.TransactionResult
	execErr := act.Execute(ctx, &result)
	outcome.Code = result.Code
	outcome.Fee = result.Fee

	effects := act.Effects()
	events := make([]domain.Event, 0, len(effects.Created)+len(effects.Deltas)+1)
	for _, acc := range effects.Created {
		events = append(events, domain.AccountCreated{
			TransactionID: tx.ID,
			Address:       acc.Address.Hex(),
			Type:          acc.Type,
			CreateTime:    acc.CreateTime,
		})
	}
	for _, d := range effects.Deltas {
		events = append(events, domain.BalanceChanged{
			TransactionID: tx.ID,
			Address:       d.Address.Hex(),
			Delta:         d.Amount,
		})
	}

	if execErr != nil {
		k, _ := actuator.KindOf(execErr)
		outcome.Status = StatusFailed
		outcome.Kind = k
		outcome.Reason = execErr.Error()
		p.logger.ErrorContext(ctx, "transaction execution failed",
			slog.String("transaction_id", tx.ID),
			slog.Uint64("sequence", seq),
			slog.String("kind", string(k)),
			slog.String("error", execErr.Error()),
		)
		return outcome, append(events, domain.TransactionFailed{
			TransactionID: tx.ID,
			Sequence:      seq,
			Kind:          string(k),
			Reason:        execErr.Error(),
			Fee:           result.Fee,
		})
	}

	outcome.Status = StatusApplied
	p.logger.InfoContext(ctx, "transaction applied",
		slog.String("transaction_id", tx.ID),
		slog.Uint64("sequence", seq),
		slog.String("contract_type", string(kind)),
		slog.Int64("fee", result.Fee),
	)
	if tc, ok := act.(*actuator.TransferActuator); ok {
		telemetry.TransferAmount.Observe(float64(tc.Contract().Amount))
	}
	return outcome, append(events, domain.TransactionApplied{
		TransactionID: tx.ID,
		Sequence:      seq,
		ContractType:  kind,
		Fee:           result.Fee,
	})
}

func (p *Processor) reject(ctx context.Context, outcome *Outcome, kind actuator.Kind, reason string) (*Outcome, []domain.Event) {
	outcome.Status = StatusRejected
	outcome.Kind = kind
	outcome.Reason = reason

	p.logger.InfoContext(ctx, "transaction rejected",
		slog.String("transaction_id", outcome.TransactionID),
		slog.Uint64("sequence", outcome.Sequence),
		slog.String("kind", string(kind)),
		slog.String("reason", reason),
	)
	return outcome, []domain.Event{domain.TransactionRejected{
		TransactionID: outcome.TransactionID,
		Sequence:      outcome.Sequence,
		Kind:          string(kind),
		Reason:        reason,
	}}
}

// persist must be called with mu held
func (p *Processor) persist(events []domain.Event) error {
	if p.journal == nil {
		return nil
	}
	if err := p.journal.AppendBatch(events); err != nil {
		p.logger.Error("failed to persist events", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", ErrJournal, err)
	}
	return nil
}

// emit must be called with mu held so subscribers observe sequence order
func (p *Processor) emit(ctx context.Context, events []domain.Event) {
	p.notify(events)
	if p.events != nil {
		p.events.Publish(ctx, events)
	}
}

func (p *Processor) notify(events []domain.Event) {
	p.handlersMu.RLock()
	handlers := make([]EventHandler, len(p.handlers))
	copy(handlers, p.handlers)
	p.handlersMu.RUnlock()

	for _, event := range events {
		for _, handler := range handlers {
			handler(event)
		}
	}
}

func (p *Processor) recordMetrics(outcome *Outcome, events []domain.Event) {
	contractType := string(outcome.ContractType)
	if contractType == "" {
		contractType = "unknown"
	}
	telemetry.TransactionsTotal.WithLabelValues(contractType, string(outcome.Status)).Inc()

	switch outcome.Status {
	case StatusRejected:
		telemetry.ValidationFailuresTotal.WithLabelValues(string(outcome.Kind)).Inc()
	case StatusApplied:
		telemetry.FeesChargedTotal.Add(float64(outcome.Fee))
	}

	for _, ev := range events {
		if _, ok := ev.(domain.AccountCreated); ok {
			telemetry.AccountsCreatedTotal.Inc()
		}
	}
}

// refreshAccountCount updates the account gauge when the store can enumerate
func (p *Processor) refreshAccountCount(ctx context.Context) {
	lister, ok := p.ledger.(ledger.Lister)
	if !ok {
		return
	}
	accounts, err := lister.Accounts(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "failed to count accounts", slog.String("error", err.Error()))
		return
	}
	telemetry.AccountCount.Set(float64(len(accounts)))
}

func hasAccountCreated(events []domain.Event) bool {
	for _, ev := range events {
		if _, ok := ev.(domain.AccountCreated); ok {
			return true
		}
	}
	return false
}
