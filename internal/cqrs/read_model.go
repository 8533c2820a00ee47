package cqrs

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nathanyu/transfer-actuator/internal/domain"
)

// DefaultHistoryLimit bounds the entries kept per address
const DefaultHistoryLimit = 100

// HistoryEntry is one committed balance change on an address
type HistoryEntry struct {
	TransactionID string `json:"transaction_id"`
	Sequence      uint64 `json:"sequence"`
	Delta         int64  `json:"delta"`
}

// Stats are ledger-wide totals derived from the event stream
type Stats struct {
	Applied         int   `json:"applied"`
	Rejected        int   `json:"rejected"`
	Failed          int   `json:"failed"`
	AccountsCreated int   `json:"accounts_created"`
	AccountsSeeded  int   `json:"accounts_seeded"`
	FeesBurned      int64 `json:"fees_burned"`
	// Supply is seeded balances plus every committed delta
	Supply int64 `json:"supply"`
}

// ReadModel is a query-side view of the event stream (CQRS pattern).
// It never reads the ledger itself.
type ReadModel struct {
	limit   int
	history map[string][]HistoryEntry // keyed by hex address
	// balances mirrors the ledger so a re-seed moves supply by the difference
	balances map[string]int64
	pending map[string][]pendingDelta // keyed by transaction id
	stats   Stats
	mu      sync.RWMutex

	natsConn     *nats.Conn
	subscription *nats.Subscription
	stopOnce     sync.Once
	logger       *slog.Logger
}

var ErrNoConnection = errors.New("cqrs: read model has no NATS connection")

type Option func(*ReadModel)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(r *ReadModel) { r.logger = l }
}

type pendingDelta struct {
	address string
	delta   int64
}

// NewReadModel creates a read model. natsConn may be nil when events are fed
// directly through HandleEvent.
func NewReadModel(natsConn *nats.Conn, historyLimit int, opts ...Option) *ReadModel {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	r := &ReadModel{
		limit:    historyLimit,
		history:  make(map[string][]HistoryEntry),
		balances: make(map[string]int64),
		pending:  make(map[string][]pendingDelta),
		natsConn: natsConn,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start subscribes to the event stream
func (r *ReadModel) Start(eventSubject string) error {
	if r.natsConn == nil {
		return ErrNoConnection
	}
	sub, err := r.natsConn.Subscribe(eventSubject, r.handleMessage)
	if err != nil {
		return err
	}

	r.subscription = sub
	r.logger.Info("read model started", slog.String("subject", eventSubject))
	return nil
}

// Stop unsubscribes from the event stream
func (r *ReadModel) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		if r.subscription != nil {
			err = r.subscription.Unsubscribe()
		}
	})
	return err
}

func (r *ReadModel) handleMessage(msg *nats.Msg) {
	event, err := domain.DeserializeEvent(msg.Data)
	if err != nil {
		r.logger.Warn("failed to deserialize event in read model", slog.String("error", err.Error()))
		return
	}
	r.HandleEvent(event)
}

// HandleEvent applies one event; it matches processor.EventHandler
func (r *ReadModel) HandleEvent(event domain.Event) {
	r.mu.Lock()
	r.applyEvent(event)
	r.mu.Unlock()
}

// applyEvent must be called with mu held
func (r *ReadModel) applyEvent(event domain.Event) {
	switch ev := event.(type) {
	case domain.AccountSeeded:
		r.stats.AccountsSeeded++
		r.stats.Supply += ev.Balance - r.balances[ev.Address]
		r.balances[ev.Address] = ev.Balance
	case domain.AccountCreated:
		r.stats.AccountsCreated++
	case domain.BalanceChanged:
		r.pending[ev.TransactionID] = append(r.pending[ev.TransactionID], pendingDelta{address: ev.Address, delta: ev.Delta})
	case domain.TransactionApplied:
		for _, d := range r.pending[ev.TransactionID] {
			r.stats.Supply += d.delta
			r.balances[d.address] += d.delta
			r.appendHistory(d.address, HistoryEntry{
				TransactionID: ev.TransactionID,
				Sequence:      ev.Sequence,
				Delta:         d.delta,
			})
		}
		delete(r.pending, ev.TransactionID)
		r.stats.Applied++
		r.stats.FeesBurned += ev.Fee
	case domain.TransactionRejected:
		delete(r.pending, ev.TransactionID)
		r.stats.Rejected++
	case domain.TransactionFailed:
		delete(r.pending, ev.TransactionID)
		r.stats.Failed++
	}
}

func (r *ReadModel) appendHistory(address string, entry HistoryEntry) {
	entries := append(r.history[address], entry)
	if len(entries) > r.limit {
		entries = entries[len(entries)-r.limit:]
	}
	r.history[address] = entries
}

// History returns the newest entries for an address, oldest first
func (r *ReadModel) History(addr domain.Address) []HistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.history[addr.Hex()]
	result := make([]HistoryEntry, len(entries))
	copy(result, entries)
	return result
}

// Stats returns a snapshot of the ledger totals
func (r *ReadModel) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}
