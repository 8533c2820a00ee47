package journal

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/nathanyu/transfer-actuator/internal/domain"
	"github.com/nathanyu/transfer-actuator/internal/ledger"
)

// ReplayResult summarizes a rebuilt ledger
type ReplayResult struct {
	// Sequence is the highest sequence number seen
	Sequence uint64
	// Processed holds every transaction id with a terminal outcome
	Processed map[string]struct{}
	Applied   int
	Rejected  int
	Failed    int
	Seeded    int
}

// ReplayOption configures Replay
type ReplayOption func(*replayer)

type replayer struct {
	logger *slog.Logger
}

// WithReplayLogger sets the logger that reports a dropped journal tail
func WithReplayLogger(l *slog.Logger) ReplayOption {
	return func(r *replayer) { r.logger = l }
}

// Replay rebuilds ledger state from journal events.
//
// Account and balance events are buffered per transaction and committed as
// one ledger batch when the transaction's outcome event is reached. A failed
// transaction keeps only its account creations. Events after the last
// outcome belong to an interrupted write and are dropped.
func Replay(ctx context.Context, events []domain.Event, state ledger.State, opts ...ReplayOption) (*ReplayResult, error) {
	r := replayer{logger: slog.Default()}
	for _, opt := range opts {
		opt(&r)
	}

	res := &ReplayResult{Processed: make(map[string]struct{})}
	var pending ledger.Batch

	for i, event := range events {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		switch e := event.(type) {
		case domain.AccountSeeded:
			addr, err := decodeAddress(e.Address)
			if err != nil {
				return res, fmt.Errorf("event %d: %w", i, err)
			}
			account := domain.NewAccount(addr, e.Type, e.CreateTime)
			account.Balance = e.Balance
			if err := state.Put(ctx, account); err != nil {
				return res, fmt.Errorf("event %d: seed %s: %w", i, addr, err)
			}
			res.Seeded++

		case domain.AccountCreated:
			addr, err := decodeAddress(e.Address)
			if err != nil {
				return res, fmt.Errorf("event %d: %w", i, err)
			}
			pending.Creates = append(pending.Creates, domain.NewAccount(addr, e.Type, e.CreateTime))

		case domain.BalanceChanged:
			addr, err := decodeAddress(e.Address)
			if err != nil {
				return res, fmt.Errorf("event %d: %w", i, err)
			}
			pending.Deltas = append(pending.Deltas, ledger.Delta{Address: addr, Amount: e.Delta})

		case domain.TransactionApplied:
			if err := state.Apply(ctx, pending); err != nil {
				return res, fmt.Errorf("event %d: replay transaction %s: %w", i, e.TransactionID, err)
			}
			pending = ledger.Batch{}
			res.Applied++
			res.mark(e.TransactionID, e.Sequence)

		case domain.TransactionFailed:
			if len(pending.Creates) > 0 {
				if err := state.Apply(ctx, ledger.Batch{Creates: pending.Creates}); err != nil {
					return res, fmt.Errorf("event %d: replay transaction %s: %w", i, e.TransactionID, err)
				}
			}
			pending = ledger.Batch{}
			res.Failed++
			res.mark(e.TransactionID, e.Sequence)

		case domain.TransactionRejected:
			pending = ledger.Batch{}
			res.Rejected++
			res.mark(e.TransactionID, e.Sequence)
		}
	}

	if !pending.Empty() {
		r.logger.WarnContext(ctx, "dropping journal tail without an outcome",
			slog.Int("creates", len(pending.Creates)),
			slog.Int("deltas", len(pending.Deltas)),
		)
	}
	return res, nil
}

// decodeAddress reads the hex form every event stores
func decodeAddress(s string) (domain.Address, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("%w: %q is not a hex address", domain.ErrInvalidAddress, s)
	}
	return domain.Address(raw), nil
}

func (r *ReplayResult) mark(txID string, seq uint64) {
	if txID != "" {
		r.Processed[txID] = struct{}{}
	}
	if seq > r.Sequence {
		r.Sequence = seq
	}
}
