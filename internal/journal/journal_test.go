package journal

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/nathanyu/transfer-actuator/internal/domain"
	"github.com/nathanyu/transfer-actuator/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(last byte) domain.Address {
	a := make(domain.Address, domain.AddressLength)
	a[0] = domain.MainNetPrefix
	a[domain.AddressLength-1] = last
	return a
}

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.log"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_AppendAndLoad(t *testing.T) {
	j := openTemp(t)

	events := []domain.Event{
		domain.BalanceChanged{TransactionID: "tx-1", Address: addr(1).Hex(), Delta: -110},
		domain.BalanceChanged{TransactionID: "tx-1", Address: addr(2).Hex(), Delta: 100},
		domain.TransactionApplied{TransactionID: "tx-1", Sequence: 1, ContractType: domain.ContractTypeTransfer, Fee: 10},
	}
	for _, event := range events {
		require.NoError(t, j.Append(event))
	}
	require.NoError(t, j.Close())

	reopened, err := Open(j.Path())
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 3)

	debit, ok := loaded[0].(domain.BalanceChanged)
	require.True(t, ok)
	assert.Equal(t, "tx-1", debit.TransactionID)
	assert.Equal(t, int64(-110), debit.Delta)

	applied, ok := loaded[2].(domain.TransactionApplied)
	require.True(t, ok)
	assert.Equal(t, uint64(1), applied.Sequence)
	assert.Equal(t, int64(10), applied.Fee)
}

func TestJournal_AppendBatch(t *testing.T) {
	j := openTemp(t)

	require.NoError(t, j.AppendBatch([]domain.Event{
		domain.AccountCreated{TransactionID: "tx-1", Address: addr(2).Hex()},
		domain.TransactionRejected{TransactionID: "tx-2", Sequence: 2, Kind: "SelfTransfer"},
	}))
	require.NoError(t, j.AppendBatch(nil))

	loaded, err := j.LoadAll()
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

func TestJournal_MissingFile(t *testing.T) {
	j := &Journal{filePath: filepath.Join(t.TempDir(), "absent.log")}
	loaded, err := j.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestJournal_Clear(t *testing.T) {
	j := openTemp(t)
	require.NoError(t, j.Append(domain.TransactionRejected{TransactionID: "tx-1", Sequence: 1}))

	require.NoError(t, j.Clear())
	loaded, err := j.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, loaded)

	require.NoError(t, j.Append(domain.TransactionRejected{TransactionID: "tx-2", Sequence: 2}))
	loaded, err = j.LoadAll()
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func TestJournal_CorruptLine(t *testing.T) {
	j := openTemp(t)
	require.NoError(t, j.Append(domain.TransactionRejected{TransactionID: "tx-1", Sequence: 1}))

	f, err := os.OpenFile(j.Path(), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = j.LoadAll()
	assert.ErrorContains(t, err, "line 2")
}

func TestReplay_RebuildsLedger(t *testing.T) {
	owner, recipient := addr(1), addr(2)
	events := []domain.Event{
		domain.AccountSeeded{Address: owner.Hex(), Balance: 1000, CreateTime: 1},

		domain.AccountCreated{TransactionID: "tx-1", Address: recipient.Hex(), CreateTime: 5},
		domain.BalanceChanged{TransactionID: "tx-1", Address: owner.Hex(), Delta: -110},
		domain.BalanceChanged{TransactionID: "tx-1", Address: recipient.Hex(), Delta: 100},
		domain.TransactionApplied{TransactionID: "tx-1", Sequence: 1, Fee: 10},

		domain.TransactionRejected{TransactionID: "tx-2", Sequence: 2, Kind: "SelfTransfer"},

		domain.TransactionFailed{TransactionID: "tx-3", Sequence: 3, Kind: "StoreMutationFailure", Fee: 10},

		// interrupted write
		domain.BalanceChanged{TransactionID: "tx-4", Address: owner.Hex(), Delta: -1},
	}

	store := ledger.NewMemoryStore()
	res, err := Replay(context.Background(), events, store)
	require.NoError(t, err)

	assert.Equal(t, uint64(3), res.Sequence)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Seeded)
	assert.Contains(t, res.Processed, "tx-2")
	assert.NotContains(t, res.Processed, "tx-4")

	o, err := store.Get(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, int64(890), o.Balance)

	r, err := store.Get(context.Background(), recipient)
	require.NoError(t, err)
	assert.Equal(t, int64(100), r.Balance)
	assert.Equal(t, int64(5), r.CreateTime)
}

func TestReplay_FailedTransactionKeepsCreatedAccount(t *testing.T) {
	owner, recipient := addr(1), addr(2)
	events := []domain.Event{
		domain.AccountSeeded{Address: owner.Hex(), Balance: 50},
		domain.AccountCreated{TransactionID: "tx-1", Address: recipient.Hex(), CreateTime: 9},
		domain.TransactionFailed{TransactionID: "tx-1", Sequence: 1, Fee: 1},
	}

	store := ledger.NewMemoryStore()
	_, err := Replay(context.Background(), events, store)
	require.NoError(t, err)

	r, err := store.Get(context.Background(), recipient)
	require.NoError(t, err)
	assert.Zero(t, r.Balance)

	o, err := store.Get(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, int64(50), o.Balance)
}

func TestReplay_InconsistentJournal(t *testing.T) {
	events := []domain.Event{
		domain.BalanceChanged{TransactionID: "tx-1", Address: addr(1).Hex(), Delta: -5},
		domain.TransactionApplied{TransactionID: "tx-1", Sequence: 1},
	}

	_, err := Replay(context.Background(), events, ledger.NewMemoryStore())
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestReplay_BadAddress(t *testing.T) {
	_, err := Replay(context.Background(), []domain.Event{
		domain.AccountSeeded{Address: "zz"},
	}, ledger.NewMemoryStore())
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
}

func TestReplay_ThroughFile(t *testing.T) {
	j := openTemp(t)
	owner, recipient := addr(1), addr(2)
	require.NoError(t, j.Append(domain.AccountSeeded{Address: owner.Hex(), Balance: 20}))
	require.NoError(t, j.AppendBatch([]domain.Event{
		domain.AccountCreated{TransactionID: "tx-1", Address: recipient.Hex()},
		domain.BalanceChanged{TransactionID: "tx-1", Address: owner.Hex(), Delta: -20},
		domain.BalanceChanged{TransactionID: "tx-1", Address: recipient.Hex(), Delta: 20},
		domain.TransactionApplied{TransactionID: "tx-1", Sequence: 7},
	}))

	events, err := j.LoadAll()
	require.NoError(t, err)

	store := ledger.NewMemoryStore()
	res, err := Replay(context.Background(), events, store)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), res.Sequence)

	o, err := store.Get(context.Background(), owner)
	require.NoError(t, err)
	assert.Zero(t, o.Balance)
}

func TestReplay_AddressesAreHexOfAnyLength(t *testing.T) {
	short := domain.Address{0x41, 0x01, 0x02}
	store := ledger.NewMemoryStore()

	res, err := Replay(context.Background(), []domain.Event{
		domain.AccountSeeded{Address: short.Hex(), Balance: 5},
	}, store)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Seeded)

	acc, err := store.Get(context.Background(), short)
	require.NoError(t, err)
	assert.Equal(t, int64(5), acc.Balance)
}

func TestReplay_DroppedTailIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	events := []domain.Event{
		domain.AccountSeeded{Address: addr(1).Hex(), Balance: 10},
		domain.BalanceChanged{TransactionID: "tx-1", Address: addr(1).Hex(), Delta: -1},
	}
	store := ledger.NewMemoryStore()
	_, err := Replay(context.Background(), events, store, WithReplayLogger(logger))
	require.NoError(t, err)

	acc, err := store.Get(context.Background(), addr(1))
	require.NoError(t, err)
	assert.Equal(t, int64(10), acc.Balance)
	assert.Contains(t, buf.String(), "dropping journal tail without an outcome")
	assert.Contains(t, buf.String(), "deltas=1")
}
