package queue

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nathanyu/transfer-actuator/internal/actuator"
	"github.com/nathanyu/transfer-actuator/internal/domain"
	"github.com/nathanyu/transfer-actuator/internal/ledger"
	"github.com/nathanyu/transfer-actuator/internal/params"
	"github.com/nathanyu/transfer-actuator/internal/processor"
	"github.com/nathanyu/transfer-actuator/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(last byte) domain.Address {
	a := make(domain.Address, domain.AddressLength)
	a[0] = domain.MainNetPrefix
	a[domain.AddressLength-1] = last
	return a
}

func setup(t *testing.T) (*NATSClient, *processor.Processor) {
	t.Helper()

	nc, err := nats.Connect(nats.DefaultURL, nats.NoReconnect())
	if err != nil {
		t.Skip("NATS server not available")
	}

	store := ledger.NewMemoryStore()
	proc := processor.New(store, actuator.NewRegistry(actuator.NewEnv(store, params.Default())), processor.WithNATS(nc))
	require.NoError(t, proc.Start())

	client := NewNATSClientFromConn(nc)
	t.Cleanup(func() {
		proc.Stop()
		client.Close()
	})
	return client, proc
}

func TestSubmit(t *testing.T) {
	client, proc := setup(t)
	_, err := proc.SeedAccount(context.Background(), addr(1), 5_000_000)
	require.NoError(t, err)

	resp, err := client.Submit(domain.Transaction{
		ID:       "queue-tx-1",
		Contract: wire.EncodeTransfer(domain.TransferContract{OwnerAddress: addr(1), ToAddress: addr(2), Amount: 999}),
	}, 2*time.Second)
	require.NoError(t, err)

	assert.False(t, resp.Success)
	require.NotNil(t, resp.Outcome)
	assert.Equal(t, actuator.KindBelowCreationMinimum, resp.Outcome.Kind)
}

func TestSubmitAsync(t *testing.T) {
	client, proc := setup(t)
	_, err := proc.SeedAccount(context.Background(), addr(1), 5_000_000)
	require.NoError(t, err)

	require.NoError(t, client.SubmitAsync(domain.Transaction{
		ID:       "queue-tx-2",
		Contract: wire.EncodeTransfer(domain.TransferContract{OwnerAddress: addr(1), ToAddress: addr(2), Amount: 1_000_000}),
	}))

	assert.Eventually(t, func() bool {
		acc, err := proc.Account(context.Background(), addr(2))
		return err == nil && acc.Balance == 1_000_000
	}, 2*time.Second, 20*time.Millisecond)
}
