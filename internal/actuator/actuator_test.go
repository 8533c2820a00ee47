package actuator

import (
	"context"
	"testing"

	"github.com/nathanyu/transfer-actuator/internal/domain"
	"github.com/nathanyu/transfer-actuator/internal/ledger"
	"github.com/nathanyu/transfer-actuator/internal/params"
	"github.com/nathanyu/transfer-actuator/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/anypb"
)

func TestRegistry_CreatesTransferActuator(t *testing.T) {
	store := ledger.NewMemoryStore()
	reg := NewRegistry(NewEnv(store, params.Default()))

	assert.Equal(t, []domain.ContractType{domain.ContractTypeTransfer}, reg.Kinds())

	act, err := reg.Create(domain.ContractTypeTransfer, wire.EncodeTransfer(domain.TransferContract{
		OwnerAddress: owner, ToAddress: recipient, Amount: 1,
	}))
	require.NoError(t, err)
	assert.IsType(t, &TransferActuator{}, act)
	assert.Equal(t, PhaseConstructed, act.Phase())
	assert.Equal(t, params.DefaultTransferFee, act.Fee())
}

func TestRegistry_UnknownKind(t *testing.T) {
	reg := NewRegistry(NewEnv(ledger.NewMemoryStore(), params.Default()))

	_, err := reg.Create(domain.ContractTypeAssetIssue, &anypb.Any{TypeUrl: domain.ContractTypeAssetIssue.TypeURL()})
	requireKind(t, err, KindMalformedContract)
	assert.Contains(t, err.Error(), string(domain.ContractTypeAssetIssue))
}

type stubActuator struct {
	TransferActuator
	validated bool
}

func (s *stubActuator) Validate(context.Context) error {
	s.validated = true
	return nil
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry(NewEnv(ledger.NewMemoryStore(), params.Default()))
	stub := &stubActuator{}
	reg.Register(domain.ContractTypeVoteWitness, func(*anypb.Any, *Env) Actuator { return stub })

	assert.Equal(t, []domain.ContractType{domain.ContractTypeTransfer, domain.ContractTypeVoteWitness}, reg.Kinds())

	act, err := reg.Create(domain.ContractTypeVoteWitness, nil)
	require.NoError(t, err)
	require.NoError(t, act.Validate(context.Background()))
	assert.True(t, stub.validated)
}

func TestNewEnv_Defaults(t *testing.T) {
	env := NewEnv(ledger.NewMemoryStore(), params.Default())
	require.NotNil(t, env.Now)
	require.NotNil(t, env.Logger)
	assert.False(t, env.DeferAccountCreation)
	assert.True(t, env.AddressValid(owner))
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "Accepted", PhaseAccepted.String())
	assert.Equal(t, "Failed", PhaseFailed.String())
	assert.Equal(t, "Unknown", Phase(99).String())
}
