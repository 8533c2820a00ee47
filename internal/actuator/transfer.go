package actuator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nathanyu/transfer-actuator/internal/domain"
	"github.com/nathanyu/transfer-actuator/internal/ledger"
	"github.com/nathanyu/transfer-actuator/internal/wire"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/types/known/anypb"
)

// sunDecimals is the number of decimal places between sun and TRX
const sunDecimals = 6

// TransferActuator moves TRX between two accounts for a fixed fee
type TransferActuator struct {
	env       *Env
	contract  domain.TransferContract
	decodeErr error
	fee       int64

	phase   Phase
	pending *domain.Account // recipient to create at execution (deferred mode)
	effects Effects
}

// NewTransferActuator decodes the payload and captures the transfer fee.
// A payload that does not decode is reported by Validate.
func NewTransferActuator(contract *anypb.Any, env *Env) *TransferActuator {
	a := &TransferActuator{
		env: env,
		fee: env.Params.TransferFee(),
	}
	a.contract, a.decodeErr = wire.DecodeTransfer(contract)
	return a
}

// Fee implements Actuator
func (a *TransferActuator) Fee() int64 { return a.fee }

// OwnerAddress implements Actuator
func (a *TransferActuator) OwnerAddress() domain.Address { return a.contract.OwnerAddress }

// Contract returns the decoded transfer
func (a *TransferActuator) Contract() domain.TransferContract { return a.contract }

// Phase implements Actuator
func (a *TransferActuator) Phase() Phase { return a.phase }

// Effects implements Actuator
func (a *TransferActuator) Effects() Effects { return a.effects }

// Validate implements Actuator. The checks run in a fixed order and stop at
// the first failure. When the recipient does not exist and the amount meets
// the creation minimum, the recipient is inserted with a zero balance here,
// unless the env defers creation to Execute.
func (a *TransferActuator) Validate(ctx context.Context) error {
	switch a.phase {
	case PhaseExecuting, PhaseApplied, PhaseFailed:
		return ErrAlreadyExecuted
	}

	ctx, span := tracer.Start(ctx, "actuator.TransferContract.validate",
		trace.WithAttributes(attribute.Int64("amount", a.contract.Amount)))
	defer span.End()

	a.phase = PhaseValidating
	a.pending = nil

	if err := a.validate(ctx); err != nil {
		a.phase = PhaseRejected
		span.SetAttributes(attribute.String("failure_kind", string(err.Kind)))
		span.SetStatus(codes.Error, err.Message)
		return err
	}

	a.phase = PhaseAccepted
	return nil
}

func (a *TransferActuator) validate(ctx context.Context) *ValidationError {
	c := a.contract

	if a.decodeErr != nil {
		return rejected(KindMalformedContract, a.decodeErr,
			"contract type error, expected type [%s]: %v", domain.ContractTypeTransfer, a.decodeErr)
	}

	if !a.env.AddressValid(c.OwnerAddress) {
		return rejected(KindInvalidAddress, domain.ErrInvalidAddress, "Invalidate ownerAddress")
	}
	if !a.env.AddressValid(c.ToAddress) {
		return rejected(KindInvalidAddress, domain.ErrInvalidAddress, "Invalidate toAddress")
	}

	if c.OwnerAddress.Equal(c.ToAddress) {
		return rejected(KindSelfTransfer, nil, "Cannot transfer trx to yourself.")
	}

	if c.Amount <= 0 {
		return rejected(KindNonPositiveAmount, nil, "Amount must greater than 0.")
	}

	owner, err := a.env.Ledger.Get(ctx, c.OwnerAddress)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return rejected(KindUnknownOwner, err, "Validate TransferContract error, no OwnerAccount.")
	}
	if err != nil {
		return rejected(KindStoreUnavailable, err, "read owner account: %v", err)
	}

	debit, err := domain.AddExact(c.Amount, a.fee)
	if err != nil {
		return rejected(KindInsufficientBalance, err, "%v", err)
	}
	if owner.Balance < debit {
		return rejected(KindInsufficientBalance, ledger.ErrInsufficientFunds, "balance is not sufficient.")
	}

	recipient, err := a.env.Ledger.Get(ctx, c.ToAddress)
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		return a.admitNewRecipient(ctx)
	case err != nil:
		return rejected(KindStoreUnavailable, err, "read recipient account: %v", err)
	}

	// the sum is only an overflow probe; execution recomputes it
	if _, err := domain.AddExact(recipient.Balance, c.Amount); err != nil {
		return rejected(KindRecipientOverflow, err, "%v", err)
	}
	return nil
}

func (a *TransferActuator) admitNewRecipient(ctx context.Context) *ValidationError {
	minimum := a.env.Params.NonExistentAccountTransferMin()
	if a.contract.Amount < minimum {
		return rejected(KindBelowCreationMinimum, nil,
			"For a non-existent account transfer, the minimum amount is %s TRX",
			decimal.New(minimum, -sunDecimals).String())
	}

	account := domain.NewAccount(a.contract.ToAddress, domain.AccountTypeNormal, a.env.Now().UnixMilli())
	if a.env.DeferAccountCreation {
		a.pending = account
		return nil
	}

	if err := a.env.Ledger.Put(ctx, account); err != nil {
		return rejected(KindStoreUnavailable, err, "create recipient account: %v", err)
	}
	a.effects.Created = append(a.effects.Created, account)
	return nil
}

// Execute implements Actuator. The debit and the credit, plus the recipient
// insert in deferred mode, are committed as one ledger batch. On any failure
// the outcome is recorded as FAILED with the fee before the error is returned.
func (a *TransferActuator) Execute(ctx context.Context, result domain.ResultRecorder) error {
	switch a.phase {
	case PhaseAccepted:
	case PhaseExecuting, PhaseApplied, PhaseFailed:
		return ErrAlreadyExecuted
	default:
		return ErrNotValidated
	}

	ctx, span := tracer.Start(ctx, "actuator.TransferContract.execute",
		trace.WithAttributes(
			attribute.Int64("amount", a.contract.Amount),
			attribute.Int64("fee", a.fee),
		))
	defer span.End()

	a.phase = PhaseExecuting
	c := a.contract

	debit, err := domain.AddExact(c.Amount, a.fee)
	if err != nil {
		return a.fail(span, result, KindArithmeticOverflow, err)
	}

	batch := ledger.Batch{
		Deltas: []ledger.Delta{
			{Address: c.OwnerAddress, Amount: -debit},
			{Address: c.ToAddress, Amount: c.Amount},
		},
	}
	if a.pending != nil {
		batch.Creates = []*domain.Account{a.pending}
	}

	if err := a.env.Ledger.Apply(ctx, batch); err != nil {
		if errors.Is(err, domain.ErrArithmeticOverflow) {
			return a.fail(span, result, KindArithmeticOverflow, err)
		}
		return a.fail(span, result, KindStoreMutationFailure, err)
	}

	if a.pending != nil {
		a.effects.Created = append(a.effects.Created, a.pending)
		a.pending = nil
	}
	a.effects.Deltas = batch.Deltas

	if result != nil {
		result.Record(domain.ResultSuccess, a.fee)
	}
	a.phase = PhaseApplied
	span.SetStatus(codes.Ok, "")
	return nil
}

func (a *TransferActuator) fail(span trace.Span, result domain.ResultRecorder, kind Kind, err error) error {
	if result != nil {
		result.Record(domain.ResultFailed, a.fee)
	}
	a.phase = PhaseFailed

	a.env.Logger.Debug("transfer execution failed",
		slog.String("kind", string(kind)),
		slog.String("owner", a.contract.OwnerAddress.String()),
		slog.String("error", err.Error()),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))

	return &ExecutionError{Kind: kind, Message: err.Error(), Fee: a.fee, Err: err}
}
