// Package actuator validates and applies the state transition carried by one
// transaction. An actuator runs synchronously on the caller's goroutine and
// never takes locks: transactions touching the ledger must be handed to
// actuators one at a time, in the order every node agrees on.
package actuator

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/nathanyu/transfer-actuator/internal/domain"
	"github.com/nathanyu/transfer-actuator/internal/ledger"
	"github.com/nathanyu/transfer-actuator/internal/params"
	"go.opentelemetry.io/otel"
	"google.golang.org/protobuf/types/known/anypb"
)

var tracer = otel.Tracer("actuator")

// Phase is the lifecycle state of one transaction inside its actuator
type Phase int

const (
	PhaseConstructed Phase = iota
	PhaseValidating
	PhaseRejected
	PhaseAccepted
	PhaseExecuting
	PhaseApplied
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseConstructed:
		return "Constructed"
	case PhaseValidating:
		return "Validating"
	case PhaseRejected:
		return "Rejected"
	case PhaseAccepted:
		return "Accepted"
	case PhaseExecuting:
		return "Executing"
	case PhaseApplied:
		return "Applied"
	case PhaseFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Effects are the ledger mutations an actuator has made so far
type Effects struct {
	Created []*domain.Account
	Deltas  []ledger.Delta
}

// Actuator is the capability every contract kind implements
type Actuator interface {
	// Validate runs the admissibility checks in their fixed order
	Validate(ctx context.Context) error
	// Execute applies a validated transition and records the outcome exactly once
	Execute(ctx context.Context, result domain.ResultRecorder) error
	// Fee is the fee charged for this transaction
	Fee() int64
	OwnerAddress() domain.Address
	Phase() Phase
	Effects() Effects
}

// Factory builds an actuator for one contract payload
type Factory func(contract *anypb.Any, env *Env) Actuator

// Env carries the collaborators shared by every actuator a registry builds
type Env struct {
	Ledger       ledger.State
	Params       params.Provider
	AddressValid domain.AddressValidator
	Now          func() time.Time
	Logger       *slog.Logger
	// DeferAccountCreation moves recipient creation from validation into the
	// atomic execution batch.
	DeferAccountCreation bool
}

type Option func(*Env)

// WithAddressValidator replaces the address format predicate
func WithAddressValidator(v domain.AddressValidator) Option {
	return func(e *Env) { e.AddressValid = v }
}

// WithClock sets the wall clock used for account creation times
func WithClock(now func() time.Time) Option {
	return func(e *Env) { e.Now = now }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Env) { e.Logger = l }
}

// WithDeferredAccountCreation makes validation plan the recipient creation
// instead of inserting it.
func WithDeferredAccountCreation(deferred bool) Option {
	return func(e *Env) { e.DeferAccountCreation = deferred }
}

// NewEnv builds an Env with main network defaults for anything not set
func NewEnv(state ledger.State, provider params.Provider, opts ...Option) *Env {
	env := &Env{
		Ledger:       state,
		Params:       provider,
		AddressValid: domain.PrefixValidator(domain.MainNetPrefix),
		Now:          time.Now,
		Logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(env)
	}
	return env
}

// Registry dispatches contract payloads to the actuator for their kind
type Registry struct {
	env       *Env
	factories map[domain.ContractType]Factory
}

// NewRegistry creates a registry with the transfer actuator registered
func NewRegistry(env *Env) *Registry {
	r := &Registry{
		env:       env,
		factories: make(map[domain.ContractType]Factory),
	}
	r.Register(domain.ContractTypeTransfer, func(contract *anypb.Any, env *Env) Actuator {
		return NewTransferActuator(contract, env)
	})
	return r
}

// Register binds a factory to a contract kind, replacing any previous one
func (r *Registry) Register(kind domain.ContractType, f Factory) {
	r.factories[kind] = f
}

// Kinds returns the registered contract kinds in sorted order
func (r *Registry) Kinds() []domain.ContractType {
	kinds := make([]domain.ContractType, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ValidAddress applies the env's address predicate
func (r *Registry) ValidAddress(addr domain.Address) bool {
	return r.env.AddressValid(addr)
}

// Create resolves the actuator for kind. Unregistered kinds are rejected as
// MalformedContract.
func (r *Registry) Create(kind domain.ContractType, contract *anypb.Any) (Actuator, error) {
	f, ok := r.factories[kind]
	if !ok {
		return nil, rejected(KindMalformedContract, nil, "contract type error, no actuator for type [%s]", kind)
	}
	return f(contract, r.env), nil
}
