package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType constants
const (
	EventTypeAccountSeeded       = "AccountSeeded"
	EventTypeAccountCreated      = "AccountCreated"
	EventTypeBalanceChanged      = "BalanceChanged"
	EventTypeTransactionApplied  = "TransactionApplied"
	EventTypeTransactionRejected = "TransactionRejected"
	EventTypeTransactionFailed   = "TransactionFailed"
)

// Event is the base interface for all events
type Event interface {
	GetType() string
	GetTransactionID() string
}

// EventEnvelope wraps an event with metadata for serialization
type EventEnvelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// AccountSeeded records an account placed on the ledger outside of a transaction
type AccountSeeded struct {
	Address    string      `json:"address"` // hex
	Balance    int64       `json:"balance"`
	Type       AccountType `json:"type"`
	CreateTime int64       `json:"create_time"`
}

func (e AccountSeeded) GetType() string          { return EventTypeAccountSeeded }
func (e AccountSeeded) GetTransactionID() string { return "" }

// AccountCreated records a recipient account created by a transfer
type AccountCreated struct {
	TransactionID string      `json:"transaction_id"`
	Address       string      `json:"address"` // hex
	Type          AccountType `json:"type"`
	CreateTime    int64       `json:"create_time"`
}

func (e AccountCreated) GetType() string          { return EventTypeAccountCreated }
func (e AccountCreated) GetTransactionID() string { return e.TransactionID }

// BalanceChanged records a committed balance delta on one account
type BalanceChanged struct {
	TransactionID string `json:"transaction_id"`
	Address       string `json:"address"` // hex
	Delta         int64  `json:"delta"`
}

func (e BalanceChanged) GetType() string          { return EventTypeBalanceChanged }
func (e BalanceChanged) GetTransactionID() string { return e.TransactionID }

// TransactionApplied marks a transaction whose state transition was committed
type TransactionApplied struct {
	TransactionID string       `json:"transaction_id"`
	Sequence      uint64       `json:"sequence"`
	ContractType  ContractType `json:"contract_type"`
	Fee           int64        `json:"fee"`
}

func (e TransactionApplied) GetType() string          { return EventTypeTransactionApplied }
func (e TransactionApplied) GetTransactionID() string { return e.TransactionID }

// TransactionRejected marks a transaction that failed validation
type TransactionRejected struct {
	TransactionID string `json:"transaction_id"`
	Sequence      uint64 `json:"sequence"`
	Kind          string `json:"kind"`
	Reason        string `json:"reason"`
}

func (e TransactionRejected) GetType() string          { return EventTypeTransactionRejected }
func (e TransactionRejected) GetTransactionID() string { return e.TransactionID }

// TransactionFailed marks a transaction that passed validation but failed to execute.
// Fee is the fee tagged on the outcome, not necessarily collected.
type TransactionFailed struct {
	TransactionID string `json:"transaction_id"`
	Sequence      uint64 `json:"sequence"`
	Kind          string `json:"kind"`
	Reason        string `json:"reason"`
	Fee           int64  `json:"fee"`
}

func (e TransactionFailed) GetType() string          { return EventTypeTransactionFailed }
func (e TransactionFailed) GetTransactionID() string { return e.TransactionID }

// SerializeEvent converts an event to JSON bytes with envelope
func SerializeEvent(event Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	envelope := EventEnvelope{
		Type:      event.GetType(),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	return json.Marshal(envelope)
}

// DeserializeEvent converts JSON bytes back to an Event
func DeserializeEvent(data []byte) (Event, error) {
	var envelope EventEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}

	switch envelope.Type {
	case EventTypeAccountSeeded:
		return decodeEvent[AccountSeeded](envelope.Data)
	case EventTypeAccountCreated:
		return decodeEvent[AccountCreated](envelope.Data)
	case EventTypeBalanceChanged:
		return decodeEvent[BalanceChanged](envelope.Data)
	case EventTypeTransactionApplied:
		return decodeEvent[TransactionApplied](envelope.Data)
	case EventTypeTransactionRejected:
		return decodeEvent[TransactionRejected](envelope.Data)
	case EventTypeTransactionFailed:
		return decodeEvent[TransactionFailed](envelope.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", envelope.Type)
	}
}

func decodeEvent[T Event](data json.RawMessage) (Event, error) {
	var e T
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e, nil
}
