package domain

import (
	"errors"

	"google.golang.org/protobuf/types/known/anypb"
)

var ErrMissingTransactionID = errors.New("transaction id is required")

// TransactionCommand is the JSON form of a Transaction on the command bus
type TransactionCommand struct {
	TransactionID string `json:"transaction_id"`
	TypeURL       string `json:"type_url"`
	Value         []byte `json:"value"` // serialized contract message, base64 in JSON
}

// NewTransactionCommand flattens a transaction for transport
func NewTransactionCommand(tx Transaction) TransactionCommand {
	cmd := TransactionCommand{TransactionID: tx.ID}
	if tx.Contract != nil {
		cmd.TypeURL = tx.Contract.GetTypeUrl()
		cmd.Value = tx.Contract.GetValue()
	}
	return cmd
}

// Transaction rebuilds the transaction carried by the command.
// An empty type URL yields a nil contract.
func (c TransactionCommand) Transaction() (Transaction, error) {
	if c.TransactionID == "" {
		return Transaction{}, ErrMissingTransactionID
	}
	tx := Transaction{ID: c.TransactionID}
	if c.TypeURL != "" {
		tx.Contract = &anypb.Any{TypeUrl: c.TypeURL, Value: c.Value}
	}
	return tx, nil
}
