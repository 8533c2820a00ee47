package domain

import (
	"google.golang.org/protobuf/types/known/anypb"
)

// ContractType tags the kind of state transition a transaction carries
type ContractType string

const contractTypeURLPrefix = "type.googleapis.com/protocol."

const (
	ContractTypeTransfer         ContractType = "TransferContract"
	ContractTypeTransferAsset    ContractType = "TransferAssetContract"
	ContractTypeAccountCreate    ContractType = "AccountCreateContract"
	ContractTypeVoteWitness      ContractType = "VoteWitnessContract"
	ContractTypeWitnessCreate    ContractType = "WitnessCreateContract"
	ContractTypeAssetIssue       ContractType = "AssetIssueContract"
	ContractTypeParticipateAsset ContractType = "ParticipateAssetIssueContract"
)

// TypeURL returns the protobuf Any type URL for the contract type
func (c ContractType) TypeURL() string {
	return contractTypeURLPrefix + string(c)
}

// TransferContract moves Amount sun from OwnerAddress to ToAddress
type TransferContract struct {
	OwnerAddress Address `json:"owner_address"`
	ToAddress    Address `json:"to_address"`
	Amount       int64   `json:"amount"`
}

// Transaction is one ordered unit handed to the processor
type Transaction struct {
	ID       string     `json:"id"`
	Contract *anypb.Any `json:"-"`
}

// ResultCode is the execution outcome of a transaction
type ResultCode string

const (
	ResultSuccess ResultCode = "SUCCESS"
	ResultFailed  ResultCode = "FAILED"
)

// ResultRecorder receives the outcome of an execution attempt
type ResultRecorder interface {
	Record(code ResultCode, fee int64)
}

// TransactionResult is the caller-owned outcome of one execution
type TransactionResult struct {
	Code ResultCode `json:"code"`
	Fee  int64      `json:"fee"`
	set  bool
}

// Record implements ResultRecorder
func (r *TransactionResult) Record(code ResultCode, fee int64) {
	r.Code = code
	r.Fee = fee
	r.set = true
}

// Recorded reports whether an outcome was written
func (r *TransactionResult) Recorded() bool {
	return r.set
}
