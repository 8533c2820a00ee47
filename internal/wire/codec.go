package wire

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nathanyu/transfer-actuator/internal/domain"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/types/known/anypb"
)

// TransferContract field numbers
const (
	fieldOwnerAddress protowire.Number = 1
	fieldToAddress    protowire.Number = 2
	fieldAmount       protowire.Number = 3
)

var (
	ErrEmptyContract   = errors.New("contract payload is empty")
	ErrUnknownContract = errors.New("unknown contract type")
	ErrMalformed       = errors.New("malformed contract payload")
)

// ContractTypeOf returns the contract type named by the Any's type URL
func ContractTypeOf(contract *anypb.Any) (domain.ContractType, error) {
	if contract == nil {
		return "", ErrEmptyContract
	}
	url := contract.GetTypeUrl()
	idx := strings.LastIndex(url, "/")
	name := url[idx+1:]
	name = strings.TrimPrefix(name, "protocol.")
	if name == "" {
		return "", fmt.Errorf("%w: %q", ErrUnknownContract, url)
	}
	return domain.ContractType(name), nil
}

// EncodeTransfer wraps a transfer contract in an Any
func EncodeTransfer(c domain.TransferContract) *anypb.Any {
	var b []byte
	if len(c.OwnerAddress) > 0 {
		b = protowire.AppendTag(b, fieldOwnerAddress, protowire.BytesType)
		b = protowire.AppendBytes(b, c.OwnerAddress)
	}
	if len(c.ToAddress) > 0 {
		b = protowire.AppendTag(b, fieldToAddress, protowire.BytesType)
		b = protowire.AppendBytes(b, c.ToAddress)
	}
	if c.Amount != 0 {
		b = protowire.AppendTag(b, fieldAmount, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(c.Amount))
	}
	return &anypb.Any{
		TypeUrl: domain.ContractTypeTransfer.TypeURL(),
		Value:   b,
	}
}

// DecodeTransfer unpacks a TransferContract from an Any.
// The type URL must name TransferContract; unknown fields are skipped.
func DecodeTransfer(contract *anypb.Any) (domain.TransferContract, error) {
	kind, err := ContractTypeOf(contract)
	if err != nil {
		return domain.TransferContract{}, err
	}
	if kind != domain.ContractTypeTransfer {
		return domain.TransferContract{}, fmt.Errorf("%w: expected %s, got %s", ErrUnknownContract, domain.ContractTypeTransfer, kind)
	}

	var out domain.TransferContract
	b := contract.GetValue()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return domain.TransferContract{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldOwnerAddress && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return domain.TransferContract{}, fmt.Errorf("%w: owner_address: %v", ErrMalformed, protowire.ParseError(m))
			}
			out.OwnerAddress = append(domain.Address(nil), v...)
			n = m
		case num == fieldToAddress && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return domain.TransferContract{}, fmt.Errorf("%w: to_address: %v", ErrMalformed, protowire.ParseError(m))
			}
			out.ToAddress = append(domain.Address(nil), v...)
			n = m
		case num == fieldAmount && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return domain.TransferContract{}, fmt.Errorf("%w: amount: %v", ErrMalformed, protowire.ParseError(m))
			}
			out.Amount = int64(v)
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return domain.TransferContract{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	return out, nil
}
