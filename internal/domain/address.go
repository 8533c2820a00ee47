package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const (
	// AddressLength is the byte length of an account address (prefix + 20-byte hash)
	AddressLength = 21

	// MainNetPrefix is the address prefix byte used on the main network
	MainNetPrefix byte = 0x41
	// TestNetPrefix is the address prefix byte used on the test network
	TestNetPrefix byte = 0xa0

	checksumLength = 4
)

var ErrInvalidAddress = errors.New("invalid address")

// Address is a fixed-length account identifier
type Address []byte

// AddressValidator reports whether raw bytes form a valid address on the ledger
type AddressValidator func(addr []byte) bool

// PrefixValidator returns an AddressValidator accepting 21-byte addresses starting with prefix
func PrefixValidator(prefix byte) AddressValidator {
	return func(addr []byte) bool {
		return len(addr) == AddressLength && addr[0] == prefix
	}
}

// Equal compares two addresses byte for byte
func (a Address) Equal(other Address) bool {
	return bytes.Equal(a, other)
}

// Hex returns the lowercase hex form of the address
func (a Address) Hex() string {
	return hex.EncodeToString(a)
}

// String returns the base58check form of the address
func (a Address) String() string {
	if len(a) == 0 {
		return ""
	}
	sum := doubleSHA256(a)
	payload := make([]byte, 0, len(a)+checksumLength)
	payload = append(payload, a...)
	payload = append(payload, sum[:checksumLength]...)
	return base58.Encode(payload)
}

// ParseAddress accepts base58check or hex (with or without 0x) and returns the raw bytes.
// Format validity against a network prefix is left to an AddressValidator.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(trimmed) == AddressLength*2 {
		if raw, err := hex.DecodeString(trimmed); err == nil {
			return Address(raw), nil
		}
	}

	decoded, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(decoded) <= checksumLength {
		return nil, fmt.Errorf("%w: too short", ErrInvalidAddress)
	}

	payload := decoded[:len(decoded)-checksumLength]
	sum := doubleSHA256(payload)
	if !bytes.Equal(sum[:checksumLength], decoded[len(decoded)-checksumLength:]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	return Address(payload), nil
}

func doubleSHA256(b []byte) [32]byte {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}
