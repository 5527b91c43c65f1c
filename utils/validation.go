package utils

import (
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ValidateAmount checks if an amount string is a valid non-negative decimal
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	return &dec, nil
}

// ValidateTransactionHash checks for a 0x-prefixed 32-byte hex hash
func ValidateTransactionHash(hash string) error {
	if hash == "" {
		return fmt.Errorf("transaction hash cannot be empty")
	}
	if !strings.HasPrefix(hash, "0x") {
		return fmt.Errorf("transaction hash must start with 0x")
	}
	if len(hash) != 66 {
		return fmt.Errorf("transaction hash must be 66 characters long")
	}
	if !txHashPattern.MatchString(hash) {
		return fmt.Errorf("transaction hash must be valid hex")
	}
	return nil
}

// ValidateAddress checks for a 0x-prefixed 20-byte hex address. Checksums are not enforced.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if !strings.HasPrefix(address, "0x") {
		return fmt.Errorf("address must start with 0x")
	}
	if !common.IsHexAddress(address) {
		return fmt.Errorf("address must be 20 bytes of hex")
	}
	return nil
}

// ParseTokenID accepts a JSON number or numeric string and returns a non-negative integer
func ParseTokenID(n json.Number) (*big.Int, error) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return nil, fmt.Errorf("tokenId cannot be empty")
	}

	id, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("tokenId must be an integer")
	}
	if id.Sign() < 0 {
		return nil, fmt.Errorf("tokenId cannot be negative")
	}
	return id, nil
}
