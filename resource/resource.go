// Package resource builds the x402 "payment required" description returned on discovery.
package resource

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/slavaghoul1337-coder/genge/types"
)

const (
	DefaultTimeoutSeconds = 10
	DefaultProvider       = "GENGE"
	zeroPayer             = "0x0000000000000000000000000000000000000000"
)

// Field describes one accepted body field.
type Field struct {
	Type        string `json:"type"`
	Required    bool   `json:"required,omitempty"`
	Description string `json:"description,omitempty"`
}

// InputContract is the request shape a payer must send after paying.
type InputContract struct {
	Method   string
	BodyType string
	Fields   map[string]Field
	Output   map[string]Field
}

// VerifyOwnershipInput is accepted by POST /verifyOwnership.
var VerifyOwnershipInput = InputContract{
	Method:   "POST",
	BodyType: "json",
	Fields: map[string]Field{
		"wallet":  {Type: "string", Required: true, Description: "Wallet to check (owner or payer)"},
		"tokenId": {Type: "number", Description: "NFT tokenId to verify ownership"},
		"txHash":  {Type: "string", Required: true, Description: "Transaction hash of payment"},
	},
	Output: map[string]Field{
		"success":  {Type: "boolean"},
		"wallet":   {Type: "string"},
		"tokenId":  {Type: "number"},
		"verified": {Type: "boolean"},
		"message":  {Type: "string"},
	},
}

// MintInput is accepted by POST /mint/{amount}.
var MintInput = InputContract{
	Method:   "POST",
	BodyType: "json",
	Fields: map[string]Field{
		"wallet": {Type: "string", Required: true, Description: "Wallet receiving the minted tokens"},
		"txHash": {Type: "string", Required: true, Description: "Transaction hash of payment"},
	},
	Output: map[string]Field{
		"success": {Type: "boolean"},
		"minted":  {Type: "number"},
		"message": {Type: "string"},
	},
}

func (c InputContract) schema() map[string]interface{} {
	input := map[string]interface{}{
		"type":     "http",
		"method":   c.Method,
		"bodyType": c.BodyType,
	}
	if len(c.Fields) > 0 {
		input["bodyFields"] = c.Fields
	}
	return map[string]interface{}{
		"input":  input,
		"output": c.Output,
	}
}

// Requirements is everything Describe needs. It is derived from configuration.
type Requirements struct {
	// RequiredAmount is in the asset's smallest unit.
	RequiredAmount *big.Int
	Recipient      common.Address
	Asset          string
	AssetAddress   common.Address
	AssetDecimals  int32
	Network        types.Network
	Resource       string
	Description    string
	Category       string
	TimeoutSeconds int
	Input          InputContract
	// Payer is advertised as-is; empty means the zero address.
	Payer string
}

// Describe returns the 402 body for r. It has no side effects.
func Describe(r Requirements) types.X402Response {
	timeout := r.TimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds
	}
	amount := "0"
	if r.RequiredAmount != nil {
		amount = r.RequiredAmount.String()
	}
	payer := r.Payer
	if payer == "" {
		payer = zeroPayer
	}

	extra := map[string]interface{}{
		"provider": DefaultProvider,
		"decimals": r.AssetDecimals,
	}
	if r.Category != "" {
		extra["category"] = r.Category
	}
	if r.AssetAddress != (common.Address{}) {
		extra["assetAddress"] = r.AssetAddress.Hex()
	}

	return types.X402Response{
		X402Version: int(types.X402Version1),
		Payer:       payer,
		Accepts: []types.PaymentRequirements{{
			Scheme:            string(types.SchemeExact),
			Network:           r.Network.String(),
			MaxAmountRequired: amount,
			Resource:          r.Resource,
			Description:       r.Description,
			MimeType:          "application/json",
			OutputSchema:      r.Input.schema(),
			PayTo:             r.Recipient.Hex(),
			MaxTimeoutSeconds: timeout,
			Asset:             r.Asset,
			Extra:             extra,
		}},
	}
}

// ToBaseUnits converts a human price such as "2" or "3.00" into the asset's smallest unit.
// Prices with more precision than the asset supports are rejected.
func ToBaseUnits(price string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(price))
	if err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", price, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid price %q: must not be negative", price)
	}
	if decimals < 0 {
		return nil, fmt.Errorf("invalid decimals %d", decimals)
	}

	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("price %q has more than %d decimal places", price, decimals)
	}
	return scaled.BigInt(), nil
}

// FromBaseUnits renders an amount in base units as a human price, e.g. 3000000 → "3".
func FromBaseUnits(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}
