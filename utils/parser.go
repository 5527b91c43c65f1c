package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/slavaghoul1337-coder/genge/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validators
	_ = validate.RegisterValidation("txhash", validateTxHashTag)
}

// ClaimRequest is the JSON body of a verification or mint request.
type ClaimRequest struct {
	Wallet  string       `json:"wallet" validate:"required,eth_addr"`
	TxHash  string       `json:"txHash" validate:"required,txhash"`
	TokenID *json.Number `json:"tokenId,omitempty"`
}

// ParseClaim decodes and validates a claim body. Errors are *types.X402Error with INVALID_PAYLOAD.
func ParseClaim(data []byte) (*types.PaymentClaim, error) {
	var req ClaimRequest

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return nil, invalidPayload("failed to parse request body: %v", err)
	}

	req.Wallet = strings.TrimSpace(req.Wallet)
	req.TxHash = strings.TrimSpace(req.TxHash)

	// Validate using struct tags
	if err := validate.Struct(&req); err != nil {
		return nil, invalidPayload("validation failed: %s", describeValidation(err))
	}

	claim := &types.PaymentClaim{
		PayerWallet: req.Wallet,
		TxRef:       req.TxHash,
	}
	if req.TokenID != nil {
		id, err := ParseTokenID(*req.TokenID)
		if err != nil {
			return nil, invalidPayload("%v", err)
		}
		claim.ItemID = id
	}
	return claim, nil
}

func invalidPayload(format string, args ...any) *types.X402Error {
	return &types.X402Error{
		Code:    types.ErrInvalidPayload,
		Message: fmt.Sprintf(format, args...),
	}
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		default:
			parts = append(parts, fmt.Sprintf("%s is not a valid %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, ", ")
}

// Custom validator functions
func validateTxHashTag(fl validator.FieldLevel) bool {
	return ValidateTransactionHash(fl.Field().String()) == nil
}
