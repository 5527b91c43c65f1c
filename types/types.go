package types

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// X402Version represents the version of the x402 protocol
type X402Version int

const (
	X402Version1 X402Version = 1
)

// PaymentScheme represents different payment schemes
type PaymentScheme string

const (
	SchemeExact PaymentScheme = "exact"
)

// PaymentRequirements defines the requirements a resource server accepts for payment.
type PaymentRequirements struct {
	// Scheme of the payment protocol to use. Always "exact" here.
	Scheme string `json:"scheme"`

	// Network of the blockchain to send payment on (e.g., "base").
	Network string `json:"network"`

	// Amount required to pay for the resource in atomic units of the asset.
	// Represented as a string because Go does not support uint256.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// URL of the resource to pay for.
	Resource string `json:"resource,omitempty"`

	// Description of the resource being purchased.
	Description string `json:"description"`

	// MIME type of the resource response (e.g., "application/json").
	MimeType string `json:"mimeType"`

	// Output schema of the resource response, including the accepted input shape.
	OutputSchema map[string]interface{} `json:"outputSchema,omitempty"`

	// Address to which the payment must be sent.
	PayTo string `json:"payTo"`

	// Maximum time in seconds for the resource server to respond.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Symbol of the asset accepted as payment (e.g., "USDC").
	Asset string `json:"asset"`

	// Extra information about payment details specific to the scheme.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// X402Response is the body returned with HTTP 402 on discovery requests.
type X402Response struct {
	// Version of the x402 payment protocol.
	X402Version int `json:"x402Version"`

	// Payer placeholder advertised to indexers.
	Payer string `json:"payer"`

	// List of payment requirements that the resource server accepts.
	Accepts []PaymentRequirements `json:"accepts"`

	// Message from the resource server indicating any processing error.
	Error string `json:"error,omitempty"`
}

// Validate checks that the PaymentRequirements contain all required fields.
func (pr *PaymentRequirements) Validate() error {
	if pr.Scheme == "" {
		return fmt.Errorf("paymentRequirements.scheme is required")
	}

	if pr.Network == "" {
		return fmt.Errorf("paymentRequirements.network is required")
	}

	if pr.MaxAmountRequired == "" {
		return fmt.Errorf("paymentRequirements.maxAmountRequired is required")
	}

	if pr.PayTo == "" {
		return fmt.Errorf("paymentRequirements.payTo is required")
	}

	if pr.Asset == "" {
		return fmt.Errorf("paymentRequirements.asset is required")
	}

	if pr.MaxTimeoutSeconds <= 0 {
		return fmt.Errorf("paymentRequirements.maxTimeoutSeconds must be greater than 0")
	}

	return nil
}

// PaymentClaim is a caller's assertion that a payment happened.
type PaymentClaim struct {
	PayerWallet string
	TxRef       string
	// ItemID is the NFT token id, nil when the caller did not supply one.
	ItemID *big.Int
}

// NormalizeTxRef returns the canonical ledger key for a transaction reference.
// Hex hashes are case-insensitive, so "0xAB.." and "0xab.." are the same payment.
func NormalizeTxRef(txRef string) string {
	return strings.ToLower(strings.TrimSpace(txRef))
}

// TransferEvent is one decoded ERC-20 Transfer log.
type TransferEvent struct {
	From          common.Address
	To            common.Address
	Amount        *big.Int
	AssetContract common.Address
	LogIndex      uint
}

// TransactionOutcome is the result of reading one transaction's execution.
type TransactionOutcome struct {
	Found     bool
	Succeeded bool
	// Transfers holds the decoded transfers of the configured asset, in emission order.
	Transfers []TransferEvent
	Logs      []*ethtypes.Log

	NativeRecipient *common.Address
	NativeAmount    *big.Int
}

// RedemptionRecord marks a transaction reference as consumed. Never mutated.
type RedemptionRecord struct {
	TxRef       string    `json:"txHash"`
	PayerWallet string    `json:"wallet"`
	ItemID      *big.Int  `json:"tokenId,omitempty"`
	Strategy    Reason    `json:"strategy"`
	RedeemedAt  time.Time `json:"redeemedAt"`
}

// SameClaim reports whether two records describe the same redemption.
// RedeemedAt is ignored so that a retried commit stays idempotent.
func (r RedemptionRecord) SameClaim(o RedemptionRecord) bool {
	if NormalizeTxRef(r.TxRef) != NormalizeTxRef(o.TxRef) {
		return false
	}
	if !strings.EqualFold(r.PayerWallet, o.PayerWallet) || r.Strategy != o.Strategy {
		return false
	}
	switch {
	case r.ItemID == nil && o.ItemID == nil:
		return true
	case r.ItemID == nil || o.ItemID == nil:
		return false
	default:
		return r.ItemID.Cmp(o.ItemID) == 0
	}
}

// Reason explains a verification decision.
type Reason string

const (
	ReasonFacilitatorConfirmed   Reason = "FacilitatorConfirmed"
	ReasonOnChainTransferMatched Reason = "OnChainTransferMatched"
	ReasonOnChainNativeMatched   Reason = "OnChainNativeMatched"
	ReasonOwnershipMatched       Reason = "OwnershipMatched"
	ReasonAlreadyRedeemed        Reason = "AlreadyRedeemed"
	ReasonNotFound               Reason = "NotFound"
	ReasonRecipientMismatch      Reason = "RecipientMismatch"
	ReasonInsufficientAmount     Reason = "InsufficientAmount"
	ReasonTransactionFailed      Reason = "TransactionFailed"
	ReasonNoStrategySucceeded    Reason = "NoStrategySucceeded"
	// ReasonChainUnavailable means no strategy could reach its collaborator.
	ReasonChainUnavailable Reason = "ChainUnavailable"
)

func (r Reason) String() string {
	return string(r)
}

// VerificationDecision is produced fresh for every claim and never persisted.
type VerificationDecision struct {
	Verified bool   `json:"verified"`
	Reason   Reason `json:"reason"`
	Detail   string `json:"detail,omitempty"`
	// Retryable is set when the claim could not be checked, as opposed to being
	// checked and found unpaid.
	Retryable bool `json:"retryable,omitempty"`
}

// Error types
type X402Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e X402Error) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrInvalidPayload     = "INVALID_PAYLOAD"
	ErrUnsupportedNetwork = "UNSUPPORTED_NETWORK"
	ErrVerificationFailed = "VERIFICATION_FAILED"
	ErrNetworkError       = "NETWORK_ERROR"
	ErrConfigError        = "CONFIG_ERROR"
)
