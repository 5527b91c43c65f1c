package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/slavaghoul1337-coder/genge/logger"
	x402types "github.com/slavaghoul1337-coder/genge/types"
)

const (
	defaultFacilitatorTimeout = 10 * time.Second
	maxFacilitatorBody        = 1 << 20
)

var _ Attester = (*FacilitatorClient)(nil)

// AttestRequest is the body posted to the facilitator.
type AttestRequest struct {
	TxHash  string   `json:"txHash"`
	Wallet  string   `json:"wallet"`
	TokenID *big.Int `json:"tokenId"`
}

// AttestResponse is the facilitator's answer. Only Success is consulted.
type AttestResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// FacilitatorClient calls an x402 facilitator that can confirm payments out-of-band.
type FacilitatorClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
	logger     logger.Logger
}

// NewFacilitatorClient returns a client for url. An empty url or apiKey leaves it unconfigured.
func NewFacilitatorClient(url, apiKey string, timeout time.Duration, log logger.Logger) *FacilitatorClient {
	if timeout <= 0 {
		timeout = defaultFacilitatorTimeout
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &FacilitatorClient{
		url:    strings.TrimSpace(url),
		apiKey: strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log.With(map[string]any{"component": "facilitator"}),
	}
}

func (f *FacilitatorClient) Configured() bool {
	return f != nil && f.url != "" && f.apiKey != ""
}

// Attest reports whether the facilitator confirmed the claim.
// Errors are logged and reported as false so the on-chain checks still run.
func (f *FacilitatorClient) Attest(ctx context.Context, claim *x402types.PaymentClaim) bool {
	if !f.Configured() || claim == nil {
		return false
	}

	resp, err := f.post(ctx, AttestRequest{
		TxHash:  claim.TxRef,
		Wallet:  claim.PayerWallet,
		TokenID: claim.ItemID,
	})
	if err != nil {
		f.logger.Warn("facilitator attestation failed", map[string]any{
			"tx_hash": claim.TxRef,
			"err":     err,
		})
		return false
	}
	return resp.Success
}

func (f *FacilitatorClient) post(ctx context.Context, body AttestRequest) (*AttestResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.apiKey)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFacilitatorBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("facilitator returned status %d", resp.StatusCode)
	}

	var out AttestResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}
