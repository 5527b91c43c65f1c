package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/slavaghoul1337-coder/genge/ledger"
	"github.com/slavaghoul1337-coder/genge/mint"
	"github.com/slavaghoul1337-coder/genge/types"
	"github.com/slavaghoul1337-coder/genge/utils"
)

type verifyResponse struct {
	Success  bool         `json:"success"`
	Wallet   string       `json:"wallet"`
	TxHash   string       `json:"txHash"`
	TokenID  *json.Number `json:"tokenId,omitempty"`
	Verified bool         `json:"verified"`
	Reason   types.Reason `json:"reason"`
	Message  string       `json:"message"`
}

type mintResponse struct {
	Success         bool   `json:"success"`
	Wallet          string `json:"wallet"`
	Minted          int    `json:"minted"`
	TxHash          string `json:"txHash"`
	AuthorizationID string `json:"authorizationId"`
	Message         string `json:"message"`
}

type denialResponse struct {
	Error  string       `json:"error"`
	Reason types.Reason `json:"reason"`
	Detail string       `json:"detail,omitempty"`
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusPaymentRequired, s.svc.Describe())
}

func (s *Server) handleDescribeMint(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusPaymentRequired, s.svc.DescribeMint())
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	claim, ok := s.readClaim(w, r)
	if !ok {
		return
	}

	decision, err := s.svc.Verify(r.Context(), claim)
	if err != nil {
		s.internalError(w, r, "verify", err)
		return
	}
	if !decision.Verified {
		s.denied(w, decision, s.svc.Describe)
		return
	}

	resp := verifyResponse{
		Success:  true,
		Wallet:   claim.PayerWallet,
		TxHash:   claim.TxRef,
		Verified: true,
		Reason:   decision.Reason,
		Message:  verifiedMessage(decision.Reason),
	}
	if claim.ItemID != nil {
		n := json.Number(claim.ItemID.String())
		resp.TokenID = &n
	}
	jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	quantity, err := strconv.Atoi(chi.URLParam(r, "amount"))
	if err != nil || (quantity != 1 && quantity != 3) {
		errorResponse(w, http.StatusBadRequest, "Invalid amount, only 1 or 3 allowed")
		return
	}

	claim, ok := s.readClaim(w, r)
	if !ok {
		return
	}
	// Minting pays for new tokens; an owned token id is not evidence here.
	claim.ItemID = nil

	decision, auth, err := s.svc.Mint(r.Context(), claim, quantity)
	switch {
	case errors.Is(err, mint.ErrInvalidQuantity):
		errorResponse(w, http.StatusBadRequest, "Invalid amount, only 1 or 3 allowed")
		return
	case err != nil:
		s.internalError(w, r, "mint", err)
		return
	case !decision.Verified:
		s.denied(w, decision, s.svc.DescribeMint)
		return
	}

	jsonResponse(w, http.StatusOK, mintResponse{
		Success:         true,
		Wallet:          claim.PayerWallet,
		Minted:          quantity,
		TxHash:          claim.TxRef,
		AuthorizationID: auth.ID.String(),
		Message:         fmt.Sprintf("Minted %d NFT(s) to %s", quantity, claim.PayerWallet),
	})
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Lookup(r.Context(), chi.URLParam(r, "txHash"))
	switch {
	case errors.Is(err, ledger.ErrRecordNotFound):
		errorResponse(w, http.StatusNotFound, "No redemption recorded for this transaction")
	case errors.Is(err, ledger.ErrEmptyReference):
		errorResponse(w, http.StatusBadRequest, "txHash is required")
	case err != nil:
		s.internalError(w, r, "lookup", err)
	default:
		jsonResponse(w, http.StatusOK, rec)
	}
}

func (s *Server) readClaim(w http.ResponseWriter, r *http.Request) (*types.PaymentClaim, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}

	claim, err := utils.ParseClaim(body)
	if err != nil {
		var xerr *types.X402Error
		if errors.As(err, &xerr) {
			errorResponse(w, http.StatusBadRequest, xerr.Message)
		} else {
			errorResponse(w, http.StatusBadRequest, err.Error())
		}
		return nil, false
	}
	return claim, true
}

// denied renders a negative decision. Claims nothing could confirm get the
// payment description again so the caller can retry with a valid payment.
func (s *Server) denied(w http.ResponseWriter, d *types.VerificationDecision, describe func() types.X402Response) {
	switch d.Reason {
	case types.ReasonNoStrategySucceeded:
		desc := describe()
		desc.Error = "Payment required or invalid"
		jsonResponse(w, http.StatusPaymentRequired, desc)
	case types.ReasonChainUnavailable:
		w.Header().Set("Retry-After", "5")
		jsonResponse(w, http.StatusServiceUnavailable, denialResponse{
			Error:  "Payment could not be checked, try again later",
			Reason: d.Reason,
			Detail: d.Detail,
		})
	default:
		jsonResponse(w, http.StatusBadRequest, denialResponse{
			Error:  deniedMessage(d.Reason),
			Reason: d.Reason,
			Detail: d.Detail,
		})
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.Error("request failed", map[string]any{
		"op":    op,
		"path":  r.URL.Path,
		"error": err.Error(),
	})
	jsonResponse(w, http.StatusInternalServerError, map[string]string{
		"error":   "Server error",
		"details": err.Error(),
	})
}

func verifiedMessage(reason types.Reason) string {
	switch reason {
	case types.ReasonOwnershipMatched:
		return "Ownership verified"
	case types.ReasonFacilitatorConfirmed:
		return "Payment verified by facilitator"
	default:
		return "Payment verified on-chain"
	}
}

func deniedMessage(reason types.Reason) string {
	switch reason {
	case types.ReasonAlreadyRedeemed:
		return "Transaction already used"
	case types.ReasonNotFound:
		return "Transaction not found"
	case types.ReasonTransactionFailed:
		return "Transaction failed"
	case types.ReasonRecipientMismatch:
		return "Payment was not sent to the expected recipient"
	case types.ReasonInsufficientAmount:
		return "Payment amount is insufficient"
	default:
		return "Payment rejected"
	}
}
