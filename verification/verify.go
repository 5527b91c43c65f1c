package verification

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/slavaghoul1337-coder/genge/clients"
	"github.com/slavaghoul1337-coder/genge/ledger"
	"github.com/slavaghoul1337-coder/genge/logger"
	"github.com/slavaghoul1337-coder/genge/metrics"
	"github.com/slavaghoul1337-coder/genge/types"
)

// Verifier is the contract the HTTP layer and the facade depend on.
type Verifier interface {
	Verify(ctx context.Context, claim *types.PaymentClaim) (*types.VerificationDecision, error)
}

var _ Verifier = (*Engine)(nil)

// Engine runs the strategy chain for a claim and owns the reservation lifecycle.
type Engine struct {
	ledger     ledger.Ledger
	reader     clients.ChainReader
	strategies []Strategy
	timeout    time.Duration
	logger     logger.Logger
	metrics    metrics.Recorder
	now        func() time.Time
}

type EngineOption func(*Engine)

func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m metrics.Recorder) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithTimeout bounds the whole claim. Each collaborator call also has its own timeout.
func WithTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.timeout = d
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// DefaultStrategies returns the chain facilitator, transfer, native, ownership.
// owner may be nil to disable the ownership path.
func DefaultStrategies(
	attester clients.Attester,
	reader clients.ChainReader,
	owner clients.OwnershipReader,
	recipient common.Address,
	minimum *big.Int,
) []Strategy {
	if minimum == nil {
		minimum = new(big.Int)
	}
	strategies := []Strategy{
		FacilitatorStrategy{Attester: attester},
		TransferStrategy{Recipient: recipient, Minimum: minimum},
		NativeStrategy{Reader: reader, Recipient: recipient, Minimum: minimum},
	}
	if owner != nil {
		strategies = append(strategies, OwnershipStrategy{Reader: owner})
	}
	return strategies
}

// NewEngine creates an engine that evaluates strategies in the given order.
func NewEngine(l ledger.Ledger, reader clients.ChainReader, strategies []Strategy, opts ...EngineOption) *Engine {
	e := &Engine{
		ledger:     l,
		reader:     reader,
		strategies: strategies,
		timeout:    30 * time.Second,
		logger:     logger.NoopLogger{},
		metrics:    metrics.NoopRecorder{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(map[string]any{"component": "verification_engine"})
	return e
}

// Verify decides a claim. Denials are returned as decisions; an error means the
// claim was malformed (*types.X402Error) or something unexpected failed.
func (e *Engine) Verify(ctx context.Context, claim *types.PaymentClaim) (*types.VerificationDecision, error) {
	start := time.Now()
	defer func() {
		e.metrics.ObserveLatency("verify", time.Since(start), nil)
	}()

	if err := ValidateClaim(claim); err != nil {
		e.metrics.IncCounter("claim", map[string]string{"outcome": "invalid"})
		return nil, err
	}

	verifyCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	// ledger writes must land even if the caller goes away mid-claim
	ledgerCtx := context.WithoutCancel(ctx)

	log := e.logger.With(map[string]any{"tx_hash": claim.TxRef, "wallet": claim.PayerWallet})

	reservation, reserved, err := e.ledger.TryReserve(verifyCtx, claim.TxRef)
	if err != nil {
		return nil, fmt.Errorf("reserve transaction reference: %w", err)
	}
	if !reserved {
		log.Info("transaction reference already redeemed", nil)
		return e.decide(&types.VerificationDecision{
			Reason: types.ReasonAlreadyRedeemed,
			Detail: "transaction hash already used",
		}), nil
	}

	ev := NewEvidence(e.reader, claim.TxRef)
	results := make([]Result, 0, len(e.strategies))

	for _, s := range e.strategies {
		res := e.attempt(verifyCtx, s, claim, ev)

		if res.Err != nil {
			e.release(ledgerCtx, log, reservation)
			log.Error("strategy failed unexpectedly", map[string]any{"strategy": s.Name(), "err": res.Err})
			return nil, fmt.Errorf("%s strategy: %w", s.Name(), res.Err)
		}

		if res.Status == Confirmed {
			record := types.RedemptionRecord{
				TxRef:       claim.TxRef,
				PayerWallet: claim.PayerWallet,
				ItemID:      claim.ItemID,
				Strategy:    res.Reason,
				RedeemedAt:  e.now().UTC(),
			}
			if err := e.ledger.Commit(ledgerCtx, reservation, record); err != nil {
				e.release(ledgerCtx, log, reservation)
				return nil, fmt.Errorf("commit redemption: %w", err)
			}
			log.Info("claim verified", map[string]any{"strategy": s.Name(), "reason": res.Reason.String()})
			return e.decide(&types.VerificationDecision{
				Verified: true,
				Reason:   res.Reason,
				Detail:   res.Detail,
			}), nil
		}

		results = append(results, res)
	}

	e.release(ledgerCtx, log, reservation)
	decision := deny(results)
	log.Info("claim denied", map[string]any{"reason": decision.Reason.String(), "detail": decision.Detail})
	return e.decide(decision), nil
}

func (e *Engine) attempt(ctx context.Context, s Strategy, claim *types.PaymentClaim, ev *Evidence) Result {
	start := time.Now()
	res := s.Attempt(ctx, claim, ev)

	outcome := res.Status.String()
	if res.Err != nil {
		outcome = "error"
	}
	e.metrics.IncCounter("strategy", map[string]string{"strategy": s.Name(), "outcome": outcome})
	if res.Status != Skipped {
		e.metrics.ObserveLatency("strategy", time.Since(start), map[string]string{"strategy": s.Name()})
	}
	if res.Status == Inconclusive {
		e.logger.Warn("strategy inconclusive", map[string]any{
			"strategy": s.Name(),
			"tx_hash":  claim.TxRef,
			"detail":   res.Detail,
		})
	}
	return res
}

func (e *Engine) release(ctx context.Context, log logger.Logger, reservation ledger.Reservation) {
	if err := e.ledger.Release(ctx, reservation); err != nil {
		log.Error("failed to release reservation", map[string]any{"err": err})
	}
}

func (e *Engine) decide(d *types.VerificationDecision) *types.VerificationDecision {
	e.metrics.IncCounter("decision", map[string]string{"outcome": d.Reason.String()})
	return d
}

// denialRank orders reasons from least to most specific.
var denialRank = map[types.Reason]int{
	types.ReasonRecipientMismatch:  1,
	types.ReasonInsufficientAmount: 2,
	types.ReasonNotFound:           3,
	types.ReasonTransactionFailed:  3,
}

// deny picks the most specific reason gathered. Denials without a reason (the
// ownership check) say nothing about the payment, so when no reason was gathered
// and some strategy was inconclusive the claim is reported as retryable.
func deny(results []Result) *types.VerificationDecision {
	var (
		inconclusive int
		best         *Result
	)
	for i := range results {
		r := &results[i]
		switch r.Status {
		case Skipped:
			continue
		case Inconclusive:
			inconclusive++
		}
		if rank := denialRank[r.Reason]; rank > 0 && (best == nil || rank > denialRank[best.Reason]) {
			best = r
		}
	}

	if best == nil && inconclusive > 0 {
		return &types.VerificationDecision{
			Reason:    types.ReasonChainUnavailable,
			Detail:    "payment could not be checked, try again later",
			Retryable: true,
		}
	}
	if best != nil {
		return &types.VerificationDecision{Reason: best.Reason, Detail: best.Detail}
	}
	return &types.VerificationDecision{
		Reason: types.ReasonNoStrategySucceeded,
		Detail: "no verification strategy confirmed the payment",
	}
}

// ValidateClaim rejects claims that cannot be verified at all.
func ValidateClaim(claim *types.PaymentClaim) error {
	if claim == nil {
		return &types.X402Error{Code: types.ErrInvalidPayload, Message: "claim is required"}
	}
	if !common.IsHexAddress(claim.PayerWallet) {
		return &types.X402Error{Code: types.ErrInvalidPayload, Message: "wallet must be a hex address"}
	}
	if _, err := clients.ParseTxHash(claim.TxRef); err != nil {
		return &types.X402Error{Code: types.ErrInvalidPayload, Message: "txHash must be a 32-byte hex hash"}
	}
	if claim.ItemID != nil && claim.ItemID.Sign() < 0 {
		return &types.X402Error{Code: types.ErrInvalidPayload, Message: "tokenId must not be negative"}
	}
	return nil
}
