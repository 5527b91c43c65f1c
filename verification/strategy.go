package verification

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/slavaghoul1337-coder/genge/clients"
	"github.com/slavaghoul1337-coder/genge/types"
)

// Status is the tri-state outcome of a single strategy.
type Status int

const (
	// Skipped strategies did not apply to the claim and do not count as having run.
	Skipped Status = iota
	Confirmed
	Denied
	// Inconclusive means the collaborator could not be reached or would not answer.
	Inconclusive
)

func (s Status) String() string {
	switch s {
	case Confirmed:
		return "confirmed"
	case Denied:
		return "denied"
	case Inconclusive:
		return "inconclusive"
	default:
		return "skipped"
	}
}

// Result is what a strategy reports back to the engine.
type Result struct {
	Status Status
	// Reason is set for confirmations and for denials with a specific cause.
	Reason types.Reason
	Detail string
	// Err carries an unexpected failure. The engine aborts the claim when it is set.
	Err error
}

// Strategy is one independent way of confirming a claim.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, claim *types.PaymentClaim, ev *Evidence) Result
}

// Evidence caches chain reads for one claim so later strategies reuse them.
// It is not safe for concurrent use; the engine runs strategies in sequence.
type Evidence struct {
	reader  clients.ChainReader
	txRef   string
	fetched bool
	outcome *types.TransactionOutcome
	err     error
}

func NewEvidence(reader clients.ChainReader, txRef string) *Evidence {
	return &Evidence{reader: reader, txRef: txRef}
}

// Outcome reads the transaction once and returns the cached result afterwards.
func (e *Evidence) Outcome(ctx context.Context) (*types.TransactionOutcome, error) {
	if !e.fetched {
		e.outcome, e.err = e.reader.GetTransactionOutcome(ctx, e.txRef)
		if e.outcome == nil && e.err == nil {
			e.err = clients.ErrNotFound
		}
		e.fetched = true
	}
	return e.outcome, e.err
}

// paymentTerminal maps the reader errors that end every payment path to their denial.
func paymentTerminal(err error) (Result, bool) {
	switch {
	case errors.Is(err, clients.ErrNotFound):
		return Result{Status: Denied, Reason: types.ReasonNotFound, Detail: "transaction not found or not yet mined"}, true
	case errors.Is(err, clients.ErrTransactionFailed):
		return Result{Status: Denied, Reason: types.ReasonTransactionFailed, Detail: "transaction reverted"}, true
	case errors.Is(err, clients.ErrInvalidReference):
		return Result{Status: Denied, Reason: types.ReasonNotFound, Detail: err.Error()}, true
	default:
		return Result{}, false
	}
}

func readerFailure(err error) Result {
	if r, ok := paymentTerminal(err); ok {
		return r
	}
	if errors.Is(err, clients.ErrChainUnavailable) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Result{Status: Inconclusive, Detail: err.Error()}
	}
	return Result{Err: err}
}

// FacilitatorStrategy asks the facilitator first. A negative answer is inconclusive,
// never a denial, so the on-chain checks still decide.
type FacilitatorStrategy struct {
	Attester clients.Attester
}

func (FacilitatorStrategy) Name() string { return "facilitator" }

func (s FacilitatorStrategy) Attempt(ctx context.Context, claim *types.PaymentClaim, _ *Evidence) Result {
	if s.Attester == nil || !s.Attester.Configured() {
		return Result{Status: Skipped}
	}
	if s.Attester.Attest(ctx, claim) {
		return Result{Status: Confirmed, Reason: types.ReasonFacilitatorConfirmed, Detail: "confirmed by facilitator"}
	}
	return Result{Status: Inconclusive, Detail: "facilitator did not confirm"}
}

// TransferStrategy looks for the first asset Transfer to the recipient that pays enough.
type TransferStrategy struct {
	Recipient common.Address
	Minimum   *big.Int
}

func (TransferStrategy) Name() string { return "transfer" }

func (s TransferStrategy) Attempt(ctx context.Context, _ *types.PaymentClaim, ev *Evidence) Result {
	outcome, err := ev.Outcome(ctx)
	if err != nil {
		return readerFailure(err)
	}

	var underpaid *types.TransferEvent
	for i := range outcome.Transfers {
		t := &outcome.Transfers[i]
		if t.To != s.Recipient {
			continue
		}
		if t.Amount != nil && t.Amount.Cmp(s.Minimum) >= 0 {
			return Result{
				Status: Confirmed,
				Reason: types.ReasonOnChainTransferMatched,
				Detail: fmt.Sprintf("transfer of %s from %s at log %d", t.Amount, t.From.Hex(), t.LogIndex),
			}
		}
		if underpaid == nil {
			underpaid = t
		}
	}

	if underpaid != nil {
		return Result{
			Status: Denied,
			Reason: types.ReasonInsufficientAmount,
			Detail: fmt.Sprintf("transfer of %s is below the required %s", underpaid.Amount, s.Minimum),
		}
	}
	return Result{Status: Denied, Reason: types.ReasonRecipientMismatch, Detail: "no asset transfer to recipient"}
}

// NativeStrategy compares the transaction's own destination and value.
type NativeStrategy struct {
	Reader    clients.ChainReader
	Recipient common.Address
	Minimum   *big.Int
}

func (NativeStrategy) Name() string { return "native" }

func (s NativeStrategy) Attempt(ctx context.Context, claim *types.PaymentClaim, ev *Evidence) Result {
	outcome, err := ev.Outcome(ctx)
	if err != nil {
		return readerFailure(err)
	}

	to, value, err := s.Reader.GetTransactionDestination(ctx, claim.TxRef)
	if err != nil {
		if errors.Is(err, clients.ErrNotFound) {
			return Result{Status: Denied, Reason: types.ReasonRecipientMismatch, Detail: "transaction has no direct recipient"}
		}
		return readerFailure(err)
	}
	outcome.NativeRecipient = &to
	outcome.NativeAmount = value

	if to != s.Recipient {
		return Result{Status: Denied, Reason: types.ReasonRecipientMismatch, Detail: fmt.Sprintf("transaction sent to %s", to.Hex())}
	}
	if value == nil || value.Cmp(s.Minimum) < 0 {
		return Result{
			Status: Denied,
			Reason: types.ReasonInsufficientAmount,
			Detail: fmt.Sprintf("native value %s is below the required %s", value, s.Minimum),
		}
	}
	return Result{Status: Confirmed, Reason: types.ReasonOnChainNativeMatched, Detail: fmt.Sprintf("native transfer of %s", value)}
}

// OwnershipStrategy confirms a claim when the payer already holds the item.
type OwnershipStrategy struct {
	Reader clients.OwnershipReader
}

func (OwnershipStrategy) Name() string { return "ownership" }

func (s OwnershipStrategy) Attempt(ctx context.Context, claim *types.PaymentClaim, _ *Evidence) Result {
	if claim.ItemID == nil || s.Reader == nil {
		return Result{Status: Skipped}
	}

	owner, err := s.Reader.OwnerOf(ctx, claim.ItemID)
	switch {
	case errors.Is(err, clients.ErrItemNotFound):
		// no Reason: a missing token must not mask an unchecked payment
		return Result{Status: Denied, Detail: fmt.Sprintf("token %s not found", claim.ItemID)}
	case err != nil:
		return readerFailure(err)
	}

	if owner != common.HexToAddress(claim.PayerWallet) {
		// no Reason, as above
		return Result{Status: Denied, Detail: fmt.Sprintf("token %s is owned by %s", claim.ItemID, owner.Hex())}
	}
	return Result{Status: Confirmed, Reason: types.ReasonOwnershipMatched, Detail: fmt.Sprintf("wallet owns token %s", claim.ItemID)}
}
