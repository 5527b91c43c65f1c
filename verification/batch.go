package verification

import (
	"context"

	"github.com/slavaghoul1337-coder/genge/types"
)

// BatchResult pairs a claim's decision with the error Verify returned for it.
type BatchResult struct {
	Decision *types.VerificationDecision
	Err      error
}

// BatchVerify verifies claims concurrently. Results keep the input order.
// Claims sharing a transaction reference race on the ledger; at most one of them verifies.
func (e *Engine) BatchVerify(ctx context.Context, claims []*types.PaymentClaim) ([]BatchResult, error) {
	results := make([]BatchResult, len(claims))

	type verificationResult struct {
		index    int
		decision *types.VerificationDecision
		err      error
	}

	resultChan := make(chan verificationResult, len(claims))

	for i, claim := range claims {
		go func(index int, c *types.PaymentClaim) {
			decision, err := e.Verify(ctx, c)
			resultChan <- verificationResult{
				index:    index,
				decision: decision,
				err:      err,
			}
		}(i, claim)
	}

	for range claims {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-resultChan:
			results[res.index] = BatchResult{Decision: res.decision, Err: res.err}
		}
	}

	return results, nil
}
