package verification

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slavaghoul1337-coder/genge/clients"
	"github.com/slavaghoul1337-coder/genge/ledger"
	"github.com/slavaghoul1337-coder/genge/types"
)

var (
	recipient = common.HexToAddress("0x1111111111111111111111111111111111111111")
	asset     = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	payer     = common.HexToAddress("0xAbCabcABCabcabcabcabcabcabcabcabcabcaBCA")
	minimum   = big.NewInt(2_000_000)
)

func txHash(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

type fakeReader struct {
	outcome     *types.TransactionOutcome
	outcomeErr  error
	dest        common.Address
	destValue   *big.Int
	destErr     error
	outcomeHits atomic.Int32
	destHits    atomic.Int32
}

func (f *fakeReader) GetTransactionOutcome(context.Context, string) (*types.TransactionOutcome, error) {
	f.outcomeHits.Add(1)
	if f.outcome == nil && f.outcomeErr == nil {
		return &types.TransactionOutcome{Found: true, Succeeded: true}, nil
	}
	if f.outcome == nil {
		return nil, f.outcomeErr
	}
	// copy so strategies can annotate it without racing other claims
	out := *f.outcome
	return &out, f.outcomeErr
}

func (f *fakeReader) GetTransactionDestination(context.Context, string) (common.Address, *big.Int, error) {
	f.destHits.Add(1)
	if f.destErr != nil {
		return common.Address{}, nil, f.destErr
	}
	value := f.destValue
	if value == nil {
		value = new(big.Int)
	}
	return f.dest, value, nil
}

type fakeAttester struct {
	configured bool
	answer     bool
	calls      atomic.Int32
}

func (f *fakeAttester) Configured() bool { return f.configured }

func (f *fakeAttester) Attest(context.Context, *types.PaymentClaim) bool {
	f.calls.Add(1)
	return f.answer
}

type fakeOwner struct {
	owner common.Address
	err   error
}

func (f fakeOwner) OwnerOf(context.Context, *big.Int) (common.Address, error) {
	return f.owner, f.err
}

func transfer(to common.Address, amount int64, index uint) types.TransferEvent {
	return types.TransferEvent{
		From:          payer,
		To:            to,
		Amount:        big.NewInt(amount),
		AssetContract: asset,
		LogIndex:      index,
	}
}

func paidOutcome(transfers ...types.TransferEvent) *types.TransactionOutcome {
	return &types.TransactionOutcome{Found: true, Succeeded: true, Transfers: transfers}
}

type fixture struct {
	ledger   *ledger.Memory
	reader   *fakeReader
	attester *fakeAttester
	owner    clients.OwnershipReader
}

func newFixture() *fixture {
	return &fixture{
		ledger:   ledger.NewMemory(),
		reader:   &fakeReader{dest: asset},
		attester: &fakeAttester{},
	}
}

func (f *fixture) engine() *Engine {
	return NewEngine(f.ledger, f.reader, DefaultStrategies(f.attester, f.reader, f.owner, recipient, minimum))
}

func claim(tx string, wallet string, itemID *big.Int) *types.PaymentClaim {
	return &types.PaymentClaim{PayerWallet: wallet, TxRef: tx, ItemID: itemID}
}

func reservable(t *testing.T, l ledger.Ledger, tx string) bool {
	t.Helper()
	res, ok, err := l.TryReserve(context.Background(), tx)
	require.NoError(t, err)
	if ok {
		require.NoError(t, l.Release(context.Background(), res))
	}
	return ok
}

// takeoverLedger lets another holder take the reference over between the
// strategies confirming and the commit, as an expired reservation would.
type takeoverLedger struct {
	*ledger.Memory
}

func (l takeoverLedger) Commit(ctx context.Context, res ledger.Reservation, record types.RedemptionRecord) error {
	if err := l.Memory.Release(ctx, res); err != nil {
		return err
	}
	if _, _, err := l.Memory.TryReserve(ctx, res.TxRef); err != nil {
		return err
	}
	return l.Memory.Commit(ctx, res, record)
}

func TestVerify_TransferMatchedThenAlreadyRedeemed(t *testing.T) {
	f := newFixture()
	f.reader.outcome = paidOutcome(transfer(recipient, 3_000_000, 0))
	e := f.engine()

	c := claim(txHash(1), payer.Hex(), nil)
	d, err := e.Verify(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, d.Verified)
	assert.Equal(t, types.ReasonOnChainTransferMatched, d.Reason)

	rec, err := f.ledger.Lookup(context.Background(), txHash(1))
	require.NoError(t, err)
	assert.Equal(t, types.ReasonOnChainTransferMatched, rec.Strategy)

	d, err = e.Verify(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, d.Verified)
	assert.Equal(t, types.ReasonAlreadyRedeemed, d.Reason)
	assert.Equal(t, int32(1), f.reader.outcomeHits.Load())
}

func TestVerify_FacilitatorShortCircuits(t *testing.T) {
	f := newFixture()
	f.attester.configured = true
	f.attester.answer = true
	f.reader.outcomeErr = clients.ErrNotFound

	d, err := f.engine().Verify(context.Background(), claim(txHash(2), payer.Hex(), nil))
	require.NoError(t, err)
	assert.True(t, d.Verified)
	assert.Equal(t, types.ReasonFacilitatorConfirmed, d.Reason)
	assert.Zero(t, f.reader.outcomeHits.Load())
}

func TestVerify_FacilitatorFalseFallsBackOnChain(t *testing.T) {
	f := newFixture()
	f.attester.configured = true
	f.reader.outcome = paidOutcome(transfer(recipient, 2_000_000, 3))

	d, err := f.engine().Verify(context.Background(), claim(txHash(3), payer.Hex(), nil))
	require.NoError(t, err)
	assert.True(t, d.Verified)
	assert.Equal(t, types.ReasonOnChainTransferMatched, d.Reason)
	assert.Equal(t, int32(1), f.attester.calls.Load())
}

func TestVerify_UnconfiguredFacilitatorIsNotCalled(t *testing.T) {
	f := newFixture()
	f.reader.outcome = paidOutcome(transfer(recipient, 2_000_000, 0))

	_, err := f.engine().Verify(context.Background(), claim(txHash(4), payer.Hex(), nil))
	require.NoError(t, err)
	assert.Zero(t, f.attester.calls.Load())
}

func TestVerify_UnderpaidTransferIsInsufficient(t *testing.T) {
	f := newFixture()
	f.reader.outcome = paidOutcome(transfer(recipient, 1_999_999, 0))

	d, err := f.engine().Verify(context.Background(), claim(txHash(5), payer.Hex(), nil))
	require.NoError(t, err)
	assert.False(t, d.Verified)
	assert.Equal(t, types.ReasonInsufficientAmount, d.Reason)
	assert.Equal(t, int32(1), f.reader.destHits.Load(), "native path still runs after an underpaid match")
	assert.True(t, reservable(t, f.ledger, txHash(5)))
}

func TestVerify_LaterQualifyingTransferWins(t *testing.T) {
	f := newFixture()
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")
	f.reader.outcome = paidOutcome(
		transfer(other, 9_000_000, 0),
		transfer(recipient, 1_000_000, 1),
		transfer(recipient, 2_500_000, 2),
	)

	d, err := f.engine().Verify(context.Background(), claim(txHash(6), payer.Hex(), nil))
	require.NoError(t, err)
	assert.True(t, d.Verified)
	assert.Contains(t, d.Detail, "log 2")
}

func TestVerify_NativeMatched(t *testing.T) {
	f := newFixture()
	f.reader.dest = recipient
	f.reader.destValue = big.NewInt(2_000_000)

	d, err := f.engine().Verify(context.Background(), claim(txHash(7), payer.Hex(), nil))
	require.NoError(t, err)
	assert.True(t, d.Verified)
	assert.Equal(t, types.ReasonOnChainNativeMatched, d.Reason)
}

func TestVerify_NativeUnderpaid(t *testing.T) {
	f := newFixture()
	f.reader.dest = recipient
	f.reader.destValue = big.NewInt(10)

	d, err := f.engine().Verify(context.Background(), claim(txHash(8), payer.Hex(), nil))
	require.NoError(t, err)
	assert.Equal(t, types.ReasonInsufficientAmount, d.Reason)
}

func TestVerify_RecipientMismatch(t *testing.T) {
	f := newFixture()
	f.reader.outcome = paidOutcome(transfer(common.HexToAddress("0x03"), 5_000_000, 0))

	d, err := f.engine().Verify(context.Background(), claim(txHash(9), payer.Hex(), nil))
	require.NoError(t, err)
	assert.Equal(t, types.ReasonRecipientMismatch, d.Reason)
	assert.False(t, d.Retryable)
}

func TestVerify_NotFoundReleasesReservation(t *testing.T) {
	f := newFixture()
	f.reader.outcomeErr = clients.ErrNotFound
	e := f.engine()
	c := claim(txHash(10), payer.Hex(), nil)

	d, err := e.Verify(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, d.Verified)
	assert.Equal(t, types.ReasonNotFound, d.Reason)
	assert.Zero(t, f.reader.destHits.Load(), "not found ends the payment paths")

	// the transaction gets mined; the same reference can now be redeemed
	f.reader.outcomeErr = nil
	f.reader.outcome = paidOutcome(transfer(recipient, 2_000_000, 0))

	d, err = e.Verify(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, d.Verified)
}

func TestVerify_TransactionFailed(t *testing.T) {
	f := newFixture()
	f.reader.outcome = &types.TransactionOutcome{Found: true}
	f.reader.outcomeErr = clients.ErrTransactionFailed

	d, err := f.engine().Verify(context.Background(), claim(txHash(11), payer.Hex(), nil))
	require.NoError(t, err)
	assert.Equal(t, types.ReasonTransactionFailed, d.Reason)
	assert.True(t, reservable(t, f.ledger, txHash(11)))
}

func TestVerify_OwnershipMatched(t *testing.T) {
	f := newFixture()
	f.owner = fakeOwner{owner: payer}

	wallet := strings.ToLower(payer.Hex())
	d, err := f.engine().Verify(context.Background(), claim(txHash(12), wallet, big.NewInt(42)))
	require.NoError(t, err)
	assert.True(t, d.Verified)
	assert.Equal(t, types.ReasonOwnershipMatched, d.Reason)

	rec, err := f.ledger.Lookup(context.Background(), txHash(12))
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.ItemID.Int64())
}

func TestVerify_OwnershipIsAlternativeToMissingPayment(t *testing.T) {
	f := newFixture()
	f.reader.outcomeErr = clients.ErrNotFound
	f.owner = fakeOwner{owner: payer}

	d, err := f.engine().Verify(context.Background(), claim(txHash(13), payer.Hex(), big.NewInt(1)))
	require.NoError(t, err)
	assert.True(t, d.Verified)
	assert.Equal(t, types.ReasonOwnershipMatched, d.Reason)
}

func TestVerify_OwnershipNegativeKeepsPaymentReason(t *testing.T) {
	f := newFixture()
	f.reader.outcome = paidOutcome(transfer(recipient, 1, 0))

	for name, owner := range map[string]fakeOwner{
		"other owner":    {owner: recipient},
		"item not found": {err: clients.ErrItemNotFound},
	} {
		t.Run(name, func(t *testing.T) {
			f.owner = owner
			d, err := f.engine().Verify(context.Background(), claim(txHash(14), payer.Hex(), big.NewInt(5)))
			require.NoError(t, err)
			assert.False(t, d.Verified)
			assert.Equal(t, types.ReasonInsufficientAmount, d.Reason)
		})
	}
}

func TestVerify_OwnershipSkippedWithoutItem(t *testing.T) {
	f := newFixture()
	f.reader.outcome = paidOutcome()
	f.owner = fakeOwner{owner: payer}

	d, err := f.engine().Verify(context.Background(), claim(txHash(15), payer.Hex(), nil))
	require.NoError(t, err)
	assert.False(t, d.Verified)
	assert.Equal(t, types.ReasonRecipientMismatch, d.Reason)
}

func TestVerify_AllUnavailableIsRetryable(t *testing.T) {
	f := newFixture()
	f.attester.configured = true
	f.reader.outcomeErr = fmt.Errorf("get transaction receipt: %w: %w", clients.ErrChainUnavailable, errors.New("connection refused"))
	f.owner = fakeOwner{err: fmt.Errorf("call ownerOf: %w", clients.ErrChainUnavailable)}

	d, err := f.engine().Verify(context.Background(), claim(txHash(16), payer.Hex(), big.NewInt(3)))
	require.NoError(t, err)
	assert.False(t, d.Verified)
	assert.Equal(t, types.ReasonChainUnavailable, d.Reason)
	assert.True(t, d.Retryable)
	assert.Equal(t, int32(1), f.reader.outcomeHits.Load(), "outcome is read once per claim")
	assert.True(t, reservable(t, f.ledger, txHash(16)))
}

func TestVerify_MissingTokenWhileChainUnavailableIsRetryable(t *testing.T) {
	f := newFixture()
	f.reader.outcomeErr = fmt.Errorf("get transaction receipt: %w", clients.ErrChainUnavailable)
	f.reader.destErr = fmt.Errorf("get transaction: %w", clients.ErrChainUnavailable)

	for name, owner := range map[string]fakeOwner{
		"item not found": {err: clients.ErrItemNotFound},
		"other owner":    {owner: recipient},
	} {
		t.Run(name, func(t *testing.T) {
			f.owner = owner
			d, err := f.engine().Verify(context.Background(), claim(txHash(23), payer.Hex(), big.NewInt(9)))
			require.NoError(t, err)
			assert.False(t, d.Verified)
			assert.Equal(t, types.ReasonChainUnavailable, d.Reason)
			assert.True(t, d.Retryable)
			assert.True(t, reservable(t, f.ledger, txHash(23)))
		})
	}
}

func TestVerify_UnexpectedErrorReleasesAndFails(t *testing.T) {
	f := newFixture()
	f.reader.outcomeErr = errors.New("abi: cannot unmarshal")

	d, err := f.engine().Verify(context.Background(), claim(txHash(17), payer.Hex(), nil))
	require.Error(t, err)
	assert.Nil(t, d)
	assert.True(t, reservable(t, f.ledger, txHash(17)))
}

func TestVerify_LostReservationIsNotRedeemed(t *testing.T) {
	f := newFixture()
	f.reader.outcome = paidOutcome(transfer(recipient, 3_000_000, 0))
	e := NewEngine(takeoverLedger{f.ledger}, f.reader, DefaultStrategies(f.attester, f.reader, f.owner, recipient, minimum))

	d, err := e.Verify(context.Background(), claim(txHash(22), payer.Hex(), nil))
	require.ErrorIs(t, err, ledger.ErrNotReserved)
	assert.Nil(t, d)
	assert.Empty(t, f.ledger.Records())
	assert.False(t, reservable(t, f.ledger, txHash(22)), "the newer holder keeps its reservation")
}

func TestVerify_InvalidClaims(t *testing.T) {
	f := newFixture()
	e := f.engine()

	tests := map[string]*types.PaymentClaim{
		"nil":            nil,
		"bad wallet":     claim(txHash(18), "0x123", nil),
		"bad hash":       claim("0x1", payer.Hex(), nil),
		"negative token": claim(txHash(18), payer.Hex(), big.NewInt(-1)),
	}
	for name, c := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := e.Verify(context.Background(), c)
			var xErr *types.X402Error
			require.ErrorAs(t, err, &xErr)
			assert.Equal(t, types.ErrInvalidPayload, xErr.Code)
		})
	}
	assert.Zero(t, f.reader.outcomeHits.Load())
	assert.Empty(t, f.ledger.Records())
}

func TestVerify_ConcurrentClaimsRedeemOnce(t *testing.T) {
	f := newFixture()
	f.reader.outcome = paidOutcome(transfer(recipient, 3_000_000, 0))
	e := f.engine()

	const workers = 16
	var (
		wg       sync.WaitGroup
		verified atomic.Int32
		redeemed atomic.Int32
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := e.Verify(context.Background(), claim(txHash(19), payer.Hex(), nil))
			assert.NoError(t, err)
			if d.Verified {
				verified.Add(1)
			} else if d.Reason == types.ReasonAlreadyRedeemed {
				redeemed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), verified.Load())
	assert.Equal(t, int32(workers-1), redeemed.Load())
	assert.Len(t, f.ledger.Records(), 1)
}

func TestBatchVerify_KeepsOrder(t *testing.T) {
	f := newFixture()
	f.reader.outcome = paidOutcome(transfer(recipient, 3_000_000, 0))

	results, err := f.engine().BatchVerify(context.Background(), []*types.PaymentClaim{
		claim(txHash(20), payer.Hex(), nil),
		claim("bogus", payer.Hex(), nil),
		claim(txHash(21), payer.Hex(), nil),
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Decision.Verified)
	assert.Error(t, results[1].Err)
	assert.True(t, results[2].Decision.Verified)
}

func TestDeny_Precedence(t *testing.T) {
	d := deny([]Result{
		{Status: Denied, Reason: types.ReasonRecipientMismatch},
		{Status: Denied, Reason: types.ReasonInsufficientAmount},
		{Status: Denied},
	})
	assert.Equal(t, types.ReasonInsufficientAmount, d.Reason)

	d = deny([]Result{{Status: Skipped}, {Status: Denied}})
	assert.Equal(t, types.ReasonNoStrategySucceeded, d.Reason)

	d = deny([]Result{{Status: Skipped}, {Status: Inconclusive}, {Status: Denied, Reason: types.ReasonNotFound}})
	assert.Equal(t, types.ReasonNotFound, d.Reason)
	assert.False(t, d.Retryable)

	// a reason-less denial does not settle an unchecked payment
	d = deny([]Result{{Status: Inconclusive}, {Status: Inconclusive}, {Status: Denied}})
	assert.Equal(t, types.ReasonChainUnavailable, d.Reason)
	assert.True(t, d.Retryable)

	d = deny([]Result{{Status: Inconclusive}, {Status: Denied, Reason: types.ReasonRecipientMismatch}, {Status: Denied}})
	assert.Equal(t, types.ReasonRecipientMismatch, d.Reason)
	assert.False(t, d.Retryable)

	d = deny(nil)
	assert.Equal(t, types.ReasonNoStrategySucceeded, d.Reason)
}
