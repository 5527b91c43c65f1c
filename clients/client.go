package clients

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	x402types "github.com/slavaghoul1337-coder/genge/types"
)

// EthBackend is the subset of *ethclient.Client the readers rely on.
type EthBackend interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *ethtypes.Transaction, isPending bool, err error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// ChainReader reads a transaction's execution from the ledger.
type ChainReader interface {
	GetTransactionOutcome(ctx context.Context, txRef string) (*x402types.TransactionOutcome, error)
	GetTransactionDestination(ctx context.Context, txRef string) (common.Address, *big.Int, error)
}

// OwnershipReader resolves the current holder of an NFT.
type OwnershipReader interface {
	OwnerOf(ctx context.Context, itemID *big.Int) (common.Address, error)
}

// Attester asks an out-of-band facilitator whether a claim was paid.
// Attest never fails: any problem is reported as false.
type Attester interface {
	Configured() bool
	Attest(ctx context.Context, claim *x402types.PaymentClaim) bool
}
