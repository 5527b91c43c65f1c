package clients

import "errors"

var (
	// ErrNotFound means the ledger has no mined record of the transaction yet.
	ErrNotFound = errors.New("transaction not found or not yet mined")

	// ErrTransactionFailed means the transaction was mined but reverted.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrChainUnavailable wraps transport failures and timeouts talking to the RPC node.
	ErrChainUnavailable = errors.New("chain unavailable")

	// ErrItemNotFound means ownerOf reverted or returned no owner for the token id.
	ErrItemNotFound = errors.New("item not found")

	// ErrInvalidReference means the transaction reference is not a 32-byte hex hash.
	ErrInvalidReference = errors.New("invalid transaction reference")
)
