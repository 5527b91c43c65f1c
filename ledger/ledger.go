// Package ledger records which transaction references have been redeemed.
//
// A reference moves through three states: absent, reserved and committed.
// TryReserve is the only way out of absent and is atomic for every backend;
// Commit makes a reservation permanent and Release returns it to absent.
// Both act only on the reservation TryReserve handed out, so a holder whose
// reservation expired cannot commit over a newer one.
// Committed references are never evicted.
package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/slavaghoul1337-coder/genge/types"
)

var (
	// ErrNotReserved is returned by Commit when the reference no longer holds the caller's reservation.
	ErrNotReserved = errors.New("transaction reference is not reserved")

	// ErrConflictingCommit is returned when a committed reference is committed again with different content.
	ErrConflictingCommit = errors.New("transaction reference already committed with different content")

	// ErrRecordNotFound is returned by Lookup for references without a committed record.
	ErrRecordNotFound = errors.New("redemption record not found")

	// ErrEmptyReference is returned for blank transaction references.
	ErrEmptyReference = errors.New("transaction reference is empty")
)

// Reservation is handed to the caller that won TryReserve.
type Reservation struct {
	// TxRef is the normalized key.
	TxRef string
	// Token is unique per successful TryReserve.
	Token string
}

type Ledger interface {
	// TryReserve reports false when txRef is already reserved or committed.
	TryReserve(ctx context.Context, txRef string) (Reservation, bool, error)
	// Commit finalizes res. Committing an identical record twice under the same
	// reservation is a no-op; any other reservation gets ErrNotReserved.
	Commit(ctx context.Context, res Reservation, record types.RedemptionRecord) error
	// Release drops res if it is still uncommitted. Committed records are left untouched.
	Release(ctx context.Context, res Reservation) error
	Lookup(ctx context.Context, txRef string) (*types.RedemptionRecord, error)
	Close() error
}

func newReservation(key string) Reservation {
	return Reservation{TxRef: key, Token: uuid.NewString()}
}

// commitKey returns the key of res, refusing records for another reference.
func commitKey(res Reservation, record types.RedemptionRecord) (string, error) {
	key, err := normalize(res.TxRef)
	if err != nil {
		return "", err
	}
	if res.Token == "" || types.NormalizeTxRef(record.TxRef) != key {
		return "", ErrNotReserved
	}
	return key, nil
}

func normalize(txRef string) (string, error) {
	key := types.NormalizeTxRef(txRef)
	if key == "" {
		return "", ErrEmptyReference
	}
	return key, nil
}
