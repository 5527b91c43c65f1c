// Package mint turns verified payments into mint authorizations.
package mint

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/slavaghoul1337-coder/genge/logger"
	"github.com/slavaghoul1337-coder/genge/types"
	"github.com/slavaghoul1337-coder/genge/verification"
)

// ErrInvalidQuantity is returned for quantities without a configured price.
var ErrInvalidQuantity = errors.New("invalid mint quantity")

// ErrPublishFailed wraps a publish error after the redemption was already committed.
var ErrPublishFailed = errors.New("mint authorization could not be published")

// Service verifies a claim at the price of the requested quantity and publishes the authorization.
type Service struct {
	verifiers map[int]verification.Verifier
	publisher Publisher
	logger    logger.Logger
}

// NewService takes one verifier per allowed quantity, each enforcing that quantity's price.
func NewService(verifiers map[int]verification.Verifier, publisher Publisher, log logger.Logger) *Service {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if publisher == nil {
		publisher = &LogPublisher{Logger: log}
	}
	return &Service{
		verifiers: verifiers,
		publisher: publisher,
		logger:    log.With(map[string]any{"component": "mint"}),
	}
}

// Quantities lists the allowed quantities in ascending order.
func (s *Service) Quantities() []int {
	return slices.Sorted(maps.Keys(s.verifiers))
}

// Mint verifies claim and, when verified, publishes an authorization.
// A denial returns the decision with a nil authorization.
func (s *Service) Mint(ctx context.Context, claim *types.PaymentClaim, quantity int) (*types.VerificationDecision, *Authorization, error) {
	v, ok := s.verifiers[quantity]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}

	decision, err := v.Verify(ctx, claim)
	if err != nil || !decision.Verified {
		return decision, nil, err
	}

	auth := NewAuthorization(claim, quantity, decision.Reason)
	// the redemption is already committed, so a departed caller must not drop the mint
	if err := s.publisher.Publish(context.WithoutCancel(ctx), auth); err != nil {
		s.logger.Error("verified mint could not be published", map[string]any{
			"id":      auth.ID.String(),
			"tx_hash": auth.TxHash,
			"err":     err,
		})
		return decision, nil, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	s.logger.Info("mint authorized", map[string]any{
		"id":       auth.ID.String(),
		"wallet":   auth.Wallet,
		"quantity": quantity,
	})
	return decision, &auth, nil
}

func (s *Service) Close() {
	s.publisher.Close()
}
