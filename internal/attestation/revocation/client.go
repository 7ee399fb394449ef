// Package revocation implements the client side of the revocation oracle:
// a thin lookup against the registry contract's revoked_enclaves and
// revoked_models sets (spec.md §4.4 verifier steps 5-6, §4.5's
// check_revocation contract), retried with capped exponential backoff on
// transient ledger errors only. It exists so a vendor attestation adapter
// can consult the registry's revocation state through the narrow
// attestation.RevocationChecker interface, never by importing
// internal/registry directly.
package revocation

import (
	"context"

	"github.com/tala-robotics/sentinel/internal/sentinelerr"
	"github.com/tala-robotics/sentinel/internal/xhash"
)

// Hash256 is an alias for xhash.Digest256, so this package's interface
// methods are type-identical to checkpoint.RevocationLookup's without this
// package needing to import internal/checkpoint itself.
type Hash256 = xhash.Digest256

// LedgerClient is the subset of the registry's read surface this package
// needs. A concrete implementation lives alongside whatever transport the
// caller uses to reach the ledger; kept as an interface here so tests
// never need a live connection of any kind.
type LedgerClient interface {
	IsEnclaveRevoked(ctx context.Context, measurement []byte) (bool, error)
	IsModelRevoked(ctx context.Context, modelHash Hash256) (bool, error)
}

// Checker retries LedgerClient calls against transient LedgerUnavailable
// failures, per spec.md §7's fixed retry policy, and satisfies
// attestation.RevocationChecker so a vendor adapter can be handed one
// without depending on internal/registry.
type Checker struct {
	client LedgerClient
}

// NewChecker wraps a LedgerClient with the standard retry policy.
func NewChecker(client LedgerClient) *Checker {
	return &Checker{client: client}
}

func (c *Checker) IsEnclaveRevoked(measurement []byte) (bool, error) {
	var revoked bool
	err := sentinelerr.Retry(context.Background(), func() error {
		r, err := c.client.IsEnclaveRevoked(context.Background(), measurement)
		if err != nil {
			return err
		}
		revoked = r
		return nil
	})
	return revoked, err
}

func (c *Checker) IsModelRevoked(modelHash Hash256) (bool, error) {
	var revoked bool
	err := sentinelerr.Retry(context.Background(), func() error {
		r, err := c.client.IsModelRevoked(context.Background(), modelHash)
		if err != nil {
			return err
		}
		revoked = r
		return nil
	})
	return revoked, err
}
