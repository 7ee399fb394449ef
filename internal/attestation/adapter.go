// Package attestation defines the vendor-polymorphic adapter contract that
// turns a raw hardware attestation quote into a normalized verdict
// (spec.md §4.5), plus the registry of concrete adapters keyed by vendor
// tag.
package attestation

import (
	"context"

	"github.com/tala-robotics/sentinel/internal/sentinelerr"
)

// RevocationStatus is the result of a revocation lookup against a vendor's
// CRL/TCB feed.
type RevocationStatus int

const (
	RevocationOK RevocationStatus = iota
	RevocationRevoked
	RevocationUnknown
)

func (s RevocationStatus) String() string {
	switch s {
	case RevocationOK:
		return "ok"
	case RevocationRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Result is the normalized output of verifying one hardware quote.
type Result struct {
	VendorTag          string
	EnclaveMeasurement []byte
	QuoteVerified      bool
	// QuoteSignatureUnverified is true when QuoteVerified passed every check
	// an adapter implements except the quote's own signature over its
	// report body. Callers that need that guarantee specifically (rather
	// than just "the chain and TCB checked out") must consult this instead
	// of treating QuoteVerified as a complete signature round-trip.
	QuoteSignatureUnverified bool
	VerifiedAt               uint64 // microseconds since epoch
	RevocationStatus         RevocationStatus
	RawQuote                 []byte // optional echo of the input quote
	CertChainPEM             string // optional PCK chain, PEM-encoded
}

// RevocationChecker is the narrow registry-revocation lookup a vendor
// adapter may be given at construction time, so it can consult
// revoked_enclaves (spec.md §4.5's check_revocation contract) without
// importing internal/registry. internal/attestation/revocation.Checker and
// internal/gateway's registry adapter both satisfy this.
type RevocationChecker interface {
	IsEnclaveRevoked(measurement []byte) (bool, error)
}

// Adapter is the capability contract a vendor-specific attestation backend
// implements (spec.md §4.5). Dispatch is a closed vtable-by-vendor-tag
// lookup (Registry), never an open type hierarchy — see spec.md §9's
// design note on dynamic adapter dispatch.
type Adapter interface {
	VendorTag() string
	VerifyQuote(ctx context.Context, quote []byte, nonce []byte) (Result, error)
	CheckRevocation(ctx context.Context, measurement []byte) (RevocationStatus, error)
	RootCACerts() []string // PEM-encoded
	RefreshTrustAnchors(ctx context.Context) error
}

// Registry maps vendor tags to exactly one Adapter each.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry returns an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register installs adapter under its own VendorTag, replacing any adapter
// previously registered for that tag.
func (r *Registry) Register(adapter Adapter) {
	r.adapters[adapter.VendorTag()] = adapter
}

// Get returns the adapter registered for tag, or UnsupportedVendor.
func (r *Registry) Get(tag string) (Adapter, error) {
	a, ok := r.adapters[tag]
	if !ok {
		return nil, sentinelerr.WrapSub(sentinelerr.SubUnsupportedVendor, "no adapter registered for vendor tag "+tag, nil)
	}
	return a, nil
}

// Vendors lists every registered vendor tag.
func (r *Registry) Vendors() []string {
	tags := make([]string, 0, len(r.adapters))
	for tag := range r.adapters {
		tags = append(tags, tag)
	}
	return tags
}

// VerifyQuote dispatches to the adapter registered for vendorTag.
func (r *Registry) VerifyQuote(ctx context.Context, vendorTag string, quote, nonce []byte) (Result, error) {
	a, err := r.Get(vendorTag)
	if err != nil {
		return Result{}, err
	}
	return a.VerifyQuote(ctx, quote, nonce)
}

// RefreshAll refreshes trust anchors for every registered adapter.
func (r *Registry) RefreshAll(ctx context.Context) error {
	for _, a := range r.adapters {
		if err := a.RefreshTrustAnchors(ctx); err != nil {
			return err
		}
	}
	return nil
}
