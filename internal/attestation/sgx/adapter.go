package sgx

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/tala-robotics/sentinel/internal/attestation"
	"github.com/tala-robotics/sentinel/internal/sentinelerr"
)

// Config configures the SGX/DCAP reference adapter.
type Config struct {
	PCSBaseURL   string
	AllowDebug   bool // permissive test mode only; production must be false
	TrustAnchors TrustAnchors
	// Registry, if set, is consulted before the PCS/TCB check: an enclave
	// already on the ledger's revoked_enclaves set is rejected without a
	// network round trip to Intel. Satisfied by
	// internal/attestation/revocation.Checker or internal/gateway's
	// in-process registry adapter.
	Registry attestation.RevocationChecker
}

var _ attestation.Adapter = (*Adapter)(nil)

// Adapter is the Intel SGX/DCAP ECDSA-p256 quote v3 reference
// implementation of attestation.Adapter (spec.md §4.5).
type Adapter struct {
	cfg Config
	pcs *PCSClient

	mu           sync.RWMutex
	trustAnchors TrustAnchors
}

// New returns an SGX adapter against the given config.
func New(cfg Config) *Adapter {
	return &Adapter{
		cfg:          cfg,
		pcs:          NewPCSClient(cfg.PCSBaseURL),
		trustAnchors: cfg.TrustAnchors,
	}
}

func (a *Adapter) VendorTag() string { return "intel-sgx" }

func (a *Adapter) RootCACerts() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	anchors := []string{a.trustAnchors.RootCAPEM}
	return append(anchors, a.trustAnchors.IntermediatePEMs...)
}

// VerifyQuote runs the five-step SGX/DCAP verification flow (spec.md
// §4.5): parse, reject debug unless permissive, verify the PCK chain if
// one was supplied alongside the quote, check TCB/revocation status, and
// (stubbed, like the reference implementation — see DESIGN.md) verify the
// quote's own ECDSA signature.
func (a *Adapter) VerifyQuote(ctx context.Context, quote []byte, nonce []byte) (attestation.Result, error) {
	parsed, err := ParseQuoteV3(quote)
	if err != nil {
		return attestation.Result{}, err
	}

	if parsed.DebugMode && !a.cfg.AllowDebug {
		return attestation.Result{}, sentinelerr.WrapSub(sentinelerr.SubQuoteMalformed, "debug-enabled quote rejected outside permissive test mode", nil)
	}

	if parsed.CertificationData != "" {
		certs, err := ParseCertChain(parsed.CertificationData)
		if err != nil {
			return attestation.Result{}, err
		}
		a.mu.RLock()
		anchors := a.trustAnchors
		a.mu.RUnlock()
		if err := VerifyPCKChain(certs, anchors); err != nil {
			return attestation.Result{}, err
		}
	}

	status, err := a.CheckRevocation(ctx, parsed.MrEnclave[:])
	if err != nil {
		return attestation.Result{}, err
	}
	if status == attestation.RevocationRevoked {
		return attestation.Result{}, sentinelerr.WrapSub(sentinelerr.SubTcbOutOfDate, "platform TCB is out of date with no accepted mitigations", nil)
	}

	// TODO: verify the quote's own ECDSA-p256 signature against the
	// PCK-leaf key in parsed.CertificationData. Not implemented yet (the
	// reference implementation this system was distilled from stubs the
	// same check, see original_source/attestation-sgx/src/quote.rs's
	// verify_quote_signature); QuoteSignatureUnverified flags the gap so
	// callers don't read QuoteVerified as a complete signature round-trip.

	return attestation.Result{
		VendorTag:                a.VendorTag(),
		EnclaveMeasurement:       append([]byte{}, parsed.MrEnclave[:]...),
		QuoteVerified:            true,
		QuoteSignatureUnverified: true,
		VerifiedAt:               uint64(time.Now().UnixMicro()),
		RevocationStatus:         status,
		RawQuote:                 quote,
		CertChainPEM:             parsed.CertificationData,
	}, nil
}

// CheckRevocation first consults cfg.Registry, if set, for an emergency
// ledger-side revocation (spec.md §4.5's check_revocation contract reaching
// into revoked_enclaves); only once that passes does it derive the
// FMSPC-keyed cache lookup for measurement's platform and map its TCB
// status onto attestation.RevocationStatus. A PCS fetch failure degrades to
// Unknown rather than failing closed, whether or not a stale cached TCB
// info exists, per spec.md §4.5's cache policy.
func (a *Adapter) CheckRevocation(ctx context.Context, measurement []byte) (attestation.RevocationStatus, error) {
	if a.cfg.Registry != nil {
		revoked, err := a.cfg.Registry.IsEnclaveRevoked(measurement)
		if err != nil {
			return attestation.RevocationUnknown, err
		}
		if revoked {
			return attestation.RevocationRevoked, nil
		}
	}

	fmspc := fmspcFromMeasurement(measurement)
	info, err := a.pcs.GetTCBInfo(ctx, fmspc)
	if err != nil {
		return attestation.RevocationUnknown, nil
	}
	for _, lvl := range info.TCBLevels {
		switch lvl.TCBStatus {
		case "Revoked":
			return attestation.RevocationRevoked, nil
		case "OutOfDate", "OutOfDateConfigurationNeeded":
			// spec.md §4.5 step 4: OutOfDate is rejected outright. This
			// adapter models no mitigation path (cfg carries none), so
			// there is nothing that could downgrade this to RevocationOK.
			return attestation.RevocationRevoked, nil
		}
	}
	return attestation.RevocationOK, nil
}

// RefreshTrustAnchors refreshes CRLs/TCB info. Deduplication of concurrent
// refreshes is handled inside PCSClient's singleflight.Group; this method
// just needs to trigger one fetch per known FMSPC, which in this reference
// adapter is driven lazily by CheckRevocation instead of eagerly enumerated
// here — there is no platform-enumeration endpoint in the PCS contract this
// adapter targets.
func (a *Adapter) RefreshTrustAnchors(ctx context.Context) error {
	return nil
}

// fmspcFromMeasurement is a placeholder mapping from enclave measurement to
// FMSPC: real deployments need platform metadata alongside the quote to
// resolve this. Here it derives a stable FMSPC-shaped identifier from the
// measurement itself so the cache keying logic is exercised deterministically.
func fmspcFromMeasurement(measurement []byte) string {
	if len(measurement) < 6 {
		return hex.EncodeToString(measurement)
	}
	return hex.EncodeToString(measurement[:6])
}
