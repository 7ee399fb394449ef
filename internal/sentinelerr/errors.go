// Package sentinelerr defines the stable error taxonomy shared across the
// codec, hashing, checkpoint, attestation, and registry packages.
//
// Every surface in this module maps a failure onto one of the Kind
// constants below; callers distinguish failure modes with errors.As against
// *Error rather than string matching.
package sentinelerr

import (
	"errors"
	"fmt"
)

// Kind is a stable error classification. Its string value appears in
// Error() output; callers compare Kinds with == rather than parsing text.
type Kind string

const (
	KindDecodeError         Kind = "decode_error"
	KindNonCanonical        Kind = "non_canonical"
	KindInvariantViolation  Kind = "invariant_violation"
	KindRollbackDetected    Kind = "rollback_detected"
	KindChainBroken         Kind = "chain_broken"
	KindTrustedModeUnsigned Kind = "trusted_mode_unsigned"
	KindSignatureInvalid    Kind = "signature_invalid"
	KindEnclaveRevoked      Kind = "enclave_revoked"
	KindModelRevoked        Kind = "model_revoked"
	KindAttestationError    Kind = "attestation_error"
	KindLedgerUnavailable   Kind = "ledger_unavailable"
	KindUnknownRobot        Kind = "unknown_robot"
	KindUnauthorized        Kind = "unauthorized"
	KindNotFound            Kind = "not_found"
	KindAlreadyExists       Kind = "already_exists"
	KindInvalidInput        Kind = "invalid_input"

	// Attestation sub-kinds (spec.md §7); carried in Error.Sub.
	SubQuoteMalformed    = "quote_malformed"
	SubChainUntrusted    = "chain_untrusted"
	SubTcbOutOfDate      = "tcb_out_of_date"
	SubSignatureMismatch = "signature_mismatch"
	SubUnsupportedVendor = "unsupported_vendor"
	SubNetworkUnavailable = "network_unavailable"
)

// Error is the concrete error type every Sentinel surface returns.
type Error struct {
	Kind  Kind
	Sub   string // optional sub-kind, only meaningful for KindAttestationError
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Sub != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s/%s: %s: %v", e.Kind, e.Sub, e.Msg, e.Cause)
		}
		return fmt.Sprintf("%s/%s: %s", e.Kind, e.Sub, e.Msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, &Error{Kind: X}) to check the Kind only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	if t.Sub != "" && t.Sub != e.Sub {
		return false
	}
	return true
}

// New builds an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error of the given kind wrapping cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// WrapSub builds an attestation sub-kind error.
func WrapSub(sub string, msg string, cause error) *Error {
	return &Error{Kind: KindAttestationError, Sub: sub, Msg: msg, Cause: cause}
}

// KindOf extracts the Kind from err, or "" if err is not (or does not wrap) *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTransient reports whether err is one of the two kinds spec.md §7 allows
// automatic retry for: LedgerUnavailable, or AttestationError/NetworkUnavailable.
func IsTransient(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if e.Kind == KindLedgerUnavailable {
		return true
	}
	if e.Kind == KindAttestationError && e.Sub == SubNetworkUnavailable {
		return true
	}
	return false
}
