// Package gateway is the HTTP surface a gateway exposes for checkpoint
// ingestion and robot/audit status queries (spec.md §6): decode and run a
// submitted checkpoint through the Verifier's pipeline, and on acceptance
// anchor its entries_root on the ledger.
package gateway

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/tala-robotics/sentinel/internal/attestation"
	"github.com/tala-robotics/sentinel/internal/checkpoint"
	"github.com/tala-robotics/sentinel/internal/registry"
	"github.com/tala-robotics/sentinel/internal/sentinelerr"
	"github.com/tala-robotics/sentinel/internal/xhash"
)

const maxCheckpointBytes = 1 << 20

// Handler wires the verification pipeline, the ledger, and a static
// subject identity (mTLS-derived caller identity is out of scope here; see
// internal/ledgerrpc's callerFields for the equivalent simplification) into
// the HTTP surface.
type Handler struct {
	Verifier    *checkpoint.Verifier
	Registry    *registry.Registry
	Archive     *Archive              // nil disables checkpoint archiving and /audit/checkpoints
	Attestation *attestation.Registry // nil disables /enclaves/enroll
	Keys        *KeyStore             // the resolver passed to NewVerifier; nil disables /enclaves/enroll
	Identity    xhash.Signer          // zero value: anchor without a gateway_signature
	GatewayID   string
	Caller      registry.Subject
}

// NewHandler builds a Handler with a registry-backed RevocationLookup
// already wired into verifier's construction; callers still own verifier's
// lifetime (Close it when the gateway shuts down). archive, attest, and
// keys may all be nil; passing attest and keys together enables
// /enclaves/enroll. identity may be the zero xhash.Signer, in which case
// anchored checkpoints carry no gateway_signature.
func NewHandler(verifier *checkpoint.Verifier, reg *registry.Registry, archive *Archive, attest *attestation.Registry, keys *KeyStore, identity xhash.Signer, gatewayID string) *Handler {
	return &Handler{
		Verifier:    verifier,
		Registry:    reg,
		Archive:     archive,
		Attestation: attest,
		Keys:        keys,
		Identity:    identity,
		GatewayID:   gatewayID,
		Caller:      registry.Subject{ID: gatewayID, Roles: []registry.Role{registry.RoleGateway}},
	}
}

// Revocation returns a checkpoint.RevocationLookup backed by reg, for
// callers assembling a Verifier with NewVerifier.
func Revocation(reg *registry.Registry) checkpoint.RevocationLookup {
	return registryRevocation{reg: reg}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// IngestCheckpoint handles POST /checkpoints. The body is the canonical
// wire encoding of one Checkpoint (checkpoint.Checkpoint.ToBytes). On
// Accepted, the checkpoint's entries_root is anchored on the ledger under
// this gateway's identity.
func (h *Handler) IngestCheckpoint(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCheckpointBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload("invalid body"))
		return
	}

	c, err := checkpoint.FromBytes(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload(err.Error()))
		return
	}

	decision := h.Verifier.Verify(r.Context(), c)
	switch decision.Outcome {
	case checkpoint.Accepted:
		tag := vendorTag(r)
		var gatewaySig []byte
		if !h.Identity.IsZero() {
			digest := registry.AnchorDigest(c.EntriesRoot, c.EnclaveMeasurement, tag, h.GatewayID, c.CreatedAt)
			gatewaySig = h.Identity.Sign(digest[:])
		}
		id, err := h.Registry.AnchorCheckpoint(h.Caller, registry.AnchorCheckpointInput{
			MerkleRoot:         c.EntriesRoot,
			EnclaveMeasurement: c.EnclaveMeasurement,
			VendorTag:          tag,
			Gateway:            h.GatewayID,
			GatewaySignature:   gatewaySig,
			BlockTime:          c.CreatedAt,
		})
		if err != nil {
			writeJSON(w, statusFor(err), errorPayload(err.Error()))
			return
		}
		if h.Archive != nil {
			if _, err := h.Archive.Append(c); err != nil {
				writeJSON(w, http.StatusInternalServerError, errorPayload(err.Error()))
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":            true,
			"outcome":       decision.Outcome.String(),
			"checkpoint_id": hexHash(id),
		})
	case checkpoint.Deferred:
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"ok":      false,
			"outcome": decision.Outcome.String(),
			"error":   decision.Err.Error(),
		})
	default: // Rejected
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"ok":      false,
			"outcome": decision.Outcome.String(),
			"error":   decision.Err.Error(),
		})
	}
}

// enrollRequest is the wire shape POST /enclaves/enroll expects: a raw
// attestation quote plus the freshness nonce the quote was generated
// against, and the ed25519 public key to bind to the enclave measurement
// once the quote verifies.
type enrollRequest struct {
	VendorTag    string `json:"vendor_tag"`
	QuoteHex     string `json:"quote_hex"`
	NonceHex     string `json:"nonce_hex"`
	PublicKeyHex string `json:"public_key_hex"`
}

// Enroll handles POST /enclaves/enroll: it verifies a hardware attestation
// quote once per enclave (spec.md §4.5) and, only on a verified and
// non-revoked result, binds the caller-supplied signing key to the quote's
// enclave measurement in h.Keys. Routine per-checkpoint verification never
// re-attests; it just resolves the key this endpoint registered.
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	if h.Attestation == nil || h.Keys == nil {
		writeJSON(w, http.StatusNotFound, errorPayload("enclave enrollment not configured"))
		return
	}

	var req enrollRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxCheckpointBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload("invalid body"))
		return
	}

	quote, err := hex.DecodeString(req.QuoteHex)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload("malformed quote_hex"))
		return
	}
	nonce, err := hex.DecodeString(req.NonceHex)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload("malformed nonce_hex"))
		return
	}
	pubBytes, err := hex.DecodeString(req.PublicKeyHex)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		writeJSON(w, http.StatusBadRequest, errorPayload("malformed public_key_hex"))
		return
	}

	result, err := h.Attestation.VerifyQuote(r.Context(), req.VendorTag, quote, nonce)
	if err != nil {
		writeJSON(w, statusFor(err), errorPayload(err.Error()))
		return
	}
	if !result.QuoteVerified {
		writeJSON(w, http.StatusConflict, errorPayload("quote did not verify"))
		return
	}
	if result.RevocationStatus == attestation.RevocationRevoked {
		writeJSON(w, http.StatusConflict, errorPayload("enclave platform is revoked"))
		return
	}

	h.Keys.Put(result.EnclaveMeasurement, ed25519.PublicKey(pubBytes))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":                         true,
		"vendor_tag":                 result.VendorTag,
		"enclave_measurement":        hex.EncodeToString(result.EnclaveMeasurement),
		"revocation_status":          result.RevocationStatus.String(),
		"quote_signature_unverified": result.QuoteSignatureUnverified,
	})
}

// RobotState handles GET /robots/{robotID}/state.
func (h *Handler) RobotState(w http.ResponseWriter, r *http.Request, robotID string) {
	lifecycle, known, err := h.Verifier.State(r.Context(), robotID)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorPayload(err.Error()))
		return
	}
	if !known {
		writeJSON(w, http.StatusNotFound, errorPayload("robot has no recorded checkpoints"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"robot_id":  robotID,
		"lifecycle": lifecycle.String(),
	})
}

// VerifyAnchor handles GET /checkpoints/{id}/verify, where id is hex(content_hash).
func (h *Handler) VerifyAnchor(w http.ResponseWriter, r *http.Request, idHex string) {
	id, err := hashFromHex(idHex)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload("malformed checkpoint id"))
		return
	}
	valid, err := h.Registry.VerifyCheckpoint(h.Caller, id)
	if err != nil {
		writeJSON(w, statusFor(err), errorPayload(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "valid": valid})
}

// ListCheckpoints handles GET /audit/checkpoints?limit=N.
func (h *Handler) ListCheckpoints(w http.ResponseWriter, r *http.Request) {
	if h.Archive == nil {
		writeJSON(w, http.StatusNotFound, errorPayload("checkpoint archive not configured"))
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := h.Archive.List(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorPayload(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "items": records})
}

func vendorTag(r *http.Request) string {
	if tag := r.Header.Get("X-Sentinel-Vendor-Tag"); tag != "" {
		return tag
	}
	return "intel-sgx"
}

func statusFor(err error) int {
	switch sentinelerr.KindOf(err) {
	case sentinelerr.KindUnauthorized:
		return http.StatusForbidden
	case sentinelerr.KindEnclaveRevoked:
		return http.StatusConflict
	case sentinelerr.KindAlreadyExists:
		return http.StatusConflict
	case sentinelerr.KindNotFound:
		return http.StatusNotFound
	case sentinelerr.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func errorPayload(msg string) map[string]interface{} {
	return map[string]interface{}{"ok": false, "error": msg}
}

func hexHash(h registry.Hash256) string {
	return hex.EncodeToString(h[:])
}

func hashFromHex(s string) (registry.Hash256, error) {
	var h registry.Hash256
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(h) {
		return registry.Hash256{}, sentinelerr.New(sentinelerr.KindDecodeError, "malformed hash hex")
	}
	copy(h[:], b)
	return h, nil
}
