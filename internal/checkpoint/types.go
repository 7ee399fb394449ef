// Package checkpoint implements the central signed record of this system
// (spec.md §3/§4.4): the Builder that assembles and signs a Checkpoint
// inside a TEE, and the Verifier that checks one against per-robot state in
// the gateway.
package checkpoint

import (
	"crypto/ed25519"
	"unicode/utf8"

	"github.com/tala-robotics/sentinel/internal/codec"
	"github.com/tala-robotics/sentinel/internal/sentinelerr"
	"github.com/tala-robotics/sentinel/internal/xhash"
)

// Hash256 is the zero-value-sentinel 32-byte digest used for prev_root,
// entries_root, firmware_hash, and model/dataset hashes.
type Hash256 = xhash.Digest256

// TrustMode is the Trusted/Permissive policy toggle (spec.md §3). The
// source materials' Rust reference additionally distinguishes a third
// SoftAttestation mode; SPEC_FULL.md collapses it into Permissive without
// changing the wire encoding (still a single uint: 0 or 1).
type TrustMode uint64

const (
	Trusted    TrustMode = 0
	Permissive TrustMode = 1
)

func (m TrustMode) String() string {
	if m == Trusted {
		return "trusted"
	}
	return "permissive"
}

// Vendor shapes for enclave_measurement length (spec.md §4.4 precondition 5).
const (
	MeasurementLenSGX   = 32
	MeasurementLenTDX   = 48
	MeasurementLenNitro = 48
)

// ModelProvenance identifies the AI model running inside the TEE.
type ModelProvenance struct {
	Name            string
	ModelHash       Hash256
	DatasetHash     *Hash256
	ContainerDigest string // empty means absent
	SignatureBundle []byte // nil means absent
}

func (m ModelProvenance) toValue() codec.Value {
	fields := codec.Map{
		codec.Field(1, codec.Text(m.Name)),
		codec.Field(2, codec.Bytes(m.ModelHash[:])),
	}
	if m.DatasetHash != nil {
		fields = append(fields, codec.Field(3, codec.Bytes(m.DatasetHash[:])))
	}
	if m.ContainerDigest != "" {
		fields = append(fields, codec.Field(4, codec.Text(m.ContainerDigest)))
	}
	if m.SignatureBundle != nil {
		fields = append(fields, codec.Field(5, codec.Bytes(m.SignatureBundle)))
	}
	return fields
}

func modelProvenanceFromValue(v codec.Value) (ModelProvenance, error) {
	m, ok := v.(codec.Map)
	if !ok {
		return ModelProvenance{}, sentinelerr.New(sentinelerr.KindDecodeError, "model_provenance not a map")
	}
	var mp ModelProvenance
	name, ok := m.Get(1)
	if !ok {
		return ModelProvenance{}, sentinelerr.New(sentinelerr.KindDecodeError, "model_provenance missing name")
	}
	nameText, ok := name.(codec.Text)
	if !ok {
		return ModelProvenance{}, sentinelerr.New(sentinelerr.KindDecodeError, "model_provenance.name not text")
	}
	mp.Name = string(nameText)

	hash, ok := m.Get(2)
	if !ok {
		return ModelProvenance{}, sentinelerr.New(sentinelerr.KindDecodeError, "model_provenance missing model_hash")
	}
	hashBytes, ok := hash.(codec.Bytes)
	if !ok || len(hashBytes) != 32 {
		return ModelProvenance{}, sentinelerr.New(sentinelerr.KindDecodeError, "model_provenance.model_hash malformed")
	}
	copy(mp.ModelHash[:], hashBytes)

	if v, ok := m.Get(3); ok {
		b, ok := v.(codec.Bytes)
		if !ok || len(b) != 32 {
			return ModelProvenance{}, sentinelerr.New(sentinelerr.KindDecodeError, "model_provenance.dataset_hash malformed")
		}
		var h Hash256
		copy(h[:], b)
		mp.DatasetHash = &h
	}
	if v, ok := m.Get(4); ok {
		t, ok := v.(codec.Text)
		if !ok {
			return ModelProvenance{}, sentinelerr.New(sentinelerr.KindDecodeError, "model_provenance.container_digest not text")
		}
		mp.ContainerDigest = string(t)
	}
	if v, ok := m.Get(5); ok {
		b, ok := v.(codec.Bytes)
		if !ok {
			return ModelProvenance{}, sentinelerr.New(sentinelerr.KindDecodeError, "model_provenance.signature_bundle not bytes")
		}
		mp.SignatureBundle = []byte(b)
	}
	return mp, nil
}

// DeterminismConfig.Flags preserves insertion order, unlike every other
// mapping in this schema — it is encoded as an ordered array of key/value
// pairs rather than a canonical codec.Map, since the canonical codec always
// sorts map keys by their own encoding (spec.md §4.1) and this field's
// invariant is explicitly insertion order (spec.md §3).
type Flag struct {
	Key   string
	Value string
}

// DeterminismConfig captures parameters that must be bit-identical across
// two checkpoints claiming reproducible inference.
type DeterminismConfig struct {
	RngSeed   *uint64
	BatchSize uint64
	Flags     []Flag
}

func (d DeterminismConfig) toValue() codec.Value {
	fields := codec.Map{}
	if d.RngSeed != nil {
		fields = append(fields, codec.Field(1, codec.Uint(*d.RngSeed)))
	}
	fields = append(fields, codec.Field(2, codec.Uint(d.BatchSize)))
	if len(d.Flags) > 0 {
		arr := make(codec.Array, len(d.Flags))
		for i, f := range d.Flags {
			arr[i] = codec.Array{codec.Text(f.Key), codec.Text(f.Value)}
		}
		fields = append(fields, codec.Field(3, arr))
	}
	return fields
}

func determinismConfigFromValue(v codec.Value) (DeterminismConfig, error) {
	m, ok := v.(codec.Map)
	if !ok {
		return DeterminismConfig{}, sentinelerr.New(sentinelerr.KindDecodeError, "inference_config not a map")
	}
	var d DeterminismConfig
	if v, ok := m.Get(1); ok {
		u, ok := v.(codec.Uint)
		if !ok {
			return DeterminismConfig{}, sentinelerr.New(sentinelerr.KindDecodeError, "rng_seed not uint")
		}
		seed := uint64(u)
		d.RngSeed = &seed
	}
	bs, ok := m.Get(2)
	if !ok {
		return DeterminismConfig{}, sentinelerr.New(sentinelerr.KindDecodeError, "inference_config missing batch_size")
	}
	bsUint, ok := bs.(codec.Uint)
	if !ok {
		return DeterminismConfig{}, sentinelerr.New(sentinelerr.KindDecodeError, "batch_size not uint")
	}
	d.BatchSize = uint64(bsUint)

	if v, ok := m.Get(3); ok {
		arr, ok := v.(codec.Array)
		if !ok {
			return DeterminismConfig{}, sentinelerr.New(sentinelerr.KindDecodeError, "flags not an array")
		}
		for _, item := range arr {
			pair, ok := item.(codec.Array)
			if !ok || len(pair) != 2 {
				return DeterminismConfig{}, sentinelerr.New(sentinelerr.KindDecodeError, "flags entry malformed")
			}
			k, ok := pair[0].(codec.Text)
			if !ok {
				return DeterminismConfig{}, sentinelerr.New(sentinelerr.KindDecodeError, "flags key not text")
			}
			val, ok := pair[1].(codec.Text)
			if !ok {
				return DeterminismConfig{}, sentinelerr.New(sentinelerr.KindDecodeError, "flags value not text")
			}
			d.Flags = append(d.Flags, Flag{Key: string(k), Value: string(val)})
		}
	}
	return d, nil
}

// Checkpoint is the 15-field central record (spec.md §3). Field numbering
// is contractual and mirrored exactly by toUnsignedValue/FromBytes.
type Checkpoint struct {
	Version            uint64
	RobotID            string
	MissionID          string
	Sequence           uint64
	MonotonicCounter   uint64
	PrevRoot           Hash256
	EntriesRoot        Hash256
	EnclaveMeasurement []byte
	FirmwareHash       Hash256
	ModelProvenance    ModelProvenance
	InferenceConfig    DeterminismConfig
	TrustMode          TrustMode
	AttestationQuote   []byte // nil means absent
	CreatedAt          uint64
	Signature          []byte // 64 bytes, EdDSA over canonical(fields 1..14)
}

// toUnsignedValue builds the canonical Map over fields 1..14 — the exact
// payload that is hashed and signed.
func (c Checkpoint) toUnsignedValue() codec.Value {
	fields := codec.Map{
		codec.Field(1, codec.Uint(c.Version)),
		codec.Field(2, codec.Text(c.RobotID)),
		codec.Field(3, codec.Text(c.MissionID)),
		codec.Field(4, codec.Uint(c.Sequence)),
		codec.Field(5, codec.Uint(c.MonotonicCounter)),
		codec.Field(6, codec.Bytes(c.PrevRoot[:])),
		codec.Field(7, codec.Bytes(c.EntriesRoot[:])),
		codec.Field(8, codec.Bytes(c.EnclaveMeasurement)),
		codec.Field(9, codec.Bytes(c.FirmwareHash[:])),
		codec.Field(10, c.ModelProvenance.toValue()),
		codec.Field(11, c.InferenceConfig.toValue()),
		codec.Field(12, codec.Uint(uint64(c.TrustMode))),
	}
	if c.AttestationQuote != nil {
		fields = append(fields, codec.Field(13, codec.Bytes(c.AttestationQuote)))
	}
	fields = append(fields, codec.Field(14, codec.Uint(c.CreatedAt)))
	return fields
}

// CanonicalUnsignedBytes returns the exact bytes that are hashed and signed.
func (c Checkpoint) CanonicalUnsignedBytes() []byte {
	return codec.Encode(c.toUnsignedValue())
}

// Hash returns content_hash(canonical(fields 1..14)) — the value the next
// checkpoint's prev_root must equal.
func (c Checkpoint) Hash() Hash256 {
	return xhash.ContentHash(c.CanonicalUnsignedBytes())
}

// ToBytes encodes the full 15-field wire record, including the signature.
func (c Checkpoint) ToBytes() []byte {
	unsigned := c.toUnsignedValue().(codec.Map)
	full := append(codec.Map{}, unsigned...)
	full = append(full, codec.Field(15, codec.Bytes(c.Signature)))
	return codec.Encode(full)
}

// FromBytes decodes a Checkpoint from its canonical wire encoding, rejecting
// non-canonical input outright (spec.md §4.4 verifier step 1).
func FromBytes(b []byte) (Checkpoint, error) {
	if !codec.IsCanonical(b) {
		return Checkpoint{}, sentinelerr.New(sentinelerr.KindNonCanonical, "checkpoint bytes not canonical")
	}
	v, err := codec.Decode(b)
	if err != nil {
		return Checkpoint{}, sentinelerr.Wrap(sentinelerr.KindDecodeError, "decode checkpoint", err)
	}
	m, ok := v.(codec.Map)
	if !ok {
		return Checkpoint{}, sentinelerr.New(sentinelerr.KindDecodeError, "checkpoint root is not a map")
	}

	var c Checkpoint
	get := func(n uint64) (codec.Value, error) {
		val, ok := m.Get(n)
		if !ok {
			return nil, sentinelerr.New(sentinelerr.KindDecodeError, "checkpoint missing required field")
		}
		return val, nil
	}

	if v, err := get(1); err != nil {
		return Checkpoint{}, err
	} else if u, ok := v.(codec.Uint); ok {
		c.Version = uint64(u)
	} else {
		return Checkpoint{}, sentinelerr.New(sentinelerr.KindDecodeError, "version not uint")
	}

	if v, err := get(2); err != nil {
		return Checkpoint{}, err
	} else if t, ok := v.(codec.Text); ok {
		c.RobotID = string(t)
	} else {
		return Checkpoint{}, sentinelerr.New(sentinelerr.KindDecodeError, "robot_id not text")
	}

	if v, err := get(3); err != nil {
		return Checkpoint{}, err
	} else if t, ok := v.(codec.Text); ok {
		c.MissionID = string(t)
	} else {
		return Checkpoint{}, sentinelerr.New(sentinelerr.KindDecodeError, "mission_id not text")
	}

	if v, err := get(4); err != nil {
		return Checkpoint{}, err
	} else if u, ok := v.(codec.Uint); ok {
		c.Sequence = uint64(u)
	} else {
		return Checkpoint{}, sentinelerr.New(sentinelerr.KindDecodeError, "sequence not uint")
	}

	if v, err := get(5); err != nil {
		return Checkpoint{}, err
	} else if u, ok := v.(codec.Uint); ok {
		c.MonotonicCounter = uint64(u)
	} else {
		return Checkpoint{}, sentinelerr.New(sentinelerr.KindDecodeError, "monotonic_counter not uint")
	}

	if v, err := get(6); err != nil {
		return Checkpoint{}, err
	} else if b, ok := v.(codec.Bytes); ok && len(b) == 32 {
		copy(c.PrevRoot[:], b)
	} else {
		return Checkpoint{}, sentinelerr.New(sentinelerr.KindDecodeError, "prev_root malformed")
	}

	if v, err := get(7); err != nil {
		return Checkpoint{}, err
	} else if b, ok := v.(codec.Bytes); ok && len(b) == 32 {
		copy(c.EntriesRoot[:], b)
	} else {
		return Checkpoint{}, sentinelerr.New(sentinelerr.KindDecodeError, "entries_root malformed")
	}

	if v, err := get(8); err != nil {
		return Checkpoint{}, err
	} else if b, ok := v.(codec.Bytes); ok {
		c.EnclaveMeasurement = []byte(b)
	} else {
		return Checkpoint{}, sentinelerr.New(sentinelerr.KindDecodeError, "enclave_measurement not bytes")
	}

	if v, err := get(9); err != nil {
		return Checkpoint{}, err
	} else if b, ok := v.(codec.Bytes); ok && len(b) == 32 {
		copy(c.FirmwareHash[:], b)
	} else {
		return Checkpoint{}, sentinelerr.New(sentinelerr.KindDecodeError, "firmware_hash malformed")
	}

	if v, err := get(10); err != nil {
		return Checkpoint{}, err
	} else if mp, err := modelProvenanceFromValue(v); err != nil {
		return Checkpoint{}, err
	} else {
		c.ModelProvenance = mp
	}

	if v, err := get(11); err != nil {
		return Checkpoint{}, err
	} else if dc, err := determinismConfigFromValue(v); err != nil {
		return Checkpoint{}, err
	} else {
		c.InferenceConfig = dc
	}

	if v, err := get(12); err != nil {
		return Checkpoint{}, err
	} else if u, ok := v.(codec.Uint); ok {
		c.TrustMode = TrustMode(u)
	} else {
		return Checkpoint{}, sentinelerr.New(sentinelerr.KindDecodeError, "trust_mode not uint")
	}

	if v, ok := m.Get(13); ok {
		b, ok := v.(codec.Bytes)
		if !ok {
			return Checkpoint{}, sentinelerr.New(sentinelerr.KindDecodeError, "attestation_quote not bytes")
		}
		c.AttestationQuote = []byte(b)
	}

	if v, err := get(14); err != nil {
		return Checkpoint{}, err
	} else if u, ok := v.(codec.Uint); ok {
		c.CreatedAt = uint64(u)
	} else {
		return Checkpoint{}, sentinelerr.New(sentinelerr.KindDecodeError, "created_at not uint")
	}

	if v, err := get(15); err != nil {
		return Checkpoint{}, err
	} else if b, ok := v.(codec.Bytes); ok {
		c.Signature = []byte(b)
	} else {
		return Checkpoint{}, sentinelerr.New(sentinelerr.KindDecodeError, "signature not bytes")
	}

	return c, nil
}

// VerifySignature recomputes canonical(fields 1..14) and checks c.Signature
// against pub.
func (c Checkpoint) VerifySignature(pub ed25519.PublicKey) bool {
	return xhash.Verify(pub, c.CanonicalUnsignedBytes(), c.Signature)
}

func measurementLenValid(vendorTag string, measurement []byte) bool {
	switch vendorTag {
	case "intel-sgx":
		return len(measurement) == MeasurementLenSGX
	case "intel-tdx":
		return len(measurement) == MeasurementLenTDX
	case "aws-nitro":
		return len(measurement) == MeasurementLenNitro
	default:
		// Unknown vendor shapes are accepted at this layer; the attestation
		// adapter registry is the authority on UnsupportedVendor, not the
		// checkpoint builder.
		return len(measurement) > 0
	}
}

func validUTF8WithinBounds(s string, maxLen int) bool {
	return utf8.ValidString(s) && len(s) <= maxLen
}
