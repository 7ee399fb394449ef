// Package registry implements the ledger-resident state machine that
// governance and gateways share: model registration, checkpoint anchoring,
// and enclave/model revocation, each change strictly sequenced as
// check-preconditions -> update-state -> emit-event (spec.md §4.6).
package registry

import (
	"sync"

	"k8s.io/klog/v2"

	"github.com/tala-robotics/sentinel/internal/sentinelerr"
	"github.com/tala-robotics/sentinel/internal/xhash"
)

// modelRecord is a registered model's ledger-resident state.
type modelRecord struct {
	name            string
	datasetHash     *Hash256
	containerDigest string
	hasSignature    bool
	revoked         bool
}

// anchorRecord is one anchored checkpoint's ledger-resident state.
type anchorRecord struct {
	merkleRoot         Hash256
	enclaveMeasurement []byte
	vendorTag          string
	gateway            string
	gatewaySignature   []byte
	blockTime          uint64
	checkpointCounter  uint64
}

// Registry is the single-process in-memory ledger. A production deployment
// would back this with a real consensus ledger; this implementation keeps
// the same operation surface and sequencing discipline a ledger-backed one
// would need, so the contract can be swapped in without touching callers.
type Registry struct {
	mu sync.Mutex

	sink EventSink

	models            map[Hash256]*modelRecord
	anchors           map[Hash256]*anchorRecord
	revokedEnclaves   map[string]string // hex measurement -> reason
	gateways          map[string]bool
	checkpointCounter uint64
}

// New builds an empty Registry. sink receives every emitted Event; pass
// NullSink{} if the caller has no use for the event stream.
func New(sink EventSink) *Registry {
	if sink == nil {
		sink = NullSink{}
	}
	return &Registry{
		sink:            sink,
		models:          make(map[Hash256]*modelRecord),
		anchors:         make(map[Hash256]*anchorRecord),
		revokedEnclaves: make(map[string]string),
		gateways:        make(map[string]bool),
	}
}

func measurementKey(measurement []byte) string {
	return string(measurement)
}

func unauthorized(subject Subject, action Action, d Decision) error {
	return &sentinelerr.Error{Kind: sentinelerr.KindUnauthorized, Msg: d.Reason}
}

// RegisterModelInput describes a model registration request.
type RegisterModelInput struct {
	ModelHash       Hash256
	Name            string
	DatasetHash     *Hash256
	ContainerDigest string
	HasSignature    bool
}

// RegisterModel adds a model to the registry. Open to any caller
// (ActionRegisterModel carries no required role).
func (r *Registry) RegisterModel(subject Subject, in RegisterModelInput) error {
	d := authorize(subject, ActionRegisterModel)
	if !d.Allow {
		return unauthorized(subject, ActionRegisterModel, d)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[in.ModelHash]; exists {
		return sentinelerr.New(sentinelerr.KindAlreadyExists, "model already registered")
	}

	r.models[in.ModelHash] = &modelRecord{
		name:            in.Name,
		datasetHash:     in.DatasetHash,
		containerDigest: in.ContainerDigest,
		hasSignature:    in.HasSignature,
	}

	r.sink.Emit(ModelRegistered{
		ModelHash:       in.ModelHash,
		Name:            in.Name,
		DatasetHash:     in.DatasetHash,
		ContainerDigest: in.ContainerDigest,
		HasSignature:    in.HasSignature,
	})
	return nil
}

// RevokeModel marks a model revoked. Requires RoleGovernance.
func (r *Registry) RevokeModel(subject Subject, modelHash Hash256) error {
	d := authorize(subject, ActionRevokeModel)
	if !d.Allow {
		return unauthorized(subject, ActionRevokeModel, d)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.models[modelHash]
	if !ok {
		return sentinelerr.New(sentinelerr.KindNotFound, "model not registered")
	}
	m.revoked = true

	r.sink.Emit(ModelRevoked{ModelHash: modelHash})
	return nil
}

// ReinstateModel clears a model's revoked flag. Requires RoleGovernance.
func (r *Registry) ReinstateModel(subject Subject, modelHash Hash256) error {
	d := authorize(subject, ActionReinstateModel)
	if !d.Allow {
		return unauthorized(subject, ActionReinstateModel, d)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.models[modelHash]
	if !ok {
		return sentinelerr.New(sentinelerr.KindNotFound, "model not registered")
	}
	m.revoked = false

	r.sink.Emit(ModelReinstated{ModelHash: modelHash})
	return nil
}

// IsModelRevoked reports whether modelHash is currently revoked. Unregistered
// models are not revoked — they are simply unknown to this registry.
func (r *Registry) IsModelRevoked(modelHash Hash256) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[modelHash]
	return ok && m.revoked
}

// AnchorCheckpointInput describes a checkpoint to anchor. GatewaySignature
// is the submitting gateway's signature over the anchor record, ties the
// anchor non-repudiably to the specific gateway that submitted it, and is
// carried into the ledger-resident AnchorRecord unchanged (spec.md §3, §4.6)
// — this registry does not itself validate it against a gateway key, since
// spec.md §4.6 names the field but not a verification key source.
type AnchorCheckpointInput struct {
	MerkleRoot         Hash256
	EnclaveMeasurement []byte
	VendorTag          string
	Gateway            string
	GatewaySignature   []byte
	BlockTime          uint64
}

// AnchorDigest computes the content hash a gateway signs to produce
// AnchorCheckpointInput.GatewaySignature: content_hash(merkle_root ||
// enclave_measurement || vendor_tag || gateway || block_time). It excludes
// checkpoint_counter, which the registry only assigns once AnchorCheckpoint
// runs, so a gateway can sign before submitting rather than after.
func AnchorDigest(merkleRoot Hash256, measurement []byte, vendorTag, gateway string, blockTime uint64) Hash256 {
	buf := make([]byte, 0, 32+len(measurement)+len(vendorTag)+len(gateway)+8)
	buf = append(buf, merkleRoot[:]...)
	buf = append(buf, measurement...)
	buf = append(buf, []byte(vendorTag)...)
	buf = append(buf, []byte(gateway)...)
	buf = appendUint64(buf, blockTime)
	return xhash.ContentHash(buf)
}

// AnchorCheckpoint records a verified checkpoint's Merkle root against an
// ever-increasing counter, returning the checkpoint_id the ledger assigned
// it: content_hash(merkle_root || enclave_measurement || gateway ||
// block_time || checkpoint_counter). Rejects a zero merkle_root, a zero
// enclave_measurement, or a revoked enclave_measurement. Requires
// RoleGateway.
func (r *Registry) AnchorCheckpoint(subject Subject, in AnchorCheckpointInput) (Hash256, error) {
	d := authorize(subject, ActionAnchorCheckpoint)
	if !d.Allow {
		return Hash256{}, unauthorized(subject, ActionAnchorCheckpoint, d)
	}

	if in.MerkleRoot == (Hash256{}) {
		return Hash256{}, sentinelerr.New(sentinelerr.KindInvalidInput, "merkle_root must not be zero")
	}
	if len(in.EnclaveMeasurement) == 0 || allZero(in.EnclaveMeasurement) {
		return Hash256{}, sentinelerr.New(sentinelerr.KindInvalidInput, "enclave_measurement must not be zero")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, revoked := r.revokedEnclaves[measurementKey(in.EnclaveMeasurement)]; revoked {
		return Hash256{}, sentinelerr.New(sentinelerr.KindEnclaveRevoked, "enclave measurement is revoked")
	}

	counter := r.checkpointCounter
	r.checkpointCounter++

	id := checkpointID(in.MerkleRoot, in.EnclaveMeasurement, in.Gateway, in.BlockTime, counter)
	if _, exists := r.anchors[id]; exists {
		return Hash256{}, sentinelerr.New(sentinelerr.KindAlreadyExists, "checkpoint already anchored")
	}

	r.anchors[id] = &anchorRecord{
		merkleRoot:         in.MerkleRoot,
		enclaveMeasurement: in.EnclaveMeasurement,
		vendorTag:          in.VendorTag,
		gateway:            in.Gateway,
		gatewaySignature:   in.GatewaySignature,
		blockTime:          in.BlockTime,
		checkpointCounter:  counter,
	}

	r.sink.Emit(CheckpointAnchored{
		CheckpointID:       id,
		MerkleRoot:         in.MerkleRoot,
		EnclaveMeasurement: in.EnclaveMeasurement,
		VendorTag:          in.VendorTag,
		Gateway:            in.Gateway,
		GatewaySignature:   in.GatewaySignature,
		BlockTime:          in.BlockTime,
		CheckpointCounter:  counter,
	})
	return id, nil
}

// allZero reports whether every byte of b is zero.
func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func checkpointID(merkleRoot Hash256, measurement []byte, gateway string, blockTime, counter uint64) Hash256 {
	buf := make([]byte, 0, 32+len(measurement)+len(gateway)+16)
	buf = append(buf, merkleRoot[:]...)
	buf = append(buf, measurement...)
	buf = append(buf, []byte(gateway)...)
	buf = appendUint64(buf, blockTime)
	buf = appendUint64(buf, counter)
	return xhash.ContentHash(buf)
}

func appendUint64(buf []byte, v uint64) []byte {
	for i := 7; i >= 0; i-- {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}

// VerifyCheckpoint reports whether id is anchored and not currently subject
// to revocation through its enclave measurement. Unauthenticated, pure read
// (ActionVerifyCheckpoint carries no required role) — this is the testable
// revocation-monotonicity surface: once true-then-false for a given id, it
// never flips back to true except via an explicit ReinstateEnclave.
func (r *Registry) VerifyCheckpoint(subject Subject, id Hash256) (bool, error) {
	d := authorize(subject, ActionVerifyCheckpoint)
	if !d.Allow {
		return false, unauthorized(subject, ActionVerifyCheckpoint, d)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	anchor, ok := r.anchors[id]
	if !ok {
		return false, nil
	}
	if _, revoked := r.revokedEnclaves[measurementKey(anchor.enclaveMeasurement)]; revoked {
		return false, nil
	}
	return true, nil
}

// IsEnclaveRevoked reports whether measurement is currently revoked.
func (r *Registry) IsEnclaveRevoked(measurement []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, revoked := r.revokedEnclaves[measurementKey(measurement)]
	return revoked
}

// EmergencyRevokeEnclave marks every checkpoint anchored under measurement
// as no longer verifiable. Requires RoleGovernance.
func (r *Registry) EmergencyRevokeEnclave(subject Subject, measurement []byte, reason string) error {
	d := authorize(subject, ActionRevokeEnclave)
	if !d.Allow {
		return unauthorized(subject, ActionRevokeEnclave, d)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.revokedEnclaves[measurementKey(measurement)] = reason
	klog.ErrorS(nil, "enclave revoked", "measurement", measurementKey(measurement), "reason", reason)

	r.sink.Emit(EnclaveRevoked{Measurement: measurement, Reason: reason})
	return nil
}

// ReinstateEnclave clears a prior EmergencyRevokeEnclave. Requires
// RoleGovernance.
func (r *Registry) ReinstateEnclave(subject Subject, measurement []byte) error {
	d := authorize(subject, ActionReinstateEnclave)
	if !d.Allow {
		return unauthorized(subject, ActionReinstateEnclave, d)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.revokedEnclaves, measurementKey(measurement))

	r.sink.Emit(EnclaveReinstated{Measurement: measurement})
	return nil
}

// AddGateway adds addr to the registry's gateway set (see IsGateway).
// Requires RoleGovernance. AnchorCheckpoint authorizes callers by
// RoleGateway alone and does not consult this set.
func (r *Registry) AddGateway(subject Subject, addr string) error {
	d := authorize(subject, ActionManageGateways)
	if !d.Allow {
		return unauthorized(subject, ActionManageGateways, d)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.gateways[addr] = true

	r.sink.Emit(GatewayAdded{Addr: addr})
	return nil
}

// RemoveGateway removes addr from the gateway set. Requires RoleGovernance.
func (r *Registry) RemoveGateway(subject Subject, addr string) error {
	d := authorize(subject, ActionManageGateways)
	if !d.Allow {
		return unauthorized(subject, ActionManageGateways, d)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.gateways, addr)

	r.sink.Emit(GatewayRemoved{Addr: addr})
	return nil
}

// IsGateway reports whether addr is currently in the gateway set.
func (r *Registry) IsGateway(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gateways[addr]
}
