package registry

import "github.com/tala-robotics/sentinel/internal/xhash"

// Hash256 is the registry's 256-bit hash type, shared with checkpoint and
// merklelog via the same underlying xhash.Digest256.
type Hash256 = xhash.Digest256

// Event is the sole integration surface for indexers (spec.md §4.6):
// every state-changing operation emits exactly one Event carrying its full
// semantic payload, never just an ID.
type Event interface {
	Kind() string
}

// EventSink receives events as they are emitted. Registry never makes an
// external call mid-transition; Emit is invoked only after state has
// already been durably updated in memory.
type EventSink interface {
	Emit(Event)
}

// ModelRegistered is emitted by RegisterModel.
type ModelRegistered struct {
	ModelHash       Hash256
	Name            string
	DatasetHash     *Hash256
	ContainerDigest string
	HasSignature    bool
}

func (ModelRegistered) Kind() string { return "ModelRegistered" }

// ModelRevoked is emitted by RevokeModel.
type ModelRevoked struct {
	ModelHash Hash256
}

func (ModelRevoked) Kind() string { return "ModelRevoked" }

// ModelReinstated is emitted by ReinstateModel.
type ModelReinstated struct {
	ModelHash Hash256
}

func (ModelReinstated) Kind() string { return "ModelReinstated" }

// CheckpointAnchored is emitted by AnchorCheckpoint.
type CheckpointAnchored struct {
	CheckpointID       Hash256
	MerkleRoot         Hash256
	EnclaveMeasurement []byte
	VendorTag          string
	Gateway            string
	GatewaySignature   []byte
	BlockTime          uint64
	CheckpointCounter  uint64
}

func (CheckpointAnchored) Kind() string { return "CheckpointAnchored" }

// EnclaveRevoked is emitted by EmergencyRevokeEnclave.
type EnclaveRevoked struct {
	Measurement []byte
	Reason      string
}

func (EnclaveRevoked) Kind() string { return "EnclaveRevoked" }

// EnclaveReinstated is emitted by ReinstateEnclave.
type EnclaveReinstated struct {
	Measurement []byte
}

func (EnclaveReinstated) Kind() string { return "EnclaveReinstated" }

// GatewayAdded/GatewayRemoved are emitted by AddGateway/RemoveGateway.
type GatewayAdded struct {
	Addr string
}

func (GatewayAdded) Kind() string { return "GatewayAdded" }

type GatewayRemoved struct {
	Addr string
}

func (GatewayRemoved) Kind() string { return "GatewayRemoved" }

// NullSink discards every event; useful for tests that don't care about
// the event stream.
type NullSink struct{}

func (NullSink) Emit(Event) {}

// RecordingSink appends every event in emission order, for assertions in
// tests.
type RecordingSink struct {
	Events []Event
}

func (s *RecordingSink) Emit(e Event) {
	s.Events = append(s.Events, e)
}
