package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tala-robotics/sentinel/internal/sentinelerr"
)

func hashOf(b byte) Hash256 {
	var h Hash256
	h[0] = b
	return h
}

func anyCaller() Subject { return Subject{ID: "anonymous"} }

func governor() Subject { return Subject{ID: "gov-1", Roles: []Role{RoleGovernance}} }

func gateway() Subject { return Subject{ID: "gw-1", Roles: []Role{RoleGateway}} }

func TestRegisterModelAnyCaller(t *testing.T) {
	reg := New(nil)
	err := reg.RegisterModel(anyCaller(), RegisterModelInput{ModelHash: hashOf(1), Name: "vision-v1"})
	require.NoError(t, err)
	require.False(t, reg.IsModelRevoked(hashOf(1)))
}

func TestRegisterModelDuplicateRejected(t *testing.T) {
	reg := New(nil)
	require.NoError(t, reg.RegisterModel(anyCaller(), RegisterModelInput{ModelHash: hashOf(1)}))
	err := reg.RegisterModel(anyCaller(), RegisterModelInput{ModelHash: hashOf(1)})
	require.Error(t, err)
	require.Equal(t, sentinelerr.KindAlreadyExists, sentinelerr.KindOf(err))
}

func TestRevokeModelRequiresGovernance(t *testing.T) {
	reg := New(nil)
	require.NoError(t, reg.RegisterModel(anyCaller(), RegisterModelInput{ModelHash: hashOf(1)}))

	err := reg.RevokeModel(anyCaller(), hashOf(1))
	require.Error(t, err)
	require.Equal(t, sentinelerr.KindUnauthorized, sentinelerr.KindOf(err))
	require.False(t, reg.IsModelRevoked(hashOf(1)))

	require.NoError(t, reg.RevokeModel(governor(), hashOf(1)))
	require.True(t, reg.IsModelRevoked(hashOf(1)))
}

func TestReinstateModelClearsRevocation(t *testing.T) {
	reg := New(nil)
	require.NoError(t, reg.RegisterModel(anyCaller(), RegisterModelInput{ModelHash: hashOf(1)}))
	require.NoError(t, reg.RevokeModel(governor(), hashOf(1)))
	require.True(t, reg.IsModelRevoked(hashOf(1)))

	require.NoError(t, reg.ReinstateModel(governor(), hashOf(1)))
	require.False(t, reg.IsModelRevoked(hashOf(1)))
}

func TestAnchorCheckpointRequiresGateway(t *testing.T) {
	reg := New(nil)
	in := AnchorCheckpointInput{
		MerkleRoot:         hashOf(9),
		EnclaveMeasurement: []byte("measurement-a"),
		VendorTag:          "intel-sgx",
		Gateway:            "gw-1",
		BlockTime:          100,
	}

	_, err := reg.AnchorCheckpoint(anyCaller(), in)
	require.Error(t, err)
	require.Equal(t, sentinelerr.KindUnauthorized, sentinelerr.KindOf(err))

	id, err := reg.AnchorCheckpoint(gateway(), in)
	require.NoError(t, err)
	require.NotEqual(t, Hash256{}, id)
}

func TestAnchorCheckpointCounterIsMonotonic(t *testing.T) {
	reg := New(nil)
	in := AnchorCheckpointInput{
		MerkleRoot:         hashOf(9),
		EnclaveMeasurement: []byte("measurement-a"),
		Gateway:            "gw-1",
		BlockTime:          100,
	}

	id1, err := reg.AnchorCheckpoint(gateway(), in)
	require.NoError(t, err)

	in.BlockTime = 101
	id2, err := reg.AnchorCheckpoint(gateway(), in)
	require.NoError(t, err)

	require.NotEqual(t, id1, id2, "distinct checkpoint_counter values must produce distinct checkpoint ids")
}

func TestAnchorCheckpointRejectsZeroMerkleRoot(t *testing.T) {
	reg := New(nil)
	_, err := reg.AnchorCheckpoint(gateway(), AnchorCheckpointInput{
		MerkleRoot:         Hash256{},
		EnclaveMeasurement: []byte("measurement-a"),
		Gateway:            "gw-1",
		BlockTime:          100,
	})
	require.Error(t, err)
	require.Equal(t, sentinelerr.KindInvalidInput, sentinelerr.KindOf(err))
}

func TestAnchorCheckpointRejectsZeroEnclaveMeasurement(t *testing.T) {
	reg := New(nil)
	_, err := reg.AnchorCheckpoint(gateway(), AnchorCheckpointInput{
		MerkleRoot:         hashOf(9),
		EnclaveMeasurement: nil,
		Gateway:            "gw-1",
		BlockTime:          100,
	})
	require.Error(t, err)
	require.Equal(t, sentinelerr.KindInvalidInput, sentinelerr.KindOf(err))

	_, err = reg.AnchorCheckpoint(gateway(), AnchorCheckpointInput{
		MerkleRoot:         hashOf(9),
		EnclaveMeasurement: make([]byte, 32),
		Gateway:            "gw-1",
		BlockTime:          100,
	})
	require.Error(t, err)
	require.Equal(t, sentinelerr.KindInvalidInput, sentinelerr.KindOf(err))
}

func TestAnchorCheckpointCarriesGatewaySignature(t *testing.T) {
	sink := &RecordingSink{}
	reg := New(sink)

	_, err := reg.AnchorCheckpoint(gateway(), AnchorCheckpointInput{
		MerkleRoot:         hashOf(9),
		EnclaveMeasurement: []byte("measurement-a"),
		Gateway:            "gw-1",
		GatewaySignature:   []byte("sig-bytes"),
		BlockTime:          100,
	})
	require.NoError(t, err)
	require.Len(t, sink.Events, 1)

	anchored, ok := sink.Events[0].(CheckpointAnchored)
	require.True(t, ok)
	require.Equal(t, []byte("sig-bytes"), anchored.GatewaySignature)
}

func TestAnchorCheckpointRejectsRevokedEnclave(t *testing.T) {
	reg := New(nil)
	measurement := []byte("measurement-a")
	require.NoError(t, reg.EmergencyRevokeEnclave(governor(), measurement, "compromised signing key"))

	_, err := reg.AnchorCheckpoint(gateway(), AnchorCheckpointInput{
		MerkleRoot:         hashOf(9),
		EnclaveMeasurement: measurement,
		Gateway:            "gw-1",
		BlockTime:          100,
	})
	require.Error(t, err)
	require.Equal(t, sentinelerr.KindEnclaveRevoked, sentinelerr.KindOf(err))
}

// TestRevocationMonotonicity is the registry's core testable property
// (spec.md §4.6): once a checkpoint is anchored and then its enclave is
// revoked, VerifyCheckpoint must never report true for that checkpoint
// again until an explicit ReinstateEnclave — it never flips back to true
// on its own.
func TestRevocationMonotonicity(t *testing.T) {
	reg := New(nil)
	measurement := []byte("measurement-a")

	id, err := reg.AnchorCheckpoint(gateway(), AnchorCheckpointInput{
		MerkleRoot:         hashOf(9),
		EnclaveMeasurement: measurement,
		Gateway:            "gw-1",
		BlockTime:          100,
	})
	require.NoError(t, err)

	ok, err := reg.VerifyCheckpoint(anyCaller(), id)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, reg.EmergencyRevokeEnclave(governor(), measurement, "key compromise"))

	ok, err = reg.VerifyCheckpoint(anyCaller(), id)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, reg.ReinstateEnclave(governor(), measurement))

	ok, err = reg.VerifyCheckpoint(anyCaller(), id)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyCheckpointUnknownIDIsFalseNotError(t *testing.T) {
	reg := New(nil)
	ok, err := reg.VerifyCheckpoint(anyCaller(), hashOf(42))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIsEnclaveRevoked(t *testing.T) {
	reg := New(nil)
	require.False(t, reg.IsEnclaveRevoked([]byte("measurement-a")))
	require.NoError(t, reg.EmergencyRevokeEnclave(governor(), []byte("measurement-a"), "reason"))
	require.True(t, reg.IsEnclaveRevoked([]byte("measurement-a")))
}

func TestEmergencyRevokeEnclaveRequiresGovernance(t *testing.T) {
	reg := New(nil)
	err := reg.EmergencyRevokeEnclave(gateway(), []byte("measurement-a"), "reason")
	require.Error(t, err)
	require.Equal(t, sentinelerr.KindUnauthorized, sentinelerr.KindOf(err))
}

func TestManageGatewaysRequiresGovernance(t *testing.T) {
	reg := New(nil)
	err := reg.AddGateway(gateway(), "10.0.0.1:9443")
	require.Error(t, err)
	require.Equal(t, sentinelerr.KindUnauthorized, sentinelerr.KindOf(err))

	require.NoError(t, reg.AddGateway(governor(), "10.0.0.1:9443"))
	require.True(t, reg.IsGateway("10.0.0.1:9443"))

	require.NoError(t, reg.RemoveGateway(governor(), "10.0.0.1:9443"))
	require.False(t, reg.IsGateway("10.0.0.1:9443"))
}

func TestEventsEmittedInOrder(t *testing.T) {
	sink := &RecordingSink{}
	reg := New(sink)

	require.NoError(t, reg.RegisterModel(anyCaller(), RegisterModelInput{ModelHash: hashOf(1), Name: "vision-v1"}))
	require.NoError(t, reg.RevokeModel(governor(), hashOf(1)))

	require.Len(t, sink.Events, 2)
	require.Equal(t, "ModelRegistered", sink.Events[0].Kind())
	require.Equal(t, "ModelRevoked", sink.Events[1].Kind())
}
