package checkpoint

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tala-robotics/sentinel/internal/sentinelerr"
	"github.com/tala-robotics/sentinel/internal/xhash"
)

type fakeRevocation struct {
	revokedEnclaves map[string]bool
	revokedModels   map[Hash256]bool
}

func newFakeRevocation() *fakeRevocation {
	return &fakeRevocation{revokedEnclaves: map[string]bool{}, revokedModels: map[Hash256]bool{}}
}

func (f *fakeRevocation) IsEnclaveRevoked(measurement []byte) (bool, error) {
	return f.revokedEnclaves[string(measurement)], nil
}

func (f *fakeRevocation) IsModelRevoked(modelHash Hash256) (bool, error) {
	return f.revokedModels[modelHash], nil
}

type fakeKeyResolver struct {
	pub ed25519.PublicKey
}

func (f *fakeKeyResolver) PublicKeyFor(measurement []byte) (ed25519.PublicKey, error) {
	return f.pub, nil
}

func measurement32() []byte {
	m := make([]byte, 32)
	for i := range m {
		m[i] = byte(i)
	}
	return m
}

func buildGenesis(t *testing.T, signer xhash.Signer, counters CounterStore, robotID string) Checkpoint {
	c, err := NewBuilder(counters, signer).
		RobotID(robotID).
		MissionID("M-1").
		Sequence(1).
		PrevRoot(Hash256{}).
		EntriesRoot(Hash256{}).
		EnclaveMeasurement(measurement32()).
		VendorTag("intel-sgx").
		FirmwareHash(Hash256{}).
		ModelProvenance(ModelProvenance{Name: "model-v1", ModelHash: Hash256{1}}).
		InferenceConfig(DeterminismConfig{BatchSize: 8}).
		TrustMode(Permissive).
		CreatedAt(1000).
		BuildAndSign(1)
	require.NoError(t, err)
	return c
}

func TestScenarioGenesisAcceptance(t *testing.T) {
	signer, pub, err := xhash.GenerateSigner()
	require.NoError(t, err)
	counters := NewInMemoryCounterStore()

	ck1 := buildGenesis(t, signer, counters, "R-001")

	verifier := NewVerifier(4, newFakeRevocation(), &fakeKeyResolver{pub: pub})
	defer verifier.Close()

	decision := verifier.Verify(context.Background(), ck1)
	require.Equal(t, Accepted, decision.Outcome)

	lifecycle, known, err := verifier.State(context.Background(), "R-001")
	require.NoError(t, err)
	require.True(t, known)
	require.Equal(t, Active, lifecycle)
}

func TestScenarioHappyPathChain(t *testing.T) {
	signer, pub, err := xhash.GenerateSigner()
	require.NoError(t, err)
	counters := NewInMemoryCounterStore()

	ck1 := buildGenesis(t, signer, counters, "R-001")

	verifier := NewVerifier(4, newFakeRevocation(), &fakeKeyResolver{pub: pub})
	defer verifier.Close()

	require.Equal(t, Accepted, verifier.Verify(context.Background(), ck1).Outcome)

	ck2, err := NewBuilder(counters, signer).
		RobotID("R-001").
		MissionID("M-1").
		Sequence(2).
		PrevRoot(ck1.Hash()).
		EntriesRoot(Hash256{}).
		EnclaveMeasurement(measurement32()).
		VendorTag("intel-sgx").
		FirmwareHash(Hash256{}).
		ModelProvenance(ModelProvenance{Name: "model-v1", ModelHash: Hash256{1}}).
		InferenceConfig(DeterminismConfig{BatchSize: 8}).
		TrustMode(Permissive).
		CreatedAt(2000).
		BuildAndSign(2)
	require.NoError(t, err)

	decision := verifier.Verify(context.Background(), ck2)
	require.Equal(t, Accepted, decision.Outcome)
}

func TestScenarioRollbackRejection(t *testing.T) {
	signer, pub, err := xhash.GenerateSigner()
	require.NoError(t, err)
	counters := NewInMemoryCounterStore()

	ck1 := buildGenesis(t, signer, counters, "R-001")

	verifier := NewVerifier(4, newFakeRevocation(), &fakeKeyResolver{pub: pub})
	defer verifier.Close()

	require.Equal(t, Accepted, verifier.Verify(context.Background(), ck1).Outcome)

	ck2, err := NewBuilder(counters, signer).
		RobotID("R-001").
		MissionID("M-1").
		Sequence(2).
		PrevRoot(ck1.Hash()).
		EntriesRoot(Hash256{}).
		EnclaveMeasurement(measurement32()).
		VendorTag("intel-sgx").
		FirmwareHash(Hash256{}).
		ModelProvenance(ModelProvenance{Name: "model-v1", ModelHash: Hash256{1}}).
		InferenceConfig(DeterminismConfig{BatchSize: 8}).
		TrustMode(Permissive).
		CreatedAt(2000).
		BuildAndSign(2)
	require.NoError(t, err)
	require.Equal(t, Accepted, verifier.Verify(context.Background(), ck2).Outcome)

	replay := verifier.Verify(context.Background(), ck1)
	require.Equal(t, Rejected, replay.Outcome)
	require.Equal(t, sentinelerr.KindRollbackDetected, sentinelerr.KindOf(replay.Err))

	lifecycle, _, err := verifier.State(context.Background(), "R-001")
	require.NoError(t, err)
	require.Equal(t, Halted, lifecycle)
}

func TestScenarioTamperedEntriesRootFailsSignature(t *testing.T) {
	signer, pub, err := xhash.GenerateSigner()
	require.NoError(t, err)
	counters := NewInMemoryCounterStore()

	ck1 := buildGenesis(t, signer, counters, "R-001")
	ck1.EntriesRoot[0] ^= 0xFF // tamper after signing, leave signature untouched

	verifier := NewVerifier(4, newFakeRevocation(), &fakeKeyResolver{pub: pub})
	defer verifier.Close()

	decision := verifier.Verify(context.Background(), ck1)
	require.Equal(t, Rejected, decision.Outcome)
	require.Equal(t, sentinelerr.KindSignatureInvalid, sentinelerr.KindOf(decision.Err))

	// Once halted, every later checkpoint must be rejected with the
	// original halt cause, never a synthesized RollbackDetected.
	again := verifier.Verify(context.Background(), ck1)
	require.Equal(t, Rejected, again.Outcome)
	require.Equal(t, sentinelerr.KindSignatureInvalid, sentinelerr.KindOf(again.Err))
}

func TestScenarioRevokedEnclave(t *testing.T) {
	signer, pub, err := xhash.GenerateSigner()
	require.NoError(t, err)
	counters := NewInMemoryCounterStore()

	ck1 := buildGenesis(t, signer, counters, "R-001")

	revocation := newFakeRevocation()
	verifier := NewVerifier(4, revocation, &fakeKeyResolver{pub: pub})
	defer verifier.Close()

	require.Equal(t, Accepted, verifier.Verify(context.Background(), ck1).Outcome)

	revocation.revokedEnclaves[string(ck1.EnclaveMeasurement)] = true

	ck2, err := NewBuilder(counters, signer).
		RobotID("R-001").
		MissionID("M-1").
		Sequence(2).
		PrevRoot(ck1.Hash()).
		EntriesRoot(Hash256{}).
		EnclaveMeasurement(measurement32()).
		VendorTag("intel-sgx").
		FirmwareHash(Hash256{}).
		ModelProvenance(ModelProvenance{Name: "model-v1", ModelHash: Hash256{1}}).
		InferenceConfig(DeterminismConfig{BatchSize: 8}).
		TrustMode(Permissive).
		CreatedAt(2000).
		BuildAndSign(2)
	require.NoError(t, err)

	decision := verifier.Verify(context.Background(), ck2)
	require.Equal(t, Rejected, decision.Outcome)
	require.Equal(t, sentinelerr.KindEnclaveRevoked, sentinelerr.KindOf(decision.Err))
}

func TestScenarioTrustedModeUnsignedModelRejectedByBuilder(t *testing.T) {
	signer, _, err := xhash.GenerateSigner()
	require.NoError(t, err)
	counters := NewInMemoryCounterStore()

	_, err = NewBuilder(counters, signer).
		RobotID("R-001").
		MissionID("M-1").
		Sequence(1).
		PrevRoot(Hash256{}).
		EntriesRoot(Hash256{}).
		EnclaveMeasurement(measurement32()).
		VendorTag("intel-sgx").
		FirmwareHash(Hash256{}).
		ModelProvenance(ModelProvenance{Name: "model-v1", ModelHash: Hash256{1}}). // no SignatureBundle
		InferenceConfig(DeterminismConfig{BatchSize: 8}).
		TrustMode(Trusted).
		CreatedAt(1000).
		BuildAndSign(1)

	require.Error(t, err)
	require.Equal(t, sentinelerr.KindTrustedModeUnsigned, sentinelerr.KindOf(err))
}

func TestScenarioTrustedModeUnsignedModelRejectedByVerifierIfSmuggled(t *testing.T) {
	signer, pub, err := xhash.GenerateSigner()
	require.NoError(t, err)

	// Bypass the builder entirely to simulate smuggled-in bytes.
	c := Checkpoint{
		Version:            1,
		RobotID:            "R-001",
		MissionID:          "M-1",
		Sequence:           1,
		MonotonicCounter:   1,
		EnclaveMeasurement: measurement32(),
		ModelProvenance:    ModelProvenance{Name: "model-v1", ModelHash: Hash256{1}},
		InferenceConfig:    DeterminismConfig{BatchSize: 8},
		TrustMode:          Trusted,
		CreatedAt:          1000,
	}
	c.Signature = signer.Sign(c.CanonicalUnsignedBytes())

	verifier := NewVerifier(4, newFakeRevocation(), &fakeKeyResolver{pub: pub})
	defer verifier.Close()

	decision := verifier.Verify(context.Background(), c)
	require.Equal(t, Rejected, decision.Outcome)
	require.Equal(t, sentinelerr.KindTrustedModeUnsigned, sentinelerr.KindOf(decision.Err))
}

func TestCounterStoreRejectsNonIncreasingCounter(t *testing.T) {
	store := NewInMemoryCounterStore()
	require.NoError(t, store.Bump("R-1", 5))
	require.Error(t, store.Bump("R-1", 5))
	require.Error(t, store.Bump("R-1", 4))
	require.NoError(t, store.Bump("R-1", 6))
}

func TestFileCounterStoreDurableAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	store1, err := NewFileCounterStore(dir)
	require.NoError(t, err)
	require.NoError(t, store1.Bump("R-1", 10))

	store2, err := NewFileCounterStore(dir)
	require.NoError(t, err)
	require.Error(t, store2.Bump("R-1", 10))
	require.NoError(t, store2.Bump("R-1", 11))
}
