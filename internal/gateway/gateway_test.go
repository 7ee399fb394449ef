package gateway_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tala-robotics/sentinel/internal/attestation"
	"github.com/tala-robotics/sentinel/internal/checkpoint"
	"github.com/tala-robotics/sentinel/internal/gateway"
	"github.com/tala-robotics/sentinel/internal/registry"
	"github.com/tala-robotics/sentinel/internal/xhash"
)

// fakeAdapter is a minimal attestation.Adapter stand-in so enrollment tests
// don't depend on a live PCS endpoint: it treats quote bytes as the raw
// enclave measurement and never revokes.
type fakeAdapter struct {
	revoked bool
}

func (f fakeAdapter) VendorTag() string { return "fake-vendor" }

func (f fakeAdapter) VerifyQuote(ctx context.Context, quote, nonce []byte) (attestation.Result, error) {
	status := attestation.RevocationOK
	if f.revoked {
		status = attestation.RevocationRevoked
	}
	return attestation.Result{
		VendorTag:          f.VendorTag(),
		EnclaveMeasurement: quote,
		QuoteVerified:      true,
		RevocationStatus:   status,
	}, nil
}

func (f fakeAdapter) CheckRevocation(ctx context.Context, measurement []byte) (attestation.RevocationStatus, error) {
	if f.revoked {
		return attestation.RevocationRevoked, nil
	}
	return attestation.RevocationOK, nil
}

func (f fakeAdapter) RootCACerts() []string { return nil }

func (f fakeAdapter) RefreshTrustAnchors(ctx context.Context) error { return nil }

const measurement32 = "01234567890123456789012345678901"

func TestIngestCheckpointAcceptedAndAnchored(t *testing.T) {
	signer, pub, err := xhash.GenerateSigner()
	require.NoError(t, err)

	keys := gateway.NewKeyStore()
	measurement := []byte(measurement32)[:32]
	keys.Put(measurement, pub)

	reg := registry.New(registry.NullSink{})
	verifier := checkpoint.NewVerifier(4, gateway.Revocation(reg), keys)
	defer verifier.Close()

	handler := gateway.NewHandler(verifier, reg, nil, nil, nil, xhash.Signer{}, "gw-test")
	srv := httptest.NewServer(gateway.New(handler))
	defer srv.Close()

	counters := checkpoint.NewInMemoryCounterStore()
	c, err := checkpoint.NewBuilder(counters, signer).
		RobotID("robot-1").
		MissionID("mission-1").
		Sequence(1).
		EntriesRoot(checkpoint.Hash256{0xAA}).
		EnclaveMeasurement(measurement).
		VendorTag("intel-sgx").
		CreatedAt(1_700_000_000).
		ModelProvenance(checkpoint.ModelProvenance{Name: "policy-v1", ModelHash: checkpoint.Hash256{0x01}}).
		InferenceConfig(checkpoint.DeterminismConfig{BatchSize: 1}).
		BuildAndSign(1)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/checkpoints", "application/octet-stream", bytes.NewReader(c.ToBytes()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, true, body["ok"])
	require.Equal(t, "accepted", body["outcome"])
	require.NotEmpty(t, body["checkpoint_id"])

	stateResp, err := http.Get(srv.URL + "/robots/robot-1/state")
	require.NoError(t, err)
	defer stateResp.Body.Close()
	require.Equal(t, http.StatusOK, stateResp.StatusCode)

	var state map[string]interface{}
	require.NoError(t, json.NewDecoder(stateResp.Body).Decode(&state))
	require.Equal(t, "active", state["lifecycle"])
}

func TestIngestCheckpointSignsAnchorWithGatewayIdentity(t *testing.T) {
	signer, pub, err := xhash.GenerateSigner()
	require.NoError(t, err)

	keys := gateway.NewKeyStore()
	measurement := []byte(measurement32)[:32]
	keys.Put(measurement, pub)

	sink := &registry.RecordingSink{}
	reg := registry.New(sink)
	verifier := checkpoint.NewVerifier(4, gateway.Revocation(reg), keys)
	defer verifier.Close()

	identity, identityPub, err := xhash.GenerateSigner()
	require.NoError(t, err)

	handler := gateway.NewHandler(verifier, reg, nil, nil, nil, identity, "gw-test")
	srv := httptest.NewServer(gateway.New(handler))
	defer srv.Close()

	counters := checkpoint.NewInMemoryCounterStore()
	c, err := checkpoint.NewBuilder(counters, signer).
		RobotID("robot-4").
		MissionID("mission-1").
		Sequence(1).
		EntriesRoot(checkpoint.Hash256{0xAA}).
		EnclaveMeasurement(measurement).
		VendorTag("intel-sgx").
		CreatedAt(1_700_000_000).
		ModelProvenance(checkpoint.ModelProvenance{Name: "policy-v1", ModelHash: checkpoint.Hash256{0x01}}).
		InferenceConfig(checkpoint.DeterminismConfig{BatchSize: 1}).
		BuildAndSign(1)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/checkpoints", "application/octet-stream", bytes.NewReader(c.ToBytes()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, sink.Events, 1)
	anchored, ok := sink.Events[0].(registry.CheckpointAnchored)
	require.True(t, ok)
	require.NotEmpty(t, anchored.GatewaySignature)

	digest := registry.AnchorDigest(anchored.MerkleRoot, anchored.EnclaveMeasurement, anchored.VendorTag, anchored.Gateway, anchored.BlockTime)
	require.True(t, xhash.Verify(identityPub, digest[:], anchored.GatewaySignature))
}

func TestIngestCheckpointBadSignatureRejected(t *testing.T) {
	_, pub, err := xhash.GenerateSigner()
	require.NoError(t, err)
	otherSigner, _, err := xhash.GenerateSigner()
	require.NoError(t, err)

	keys := gateway.NewKeyStore()
	measurement := []byte(measurement32)[:32]
	keys.Put(measurement, pub)

	reg := registry.New(registry.NullSink{})
	verifier := checkpoint.NewVerifier(4, gateway.Revocation(reg), keys)
	defer verifier.Close()

	handler := gateway.NewHandler(verifier, reg, nil, nil, nil, xhash.Signer{}, "gw-test")
	srv := httptest.NewServer(gateway.New(handler))
	defer srv.Close()

	counters := checkpoint.NewInMemoryCounterStore()
	c, err := checkpoint.NewBuilder(counters, otherSigner).
		RobotID("robot-2").
		MissionID("mission-1").
		Sequence(1).
		EntriesRoot(checkpoint.Hash256{0xAA}).
		EnclaveMeasurement(measurement).
		VendorTag("intel-sgx").
		CreatedAt(1_700_000_000).
		ModelProvenance(checkpoint.ModelProvenance{Name: "policy-v1", ModelHash: checkpoint.Hash256{0x01}}).
		InferenceConfig(checkpoint.DeterminismConfig{BatchSize: 1}).
		BuildAndSign(1)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/checkpoints", "application/octet-stream", bytes.NewReader(c.ToBytes()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, false, body["ok"])
	require.Equal(t, "rejected", body["outcome"])
}

func TestIngestCheckpointAppendsToArchive(t *testing.T) {
	signer, pub, err := xhash.GenerateSigner()
	require.NoError(t, err)

	keys := gateway.NewKeyStore()
	measurement := []byte(measurement32)[:32]
	keys.Put(measurement, pub)

	reg := registry.New(registry.NullSink{})
	verifier := checkpoint.NewVerifier(4, gateway.Revocation(reg), keys)
	defer verifier.Close()

	archive, err := gateway.NewArchive(t.TempDir())
	require.NoError(t, err)

	handler := gateway.NewHandler(verifier, reg, archive, nil, nil, xhash.Signer{}, "gw-test")
	srv := httptest.NewServer(gateway.New(handler))
	defer srv.Close()

	counters := checkpoint.NewInMemoryCounterStore()
	c, err := checkpoint.NewBuilder(counters, signer).
		RobotID("robot-3").
		MissionID("mission-1").
		Sequence(1).
		EntriesRoot(checkpoint.Hash256{0xAA}).
		EnclaveMeasurement(measurement).
		VendorTag("intel-sgx").
		CreatedAt(1_700_000_000).
		ModelProvenance(checkpoint.ModelProvenance{Name: "policy-v1", ModelHash: checkpoint.Hash256{0x01}}).
		InferenceConfig(checkpoint.DeterminismConfig{BatchSize: 1}).
		BuildAndSign(1)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/checkpoints", "application/octet-stream", bytes.NewReader(c.ToBytes()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	listResp, err := http.Get(srv.URL + "/audit/checkpoints")
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&body))
	items, ok := body["items"].([]interface{})
	require.True(t, ok)
	require.Len(t, items, 1)
}

func TestRobotStateUnknownRobotIsNotFound(t *testing.T) {
	keys := gateway.NewKeyStore()
	reg := registry.New(registry.NullSink{})
	verifier := checkpoint.NewVerifier(4, gateway.Revocation(reg), keys)
	defer verifier.Close()

	handler := gateway.NewHandler(verifier, reg, nil, nil, nil, xhash.Signer{}, "gw-test")
	srv := httptest.NewServer(gateway.New(handler))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/robots/ghost/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEnrollRegistersKeyAgainstAttestedMeasurement(t *testing.T) {
	keys := gateway.NewKeyStore()
	reg := registry.New(registry.NullSink{})
	verifier := checkpoint.NewVerifier(4, gateway.Revocation(reg), keys)
	defer verifier.Close()

	attestors := attestation.NewRegistry()
	attestors.Register(fakeAdapter{})

	handler := gateway.NewHandler(verifier, reg, nil, attestors, keys, xhash.Signer{}, "gw-test")
	srv := httptest.NewServer(gateway.New(handler))
	defer srv.Close()

	_, pub, err := xhash.GenerateSigner()
	require.NoError(t, err)
	measurement := []byte(measurement32)[:32]

	reqBody, err := json.Marshal(map[string]string{
		"vendor_tag":     "fake-vendor",
		"quote_hex":      hex.EncodeToString(measurement),
		"nonce_hex":      "ab",
		"public_key_hex": hex.EncodeToString(pub),
	})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/enclaves/enroll", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resolved, err := keys.PublicKeyFor(measurement)
	require.NoError(t, err)
	require.Equal(t, pub, resolved)
}

func TestEnrollRejectsRevokedEnclave(t *testing.T) {
	keys := gateway.NewKeyStore()
	reg := registry.New(registry.NullSink{})
	verifier := checkpoint.NewVerifier(4, gateway.Revocation(reg), keys)
	defer verifier.Close()

	attestors := attestation.NewRegistry()
	attestors.Register(fakeAdapter{revoked: true})

	handler := gateway.NewHandler(verifier, reg, nil, attestors, keys, xhash.Signer{}, "gw-test")
	srv := httptest.NewServer(gateway.New(handler))
	defer srv.Close()

	_, pub, err := xhash.GenerateSigner()
	require.NoError(t, err)
	measurement := []byte(measurement32)[:32]

	reqBody, err := json.Marshal(map[string]string{
		"vendor_tag":     "fake-vendor",
		"quote_hex":      hex.EncodeToString(measurement),
		"nonce_hex":      "ab",
		"public_key_hex": hex.EncodeToString(pub),
	})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/enclaves/enroll", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	_, err = keys.PublicKeyFor(measurement)
	require.Error(t, err)
}
