package gateway

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/tala-robotics/sentinel/internal/checkpoint"
	"github.com/tala-robotics/sentinel/internal/registry"
	"github.com/tala-robotics/sentinel/internal/sentinelerr"
	"github.com/tala-robotics/sentinel/internal/xhash"
)

// registryRevocation adapts a *registry.Registry to
// checkpoint.RevocationLookup, matching spec.md §4.4's narrow interface so
// the verifier never imports internal/registry directly.
type registryRevocation struct {
	reg *registry.Registry
}

func (r registryRevocation) IsEnclaveRevoked(measurement []byte) (bool, error) {
	return r.reg.IsEnclaveRevoked(measurement), nil
}

func (r registryRevocation) IsModelRevoked(modelHash checkpoint.Hash256) (bool, error) {
	return r.reg.IsModelRevoked(registry.Hash256(modelHash)), nil
}

// KeyStore is an in-memory SigningKeyResolver, keyed by the raw bytes of
// enclave_measurement. Handler.Enroll populates it once per enclave, after
// a hardware attestation quote verifies; LoadKeyStoreFile seeds it from a
// static file for deployments that enroll enclaves out of band instead.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewKeyStore returns an empty KeyStore.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[string]ed25519.PublicKey)}
}

// Put registers the public key that checkpoints signed under measurement
// must verify against.
func (k *KeyStore) Put(measurement []byte, pub ed25519.PublicKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[string(measurement)] = pub
}

func (k *KeyStore) PublicKeyFor(measurement []byte) (ed25519.PublicKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	pub, ok := k.keys[string(measurement)]
	if !ok {
		return nil, sentinelerr.WrapSub(sentinelerr.SubUnsupportedVendor, "no signing key registered for enclave measurement", nil)
	}
	return pub, nil
}

// LoadKeyStoreFile reads a JSON object mapping hex(enclave_measurement) to
// hex(ed25519 public key) into a new KeyStore. This is the development and
// small-fleet path; a larger deployment would resolve keys from the
// attestation adapter's verified quote instead of a static file.
func LoadKeyStoreFile(path string) (*KeyStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, sentinelerr.Wrap(sentinelerr.KindDecodeError, "read signing keys file", err)
	}
	var entries map[string]string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, sentinelerr.Wrap(sentinelerr.KindDecodeError, "parse signing keys file", err)
	}
	ks := NewKeyStore()
	for measurementHex, pubHex := range entries {
		measurement, err := hex.DecodeString(measurementHex)
		if err != nil {
			return nil, sentinelerr.Wrap(sentinelerr.KindDecodeError, "decode measurement hex", err)
		}
		pubBytes, err := hex.DecodeString(pubHex)
		if err != nil || len(pubBytes) != ed25519.PublicKeySize {
			return nil, sentinelerr.New(sentinelerr.KindDecodeError, "malformed signing key for measurement "+measurementHex)
		}
		ks.Put(measurement, ed25519.PublicKey(pubBytes))
	}
	return ks, nil
}

// LoadGatewaySigner reads a hex-encoded Ed25519 private key from path and
// wraps it in an xhash.Signer this gateway uses to sign the anchor records
// it submits (registry.AnchorCheckpointInput.GatewaySignature). An empty
// path is not an error: it returns the zero Signer, and IngestCheckpoint
// anchors without a gateway signature, matching a deployment that has not
// provisioned a gateway identity key yet.
func LoadGatewaySigner(path string) (xhash.Signer, error) {
	if path == "" {
		return xhash.Signer{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return xhash.Signer{}, sentinelerr.Wrap(sentinelerr.KindDecodeError, "read gateway key file", err)
	}
	keyBytes, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil || len(keyBytes) != ed25519.PrivateKeySize {
		return xhash.Signer{}, sentinelerr.New(sentinelerr.KindDecodeError, "malformed gateway key")
	}
	return xhash.NewSigner(ed25519.PrivateKey(keyBytes)), nil
}
