// Package xhash provides the two hash functions and the signature scheme
// spec.md §4.2 defines: ContentHash (SHA-256, used for everything that is
// signed, anchored in a Merkle tree, or persisted) and FastHash (BLAKE3,
// confined to transient non-anchored paths such as in-memory dedup keys —
// see DESIGN.md's Open Question decision), plus Ed25519 signing/verification.
package xhash

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"

	"github.com/zeebo/blake3"
)

// Digest256 is a 32-byte content hash.
type Digest256 [32]byte

// ContentHash computes the SHA-256 digest over the concatenation of parts.
// This is the only hash function permitted on a path that ends up signed,
// anchored in a Merkle tree, or written to the ledger.
func ContentHash(parts ...[]byte) Digest256 {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var d Digest256
	copy(d[:], h.Sum(nil))
	return d
}

// FastHash computes a BLAKE3 digest over the concatenation of parts. It
// must never be used for anything that is signed, anchored, or persisted —
// only for transient, in-process identifiers such as cache or dedup keys.
func FastHash(parts ...[]byte) Digest256 {
	h := blake3.New()
	for _, p := range parts {
		h.Write(p)
	}
	var d Digest256
	h.Digest().Read(d[:])
	return d
}

// Signer signs canonical-encoded payloads with an Ed25519 private key.
type Signer struct {
	priv ed25519.PrivateKey
}

// NewSigner wraps an existing Ed25519 private key.
func NewSigner(priv ed25519.PrivateKey) Signer {
	return Signer{priv: priv}
}

// GenerateSigner creates a fresh Ed25519 keypair and returns a Signer for
// the private half along with the raw public key.
func GenerateSigner() (Signer, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Signer{}, nil, err
	}
	return Signer{priv: priv}, pub, nil
}

// Sign produces a 64-byte Ed25519 signature over msg.
func (s Signer) Sign(msg []byte) []byte {
	return ed25519.Sign(s.priv, msg)
}

// PublicKey returns the public half of the signer's keypair.
func (s Signer) PublicKey() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}

// IsZero reports whether s carries no private key, i.e. was never assigned
// by NewSigner or GenerateSigner. Callers that treat a signer as an
// optional identity (e.g. a gateway that may or may not sign what it
// submits) check this before calling Sign.
func (s Signer) IsZero() bool {
	return len(s.priv) == 0
}

// Verify checks an Ed25519 signature over msg against pub.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}
