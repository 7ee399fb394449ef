package xhash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentHashDeterministic(t *testing.T) {
	a := ContentHash([]byte("robot-1"), []byte("mission-9"))
	b := ContentHash([]byte("robot-1"), []byte("mission-9"))
	require.Equal(t, a, b)

	c := ContentHash([]byte("robot-1"), []byte("mission-10"))
	require.NotEqual(t, a, c)
}

func TestContentHashPartsAreConcatenationAmbiguous(t *testing.T) {
	// ContentHash("ab", "c") and ContentHash("a", "bc") both hash the byte
	// stream "abc" — callers relying on part boundaries must length-prefix
	// their own inputs. This test documents the behavior rather than
	// asserting a (false) guarantee of boundary-safety.
	a := ContentHash([]byte("ab"), []byte("c"))
	b := ContentHash([]byte("a"), []byte("bc"))
	require.Equal(t, a, b)
}

func TestFastHashDeterministicAndDistinctFromContentHash(t *testing.T) {
	a := FastHash([]byte("x"))
	b := FastHash([]byte("x"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, ContentHash([]byte("x")))
}

func TestSignAndVerify(t *testing.T) {
	signer, pub, err := GenerateSigner()
	require.NoError(t, err)

	msg := []byte("checkpoint payload")
	sig := signer.Sign(msg)
	require.True(t, Verify(pub, msg, sig))

	require.False(t, Verify(pub, []byte("tampered"), sig))

	otherSigner, otherPub, err := GenerateSigner()
	require.NoError(t, err)
	_ = otherSigner
	require.False(t, Verify(otherPub, msg, sig))
}

func TestVerifyRejectsMalformedKeysAndSignatures(t *testing.T) {
	require.False(t, Verify([]byte("short"), []byte("msg"), []byte("sig")))
}
