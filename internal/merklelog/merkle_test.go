package merklelog

import (
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/require"
)

func entry(ts, nonce uint64, payload string) Entry {
	return Entry{Timestamp: ts, Nonce: nonce, Payload: []byte(payload)}
}

func TestEmptyTreeRootIsZero(t *testing.T) {
	tree := New()
	require.Equal(t, Hash256{}, tree.Root())
}

func TestInsertRejectsOutOfOrder(t *testing.T) {
	tree := New()
	require.NoError(t, tree.Insert(entry(10, 0, "a")))
	require.NoError(t, tree.Insert(entry(10, 1, "b")))
	err := tree.Insert(entry(10, 0, "c"))
	require.Error(t, err)
	err = tree.Insert(entry(9, 5, "d"))
	require.Error(t, err)
}

func TestProofVerifiesForEveryLeafAcrossSizes(t *testing.T) {
	for n := 1; n <= 17; n++ {
		tree := New()
		for i := 0; i < n; i++ {
			require.NoError(t, tree.Insert(entry(uint64(i), 0, "payload")))
		}
		root := tree.Root()
		for i := 0; i < n; i++ {
			proof, err := tree.Prove(i)
			require.NoError(t, err)
			require.True(t, Verify(root, LeafHash(entry(uint64(i), 0, "payload")), proof),
				"leaf %d of %d", i, n)
		}
	}
}

func TestTamperedLeafFailsVerification(t *testing.T) {
	tree := New()
	for i := 0; i < 5; i++ {
		require.NoError(t, tree.Insert(entry(uint64(i), 0, "payload")))
	}
	root := tree.Root()
	proof, err := tree.Prove(2)
	require.NoError(t, err)

	tamperedLeaf := LeafHash(entry(2, 0, "tampered"))
	require.False(t, Verify(root, tamperedLeaf, proof))
}

func TestDuplicateLastNodePolicyOddLevelsProduceStableRoot(t *testing.T) {
	tree := New()
	require.NoError(t, tree.Insert(entry(1, 0, "a")))
	require.NoError(t, tree.Insert(entry(2, 0, "b")))
	require.NoError(t, tree.Insert(entry(3, 0, "c")))

	root1 := tree.Root()

	tree2 := New()
	require.NoError(t, tree2.Insert(entry(1, 0, "a")))
	require.NoError(t, tree2.Insert(entry(2, 0, "b")))
	require.NoError(t, tree2.Insert(entry(3, 0, "c")))
	root2 := tree2.Root()

	require.Equal(t, root1, root2)

	a := LeafHash(entry(1, 0, "a"))
	b := LeafHash(entry(2, 0, "b"))
	c := LeafHash(entry(3, 0, "c"))
	require.Equal(t, internalHash(internalHash(a, b), internalHash(c, c)), root1)
}

func TestProofPropertyAcrossRandomSizes(t *testing.T) {
	f := func(n uint8) bool {
		count := int(n%30) + 1
		tree := New()
		for i := 0; i < count; i++ {
			if err := tree.Insert(entry(uint64(i), 0, "p")); err != nil {
				return false
			}
		}
		root := tree.Root()
		for i := 0; i < count; i++ {
			proof, err := tree.Prove(i)
			if err != nil {
				return false
			}
			if !Verify(root, LeafHash(entry(uint64(i), 0, "p")), proof) {
				return false
			}
		}
		return true
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatalf("proof property failed: %v", err)
	}
}
