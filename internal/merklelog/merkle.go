// Package merklelog implements the incremental, order-deterministic binary
// Merkle tree over log entries that backs every checkpoint's entries_root
// (spec.md §4.3).
package merklelog

import (
	"github.com/tala-robotics/sentinel/internal/codec"
	"github.com/tala-robotics/sentinel/internal/sentinelerr"
	"github.com/tala-robotics/sentinel/internal/xhash"
)

// Hash256 is the zero-value-sentinel hash used throughout this module; the
// zero value denotes "no previous" / "empty tree", never an actual digest.
type Hash256 = xhash.Digest256

const (
	leafPrefix     = 0x00
	internalPrefix = 0x01
)

// Entry is a single log record inside a checkpoint window.
type Entry struct {
	Timestamp uint64
	Nonce     uint64
	Payload   []byte
}

// PayloadHash is the content hash of Entry.Payload, carried alongside the
// entry so proofs can omit the payload itself.
func (e Entry) PayloadHash() Hash256 {
	return xhash.ContentHash(e.Payload)
}

// canonicalValue returns the canonical encoding Value of the entry, used as
// the hash input for the leaf (never including the raw payload hash field
// redundantly — it's derived, not carried on the wire here).
func (e Entry) canonicalValue() codec.Value {
	return codec.Map{
		codec.Field(1, codec.Uint(e.Timestamp)),
		codec.Field(2, codec.Uint(e.Nonce)),
		codec.Field(3, codec.Bytes(e.Payload)),
	}
}

// leafHash computes content_hash(0x00 || canonical(Entry)).
func (e Entry) leafHash() Hash256 {
	enc := codec.Encode(e.canonicalValue())
	return xhash.ContentHash([]byte{leafPrefix}, enc)
}

// internalHash computes content_hash(0x01 || left || right).
func internalHash(left, right Hash256) Hash256 {
	return xhash.ContentHash([]byte{internalPrefix}, left[:], right[:])
}

// Direction identifies which side of a parent node a sibling occupies.
type Direction int

const (
	Left Direction = iota
	Right
)

// ProofStep is one (sibling_hash, position) pair on a path from leaf to root.
type ProofStep struct {
	Sibling Hash256
	Dir     Direction
}

// Proof is an inclusion proof for one leaf: the leaf's index, the tree's
// total leaf count at the time the proof was produced, and the sibling path
// from leaf to root.
type Proof struct {
	LeafIndex int
	NumLeaves int
	Steps     []ProofStep
}

// Tree is an incremental Merkle tree. Entries must be inserted in sorted
// (timestamp, nonce) order; Insert rejects any entry that would violate
// that order with an InvariantViolation, per spec.md §4.3.
//
// The implementation keeps the full leaf-hash list and rebuilds levels on
// Root()/Prove() calls; this is the teacher's append-then-batch-root style
// (mohamedamale11-sys-assurance-service/internal/audit/store.go computes a
// Merkle root per batch the same way) generalized to support per-leaf
// inclusion proofs rather than only a whole-batch root.
type Tree struct {
	leaves []Hash256
	last   *Entry
}

// New returns an empty Merkle tree.
func New() *Tree {
	return &Tree{}
}

// Insert appends an entry, enforcing total order on (timestamp, nonce).
func (t *Tree) Insert(e Entry) error {
	if t.last != nil {
		if e.Timestamp < t.last.Timestamp ||
			(e.Timestamp == t.last.Timestamp && e.Nonce <= t.last.Nonce) {
			return sentinelerr.New(sentinelerr.KindInvariantViolation,
				"entry out of (timestamp, nonce) order")
		}
	}
	cp := e
	t.last = &cp
	t.leaves = append(t.leaves, e.leafHash())
	return nil
}

// Len returns the number of leaves currently in the tree.
func (t *Tree) Len() int {
	return len(t.leaves)
}

// Root returns the current Merkle root, or the zero Hash256 if the tree is
// empty (spec.md §4.3: "Empty tree root = zero Hash256").
func (t *Tree) Root() Hash256 {
	if len(t.leaves) == 0 {
		return Hash256{}
	}
	level := append([]Hash256{}, t.leaves...)
	for len(level) > 1 {
		level = reduceLevel(level)
	}
	return level[0]
}

// reduceLevel combines adjacent pairs in level into their parent hashes,
// duplicating the last node when the level has odd length (Bitcoin-style,
// spec.md §4.3's chosen alternative over RFC 6962 "empty right").
func reduceLevel(level []Hash256) []Hash256 {
	next := make([]Hash256, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		left := level[i]
		right := left
		if i+1 < len(level) {
			right = level[i+1]
		}
		next = append(next, internalHash(left, right))
	}
	return next
}

// Prove returns an inclusion proof for the leaf at index.
func (t *Tree) Prove(index int) (Proof, error) {
	if index < 0 || index >= len(t.leaves) {
		return Proof{}, sentinelerr.New(sentinelerr.KindInvariantViolation, "leaf index out of range")
	}
	proof := Proof{LeafIndex: index, NumLeaves: len(t.leaves)}
	level := append([]Hash256{}, t.leaves...)
	idx := index
	for len(level) > 1 {
		var sibIdx int
		var dir Direction
		if idx%2 == 0 {
			sibIdx = idx + 1
			dir = Right
		} else {
			sibIdx = idx - 1
			dir = Left
		}
		sib := level[idx]
		if sibIdx < len(level) {
			sib = level[sibIdx]
		}
		proof.Steps = append(proof.Steps, ProofStep{Sibling: sib, Dir: dir})
		level = reduceLevel(level)
		idx /= 2
	}
	return proof, nil
}

// Verify is a pure function checking that leaf, combined with proof's
// sibling path, reconstructs root.
func Verify(root, leaf Hash256, proof Proof) bool {
	cur := leaf
	for _, step := range proof.Steps {
		switch step.Dir {
		case Left:
			cur = internalHash(step.Sibling, cur)
		case Right:
			cur = internalHash(cur, step.Sibling)
		default:
			return false
		}
	}
	return cur == root
}

// LeafHash is exported so callers constructing checkpoints out of already-
// hashed entries (e.g. verifying a checkpoint's entries_root against a
// separately-transmitted entry list) can compute a leaf hash without
// inserting into a Tree.
func LeafHash(e Entry) Hash256 {
	return e.leafHash()
}
