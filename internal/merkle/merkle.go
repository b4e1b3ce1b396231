package merkle

import (
	"bytes"

	"github.com/ethereum/go-ethereum/crypto"
)

// MaxProofHashes caps the sibling path length accepted by the verifier.
const MaxProofHashes = 16

// Hash is a 32-byte Keccak-256 digest.
type Hash [32]byte

// EmptyRoot marks a deal without a delivery proof commitment.
var EmptyRoot Hash

// HashLeaf hashes raw leaf bytes into a proof leaf.
func HashLeaf(data []byte) Hash {
	var h Hash
	copy(h[:], crypto.Keccak256(data))
	return h
}

// combine hashes an ordered pair. Siblings are concatenated in lexicographic
// byte order before hashing, so the same root is recomputed regardless of
// which side of the tree each sibling came from.
func combine(a, b Hash) Hash {
	var h Hash
	if bytes.Compare(a[:], b[:]) <= 0 {
		copy(h[:], crypto.Keccak256(a[:], b[:]))
	} else {
		copy(h[:], crypto.Keccak256(b[:], a[:]))
	}
	return h
}

// VerifyProof recomputes the root from a leaf and its sibling path and
// compares it against the expected root.
func VerifyProof(leaf Hash, proof []Hash, root Hash) bool {
	node := leaf
	for _, sibling := range proof {
		node = combine(node, sibling)
	}
	return node == root
}

// ComputeRoot folds a leaf through a sibling path. Exposed for building test
// fixtures and off-chain tooling; VerifyProof is the verification entrypoint.
func ComputeRoot(leaf Hash, proof []Hash) Hash {
	node := leaf
	for _, sibling := range proof {
		node = combine(node, sibling)
	}
	return node
}
