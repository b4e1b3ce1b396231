package merkle_test

import (
	"testing"

	"CoffeeFutures/internal/merkle"
)

// buildTree constructs a 4-leaf tree by hand and returns the root and the
// proof for leaves[0].
func buildTree() (root merkle.Hash, leaf merkle.Hash, proof []merkle.Hash) {
	l0 := merkle.HashLeaf([]byte("lot-001:2500kg"))
	l1 := merkle.HashLeaf([]byte("lot-002:1000kg"))
	l2 := merkle.HashLeaf([]byte("lot-003:500kg"))
	l3 := merkle.HashLeaf([]byte("lot-004:750kg"))

	n01 := merkle.ComputeRoot(l0, []merkle.Hash{l1})
	n23 := merkle.ComputeRoot(l2, []merkle.Hash{l3})
	root = merkle.ComputeRoot(n01, []merkle.Hash{n23})

	return root, l0, []merkle.Hash{l1, n23}
}

func TestVerifyProof_RoundTrip(t *testing.T) {
	root, leaf, proof := buildTree()

	if !merkle.VerifyProof(leaf, proof, root) {
		t.Fatal("valid proof rejected")
	}
}

func TestVerifyProof_TamperedSiblingFails(t *testing.T) {
	root, leaf, proof := buildTree()

	for i := range proof {
		for bit := 0; bit < 2; bit++ {
			tampered := make([]merkle.Hash, len(proof))
			copy(tampered, proof)
			tampered[i][bit*15] ^= 0x01

			if merkle.VerifyProof(leaf, tampered, root) {
				t.Errorf("tampered sibling %d accepted", i)
			}
		}
	}
}

func TestVerifyProof_WrongLeafFails(t *testing.T) {
	root, _, proof := buildTree()

	other := merkle.HashLeaf([]byte("lot-999:1kg"))
	if merkle.VerifyProof(other, proof, root) {
		t.Fatal("wrong leaf accepted")
	}
}

func TestVerifyProof_EmptyProofMatchesLeafAsRoot(t *testing.T) {
	leaf := merkle.HashLeaf([]byte("single"))

	// A single-leaf tree: the leaf is the root.
	if !merkle.VerifyProof(leaf, nil, leaf) {
		t.Fatal("single-leaf proof rejected")
	}
}

func TestVerifyProof_OrderIndependent(t *testing.T) {
	// The pair hash is ordered lexicographically, so the verifier does not
	// need to know which side each sibling was on.
	a := merkle.HashLeaf([]byte("a"))
	b := merkle.HashLeaf([]byte("b"))

	rootFromA := merkle.ComputeRoot(a, []merkle.Hash{b})
	rootFromB := merkle.ComputeRoot(b, []merkle.Hash{a})

	if rootFromA != rootFromB {
		t.Fatal("pair hash is order dependent")
	}
}
