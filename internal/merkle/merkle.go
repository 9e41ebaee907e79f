// Package merkle builds the prize commitment tree. Leaves use the
// double-keccak (address, uint256) encoding and parents hash the sorted
// pair, so proofs verify with OpenZeppelin MerkleProof.verify. The tree
// layout is its own: sorted leaves with odd nodes promoted, so roots differ
// from a StandardMerkleTree built over the same values.
package merkle

import (
	"bytes"
	"errors"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrNoLeaves      = errors.New("merkle tree needs at least one leaf")
	ErrDuplicateLeaf = errors.New("duplicate merkle leaf")
	ErrLeafNotFound  = errors.New("leaf not in tree")
)

// Leaf returns keccak256(keccak256(abi.encode(addr, amount))).
func Leaf(addr common.Address, amount *big.Int) common.Hash {
	encoded := make([]byte, 0, 64)
	encoded = append(encoded, common.LeftPadBytes(addr.Bytes(), 32)...)
	encoded = append(encoded, common.LeftPadBytes(amount.Bytes(), 32)...)
	return crypto.Keccak256Hash(crypto.Keccak256(encoded))
}

// Tree is an immutable sorted-pair Merkle tree.
type Tree struct {
	layers [][]common.Hash
	index  map[common.Hash]int
}

// New builds a tree over leaves. Leaves are sorted first so the root does not
// depend on input order. An odd node is promoted to the next layer unchanged.
func New(leaves []common.Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}

	sorted := make([]common.Hash, len(leaves))
	copy(sorted, leaves)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})

	index := make(map[common.Hash]int, len(sorted))
	for i, l := range sorted {
		if _, dup := index[l]; dup {
			return nil, ErrDuplicateLeaf
		}
		index[l] = i
	}

	layers := [][]common.Hash{sorted}
	for cur := sorted; len(cur) > 1; {
		next := make([]common.Hash, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			if i+1 == len(cur) {
				next = append(next, cur[i])
				continue
			}
			next = append(next, hashPair(cur[i], cur[i+1]))
		}
		layers = append(layers, next)
		cur = next
	}

	return &Tree{layers: layers, index: index}, nil
}

// Root returns the tree root.
func (t *Tree) Root() common.Hash {
	return t.layers[len(t.layers)-1][0]
}

// Proof returns the sibling path from leaf to the root.
func (t *Tree) Proof(leaf common.Hash) ([]common.Hash, error) {
	pos, ok := t.index[leaf]
	if !ok {
		return nil, ErrLeafNotFound
	}

	proof := make([]common.Hash, 0, len(t.layers)-1)
	for _, layer := range t.layers[:len(t.layers)-1] {
		sibling := pos ^ 1
		if sibling < len(layer) {
			proof = append(proof, layer[sibling])
		}
		pos /= 2
	}
	return proof, nil
}

// Verify reports whether proof links leaf to root.
func Verify(proof []common.Hash, root, leaf common.Hash) bool {
	computed := leaf
	for _, p := range proof {
		computed = hashPair(computed, p)
	}
	return computed == root
}

func hashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return crypto.Keccak256Hash(a[:], b[:])
}
