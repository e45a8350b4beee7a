// Package merkle computes the partial merkle branches served to Electrum
// clients for SPV verification.
package merkle

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Branch is the merkle path of one transaction within a block.
type Branch struct {
	Hashes   []chainhash.Hash
	Position int
}

// Proof builds the branch for target within the block's txids, in block
// order. The sibling at each level is recorded bottom-up; odd levels pair
// the last node with itself, as in block merkle construction.
func Proof(txids []chainhash.Hash, target chainhash.Hash) (Branch, error) {
	position := -1
	for i, txid := range txids {
		if txid == target {
			position = i
			break
		}
	}
	if position < 0 {
		return Branch{}, fmt.Errorf("transaction %s not found in block", target)
	}

	branch := Branch{Position: position}
	level := append([]chainhash.Hash(nil), txids...)
	index := position

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}

		sibling := index ^ 1
		branch.Hashes = append(branch.Hashes, level[sibling])

		next := make([]chainhash.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = hashPair(level[i], level[i+1])
		}
		level = next
		index /= 2
	}
	return branch, nil
}

// Root folds a branch back to the merkle root, for verification in tests.
func Root(target chainhash.Hash, branch Branch) chainhash.Hash {
	current := target
	index := branch.Position
	for _, sibling := range branch.Hashes {
		if index%2 == 0 {
			current = hashPair(current, sibling)
		} else {
			current = hashPair(sibling, current)
		}
		index /= 2
	}
	return current
}

func hashPair(left, right chainhash.Hash) chainhash.Hash {
	var data [64]byte
	copy(data[:32], left[:])
	copy(data[32:], right[:])
	return chainhash.DoubleHashH(data[:])
}
