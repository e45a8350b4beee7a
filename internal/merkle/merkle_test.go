package merkle

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

func txid(seed byte) chainhash.Hash {
	var hash chainhash.Hash
	hash[0] = seed
	return hash
}

func TestProofRoundTripsToSameRoot(t *testing.T) {
	t.Parallel()

	// odd and even block sizes, every position
	for _, size := range []int{1, 2, 3, 7, 8, 13} {
		txids := make([]chainhash.Hash, size)
		for i := range txids {
			txids[i] = txid(byte(i + 1))
		}

		var expectedRoot *chainhash.Hash
		for pos, target := range txids {
			branch, err := Proof(txids, target)
			require.NoError(t, err)
			require.Equal(t, pos, branch.Position)

			root := Root(target, branch)
			if expectedRoot == nil {
				expectedRoot = &root
			}
			require.Equal(t, *expectedRoot, root,
				"size %d pos %d folds to the block root", size, pos)
		}
	}
}

func TestProofBranchDepth(t *testing.T) {
	t.Parallel()

	txids := make([]chainhash.Hash, 8)
	for i := range txids {
		txids[i] = txid(byte(i + 1))
	}
	branch, err := Proof(txids, txids[5])
	require.NoError(t, err)
	require.Len(t, branch.Hashes, 3, "log2(8) levels")

	single := []chainhash.Hash{txid(1)}
	branch, err = Proof(single, txid(1))
	require.NoError(t, err)
	require.Empty(t, branch.Hashes)
	require.Equal(t, txid(1), Root(txid(1), branch), "a single tx is its own root")
}

func TestProofUnknownTx(t *testing.T) {
	t.Parallel()

	_, err := Proof([]chainhash.Hash{txid(1)}, txid(9))
	require.Error(t, err)
}
