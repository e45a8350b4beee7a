package query

import (
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/neutrino/cache"
)

// GetRawTxHex returns the serialized transaction, from an LRU cache of
// earlier node lookups when possible and the node otherwise. Works for non-wallet txids on
// txindex-enabled nodes.
func (q *Query) GetRawTxHex(txid chainhash.Hash) (string, error) {
	if cached, err := q.fees.rawTxs.Get(txid); err == nil {
		return cached.hex, nil
	} else if err != cache.ErrElementNotFound {
		return "", err
	}

	txHex, err := q.client.GetRawTransactionHex(txid)
	if err != nil {
		return "", err
	}
	if _, err := q.fees.rawTxs.Put(txid, &cachedRawTx{hex: txHex}); err != nil {
		return "", err
	}
	return txHex, nil
}

// GetTxVerbose passes the node's decoded transaction view through.
func (q *Query) GetTxVerbose(txid chainhash.Hash) (*btcjson.TxRawResult, error) {
	return q.client.GetRawTransactionVerbose(txid)
}

// GetBlockHash returns the best-chain hash at height.
func (q *Query) GetBlockHash(height int32) (chainhash.Hash, error) {
	return q.client.GetBlockHash(height)
}

// GetHeaderHex returns the raw serialized header at height.
func (q *Query) GetHeaderHex(height int32) (string, error) {
	hash, err := q.client.GetBlockHash(height)
	if err != nil {
		return "", err
	}
	return q.client.GetBlockHeaderHex(hash)
}

// GetBlockTxids returns the txids of the block at height, in block order.
func (q *Query) GetBlockTxids(height int32) ([]chainhash.Hash, error) {
	hash, err := q.client.GetBlockHash(height)
	if err != nil {
		return nil, err
	}
	txidStrs, err := q.client.GetBlockTxids(hash)
	if err != nil {
		return nil, err
	}
	txids := make([]chainhash.Hash, len(txidStrs))
	for i, s := range txidStrs {
		parsed, err := chainhash.NewHashFromStr(s)
		if err != nil {
			return nil, err
		}
		txids[i] = *parsed
	}
	return txids, nil
}
