// Package node adapts the subset of the bitcoind RPC surface the tracker
// consumes into typed calls. Chain-side queries go through the btcd rpcclient
// typed methods; wallet-side calls that need watch-only or label fields are
// issued through RawRequest and decoded into the package's own result types.
package node

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"

	"github.com/bwt-dev/bwt/internal/model"
)

// Client is the instrumented bitcoind adapter.
type Client struct {
	rpc        *rpcclient.Client
	rpcMetrics RPCMetrics
}

// New constructs a Client over an established rpcclient connection.
func New(rpc *rpcclient.Client, rpcMetrics RPCMetrics) *Client {
	return &Client{rpc: rpc, rpcMetrics: rpcMetrics}
}

// Connect dials bitcoind over HTTP POST with the given credentials, targeting
// the named wallet endpoint when walletName is set.
func Connect(host, user, pass, walletName string, rpcMetrics RPCMetrics) (*Client, error) {
	if walletName != "" {
		host += "/wallet/" + walletName
	}
	rpc, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         host,
		User:         user,
		Pass:         pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("connect bitcoind: %w", err)
	}
	return New(rpc, rpcMetrics), nil
}

// Shutdown tears the RPC connection down and waits for in-flight requests.
func (c *Client) Shutdown() {
	c.rpc.Shutdown()
	c.rpc.WaitForShutdown()
}

func (c *Client) observe(op string, err error, started time.Time) {
	if c.rpcMetrics != nil {
		c.rpcMetrics.Observe(op, err, started)
	}
}

// GetChainTip returns the node's best block. The height/hash pair is read
// twice and retried until stable, so the two cannot straddle a new block.
func (c *Client) GetChainTip() (tip model.BlockId, err error) {
	started := time.Now()
	defer func() { c.observe("get_chain_tip", err, started) }()

	for {
		hash, err := c.rpc.GetBestBlockHash()
		if err != nil {
			return model.BlockId{}, err
		}
		header, err := c.rpc.GetBlockHeaderVerbose(hash)
		if err != nil {
			return model.BlockId{}, err
		}
		recheck, err := c.rpc.GetBestBlockHash()
		if err != nil {
			return model.BlockId{}, err
		}
		if *recheck == *hash {
			return model.BlockId{Height: header.Height, Hash: *hash}, nil
		}
	}
}

// GetBlockHash returns the hash of the best-chain block at height.
func (c *Client) GetBlockHash(height int32) (hash chainhash.Hash, err error) {
	started := time.Now()
	defer func() { c.observe("get_block_hash", err, started) }()

	h, err := c.rpc.GetBlockHash(int64(height))
	if err != nil {
		return chainhash.Hash{}, err
	}
	return *h, nil
}

// GetBlockHeaderVerbose returns the decoded header with confirmations.
func (c *Client) GetBlockHeaderVerbose(hash chainhash.Hash) (header *btcjson.GetBlockHeaderVerboseResult, err error) {
	started := time.Now()
	defer func() { c.observe("get_block_header", err, started) }()
	return c.rpc.GetBlockHeaderVerbose(&hash)
}

// GetBlockHeaderHex returns the raw serialized header.
func (c *Client) GetBlockHeaderHex(hash chainhash.Hash) (headerHex string, err error) {
	started := time.Now()
	defer func() { c.observe("get_block_header_hex", err, started) }()

	raw, err := c.rawRequest("getblockheader", hash.String(), false)
	if err != nil {
		return "", err
	}
	err = json.Unmarshal(raw, &headerHex)
	return headerHex, err
}

// GetBlockTxids returns the txids of a block in block order.
func (c *Client) GetBlockTxids(hash chainhash.Hash) (txids []string, err error) {
	started := time.Now()
	defer func() { c.observe("get_block_txids", err, started) }()

	raw, err := c.rawRequest("getblock", hash.String(), 1)
	if err != nil {
		return nil, err
	}
	var block struct {
		Tx []string `json:"tx"`
	}
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, err
	}
	return block.Tx, nil
}

// GetBlockchainInfo returns chain, sync and pruning state.
func (c *Client) GetBlockchainInfo() (info *BlockchainInfo, err error) {
	started := time.Now()
	defer func() { c.observe("get_blockchain_info", err, started) }()

	raw, err := c.rawRequest("getblockchaininfo")
	if err != nil {
		return nil, err
	}
	info = &BlockchainInfo{}
	if err := json.Unmarshal(raw, info); err != nil {
		return nil, err
	}
	return info, nil
}

// GetRawTransactionHex returns the serialized transaction.
func (c *Client) GetRawTransactionHex(txid chainhash.Hash) (txHex string, err error) {
	started := time.Now()
	defer func() { c.observe("get_raw_transaction", err, started) }()

	raw, err := c.rawRequest("getrawtransaction", txid.String(), false)
	if err != nil {
		return "", err
	}
	err = json.Unmarshal(raw, &txHex)
	return txHex, err
}

// GetRawTransactionVerbose returns the decoded transaction.
func (c *Client) GetRawTransactionVerbose(txid chainhash.Hash) (tx *btcjson.TxRawResult, err error) {
	started := time.Now()
	defer func() { c.observe("get_raw_transaction_verbose", err, started) }()
	return c.rpc.GetRawTransactionVerbose(&txid)
}

// SendRawTransaction broadcasts a serialized transaction and returns its
// txid. Errors are returned verbatim and never retried.
func (c *Client) SendRawTransaction(txHex string) (txid chainhash.Hash, err error) {
	started := time.Now()
	defer func() { c.observe("send_raw_transaction", err, started) }()

	if _, err := hex.DecodeString(txHex); err != nil {
		return chainhash.Hash{}, fmt.Errorf("invalid transaction hex: %w", err)
	}
	raw, err := c.rawRequest("sendrawtransaction", txHex)
	if err != nil {
		return chainhash.Hash{}, err
	}
	var txidStr string
	if err := json.Unmarshal(raw, &txidStr); err != nil {
		return chainhash.Hash{}, err
	}
	parsed, err := chainhash.NewHashFromStr(txidStr)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return *parsed, nil
}

// rawRequest marshals params and issues a raw JSON-RPC call.
func (c *Client) rawRequest(method string, params ...interface{}) (json.RawMessage, error) {
	rawParams := make([]json.RawMessage, len(params))
	for i, param := range params {
		marshalled, err := json.Marshal(param)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal param %d: %w", method, i, err)
		}
		rawParams[i] = marshalled
	}
	result, err := c.rpc.RawRequest(method, rawParams)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return result, nil
}
