package node

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ImportScripts registers a batch of scripts with the node's watch-only
// wallet via importmulti. The caller is expected to keep batches within a
// sane size; one RPC round trip covers the whole batch.
func (c *Client) ImportScripts(reqs []ImportRequest) (results []ImportResult, err error) {
	started := time.Now()
	defer func() { c.observe("import_scripts", err, started) }()

	type scriptPubKeyAddress struct {
		Address string `json:"address"`
	}
	type importReq struct {
		ScriptPubKey interface{} `json:"scriptPubKey"`
		Timestamp    interface{} `json:"timestamp"`
		Label        string      `json:"label,omitempty"`
		WatchOnly    bool        `json:"watchonly"`
	}

	wire := make([]importReq, len(reqs))
	for i, req := range reqs {
		var spk interface{}
		if req.Address != "" {
			spk = scriptPubKeyAddress{Address: req.Address}
		} else {
			spk = hex.EncodeToString(req.ScriptPubKey)
		}
		wire[i] = importReq{
			ScriptPubKey: spk,
			Timestamp:    req.RescanSince,
			Label:        req.Label,
			WatchOnly:    true,
		}
	}

	raw, err := c.rawRequest("importmulti", wire)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("importmulti: decode results: %w", err)
	}
	if len(results) != len(reqs) {
		return nil, fmt.Errorf("importmulti: %d results for %d requests", len(results), len(reqs))
	}
	return results, nil
}

// ListLabels returns every label known to the wallet.
func (c *Client) ListLabels() (labels []string, err error) {
	started := time.Now()
	defer func() { c.observe("list_labels", err, started) }()

	raw, err := c.rawRequest("listlabels")
	if err != nil {
		return nil, err
	}
	err = json.Unmarshal(raw, &labels)
	return labels, err
}

// ListSinceBlock returns wallet transactions added, changed or removed since
// the given block, including watch-only activity. A nil hash lists the whole
// wallet history.
func (c *Client) ListSinceBlock(since *chainhash.Hash) (result *ListSinceBlockResult, err error) {
	started := time.Now()
	defer func() { c.observe("list_since_block", err, started) }()

	var sinceArg interface{}
	if since != nil {
		sinceArg = since.String()
	}
	// target_confirmations=1, include_watchonly=true, include_removed=true
	raw, err := c.rawRequest("listsinceblock", sinceArg, 1, true, true)
	if err != nil {
		return nil, err
	}
	result = &ListSinceBlockResult{}
	if err := json.Unmarshal(raw, result); err != nil {
		return nil, fmt.Errorf("listsinceblock: decode: %w", err)
	}
	return result, nil
}

// GetWalletTransaction returns the wallet's view of txid with watch-only
// details and the raw hex.
func (c *Client) GetWalletTransaction(txid chainhash.Hash) (tx *WalletTx, err error) {
	started := time.Now()
	defer func() { c.observe("get_wallet_transaction", err, started) }()

	raw, err := c.rawRequest("gettransaction", txid.String(), true)
	if err != nil {
		return nil, err
	}
	tx = &WalletTx{}
	if err := json.Unmarshal(raw, tx); err != nil {
		return nil, fmt.Errorf("gettransaction: decode: %w", err)
	}
	return tx, nil
}

// GetMempoolEntry returns the fee metadata of a mempool transaction, or
// ErrMempoolEntryMissing when it is no longer there.
func (c *Client) GetMempoolEntry(txid chainhash.Hash) (entry *MempoolEntry, err error) {
	started := time.Now()
	defer func() { c.observe("get_mempool_entry", err, started) }()

	raw, err := c.rawRequest("getmempoolentry", txid.String())
	if err != nil {
		if isMissingMempoolEntry(err) {
			return nil, ErrMempoolEntryMissing
		}
		return nil, err
	}
	entry = &MempoolEntry{}
	if err := json.Unmarshal(raw, entry); err != nil {
		return nil, fmt.Errorf("getmempoolentry: decode: %w", err)
	}
	return entry, nil
}
