package electrum

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bwt-dev/bwt/internal/merkle"
	"github.com/bwt-dev/bwt/internal/model"
	"github.com/bwt-dev/bwt/internal/query"
)

const (
	// maxHeaderChunk caps blockchain.block.headers responses.
	maxHeaderChunk = 2016

	donationAddress = "bc1qmuagsjvq0lh3admnafk0qnlql0vvxv08au9l2d"
)

func (c *connState) dispatch(ctx context.Context, req *request) (interface{}, error) {
	q := c.server.query
	switch req.Method {

	case "server.version":
		return []string{ServerVersion, ProtocolVersion}, nil

	case "server.banner":
		return fmt.Sprintf("Welcome to %s, a personal Electrum server backed by your own Bitcoin node", ServerVersion), nil

	case "server.ping":
		return nil, nil

	case "server.donation_address":
		return donationAddress, nil

	case "server.peers.subscribe":
		return []interface{}{}, nil

	case "blockchain.headers.subscribe":
		c.mu.Lock()
		c.headersSubbed = true
		c.mu.Unlock()
		tip, ok := q.Tip()
		if !ok {
			return nil, &rpcError{Code: 1, Message: "index not synced yet"}
		}
		headerHex, err := q.GetHeaderHex(tip.Height)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"height": tip.Height, "hex": headerHex}, nil

	case "blockchain.block.header":
		var height int32
		if err := parseParams(req.Params, &height); err != nil {
			return nil, err
		}
		return q.GetHeaderHex(height)

	case "blockchain.block.headers":
		var start, count int32
		if err := parseParams(req.Params, &start, &count); err != nil {
			return nil, err
		}
		if count > maxHeaderChunk {
			count = maxHeaderChunk
		}
		var sb strings.Builder
		fetched := int32(0)
		for height := start; height < start+count; height++ {
			headerHex, err := q.GetHeaderHex(height)
			if err != nil {
				break
			}
			sb.WriteString(headerHex)
			fetched++
		}
		return map[string]interface{}{
			"hex":   sb.String(),
			"count": fetched,
			"max":   maxHeaderChunk,
		}, nil

	case "blockchain.estimatefee":
		var target int64
		if err := parseParams(req.Params, &target); err != nil {
			return nil, err
		}
		rate, err := q.FeeEstimate(target)
		if err != nil {
			return nil, err
		}
		if rate == nil {
			return -1, nil
		}
		return satPerVbToBtcPerKb(*rate), nil

	case "blockchain.relayfee":
		rate, err := q.RelayFee()
		if err != nil {
			return nil, err
		}
		return satPerVbToBtcPerKb(rate), nil

	case "blockchain.scripthash.get_balance":
		sh, err := scriptHashParam(req.Params)
		if err != nil {
			return nil, err
		}
		confirmed, unconfirmed := q.Balance(sh)
		return map[string]int64{"confirmed": confirmed, "unconfirmed": unconfirmed}, nil

	case "blockchain.scripthash.get_history":
		sh, err := scriptHashParam(req.Params)
		if err != nil {
			return nil, err
		}
		rows := q.ListHistory(sh)
		history := make([]interface{}, 0, len(rows))
		for _, row := range rows {
			item := map[string]interface{}{
				"tx_hash": row.TxID.String(),
				"height":  row.Status.ElectrumHeight(),
			}
			if row.Status.IsUnconfirmed() {
				if entry, err := q.GetTx(row.TxID); err == nil && entry.Fee != nil {
					item["fee"] = *entry.Fee
				}
			}
			history = append(history, item)
		}
		return history, nil

	case "blockchain.scripthash.listunspent":
		sh, err := scriptHashParam(req.Params)
		if err != nil {
			return nil, err
		}
		utxos := q.ListUtxos(query.UtxoOptions{IncludeUnsafe: true, ScriptHash: &sh})
		unspent := make([]interface{}, 0, len(utxos))
		for _, utxo := range utxos {
			unspent = append(unspent, map[string]interface{}{
				"tx_hash": utxo.OutPoint.Hash.String(),
				"tx_pos":  utxo.OutPoint.Index,
				"height":  utxo.Status.ElectrumHeight(),
				"value":   utxo.Amount,
			})
		}
		return unspent, nil

	case "blockchain.scripthash.subscribe":
		sh, err := scriptHashParam(req.Params)
		if err != nil {
			return nil, err
		}
		status := statusHash(q.ListHistory(sh))
		c.mu.Lock()
		c.scriptSubs[sh] = status
		c.mu.Unlock()
		if status == "" {
			return nil, nil
		}
		return status, nil

	case "blockchain.scripthash.unsubscribe":
		sh, err := scriptHashParam(req.Params)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		_, subbed := c.scriptSubs[sh]
		delete(c.scriptSubs, sh)
		c.mu.Unlock()
		return subbed, nil

	case "blockchain.transaction.get":
		var txidStr string
		verbose := false
		if err := parseParams(req.Params, &txidStr); err != nil {
			return nil, err
		}
		if len(req.Params) > 1 {
			_ = json.Unmarshal(req.Params[1], &verbose)
		}
		txid, err := chainhash.NewHashFromStr(txidStr)
		if err != nil {
			return nil, err
		}
		if verbose {
			return q.GetTxVerbose(*txid)
		}
		return q.GetRawTxHex(*txid)

	case "blockchain.transaction.broadcast":
		var txHex string
		if err := parseParams(req.Params, &txHex); err != nil {
			return nil, err
		}
		txid, err := c.server.broadcaster.Broadcast(ctx, txHex)
		if err != nil {
			return nil, &rpcError{Code: 1, Message: err.Error()}
		}
		return txid.String(), nil

	case "blockchain.transaction.get_merkle":
		var txidStr string
		var height int32
		if err := parseParams(req.Params, &txidStr, &height); err != nil {
			return nil, err
		}
		txid, err := chainhash.NewHashFromStr(txidStr)
		if err != nil {
			return nil, err
		}
		txids, err := q.GetBlockTxids(height)
		if err != nil {
			return nil, err
		}
		branch, err := merkle.Proof(txids, *txid)
		if err != nil {
			return nil, err
		}
		hashes := make([]string, len(branch.Hashes))
		for i, hash := range branch.Hashes {
			hashes[i] = hash.String()
		}
		return map[string]interface{}{
			"merkle":       hashes,
			"block_height": height,
			"pos":          branch.Position,
		}, nil

	case "blockchain.transaction.id_from_pos":
		var height int32
		var pos int
		if err := parseParams(req.Params, &height, &pos); err != nil {
			return nil, err
		}
		withMerkle := false
		if len(req.Params) > 2 {
			_ = json.Unmarshal(req.Params[2], &withMerkle)
		}
		txids, err := q.GetBlockTxids(height)
		if err != nil {
			return nil, err
		}
		if pos < 0 || pos >= len(txids) {
			return nil, fmt.Errorf("no transaction at position %d in block %d", pos, height)
		}
		if !withMerkle {
			return txids[pos].String(), nil
		}
		branch, err := merkle.Proof(txids, txids[pos])
		if err != nil {
			return nil, err
		}
		hashes := make([]string, len(branch.Hashes))
		for i, hash := range branch.Hashes {
			hashes[i] = hash.String()
		}
		return map[string]interface{}{
			"tx_hash": txids[pos].String(),
			"merkle":  hashes,
		}, nil

	case "mempool.get_fee_histogram":
		return q.FeeHistogram()

	default:
		return nil, &rpcError{Code: -32601, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

// statusHash computes the Electrum status of a script: the sha256 of the
// concatenated "txid:height:" rows in protocol order, or "" for no history.
func statusHash(rows []model.HistoryEntry) string {
	if len(rows) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, row := range rows {
		fmt.Fprintf(&sb, "%s:%d:", row.TxID, row.Status.ElectrumHeight())
	}
	digest := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(digest[:])
}

func scriptHashParam(params []json.RawMessage) (model.ScriptHash, error) {
	var shStr string
	if err := parseParams(params, &shStr); err != nil {
		return model.ScriptHash{}, err
	}
	return model.ParseScriptHash(shStr)
}

func parseParams(params []json.RawMessage, dests ...interface{}) error {
	if len(params) < len(dests) {
		return &rpcError{Code: -32602, Message: "missing parameters"}
	}
	for i, dest := range dests {
		if err := json.Unmarshal(params[i], dest); err != nil {
			return &rpcError{Code: -32602, Message: fmt.Sprintf("invalid parameter %d: %v", i, err)}
		}
	}
	return nil
}

func satPerVbToBtcPerKb(satPerVb float64) float64 {
	return satPerVb * 1000 / 1e8
}
