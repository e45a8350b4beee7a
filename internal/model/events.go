package model

import (
	"encoding/json"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ChangeCategory names an IndexChange variant on the wire.
type ChangeCategory string

const (
	CategoryChainTip            ChangeCategory = "chain_tip"
	CategoryReorg               ChangeCategory = "reorg"
	CategoryTransaction         ChangeCategory = "transaction"
	CategoryTransactionReplaced ChangeCategory = "transaction_replaced"
	CategoryTxoFunded           ChangeCategory = "txo_funded"
	CategoryTxoSpent            ChangeCategory = "txo_spent"
)

// IndexChange is one event produced by an indexer cycle. Implementations are
// small value structs; subscribers switch on the concrete type or filter by
// Category.
type IndexChange interface {
	Category() ChangeCategory
}

// ChainTipChange announces the tip observed at the end of a cycle. It is
// always the last event of the cycle that produced it.
type ChainTipChange struct {
	Tip BlockId
}

func (ChainTipChange) Category() ChangeCategory { return CategoryChainTip }

// ReorgChange announces that blocks from Height upward were replaced.
type ReorgChange struct {
	Height   int32
	PrevHash chainhash.Hash
	CurrHash chainhash.Hash
}

func (ReorgChange) Category() ChangeCategory { return CategoryReorg }

// TransactionChange announces a new wallet transaction or a status change of
// a known one. Height is nil while unconfirmed.
type TransactionChange struct {
	TxID   chainhash.Hash
	Height *int32
}

func (TransactionChange) Category() ChangeCategory { return CategoryTransaction }

// TransactionReplacedChange announces that a wallet transaction was replaced
// or double spent and left the wallet history.
type TransactionReplacedChange struct {
	TxID chainhash.Hash
}

func (TransactionReplacedChange) Category() ChangeCategory { return CategoryTransactionReplaced }

// TxoFundedChange announces a new wallet-owned output.
type TxoFundedChange struct {
	OutPoint   wire.OutPoint
	ScriptHash ScriptHash
	Amount     int64
	Height     *int32
}

func (TxoFundedChange) Category() ChangeCategory { return CategoryTxoFunded }

// TxoSpentChange announces that a wallet-owned output was consumed.
type TxoSpentChange struct {
	InPoint    InPoint
	ScriptHash ScriptHash
	Prevout    wire.OutPoint
	Height     *int32
}

func (TxoSpentChange) Category() ChangeCategory { return CategoryTxoSpent }

// ScriptHashOf returns the scripthash an event concerns, if any. Used by
// subscriber filters.
func ScriptHashOf(change IndexChange) (ScriptHash, bool) {
	switch c := change.(type) {
	case TxoFundedChange:
		return c.ScriptHash, true
	case TxoSpentChange:
		return c.ScriptHash, true
	default:
		return ScriptHash{}, false
	}
}

// OutPointOf returns the outpoint an event concerns, if any.
func OutPointOf(change IndexChange) (wire.OutPoint, bool) {
	switch c := change.(type) {
	case TxoFundedChange:
		return c.OutPoint, true
	case TxoSpentChange:
		return c.Prevout, true
	default:
		return wire.OutPoint{}, false
	}
}

type changeEnvelope struct {
	Category ChangeCategory `json:"category"`
	Params   interface{}    `json:"params"`
}

// MarshalChange renders an event in the envelope used by the SSE and webhook
// surfaces: {"category": ..., "params": {...}}.
func MarshalChange(change IndexChange) ([]byte, error) {
	var params interface{}
	switch c := change.(type) {
	case ChainTipChange:
		params = struct {
			Height int32  `json:"height"`
			Hash   string `json:"hash"`
		}{c.Tip.Height, c.Tip.Hash.String()}
	case ReorgChange:
		params = struct {
			Height   int32  `json:"height"`
			PrevHash string `json:"prev_hash"`
			CurrHash string `json:"curr_hash"`
		}{c.Height, c.PrevHash.String(), c.CurrHash.String()}
	case TransactionChange:
		params = struct {
			TxID   string `json:"txid"`
			Height *int32 `json:"height"`
		}{c.TxID.String(), c.Height}
	case TransactionReplacedChange:
		params = struct {
			TxID string `json:"txid"`
		}{c.TxID.String()}
	case TxoFundedChange:
		params = struct {
			OutPoint   string     `json:"outpoint"`
			ScriptHash ScriptHash `json:"scripthash"`
			Amount     int64      `json:"amount"`
			Height     *int32     `json:"height"`
		}{c.OutPoint.String(), c.ScriptHash, c.Amount, c.Height}
	case TxoSpentChange:
		params = struct {
			InPoint    string     `json:"inpoint"`
			ScriptHash ScriptHash `json:"scripthash"`
			Prevout    string     `json:"prevout"`
			Height     *int32     `json:"height"`
		}{c.InPoint.String(), c.ScriptHash, c.Prevout.String(), c.Height}
	}
	return json.Marshal(changeEnvelope{Category: change.Category(), Params: params})
}
