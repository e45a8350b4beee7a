package model

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// InPoint references a transaction input, the spending counterpart of a
// wire.OutPoint.
type InPoint struct {
	TxID chainhash.Hash
	Vin  uint32
}

// MarshalJSON renders the inpoint with a txid string.
func (p InPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TxID string `json:"txid"`
		Vin  uint32 `json:"vin"`
	}{p.TxID.String(), p.Vin})
}

func (p InPoint) String() string {
	return fmt.Sprintf("%s:%d", p.TxID, p.Vin)
}

// FundingInfo describes a wallet-owned output of a transaction.
type FundingInfo struct {
	ScriptHash ScriptHash `json:"scripthash"`
	Amount     int64      `json:"amount"`
}

// SpendingInfo describes a wallet-owned input of a transaction, with the
// prevout it consumes.
type SpendingInfo struct {
	ScriptHash ScriptHash    `json:"scripthash"`
	Prevout    wire.OutPoint `json:"-"`
	Amount     int64         `json:"amount"`
}

// MarshalJSON renders the prevout in its txid:vout string form.
func (s SpendingInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ScriptHash ScriptHash `json:"scripthash"`
		Prevout    string     `json:"prevout"`
		Amount     int64      `json:"amount"`
	}{s.ScriptHash, s.Prevout.String(), s.Amount})
}

// MempoolInfo carries the fee metadata available for mempool entries only.
type MempoolInfo struct {
	OwnVsize          int64 `json:"own_vsize"`
	OwnFee            int64 `json:"own_fee"`
	AncestorVsize     int64 `json:"ancestor_vsize"`
	AncestorFee       int64 `json:"ancestor_fee"`
	Bip125Replaceable bool  `json:"bip125_replaceable"`
}

// EffectiveFeerate is the package-aware feerate used for fee estimation
// displays: the lower of the transaction's own feerate and the feerate of the
// transaction together with its unconfirmed ancestors.
func (m MempoolInfo) EffectiveFeerate() float64 {
	own := float64(m.OwnFee) / float64(m.OwnVsize)
	pkg := float64(m.OwnFee+m.AncestorFee) / float64(m.OwnVsize+m.AncestorVsize)
	if pkg < own {
		return pkg
	}
	return own
}

// TxEntry is the wallet-scoped view of a transaction: which of its outputs
// pay the wallet and which of its inputs spend it.
type TxEntry struct {
	TxID     chainhash.Hash
	Status   TxStatus
	Fee      *int64
	Mempool  *MempoolInfo
	Funding  map[uint32]FundingInfo
	Spending map[uint32]SpendingInfo
}

// NewTxEntry creates an empty entry with the given status and optional fee.
func NewTxEntry(txid chainhash.Hash, status TxStatus, fee *int64) *TxEntry {
	return &TxEntry{
		TxID:     txid,
		Status:   status,
		Fee:      fee,
		Funding:  make(map[uint32]FundingInfo),
		Spending: make(map[uint32]SpendingInfo),
	}
}

// BalanceChange is the net effect of the transaction on the wallet in sats.
func (t *TxEntry) BalanceChange() int64 {
	var total int64
	for _, f := range t.Funding {
		total += f.Amount
	}
	for _, s := range t.Spending {
		total -= s.Amount
	}
	return total
}

// ScriptHashes returns the set of scripthashes touched by the transaction.
func (t *TxEntry) ScriptHashes() map[ScriptHash]struct{} {
	hashes := make(map[ScriptHash]struct{}, len(t.Funding)+len(t.Spending))
	for _, f := range t.Funding {
		hashes[f.ScriptHash] = struct{}{}
	}
	for _, s := range t.Spending {
		hashes[s.ScriptHash] = struct{}{}
	}
	return hashes
}

// FundingVouts returns the wallet-owned output indexes in ascending order.
func (t *TxEntry) FundingVouts() []uint32 {
	vouts := make([]uint32, 0, len(t.Funding))
	for vout := range t.Funding {
		vouts = append(vouts, vout)
	}
	sort.Slice(vouts, func(i, j int) bool { return vouts[i] < vouts[j] })
	return vouts
}

// SpendingVins returns the wallet-owned input indexes in ascending order.
func (t *TxEntry) SpendingVins() []uint32 {
	vins := make([]uint32, 0, len(t.Spending))
	for vin := range t.Spending {
		vins = append(vins, vin)
	}
	sort.Slice(vins, func(i, j int) bool { return vins[i] < vins[j] })
	return vins
}

// Clone returns a deep copy, so readers can hold entries past a write cycle.
func (t *TxEntry) Clone() *TxEntry {
	c := &TxEntry{
		TxID:     t.TxID,
		Status:   t.Status,
		Funding:  make(map[uint32]FundingInfo, len(t.Funding)),
		Spending: make(map[uint32]SpendingInfo, len(t.Spending)),
	}
	if t.Fee != nil {
		fee := *t.Fee
		c.Fee = &fee
	}
	if t.Mempool != nil {
		m := *t.Mempool
		c.Mempool = &m
	}
	for vout, f := range t.Funding {
		c.Funding[vout] = f
	}
	for vin, s := range t.Spending {
		c.Spending[vin] = s
	}
	return c
}

// Utxo is an unspent (or spend-tracked) wallet output.
type Utxo struct {
	OutPoint   wire.OutPoint
	ScriptHash ScriptHash
	Amount     int64
	Status     TxStatus
	SpentBy    *InPoint
}

// MarshalJSON renders the outpoint as txid:vout alongside split fields.
func (u Utxo) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TxID       string     `json:"txid"`
		Vout       uint32     `json:"vout"`
		ScriptHash ScriptHash `json:"scripthash"`
		Amount     int64      `json:"amount"`
		Status     TxStatus   `json:"status"`
		SpentBy    *InPoint   `json:"spent_by,omitempty"`
	}{u.OutPoint.Hash.String(), u.OutPoint.Index, u.ScriptHash, u.Amount, u.Status, u.SpentBy})
}

// HistoryEntry is one row of a script's history, ordered by status.
type HistoryEntry struct {
	TxID   chainhash.Hash
	Status TxStatus
}

// MarshalJSON renders the row with a txid string.
func (h HistoryEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TxID   string   `json:"txid"`
		Status TxStatus `json:"status"`
	}{h.TxID.String(), h.Status})
}

// Cmp orders history rows by (status, txid), the paging order of history
// listings: confirmed ascending, then unconfirmed, txid as the tie breaker.
func (h HistoryEntry) Cmp(other HistoryEntry) int {
	if c := h.Status.Cmp(other.Status); c != 0 {
		return c
	}
	switch {
	case h.TxID.String() < other.TxID.String():
		return -1
	case h.TxID.String() > other.TxID.String():
		return 1
	default:
		return 0
	}
}

// SortHistory sorts rows in place into paging order.
func SortHistory(rows []HistoryEntry) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Cmp(rows[j]) < 0 })
}
