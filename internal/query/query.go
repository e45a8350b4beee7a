// Package query answers reads against the store with consistent-snapshot
// semantics. No query ever triggers a sync; results reflect the last
// completed indexer cycle.
package query

import (
	"errors"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"

	"github.com/bwt-dev/bwt/internal/model"
	"github.com/bwt-dev/bwt/internal/store"
	"github.com/bwt-dev/bwt/internal/wallet"
)

// ErrTxNotFound is returned for txids the wallet does not know.
var ErrTxNotFound = errors.New("transaction not found in wallet index")

// Query is the read-only projection over the store and registry.
type Query struct {
	logger   *zap.Logger
	store    *store.Store
	registry *wallet.Registry
	client   NodeClient
	fees     *feeCache
}

// New creates a query engine.
func New(logger *zap.Logger, st *store.Store, registry *wallet.Registry, client NodeClient) *Query {
	return &Query{
		logger:   logger.Named("query"),
		store:    st,
		registry: registry,
		client:   client,
		fees:     newFeeCache(),
	}
}

// Tip returns the chain tip of the last completed cycle.
func (q *Query) Tip() (model.BlockId, bool) {
	return q.store.Tip()
}

// GetWallets returns every tracked wallet keyed by checksum.
func (q *Query) GetWallets() map[model.Checksum]wallet.Info {
	return q.registry.Wallets()
}

// GetWallet returns one wallet's snapshot.
func (q *Query) GetWallet(checksum model.Checksum) (wallet.Info, error) {
	w, err := q.registry.Get(checksum)
	if err != nil {
		return wallet.Info{}, err
	}
	return w.Info(), nil
}

// Derive returns the ScriptEntry of a wallet child, deriving on demand. It
// does not cause an import.
func (q *Query) Derive(checksum model.Checksum, index uint32) (model.ScriptInfo, error) {
	w, err := q.registry.Get(checksum)
	if err != nil {
		return model.ScriptInfo{}, err
	}
	info, _, err := w.Derive(index)
	return info, err
}

// GetNextUnused returns the lowest index whose script has no history.
// Non-wildcard wallets always answer 0.
func (q *Query) GetNextUnused(checksum model.Checksum) (uint32, model.ScriptInfo, error) {
	w, err := q.registry.Get(checksum)
	if err != nil {
		return 0, model.ScriptInfo{}, err
	}
	if !w.IsWildcard() {
		info, _, err := w.Derive(0)
		return 0, info, err
	}
	for index := uint32(0); ; index++ {
		info, _, err := w.Derive(index)
		if err != nil {
			return 0, model.ScriptInfo{}, err
		}
		if !q.store.HasHistory(info.ScriptHash) {
			return index, info, nil
		}
	}
}

// GetGap returns the longest run of consecutive history-less indexes up to
// the highest funded one. Unused indexes beyond the highest funded index are
// not counted, and a wallet with no funded index has a gap of 0.
func (q *Query) GetGap(checksum model.Checksum) (uint32, error) {
	w, err := q.registry.Get(checksum)
	if err != nil {
		return 0, err
	}
	return w.Gap(q.store)
}

// ScriptInfo resolves a tracked scripthash to its identity.
func (q *Query) ScriptInfo(sh model.ScriptHash) (model.ScriptInfo, bool) {
	return q.store.ScriptInfo(sh)
}

// ScriptStats summarizes a tracked script.
func (q *Query) ScriptStats(sh model.ScriptHash) (ScriptStats, bool) {
	info, ok := q.store.ScriptInfo(sh)
	if !ok {
		return ScriptStats{}, false
	}
	confirmed, unconfirmed := q.store.Balance(sh)
	return ScriptStats{
		Info:               info,
		TxCount:            q.store.HistoryCount(sh),
		ConfirmedBalance:   confirmed,
		UnconfirmedBalance: unconfirmed,
	}, true
}

// Balance sums confirmed and mempool balances of a scripthash.
func (q *Query) Balance(sh model.ScriptHash) (confirmed, unconfirmed int64) {
	return q.store.Balance(sh)
}

// ListHistory returns a script's history rows in paging order.
func (q *Query) ListHistory(sh model.ScriptHash) []model.HistoryEntry {
	return q.store.History(sh)
}

// ListUtxos returns the UTXO set filtered by confirmation depth and safety.
// A UTXO is unsafe when it is unconfirmed and either replaceable or received
// from a foreign transaction; missing mempool data counts as unsafe.
func (q *Query) ListUtxos(opts UtxoOptions) []model.Utxo {
	tip, hasTip := q.store.Tip()
	utxos := q.store.Utxos(store.UtxoFilter{ScriptHash: opts.ScriptHash})

	filtered := utxos[:0]
	for _, utxo := range utxos {
		confirmations := int32(0)
		if utxo.Status.IsConfirmed() && hasTip {
			confirmations = tip.Height - utxo.Status.Height + 1
		}
		if confirmations < opts.MinConf {
			continue
		}
		if !opts.IncludeUnsafe && !q.isSafe(utxo) {
			continue
		}
		filtered = append(filtered, utxo)
	}

	sort.Slice(filtered, func(i, j int) bool {
		a := model.HistoryEntry{TxID: filtered[i].OutPoint.Hash, Status: filtered[i].Status}
		b := model.HistoryEntry{TxID: filtered[j].OutPoint.Hash, Status: filtered[j].Status}
		if c := a.Cmp(b); c != 0 {
			return c < 0
		}
		return filtered[i].OutPoint.Index < filtered[j].OutPoint.Index
	})
	return filtered
}

func (q *Query) isSafe(utxo model.Utxo) bool {
	if utxo.Status.IsConfirmed() {
		return true
	}
	entry, ok := q.store.GetTx(utxo.OutPoint.Hash)
	if !ok || entry.Mempool == nil {
		return false
	}
	if entry.Mempool.Bip125Replaceable {
		return false
	}
	// foreign unconfirmed funds are unsafe; self-transfers spend our own txos
	return len(entry.Spending) > 0
}

// GetTx returns the wallet view of a transaction.
func (q *Query) GetTx(txid chainhash.Hash) (TxInfo, error) {
	entry, ok := q.store.GetTx(txid)
	if !ok {
		return TxInfo{}, ErrTxNotFound
	}
	return q.txInfo(entry), nil
}

// TxsSince returns wallet transactions confirmed at or above height plus all
// unconfirmed ones, oldest first.
func (q *Query) TxsSince(height int32) []TxInfo {
	entries := q.store.TxsSince(height)
	infos := make([]TxInfo, len(entries))
	for i, entry := range entries {
		infos[i] = q.txInfo(entry)
	}
	return infos
}

func (q *Query) txInfo(entry *model.TxEntry) TxInfo {
	info := TxInfo{
		TxID:          entry.TxID.String(),
		Status:        entry.Status,
		Fee:           entry.Fee,
		Mempool:       entry.Mempool,
		Funding:       []FundingItem{},
		Spending:      []SpendingItem{},
		BalanceChange: entry.BalanceChange(),
	}
	for _, vout := range entry.FundingVouts() {
		funding := entry.Funding[vout]
		item := FundingItem{
			Vout:       vout,
			ScriptHash: funding.ScriptHash,
			Amount:     funding.Amount,
		}
		if scriptInfo, ok := q.store.ScriptInfo(funding.ScriptHash); ok {
			item.Address = scriptInfo.Address
		}
		if q.store.TracksSpends() {
			if spender, ok := q.store.LookupSpend(wire.OutPoint{Hash: entry.TxID, Index: vout}); ok {
				spentBy := spender
				item.SpentBy = &spentBy
			}
		}
		info.Funding = append(info.Funding, item)
	}
	for _, vin := range entry.SpendingVins() {
		spending := entry.Spending[vin]
		item := SpendingItem{
			Vin:        vin,
			ScriptHash: spending.ScriptHash,
			Amount:     spending.Amount,
			Prevout:    spending.Prevout.String(),
		}
		if scriptInfo, ok := q.store.ScriptInfo(spending.ScriptHash); ok {
			item.Address = scriptInfo.Address
		}
		info.Spending = append(info.Spending, item)
	}
	return info
}

// GetUtxo looks a specific outpoint up.
func (q *Query) GetUtxo(txid chainhash.Hash, vout uint32) (model.Utxo, bool) {
	return q.store.GetUtxo(wire.OutPoint{Hash: txid, Index: vout})
}

// Stats exposes store table sizes for the debug surface.
func (q *Query) Stats() store.Stats {
	return q.store.Stat()
}

// ScriptInfoByAddress resolves a tracked address to its identity.
func (q *Query) ScriptInfoByAddress(address string) (model.ScriptInfo, bool) {
	return q.store.FindByAddress(address)
}
