package store

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/bwt-dev/bwt/internal/model"
)

// GetTx returns a copy of the wallet transaction entry for txid.
func (s *Store) GetTx(txid chainhash.Hash) (*model.TxEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.transactions[txid]
	if !ok {
		return nil, false
	}
	return entry.Clone(), true
}

// GetTxStatus returns the status of a wallet transaction.
func (s *Store) GetTxStatus(txid chainhash.Hash) (model.TxStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.transactions[txid]
	if !ok {
		return model.TxStatus{}, false
	}
	return entry.Status, true
}

// History returns the history rows of a scripthash in paging order.
func (s *Store) History(sh model.ScriptHash) []model.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	script, ok := s.scripts[sh]
	if !ok {
		return nil
	}
	rows := make([]model.HistoryEntry, 0, len(script.history))
	for txid, status := range script.history {
		rows = append(rows, model.HistoryEntry{TxID: txid, Status: status})
	}
	model.SortHistory(rows)
	return rows
}

// HasHistory reports whether the scripthash has any history rows.
func (s *Store) HasHistory(sh model.ScriptHash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	script, ok := s.scripts[sh]
	return ok && len(script.history) > 0
}

// HistoryCount returns the number of history rows of a scripthash.
func (s *Store) HistoryCount(sh model.ScriptHash) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	script, ok := s.scripts[sh]
	if !ok {
		return 0
	}
	return len(script.history)
}

// TxsSince returns every wallet transaction confirmed at or above minHeight
// plus all unconfirmed ones, in paging order (confirmed ascending first).
func (s *Store) TxsSince(minHeight int32) []*model.TxEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []model.HistoryEntry
	for txid, entry := range s.transactions {
		switch entry.Status.Kind {
		case model.StatusConfirmed:
			if entry.Status.Height >= minHeight {
				rows = append(rows, model.HistoryEntry{TxID: txid, Status: entry.Status})
			}
		case model.StatusUnconfirmed:
			rows = append(rows, model.HistoryEntry{TxID: txid, Status: entry.Status})
		}
	}
	model.SortHistory(rows)

	entries := make([]*model.TxEntry, len(rows))
	for i, row := range rows {
		entries[i] = s.transactions[row.TxID].Clone()
	}
	return entries
}

// UtxoFilter narrows Utxos listings.
type UtxoFilter struct {
	ScriptHash *model.ScriptHash
}

// Utxos returns the current UTXO set, optionally narrowed by filter.
func (s *Store) Utxos(filter UtxoFilter) []model.Utxo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	utxos := make([]model.Utxo, 0, len(s.utxos))
	for _, utxo := range s.utxos {
		if filter.ScriptHash != nil && utxo.ScriptHash != *filter.ScriptHash {
			continue
		}
		utxos = append(utxos, utxo)
	}
	return utxos
}

// GetUtxo returns the UTXO at outpoint, if the wallet owns it and it is
// unspent. With spend tracking enabled, spent txos are still returned with
// their SpentBy edge populated.
func (s *Store) GetUtxo(outpoint wire.OutPoint) (model.Utxo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if utxo, ok := s.utxos[outpoint]; ok {
		return utxo, true
	}
	if !s.trackSpends {
		return model.Utxo{}, false
	}
	spender, ok := s.txoSpends[outpoint]
	if !ok {
		return model.Utxo{}, false
	}
	funder, ok := s.transactions[outpoint.Hash]
	if !ok {
		return model.Utxo{}, false
	}
	funding, ok := funder.Funding[outpoint.Index]
	if !ok {
		return model.Utxo{}, false
	}
	return model.Utxo{
		OutPoint:   outpoint,
		ScriptHash: funding.ScriptHash,
		Amount:     funding.Amount,
		Status:     funder.Status,
		SpentBy:    &spender,
	}, true
}

// LookupFunding returns the funding info of a wallet-owned outpoint.
func (s *Store) LookupFunding(outpoint wire.OutPoint) (model.FundingInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.transactions[outpoint.Hash]
	if !ok {
		return model.FundingInfo{}, false
	}
	funding, ok := entry.Funding[outpoint.Index]
	return funding, ok
}

// LookupSpend returns the input that consumed outpoint, when spend tracking
// is enabled.
func (s *Store) LookupSpend(outpoint wire.OutPoint) (model.InPoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spender, ok := s.txoSpends[outpoint]
	return spender, ok
}

// Balance sums the confirmed and unconfirmed UTXO amounts of a scripthash.
func (s *Store) Balance(sh model.ScriptHash) (confirmed, unconfirmed int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, utxo := range s.utxos {
		if utxo.ScriptHash != sh {
			continue
		}
		if utxo.Status.IsConfirmed() {
			confirmed += utxo.Amount
		} else {
			unconfirmed += utxo.Amount
		}
	}
	return confirmed, unconfirmed
}

// Stats summarizes the index for debugging surfaces.
type Stats struct {
	Scripts      int `json:"scripts"`
	Transactions int `json:"transactions"`
	Utxos        int `json:"utxos"`
	TxoSpends    int `json:"txo_spends"`
}

// Stat returns current table sizes.
func (s *Store) Stat() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Scripts:      len(s.scripts),
		Transactions: len(s.transactions),
		Utxos:        len(s.utxos),
		TxoSpends:    len(s.txoSpends),
	}
}

// FindByAddress resolves a tracked address to its ScriptInfo.
func (s *Store) FindByAddress(address string) (model.ScriptInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.addrIndex[address]
	if !ok {
		return model.ScriptInfo{}, false
	}
	return s.scripts[sh].info, true
}
