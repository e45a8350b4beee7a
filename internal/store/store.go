// Package store holds the in-memory wallet index: tracked scripts, wallet
// transactions, history rows, unspent outputs and the recent-block memory
// used for reorg recovery. It is rebuilt from the node on every start.
//
// Exactly one writer (the indexer) mutates the store; readers share an
// RWMutex and observe complete cycles only. Entities reference each other by
// key (scripthash, txid, outpoint) rather than by pointer, so reorg rewrites
// stay local to the affected tables.
package store

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"

	"github.com/bwt-dev/bwt/internal/model"
)

// DefaultBlockMemory is how many recent block hashes are retained for reorg
// walk-back and event catch-up.
const DefaultBlockMemory = 100

type scriptEntry struct {
	info    model.ScriptInfo
	script  []byte
	history map[chainhash.Hash]model.TxStatus
}

// Store is the in-memory index. The zero value is not usable; use New.
type Store struct {
	mu sync.RWMutex

	logger *zap.Logger

	scripts      map[model.ScriptHash]*scriptEntry
	addrIndex    map[string]model.ScriptHash
	transactions map[chainhash.Hash]*model.TxEntry
	utxos        map[wire.OutPoint]model.Utxo
	txoSpends    map[wire.OutPoint]model.InPoint
	trackSpends  bool

	tip          *model.BlockId
	recentBlocks map[int32]chainhash.Hash
	blockMemory  int32
}

// New creates an empty store. When trackSpends is set the store maintains the
// outpoint→spending-input edge alongside the UTXO set.
func New(logger *zap.Logger, trackSpends bool, blockMemory int32) *Store {
	if blockMemory <= 0 {
		blockMemory = DefaultBlockMemory
	}
	return &Store{
		logger:       logger.Named("store"),
		scripts:      make(map[model.ScriptHash]*scriptEntry),
		addrIndex:    make(map[string]model.ScriptHash),
		transactions: make(map[chainhash.Hash]*model.TxEntry),
		utxos:        make(map[wire.OutPoint]model.Utxo),
		txoSpends:    make(map[wire.OutPoint]model.InPoint),
		trackSpends:  trackSpends,
		recentBlocks: make(map[int32]chainhash.Hash),
		blockMemory:  blockMemory,
	}
}

// TracksSpends reports whether the spend graph is maintained.
func (s *Store) TracksSpends() bool {
	return s.trackSpends
}

// TrackScript registers a script under its scripthash. Registering the same
// scripthash twice is a no-op; it returns true when the entry is new.
func (s *Store) TrackScript(info model.ScriptInfo, script []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scripts[info.ScriptHash]; ok {
		return false
	}
	s.scripts[info.ScriptHash] = &scriptEntry{
		info:    info,
		script:  append([]byte(nil), script...),
		history: make(map[chainhash.Hash]model.TxStatus),
	}
	s.addrIndex[info.Address] = info.ScriptHash
	s.logger.Debug("tracking new script",
		zap.Stringer("scripthash", info.ScriptHash),
		zap.String("address", info.Address),
		zap.Stringer("origin", info.Origin))
	return true
}

// IsTracked reports whether the scripthash belongs to the wallet.
func (s *Store) IsTracked(sh model.ScriptHash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.scripts[sh]
	return ok
}

// ScriptInfo returns the identity of a tracked scripthash.
func (s *Store) ScriptInfo(sh model.ScriptHash) (model.ScriptInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.scripts[sh]
	if !ok {
		return model.ScriptInfo{}, false
	}
	return entry.info, true
}

// UpsertTx creates or updates the entry for txid. It returns the previous
// status when an existing entry changed status, and whether anything changed.
func (s *Store) UpsertTx(txid chainhash.Hash, status model.TxStatus, fee *int64) (prev *model.TxStatus, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.transactions[txid]
	if !ok {
		s.transactions[txid] = model.NewTxEntry(txid, status, fee)
		s.logger.Debug("new wallet transaction", zap.Stringer("txid", &txid))
		return nil, true
	}

	if entry.Fee == nil && fee != nil {
		entry.Fee = fee
	}
	// the unconfirmed-parents flag is owned by the mempool enrichment;
	// wallet listings re-reporting "unconfirmed" must not reset it
	if entry.Status.Kind == model.StatusUnconfirmed && status.Kind == model.StatusUnconfirmed {
		status.HasUnconfirmedParents = entry.Status.HasUnconfirmedParents
	}
	if entry.Status == status {
		return nil, false
	}

	old := entry.Status
	entry.Status = status
	s.rewriteHistoryStatusLocked(entry, status)
	s.rewriteUtxoStatusLocked(entry, status)
	return &old, true
}

// AddFunding records a wallet-owned output of an existing transaction,
// creating the history row and UTXO. Returns true when the txo is new.
func (s *Store) AddFunding(txid chainhash.Hash, vout uint32, funding model.FundingInfo) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.transactions[txid]
	if !ok {
		s.logger.Error("funding for unknown transaction", zap.Stringer("txid", &txid))
		return false
	}
	if _, ok := entry.Funding[vout]; ok {
		return false
	}
	entry.Funding[vout] = funding

	s.indexHistoryLocked(funding.ScriptHash, txid, entry.Status)

	outpoint := wire.OutPoint{Hash: txid, Index: vout}
	utxo := model.Utxo{
		OutPoint:   outpoint,
		ScriptHash: funding.ScriptHash,
		Amount:     funding.Amount,
		Status:     entry.Status,
	}
	if spender, ok := s.txoSpends[outpoint]; ok && s.trackSpends {
		utxo.SpentBy = &spender
	}
	if utxo.SpentBy == nil {
		s.utxos[outpoint] = utxo
	}
	return true
}

// AddSpending records a wallet-owned input of an existing transaction and
// consumes the funded prevout. Returns true when the input is new.
func (s *Store) AddSpending(txid chainhash.Hash, vin uint32, spending model.SpendingInfo) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.transactions[txid]
	if !ok {
		s.logger.Error("spending for unknown transaction", zap.Stringer("txid", &txid))
		return false
	}
	if _, ok := entry.Spending[vin]; ok {
		return false
	}
	entry.Spending[vin] = spending

	s.indexHistoryLocked(spending.ScriptHash, txid, entry.Status)

	delete(s.utxos, spending.Prevout)
	if s.trackSpends {
		s.txoSpends[spending.Prevout] = model.InPoint{TxID: txid, Vin: vin}
	}
	return true
}

// PurgeTx removes a conflicted transaction: its history rows and the UTXOs it
// funded go away, and the prevouts it was spending come back. The removed
// entry is returned for event emission.
func (s *Store) PurgeTx(txid chainhash.Hash) (*model.TxEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.transactions[txid]
	if !ok {
		return nil, false
	}
	delete(s.transactions, txid)

	for sh := range entry.ScriptHashes() {
		if script, ok := s.scripts[sh]; ok {
			delete(script.history, txid)
		}
	}
	for _, vout := range entry.FundingVouts() {
		delete(s.utxos, wire.OutPoint{Hash: txid, Index: vout})
	}
	for _, vin := range entry.SpendingVins() {
		spending := entry.Spending[vin]
		if s.trackSpends {
			if spender, ok := s.txoSpends[spending.Prevout]; ok && spender.TxID == txid {
				delete(s.txoSpends, spending.Prevout)
			}
		}
		// restore the consumed prevout if its funding tx is still around
		if funder, ok := s.transactions[spending.Prevout.Hash]; ok {
			if funding, ok := funder.Funding[spending.Prevout.Index]; ok {
				s.utxos[spending.Prevout] = model.Utxo{
					OutPoint:   spending.Prevout,
					ScriptHash: funding.ScriptHash,
					Amount:     funding.Amount,
					Status:     funder.Status,
				}
			}
		}
	}

	s.logger.Info("purged conflicted transaction", zap.Stringer("txid", &txid))
	return entry, true
}

func (s *Store) indexHistoryLocked(sh model.ScriptHash, txid chainhash.Hash, status model.TxStatus) {
	script, ok := s.scripts[sh]
	if !ok {
		s.logger.Error("history for untracked scripthash", zap.Stringer("scripthash", sh))
		return
	}
	script.history[txid] = status
}

func (s *Store) rewriteHistoryStatusLocked(entry *model.TxEntry, status model.TxStatus) {
	for sh := range entry.ScriptHashes() {
		if script, ok := s.scripts[sh]; ok {
			if _, ok := script.history[entry.TxID]; ok {
				script.history[entry.TxID] = status
			}
		}
	}
}

func (s *Store) rewriteUtxoStatusLocked(entry *model.TxEntry, status model.TxStatus) {
	for _, vout := range entry.FundingVouts() {
		outpoint := wire.OutPoint{Hash: entry.TxID, Index: vout}
		if utxo, ok := s.utxos[outpoint]; ok {
			utxo.Status = status
			s.utxos[outpoint] = utxo
		}
	}
}

// UpdateMempool refreshes the mempool metadata of an unconfirmed
// transaction. A nil info clears the enrichment fields (the entry vanished
// between calls). hasUnconfirmedParents updates the status flag when given;
// the return value reports whether the status changed.
func (s *Store) UpdateMempool(txid chainhash.Hash, info *model.MempoolInfo, hasUnconfirmedParents *bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.transactions[txid]
	if !ok || !entry.Status.IsUnconfirmed() {
		return false
	}
	entry.Mempool = info
	if hasUnconfirmedParents == nil || entry.Status.HasUnconfirmedParents == *hasUnconfirmedParents {
		return false
	}
	status := model.UnconfirmedStatus(*hasUnconfirmedParents)
	entry.Status = status
	s.rewriteHistoryStatusLocked(entry, status)
	s.rewriteUtxoStatusLocked(entry, status)
	return true
}

// UnconfirmedTxids returns the txids currently unconfirmed.
func (s *Store) UnconfirmedTxids() []chainhash.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var txids []chainhash.Hash
	for txid, entry := range s.transactions {
		if entry.Status.IsUnconfirmed() {
			txids = append(txids, txid)
		}
	}
	return txids
}
