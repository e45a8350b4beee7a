package indexer

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/bwt-dev/bwt/internal/descriptor"
	"github.com/bwt-dev/bwt/internal/model"
	"github.com/bwt-dev/bwt/internal/node"
	"github.com/bwt-dev/bwt/internal/utils"
	"github.com/bwt-dev/bwt/pkg/safe"
	"github.com/bwt-dev/bwt/pkg/workerpool"
)

// txRecord accumulates what changed for one transaction within a cycle, so
// events can be assembled in order after the store is fully updated.
type txRecord struct {
	isNew         bool
	statusChanged bool
	replaced      bool
	newFunding    []uint32
	newSpending   []uint32
}

type cycleRecorder struct {
	order   []chainhash.Hash
	records map[chainhash.Hash]*txRecord
}

func newCycleRecorder() *cycleRecorder {
	return &cycleRecorder{records: make(map[chainhash.Hash]*txRecord)}
}

func (rec *cycleRecorder) get(txid chainhash.Hash) *txRecord {
	if r, ok := rec.records[txid]; ok {
		return r
	}
	r := &txRecord{}
	rec.records[txid] = r
	rec.order = append(rec.order, txid)
	return r
}

// applyDelta folds one wallet listing into the store: new transactions are
// indexed, status changes applied, and replaced transactions purged.
// Funding is indexed for every transaction before any spending, so a
// transaction chain within one delta always finds its parent txos.
func (ix *Indexer) applyDelta(ctx context.Context, delta *node.ListSinceBlockResult, tip model.BlockId, rec *cycleRecorder) error {
	seen := make(map[chainhash.Hash]struct{})
	var txids []chainhash.Hash
	collect := func(ltx node.ListTransaction) error {
		switch ltx.Category {
		case "generate", "immature", "orphan":
			return nil
		}
		txid, err := chainhash.NewHashFromStr(ltx.TxID)
		if err != nil {
			return fmt.Errorf("invalid txid %q: %w", ltx.TxID, err)
		}
		if _, ok := seen[*txid]; !ok {
			seen[*txid] = struct{}{}
			txids = append(txids, *txid)
		}
		return nil
	}
	for _, ltx := range delta.Transactions {
		if err := collect(ltx); err != nil {
			return err
		}
	}
	for _, ltx := range delta.Removed {
		if err := collect(ltx); err != nil {
			return err
		}
	}
	if len(txids) == 0 {
		return nil
	}

	details, err := workerpool.Map(ctx, ix.workers, txids,
		func(_ context.Context, txid chainhash.Hash) (*node.WalletTx, error) {
			tx, err := ix.client.GetWalletTransaction(txid)
			if err != nil && isNonWalletTx(err) {
				return nil, nil
			}
			return tx, err
		})
	if err != nil {
		return err
	}

	for _, tx := range details {
		if tx == nil {
			continue
		}
		if err := ix.applyTxFunding(tx, tip, rec); err != nil {
			return err
		}
	}
	for _, tx := range details {
		if tx == nil {
			continue
		}
		if err := ix.applyTxSpending(tx, rec); err != nil {
			return err
		}
	}
	return nil
}

// applyTxFunding upserts the transaction and indexes its wallet-owned
// outputs, raising descriptor funded-indexes along the way.
func (ix *Indexer) applyTxFunding(tx *node.WalletTx, tip model.BlockId, rec *cycleRecorder) error {
	txid, err := chainhash.NewHashFromStr(tx.TxID)
	if err != nil {
		return fmt.Errorf("invalid txid %q: %w", tx.TxID, err)
	}

	status, err := statusFromWalletTx(tx, tip)
	if err != nil {
		return err
	}

	if !status.IsViable() {
		if _, purged := ix.store.PurgeTx(*txid); purged {
			rec.get(*txid).replaced = true
		}
		return nil
	}

	var fee *int64
	if tx.Fee != nil {
		sats, err := utils.BtcToSatsAbs(*tx.Fee)
		if err != nil {
			return err
		}
		fee = &sats
	}

	prev, changed := ix.store.UpsertTx(*txid, status, fee)
	if changed {
		r := rec.get(*txid)
		if prev == nil {
			r.isNew = true
		} else {
			r.statusChanged = true
		}
	}
	if status.IsConfirmed() {
		ix.store.RememberBlock(model.BlockId{Height: status.Height, Hash: status.BlockHash})
	}

	for _, detail := range tx.Details {
		if detail.Category != "receive" {
			continue
		}
		origin, sh, ok := ix.attribute(detail)
		if !ok {
			continue
		}
		amount, err := utils.BtcToSats(detail.Amount)
		if err != nil {
			return fmt.Errorf("tx %s vout %d amount: %w", tx.TxID, detail.Vout, err)
		}
		if ix.store.AddFunding(*txid, detail.Vout, model.FundingInfo{ScriptHash: sh, Amount: amount}) {
			r := rec.get(*txid)
			r.newFunding = append(r.newFunding, detail.Vout)
			ix.registry.MarkFunded(origin)
		}
	}
	return nil
}

// attribute resolves a wallet listing detail to the tracked script it pays,
// through the import label first and the address as a fallback.
func (ix *Indexer) attribute(detail node.WalletTxDetail) (model.KeyOrigin, model.ScriptHash, bool) {
	if origin, ok := model.OriginFromLabel(detail.Label); ok {
		switch origin.Kind {
		case model.OriginStandalone:
			if info, ok := ix.store.ScriptInfo(origin.ScriptHash); ok {
				return info.Origin, origin.ScriptHash, true
			}
		case model.OriginDescriptor:
			if w, err := ix.registry.Get(origin.Checksum); err == nil {
				if info, _, err := w.Derive(origin.Index); err == nil {
					return origin, info.ScriptHash, true
				}
			}
		}
	}

	// labels can be lost (e.g. a wallet shared with other tools); fall back
	// to the address reported by the node
	if detail.Address != "" {
		if info, ok := ix.resolveAddress(detail.Address); ok {
			return info.Origin, info.ScriptHash, true
		}
	}
	return model.KeyOrigin{}, model.ScriptHash{}, false
}

// applyTxSpending walks the raw inputs against the funded txo index and
// records wallet-owned spends.
func (ix *Indexer) applyTxSpending(tx *node.WalletTx, rec *cycleRecorder) error {
	txid, err := chainhash.NewHashFromStr(tx.TxID)
	if err != nil {
		return err
	}
	if _, ok := ix.store.GetTxStatus(*txid); !ok {
		// purged as conflicted during the funding pass
		return nil
	}
	if tx.Hex == "" {
		return nil
	}

	raw, err := hex.DecodeString(tx.Hex)
	if err != nil {
		return fmt.Errorf("tx %s: invalid hex: %w", tx.TxID, err)
	}
	var msg wire.MsgTx
	if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("tx %s: deserialize: %w", tx.TxID, err)
	}

	for vin, txIn := range msg.TxIn {
		prevout := txIn.PreviousOutPoint
		funding, ok := ix.store.LookupFunding(prevout)
		if !ok {
			continue
		}
		spending := model.SpendingInfo{
			ScriptHash: funding.ScriptHash,
			Prevout:    prevout,
			Amount:     funding.Amount,
		}
		if ix.store.AddSpending(*txid, uint32(vin), spending) {
			r := rec.get(*txid)
			r.newSpending = append(r.newSpending, uint32(vin))
		}
	}
	return nil
}

// enrichMempool refreshes fee metadata for every unconfirmed transaction.
// Entries that vanished between calls are tolerated; their fields turn null
// until the next cycle settles their fate.
func (ix *Indexer) enrichMempool(rec *cycleRecorder) error {
	for _, txid := range ix.store.UnconfirmedTxids() {
		entry, err := ix.client.GetMempoolEntry(txid)
		if err != nil {
			if errors.Is(err, node.ErrMempoolEntryMissing) {
				ix.store.UpdateMempool(txid, nil, nil)
				continue
			}
			return err
		}
		baseFee, err := utils.BtcToSats(entry.Fees.Base)
		if err != nil {
			return err
		}
		ancestorFee, err := utils.BtcToSats(entry.Fees.Ancestor)
		if err != nil {
			return err
		}
		info := &model.MempoolInfo{
			OwnVsize:          entry.Vsize,
			OwnFee:            baseFee,
			AncestorVsize:     entry.AncestorSize - entry.Vsize,
			AncestorFee:       ancestorFee - baseFee,
			Bip125Replaceable: entry.Bip125,
		}
		hasUnconfirmedParents := len(entry.Depends) > 0
		if changed := ix.store.UpdateMempool(txid, info, &hasUnconfirmedParents); changed {
			rec.get(txid).statusChanged = true
		}
	}
	return nil
}

// changes assembles the cycle's events in the published order: for each
// transaction its spends, then its fundings, then the transaction change
// itself — transactions in confirmed-ascending order, unconfirmed last.
func (rec *cycleRecorder) changes(reader storeReader) []model.IndexChange {
	type ordered struct {
		txid  chainhash.Hash
		row   model.HistoryEntry
		entry *model.TxEntry
		r     *txRecord
	}
	var replaced []chainhash.Hash
	var rows []ordered
	for _, txid := range rec.order {
		r := rec.records[txid]
		if r.replaced {
			replaced = append(replaced, txid)
			continue
		}
		if !r.isNew && !r.statusChanged && len(r.newFunding) == 0 && len(r.newSpending) == 0 {
			continue
		}
		entry, ok := reader.GetTx(txid)
		if !ok {
			continue
		}
		rows = append(rows, ordered{
			txid:  txid,
			row:   model.HistoryEntry{TxID: txid, Status: entry.Status},
			entry: entry,
			r:     r,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].row.Cmp(rows[j].row) < 0 })

	var changes []model.IndexChange
	for _, txid := range replaced {
		changes = append(changes, model.TransactionReplacedChange{TxID: txid})
	}
	for _, row := range rows {
		height := row.entry.Status.HeightOrNil()
		for _, vin := range row.r.newSpending {
			spending := row.entry.Spending[vin]
			changes = append(changes, model.TxoSpentChange{
				InPoint:    model.InPoint{TxID: row.txid, Vin: vin},
				ScriptHash: spending.ScriptHash,
				Prevout:    spending.Prevout,
				Height:     height,
			})
		}
		for _, vout := range row.r.newFunding {
			funding := row.entry.Funding[vout]
			changes = append(changes, model.TxoFundedChange{
				OutPoint:   wire.OutPoint{Hash: row.txid, Index: vout},
				ScriptHash: funding.ScriptHash,
				Amount:     funding.Amount,
				Height:     height,
			})
		}
		if row.r.isNew || row.r.statusChanged {
			changes = append(changes, model.TransactionChange{TxID: row.txid, Height: height})
		}
	}
	return changes
}

type storeReader interface {
	GetTx(txid chainhash.Hash) (*model.TxEntry, bool)
}

// statusFromWalletTx maps the node's view of a wallet transaction to a
// status. Modern nodes report the block height directly; older ones fall
// back to the confirmations count against the cycle tip.
func statusFromWalletTx(tx *node.WalletTx, tip model.BlockId) (model.TxStatus, error) {
	switch {
	case tx.Confirmations < 0:
		return model.ConflictedStatus(), nil
	case tx.Confirmations == 0:
		return model.UnconfirmedStatus(false), nil
	}

	confirmations, err := safe.Int32(tx.Confirmations)
	if err != nil {
		return model.TxStatus{}, fmt.Errorf("tx %s: %w", tx.TxID, err)
	}
	height := tip.Height - confirmations + 1
	if tx.BlockHeight != nil {
		height = *tx.BlockHeight
	}
	blockHash, err := chainhash.NewHashFromStr(tx.BlockHash)
	if err != nil {
		return model.TxStatus{}, fmt.Errorf("tx %s: invalid block hash %q: %w", tx.TxID, tx.BlockHash, err)
	}
	return model.ConfirmedStatus(height, *blockHash, tx.BlockTime), nil
}

func isNonWalletTx(err error) bool {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == btcjson.ErrRPCInvalidAddressOrKey ||
			rpcErr.Code == btcjson.ErrRPCNoTxInfo
	}
	return false
}

// resolveAddress maps an address string to its tracked ScriptInfo, if any.
func (ix *Indexer) resolveAddress(address string) (model.ScriptInfo, bool) {
	if ix.params == nil {
		return model.ScriptInfo{}, false
	}
	info, _, err := descriptor.FromAddress(address, ix.params)
	if err != nil {
		return model.ScriptInfo{}, false
	}
	return ix.store.ScriptInfo(info.ScriptHash)
}
