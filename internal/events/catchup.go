package events

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/bwt-dev/bwt/internal/model"
)

// SubscribeSince registers a subscriber resuming from a previously observed
// (height, hash) tip and returns the backlog of changes the subscriber missed
// while disconnected, ready to be sent before the live stream.
//
// When lastHash is given it is checked against the retained block memory: a
// mismatch surfaces *ErrReorgGone so the client can re-synchronize from an
// earlier height, and a height older than the memory surfaces ErrOutOfRange.
// A nil lastHash skips the reorg check.
//
// The backlog is ordered like live cycles: per transaction spends, then
// fundings, then the transaction itself — confirmed transactions oldest
// first, unconfirmed last — closed by one synthetic ChainTip for the current
// tip. The boundary between backlog and live stream may overlap by one
// cycle; consumers treat redelivered changes as idempotent.
func (b *Bus) SubscribeSince(lastHeight int32, lastHash *chainhash.Hash, filter Filter) (*Subscriber, []model.IndexChange, error) {
	tip, ok := b.store.Tip()
	if !ok {
		// nothing indexed yet; a plain live subscription
		sub, err := b.Subscribe(filter)
		return sub, nil, err
	}

	if lastHash != nil {
		remembered, ok := b.store.BlockHashAt(lastHeight)
		if !ok {
			if lastHeight < tip.Height-b.store.BlockMemory() {
				return nil, nil, ErrOutOfRange
			}
			// within the window but never seen: the client followed a
			// chain this index has no memory of
			return nil, nil, &ErrReorgGone{Height: lastHeight, RequestHash: *lastHash}
		}
		if remembered != *lastHash {
			return nil, nil, &ErrReorgGone{
				Height:      lastHeight,
				RequestHash: *lastHash,
				CurrentHash: remembered,
			}
		}
	}

	sub, err := b.Subscribe(filter)
	if err != nil {
		return nil, nil, err
	}

	var backlog []model.IndexChange
	for _, entry := range b.store.TxsSince(lastHeight + 1) {
		height := entry.Status.HeightOrNil()
		for _, vin := range entry.SpendingVins() {
			spending := entry.Spending[vin]
			backlog = append(backlog, model.TxoSpentChange{
				InPoint:    model.InPoint{TxID: entry.TxID, Vin: vin},
				ScriptHash: spending.ScriptHash,
				Prevout:    spending.Prevout,
				Height:     height,
			})
		}
		for _, vout := range entry.FundingVouts() {
			funding := entry.Funding[vout]
			backlog = append(backlog, model.TxoFundedChange{
				OutPoint:   wire.OutPoint{Hash: entry.TxID, Index: vout},
				ScriptHash: funding.ScriptHash,
				Amount:     funding.Amount,
				Height:     height,
			})
		}
		backlog = append(backlog, model.TransactionChange{TxID: entry.TxID, Height: height})
	}
	backlog = append(backlog, model.ChainTipChange{Tip: tip})

	filtered := backlog[:0]
	for _, change := range backlog {
		if filter.Matches(change) {
			filtered = append(filtered, change)
		}
	}
	return sub, filtered, nil
}
