package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"

	"github.com/bwt-dev/bwt/internal/model"
	"github.com/bwt-dev/bwt/internal/node"
)

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return node.IsTransient(err)
}

// SyncOnce runs one full cycle: reorg detection, wallet delta application
// with import extension, mempool enrichment and event emission. Events reach
// the bus only after the store reflects them.
func (ix *Indexer) SyncOnce(ctx context.Context, initial bool) (err error) {
	started := time.Now()
	var changes []model.IndexChange
	defer func() {
		if ix.metrics != nil {
			ix.metrics.ObserveSyncCycle(err, len(changes), started)
		}
	}()

	if initial {
		if err := ix.registry.CheckImports(ix.client); err != nil {
			return err
		}
		if _, err := ix.registry.DoImports(ctx, ix.client, true); err != nil {
			return err
		}
	}

	tipNow, err := ix.client.GetChainTip()
	if err != nil {
		return err
	}

	prevTip, hadTip := ix.store.Tip()
	rec := newCycleRecorder()

	reorg, err := ix.checkReorg(tipNow, rec)
	if err != nil {
		return err
	}
	if reorg != nil {
		changes = append(changes, *reorg)
		if ix.metrics != nil {
			ix.metrics.ObserveReorg()
		}
	}

	// imports triggered by newly funded indexes re-pull the delta so the
	// freshly imported scripts are observed within the same cycle
	for {
		var since *chainhash.Hash
		if tip, ok := ix.store.Tip(); ok {
			hash := tip.Hash
			since = &hash
		}

		delta, err := ix.client.ListSinceBlock(since)
		if err != nil {
			return err
		}
		if err := ix.applyDelta(ctx, delta, tipNow, rec); err != nil {
			return err
		}

		imported, err := ix.registry.DoImports(ctx, ix.client, false)
		if err != nil {
			return err
		}
		if !imported {
			break
		}
		ix.logger.Debug("imports extended, re-pulling wallet delta")
	}

	if err := ix.enrichMempool(rec); err != nil {
		return err
	}

	// the store tip is re-read here: a reorg rewound it to the fork point
	memTip, hadMemTip := ix.store.Tip()
	if err := ix.rememberBlocks(memTip, hadMemTip, tipNow); err != nil {
		return err
	}
	ix.store.SetTip(tipNow)

	changes = append(changes, rec.changes(ix.store)...)
	if !hadTip || prevTip != tipNow {
		changes = append(changes, model.ChainTipChange{Tip: tipNow})
	}
	if len(changes) > 0 {
		ix.bus.Publish(changes)
	}

	if ix.metrics != nil {
		ix.metrics.ObserveTip(tipNow.Height)
	}
	ix.logger.Debug("sync cycle complete",
		zap.Int32("height", tipNow.Height),
		zap.Int("changes", len(changes)))
	return nil
}

// checkReorg detects that the previously recorded tip left the best chain,
// demotes the transactions above the fork and reports the reorg change. The
// following delta pull re-confirms what was re-included.
func (ix *Indexer) checkReorg(tipNow model.BlockId, rec *cycleRecorder) (*model.ReorgChange, error) {
	prevTip, ok := ix.store.Tip()
	if !ok || prevTip.Hash == tipNow.Hash {
		return nil, nil
	}

	// heights above the new tip are off-chain by definition; the zero hash
	// never matches a remembered one
	lookup := func(height int32) (chainhash.Hash, error) {
		if height > tipNow.Height {
			return chainhash.Hash{}, nil
		}
		return ix.client.GetBlockHash(height)
	}

	if prevTip.Height <= tipNow.Height {
		onChain, err := lookup(prevTip.Height)
		if err != nil {
			return nil, err
		}
		if onChain == prevTip.Hash {
			// plain extension, no reorg
			return nil, nil
		}
	}

	forkHeight, found, err := ix.store.FindForkHeight(lookup)
	if err != nil {
		return nil, err
	}
	if !found {
		// the fork is older than the block memory; demote everything
		ix.logger.Warn("reorg beyond retained block memory, full re-sync",
			zap.Stringer("prev_tip", prevTip))
		forkHeight = -1
	}

	// demotions are status changes; the delta that follows re-confirms the
	// re-included ones, the rest surface as unconfirmed-again transactions
	for _, txid := range ix.store.Reorg(forkHeight) {
		rec.get(txid).statusChanged = true
	}
	return &model.ReorgChange{
		Height:   forkHeight + 1,
		PrevHash: prevTip.Hash,
		CurrHash: tipNow.Hash,
	}, nil
}

// rememberBlocks records the hashes of the blocks between the previous and
// the new tip, so catch-up requests can verify any height in the retention
// window. The walk is bounded by the window size.
func (ix *Indexer) rememberBlocks(prevTip model.BlockId, hadTip bool, tipNow model.BlockId) error {
	lowest := tipNow.Height - ix.store.BlockMemory() + 1
	if lowest < 0 {
		lowest = 0
	}
	if hadTip && prevTip.Height+1 > lowest {
		lowest = prevTip.Height + 1
	}

	for height := lowest; height < tipNow.Height; height++ {
		if _, ok := ix.store.BlockHashAt(height); ok {
			continue
		}
		hash, err := ix.client.GetBlockHash(height)
		if err != nil {
			return fmt.Errorf("remember block %d: %w", height, err)
		}
		ix.store.RememberBlock(model.BlockId{Height: height, Hash: hash})
	}
	return nil
}
