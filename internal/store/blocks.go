package store

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"

	"github.com/bwt-dev/bwt/internal/model"
)

// Tip returns the chain tip recorded at the last completed cycle.
func (s *Store) Tip() (model.BlockId, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tip == nil {
		return model.BlockId{}, false
	}
	return *s.tip, true
}

// SetTip records the tip of a completed cycle and remembers its hash in the
// recent-block memory, pruning hashes older than the retention window.
func (s *Store) SetTip(tip model.BlockId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tip = &tip
	s.recentBlocks[tip.Height] = tip.Hash
	for height := range s.recentBlocks {
		if height <= tip.Height-s.blockMemory {
			delete(s.recentBlocks, height)
		}
	}
}

// RememberBlock records a block hash seen during a sync without moving the
// tip, so catch-up requests can verify hashes at non-tip heights.
func (s *Store) RememberBlock(block model.BlockId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentBlocks[block.Height] = block.Hash
}

// BlockHashAt returns the remembered hash at height. The second result is
// false when the height is outside the retention window.
func (s *Store) BlockHashAt(height int32) (chainhash.Hash, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash, ok := s.recentBlocks[height]
	return hash, ok
}

// BlockMemory returns the reorg retention window in blocks.
func (s *Store) BlockMemory() int32 {
	return s.blockMemory
}

// FindForkHeight walks the recent-block memory backwards from the old tip and
// returns the highest remembered height at or below it whose hash matches
// the chain according to lookup. The boolean result is false when no
// remembered block is on-chain anymore (the fork is older than the memory).
func (s *Store) FindForkHeight(lookup func(height int32) (chainhash.Hash, error)) (int32, bool, error) {
	s.mu.RLock()
	tip := s.tip
	recent := make(map[int32]chainhash.Hash, len(s.recentBlocks))
	for height, hash := range s.recentBlocks {
		recent[height] = hash
	}
	s.mu.RUnlock()

	if tip == nil {
		return 0, false, nil
	}

	for height := tip.Height; height > tip.Height-s.blockMemory; height-- {
		hash, ok := recent[height]
		if !ok {
			continue
		}
		onChain, err := lookup(height)
		if err != nil {
			return 0, false, err
		}
		if onChain == hash {
			return height, true, nil
		}
	}
	return 0, false, nil
}

// Reorg demotes every transaction confirmed above forkHeight back to
// unconfirmed, drops the stale recent-block memory and rewinds the tip to the
// fork point. The demoted txids are returned for logging. The next sync
// re-confirms what was re-included and conflicts what was not.
func (s *Store) Reorg(forkHeight int32) []chainhash.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()

	var demoted []chainhash.Hash
	for txid, entry := range s.transactions {
		if entry.Status.Kind != model.StatusConfirmed || entry.Status.Height <= forkHeight {
			continue
		}
		status := model.UnconfirmedStatus(false)
		entry.Status = status
		s.rewriteHistoryStatusLocked(entry, status)
		s.rewriteUtxoStatusLocked(entry, status)
		demoted = append(demoted, txid)
	}

	for height := range s.recentBlocks {
		if height > forkHeight {
			delete(s.recentBlocks, height)
		}
	}
	if s.tip != nil && s.tip.Height > forkHeight {
		if hash, ok := s.recentBlocks[forkHeight]; ok {
			s.tip = &model.BlockId{Height: forkHeight, Hash: hash}
		} else {
			s.tip = nil
		}
	}

	s.logger.Warn("chain reorganization handled",
		zap.Int32("fork_height", forkHeight),
		zap.Int("demoted_txs", len(demoted)))
	return demoted
}
