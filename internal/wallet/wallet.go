// Package wallet owns the set of tracked descriptor wallets and standalone
// addresses, derives their scripts and keeps the node's watch-only wallet
// imported at least gap-limit children beyond the highest funded index.
package wallet

import (
	"fmt"
	"sync"

	"github.com/bwt-dev/bwt/internal/descriptor"
	"github.com/bwt-dev/bwt/internal/model"
)

// DefaultGapLimit is how many consecutive unused child indexes stay imported
// beyond the highest funded one.
const DefaultGapLimit = 20

// DefaultInitialImportSize is how many children are imported up front, before
// any history is known. Larger than the steady-state gap limit so one initial
// rescan covers wallets that were already in use.
const DefaultInitialImportSize = 350

// Wallet is one tracked descriptor with its import lifecycle state.
type Wallet struct {
	mu sync.Mutex

	desc              *descriptor.Descriptor
	checksum          model.Checksum
	rescanPolicy      model.RescanSince
	gapLimit          uint32
	initialImportSize uint32

	maxFundedIndex    *uint32
	maxImportedIndex  *uint32
	doneInitialImport bool
	failed            error

	// memoized derivations, index -> entry; derivation is deterministic
	derived []derivedScript
}

type derivedScript struct {
	info   model.ScriptInfo
	script []byte
}

func newWallet(desc *descriptor.Descriptor, rescan model.RescanSince, gapLimit, initialImportSize uint32) *Wallet {
	if initialImportSize < gapLimit {
		// a smaller initial batch makes no sense, the user meant to raise both
		initialImportSize = gapLimit
	}
	return &Wallet{
		desc:              desc,
		checksum:          desc.Checksum(),
		rescanPolicy:      rescan,
		gapLimit:          gapLimit,
		initialImportSize: initialImportSize,
	}
}

// Checksum returns the canonical checksum identifying this wallet.
func (w *Wallet) Checksum() model.Checksum {
	return w.checksum
}

// Descriptor returns the canonical descriptor string with checksum.
func (w *Wallet) Descriptor() string {
	return w.desc.String()
}

// IsWildcard reports whether the wallet expands into a chain of children.
func (w *Wallet) IsWildcard() bool {
	return w.desc.IsWildcard()
}

// Derive returns the ScriptEntry at index, deriving and memoizing on demand.
// It never causes an import.
func (w *Wallet) Derive(index uint32) (model.ScriptInfo, []byte, error) {
	if !w.desc.IsWildcard() && index != 0 {
		return model.ScriptInfo{}, nil, fmt.Errorf("wallet %s is not ranged, index %d is invalid", w.checksum, index)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for int(index) >= len(w.derived) {
		next := uint32(len(w.derived))
		info, script, err := w.desc.Derive(next)
		if err != nil {
			return model.ScriptInfo{}, nil, err
		}
		w.derived = append(w.derived, derivedScript{info: info, script: script})
	}
	entry := w.derived[index]
	return entry.info, entry.script, nil
}

// watchIndex returns the highest index that must be imported right now:
// gap-limit children beyond the highest funded index, or the initial batch
// while the first import has not completed.
func (w *Wallet) watchIndex() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.desc.IsWildcard() {
		return 0
	}
	chunk := w.gapLimit
	if !w.doneInitialImport {
		chunk = w.initialImportSize
	}
	if w.maxFundedIndex == nil {
		return chunk - 1
	}
	return *w.maxFundedIndex + chunk
}

// markFunded raises the highest funded index monotonically.
func (w *Wallet) markFunded(index uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.maxFundedIndex == nil || index > *w.maxFundedIndex {
		funded := index
		w.maxFundedIndex = &funded
	}
	if w.maxImportedIndex == nil || index > *w.maxImportedIndex {
		imported := index
		w.maxImportedIndex = &imported
	}
}

func (w *Wallet) importedIndex() *uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.maxImportedIndex == nil {
		return nil
	}
	imported := *w.maxImportedIndex
	return &imported
}

func (w *Wallet) setImported(index uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.maxImportedIndex == nil || index > *w.maxImportedIndex {
		imported := index
		w.maxImportedIndex = &imported
	}
}

func (w *Wallet) setDoneInitialImport() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.doneInitialImport = true
}

func (w *Wallet) isDoneInitialImport() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.doneInitialImport
}

func (w *Wallet) setFailed(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failed = err
}

func (w *Wallet) isFailed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed != nil
}

// NextIndex returns the index the next deposit address would use.
func (w *Wallet) NextIndex() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.desc.IsWildcard() || w.maxFundedIndex == nil {
		return 0
	}
	return *w.maxFundedIndex + 1
}

// Gap returns the length of the longest run of consecutive history-less
// indexes up to the highest funded one.
func (w *Wallet) Gap(store ScriptStore) (uint32, error) {
	w.mu.Lock()
	maxFunded := w.maxFundedIndex
	w.mu.Unlock()

	if !w.desc.IsWildcard() || maxFunded == nil {
		return 0, nil
	}

	var gap, maxGap uint32
	for index := uint32(0); index <= *maxFunded; index++ {
		info, _, err := w.Derive(index)
		if err != nil {
			return 0, err
		}
		if store.HasHistory(info.ScriptHash) {
			if gap > maxGap {
				maxGap = gap
			}
			gap = 0
		} else {
			gap++
		}
	}
	return maxGap, nil
}

// Info is the queryable snapshot of a wallet's state.
type Info struct {
	Descriptor        string  `json:"descriptor"`
	IsWildcard        bool    `json:"is_wildcard"`
	BIP32Origin       string  `json:"bip32_origin,omitempty"`
	RescanPolicy      string  `json:"rescan_policy"`
	GapLimit          uint32  `json:"gap_limit"`
	InitialImportSize uint32  `json:"initial_import_size"`
	MaxFundedIndex    *uint32 `json:"max_funded_index"`
	MaxImportedIndex  *uint32 `json:"max_imported_index"`
	DoneInitialImport bool    `json:"done_initial_import"`
	Error             string  `json:"error,omitempty"`
}

// Info snapshots the wallet under its lock.
func (w *Wallet) Info() Info {
	w.mu.Lock()
	defer w.mu.Unlock()

	info := Info{
		Descriptor:        w.desc.String(),
		IsWildcard:        w.desc.IsWildcard(),
		BIP32Origin:       w.desc.KeyInfo().Origin,
		RescanPolicy:      w.rescanPolicy.String(),
		GapLimit:          w.gapLimit,
		InitialImportSize: w.initialImportSize,
		DoneInitialImport: w.doneInitialImport,
	}
	if w.maxFundedIndex != nil {
		funded := *w.maxFundedIndex
		info.MaxFundedIndex = &funded
	}
	if w.maxImportedIndex != nil {
		imported := *w.maxImportedIndex
		info.MaxImportedIndex = &imported
	}
	if w.failed != nil {
		info.Error = w.failed.Error()
	}
	return info
}
