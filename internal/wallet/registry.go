package wallet

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"go.uber.org/zap"

	"github.com/bwt-dev/bwt/internal/descriptor"
	"github.com/bwt-dev/bwt/internal/model"
)

// ErrWalletUnknown is returned for lookups of unregistered checksums.
var ErrWalletUnknown = errors.New("unknown wallet")

// ImportBatchSize caps how many scripts are submitted per importmulti call.
const ImportBatchSize = 350

type standaloneScript struct {
	info     model.ScriptInfo
	script   []byte
	rescan   model.RescanSince
	imported bool
}

// Registry owns the tracked wallets and standalone addresses, in
// registration order, and plans the imports that keep the gap-limit
// invariant. One import cycle is in flight at a time; overlapping requests
// coalesce behind the mutex.
type Registry struct {
	mu sync.Mutex

	logger  *zap.Logger
	params  *chaincfg.Params
	store   ScriptStore
	metrics ImportMetrics

	wallets    map[model.Checksum]*Wallet
	order      []model.Checksum
	standalone []*standaloneScript

	gapLimit          uint32
	initialImportSize uint32
	batchSize         int

	// resolved once per process; "now" rescans use the boot wall clock
	now func() time.Time
}

// New creates an empty registry. gapLimit and initialImportSize are the
// defaults applied to every registered descriptor.
func New(logger *zap.Logger, params *chaincfg.Params, store ScriptStore, metrics ImportMetrics, gapLimit, initialImportSize uint32) (*Registry, error) {
	if gapLimit == 0 {
		return nil, errors.New("gap limit must be positive")
	}
	if initialImportSize == 0 {
		initialImportSize = DefaultInitialImportSize
	}
	return &Registry{
		logger:            logger.Named("wallet"),
		params:            params,
		store:             store,
		metrics:           metrics,
		wallets:           make(map[model.Checksum]*Wallet),
		gapLimit:          gapLimit,
		initialImportSize: initialImportSize,
		batchSize:         ImportBatchSize,
		now:               time.Now,
	}, nil
}

// RegisterDescriptor validates and canonicalizes a descriptor into a tracked
// wallet. Registering the same descriptor twice is a no-op.
func (r *Registry) RegisterDescriptor(desc string, rescan model.RescanSince) (*Wallet, error) {
	parsed, err := descriptor.Parse(desc, r.params)
	if err != nil {
		return nil, fmt.Errorf("invalid descriptor %q: %w", desc, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.wallets[parsed.Checksum()]; ok {
		return existing, nil
	}

	w := newWallet(parsed, r.resolveRescan(rescan), r.gapLimit, r.initialImportSize)
	r.wallets[w.checksum] = w
	r.order = append(r.order, w.checksum)
	r.logger.Info("registered wallet",
		zap.String("checksum", string(w.checksum)),
		zap.Bool("wildcard", w.IsWildcard()),
		zap.Stringer("rescan", w.rescanPolicy))
	return w, nil
}

// RegisterXpub expands an extended public key into its external and internal
// chain wallets.
func (r *Registry) RegisterXpub(xpub string, rescan model.RescanSince) ([]*Wallet, error) {
	descs, err := descriptor.FromXpub(xpub, r.params)
	if err != nil {
		return nil, fmt.Errorf("invalid xpub: %w", err)
	}
	wallets := make([]*Wallet, 0, len(descs))
	for _, desc := range descs {
		w, err := r.RegisterDescriptor(desc.String(), rescan)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, nil
}

// RegisterBareXpub registers an extended public key deriving direct children.
func (r *Registry) RegisterBareXpub(xpub string, rescan model.RescanSince) (*Wallet, error) {
	desc, err := descriptor.FromBareXpub(xpub, r.params)
	if err != nil {
		return nil, fmt.Errorf("invalid bare xpub: %w", err)
	}
	return r.RegisterDescriptor(desc.String(), rescan)
}

// RegisterAddress adds a standalone address. Duplicates are a no-op.
func (r *Registry) RegisterAddress(address string, rescan model.RescanSince) error {
	info, script, err := descriptor.FromAddress(address, r.params)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.standalone {
		if existing.info.ScriptHash == info.ScriptHash {
			return nil
		}
	}
	r.standalone = append(r.standalone, &standaloneScript{
		info:   info,
		script: script,
		rescan: r.resolveRescan(rescan),
	})
	r.store.TrackScript(info, script)
	r.logger.Info("registered address",
		zap.String("address", info.Address),
		zap.Stringer("scripthash", info.ScriptHash))
	return nil
}

// resolveRescan pins "now" policies to the boot wall clock so repeated
// imports of the same wallet agree on the rescan point.
func (r *Registry) resolveRescan(rescan model.RescanSince) model.RescanSince {
	if rescan.Kind == model.RescanNone {
		return model.RescanSince{Kind: model.RescanSinceTime, Time: r.now().Unix()}
	}
	return rescan
}

// Get returns the wallet registered under checksum.
func (r *Registry) Get(checksum model.Checksum) (*Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[checksum]
	if !ok {
		return nil, ErrWalletUnknown
	}
	return w, nil
}

// Wallets returns the wallet snapshots keyed by checksum.
func (r *Registry) Wallets() map[model.Checksum]Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := make(map[model.Checksum]Info, len(r.wallets))
	for checksum, w := range r.wallets {
		infos[checksum] = w.Info()
	}
	return infos
}

// Standalone returns the registered bare addresses.
func (r *Registry) Standalone() []model.ScriptInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := make([]model.ScriptInfo, len(r.standalone))
	for i, s := range r.standalone {
		infos[i] = s.info
	}
	return infos
}

// MarkFunded is called by the indexer when history is observed on a derived
// index. It raises max_funded_index monotonically; the next import cycle
// extends the watched range when the gap shrank below the limit.
func (r *Registry) MarkFunded(origin model.KeyOrigin) {
	if origin.IsStandalone() {
		return
	}
	r.mu.Lock()
	w, ok := r.wallets[origin.Checksum]
	r.mu.Unlock()
	if ok {
		w.markFunded(origin.Index)
	}
}
