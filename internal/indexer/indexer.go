// Package indexer keeps the in-memory store consistent with the node's
// wallet view: it pulls incremental wallet deltas, applies them, detects
// reorganizations and replacements, extends descriptor imports as addresses
// get funded, and emits the ordered event stream of every cycle.
package indexer

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/ticker"
	"go.uber.org/zap"

	"github.com/bwt-dev/bwt/internal/clock"
	"github.com/bwt-dev/bwt/internal/store"
	"github.com/bwt-dev/bwt/internal/wallet"
)

// DefaultPollInterval is how often the node is polled when no external
// trigger arrives.
const DefaultPollInterval = 5 * time.Second

const (
	retryBackoffInitial = time.Second
	retryBackoffMax     = time.Minute

	// shutdownGrace is how long an in-flight cycle may keep running after
	// a shutdown signal before it is cut off.
	shutdownGrace = 5 * time.Second
)

// DefaultRPCWorkers bounds concurrent detail fetches against the node.
const DefaultRPCWorkers = 4

// Config wires an Indexer.
type Config struct {
	Logger   *zap.Logger
	Params   *chaincfg.Params
	Client   NodeClient
	Registry *wallet.Registry
	Store    *store.Store
	Bus      Publisher
	Metrics  Metrics
	Ticker   ticker.Ticker
	// RPCWorkers bounds concurrent wallet-tx detail fetches (default 4).
	RPCWorkers int
}

// Indexer is the single writer of the store.
type Indexer struct {
	logger   *zap.Logger
	params   *chaincfg.Params
	client   NodeClient
	registry *wallet.Registry
	store    *store.Store
	bus      Publisher
	metrics  Metrics
	tick     ticker.Ticker
	trigger  chan struct{}
	backoff  *clock.Backoff
	workers  int

	// closed once the initial import and first sync completed
	ready chan struct{}
}

// New creates an indexer. The ticker paces polling; pass ticker.NewForce in
// tests to drive cycles manually.
func New(cfg Config) *Indexer {
	tick := cfg.Ticker
	if tick == nil {
		tick = ticker.New(DefaultPollInterval)
	}
	workers := cfg.RPCWorkers
	if workers <= 0 {
		workers = DefaultRPCWorkers
	}
	return &Indexer{
		logger:   cfg.Logger.Named("indexer"),
		params:   cfg.Params,
		client:   cfg.Client,
		registry: cfg.Registry,
		store:    cfg.Store,
		bus:      cfg.Bus,
		metrics:  cfg.Metrics,
		tick:     tick,
		workers:  workers,
		trigger:  make(chan struct{}, 1),
		backoff:  clock.NewBackoff(retryBackoffInitial, retryBackoffMax),
		ready:    make(chan struct{}),
	}
}

// Trigger requests an immediate sync cycle. Non-blocking; triggers coalesce.
func (ix *Indexer) Trigger() {
	select {
	case ix.trigger <- struct{}{}:
	default:
	}
}

// Ready closes once the initial import and first sync completed.
func (ix *Indexer) Ready() <-chan struct{} {
	return ix.ready
}

// Run performs the initial import and sync, then keeps syncing on every tick
// or trigger until the context is canceled. Transient node failures are
// retried with bounded backoff while the servers keep answering from the
// last consistent state; unrecoverable errors are returned.
func (ix *Indexer) Run(ctx context.Context) error {
	if err := ix.syncCycle(ctx, true); err != nil {
		return err
	}
	close(ix.ready)
	ix.logger.Info("initial sync complete")

	ix.tick.Resume()
	defer ix.tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ix.tick.Ticks():
		case <-ix.trigger:
		}

		if err := ix.syncCycle(ctx, false); err != nil {
			return err
		}
	}
}

// syncCycle runs one retried cycle under a context that survives a shutdown
// signal by shutdownGrace, so an in-flight cycle completes instead of being
// torn down mid-write.
func (ix *Indexer) syncCycle(ctx context.Context, initial bool) error {
	cycleCtx, cancel := cycleContext(ctx)
	defer cancel()

	err := ix.syncWithRetry(cycleCtx, initial)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func cycleContext(parent context.Context) (context.Context, context.CancelFunc) {
	cycleCtx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		time.AfterFunc(shutdownGrace, cancel)
	})
	return cycleCtx, func() {
		stop()
		cancel()
	}
}

// syncWithRetry runs sync cycles until one succeeds, backing off between
// transient failures. Only unrecoverable errors propagate.
func (ix *Indexer) syncWithRetry(ctx context.Context, initial bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := ix.SyncOnce(ctx, initial)
		if err == nil {
			ix.backoff.Reset()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isTransient(err) {
			ix.logger.Error("unrecoverable sync failure", zap.Error(err))
			return err
		}

		ix.logger.Warn("sync failed, backing off", zap.Error(err))
		if sleepErr := ix.backoff.Wait(ctx); sleepErr != nil {
			return sleepErr
		}
	}
}
