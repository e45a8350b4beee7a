package wallet

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bwt-dev/bwt/internal/model"
	"github.com/bwt-dev/bwt/internal/node"
	"github.com/bwt-dev/bwt/pkg/batcher"
)

// importBatchRPS bounds importmulti calls per second to keep large initial
// imports from starving the node's RPC workers.
const importBatchRPS = 4

// CheckImports reads the wallet's labels back from the node and recovers
// max_imported_index for wallets that were imported by a previous run, so a
// restart does not re-import or re-rescan anything.
func (r *Registry) CheckImports(client NodeClient) error {
	labels, err := client.ListLabels()
	if err != nil {
		return fmt.Errorf("list labels: %w", err)
	}

	imported := make(map[model.Checksum]uint32)
	for _, label := range labels {
		origin, ok := model.OriginFromLabel(label)
		if !ok || origin.IsStandalone() {
			continue
		}
		if current, ok := imported[origin.Checksum]; !ok || origin.Index > current {
			imported[origin.Checksum] = origin.Index
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for checksum, maxIndex := range imported {
		w, ok := r.wallets[checksum]
		if !ok {
			continue
		}
		w.setImported(maxIndex)
		// anything imported at all means a previous run finished its
		// initial batch; if it was interrupted we merely fall back to
		// extending with the smaller steady-state gap limit
		w.setDoneInitialImport()
		// the node already watches these scripts; re-track them locally
		for index := uint32(0); index <= maxIndex; index++ {
			info, script, err := w.Derive(index)
			if err != nil {
				return fmt.Errorf("derive %s/%d: %w", checksum, index, err)
			}
			r.store.TrackScript(info, script)
		}
		r.logger.Debug("recovered previous imports",
			zap.String("checksum", string(checksum)),
			zap.Uint32("max_imported_index", maxIndex))
	}
	return nil
}

type plannedImport struct {
	req    node.ImportRequest
	wallet *Wallet // nil for standalone scripts
	index  uint32
}

// DoImports derives and imports every script needed to restore the gap-limit
// invariant, batching importmulti calls through the batcher. When rescan is
// false (extensions after the initial import) scripts are imported with a
// "now" timestamp, skipping the node-side rescan.
//
// It returns true when anything was imported, in which case the caller must
// re-pull the wallet delta for the new scripts.
func (r *Registry) DoImports(ctx context.Context, client NodeClient, rescan bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var plans []plannedImport
	type pendingUpdate struct {
		wallet     *Wallet
		watchIndex uint32
	}
	var updates []pendingUpdate

	for _, checksum := range r.order {
		w := r.wallets[checksum]
		if w.isFailed() {
			continue
		}
		watchIndex := w.watchIndex()
		imported := w.importedIndex()
		switch {
		case imported == nil || watchIndex > *imported:
			startIndex := uint32(0)
			if imported != nil {
				startIndex = *imported + 1
			}
			rescanSince := r.importRescanValue(w, rescan)
			if err := r.checkRescanRange(client, w, rescanSince); err != nil {
				w.setFailed(err)
				r.logger.Error("wallet import failed",
					zap.String("checksum", string(checksum)), zap.Error(err))
				continue
			}
			r.logger.Debug("importing range",
				zap.String("checksum", string(checksum)),
				zap.Uint32("start", startIndex),
				zap.Uint32("end", watchIndex),
				zap.Bool("rescan", rescan))
			for index := startIndex; index <= watchIndex; index++ {
				info, script, err := w.Derive(index)
				if err != nil {
					return false, fmt.Errorf("derive %s/%d: %w", checksum, index, err)
				}
				plans = append(plans, plannedImport{
					req: node.ImportRequest{
						ScriptPubKey: script,
						Address:      info.Address,
						Label:        info.Origin.Label(),
						RescanSince:  rescanSince,
					},
					wallet: w,
					index:  index,
				})
			}
			updates = append(updates, pendingUpdate{wallet: w, watchIndex: watchIndex})

		case !w.isDoneInitialImport():
			r.logger.Debug("done initial import",
				zap.String("checksum", string(checksum)),
				zap.Uint32("up_to", *imported))
			w.setDoneInitialImport()
		}
	}

	for _, s := range r.standalone {
		if s.imported {
			continue
		}
		rescanSince := s.rescan.RPCValue()
		if !rescan {
			rescanSince = "now"
		}
		plans = append(plans, plannedImport{
			req: node.ImportRequest{
				ScriptPubKey: s.script,
				Address:      s.info.Address,
				Label:        s.info.Origin.Label(),
				RescanSince:  rescanSince,
			},
		})
	}

	if len(plans) == 0 {
		return false, nil
	}

	r.logger.Info("importing batch of scripts", zap.Int("scripts", len(plans)))
	if err := r.submitImports(ctx, client, plans); err != nil {
		return false, err
	}

	for _, update := range updates {
		update.wallet.setImported(update.watchIndex)
	}
	for _, s := range r.standalone {
		s.imported = true
	}
	r.logger.Info("done importing batch", zap.Int("scripts", len(plans)))
	return true, nil
}

// submitImports feeds the planned imports through a size-bounded batcher so
// each importmulti call stays within ImportBatchSize scripts, then flushes
// the tail synchronously. Script derivations flow into the store only after
// their batch was acknowledged.
func (r *Registry) submitImports(ctx context.Context, client NodeClient, plans []plannedImport) error {
	var firstErr error
	flush := func(ctx context.Context, batch []plannedImport) error {
		started := time.Now()
		reqs := make([]node.ImportRequest, len(batch))
		for i, plan := range batch {
			reqs[i] = plan.req
		}
		results, err := client.ImportScripts(reqs)
		if r.metrics != nil {
			r.metrics.ObserveImportBatch(err, len(batch), started)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return err
		}
		for i, result := range results {
			if !result.Success {
				msg := "unknown error"
				if result.Error != nil {
					msg = result.Error.Message
				}
				err := fmt.Errorf("import %s failed: %s", batch[i].req.Label, msg)
				if firstErr == nil {
					firstErr = err
				}
				return err
			}
			if len(result.Warnings) > 0 {
				r.logger.Debug("import succeeded with warnings",
					zap.String("label", batch[i].req.Label),
					zap.Strings("warnings", result.Warnings))
			}
		}
		for _, plan := range batch {
			if plan.wallet != nil {
				info, script, err := plan.wallet.Derive(plan.index)
				if err != nil {
					return err
				}
				r.store.TrackScript(info, script)
			}
		}
		return nil
	}

	b := batcher.New(r.logger.Named("importBatcher"), flush, r.batchSize, time.Second, importBatchRPS)
	b.Start(ctx)
	defer b.Stop()

	for _, plan := range plans {
		if err := b.Add(ctx, plan); err != nil {
			return err
		}
	}
	if err := b.Flush(ctx); err != nil {
		return err
	}
	return firstErr
}

// importRescanValue picks the importmulti timestamp: the wallet's policy for
// the initial import, "now" for gap-limit extensions.
func (r *Registry) importRescanValue(w *Wallet, rescan bool) interface{} {
	if !rescan || w.isDoneInitialImport() {
		return "now"
	}
	return w.rescanPolicy.RPCValue()
}

// checkRescanRange rejects imports whose rescan would reach below a pruned
// node's earliest available block, which would silently lose history.
func (r *Registry) checkRescanRange(client NodeClient, w *Wallet, rescanSince interface{}) error {
	ts, ok := rescanSince.(int64)
	if !ok {
		return nil // "now" never reaches past the prune point
	}

	info, err := client.GetBlockchainInfo()
	if err != nil {
		return fmt.Errorf("get blockchain info: %w", err)
	}
	if !info.Pruned {
		return nil
	}
	if info.PruneHeight == 0 {
		return nil
	}
	pruneHash, err := client.GetBlockHash(info.PruneHeight)
	if err != nil {
		return fmt.Errorf("get prune block hash: %w", err)
	}
	header, err := client.GetBlockHeaderVerbose(pruneHash)
	if err != nil {
		return fmt.Errorf("get prune block header: %w", err)
	}
	if ts < header.Time {
		return fmt.Errorf("%w: rescan since %d, earliest available block at %d",
			node.ErrRescanOutOfRange, ts, header.Time)
	}
	return nil
}
