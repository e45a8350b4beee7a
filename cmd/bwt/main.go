// Command bwt runs the wallet tracker daemon: it imports the configured
// descriptors and addresses into bitcoind's watch-only wallet, keeps an
// in-memory index of their history, and serves Electrum, HTTP and webhook
// consumers from it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/ticker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bwt-dev/bwt/internal/broadcast"
	"github.com/bwt-dev/bwt/internal/config"
	"github.com/bwt-dev/bwt/internal/electrum"
	"github.com/bwt-dev/bwt/internal/events"
	"github.com/bwt-dev/bwt/internal/httpd"
	"github.com/bwt-dev/bwt/internal/indexer"
	"github.com/bwt-dev/bwt/internal/listener"
	"github.com/bwt-dev/bwt/internal/metrics"
	"github.com/bwt-dev/bwt/internal/node"
	"github.com/bwt-dev/bwt/internal/query"
	"github.com/bwt-dev/bwt/internal/store"
	"github.com/bwt-dev/bwt/internal/wallet"
	"github.com/bwt-dev/bwt/internal/webhook"
)

const (
	exitOK          = 0
	exitConfig      = 1
	exitUnrecovered = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Config{}
	if _, err := flags.ParseArgs(&cfg, os.Args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return exitOK
		}
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	logger, err := buildLogger(len(cfg.Verbose))
	if err != nil {
		fmt.Fprintln(os.Stderr, "can't initialize logger:", err)
		return exitConfig
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon failed", zap.Error(err))
		return exitUnrecovered
	}
	logger.Info("clean shutdown")
	return exitOK
}

func buildLogger(verbosity int) (*zap.Logger, error) {
	if verbosity > 0 {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	params, err := cfg.Params()
	if err != nil {
		return err
	}
	rescan, err := cfg.RescanPolicy()
	if err != nil {
		return err
	}

	host, err := cfg.NodeURL()
	if err != nil {
		return err
	}
	user, pass, err := cfg.NodeAuth()
	if err != nil {
		return err
	}
	client, err := node.Connect(host, user, pass, cfg.BitcoindWallet, metrics.NewRPCClient(cfg.Network))
	if err != nil {
		return err
	}
	defer client.Shutdown()

	st := store.New(logger, cfg.TrackSpends(), store.DefaultBlockMemory)

	indexerMetrics := metrics.NewIndexer(cfg.Network)
	registry, err := wallet.New(logger, params, st, indexerMetrics, cfg.GapLimit, cfg.InitialImportSize)
	if err != nil {
		return err
	}
	for _, desc := range cfg.Descriptors {
		if _, err := registry.RegisterDescriptor(desc, rescan); err != nil {
			return err
		}
	}
	for _, xpub := range cfg.Xpubs {
		if _, err := registry.RegisterXpub(xpub, rescan); err != nil {
			return err
		}
	}
	for _, xpub := range cfg.BareXpubs {
		if _, err := registry.RegisterBareXpub(xpub, rescan); err != nil {
			return err
		}
	}
	for _, address := range cfg.Addresses {
		if err := registry.RegisterAddress(address, rescan); err != nil {
			return err
		}
	}

	bus := events.New(logger, st, metrics.NewEventBus(cfg.Network), events.DefaultSubscriberBuffer)
	defer bus.Close()

	ix := indexer.New(indexer.Config{
		Logger:     logger,
		Params:     params,
		Client:     client,
		Registry:   registry,
		Store:      st,
		Bus:        bus,
		Metrics:    indexerMetrics,
		Ticker:     ticker.New(cfg.PollInterval),
		RPCWorkers: cfg.RPCPoolSize,
	})

	q := query.New(logger, st, registry, client)
	broadcaster := broadcast.New(logger, client, cfg.TxBroadcastCmd)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return ix.Run(groupCtx)
	})

	if cfg.ElectrumAddr != "" {
		srv := electrum.NewServer(logger, cfg.ElectrumAddr, q, bus, broadcaster)
		group.Go(func() error {
			waitReady(groupCtx, ix)
			return srv.Run(groupCtx)
		})
	}
	if cfg.HTTPAddr != "" {
		srv := httpd.NewServer(httpd.Config{
			Logger:      logger,
			Addr:        cfg.HTTPAddr,
			CORSOrigin:  cfg.HTTPCors,
			Query:       q,
			Bus:         bus,
			Syncer:      ix,
			Broadcaster: broadcaster,
		})
		group.Go(func() error {
			return srv.Run(groupCtx)
		})
	}
	if len(cfg.WebhookURLs) > 0 {
		deliverer := webhook.New(logger, bus, cfg.WebhookURLs)
		group.Go(func() error {
			return deliverer.Run(groupCtx)
		})
	}
	if cfg.UnixListenerPath != "" {
		l := listener.New(logger, cfg.UnixListenerPath, ix)
		group.Go(func() error {
			return l.Run(groupCtx)
		})
	}

	logger.Info("bwt starting",
		zap.String("network", cfg.Network),
		zap.String("bitcoind", host),
		zap.Duration("poll_interval", cfg.PollInterval))
	return group.Wait()
}

// waitReady delays a server until the initial sync finished, so early
// clients never observe a partially built index.
func waitReady(ctx context.Context, ix *indexer.Indexer) {
	select {
	case <-ctx.Done():
	case <-ix.Ready():
	case <-time.After(10 * time.Minute):
	}
}
