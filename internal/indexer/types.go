package indexer

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bwt-dev/bwt/internal/model"
	"github.com/bwt-dev/bwt/internal/node"
	"github.com/bwt-dev/bwt/internal/wallet"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	// NodeClient is the node surface the sync cycle consumes. It embeds the
	// registry's import surface so one connection serves both.
	NodeClient interface {
		wallet.NodeClient
		GetChainTip() (model.BlockId, error)
		ListSinceBlock(since *chainhash.Hash) (*node.ListSinceBlockResult, error)
		GetWalletTransaction(txid chainhash.Hash) (*node.WalletTx, error)
		GetMempoolEntry(txid chainhash.Hash) (*node.MempoolEntry, error)
	}

	// Metrics records sync cycle outcomes.
	Metrics interface {
		ObserveSyncCycle(err error, changes int, started time.Time)
		ObserveTip(height int32)
		ObserveReorg()
	}

	// Publisher receives the ordered changes of a completed cycle.
	Publisher interface {
		Publish(changes []model.IndexChange)
	}
)
