package wallet

import (
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bwt-dev/bwt/internal/model"
	"github.com/bwt-dev/bwt/internal/node"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	// NodeClient is the node surface the registry needs for imports.
	NodeClient interface {
		ImportScripts(reqs []node.ImportRequest) ([]node.ImportResult, error)
		ListLabels() ([]string, error)
		GetBlockchainInfo() (*node.BlockchainInfo, error)
		GetBlockHash(height int32) (chainhash.Hash, error)
		GetBlockHeaderVerbose(hash chainhash.Hash) (*btcjson.GetBlockHeaderVerboseResult, error)
	}

	// ScriptStore receives the scripts the registry derives and answers
	// whether they have history.
	ScriptStore interface {
		TrackScript(info model.ScriptInfo, script []byte) bool
		HasHistory(sh model.ScriptHash) bool
	}

	// ImportMetrics records import batch outcomes.
	ImportMetrics interface {
		ObserveImportBatch(err error, scripts int, started time.Time)
	}
)
