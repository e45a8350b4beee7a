package events

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bwt-dev/bwt/internal/model"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	// StoreReader is the read surface the bus needs for catch-up replay.
	StoreReader interface {
		Tip() (model.BlockId, bool)
		BlockHashAt(height int32) (chainhash.Hash, bool)
		BlockMemory() int32
		TxsSince(minHeight int32) []*model.TxEntry
	}

	// BusMetrics records fan-out outcomes.
	BusMetrics interface {
		ObserveSubscribers(count int)
		ObservePublish(category string)
		ObserveDroppedSubscriber()
	}
)
