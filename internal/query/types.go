package query

import (
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bwt-dev/bwt/internal/model"
	"github.com/bwt-dev/bwt/internal/node"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	// NodeClient is the pass-through surface the query engine consumes.
	NodeClient interface {
		GetBlockHash(height int32) (chainhash.Hash, error)
		GetBlockHeaderVerbose(hash chainhash.Hash) (*btcjson.GetBlockHeaderVerboseResult, error)
		GetBlockHeaderHex(hash chainhash.Hash) (string, error)
		GetBlockTxids(hash chainhash.Hash) ([]string, error)
		GetRawTransactionHex(txid chainhash.Hash) (string, error)
		GetRawTransactionVerbose(txid chainhash.Hash) (*btcjson.TxRawResult, error)
		SendRawTransaction(txHex string) (chainhash.Hash, error)
		EstimateSmartFee(target int64) (*float64, error)
		RelayFee() (float64, error)
		GetFeeHistogram() ([]node.FeeHistogramBin, error)
	}
)

// FundingItem is one wallet-owned output in a transaction view.
type FundingItem struct {
	Vout       uint32           `json:"vout"`
	ScriptHash model.ScriptHash `json:"scripthash"`
	Address    string           `json:"address,omitempty"`
	Amount     int64            `json:"amount"`
	SpentBy    *model.InPoint   `json:"spent_by,omitempty"`
}

// SpendingItem is one wallet-owned input in a transaction view.
type SpendingItem struct {
	Vin        uint32           `json:"vin"`
	ScriptHash model.ScriptHash `json:"scripthash"`
	Address    string           `json:"address,omitempty"`
	Amount     int64            `json:"amount"`
	Prevout    string           `json:"prevout"`
}

// TxInfo is the wallet transaction view served to external servers.
type TxInfo struct {
	TxID          string             `json:"txid"`
	Status        model.TxStatus     `json:"status"`
	Fee           *int64             `json:"fee"`
	Mempool       *model.MempoolInfo `json:"mempool,omitempty"`
	Funding       []FundingItem      `json:"funding"`
	Spending      []SpendingItem     `json:"spending"`
	BalanceChange int64              `json:"balance_change"`
}

// ScriptStats is the per-script summary served by info endpoints.
type ScriptStats struct {
	Info               model.ScriptInfo `json:"info"`
	TxCount            int              `json:"tx_count"`
	ConfirmedBalance   int64            `json:"confirmed_balance"`
	UnconfirmedBalance int64            `json:"unconfirmed_balance"`
}

// UtxoOptions filters ListUtxos results.
type UtxoOptions struct {
	MinConf       int32
	IncludeUnsafe bool
	ScriptHash    *model.ScriptHash
}
