package node

import (
	"encoding/json"
	"time"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	// RPCMetrics records metrics for node RPC calls.
	RPCMetrics interface {
		Observe(operation string, err error, started time.Time)
	}
)

// ImportRequest is one script handed to the node's watch-only wallet.
type ImportRequest struct {
	ScriptPubKey []byte
	Address      string
	Label        string
	RescanSince  interface{} // unix timestamp or the string "now"
}

// ImportResult reports the node's verdict for one ImportRequest.
type ImportResult struct {
	Success  bool     `json:"success"`
	Warnings []string `json:"warnings,omitempty"`
	Error    *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ListTransaction is one row of a wallet listing (listsinceblock or
// listtransactions).
type ListTransaction struct {
	TxID              string   `json:"txid"`
	Address           string   `json:"address"`
	Category          string   `json:"category"`
	Amount            float64  `json:"amount"`
	Label             string   `json:"label"`
	Vout              uint32   `json:"vout"`
	Fee               *float64 `json:"fee"`
	Confirmations     int64    `json:"confirmations"`
	Trusted           *bool    `json:"trusted"`
	BlockHash         string   `json:"blockhash"`
	BlockHeight       *int32   `json:"blockheight"`
	BlockTime         int64    `json:"blocktime"`
	Time              int64    `json:"time"`
	WalletConflicts   []string `json:"walletconflicts"`
	Bip125Replaceable string   `json:"bip125-replaceable"`
	Abandoned         *bool    `json:"abandoned"`
	Generated         bool     `json:"generated"`
}

// ListSinceBlockResult is the incremental wallet delta since a block.
type ListSinceBlockResult struct {
	Transactions []ListTransaction `json:"transactions"`
	Removed      []ListTransaction `json:"removed"`
	LastBlock    string            `json:"lastblock"`
}

// WalletTxDetail is one wallet-relevant output of a wallet transaction.
type WalletTxDetail struct {
	Address           string   `json:"address"`
	Category          string   `json:"category"`
	Amount            float64  `json:"amount"`
	Label             string   `json:"label"`
	Vout              uint32   `json:"vout"`
	Fee               *float64 `json:"fee"`
	InvolvesWatchOnly bool     `json:"involveswatchonly"`
	Abandoned         *bool    `json:"abandoned"`
}

// WalletTx is the node's full view of a wallet transaction.
type WalletTx struct {
	TxID              string           `json:"txid"`
	Confirmations     int64            `json:"confirmations"`
	Generated         bool             `json:"generated"`
	Trusted           *bool            `json:"trusted"`
	BlockHash         string           `json:"blockhash"`
	BlockHeight       *int32           `json:"blockheight"`
	BlockTime         int64            `json:"blocktime"`
	Time              int64            `json:"time"`
	Fee               *float64         `json:"fee"`
	Bip125Replaceable string           `json:"bip125-replaceable"`
	WalletConflicts   []string         `json:"walletconflicts"`
	Details           []WalletTxDetail `json:"details"`
	Hex               string           `json:"hex"`
}

// MempoolEntry carries the fee metadata of a mempool transaction. Amounts are
// BTC as reported by the node; vsizes are vbytes.
type MempoolEntry struct {
	Vsize        int64    `json:"vsize"`
	Weight       int64    `json:"weight"`
	AncestorSize int64    `json:"ancestorsize"`
	Bip125       bool     `json:"bip125-replaceable"`
	Depends      []string `json:"depends"`
	Fees         struct {
		Base     float64 `json:"base"`
		Ancestor float64 `json:"ancestor"`
	} `json:"fees"`
}

// BlockchainInfo is the subset of getblockchaininfo the tracker consumes.
type BlockchainInfo struct {
	Chain                string  `json:"chain"`
	Blocks               int32   `json:"blocks"`
	Headers              int32   `json:"headers"`
	BestBlockHash        string  `json:"bestblockhash"`
	InitialBlockDownload bool    `json:"initialblockdownload"`
	Pruned               bool    `json:"pruned"`
	PruneHeight          int32   `json:"pruneheight"`
	VerificationProgress float64 `json:"verificationprogress"`
}

// FeeHistogramBin is one (feerate sat/vB, vsize) bucket of the mempool.
type FeeHistogramBin struct {
	Feerate float64
	Vsize   uint64
}

// MarshalJSON renders the bin as the [feerate, vsize] pair Electrum expects.
func (b FeeHistogramBin) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{b.Feerate, b.Vsize})
}
