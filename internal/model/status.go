package model

import (
	"encoding/json"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// TxStatusKind discriminates the confirmation state of a wallet transaction.
type TxStatusKind int

const (
	// StatusConflicted marks a transaction that conflicts with the best
	// chain (it or an ancestor was double spent).
	StatusConflicted TxStatusKind = iota
	// StatusUnconfirmed marks a mempool transaction.
	StatusUnconfirmed
	// StatusConfirmed marks a transaction included in the best chain.
	StatusConfirmed
)

// TxStatus is the tagged confirmation status of a wallet transaction.
// Height, BlockHash and BlockTime are meaningful only when confirmed;
// HasUnconfirmedParents only when unconfirmed.
type TxStatus struct {
	Kind                  TxStatusKind
	Height                int32
	BlockHash             chainhash.Hash
	BlockTime             int64
	HasUnconfirmedParents bool
}

// ConfirmedStatus builds the status of a transaction mined at the block.
func ConfirmedStatus(height int32, hash chainhash.Hash, blockTime int64) TxStatus {
	return TxStatus{Kind: StatusConfirmed, Height: height, BlockHash: hash, BlockTime: blockTime}
}

// UnconfirmedStatus builds the status of a mempool transaction.
func UnconfirmedStatus(unconfirmedParents bool) TxStatus {
	return TxStatus{Kind: StatusUnconfirmed, HasUnconfirmedParents: unconfirmedParents}
}

// ConflictedStatus builds the status of a replaced transaction.
func ConflictedStatus() TxStatus {
	return TxStatus{Kind: StatusConflicted}
}

// StatusFromConfirmations maps bitcoind's confirmations count to a status,
// deriving the confirmed height from the current tip. Negative confirmations
// indicate a conflict with the best chain.
func StatusFromConfirmations(confirmations int64, tipHeight int32, blockHash chainhash.Hash, blockTime int64) TxStatus {
	switch {
	case confirmations > 0:
		return ConfirmedStatus(tipHeight-int32(confirmations)+1, blockHash, blockTime)
	case confirmations == 0:
		return UnconfirmedStatus(false)
	default:
		return ConflictedStatus()
	}
}

// IsViable reports whether the transaction still belongs in wallet history.
func (s TxStatus) IsViable() bool {
	return s.Kind != StatusConflicted
}

// IsConfirmed reports inclusion in the best chain.
func (s TxStatus) IsConfirmed() bool {
	return s.Kind == StatusConfirmed
}

// IsUnconfirmed reports mempool membership.
func (s TxStatus) IsUnconfirmed() bool {
	return s.Kind == StatusUnconfirmed
}

// ElectrumHeight is the height field used by the Electrum protocol: the block
// height for confirmed transactions, 0 for unconfirmed ones and -1 for
// unconfirmed ones with unconfirmed parents.
func (s TxStatus) ElectrumHeight() int32 {
	switch s.Kind {
	case StatusConfirmed:
		return s.Height
	case StatusUnconfirmed:
		if s.HasUnconfirmedParents {
			return -1
		}
		return 0
	default:
		return -1
	}
}

// HeightOrNil returns the confirmed height, or nil for mempool transactions.
func (s TxStatus) HeightOrNil() *int32 {
	if s.Kind != StatusConfirmed {
		return nil
	}
	h := s.Height
	return &h
}

// sortHeight orders statuses the way history listings are paged: confirmed
// ascending by height, then unconfirmed with confirmed parents, then
// unconfirmed with unconfirmed parents.
func (s TxStatus) sortHeight() int64 {
	switch s.Kind {
	case StatusConfirmed:
		return int64(s.Height)
	case StatusUnconfirmed:
		if s.HasUnconfirmedParents {
			return 1 << 33
		}
		return 1 << 32
	default:
		return 1 << 34
	}
}

// Cmp orders two statuses by their history sort key.
func (s TxStatus) Cmp(other TxStatus) int {
	a, b := s.sortHeight(), other.sortHeight()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// MarshalJSON flattens the status into the wire fields used by the HTTP and
// webhook surfaces: block_height/block_hash/block_time for confirmed entries,
// a null height otherwise.
func (s TxStatus) MarshalJSON() ([]byte, error) {
	type confirmed struct {
		Status      string `json:"status"`
		BlockHeight int32  `json:"block_height"`
		BlockHash   string `json:"block_hash"`
		BlockTime   int64  `json:"block_time"`
	}
	type unconfirmed struct {
		Status                string `json:"status"`
		HasUnconfirmedParents bool   `json:"has_unconfirmed_parents"`
	}
	switch s.Kind {
	case StatusConfirmed:
		return json.Marshal(confirmed{"confirmed", s.Height, s.BlockHash.String(), s.BlockTime})
	case StatusUnconfirmed:
		return json.Marshal(unconfirmed{Status: "unconfirmed", HasUnconfirmedParents: s.HasUnconfirmedParents})
	default:
		return json.Marshal(struct {
			Status string `json:"status"`
		}{"conflicted"})
	}
}
