package node

import (
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
)

// ErrMempoolEntryMissing is returned when a transaction left the mempool
// between a wallet listing and the enrichment call. Callers tolerate it.
var ErrMempoolEntryMissing = errors.New("mempool entry missing")

// ErrRescanOutOfRange is returned when an import requests a rescan earlier
// than the node's prune point; the history would be silently incomplete.
var ErrRescanOutOfRange = errors.New("rescan start precedes the earliest non-pruned block")

const (
	rpcInWarmup           btcjson.RPCErrorCode = -28
	rpcClientNotConnected btcjson.RPCErrorCode = -9
	rpcInvalidAddressKey  btcjson.RPCErrorCode = -5
)

// IsWarmingUp reports whether the node rejected the call while still loading.
func IsWarmingUp(err error) bool {
	var rpcErr *btcjson.RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == rpcInWarmup
}

// IsTransient reports whether the error is worth retrying with backoff:
// transport failures and node warm-up, as opposed to business errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsWarmingUp(err) {
		return true
	}
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		// a structured reply means the node is up; everything else is
		// a protocol-level failure
		return rpcErr.Code == rpcClientNotConnected
	}
	return true
}

func isMissingMempoolEntry(err error) bool {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == rpcInvalidAddressKey ||
			strings.Contains(rpcErr.Message, "not in mempool")
	}
	return false
}
