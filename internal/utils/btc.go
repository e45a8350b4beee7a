// Package utils holds small bitcoin unit helpers shared across the tracker.
package utils

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// BtcToSats converts a positive BTC amount to satoshis.
func BtcToSats(value float64) (int64, error) {
	amt, err := btcutil.NewAmount(value)
	if err != nil {
		return 0, err
	}
	if amt < 0 {
		return 0, fmt.Errorf("negative amount: %d", amt)
	}
	return int64(amt), nil
}

// BtcToSatsAbs converts a BTC amount to satoshis, dropping the sign. Wallet
// listings report fees and outgoing amounts as negatives.
func BtcToSatsAbs(value float64) (int64, error) {
	amt, err := btcutil.NewAmount(value)
	if err != nil {
		return 0, err
	}
	if amt < 0 {
		amt = -amt
	}
	return int64(amt), nil
}

// BtcPerKvbToSatPerVb converts bitcoind's BTC/kvB feerates to sat/vB.
func BtcPerKvbToSatPerVb(rate float64) float64 {
	return rate * 1e5
}
