package node

import (
	"errors"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport failure", errors.New("connection refused"), true},
		{"warming up", &btcjson.RPCError{Code: rpcInWarmup, Message: "Loading block index"}, true},
		{"wrapped warming up", fmt.Errorf("rpc: %w", &btcjson.RPCError{Code: rpcInWarmup}), true},
		{"business error", &btcjson.RPCError{Code: btcjson.ErrRPCInvalidParameter}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsMissingMempoolEntry(t *testing.T) {
	t.Parallel()

	require.True(t, isMissingMempoolEntry(&btcjson.RPCError{Code: rpcInvalidAddressKey, Message: "Transaction not in mempool"}))
	require.False(t, isMissingMempoolEntry(errors.New("timeout")))
}

func TestBuildFeeHistogram(t *testing.T) {
	t.Parallel()

	entry := func(vsize int64, feeBtc float64) MempoolEntry {
		e := MempoolEntry{Vsize: vsize}
		e.Fees.Base = feeBtc
		return e
	}

	// two entries over the bin width at distinct feerates, one small one
	t.Run("bins by decreasing feerate", func(t *testing.T) {
		t.Parallel()
		histogram := buildFeeHistogram(map[string]MempoolEntry{
			"a": entry(40_000, 0.04),  // 100 sat/vB
			"b": entry(30_000, 0.015), // 50 sat/vB
			"c": entry(1_000, 0.00001),
		})
		require.NotEmpty(t, histogram)
		for i := 1; i < len(histogram); i++ {
			require.LessOrEqual(t, histogram[i].Feerate, histogram[i-1].Feerate)
		}
		var total uint64
		for _, bin := range histogram {
			total += bin.Vsize
		}
		require.Equal(t, uint64(71_000), total, "every vbyte lands in a bin")
	})

	t.Run("empty mempool", func(t *testing.T) {
		t.Parallel()
		require.Empty(t, buildFeeHistogram(nil))
	})

	t.Run("skips zero-vsize entries", func(t *testing.T) {
		t.Parallel()
		require.Empty(t, buildFeeHistogram(map[string]MempoolEntry{"a": entry(0, 0.1)}))
	})
}
