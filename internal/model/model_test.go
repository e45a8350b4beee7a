package model

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

func TestNewScriptHash(t *testing.T) {
	t.Parallel()

	// p2pkh script of 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa (the genesis
	// address), hashed per the Electrum convention
	script, err := hex.DecodeString("76a91462e907b15cbf27d5425399ebf6f0fb50ebb88f1888ac")
	require.NoError(t, err)

	sh := NewScriptHash(script)
	require.Equal(t,
		"8b01df4e368ea28f8dc0423bcf7a4923e3a12d307c875e47a0cfbf90b5c39161",
		sh.String())

	parsed, err := ParseScriptHash(sh.String())
	require.NoError(t, err)
	require.Equal(t, sh, parsed)
}

func TestParseScriptHashRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := ParseScriptHash("abcd")
	require.Error(t, err)
	_, err = ParseScriptHash("zz")
	require.Error(t, err)
}

func TestOriginLabelRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		origin KeyOrigin
		label  string
	}{
		{
			name:   "descriptor child",
			origin: DescriptorOrigin("qwlqgprt", 42),
			label:  "bwt/qwlqgprt/42",
		},
		{
			name:   "standalone address",
			origin: StandaloneOrigin(mustScriptHash(t, "8b01df4e368ea28f8dc0423bcf7a4923e3a12d307c875e47a0cfbf90b5c39161")),
			label:  "bwt/addr/8b01df4e368ea28f8dc0423bcf7a4923e3a12d307c875e47a0cfbf90b5c39161",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.label, tt.origin.Label())
			parsed, ok := OriginFromLabel(tt.label)
			require.True(t, ok)
			require.Equal(t, tt.origin, parsed)
		})
	}
}

func TestOriginFromLabelRejectsForeignLabels(t *testing.T) {
	t.Parallel()

	for _, label := range []string{"", "bwt", "other/abc/1", "bwt/abc", "bwt/abc/notanum", "bwt/addr/zz"} {
		_, ok := OriginFromLabel(label)
		require.False(t, ok, "label %q", label)
	}
}

func TestStatusOrdering(t *testing.T) {
	t.Parallel()

	confirmedLow := ConfirmedStatus(100, chainhash.Hash{}, 0)
	confirmedHigh := ConfirmedStatus(200, chainhash.Hash{}, 0)
	unconfirmed := UnconfirmedStatus(false)
	unconfirmedParents := UnconfirmedStatus(true)

	require.Negative(t, confirmedLow.Cmp(confirmedHigh))
	require.Negative(t, confirmedHigh.Cmp(unconfirmed))
	require.Negative(t, unconfirmed.Cmp(unconfirmedParents))
	require.Zero(t, unconfirmed.Cmp(UnconfirmedStatus(false)))
}

func TestElectrumHeight(t *testing.T) {
	t.Parallel()

	require.Equal(t, int32(123), ConfirmedStatus(123, chainhash.Hash{}, 0).ElectrumHeight())
	require.Equal(t, int32(0), UnconfirmedStatus(false).ElectrumHeight())
	require.Equal(t, int32(-1), UnconfirmedStatus(true).ElectrumHeight())
}

func TestStatusFromConfirmations(t *testing.T) {
	t.Parallel()

	status := StatusFromConfirmations(3, 105, chainhash.Hash{}, 0)
	require.True(t, status.IsConfirmed())
	require.Equal(t, int32(103), status.Height)

	require.True(t, StatusFromConfirmations(0, 105, chainhash.Hash{}, 0).IsUnconfirmed())
	require.False(t, StatusFromConfirmations(-1, 105, chainhash.Hash{}, 0).IsViable())
}

func TestBalanceChange(t *testing.T) {
	t.Parallel()

	entry := NewTxEntry(chainhash.Hash{}, UnconfirmedStatus(false), nil)
	entry.Funding[0] = FundingInfo{Amount: 70_000}
	entry.Funding[2] = FundingInfo{Amount: 30_000}
	entry.Spending[1] = SpendingInfo{Amount: 25_000}
	require.Equal(t, int64(75_000), entry.BalanceChange())
}

func TestRescanSince(t *testing.T) {
	t.Parallel()

	all, err := ParseRescanSince("all")
	require.NoError(t, err)
	require.Equal(t, int64(0), all.RPCValue())

	now, err := ParseRescanSince("now")
	require.NoError(t, err)
	require.Equal(t, "now", now.RPCValue())

	since, err := ParseRescanSince("1600000000")
	require.NoError(t, err)
	require.Equal(t, int64(1600000000), since.RPCValue())

	_, err = ParseRescanSince("never")
	require.Error(t, err)
}

func TestMarshalChange(t *testing.T) {
	t.Parallel()

	height := int32(101)
	payload, err := MarshalChange(TransactionChange{TxID: chainhash.Hash{1}, Height: &height})
	require.NoError(t, err)
	require.Contains(t, string(payload), `"category":"transaction"`)
	require.Contains(t, string(payload), `"height":101`)
}

func TestEffectiveFeerate(t *testing.T) {
	t.Parallel()

	// the ancestor package drags the effective feerate down
	info := MempoolInfo{OwnVsize: 100, OwnFee: 1000, AncestorVsize: 900, AncestorFee: 1000}
	require.InDelta(t, 2.0, info.EffectiveFeerate(), 0.001)

	// a high-feerate ancestor does not raise it above the own feerate
	info = MempoolInfo{OwnVsize: 100, OwnFee: 100, AncestorVsize: 100, AncestorFee: 1000}
	require.InDelta(t, 1.0, info.EffectiveFeerate(), 0.001)
}

func mustScriptHash(t *testing.T, s string) ScriptHash {
	t.Helper()
	sh, err := ParseScriptHash(s)
	require.NoError(t, err)
	return sh
}
