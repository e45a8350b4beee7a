package electrum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/bwt-dev/bwt/internal/model"
)

func TestStatusHash(t *testing.T) {
	t.Parallel()

	require.Empty(t, statusHash(nil), "no history yields a null status")

	txid1 := chainhash.Hash{1}
	txid2 := chainhash.Hash{2}
	rows := []model.HistoryEntry{
		{TxID: txid1, Status: model.ConfirmedStatus(100, chainhash.Hash{}, 0)},
		{TxID: txid2, Status: model.UnconfirmedStatus(true)},
	}

	expected := sha256.Sum256([]byte(
		fmt.Sprintf("%s:%d:%s:%d:", txid1, 100, txid2, -1),
	))
	require.Equal(t, hex.EncodeToString(expected[:]), statusHash(rows))

	// status changes change the hash
	rows[1].Status = model.UnconfirmedStatus(false)
	require.NotEqual(t, hex.EncodeToString(expected[:]), statusHash(rows))
}

func TestParseParams(t *testing.T) {
	t.Parallel()

	params := []json.RawMessage{[]byte(`"abc"`), []byte(`7`)}
	var s string
	var n int
	require.NoError(t, parseParams(params, &s, &n))
	require.Equal(t, "abc", s)
	require.Equal(t, 7, n)

	err := parseParams(params[:1], &s, &n)
	require.Error(t, err)
	var rpcErr *rpcError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, -32602, rpcErr.Code)

	require.Error(t, parseParams(params, &n, &n))
}

func TestSatPerVbToBtcPerKb(t *testing.T) {
	t.Parallel()

	// 10 sat/vB == 0.0001 BTC/kvB
	require.InDelta(t, 0.0001, satPerVbToBtcPerKb(10), 1e-12)
}

func TestScriptHashParam(t *testing.T) {
	t.Parallel()

	sh := model.NewScriptHash([]byte{0x51})
	parsed, err := scriptHashParam([]json.RawMessage{[]byte(`"` + sh.String() + `"`)})
	require.NoError(t, err)
	require.Equal(t, sh, parsed)

	_, err = scriptHashParam([]json.RawMessage{[]byte(`"xyz"`)})
	require.Error(t, err)
}
