package httpd

import (
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

func TestParseSyncedTip(t *testing.T) {
	t.Parallel()

	height, hash, err := parseSyncedTip("100")
	require.NoError(t, err)
	require.Equal(t, int32(100), height)
	require.Nil(t, hash)

	wantHash, _ := chainhash.NewHashFromStr("000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f")
	height, hash, err = parseSyncedTip("120:000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f")
	require.NoError(t, err)
	require.Equal(t, int32(120), height)
	require.Equal(t, wantHash, hash)

	_, _, err = parseSyncedTip("abc")
	require.Error(t, err)
	_, _, err = parseSyncedTip("100:nothex")
	require.Error(t, err)
}

func TestParseOutPoint(t *testing.T) {
	t.Parallel()

	outpoint, err := parseOutPoint("000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f:3")
	require.NoError(t, err)
	require.Equal(t, uint32(3), outpoint.Index)

	_, err = parseOutPoint("no-colon")
	require.Error(t, err)
	_, err = parseOutPoint("xyz:1")
	require.Error(t, err)
}

func TestUtxoOptions(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/utxos?min_conf=3&include_unsafe=false", nil)
	opts, err := utxoOptions(r)
	require.NoError(t, err)
	require.Equal(t, int32(3), opts.MinConf)
	require.False(t, opts.IncludeUnsafe)

	r = httptest.NewRequest("GET", "/utxos", nil)
	opts, err = utxoOptions(r)
	require.NoError(t, err)
	require.Zero(t, opts.MinConf)
	require.True(t, opts.IncludeUnsafe, "unsafe included by default")

	r = httptest.NewRequest("GET", "/utxos?min_conf=x", nil)
	_, err = utxoOptions(r)
	require.Error(t, err)
}

func TestFilterParams(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/stream?category=chain_tip,transaction", nil)
	filter, err := filterParams(r, nil)
	require.NoError(t, err)
	require.Len(t, filter.Categories, 2)

	r = httptest.NewRequest("GET", "/stream?scripthash=zz", nil)
	_, err = filterParams(r, nil)
	require.Error(t, err)
}
