package descriptor

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/bwt-dev/bwt/internal/model"
)

// the BIP84 test vector key
const bip84Zpub = "zpub6rFR7y4Q2AijBEqTUquhVz398htDFrtymD9xYYfG1m4wAcvPhXNfE3EfH1r1ADqtfSdVCToUG868RvUUkgDKf31mGDtKsAYz2oz2AGutZYs"

func TestChecksum(t *testing.T) {
	t.Parallel()

	// the example descriptor from the Bitcoin Core descriptors document
	sum, err := Checksum("wpkh([d34db33f/84h/0h/0h]xpub6DJ2dNUysrn5Vt36jH2KLBT2i1auw1tTSSomg8PhqNiUtx8QX2SvC9nrHu81fT41fvDUnhMjEzQgXnQjKEu3oaqMSzhSrHMxyyoEAmUHQbY/0/*)")
	require.NoError(t, err)
	require.Equal(t, model.Checksum("cjjspncu"), sum)

	_, err = Checksum("wpkh(\x01)")
	require.Error(t, err)
}

func TestParseVerifiesDeclaredChecksum(t *testing.T) {
	t.Parallel()

	body := "wpkh(" + bip84Zpub + "/0/*)"
	desc, err := Parse(body+"#shx3dktw", &chaincfg.MainNetParams)
	require.NoError(t, err)
	require.Equal(t, model.Checksum("shx3dktw"), desc.Checksum())
	require.Equal(t, body+"#shx3dktw", desc.String())
	require.True(t, desc.IsWildcard())

	_, err = Parse(body+"#qqqqqqqq", &chaincfg.MainNetParams)
	require.ErrorContains(t, err, "checksum mismatch")
}

func TestParseRejectsUnsupportedForms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		desc string
	}{
		{"unknown script func", "tr(" + bip84Zpub + "/0/*)"},
		{"hardened step", "wpkh(" + bip84Zpub + "/0h/*)"},
		{"wildcard not last", "wpkh(" + bip84Zpub + "/*/0)"},
		{"garbage key", "wpkh(notakey)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(tt.desc, &chaincfg.MainNetParams)
			require.Error(t, err)
		})
	}
}

func TestParseRejectsNetworkMismatch(t *testing.T) {
	t.Parallel()

	_, err := Parse("wpkh("+bip84Zpub+"/0/*)", &chaincfg.RegressionNetParams)
	require.ErrorContains(t, err, "does not match network")
}

func TestDeriveBip84Addresses(t *testing.T) {
	t.Parallel()

	descs, err := FromXpub(bip84Zpub, &chaincfg.MainNetParams)
	require.NoError(t, err)
	require.Len(t, descs, 2)
	external, internal := descs[0], descs[1]

	// BIP84 reference addresses for m/84'/0'/0'
	tests := []struct {
		desc    *Descriptor
		index   uint32
		address string
	}{
		{external, 0, "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"},
		{external, 1, "bc1qnjg0jd8228aq7egyzacy8cys3knf9xvrerkf9g"},
		{internal, 0, "bc1q8c6fshw2dlwun7ekn9qwf37cu2rn755upcp6el"},
	}
	for _, tt := range tests {
		info, script, err := tt.desc.Derive(tt.index)
		require.NoError(t, err)
		require.Equal(t, tt.address, info.Address)
		require.Equal(t, model.NewScriptHash(script), info.ScriptHash)
		require.Equal(t, model.DescriptorOrigin(tt.desc.Checksum(), tt.index), info.Origin)
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	t.Parallel()

	desc, err := FromBareXpub(bip84Zpub, &chaincfg.MainNetParams)
	require.NoError(t, err)

	first, _, err := desc.Derive(7)
	require.NoError(t, err)
	second, _, err := desc.Derive(7)
	require.NoError(t, err)
	require.Equal(t, first, second)

	other, _, err := desc.Derive(8)
	require.NoError(t, err)
	require.NotEqual(t, first.ScriptHash, other.ScriptHash)
}

func TestNonWildcardRejectsNonZeroIndex(t *testing.T) {
	t.Parallel()

	desc, err := Parse("wpkh("+bip84Zpub+"/0/0)", &chaincfg.MainNetParams)
	require.NoError(t, err)
	require.False(t, desc.IsWildcard())

	_, _, err = desc.Derive(0)
	require.NoError(t, err)
	_, _, err = desc.Derive(1)
	require.Error(t, err)
}

func TestFromAddress(t *testing.T) {
	t.Parallel()

	info, script, err := FromAddress("bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu", &chaincfg.MainNetParams)
	require.NoError(t, err)
	require.True(t, info.Origin.IsStandalone())
	require.Equal(t, model.NewScriptHash(script), info.ScriptHash)
	require.Equal(t, info.ScriptHash, info.Origin.ScriptHash)

	_, _, err = FromAddress("bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu", &chaincfg.RegressionNetParams)
	require.Error(t, err)
	_, _, err = FromAddress("notanaddress", &chaincfg.MainNetParams)
	require.Error(t, err)
}
