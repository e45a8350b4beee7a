// Package descriptor implements the subset of output-script descriptors the
// tracker accepts: pkh, wpkh and sh(wpkh) expressions over extended public
// keys, with optional BIP32 origins and unhardened wildcard chains.
package descriptor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/bwt-dev/bwt/internal/model"
)

// ScriptType is the address form a descriptor expands to.
type ScriptType int

const (
	P2PKH ScriptType = iota
	P2WPKH
	P2SHP2WPKH
)

func (t ScriptType) String() string {
	switch t {
	case P2PKH:
		return "pkh"
	case P2WPKH:
		return "wpkh"
	default:
		return "sh(wpkh)"
	}
}

// KeyInfo is the BIP32 provenance a descriptor yields for its key.
type KeyInfo struct {
	Fingerprint [4]byte
	Origin      string
}

// Descriptor is a parsed, checksummed descriptor. Immutable after Parse.
type Descriptor struct {
	body       string
	checksum   model.Checksum
	scriptType ScriptType
	key        *hdkeychain.ExtendedKey
	keyInfo    KeyInfo
	steps      []uint32
	wildcard   bool
	params     *chaincfg.Params
}

// Parse validates and canonicalizes a descriptor string. A trailing
// "#checksum" is verified when present and computed when absent.
func Parse(s string, params *chaincfg.Params) (*Descriptor, error) {
	body := s
	var declared string
	if i := strings.LastIndexByte(s, '#'); i >= 0 {
		body, declared = s[:i], s[i+1:]
	}

	checksum, err := Checksum(body)
	if err != nil {
		return nil, err
	}
	if declared != "" && declared != string(checksum) {
		return nil, fmt.Errorf("descriptor checksum mismatch: declared %s, computed %s", declared, checksum)
	}

	scriptType, inner, err := splitScriptFunc(body)
	if err != nil {
		return nil, err
	}

	d := &Descriptor{
		body:       body,
		checksum:   checksum,
		scriptType: scriptType,
		params:     params,
	}
	if err := d.parseKeyExpr(inner); err != nil {
		return nil, err
	}
	return d, nil
}

func splitScriptFunc(body string) (ScriptType, string, error) {
	switch {
	case strings.HasPrefix(body, "wpkh(") && strings.HasSuffix(body, ")"):
		return P2WPKH, body[len("wpkh(") : len(body)-1], nil
	case strings.HasPrefix(body, "pkh(") && strings.HasSuffix(body, ")"):
		return P2PKH, body[len("pkh(") : len(body)-1], nil
	case strings.HasPrefix(body, "sh(wpkh(") && strings.HasSuffix(body, "))"):
		return P2SHP2WPKH, body[len("sh(wpkh(") : len(body)-2], nil
	default:
		return 0, "", fmt.Errorf("unsupported descriptor %q: expected pkh(), wpkh() or sh(wpkh())", body)
	}
}

func (d *Descriptor) parseKeyExpr(expr string) error {
	if strings.HasPrefix(expr, "[") {
		end := strings.IndexByte(expr, ']')
		if end < 0 {
			return fmt.Errorf("unterminated key origin in %q", expr)
		}
		d.keyInfo.Origin = expr[1:end]
		expr = expr[end+1:]
	}

	keyStr := expr
	var path string
	if i := strings.IndexByte(expr, '/'); i >= 0 {
		keyStr, path = expr[:i], expr[i+1:]
	}

	key, err := hdkeychain.NewKeyFromString(keyStr)
	if err != nil {
		return fmt.Errorf("invalid extended key: %w", err)
	}
	if key.IsPrivate() {
		return fmt.Errorf("private keys are not accepted, provide the extended public key")
	}
	if err := checkKeyNetwork(keyStr, d.params); err != nil {
		return err
	}
	d.key = key

	if path != "" {
		for _, step := range strings.Split(path, "/") {
			if step == "*" {
				d.wildcard = true
				continue
			}
			if d.wildcard {
				return fmt.Errorf("wildcard must be the final derivation step in %q", expr)
			}
			if strings.HasSuffix(step, "'") || strings.HasSuffix(step, "h") {
				return fmt.Errorf("hardened step %q cannot be derived from a public key", step)
			}
			n, err := strconv.ParseUint(step, 10, 32)
			if err != nil || n >= hdkeychain.HardenedKeyStart {
				return fmt.Errorf("invalid derivation step %q", step)
			}
			d.steps = append(d.steps, uint32(n))
		}
	}

	pub, err := key.ECPubKey()
	if err != nil {
		return fmt.Errorf("invalid extended key: %w", err)
	}
	copy(d.keyInfo.Fingerprint[:], btcutil.Hash160(pub.SerializeCompressed())[:4])
	return nil
}

var keyPrefixNets = map[string]string{
	"xpub": chaincfg.MainNetParams.Name, "ypub": chaincfg.MainNetParams.Name, "zpub": chaincfg.MainNetParams.Name,
	"tpub": "test", "upub": "test", "vpub": "test",
}

func checkKeyNetwork(keyStr string, params *chaincfg.Params) error {
	if len(keyStr) < 4 {
		return fmt.Errorf("invalid extended key %q", keyStr)
	}
	net, ok := keyPrefixNets[keyStr[:4]]
	if !ok {
		return fmt.Errorf("unknown extended key prefix %q", keyStr[:4])
	}
	mainnet := params.Name == chaincfg.MainNetParams.Name
	if mainnet != (net == chaincfg.MainNetParams.Name) {
		return fmt.Errorf("extended key %s... does not match network %s", keyStr[:4], params.Name)
	}
	return nil
}

// String returns the canonical descriptor with its checksum.
func (d *Descriptor) String() string {
	return d.body + "#" + string(d.checksum)
}

// Checksum returns the canonical checksum identifying this descriptor.
func (d *Descriptor) Checksum() model.Checksum {
	return d.checksum
}

// IsWildcard reports whether the descriptor expands into a chain of children.
func (d *Descriptor) IsWildcard() bool {
	return d.wildcard
}

// KeyInfo returns the BIP32 provenance of the descriptor's key.
func (d *Descriptor) KeyInfo() KeyInfo {
	return d.keyInfo
}

// ScriptType returns the address form this descriptor produces.
func (d *Descriptor) ScriptType() ScriptType {
	return d.scriptType
}

// Derive computes the ScriptInfo of the child at index, along with its
// scriptPubKey. Non-wildcard descriptors only accept index 0. Derivation is
// deterministic; callers memoize.
func (d *Descriptor) Derive(index uint32) (model.ScriptInfo, []byte, error) {
	if !d.wildcard && index != 0 {
		return model.ScriptInfo{}, nil, fmt.Errorf("descriptor %s is not ranged, index %d is invalid", d.checksum, index)
	}
	if index >= hdkeychain.HardenedKeyStart {
		return model.ScriptInfo{}, nil, fmt.Errorf("index %d is out of the unhardened range", index)
	}

	key := d.key
	var err error
	for _, step := range d.steps {
		if key, err = key.Derive(step); err != nil {
			return model.ScriptInfo{}, nil, fmt.Errorf("derive step %d: %w", step, err)
		}
	}
	if d.wildcard {
		if key, err = key.Derive(index); err != nil {
			return model.ScriptInfo{}, nil, fmt.Errorf("derive index %d: %w", index, err)
		}
	}

	pub, err := key.ECPubKey()
	if err != nil {
		return model.ScriptInfo{}, nil, err
	}
	addr, err := d.address(pub.SerializeCompressed())
	if err != nil {
		return model.ScriptInfo{}, nil, err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return model.ScriptInfo{}, nil, err
	}

	return model.ScriptInfo{
		ScriptHash: model.NewScriptHash(script),
		Address:    addr.EncodeAddress(),
		Origin:     model.DescriptorOrigin(d.checksum, index),
	}, script, nil
}

func (d *Descriptor) address(compressedPub []byte) (btcutil.Address, error) {
	pubHash := btcutil.Hash160(compressedPub)
	switch d.scriptType {
	case P2PKH:
		return btcutil.NewAddressPubKeyHash(pubHash, d.params)
	case P2WPKH:
		return btcutil.NewAddressWitnessPubKeyHash(pubHash, d.params)
	default:
		witness, err := btcutil.NewAddressWitnessPubKeyHash(pubHash, d.params)
		if err != nil {
			return nil, err
		}
		script, err := txscript.PayToAddrScript(witness)
		if err != nil {
			return nil, err
		}
		return btcutil.NewAddressScriptHash(script, d.params)
	}
}

// FromXpub expands an extended public key into the conventional pair of
// external and internal wildcard descriptors. The script function is chosen
// by the key's version prefix: x/t pkh, y/u sh(wpkh), z/v wpkh.
func FromXpub(xpub string, params *chaincfg.Params) ([]*Descriptor, error) {
	fn, err := scriptFuncForPrefix(xpub)
	if err != nil {
		return nil, err
	}
	external, err := Parse(fmt.Sprintf(fn, xpub+"/0/*"), params)
	if err != nil {
		return nil, err
	}
	internal, err := Parse(fmt.Sprintf(fn, xpub+"/1/*"), params)
	if err != nil {
		return nil, err
	}
	return []*Descriptor{external, internal}, nil
}

// FromBareXpub wraps an extended public key into a single wildcard descriptor
// deriving direct children, without the external/internal split.
func FromBareXpub(xpub string, params *chaincfg.Params) (*Descriptor, error) {
	fn, err := scriptFuncForPrefix(xpub)
	if err != nil {
		return nil, err
	}
	return Parse(fmt.Sprintf(fn, xpub+"/*"), params)
}

// FromAddress builds the ScriptInfo and scriptPubKey of a standalone address.
func FromAddress(address string, params *chaincfg.Params) (model.ScriptInfo, []byte, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return model.ScriptInfo{}, nil, fmt.Errorf("invalid address %q: %w", address, err)
	}
	if !addr.IsForNet(params) {
		return model.ScriptInfo{}, nil, fmt.Errorf("address %s does not match network %s", address, params.Name)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return model.ScriptInfo{}, nil, err
	}
	sh := model.NewScriptHash(script)
	return model.ScriptInfo{
		ScriptHash: sh,
		Address:    addr.EncodeAddress(),
		Origin:     model.StandaloneOrigin(sh),
	}, script, nil
}

func scriptFuncForPrefix(xpub string) (string, error) {
	if len(xpub) < 4 {
		return "", fmt.Errorf("invalid extended key %q", xpub)
	}
	switch xpub[0] {
	case 'x', 't':
		return "pkh(%s)", nil
	case 'y', 'u':
		return "sh(wpkh(%s))", nil
	case 'z', 'v':
		return "wpkh(%s)", nil
	default:
		return "", fmt.Errorf("unknown extended key prefix %q", xpub[:4])
	}
}
