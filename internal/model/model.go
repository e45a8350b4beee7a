// Package model defines the domain types shared by the wallet tracker core.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// LabelPrefix is the namespace used for labels attached to imported scripts.
const LabelPrefix = "bwt"

// Checksum is the canonical checksum identifying a descriptor wallet.
type Checksum string

// ScriptHash is the SHA-256 of a scriptPubKey with the byte order reversed,
// the key addresses are indexed under in the Electrum protocol.
type ScriptHash [32]byte

// NewScriptHash hashes a raw scriptPubKey into its Electrum scripthash.
func NewScriptHash(script []byte) ScriptHash {
	digest := sha256.Sum256(script)
	var sh ScriptHash
	for i := 0; i < 32; i++ {
		sh[i] = digest[31-i]
	}
	return sh
}

// ParseScriptHash decodes the hex form used on the wire.
func ParseScriptHash(s string) (ScriptHash, error) {
	var sh ScriptHash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return sh, fmt.Errorf("invalid scripthash %q: %w", s, err)
	}
	if len(raw) != 32 {
		return sh, fmt.Errorf("invalid scripthash length %d", len(raw))
	}
	copy(sh[:], raw)
	return sh, nil
}

func (sh ScriptHash) String() string {
	return hex.EncodeToString(sh[:])
}

// MarshalJSON renders the scripthash as its hex string.
func (sh ScriptHash) MarshalJSON() ([]byte, error) {
	return json.Marshal(sh.String())
}

// UnmarshalJSON parses the hex string form.
func (sh *ScriptHash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseScriptHash(s)
	if err != nil {
		return err
	}
	*sh = parsed
	return nil
}

// BlockId pairs a block height with its hash.
type BlockId struct {
	Height int32
	Hash   chainhash.Hash
}

func (b BlockId) String() string {
	return fmt.Sprintf("%d:%s", b.Height, b.Hash)
}

// MarshalJSON renders the block reference with a hex hash string.
func (b BlockId) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Height int32  `json:"block_height"`
		Hash   string `json:"block_hash"`
	}{b.Height, b.Hash.String()})
}

// KeyOriginKind discriminates how a tracked script came to be.
type KeyOriginKind int

const (
	// OriginStandalone marks a bare address given directly by the user.
	OriginStandalone KeyOriginKind = iota
	// OriginDescriptor marks a child derived from a descriptor wallet.
	OriginDescriptor
)

// KeyOrigin identifies the provenance of a tracked script: either a child of
// a descriptor wallet at a derivation index, or a standalone address
// identified by its scripthash.
type KeyOrigin struct {
	Kind       KeyOriginKind
	Checksum   Checksum
	Index      uint32
	ScriptHash ScriptHash
}

// StandaloneOrigin returns the origin of a bare address.
func StandaloneOrigin(sh ScriptHash) KeyOrigin {
	return KeyOrigin{Kind: OriginStandalone, ScriptHash: sh}
}

// DescriptorOrigin returns the origin of a derived descriptor child.
func DescriptorOrigin(checksum Checksum, index uint32) KeyOrigin {
	return KeyOrigin{Kind: OriginDescriptor, Checksum: checksum, Index: index}
}

// IsStandalone reports whether the origin is a bare address.
func (o KeyOrigin) IsStandalone() bool {
	return o.Kind == OriginStandalone
}

func (o KeyOrigin) String() string {
	if o.Kind == OriginStandalone {
		return "standalone"
	}
	return fmt.Sprintf("%s/%d", o.Checksum, o.Index)
}

// MarshalJSON renders the origin in its string form.
func (o KeyOrigin) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// Label encodes the origin as the label attached to the imported script, so
// wallet listings can be attributed back without an extra lookup:
// "bwt/<checksum>/<index>" for descriptor children, "bwt/addr/<scripthash>"
// for standalone addresses.
func (o KeyOrigin) Label() string {
	if o.Kind == OriginStandalone {
		return fmt.Sprintf("%s/addr/%s", LabelPrefix, o.ScriptHash)
	}
	return fmt.Sprintf("%s/%s/%d", LabelPrefix, o.Checksum, o.Index)
}

// OriginFromLabel parses a label previously produced by Label. The second
// return value is false for labels not owned by the tracker.
func OriginFromLabel(label string) (KeyOrigin, bool) {
	parts := strings.SplitN(label, "/", 3)
	if len(parts) != 3 || parts[0] != LabelPrefix || parts[1] == "" {
		return KeyOrigin{}, false
	}
	if parts[1] == "addr" {
		sh, err := ParseScriptHash(parts[2])
		if err != nil {
			return KeyOrigin{}, false
		}
		return StandaloneOrigin(sh), true
	}
	index, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return KeyOrigin{}, false
	}
	return DescriptorOrigin(Checksum(parts[1]), uint32(index)), true
}

// RescanKind enumerates the rescan policies a wallet can be registered with.
type RescanKind int

const (
	// RescanNone imports scripts without scanning past history.
	RescanNone RescanKind = iota
	// RescanAll scans from genesis.
	RescanAll
	// RescanSinceTime scans from a unix timestamp onward.
	RescanSinceTime
)

// RescanSince is the user-declared rescan policy for imported scripts.
type RescanSince struct {
	Kind RescanKind
	Time int64
}

// RPCValue returns the value accepted by importmulti's timestamp field.
func (r RescanSince) RPCValue() interface{} {
	switch r.Kind {
	case RescanAll:
		return int64(0)
	case RescanSinceTime:
		return r.Time
	default:
		return "now"
	}
}

func (r RescanSince) String() string {
	switch r.Kind {
	case RescanAll:
		return "all"
	case RescanSinceTime:
		return strconv.FormatInt(r.Time, 10)
	default:
		return "now"
	}
}

// ParseRescanSince parses the user-facing forms "all", "now" (or empty) and
// a unix timestamp. Date strings are not accepted.
func ParseRescanSince(s string) (RescanSince, error) {
	switch s {
	case "all":
		return RescanSince{Kind: RescanAll}, nil
	case "now", "":
		return RescanSince{Kind: RescanNone}, nil
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		return RescanSince{Kind: RescanSinceTime, Time: ts}, nil
	}
	return RescanSince{}, fmt.Errorf("invalid rescan value %q, expected all, now or a unix timestamp", s)
}

// ScriptInfo is the public identity of a tracked script.
type ScriptInfo struct {
	ScriptHash ScriptHash `json:"scripthash"`
	Address    string     `json:"address"`
	Origin     KeyOrigin  `json:"origin"`
}
