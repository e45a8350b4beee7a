package broadcast

import (
	"bytes"
	"context"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeNode struct {
	sent []string
	txid chainhash.Hash
}

func (f *fakeNode) SendRawTransaction(txHex string) (chainhash.Hash, error) {
	f.sent = append(f.sent, txHex)
	return f.txid, nil
}

func testTxHex(t *testing.T) (string, chainhash.Hash) {
	t.Helper()
	msg := wire.NewMsgTx(wire.TxVersion)
	prevout := wire.OutPoint{Hash: chainhash.Hash{1}, Index: 0}
	msg.AddTxIn(wire.NewTxIn(&prevout, nil, nil))
	msg.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	var buf bytes.Buffer
	require.NoError(t, msg.Serialize(&buf))
	return hex.EncodeToString(buf.Bytes()), msg.TxHash()
}

func TestBroadcastViaNode(t *testing.T) {
	t.Parallel()

	txHex, wantTxid := testTxHex(t)
	node := &fakeNode{txid: wantTxid}
	b := New(zap.NewNop(), node, "")

	txid, err := b.Broadcast(context.Background(), txHex)
	require.NoError(t, err)
	require.Equal(t, wantTxid, txid)
	require.Equal(t, []string{txHex}, node.sent)
}

func TestBroadcastViaCommand(t *testing.T) {
	t.Parallel()

	txHex, wantTxid := testTxHex(t)
	node := &fakeNode{}
	b := New(zap.NewNop(), node, "true {tx_hex}")

	txid, err := b.Broadcast(context.Background(), txHex)
	require.NoError(t, err)
	require.Equal(t, wantTxid, txid, "the txid is computed locally")
	require.Empty(t, node.sent, "the node is bypassed")
}

func TestBroadcastCommandFailure(t *testing.T) {
	t.Parallel()

	txHex, _ := testTxHex(t)
	b := New(zap.NewNop(), &fakeNode{}, "false")

	_, err := b.Broadcast(context.Background(), txHex)
	require.ErrorContains(t, err, "broadcast command failed")
}

func TestDecodeTxRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := decodeTx("zz")
	require.Error(t, err)
	_, err = decodeTx("0000")
	require.Error(t, err)
}
