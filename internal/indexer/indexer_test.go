package indexer

import (
	"bytes"
	"context"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bwt-dev/bwt/internal/events"
	"github.com/bwt-dev/bwt/internal/model"
	"github.com/bwt-dev/bwt/internal/node"
	"github.com/bwt-dev/bwt/internal/store"
	"github.com/bwt-dev/bwt/internal/wallet"
)

const testZpub = "zpub6rFR7y4Q2AijBEqTUquhVz398htDFrtymD9xYYfG1m4wAcvPhXNfE3EfH1r1ADqtfSdVCToUG868RvUUkgDKf31mGDtKsAYz2oz2AGutZYs"

// fakeNode is a scriptable bitcoind stand-in implementing NodeClient.
type fakeNode struct {
	mu        sync.Mutex
	tip       model.BlockId
	blocks    map[int32]chainhash.Hash
	walletTxs map[chainhash.Hash]*node.WalletTx
	mempool   map[chainhash.Hash]*node.MempoolEntry
	imported  []node.ImportRequest
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		blocks:    make(map[int32]chainhash.Hash),
		walletTxs: make(map[chainhash.Hash]*node.WalletTx),
		mempool:   make(map[chainhash.Hash]*node.MempoolEntry),
	}
}

// setChain rebuilds the chain up to height, deriving each block hash from
// the height and the fork marker so reorged chains differ above the fork.
func (f *fakeNode) setChain(height int32, fork byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = make(map[int32]chainhash.Hash)
	for h := int32(0); h <= height; h++ {
		f.blocks[h] = blockHash(h, fork)
	}
	f.tip = model.BlockId{Height: height, Hash: f.blocks[height]}
}

func blockHash(height int32, fork byte) chainhash.Hash {
	var hash chainhash.Hash
	hash[0] = byte(height)
	hash[1] = byte(height >> 8)
	hash[2] = fork
	hash[3] = 0xB1
	return hash
}

func (f *fakeNode) GetChainTip() (model.BlockId, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tip, nil
}

func (f *fakeNode) GetBlockHash(height int32) (chainhash.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash, ok := f.blocks[height]
	if !ok {
		return chainhash.Hash{}, &btcjson.RPCError{Code: btcjson.ErrRPCOutOfRange, Message: "Block height out of range"}
	}
	return hash, nil
}

func (f *fakeNode) GetBlockHeaderVerbose(hash chainhash.Hash) (*btcjson.GetBlockHeaderVerboseResult, error) {
	return &btcjson.GetBlockHeaderVerboseResult{Hash: hash.String()}, nil
}

func (f *fakeNode) GetBlockchainInfo() (*node.BlockchainInfo, error) {
	return &node.BlockchainInfo{}, nil
}

func (f *fakeNode) ImportScripts(reqs []node.ImportRequest) ([]node.ImportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imported = append(f.imported, reqs...)
	acks := make([]node.ImportResult, len(reqs))
	for i := range acks {
		acks[i].Success = true
	}
	return acks, nil
}

func (f *fakeNode) ListLabels() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var labels []string
	for _, req := range f.imported {
		labels = append(labels, req.Label)
	}
	return labels, nil
}

func (f *fakeNode) ListSinceBlock(*chainhash.Hash) (*node.ListSinceBlockResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := &node.ListSinceBlockResult{LastBlock: f.tip.Hash.String()}
	for _, tx := range f.walletTxs {
		category := "receive"
		if len(tx.Details) == 0 {
			category = "send"
		}
		result.Transactions = append(result.Transactions, node.ListTransaction{
			TxID:          tx.TxID,
			Category:      category,
			Confirmations: tx.Confirmations,
		})
	}
	return result, nil
}

func (f *fakeNode) GetWalletTransaction(txid chainhash.Hash) (*node.WalletTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.walletTxs[txid]
	if !ok {
		return nil, &btcjson.RPCError{Code: btcjson.ErrRPCNoTxInfo, Message: "Invalid or non-wallet transaction id"}
	}
	clone := *tx
	return &clone, nil
}

func (f *fakeNode) GetMempoolEntry(txid chainhash.Hash) (*node.MempoolEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.mempool[txid]
	if !ok {
		return nil, node.ErrMempoolEntryMissing
	}
	return entry, nil
}

// addWalletTx registers a transaction paying the given script, confirmed at
// height (0 for mempool), and returns its txid.
func (f *fakeNode) addWalletTx(t *testing.T, script []byte, amountSats int64, label string, height int32, prevouts ...wire.OutPoint) chainhash.Hash {
	t.Helper()

	msg := wire.NewMsgTx(wire.TxVersion)
	for _, prevout := range prevouts {
		msg.AddTxIn(wire.NewTxIn(&prevout, nil, nil))
	}
	if len(prevouts) == 0 {
		// a foreign funding input, unknown to the wallet
		foreign := wire.OutPoint{Hash: chainhash.Hash{0xFE, byte(len(f.walletTxs))}, Index: 0}
		msg.AddTxIn(wire.NewTxIn(&foreign, nil, nil))
	}
	msg.AddTxOut(wire.NewTxOut(amountSats, script))

	var buf bytes.Buffer
	require.NoError(t, msg.Serialize(&buf))
	txid := msg.TxHash()

	f.mu.Lock()
	defer f.mu.Unlock()
	walletTx := &node.WalletTx{
		TxID: txid.String(),
		Hex:  hex.EncodeToString(buf.Bytes()),
	}
	if label != "" {
		walletTx.Details = []node.WalletTxDetail{{
			Category: "receive",
			Amount:   float64(amountSats) / 1e8,
			Label:    label,
			Vout:     0,
		}}
	}
	f.setConfirmationLocked(walletTx, height)
	f.walletTxs[txid] = walletTx
	return txid
}

func (f *fakeNode) setConfirmationLocked(tx *node.WalletTx, height int32) {
	switch {
	case height > 0:
		blockHeight := height
		tx.Confirmations = int64(f.tip.Height - height + 1)
		tx.BlockHeight = &blockHeight
		tx.BlockHash = f.blocks[height].String()
	case height == 0:
		tx.Confirmations = 0
		tx.BlockHeight = nil
		tx.BlockHash = ""
	default:
		tx.Confirmations = -1
	}
}

func (f *fakeNode) setConfirmation(txid chainhash.Hash, height int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setConfirmationLocked(f.walletTxs[txid], height)
}

type harness struct {
	node     *fakeNode
	store    *store.Store
	registry *wallet.Registry
	bus      *events.Bus
	indexer  *Indexer
	wallet   *wallet.Wallet
	sub      *events.Subscriber
}

func newHarness(t *testing.T, gapLimit, initialImportSize uint32) *harness {
	t.Helper()

	fake := newFakeNode()
	st := store.New(zap.NewNop(), true, 20)
	registry, err := wallet.New(zap.NewNop(), &chaincfg.MainNetParams, st, nil, gapLimit, initialImportSize)
	require.NoError(t, err)
	w, err := registry.RegisterDescriptor("wpkh("+testZpub+"/0/*)", model.RescanSince{Kind: model.RescanAll})
	require.NoError(t, err)

	bus := events.New(zap.NewNop(), st, nil, 256)
	ix := New(Config{
		Logger:   zap.NewNop(),
		Params:   &chaincfg.MainNetParams,
		Client:   fake,
		Registry: registry,
		Store:    st,
		Bus:      bus,
		Metrics:  nil,
	})

	sub, err := bus.Subscribe(events.Filter{})
	require.NoError(t, err)

	return &harness{node: fake, store: st, registry: registry, bus: bus, indexer: ix, wallet: w, sub: sub}
}

func (h *harness) script(t *testing.T, index uint32) ([]byte, model.ScriptHash, string) {
	t.Helper()
	info, script, err := h.wallet.Derive(index)
	require.NoError(t, err)
	return script, info.ScriptHash, info.Origin.Label()
}

func (h *harness) drainEvents(t *testing.T) []model.IndexChange {
	t.Helper()
	var changes []model.IndexChange
	for {
		select {
		case change := <-h.sub.Events():
			changes = append(changes, change)
		default:
			return changes
		}
	}
}

func TestInitialSyncImportsInitialBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 20, 20)
	h.node.setChain(100, 0)

	require.NoError(t, h.indexer.SyncOnce(context.Background(), true))

	require.Len(t, h.node.imported, 20)
	info := h.wallet.Info()
	require.Equal(t, uint32(19), *info.MaxImportedIndex)
	require.Nil(t, info.MaxFundedIndex)

	changes := h.drainEvents(t)
	require.Len(t, changes, 1)
	tip, ok := changes[0].(model.ChainTipChange)
	require.True(t, ok, "first cycle announces the tip")
	require.Equal(t, int32(100), tip.Tip.Height)
}

func TestFundingProducesOrderedEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 20, 20)
	h.node.setChain(101, 0)

	script, sh, label := h.script(t, 5)
	txid := h.node.addWalletTx(t, script, 100_000_000, label, 101)

	require.NoError(t, h.indexer.SyncOnce(context.Background(), true))

	changes := h.drainEvents(t)
	require.Len(t, changes, 3)

	funded, ok := changes[0].(model.TxoFundedChange)
	require.True(t, ok)
	require.Equal(t, wire.OutPoint{Hash: txid, Index: 0}, funded.OutPoint)
	require.Equal(t, sh, funded.ScriptHash)
	require.Equal(t, int64(100_000_000), funded.Amount)
	require.Equal(t, int32(101), *funded.Height)

	txChange, ok := changes[1].(model.TransactionChange)
	require.True(t, ok)
	require.Equal(t, txid, txChange.TxID)
	require.Equal(t, int32(101), *txChange.Height)

	tip, ok := changes[2].(model.ChainTipChange)
	require.True(t, ok)
	require.Equal(t, int32(101), tip.Tip.Height)

	info := h.wallet.Info()
	require.Equal(t, uint32(5), *info.MaxFundedIndex)
	require.GreaterOrEqual(t, *info.MaxImportedIndex, uint32(25),
		"the funded index extended the watched range within the cycle")

	// invariant: balance change equals funding minus spending
	entry, ok := h.store.GetTx(txid)
	require.True(t, ok)
	require.Equal(t, int64(100_000_000), entry.BalanceChange())
}

func TestSecondCycleIsQuiet(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 20, 20)
	h.node.setChain(101, 0)
	script, _, label := h.script(t, 3)
	h.node.addWalletTx(t, script, 50_000, label, 101)

	require.NoError(t, h.indexer.SyncOnce(context.Background(), true))
	h.drainEvents(t)
	statsBefore := h.store.Stat()

	require.NoError(t, h.indexer.SyncOnce(context.Background(), false))
	require.Empty(t, h.drainEvents(t), "an unchanged node produces no events")
	require.Equal(t, statsBefore, h.store.Stat())
}

func TestReorgDemotesAndReannounces(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 20, 20)
	h.node.setChain(110, 0)
	script, _, label := h.script(t, 0)
	txid := h.node.addWalletTx(t, script, 10_000, label, 105)

	require.NoError(t, h.indexer.SyncOnce(context.Background(), true))
	h.drainEvents(t)
	prevTip, _ := h.store.Tip()

	// blocks 105 and above are replaced; the tx returns to the mempool
	h.node.setChain(110, 1)
	for height := int32(0); height <= 104; height++ {
		h.node.mu.Lock()
		h.node.blocks[height] = blockHash(height, 0)
		h.node.mu.Unlock()
	}
	h.node.setConfirmation(txid, 0)

	require.NoError(t, h.indexer.SyncOnce(context.Background(), false))
	changes := h.drainEvents(t)
	require.Len(t, changes, 3)

	reorg, ok := changes[0].(model.ReorgChange)
	require.True(t, ok)
	require.Equal(t, int32(105), reorg.Height, "fork point plus one")
	require.Equal(t, prevTip.Hash, reorg.PrevHash)
	require.Equal(t, blockHash(110, 1), reorg.CurrHash)

	txChange, ok := changes[1].(model.TransactionChange)
	require.True(t, ok)
	require.Equal(t, txid, txChange.TxID)
	require.Nil(t, txChange.Height, "unconfirmed again")

	tip, ok := changes[2].(model.ChainTipChange)
	require.True(t, ok)
	require.Equal(t, blockHash(110, 1), tip.Tip.Hash)

	status, _ := h.store.GetTxStatus(txid)
	require.True(t, status.IsUnconfirmed())
}

func TestReorgBackToOriginalChainRestoresState(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 20, 20)
	h.node.setChain(110, 0)
	script, _, label := h.script(t, 0)
	txid := h.node.addWalletTx(t, script, 10_000, label, 105)

	require.NoError(t, h.indexer.SyncOnce(context.Background(), true))
	h.drainEvents(t)
	before, _ := h.store.GetTx(txid)

	// fork away and back again
	h.node.setChain(110, 1)
	h.node.setConfirmation(txid, 0)
	require.NoError(t, h.indexer.SyncOnce(context.Background(), false))

	h.node.setChain(110, 0)
	h.node.setConfirmation(txid, 105)
	require.NoError(t, h.indexer.SyncOnce(context.Background(), false))
	h.drainEvents(t)

	after, ok := h.store.GetTx(txid)
	require.True(t, ok)
	require.Equal(t, before.Status, after.Status)
	require.Equal(t, before.Funding, after.Funding)
	tip, _ := h.store.Tip()
	require.Equal(t, blockHash(110, 0), tip.Hash)
}

func TestDoubleSpendReplacesTransaction(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 20, 20)
	h.node.setChain(110, 0)
	script0, sh0, label0 := h.script(t, 0)
	script1, _, label1 := h.script(t, 1)

	fundTxid := h.node.addWalletTx(t, script0, 80_000, label0, 105)
	require.NoError(t, h.indexer.SyncOnce(context.Background(), true))
	h.drainEvents(t)

	// unconfirmed spend of our txo into a wallet change output
	prevout := wire.OutPoint{Hash: fundTxid, Index: 0}
	spendA := h.node.addWalletTx(t, script1, 60_000, label1, 0, prevout)
	require.NoError(t, h.indexer.SyncOnce(context.Background(), false))
	h.drainEvents(t)
	require.Empty(t, h.store.Utxos(store.UtxoFilter{ScriptHash: &sh0}))

	// a conflicting spend confirms; A is double-spent
	h.node.setChain(111, 0)
	spendB := h.node.addWalletTx(t, script1, 55_000, label1, 111, prevout)
	h.node.setConfirmation(spendA, -1)

	require.NoError(t, h.indexer.SyncOnce(context.Background(), false))
	changes := h.drainEvents(t)

	require.Equal(t, model.TransactionReplacedChange{TxID: spendA}, changes[0])

	var sawSpent, sawFunded, sawTx bool
	for _, change := range changes[1:] {
		switch c := change.(type) {
		case model.TxoSpentChange:
			require.Equal(t, prevout, c.Prevout)
			require.Equal(t, spendB, c.InPoint.TxID)
			sawSpent = true
		case model.TxoFundedChange:
			require.Equal(t, spendB, c.OutPoint.Hash)
			sawFunded = true
		case model.TransactionChange:
			require.Equal(t, spendB, c.TxID)
			sawTx = true
		}
	}
	require.True(t, sawSpent)
	require.True(t, sawFunded)
	require.True(t, sawTx)

	_, known := h.store.GetTxStatus(spendA)
	require.False(t, known, "the replaced transaction left the index")
}

func TestCatchupAfterCyclesMatchesLive(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 20, 20)
	h.node.setChain(100, 0)
	require.NoError(t, h.indexer.SyncOnce(context.Background(), true))
	h.drainEvents(t)
	checkpoint, _ := h.store.Tip()

	script, sh, label := h.script(t, 2)
	h.node.setChain(103, 0)
	txid := h.node.addWalletTx(t, script, 42_000, label, 102)
	require.NoError(t, h.indexer.SyncOnce(context.Background(), false))
	liveChanges := h.drainEvents(t)

	// a subscriber resuming from the checkpoint sees the same wallet
	// events plus a synthetic tip
	sub, backlog, err := h.bus.SubscribeSince(checkpoint.Height, &checkpoint.Hash, events.Filter{})
	require.NoError(t, err)
	defer sub.Close()

	require.Len(t, backlog, 3)
	funded, ok := backlog[0].(model.TxoFundedChange)
	require.True(t, ok)
	require.Equal(t, sh, funded.ScriptHash)
	require.Equal(t, liveChanges[0], backlog[0])
	require.Equal(t, liveChanges[1], backlog[1])
	require.Equal(t, txid, backlog[1].(model.TransactionChange).TxID)
	tip, ok := backlog[2].(model.ChainTipChange)
	require.True(t, ok)
	require.Equal(t, int32(103), tip.Tip.Height)
}
