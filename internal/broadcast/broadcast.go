// Package broadcast publishes raw transactions, either through the node or
// through a user-supplied external command (e.g. to relay over Tor).
package broadcast

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"
)

// cmdTimeout is the hard deadline for the external broadcast command.
const cmdTimeout = 30 * time.Second

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

// NodeClient is the node broadcast surface.
type NodeClient interface {
	SendRawTransaction(txHex string) (chainhash.Hash, error)
}

// Broadcaster publishes transactions. Errors are returned to the caller
// verbatim and never retried.
type Broadcaster struct {
	logger *zap.Logger
	client NodeClient
	cmd    string
}

// New creates a broadcaster. A non-empty cmd template (with an optional
// {tx_hex} placeholder) replaces the node's sendrawtransaction.
func New(logger *zap.Logger, client NodeClient, cmd string) *Broadcaster {
	return &Broadcaster{
		logger: logger.Named("broadcast"),
		client: client,
		cmd:    cmd,
	}
}

// Broadcast publishes the serialized transaction and returns its txid.
func (b *Broadcaster) Broadcast(ctx context.Context, txHex string) (chainhash.Hash, error) {
	if b.cmd == "" {
		return b.client.SendRawTransaction(txHex)
	}

	txid, err := txidOf(txHex)
	if err != nil {
		return chainhash.Hash{}, err
	}

	cmdCtx, cancel := context.WithTimeout(ctx, cmdTimeout)
	defer cancel()

	command := b.cmd
	if strings.Contains(command, "{tx_hex}") {
		command = strings.ReplaceAll(command, "{tx_hex}", txHex)
	} else {
		command = command + " " + txHex
	}

	b.logger.Info("broadcasting via external command", zap.Stringer("txid", txid))
	out, err := exec.CommandContext(cmdCtx, "sh", "-c", command).CombinedOutput()
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("broadcast command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return *txid, nil
}

func txidOf(txHex string) (*chainhash.Hash, error) {
	msg, err := decodeTx(txHex)
	if err != nil {
		return nil, err
	}
	hash := msg.TxHash()
	return &hash, nil
}
