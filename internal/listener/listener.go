// Package listener exposes a UNIX socket that external tools (such as a
// blocknotify/walletnotify hook) poke to trigger an immediate sync.
package listener

import (
	"context"
	"errors"
	"net"
	"os"

	"go.uber.org/zap"
)

// Syncer is poked once per accepted connection.
type Syncer interface {
	Trigger()
}

// Listener is the sync-trigger socket server.
type Listener struct {
	logger *zap.Logger
	path   string
	syncer Syncer
}

// New creates a listener at path.
func New(logger *zap.Logger, path string, syncer Syncer) *Listener {
	return &Listener{
		logger: logger.Named("listener"),
		path:   path,
		syncer: syncer,
	}
}

// Run accepts connections until the context ends. Any connection, whatever
// its payload, triggers one sync.
func (l *Listener) Run(ctx context.Context) error {
	// a previous unclean shutdown may have left the socket behind
	_ = os.Remove(l.path)

	socket, err := net.Listen("unix", l.path)
	if err != nil {
		return err
	}
	defer func() {
		socket.Close()
		_ = os.Remove(l.path)
	}()

	go func() {
		<-ctx.Done()
		socket.Close()
	}()

	l.logger.Info("listening for sync triggers", zap.String("path", l.path))
	for {
		conn, err := socket.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			l.logger.Warn("accept failed", zap.Error(err))
			continue
		}
		conn.Close()
		l.syncer.Trigger()
	}
}
