// Package electrum serves the Electrum protocol (newline-delimited JSON-RPC
// over TCP) on top of the query engine and event bus.
package electrum

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"

	"github.com/bwt-dev/bwt/internal/events"
	"github.com/bwt-dev/bwt/internal/model"
	"github.com/bwt-dev/bwt/internal/query"
)

// ProtocolVersion is the Electrum protocol version spoken here.
const ProtocolVersion = "1.4"

// ServerVersion identifies the server in server.version replies.
const ServerVersion = "bwt 0.1.0"

// drainTimeout bounds how long shutdown waits for connections to finish.
const drainTimeout = 5 * time.Second

// Broadcaster publishes raw transactions.
type Broadcaster interface {
	Broadcast(ctx context.Context, txHex string) (chainhash.Hash, error)
}

// Server accepts Electrum client connections.
type Server struct {
	logger      *zap.Logger
	addr        string
	query       *query.Query
	bus         *events.Bus
	broadcaster Broadcaster

	wg sync.WaitGroup
}

// NewServer creates an Electrum server bound to addr.
func NewServer(logger *zap.Logger, addr string, q *query.Query, bus *events.Bus, broadcaster Broadcaster) *Server {
	return &Server{
		logger:      logger.Named("electrum"),
		addr:        addr,
		query:       q,
		bus:         bus,
		broadcaster: broadcaster,
	}
}

// Run serves until the context ends, then drains open connections with a
// bounded timeout.
func (s *Server) Run(ctx context.Context) error {
	socket, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		socket.Close()
	}()

	s.logger.Info("electrum server listening", zap.String("addr", s.addr))
	for {
		conn, err := socket.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		s.logger.Warn("electrum drain timed out")
	}
	return ctx.Err()
}

type request struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type response struct {
	ID     json.RawMessage `json:"id"`
	Result interface{}     `json:"result"`
	Error  *rpcError       `json:"error,omitempty"`
}

type notification struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// connState is one client connection with its subscription state.
type connState struct {
	server *Server
	logger *zap.Logger
	conn   net.Conn

	writeMu sync.Mutex

	mu            sync.Mutex
	headersSubbed bool
	scriptSubs    map[model.ScriptHash]string // scripthash -> last sent status
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	c := &connState{
		server:     s,
		logger:     s.logger.With(zap.String("peer", conn.RemoteAddr().String())),
		conn:       conn,
		scriptSubs: make(map[model.ScriptHash]string),
	}
	c.logger.Debug("client connected")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub, err := s.bus.Subscribe(events.Filter{})
	if err != nil {
		return
	}
	defer sub.Close()

	go c.notifyLoop(connCtx, sub)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			c.logger.Debug("malformed request", zap.Error(err))
			return
		}
		c.handle(connCtx, &req)
		if connCtx.Err() != nil {
			return
		}
	}
	c.logger.Debug("client disconnected", zap.Error(scanner.Err()))
}

func (c *connState) handle(ctx context.Context, req *request) {
	result, err := c.dispatch(ctx, req)
	resp := response{ID: req.ID}
	if err != nil {
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) {
			resp.Error = rpcErr
		} else {
			resp.Error = &rpcError{Code: 1, Message: err.Error()}
		}
	} else {
		resp.Result = result
	}
	c.send(resp)
}

func (c *connState) send(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("marshal response", zap.Error(err))
		return
	}
	payload = append(payload, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	if _, err := c.conn.Write(payload); err != nil {
		c.conn.Close()
	}
}

func (e *rpcError) Error() string {
	return e.Message
}

// notifyLoop forwards bus events to the client as protocol notifications:
// header updates for headers subscribers and status-hash changes for
// scripthash subscribers. When the subscription drops (overflow or
// shutdown) the connection is closed; the client reconnects and re-syncs.
func (c *connState) notifyLoop(ctx context.Context, sub *events.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			c.conn.Close()
			return
		case change, ok := <-sub.Events():
			if !ok {
				c.conn.Close()
				return
			}
			c.dispatchNotification(change)
		}
	}
}

func (c *connState) dispatchNotification(change model.IndexChange) {
	switch ch := change.(type) {
	case model.ChainTipChange:
		c.mu.Lock()
		subbed := c.headersSubbed
		c.mu.Unlock()
		if !subbed {
			return
		}
		headerHex, err := c.server.query.GetHeaderHex(ch.Tip.Height)
		if err != nil {
			c.logger.Warn("fetch tip header", zap.Error(err))
			return
		}
		c.send(notification{
			Method: "blockchain.headers.subscribe",
			Params: []interface{}{map[string]interface{}{
				"height": ch.Tip.Height,
				"hex":    headerHex,
			}},
		})

	case model.TxoFundedChange:
		c.notifyScriptHash(ch.ScriptHash)
	case model.TxoSpentChange:
		c.notifyScriptHash(ch.ScriptHash)
	case model.TransactionChange:
		// status transitions (e.g. confirmation) change the status hash
		// of every script the transaction touches
		if entry, err := c.server.query.GetTx(ch.TxID); err == nil {
			seen := make(map[model.ScriptHash]struct{})
			for _, funding := range entry.Funding {
				seen[funding.ScriptHash] = struct{}{}
			}
			for _, spending := range entry.Spending {
				seen[spending.ScriptHash] = struct{}{}
			}
			for sh := range seen {
				c.notifyScriptHash(sh)
			}
		}
	}
}

func (c *connState) notifyScriptHash(sh model.ScriptHash) {
	c.mu.Lock()
	lastStatus, subbed := c.scriptSubs[sh]
	c.mu.Unlock()
	if !subbed {
		return
	}

	status := statusHash(c.server.query.ListHistory(sh))
	if status == lastStatus {
		return
	}
	c.mu.Lock()
	c.scriptSubs[sh] = status
	c.mu.Unlock()

	var statusParam interface{}
	if status != "" {
		statusParam = status
	}
	c.send(notification{
		Method: "blockchain.scripthash.subscribe",
		Params: []interface{}{sh.String(), statusParam},
	})
}
