package httpd

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"

	"github.com/bwt-dev/bwt/internal/events"
	"github.com/bwt-dev/bwt/internal/model"
)

// handleStream serves the global SSE event stream, optionally resuming from
// a synced-tip checkpoint.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.streamEvents(w, r, nil)
}

// streamEvents streams filtered bus events as SSE. Filters come from query
// parameters: category, scripthash, outpoint, and the synced-tip catch-up
// checkpoint ("<height>" or "<height>:<hash>").
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, sh *model.ScriptHash) {
	filter, err := filterParams(r, sh)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	var sub *events.Subscriber
	var backlog []model.IndexChange
	if syncedTip := r.URL.Query().Get("synced-tip"); syncedTip != "" {
		height, hash, err := parseSyncedTip(syncedTip)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		sub, backlog, err = s.bus.SubscribeSince(height, hash, filter)
		var reorgGone *events.ErrReorgGone
		switch {
		case errors.As(err, &reorgGone):
			s.writeError(w, http.StatusGone, err)
			return
		case errors.Is(err, events.ErrOutOfRange):
			s.writeError(w, http.StatusGone, err)
			return
		case err != nil:
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
	} else {
		sub, err = s.bus.Subscribe(filter)
		if err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	defer sub.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(change model.IndexChange) bool {
		payload, err := model.MarshalChange(change)
		if err != nil {
			s.logger.Error("marshal change", zap.Error(err))
			return true
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	for _, change := range backlog {
		if !send(change) {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case change, ok := <-sub.Events():
			if !ok {
				return
			}
			if !send(change) {
				return
			}
		}
	}
}

func filterParams(r *http.Request, sh *model.ScriptHash) (events.Filter, error) {
	filter := events.Filter{ScriptHash: sh}

	if categories := r.URL.Query().Get("category"); categories != "" {
		for _, category := range strings.Split(categories, ",") {
			filter.Categories = append(filter.Categories, model.ChangeCategory(category))
		}
	}
	if shStr := r.URL.Query().Get("scripthash"); shStr != "" && sh == nil {
		parsed, err := model.ParseScriptHash(shStr)
		if err != nil {
			return filter, err
		}
		filter.ScriptHash = &parsed
	}
	if outpointStr := r.URL.Query().Get("outpoint"); outpointStr != "" {
		outpoint, err := parseOutPoint(outpointStr)
		if err != nil {
			return filter, err
		}
		filter.OutPoint = outpoint
	}
	return filter, nil
}

func parseOutPoint(s string) (*wire.OutPoint, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid outpoint %q, expected txid:vout", s)
	}
	txid, err := chainhash.NewHashFromStr(parts[0])
	if err != nil {
		return nil, err
	}
	vout, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return nil, err
	}
	return &wire.OutPoint{Hash: *txid, Index: uint32(vout)}, nil
}

func parseSyncedTip(s string) (int32, *chainhash.Hash, error) {
	parts := strings.SplitN(s, ":", 2)
	height, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid synced-tip height %q", parts[0])
	}
	if len(parts) == 1 || parts[1] == "" {
		return int32(height), nil, nil
	}
	hash, err := chainhash.NewHashFromStr(parts[1])
	if err != nil {
		return 0, nil, fmt.Errorf("invalid synced-tip hash %q: %w", parts[1], err)
	}
	return int32(height), hash, nil
}
