package httpd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bwt-dev/bwt/internal/model"
	"github.com/bwt-dev/bwt/internal/query"
	"github.com/bwt-dev/bwt/internal/wallet"
	"github.com/bwt-dev/bwt/pkg/safe"
)

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /hd", s.handleWallets)
	mux.HandleFunc("GET /hd/{checksum}", s.handleWallet)
	mux.HandleFunc("GET /hd/{checksum}/next", s.handleWalletNext)
	mux.HandleFunc("GET /hd/{checksum}/gap", s.handleWalletGap)
	mux.HandleFunc("GET /hd/{checksum}/{index}", s.handleWalletDerive)

	mux.HandleFunc("GET /address/{address}", s.spk(s.handleSpkStats))
	mux.HandleFunc("GET /address/{address}/{view...}", s.spk(s.handleSpkView))
	mux.HandleFunc("GET /scripthash/{scripthash}", s.spk(s.handleSpkStats))
	mux.HandleFunc("GET /scripthash/{scripthash}/{view...}", s.spk(s.handleSpkView))

	mux.HandleFunc("GET /tx/{txid}", s.handleTx)
	mux.HandleFunc("GET /tx/{txid}/verbose", s.handleTxVerbose)
	mux.HandleFunc("GET /tx/{txid}/hex", s.handleTxHex)
	mux.HandleFunc("POST /tx", s.handleBroadcast)
	mux.HandleFunc("GET /txs/since/{height}", s.handleTxsSince)
	mux.HandleFunc("GET /txo/{txid}/{vout}", s.handleTxo)
	mux.HandleFunc("GET /utxos", s.handleUtxos)

	mux.HandleFunc("GET /mempool/histogram", s.handleFeeHistogram)
	mux.HandleFunc("GET /fee-estimate/{target}", s.handleFeeEstimate)

	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("POST /sync", s.handleSync)
	mux.HandleFunc("GET /dump", s.handleDump)
	mux.HandleFunc("GET /debug", s.handleDump)
}

func (s *Server) handleWallets(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.query.GetWallets())
}

func (s *Server) walletParam(w http.ResponseWriter, r *http.Request) (model.Checksum, bool) {
	checksum := model.Checksum(r.PathValue("checksum"))
	if _, err := s.query.GetWallet(checksum); err != nil {
		if errors.Is(err, wallet.ErrWalletUnknown) {
			s.writeError(w, http.StatusNotFound, err)
		} else {
			s.writeError(w, http.StatusInternalServerError, err)
		}
		return "", false
	}
	return checksum, true
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	checksum, ok := s.walletParam(w, r)
	if !ok {
		return
	}
	info, _ := s.query.GetWallet(checksum)
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleWalletNext(w http.ResponseWriter, r *http.Request) {
	checksum, ok := s.walletParam(w, r)
	if !ok {
		return
	}
	index, info, err := s.query.GetNextUnused(checksum)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Index uint32           `json:"index"`
		Entry model.ScriptInfo `json:"entry"`
	}{index, info})
}

func (s *Server) handleWalletGap(w http.ResponseWriter, r *http.Request) {
	checksum, ok := s.walletParam(w, r)
	if !ok {
		return
	}
	gap, err := s.query.GetGap(checksum)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, gap)
}

func (s *Server) handleWalletDerive(w http.ResponseWriter, r *http.Request) {
	checksum, ok := s.walletParam(w, r)
	if !ok {
		return
	}
	index, err := strconv.ParseUint(r.PathValue("index"), 10, 32)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid index: %w", err))
		return
	}
	info, err := s.query.Derive(checksum, uint32(index))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

// spk resolves the {address} or {scripthash} path segment into a tracked
// scripthash before invoking the handler.
func (s *Server) spk(h func(http.ResponseWriter, *http.Request, model.ScriptHash)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sh model.ScriptHash
		if shStr := r.PathValue("scripthash"); shStr != "" {
			parsed, err := model.ParseScriptHash(shStr)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, err)
				return
			}
			sh = parsed
		} else {
			info, ok := s.resolveAddress(r.PathValue("address"))
			if !ok {
				s.writeError(w, http.StatusNotFound, errors.New("address is not tracked"))
				return
			}
			sh = info.ScriptHash
		}
		h(w, r, sh)
	}
}

func (s *Server) resolveAddress(address string) (model.ScriptInfo, bool) {
	return s.query.ScriptInfoByAddress(address)
}

func (s *Server) handleSpkStats(w http.ResponseWriter, _ *http.Request, sh model.ScriptHash) {
	stats, ok := s.query.ScriptStats(sh)
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New("scripthash is not tracked"))
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSpkView(w http.ResponseWriter, r *http.Request, sh model.ScriptHash) {
	switch r.PathValue("view") {
	case "info":
		info, ok := s.query.ScriptInfo(sh)
		if !ok {
			s.writeError(w, http.StatusNotFound, errors.New("scripthash is not tracked"))
			return
		}
		s.writeJSON(w, http.StatusOK, info)

	case "utxos":
		opts, err := utxoOptions(r)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		opts.ScriptHash = &sh
		s.writeJSON(w, http.StatusOK, s.query.ListUtxos(opts))

	case "history":
		s.writeJSON(w, http.StatusOK, s.query.ListHistory(sh))

	case "history/compact":
		rows := s.query.ListHistory(sh)
		compact := make([]interface{}, len(rows))
		for i, row := range rows {
			compact[i] = struct {
				TxID   string `json:"txid"`
				Height int32  `json:"height"`
			}{row.TxID.String(), row.Status.ElectrumHeight()}
		}
		s.writeJSON(w, http.StatusOK, compact)

	case "stream":
		s.streamEvents(w, r, &sh)

	default:
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown view %q", r.PathValue("view")))
	}
}

func (s *Server) handleTx(w http.ResponseWriter, r *http.Request) {
	txid, err := chainhash.NewHashFromStr(r.PathValue("txid"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	info, err := s.query.GetTx(*txid)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleTxVerbose(w http.ResponseWriter, r *http.Request) {
	txid, err := chainhash.NewHashFromStr(r.PathValue("txid"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	verbose, err := s.query.GetTxVerbose(*txid)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, verbose)
}

func (s *Server) handleTxHex(w http.ResponseWriter, r *http.Request) {
	txid, err := chainhash.NewHashFromStr(r.PathValue("txid"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	txHex, err := s.query.GetRawTxHex(*txid)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, txHex)
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TxHex string `json:"tx_hex"`
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.TxHex == "" {
		// also accept the raw hex directly
		body.TxHex = strings.TrimSpace(string(raw))
	}
	txid, err := s.broadcaster.Broadcast(r.Context(), body.TxHex)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.syncer.Trigger()
	s.writeJSON(w, http.StatusOK, struct {
		TxID string `json:"txid"`
	}{txid.String()})
}

func (s *Server) handleTxsSince(w http.ResponseWriter, r *http.Request) {
	parsed, err := strconv.ParseInt(r.PathValue("height"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	height, err := safe.Int32(parsed)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.query.TxsSince(height))
}

func (s *Server) handleTxo(w http.ResponseWriter, r *http.Request) {
	txid, err := chainhash.NewHashFromStr(r.PathValue("txid"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	vout, err := strconv.ParseUint(r.PathValue("vout"), 10, 32)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	utxo, ok := s.query.GetUtxo(*txid, uint32(vout))
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New("txo not found"))
		return
	}
	s.writeJSON(w, http.StatusOK, utxo)
}

func (s *Server) handleUtxos(w http.ResponseWriter, r *http.Request) {
	opts, err := utxoOptions(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.query.ListUtxos(opts))
}

func (s *Server) handleFeeHistogram(w http.ResponseWriter, _ *http.Request) {
	histogram, err := s.query.FeeHistogram()
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, histogram)
}

func (s *Server) handleFeeEstimate(w http.ResponseWriter, r *http.Request) {
	target, err := strconv.ParseInt(r.PathValue("target"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	rate, err := s.query.FeeEstimate(target)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rate)
}

func (s *Server) handleSync(w http.ResponseWriter, _ *http.Request) {
	s.syncer.Trigger()
	s.writeJSON(w, http.StatusOK, true)
}

func (s *Server) handleDump(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, struct {
		Wallets interface{} `json:"wallets"`
		Stats   interface{} `json:"stats"`
		Tip     interface{} `json:"tip"`
	}{
		Wallets: s.query.GetWallets(),
		Stats:   s.query.Stats(),
		Tip:     tipOrNil(s.query),
	})
}

func tipOrNil(q *query.Query) interface{} {
	tip, ok := q.Tip()
	if !ok {
		return nil
	}
	return tip
}

func utxoOptions(r *http.Request) (query.UtxoOptions, error) {
	opts := query.UtxoOptions{IncludeUnsafe: true}
	if v := r.URL.Query().Get("min_conf"); v != "" {
		minConf, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return opts, fmt.Errorf("invalid min_conf: %w", err)
		}
		opts.MinConf = int32(minConf)
	}
	if v := r.URL.Query().Get("include_unsafe"); v != "" {
		includeUnsafe, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("invalid include_unsafe: %w", err)
		}
		opts.IncludeUnsafe = includeUnsafe
	}
	return opts, nil
}
