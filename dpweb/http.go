// Package dpweb serves the consensus inspector:
// a small read-only HTTP surface over a running engine.
package dpweb

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rotor-engine/rotor/dp/dpcodec"
	"github.com/rotor-engine/rotor/dp/dpconsensus"
	"github.com/rotor-engine/rotor/dp/dpengine"
	"github.com/rotor-engine/rotor/dp/dpstore"
)

type HTTPServer struct {
	done chan struct{}
}

type HTTPServerConfig struct {
	Listener net.Listener

	Engine *dpengine.Engine
	Codec  dpcodec.Codec

	// MetricsGatherer, when set, exposes /metrics.
	MetricsGatherer prometheus.Gatherer
}

func NewHTTPServer(ctx context.Context, log *slog.Logger, cfg HTTPServerConfig) *HTTPServer {
	srv := &http.Server{
		Handler: newMux(log, cfg),

		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	h := &HTTPServer{
		done: make(chan struct{}),
	}
	go h.serve(log, cfg.Listener, srv)
	go h.waitForShutdown(ctx, srv)

	return h
}

func (h *HTTPServer) Wait() {
	<-h.done
}

func (h *HTTPServer) waitForShutdown(ctx context.Context, srv *http.Server) {
	select {
	case <-h.done:
		// h.serve returned on its own, nothing left to do here.
		return
	case <-ctx.Done():
		_ = srv.Close()
	}
}

func (h *HTTPServer) serve(log *slog.Logger, ln net.Listener, srv *http.Server) {
	defer close(h.done)

	if err := srv.Serve(ln); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
			log.Info("HTTP server shutting down")
		} else {
			log.Info("HTTP server shutting down due to error", "err", err)
		}
	}
}

func newMux(log *slog.Logger, cfg HTTPServerConfig) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/round", handleCurrentRound(log, cfg)).Methods("GET")
	r.HandleFunc("/round/{number:[0-9]+}", handleRoundByNumber(log, cfg)).Methods("GET")
	r.HandleFunc("/lib", handleIrreversible(log, cfg)).Methods("GET")
	r.HandleFunc("/miners", handleMiners(log, cfg)).Methods("GET")

	if cfg.MetricsGatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))
	}

	return r
}

func handleCurrentRound(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		r, err := cfg.Engine.CurrentRound(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeRound(log, cfg, w, r)
	}
}

func handleRoundByNumber(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		n, err := strconv.ParseUint(mux.Vars(req)["number"], 10, 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		r, err := cfg.Engine.Round(req.Context(), n)
		if err != nil {
			var unknown dpstore.RoundUnknownError
			if errors.As(err, &unknown) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeRound(log, cfg, w, r)
	}
}

func handleIrreversible(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		info, err := cfg.Engine.CurrentRoundInfo(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		out := struct {
			Height      uint64 `json:"height"`
			RoundNumber uint64 `json:"roundNumber"`
		}{
			Height:      info.IrreversibleHeight,
			RoundNumber: info.IrreversibleRoundNumber,
		}
		if err := json.NewEncoder(w).Encode(out); err != nil {
			log.Warn("Failed to write irreversible response", "err", err)
		}
	}
}

func handleMiners(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	type miner struct {
		PubKey             string `json:"pubKey"`
		Order              int    `json:"order"`
		ExpectedMiningTime int64  `json:"expectedMiningTime"`
		HasMined           bool   `json:"hasMined"`
		ProducedBlocks     uint64 `json:"producedBlocks"`
		MissedSlots        uint64 `json:"missedSlots"`
	}

	return func(w http.ResponseWriter, req *http.Request) {
		r, err := cfg.Engine.CurrentRound(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		out := make([]miner, 0, r.MinerCount())
		for _, s := range r.OrderedSlots() {
			out = append(out, miner{
				PubKey:             hex.EncodeToString([]byte(s.PubKey)),
				Order:              s.Order,
				ExpectedMiningTime: int64(s.ExpectedMiningTime),
				HasMined:           s.HasMined(),
				ProducedBlocks:     s.ProducedBlocks,
				MissedSlots:        s.MissedSlots,
			})
		}
		if err := json.NewEncoder(w).Encode(out); err != nil {
			log.Warn("Failed to write miners response", "err", err)
		}
	}
}

func writeRound(log *slog.Logger, cfg HTTPServerConfig, w http.ResponseWriter, r *dpconsensus.Round) {
	b, err := cfg.Codec.MarshalRound(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(b); err != nil {
		log.Warn("Failed to write round response", "err", err)
	}
}
