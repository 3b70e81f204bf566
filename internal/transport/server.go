// Package transport is the thin read-only surface over the cache: REST
// snapshot endpoints, the contract-pool config endpoint, and a websocket
// push of the same snapshot on a fixed cadence.
package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/fortsarb/screener/internal/config"
	"github.com/fortsarb/screener/internal/observ"
	"github.com/fortsarb/screener/internal/screener"
)

type Server struct {
	scr          *screener.Screener
	pool         *config.Pool
	pushInterval time.Duration
	log          *zap.Logger
}

func NewServer(scr *screener.Screener, pool *config.Pool, pushInterval time.Duration, log *zap.Logger) *Server {
	return &Server{scr: scr, pool: pool, pushInterval: pushInterval, log: log}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/screener", s.handleScreener).Methods(http.MethodGet)
	r.HandleFunc("/symbols", s.handleSymbols).Methods(http.MethodGet)
	r.HandleFunc("/config/futures", s.handleGetPool).Methods(http.MethodGet)
	r.HandleFunc("/config/futures", s.handleSetPool).Methods(http.MethodPost)
	r.HandleFunc("/ws/screener", s.handlePush)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", observ.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) handleScreener(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.scr.Rows())
}

func (s *Server) handleSymbols(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.scr.Symbols())
}

type poolBody struct {
	Items []string `json:"items"`
}

func (s *Server) handleGetPool(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, poolBody{Items: s.pool.Items()})
}

func (s *Server) handleSetPool(w http.ResponseWriter, r *http.Request) {
	var body poolBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.pool.Replace(body.Items); err != nil {
		s.log.Error("pool write failed", zap.Error(err))
		http.Error(w, "pool write failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, poolBody{Items: s.pool.Items()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
