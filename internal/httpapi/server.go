// Package httpapi serves the dashboard HTTP API: algorithm instance
// management, account and market info, and bar-store introspection.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"autotrader/internal/algo"
	"autotrader/internal/bars"
	"autotrader/internal/broker"
	"autotrader/internal/domain"
	"autotrader/internal/ledger"
	"autotrader/internal/marketcal"
)

// barStore is the slice of the bar store the API reads.
type barStore interface {
	EnsureTicker(ctx context.Context, ticker string) error
	Latest(ctx context.Context, ticker string) (domain.Bar, bool, error)
	CollectStats(ctx context.Context) (bars.Stats, error)
}

// ledgerStore is the slice of the ledger the API drives.
type ledgerStore interface {
	CreateInstance(ctx context.Context, algType, ticker string, initialCapital float64) (domain.AlgorithmInstance, error)
	GetInstance(ctx context.Context, id int64) (domain.AlgorithmInstance, bool, error)
	ListInstances(ctx context.Context) ([]domain.AlgorithmInstance, error)
	StopInstance(ctx context.Context, id int64) (bool, error)
	RecordTransaction(ctx context.Context, algorithmID int64, side domain.TxSide, shares int, price float64, at time.Time) (domain.Transaction, error)
	Position(ctx context.Context, algorithmID int64) (int, error)
	BuildCard(ctx context.Context, inst domain.AlgorithmInstance, currentPrice float64) (ledger.Card, error)
	ValidatePIN(ctx context.Context, pin string) (bool, error)
}

// marketInfo is the slice of the calendar provider the API reads.
type marketInfo interface {
	Status(ctx context.Context) (marketcal.MarketStatus, error)
}

// subscriptions is the slice of the stream manager the API drives.
type subscriptions interface {
	Add(ticker string) error
	Remove(ticker string) error
}

// algorithmCatalog lists the available algorithm types.
type algorithmCatalog interface {
	List() []string
	Get(name string) (algo.Algorithm, bool)
}

// Server is the dashboard API server.
type Server struct {
	store      barStore
	ledger     ledgerStore
	broker     broker.Broker
	cal        marketInfo
	algorithms algorithmCatalog
	subs       subscriptions
	log        *slog.Logger
}

// NewServer wires the dashboard API over its collaborators.
func NewServer(store barStore, led ledgerStore, b broker.Broker, cal marketInfo, algorithms algorithmCatalog, subs subscriptions) *Server {
	return &Server{
		store:      store,
		ledger:     led,
		broker:     b,
		cal:        cal,
		algorithms: algorithms,
		subs:       subs,
		log:        slog.Default().With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/validate-pin", s.handleValidatePIN)
	mux.HandleFunc("GET /api/algorithms", s.handleListAlgorithms)
	mux.HandleFunc("POST /api/algorithms", s.handleCreateAlgorithm)
	mux.HandleFunc("DELETE /api/algorithms/{id}", s.handleDeleteAlgorithm)
	mux.HandleFunc("GET /api/available-algorithms", s.handleAvailableAlgorithms)
	mux.HandleFunc("GET /api/account/cash", s.handleAccountCash)
	mux.HandleFunc("GET /api/validate-ticker", s.handleValidateTicker)
	mux.HandleFunc("GET /api/market-status", s.handleMarketStatus)
	mux.HandleFunc("GET /api/bars/{ticker}/latest", s.handleLatestBar)
	mux.HandleFunc("GET /api/stats", s.handleStats)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleValidatePIN(w http.ResponseWriter, r *http.Request) {
	var req ValidatePINRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ok, err := s.ledger.ValidatePIN(r.Context(), req.PIN)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "pin check failed")
		return
	}
	writeJSON(w, ValidatePINResponse{Valid: ok})
}

func (s *Server) handleListAlgorithms(w http.ResponseWriter, r *http.Request) {
	instances, err := s.ledger.ListInstances(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing algorithms failed")
		return
	}

	cards := make([]ledger.Card, 0, len(instances))
	for _, inst := range instances {
		price := 0.0
		// A missing latest bar values open positions at zero rather than
		// failing the whole listing.
		if bar, ok, err := s.store.Latest(r.Context(), inst.Ticker); err == nil && ok {
			price = bar.OHLCV.Close
		}
		card, err := s.ledger.BuildCard(r.Context(), inst, price)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "building card failed")
			return
		}
		cards = append(cards, card)
	}

	resp := AlgorithmsResponse{Algorithms: cards}
	if status, err := s.cal.Status(r.Context()); err == nil {
		resp.MarketOpen = status.IsOpen
	}
	if cash, err := s.broker.AccountCash(r.Context()); err == nil {
		resp.AvailableCash = cash
	}
	writeJSON(w, resp)
}

func (s *Server) handleCreateAlgorithm(w http.ResponseWriter, r *http.Request) {
	var req CreateAlgorithmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))

	if _, ok := s.algorithms.Get(req.AlgorithmType); !ok {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unknown algorithm type %q", req.AlgorithmType))
		return
	}
	if req.InitialCapital <= 0 {
		writeError(w, http.StatusBadRequest, "initial_capital must be positive")
		return
	}
	if cash, err := s.broker.AccountCash(r.Context()); err == nil && req.InitialCapital > cash {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("initial_capital %.2f exceeds available cash %.2f", req.InitialCapital, cash))
		return
	}

	if err := s.store.EnsureTicker(r.Context(), req.Ticker); err != nil {
		if errors.Is(err, bars.ErrInvalidTicker) {
			writeError(w, http.StatusBadRequest, "invalid ticker format")
			return
		}
		writeError(w, http.StatusInternalServerError, "provisioning ticker failed")
		return
	}
	ok, reason, err := s.broker.ValidateTicker(r.Context(), req.Ticker)
	if err != nil {
		writeError(w, http.StatusBadGateway, "ticker validation unavailable")
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, reason)
		return
	}

	inst, err := s.ledger.CreateInstance(r.Context(), req.AlgorithmType, req.Ticker, req.InitialCapital)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "creating algorithm failed")
		return
	}
	if err := s.subs.Add(inst.Ticker); err != nil {
		s.log.Warn("live subscription failed, continuing with backfill-only data",
			"ticker", inst.Ticker, "error", err)
	}

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, inst)
}

func (s *Server) handleDeleteAlgorithm(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid algorithm id")
		return
	}

	inst, found, err := s.ledger.GetInstance(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "looking up algorithm failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "algorithm not found")
		return
	}

	// Close any open position before stopping, so no orphan shares remain.
	held, err := s.ledger.Position(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reading position failed")
		return
	}
	if held > 0 {
		fill, err := s.broker.MarketSell(r.Context(), inst.Ticker, held)
		if err != nil {
			writeError(w, http.StatusBadGateway,
				fmt.Sprintf("closing position failed: %v", err))
			return
		}
		if _, err := s.ledger.RecordTransaction(r.Context(), id, domain.TxSell,
			fill.Shares, fill.Price, time.Now().UTC()); err != nil {
			writeError(w, http.StatusInternalServerError, "recording close failed")
			return
		}
	}

	stopped, err := s.ledger.StopInstance(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stopping algorithm failed")
		return
	}
	if stopped {
		if err := s.subs.Remove(inst.Ticker); err != nil {
			s.log.Warn("unsubscribe failed", "ticker", inst.Ticker, "error", err)
		}
	}
	writeJSON(w, DeleteAlgorithmResponse{Stopped: stopped, SharesSold: held})
}

func (s *Server) handleAvailableAlgorithms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, AvailableAlgorithmsResponse{Algorithms: s.algorithms.List()})
}

func (s *Server) handleAccountCash(w http.ResponseWriter, r *http.Request) {
	cash, err := s.broker.AccountCash(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "account unavailable")
		return
	}
	writeJSON(w, AccountCashResponse{Cash: cash})
}

func (s *Server) handleValidateTicker(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(r.URL.Query().Get("ticker"))
	if ticker == "" {
		writeError(w, http.StatusBadRequest, "ticker required")
		return
	}
	ok, reason, err := s.broker.ValidateTicker(r.Context(), ticker)
	if err != nil {
		writeError(w, http.StatusBadGateway, "ticker validation unavailable")
		return
	}
	writeJSON(w, ValidateTickerResponse{Ticker: ticker, Valid: ok, Reason: reason})
}

func (s *Server) handleMarketStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.cal.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "market status unavailable")
		return
	}
	writeJSON(w, status)
}

func (s *Server) handleLatestBar(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(r.PathValue("ticker"))
	bar, ok, err := s.store.Latest(r.Context(), ticker)
	if err != nil {
		if errors.Is(err, bars.ErrInvalidTicker) {
			writeError(w, http.StatusBadRequest, "invalid ticker format")
			return
		}
		writeError(w, http.StatusInternalServerError, "querying bars failed")
		return
	}
	if !ok {
		// Distinguish "nothing to show yet" from a store fault.
		writeJSON(w, LatestBarResponse{Ticker: ticker, Status: "no_data"})
		return
	}
	writeJSON(w, LatestBarResponse{Ticker: ticker, Status: "ok", Bar: &bar})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.CollectStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "collecting stats failed")
		return
	}
	writeJSON(w, stats)
}
