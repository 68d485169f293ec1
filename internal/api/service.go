// Package api exposes the live quote snapshot, the order ledger and the
// portfolio valuation over HTTP and WebSocket.
//
// All monetary values use shopspring/decimal, never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/quote-engine/internal/feed"
	"github.com/atmx/quote-engine/internal/ledger"
	"github.com/atmx/quote-engine/internal/metrics"
	"github.com/atmx/quote-engine/internal/model"
	"github.com/atmx/quote-engine/internal/store"
	"github.com/atmx/quote-engine/internal/valuation"
)

// QuoteFeed is the read side of the feed consumer.
type QuoteFeed interface {
	CurrentSnapshot() model.QuoteSnapshot
	SymbolOrder() []string
	Stats() feed.Stats
}

// Service serves read-only views over the feed and the external store.
type Service struct {
	store    store.Store
	feed     QuoteFeed
	valuator *valuation.Valuator
	log      *slog.Logger
}

// NewService creates a new API service. A nil valuator values positions
// at average cost.
func NewService(st store.Store, qf QuoteFeed, v *valuation.Valuator) *Service {
	if v == nil {
		v = valuation.NewValuator(nil)
	}
	return &Service{
		store:    st,
		feed:     qf,
		valuator: v,
		log:      slog.Default(),
	}
}

// --- Response types ---

// SymbolsResponse is the JSON body of GET /symbols.
type SymbolsResponse struct {
	Symbols []string `json:"symbols"`
}

// QuoteResponse is the JSON body of GET /quotes/{symbol}. Live is false
// when the quote came from the store's point-in-time list.
type QuoteResponse struct {
	model.Quote
	Live bool `json:"live"`
}

// PositionsResponse is the JSON body of GET /accounts/{accountID}/positions.
type PositionsResponse struct {
	AccountID string           `json:"account_id"`
	Method    string           `json:"cost_basis_method"`
	Positions []model.Position `json:"positions"`
}

// PortfolioResponse is the JSON body of GET /accounts/{accountID}/portfolio.
type PortfolioResponse struct {
	Valuation model.PortfolioValuation   `json:"valuation"`
	Display   valuation.DisplayValuation `json:"display"`
}

// HealthResponse is the JSON body of GET /health.
type HealthResponse struct {
	Status      string     `json:"status"`
	Feed        feed.Stats `json:"feed"`
	SnapshotSeq uint64     `json:"snapshot_seq"`
	Symbols     int        `json:"symbols"`
}

// --- HTTP Handlers ---

// ListQuotes handles GET /api/v1/quotes
func (s *Service) ListQuotes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.feed.CurrentSnapshot())
}

// GetQuote handles GET /api/v1/quotes/{symbol}
// The live snapshot wins; symbols the feed has not priced yet fall back to
// the store's quote list.
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := feed.NormalizeSymbol(chi.URLParam(r, "symbol"))

	if q, ok := s.feed.CurrentSnapshot().Lookup(symbol); ok {
		writeJSON(w, http.StatusOK, QuoteResponse{Quote: q, Live: true})
		return
	}

	quotes, err := s.store.ListQuotes(r.Context())
	if err != nil {
		s.log.Error("list quotes failed", "err", err)
		writeError(w, "failed to load quotes", http.StatusBadGateway)
		return
	}
	for _, q := range quotes {
		if feed.NormalizeSymbol(q.Symbol) == symbol {
			writeJSON(w, http.StatusOK, QuoteResponse{Quote: q})
			return
		}
	}
	writeError(w, "quote not found", http.StatusNotFound)
}

// ListSymbols handles GET /api/v1/symbols
func (s *Service) ListSymbols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SymbolsResponse{Symbols: s.feed.SymbolOrder()})
}

// ListOrders handles GET /api/v1/accounts/{accountID}/orders
// Returns the latest record of every order, in first-arrival order.
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	l, ok := s.loadLedger(w, r, accountID)
	if !ok {
		return
	}
	orders := l.Orders()
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// ListPositions handles GET /api/v1/accounts/{accountID}/positions
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	l, ok := s.loadLedger(w, r, accountID)
	if !ok {
		return
	}
	positions := s.valuator.Positions(l)
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, PositionsResponse{
		AccountID: accountID,
		Method:    s.valuator.Calculator().Method().String(),
		Positions: positions,
	})
}

// GetPortfolio handles GET /api/v1/accounts/{accountID}/portfolio
// Values the account's holdings against the current snapshot.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	accountID := chi.URLParam(r, "accountID")

	account, err := s.store.GetAccount(r.Context(), accountID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("get account failed", "account", accountID, "err", err)
		writeError(w, "failed to load account", http.StatusBadGateway)
		return
	}

	l, ok := s.loadLedger(w, r, accountID)
	if !ok {
		return
	}

	v := s.valuator.Valuate(*account, s.feed.CurrentSnapshot(), l)
	metrics.ValuationLatency.Observe(time.Since(start).Seconds())

	s.log.Debug("portfolio valued",
		"account", accountID,
		"holdings", len(v.Holdings),
		"net_worth", v.NetWorth.String(),
		"snapshot_seq", v.SnapshotSeq,
	)
	writeJSON(w, http.StatusOK, PortfolioResponse{Valuation: v, Display: valuation.Display(v)})
}

// Health handles GET /health
func (s *Service) Health(w http.ResponseWriter, r *http.Request) {
	snap := s.feed.CurrentSnapshot()
	stats := s.feed.Stats()
	status := "ok"
	if !stats.Connected {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      status,
		Feed:        stats,
		SnapshotSeq: snap.Seq,
		Symbols:     len(snap.Quotes),
	})
}

// loadLedger reads the account's order history into a ledger. Records that
// fail validation are skipped and logged; the rest of the history stays usable.
func (s *Service) loadLedger(w http.ResponseWriter, r *http.Request, accountID string) (*ledger.Ledger, bool) {
	orders, err := s.store.ListOrders(r.Context(), accountID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "account not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		s.log.Error("list orders failed", "account", accountID, "err", err)
		writeError(w, "failed to load orders", http.StatusBadGateway)
		return nil, false
	}

	l := ledger.New()
	for _, o := range orders {
		if err := l.Append(o); err != nil {
			s.log.Warn("skipping order record", "account", accountID, "order", o.ID, "err", err)
		}
	}
	return l, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
