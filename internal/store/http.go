package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/quote-engine/internal/model"
)

// HTTPStore reads from the trading backend's REST API. The backend scopes
// /api/account and /api/orders to the bearer token, so an HTTPStore serves
// exactly one account: requests for any other ID return ErrNotFound.
type HTTPStore struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPStore creates a store reading from baseURL with a bearer token.
func NewHTTPStore(baseURL, token string) *HTTPStore {
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// upstreamAccount is the backend's account document.
type upstreamAccount struct {
	Username  string           `json:"username"`
	Credits   decimal.Decimal  `json:"credits"`
	Portfolio map[string]int64 `json:"portfolio"`
}

type upstreamOrder struct {
	ID        string          `json:"id"`
	Username  string          `json:"username"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	OrderType string          `json:"orderType"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

type upstreamQuote struct {
	Symbol       string            `json:"symbol"`
	Price        decimal.Decimal   `json:"price"`
	Change       decimal.Decimal   `json:"change"`
	PriceHistory []decimal.Decimal `json:"priceHistory"`
	Logo         string            `json:"logo"`
	Name         string            `json:"name"`
}

func (s *HTTPStore) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	var ua upstreamAccount
	if err := s.getJSON(ctx, "/api/account", &ua); err != nil {
		return nil, err
	}
	if ua.Username != accountID {
		return nil, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}

	a := &model.Account{ID: ua.Username, Credits: ua.Credits, Positions: make(map[string]int64, len(ua.Portfolio))}
	for sym, qty := range ua.Portfolio {
		if qty != 0 {
			a.Positions[sym] = qty
		}
	}
	return a, nil
}

func (s *HTTPStore) ListOrders(ctx context.Context, accountID string) ([]model.Order, error) {
	var uos []upstreamOrder
	if err := s.getJSON(ctx, "/api/orders", &uos); err != nil {
		return nil, err
	}

	orders := make([]model.Order, 0, len(uos))
	for _, uo := range uos {
		if uo.Username != "" && uo.Username != accountID {
			continue
		}
		orders = append(orders, model.Order{
			ID:        uo.ID,
			AccountID: accountID,
			Symbol:    uo.Symbol,
			Side:      model.Side(uo.Side),
			OrderType: model.OrderType(uo.OrderType),
			Quantity:  uo.Quantity,
			Price:     uo.Price,
			Status:    model.OrderStatus(uo.Status),
			CreatedAt: uo.CreatedAt,
		})
	}
	return orders, nil
}

func (s *HTTPStore) ListQuotes(ctx context.Context) ([]model.Quote, error) {
	var uqs []upstreamQuote
	if err := s.getJSON(ctx, "/prices", &uqs); err != nil {
		return nil, err
	}

	quotes := make([]model.Quote, 0, len(uqs))
	for _, uq := range uqs {
		quotes = append(quotes, model.Quote{
			Symbol:      uq.Symbol,
			Price:       uq.Price,
			ChangePct:   uq.Change,
			DisplayName: uq.Name,
			LogoURL:     uq.Logo,
			History:     uq.PriceHistory,
		})
	}
	return quotes, nil
}

func (s *HTTPStore) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("upstream %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("upstream %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("upstream %s: %w", path, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("upstream %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("upstream %s: decode: %w", path, err)
	}
	return nil
}
