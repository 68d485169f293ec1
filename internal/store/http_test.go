package store_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/quote-engine/internal/model"
	"github.com/atmx/quote-engine/internal/store"
)

// newUpstream serves the trading backend's read endpoints for user "alice".
func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Get("/api/account", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"username":"alice","credits":1500.5,"portfolio":{"AAPL":3,"TSLA":0}}`))
	})
	r.Get("/api/orders", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id":"o1","username":"alice","symbol":"AAPL","side":"buy","orderType":"market","quantity":3,"price":120,"status":"done","createdAt":"2025-01-02T15:04:05Z"},
			{"id":"o2","username":"alice","symbol":"TSLA","side":"buy","orderType":"limit","quantity":1,"price":200,"status":"pending","createdAt":"2025-01-02T15:05:05Z"}
		]`))
	})
	r.Get("/prices", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"AAPL","price":150,"change":1.2,"priceHistory":[148,150],"logo":"https://logo/aapl","name":"Apple Inc."}]`))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPStore_GetAccount(t *testing.T) {
	hs := store.NewHTTPStore(newUpstream(t).URL+"/", "secret")

	a, err := hs.GetAccount(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !a.Credits.Equal(d(1500.5)) {
		t.Errorf("expected credits 1500.5, got %s", a.Credits)
	}
	if a.Positions["AAPL"] != 3 {
		t.Errorf("expected 3 AAPL, got %d", a.Positions["AAPL"])
	}
	if _, ok := a.Positions["TSLA"]; ok {
		t.Error("zero positions must be dropped")
	}

	if _, err := hs.GetAccount(context.Background(), "bob"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for other account, got %v", err)
	}
}

func TestHTTPStore_ListOrders(t *testing.T) {
	hs := store.NewHTTPStore(newUpstream(t).URL, "secret")

	orders, err := hs.ListOrders(context.Background(), "alice")
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	o := orders[1]
	if o.OrderType != model.OrderTypeLimit || o.Status != model.StatusPending || o.AccountID != "alice" {
		t.Errorf("camelCase fields not mapped: %+v", o)
	}
	if err := orders[0].Validate(); err != nil {
		t.Errorf("mapped order invalid: %v", err)
	}
}

func TestHTTPStore_ListQuotes(t *testing.T) {
	hs := store.NewHTTPStore(newUpstream(t).URL, "secret")

	quotes, err := hs.ListQuotes(context.Background())
	if err != nil {
		t.Fatalf("list quotes: %v", err)
	}
	q := quotes[0]
	if q.DisplayName != "Apple Inc." || !q.ChangePct.Equal(d(1.2)) || len(q.History) != 2 {
		t.Errorf("unexpected quote %+v", q)
	}
}

func TestHTTPStore_Unauthorized(t *testing.T) {
	hs := store.NewHTTPStore(newUpstream(t).URL, "wrong")

	if _, err := hs.ListQuotes(context.Background()); err == nil {
		t.Fatal("expected error on 401")
	}
}
