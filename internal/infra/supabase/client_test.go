package supabase_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"
	"github.com/boddenberg/p2p-queue-engine/internal/infra/resilience"
	"github.com/boddenberg/p2p-queue-engine/internal/infra/supabase"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newClient(srv *httptest.Server) *supabase.Client {
	return supabase.NewClient(
		srv.Client(), srv.URL, "anon-key", "service-key",
		resilience.NewCircuitBreaker("supabase-test", nil),
		resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond},
		zap.NewNop(),
	)
}

func TestClient_GetHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/payment_method_history" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("apikey") != "anon-key" || r.Header.Get("Authorization") != "Bearer service-key" {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		if got := r.URL.Query().Get("customer_id"); got != "eq.alice@x" {
			t.Errorf("expected escaped customer filter, got %q", got)
		}
		_, _ = w.Write([]byte(`[{
			"customer_id": "alice@x",
			"payment_type": "venmo",
			"total_transactions": 42,
			"success_rate": 0.98,
			"average_amount": 150.25,
			"first_used": "2024-01-10T00:00:00Z",
			"last_used": null,
			"frequency_score": 3.5,
			"verified_accounts": [{"identifier": "@alice", "verifiedAt": "2024-01-10T00:00:00Z", "isActive": true}],
			"issues": []
		}]`))
	}))
	defer srv.Close()

	h, err := newClient(srv).GetHistory(context.Background(), "alice@x", domain.PaymentVenmo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h == nil || h.TotalTransactions != 42 || !h.HasActiveAccount("@alice") {
		t.Fatalf("unexpected history: %+v", h)
	}
	if !h.AverageAmount.Equal(decimal.RequireFromString("150.25")) {
		t.Errorf("expected average 150.25, got %s", h.AverageAmount)
	}
	if !h.LastUsed.IsZero() {
		t.Errorf("expected zero last used, got %v", h.LastUsed)
	}
}

func TestClient_GetHistoryEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	h, err := newClient(srv).GetHistory(context.Background(), "nobody", domain.PaymentZelle)
	if err != nil || h != nil {
		t.Fatalf("expected nil history, got %+v (%v)", h, err)
	}
}

func TestClient_RetriesThenWrapsFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newClient(srv).GetHistory(context.Background(), "alice", domain.PaymentVenmo)

	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) || ext.Service != "supabase/history" {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClient_AccountAge(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("customer_id") == "eq.alice" {
			_, _ = w.Write([]byte(`[{"customer_id":"alice","account_age_months":18}]`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()
	c := newClient(srv)

	months, err := c.GetAccountAgeMonths(context.Background(), "alice")
	if err != nil || months != 18 {
		t.Fatalf("expected 18 months, got %d (%v)", months, err)
	}

	calls.Store(0)
	_, err = c.GetAccountAgeMonths(context.Background(), "ghost")
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected not-found to skip retries, got %d calls", calls.Load())
	}
}

func TestClient_PutHistoryUpserts(t *testing.T) {
	var body []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Query().Get("on_conflict") != "customer_id,payment_type" {
			t.Errorf("unexpected on_conflict %q", r.URL.Query().Get("on_conflict"))
		}
		if !strings.Contains(r.Header.Get("Prefer"), "merge-duplicates") {
			t.Errorf("expected merge-duplicates, got %q", r.Header.Get("Prefer"))
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	err := newClient(srv).PutHistory(context.Background(), &domain.PaymentMethodHistory{
		CustomerID:    "alice",
		PaymentType:   domain.PaymentCashApp,
		SuccessRate:   1,
		AverageAmount: decimal.NewFromInt(80),
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if len(body) != 1 || body[0]["payment_type"] != "cashapp" {
		t.Fatalf("unexpected body: %v", body)
	}
	if issues, ok := body[0]["issues"].([]any); !ok || len(issues) != 0 {
		t.Errorf("expected empty issues array, got %v", body[0]["issues"])
	}
}

func TestClient_PutHistoryValidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("invalid history must not reach the backend")
	}))
	defer srv.Close()

	err := newClient(srv).PutHistory(context.Background(), &domain.PaymentMethodHistory{CustomerID: "alice", PaymentType: "wire"})
	var v *domain.ErrValidation
	if !errors.As(err, &v) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
