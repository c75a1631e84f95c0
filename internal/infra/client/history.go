package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"
	"github.com/boddenberg/p2p-queue-engine/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
)

// HistoryClient fetches payment method history from the History API.
// Outbound calls share a bulkhead so a slow backend cannot absorb every
// submission goroutine.
type HistoryClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	bulkhead   *resilience.Bulkhead
}

// NewHistoryClient creates a new HistoryClient.
func NewHistoryClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *HistoryClient {
	return &HistoryClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		cfg:        cfg,
		bulkhead:   resilience.NewBulkhead(cfg.MaxConcurrency),
	}
}

// GetHistory returns nil, nil when the API has no history for the pair.
func (c *HistoryClient) GetHistory(ctx context.Context, customerID string, pt domain.PaymentType) (*domain.PaymentMethodHistory, error) {
	ctx, span := tracer.Start(ctx, "HistoryClient.GetHistory")
	defer span.End()
	span.SetAttributes(
		attribute.String("customer.id", customerID),
		attribute.String("payment.type", string(pt)),
	)

	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.bulkhead.Release()

	var history *domain.PaymentMethodHistory
	err := resilience.Execute(ctx, c.cb, c.cfg, func() error {
		endpoint := fmt.Sprintf("%s/v1/customers/%s/payment-methods/%s/history",
			c.baseURL, url.PathEscape(customerID), url.PathEscape(string(pt)))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			history = nil
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("history API returned status %d", resp.StatusCode)
		}

		var h domain.PaymentMethodHistory
		if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
			return fmt.Errorf("decode history: %w", err)
		}
		history = &h
		return nil
	})
	if err != nil {
		return nil, wrap("history", err)
	}
	return history, nil
}
