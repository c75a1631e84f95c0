// Package client calls the wallet platform's HTTP APIs for payment history
// and customer profiles.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"
	"github.com/boddenberg/p2p-queue-engine/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("client")

// ProfileClient resolves customer account age from the Profile API.
type ProfileClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// NewProfileClient creates a new ProfileClient.
func NewProfileClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *ProfileClient {
	return &ProfileClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		cfg:        cfg,
	}
}

type profileResponse struct {
	CustomerID       string `json:"customerId"`
	AccountAgeMonths int    `json:"accountAgeMonths"`
}

// GetAccountAgeMonths fetches the profile with retry, circuit breaker and
// tracing. Unknown customers return *domain.ErrNotFound.
func (c *ProfileClient) GetAccountAgeMonths(ctx context.Context, customerID string) (int, error) {
	ctx, span := tracer.Start(ctx, "ProfileClient.GetAccountAgeMonths")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", customerID))

	var profile profileResponse
	err := resilience.Execute(ctx, c.cb, c.cfg, func() error {
		endpoint := fmt.Sprintf("%s/v1/customers/%s/profile", c.baseURL, url.PathEscape(customerID))
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
			return &domain.ErrNotFound{Resource: "customer_profile", ID: customerID}
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("profile API returned status %d", resp.StatusCode)
		}

		return json.NewDecoder(resp.Body).Decode(&profile)
	})
	if err != nil {
		return 0, wrap("profile", err)
	}
	if profile.AccountAgeMonths < 0 {
		return 0, &domain.ErrExternalService{Service: "profile", Err: fmt.Errorf("negative account age %d", profile.AccountAgeMonths)}
	}
	return profile.AccountAgeMonths, nil
}

func wrap(service string, err error) error {
	var open *domain.ErrCircuitOpen
	if domain.IsPermanent(err) || errors.As(err, &open) {
		return err
	}
	return &domain.ErrExternalService{Service: service, Err: err}
}
