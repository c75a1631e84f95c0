package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"
	"github.com/boddenberg/p2p-queue-engine/internal/infra/resilience"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// supabaseHistory maps payment_method_history columns.
type supabaseHistory struct {
	CustomerID        string                   `json:"customer_id"`
	PaymentType       string                   `json:"payment_type"`
	TotalTransactions int                      `json:"total_transactions"`
	SuccessRate       float64                  `json:"success_rate"`
	AverageAmount     decimal.Decimal          `json:"average_amount"`
	FirstUsed         *time.Time               `json:"first_used"`
	LastUsed          *time.Time               `json:"last_used"`
	FrequencyScore    float64                  `json:"frequency_score"`
	VerifiedAccounts  []domain.VerifiedAccount `json:"verified_accounts"`
	Issues            []domain.PaymentIssue    `json:"issues"`
}

func (r *supabaseHistory) toDomain() *domain.PaymentMethodHistory {
	h := &domain.PaymentMethodHistory{
		CustomerID:        r.CustomerID,
		PaymentType:       domain.PaymentType(r.PaymentType),
		TotalTransactions: r.TotalTransactions,
		SuccessRate:       r.SuccessRate,
		AverageAmount:     r.AverageAmount,
		FrequencyScore:    r.FrequencyScore,
		VerifiedAccounts:  r.VerifiedAccounts,
		Issues:            r.Issues,
	}
	if r.FirstUsed != nil {
		h.FirstUsed = *r.FirstUsed
	}
	if r.LastUsed != nil {
		h.LastUsed = *r.LastUsed
	}
	return h
}

func fromDomain(h *domain.PaymentMethodHistory) supabaseHistory {
	row := supabaseHistory{
		CustomerID:        h.CustomerID,
		PaymentType:       string(h.PaymentType),
		TotalTransactions: h.TotalTransactions,
		SuccessRate:       h.SuccessRate,
		AverageAmount:     h.AverageAmount,
		FrequencyScore:    h.FrequencyScore,
		VerifiedAccounts:  h.VerifiedAccounts,
		Issues:            h.Issues,
	}
	if row.VerifiedAccounts == nil {
		row.VerifiedAccounts = []domain.VerifiedAccount{}
	}
	if row.Issues == nil {
		row.Issues = []domain.PaymentIssue{}
	}
	if !h.FirstUsed.IsZero() {
		row.FirstUsed = &h.FirstUsed
	}
	if !h.LastUsed.IsZero() {
		row.LastUsed = &h.LastUsed
	}
	return row
}

// supabaseProfile maps the customer_profiles columns the engine reads.
type supabaseProfile struct {
	CustomerID string `json:"customer_id"`
	AccountAge int    `json:"account_age_months"`
}

// GetHistory fetches one (customer, method) history. Absent rows return
// nil, nil.
func (c *Client) GetHistory(ctx context.Context, customerID string, pt domain.PaymentType) (*domain.PaymentMethodHistory, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetHistory")
	defer span.End()
	span.SetAttributes(
		attribute.String("customer.id", customerID),
		attribute.String("payment.type", string(pt)),
	)

	var history *domain.PaymentMethodHistory
	err := resilience.Execute(ctx, c.cb, c.cfg, func() error {
		path := fmt.Sprintf("payment_method_history?%s&%s&limit=1",
			eq("customer_id", customerID), eq("payment_type", string(pt)))
		body, err := c.doGet(ctx, path)
		if err != nil {
			return err
		}
		if body == nil {
			return nil
		}

		var rows []supabaseHistory
		if err := json.Unmarshal(body, &rows); err != nil {
			return fmt.Errorf("failed to decode history: %w", err)
		}
		if len(rows) > 0 {
			history = rows[0].toDomain()
		}
		return nil
	})
	if err != nil {
		return nil, wrap("supabase/history", err)
	}
	return history, nil
}

// PutHistory upserts a history row.
func (c *Client) PutHistory(ctx context.Context, h *domain.PaymentMethodHistory) error {
	ctx, span := tracer.Start(ctx, "Supabase.PutHistory")
	defer span.End()

	if err := h.Validate(); err != nil {
		return err
	}

	row := fromDomain(h)
	err := resilience.Execute(ctx, c.cb, c.cfg, func() error {
		return c.doUpsert(ctx, "payment_method_history", "customer_id,payment_type", []supabaseHistory{row})
	})
	if err != nil {
		return wrap("supabase/history", err)
	}
	return nil
}

// GetAccountAgeMonths reads customer_profiles.account_age_months.
func (c *Client) GetAccountAgeMonths(ctx context.Context, customerID string) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetAccountAgeMonths")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", customerID))

	var months int
	err := resilience.Execute(ctx, c.cb, c.cfg, func() error {
		path := fmt.Sprintf("customer_profiles?%s&select=customer_id,account_age_months&limit=1", eq("customer_id", customerID))
		body, err := c.doGet(ctx, path)
		if err != nil {
			return err
		}

		var profiles []supabaseProfile
		if body != nil && strings.TrimSpace(string(body)) != "[]" {
			if err := json.Unmarshal(body, &profiles); err != nil {
				return fmt.Errorf("failed to decode profile: %w", err)
			}
		}
		if len(profiles) == 0 {
			return &domain.ErrNotFound{Resource: "customer_profile", ID: customerID}
		}
		months = profiles[0].AccountAge
		return nil
	})
	if err != nil {
		return 0, wrap("supabase/profile", err)
	}
	return months, nil
}

// SetAccountAge upserts a customer's account age.
func (c *Client) SetAccountAge(ctx context.Context, customerID string, months int) error {
	ctx, span := tracer.Start(ctx, "Supabase.SetAccountAge")
	defer span.End()

	err := resilience.Execute(ctx, c.cb, c.cfg, func() error {
		return c.doUpsert(ctx, "customer_profiles", "customer_id", []supabaseProfile{
			{CustomerID: customerID, AccountAge: months},
		})
	})
	if err != nil {
		return wrap("supabase/profile", err)
	}
	return nil
}

// wrap reports backend failures as *domain.ErrExternalService and passes
// domain outcomes through unchanged.
func wrap(service string, err error) error {
	var open *domain.ErrCircuitOpen
	if domain.IsPermanent(err) || errors.As(err, &open) {
		return err
	}
	return &domain.ErrExternalService{Service: service, Err: err}
}
