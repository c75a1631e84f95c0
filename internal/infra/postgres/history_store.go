package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// HistoryStore reads and seeds payment method history and customer ages.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a history store over an open pool.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

// GetHistory returns nil, nil when no row exists for (customer, method).
func (s *HistoryStore) GetHistory(ctx context.Context, customerID string, pt domain.PaymentType) (*domain.PaymentMethodHistory, error) {
	ctx, span := tracer.Start(ctx, "HistoryStore.GetHistory")
	defer span.End()

	var (
		h                   domain.PaymentMethodHistory
		avg                 string
		firstUsed, lastUsed *time.Time
		accounts, issues    []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT customer_id, payment_type, total_transactions, success_rate, average_amount::text,
		       first_used, last_used, frequency_score, verified_accounts, issues
		FROM payment_method_history
		WHERE customer_id = $1 AND payment_type = $2`,
		customerID, string(pt),
	).Scan(
		&h.CustomerID, &h.PaymentType, &h.TotalTransactions, &h.SuccessRate, &avg,
		&firstUsed, &lastUsed, &h.FrequencyScore, &accounts, &issues,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}

	if h.AverageAmount, err = decimal.NewFromString(avg); err != nil {
		return nil, fmt.Errorf("parse average amount %q: %w", avg, err)
	}
	if firstUsed != nil {
		h.FirstUsed = *firstUsed
	}
	if lastUsed != nil {
		h.LastUsed = *lastUsed
	}
	if err := json.Unmarshal(accounts, &h.VerifiedAccounts); err != nil {
		return nil, fmt.Errorf("decode verified accounts: %w", err)
	}
	if err := json.Unmarshal(issues, &h.Issues); err != nil {
		return nil, fmt.Errorf("decode issues: %w", err)
	}
	return &h, nil
}

// PutHistory upserts the history for (customer, method).
func (s *HistoryStore) PutHistory(ctx context.Context, h *domain.PaymentMethodHistory) error {
	ctx, span := tracer.Start(ctx, "HistoryStore.PutHistory")
	defer span.End()

	if err := h.Validate(); err != nil {
		return err
	}

	accounts, err := json.Marshal(nonNil(h.VerifiedAccounts))
	if err != nil {
		return err
	}
	issues, err := json.Marshal(nonNil(h.Issues))
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO payment_method_history (
			customer_id, payment_type, total_transactions, success_rate, average_amount,
			first_used, last_used, frequency_score, verified_accounts, issues
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9::jsonb, $10::jsonb)
		ON CONFLICT (customer_id, payment_type) DO UPDATE SET
			total_transactions = EXCLUDED.total_transactions,
			success_rate       = EXCLUDED.success_rate,
			average_amount     = EXCLUDED.average_amount,
			first_used         = EXCLUDED.first_used,
			last_used          = EXCLUDED.last_used,
			frequency_score    = EXCLUDED.frequency_score,
			verified_accounts  = EXCLUDED.verified_accounts,
			issues             = EXCLUDED.issues`,
		h.CustomerID, string(h.PaymentType), h.TotalTransactions, h.SuccessRate, h.AverageAmount.String(),
		nullTime(h.FirstUsed), nullTime(h.LastUsed), h.FrequencyScore, string(accounts), string(issues),
	)
	if err != nil {
		return fmt.Errorf("put history: %w", err)
	}
	return nil
}

// GetAccountAgeMonths returns *domain.ErrNotFound for unknown customers.
func (s *HistoryStore) GetAccountAgeMonths(ctx context.Context, customerID string) (int, error) {
	ctx, span := tracer.Start(ctx, "HistoryStore.GetAccountAgeMonths")
	defer span.End()

	var months int
	err := s.pool.QueryRow(ctx,
		`SELECT account_age_months FROM customer_profiles WHERE customer_id = $1`, customerID,
	).Scan(&months)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, &domain.ErrNotFound{Resource: "customer_profile", ID: customerID}
	}
	if err != nil {
		return 0, fmt.Errorf("get account age: %w", err)
	}
	return months, nil
}

// SetAccountAge upserts a customer's account age.
func (s *HistoryStore) SetAccountAge(ctx context.Context, customerID string, months int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO customer_profiles (customer_id, account_age_months) VALUES ($1, $2)
		ON CONFLICT (customer_id) DO UPDATE SET account_age_months = EXCLUDED.account_age_months`,
		customerID, months,
	)
	if err != nil {
		return fmt.Errorf("set account age: %w", err)
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
