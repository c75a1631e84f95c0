package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"
	"github.com/boddenberg/p2p-queue-engine/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var devTracer = otel.Tracer("service/devtools")

// AccountAgeWriter seeds customer account ages in backends the engine owns.
type AccountAgeWriter interface {
	SetAccountAge(ctx context.Context, customerID string, months int) error
}

// ============================================================
// Dev Tools
// ============================================================

// DevToolsService seeds payment history for local testing.
type DevToolsService struct {
	history port.HistoryWriter
	ages    AccountAgeWriter
	cache   port.Cache[*domain.PaymentMethodHistory]
	now     func() time.Time
	logger  *zap.Logger
}

// NewDevToolsService creates the dev tools service. ages and cache may be nil.
func NewDevToolsService(history port.HistoryWriter, ages AccountAgeWriter, cache port.Cache[*domain.PaymentMethodHistory], logger *zap.Logger) *DevToolsService {
	return &DevToolsService{
		history: history,
		ages:    ages,
		cache:   cache,
		now:     time.Now,
		logger:  logger,
	}
}

// SeedHistory stores the given history verbatim.
func (s *DevToolsService) SeedHistory(ctx context.Context, req *domain.DevSeedHistoryRequest) (*domain.DevHistoryResponse, error) {
	ctx, span := devTracer.Start(ctx, "DevToolsService.SeedHistory")
	defer span.End()

	h := req.History
	if err := s.store(ctx, &h, req.AccountAgeMonths); err != nil {
		return nil, err
	}

	s.logger.Info("DEV: payment history seeded",
		zap.String("customer_id", h.CustomerID),
		zap.String("payment_type", string(h.PaymentType)),
		zap.Int("transactions", h.TotalTransactions),
	)
	return &domain.DevHistoryResponse{
		Success: true,
		History: &h,
		Message: fmt.Sprintf("history seeded for %s via %s", h.CustomerID, h.PaymentType),
	}, nil
}

// GenerateHistory builds a plausible random history and stores it.
func (s *DevToolsService) GenerateHistory(ctx context.Context, req *domain.DevGenerateHistoryRequest) (*domain.DevHistoryResponse, error) {
	ctx, span := devTracer.Start(ctx, "DevToolsService.GenerateHistory")
	defer span.End()

	if req.CustomerID == "" {
		return nil, &domain.ErrValidation{Field: "customerId", Message: "required"}
	}
	if !req.PaymentType.Valid() {
		return nil, &domain.ErrValidation{Field: "paymentType", Message: "unsupported payment type"}
	}
	if req.Severity != "" && !req.Severity.Valid() {
		return nil, &domain.ErrValidation{Field: "severity", Message: "must be low, medium or high"}
	}

	count := req.Transactions
	if count <= 0 {
		count = 20
	}
	if count > 500 {
		count = 500
	}
	age := req.AccountAgeMonths
	if age <= 0 {
		age = 24
	}

	now := s.now()
	firstUsed := now.AddDate(0, -age, 0)
	months := now.Sub(firstUsed).Hours() / 24 / 30
	if months < 1 {
		months = 1
	}

	// Average between 20.00 and 1000.00
	avgCents := 2000 + rand.Int63n(98000)

	h := &domain.PaymentMethodHistory{
		CustomerID:        req.CustomerID,
		PaymentType:       req.PaymentType,
		TotalTransactions: count,
		SuccessRate:       0.9 + rand.Float64()*0.1,
		AverageAmount:     decimal.New(avgCents, -2),
		FirstUsed:         firstUsed,
		LastUsed:          now.AddDate(0, 0, -rand.Intn(14)),
		FrequencyScore:    float64(count) / months,
		VerifiedAccounts:  []domain.VerifiedAccount{},
		Issues:            []domain.PaymentIssue{},
	}
	if req.PaymentDetails != "" {
		h.VerifiedAccounts = append(h.VerifiedAccounts, domain.VerifiedAccount{
			Identifier: req.PaymentDetails,
			VerifiedAt: firstUsed,
			IsActive:   true,
		})
	}

	severities := []domain.IssueSeverity{domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh}
	issueTypes := []string{"chargeback", "reversal", "failed", "dispute"}
	for i := 0; i < req.Issues; i++ {
		sev := req.Severity
		if sev == "" {
			sev = severities[rand.Intn(len(severities))]
		}
		kind := issueTypes[rand.Intn(len(issueTypes))]
		h.Issues = append(h.Issues, domain.PaymentIssue{
			Type:        kind,
			Date:        now.AddDate(0, 0, -rand.Intn(180)),
			Description: "DevTools generated " + kind,
			Severity:    sev,
		})
	}

	if err := s.store(ctx, h, &age); err != nil {
		return nil, err
	}

	s.logger.Info("DEV: payment history generated",
		zap.String("customer_id", h.CustomerID),
		zap.String("payment_type", string(h.PaymentType)),
		zap.Int("transactions", count),
		zap.Int("issues", len(h.Issues)),
	)
	return &domain.DevHistoryResponse{
		Success: true,
		History: h,
		Message: fmt.Sprintf("%d transactions generated for %s via %s", count, h.CustomerID, h.PaymentType),
	}, nil
}

func (s *DevToolsService) store(ctx context.Context, h *domain.PaymentMethodHistory, accountAge *int) error {
	if err := h.Validate(); err != nil {
		return err
	}
	if accountAge != nil && *accountAge < 0 {
		return &domain.ErrValidation{Field: "accountAgeMonths", Message: "must not be negative"}
	}
	if err := s.history.PutHistory(ctx, h); err != nil {
		return fmt.Errorf("history write: %w", err)
	}
	if s.cache != nil {
		s.cache.Delete(historyCacheKey(h.CustomerID, h.PaymentType))
	}
	if accountAge != nil && s.ages != nil {
		if err := s.ages.SetAccountAge(ctx, h.CustomerID, *accountAge); err != nil {
			return fmt.Errorf("account age write: %w", err)
		}
	}
	return nil
}
