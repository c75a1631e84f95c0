package risk_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"
	"github.com/boddenberg/p2p-queue-engine/internal/risk"

	"github.com/shopspring/decimal"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func venmoHistory() *domain.PaymentMethodHistory {
	return &domain.PaymentMethodHistory{
		CustomerID:        "cust-1",
		PaymentType:       domain.PaymentVenmo,
		TotalTransactions: 47,
		SuccessRate:       0.96,
		AverageAmount:     decimal.RequireFromString("387.23"),
		FirstUsed:         now.AddDate(-2, 0, 0),
		LastUsed:          now.AddDate(0, 0, -3),
		FrequencyScore:    12,
		VerifiedAccounts: []domain.VerifiedAccount{
			{Identifier: "@alice-v", VerifiedAt: now.AddDate(-1, 0, 0), IsActive: true},
		},
	}
}

func proposed(pt domain.PaymentType, amount string) domain.ProposedTransaction {
	return domain.ProposedTransaction{
		CustomerID:     "cust-1",
		PaymentType:    pt,
		PaymentDetails: "@alice-v",
		Amount:         decimal.RequireFromString(amount),
		Timestamp:      now,
	}
}

func TestScore_VenmoAmountDeviation(t *testing.T) {
	s := risk.NewScorer(risk.DefaultTable())

	res := s.Score(proposed(domain.PaymentVenmo, "595"), venmoHistory(), 24)

	if res.RiskLevel != domain.RiskMedium {
		t.Errorf("expected medium risk, got %s (score %d)", res.RiskLevel, res.ValidationScore)
	}
	if res.ValidationScore < 70 || res.ValidationScore > 85 {
		t.Errorf("expected score in 70-85, got %d", res.ValidationScore)
	}
	if res.Checks.ConsistencyCheck.Passed {
		t.Error("expected consistency check to fail")
	}
	dev := res.Checks.ConsistencyCheck.DeviationPercent
	if dev < 53.5 || dev > 53.8 {
		t.Errorf("expected deviation ~53.7%%, got %.2f", dev)
	}
	if !res.Checks.HistoryCheck.Passed || !res.Checks.VerificationCheck.Passed {
		t.Error("expected history and verification checks to pass")
	}
}

func TestScore_DeviationReportedWhenPassing(t *testing.T) {
	s := risk.NewScorer(risk.DefaultTable())

	res := s.Score(proposed(domain.PaymentVenmo, "400"), venmoHistory(), 24)

	if !res.Checks.ConsistencyCheck.Passed {
		t.Fatal("expected consistency check to pass")
	}
	if res.Checks.ConsistencyCheck.DeviationPercent <= 0 {
		t.Errorf("expected deviation to be reported, got %.2f", res.Checks.ConsistencyCheck.DeviationPercent)
	}
	if res.ValidationScore != 100 || res.RiskLevel != domain.RiskLow {
		t.Errorf("expected clean score 100/low, got %d/%s", res.ValidationScore, res.RiskLevel)
	}
}

func TestScore_NewPaymentMethod(t *testing.T) {
	s := risk.NewScorer(risk.DefaultTable())

	res := s.Score(proposed(domain.PaymentZelle, "250"), nil, 24)

	if res.Checks.HistoryCheck.Passed {
		t.Error("expected history check to fail")
	}
	if !res.Checks.HistoryCheck.NewPaymentMethod {
		t.Error("expected new payment method flag")
	}
	if res.RiskLevel != domain.RiskHigh && res.RiskLevel != domain.RiskCritical {
		t.Errorf("expected high or critical, got %s (score %d)", res.RiskLevel, res.ValidationScore)
	}
}

func TestScore_BrandNewCustomerIsCritical(t *testing.T) {
	s := risk.NewScorer(risk.DefaultTable())

	res := s.Score(proposed(domain.PaymentCashApp, "100"), nil, 1)

	if res.RiskLevel != domain.RiskCritical {
		t.Errorf("expected critical, got %s (score %d)", res.RiskLevel, res.ValidationScore)
	}
	if res.Checks.RiskCheck.Passed || !res.Checks.RiskCheck.NewAccount {
		t.Error("expected risk check to fail on account age")
	}
}

func TestScore_NewMethodScoresBelowCleanHistory(t *testing.T) {
	s := risk.NewScorer(risk.DefaultTable())
	clean := venmoHistory()
	clean.AverageAmount = decimal.NewFromInt(250)

	for _, age := range []int{1, 5, 6, 24, 120} {
		withHistory := s.Score(proposed(domain.PaymentVenmo, "250"), clean, age)
		without := s.Score(proposed(domain.PaymentVenmo, "250"), nil, age)

		if without.ValidationScore >= withHistory.ValidationScore {
			t.Errorf("age=%d: expected new method score %d < clean history score %d",
				age, without.ValidationScore, withHistory.ValidationScore)
		}
		if !without.RiskLevel.AtLeast(domain.RiskHigh) {
			t.Errorf("age=%d: expected at least high risk, got %s", age, without.RiskLevel)
		}
	}
}

func TestScore_IssueSeverityWeights(t *testing.T) {
	s := risk.NewScorer(risk.DefaultTable())

	tests := []struct {
		name     string
		issues   []domain.IssueSeverity
		expected int
	}{
		{"one low", []domain.IssueSeverity{domain.SeverityLow}, 5},
		{"one medium", []domain.IssueSeverity{domain.SeverityMedium}, 10},
		{"one high", []domain.IssueSeverity{domain.SeverityHigh}, 15},
		{"capped", []domain.IssueSeverity{domain.SeverityHigh, domain.SeverityHigh, domain.SeverityHigh}, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := venmoHistory()
			for _, sev := range tt.issues {
				h.Issues = append(h.Issues, domain.PaymentIssue{Type: "chargeback", Date: now, Severity: sev})
			}

			res := s.Score(proposed(domain.PaymentVenmo, "387.23"), h, 24)

			if res.Checks.HistoryCheck.IssuePenalty != tt.expected {
				t.Errorf("expected penalty %d, got %d", tt.expected, res.Checks.HistoryCheck.IssuePenalty)
			}
			if res.ValidationScore != 100-tt.expected {
				t.Errorf("expected score %d, got %d", 100-tt.expected, res.ValidationScore)
			}
			if res.Checks.HistoryCheck.Passed {
				t.Error("expected history check to fail")
			}
		})
	}
}

func TestScore_HighFrequency(t *testing.T) {
	s := risk.NewScorer(risk.DefaultTable())
	h := venmoHistory()
	h.FrequencyScore = 4

	tx := proposed(domain.PaymentVenmo, "387.23")
	tx.RecentCount = 12 // 13 in the last 30 days > 3 * 4

	res := s.Score(tx, h, 24)

	if res.Checks.FrequencyCheck.Passed {
		t.Errorf("expected frequency check to fail, current=%.2f baseline=%.2f",
			res.Checks.FrequencyCheck.CurrentFrequency, res.Checks.FrequencyCheck.BaselineFrequency)
	}
	if res.ValidationScore != 85 {
		t.Errorf("expected score 85, got %d", res.ValidationScore)
	}
}

func TestScore_RareUserAtUsualRate(t *testing.T) {
	s := risk.NewScorer(risk.DefaultTable())
	h := venmoHistory()
	h.FrequencyScore = 1

	res := s.Score(proposed(domain.PaymentVenmo, "387.23"), h, 24)

	if !res.Checks.FrequencyCheck.Passed {
		t.Errorf("expected frequency check to pass, current=%.2f baseline=%.2f",
			res.Checks.FrequencyCheck.CurrentFrequency, res.Checks.FrequencyCheck.BaselineFrequency)
	}
	if res.ValidationScore != 100 {
		t.Errorf("expected score 100, got %d (flags %v)", res.ValidationScore, res.Flags)
	}
}

func TestScore_ShortWindowFloorsBaseline(t *testing.T) {
	table := risk.DefaultTable()
	table.FrequencyWindow = 7 * 24 * time.Hour
	s := risk.NewScorer(table)
	h := venmoHistory()
	h.FrequencyScore = 0.5

	tests := []struct {
		name   string
		recent int
		passed bool
	}{
		{"only the proposed one", 0, true},
		{"two in the window", 1, true},
		{"four in the window", 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := proposed(domain.PaymentVenmo, "387.23")
			tx.RecentCount = tt.recent

			res := s.Score(tx, h, 24)

			if res.Checks.FrequencyCheck.Passed != tt.passed {
				t.Errorf("expected passed=%v, current=%.2f", tt.passed, res.Checks.FrequencyCheck.CurrentFrequency)
			}
		})
	}
}

func TestScore_LowSuccessRate(t *testing.T) {
	s := risk.NewScorer(risk.DefaultTable())
	h := venmoHistory()
	h.SuccessRate = 0.82

	res := s.Score(proposed(domain.PaymentVenmo, "387.23"), h, 24)

	if res.Checks.RiskCheck.Passed || !res.Checks.RiskCheck.LowSuccessRate {
		t.Error("expected risk check to fail on success rate")
	}
	if res.ValidationScore != 75 {
		t.Errorf("expected score 75, got %d", res.ValidationScore)
	}
}

func TestScore_StackedDeductionsClampAtZero(t *testing.T) {
	s := risk.NewScorer(risk.DefaultTable())
	h := venmoHistory()
	h.SuccessRate = 0.5
	h.FrequencyScore = 1
	h.VerifiedAccounts = nil
	for i := 0; i < 5; i++ {
		h.Issues = append(h.Issues, domain.PaymentIssue{Type: "dispute", Date: now, Severity: domain.SeverityHigh})
	}
	tx := proposed(domain.PaymentVenmo, "5000")
	tx.RecentCount = 20

	res := s.Score(tx, h, 0)

	if res.ValidationScore != 0 {
		t.Errorf("expected score clamped to 0, got %d", res.ValidationScore)
	}
	if res.RiskLevel != domain.RiskCritical {
		t.Errorf("expected critical, got %s", res.RiskLevel)
	}
	if len(res.Deductions) != 6 {
		t.Errorf("expected 6 deductions, got %d", len(res.Deductions))
	}
}

func TestScore_BoundsAndIssueMonotonicity(t *testing.T) {
	s := risk.NewScorer(risk.DefaultTable())
	rng := rand.New(rand.NewSource(42))
	severities := []domain.IssueSeverity{domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh}

	for i := 0; i < 500; i++ {
		h := venmoHistory()
		h.SuccessRate = rng.Float64()
		h.FrequencyScore = rng.Float64() * 20
		h.AverageAmount = decimal.NewFromFloat(1 + rng.Float64()*1000).Round(2)
		for n := rng.Intn(4); n > 0; n-- {
			h.Issues = append(h.Issues, domain.PaymentIssue{Severity: severities[rng.Intn(3)]})
		}

		tx := proposed(domain.PaymentVenmo, decimal.NewFromFloat(1+rng.Float64()*2000).Round(2).String())
		tx.RecentCount = rng.Intn(30)
		age := rng.Intn(36)

		before := s.Score(tx, h, age)
		if before.ValidationScore < 0 || before.ValidationScore > 100 {
			t.Fatalf("score out of bounds: %d", before.ValidationScore)
		}

		h.Issues = append(h.Issues, domain.PaymentIssue{Severity: severities[rng.Intn(3)]})
		after := s.Score(tx, h, age)
		if after.ValidationScore > before.ValidationScore {
			t.Fatalf("adding an issue raised the score: %d -> %d", before.ValidationScore, after.ValidationScore)
		}
	}
}

func TestRiskLevelForScore(t *testing.T) {
	tests := []struct {
		score    int
		expected domain.RiskLevel
	}{
		{100, domain.RiskLow},
		{85, domain.RiskLow},
		{84, domain.RiskMedium},
		{65, domain.RiskMedium},
		{64, domain.RiskHigh},
		{40, domain.RiskHigh},
		{39, domain.RiskCritical},
		{0, domain.RiskCritical},
	}
	for _, tt := range tests {
		if got := domain.RiskLevelForScore(tt.score); got != tt.expected {
			t.Errorf("score %d: expected %s, got %s", tt.score, tt.expected, got)
		}
	}
}
