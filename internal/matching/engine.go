// Package matching pairs pending withdrawals with pending deposits.
package matching

import (
	"sort"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"

	"github.com/shopspring/decimal"
)

// Score weights. They sum to 1 so a perfect pair scores 1.0.
const (
	AmountWeight   = 0.5
	TimeWeight     = 0.3
	PriorityWeight = 0.2

	scoreEpsilon = 1e-9
)

// Policy controls which amount pairs are acceptable.
//
// By default only exact amounts match. With AllowPartial, a pair is accepted
// when the smaller amount is within MaxAmountDeviation of the larger one; the
// match settles the smaller amount and reports the difference as Remainder.
// The remainder is never re-queued: split settlement is not supported.
type Policy struct {
	AllowPartial       bool
	MaxAmountDeviation float64
}

// DefaultPolicy is exact-amount matching.
func DefaultPolicy() Policy {
	return Policy{AllowPartial: false, MaxAmountDeviation: 0.1}
}

// Engine scores and selects withdrawal/deposit pairings. It holds no state
// between calls and is safe for concurrent use.
type Engine struct {
	policy Policy
}

// NewEngine creates an engine with the given policy.
func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// Policy returns the engine's matching policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

type candidate struct {
	proposal domain.MatchProposal
	earliest time.Time
	latest   time.Time
	priority int
}

// FindMatches returns the selected pairs ordered by descending match score.
// No item appears in more than one pair, and both sides of every pair share
// the same payment type. Empty pools yield an empty result.
func (e *Engine) FindMatches(withdrawals, deposits []domain.QueueItem, now time.Time) []domain.MatchProposal {
	ws := matchable(withdrawals, domain.ItemTypeWithdrawal)
	ds := matchable(deposits, domain.ItemTypeDeposit)
	if len(ws) == 0 || len(ds) == 0 {
		return []domain.MatchProposal{}
	}

	maxAge := oldestAge(now, ws, ds)

	byMethod := make(map[domain.PaymentType][]*domain.QueueItem)
	for _, d := range ds {
		byMethod[d.PaymentType] = append(byMethod[d.PaymentType], d)
	}

	var candidates []candidate
	for _, w := range ws {
		for _, d := range byMethod[w.PaymentType] {
			c, ok := e.score(w, d, now, maxAge)
			if ok {
				candidates = append(candidates, c)
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return less(&candidates[i], &candidates[j])
	})

	consumed := make(map[string]bool, len(ws)+len(ds))
	selected := make([]domain.MatchProposal, 0)
	for _, c := range candidates {
		if consumed[c.proposal.WithdrawalID] || consumed[c.proposal.DepositID] {
			continue
		}
		consumed[c.proposal.WithdrawalID] = true
		consumed[c.proposal.DepositID] = true
		selected = append(selected, c.proposal)
	}
	return selected
}

// score computes the weighted match score for one pair, or ok=false when the
// amounts are incompatible under the policy.
func (e *Engine) score(w, d *domain.QueueItem, now time.Time, maxAge time.Duration) (candidate, bool) {
	closeness := AmountCloseness(w.Amount, d.Amount)
	if !e.policy.AllowPartial {
		if !w.Amount.Equal(d.Amount) {
			return candidate{}, false
		}
	} else if closeness < 1-e.policy.MaxAmountDeviation-scoreEpsilon {
		return candidate{}, false
	}

	wait := maxDuration(now.Sub(w.CreatedAt), now.Sub(d.CreatedAt))
	timeScore := 1.0
	if maxAge > 0 {
		timeScore = float64(wait) / float64(maxAge)
	}

	pw, pd := normalizePriority(w.Priority), normalizePriority(d.Priority)
	priorityScore := 1 - float64(pw+pd-2*domain.MinPriority)/float64(2*(domain.MaxPriority-domain.MinPriority))

	total := AmountWeight*closeness + TimeWeight*timeScore + PriorityWeight*priorityScore

	settled := decimal.Min(w.Amount, d.Amount)
	c := candidate{
		proposal: domain.MatchProposal{
			WithdrawalID:  w.ID,
			DepositID:     d.ID,
			PaymentType:   w.PaymentType,
			MatchScore:    total,
			SettledAmount: settled,
			Remainder:     w.Amount.Sub(d.Amount).Abs(),
		},
		earliest: minTime(w.CreatedAt, d.CreatedAt),
		latest:   maxTime(w.CreatedAt, d.CreatedAt),
		priority: pw + pd,
	}
	return c, true
}

// less orders by score, then FIFO (earliest item, then the partner's age),
// then combined priority, then IDs for a stable result.
func less(a, b *candidate) bool {
	if diff := a.proposal.MatchScore - b.proposal.MatchScore; diff > scoreEpsilon || diff < -scoreEpsilon {
		return diff > 0
	}
	if !a.earliest.Equal(b.earliest) {
		return a.earliest.Before(b.earliest)
	}
	if !a.latest.Equal(b.latest) {
		return a.latest.Before(b.latest)
	}
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	if a.proposal.WithdrawalID != b.proposal.WithdrawalID {
		return a.proposal.WithdrawalID < b.proposal.WithdrawalID
	}
	return a.proposal.DepositID < b.proposal.DepositID
}

// AmountCloseness is 1 - |a-b| / max(a,b), or 0 when both are zero.
func AmountCloseness(a, b decimal.Decimal) float64 {
	larger := decimal.Max(a, b)
	if !larger.IsPositive() {
		return 0
	}
	ratio, _ := a.Sub(b).Abs().Div(larger).Float64()
	return 1 - ratio
}

func matchable(items []domain.QueueItem, want domain.ItemType) []*domain.QueueItem {
	out := make([]*domain.QueueItem, 0, len(items))
	for i := range items {
		if items[i].Type == want && items[i].Matchable() {
			out = append(out, &items[i])
		}
	}
	return out
}

func oldestAge(now time.Time, pools ...[]*domain.QueueItem) time.Duration {
	var oldest time.Duration
	for _, pool := range pools {
		for _, item := range pool {
			if age := now.Sub(item.CreatedAt); age > oldest {
				oldest = age
			}
		}
	}
	return oldest
}

func normalizePriority(p int) int {
	switch {
	case p == 0:
		return domain.DefaultPriority
	case p < domain.MinPriority:
		return domain.MinPriority
	case p > domain.MaxPriority:
		return domain.MaxPriority
	default:
		return p
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
