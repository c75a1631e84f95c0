package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"
	"github.com/boddenberg/p2p-queue-engine/internal/infra/observability"
	"github.com/boddenberg/p2p-queue-engine/internal/infra/resilience"
	"github.com/boddenberg/p2p-queue-engine/internal/matching"
	"github.com/boddenberg/p2p-queue-engine/internal/port"
	"github.com/boddenberg/p2p-queue-engine/internal/risk"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var queueTracer = otel.Tracer("service/queue")

// QueueConfig holds the orchestrator policy.
type QueueConfig struct {
	DedupWindow     time.Duration
	FrequencyWindow time.Duration
	PassLockTTL     time.Duration

	// Submissions at or above RejectLevel are refused; at or above
	// ReviewLevel they are queued but held out of matching until approved.
	RejectLevel domain.RiskLevel
	ReviewLevel domain.RiskLevel

	MaxConcurrency int
}

// DefaultQueueConfig returns the documented defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		DedupWindow:     60 * time.Second,
		FrequencyWindow: 30 * 24 * time.Hour,
		PassLockTTL:     30 * time.Second,
		RejectLevel:     domain.RiskCritical,
		ReviewLevel:     domain.RiskHigh,
		MaxConcurrency:  10,
	}
}

// QueueDeps are the collaborators of QueueService. Store, History, Scorer and
// Engine are required; the rest are optional.
type QueueDeps struct {
	Store    port.QueueStore
	History  port.HistoryStore
	Profiles port.ProfileFetcher
	Counter  port.SubmissionCounter
	Lock     port.PassLock
	Events   []port.EventPublisher
	Cache    port.Cache[*domain.PaymentMethodHistory]
	Scorer   *risk.Scorer
	Engine   *matching.Engine
	Now      func() time.Time
}

// QueueService orchestrates scoring, queue insertion and matching passes.
type QueueService struct {
	store    port.QueueStore
	history  port.HistoryStore
	profiles port.ProfileFetcher
	counter  port.SubmissionCounter
	lock     port.PassLock
	events   []port.EventPublisher
	cache    port.Cache[*domain.PaymentMethodHistory]
	scorer   *risk.Scorer
	engine   *matching.Engine
	now      func() time.Time

	cfg      QueueConfig
	bulkhead *resilience.Bulkhead
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewQueueService creates the queue orchestrator with all dependencies injected.
func NewQueueService(deps QueueDeps, cfg QueueConfig, metrics *observability.Metrics, logger *zap.Logger) *QueueService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &QueueService{
		store:    deps.Store,
		history:  deps.History,
		profiles: deps.Profiles,
		counter:  deps.Counter,
		lock:     deps.Lock,
		events:   deps.Events,
		cache:    deps.Cache,
		scorer:   deps.Scorer,
		engine:   deps.Engine,
		now:      now,
		cfg:      cfg,
		bulkhead: resilience.NewBulkhead(cfg.MaxConcurrency),
		metrics:  metrics,
		logger:   logger,
	}
}

// ============================================================
// Submission
// ============================================================

// Submit scores a submission, applies the risk policy and queues it.
// A rejected submission fails with *domain.ErrValidationRejected.
func (s *QueueService) Submit(ctx context.Context, req *domain.SubmissionRequest) (*domain.SubmissionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := queueTracer.Start(ctx, "QueueService.Submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("customer.id", req.CustomerID),
		attribute.String("item.type", string(req.Type)),
		attribute.String("payment.type", string(req.PaymentType)),
	)

	start := time.Now()
	defer func() {
		s.metrics.RecordOperationDuration("submit", time.Since(start))
	}()

	if err := validateSubmission(req, true); err != nil {
		return nil, err
	}

	if err := s.bulkhead.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.bulkhead.Release()

	now := s.now()
	result, err := s.evaluate(ctx, req, now)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveValidationScore(result.ValidationScore)
	span.SetAttributes(
		attribute.Int("validation.score", result.ValidationScore),
		attribute.String("risk.level", string(result.RiskLevel)),
	)

	decision := s.decide(result.RiskLevel)
	if decision == domain.DecisionReject {
		s.metrics.IncrSubmission(observability.DecisionRejected)
		s.logger.Info("submission rejected",
			zap.String("customer_id", req.CustomerID),
			zap.Int("score", result.ValidationScore),
			zap.Strings("flags", result.Flags),
		)
		return nil, &domain.ErrValidationRejected{Result: result}
	}

	priority := req.Priority
	if priority == 0 {
		priority = domain.DefaultPriority
	}
	item := &domain.QueueItem{
		Type:            req.Type,
		CustomerID:      req.CustomerID,
		Amount:          req.Amount,
		PaymentType:     req.PaymentType,
		PaymentDetails:  req.PaymentDetails,
		Priority:        priority,
		RequiresReview:  decision == domain.DecisionReview,
		ValidationScore: result.ValidationScore,
		RiskLevel:       result.RiskLevel,
		Notes:           req.Notes,
		CreatedAt:       now,
	}

	id, err := s.store.Add(ctx, item, s.cfg.DedupWindow)
	if err != nil {
		var dup *domain.ErrDuplicateSubmission
		if errors.As(err, &dup) {
			s.metrics.IncrSubmission(observability.DecisionDuplicate)
			return nil, err
		}
		return nil, fmt.Errorf("queue insert: %w", err)
	}

	if s.counter != nil {
		if err := s.counter.Record(ctx, req.CustomerID, req.PaymentType, now); err != nil {
			s.logger.Warn("failed to record submission for frequency window",
				zap.String("customer_id", req.CustomerID),
				zap.Error(err),
			)
		}
	}

	if item.RequiresReview {
		s.metrics.IncrSubmission(observability.DecisionReview)
	} else {
		s.metrics.IncrSubmission(observability.DecisionAccepted)
	}

	s.logger.Info("submission queued",
		zap.String("item_id", id),
		zap.String("customer_id", req.CustomerID),
		zap.String("type", string(req.Type)),
		zap.String("payment_type", string(req.PaymentType)),
		zap.String("amount", req.Amount.String()),
		zap.Int("score", result.ValidationScore),
		zap.Bool("requires_review", item.RequiresReview),
	)

	s.publish(ctx, &domain.QueueEvent{
		Type:       domain.EventSubmitted,
		ItemID:     id,
		CustomerID: item.CustomerID,
		Item:       item,
		OccurredAt: now,
	})

	return &domain.SubmissionResult{
		ID:             id,
		Status:         domain.StatusPending,
		RequiresReview: item.RequiresReview,
		Validation:     result,
	}, nil
}

// Score runs the risk scorer without queueing anything.
func (s *QueueService) Score(ctx context.Context, req *domain.SubmissionRequest) (*domain.ValidationResult, error) {
	ctx, span := queueTracer.Start(ctx, "QueueService.Score")
	defer span.End()

	if err := validateSubmission(req, false); err != nil {
		return nil, err
	}
	result, err := s.evaluate(ctx, req, s.now())
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveValidationScore(result.ValidationScore)
	return result, nil
}

// evaluate gathers history, account age and recent activity concurrently,
// then scores the proposed transaction.
func (s *QueueService) evaluate(ctx context.Context, req *domain.SubmissionRequest, now time.Time) (*domain.ValidationResult, error) {
	var (
		history     *domain.PaymentMethodHistory
		accountAge  int
		recentCount int
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		h, err := s.lookupHistory(gCtx, req.CustomerID, req.PaymentType)
		if err != nil {
			return err
		}
		history = h
		return nil
	})

	if req.AccountAgeMonths != nil {
		accountAge = *req.AccountAgeMonths
	} else {
		g.Go(func() error {
			months, err := s.lookupAccountAge(gCtx, req.CustomerID)
			if err != nil {
				return err
			}
			accountAge = months
			return nil
		})
	}

	if s.counter != nil {
		g.Go(func() error {
			n, err := s.counter.Count(gCtx, req.CustomerID, req.PaymentType, now.Add(-s.cfg.FrequencyWindow))
			if err != nil {
				// Frequency is advisory; score without it rather than fail.
				s.logger.Warn("failed to count recent submissions",
					zap.String("customer_id", req.CustomerID),
					zap.Error(err),
				)
				return nil
			}
			recentCount = n
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	tx := domain.ProposedTransaction{
		CustomerID:     req.CustomerID,
		PaymentType:    req.PaymentType,
		PaymentDetails: req.PaymentDetails,
		Amount:         req.Amount,
		Timestamp:      now,
		RecentCount:    recentCount,
	}
	return s.scorer.Score(tx, history, accountAge), nil
}

func (s *QueueService) lookupHistory(ctx context.Context, customerID string, pt domain.PaymentType) (*domain.PaymentMethodHistory, error) {
	cacheKey := historyCacheKey(customerID, pt)
	if s.cache != nil {
		if h, ok := s.cache.Get(cacheKey); ok {
			s.metrics.IncrCacheHit(observability.HistoryCache)
			return h, nil
		}
		s.metrics.IncrCacheMiss(observability.HistoryCache)
	}

	h, err := s.history.GetHistory(ctx, customerID, pt)
	if err != nil {
		s.logger.Error("failed to fetch payment history",
			zap.String("customer_id", customerID),
			zap.String("payment_type", string(pt)),
			zap.Error(err),
		)
		s.metrics.IncrExternalError("history")
		return nil, fmt.Errorf("history fetch: %w", err)
	}
	if s.cache != nil {
		s.cache.Set(cacheKey, h)
	}
	return h, nil
}

func historyCacheKey(customerID string, pt domain.PaymentType) string {
	return fmt.Sprintf("history:%s:%s", customerID, pt)
}

// lookupAccountAge treats an unknown customer as a brand-new account.
func (s *QueueService) lookupAccountAge(ctx context.Context, customerID string) (int, error) {
	if s.profiles == nil {
		return 0, &domain.ErrValidation{Field: "accountAgeMonths", Message: "required when no profile source is configured"}
	}
	months, err := s.profiles.GetAccountAgeMonths(ctx, customerID)
	if err != nil {
		var nf *domain.ErrNotFound
		if errors.As(err, &nf) {
			s.logger.Debug("no profile for customer, scoring as new account",
				zap.String("customer_id", customerID))
			return 0, nil
		}
		s.metrics.IncrExternalError("profile")
		return 0, fmt.Errorf("profile fetch: %w", err)
	}
	return months, nil
}

func (s *QueueService) decide(level domain.RiskLevel) domain.Decision {
	switch {
	case level.AtLeast(s.cfg.RejectLevel):
		return domain.DecisionReject
	case level.AtLeast(s.cfg.ReviewLevel):
		return domain.DecisionReview
	default:
		return domain.DecisionAccept
	}
}

func validateSubmission(req *domain.SubmissionRequest, requireType bool) error {
	if req == nil {
		return &domain.ErrValidation{Field: "body", Message: "required"}
	}
	if requireType && !req.Type.Valid() {
		return &domain.ErrValidation{Field: "type", Message: "must be withdrawal or deposit"}
	}
	if req.CustomerID == "" {
		return &domain.ErrValidation{Field: "customerId", Message: "required"}
	}
	if !req.Amount.IsPositive() {
		return &domain.ErrValidation{Field: "amount", Message: "must be positive"}
	}
	if req.Amount.Exponent() < -2 {
		return &domain.ErrValidation{Field: "amount", Message: "at most 2 decimal places"}
	}
	if !req.PaymentType.Valid() {
		return &domain.ErrValidation{Field: "paymentType", Message: "unsupported payment type"}
	}
	if req.Priority != 0 && (req.Priority < domain.MinPriority || req.Priority > domain.MaxPriority) {
		return &domain.ErrValidation{Field: "priority", Message: fmt.Sprintf("must be between %d and %d", domain.MinPriority, domain.MaxPriority)}
	}
	if req.AccountAgeMonths != nil && *req.AccountAgeMonths < 0 {
		return &domain.ErrValidation{Field: "accountAgeMonths", Message: "must not be negative"}
	}
	return nil
}

// ============================================================
// Matching
// ============================================================

// RunMatchingPass proposes pairings and commits them highest score first.
// Proposals that went stale before commit are skipped: either side lost a
// commit race (*domain.ErrAlreadyMatched) or expired or was cancelled
// (*domain.ErrInvalidStateTransition). The pass fails with the last of those
// errors only when every proposal was skipped. Any other commit error stops
// the pass; matches committed before it are still published and returned
// alongside the error.
func (s *QueueService) RunMatchingPass(ctx context.Context) (*domain.MatchingPassResult, error) {
	ctx, span := queueTracer.Start(ctx, "QueueService.RunMatchingPass")
	defer span.End()

	start := time.Now()
	defer func() {
		s.metrics.RecordOperationDuration("matching_pass", time.Since(start))
	}()

	if s.lock != nil {
		release, ok, err := s.lock.TryLock(ctx, s.cfg.PassLockTTL)
		if err != nil {
			return nil, fmt.Errorf("pass lock: %w", err)
		}
		if !ok {
			return nil, domain.ErrPassInProgress
		}
		defer release()
	}

	pending, err := s.store.ListPending(ctx, domain.ItemFilter{})
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	var withdrawals, deposits []domain.QueueItem
	for _, item := range pending {
		switch item.Type {
		case domain.ItemTypeWithdrawal:
			withdrawals = append(withdrawals, item)
		case domain.ItemTypeDeposit:
			deposits = append(deposits, item)
		}
	}

	now := s.now()
	proposals := s.engine.FindMatches(withdrawals, deposits, now)

	result := &domain.MatchingPassResult{
		Matches:   []domain.Match{},
		Proposed:  len(proposals),
		StartedAt: now,
	}

	var lastConflict, commitErr error
	for _, p := range proposals {
		m, err := s.store.MarkMatched(ctx, p)
		if err == nil {
			result.Matches = append(result.Matches, *m)
			continue
		}
		if itemID, ok := staleProposal(err); ok {
			result.Conflicts++
			lastConflict = err
			s.logger.Debug("match proposal went stale before commit",
				zap.String("withdrawal_id", p.WithdrawalID),
				zap.String("deposit_id", p.DepositID),
				zap.String("item_id", itemID),
				zap.Error(err),
			)
			continue
		}
		commitErr = fmt.Errorf("commit match %s/%s: %w", p.WithdrawalID, p.DepositID, err)
		break
	}

	s.metrics.AddMatches(len(result.Matches))
	s.metrics.AddMatchConflicts(result.Conflicts)
	result.Duration = time.Since(start).String()
	span.SetAttributes(
		attribute.Int("match.proposed", result.Proposed),
		attribute.Int("match.committed", len(result.Matches)),
		attribute.Int("match.conflicts", result.Conflicts),
	)

	for i := range result.Matches {
		m := result.Matches[i]
		s.publish(ctx, &domain.QueueEvent{Type: domain.EventMatched, Match: &m, OccurredAt: m.MatchedAt})
	}

	if commitErr != nil {
		s.logger.Error("matching pass aborted",
			zap.Int("proposed", result.Proposed),
			zap.Int("committed", len(result.Matches)),
			zap.Error(commitErr),
		)
		return result, commitErr
	}

	if result.Proposed > 0 && len(result.Matches) == 0 && result.Conflicts == result.Proposed {
		return nil, lastConflict
	}

	if len(result.Matches) > 0 || result.Conflicts > 0 {
		s.logger.Info("matching pass complete",
			zap.Int("proposed", result.Proposed),
			zap.Int("committed", len(result.Matches)),
			zap.Int("conflicts", result.Conflicts),
			zap.Int("pending", len(pending)),
		)
	}
	return result, nil
}

// staleProposal reports whether a commit failed only because one side of the
// proposal is no longer matchable, and names that item.
func staleProposal(err error) (string, bool) {
	var conflict *domain.ErrAlreadyMatched
	if errors.As(err, &conflict) {
		return conflict.ItemID, true
	}
	var transition *domain.ErrInvalidStateTransition
	if errors.As(err, &transition) {
		return transition.ItemID, true
	}
	return "", false
}

// Cleanup expires pending items older than maxAge.
func (s *QueueService) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	ctx, span := queueTracer.Start(ctx, "QueueService.Cleanup")
	defer span.End()

	if maxAge <= 0 {
		return 0, &domain.ErrValidation{Field: "maxAgeMs", Message: "must be positive"}
	}

	now := s.now()
	n, err := s.store.Expire(ctx, now.Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("expire: %w", err)
	}
	s.metrics.AddExpired(n)
	span.SetAttributes(attribute.Int("items.expired", n))

	if n > 0 {
		s.logger.Info("expired stale queue items", zap.Int("count", n), zap.Duration("max_age", maxAge))
		s.publish(ctx, &domain.QueueEvent{Type: domain.EventExpired, Count: n, OccurredAt: now})
	}
	return n, nil
}

// ============================================================
// Lifecycle
// ============================================================

// Cancel withdraws a pending item from the queue.
func (s *QueueService) Cancel(ctx context.Context, id string) (*domain.QueueItem, error) {
	ctx, span := queueTracer.Start(ctx, "QueueService.Cancel")
	defer span.End()

	item, err := s.store.Transition(ctx, id, domain.StatusPending, domain.StatusCancelled)
	if err != nil {
		return nil, err
	}
	s.logger.Info("queue item cancelled", zap.String("item_id", id))
	s.publish(ctx, &domain.QueueEvent{
		Type:       domain.EventCancelled,
		ItemID:     id,
		CustomerID: item.CustomerID,
		Item:       item,
		OccurredAt: item.UpdatedAt,
	})
	return item, nil
}

// Approve releases an item held for review into matching.
func (s *QueueService) Approve(ctx context.Context, id string) (*domain.QueueItem, error) {
	ctx, span := queueTracer.Start(ctx, "QueueService.Approve")
	defer span.End()

	item, err := s.store.ClearReview(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("queue item approved", zap.String("item_id", id))
	s.publish(ctx, &domain.QueueEvent{
		Type:       domain.EventApproved,
		ItemID:     id,
		CustomerID: item.CustomerID,
		Item:       item,
		OccurredAt: item.UpdatedAt,
	})
	return item, nil
}

// ConfirmMatch records external settlement of a match.
func (s *QueueService) ConfirmMatch(ctx context.Context, matchID string) (*domain.Match, error) {
	ctx, span := queueTracer.Start(ctx, "QueueService.ConfirmMatch")
	defer span.End()

	m, err := s.store.ConfirmMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("match confirmed", zap.String("match_id", matchID))
	occurred := s.now()
	if m.ConfirmedAt != nil {
		occurred = *m.ConfirmedAt
	}
	s.publish(ctx, &domain.QueueEvent{Type: domain.EventConfirmed, Match: m, OccurredAt: occurred})
	return m, nil
}

// ============================================================
// Queries
// ============================================================

// Get returns one queue item.
func (s *QueueService) Get(ctx context.Context, id string) (*domain.QueueItem, error) {
	ctx, span := queueTracer.Start(ctx, "QueueService.Get")
	defer span.End()

	return s.store.Get(ctx, id)
}

// ListPending returns pending items matching filter.
func (s *QueueService) ListPending(ctx context.Context, filter domain.ItemFilter) ([]domain.QueueItem, error) {
	ctx, span := queueTracer.Start(ctx, "QueueService.ListPending")
	defer span.End()

	if filter.Type != "" && !filter.Type.Valid() {
		return nil, &domain.ErrValidation{Field: "type", Message: "must be withdrawal or deposit"}
	}
	if filter.PaymentType != "" && !filter.PaymentType.Valid() {
		return nil, &domain.ErrValidation{Field: "paymentType", Message: "unsupported payment type"}
	}
	return s.store.ListPending(ctx, filter)
}

// GetMatch returns one match.
func (s *QueueService) GetMatch(ctx context.Context, id string) (*domain.Match, error) {
	ctx, span := queueTracer.Start(ctx, "QueueService.GetMatch")
	defer span.End()

	return s.store.GetMatch(ctx, id)
}

// ListMatches returns matches, optionally filtered by status.
func (s *QueueService) ListMatches(ctx context.Context, status domain.MatchStatus) ([]domain.Match, error) {
	ctx, span := queueTracer.Start(ctx, "QueueService.ListMatches")
	defer span.End()

	if status != "" && status != domain.MatchStatusMatched && status != domain.MatchStatusConfirmed {
		return nil, &domain.ErrValidation{Field: "status", Message: "must be matched or confirmed"}
	}
	return s.store.ListMatches(ctx, status)
}

// Stats returns the dashboard summary.
func (s *QueueService) Stats(ctx context.Context) (*domain.QueueStats, error) {
	ctx, span := queueTracer.Start(ctx, "QueueService.Stats")
	defer span.End()

	return s.store.Stats(ctx)
}

// publish fans an event out to every publisher. Failures are logged only.
func (s *QueueService) publish(ctx context.Context, event *domain.QueueEvent) {
	for _, p := range s.events {
		if err := p.Publish(ctx, event); err != nil {
			s.logger.Warn("failed to publish queue event",
				zap.String("event", string(event.Type)),
				zap.String("key", event.Key()),
				zap.Error(err),
			)
		}
	}
}
