package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const itemColumns = `id, type, customer_id, amount::text, payment_type, payment_details,
	priority, status, requires_review, validation_score, risk_level,
	match_id, notes, created_at, updated_at`

const matchColumns = `id, withdrawal_id, deposit_id, payment_type, match_score,
	settled_amount::text, remainder::text, status, matched_at, confirmed_at`

// QueueStore persists queue items and matches.
type QueueStore struct {
	pool   *pgxpool.Pool
	now    func() time.Time
	logger *zap.Logger
}

// NewQueueStore creates a store over an open pool.
func NewQueueStore(pool *pgxpool.Pool, logger *zap.Logger) *QueueStore {
	return &QueueStore{pool: pool, now: time.Now, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*domain.QueueItem, error) {
	var (
		item    domain.QueueItem
		amount  string
		matchID *string
	)
	err := row.Scan(
		&item.ID, &item.Type, &item.CustomerID, &amount, &item.PaymentType, &item.PaymentDetails,
		&item.Priority, &item.Status, &item.RequiresReview, &item.ValidationScore, &item.RiskLevel,
		&matchID, &item.Notes, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if item.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if matchID != nil {
		item.MatchID = *matchID
	}
	return &item, nil
}

func scanMatch(row rowScanner) (*domain.Match, error) {
	var (
		m               domain.Match
		settled, remain string
	)
	err := row.Scan(
		&m.ID, &m.WithdrawalID, &m.DepositID, &m.PaymentType, &m.MatchScore,
		&settled, &remain, &m.Status, &m.MatchedAt, &m.ConfirmedAt,
	)
	if err != nil {
		return nil, err
	}
	if m.SettledAmount, err = decimal.NewFromString(settled); err != nil {
		return nil, fmt.Errorf("parse settled amount %q: %w", settled, err)
	}
	if m.Remainder, err = decimal.NewFromString(remain); err != nil {
		return nil, fmt.Errorf("parse remainder %q: %w", remain, err)
	}
	return &m, nil
}

// Add inserts item as pending. The dedup check and the insert run in one
// transaction holding a per-customer advisory lock.
func (s *QueueStore) Add(ctx context.Context, item *domain.QueueItem, dedupWindow time.Duration) (string, error) {
	ctx, span := tracer.Start(ctx, "QueueStore.Add")
	defer span.End()

	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, item.CustomerID); err != nil {
		return "", fmt.Errorf("lock customer: %w", err)
	}

	if dedupWindow > 0 {
		var existingID string
		err := tx.QueryRow(ctx, `
			SELECT id FROM queue_items
			WHERE customer_id = $1 AND type = $2 AND payment_type = $3
			  AND amount = $4::numeric AND status = 'pending' AND created_at >= $5
			ORDER BY created_at
			LIMIT 1`,
			item.CustomerID, string(item.Type), string(item.PaymentType), item.Amount.String(),
			item.CreatedAt.Add(-dedupWindow),
		).Scan(&existingID)
		switch {
		case err == nil:
			return "", &domain.ErrDuplicateSubmission{
				CustomerID:  item.CustomerID,
				Type:        item.Type,
				Amount:      item.Amount.String(),
				PaymentType: item.PaymentType,
				ExistingID:  existingID,
			}
		case !errors.Is(err, pgx.ErrNoRows):
			return "", fmt.Errorf("dedup check: %w", err)
		}
	}

	id := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO queue_items (
			id, type, customer_id, amount, payment_type, payment_details, priority,
			status, requires_review, validation_score, risk_level, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, 'pending', $8, $9, $10, $11, $12, $12)`,
		id, string(item.Type), item.CustomerID, item.Amount.String(), string(item.PaymentType), item.PaymentDetails,
		item.Priority, item.RequiresReview, item.ValidationScore, string(item.RiskLevel), item.Notes, item.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert queue item: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	item.ID = id
	item.Status = domain.StatusPending
	item.MatchID = ""
	item.UpdatedAt = item.CreatedAt
	return id, nil
}

// Get returns the item or *domain.ErrNotFound.
func (s *QueueStore) Get(ctx context.Context, id string) (*domain.QueueItem, error) {
	ctx, span := tracer.Start(ctx, "QueueStore.Get")
	defer span.End()

	item, err := scanItem(s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM queue_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "queue_item", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

// ListPending returns pending items oldest first, including those held for
// review.
func (s *QueueStore) ListPending(ctx context.Context, filter domain.ItemFilter) ([]domain.QueueItem, error) {
	ctx, span := tracer.Start(ctx, "QueueStore.ListPending")
	defer span.End()

	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+` FROM queue_items
		WHERE status = 'pending'
		  AND ($1 = '' OR type = $1)
		  AND ($2 = '' OR customer_id = $2)
		  AND ($3 = '' OR payment_type = $3)
		ORDER BY created_at, id`,
		string(filter.Type), filter.CustomerID, string(filter.PaymentType),
	)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	out := make([]domain.QueueItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// MarkMatched flips both items with a single conditional update. When fewer
// than two rows change the transaction rolls back and the losing item is
// reported.
func (s *QueueStore) MarkMatched(ctx context.Context, p domain.MatchProposal) (*domain.Match, error) {
	ctx, span := tracer.Start(ctx, "QueueStore.MarkMatched")
	defer span.End()

	now := s.now()
	m := &domain.Match{
		ID:            ulid.Make().String(),
		WithdrawalID:  p.WithdrawalID,
		DepositID:     p.DepositID,
		PaymentType:   p.PaymentType,
		MatchScore:    p.MatchScore,
		SettledAmount: p.SettledAmount,
		Remainder:     p.Remainder,
		Status:        domain.MatchStatusMatched,
		MatchedAt:     now,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE queue_items
		SET status = 'matched', match_id = $1, updated_at = $2
		WHERE id = ANY($3::text[]) AND status = 'pending' AND NOT requires_review`,
		m.ID, now, []string{p.WithdrawalID, p.DepositID},
	)
	if err != nil {
		return nil, fmt.Errorf("mark matched: %w", err)
	}
	if tag.RowsAffected() != 2 {
		_ = tx.Rollback(ctx)
		return nil, s.conflict(ctx, p)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO queue_matches (
			id, withdrawal_id, deposit_id, payment_type, match_score,
			settled_amount, remainder, status, matched_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, 'matched', $8)`,
		m.ID, m.WithdrawalID, m.DepositID, string(m.PaymentType), m.MatchScore,
		m.SettledAmount.String(), m.Remainder.String(), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert match: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

// conflict explains why a match update touched fewer than two rows.
func (s *QueueStore) conflict(ctx context.Context, p domain.MatchProposal) error {
	for _, id := range []string{p.WithdrawalID, p.DepositID} {
		item, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := item.MatchCommitError(); err != nil {
			return err
		}
	}
	// Both look matchable again: the other writer rolled back. Report a
	// conflict so the pass moves on.
	return &domain.ErrAlreadyMatched{ItemID: p.WithdrawalID, Status: domain.StatusPending}
}

// Expire moves pending items created before cutoff to expired.
func (s *QueueStore) Expire(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "QueueStore.Expire")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `
		UPDATE queue_items SET status = 'expired', updated_at = $1
		WHERE status = 'pending' AND created_at < $2`,
		s.now(), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("expire: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Transition moves an item from one status to another.
func (s *QueueStore) Transition(ctx context.Context, id string, from, to domain.ItemStatus) (*domain.QueueItem, error) {
	ctx, span := tracer.Start(ctx, "QueueStore.Transition")
	defer span.End()

	if !domain.CanTransition(from, to) {
		return nil, &domain.ErrInvalidStateTransition{ItemID: id, From: from, To: to}
	}

	item, err := scanItem(s.pool.QueryRow(ctx, `
		UPDATE queue_items SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
		RETURNING `+itemColumns,
		string(to), s.now(), id, string(from),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, &domain.ErrInvalidStateTransition{ItemID: id, From: current.Status, To: to}
	}
	if err != nil {
		return nil, fmt.Errorf("transition: %w", err)
	}
	return item, nil
}

// ClearReview releases a pending item held for review into matching.
func (s *QueueStore) ClearReview(ctx context.Context, id string) (*domain.QueueItem, error) {
	ctx, span := tracer.Start(ctx, "QueueStore.ClearReview")
	defer span.End()

	item, err := scanItem(s.pool.QueryRow(ctx, `
		UPDATE queue_items SET requires_review = FALSE, updated_at = $1
		WHERE id = $2 AND status = 'pending'
		RETURNING `+itemColumns,
		s.now(), id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, &domain.ErrInvalidStateTransition{ItemID: id, From: current.Status, To: domain.StatusPending}
	}
	if err != nil {
		return nil, fmt.Errorf("clear review: %w", err)
	}
	return item, nil
}

// GetMatch returns the match or *domain.ErrNotFound.
func (s *QueueStore) GetMatch(ctx context.Context, id string) (*domain.Match, error) {
	ctx, span := tracer.Start(ctx, "QueueStore.GetMatch")
	defer span.End()

	m, err := scanMatch(s.pool.QueryRow(ctx, `SELECT `+matchColumns+` FROM queue_matches WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "match", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get match: %w", err)
	}
	return m, nil
}

// ListMatches returns matches newest first. An empty status lists all.
func (s *QueueStore) ListMatches(ctx context.Context, status domain.MatchStatus) ([]domain.Match, error) {
	ctx, span := tracer.Start(ctx, "QueueStore.ListMatches")
	defer span.End()

	rows, err := s.pool.Query(ctx, `
		SELECT `+matchColumns+` FROM queue_matches
		WHERE ($1 = '' OR status = $1)
		ORDER BY id DESC`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Match, 0)
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// ConfirmMatch marks a match settled and moves both items to confirmed.
func (s *QueueStore) ConfirmMatch(ctx context.Context, id string) (*domain.Match, error) {
	ctx, span := tracer.Start(ctx, "QueueStore.ConfirmMatch")
	defer span.End()

	now := s.now()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	m, err := scanMatch(tx.QueryRow(ctx, `
		UPDATE queue_matches SET status = 'confirmed', confirmed_at = $1
		WHERE id = $2 AND status = 'matched'
		RETURNING `+matchColumns,
		now, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		existing, getErr := s.GetMatch(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, &domain.ErrInvalidStateTransition{ItemID: id, From: domain.ItemStatus(existing.Status), To: domain.StatusConfirmed}
	}
	if err != nil {
		return nil, fmt.Errorf("confirm match: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE queue_items SET status = 'confirmed', updated_at = $1
		WHERE id = ANY($2::text[]) AND status = 'matched'`,
		now, []string{m.WithdrawalID, m.DepositID},
	)
	if err != nil {
		return nil, fmt.Errorf("confirm items: %w", err)
	}
	if tag.RowsAffected() != 2 {
		return nil, &domain.ErrInvalidStateTransition{ItemID: id, From: domain.StatusMatched, To: domain.StatusConfirmed}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

// Stats aggregates counts and volumes in the database.
func (s *QueueStore) Stats(ctx context.Context) (*domain.QueueStats, error) {
	ctx, span := tracer.Start(ctx, "QueueStore.Stats")
	defer span.End()

	rows, err := s.pool.Query(ctx, `
		SELECT type, status, payment_type, requires_review, COUNT(*), SUM(amount)::text
		FROM queue_items
		GROUP BY type, status, payment_type, requires_review`)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()

	stats := domain.NewQueueStats()
	for rows.Next() {
		var (
			typ     domain.ItemType
			status  domain.ItemStatus
			pt      domain.PaymentType
			review  bool
			count   int
			sumText string
		)
		if err := rows.Scan(&typ, &status, &pt, &review, &count, &sumText); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		sum, err := decimal.NewFromString(sumText)
		if err != nil {
			return nil, fmt.Errorf("parse volume %q: %w", sumText, err)
		}

		stats.ByStatus[status] += count
		stats.ByType[typ] += count
		stats.TotalItems += count
		stats.TotalVolume = stats.TotalVolume.Add(sum)
		if status == domain.StatusPending {
			stats.PendingByType[typ] += count
			stats.PendingVolume[pt] = stats.PendingVolume[pt].Add(sum)
			if review {
				stats.AwaitingReview += count
			}
		}
	}
	return stats, rows.Err()
}
