package earnings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"promohub-payouts/pkg/db/option"
	"promohub-payouts/pkg/period"
	"promohub-payouts/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var (
	ErrAlreadyPaid    = errors.New("earnings: record already paid")
	ErrRecordNotFound = errors.New("earnings: record not found")
)

// Ledger persists earnings records. Uniqueness per (promoter, campaign, period)
// is enforced by the uq_earnings_period index, never by read-then-write alone.
type Ledger struct {
	db   *gorm.DB
	node *snowflake.Node

	records  repository.Repository[EarningsRecord]
	attempts repository.Repository[PayoutAttempt]
}

type LedgerParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewLedger(p LedgerParams) *Ledger {
	return &Ledger{
		db:       p.DB,
		node:     p.Node,
		records:  repository.ProvideStore[EarningsRecord](p.DB),
		attempts: repository.ProvideStore[PayoutAttempt](p.DB),
	}
}

// EligibleFilter narrows ListEligible. An empty PromoterID selects every promoter.
type EligibleFilter struct {
	PromoterID string
}

// InsertIfAbsent stores a new record. A uniqueness violation is reported as
// repository.ErrDuplicate.
func (l *Ledger) InsertIfAbsent(ctx context.Context, rec *EarningsRecord) error {
	if rec.ID == "" {
		rec.ID = l.node.Generate().String()
	}
	rec.PayoutExecuted = false
	if rec.TransferSeq < 1 {
		rec.TransferSeq = 1
	}

	if err := l.records.Create(ctx, rec); err != nil {
		if repository.IsDuplicate(err) {
			return fmt.Errorf("earnings: %s/%s %d-%02d: %w", rec.PromoterID, rec.CampaignID, rec.PeriodYear, rec.PeriodMonth, repository.ErrDuplicate)
		}
		return err
	}
	return nil
}

func (l *Ledger) Exists(ctx context.Context, promoterID, campaignID string, p period.Period) (bool, error) {
	n, err := l.records.Count(ctx, &EarningsRecord{
		PromoterID:  promoterID,
		CampaignID:  campaignID,
		PeriodMonth: int(p.Month),
		PeriodYear:  p.Year,
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *Ledger) HasCalculationsForPeriod(ctx context.Context, p period.Period) (bool, error) {
	n, err := l.records.Count(ctx, &EarningsRecord{PeriodMonth: int(p.Month), PeriodYear: p.Year})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*EarningsRecord, error) {
	rec, err := l.records.FindOne(ctx, &EarningsRecord{ID: id})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

// ListEligible selects rows with qualifies_for_payout = true AND
// payout_executed = false, oldest first.
func (l *Ledger) ListEligible(ctx context.Context, filter EligibleFilter) ([]*EarningsRecord, error) {
	return l.records.Find(ctx, &EarningsRecord{PromoterID: filter.PromoterID},
		option.ApplyOperator(
			option.Condition{Field: "qualifies_for_payout", Operator: option.EQ, Value: true},
			option.Condition{Field: "payout_executed", Operator: option.EQ, Value: false},
		),
		func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC").Order("id ASC")
		},
	)
}

// MarkPaid flips payout_executed in a single conditional update. Only one
// caller can win; the others get ErrAlreadyPaid.
func (l *Ledger) MarkPaid(ctx context.Context, id string, amountCents int64, paidAt time.Time, transactionRef string) error {
	res := l.db.WithContext(ctx).
		Model(&EarningsRecord{}).
		Where("id = ? AND payout_executed = ?", id, false).
		Updates(map[string]any{
			"payout_executed":        true,
			"payout_amount_cents":    amountCents,
			"payout_date":            paidAt,
			"payout_transaction_ref": transactionRef,
			"payout_attempts":        gorm.Expr("payout_attempts + 1"),
			"last_payout_error":      nil,
			"last_payout_attempt_at": paidAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return l.missingOrPaid(ctx, id)
	}
	return nil
}

// RecordFailure bumps the attempt counter of an unpaid record and returns the
// new count. rotateKey advances the transfer sequence so the next attempt uses
// a fresh idempotency key; it must only be set when the rail definitively
// rejected the transfer.
func (l *Ledger) RecordFailure(ctx context.Context, id string, message string, at time.Time, rotateKey bool) (int, error) {
	updates := map[string]any{
		"payout_attempts":        gorm.Expr("payout_attempts + 1"),
		"last_payout_error":      message,
		"last_payout_attempt_at": at,
	}
	if rotateKey {
		updates["transfer_seq"] = gorm.Expr("transfer_seq + 1")
	}

	res := l.db.WithContext(ctx).
		Model(&EarningsRecord{}).
		Where("id = ? AND payout_executed = ?", id, false).
		Updates(updates)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, l.missingOrPaid(ctx, id)
	}

	rec, err := l.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return rec.PayoutAttempts, nil
}

func (l *Ledger) AppendAttempt(ctx context.Context, attempt *PayoutAttempt) error {
	if attempt.ID == "" {
		attempt.ID = l.node.Generate().String()
	}
	return l.attempts.Create(ctx, attempt)
}

func (l *Ledger) Attempts(ctx context.Context, recordID string) ([]*PayoutAttempt, error) {
	return l.attempts.Find(ctx, &PayoutAttempt{EarningsRecordID: recordID},
		option.WithSortBy(option.QuerySortBy{SortBy: "attempt", OrderBy: "asc", Allow: map[string]bool{"attempt": true}}),
	)
}

// AttemptByKey returns the latest attempt sent to the rail under key, or nil
// when none was.
func (l *Ledger) AttemptByKey(ctx context.Context, recordID, key string) (*PayoutAttempt, error) {
	return l.attempts.FindOne(ctx, &PayoutAttempt{EarningsRecordID: recordID, IdempotencyKey: key},
		option.WithSortBy(option.QuerySortBy{SortBy: "attempt", OrderBy: "desc", Allow: map[string]bool{"attempt": true}}),
	)
}

// CountNeedingAttention counts unpaid eligible rows with at least threshold
// failed attempts.
func (l *Ledger) CountNeedingAttention(ctx context.Context, threshold int) (int64, error) {
	var n int64
	err := l.db.WithContext(ctx).
		Model(&EarningsRecord{}).
		Where("qualifies_for_payout = ? AND payout_executed = ?", true, false).
		Where("payout_attempts >= ?", threshold).
		Count(&n).Error
	return n, err
}

func (l *Ledger) missingOrPaid(ctx context.Context, id string) error {
	if _, err := l.Get(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyPaid
}
