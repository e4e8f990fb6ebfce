package earnings

import (
	"time"

	"promohub-payouts/pkg/period"
)

// EarningsRecord is one promoter's computed earnings for one campaign in one
// billing period. Money fields are immutable once PayoutExecuted is true.
type EarningsRecord struct {
	ID                   string     `gorm:"column:id;primaryKey"`
	PromoterID           string     `gorm:"column:promoter_id;not null;uniqueIndex:uq_earnings_period,priority:1"`
	CampaignID           string     `gorm:"column:campaign_id;not null;uniqueIndex:uq_earnings_period,priority:2"`
	PeriodMonth          int        `gorm:"column:period_month;not null;uniqueIndex:uq_earnings_period,priority:3"`
	PeriodYear           int        `gorm:"column:period_year;not null;uniqueIndex:uq_earnings_period,priority:4"`
	ViewsGenerated       int64      `gorm:"column:views_generated;not null"`
	RateCents            int64      `gorm:"column:rate_cents;not null"`
	Currency             string     `gorm:"column:currency;type:char(3);not null"`
	GrossEarningsCents   int64      `gorm:"column:gross_earnings_cents;not null"`
	PlatformFeeCents     int64      `gorm:"column:platform_fee_cents;not null"`
	NetEarningsCents     int64      `gorm:"column:net_earnings_cents;not null"`
	QualifiesForPayout   bool       `gorm:"column:qualifies_for_payout;not null;index:idx_earnings_eligible,priority:1"`
	PayoutExecuted       bool       `gorm:"column:payout_executed;not null;default:false;index:idx_earnings_eligible,priority:2"`
	PayoutAmountCents    *int64     `gorm:"column:payout_amount_cents"`
	PayoutDate           *time.Time `gorm:"column:payout_date"`
	PayoutTransactionRef *string    `gorm:"column:payout_transaction_ref"`
	PayoutAttempts       int        `gorm:"column:payout_attempts;not null;default:0"`
	TransferSeq          int        `gorm:"column:transfer_seq;not null;default:1"`
	LastPayoutError      *string    `gorm:"column:last_payout_error;type:text"`
	LastPayoutAttemptAt  *time.Time `gorm:"column:last_payout_attempt_at"`
	CreatedAt            time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (EarningsRecord) TableName() string { return "earnings_records" }

func (r *EarningsRecord) Period() period.Period {
	return period.Period{Month: time.Month(r.PeriodMonth), Year: r.PeriodYear}
}

// Seq is the sequence number of the idempotency key for the next transfer.
// It only moves after the rail definitively rejected a transfer.
func (r *EarningsRecord) Seq() int {
	if r.TransferSeq < 1 {
		return 1
	}
	return r.TransferSeq
}

type AttemptOutcome string

const (
	OutcomeSucceeded AttemptOutcome = "succeeded"
	OutcomeFailed    AttemptOutcome = "failed"
)

// PayoutAttempt is the append-only audit row written for every transfer attempt.
// IdempotencyKey is empty when the attempt failed before reaching the rail.
type PayoutAttempt struct {
	ID                  string         `gorm:"column:id;primaryKey"`
	EarningsRecordID    string         `gorm:"column:earnings_record_id;not null;index"`
	Attempt             int            `gorm:"column:attempt;not null"`
	Outcome             AttemptOutcome `gorm:"column:outcome;type:varchar(20);not null"`
	ErrorCategory       string         `gorm:"column:error_category;type:varchar(32)"`
	ErrorMessage        string         `gorm:"column:error_message;type:text"`
	TransferRef         string         `gorm:"column:transfer_ref"`
	IdempotencyKey      string         `gorm:"column:idempotency_key;index"`
	LedgerAmountCents   int64          `gorm:"column:ledger_amount_cents"`
	LedgerCurrency      string         `gorm:"column:ledger_currency;type:char(3)"`
	TransferAmountCents int64          `gorm:"column:transfer_amount_cents"`
	TransferCurrency    string         `gorm:"column:transfer_currency;type:char(3)"`
	Rate                string         `gorm:"column:rate"`
	CreatedAt           time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (PayoutAttempt) TableName() string { return "payout_attempts" }
