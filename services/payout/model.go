package payout

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrAccountNotFound = errors.New("payout: no payout account for promoter")

type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusDisabled AccountStatus = "disabled"
)

// PayoutAccount links a promoter to a connected account on the payment rail.
// Rows are owned by onboarding; this service only reads them.
type PayoutAccount struct {
	ID                 string        `gorm:"column:id;primaryKey"`
	PromoterID         string        `gorm:"column:promoter_id;uniqueIndex;not null"`
	Provider           string        `gorm:"column:provider;type:varchar(32);not null;default:'stripe'"`
	ProviderAccountID  string        `gorm:"column:provider_account_id;not null"`
	SettlementCurrency string        `gorm:"column:settlement_currency;type:char(3)"`
	Status             AccountStatus `gorm:"column:status;type:varchar(20);not null;default:'active'"`
	CreatedAt          time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}

func (PayoutAccount) TableName() string { return "payout_accounts" }

type Destination struct {
	Ref      string
	Currency string
}

// TransferMetadata is attached to every transfer so it can be traced back to
// its ledger row. It must be identical for every request under one key.
type TransferMetadata struct {
	RecordID    string
	PromoterID  string
	CampaignID  string
	Period      string
	TransferSeq int
}

func (m TransferMetadata) Pairs() [][2]string {
	return [][2]string{
		{"earnings_record_id", m.RecordID},
		{"promoter_id", m.PromoterID},
		{"campaign_id", m.CampaignID},
		{"period", m.Period},
		{"transfer_seq", fmt.Sprint(m.TransferSeq)},
	}
}

type TransferRequest struct {
	DestinationRef string
	AmountCents    int64
	Currency       string
	Description    string
	Metadata       TransferMetadata
	IdempotencyKey string
}

type TransferResult struct {
	Ref string
}

// FundsTransfer moves money to a promoter's connected account.
type FundsTransfer interface {
	Transfer(ctx context.Context, req TransferRequest) (TransferResult, error)
}

// AccountDirectory resolves where and whether a promoter can be paid.
type AccountDirectory interface {
	ResolveDestination(ctx context.Context, promoterID string) (Destination, error)
	IsPayoutCapable(ctx context.Context, promoterID string) (bool, error)
}
