package notification

import (
	"context"
	"fmt"

	"promohub-payouts/pkg/period"
)

type Kind string

const (
	KindPayoutSent           Kind = "payout_sent"
	KindPayoutNeedsAttention Kind = "payout_needs_attention"
)

// Notification is a closed set of messages sent to promoters. Only types in
// this package implement it.
type Notification interface {
	Recipient() string
	Kind() Kind
	Title() string
	Message() string
	sealed()
}

// Notifier delivers notifications. Callers treat it as fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type PayoutSent struct {
	PromoterID          string        `json:"promoter_id"`
	RecordID            string        `json:"record_id"`
	CampaignID          string        `json:"campaign_id"`
	Period              period.Period `json:"-"`
	PeriodLabel         string        `json:"period"`
	AmountCents         int64         `json:"amount_cents"`
	Currency            string        `json:"currency"`
	TransferAmountCents int64         `json:"transfer_amount_cents"`
	TransferCurrency    string        `json:"transfer_currency"`
	TransferRef         string        `json:"transfer_ref"`
}

func (n PayoutSent) Recipient() string { return n.PromoterID }
func (n PayoutSent) Kind() Kind        { return KindPayoutSent }
func (n PayoutSent) Title() string     { return "Payout sent" }
func (n PayoutSent) Message() string {
	return fmt.Sprintf("Your earnings of %s %s for campaign %s (%02d/%d) have been sent.",
		formatCents(n.TransferAmountCents), n.TransferCurrency, n.CampaignID, int(n.Period.Month), n.Period.Year)
}
func (PayoutSent) sealed() {}

type PayoutNeedsAttention struct {
	PromoterID  string        `json:"promoter_id"`
	RecordID    string        `json:"record_id"`
	CampaignID  string        `json:"campaign_id"`
	Period      period.Period `json:"-"`
	PeriodLabel string        `json:"period"`
	Attempts    int           `json:"attempts"`
	LastError   string        `json:"last_error"`
}

func (n PayoutNeedsAttention) Recipient() string { return n.PromoterID }
func (n PayoutNeedsAttention) Kind() Kind        { return KindPayoutNeedsAttention }
func (n PayoutNeedsAttention) Title() string     { return "Action needed to receive your payout" }
func (n PayoutNeedsAttention) Message() string {
	return fmt.Sprintf("We could not send your earnings for campaign %s (%02d/%d) after %d attempts. Please verify your payout account setup.",
		n.CampaignID, int(n.Period.Month), n.Period.Year, n.Attempts)
}
func (PayoutNeedsAttention) sealed() {}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
