package payout

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"promohub-payouts/pkg/repository"

	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

type stripeTransfers interface {
	New(params *stripe.TransferParams) (*stripe.Transfer, error)
}

type stripeAccounts interface {
	GetByID(id string, params *stripe.AccountParams) (*stripe.Account, error)
}

// StripeTransfer sends funds to a Stripe connected account.
type StripeTransfer struct {
	transfers stripeTransfers
}

func NewStripeTransfer(transfers stripeTransfers) *StripeTransfer {
	return &StripeTransfer{transfers: transfers}
}

func (s *StripeTransfer) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Destination: stripe.String(req.DestinationRef),
		Description: stripe.String(req.Description),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}
	for _, kv := range req.Metadata.Pairs() {
		params.AddMetadata(kv[0], kv[1])
	}

	tr, err := s.transfers.New(params)
	if err != nil {
		return TransferResult{}, mapStripeError(err)
	}

	return TransferResult{Ref: tr.ID}, nil
}

// StripeDirectory resolves promoters to Stripe connected accounts through the
// payout_accounts table and asks Stripe whether payouts are enabled.
type StripeDirectory struct {
	accounts repository.Repository[PayoutAccount]
	stripe   stripeAccounts
}

func NewStripeDirectory(accounts repository.Repository[PayoutAccount], sc stripeAccounts) *StripeDirectory {
	return &StripeDirectory{accounts: accounts, stripe: sc}
}

func (d *StripeDirectory) lookup(ctx context.Context, promoterID string) (*PayoutAccount, error) {
	acct, err := d.accounts.FindOne(ctx, &PayoutAccount{PromoterID: promoterID})
	if err != nil {
		return nil, err
	}
	if acct == nil || acct.ProviderAccountID == "" {
		return nil, ErrAccountNotFound
	}
	return acct, nil
}

func (d *StripeDirectory) ResolveDestination(ctx context.Context, promoterID string) (Destination, error) {
	acct, err := d.lookup(ctx, promoterID)
	if err != nil {
		return Destination{}, err
	}

	currency := strings.ToUpper(acct.SettlementCurrency)
	if currency == "" {
		sa, err := d.account(ctx, acct.ProviderAccountID)
		if err != nil {
			return Destination{}, err
		}
		currency = strings.ToUpper(string(sa.DefaultCurrency))
	}

	return Destination{Ref: acct.ProviderAccountID, Currency: currency}, nil
}

func (d *StripeDirectory) IsPayoutCapable(ctx context.Context, promoterID string) (bool, error) {
	acct, err := d.lookup(ctx, promoterID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return false, nil
		}
		return false, err
	}
	if acct.Status != AccountStatusActive {
		return false, nil
	}

	sa, err := d.account(ctx, acct.ProviderAccountID)
	if err != nil {
		var re *RailError
		if errors.As(err, &re) && re.Category == CategoryInvalidRequest {
			zap.L().Warn("stripe account rejected", zap.String("promoter_id", promoterID), zap.Error(err))
			return false, nil
		}
		return false, err
	}

	return sa.PayoutsEnabled, nil
}

func (d *StripeDirectory) account(ctx context.Context, id string) (*stripe.Account, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx

	sa, err := d.stripe.GetByID(id, params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return sa, nil
}

func mapStripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return Categorize(err)
	}

	switch {
	case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError:
		return &RailError{Category: CategoryTransient, Message: "payment rail unavailable", Err: err}
	case se.Type == stripe.ErrorTypeAPI:
		return &RailError{Category: CategoryTransient, Message: "payment rail unavailable", Err: err}
	case se.Type == stripe.ErrorTypeInvalidRequest, se.Type == stripe.ErrorTypeCard:
		return &RailError{Category: CategoryInvalidRequest, Message: msgVerifyAccount + ": " + se.Msg, Err: err}
	case se.Type == stripe.ErrorTypeIdempotency:
		return &RailError{Category: CategoryUnknown, Message: "idempotency key reused with different parameters", Err: err}
	}

	return &RailError{Category: CategoryUnknown, Message: se.Msg, Err: err}
}
