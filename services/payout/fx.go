package payout

import (
	"promohub-payouts/pkg/config"
	"promohub-payouts/pkg/repository"

	"github.com/stripe/stripe-go/v72/client"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("payout",
	fx.Provide(
		NewStripeClient,
		provideFundsTransfer,
		provideAccountDirectory,
		NewExecutor,
	),
)

func NewStripeClient(cfg *config.Config) *client.API {
	if cfg.Stripe.SecretKey == "" {
		zap.L().Warn("STRIPE.SECRET_KEY not set, transfers will fail until configured")
	}
	sc := &client.API{}
	sc.Init(cfg.Stripe.SecretKey, nil)
	return sc
}

func provideFundsTransfer(sc *client.API) FundsTransfer {
	return NewStripeTransfer(sc.Transfers)
}

func provideAccountDirectory(db *gorm.DB, sc *client.API) AccountDirectory {
	return NewStripeDirectory(repository.ProvideStore[PayoutAccount](db), sc.Account)
}
