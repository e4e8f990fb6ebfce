package earnings

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const DefaultMinPayoutCents int64 = 500

var DefaultFeeRate = decimal.RequireFromString("0.20")

// Breakdown is the result of one earnings computation. All amounts are cents.
type Breakdown struct {
	Views      int64
	RateCents  int64
	GrossCents int64
	FeeCents   int64
	NetCents   int64
	Qualifies  bool
}

// Calculate derives gross, fee and net from a view count and a rate expressed
// per 100 views. Each derived step rounds half-up exactly once.
func Calculate(views, rateCents int64, feeRate decimal.Decimal, thresholdCents int64) Breakdown {
	if views < 0 {
		views = 0
	}
	if rateCents < 0 {
		rateCents = 0
	}

	gross := (views*rateCents + 50) / 100
	fee := decimal.NewFromInt(gross).Mul(feeRate).Round(0).IntPart()
	net := gross - fee

	return Breakdown{
		Views:      views,
		RateCents:  rateCents,
		GrossCents: gross,
		FeeCents:   fee,
		NetCents:   net,
		Qualifies:  net >= thresholdCents,
	}
}

// ParseFeeRate accepts a fraction in [0, 1].
func ParseFeeRate(s string) (decimal.Decimal, error) {
	if s == "" {
		return DefaultFeeRate, nil
	}
	rate, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("earnings: invalid fee rate %q: %w", s, err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Decimal{}, fmt.Errorf("earnings: fee rate %s out of range", rate)
	}
	return rate, nil
}
