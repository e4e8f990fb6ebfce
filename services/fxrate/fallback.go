package fxrate

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const pivotCurrency = "USD"

// staticRates is used only when the upstream source is down or was never
// reachable for a pair.
var staticRates = map[Pair]decimal.Decimal{
	{From: "USD", To: "CAD"}: decimal.RequireFromString("1.35"),
	{From: "CAD", To: "USD"}: decimal.RequireFromString("0.74"),
	{From: "USD", To: "EUR"}: decimal.RequireFromString("0.92"),
	{From: "EUR", To: "USD"}: decimal.RequireFromString("1.09"),
	{From: "USD", To: "GBP"}: decimal.RequireFromString("0.79"),
	{From: "GBP", To: "USD"}: decimal.RequireFromString("1.27"),
	{From: "USD", To: "AUD"}: decimal.RequireFromString("1.52"),
	{From: "AUD", To: "USD"}: decimal.RequireFromString("0.66"),
}

func fallbackRate(pair Pair) (decimal.Decimal, bool) {
	if pair.Identity() {
		return decimal.NewFromInt(1), true
	}

	if r, ok := staticRates[pair]; ok {
		return r, true
	}

	if r, ok := staticRates[pair.Inverse()]; ok && !r.IsZero() {
		return decimal.NewFromInt(1).DivRound(r, 6), true
	}

	toPivot, ok1 := fallbackDirect(Pair{From: pair.From, To: pivotCurrency})
	fromPivot, ok2 := fallbackDirect(Pair{From: pivotCurrency, To: pair.To})
	if ok1 && ok2 {
		return toPivot.Mul(fromPivot).Round(6), true
	}

	return decimal.Decimal{}, false
}

func fallbackDirect(pair Pair) (decimal.Decimal, bool) {
	if pair.Identity() {
		return decimal.NewFromInt(1), true
	}
	r, ok := staticRates[pair]
	return r, ok
}

func (c *Cache) fallback(pair Pair) (decimal.Decimal, bool) {
	fallbackTotal.Inc()

	r, ok := fallbackRate(pair)
	if ok {
		zap.L().Warn("using static fallback fx rate",
			zap.String("pair", pair.String()),
			zap.String("rate", r.String()),
		)
	}
	return r, ok
}
