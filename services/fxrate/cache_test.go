package fxrate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type sourceMock struct {
	calls   atomic.Int32
	fetchFn func(ctx context.Context, from, to string) (decimal.Decimal, error)
}

func (m *sourceMock) FetchRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	m.calls.Add(1)
	if m.fetchFn != nil {
		return m.fetchFn(ctx, from, to)
	}
	return decimal.Decimal{}, errors.New("not configured")
}

func fixedRate(rate string) func(context.Context, string, string) (decimal.Decimal, error) {
	return func(context.Context, string, string) (decimal.Decimal, error) {
		return decimal.RequireFromString(rate), nil
	}
}

func newTestCache(src RateSource, ttl time.Duration) (*Cache, *time.Time) {
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	c := NewCache(src, ttl)
	c.nowFn = func() time.Time { return now }
	return c, &now
}

func TestRateIdentityNeverCallsSource(t *testing.T) {
	src := &sourceMock{}
	c, _ := newTestCache(src, time.Hour)

	rate := c.Rate(context.Background(), "usd", "USD")
	require.True(t, rate.Equal(decimal.NewFromInt(1)))
	require.Equal(t, int32(0), src.calls.Load())

	amount, rate, err := c.Convert(context.Background(), 1234, "EUR", "eur")
	require.NoError(t, err)
	require.Equal(t, int64(1234), amount)
	require.True(t, rate.Equal(decimal.NewFromInt(1)))
	require.Equal(t, int32(0), src.calls.Load())
}

func TestRateCachedUntilExpiry(t *testing.T) {
	src := &sourceMock{fetchFn: fixedRate("1.3512")}
	c, now := newTestCache(src, time.Hour)
	ctx := context.Background()

	require.Equal(t, "1.3512", c.Rate(ctx, "USD", "CAD").String())
	require.Equal(t, "1.3512", c.Rate(ctx, "USD", "CAD").String())
	require.Equal(t, int32(1), src.calls.Load())

	*now = now.Add(61 * time.Minute)
	src.fetchFn = fixedRate("1.40")
	require.Equal(t, "1.4", c.Rate(ctx, "USD", "CAD").String())
	require.Equal(t, int32(2), src.calls.Load())
}

func TestRefreshFailureKeepsPreviousValue(t *testing.T) {
	src := &sourceMock{fetchFn: fixedRate("0.91")}
	c, now := newTestCache(src, time.Hour)
	ctx := context.Background()

	_, err := c.Refresh(ctx, "USD", "EUR")
	require.NoError(t, err)

	src.fetchFn = func(context.Context, string, string) (decimal.Decimal, error) {
		return decimal.Decimal{}, errors.New("upstream down")
	}

	_, err = c.Refresh(ctx, "USD", "EUR")
	require.Error(t, err)

	*now = now.Add(2 * time.Hour)
	require.Equal(t, "0.91", c.Rate(ctx, "USD", "EUR").String())
}

func TestRateFallsBackToStaticTable(t *testing.T) {
	src := &sourceMock{fetchFn: func(context.Context, string, string) (decimal.Decimal, error) {
		return decimal.Decimal{}, errors.New("upstream down")
	}}
	c, _ := newTestCache(src, time.Hour)
	ctx := context.Background()

	require.Equal(t, "1.35", c.Rate(ctx, "USD", "CAD").String())
	require.Equal(t, "0.74", c.Rate(ctx, "CAD", "USD").String())

	// EUR->CAD is derived through USD.
	require.Equal(t, "1.4715", c.Rate(ctx, "EUR", "CAD").String())
}

func TestConvertUnknownPairFails(t *testing.T) {
	src := &sourceMock{fetchFn: func(context.Context, string, string) (decimal.Decimal, error) {
		return decimal.Decimal{}, errors.New("upstream down")
	}}
	c, _ := newTestCache(src, time.Hour)
	ctx := context.Background()

	_, _, err := c.Convert(ctx, 640, "USD", "JPY")
	require.ErrorIs(t, err, ErrRateUnavailable)

	// Rate is display-only and still answers.
	require.True(t, c.Rate(ctx, "USD", "JPY").Equal(decimal.NewFromInt(1)))
}

func TestConvertWithoutSourceFailsForUntabledPair(t *testing.T) {
	c, _ := newTestCache(nil, time.Hour)

	_, _, err := c.Convert(context.Background(), 640, "USD", "JPY")
	require.ErrorIs(t, err, ErrRateUnavailable)
}

func TestConvertScalesMinorUnits(t *testing.T) {
	rates := map[string]string{"USD_JPY": "150", "JPY_USD": "0.0066", "USD_KWD": "0.31"}
	src := &sourceMock{fetchFn: func(_ context.Context, from, to string) (decimal.Decimal, error) {
		return decimal.RequireFromString(rates[from+"_"+to]), nil
	}}
	c, _ := newTestCache(src, time.Hour)
	ctx := context.Background()

	// 6.40 USD is 960 JPY, and JPY has no minor unit.
	yen, rate, err := c.Convert(ctx, 640, "USD", "JPY")
	require.NoError(t, err)
	require.Equal(t, int64(960), yen)
	require.Equal(t, "150", rate.String())

	// 960 JPY * 0.0066 = 6.336 USD
	cents, _, err := c.Convert(ctx, 960, "JPY", "USD")
	require.NoError(t, err)
	require.Equal(t, int64(634), cents)

	// 1.00 USD is 0.310 KWD, counted in fils.
	fils, _, err := c.Convert(ctx, 100, "USD", "KWD")
	require.NoError(t, err)
	require.Equal(t, int64(310), fils)
}

func TestMinorUnits(t *testing.T) {
	require.Equal(t, int32(2), MinorUnits("usd"))
	require.Equal(t, int32(0), MinorUnits("JPY"))
	require.Equal(t, int32(3), MinorUnits("KWD"))
	require.Equal(t, int32(2), MinorUnits("XYZ"))
}

func TestRateWithoutSourceUsesFallback(t *testing.T) {
	c, _ := newTestCache(nil, time.Hour)

	_, err := c.Refresh(context.Background(), "USD", "GBP")
	require.ErrorIs(t, err, ErrNoSource)
	require.Equal(t, "0.79", c.Rate(context.Background(), "USD", "GBP").String())
}

func TestRefreshRejectsNonPositiveRate(t *testing.T) {
	src := &sourceMock{fetchFn: fixedRate("0")}
	c, _ := newTestCache(src, time.Hour)

	_, err := c.Refresh(context.Background(), "USD", "CAD")
	require.Error(t, err)
}

func TestConcurrentRefreshCollapses(t *testing.T) {
	release := make(chan struct{})
	src := &sourceMock{fetchFn: func(context.Context, string, string) (decimal.Decimal, error) {
		<-release
		return decimal.RequireFromString("1.5"), nil
	}}
	c, _ := newTestCache(src, time.Hour)

	rates := make([]decimal.Decimal, 8)
	var wg sync.WaitGroup
	for i := range rates {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rates[i] = c.Rate(context.Background(), "USD", "AUD")
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, rate := range rates {
		require.Equal(t, "1.5", rate.String())
	}

	// Every caller joined the single in-flight fetch or hit the entry it stored.
	require.Equal(t, int32(1), src.calls.Load())
}

func TestConvertRoundsHalfUp(t *testing.T) {
	src := &sourceMock{fetchFn: fixedRate("1.35")}
	c, _ := newTestCache(src, time.Hour)

	// 150 * 1.35 = 202.5
	amount, rate, err := c.Convert(context.Background(), 150, "USD", "CAD")
	require.NoError(t, err)
	require.Equal(t, int64(203), amount)
	require.Equal(t, "1.35", rate.String())
}

func TestConvertRoundTripWithinOneCent(t *testing.T) {
	src := &sourceMock{fetchFn: func(_ context.Context, from, to string) (decimal.Decimal, error) {
		if from == "USD" {
			return decimal.RequireFromString("1.35"), nil
		}
		return decimal.NewFromInt(1).DivRound(decimal.RequireFromString("1.35"), 8), nil
	}}
	c, _ := newTestCache(src, time.Hour)
	ctx := context.Background()

	for _, amount := range []int64{1, 99, 400, 12345, 999999} {
		cad, _, err := c.Convert(ctx, amount, "USD", "CAD")
		require.NoError(t, err)
		back, _, err := c.Convert(ctx, cad, "CAD", "USD")
		require.NoError(t, err)
		diff := back - amount
		require.True(t, diff >= -1 && diff <= 1, "amount=%d back=%d", amount, back)
	}
}
