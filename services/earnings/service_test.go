package earnings

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"promohub-payouts/pkg/config"
	"promohub-payouts/pkg/period"
	"promohub-payouts/services/views"
)

type viewSourceMock struct {
	periodFn   func(ctx context.Context, p period.Period) iter.Seq2[views.ViewAggregate, error]
	campaignFn func(ctx context.Context, campaignID string, p period.Period) iter.Seq2[views.ViewAggregate, error]
}

func (m *viewSourceMock) ViewsForPeriod(ctx context.Context, p period.Period) iter.Seq2[views.ViewAggregate, error] {
	if m.periodFn != nil {
		return m.periodFn(ctx, p)
	}
	return seq()
}

func (m *viewSourceMock) ViewsForCampaign(ctx context.Context, campaignID string, p period.Period) iter.Seq2[views.ViewAggregate, error] {
	if m.campaignFn != nil {
		return m.campaignFn(ctx, campaignID, p)
	}
	return seq()
}

func seq(aggs ...views.ViewAggregate) iter.Seq2[views.ViewAggregate, error] {
	return func(yield func(views.ViewAggregate, error) bool) {
		for _, a := range aggs {
			if !yield(a, nil) {
				return
			}
		}
	}
}

func newTestService(t *testing.T, src ViewSource) *Service {
	t.Helper()
	ledger, _ := newTestLedger(t)
	return &Service{
		views:     src,
		ledger:    ledger,
		feeRate:   DefaultFeeRate,
		threshold: DefaultMinPayoutCents,
		nowFn:     func() time.Time { return time.Date(2024, time.March, 20, 8, 0, 0, 0, time.UTC) },
	}
}

func TestCalculateForPeriodScenario(t *testing.T) {
	src := &viewSourceMock{periodFn: func(_ context.Context, p period.Period) iter.Seq2[views.ViewAggregate, error] {
		require.Equal(t, march2024, p)
		return seq(views.ViewAggregate{PromoterID: "p1", CampaignID: "c1", ViewCount: 250, RateCents: 200, Currency: "usd"})
	}}
	svc := newTestService(t, src)
	ctx := context.Background()

	sum, err := svc.CalculateForPeriod(ctx, march2024)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Calculated)

	recs, err := svc.ledger.records.Find(ctx, &EarningsRecord{PromoterID: "p1"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]
	require.Equal(t, int64(500), rec.GrossEarningsCents)
	require.Equal(t, int64(100), rec.PlatformFeeCents)
	require.Equal(t, int64(400), rec.NetEarningsCents)
	require.False(t, rec.QualifiesForPayout)
	require.False(t, rec.PayoutExecuted)
	require.Equal(t, "USD", rec.Currency)

	has, err := svc.HasCalculationsForPeriod(ctx, march2024)
	require.NoError(t, err)
	require.True(t, has)
}

func TestCalculateForPeriodIsIdempotent(t *testing.T) {
	src := &viewSourceMock{periodFn: func(context.Context, period.Period) iter.Seq2[views.ViewAggregate, error] {
		return seq(
			views.ViewAggregate{PromoterID: "p1", CampaignID: "c1", ViewCount: 400, RateCents: 200, Currency: "USD"},
			views.ViewAggregate{PromoterID: "p2", CampaignID: "c1", ViewCount: 10, RateCents: 200, Currency: "USD"},
		)
	}}
	svc := newTestService(t, src)
	ctx := context.Background()

	first, err := svc.CalculateForPeriod(ctx, march2024)
	require.NoError(t, err)
	require.Equal(t, 2, first.Calculated)

	second, err := svc.CalculateForPeriod(ctx, march2024)
	require.NoError(t, err)
	require.Equal(t, 0, second.Calculated)
	require.Equal(t, 2, second.Skipped)
}

func TestCalculateForPeriodConcurrentRuns(t *testing.T) {
	aggs := []views.ViewAggregate{
		{PromoterID: "p1", CampaignID: "c1", ViewCount: 400, RateCents: 200, Currency: "USD"},
		{PromoterID: "p2", CampaignID: "c1", ViewCount: 800, RateCents: 200, Currency: "USD"},
		{PromoterID: "p1", CampaignID: "c2", ViewCount: 5, RateCents: 200, Currency: "CAD"},
	}
	src := &viewSourceMock{periodFn: func(context.Context, period.Period) iter.Seq2[views.ViewAggregate, error] {
		return seq(aggs...)
	}}
	svc := newTestService(t, src)
	ctx := context.Background()

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		calculated int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sum, err := svc.CalculateForPeriod(ctx, march2024)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				calculated += sum.Calculated
			}
		}()
	}
	wg.Wait()

	require.Equal(t, len(aggs), calculated)

	count, err := svc.ledger.records.Count(ctx, &EarningsRecord{PeriodMonth: 3, PeriodYear: 2024})
	require.NoError(t, err)
	require.Equal(t, int64(len(aggs)), count)
}

func TestCalculateForPeriodIsolatesBadTuples(t *testing.T) {
	src := &viewSourceMock{periodFn: func(context.Context, period.Period) iter.Seq2[views.ViewAggregate, error] {
		return seq(
			views.ViewAggregate{PromoterID: "p1", CampaignID: "c1", ViewCount: 10, RateCents: 200, Currency: ""},
			views.ViewAggregate{PromoterID: "p2", CampaignID: "c1", ViewCount: 400, RateCents: 200, Currency: "USD"},
		)
	}}
	svc := newTestService(t, src)

	sum, err := svc.CalculateForPeriod(context.Background(), march2024)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Failed)
	require.Equal(t, 1, sum.Calculated)
}

func TestCalculateForPeriodStorageFailure(t *testing.T) {
	t.Run("view source", func(t *testing.T) {
		boom := errors.New("connection refused")
		src := &viewSourceMock{periodFn: func(context.Context, period.Period) iter.Seq2[views.ViewAggregate, error] {
			return func(yield func(views.ViewAggregate, error) bool) {
				yield(views.ViewAggregate{}, boom)
			}
		}}
		svc := newTestService(t, src)

		_, err := svc.CalculateForPeriod(context.Background(), march2024)
		require.ErrorIs(t, err, boom)
	})

	t.Run("ledger", func(t *testing.T) {
		src := &viewSourceMock{periodFn: func(context.Context, period.Period) iter.Seq2[views.ViewAggregate, error] {
			return seq(views.ViewAggregate{PromoterID: "p1", CampaignID: "c1", ViewCount: 400, RateCents: 200, Currency: "USD"})
		}}
		svc := newTestService(t, src)
		require.NoError(t, svc.ledger.db.Migrator().DropTable(&EarningsRecord{}))

		_, err := svc.CalculateForPeriod(context.Background(), march2024)
		require.Error(t, err)
	})
}

func TestCalculateForPeriodRejectsInvalidPeriod(t *testing.T) {
	svc := newTestService(t, &viewSourceMock{})
	_, err := svc.CalculateForPeriod(context.Background(), period.Period{Month: 13, Year: 2024})
	require.Error(t, err)
}

func TestCalculateForCampaignUsesCurrentPeriod(t *testing.T) {
	var gotCampaign string
	var gotPeriod period.Period
	src := &viewSourceMock{campaignFn: func(_ context.Context, campaignID string, p period.Period) iter.Seq2[views.ViewAggregate, error] {
		gotCampaign, gotPeriod = campaignID, p
		return seq(views.ViewAggregate{PromoterID: "p1", CampaignID: campaignID, ViewCount: 400, RateCents: 200, Currency: "USD"})
	}}
	svc := newTestService(t, src)

	sum, err := svc.CalculateForCampaign(context.Background(), "c9")
	require.NoError(t, err)
	require.Equal(t, "c9", gotCampaign)
	require.Equal(t, march2024, gotPeriod)
	require.Equal(t, 1, sum.Calculated)

	_, err = svc.CalculateForCampaign(context.Background(), " ")
	require.Error(t, err)
}

func TestNewServiceThreshold(t *testing.T) {
	cfg := &config.Config{}
	cfg.Earnings.FeeRate = "0.20"

	cfg.Earnings.MinPayoutCents = 0
	svc, err := NewService(ServiceParams{Config: cfg})
	require.NoError(t, err)
	require.Zero(t, svc.threshold)

	cfg.Earnings.MinPayoutCents = 750
	svc, err = NewService(ServiceParams{Config: cfg})
	require.NoError(t, err)
	require.Equal(t, int64(750), svc.threshold)

	cfg.Earnings.MinPayoutCents = -1
	_, err = NewService(ServiceParams{Config: cfg})
	require.Error(t, err)
}
