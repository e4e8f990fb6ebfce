package earnings

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"promohub-payouts/pkg/config"
	"promohub-payouts/pkg/period"
	"promohub-payouts/pkg/repository"
	"promohub-payouts/services/views"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ViewSource yields qualifying view aggregates for a billing period.
type ViewSource interface {
	ViewsForPeriod(ctx context.Context, p period.Period) iter.Seq2[views.ViewAggregate, error]
	ViewsForCampaign(ctx context.Context, campaignID string, p period.Period) iter.Seq2[views.ViewAggregate, error]
}

// Summary counts the outcome of one calculation pass.
type Summary struct {
	Period     period.Period
	CampaignID string
	Scanned    int
	Calculated int
	Skipped    int
	Failed     int
}

type Service struct {
	views  ViewSource
	ledger *Ledger

	feeRate   decimal.Decimal
	threshold int64
	nowFn     func() time.Time
}

type ServiceParams struct {
	fx.In
	Config *config.Config
	Views  *views.Aggregator
	Ledger *Ledger
}

func NewService(p ServiceParams) (*Service, error) {
	feeRate, err := ParseFeeRate(p.Config.Earnings.FeeRate)
	if err != nil {
		return nil, err
	}

	// Zero is a valid threshold: every positive net qualifies.
	threshold := p.Config.Earnings.MinPayoutCents
	if threshold < 0 {
		return nil, fmt.Errorf("earnings: minimum payout %d cents is negative", threshold)
	}

	return &Service{
		views:     p.Views,
		ledger:    p.Ledger,
		feeRate:   feeRate,
		threshold: threshold,
		nowFn:     time.Now,
	}, nil
}

func (s *Service) Ledger() *Ledger {
	return s.ledger
}

func (s *Service) CurrentPeriod() period.Period {
	return period.Of(s.nowFn())
}

// CalculateForPeriod creates one record per (promoter, campaign) pair with
// views in the period. Existing records are left untouched. Only storage
// failures abort the pass; bad tuples are logged and skipped.
func (s *Service) CalculateForPeriod(ctx context.Context, p period.Period) (Summary, error) {
	if err := p.Validate(); err != nil {
		return Summary{}, err
	}
	return s.calculate(ctx, Summary{Period: p}, s.views.ViewsForPeriod(ctx, p))
}

// CalculateForCampaign runs the same pass for one campaign in the current period.
func (s *Service) CalculateForCampaign(ctx context.Context, campaignID string) (Summary, error) {
	if strings.TrimSpace(campaignID) == "" {
		return Summary{}, errors.New("earnings: campaign id is required")
	}
	p := s.CurrentPeriod()
	return s.calculate(ctx, Summary{Period: p, CampaignID: campaignID}, s.views.ViewsForCampaign(ctx, campaignID, p))
}

func (s *Service) HasCalculationsForPeriod(ctx context.Context, p period.Period) (bool, error) {
	return s.ledger.HasCalculationsForPeriod(ctx, p)
}

func (s *Service) calculate(ctx context.Context, sum Summary, aggregates iter.Seq2[views.ViewAggregate, error]) (Summary, error) {
	span := trace.SpanFromContext(ctx)

	logger := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("period", sum.Period.String()),
	)
	if sum.CampaignID != "" {
		logger = logger.With(zap.String("campaign_id", sum.CampaignID))
	}

	for agg, err := range aggregates {
		if err != nil {
			logger.Error("failed to read view aggregates", zap.Error(err))
			return sum, fmt.Errorf("earnings: calculate %s: %w", sum.Period, err)
		}
		sum.Scanned++

		fields := []zap.Field{
			zap.String("promoter_id", agg.PromoterID),
			zap.String("campaign_id", agg.CampaignID),
		}

		exists, err := s.ledger.Exists(ctx, agg.PromoterID, agg.CampaignID, sum.Period)
		if err != nil {
			logger.Error("failed to check existing earnings", append(fields, zap.Error(err))...)
			return sum, fmt.Errorf("earnings: calculate %s: %w", sum.Period, err)
		}
		if exists {
			logger.Info("earnings already calculated, skipping", fields...)
			sum.Skipped++
			continue
		}

		rec, err := s.buildRecord(agg, sum.Period)
		if err != nil {
			logger.Error("failed to compute earnings", append(fields, zap.Error(err))...)
			sum.Failed++
			continue
		}

		if err := s.ledger.InsertIfAbsent(ctx, rec); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				logger.Warn("earnings inserted concurrently, skipping", fields...)
				sum.Skipped++
				continue
			}
			logger.Error("failed to insert earnings", append(fields, zap.Error(err))...)
			sum.Failed++
			continue
		}

		logger.Info("earnings calculated", append(fields,
			zap.Int64("views", rec.ViewsGenerated),
			zap.Int64("net_cents", rec.NetEarningsCents),
			zap.Bool("qualifies_for_payout", rec.QualifiesForPayout),
		)...)
		sum.Calculated++
	}

	logger.Info("earnings calculation finished",
		zap.Int("scanned", sum.Scanned),
		zap.Int("calculated", sum.Calculated),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
	)

	return sum, nil
}

func (s *Service) buildRecord(agg views.ViewAggregate, p period.Period) (*EarningsRecord, error) {
	currency := strings.ToUpper(strings.TrimSpace(agg.Currency))
	if len(currency) != 3 {
		return nil, fmt.Errorf("invalid currency %q", agg.Currency)
	}
	if agg.PromoterID == "" || agg.CampaignID == "" {
		return nil, errors.New("missing promoter or campaign id")
	}
	if agg.RateCents < 0 || agg.ViewCount < 0 {
		return nil, fmt.Errorf("negative rate %d or views %d", agg.RateCents, agg.ViewCount)
	}

	b := Calculate(agg.ViewCount, agg.RateCents, s.feeRate, s.threshold)

	return &EarningsRecord{
		PromoterID:         agg.PromoterID,
		CampaignID:         agg.CampaignID,
		PeriodMonth:        int(p.Month),
		PeriodYear:         p.Year,
		ViewsGenerated:     b.Views,
		RateCents:          b.RateCents,
		Currency:           currency,
		GrossEarningsCents: b.GrossCents,
		PlatformFeeCents:   b.FeeCents,
		NetEarningsCents:   b.NetCents,
		QualifiesForPayout: b.Qualifies,
	}, nil
}
