package views

import (
	"context"
	"fmt"
	"iter"

	"promohub-payouts/pkg/db/option"
	"promohub-payouts/pkg/period"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

const defaultBatchSize = 500

type Aggregator struct {
	db        *gorm.DB
	batchSize int
}

type AggregatorParams struct {
	fx.In
	DB *gorm.DB
}

func NewAggregator(p AggregatorParams) *Aggregator {
	return &Aggregator{db: p.DB, batchSize: defaultBatchSize}
}

// ViewsForPeriod streams one aggregate per (promoter, campaign) pair that has at
// least one qualifying view inside the period. Pages are fetched on demand.
func (a *Aggregator) ViewsForPeriod(ctx context.Context, p period.Period) iter.Seq2[ViewAggregate, error] {
	return a.stream(ctx, p, "")
}

// ViewsForCampaign is ViewsForPeriod scoped to one campaign.
func (a *Aggregator) ViewsForCampaign(ctx context.Context, campaignID string, p period.Period) iter.Seq2[ViewAggregate, error] {
	return a.stream(ctx, p, campaignID)
}

func (a *Aggregator) query(ctx context.Context, p period.Period, campaignID string) *gorm.DB {
	q := a.db.WithContext(ctx).
		Table("campaign_views AS cv").
		Select("cv.promoter_id, cv.campaign_id, COUNT(*) AS view_count, c.rate_cents, c.currency").
		Joins("JOIN campaigns AS c ON c.id = cv.campaign_id").
		Where("cv.is_unique = ?", true).
		Where("c.billing_type = ?", BillingTypeViews).
		Where("cv.viewed_at >= ? AND cv.viewed_at < ?", p.Start(), p.End())

	if campaignID != "" {
		q = q.Where("cv.campaign_id = ?", campaignID)
	}

	return q.
		Group("cv.promoter_id, cv.campaign_id, c.rate_cents, c.currency").
		Order("cv.campaign_id, cv.promoter_id")
}

// stream pages through the grouped result so no cursor is held open while the
// caller writes to the same database.
func (a *Aggregator) stream(ctx context.Context, p period.Period, campaignID string) iter.Seq2[ViewAggregate, error] {
	return func(yield func(ViewAggregate, error) bool) {
		for offset := 0; ; offset += a.batchSize {
			var batch []ViewAggregate
			page := option.Apply(a.query(ctx, p, campaignID),
				option.WithLimit(a.batchSize),
				option.WithOffset(offset),
			)
			err := page.Scan(&batch).Error
			if err != nil {
				yield(ViewAggregate{}, fmt.Errorf("views: query %s: %w", p, err))
				return
			}

			for _, agg := range batch {
				if !yield(agg, nil) {
					return
				}
			}

			if len(batch) < a.batchSize {
				return
			}
		}
	}
}
