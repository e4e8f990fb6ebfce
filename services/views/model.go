package views

import "time"

type BillingType string

const (
	BillingTypeViews  BillingType = "views"
	BillingTypeClicks BillingType = "clicks"
	BillingTypeFlat   BillingType = "flat"
)

type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
)

// Campaign is the upstream campaign row. Only the money-relevant columns are mapped.
type Campaign struct {
	ID           string         `gorm:"column:id;primaryKey"`
	AdvertiserID string         `gorm:"column:advertiser_id;index"`
	Name         string         `gorm:"column:name;type:varchar(255)"`
	BillingType  BillingType    `gorm:"column:billing_type;type:varchar(20);not null;default:'views'"`
	RateCents    int64          `gorm:"column:rate_cents;not null"`
	Currency     string         `gorm:"column:currency;type:char(3);not null;default:'USD'"`
	Status       CampaignStatus `gorm:"column:status;type:varchar(20);not null;default:'draft'"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (Campaign) TableName() string { return "campaigns" }

// CampaignView is a single view event. IsUnique is set by the upstream dedup stage.
type CampaignView struct {
	ID         string    `gorm:"column:id;primaryKey"`
	CampaignID string    `gorm:"column:campaign_id;index:idx_campaign_views_lookup,priority:1"`
	PromoterID string    `gorm:"column:promoter_id;index:idx_campaign_views_lookup,priority:2"`
	ViewedAt   time.Time `gorm:"column:viewed_at;index:idx_campaign_views_lookup,priority:3"`
	IsUnique   bool      `gorm:"column:is_unique;not null;default:false"`
}

func (CampaignView) TableName() string { return "campaign_views" }

// ViewAggregate is the qualifying view count of one promoter on one campaign
// within a period, together with the campaign's rate and ledger currency.
type ViewAggregate struct {
	PromoterID string `gorm:"column:promoter_id"`
	CampaignID string `gorm:"column:campaign_id"`
	ViewCount  int64  `gorm:"column:view_count"`
	RateCents  int64  `gorm:"column:rate_cents"`
	Currency   string `gorm:"column:currency"`
}
