package scheduler

import (
	"time"

	"gorm.io/datatypes"
)

type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

type RunKind string

const (
	RunKindFull        RunKind = "full"
	RunKindCalculation RunKind = "calculation"
	RunKindPayout      RunKind = "payout"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// SchedulerRun is the execution record of one scheduler or manual run.
type SchedulerRun struct {
	ID          string         `gorm:"column:id;primaryKey"`
	Trigger     Trigger        `gorm:"column:triggered_by;type:varchar(20);not null"`
	Kind        RunKind        `gorm:"column:kind;type:varchar(20);not null"`
	PeriodMonth int            `gorm:"column:period_month"`
	PeriodYear  int            `gorm:"column:period_year"`
	CampaignID  string         `gorm:"column:campaign_id"`
	PromoterID  string         `gorm:"column:promoter_id"`
	Status      RunStatus      `gorm:"column:status;type:varchar(20);not null;default:'running'"`
	Calculated  int            `gorm:"column:calculated"`
	Skipped     int            `gorm:"column:skipped"`
	Eligible    int            `gorm:"column:eligible"`
	Paid        int            `gorm:"column:paid"`
	Failed      int            `gorm:"column:failed"`
	ErrorMsg    string         `gorm:"column:error_msg;type:text"`
	StartedAt   time.Time      `gorm:"column:started_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at"`
	Metadata    datatypes.JSON `gorm:"column:metadata"`
	CreatedAt   time.Time      `gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime"`
}

func (SchedulerRun) TableName() string { return "scheduler_runs" }
