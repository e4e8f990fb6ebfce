package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"promohub-payouts/pkg/period"
	"promohub-payouts/pkg/repository"
	"promohub-payouts/services/earnings"
	"promohub-payouts/services/payout"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const DefaultInterval = time.Hour

type Calculator interface {
	CalculateForPeriod(ctx context.Context, p period.Period) (earnings.Summary, error)
	CalculateForCampaign(ctx context.Context, campaignID string) (earnings.Summary, error)
	HasCalculationsForPeriod(ctx context.Context, p period.Period) (bool, error)
}

type EligibleSource interface {
	ListEligible(ctx context.Context, filter earnings.EligibleFilter) ([]*earnings.EarningsRecord, error)
	CountNeedingAttention(ctx context.Context, threshold int) (int64, error)
}

type Executor interface {
	Execute(ctx context.Context, rec *earnings.EarningsRecord) (payout.Result, error)
	AttentionThreshold() int
}

// PauseSwitch reports whether payouts are administratively paused.
type PauseSwitch interface {
	Paused(ctx context.Context) bool
}

// RunReport summarises one run.
type RunReport struct {
	RunID              string
	Trigger            Trigger
	Kind               RunKind
	Period             period.Period
	CalculationSkipped bool
	Calculation        earnings.Summary
	CalculationErr     error
	PayoutsPaused      bool
	Eligible           int
	Paid               int
	AlreadyPaid        int
	Failed             int
}

// Scheduler drives the Idle -> CalculatingEarnings -> SelectingEligible ->
// PayingOut -> Idle cycle. Runs are serialized within the process; across
// processes the ledger's unique index and conditional paid flag apply.
type Scheduler struct {
	calc     Calculator
	eligible EligibleSource
	executor Executor
	pause    PauseSwitch
	runs     repository.Repository[SchedulerRun]
	node     *snowflake.Node

	interval time.Duration
	nowFn    func() time.Time

	mu    sync.Mutex
	state atomic.Int32
}

func New(calc Calculator, eligible EligibleSource, executor Executor, pause PauseSwitch, runs repository.Repository[SchedulerRun], node *snowflake.Node, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		calc:     calc,
		eligible: eligible,
		executor: executor,
		pause:    pause,
		runs:     runs,
		node:     node,
		interval: interval,
		nowFn:    time.Now,
	}
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
}

// Start runs RunOnce every interval until ctx is cancelled. A run in flight is
// not interrupted by cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	zap.L().Info("[Scheduler] started payout scheduler", zap.Duration("interval", s.interval))

	for {
		select {
		case <-time.After(s.interval):
			if _, err := s.RunOnce(context.WithoutCancel(ctx), TriggerSchedule); err != nil {
				zap.L().Error("[Scheduler] run failed", zap.Error(err))
			}
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

// RunOnce performs a full cycle for the current period. Calculation errors are
// logged and the run still pays earlier unpaid rows; a selection failure fails
// the run.
func (s *Scheduler) RunOnce(ctx context.Context, trigger Trigger) (RunReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := period.Of(s.nowFn())
	report := RunReport{Trigger: trigger, Kind: RunKindFull, Period: p}

	return s.track(ctx, &report, "", "", func(ctx context.Context) error {
		s.calculate(ctx, &report)
		return s.payOut(ctx, &report, earnings.EligibleFilter{})
	})
}

// RunCalculationNow calculates the given period regardless of earlier runs.
// Existing records are not touched.
func (s *Scheduler) RunCalculationNow(ctx context.Context, p period.Period) (RunReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := RunReport{Trigger: TriggerManual, Kind: RunKindCalculation, Period: p}

	return s.track(ctx, &report, "", "", func(ctx context.Context) error {
		s.setState(StateCalculatingEarnings)
		defer s.setState(StateIdle)

		sum, err := s.calc.CalculateForPeriod(ctx, p)
		report.Calculation = sum
		return err
	})
}

func (s *Scheduler) TriggerCalculationForCampaign(ctx context.Context, campaignID string) (RunReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := RunReport{Trigger: TriggerManual, Kind: RunKindCalculation, Period: period.Of(s.nowFn())}

	return s.track(ctx, &report, campaignID, "", func(ctx context.Context) error {
		s.setState(StateCalculatingEarnings)
		defer s.setState(StateIdle)

		sum, err := s.calc.CalculateForCampaign(ctx, campaignID)
		report.Calculation = sum
		return err
	})
}

// RunPayoutsNow pays eligible rows, optionally for a single promoter, using
// the same selection predicate as the scheduled run.
func (s *Scheduler) RunPayoutsNow(ctx context.Context, promoterID string) (RunReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := RunReport{Trigger: TriggerManual, Kind: RunKindPayout, Period: period.Of(s.nowFn())}

	return s.track(ctx, &report, "", promoterID, func(ctx context.Context) error {
		return s.payOut(ctx, &report, earnings.EligibleFilter{PromoterID: promoterID})
	})
}

func (s *Scheduler) calculate(ctx context.Context, report *RunReport) {
	s.setState(StateCalculatingEarnings)
	logger := zap.L().With(zap.String("run_id", report.RunID), zap.String("period", report.Period.String()))

	done, err := s.calc.HasCalculationsForPeriod(ctx, report.Period)
	if err != nil {
		logger.Error("[Scheduler] failed to check existing calculations", zap.Error(err))
		report.CalculationErr = err
		return
	}
	if done {
		logger.Info("[Scheduler] period already calculated, skipping calculation")
		report.CalculationSkipped = true
		return
	}

	sum, err := s.calc.CalculateForPeriod(ctx, report.Period)
	report.Calculation = sum
	if err != nil {
		logger.Error("[Scheduler] earnings calculation failed, continuing to payouts", zap.Error(err))
		report.CalculationErr = err
	}
}

func (s *Scheduler) payOut(ctx context.Context, report *RunReport, filter earnings.EligibleFilter) error {
	defer s.setState(StateIdle)
	logger := zap.L().With(zap.String("run_id", report.RunID))
	if filter.PromoterID != "" {
		logger = logger.With(zap.String("promoter_id", filter.PromoterID))
	}

	if s.pause != nil && s.pause.Paused(ctx) {
		logger.Warn("[Scheduler] payouts paused by feature flag")
		report.PayoutsPaused = true
		return nil
	}

	s.setState(StateSelectingEligible)
	rows, err := s.eligible.ListEligible(ctx, filter)
	if err != nil {
		return fmt.Errorf("scheduler: select eligible: %w", err)
	}
	report.Eligible = len(rows)

	s.setState(StatePayingOut)
	for _, rec := range rows {
		res, err := s.executor.Execute(ctx, rec)
		switch {
		case err != nil:
			report.Failed++
			payoutsTotal.WithLabelValues("failed").Inc()
			logger.Error("[Scheduler] payout failed for record",
				zap.String("record_id", rec.ID),
				zap.String("promoter_id", rec.PromoterID),
				zap.String("campaign_id", rec.CampaignID),
				zap.String("period", rec.Period().String()),
				zap.Error(err),
			)
		case res.AlreadyPaid:
			report.AlreadyPaid++
			payoutsTotal.WithLabelValues("already_paid").Inc()
		default:
			report.Paid++
			payoutsTotal.WithLabelValues("succeeded").Inc()
		}
	}

	n, err := s.eligible.CountNeedingAttention(ctx, s.executor.AttentionThreshold())
	if err != nil {
		logger.Warn("[Scheduler] failed to count rows needing attention", zap.Error(err))
	} else {
		rowsNeedingAttention.Set(float64(n))
	}

	logger.Info("[Scheduler] payouts finished",
		zap.Int("eligible", report.Eligible),
		zap.Int("paid", report.Paid),
		zap.Int("already_paid", report.AlreadyPaid),
		zap.Int("failed", report.Failed),
	)
	return nil
}

// track wraps fn with a tracing span and a scheduler_runs record.
func (s *Scheduler) track(ctx context.Context, report *RunReport, campaignID, promoterID string, fn func(ctx context.Context) error) (RunReport, error) {
	ctx, span := otel.Tracer("scheduler").Start(ctx, "scheduler.run")
	defer span.End()

	span.SetAttributes(
		attribute.String("trigger", string(report.Trigger)),
		attribute.String("kind", string(report.Kind)),
		attribute.String("period", report.Period.String()),
	)

	run := &SchedulerRun{
		ID:          s.node.Generate().String(),
		Trigger:     report.Trigger,
		Kind:        report.Kind,
		PeriodMonth: int(report.Period.Month),
		PeriodYear:  report.Period.Year,
		CampaignID:  campaignID,
		PromoterID:  promoterID,
		Status:      RunStatusRunning,
		StartedAt:   s.nowFn(),
	}
	report.RunID = run.ID

	if err := s.runs.Create(ctx, run); err != nil {
		zap.L().Warn("[Scheduler] failed to record run start", zap.String("run_id", run.ID), zap.Error(err))
	}

	err := fn(ctx)

	status := RunStatusSucceeded
	errMsg := ""
	if err != nil {
		status = RunStatusFailed
		errMsg = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if report.CalculationErr != nil {
		errMsg = report.CalculationErr.Error()
	}
	runsTotal.WithLabelValues(string(report.Kind), string(status)).Inc()

	s.finish(ctx, run, report, status, errMsg)

	return *report, err
}

func (s *Scheduler) finish(ctx context.Context, run *SchedulerRun, report *RunReport, status RunStatus, errMsg string) {
	completed := s.nowFn()

	meta, _ := json.Marshal(map[string]any{
		"calculation_skipped": report.CalculationSkipped,
		"payouts_paused":      report.PayoutsPaused,
		"already_paid":        report.AlreadyPaid,
		"calculation_failed":  report.Calculation.Failed,
	})

	err := s.runs.Update(ctx, run.ID, map[string]any{
		"status":       status,
		"calculated":   report.Calculation.Calculated,
		"skipped":      report.Calculation.Skipped,
		"eligible":     report.Eligible,
		"paid":         report.Paid,
		"failed":       report.Failed,
		"error_msg":    errMsg,
		"completed_at": completed,
		"metadata":     datatypes.JSON(meta),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		zap.L().Warn("[Scheduler] failed to record run result", zap.String("run_id", run.ID), zap.Error(err))
	}

	zap.L().Info("[Scheduler] run finished",
		zap.String("run_id", run.ID),
		zap.String("kind", string(report.Kind)),
		zap.String("status", string(status)),
		zap.Duration("duration", completed.Sub(run.StartedAt)),
	)
}
