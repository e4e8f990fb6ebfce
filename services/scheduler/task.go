package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pkgasynq "promohub-payouts/pkg/asynq"
	"promohub-payouts/pkg/period"
	"promohub-payouts/pkg/rediskey"
	"promohub-payouts/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	calculationRetention = 10 * time.Minute
	payoutRunRetention   = time.Minute
	taskTimeout          = 30 * time.Minute
	taskMaxRetry         = 3
)

type CalculationPayload struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

type CampaignCalculationPayload struct {
	CampaignID string `json:"campaign_id"`
}

type PayoutRunPayload struct {
	PromoterID string `json:"promoter_id,omitempty"`
}

// Dispatcher turns manual trigger requests into queued tasks. Task ids are
// deterministic so a repeated trigger is rejected with asynq.ErrTaskIDConflict
// while the first one is pending or retained.
type Dispatcher struct {
	enqueuer pkgasynq.Enqueuer
	nowFn    func() time.Time
}

func NewDispatcher(enqueuer pkgasynq.Enqueuer) *Dispatcher {
	return &Dispatcher{enqueuer: enqueuer, nowFn: time.Now}
}

func (d *Dispatcher) EnqueueCalculation(ctx context.Context, p period.Period) (*asynq.TaskInfo, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(CalculationPayload{Month: int(p.Month), Year: p.Year})
	if err != nil {
		return nil, err
	}

	return d.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.EarningsCalculatePeriod, payload),
		asynq.TaskID(rediskey.BuildCalculationTaskID(p.String())),
		asynq.Queue(pkgasynq.QueueDefault),
		asynq.MaxRetry(taskMaxRetry),
		asynq.Timeout(taskTimeout),
		asynq.Retention(calculationRetention),
	)
}

func (d *Dispatcher) EnqueueCampaignCalculation(ctx context.Context, campaignID string) (*asynq.TaskInfo, error) {
	payload, err := json.Marshal(CampaignCalculationPayload{CampaignID: campaignID})
	if err != nil {
		return nil, err
	}

	return d.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.EarningsCalculateCampaign, payload),
		asynq.TaskID(rediskey.BuildCampaignTaskID(campaignID, period.Of(d.nowFn()).String())),
		asynq.Queue(pkgasynq.QueueDefault),
		asynq.MaxRetry(taskMaxRetry),
		asynq.Timeout(taskTimeout),
		asynq.Retention(calculationRetention),
	)
}

func (d *Dispatcher) EnqueuePayoutRun(ctx context.Context, promoterID string) (*asynq.TaskInfo, error) {
	payload, err := json.Marshal(PayoutRunPayload{PromoterID: promoterID})
	if err != nil {
		return nil, err
	}

	// Payout runs are not retried by the queue: failed rows stay eligible and
	// the next scheduled run picks them up.
	return d.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.PayoutRun, payload),
		asynq.TaskID(rediskey.BuildPayoutRunTaskID(promoterID)),
		asynq.Queue(pkgasynq.QueueCritical),
		asynq.MaxRetry(0),
		asynq.Timeout(taskTimeout),
		asynq.Retention(payoutRunRetention),
	)
}

// TaskHandler consumes manual trigger tasks and calls the scheduler's manual
// entry points.
type TaskHandler struct {
	scheduler *Scheduler
}

func NewTaskHandler(s *Scheduler) *TaskHandler {
	return &TaskHandler{scheduler: s}
}

func (h *TaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(taskname.EarningsCalculatePeriod, h.HandleCalculation)
	mux.HandleFunc(taskname.EarningsCalculateCampaign, h.HandleCampaignCalculation)
	mux.HandleFunc(taskname.PayoutRun, h.HandlePayoutRun)
}

func (h *TaskHandler) HandleCalculation(ctx context.Context, t *asynq.Task) error {
	var payload CalculationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}

	p, err := period.New(payload.Month, payload.Year)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}

	report, err := h.scheduler.RunCalculationNow(ctx, p)
	if err != nil {
		return err
	}

	zap.L().Info("manual calculation finished",
		zap.String("run_id", report.RunID),
		zap.String("period", p.String()),
		zap.Int("calculated", report.Calculation.Calculated),
	)
	return nil
}

func (h *TaskHandler) HandleCampaignCalculation(ctx context.Context, t *asynq.Task) error {
	var payload CampaignCalculationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	if payload.CampaignID == "" {
		return fmt.Errorf("%s: campaign_id is required: %w", t.Type(), asynq.SkipRetry)
	}

	report, err := h.scheduler.TriggerCalculationForCampaign(ctx, payload.CampaignID)
	if err != nil {
		return err
	}

	zap.L().Info("manual campaign calculation finished",
		zap.String("run_id", report.RunID),
		zap.String("campaign_id", payload.CampaignID),
		zap.Int("calculated", report.Calculation.Calculated),
	)
	return nil
}

func (h *TaskHandler) HandlePayoutRun(ctx context.Context, t *asynq.Task) error {
	var payload PayoutRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}

	report, err := h.scheduler.RunPayoutsNow(ctx, payload.PromoterID)
	if err != nil {
		return err
	}

	zap.L().Info("manual payout run finished",
		zap.String("run_id", report.RunID),
		zap.String("promoter_id", payload.PromoterID),
		zap.Int("paid", report.Paid),
		zap.Int("failed", report.Failed),
	)
	return nil
}
