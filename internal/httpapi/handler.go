package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"promohub-payouts/pkg/errutil"
	"promohub-payouts/pkg/period"
	"promohub-payouts/services/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module mounts the manual trigger API. Handlers only enqueue; the worker
// runs the work through the scheduler.
var Module = fx.Module("api",
	fx.Provide(NewHandler),
	fx.Invoke(func(engine *gin.Engine, h *Handler) { h.Register(engine) }),
)

type Dispatcher interface {
	EnqueueCalculation(ctx context.Context, p period.Period) (*asynq.TaskInfo, error)
	EnqueueCampaignCalculation(ctx context.Context, campaignID string) (*asynq.TaskInfo, error)
	EnqueuePayoutRun(ctx context.Context, promoterID string) (*asynq.TaskInfo, error)
}

type CalculationRequest struct {
	Month int `json:"month" binding:"required"`
	Year  int `json:"year" binding:"required"`
}

type PayoutRunRequest struct {
	PromoterID string `json:"promoter_id"`
}

type TaskAccepted struct {
	TaskID string `json:"task_id"`
	Type   string `json:"type"`
	Queue  string `json:"queue"`
}

type Handler struct {
	dispatcher Dispatcher
}

type HandlerParams struct {
	fx.In
	Dispatcher *scheduler.Dispatcher
}

func NewHandler(p HandlerParams) *Handler {
	return newHandler(p.Dispatcher)
}

func newHandler(d Dispatcher) *Handler {
	return &Handler{dispatcher: d}
}

func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.POST("/earnings/calculations", h.TriggerCalculation)
	v1.POST("/earnings/campaigns/:campaign_id/calculations", h.TriggerCampaignCalculation)
	v1.POST("/payouts/runs", h.TriggerPayoutRun)
}

func (h *Handler) TriggerCalculation(c *gin.Context) {
	var req CalculationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.ValidationFailed("month and year are required", nil))
		return
	}

	p, err := period.New(req.Month, req.Year)
	if err != nil {
		_ = c.Error(errutil.BadRequest(err.Error(), nil))
		return
	}

	info, err := h.dispatcher.EnqueueCalculation(c.Request.Context(), p)
	h.respond(c, info, err, zap.String("period", p.String()))
}

func (h *Handler) TriggerCampaignCalculation(c *gin.Context) {
	campaignID := strings.TrimSpace(c.Param("campaign_id"))
	if campaignID == "" {
		_ = c.Error(errutil.BadRequest("campaign_id is required", nil))
		return
	}

	info, err := h.dispatcher.EnqueueCampaignCalculation(c.Request.Context(), campaignID)
	h.respond(c, info, err, zap.String("campaign_id", campaignID))
}

// TriggerPayoutRun accepts an empty body for a run over all promoters.
func (h *Handler) TriggerPayoutRun(c *gin.Context) {
	var req PayoutRunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(errutil.BadRequest("invalid request body", nil))
			return
		}
	}

	promoterID := strings.TrimSpace(req.PromoterID)
	info, err := h.dispatcher.EnqueuePayoutRun(c.Request.Context(), promoterID)
	h.respond(c, info, err, zap.String("promoter_id", promoterID))
}

func (h *Handler) respond(c *gin.Context, info *asynq.TaskInfo, err error, scope zap.Field) {
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			_ = c.Error(errutil.Conflict("an identical run is already queued", nil))
			return
		}
		zap.L().Error("failed to enqueue manual trigger", scope, zap.String("path", c.FullPath()), zap.Error(err))
		_ = c.Error(errutil.ServiceUnavailable("task queue unavailable", nil))
		return
	}

	zap.L().Info("manual trigger queued", scope, zap.String("task_id", info.ID), zap.String("type", info.Type))
	c.JSON(http.StatusAccepted, TaskAccepted{TaskID: info.ID, Type: info.Type, Queue: info.Queue})
}
