package httpapi

import (
	"promohub-payouts/pkg/health"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

// Module mounts the operational endpoints: liveness, readiness and metrics.
var Module = fx.Module("httpapi",
	fx.Invoke(RegisterOpsEndpoints),
)

func RegisterOpsEndpoints(engine *gin.Engine, h health.HealthService) {
	engine.GET("/healthz", h.Liveness)
	engine.GET("/readyz", h.Readiness)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
