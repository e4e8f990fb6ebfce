package fxrate

import (
	"promohub-payouts/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("fxrate",
	fx.Provide(
		provideSource,
		provideCache,
	),
	fx.Invoke(func() error {
		return registerMetrics(prometheus.DefaultRegisterer)
	}),
)

func provideSource(cfg *config.Config) RateSource {
	if cfg.FX.SourceURL == "" {
		zap.L().Warn("FX.SOURCE_URL not set, fx rates will come from the static table")
		return nil
	}
	return NewHTTPSource(cfg.FX.SourceURL, cfg.FX.Timeout)
}

func provideCache(cfg *config.Config, source RateSource) *Cache {
	return NewCache(source, cfg.FX.TTL)
}
