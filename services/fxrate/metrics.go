package fxrate

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	cacheHits     = prometheus.NewCounter(prometheus.CounterOpts{Name: "fxrate_cache_hits_total"})
	cacheMiss     = prometheus.NewCounter(prometheus.CounterOpts{Name: "fxrate_cache_miss_total"})
	fallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "fxrate_fallback_total"})
)

func registerMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{cacheHits, cacheMiss, fallbackTotal} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}
