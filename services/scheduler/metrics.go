package scheduler

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_runs_total",
		Help: "Scheduler runs by kind and final status.",
	}, []string{"kind", "status"})

	payoutsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payouts_total",
		Help: "Payout attempts by outcome.",
	}, []string{"outcome"})

	rowsNeedingAttention = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "payout_rows_needing_attention",
		Help: "Unpaid eligible rows whose attempt count reached the attention threshold.",
	})
)

func registerMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{runsTotal, payoutsTotal, rowsNeedingAttention} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}
