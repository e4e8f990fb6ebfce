package notification

import (
	"context"
	"strings"

	"promohub-payouts/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(NewNotifier),
)

type NotifierParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
}

func NewNotifier(p NotifierParams) Notifier {
	if p.Config.Kafka.Addrs == "" {
		zap.L().Warn("KAFKA.ADDR not set, notifications will only be logged")
		return LogNotifier{}
	}

	brokers := strings.Split(p.Config.Kafka.Addrs, ",")
	notifier := NewKafkaNotifier(NewKafkaWriter(brokers, p.Config.Kafka.NotificationTopic))

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return notifier.Close()
		},
	})

	return notifier
}
