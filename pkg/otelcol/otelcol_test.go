package otelcol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"promohub-payouts/pkg/config"
)

func TestProvideTraceExportsSpans(t *testing.T) {
	cfg := &config.Config{AppName: "promohub-payouts", AppEnv: "test"}
	exporter := tracetest.NewInMemoryExporter()

	tp := ProvideTrace(exporter, append(defaultTraceProviderOption(cfg), trace.WithSyncer(exporter))...)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("scheduler").Start(context.Background(), "scheduler.run")
	span.End()

	spans := exporter.GetSpans()
	require.NotEmpty(t, spans)
	require.Equal(t, "scheduler.run", spans[0].Name)

	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	require.Equal(t, "promohub-payouts", service)
}
