// Package telemetry はOpenTelemetryのTracerProviderを構成する。
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// エクスポーターの種類（TRACING_EXPORTER）。
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

const serviceName = "langualegacy"

// TracingConfig はTracerProviderの設定。
type TracingConfig struct {
	Exporter       string
	ServiceVersion string

	// Writer はstdoutエクスポーターの出力先。nilの場合はos.Stdout。
	Writer io.Writer
}

// SetupTracing はTracerProviderを生成し、グローバルのTracerProviderとして登録する。
// ExporterNoneの場合もスパンは生成されるが、どこにも送信されない。
// OTLPの送信先はOTEL_EXPORTER_OTLP_ENDPOINTなどの標準環境変数で指定する。
// 呼び出し側は終了時にShutdownを呼び、未送信のスパンをフラッシュすること。
func SetupTracing(ctx context.Context, cfg TracingConfig) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", cfg.ServiceVersion),
		)),
	}

	switch cfg.Exporter {
	case ExporterNone, "":
	case ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	case ExporterOTLP:
		exp, err := otlptracehttp.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	default:
		return nil, fmt.Errorf("unknown tracing exporter %q", cfg.Exporter)
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp, nil
}
