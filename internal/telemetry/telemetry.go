// Package telemetry initializes the OpenTelemetry metrics exporter and
// publishes the per-cycle macro indicators as gauges.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/talgya/mini-economy/internal/engine"
)

// Shutdown flushes and stops the exporter.
type Shutdown func(ctx context.Context) error

// Init configures the global meter provider. If endpoint is empty, OTEL is
// disabled and the no-op provider stays in place.
func Init(ctx context.Context, endpoint, serviceName, version string, insecure bool) (Shutdown, error) {
	if endpoint == "" {
		return func(ctx context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(endpoint),
	}
	if insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp,
				sdkmetric.WithInterval(15*time.Second),
			),
		),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// Meter returns the global meter for the given instrumentation scope.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// Recorder publishes snapshots.
type Recorder struct {
	gdp          metric.Float64Gauge
	inflation    metric.Float64Gauge
	priceIndex   metric.Float64Gauge
	unemployment metric.Float64Gauge
	policyRate   metric.Float64Gauge
	moneySupply  metric.Float64Gauge
	crisis       metric.Int64Gauge
	transactions metric.Int64Counter
	defaults     metric.Int64Counter
	aborted      metric.Int64Counter
	scenario     attribute.KeyValue
}

// NewRecorder creates the instruments on m.
func NewRecorder(m metric.Meter, scenario string) (*Recorder, error) {
	r := &Recorder{scenario: attribute.String("scenario", scenario)}
	var err error
	gauge := func(name, desc, unit string) metric.Float64Gauge {
		if err != nil {
			return nil
		}
		var g metric.Float64Gauge
		g, err = m.Float64Gauge(name, metric.WithDescription(desc), metric.WithUnit(unit))
		return g
	}
	counter := func(name, desc string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = m.Int64Counter(name, metric.WithDescription(desc))
		return c
	}

	r.gdp = gauge("econsim.gdp", "Nominal GDP of the last cycle", "{currency}")
	r.inflation = gauge("econsim.inflation", "Cycle over cycle inflation", "1")
	r.priceIndex = gauge("econsim.price_index", "Aggregate price index", "1")
	r.unemployment = gauge("econsim.unemployment", "Unemployment rate", "1")
	r.policyRate = gauge("econsim.policy_rate", "Central bank policy rate", "1")
	r.moneySupply = gauge("econsim.money_supply", "Sum of all ledger balances", "{currency}")
	r.transactions = counter("econsim.transactions", "Completed sales")
	r.defaults = counter("econsim.defaults", "Loans written off")
	r.aborted = counter("econsim.cycles.aborted", "Cycles that ran out of budget")
	if err != nil {
		return nil, fmt.Errorf("telemetry: create instruments: %w", err)
	}
	r.crisis, err = m.Int64Gauge("econsim.crisis_state", metric.WithDescription("0 stable, 1 warning, 2 active, 3 recovering"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create instruments: %w", err)
	}
	return r, nil
}

// Record publishes one snapshot. Partial snapshots only bump the abort count.
func (r *Recorder) Record(ctx context.Context, s engine.Snapshot) {
	attrs := metric.WithAttributes(r.scenario)
	if s.Partial {
		r.aborted.Add(ctx, 1, attrs)
		return
	}
	r.gdp.Record(ctx, s.GDP.InexactFloat64(), attrs)
	r.inflation.Record(ctx, s.Inflation, attrs)
	r.priceIndex.Record(ctx, s.PriceIndex, attrs)
	r.unemployment.Record(ctx, s.Unemployment, attrs)
	r.policyRate.Record(ctx, s.PolicyRate, attrs)
	r.moneySupply.Record(ctx, s.MoneySupply.InexactFloat64(), attrs)
	r.crisis.Record(ctx, int64(s.Crisis), attrs)
	r.transactions.Add(ctx, int64(s.Transactions), attrs)
	r.defaults.Add(ctx, int64(s.Defaults), attrs)
}
