package telemetry

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/talgya/mini-economy/internal/crisis"
	"github.com/talgya/mini-economy/internal/engine"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "econsim", "test", false)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.NotNil(t, Meter("econsim"))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestRecorderPublishesSnapshot(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	rec, err := NewRecorder(mp.Meter("test"), "baseline")
	require.NoError(t, err)

	ctx := context.Background()
	rec.Record(ctx, engine.Snapshot{
		Cycle:        3,
		GDP:          decimal.RequireFromString("1234.50"),
		Unemployment: .07,
		PolicyRate:   .035,
		MoneySupply:  decimal.NewFromInt(50000),
		Transactions: 40,
		Crisis:       crisis.Warning,
	})
	rec.Record(ctx, engine.Snapshot{Cycle: 4, Partial: true})

	got := collect(t, reader)
	gdp, ok := got["econsim.gdp"].(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, gdp.DataPoints, 1)
	assert.InDelta(t, 1234.5, gdp.DataPoints[0].Value, 1e-9)

	state, ok := got["econsim.crisis_state"].(metricdata.Gauge[int64])
	require.True(t, ok)
	assert.Equal(t, int64(1), state.DataPoints[0].Value)

	tx, ok := got["econsim.transactions"].(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(40), tx.DataPoints[0].Value)

	aborted, ok := got["econsim.cycles.aborted"].(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(1), aborted.DataPoints[0].Value)
}
