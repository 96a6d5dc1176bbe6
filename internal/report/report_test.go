package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/mini-economy/internal/crisis"
	"github.com/talgya/mini-economy/internal/engine"
	"github.com/talgya/mini-economy/internal/scenario"
)

func snap(cycle uint64, gdp string, unemp, rate float64, state crisis.State) engine.Snapshot {
	return engine.Snapshot{
		Cycle:        cycle,
		Season:       "Spring",
		GDP:          decimal.RequireFromString(gdp),
		Unemployment: unemp,
		PolicyRate:   rate,
		PriceIndex:   100 + float64(cycle),
		MoneySupply:  decimal.NewFromInt(1000),
		Crisis:       state,
	}
}

func TestSummarize(t *testing.T) {
	snaps := []engine.Snapshot{
		snap(1, "100.00", .04, .02, crisis.Stable),
		snap(2, "150.50", .06, .025, crisis.Warning),
		snap(3, "80.25", .08, .03, crisis.Active),
		{Cycle: 4, Partial: true, GDP: decimal.NewFromInt(5)},
	}
	sum := Summarize(snaps, []crisis.Transition{{Cycle: 2}, {Cycle: 3}})

	assert.Equal(t, 3, sum.Cycles)
	assert.Equal(t, 1, sum.Partial)
	assert.Equal(t, "330.75", sum.TotalGDP.StringFixed(2))
	assert.Equal(t, "150.50", sum.PeakGDP.StringFixed(2))
	assert.Equal(t, "80.25", sum.TroughGDP.StringFixed(2))
	assert.InDelta(t, .06, sum.MeanUnemp, 1e-9)
	assert.InDelta(t, .08, sum.PeakUnemp, 1e-9)
	assert.InDelta(t, .02, sum.MinRate, 1e-9)
	assert.InDelta(t, .03, sum.MaxRate, 1e-9)
	assert.Equal(t, 2, sum.CrisisCycles)
	assert.Equal(t, 2, sum.Transitions)
	assert.Equal(t, crisis.Active, sum.FinalState)
	assert.InDelta(t, 103.0, sum.FinalIndex, 1e-9)

	text := sum.Text()
	assert.Contains(t, text, "330.75")
	assert.Contains(t, text, "+1 aborted")
	assert.Contains(t, text, "ending active")
}

func TestSummarizeEmpty(t *testing.T) {
	sum := Summarize(nil, nil)
	assert.Zero(t, sum.Cycles)
	assert.True(t, sum.TotalGDP.IsZero())
	assert.NotPanics(t, func() { _ = sum.Text() })
}

func TestWriteCSV(t *testing.T) {
	snaps := []engine.Snapshot{
		snap(1, "100", .04, .02, crisis.Stable),
		snap(2, "110.5", .05, .02, crisis.Warning),
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, snaps))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Header, rows[0])
	for _, r := range rows {
		assert.Len(t, r, len(Header))
	}
	assert.Equal(t, "2", rows[2][0])
	assert.Equal(t, "110.50", rows[2][2])
	assert.Equal(t, "warning", rows[2][22])
}

func TestWriteJSONFromRun(t *testing.T) {
	scn := scenario.Default()
	scn.Consumers = 60
	scn.Firms = 10
	sim, err := engine.New(scn)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := sim.RunCycle(context.Background())
		require.NoError(t, err)
	}

	doc := NewDocument("run-1", scn.Name, scn.Seed, sim.Log())
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, doc))

	var back struct {
		RunID     string `json:"run_id"`
		Snapshots []struct {
			Cycle  uint64 `json:"cycle"`
			Crisis string `json:"crisis"`
		} `json:"snapshots"`
		Summary struct {
			Cycles int `json:"cycles"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, "run-1", back.RunID)
	require.Len(t, back.Snapshots, 4)
	assert.Equal(t, uint64(4), back.Snapshots[3].Cycle)
	assert.NotEmpty(t, back.Snapshots[0].Crisis)
	assert.Equal(t, 4, back.Summary.Cycles)
}
