package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/mini-economy/internal/crisis"
	"github.com/talgya/mini-economy/internal/engine"
	"github.com/talgya/mini-economy/internal/scenario"
)

func openMemory(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newRun(t *testing.T, db *DB) Run {
	t.Helper()
	r := Run{
		ID:        NewRunID(),
		Scenario:  "baseline",
		Seed:      42,
		StartedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Config:    "{}",
	}
	require.NoError(t, db.BeginRun(context.Background(), r))
	return r
}

func TestRunLifecycle(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	r := newRun(t, db)

	got, err := db.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, int64(42), got.Seed)
	assert.Nil(t, got.FinishedAt)

	require.NoError(t, db.FinishRun(ctx, r.ID, StatusCompleted, 50))
	got, err = db.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 50, got.Cycles)
	assert.NotNil(t, got.FinishedAt)

	runs, err := db.Runs(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = db.GetRun(ctx, "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, db.FinishRun(ctx, "nope", StatusHalted, 0), ErrRunNotFound)
}

func TestSaveLogRoundTrip(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	r := newRun(t, db)

	scn := scenario.Default()
	scn.Consumers = 60
	scn.Firms = 10
	sim, err := engine.New(scn)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		_, err := sim.RunCycle(ctx)
		require.NoError(t, err)
	}

	require.NoError(t, db.SaveLog(ctx, r.ID, sim.Log()))
	// Saving again replaces rather than duplicates.
	require.NoError(t, db.SaveLog(ctx, r.ID, sim.Log()))

	want := sim.Log().All()
	got, err := db.Snapshots(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Cycle, got[i].Cycle)
		assert.True(t, want[i].GDP.Equal(got[i].GDP), "gdp at cycle %d", want[i].Cycle)
		assert.True(t, want[i].MoneySupply.Equal(got[i].MoneySupply))
		assert.Equal(t, want[i].Transactions, got[i].Transactions)
		assert.Equal(t, want[i].Crisis, got[i].Crisis)
		assert.InDelta(t, want[i].PolicyRate, got[i].PolicyRate, 1e-12)
		assert.Equal(t, want[i].LowActivity, got[i].LowActivity)
	}

	decisions, err := db.Decisions(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, sim.Log().Decisions(), decisions)
}

func TestTransitionsAndEvents(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	r := newRun(t, db)

	scn := scenario.Default()
	scn.Consumers = 60
	scn.Firms = 10
	scn.Shocks = []scenario.Shock{{Cycle: 2, Duration: 3}}
	sim, err := engine.New(scn)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := sim.RunCycle(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, db.SaveLog(ctx, r.ID, sim.Log()))

	want := sim.Log().Transitions()
	require.NotEmpty(t, want, "a supply shock moves the crisis machine")
	got, err := db.Transitions(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	assert.Equal(t, want[0].Cycle, got[0].Cycle)
	assert.Equal(t, crisis.Stable, got[0].From)
	assert.Equal(t, want[0].To, got[0].To)
	assert.Equal(t, want[0].Indicators, got[0].Indicators)

	events, err := db.RecentEvents(ctx, r.ID, 100)
	require.NoError(t, err)
	assert.Len(t, events, len(sim.Log().Events()))
}

func TestMeta(t *testing.T) {
	db := openMemory(t)
	require.NoError(t, db.SaveMeta("last_run", "abc"))
	require.NoError(t, db.SaveMeta("last_run", "def"))
	v, err := db.GetMeta("last_run")
	require.NoError(t, err)
	assert.Equal(t, "def", v)
}
