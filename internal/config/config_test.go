package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	n, err := envInt("TEST_INT", 0)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	n, err = envInt("TEST_INT_MISSING", 99)
	require.NoError(t, err)
	assert.Equal(t, 99, n)

	t.Setenv("TEST_BOOL", "true")
	b, err := envBool("TEST_BOOL", false)
	require.NoError(t, err)
	assert.True(t, b)

	t.Setenv("TEST_DUR", "5s")
	d, err := envDuration("TEST_DUR", 0)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)
}

func TestEnvHelpersRejectMalformed(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	assert.EqualError(t, err, `TEST_INT_BAD="abc" is not a valid integer`)

	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err = envBool("TEST_BOOL_BAD", false)
	assert.EqualError(t, err, `TEST_BOOL_BAD="maybe" is not a valid boolean`)

	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err = envDuration("TEST_DUR_BAD", 0)
	assert.EqualError(t, err, `TEST_DUR_BAD="five-seconds" is not a valid duration`)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.CycleBudget)
	assert.Equal(t, "data/econsim.db", cfg.DBPath)
	assert.Equal(t, "econsim", cfg.ServiceName)
	assert.Empty(t, cfg.ScenarioPath)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ECONSIM_SCENARIO", "scenarios/shock.yaml")
	t.Setenv("ECONSIM_SEED", "7")
	t.Setenv("ECONSIM_CYCLES", "30")
	t.Setenv("ECONSIM_PORT", "0")
	t.Setenv("ECONSIM_CYCLE_BUDGET", "250ms")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "scenarios/shock.yaml", cfg.ScenarioPath)
	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, 30, cfg.Cycles)
	assert.Zero(t, cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.CycleBudget)
}

func TestLoadReportsEveryMalformedVariable(t *testing.T) {
	t.Setenv("ECONSIM_PORT", "abc")
	t.Setenv("ECONSIM_CYCLE_BUDGET", "xyz")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ECONSIM_PORT")
	assert.Contains(t, err.Error(), "abc")
	assert.Contains(t, err.Error(), "ECONSIM_CYCLE_BUDGET")
}

func TestValidate(t *testing.T) {
	t.Setenv("ECONSIM_PORT", "70000")
	_, err := Load()
	assert.ErrorContains(t, err, "out of range")

	t.Setenv("ECONSIM_PORT", "8080")
	t.Setenv("ECONSIM_LOG_LEVEL", "chatty")
	_, err = Load()
	assert.ErrorContains(t, err, "not a log level")
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)
	l, err = ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)
}
