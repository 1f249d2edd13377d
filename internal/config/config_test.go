package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
monitor:
  symbols: ["BTCUSDT"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9981", cfg.App.HTTPAddr)
	assert.Equal(t, 10, cfg.Exchange.TimeoutSeconds)
	assert.Equal(t, "data/sentinel.db", cfg.Database.Path)
	assert.Equal(t, "data/audit.db", cfg.Database.AuditPath)
	assert.Equal(t, 300, cfg.Monitor.IntervalSeconds)
	assert.Equal(t, "15m", cfg.Monitor.KlineInterval)
	assert.Equal(t, 200, cfg.Monitor.LookbackCandles)
	assert.Equal(t, 5.0, cfg.Risk.LiqThresholdIsolated)
	assert.Equal(t, 8.0, cfg.Risk.LiqThresholdCross)
	assert.Equal(t, 0.75, cfg.Executor.MinConfidence)
	assert.Equal(t, 900, cfg.Executor.CooldownSeconds)
	assert.Equal(t, 64, cfg.Queue.Capacity)
	assert.Equal(t, 5, cfg.Learner.MinConfluence)
	assert.Equal(t, -0.2, cfg.Adaptive.AvgRewardFloor)
}

func TestLoadFilesValuesOverrideDefaults(t *testing.T) {
	path := writeConfig(t, `
monitor:
  symbols: ["BTCUSDT", "ETHUSDT"]
  interval_seconds: 60
  kline_interval: "5m"
risk:
  liq_threshold_isolated: 4
  liq_threshold_cross: 9
executor:
  min_confidence: 0.9
  reduce_fraction: 0.25
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Monitor.Symbols)
	assert.Equal(t, 60, cfg.Monitor.IntervalSeconds)
	assert.Equal(t, "5m", cfg.Monitor.KlineInterval)
	assert.Equal(t, 4.0, cfg.Risk.LiqThresholdIsolated)
	assert.Equal(t, 9.0, cfg.Risk.LiqThresholdCross)
	assert.Equal(t, 0.9, cfg.Executor.MinConfidence)
	assert.Equal(t, 0.25, cfg.Executor.ReduceFraction)
}

func TestLoadRejectsEmptyPath(t *testing.T) {
	_, err := Load("  ")
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsMissingSymbols(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: debug
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitor.symbols")
}

func TestLoadRejectsConfidenceOutOfRange(t *testing.T) {
	path := writeConfig(t, `
monitor:
  symbols: ["BTCUSDT"]
executor:
  min_confidence: 1.5
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executor.min_confidence")
}

func TestLoadRejectsInvertedLiqThresholds(t *testing.T) {
	path := writeConfig(t, `
monitor:
  symbols: ["BTCUSDT"]
risk:
  liq_threshold_isolated: 9
  liq_threshold_cross: 5
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "liq_threshold_cross")
}

func TestLoadRejectsNonYAMLProfilePath(t *testing.T) {
	path := writeConfig(t, `
monitor:
  symbols: ["BTCUSDT"]
profile:
  path: configs/profiles.json
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile.path")
}
