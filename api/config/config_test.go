package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.TaskTimeLimit)
	assert.Equal(t, 50*time.Second, cfg.TaskSoftTimeLimit)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 10, cfg.HistoryLimit)
	assert.Equal(t, float32(0.0), cfg.GenerationTemperature)
	assert.Equal(t, float32(0.3), cfg.SummaryTemperature)
	assert.Equal(t, float32(0.5), cfg.SuggestionTemperature)
	assert.Equal(t, 60, cfg.APIRateLimit)
	assert.Equal(t, 20, cfg.DBPoolSize)
	assert.True(t, cfg.EnableLLMCache)
	assert.False(t, cfg.DisplaySQLInErrors)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TASK_TIME_LIMIT", "120")
	t.Setenv("TASK_SOFT_TIME_LIMIT", "100")
	t.Setenv("HISTORY_LIMIT", "2")
	t.Setenv("DISPLAY_SQL_IN_ERRORS", "true")
	t.Setenv("GENERATION_TEMPERATURE", "0.7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.TaskTimeLimit)
	assert.Equal(t, 100*time.Second, cfg.TaskSoftTimeLimit)
	assert.Equal(t, 2, cfg.HistoryLimit)
	assert.True(t, cfg.DisplaySQLInErrors)
	assert.InDelta(t, 0.7, float64(cfg.GenerationTemperature), 0.001)
}

func TestLoadRejectsInvertedLimits(t *testing.T) {
	t.Setenv("TASK_TIME_LIMIT", "50")
	t.Setenv("TASK_SOFT_TIME_LIMIT", "60")

	_, err := Load()
	assert.Error(t, err)
}
