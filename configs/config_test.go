package configs

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigWithDefaults(t *testing.T) {
	cfg, err := LoadConfigWith(viper.New())
	require.NoError(t, err)

	defaults := GetDefaultConfig()
	assert.Equal(t, defaults.Whitening, cfg.Whitening)
	assert.Equal(t, defaults.Locator, cfg.Locator)
	assert.Equal(t, defaults.Estimator, cfg.Estimator)
	assert.Equal(t, defaults.Models, cfg.Models)
	assert.Equal(t, defaults.Runner, cfg.Runner)
	assert.Equal(t, defaults.Reliability, cfg.Reliability)
	assert.NoError(t, ValidateConfig(cfg))
}

func TestLoadConfigKeepsExplicitValues(t *testing.T) {
	v := viper.New()
	v.Set("runner.max_concurrent", 9)
	v.Set("runner.unit_timeout", "45s")
	v.Set("whitening.normalization", "psd")
	v.Set("models.modes", []string{"22", "33"})

	cfg, err := LoadConfigWith(v)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Runner.MaxConcurrent)
	assert.Equal(t, 45*time.Second, cfg.Runner.UnitTimeout)
	assert.Equal(t, "psd", cfg.Whitening.Normalization)
	assert.Equal(t, []string{"22", "33"}, cfg.Models.Modes)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"psd segment", func(c *Config) { c.Whitening.PSDSegmentLength = 0 }},
		{"overlap", func(c *Config) { c.Whitening.Overlap = 1 }},
		{"normalization", func(c *Config) { c.Whitening.Normalization = "full" }},
		{"fit duration", func(c *Config) { c.Locator.FitDuration = 0 }},
		{"half widths", func(c *Config) { c.Locator.HalfWidths = nil }},
		{"frequency band", func(c *Config) { c.Estimator.FrequencyMax = 50 }},
		{"shift bound", func(c *Config) { c.Estimator.ShiftBound = 1 }},
		{"concurrency", func(c *Config) { c.Runner.MaxConcurrent = 0 }},
		{"unit timeout", func(c *Config) { c.Runner.UnitTimeout = 0 }},
		{"tie tolerance", func(c *Config) { c.Models.TieTolerance = -1 }},
		{"store path", func(c *Config) { c.Store.Enabled = true; c.Store.Path = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, ValidateConfig(cfg))
		})
	}
}

func TestMultiModeModelsConfig(t *testing.T) {
	m := MultiModeModelsConfig()
	assert.Equal(t, "edr_multi", m.EDRVariant)
	assert.True(t, m.FitEDRMulti)
	assert.Len(t, m.Modes, 3)
}
