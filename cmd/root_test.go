package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rom0219/EDR-ringdown-search/configs"
)

func TestGlobalFlagsRegistered(t *testing.T) {
	for _, g := range globalKeys {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(g.flag), g.flag)
	}
}

func TestGlobalFlagDefaultsMatchConfig(t *testing.T) {
	defaults := configs.GetDefaultConfig()
	flags := rootCmd.PersistentFlags()

	assert.Equal(t, "0", flags.Lookup("tie-tolerance").DefValue)
	assert.Equal(t, defaults.Models.TieTolerance, tieTolerance)
	assert.Equal(t, defaults.Whitening.HighpassFreq, highpassFreq)
	assert.Equal(t, defaults.Whitening.PSDSegmentLength, psdLength)
}

func TestTieToleranceFlagReachesConfig(t *testing.T) {
	flags := rootCmd.PersistentFlags()
	require.NoError(t, flags.Set("tie-tolerance", "0.5"))
	t.Cleanup(func() { flags.Set("tie-tolerance", "0") })

	cfg, err := configs.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Models.TieTolerance)
}

func TestConfigSearchPaths(t *testing.T) {
	paths := configSearchPaths()
	require.NotEmpty(t, paths)
	assert.Equal(t, "./configs", paths[0])
	assert.Equal(t, "/etc/ringdown", paths[len(paths)-1])
}
