package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 40.0, cfg.Attention.Threshold)
	assert.Equal(t, 100, cfg.Attention.Capacity)
	assert.Equal(t, 24*time.Hour, cfg.Attention.WindowTTL)
	assert.Equal(t, 70.0, cfg.Tier.HotThreshold)
	assert.Equal(t, 84, cfg.Pattern.WindowDays)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Attention.Threshold, cfg.Attention.Threshold)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memorable.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
attention:
  threshold: 55
tier:
  hot_threshold: 80
gate:
  trajectory_opt_in: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 55.0, cfg.Attention.Threshold)
	assert.Equal(t, 80.0, cfg.Tier.HotThreshold)
	assert.True(t, cfg.Gate.TrajectoryOptIn)
	// Untouched sections keep their defaults.
	assert.Equal(t, 0.30, cfg.Salience.EmotionalWeight)
}

func TestLoadRejectsBadWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memorable.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
salience:
  emotional_weight: 0.9
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "weights must sum to 1.0")
}

func TestProviderSwapsSnapshots(t *testing.T) {
	p := NewProvider(Default())
	first := p.Current()

	next := Default()
	next.Attention.Threshold = 60
	p.current.Store(next)

	assert.Equal(t, 40.0, first.Attention.Threshold, "old snapshot is immutable")
	assert.Equal(t, 60.0, p.Current().Attention.Threshold)
}
