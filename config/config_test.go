package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, []string{"asterdex", "hyperliquid"}, cfg.Providers())
	assert.Equal(t, 5*time.Minute, cfg.StaleTop)
	assert.Equal(t, 15*time.Minute, cfg.StaleTier2)
	assert.Equal(t, 60*time.Minute, cfg.StaleTier3)
	assert.Equal(t, 250*time.Millisecond, cfg.BandDelayTop)
	assert.Equal(t, 500*time.Millisecond, cfg.BandDelayTier2)
	assert.Equal(t, time.Second, cfg.BandDelayTier3)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STALE_TOP", "2m")
	t.Setenv("STALE_TIER2", "30m")
	t.Setenv("BAND_DELAY_TOP", "100ms")
	t.Setenv("STALE_TIER3", "not a duration")

	cfg := Load()

	assert.Equal(t, 2*time.Minute, cfg.StaleTop)
	assert.Equal(t, 30*time.Minute, cfg.StaleTier2)
	assert.Equal(t, 100*time.Millisecond, cfg.BandDelayTop)
	assert.Equal(t, 60*time.Minute, cfg.StaleTier3, "bad values fall back to the default")
}

func TestProviders_TrimsAndSkipsEmpty(t *testing.T) {
	cfg := &Config{EnabledProviders: " asterdex , ,hyperliquid,"}
	assert.Equal(t, []string{"asterdex", "hyperliquid"}, cfg.Providers())
}
