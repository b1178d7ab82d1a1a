package chaos

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseProfile(t *testing.T) {
	dropPct, delayMin, delayMax, err := ParseProfile("drop-pct=30,delay=50-250")
	require.NoError(t, err)
	assert.Equal(t, 30, dropPct)
	assert.Equal(t, 50, delayMin)
	assert.Equal(t, 250, delayMax)

	dropPct, delayMin, delayMax, err = ParseProfile("")
	require.NoError(t, err)
	assert.Zero(t, dropPct)
	assert.Zero(t, delayMin)
	assert.Zero(t, delayMax)

	_, _, _, err = ParseProfile("drop-pct=abc")
	assert.Error(t, err)
}

func TestChaos_DisabledNeverInjects(t *testing.T) {
	c := New(&Config{Enabled: false, DropPct: 100, Seed: 1}, zap.NewNop())
	for i := 0; i < 20; i++ {
		assert.False(t, c.MaybeDrop("op"))
	}
}

func TestChaos_NilIsSafe(t *testing.T) {
	var c *Chaos
	assert.False(t, c.Enabled())
	assert.False(t, c.MaybeDrop("op"))
}

func TestChaos_DropPctFull(t *testing.T) {
	c := New(&Config{Enabled: true, DropPct: 100, Seed: 1}, zap.NewNop())
	for i := 0; i < 20; i++ {
		assert.True(t, c.MaybeDrop("op"))
	}
}

func TestChaos_ProfileOverridesConfig(t *testing.T) {
	cfg := &Config{Enabled: true, Profile: "drop-pct=100", Seed: 1}
	c := New(cfg, zap.NewNop())
	assert.Equal(t, 100, cfg.DropPct)
	assert.True(t, c.MaybeDrop("op"))
}
