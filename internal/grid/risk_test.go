package grid

import (
	"testing"

	"bitunix-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveSize(t *testing.T) {
	cfg := testConfig()
	cfg.Grid.BaseOrderSize = 100
	env := newGridEnv(cfg)

	// Round trip at 0.02% per side carves out 0.04%.
	assert.InDelta(t, 99.96, env.risk.EffectiveSize(), 1e-9)

	cfg.Risk.IncludeFees = false
	assert.InDelta(t, 100, env.risk.EffectiveSize(), 1e-9)

	cfg.Risk.IncludeFees = true
	cfg.Risk.FeeSide = "taker"
	assert.InDelta(t, 100*(1-2*0.0006), env.risk.EffectiveSize(), 1e-9)

	// Absurd fees must clamp to zero, never go negative.
	cfg.Risk.TakerFeePct = 0.6
	assert.Zero(t, env.risk.EffectiveSize())
}

func TestTakeProfitNextGrid(t *testing.T) {
	env := newGridEnv(testConfig())

	tp, err := env.risk.TakeProfit(103, models.Buy)
	require.NoError(t, err)
	assert.InDelta(t, 104, tp, 1e-9)

	tp, err = env.risk.TakeProfit(103, models.Sell)
	require.NoError(t, err)
	assert.InDelta(t, 102, tp, 1e-9)

	// Entries between ladder prices snap to the nearest level first.
	tp, err = env.risk.TakeProfit(103.4, models.Buy)
	require.NoError(t, err)
	assert.InDelta(t, 104, tp, 1e-9)

	// At the ladder edge the target extrapolates by one average step.
	tp, err = env.risk.TakeProfit(110, models.Buy)
	require.NoError(t, err)
	assert.InDelta(t, 111, tp, 1e-9)

	tp, err = env.risk.TakeProfit(100, models.Sell)
	require.NoError(t, err)
	assert.InDelta(t, 99, tp, 1e-9)
}

func TestTakeProfitPercent(t *testing.T) {
	cfg := testConfig()
	cfg.Grid.TPMode = models.TPModePercent
	cfg.Grid.TakeProfitPct = 0.003
	env := newGridEnv(cfg)

	tp, err := env.risk.TakeProfit(100, models.Buy)
	require.NoError(t, err)
	assert.InDelta(t, 100.3, tp, 1e-9)

	tp, err = env.risk.TakeProfit(100, models.Sell)
	require.NoError(t, err)
	assert.InDelta(t, 99.7, tp, 1e-9)
}

func TestTakeProfitUnknownMode(t *testing.T) {
	cfg := testConfig()
	cfg.Grid.TPMode = "bogus"
	env := newGridEnv(cfg)

	_, err := env.risk.TakeProfit(100, models.Buy)
	var cerr *models.ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestStopLossModes(t *testing.T) {
	cfg := testConfig()
	env := newGridEnv(cfg)

	assert.Zero(t, env.risk.StopLoss(100, models.Buy), "none mode has no stop")

	cfg.Grid.SLMode = models.SLModePercent
	cfg.Grid.StopLossPct = 0.01
	assert.InDelta(t, 99, env.risk.StopLoss(100, models.Buy), 1e-9)
	assert.InDelta(t, 101, env.risk.StopLoss(100, models.Sell), 1e-9)

	cfg.Grid.SLMode = models.SLModeFixed
	cfg.Grid.StopLossPrice = 95
	assert.InDelta(t, 95, env.risk.StopLoss(100, models.Buy), 1e-9)
	assert.InDelta(t, 95, env.risk.StopLoss(108, models.Sell), 1e-9)
}

func TestValidateTPSL(t *testing.T) {
	env := newGridEnv(testConfig())
	r := env.risk

	require.NoError(t, r.ValidateTPSL(100, 101, 99, models.Buy))
	require.NoError(t, r.ValidateTPSL(100, 99, 101, models.Sell))

	// Zero bounds are absent, not invalid.
	require.NoError(t, r.ValidateTPSL(100, 0, 0, models.Buy))
	require.NoError(t, r.ValidateTPSL(100, 101, 0, models.Buy))

	assert.Error(t, r.ValidateTPSL(100, 100, 0, models.Buy), "BUY TP at entry")
	assert.Error(t, r.ValidateTPSL(100, 99, 0, models.Buy), "BUY TP below entry")
	assert.Error(t, r.ValidateTPSL(100, 0, 100, models.Buy), "BUY SL at entry")
	assert.Error(t, r.ValidateTPSL(100, 0, 101, models.Buy), "BUY SL above entry")

	assert.Error(t, r.ValidateTPSL(100, 101, 0, models.Sell), "SELL TP above entry")
	assert.Error(t, r.ValidateTPSL(100, 0, 99, models.Sell), "SELL SL below entry")

	assert.Error(t, r.ValidateTPSL(0, 101, 99, models.Buy), "entry must be positive")
}
