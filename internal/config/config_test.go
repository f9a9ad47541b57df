package config

import (
	"os"
	"path/filepath"
	"testing"

	"bitunix-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns the defaults with the required fields filled in.
func validConfig() *models.Config {
	cfg := defaultConfig()
	cfg.Symbol = "BTCUSDT"
	cfg.Grid.LowerPrice = 100
	cfg.Grid.UpperPrice = 110
	cfg.Grid.GridLevels = 10
	cfg.Grid.MinPriceStep = 0.01
	cfg.Grid.BaseOrderSize = 1
	return cfg
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	require.NoError(t, Validate(validConfig()))
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.Config)
		field  string
	}{
		{"missing symbol", func(c *models.Config) { c.Symbol = "" }, "symbol"},
		{"zero lower price", func(c *models.Config) { c.Grid.LowerPrice = 0 }, "grid.lower_price"},
		{"inverted bounds", func(c *models.Config) { c.Grid.UpperPrice = 90 }, "grid.upper_price"},
		{"too few levels", func(c *models.Config) { c.Grid.GridLevels = 1 }, "grid.grid_levels"},
		{"too many levels", func(c *models.Config) { c.Grid.GridLevels = 101 }, "grid.grid_levels"},
		{"unknown grid mode", func(c *models.Config) { c.Grid.GridMode = "fib" }, "grid.grid_mode"},
		{"zero tick", func(c *models.Config) { c.Grid.MinPriceStep = 0 }, "grid.min_price_step"},
		{"range below ten ticks", func(c *models.Config) { c.Grid.MinPriceStep = 2 }, "grid"},
		{"zero order size", func(c *models.Config) { c.Grid.BaseOrderSize = 0 }, "grid.base_order_size"},
		{"take profit too large", func(c *models.Config) { c.Grid.TakeProfitPct = 0.2 }, "grid.take_profit_pct"},
		{"stop loss too large", func(c *models.Config) { c.Grid.StopLossPct = 0.6 }, "grid.stop_loss_pct"},
		{"rebalance too fast", func(c *models.Config) { c.Grid.RebalanceInterval = 10 }, "grid.rebalance_interval"},
		{"fixed sl without price", func(c *models.Config) {
			c.Grid.SLMode = models.SLModeFixed
		}, "grid.stop_loss_price"},
		{"fixed sl inside long grid", func(c *models.Config) {
			c.Grid.SLMode = models.SLModeFixed
			c.Grid.StopLossPrice = 105
			c.Trading.GridDirection = models.DirectionLong
		}, "grid.stop_loss_price"},
		{"fixed sl inside short grid", func(c *models.Config) {
			c.Grid.SLMode = models.SLModeFixed
			c.Grid.StopLossPrice = 105
			c.Trading.GridDirection = models.DirectionShort
		}, "grid.stop_loss_price"},
		{"unknown direction", func(c *models.Config) { c.Trading.GridDirection = "sideways" }, "trading.grid_direction"},
		{"empty client prefix", func(c *models.Config) { c.Trading.ClientIDPrefix = "" }, "trading.client_id_prefix"},
		{"bad fee side", func(c *models.Config) { c.Risk.FeeSide = "giver" }, "risk.fee_side"},
		{"fee out of range", func(c *models.Config) { c.Risk.TakerFeePct = 0.2 }, "risk"},
		{"bad margin mode", func(c *models.Config) { c.Margin.Mode = "HALF" }, "margin.mode"},
		{"leverage too high", func(c *models.Config) { c.Margin.Leverage = 200 }, "margin.leverage"},
		{"hedge offset too small", func(c *models.Config) { c.Hedge.TriggerOffset = 0.01 }, "hedge.trigger_offset"},
		{"unknown hedge mode", func(c *models.Config) { c.Hedge.Mode = "martingale" }, "hedge.mode"},
		{"dynamic without partials", func(c *models.Config) {
			c.Hedge.Mode = models.HedgeModeDynamic
			c.Hedge.PartialLevels = nil
		}, "hedge.partial_levels"},
		{"partial out of range", func(c *models.Config) { c.Hedge.PartialLevels = []float64{0.5, 1.5} }, "hedge.partial_levels"},
		{"partials unsorted", func(c *models.Config) { c.Hedge.PartialLevels = []float64{0.75, 0.5, 1.0} }, "hedge.partial_levels"},
		{"bad hedge size mode", func(c *models.Config) { c.Hedge.SizeMode = "random" }, "hedge.size_mode"},
		{"fixed ratio out of range", func(c *models.Config) {
			c.Hedge.SizeMode = "fixed"
			c.Hedge.FixedSizeRatio = 3
		}, "hedge.fixed_size_ratio"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			var cerr *models.ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tc.field, cerr.Field)
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
		"symbol": "BTCUSDT",
		"grid": {
			"upper_price": 110,
			"lower_price": 100,
			"grid_levels": 10,
			"min_price_step": 0.01,
			"base_order_size": 1,
			"active_reorder": true,
			"reorder_distance_steps": 2,
			"tp_mode": "percent",
			"take_profit_pct": 0.003,
			"sl_mode": "percent",
			"stop_loss_pct": 0.01,
			"rebalance_interval": 300
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", cfg.Symbol)
	assert.InDelta(t, 110, cfg.Grid.UpperPrice, 1e-9)

	// Fields absent from the file keep their defaults.
	assert.True(t, cfg.Trading.DryRun)
	assert.Equal(t, "GRID", cfg.Trading.ClientIDPrefix)
	assert.Equal(t, 5, cfg.System.UpdateInterval)
	assert.Equal(t, "maker", cfg.Risk.FeeSide)
	assert.Equal(t, 3, cfg.Margin.Leverage)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"symbol": "BTCUSDT"}`), 0644))

	_, err := Load(path)
	require.Error(t, err, "grid section is required")

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}
