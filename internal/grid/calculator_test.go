package grid

import (
	"testing"

	"bitunix-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceListArithmetic(t *testing.T) {
	cfg := testConfig()
	calc := NewCalculator(&cfg.Grid)

	prices, err := calc.PriceList()
	require.NoError(t, err)
	require.Len(t, prices, 11)

	assert.InDelta(t, 100, prices[0], 1e-9)
	assert.InDelta(t, 110, prices[10], 1e-9)
	for i := 1; i < len(prices); i++ {
		assert.InDelta(t, 1.0, prices[i]-prices[i-1], 1e-9)
		assert.Greater(t, prices[i], prices[i-1])
	}
}

func TestPriceListGeometric(t *testing.T) {
	cfg := testConfig()
	cfg.Grid.LowerPrice = 100
	cfg.Grid.UpperPrice = 400
	cfg.Grid.GridLevels = 2
	cfg.Grid.GridMode = models.GridModeGeometric
	calc := NewCalculator(&cfg.Grid)

	prices, err := calc.PriceList()
	require.NoError(t, err)
	require.Len(t, prices, 3)
	assert.InDelta(t, 100, prices[0], 1e-6)
	assert.InDelta(t, 200, prices[1], 1e-6)
	assert.InDelta(t, 400, prices[2], 1e-6)
}

func TestPriceListTickAlignment(t *testing.T) {
	cfg := testConfig()
	cfg.Grid.LowerPrice = 100
	cfg.Grid.UpperPrice = 101
	cfg.Grid.GridLevels = 3
	calc := NewCalculator(&cfg.Grid)

	prices, err := calc.PriceList()
	require.NoError(t, err)
	require.Len(t, prices, 4)
	assert.InDelta(t, 100.00, prices[0], 1e-9)
	assert.InDelta(t, 100.33, prices[1], 1e-9)
	assert.InDelta(t, 100.67, prices[2], 1e-9)
	assert.InDelta(t, 101.00, prices[3], 1e-9)
}

func TestPriceListCollision(t *testing.T) {
	cfg := testConfig()
	cfg.Grid.LowerPrice = 100
	cfg.Grid.UpperPrice = 100.4
	cfg.Grid.GridLevels = 4
	cfg.Grid.MinPriceStep = 1 // coarser than the 0.1 step
	calc := NewCalculator(&cfg.Grid)

	_, err := calc.PriceList()
	require.Error(t, err)
	var cerr *models.ConfigError
	assert.ErrorAs(t, err, &cerr)
}

func TestRoundToTickBankers(t *testing.T) {
	cfg := testConfig()
	cfg.Grid.MinPriceStep = 0.5
	calc := NewCalculator(&cfg.Grid)

	// Half-tick remainders round to the even tick count.
	assert.InDelta(t, 100.0, calc.RoundToTick(100.25), 1e-9) // 200.5 -> 200
	assert.InDelta(t, 101.0, calc.RoundToTick(100.75), 1e-9) // 201.5 -> 202
	assert.InDelta(t, 100.5, calc.RoundToTick(100.6), 1e-9)
}

func TestPriceListCacheFollowsConfig(t *testing.T) {
	cfg := testConfig()
	calc := NewCalculator(&cfg.Grid)

	first, err := calc.PriceList()
	require.NoError(t, err)
	again, err := calc.PriceList()
	require.NoError(t, err)
	assert.Equal(t, first, again)

	// A parameter change hashes to a new key and recomputes.
	cfg.Grid.UpperPrice = 120
	updated, err := calc.PriceList()
	require.NoError(t, err)
	assert.InDelta(t, 120, updated[len(updated)-1], 1e-9)

	calc.Invalidate()
	recomputed, err := calc.PriceList()
	require.NoError(t, err)
	assert.Equal(t, updated, recomputed)
}

func TestDerivedLadderMetrics(t *testing.T) {
	cfg := testConfig()
	calc := NewCalculator(&cfg.Grid)

	count, err := calc.LevelCount()
	require.NoError(t, err)
	assert.Equal(t, 11, count)

	span, err := calc.Span()
	require.NoError(t, err)
	assert.InDelta(t, 10, span, 1e-9)

	step, err := calc.AverageStep()
	require.NoError(t, err)
	assert.InDelta(t, 1, step, 1e-9)
}
