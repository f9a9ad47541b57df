package grid

import (
	"errors"
	"testing"

	"bitunix-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func staticOrders(orders ...models.Order) OrdersSource {
	return func() ([]models.Order, error) { return orders, nil }
}

func failingOrders(err error) OrdersSource {
	return func() ([]models.Order, error) { return nil, err }
}

func TestSyncPartitionsOrders(t *testing.T) {
	env := newGridEnv(testConfig())
	levels := buildTestLevels(t, env)

	source := staticOrders(
		models.Order{OrderID: "A", Side: models.Buy, Price: 101, Qty: 1},  // matches level 1
		models.Order{OrderID: "B", Side: models.Sell, Price: 108, Qty: 1}, // matches level 8
		models.Order{OrderID: "C", Side: models.Buy, Price: 95, Qty: 1},   // off the ladder
	)
	sync := NewOrderSync(env.cfg, env.exec, source, nil, zap.NewNop().Sugar())

	report, err := sync.Sync(levels, 103, true)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Matched)
	assert.Equal(t, 1, report.Obsolete)
	require.Len(t, report.ObsoleteOrders, 1)
	assert.Equal(t, "C", report.ObsoleteOrders[0].OrderID)

	assert.True(t, levels[1].Active)
	assert.Equal(t, "A", levels[1].OrderID)
	assert.True(t, levels[8].Active)
	assert.Equal(t, "B", levels[8].OrderID)

	// Free levels behind the market are missing: BUY 100, 102 and SELL
	// 105..110 minus the adopted 108. BUY 103/104 sit ahead of 103.
	assert.Equal(t, 7, report.Missing)

	// Dry-run reports without placing.
	assert.True(t, report.DryRun)
	assert.Empty(t, env.book.OpenOrders())
}

func TestSyncMatchTolerance(t *testing.T) {
	env := newGridEnv(testConfig())
	levels := buildTestLevels(t, env)

	source := staticOrders(
		models.Order{OrderID: "near", Side: models.Buy, Price: 101 + 5e-9, Qty: 1},
		models.Order{OrderID: "far", Side: models.Buy, Price: 102.0001, Qty: 1},
	)
	sync := NewOrderSync(env.cfg, env.exec, source, nil, zap.NewNop().Sugar())

	report, err := sync.Sync(levels, 0, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Matched, "only the order within 1e-8 adopts")
	assert.Equal(t, 1, report.Obsolete)
}

func TestSyncPlacesMissingOrders(t *testing.T) {
	env := newGridEnv(testConfig())
	levels := buildTestLevels(t, env)
	sync := NewOrderSync(env.cfg, env.exec, staticOrders(), nil, zap.NewNop().Sugar())

	report, err := sync.Sync(levels, 105, false)
	require.NoError(t, err)
	assert.Zero(t, report.Matched)
	// BUY 100..104 below the price and SELL 106..110 above it; the SELL
	// at 105 would fill on arrival and waits.
	assert.Equal(t, 10, report.Missing)
	assert.Len(t, env.book.OpenOrders(), 10)
}

func TestSyncSkipsOccupiedLevels(t *testing.T) {
	env := newGridEnv(testConfig())
	levels := buildTestLevels(t, env)
	levels[1].Filled = true
	levels[1].PositionOpen = true

	source := staticOrders(models.Order{OrderID: "A", Side: models.Buy, Price: 101, Qty: 1})
	sync := NewOrderSync(env.cfg, env.exec, source, nil, zap.NewNop().Sugar())

	report, err := sync.Sync(levels, 103, true)
	require.NoError(t, err)
	assert.Zero(t, report.Matched, "a level holding a position cannot adopt an order")
	assert.Equal(t, 1, report.Obsolete)
}

func TestSyncSourceFallback(t *testing.T) {
	env := newGridEnv(testConfig())
	levels := buildTestLevels(t, env)

	primaryErr := errors.New("cache cold")
	fallback := staticOrders(models.Order{OrderID: "A", Side: models.Buy, Price: 101, Qty: 1})
	sync := NewOrderSync(env.cfg, env.exec, failingOrders(primaryErr), fallback, zap.NewNop().Sugar())

	report, err := sync.Sync(levels, 103, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Matched)
}

func TestSyncBothSourcesFail(t *testing.T) {
	env := newGridEnv(testConfig())
	levels := buildTestLevels(t, env)

	sync := NewOrderSync(env.cfg, env.exec,
		failingOrders(errors.New("cache cold")),
		failingOrders(errors.New("http 503")),
		zap.NewNop().Sugar())

	_, err := sync.Sync(levels, 103, true)
	require.Error(t, err)
	var serr *models.SyncError
	assert.ErrorAs(t, err, &serr)
}
