package grid

import (
	"errors"
	"testing"
	"time"

	"bitunix-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T, cfg *models.Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg, &fakeGateway{}, staticOrders(), zap.NewNop().Sugar())
	require.NoError(t, err)
	return m
}

func TestNewManagerActivates(t *testing.T) {
	m := newTestManager(t, testConfig())
	assert.Equal(t, StateActive, m.Lifecycle().State())
	assert.Len(t, m.Levels(), 11)
	require.NotNil(t, m.Book(), "dry-run builds a virtual book")

	// Both-direction grid splits at the midpoint.
	for _, lvl := range m.Levels() {
		if lvl.Price < 105 {
			assert.Equal(t, models.Buy, lvl.Side)
		} else {
			assert.Equal(t, models.Sell, lvl.Side)
		}
		assert.NotZero(t, lvl.TakeProfit)
	}
}

func TestNewManagerRejectsBadLadder(t *testing.T) {
	cfg := testConfig()
	cfg.Grid.LowerPrice = 100
	cfg.Grid.UpperPrice = 100.4
	cfg.Grid.GridLevels = 4
	cfg.Grid.MinPriceStep = 1

	_, err := NewManager(cfg, &fakeGateway{}, staticOrders(), zap.NewNop().Sugar())
	require.Error(t, err)
	var ierr *models.InitError
	assert.ErrorAs(t, err, &ierr)
}

func TestNewManagerValidatesConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.Config)
	}{
		{"zero tick", func(c *models.Config) { c.Grid.MinPriceStep = 0 }},
		{"single level", func(c *models.Config) { c.Grid.GridLevels = 1 }},
		{"inverted bounds", func(c *models.Config) { c.Grid.UpperPrice = 90 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(cfg)

			m, err := NewManager(cfg, &fakeGateway{}, staticOrders(), zap.NewNop().Sugar())
			require.Nil(t, m)
			var ierr *models.InitError
			require.ErrorAs(t, err, &ierr)
			var cerr *models.ConfigError
			assert.ErrorAs(t, err, &cerr, "the root cause names the bad field")
		})
	}
}

func TestManagerDryRunTradeCycle(t *testing.T) {
	m := newTestManager(t, testConfig())

	// First tick arms the grid.
	m.Update(105)
	assert.Len(t, m.Book().OpenOrders(), 10)
	assert.InDelta(t, 105, m.CurrentPrice(), 1e-9)

	// Price dips onto the BUY at 104.
	m.Update(104)
	levels := m.Levels()
	assert.True(t, levels[4].Filled)
	assert.True(t, levels[4].PositionOpen)
	// The fill converts pending exposure to held exposure; with 5 BUY
	// and 5 SELL slots engaged the net stays flat.
	assert.InDelta(t, 0, m.NetPosition(), 1e-9)

	// Price recovers through the 105 take profit; the position closes
	// at a gain and the freed level re-arms.
	m.Update(105.2)
	stats := m.Book().Stats()
	assert.Equal(t, 1, stats.Trades)
	assert.Equal(t, 1, stats.Wins)
	assert.Greater(t, stats.TotalPnl, 0.0)

	levels = m.Levels()
	assert.False(t, levels[4].Filled)
	assert.True(t, levels[4].Active, "active reorder replaced the entry")
}

func TestManagerIgnoresTicksOutsideActive(t *testing.T) {
	m := newTestManager(t, testConfig())
	require.NoError(t, m.Pause())

	m.Update(105)
	assert.Empty(t, m.Book().OpenOrders())
	assert.Zero(t, m.CurrentPrice())

	require.NoError(t, m.Resume())
	m.Update(105)
	assert.NotEmpty(t, m.Book().OpenOrders())
}

func TestManagerErrorAndRecovery(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Update(105)

	m.HandleError(errors.New("stream gone"))
	assert.Equal(t, StateError, m.Lifecycle().State())

	// Ticks are dropped while tripped.
	m.Update(106)
	assert.InDelta(t, 105, m.CurrentPrice(), 1e-9)

	// Recovery is gated by the retry window.
	require.Error(t, m.Recover())
	m.lifecycle.errorTime = time.Now().Add(-errorRetryInterval - time.Second)
	require.NoError(t, m.Recover())
	assert.Equal(t, StateActive, m.Lifecycle().State())
}

func TestManagerStop(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Update(105)
	require.NotEmpty(t, m.Book().OpenOrders())

	m.Stop()
	assert.Equal(t, StateClosed, m.Lifecycle().State())
	assert.Empty(t, m.Book().OpenOrders(), "resting orders cancelled on stop")
	for _, lvl := range m.Levels() {
		assert.False(t, lvl.Active)
	}

	// Terminal state swallows everything that follows.
	m.Update(106)
	require.Error(t, m.Resume())
	m.Stop()
}

func TestManagerMutationHook(t *testing.T) {
	m := newTestManager(t, testConfig())
	var snapshots []*models.BotState
	m.SetMutationHook(func(s *models.BotState) { snapshots = append(snapshots, s) })

	m.Update(105)
	m.Update(104) // fill mutates state
	require.NotEmpty(t, snapshots)

	last := snapshots[len(snapshots)-1]
	assert.Equal(t, "BTCUSDT", last.Symbol)
	assert.Equal(t, string(StateActive), last.Lifecycle)
	assert.Len(t, last.Levels, 11)
	assert.Equal(t, 1, last.Stats.Fills)
}

func TestManagerSyncAgainstOwnBook(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Update(105)

	m.SetOrdersSource(func() ([]models.Order, error) { return m.Book().OpenOrders(), nil })
	report, err := m.SyncOrders(true)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 10, report.Matched)
	assert.Zero(t, report.Obsolete)
	assert.Zero(t, report.Missing)
}

func TestManagerSnapshotMergesVirtualStats(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Update(105)
	m.Update(104)
	m.Update(105.2)

	state := m.Snapshot()
	assert.Equal(t, 1, state.Stats.Trades)
	assert.Equal(t, 1, state.Stats.Wins)
	assert.Greater(t, state.Stats.TotalPnl, 0.0)
	assert.Equal(t, 1, state.Stats.Fills)
	assert.Equal(t, 1, state.Stats.Closes)
}
