package grid

import (
	"fmt"
	"testing"

	"bitunix-grid-bot-go/internal/models"
	"bitunix-grid-bot-go/internal/virtual"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testConfig returns a dry-run config with a 100..110 arithmetic grid
// of 10 levels and a 0.01 tick.
func testConfig() *models.Config {
	return &models.Config{
		Symbol: "BTCUSDT",
		Trading: models.TradingConfig{
			DryRun:         true,
			GridDirection:  models.DirectionBoth,
			ClientIDPrefix: "GRID",
		},
		Grid: models.GridConfig{
			UpperPrice:           110,
			LowerPrice:           100,
			GridLevels:           10,
			GridMode:             models.GridModeArithmetic,
			MinPriceStep:         0.01,
			BaseOrderSize:        1,
			ActiveReorder:        true,
			ReorderDistanceSteps: 2,
			TPMode:               models.TPModeNextGrid,
			SLMode:               models.SLModeNone,
			RebalanceInterval:    300,
		},
		Risk: models.RiskConfig{
			IncludeFees: true,
			FeeSide:     "maker",
			MakerFeePct: 0.0002,
			TakerFeePct: 0.0006,
		},
		Margin: models.MarginConfig{Mode: "ISOLATION", Leverage: 3},
		Hedge: models.HedgeConfig{
			Mode:           models.HedgeModeDirect,
			TriggerOffset:  1,
			PartialLevels:  []float64{0.5, 0.75, 1.0},
			CloseOnReentry: true,
			SizeMode:       "net_position",
			FixedSizeRatio: 0.5,
		},
		Strategy: models.StrategyConfig{EntryOnTouch: true},
	}
}

// fakeGateway records every call; optional errors simulate a failing
// exchange.
type fakeGateway struct {
	placed    []*models.OrderRequest
	modified  []*models.ModifyRequest
	cancelled []string
	flashed   []string
	placeErr  error
	modifyErr error
	nextID    int
}

func (g *fakeGateway) PlaceOrder(req *models.OrderRequest) (*models.Order, error) {
	if g.placeErr != nil {
		return nil, g.placeErr
	}
	g.nextID++
	g.placed = append(g.placed, req)
	return &models.Order{
		OrderID:   fmt.Sprintf("EX-%d", g.nextID),
		ClientID:  req.ClientID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Price:     req.Price,
		Qty:       req.Qty,
		Status:    "open",
		TradeSide: req.TradeSide,
	}, nil
}

func (g *fakeGateway) ModifyOrder(req *models.ModifyRequest) error {
	if g.modifyErr != nil {
		return g.modifyErr
	}
	g.modified = append(g.modified, req)
	return nil
}

func (g *fakeGateway) CancelOrder(symbol, orderID string) error {
	g.cancelled = append(g.cancelled, orderID)
	return nil
}

func (g *fakeGateway) FlashClose(symbol, positionID string) error {
	g.flashed = append(g.flashed, positionID)
	return nil
}

// gridEnv bundles the collaborators most tests need.
type gridEnv struct {
	cfg  *models.Config
	calc *Calculator
	risk *RiskManager
	exec *Executor
	gw   *fakeGateway
	book *virtual.Book
}

func newGridEnv(cfg *models.Config) *gridEnv {
	logger := zap.NewNop().Sugar()
	calc := NewCalculator(&cfg.Grid)
	risk := NewRiskManager(&cfg.Risk, &cfg.Grid, calc)
	gw := &fakeGateway{}
	var book *virtual.Book
	if cfg.Trading.DryRun {
		book = virtual.NewBook(logger)
	}
	exec := NewExecutor(cfg, risk, calc, gw, book, logger)
	return &gridEnv{cfg: cfg, calc: calc, risk: risk, exec: exec, gw: gw, book: book}
}

// buildTestLevels constructs the ladder the way the Manager does:
// direction decides the side, TP/SL are precomputed.
func buildTestLevels(t *testing.T, env *gridEnv) []*models.GridLevel {
	t.Helper()
	prices, err := env.calc.PriceList()
	require.NoError(t, err)

	mid := (env.cfg.Grid.UpperPrice + env.cfg.Grid.LowerPrice) / 2
	levels := make([]*models.GridLevel, 0, len(prices))
	for i, price := range prices {
		side := models.Buy
		switch env.cfg.Trading.GridDirection {
		case models.DirectionShort:
			side = models.Sell
		case models.DirectionBoth:
			if price >= mid {
				side = models.Sell
			}
		}
		tp, err := env.risk.TakeProfit(price, side)
		require.NoError(t, err)
		levels = append(levels, &models.GridLevel{
			Index:      i,
			Price:      price,
			Side:       side,
			TakeProfit: tp,
			StopLoss:   env.risk.StopLoss(price, side),
		})
	}
	return levels
}
