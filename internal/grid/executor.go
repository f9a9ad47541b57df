package grid

import (
	"bitunix-grid-bot-go/internal/models"
	"bitunix-grid-bot-go/internal/virtual"
	"fmt"
	"time"

	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

// priceTolerance bounds float comparisons between our ladder prices
// and prices reported by the exchange.
const priceTolerance = 1e-8

// OrderGateway is the slice of the exchange the engine trades through.
type OrderGateway interface {
	PlaceOrder(req *models.OrderRequest) (*models.Order, error)
	ModifyOrder(req *models.ModifyRequest) error
	CancelOrder(symbol, orderID string) error
	FlashClose(symbol, positionID string) error
}

// Executor places grid entry orders, in the live book or the virtual
// one. It is not safe for concurrent use; the Manager serializes all
// calls behind its own lock.
type Executor struct {
	cfg     *models.Config
	risk    *RiskManager
	calc    *Calculator
	gateway OrderGateway
	book    *virtual.Book
	logger  *zap.SugaredLogger

	initialPlaced bool
	placed        int
	skipped       int
}

// NewExecutor creates an executor. book may be nil when dry-run is off.
func NewExecutor(cfg *models.Config, risk *RiskManager, calc *Calculator, gateway OrderGateway, book *virtual.Book, logger *zap.SugaredLogger) *Executor {
	return &Executor{cfg: cfg, risk: risk, calc: calc, gateway: gateway, book: book, logger: logger}
}

// clientID builds a traceable client order id: PREFIX_level_base62nanos.
func (e *Executor) clientID(levelIndex int) string {
	return fmt.Sprintf("%s_%d_%s", e.cfg.Trading.ClientIDPrefix, levelIndex, base62.FormatInt(time.Now().UnixNano()))
}

// PlaceInitialOrders places the opening batch once the first price is
// known. Levels on the wrong side of the market or excluded by the
// grid direction are skipped; a single placement failure is logged and
// does not abort the batch. The batch runs at most once.
func (e *Executor) PlaceInitialOrders(levels []*models.GridLevel, price float64) (placed, skipped int) {
	if e.initialPlaced {
		return 0, 0
	}
	e.initialPlaced = true

	for _, lvl := range levels {
		if !e.directionAllows(lvl.Side) {
			skipped++
			continue
		}
		// A BUY above the market or a SELL below it would fill on
		// arrival; those levels wait for the price to come to them.
		if (lvl.Side == models.Buy && lvl.Price >= price) ||
			(lvl.Side == models.Sell && lvl.Price <= price) {
			skipped++
			continue
		}
		if err := e.PlaceEntryOrder(lvl); err != nil {
			e.logger.Warnf("initial placement for level %d failed: %v", lvl.Index, err)
			skipped++
			continue
		}
		placed++
	}

	e.placed += placed
	e.skipped += skipped
	e.logger.Infof("initial grid batch done: %d placed, %d skipped (price %.8f)", placed, skipped, price)
	return placed, skipped
}

// CheckTouchEntries re-arms free levels once the price has moved at
// least reorder_distance_steps average steps past them, so a fresh
// limit order neither fills instantly nor rests ahead of the market.
func (e *Executor) CheckTouchEntries(levels []*models.GridLevel, price float64) int {
	step, err := e.calc.AverageStep()
	if err != nil {
		e.logger.Warnf("touch entry check skipped: %v", err)
		return 0
	}
	minDistance := step * float64(e.cfg.Grid.ReorderDistanceSteps)

	placed := 0
	for _, lvl := range levels {
		if !lvl.IsFree() || !e.directionAllows(lvl.Side) {
			continue
		}
		behindMarket := (lvl.Side == models.Buy && lvl.Price <= price-minDistance) ||
			(lvl.Side == models.Sell && lvl.Price >= price+minDistance)
		if !behindMarket {
			continue
		}
		if err := e.PlaceEntryOrder(lvl); err != nil {
			e.logger.Warnf("touch entry for level %d failed: %v", lvl.Index, err)
			continue
		}
		placed++
	}
	if placed > 0 {
		e.placed += placed
		e.logger.Infof("re-armed %d free levels around price %.8f", placed, price)
	}
	return placed
}

// PlaceEntryOrder places the entry limit order for one level and marks
// it active. Dry-run orders go to the virtual book.
func (e *Executor) PlaceEntryOrder(lvl *models.GridLevel) error {
	size := e.risk.EffectiveSize()
	if err := e.validateParams(lvl.Price, size); err != nil {
		return &models.PlacementError{Side: lvl.Side, Price: lvl.Price, Cause: err}
	}
	if err := e.risk.ValidateTPSL(lvl.Price, lvl.TakeProfit, lvl.StopLoss, lvl.Side); err != nil {
		return &models.PlacementError{Side: lvl.Side, Price: lvl.Price, Cause: err}
	}

	req := &models.OrderRequest{
		Symbol:     e.cfg.Symbol,
		Side:       lvl.Side,
		Type:       "LIMIT",
		Price:      lvl.Price,
		Qty:        size,
		ClientID:   e.clientID(lvl.Index),
		TradeSide:  models.TradeOpen,
		TakeProfit: lvl.TakeProfit,
		StopLoss:   lvl.StopLoss,
	}

	var (
		order *models.Order
		err   error
	)
	if e.cfg.Trading.DryRun {
		order, err = e.book.PlaceOrder(req)
	} else {
		order, err = e.gateway.PlaceOrder(req)
	}
	if err != nil {
		return &models.PlacementError{Side: lvl.Side, Price: lvl.Price, Cause: err}
	}

	lvl.OrderID = order.OrderID
	lvl.Active = true
	e.logger.Debugf("entry order %s: level %d %s @ %.8f x %.8f", order.OrderID, lvl.Index, lvl.Side, lvl.Price, size)
	return nil
}

// validateParams rejects orders outside the grid band or without size.
func (e *Executor) validateParams(price, size float64) error {
	if size <= 0 {
		return fmt.Errorf("effective order size is %v", size)
	}
	if price <= 0 {
		return fmt.Errorf("price must be positive, got %v", price)
	}
	if price < e.cfg.Grid.LowerPrice-priceTolerance || price > e.cfg.Grid.UpperPrice+priceTolerance {
		return fmt.Errorf("price %.8f outside grid band [%.8f, %.8f]", price, e.cfg.Grid.LowerPrice, e.cfg.Grid.UpperPrice)
	}
	return nil
}

func (e *Executor) directionAllows(side models.Side) bool {
	switch e.cfg.Trading.GridDirection {
	case models.DirectionLong:
		return side == models.Buy
	case models.DirectionShort:
		return side == models.Sell
	default:
		return true
	}
}

// PlacementSummary reports lifetime placement counters.
func (e *Executor) PlacementSummary() (placed, skipped int, initialDone bool) {
	return e.placed, e.skipped, e.initialPlaced
}
