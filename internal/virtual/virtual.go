// Package virtual implements the dry-run order book. Orders placed in
// dry-run mode land here instead of at the exchange and are filled
// against the live price feed, so a simulated session exercises the
// exact same engine paths as a live one.
package virtual

import (
	"bitunix-grid-bot-go/internal/models"
	"fmt"
	"sync"
	"time"

	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

// Order statuses inside the book.
const (
	StatusOpen      = "OPEN"
	StatusFilled    = "FILLED"
	StatusCancelled = "CANCELLED"
)

// Position is a simulated open position. EntryPrice is the nominal
// grid price the order was placed at; FillPrice is the price the fill
// actually happened at and is the basis for PnL.
type Position struct {
	ID         string
	OrderID    string
	Symbol     string
	Side       models.Side
	Qty        float64
	EntryPrice float64
	FillPrice  float64
	TakeProfit float64
	StopLoss   float64
	OpenedAt   time.Time
}

// ClosedPosition is a position that hit its TP or SL.
type ClosedPosition struct {
	Position
	ExitPrice float64
	Pnl       float64
	Reason    string // "TP" or "SL"
}

// Stats accumulates realized results incrementally as positions close.
type Stats struct {
	Trades   int
	Wins     int
	Losses   int
	TotalPnl float64
	BestPnl  float64
	WorstPnl float64
}

// WinRate returns wins/trades in percent, 0 for an empty session.
func (s Stats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades) * 100
}

// AvgPnl returns the mean realized PnL per closed trade.
func (s Stats) AvgPnl() float64 {
	if s.Trades == 0 {
		return 0
	}
	return s.TotalPnl / float64(s.Trades)
}

// Book holds simulated orders and positions for one symbol.
type Book struct {
	mu        sync.Mutex
	orders    map[string]*models.Order
	tpsl      map[string][2]float64 // orderID -> {tp, sl} carried onto the position
	positions map[string]*Position
	stats     Stats
	logger    *zap.SugaredLogger
}

// NewBook creates an empty virtual book.
func NewBook(logger *zap.SugaredLogger) *Book {
	return &Book{
		orders:    make(map[string]*models.Order),
		tpsl:      make(map[string][2]float64),
		positions: make(map[string]*Position),
		logger:    logger,
	}
}

func newID(prefix string) string {
	return prefix + string(base62.FormatInt(time.Now().UnixNano()))
}

// PlaceOrder accepts a simulated order. MARKET orders are not filled
// here; the next CheckFills tick fills them at the current price.
func (b *Book) PlaceOrder(req *models.OrderRequest) (*models.Order, error) {
	if req.Qty <= 0 {
		return nil, fmt.Errorf("virtual order qty must be positive, got %v", req.Qty)
	}
	if req.Type == "LIMIT" && req.Price <= 0 {
		return nil, fmt.Errorf("virtual limit order needs a positive price, got %v", req.Price)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	order := &models.Order{
		OrderID:   newID("V"),
		ClientID:  req.ClientID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Price:     req.Price,
		Qty:       req.Qty,
		Status:    StatusOpen,
		TradeSide: req.TradeSide,
		CreatedAt: time.Now().UnixMilli(),
	}
	b.orders[order.OrderID] = order
	b.tpsl[order.OrderID] = [2]float64{req.TakeProfit, req.StopLoss}
	b.logger.Debugf("virtual order placed: %s %s %s %.8f @ %.8f", order.OrderID, order.Side, order.Type, order.Qty, order.Price)
	return order, nil
}

// CancelOrder removes an open order. Returns false when the order is
// unknown or already filled.
func (b *Book) CancelOrder(orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok || order.Status != StatusOpen {
		return false
	}
	order.Status = StatusCancelled
	delete(b.orders, orderID)
	delete(b.tpsl, orderID)
	return true
}

// CheckFills fills every order the current price crosses and returns
// the filled orders. MARKET orders fill immediately; LIMIT BUY fills
// at price <= order price, LIMIT SELL at price >= order price. Each
// opening fill creates a position carrying the order's TP/SL.
func (b *Book) CheckFills(price float64) []models.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	var filled []models.Order
	for id, order := range b.orders {
		crosses := order.Type == "MARKET" ||
			(order.Side == models.Buy && price <= order.Price) ||
			(order.Side == models.Sell && price >= order.Price)
		if !crosses {
			continue
		}

		order.Status = StatusFilled
		delete(b.orders, id)

		entry := order.Price
		if order.Type == "MARKET" {
			entry = price
		}
		bounds := b.tpsl[id]
		delete(b.tpsl, id)

		if order.TradeSide != models.TradeClose {
			pos := &Position{
				ID:         newID("P"),
				OrderID:    order.OrderID,
				Symbol:     order.Symbol,
				Side:       order.Side,
				Qty:        order.Qty,
				EntryPrice: entry,
				FillPrice:  price,
				TakeProfit: bounds[0],
				StopLoss:   bounds[1],
				OpenedAt:   time.Now(),
			}
			b.positions[pos.ID] = pos
		}
		b.logger.Debugf("virtual fill: %s %s %.8f @ %.8f (tick %.8f)", order.OrderID, order.Side, order.Qty, entry, price)
		filled = append(filled, *order)
	}
	return filled
}

// CheckTPSL closes positions whose protective prices the tick crossed.
// TP is evaluated before SL within the same tick, and the exit happens
// at the protective price, not at the tick price.
func (b *Book) CheckTPSL(price float64) []ClosedPosition {
	b.mu.Lock()
	defer b.mu.Unlock()

	var closed []ClosedPosition
	for id, pos := range b.positions {
		exit, reason := exitPrice(pos, price)
		if reason == "" {
			continue
		}
		delete(b.positions, id)

		pnl := (exit - pos.FillPrice) * pos.Qty
		if pos.Side == models.Sell {
			pnl = (pos.FillPrice - exit) * pos.Qty
		}
		b.recordTrade(pnl)
		b.logger.Debugf("virtual close: %s %s via %s @ %.8f pnl=%.8f", id, pos.Side, reason, exit, pnl)
		closed = append(closed, ClosedPosition{Position: *pos, ExitPrice: exit, Pnl: pnl, Reason: reason})
	}
	return closed
}

func exitPrice(pos *Position, price float64) (float64, string) {
	if pos.Side == models.Buy {
		if pos.TakeProfit != 0 && price >= pos.TakeProfit {
			return pos.TakeProfit, "TP"
		}
		if pos.StopLoss != 0 && price <= pos.StopLoss {
			return pos.StopLoss, "SL"
		}
		return 0, ""
	}
	if pos.TakeProfit != 0 && price <= pos.TakeProfit {
		return pos.TakeProfit, "TP"
	}
	if pos.StopLoss != 0 && price >= pos.StopLoss {
		return pos.StopLoss, "SL"
	}
	return 0, ""
}

func (b *Book) recordTrade(pnl float64) {
	b.stats.Trades++
	b.stats.TotalPnl += pnl
	if pnl > 0 {
		b.stats.Wins++
	} else {
		b.stats.Losses++
	}
	if b.stats.Trades == 1 {
		b.stats.BestPnl = pnl
		b.stats.WorstPnl = pnl
		return
	}
	if pnl > b.stats.BestPnl {
		b.stats.BestPnl = pnl
	}
	if pnl < b.stats.WorstPnl {
		b.stats.WorstPnl = pnl
	}
}

// OpenOrders returns a snapshot of the resting simulated orders.
func (b *Book) OpenOrders() []models.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, *o)
	}
	return out
}

// OpenPositions returns a snapshot of the simulated positions.
func (b *Book) OpenPositions() []Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out
}

// Stats returns the realized session statistics.
func (b *Book) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
