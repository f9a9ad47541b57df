// Package account maintains the engine's view of balances, orders and
// positions. Push events from the private stream keep it fresh; a
// rate-limited HTTP pull covers the gaps while the stream is down.
package account

import (
	"bitunix-grid-bot-go/internal/models"
	"sync"
	"time"

	"go.uber.org/zap"
)

// balanceSyncInterval throttles the HTTP balance fallback.
const balanceSyncInterval = 60 * time.Second

// GridHandler receives resolved account events. Implemented by the
// grid manager.
type GridHandler interface {
	HandleOrderFill(ev models.OrderEvent)
	HandleOrderCancel(ev models.OrderEvent)
	HandlePositionClose(ev models.PositionEvent)
}

// AccountAPI is the pull side of the exchange used as fallback.
type AccountAPI interface {
	GetAccount() (*models.AccountBalance, error)
	GetPendingOrders(symbol string) ([]models.Order, error)
}

// Sync is the account state cache.
type Sync struct {
	api    AccountAPI
	symbol string
	logger *zap.SugaredLogger

	mu          sync.Mutex
	balance     float64
	balanceCoin string
	orders      map[string]models.Order
	positions   map[string]models.PositionEvent
	wsConnected bool
	lastPull    time.Time
	grid        GridHandler
}

// New creates an account cache for one symbol.
func New(api AccountAPI, symbol string, logger *zap.SugaredLogger) *Sync {
	return &Sync{
		api:         api,
		symbol:      symbol,
		logger:      logger,
		balanceCoin: "USDT",
		orders:      make(map[string]models.Order),
		positions:   make(map[string]models.PositionEvent),
	}
}

// Attach wires the grid manager that consumes resolved events.
func (s *Sync) Attach(grid GridHandler) {
	s.mu.Lock()
	s.grid = grid
	s.mu.Unlock()
}

// MarkDisconnected flags the stream as down so Balance() falls back to
// HTTP on the next pull window.
func (s *Sync) MarkDisconnected() {
	s.mu.Lock()
	s.wsConnected = false
	s.mu.Unlock()
}

// OnBalance applies a balance push event.
func (s *Sync) OnBalance(ev models.BalanceEvent) {
	s.mu.Lock()
	s.balance = ev.Available
	if ev.Coin != "" {
		s.balanceCoin = ev.Coin
	}
	s.wsConnected = true
	s.mu.Unlock()
	s.logger.Debugf("balance push: %.4f %s", ev.Available, ev.Coin)
}

// OnOrder applies an order push event and forwards terminal states to
// the grid manager.
func (s *Sync) OnOrder(ev models.OrderEvent) {
	s.mu.Lock()
	s.wsConnected = true
	grid := s.grid
	switch ev.Status {
	case "open", "new", "working":
		s.orders[ev.OrderID] = models.Order{
			OrderID:  ev.OrderID,
			ClientID: ev.ClientID,
			Symbol:   ev.Symbol,
			Side:     ev.Side,
			Type:     "LIMIT",
			Price:    ev.Price,
			Qty:      ev.Qty,
			Status:   "open",
		}
		s.mu.Unlock()
		s.logger.Infof("order resting: %s %s %.8f @ %.8f", ev.OrderID, ev.Side, ev.Qty, ev.Price)
	case "filled", "partially_filled":
		delete(s.orders, ev.OrderID)
		s.mu.Unlock()
		s.logger.Infof("order filled: %s %s %.8f @ %.8f", ev.OrderID, ev.Side, ev.Qty, ev.Price)
		if grid != nil {
			grid.HandleOrderFill(ev)
		}
	case "cancelled", "rejected":
		delete(s.orders, ev.OrderID)
		s.mu.Unlock()
		s.logger.Warnf("order %s: %s @ %.8f", ev.Status, ev.OrderID, ev.Price)
		if grid != nil {
			grid.HandleOrderCancel(ev)
		}
	default:
		s.mu.Unlock()
		s.logger.Debugf("order event with unknown status %q ignored", ev.Status)
	}
}

// OnPosition applies a position push event; close and liquidation
// events are forwarded so the grid can free the level.
func (s *Sync) OnPosition(ev models.PositionEvent) {
	s.mu.Lock()
	s.wsConnected = true
	grid := s.grid
	if ev.Event == "close" || ev.Event == "liquidate" {
		delete(s.positions, ev.PositionID)
		s.mu.Unlock()
		s.logger.Infof("position %s closed (%s) entry %.8f", ev.PositionID, ev.Event, ev.EntryPrice)
		if grid != nil {
			grid.HandlePositionClose(ev)
		}
		return
	}
	s.positions[ev.PositionID] = ev
	s.mu.Unlock()
	s.logger.Debugf("position update: %s %s %.8f @ %.8f", ev.PositionID, ev.Side, ev.Qty, ev.EntryPrice)
}

// Balance returns the freshest available balance. While the stream is
// connected the cached push value wins; otherwise an HTTP refresh runs
// at most once per interval.
func (s *Sync) Balance() float64 {
	s.mu.Lock()
	if s.wsConnected {
		bal := s.balance
		s.mu.Unlock()
		return bal
	}
	due := time.Since(s.lastPull) >= balanceSyncInterval
	s.mu.Unlock()

	if due {
		s.refreshBalanceHTTP()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance
}

func (s *Sync) refreshBalanceHTTP() {
	acct, err := s.api.GetAccount()
	if err != nil {
		s.logger.Warnf("balance pull failed: %v", err)
		return
	}
	s.mu.Lock()
	// Log only meaningful moves; the pull runs forever in the background.
	if abs(acct.Available-s.balance) > 0.01 {
		s.logger.Infof("balance: %.4f %s", acct.Available, acct.MarginCoin)
	}
	s.balance = acct.Available
	if acct.MarginCoin != "" {
		s.balanceCoin = acct.MarginCoin
	}
	s.lastPull = time.Now()
	s.mu.Unlock()
}

// CheckBalance fails with InsufficientFundsError when the available
// balance cannot cover the required margin.
func (s *Sync) CheckBalance(required float64) error {
	available := s.Balance()
	if available < required {
		return &models.InsufficientFundsError{Required: required, Available: available}
	}
	return nil
}

// PreloadPendingOrders seeds the order cache over HTTP so the first
// reconciliation sees orders that predate the stream subscription.
func (s *Sync) PreloadPendingOrders() error {
	orders, err := s.api.GetPendingOrders(s.symbol)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, o := range orders {
		if o.OrderID == "" {
			continue
		}
		s.orders[o.OrderID] = o
	}
	count := len(s.orders)
	s.mu.Unlock()
	s.logger.Infof("preloaded %d pending orders", count)
	return nil
}

// OpenOrders returns the cached open orders; it satisfies the grid's
// OrdersSource.
func (s *Sync) OpenOrders() ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
