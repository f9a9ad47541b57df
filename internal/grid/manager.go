package grid

import (
	"bitunix-grid-bot-go/internal/config"
	"bitunix-grid-bot-go/internal/models"
	"bitunix-grid-bot-go/internal/virtual"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// eventPriceTolerance matches stream events (reported with
	// exchange precision) back to ladder levels.
	eventPriceTolerance = 1e-4

	// Hedge evaluation cadence guards.
	hedgeCheckThrottle   = 10 * time.Second
	hedgeMinPriceMovePct = 0.001
	hedgeProximityScope  = 0.05
)

// Manager owns the grid levels and coordinates every collaborator.
// All level mutation happens inside its mutex; streams, tickers and
// event handlers call exported methods and never touch levels
// directly.
type Manager struct {
	cfg    *models.Config
	logger *zap.SugaredLogger

	mu        sync.Mutex
	levels    []*models.GridLevel
	lifecycle *Lifecycle
	calc      *Calculator
	risk      *RiskManager
	executor  *Executor
	tracker   *Tracker
	hedge     *HedgeManager
	orderSync *OrderSync
	book      *virtual.Book
	gateway   OrderGateway

	currentPrice   float64
	lastRebalance  time.Time
	lastHedgeCheck time.Time
	lastHedgePrice float64
	lastStatus     string
	syncRunning    bool

	onMutation func(*models.BotState) // async persistence hook, may be nil
}

// NewManager validates the configuration, builds the ladder and wires
// the collaborators. Any construction failure moves the lifecycle to
// ERROR and returns an InitError.
func NewManager(cfg *models.Config, gateway OrderGateway, fallbackOrders OrdersSource, logger *zap.SugaredLogger) (*Manager, error) {
	m := &Manager{
		cfg:       cfg,
		logger:    logger,
		lifecycle: NewLifecycle(logger, nil),
		gateway:   gateway,
	}

	if err := config.Validate(cfg); err != nil {
		m.fail("validating config", err)
		return nil, &models.InitError{Msg: "validating config", Cause: err}
	}

	m.calc = NewCalculator(&cfg.Grid)
	m.risk = NewRiskManager(&cfg.Risk, &cfg.Grid, m.calc)

	prices, err := m.calc.PriceList()
	if err != nil {
		m.fail("building price ladder", err)
		return nil, &models.InitError{Msg: "building price ladder", Cause: err}
	}

	if cfg.Trading.DryRun {
		m.book = virtual.NewBook(logger)
	}
	m.executor = NewExecutor(cfg, m.risk, m.calc, gateway, m.book, logger)
	m.tracker = NewTracker(m.risk, m.executor, logger)
	m.hedge = NewHedgeManager(cfg, m.risk, gateway, m.book, logger)
	m.orderSync = NewOrderSync(cfg, m.executor, nil, fallbackOrders, logger)

	if err := m.buildLevels(prices); err != nil {
		m.fail("building grid levels", err)
		return nil, &models.InitError{Msg: "building grid levels", Cause: err}
	}

	if err := m.lifecycle.SetState(StateActive, ""); err != nil {
		return nil, &models.InitError{Msg: "activating", Cause: err}
	}
	m.lastRebalance = time.Now()
	logger.Infof("grid ready: %s %d levels [%.8f .. %.8f] direction=%s dry_run=%v",
		cfg.Symbol, len(m.levels), prices[0], prices[len(prices)-1], cfg.Trading.GridDirection, cfg.Trading.DryRun)
	return m, nil
}

// buildLevels assigns sides by direction and precomputes TP/SL.
func (m *Manager) buildLevels(prices []float64) error {
	mid := (m.cfg.Grid.UpperPrice + m.cfg.Grid.LowerPrice) / 2
	m.levels = make([]*models.GridLevel, 0, len(prices))

	for i, price := range prices {
		side := models.Buy
		switch m.cfg.Trading.GridDirection {
		case models.DirectionShort:
			side = models.Sell
		case models.DirectionBoth:
			if price >= mid {
				side = models.Sell
			}
		}

		tp, err := m.risk.TakeProfit(price, side)
		if err != nil {
			return err
		}
		sl := m.risk.StopLoss(price, side)
		if err := m.risk.ValidateTPSL(price, tp, sl, side); err != nil {
			return fmt.Errorf("level %d: %w", i, err)
		}

		m.levels = append(m.levels, &models.GridLevel{
			Index:      i,
			Price:      price,
			Side:       side,
			TakeProfit: tp,
			StopLoss:   sl,
		})
	}
	return nil
}

func (m *Manager) fail(msg string, err error) {
	full := fmt.Sprintf("%s: %v", msg, err)
	if terr := m.lifecycle.SetState(StateError, full); terr != nil {
		m.logger.Errorf("could not enter ERROR after %s: %v", full, terr)
	}
}

// SetMutationHook installs the persistence callback invoked with a
// state snapshot after every meaningful mutation.
func (m *Manager) SetMutationHook(hook func(*models.BotState)) {
	m.mu.Lock()
	m.onMutation = hook
	m.mu.Unlock()
}

// SetOrdersSource attaches the preferred open-orders source (the
// account event cache).
func (m *Manager) SetOrdersSource(source OrdersSource) {
	m.orderSync.SetSource(source)
}

// Update processes one price tick. Ignored outside ACTIVE.
func (m *Manager) Update(price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lifecycle.IsActive() || price <= 0 {
		return
	}
	m.currentPrice = price

	// Dry-run first: fills and protective exits derived from this tick
	// feed the same handlers live stream events would.
	if m.book != nil {
		for _, order := range m.book.CheckFills(price) {
			m.applyFill(order.OrderID, order.Price, "")
		}
		for _, closed := range m.book.CheckTPSL(price) {
			m.applyClose(closed.EntryPrice)
		}
	}

	m.executor.PlaceInitialOrders(m.levels, price)
	m.maybeRebalance()

	if m.cfg.Strategy.EntryOnTouch && m.cfg.Grid.ActiveReorder {
		m.executor.CheckTouchEntries(m.levels, price)
	}
	m.checkHedge(price)
}

// maybeRebalance re-anchors free levels on the freshly computed ladder
// once per rebalance interval. Levels holding orders or positions are
// left untouched.
func (m *Manager) maybeRebalance() {
	interval := time.Duration(m.cfg.Grid.RebalanceInterval) * time.Second
	if time.Since(m.lastRebalance) < interval {
		return
	}
	m.lastRebalance = time.Now()

	m.calc.Invalidate()
	prices, err := m.calc.PriceList()
	if err != nil {
		m.handleErrorLocked(err)
		return
	}

	adjusted := 0
	for _, lvl := range m.levels {
		if !lvl.IsFree() || lvl.Index >= len(prices) {
			continue
		}
		price := prices[lvl.Index]
		if abs(price-lvl.Price) <= priceTolerance {
			continue
		}
		tp, err := m.risk.TakeProfit(price, lvl.Side)
		if err != nil {
			m.logger.Warnf("rebalance skipped level %d: %v", lvl.Index, err)
			continue
		}
		lvl.Price = price
		lvl.TakeProfit = tp
		lvl.StopLoss = m.risk.StopLoss(price, lvl.Side)
		adjusted++
	}
	if adjusted > 0 {
		m.logger.Infof("rebalance re-anchored %d free levels", adjusted)
		m.notifyMutation()
	}
}

// checkHedge evaluates reactive triggers and the preemptive overlay,
// throttled in time and by minimum price movement.
func (m *Manager) checkHedge(price float64) {
	if !m.cfg.Hedge.Enabled {
		return
	}
	if time.Since(m.lastHedgeCheck) < hedgeCheckThrottle {
		return
	}
	if m.lastHedgePrice > 0 && abs(price-m.lastHedgePrice)/m.lastHedgePrice < hedgeMinPriceMovePct {
		return
	}
	m.lastHedgeCheck = time.Now()
	m.lastHedgePrice = price

	step, err := m.calc.AverageStep()
	if err != nil {
		m.handleErrorLocked(err)
		return
	}
	lower, upper := m.cfg.Grid.LowerPrice, m.cfg.Grid.UpperPrice

	trigger, side, reenter := m.hedge.CheckTrigger(price, lower, upper, step, m.tracker.NetPosition())
	if reenter {
		if err := m.hedge.Close(); err != nil {
			m.handleErrorLocked(err)
			return
		}
	}
	if trigger {
		// Do not stack reactive entries while the price still hovers
		// near the existing hedge fill.
		if m.hedge.Active() && m.hedge.Price() > 0 && abs(price-m.hedge.Price())/price < hedgeProximityScope && m.cfg.Hedge.Mode != models.HedgeModeDynamic {
			return
		}
		if err := m.hedge.Trigger(side, m.tracker.NetPosition(), price); err != nil {
			m.handleErrorLocked(err)
			return
		}
	}

	longRisk, shortRisk := m.tracker.PositionRisk(m.levels, price)
	if err := m.hedge.UpdatePreemptive(longRisk, shortRisk, lower, upper, step, price); err != nil {
		m.handleErrorLocked(err)
	}
}

// HandleOrderFill resolves a fill event to a level and applies it.
func (m *Manager) HandleOrderFill(ev models.OrderEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyFill(ev.OrderID, ev.Price, "")
}

func (m *Manager) applyFill(orderID string, price float64, positionID string) {
	lvl := m.findLevel(orderID, price)
	if lvl == nil {
		m.logger.Warnf("fill event matched no grid level (order %s @ %.8f)", orderID, price)
		return
	}
	if m.tracker.HandleFill(m.levels, lvl, positionID) {
		m.refreshHedgeLocked()
		m.notifyMutation()
	}
}

// HandlePositionClose frees the level whose position was closed and
// re-arms it when active reordering is on.
func (m *Manager) HandlePositionClose(ev models.PositionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyClose(ev.EntryPrice)
}

func (m *Manager) applyClose(entryPrice float64) {
	if lvl := m.tracker.HandleClose(m.levels, entryPrice, m.cfg.Grid.ActiveReorder); lvl != nil {
		m.refreshHedgeLocked()
		m.notifyMutation()
	}
}

// HandleOrderCancel releases the level whose resting order vanished.
func (m *Manager) HandleOrderCancel(ev models.OrderEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lvl := m.findLevel(ev.OrderID, ev.Price)
	if lvl == nil {
		return
	}
	if m.tracker.HandleCancel(m.levels, lvl) {
		m.refreshHedgeLocked()
		m.notifyMutation()
	}
}

// findLevel locates a level by order id first, then by price within
// the event tolerance.
func (m *Manager) findLevel(orderID string, price float64) *models.GridLevel {
	if orderID != "" {
		for _, lvl := range m.levels {
			if lvl.OrderID == orderID {
				return lvl
			}
		}
	}
	for _, lvl := range m.levels {
		if abs(lvl.Price-price) < eventPriceTolerance {
			return lvl
		}
	}
	return nil
}

// refreshHedgeLocked recomputes exposure-driven hedging after a state
// change. Caller holds the lock.
func (m *Manager) refreshHedgeLocked() {
	if !m.cfg.Hedge.Enabled || m.currentPrice <= 0 {
		return
	}
	step, err := m.calc.AverageStep()
	if err != nil {
		m.handleErrorLocked(err)
		return
	}
	longRisk, shortRisk := m.tracker.PositionRisk(m.levels, m.currentPrice)
	if err := m.hedge.UpdatePreemptive(longRisk, shortRisk, m.cfg.Grid.LowerPrice, m.cfg.Grid.UpperPrice, step, m.currentPrice); err != nil {
		m.handleErrorLocked(err)
	}
}

// HandleError moves the engine into ERROR as a circuit breaker.
func (m *Manager) HandleError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handleErrorLocked(err)
}

func (m *Manager) handleErrorLocked(err error) {
	if terr := m.lifecycle.SetState(StateError, err.Error()); terr != nil {
		// Already in ERROR or CLOSED; nothing more to escalate.
		m.logger.Debugf("error while not transitionable (%v): %v", terr, err)
		return
	}
	m.notifyMutation()
}

// Pause suspends trading; resting orders are left in place.
func (m *Manager) Pause() error {
	return m.lifecycle.SetState(StatePaused, "")
}

// Resume returns a paused engine to ACTIVE.
func (m *Manager) Resume() error {
	return m.lifecycle.SetState(StateActive, "")
}

// Recover walks ERROR -> PAUSED -> ACTIVE once the retry window
// allows it.
func (m *Manager) Recover() error {
	if !m.lifecycle.CanRetry() {
		return fmt.Errorf("retry window not yet open (state %s)", m.lifecycle.State())
	}
	if err := m.lifecycle.SetState(StatePaused, ""); err != nil {
		return err
	}
	return m.lifecycle.SetState(StateActive, "")
}

// Stop cancels resting grid orders (live mode), flattens the hedge
// and closes the lifecycle.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lifecycle.IsClosed() {
		return
	}

	if err := m.hedge.Close(); err != nil {
		m.logger.Warnf("hedge close on stop failed: %v", err)
	}
	for _, lvl := range m.levels {
		if !lvl.Active || lvl.OrderID == "" {
			continue
		}
		if m.book != nil {
			m.book.CancelOrder(lvl.OrderID)
		} else if err := m.gateway.CancelOrder(m.cfg.Symbol, lvl.OrderID); err != nil {
			m.logger.Warnf("cancel of order %s on stop failed: %v", lvl.OrderID, err)
		}
		lvl.Active = false
		lvl.OrderID = ""
	}

	if err := m.lifecycle.SetState(StateClosed, ""); err != nil {
		m.logger.Warnf("close transition failed: %v", err)
	}
	m.notifyMutation()
}

// SyncOrders runs one reconciliation pass. Concurrent invocations are
// coalesced into one.
func (m *Manager) SyncOrders(dryRun bool) (*SyncReport, error) {
	m.mu.Lock()
	if m.syncRunning {
		m.mu.Unlock()
		return nil, nil
	}
	m.syncRunning = true
	defer func() {
		m.mu.Lock()
		m.syncRunning = false
		m.mu.Unlock()
	}()

	report, err := m.orderSync.Sync(m.levels, m.currentPrice, dryRun)
	price := m.currentPrice
	m.mu.Unlock()

	if err != nil {
		m.HandleError(err)
		return nil, err
	}
	if !dryRun && report.Missing > 0 {
		m.logger.Infof("sync replaced up to %d missing orders around %.8f", report.Missing, price)
	}
	return report, nil
}

// Lifecycle exposes the state machine to the runtime loop.
func (m *Manager) Lifecycle() *Lifecycle { return m.lifecycle }

// Book returns the virtual book in dry-run mode, nil otherwise.
func (m *Manager) Book() *virtual.Book { return m.book }

// CurrentPrice returns the last observed price.
func (m *Manager) CurrentPrice() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentPrice
}

// NetPosition returns the tracker's signed exposure.
func (m *Manager) NetPosition() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracker.NetPosition()
}

// Levels returns a copy of the level states for reporting.
func (m *Manager) Levels() []models.GridLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.GridLevel, len(m.levels))
	for i, lvl := range m.levels {
		out[i] = *lvl
	}
	return out
}

// Snapshot assembles the persistable state. Caller-safe.
func (m *Manager) Snapshot() *models.BotState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() *models.BotState {
	state := &models.BotState{
		Symbol:         m.cfg.Symbol,
		Version:        1,
		Lifecycle:      string(m.lifecycle.State()),
		Levels:         make([]models.GridLevel, len(m.levels)),
		NetPosition:    m.tracker.NetPosition(),
		Stats:          m.tracker.Stats(),
		LastUpdateTime: time.Now(),
	}
	for i, lvl := range m.levels {
		state.Levels[i] = *lvl
	}
	if m.book != nil {
		vs := m.book.Stats()
		state.Stats.Trades = vs.Trades
		state.Stats.Wins = vs.Wins
		state.Stats.Losses = vs.Losses
		state.Stats.TotalPnl = vs.TotalPnl
		state.Stats.BestPnl = vs.BestPnl
		state.Stats.WorstPnl = vs.WorstPnl
	}
	return state
}

func (m *Manager) notifyMutation() {
	if m.onMutation != nil {
		m.onMutation(m.snapshotLocked())
	}
}

// LogStatus renders the grid table and logs it only when it changed
// since the last call.
func (m *Manager) LogStatus() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "state=%s price=%.8f net=%.8f | ", m.lifecycle.Summary(), m.currentPrice, m.tracker.NetPosition())
	active, filled, free := 0, 0, 0
	for _, lvl := range m.levels {
		switch {
		case lvl.PositionOpen || lvl.Filled:
			filled++
		case lvl.Active:
			active++
		default:
			free++
		}
	}
	fmt.Fprintf(&b, "levels: %d resting, %d holding, %d free | %s", active, filled, free, m.risk.Summary())

	status := b.String()
	if status == m.lastStatus {
		return
	}
	m.lastStatus = status
	m.logger.Info(status)
}
