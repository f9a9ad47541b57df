package grid

import (
	"bitunix-grid-bot-go/internal/models"

	"go.uber.org/zap"
)

// OrdersSource supplies the current open orders for the symbol. The
// primary source is the account event cache; the fallback queries the
// exchange directly.
type OrdersSource func() ([]models.Order, error)

// SyncReport is the outcome of one reconciliation pass.
type SyncReport struct {
	Matched  int
	Missing  int
	Obsolete int
	DryRun   bool
	// ObsoleteOrders are exchange orders that map to no grid level.
	// They are reported, never cancelled implicitly.
	ObsoleteOrders []models.Order
}

// OrderSync reconciles the declarative grid against the exchange's
// view of open orders. The exchange is eventually consistent, so the
// sync treats its own levels as intent and the exchange list as
// observation: adopt what matches, replace what is missing, report
// what is unexplained.
type OrderSync struct {
	cfg      *models.Config
	executor *Executor
	source   OrdersSource
	fallback OrdersSource
	logger   *zap.SugaredLogger
}

// NewOrderSync creates a reconciler. source may be nil; fallback must
// not be.
func NewOrderSync(cfg *models.Config, executor *Executor, source, fallback OrdersSource, logger *zap.SugaredLogger) *OrderSync {
	return &OrderSync{cfg: cfg, executor: executor, source: source, fallback: fallback, logger: logger}
}

// SetSource installs the preferred orders source after construction
// (the account cache attaches later in the startup sequence).
func (s *OrderSync) SetSource(source OrdersSource) { s.source = source }

func (s *OrderSync) fetchOrders() ([]models.Order, error) {
	if s.source != nil {
		orders, err := s.source()
		if err == nil {
			return orders, nil
		}
		s.logger.Warnf("primary orders source failed, falling back: %v", err)
	}
	orders, err := s.fallback()
	if err != nil {
		return nil, &models.SyncError{Msg: "fetching open orders", Cause: err}
	}
	return orders, nil
}

// Sync partitions levels and exchange orders into matched, missing and
// obsolete, then applies the differences. price gates missing-order
// placement (a zero price disables the ahead-of-market guard). In
// dry-run the report is logged but nothing is placed.
func (s *OrderSync) Sync(levels []*models.GridLevel, price float64, dryRun bool) (*SyncReport, error) {
	orders, err := s.fetchOrders()
	if err != nil {
		return nil, err
	}

	report := &SyncReport{DryRun: dryRun}
	claimed := make(map[string]bool, len(orders))

	// Adopt exchange orders that sit on a ladder level.
	for _, lvl := range levels {
		if lvl.Filled || lvl.PositionOpen {
			continue
		}
		for i := range orders {
			o := &orders[i]
			if claimed[o.OrderID] || o.Side != lvl.Side {
				continue
			}
			if abs(o.Price-lvl.Price) > priceTolerance {
				continue
			}
			claimed[o.OrderID] = true
			lvl.Active = true
			lvl.OrderID = o.OrderID
			report.Matched++
			break
		}
	}

	for _, o := range orders {
		if !claimed[o.OrderID] {
			report.Obsolete++
			report.ObsoleteOrders = append(report.ObsoleteOrders, o)
		}
	}

	// Replace missing orders, one failure at a time.
	for _, lvl := range levels {
		if !lvl.IsFree() || !s.executor.directionAllows(lvl.Side) {
			continue
		}
		if price > 0 {
			aheadOfMarket := (lvl.Side == models.Buy && lvl.Price >= price) ||
				(lvl.Side == models.Sell && lvl.Price <= price)
			if aheadOfMarket {
				continue
			}
		}
		report.Missing++
		if dryRun {
			continue
		}
		if err := s.executor.PlaceEntryOrder(lvl); err != nil {
			s.logger.Warnf("sync could not replace level %d: %v", lvl.Index, err)
		}
	}

	mode := "live"
	if dryRun {
		mode = "dry-run"
	}
	s.logger.Infof("order sync (%s): %d matched, %d missing, %d obsolete",
		mode, report.Matched, report.Missing, report.Obsolete)
	for _, o := range report.ObsoleteOrders {
		s.logger.Warnf("obsolete order left resting: %s %s %.8f @ %.8f", o.OrderID, o.Side, o.Qty, o.Price)
	}
	return report, nil
}
