package grid

import (
	"bitunix-grid-bot-go/internal/models"

	"go.uber.org/zap"
)

// closeTolerance matches position-close events back to a level by
// entry price. Exchanges report entry values with less precision than
// our ladder, so this is far looser than priceTolerance.
const closeTolerance = 0.001

// Tracker maintains per-level fill state and the derived net position.
// Like the Executor it relies on the Manager's lock for serialization.
type Tracker struct {
	risk     *RiskManager
	executor *Executor
	logger   *zap.SugaredLogger

	netPosition float64
	stats       models.TradeStats
}

// NewTracker creates a tracker.
func NewTracker(risk *RiskManager, executor *Executor, logger *zap.SugaredLogger) *Tracker {
	return &Tracker{risk: risk, executor: executor, logger: logger}
}

// HandleFill marks a level's entry order as filled and opens its
// position slot. Duplicate fill events for an already-filled level are
// ignored, which makes stream replays harmless.
func (t *Tracker) HandleFill(levels []*models.GridLevel, lvl *models.GridLevel, positionID string) bool {
	if lvl.Filled {
		t.logger.Debugf("duplicate fill for level %d ignored", lvl.Index)
		return false
	}
	lvl.Filled = true
	lvl.Active = false
	lvl.PositionOpen = true
	lvl.PositionID = positionID
	t.stats.Fills++
	t.UpdateNetPosition(levels)
	t.logger.Infof("level %d filled: %s @ %.8f (net %.8f)", lvl.Index, lvl.Side, lvl.Price, t.netPosition)
	return true
}

// HandleClose frees the level whose entry price matches the closed
// position and optionally re-arms it with a fresh entry order. Returns
// the freed level, or nil when no level matched.
func (t *Tracker) HandleClose(levels []*models.GridLevel, entryPrice float64, rebuy bool) *models.GridLevel {
	var matched *models.GridLevel
	for _, lvl := range levels {
		if lvl.PositionOpen && abs(lvl.Price-entryPrice) < closeTolerance {
			matched = lvl
			break
		}
	}
	if matched == nil {
		t.logger.Warnf("position close @ %.8f matched no grid level", entryPrice)
		return nil
	}

	matched.Filled = false
	matched.PositionOpen = false
	matched.PositionID = ""
	matched.OrderID = ""
	t.stats.Closes++

	if rebuy {
		if err := t.executor.PlaceEntryOrder(matched); err != nil {
			t.logger.Warnf("rebuy for level %d failed: %v", matched.Index, err)
		} else {
			t.stats.Rebuys++
		}
	}

	t.UpdateNetPosition(levels)
	t.logger.Infof("level %d released after close @ %.8f (net %.8f)", matched.Index, entryPrice, t.netPosition)
	return matched
}

// HandleCancel releases a level whose resting order was cancelled.
func (t *Tracker) HandleCancel(levels []*models.GridLevel, lvl *models.GridLevel) bool {
	if !lvl.Active {
		return false
	}
	lvl.Active = false
	lvl.OrderID = ""
	t.stats.Cancels++
	t.UpdateNetPosition(levels)
	t.logger.Infof("level %d order cancelled, level free again", lvl.Index)
	return true
}

// UpdateNetPosition recomputes the signed exposure from level state.
// Resting entries count as exposure alongside fills: a pending BUY
// becomes long exposure the moment the market can reach it.
func (t *Tracker) UpdateNetPosition(levels []*models.GridLevel) float64 {
	var longFilled, shortFilled, longPending, shortPending int
	for _, lvl := range levels {
		switch {
		case lvl.Filled && lvl.Side == models.Buy:
			longFilled++
		case lvl.Filled && lvl.Side == models.Sell:
			shortFilled++
		case lvl.Active && lvl.Side == models.Buy:
			longPending++
		case lvl.Active && lvl.Side == models.Sell:
			shortPending++
		}
	}
	t.netPosition = float64(longFilled-shortFilled+longPending-shortPending) * t.risk.EffectiveSize()
	return t.netPosition
}

// NetPosition returns the last computed signed exposure.
func (t *Tracker) NetPosition() float64 { return t.netPosition }

// PositionRisk returns the long and short at-risk exposure at the
// given price. Long risk counts filled BUY levels plus resting BUYs
// below the price; short risk mirrors that above the price.
func (t *Tracker) PositionRisk(levels []*models.GridLevel, price float64) (longRisk, shortRisk float64) {
	size := t.risk.EffectiveSize()
	for _, lvl := range levels {
		switch {
		case lvl.Side == models.Buy && (lvl.Filled || (lvl.Active && lvl.Price < price)):
			longRisk += size
		case lvl.Side == models.Sell && (lvl.Filled || (lvl.Active && lvl.Price > price)):
			shortRisk += size
		}
	}
	return longRisk, shortRisk
}

// Stats returns the session counters.
func (t *Tracker) Stats() models.TradeStats { return t.stats }

// ResetStats zeroes the session counters.
func (t *Tracker) ResetStats() { t.stats = models.TradeStats{} }
