package grid

import (
	"bitunix-grid-bot-go/internal/models"
	"bitunix-grid-bot-go/internal/virtual"
	"fmt"
	"time"

	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

// riskEpsilon is the exposure below which the preemptive hedge is
// considered unnecessary and gets closed.
const riskEpsilon = 0.001

// sizeDeviationPct is the relative size drift that forces a modify of
// the resting preemptive hedge.
const sizeDeviationPct = 0.05

// HedgeManager overlays a counter-position when the price escapes the
// grid band (reactive) or keeps a resting hedge sized to the at-risk
// exposure (preemptive). Serialized by the Manager's lock.
type HedgeManager struct {
	cfg     *models.Config
	risk    *RiskManager
	gateway OrderGateway
	book    *virtual.Book
	logger  *zap.SugaredLogger

	active     bool
	orderID    string
	side       models.Side
	size       float64
	price      float64
	stopLoss   float64
	partialIdx int // next escalation step in dynamic mode
}

// NewHedgeManager creates a hedge manager. book may be nil outside
// dry-run.
func NewHedgeManager(cfg *models.Config, risk *RiskManager, gateway OrderGateway, book *virtual.Book, logger *zap.SugaredLogger) *HedgeManager {
	return &HedgeManager{cfg: cfg, risk: risk, gateway: gateway, book: book, logger: logger}
}

// Active reports whether a hedge is currently open or resting.
func (h *HedgeManager) Active() bool { return h.active }

// Size returns the current hedge size.
func (h *HedgeManager) Size() float64 { return h.size }

// Price returns the price the current hedge was anchored at.
func (h *HedgeManager) Price() float64 { return h.price }

// CheckTrigger evaluates the reactive bands. It returns the hedge side
// to open when the price has escaped the band by more than
// trigger_offset average steps against the net exposure, and reenter
// when an open hedge should be closed because the price is back inside
// the band.
func (h *HedgeManager) CheckTrigger(price, lower, upper, step, netPosition float64) (trigger bool, side models.Side, reenter bool) {
	if !h.cfg.Hedge.Enabled {
		return false, "", false
	}
	offset := step * h.cfg.Hedge.TriggerOffset

	if h.active && h.cfg.Hedge.CloseOnReentry && price > lower && price < upper {
		return false, "", true
	}
	if netPosition > 0 && price <= lower-offset {
		return true, models.Sell, false
	}
	if netPosition < 0 && price >= upper+offset {
		return true, models.Buy, false
	}
	return false, "", false
}

// hedgeSize resolves the hedge quantity for the configured mode.
func (h *HedgeManager) hedgeSize(netPosition float64) float64 {
	base := abs(netPosition)
	if h.cfg.Hedge.SizeMode == "fixed" {
		full := float64(h.cfg.Grid.GridLevels) * h.risk.EffectiveSize()
		base = full * h.cfg.Hedge.FixedSizeRatio
	}

	switch h.cfg.Hedge.Mode {
	case models.HedgeModeReversal:
		return base * 2
	case models.HedgeModeDynamic:
		levels := h.cfg.Hedge.PartialLevels
		idx := h.partialIdx
		if idx >= len(levels) {
			idx = len(levels) - 1
		}
		return base * levels[idx]
	default:
		return base
	}
}

// Trigger opens (or escalates) the reactive hedge with a market order.
// Dynamic mode steps through partial_levels on successive triggers.
func (h *HedgeManager) Trigger(side models.Side, netPosition, price float64) error {
	if h.active && h.cfg.Hedge.Mode != models.HedgeModeDynamic {
		return nil
	}

	qty := h.hedgeSize(netPosition)
	if qty <= 0 {
		return nil
	}

	order, err := h.place(&models.OrderRequest{
		Symbol:    h.cfg.Symbol,
		Side:      side,
		Type:      "MARKET",
		Qty:       qty,
		ClientID:  h.clientID(),
		TradeSide: models.TradeOpen,
	})
	if err != nil {
		return fmt.Errorf("reactive hedge: %w", err)
	}

	h.active = true
	h.orderID = order.OrderID
	h.side = side
	h.size = qty
	h.price = price
	if h.cfg.Hedge.Mode == models.HedgeModeDynamic && h.partialIdx < len(h.cfg.Hedge.PartialLevels)-1 {
		h.partialIdx++
	}
	h.logger.Warnf("hedge opened: %s %.8f (mode %s, net %.8f, price %.8f)", side, qty, h.cfg.Hedge.Mode, netPosition, price)
	return nil
}

// Close flattens the hedge with an opposing market order and resets
// the escalation ladder.
func (h *HedgeManager) Close() error {
	if !h.active {
		return nil
	}
	_, err := h.place(&models.OrderRequest{
		Symbol:     h.cfg.Symbol,
		Side:       h.side.Opposite(),
		Type:       "MARKET",
		Qty:        h.size,
		ClientID:   h.clientID(),
		TradeSide:  models.TradeClose,
		ReduceOnly: true,
	})
	if err != nil {
		return fmt.Errorf("hedge close: %w", err)
	}
	h.logger.Infof("hedge closed: %s %.8f", h.side, h.size)
	h.active = false
	h.orderID = ""
	h.size = 0
	h.stopLoss = 0
	h.partialIdx = 0
	return nil
}

// UpdatePreemptive keeps a resting hedge sized to the current at-risk
// exposure: create when exposure appears, modify when the target size
// drifts more than 5%, close when exposure is gone. A failed modify
// falls back to close-and-recreate. With no usable price the hedge
// degrades to a market order.
func (h *HedgeManager) UpdatePreemptive(longRisk, shortRisk, lower, upper, step, price float64) error {
	if !h.cfg.Hedge.Enabled || !h.cfg.Hedge.PreemptiveHedge {
		return nil
	}

	netRisk := longRisk - shortRisk
	if abs(netRisk) < riskEpsilon {
		return h.Close()
	}

	side := models.Sell
	hedgePrice := lower - step
	stopLoss := hedgePrice + 2*step
	if netRisk < 0 {
		side = models.Buy
		hedgePrice = upper + step
		stopLoss = hedgePrice - 2*step
	}
	target := abs(netRisk)

	if h.active {
		// Re-anchor when the exposure flipped sides.
		if side != h.side {
			if err := h.Close(); err != nil {
				return err
			}
			return h.placePreemptive(side, hedgePrice, stopLoss, target, price)
		}
		if h.size > 0 && abs(target-h.size)/h.size <= sizeDeviationPct {
			return nil
		}
		err := h.modify(&models.ModifyRequest{
			Symbol:   h.cfg.Symbol,
			OrderID:  h.orderID,
			Price:    hedgePrice,
			Qty:      target,
			StopLoss: stopLoss,
		})
		if err == nil {
			h.size = target
			h.price = hedgePrice
			h.stopLoss = stopLoss
			h.logger.Infof("preemptive hedge resized to %.8f @ %.8f", target, hedgePrice)
			return nil
		}
		h.logger.Warnf("preemptive hedge modify failed, recreating: %v", err)
		if err := h.Close(); err != nil {
			return err
		}
	}
	return h.placePreemptive(side, hedgePrice, stopLoss, target, price)
}

func (h *HedgeManager) placePreemptive(side models.Side, hedgePrice, stopLoss, qty, price float64) error {
	req := &models.OrderRequest{
		Symbol:    h.cfg.Symbol,
		Side:      side,
		Type:      "LIMIT",
		Price:     hedgePrice,
		Qty:       qty,
		ClientID:  h.clientID(),
		TradeSide: models.TradeOpen,
		StopLoss:  stopLoss,
	}
	if price <= 0 {
		// No reference price: a resting limit could sit on the wrong
		// side of the book, so take the market fill instead.
		req.Type = "MARKET"
		req.Price = 0
	}

	order, err := h.place(req)
	if err != nil {
		return fmt.Errorf("preemptive hedge: %w", err)
	}
	h.active = true
	h.orderID = order.OrderID
	h.side = side
	h.size = qty
	h.price = hedgePrice
	h.stopLoss = stopLoss
	h.logger.Infof("preemptive hedge placed: %s %.8f @ %.8f (sl %.8f)", side, qty, hedgePrice, stopLoss)
	return nil
}

func (h *HedgeManager) place(req *models.OrderRequest) (*models.Order, error) {
	if h.cfg.Trading.DryRun {
		return h.book.PlaceOrder(req)
	}
	return h.gateway.PlaceOrder(req)
}

func (h *HedgeManager) modify(req *models.ModifyRequest) error {
	if h.cfg.Trading.DryRun {
		// The virtual book has no modify; emulate with cancel+replace.
		if !h.book.CancelOrder(req.OrderID) {
			return fmt.Errorf("virtual order %s not open", req.OrderID)
		}
		order, err := h.book.PlaceOrder(&models.OrderRequest{
			Symbol:    req.Symbol,
			Side:      h.side,
			Type:      "LIMIT",
			Price:     req.Price,
			Qty:       req.Qty,
			ClientID:  h.clientID(),
			TradeSide: models.TradeOpen,
			StopLoss:  req.StopLoss,
		})
		if err != nil {
			return err
		}
		h.orderID = order.OrderID
		return nil
	}
	return h.gateway.ModifyOrder(req)
}

func (h *HedgeManager) clientID() string {
	return fmt.Sprintf("%s_H_%s", h.cfg.Trading.ClientIDPrefix, base62.FormatInt(time.Now().UnixNano()))
}
