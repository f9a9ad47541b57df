package grid

import (
	"bitunix-grid-bot-go/internal/models"
	"fmt"

	"github.com/shopspring/decimal"
)

// RiskManager derives order sizes and protective prices. Entry and
// exit both pay a fee, so the fee-adjusted size reserves the round
// trip up front instead of letting fees eat into the margin balance.
type RiskManager struct {
	risk *models.RiskConfig
	grid *models.GridConfig
	calc *Calculator
}

// NewRiskManager creates a risk manager bound to the shared calculator.
func NewRiskManager(risk *models.RiskConfig, grid *models.GridConfig, calc *Calculator) *RiskManager {
	return &RiskManager{risk: risk, grid: grid, calc: calc}
}

// FeePct returns the per-side fee rate selected by the config.
func (r *RiskManager) FeePct() float64 {
	if r.risk.FeeSide == "taker" {
		return r.risk.TakerFeePct
	}
	return r.risk.MakerFeePct
}

// EffectiveSize returns the order size with the round-trip fee carved
// out when fee adjustment is enabled. Never negative, rounded to 8
// decimals with ties to even.
func (r *RiskManager) EffectiveSize() float64 {
	size := r.grid.BaseOrderSize
	if r.risk.IncludeFees {
		size = size * (1 - 2*r.FeePct())
	}
	if size < 0 {
		size = 0
	}
	out, _ := decimal.NewFromFloat(size).RoundBank(8).Float64()
	return out
}

// TakeProfit computes the take-profit price for an entry at the given
// side. In next_grid mode the target is the adjacent ladder price; at
// the ladder edge it extrapolates by one average step.
func (r *RiskManager) TakeProfit(entry float64, side models.Side) (float64, error) {
	switch r.grid.TPMode {
	case models.TPModeNextGrid:
		return r.tpNextGrid(entry, side)
	case models.TPModePercent:
		if side == models.Buy {
			return entry * (1 + r.grid.TakeProfitPct), nil
		}
		return entry * (1 - r.grid.TakeProfitPct), nil
	default:
		return 0, &models.ConfigError{Field: "grid.tp_mode", Msg: fmt.Sprintf("unknown mode %q", r.grid.TPMode)}
	}
}

func (r *RiskManager) tpNextGrid(entry float64, side models.Side) (float64, error) {
	prices, err := r.calc.PriceList()
	if err != nil {
		return 0, err
	}
	step, err := r.calc.AverageStep()
	if err != nil {
		return 0, err
	}

	// Locate the ladder price nearest to the entry.
	idx := 0
	best := abs(prices[0] - entry)
	for i, p := range prices {
		if d := abs(p - entry); d < best {
			best = d
			idx = i
		}
	}

	if side == models.Buy {
		if idx < len(prices)-1 {
			return prices[idx+1], nil
		}
		return entry + step, nil
	}
	if idx > 0 {
		return prices[idx-1], nil
	}
	return entry - step, nil
}

// StopLoss computes the stop-loss price for an entry, or 0 when stop
// losses are disabled.
func (r *RiskManager) StopLoss(entry float64, side models.Side) float64 {
	switch r.grid.SLMode {
	case models.SLModeFixed:
		return r.grid.StopLossPrice
	case models.SLModePercent:
		if side == models.Buy {
			return entry * (1 - r.grid.StopLossPct)
		}
		return entry * (1 + r.grid.StopLossPct)
	default:
		return 0
	}
}

// ValidateTPSL rejects protective prices that would fill immediately.
// The inequalities are strict; a zero bound is absent and skips its
// check.
func (r *RiskManager) ValidateTPSL(entry, tp, sl float64, side models.Side) error {
	if entry <= 0 {
		return fmt.Errorf("entry price must be positive, got %v", entry)
	}
	if side == models.Buy {
		if tp != 0 && tp <= entry {
			return fmt.Errorf("take profit %.8f must be above entry %.8f for BUY", tp, entry)
		}
		if sl != 0 && sl >= entry {
			return fmt.Errorf("stop loss %.8f must be below entry %.8f for BUY", sl, entry)
		}
		return nil
	}
	if tp != 0 && tp >= entry {
		return fmt.Errorf("take profit %.8f must be below entry %.8f for SELL", tp, entry)
	}
	if sl != 0 && sl <= entry {
		return fmt.Errorf("stop loss %.8f must be above entry %.8f for SELL", sl, entry)
	}
	return nil
}

// Summary describes the active risk settings for status logs.
func (r *RiskManager) Summary() string {
	return fmt.Sprintf("size=%.8f (fees %v, %s %.5f%%) tp=%s sl=%s",
		r.EffectiveSize(), r.risk.IncludeFees, r.risk.FeeSide, r.FeePct()*100, r.grid.TPMode, r.grid.SLMode)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
