package config

import (
	"bitunix-grid-bot-go/internal/models"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Load 从指定路径加载JSON配置文件，解析并校验。
// 校验失败返回 *models.ConfigError，调用方应立即退出。
func Load(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg := defaultConfig()
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig 返回带默认值的配置，JSON中未出现的字段保持默认
func defaultConfig() *models.Config {
	return &models.Config{
		System: models.SystemConfig{
			UpdateInterval:    5,
			ReconnectInterval: 5,
			DBPath:            "grid_state_db",
		},
		Log: models.LogConfig{Level: "info", Output: "both", File: "logs/grid.log", MaxSize: 10, MaxBackups: 5, MaxAge: 30},
		Trading: models.TradingConfig{
			DryRun:         true,
			GridDirection:  models.DirectionBoth,
			ClientIDPrefix: "GRID",
		},
		Grid: models.GridConfig{
			GridMode:             models.GridModeArithmetic,
			MinPriceStep:         0.0000001,
			ActiveReorder:        true,
			ReorderDistanceSteps: 2,
			TPMode:               models.TPModePercent,
			TakeProfitPct:        0.003,
			SLMode:               models.SLModePercent,
			StopLossPct:          0.01,
			RebalanceInterval:    300,
		},
		Risk: models.RiskConfig{
			FeeSide:     "maker",
			MakerFeePct: 0.00014,
			TakerFeePct: 0.00014,
		},
		Margin: models.MarginConfig{Mode: "ISOLATION", Leverage: 3},
		Hedge: models.HedgeConfig{
			Mode:           models.HedgeModeDirect,
			TriggerOffset:  1.0,
			PartialLevels:  []float64{0.5, 0.75, 1.0},
			CloseOnReentry: true,
			SizeMode:       "net_position",
			FixedSizeRatio: 0.5,
		},
		Strategy: models.StrategyConfig{EntryOnTouch: true},
	}
}

// Validate 对配置做交叉校验，任何违规都在下单前失败
func Validate(cfg *models.Config) error {
	if len(cfg.Symbol) < 3 {
		return &models.ConfigError{Field: "symbol", Msg: "symbol is required"}
	}

	g := &cfg.Grid
	if g.LowerPrice <= 0 {
		return &models.ConfigError{Field: "grid.lower_price", Msg: "must be > 0"}
	}
	if g.UpperPrice <= g.LowerPrice {
		return &models.ConfigError{Field: "grid.upper_price",
			Msg: fmt.Sprintf("upper_price (%v) must be greater than lower_price (%v)", g.UpperPrice, g.LowerPrice)}
	}
	if g.GridLevels < 2 || g.GridLevels > 100 {
		return &models.ConfigError{Field: "grid.grid_levels", Msg: "must be between 2 and 100"}
	}
	if g.GridMode != models.GridModeArithmetic && g.GridMode != models.GridModeGeometric {
		return &models.ConfigError{Field: "grid.grid_mode", Msg: fmt.Sprintf("unknown mode %q", g.GridMode)}
	}
	if g.MinPriceStep <= 0 {
		return &models.ConfigError{Field: "grid.min_price_step", Msg: "must be > 0"}
	}
	if g.UpperPrice-g.LowerPrice < g.MinPriceStep*10 {
		return &models.ConfigError{Field: "grid", Msg: "price range too small for the configured tick"}
	}
	if g.BaseOrderSize <= 0 {
		return &models.ConfigError{Field: "grid.base_order_size", Msg: "must be > 0"}
	}
	if g.TPMode == models.TPModePercent && (g.TakeProfitPct <= 0 || g.TakeProfitPct > 0.1) {
		return &models.ConfigError{Field: "grid.take_profit_pct", Msg: "must be in (0, 0.1]"}
	}
	if g.SLMode == models.SLModePercent && (g.StopLossPct <= 0 || g.StopLossPct > 0.5) {
		return &models.ConfigError{Field: "grid.stop_loss_pct", Msg: "must be in (0, 0.5]"}
	}
	if g.RebalanceInterval < 60 || g.RebalanceInterval > 3600 {
		return &models.ConfigError{Field: "grid.rebalance_interval", Msg: "must be between 60 and 3600 seconds"}
	}

	// sl_mode=fixed 必须给出止损价，且方向要和网格方向一致
	if g.SLMode == models.SLModeFixed {
		if g.StopLossPrice <= 0 {
			return &models.ConfigError{Field: "grid.stop_loss_price", Msg: "required when sl_mode is fixed"}
		}
		switch cfg.Trading.GridDirection {
		case models.DirectionLong:
			if g.StopLossPrice >= g.LowerPrice {
				return &models.ConfigError{Field: "grid.stop_loss_price", Msg: "must be below lower_price for long grids"}
			}
		case models.DirectionShort:
			if g.StopLossPrice <= g.UpperPrice {
				return &models.ConfigError{Field: "grid.stop_loss_price", Msg: "must be above upper_price for short grids"}
			}
		}
	}

	switch cfg.Trading.GridDirection {
	case models.DirectionLong, models.DirectionShort, models.DirectionBoth:
	default:
		return &models.ConfigError{Field: "trading.grid_direction", Msg: fmt.Sprintf("unknown direction %q", cfg.Trading.GridDirection)}
	}
	if cfg.Trading.ClientIDPrefix == "" {
		return &models.ConfigError{Field: "trading.client_id_prefix", Msg: "must not be empty"}
	}

	r := &cfg.Risk
	if r.FeeSide != "maker" && r.FeeSide != "taker" {
		return &models.ConfigError{Field: "risk.fee_side", Msg: "must be maker or taker"}
	}
	if r.MakerFeePct < 0 || r.MakerFeePct >= 0.1 || r.TakerFeePct < 0 || r.TakerFeePct >= 0.1 {
		return &models.ConfigError{Field: "risk", Msg: "fee percentages must be in [0, 0.1)"}
	}

	m := &cfg.Margin
	if m.Mode != "CROSS" && m.Mode != "ISOLATION" {
		return &models.ConfigError{Field: "margin.mode", Msg: "must be CROSS or ISOLATION"}
	}
	if m.Leverage < 1 || m.Leverage > 125 {
		return &models.ConfigError{Field: "margin.leverage", Msg: "must be between 1 and 125"}
	}

	if err := validateHedge(&cfg.Hedge); err != nil {
		return err
	}
	return nil
}

func validateHedge(h *models.HedgeConfig) error {
	if h.TriggerOffset < 0.1 || h.TriggerOffset > 10 {
		return &models.ConfigError{Field: "hedge.trigger_offset", Msg: "must be between 0.1 and 10"}
	}
	switch h.Mode {
	case models.HedgeModeDirect, models.HedgeModeDynamic, models.HedgeModeReversal:
	default:
		return &models.ConfigError{Field: "hedge.mode", Msg: fmt.Sprintf("unknown mode %q", h.Mode)}
	}
	if h.Mode == models.HedgeModeDynamic && len(h.PartialLevels) == 0 {
		return &models.ConfigError{Field: "hedge.partial_levels", Msg: "required for dynamic mode"}
	}
	for i, lvl := range h.PartialLevels {
		if lvl <= 0 || lvl > 1 {
			return &models.ConfigError{Field: "hedge.partial_levels",
				Msg: fmt.Sprintf("entry %d = %v must be in (0, 1]", i, lvl)}
		}
	}
	// 分级比例必须升序，静默排序会掩盖配置错误
	if !sort.Float64sAreSorted(h.PartialLevels) {
		return &models.ConfigError{Field: "hedge.partial_levels", Msg: "must be sorted ascending"}
	}
	if h.SizeMode != "net_position" && h.SizeMode != "fixed" {
		return &models.ConfigError{Field: "hedge.size_mode", Msg: "must be net_position or fixed"}
	}
	if h.SizeMode == "fixed" && (h.FixedSizeRatio <= 0 || h.FixedSizeRatio > 2) {
		return &models.ConfigError{Field: "hedge.fixed_size_ratio", Msg: "must be in (0, 2]"}
	}
	return nil
}
