package models

import "time"

// BotState 定义了需要持久化的所有关键数据。
// 重启后仅作参考，交易所对账结果才是权威状态。
type BotState struct {
	Symbol         string      `json:"symbol"`
	Version        int         `json:"version"` // 状态模型的版本号，用于未来迁移
	Lifecycle      string      `json:"lifecycle"`
	Levels         []GridLevel `json:"levels"`
	NetPosition    float64     `json:"net_position"`
	Stats          TradeStats  `json:"stats"`
	LastUpdateTime time.Time   `json:"last_update_time"`
}

// TradeStats 一次运行周期内的成交统计
type TradeStats struct {
	Fills    int     `json:"fills"`
	Closes   int     `json:"closes"`
	Cancels  int     `json:"cancels"`
	Rebuys   int     `json:"rebuys"`
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	TotalPnl float64 `json:"total_pnl"`
	BestPnl  float64 `json:"best_pnl"`
	WorstPnl float64 `json:"worst_pnl"`
}
