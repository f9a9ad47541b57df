package models

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite 返回相反的交易方向
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// TradeSide 区分开仓单和平仓单
type TradeSide string

const (
	TradeOpen  TradeSide = "OPEN"
	TradeClose TradeSide = "CLOSE"
)

// GridLevel 代表网格中的一个价格档位及其运行时状态。
// TakeProfit/StopLoss 为 0 表示未设置（价格恒为正）。
type GridLevel struct {
	Index        int     `json:"index"`
	Price        float64 `json:"price"`
	Side         Side    `json:"side"`
	OrderID      string  `json:"order_id,omitempty"`
	Active       bool    `json:"active"`        // 挂单在交易所等待成交
	Filled       bool    `json:"filled"`        // 入场单已成交
	PositionOpen bool    `json:"position_open"` // 该档位持有未平仓位
	PositionID   string  `json:"position_id,omitempty"`
	TakeProfit   float64 `json:"take_profit,omitempty"`
	StopLoss     float64 `json:"stop_loss,omitempty"`
}

// IsFree 档位既无挂单也无持仓时可重新挂入场单
func (l *GridLevel) IsFree() bool {
	return !l.Active && !l.Filled && !l.PositionOpen
}

// Order 交易所挂单快照
type Order struct {
	OrderID   string    `json:"orderId"`
	ClientID  string    `json:"clientId,omitempty"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Type      string    `json:"type"` // LIMIT 或 MARKET
	Price     float64   `json:"price"`
	Qty       float64   `json:"qty"`
	Status    string    `json:"status"`
	TradeSide TradeSide `json:"tradeSide,omitempty"`
	CreatedAt int64     `json:"ctime,omitempty"`
}

// OrderRequest 下单请求
type OrderRequest struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Type       string    `json:"type"` // LIMIT 或 MARKET
	Price      float64   `json:"price,omitempty"`
	Qty        float64   `json:"qty"`
	ClientID   string    `json:"clientId,omitempty"`
	TradeSide  TradeSide `json:"tradeSide,omitempty"`
	TakeProfit float64   `json:"tpPrice,omitempty"`
	StopLoss   float64   `json:"slPrice,omitempty"`
	ReduceOnly bool      `json:"reduceOnly,omitempty"`
}

// ModifyRequest 改单请求
type ModifyRequest struct {
	Symbol   string  `json:"symbol"`
	OrderID  string  `json:"orderId"`
	Price    float64 `json:"price,omitempty"`
	Qty      float64 `json:"qty,omitempty"`
	StopLoss float64 `json:"slPrice,omitempty"`
}

// Position 持仓快照
type Position struct {
	PositionID string  `json:"positionId"`
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Qty        float64 `json:"qty"`
	EntryPrice float64 `json:"entryValue"`
	UnrealPnl  float64 `json:"unrealizedPNL"`
}

// AccountBalance 账户余额快照
type AccountBalance struct {
	MarginCoin string  `json:"marginCoin"`
	Available  float64 `json:"available"`
	Frozen     float64 `json:"frozen"`
	Margin     float64 `json:"margin"`
}

// --- WebSocket 推送事件（边界处解析为类型化结构） ---

// TickerEvent 行情推送
type TickerEvent struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Time   int64   `json:"time"`
}

// BalanceEvent 余额推送
type BalanceEvent struct {
	Coin      string  `json:"coin"`
	Available float64 `json:"available"`
	Frozen    float64 `json:"frozen"`
}

// OrderEvent 订单状态推送
type OrderEvent struct {
	OrderID  string  `json:"orderId"`
	ClientID string  `json:"clientId,omitempty"`
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Price    float64 `json:"price"`
	Qty      float64 `json:"qty"`
	Status   string  `json:"status"` // open/filled/cancelled/rejected
}

// PositionEvent 仓位推送
type PositionEvent struct {
	PositionID string  `json:"positionId"`
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Qty        float64 `json:"qty"`
	EntryPrice float64 `json:"entryValue"`
	Event      string  `json:"event"` // open/update/close/liquidate
}
