package models

// GridMode 网格价格分布模式
type GridMode string

const (
	GridModeArithmetic GridMode = "arithmetic" // 等差网格
	GridModeGeometric  GridMode = "geometric"  // 等比网格
)

// GridDirection 网格交易方向
type GridDirection string

const (
	DirectionLong  GridDirection = "long"
	DirectionShort GridDirection = "short"
	DirectionBoth  GridDirection = "both"
)

// TPMode 止盈模式
type TPMode string

const (
	TPModeNextGrid TPMode = "next_grid" // 止盈价为相邻网格价
	TPModePercent  TPMode = "percent"   // 止盈价按百分比计算
)

// SLMode 止损模式
type SLMode string

const (
	SLModeNone    SLMode = "none"
	SLModeFixed   SLMode = "fixed"
	SLModePercent SLMode = "percent"
)

// HedgeMode 对冲模式
type HedgeMode string

const (
	HedgeModeDirect   HedgeMode = "direct"   // 1:1 对冲净仓位
	HedgeModeDynamic  HedgeMode = "dynamic"  // 按突破深度分级对冲
	HedgeModeReversal HedgeMode = "reversal" // 反向加倍对冲
)

// Config 机器人的完整配置
type Config struct {
	Symbol   string         `json:"symbol"`
	System   SystemConfig   `json:"system"`
	Log      LogConfig      `json:"log"`
	API      APIConfig      `json:"api"`
	Trading  TradingConfig  `json:"trading"`
	Grid     GridConfig     `json:"grid"`
	Risk     RiskConfig     `json:"risk"`
	Margin   MarginConfig   `json:"margin"`
	Hedge    HedgeConfig    `json:"hedge"`
	Strategy StrategyConfig `json:"strategy"`
}

// SystemConfig 系统运行参数
type SystemConfig struct {
	UpdateInterval    int    `json:"update_interval"`    // 主循环间隔(秒)
	ReconnectInterval int    `json:"reconnect_interval"` // WebSocket重连间隔(秒)
	DBPath            string `json:"db_path"`            // 状态数据库路径
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别: debug/info/warn/error
	Output     string `json:"output"`      // 输出模式: console/file/both
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件最大大小(MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件数量
	MaxAge     int    `json:"max_age"`     // 旧日志最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志
}

// APIConfig 交易所接入地址
type APIConfig struct {
	BaseURL      string `json:"base_url"`
	WSPublicURL  string `json:"ws_public_url"`
	WSPrivateURL string `json:"ws_private_url"`
}

// TradingConfig 交易开关
type TradingConfig struct {
	DryRun         bool          `json:"dry_run"`          // 模拟盘模式，订单进入虚拟订单簿
	GridDirection  GridDirection `json:"grid_direction"`   // long/short/both
	ClientIDPrefix string        `json:"client_id_prefix"` // 客户端订单号前缀
}

// GridConfig 网格参数
type GridConfig struct {
	UpperPrice           float64  `json:"upper_price"`
	LowerPrice           float64  `json:"lower_price"`
	GridLevels           int      `json:"grid_levels"` // 网格数(区间数)，价位数为 GridLevels+1
	GridMode             GridMode `json:"grid_mode"`
	MinPriceStep         float64  `json:"min_price_step"` // 交易所最小价格步进(tick)
	BaseOrderSize        float64  `json:"base_order_size"`
	ActiveReorder        bool     `json:"active_reorder"`         // 价格触及时主动补挂
	ReorderDistanceSteps int      `json:"reorder_distance_steps"` // 补挂的最小距离(平均步长倍数)
	TPMode               TPMode   `json:"tp_mode"`
	TakeProfitPct        float64  `json:"take_profit_pct"`
	SLMode               SLMode   `json:"sl_mode"`
	StopLossPct          float64  `json:"stop_loss_pct"`
	StopLossPrice        float64  `json:"stop_loss_price,omitempty"` // sl_mode=fixed 时必填
	RebalanceInterval    int      `json:"rebalance_interval"`        // 再平衡间隔(秒)
}

// RiskConfig 手续费与仓位风险参数
type RiskConfig struct {
	IncludeFees bool    `json:"include_fees"` // 下单量是否扣除往返手续费
	FeeSide     string  `json:"fee_side"`     // maker 或 taker
	MakerFeePct float64 `json:"maker_fee_pct"`
	TakerFeePct float64 `json:"taker_fee_pct"`
}

// MarginConfig 保证金配置
type MarginConfig struct {
	Mode     string `json:"mode"`     // CROSS 或 ISOLATION
	Leverage int    `json:"leverage"` // 1-125
}

// HedgeConfig 对冲配置
type HedgeConfig struct {
	Enabled         bool      `json:"enabled"`
	PreemptiveHedge bool      `json:"preemptive_hedge"` // 预防性对冲，跟随风险敞口
	Mode            HedgeMode `json:"mode"`
	TriggerOffset   float64   `json:"trigger_offset"` // 触发偏移(平均步长倍数)
	PartialLevels   []float64 `json:"partial_levels"` // dynamic 模式的分级比例
	CloseOnReentry  bool      `json:"close_on_reentry"`
	SizeMode        string    `json:"size_mode"` // net_position 或 fixed
	FixedSizeRatio  float64   `json:"fixed_size_ratio"`
}

// StrategyConfig 策略开关
type StrategyConfig struct {
	EntryOnTouch bool `json:"entry_on_touch"` // 价格触及空闲网格价位时补挂入场单
}
