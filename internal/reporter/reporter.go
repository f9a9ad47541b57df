package reporter

import (
	"fmt"
	"os"
	"time"

	"bitunix-grid-bot-go/internal/models"
	"bitunix-grid-bot-go/internal/virtual"

	"github.com/jedib0t/go-pretty/v6/table"
)

// SessionReport 汇总一次模拟盘会话的运行结果
type SessionReport struct {
	Symbol     string
	StartTime  time.Time
	EndTime    time.Time
	LastPrice  float64
	Levels     int
	Stats      virtual.Stats
	GridStats  models.TradeStats
	OpenOrders []models.Order
	Positions  []virtual.Position
}

// Print 将会话报告以表格形式输出到终端
func (r *SessionReport) Print() {
	duration := r.EndTime.Sub(r.StartTime).Round(time.Second)

	summary := table.NewWriter()
	summary.SetOutputMirror(os.Stdout)
	summary.SetTitle("模拟盘会话报告 %s", r.Symbol)
	summary.AppendRows([]table.Row{
		{"运行时长", duration.String()},
		{"网格层数", r.Levels},
		{"最新价格", r.LastPrice},
	})
	summary.AppendSeparator()
	summary.AppendRows([]table.Row{
		{"成交次数", r.GridStats.Fills},
		{"平仓次数", r.Stats.Trades},
		{"补挂次数", r.GridStats.Rebuys},
		{"撤单次数", r.GridStats.Cancels},
	})
	summary.AppendSeparator()
	summary.AppendRows([]table.Row{
		{"盈利次数", r.Stats.Wins},
		{"亏损次数", r.Stats.Losses},
		{"胜率", percent(r.Stats.WinRate())},
		{"总盈亏", usdt(r.Stats.TotalPnl)},
		{"平均盈亏", usdt(r.Stats.AvgPnl())},
		{"最佳单笔", usdt(r.Stats.BestPnl)},
		{"最差单笔", usdt(r.Stats.WorstPnl)},
	})
	summary.SetStyle(table.StyleLight)
	summary.Render()

	if len(r.OpenOrders) > 0 {
		orders := table.NewWriter()
		orders.SetOutputMirror(os.Stdout)
		orders.SetTitle("会话结束时的未成交挂单")
		orders.AppendHeader(table.Row{"订单ID", "方向", "类型", "价格", "数量"})
		for _, o := range r.OpenOrders {
			orders.AppendRow(table.Row{o.OrderID, o.Side, o.Type, o.Price, o.Qty})
		}
		orders.SetStyle(table.StyleLight)
		orders.Render()
	}

	if len(r.Positions) > 0 {
		positions := table.NewWriter()
		positions.SetOutputMirror(os.Stdout)
		positions.SetTitle("会话结束时的未平仓位")
		positions.AppendHeader(table.Row{"仓位ID", "方向", "数量", "开仓价", "止盈", "止损"})
		for _, p := range r.Positions {
			positions.AppendRow(table.Row{p.ID, p.Side, p.Qty, p.FillPrice, p.TakeProfit, p.StopLoss})
		}
		positions.SetStyle(table.StyleLight)
		positions.Render()
	}
}

// BuildSessionReport 从虚拟撮合账本收集会话数据
func BuildSessionReport(cfg *models.Config, book *virtual.Book, gridStats models.TradeStats, lastPrice float64, start time.Time) *SessionReport {
	report := &SessionReport{
		Symbol:    cfg.Symbol,
		StartTime: start,
		EndTime:   time.Now(),
		LastPrice: lastPrice,
		Levels:    cfg.Grid.GridLevels,
		GridStats: gridStats,
	}
	if book != nil {
		report.Stats = book.Stats()
		report.OpenOrders = book.OpenOrders()
		report.Positions = book.OpenPositions()
	}
	return report
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v)
}

func usdt(v float64) string {
	return fmt.Sprintf("%.4f USDT", v)
}
