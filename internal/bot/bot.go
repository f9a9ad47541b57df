package bot

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"bitunix-grid-bot-go/internal/account"
	"bitunix-grid-bot-go/internal/exchange"
	"bitunix-grid-bot-go/internal/grid"
	"bitunix-grid-bot-go/internal/models"
	"bitunix-grid-bot-go/internal/persistence"
	"bitunix-grid-bot-go/internal/reporter"

	"go.uber.org/zap"
)

const (
	statusInterval   = 2 * time.Second   // 主循环检查间隔
	autoSyncInterval = 600 * time.Second // 定期对账间隔
	snapshotBuffer   = 64                // 待持久化快照的缓冲数量
)

// GridBot 把网格引擎、账户缓存、行情流和持久化组装成一个可运行的机器人。
type GridBot struct {
	cfg      *models.Config
	exchange exchange.Exchange
	manager  *grid.Manager
	account  *account.Sync
	repo     persistence.StateRepository
	logger   *zap.SugaredLogger

	pubStream  *exchange.Stream
	privStream *exchange.Stream // 模拟盘模式下为nil

	snapshots chan *models.BotState
	stopChan  chan struct{}
	wg        sync.WaitGroup

	mu        sync.Mutex
	isRunning bool
	startTime time.Time
}

// NewGridBot 创建机器人并完成各组件之间的接线。
func NewGridBot(cfg *models.Config, ex exchange.Exchange, repo persistence.StateRepository, logger *zap.SugaredLogger) (*GridBot, error) {
	b := &GridBot{
		cfg:       cfg,
		exchange:  ex,
		repo:      repo,
		logger:    logger,
		snapshots: make(chan *models.BotState, snapshotBuffer),
	}

	// HTTP兜底的挂单来源，账户缓存可用时优先走缓存
	fallback := func() ([]models.Order, error) {
		return ex.GetPendingOrders(cfg.Symbol)
	}

	mgr, err := grid.NewManager(cfg, ex, fallback, logger)
	if err != nil {
		return nil, err
	}
	b.manager = mgr

	b.account = account.New(ex, cfg.Symbol, logger)
	b.account.Attach(mgr)
	mgr.SetOrdersSource(b.account.OpenOrders)
	mgr.SetMutationHook(b.enqueueSnapshot)

	b.pubStream = exchange.NewStream("行情", cfg.API.WSPublicURL,
		[]exchange.Subscription{{Channel: "ticker", Symbol: cfg.Symbol}},
		b.handlePublic, b.handleStreamDown, logger)

	if !cfg.Trading.DryRun {
		b.privStream = exchange.NewStream("账户", cfg.API.WSPrivateURL,
			[]exchange.Subscription{
				{Channel: "balance"},
				{Channel: "order", Symbol: cfg.Symbol},
				{Channel: "position", Symbol: cfg.Symbol},
			},
			b.handlePrivate, b.handleStreamDown, logger)
		if bx, ok := ex.(*exchange.BitunixExchange); ok {
			b.privStream.SetAuth(bx.StreamAuth())
		}
	}

	return b, nil
}

// Start 启动机器人：保证金设置、余额检查、挂单恢复、行情订阅和后台循环。
func (b *GridBot) Start() error {
	b.mu.Lock()
	if b.isRunning {
		b.mu.Unlock()
		return fmt.Errorf("机器人已在运行")
	}
	b.isRunning = true
	b.startTime = time.Now()
	b.stopChan = make(chan struct{})
	b.mu.Unlock()

	// 上一次会话的状态仅用于展示，网格本身按当前配置重建
	if prev, err := b.repo.LoadState(); err != nil {
		b.logger.Warnf("读取历史状态失败: %v", err)
	} else if prev != nil {
		b.logger.Infof("发现上次会话状态: %s 截至 %s, 共 %d 个价位, 累计盈亏 %.4f",
			prev.Symbol, prev.LastUpdateTime.Format("2006-01-02 15:04:05"), len(prev.Levels), prev.Stats.TotalPnl)
	}

	price, err := b.exchange.GetPrice(b.cfg.Symbol)
	if err != nil {
		b.logger.Warnf("启动时获取价格失败, 等待行情推送: %v", err)
	}

	if !b.cfg.Trading.DryRun {
		if err := b.setupLive(price); err != nil {
			b.markStopped()
			return err
		}
	}

	if price > 0 {
		b.manager.Update(price)
	}

	b.pubStream.Start()
	if b.privStream != nil {
		b.privStream.Start()
	}

	b.wg.Add(2)
	go b.runLoop()
	go b.persistLoop()

	b.logger.Infof("网格机器人已启动: %s 模式=%s", b.cfg.Symbol,
		map[bool]string{true: "模拟盘", false: "实盘"}[b.cfg.Trading.DryRun])
	return nil
}

// setupLive 执行实盘启动前置步骤：保证金模式、杠杆、余额检查与挂单对账。
func (b *GridBot) setupLive(price float64) error {
	if err := b.exchange.SetMarginMode(b.cfg.Symbol, b.cfg.Margin.Mode); err != nil {
		b.logger.Warnf("设置保证金模式失败: %v", err)
	}
	if err := b.exchange.SetLeverage(b.cfg.Symbol, b.cfg.Margin.Leverage); err != nil {
		b.logger.Warnf("设置杠杆失败: %v", err)
	}

	if price <= 0 {
		price = (b.cfg.Grid.UpperPrice + b.cfg.Grid.LowerPrice) / 2
	}
	required := b.cfg.Grid.BaseOrderSize * float64(b.cfg.Grid.GridLevels) * price / float64(b.cfg.Margin.Leverage)
	if err := b.account.CheckBalance(required); err != nil {
		return fmt.Errorf("余额检查未通过 (需要约 %.4f USDT 保证金): %w", required, err)
	}

	if err := b.account.PreloadPendingOrders(); err != nil {
		b.logger.Warnf("预加载挂单失败, 首次对账将使用HTTP兜底: %v", err)
	}
	if report, err := b.manager.SyncOrders(false); err != nil {
		return fmt.Errorf("启动对账失败: %w", err)
	} else if report != nil {
		b.logger.Infof("启动对账完成: 匹配 %d, 补挂 %d, 多余 %d", report.Matched, report.Missing, report.Obsolete)
	}
	return nil
}

// handlePublic 处理公共频道推送，目前只有行情
func (b *GridBot) handlePublic(channel string, data json.RawMessage) {
	if channel != "ticker" {
		return
	}
	var tick struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	}
	if err := json.Unmarshal(data, &tick); err != nil {
		b.logger.Debugf("解析行情推送失败: %v", err)
		return
	}
	if tick.Symbol != "" && tick.Symbol != b.cfg.Symbol {
		return
	}
	price, err := strconv.ParseFloat(tick.LastPrice, 64)
	if err != nil || price <= 0 {
		return
	}
	b.manager.Update(price)
}

// handlePrivate 把账户频道推送分发给账户缓存
func (b *GridBot) handlePrivate(channel string, data json.RawMessage) {
	switch channel {
	case "balance":
		var w struct {
			Coin      string `json:"coin"`
			Available string `json:"available"`
			Frozen    string `json:"frozen"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return
		}
		available, _ := strconv.ParseFloat(w.Available, 64)
		frozen, _ := strconv.ParseFloat(w.Frozen, 64)
		b.account.OnBalance(models.BalanceEvent{Coin: w.Coin, Available: available, Frozen: frozen})

	case "order":
		var w struct {
			OrderID  string `json:"orderId"`
			ClientID string `json:"clientId"`
			Symbol   string `json:"symbol"`
			Side     string `json:"side"`
			Price    string `json:"price"`
			Qty      string `json:"qty"`
			Status   string `json:"status"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return
		}
		price, _ := strconv.ParseFloat(w.Price, 64)
		qty, _ := strconv.ParseFloat(w.Qty, 64)
		b.account.OnOrder(models.OrderEvent{
			OrderID:  w.OrderID,
			ClientID: w.ClientID,
			Symbol:   w.Symbol,
			Side:     models.Side(w.Side),
			Price:    price,
			Qty:      qty,
			Status:   w.Status,
		})

	case "position":
		var w struct {
			PositionID string `json:"positionId"`
			Symbol     string `json:"symbol"`
			Side       string `json:"side"`
			Qty        string `json:"qty"`
			EntryPrice string `json:"entryValue"`
			Event      string `json:"event"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return
		}
		qty, _ := strconv.ParseFloat(w.Qty, 64)
		entry, _ := strconv.ParseFloat(w.EntryPrice, 64)
		b.account.OnPosition(models.PositionEvent{
			PositionID: w.PositionID,
			Symbol:     w.Symbol,
			Side:       models.Side(w.Side),
			Qty:        qty,
			EntryPrice: entry,
			Event:      w.Event,
		})
	}
}

// handleStreamDown 在流放弃重连后触发：标记账户缓存降级并熔断引擎。
// 主循环会在重试窗口打开后重启流并恢复引擎。
func (b *GridBot) handleStreamDown(err error) {
	b.logger.Errorf("行情/账户流中断: %v", err)
	b.account.MarkDisconnected()
	b.manager.HandleError(err)
}

// runLoop 是机器人的主循环：状态打印、错误恢复和定期对账。
func (b *GridBot) runLoop() {
	defer b.wg.Done()

	statusTicker := time.NewTicker(statusInterval)
	defer statusTicker.Stop()
	syncTicker := time.NewTicker(autoSyncInterval)
	defer syncTicker.Stop()

	for {
		select {
		case <-b.stopChan:
			return

		case <-statusTicker.C:
			lc := b.manager.Lifecycle()
			switch lc.State() {
			case grid.StateError:
				if lc.CanRetry() {
					b.logger.Infof("重试窗口已打开, 尝试从错误中恢复: %s", lc.ErrorMessage())
					b.restartStreams()
					if err := b.manager.Recover(); err != nil {
						b.logger.Warnf("恢复失败: %v", err)
					}
				}
			case grid.StateActive:
				b.manager.LogStatus()
			}

		case <-syncTicker.C:
			if !b.manager.Lifecycle().IsActive() {
				continue
			}
			report, err := b.manager.SyncOrders(true)
			if err != nil {
				b.logger.Warnf("定期对账失败: %v", err)
				continue
			}
			if report != nil && (report.Missing > 0 || report.Obsolete > 0) {
				b.logger.Warnf("定期对账发现偏差: 匹配 %d, 缺失 %d, 多余 %d", report.Matched, report.Missing, report.Obsolete)
			}
		}
	}
}

// restartStreams 在错误恢复时重建WebSocket连接
func (b *GridBot) restartStreams() {
	b.pubStream.Restart()
	if b.privStream != nil {
		b.privStream.Restart()
	}
}

// persistLoop 异步消费状态快照并写入数据库，避免阻塞交易路径。
func (b *GridBot) persistLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.stopChan:
			// 停止前清空积压的快照
			for {
				select {
				case state := <-b.snapshots:
					b.saveState(state)
				default:
					return
				}
			}
		case state := <-b.snapshots:
			b.saveState(state)
		}
	}
}

func (b *GridBot) saveState(state *models.BotState) {
	if err := b.repo.SaveState(state); err != nil {
		b.logger.Warnf("保存状态失败: %v", err)
	}
}

// enqueueSnapshot 接收引擎的变更快照。缓冲满时直接丢弃，
// 后续快照总会带上最新的完整状态。
func (b *GridBot) enqueueSnapshot(state *models.BotState) {
	select {
	case b.snapshots <- state:
	default:
		b.logger.Debugf("快照缓冲已满, 丢弃一次持久化")
	}
}

func (b *GridBot) markStopped() {
	b.mu.Lock()
	b.isRunning = false
	b.mu.Unlock()
}

// Stop 停止机器人：撤单、平对冲、保存最终状态，模拟盘模式下输出会话报告。
func (b *GridBot) Stop() {
	b.mu.Lock()
	if !b.isRunning {
		b.mu.Unlock()
		return
	}
	b.isRunning = false
	close(b.stopChan)
	b.mu.Unlock()

	b.pubStream.Stop()
	if b.privStream != nil {
		b.privStream.Stop()
	}
	b.wg.Wait()

	b.manager.Stop()

	final := b.manager.Snapshot()
	b.saveState(final)

	if b.cfg.Trading.DryRun {
		report := reporter.BuildSessionReport(b.cfg, b.manager.Book(), final.Stats, b.manager.CurrentPrice(), b.startTime)
		report.Print()
	}
	b.logger.Infof("网格机器人已停止")
}
