package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"bitunix-grid-bot-go/internal/bot"
	"bitunix-grid-bot-go/internal/config"
	"bitunix-grid-bot-go/internal/exchange"
	"bitunix-grid-bot-go/internal/logger"
	"bitunix-grid-bot-go/internal/models"
	"bitunix-grid-bot-go/internal/persistence"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	flag.Parse()

	// 为了在加载.env和配置阶段就能输出日志，先用默认配置初始化
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	// --- 加载 JSON 配置 ---
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.Log)
	defer logger.S().Sync()

	// 实盘模式必须提供API密钥，模拟盘只访问公开行情
	apiKey := os.Getenv("BITUNIX_API_KEY")
	secretKey := os.Getenv("BITUNIX_SECRET_KEY")
	if !cfg.Trading.DryRun && (apiKey == "" || secretKey == "") {
		logger.S().Fatal("错误：实盘模式下 BITUNIX_API_KEY 和 BITUNIX_SECRET_KEY 环境变量必须被设置。")
	}

	ex := exchange.NewBitunixExchange(apiKey, secretKey, cfg.API.BaseURL, logger.S())

	repo, err := persistence.NewBadgerRepository(cfg.System.DBPath)
	if err != nil {
		logger.S().Fatalf("初始化状态数据库失败: %v", err)
	}
	defer repo.Close()

	gridBot, err := bot.NewGridBot(cfg, ex, repo, logger.S())
	if err != nil {
		logger.S().Fatalf("初始化机器人失败: %v", err)
	}

	if err := gridBot.Start(); err != nil {
		logger.S().Fatalf("机器人启动失败: %v", err)
	}

	// 等待中断信号以实现优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	gridBot.Stop()
	logger.S().Info("机器人已成功停止，状态已保存。")
}
