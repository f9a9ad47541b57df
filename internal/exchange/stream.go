package exchange

import (
	"bitunix-grid-bot-go/internal/models"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsHeartbeatInterval = 3 * time.Second  // Ping发送间隔
	wsReconnectDelay    = 5 * time.Second  // 断线后的重连等待
	wsMaxReconnects     = 5                // 连续失败次数上限，超过后放弃并上报
	wsReadTimeout       = 30 * time.Second // 读超时，心跳回包会不断续期
	wsStartupDelay      = 2 * time.Second  // 登录后等待服务端确认再订阅
)

// Subscription 一个订阅条目
type Subscription struct {
	Channel string `json:"ch"`
	Symbol  string `json:"symbol,omitempty"`
}

// StreamHandler 接收某个频道的原始推送数据
type StreamHandler func(channel string, data json.RawMessage)

// Stream 维护一条WebSocket连接：拨号、登录、订阅、心跳、重连。
// 连续重连失败超过上限后调用 onDown 并退出，由上层决定是否重启。
type Stream struct {
	name    string
	url     string
	subs    []Subscription
	handler StreamHandler
	onDown  func(error)
	auth    func(*websocket.Conn) error // 私有频道的登录帧，可为nil
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	conn     *websocket.Conn
	stopChan chan struct{}
	running  bool
	wg       sync.WaitGroup
}

// NewStream 创建一条尚未启动的流
func NewStream(name, url string, subs []Subscription, handler StreamHandler, onDown func(error), logger *zap.SugaredLogger) *Stream {
	return &Stream{
		name:    name,
		url:     url,
		subs:    subs,
		handler: handler,
		onDown:  onDown,
		logger:  logger,
	}
}

// SetAuth 设置连接建立后、订阅前发送的登录逻辑
func (s *Stream) SetAuth(auth func(*websocket.Conn) error) {
	s.auth = auth
}

// Start 启动后台连接循环。重复调用无效果。
func (s *Stream) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	stop := make(chan struct{})
	s.stopChan = stop
	s.wg.Add(1)
	s.mu.Unlock()
	go s.run(stop)
}

// Stop 关闭流并等待连接循环完全退出，
// 保证随后的 Start 不会和旧循环并存。
func (s *Stream) Stop() {
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.stopChan)
		if s.conn != nil {
			s.conn.Close()
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Restart 重建连接循环（用于错误恢复）。Stop 会等旧循环退出，
// 因此对仍在运行的流调用也是安全的。
func (s *Stream) Restart() {
	s.Stop()
	s.Start()
}

func closed(stop chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// run 是连接守护循环。stop 是本次 Start 创建的停止信号，
// 循环只认这一个通道，避免和下一次 Start 换上的新通道混淆。
func (s *Stream) run(stop chan struct{}) {
	defer s.wg.Done()
	attempts := 0
	for {
		if closed(stop) {
			s.logger.Infof("%s 流已停止", s.name)
			return
		}

		conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
		if err != nil {
			attempts++
			s.logger.Warnf("%s 流连接失败 (%d/%d): %v", s.name, attempts, wsMaxReconnects, err)
			if attempts >= wsMaxReconnects {
				s.giveUp(err)
				return
			}
			time.Sleep(wsReconnectDelay)
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		if err := s.setup(conn); err != nil {
			s.logger.Warnf("%s 流初始化失败: %v", s.name, err)
			conn.Close()
			attempts++
			if attempts >= wsMaxReconnects {
				s.giveUp(err)
				return
			}
			time.Sleep(wsReconnectDelay)
			continue
		}

		attempts = 0
		s.logger.Infof("%s 流已连接并订阅 %d 个频道", s.name, len(s.subs))

		// readLoop阻塞直到连接断开
		err = s.readLoop(conn, stop)
		conn.Close()
		if closed(stop) {
			return
		}
		s.logger.Warnf("%s 流断开: %v，%s后重连...", s.name, err, wsReconnectDelay)
		attempts++
		if attempts >= wsMaxReconnects {
			s.giveUp(err)
			return
		}
		time.Sleep(wsReconnectDelay)
	}
}

func (s *Stream) giveUp(err error) {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	if s.onDown != nil {
		s.onDown(&models.ConnectivityError{Channel: s.name, Cause: err})
	}
}

// setup 登录（如果需要）并发送订阅帧
func (s *Stream) setup(conn *websocket.Conn) error {
	if s.auth != nil {
		if err := s.auth(conn); err != nil {
			return fmt.Errorf("登录失败: %w", err)
		}
		time.Sleep(wsStartupDelay)
	}
	sub := map[string]interface{}{
		"op":   "subscribe",
		"args": s.subs,
	}
	return conn.WriteJSON(sub)
}

// readLoop 为一条已建立的连接处理消息，并维持心跳。
// 每条连接有自己的ping goroutine，连接断开时一并退出。
func (s *Stream) readLoop(conn *websocket.Conn, stop chan struct{}) error {
	pingStop := make(chan struct{})
	defer close(pingStop)

	go func() {
		ticker := time.NewTicker(wsHeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ping := map[string]interface{}{"op": "ping", "ping": time.Now().Unix()}
				if err := conn.WriteJSON(ping); err != nil {
					return
				}
			case <-pingStop:
				return
			case <-stop:
				return
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	for {
		if closed(stop) {
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("读取消息失败: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var envelope struct {
			Op   string          `json:"op"`
			Ch   string          `json:"ch"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(message, &envelope); err != nil {
			s.logger.Debugf("%s 流收到无法解析的消息: %v", s.name, err)
			continue
		}
		if envelope.Op == "pong" || envelope.Ch == "pong" {
			continue
		}
		if envelope.Ch == "" || envelope.Data == nil {
			continue
		}
		s.handler(envelope.Ch, envelope.Data)
	}
}
