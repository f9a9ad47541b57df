package exchange

import (
	"bitunix-grid-bot-go/internal/models"
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// BitunixExchange 实现了 Exchange 接口，与交易所的合约REST API交互。
type BitunixExchange struct {
	apiKey     string
	secretKey  string
	baseURL    string
	marginCoin string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewBitunixExchange 创建一个新的实盘交易所客户端。
func NewBitunixExchange(apiKey, secretKey, baseURL string, logger *zap.SugaredLogger) *BitunixExchange {
	return &BitunixExchange{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		marginCoin: "USDT",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// apiResponse 交易所统一的响应包装
type apiResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// nonce 生成随机的32字符十六进制串
func nonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return fmt.Sprintf("%x", buf)
}

// sign 双重SHA256签名：digest = sha256(nonce+timestamp+apiKey+query+body)，
// sign = sha256(digest+secretKey)。
func (e *BitunixExchange) sign(nonceStr, timestamp, query, body string) string {
	digest := sha256.Sum256([]byte(nonceStr + timestamp + e.apiKey + query + body))
	final := sha256.Sum256([]byte(fmt.Sprintf("%x", digest) + e.secretKey))
	return fmt.Sprintf("%x", final)
}

// doRequest 通用请求处理：拼接参数、签名、发送并解包响应。
func (e *BitunixExchange) doRequest(method, endpoint string, params url.Values, body interface{}, signed bool) (json.RawMessage, error) {
	fullURL := e.baseURL + endpoint

	// 签名使用按key排序后 key+value 直接拼接的参数串
	var queryStr string
	if params != nil {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			queryStr += k + params.Get(k)
		}
		fullURL += "?" + params.Encode()
	}

	var bodyStr string
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化请求体失败: %w", err)
		}
		bodyStr = string(raw)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		n := nonce()
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("api-key", e.apiKey)
		req.Header.Set("nonce", n)
		req.Header.Set("timestamp", ts)
		req.Header.Set("sign", e.sign(n, ts, queryStr, bodyStr))
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("执行请求失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API请求失败, 状态码: %d, 响应: %s", resp.StatusCode, string(raw))
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	if envelope.Code != 0 {
		return nil, &models.APIError{Code: envelope.Code, Msg: envelope.Msg}
	}
	return envelope.Data, nil
}

// --- Exchange 接口实现 ---

// GetPrice 获取指定交易对的最新成交价。
func (e *BitunixExchange) GetPrice(symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbols", symbol)
	data, err := e.doRequest("GET", "/api/v1/futures/market/tickers", params, nil, false)
	if err != nil {
		return 0, err
	}

	var tickers []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	}
	if err := json.Unmarshal(data, &tickers); err != nil {
		return 0, err
	}
	for _, t := range tickers {
		if t.Symbol == symbol {
			return strconv.ParseFloat(t.LastPrice, 64)
		}
	}
	return 0, fmt.Errorf("未找到交易对 %s 的行情", symbol)
}

// GetAccount 获取USDT保证金账户余额。
func (e *BitunixExchange) GetAccount() (*models.AccountBalance, error) {
	params := url.Values{}
	params.Set("marginCoin", e.marginCoin)
	data, err := e.doRequest("GET", "/api/v1/futures/account", params, nil, true)
	if err != nil {
		return nil, err
	}

	var raw struct {
		MarginCoin string `json:"marginCoin"`
		Available  string `json:"available"`
		Frozen     string `json:"frozen"`
		Margin     string `json:"margin"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	available, _ := strconv.ParseFloat(raw.Available, 64)
	frozen, _ := strconv.ParseFloat(raw.Frozen, 64)
	margin, _ := strconv.ParseFloat(raw.Margin, 64)
	return &models.AccountBalance{MarginCoin: raw.MarginCoin, Available: available, Frozen: frozen, Margin: margin}, nil
}

// wireOrder 交易所返回的订单结构，数值均为字符串
type wireOrder struct {
	OrderID   string `json:"orderId"`
	ClientID  string `json:"clientId"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	OrderType string `json:"orderType"`
	Price     string `json:"price"`
	Qty       string `json:"qty"`
	Status    string `json:"status"`
	CTime     int64  `json:"ctime"`
}

func (w *wireOrder) toOrder() models.Order {
	price, _ := strconv.ParseFloat(w.Price, 64)
	qty, _ := strconv.ParseFloat(w.Qty, 64)
	return models.Order{
		OrderID:   w.OrderID,
		ClientID:  w.ClientID,
		Symbol:    w.Symbol,
		Side:      models.Side(w.Side),
		Type:      w.OrderType,
		Price:     price,
		Qty:       qty,
		Status:    w.Status,
		CreatedAt: w.CTime,
	}
}

// GetPendingOrders 获取指定交易对的全部未成交挂单。
func (e *BitunixExchange) GetPendingOrders(symbol string) ([]models.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := e.doRequest("GET", "/api/v1/futures/trade/get_pending_orders", params, nil, true)
	if err != nil {
		return nil, err
	}

	var raw struct {
		OrderList []wireOrder `json:"orderList"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	orders := make([]models.Order, 0, len(raw.OrderList))
	for i := range raw.OrderList {
		orders = append(orders, raw.OrderList[i].toOrder())
	}
	return orders, nil
}

// GetPositions 获取指定交易对的持仓列表。
func (e *BitunixExchange) GetPositions(symbol string) ([]models.Position, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := e.doRequest("GET", "/api/v1/futures/position/get_pending_positions", params, nil, true)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		PositionID string `json:"positionId"`
		Symbol     string `json:"symbol"`
		Side       string `json:"side"`
		Qty        string `json:"qty"`
		EntryValue string `json:"entryValue"`
		UnrealPnl  string `json:"unrealizedPNL"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	positions := make([]models.Position, 0, len(raw))
	for _, p := range raw {
		qty, _ := strconv.ParseFloat(p.Qty, 64)
		entry, _ := strconv.ParseFloat(p.EntryValue, 64)
		pnl, _ := strconv.ParseFloat(p.UnrealPnl, 64)
		positions = append(positions, models.Position{
			PositionID: p.PositionID,
			Symbol:     p.Symbol,
			Side:       models.Side(p.Side),
			Qty:        qty,
			EntryPrice: entry,
			UnrealPnl:  pnl,
		})
	}
	return positions, nil
}

// PlaceOrder 下单。价格和数量以字符串提交，避免浮点序列化误差。
func (e *BitunixExchange) PlaceOrder(req *models.OrderRequest) (*models.Order, error) {
	body := map[string]interface{}{
		"symbol":    req.Symbol,
		"side":      string(req.Side),
		"orderType": req.Type,
		"qty":       strconv.FormatFloat(req.Qty, 'f', -1, 64),
	}
	if req.Type == "LIMIT" {
		body["price"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}
	if req.ClientID != "" {
		body["clientId"] = req.ClientID
	}
	if req.TradeSide != "" {
		body["tradeSide"] = string(req.TradeSide)
	}
	if req.TakeProfit > 0 {
		body["tpPrice"] = strconv.FormatFloat(req.TakeProfit, 'f', -1, 64)
	}
	if req.StopLoss > 0 {
		body["slPrice"] = strconv.FormatFloat(req.StopLoss, 'f', -1, 64)
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}

	data, err := e.doRequest("POST", "/api/v1/futures/trade/place_order", nil, body, true)
	if err != nil {
		return nil, err
	}

	var result struct {
		OrderID  string `json:"orderId"`
		ClientID string `json:"clientId"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &models.Order{
		OrderID:   result.OrderID,
		ClientID:  result.ClientID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Price:     req.Price,
		Qty:       req.Qty,
		Status:    "open",
		TradeSide: req.TradeSide,
	}, nil
}

// ModifyOrder 修改挂单的价格、数量或止损。
func (e *BitunixExchange) ModifyOrder(req *models.ModifyRequest) error {
	body := map[string]interface{}{
		"symbol":  req.Symbol,
		"orderId": req.OrderID,
	}
	if req.Price > 0 {
		body["price"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}
	if req.Qty > 0 {
		body["qty"] = strconv.FormatFloat(req.Qty, 'f', -1, 64)
	}
	if req.StopLoss > 0 {
		body["slPrice"] = strconv.FormatFloat(req.StopLoss, 'f', -1, 64)
	}
	_, err := e.doRequest("POST", "/api/v1/futures/trade/modify_order", nil, body, true)
	return err
}

// CancelOrder 撤销单个挂单。
func (e *BitunixExchange) CancelOrder(symbol, orderID string) error {
	body := map[string]interface{}{
		"symbol":    symbol,
		"orderList": []map[string]string{{"orderId": orderID}},
	}
	_, err := e.doRequest("POST", "/api/v1/futures/trade/cancel_orders", nil, body, true)
	return err
}

// FlashClose 以市价立即平掉指定仓位。
func (e *BitunixExchange) FlashClose(symbol, positionID string) error {
	body := map[string]interface{}{
		"symbol":     symbol,
		"positionId": positionID,
	}
	_, err := e.doRequest("POST", "/api/v1/futures/trade/flash_close_position", nil, body, true)
	return err
}

// SetLeverage 设置杠杆倍数。
func (e *BitunixExchange) SetLeverage(symbol string, leverage int) error {
	body := map[string]interface{}{
		"symbol":     symbol,
		"marginCoin": e.marginCoin,
		"leverage":   leverage,
	}
	_, err := e.doRequest("POST", "/api/v1/futures/account/change_leverage", nil, body, true)
	return err
}

// StreamAuth 返回私有WebSocket频道的登录函数，在订阅前发送登录帧。
// 登录签名与REST相同，但query和body为空。
func (e *BitunixExchange) StreamAuth() func(*websocket.Conn) error {
	return func(conn *websocket.Conn) error {
		n := nonce()
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		login := map[string]interface{}{
			"op": "login",
			"args": []map[string]string{{
				"apiKey":    e.apiKey,
				"timestamp": ts,
				"nonce":     n,
				"sign":      e.sign(n, ts, "", ""),
			}},
		}
		return conn.WriteJSON(login)
	}
}

// SetMarginMode 设置保证金模式 (CROSS/ISOLATION)。
func (e *BitunixExchange) SetMarginMode(symbol, mode string) error {
	body := map[string]interface{}{
		"symbol":     symbol,
		"marginCoin": e.marginCoin,
		"marginMode": mode,
	}
	_, err := e.doRequest("POST", "/api/v1/futures/account/change_margin_mode", nil, body, true)
	return err
}
