package models

import "fmt"

// ConfigError 配置校验失败
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config error: %s", e.Msg)
	}
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Msg)
}

// InitError 网格初始化失败
type InitError struct {
	Msg   string
	Cause error
}

func (e *InitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("grid init failed: %s: %v", e.Msg, e.Cause)
	}
	return fmt.Sprintf("grid init failed: %s", e.Msg)
}

func (e *InitError) Unwrap() error { return e.Cause }

// PlacementError 下单失败
type PlacementError struct {
	Side  Side
	Price float64
	Cause error
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("order placement failed: %s @ %.8f: %v", e.Side, e.Price, e.Cause)
}

func (e *PlacementError) Unwrap() error { return e.Cause }

// SyncError 订单对账失败
type SyncError struct {
	Msg   string
	Cause error
}

func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("order sync failed: %s: %v", e.Msg, e.Cause)
	}
	return fmt.Sprintf("order sync failed: %s", e.Msg)
}

func (e *SyncError) Unwrap() error { return e.Cause }

// ConnectivityError 行情或账户推送通道失败
type ConnectivityError struct {
	Channel string
	Cause   error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity lost on %s: %v", e.Channel, e.Cause)
}

func (e *ConnectivityError) Unwrap() error { return e.Cause }

// InsufficientFundsError 可用余额不足
type InsufficientFundsError struct {
	Required  float64
	Available float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient balance: need %.4f, available %.4f", e.Required, e.Available)
}

// InvalidTransitionError 被拒绝的生命周期状态迁移
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid lifecycle transition: %s -> %s", e.From, e.To)
}

// APIError 交易所API返回的错误信息结构
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API Error: code=%d, msg=%s", e.Code, e.Msg)
}
