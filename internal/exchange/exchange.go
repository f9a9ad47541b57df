package exchange

import "bitunix-grid-bot-go/internal/models"

// Exchange 定义了所有交易所实现必须提供的通用方法。
// 网格引擎只依赖这个接口，实盘与模拟盘可以轻松切换。
type Exchange interface {
	GetPrice(symbol string) (float64, error)
	GetAccount() (*models.AccountBalance, error)
	GetPendingOrders(symbol string) ([]models.Order, error)
	GetPositions(symbol string) ([]models.Position, error)
	PlaceOrder(req *models.OrderRequest) (*models.Order, error)
	ModifyOrder(req *models.ModifyRequest) error
	CancelOrder(symbol string, orderID string) error
	FlashClose(symbol string, positionID string) error
	SetLeverage(symbol string, leverage int) error
	SetMarginMode(symbol string, mode string) error
}
