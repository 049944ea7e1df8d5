package models

// CommandKind identifies an inbound bus command. The set is closed: the
// router's dispatch table is keyed by it and covers every kind.
type CommandKind int

const (
	CommandOpenOrder CommandKind = iota
	CommandCloseOrder
	CommandSubmitOrder
	CommandModifyOrder
	CommandCancelOrder
	CommandInstrumentInfo
)

func (k CommandKind) String() string {
	switch k {
	case CommandOpenOrder:
		return "open_order"
	case CommandCloseOrder:
		return "close_order"
	case CommandSubmitOrder:
		return "submit_order"
	case CommandModifyOrder:
		return "modify_order"
	case CommandCancelOrder:
		return "cancel_order"
	case CommandInstrumentInfo:
		return "instrument_info"
	default:
		return "unknown"
	}
}

// OpenMarketOrderRequest opens a market order. Label is optional; slippage,
// stop loss and take profit default to zero when absent.
type OpenMarketOrderRequest struct {
	Instrument      string   `msgpack:"instrument" json:"instrument"`
	OrderType       string   `msgpack:"orderType" json:"orderType"` // BUY or SELL
	Amount          float64  `msgpack:"amount" json:"amount"`
	Label           string   `msgpack:"label,omitempty" json:"label,omitempty"`
	Slippage        *float64 `msgpack:"slippage,omitempty" json:"slippage,omitempty"`
	StopLossPrice   *float64 `msgpack:"stopLossPrice,omitempty" json:"stopLossPrice,omitempty"`
	TakeProfitPrice *float64 `msgpack:"takeProfitPrice,omitempty" json:"takeProfitPrice,omitempty"`
}

type CloseMarketOrderRequest struct {
	OrderID string `msgpack:"orderId" json:"orderId"`
}

// SubmitOrderRequest places a pending (limit/stop) order.
type SubmitOrderRequest struct {
	RequestID       string  `msgpack:"requestId" json:"requestId"`
	Instrument      string  `msgpack:"instrument" json:"instrument"`
	OrderCommand    string  `msgpack:"orderCommand" json:"orderCommand"`
	Amount          float64 `msgpack:"amount" json:"amount"`
	Price           float64 `msgpack:"price" json:"price"`
	Label           string  `msgpack:"label,omitempty" json:"label,omitempty"`
	StopLossPrice   float64 `msgpack:"stopLossPrice" json:"stopLossPrice"`
	TakeProfitPrice float64 `msgpack:"takeProfitPrice" json:"takeProfitPrice"`
}

// ModifyOrderRequest adjusts stop loss and/or take profit. A zero price means
// "leave unchanged".
type ModifyOrderRequest struct {
	RequestID       string  `msgpack:"requestId" json:"requestId"`
	OrderID         string  `msgpack:"orderId" json:"orderId"`
	StopLossPrice   float64 `msgpack:"stopLossPrice" json:"stopLossPrice"`
	TakeProfitPrice float64 `msgpack:"takeProfitPrice" json:"takeProfitPrice"`
}

type CancelOrderRequest struct {
	RequestID string `msgpack:"requestId" json:"requestId"`
	OrderID   string `msgpack:"orderId" json:"orderId"`
}

type InstrumentInfoRequest struct {
	Instrument string `msgpack:"instrument" json:"instrument"`
	RequestID  string `msgpack:"requestId" json:"requestId"`
}
