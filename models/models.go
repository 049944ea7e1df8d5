package models

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// Tick is a single bid/ask quote update for an instrument.
type Tick struct {
	Instrument string  `msgpack:"instrument" json:"instrument"`
	Time       int64   `msgpack:"time" json:"time"`
	Ask        float64 `msgpack:"ask" json:"ask"`
	Bid        float64 `msgpack:"bid" json:"bid"`
}

// Bar is an OHLC aggregate for an instrument over a fixed period. Time is the
// bar-open time in epoch milliseconds. Period carries the compact label form.
type Bar struct {
	Instrument string  `msgpack:"instrument" json:"instrument"`
	Period     string  `msgpack:"period" json:"period"`
	Time       int64   `msgpack:"time" json:"time"`
	Open       float64 `msgpack:"open" json:"open"`
	Close      float64 `msgpack:"close" json:"close"`
	Low        float64 `msgpack:"low" json:"low"`
	High       float64 `msgpack:"high" json:"high"`
}

// OrderEvent is a snapshot of a feed message at the moment it was reported.
// Order fields are only populated when an order was attached to the message.
type OrderEvent struct {
	MessageID    string   `msgpack:"messageId" json:"messageId"`
	EventType    string   `msgpack:"eventType" json:"eventType"`
	CreationTime int64    `msgpack:"creationTime" json:"creationTime"`
	Reason       string   `msgpack:"reason,omitempty" json:"reason,omitempty"`
	OrderLabel   string   `msgpack:"orderLabel,omitempty" json:"orderLabel,omitempty"`
	Instrument   string   `msgpack:"instrument,omitempty" json:"instrument,omitempty"`
	OrderState   string   `msgpack:"orderState,omitempty" json:"orderState,omitempty"`
	OrderCommand string   `msgpack:"orderCommand,omitempty" json:"orderCommand,omitempty"`
	Amount       float64  `msgpack:"amount" json:"amount"`
	OpenPrice    float64  `msgpack:"openPrice" json:"openPrice"`
	FillTime     *int64   `msgpack:"fillTime,omitempty" json:"fillTime,omitempty"`
	ClosePrice   *float64 `msgpack:"closePrice,omitempty" json:"closePrice,omitempty"`
	CloseTime    *int64   `msgpack:"closeTime,omitempty" json:"closeTime,omitempty"`
}

// FallbackMessageID derives an event identifier for messages with no order
// attached: a hash of the content keyed by creation time.
func FallbackMessageID(creationTime int64, content string) string {
	h := fnv.New32a()
	h.Write([]byte(content))
	return fmt.Sprintf("msg_%d_%d", creationTime, h.Sum32())
}

// AccountStatus is a point-in-time account snapshot.
type AccountStatus struct {
	Balance float64 `msgpack:"balance" json:"balance"`
	Equity  float64 `msgpack:"equity" json:"equity"`
}

// GatewayStatus is emitted on session-level transitions.
type GatewayStatus struct {
	Service   string `msgpack:"service" json:"service"`
	Status    string `msgpack:"status" json:"status"`
	Message   string `msgpack:"message" json:"message"`
	Timestamp int64  `msgpack:"timestamp" json:"timestamp"`
}

const (
	StatusConnected    = "CONNECTED"
	StatusDisconnected = "DISCONNECTED"
)

func NewGatewayStatus(status, message string) GatewayStatus {
	return GatewayStatus{
		Service:   "gateway",
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}
}

// InstrumentInfo answers a system:request:instrument_info request.
type InstrumentInfo struct {
	Name        string  `msgpack:"name" json:"name"`
	Currency    string  `msgpack:"currency" json:"currency"`
	Pip         float64 `msgpack:"pip" json:"pip"`
	Point       float64 `msgpack:"point" json:"point"`
	Description string  `msgpack:"description" json:"description"`
}

// ChannelKey strips the "/" from an instrument name for use in bus channel
// and key names, e.g. "EUR/USD" -> "EURUSD".
func ChannelKey(instrument string) string {
	return strings.ReplaceAll(instrument, "/", "")
}
