// Package feed defines the boundary to the external trading session SDK. The
// gateway consumes these interfaces only; concrete drivers live in
// subpackages (the sim driver) or out of tree.
package feed

import (
	"context"

	"fxgateway/models"
)

// Tick is a quote update as delivered by the feed.
type Tick struct {
	Time int64
	Ask  float64
	Bid  float64
}

// Bar is an OHLC aggregate as delivered by the feed. Time is the bar-open
// time in epoch milliseconds.
type Bar struct {
	Time  int64
	Open  float64
	Close float64
	Low   float64
	High  float64
}

// OfferSide selects the ask or bid series for historical requests.
type OfferSide int

const (
	AskSide OfferSide = iota
	BidSide
)

// Account is a point-in-time account snapshot.
type Account struct {
	Balance float64
	Equity  float64
}

// Message is an order or session level event reported by the feed. Order is
// nil when no order is attached.
type Message struct {
	Type         string
	CreationTime int64
	Content      string
	Reasons      []string
	Order        Order
}

type OrderState string

const (
	OrderCreated  OrderState = "CREATED"
	OrderOpened   OrderState = "OPENED"
	OrderFilled   OrderState = "FILLED"
	OrderClosed   OrderState = "CLOSED"
	OrderCanceled OrderState = "CANCELED"
)

type OrderCommand string

const (
	CommandBuy       OrderCommand = "BUY"
	CommandSell      OrderCommand = "SELL"
	CommandBuyLimit  OrderCommand = "BUYLIMIT"
	CommandSellLimit OrderCommand = "SELLLIMIT"
	CommandBuyStop   OrderCommand = "BUYSTOP"
	CommandSellStop  OrderCommand = "SELLSTOP"
)

// Order is a live order handle. Mutators act on the feed engine directly.
type Order interface {
	ID() string
	Label() string
	Instrument() string
	State() OrderState
	Command() OrderCommand
	Amount() float64
	OpenPrice() float64
	FillTime() (int64, bool)
	ClosePrice() (float64, bool)
	CloseTime() (int64, bool)

	Close() error
	SetStopLossPrice(price float64) error
	SetTakeProfitPrice(price float64) error
}

// Engine exposes the feed's order operations.
type Engine interface {
	SubmitOrder(label, instrument string, command OrderCommand, amount, price, slippage, stopLoss, takeProfit float64) (Order, error)
	// OrderByID returns nil, nil when no order with that id exists.
	OrderByID(id string) (Order, error)
}

// Instrument is the feed's metadata view of a tradable symbol. Currency
// accessors return "" when the feed has no value.
type Instrument interface {
	Name() string
	PrimaryCurrency() string
	SecondaryCurrency() string
	PipValue() float64
}

// History exposes the feed's historical bar store.
type History interface {
	Bars(ctx context.Context, instrument string, period models.Period, side OfferSide, from, to int64) ([]Bar, error)
	// PreviousBarStart returns the open time of the most recently completed
	// bar for the period at time t (epoch millis).
	PreviousBarStart(period models.Period, t int64) (int64, error)
}

// Context is handed to the strategy when the session starts.
type Context interface {
	Engine() Engine
	History() History
	ResolveInstrument(name string) (Instrument, bool)
	SetSubscribedInstruments(instruments []string) error
	SubscribedInstruments() []string
	// Time is the feed's current time in epoch millis.
	Time() int64
}

// Strategy receives feed callbacks. The feed delivers them concurrently from
// its own internal threads; implementations must be safe for that.
type Strategy interface {
	OnStart(ctx Context) error
	OnStop() error
	OnTick(instrument string, tick Tick)
	OnBar(instrument string, period models.Period, askBar, bidBar *Bar)
	OnMessage(msg Message)
	OnAccount(account Account)
}

// SystemListener receives session lifecycle callbacks.
type SystemListener interface {
	OnStart(processID int64)
	OnStop(processID int64)
	OnConnect()
	OnDisconnect()
}

// Client owns the feed session.
type Client interface {
	Connect(url, username, password string) error
	Reconnect() error
	Disconnect()
	IsConnected() bool
	SetSystemListener(l SystemListener)
	StartStrategy(s Strategy) (int64, error)
	StopStrategy(id int64) error
}
