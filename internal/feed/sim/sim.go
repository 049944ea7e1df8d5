// Package sim is an in-process feed driver: a random-walk quote generator
// with an in-memory order engine and synthesized history. It exists so the
// gateway runs end to end without external session credentials.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fxgateway/internal/feed"
	"fxgateway/logger"
	"fxgateway/models"
)

const tickInterval = 100 * time.Millisecond

// barPeriods are the intervals the driver aggregates live bars for; the
// strategy drops anything it is not configured to process.
var barPeriods = []models.Period{models.PeriodTenSecs, models.PeriodOneMin}

type instrumentMeta struct {
	primary   string
	secondary string
	pip       float64
	basePrice float64
}

var knownInstruments = map[string]instrumentMeta{
	"EUR/USD": {"EUR", "USD", 0.0001, 1.0850},
	"GBP/USD": {"GBP", "USD", 0.0001, 1.2700},
	"AUD/USD": {"AUD", "USD", 0.0001, 0.6550},
	"USD/CHF": {"USD", "CHF", 0.0001, 0.8800},
	"USD/CAD": {"USD", "CAD", 0.0001, 1.3600},
	"USD/JPY": {"USD", "JPY", 0.01, 149.50},
	"GBP/JPY": {"GBP", "JPY", 0.01, 189.80},
	"EUR/JPY": {"EUR", "JPY", 0.01, 162.20},
}

// Client is the simulated feed session.
type Client struct {
	log *logger.Log

	mu        sync.Mutex
	listener  feed.SystemListener
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	strategyID int64
	strategy   feed.Strategy
	fctx       *simContext
}

func NewClient() *Client {
	return &Client{log: logger.GetLogger()}
}

func (c *Client) Connect(url, username, password string) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	c.connected = true
	listener := c.listener
	c.mu.Unlock()

	c.log.WithComponent("sim").WithFields(logger.Fields{"url": url}).Info("simulated session connected")
	if listener != nil {
		go listener.OnConnect()
	}
	return nil
}

func (c *Client) Reconnect() error {
	c.mu.Lock()
	c.connected = true
	listener := c.listener
	c.mu.Unlock()
	if listener != nil {
		go listener.OnConnect()
	}
	return nil
}

func (c *Client) Disconnect() {
	c.mu.Lock()
	c.connected = false
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) SetSystemListener(l feed.SystemListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

func (c *Client) StartStrategy(s feed.Strategy) (int64, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return 0, fmt.Errorf("not connected")
	}
	if c.strategy != nil {
		c.mu.Unlock()
		return 0, fmt.Errorf("a strategy is already running")
	}
	c.strategyID++
	id := c.strategyID
	c.strategy = s
	fctx := newSimContext()
	c.fctx = fctx
	listener := c.listener

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	if err := s.OnStart(fctx); err != nil {
		c.mu.Lock()
		c.strategy = nil
		c.fctx = nil
		c.cancel = nil
		c.mu.Unlock()
		cancel()
		return 0, fmt.Errorf("strategy start failed: %w", err)
	}

	c.wg.Add(1)
	go c.tickLoop(ctx, fctx, s)

	if listener != nil {
		listener.OnStart(id)
	}
	return id, nil
}

func (c *Client) StopStrategy(id int64) error {
	c.mu.Lock()
	if c.strategy == nil || id != c.strategyID {
		c.mu.Unlock()
		return fmt.Errorf("no running strategy with id %d", id)
	}
	s := c.strategy
	cancel := c.cancel
	listener := c.listener
	c.strategy = nil
	c.fctx = nil
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	if err := s.OnStop(); err != nil {
		c.log.WithComponent("sim").WithError(err).Warn("strategy stop reported error")
	}
	if listener != nil {
		listener.OnStop(id)
	}
	return nil
}

// tickLoop drives the random walk and bar aggregation for every subscribed
// instrument until the session stops.
func (c *Client) tickLoop(ctx context.Context, fctx *simContext, s feed.Strategy) {
	defer c.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UnixMilli()
			for _, name := range fctx.SubscribedInstruments() {
				tick, ok := fctx.walk(name, now)
				if !ok {
					continue
				}
				s.OnTick(name, tick)
				for _, bar := range fctx.aggregate(name, tick) {
					s.OnBar(name, bar.period, &bar.ask, &bar.bid)
				}
			}
		}
	}
}

type completedBar struct {
	period models.Period
	ask    feed.Bar
	bid    feed.Bar
}

type barBuilder struct {
	bucket   int64
	ask, bid feed.Bar
	primed   bool
}

type walkState struct {
	mid      float64
	pip      float64
	builders map[models.Period]*barBuilder
}

// simContext implements feed.Context for the simulated session.
type simContext struct {
	engine  *simEngine
	history *simHistory
	rng     *rand.Rand

	mu         sync.Mutex
	subscribed []string
	walks      map[string]*walkState
}

func newSimContext() *simContext {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	engine := &simEngine{orders: make(map[string]*simOrder)}
	return &simContext{
		engine:  engine,
		history: &simHistory{},
		rng:     rng,
		walks:   make(map[string]*walkState),
	}
}

func (c *simContext) Engine() feed.Engine   { return c.engine }
func (c *simContext) History() feed.History { return c.history }

func (c *simContext) ResolveInstrument(name string) (feed.Instrument, bool) {
	meta, ok := knownInstruments[strings.ToUpper(name)]
	if !ok {
		return nil, false
	}
	return &simInstrument{name: strings.ToUpper(name), meta: meta}, true
}

func (c *simContext) SetSubscribedInstruments(instruments []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range instruments {
		meta, ok := knownInstruments[name]
		if !ok {
			return fmt.Errorf("unknown instrument '%s'", name)
		}
		if _, exists := c.walks[name]; !exists {
			c.walks[name] = &walkState{
				mid:      meta.basePrice,
				pip:      meta.pip,
				builders: make(map[models.Period]*barBuilder),
			}
		}
	}
	c.subscribed = append([]string(nil), instruments...)
	return nil
}

func (c *simContext) SubscribedInstruments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscribed...)
}

func (c *simContext) Time() int64 { return time.Now().UnixMilli() }

// walk advances the instrument's mid price by a small random step and returns
// the resulting tick.
func (c *simContext) walk(name string, now int64) (feed.Tick, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.walks[name]
	if !ok {
		return feed.Tick{}, false
	}
	w.mid += (c.rng.Float64() - 0.5) * 10 * w.pip
	spread := 1.5 * w.pip
	return feed.Tick{
		Time: now,
		Ask:  w.mid + spread/2,
		Bid:  w.mid - spread/2,
	}, true
}

// aggregate folds the tick into the per-period bar builders and returns any
// bars completed by crossing a period boundary.
func (c *simContext) aggregate(name string, tick feed.Tick) []completedBar {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.walks[name]
	if !ok {
		return nil
	}

	var completed []completedBar
	for _, period := range barPeriods {
		ms := period.Duration().Milliseconds()
		bucket := tick.Time - tick.Time%ms
		b, exists := w.builders[period]
		if !exists {
			b = &barBuilder{}
			w.builders[period] = b
		}
		if b.primed && bucket != b.bucket {
			completed = append(completed, completedBar{period: period, ask: b.ask, bid: b.bid})
			b.primed = false
		}
		if !b.primed {
			b.bucket = bucket
			b.ask = feed.Bar{Time: bucket, Open: tick.Ask, Close: tick.Ask, Low: tick.Ask, High: tick.Ask}
			b.bid = feed.Bar{Time: bucket, Open: tick.Bid, Close: tick.Bid, Low: tick.Bid, High: tick.Bid}
			b.primed = true
			continue
		}
		updateBar(&b.ask, tick.Ask)
		updateBar(&b.bid, tick.Bid)
	}
	return completed
}

func updateBar(bar *feed.Bar, price float64) {
	bar.Close = price
	if price < bar.Low {
		bar.Low = price
	}
	if price > bar.High {
		bar.High = price
	}
}

type simInstrument struct {
	name string
	meta instrumentMeta
}

func (i *simInstrument) Name() string              { return i.name }
func (i *simInstrument) PrimaryCurrency() string   { return i.meta.primary }
func (i *simInstrument) SecondaryCurrency() string { return i.meta.secondary }
func (i *simInstrument) PipValue() float64         { return i.meta.pip }

var orderSeq atomic.Int64

type simOrder struct {
	mu         sync.Mutex
	id         string
	label      string
	instrument string
	state      feed.OrderState
	command    feed.OrderCommand
	amount     float64
	openPrice  float64
	fillTime   int64
	closePrice float64
	closeTime  int64
	sl, tp     float64
}

func (o *simOrder) ID() string    { return o.id }
func (o *simOrder) Label() string { return o.label }
func (o *simOrder) Instrument() string {
	return o.instrument
}
func (o *simOrder) State() feed.OrderState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}
func (o *simOrder) Command() feed.OrderCommand { return o.command }
func (o *simOrder) Amount() float64            { return o.amount }
func (o *simOrder) OpenPrice() float64         { return o.openPrice }

func (o *simOrder) FillTime() (int64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fillTime, o.fillTime != 0
}

func (o *simOrder) ClosePrice() (float64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closePrice, o.closeTime != 0
}

func (o *simOrder) CloseTime() (int64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closeTime, o.closeTime != 0
}

func (o *simOrder) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case feed.OrderClosed, feed.OrderCanceled:
		return fmt.Errorf("order %s already closed", o.id)
	case feed.OrderOpened:
		o.state = feed.OrderCanceled
	default:
		o.state = feed.OrderClosed
		o.closePrice = o.openPrice
	}
	o.closeTime = time.Now().UnixMilli()
	return nil
}

func (o *simOrder) SetStopLossPrice(price float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sl = price
	return nil
}

func (o *simOrder) SetTakeProfitPrice(price float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tp = price
	return nil
}

type simEngine struct {
	mu     sync.Mutex
	orders map[string]*simOrder
}

// SubmitOrder fills market orders immediately; pending orders rest in the
// opened state until closed or canceled.
func (e *simEngine) SubmitOrder(label, instrument string, command feed.OrderCommand, amount, price, slippage, stopLoss, takeProfit float64) (feed.Order, error) {
	if _, ok := knownInstruments[instrument]; !ok {
		return nil, fmt.Errorf("unknown instrument '%s'", instrument)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	now := time.Now().UnixMilli()
	order := &simOrder{
		id:         fmt.Sprintf("sim-%d", orderSeq.Add(1)),
		label:      label,
		instrument: instrument,
		command:    command,
		amount:     amount,
		openPrice:  price,
		sl:         stopLoss,
		tp:         takeProfit,
	}
	switch command {
	case feed.CommandBuy, feed.CommandSell:
		order.state = feed.OrderFilled
		order.openPrice = knownInstruments[instrument].basePrice
		order.fillTime = now
	default:
		order.state = feed.OrderOpened
	}

	e.mu.Lock()
	e.orders[order.id] = order
	e.mu.Unlock()
	return order, nil
}

func (e *simEngine) OrderByID(id string) (feed.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.orders[id]
	if !ok {
		return nil, nil
	}
	return order, nil
}

type simHistory struct{}

// PreviousBarStart returns the open time of the bar completed most recently
// before t.
func (h *simHistory) PreviousBarStart(period models.Period, t int64) (int64, error) {
	ms := period.Duration().Milliseconds()
	if ms == 0 {
		return 0, fmt.Errorf("unknown period '%s'", period)
	}
	return t - t%ms - ms, nil
}

// Bars synthesizes a deterministic random walk over [from, to], one bar per
// period boundary. The seed derives from the instrument so repeated requests
// agree with each other.
func (h *simHistory) Bars(ctx context.Context, instrument string, period models.Period, side feed.OfferSide, from, to int64) ([]feed.Bar, error) {
	meta, ok := knownInstruments[instrument]
	if !ok {
		return nil, fmt.Errorf("unknown instrument '%s'", instrument)
	}
	ms := period.Duration().Milliseconds()
	if ms == 0 {
		return nil, fmt.Errorf("unknown period '%s'", period)
	}
	if from > to {
		return nil, fmt.Errorf("invalid window: from %d after to %d", from, to)
	}

	var seed int64
	for _, r := range instrument {
		seed = seed*31 + int64(r)
	}
	rng := rand.New(rand.NewSource(seed))

	offset := 0.0
	if side == feed.AskSide {
		offset = meta.pip
	}

	price := meta.basePrice + offset
	var bars []feed.Bar
	for t := from - from%ms; t <= to; t += ms {
		if t < from {
			continue
		}
		open := price
		high := open
		low := open
		for i := 0; i < 4; i++ {
			price += (rng.Float64() - 0.5) * 10 * meta.pip
			if price > high {
				high = price
			}
			if price < low {
				low = price
			}
		}
		bars = append(bars, feed.Bar{Time: t, Open: open, Close: price, Low: low, High: high})
	}
	return bars, nil
}
