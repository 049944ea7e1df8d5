// Package gateway implements the feed-facing strategy: callback filtering,
// the ordered hand-off onto the event lane, and the engine operations the
// command router invokes.
package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"fxgateway/internal/feed"
	"fxgateway/internal/lane"
	"fxgateway/internal/publish"
	"fxgateway/internal/state"
	"fxgateway/logger"
	"fxgateway/models"
)

// TickBroadcaster receives every published tick; the websocket hub implements
// it. May be nil when the websocket surface is disabled.
type TickBroadcaster interface {
	BroadcastTick(tick models.Tick)
}

// Strategy receives feed callbacks and serializes them onto the lane. It also
// carries the engine operations for inbound commands. Callbacks arrive
// concurrently from the feed's own threads.
type Strategy struct {
	subs    *state.SubscriptionSet
	periods *state.PeriodSet
	store   *state.Store
	pub     *publish.Publisher
	lane    *lane.Lane
	hub     TickBroadcaster
	log     *logger.Log

	// onStarted is invoked once per session start with the live feed context.
	onStarted func(feed.Context)

	mu   sync.RWMutex
	fctx feed.Context
}

func NewStrategy(subs *state.SubscriptionSet, periods *state.PeriodSet, store *state.Store, pub *publish.Publisher, l *lane.Lane, hub TickBroadcaster) *Strategy {
	return &Strategy{
		subs:    subs,
		periods: periods,
		store:   store,
		pub:     pub,
		lane:    l,
		hub:     hub,
		log:     logger.GetLogger(),
	}
}

// OnSessionStarted registers the hook the supervisor uses to trigger the
// backfill coordinator. Must be called before the session connects.
func (s *Strategy) OnSessionStarted(fn func(feed.Context)) {
	s.onStarted = fn
}

// Context returns the live feed context, or nil outside a session.
func (s *Strategy) Context() feed.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fctx
}

func (s *Strategy) OnStart(fctx feed.Context) error {
	s.mu.Lock()
	s.fctx = fctx
	s.mu.Unlock()

	s.log.WithComponent("strategy").Info("trading strategy started")

	ctx := context.Background()
	_ = s.pub.PublishGatewayStatus(ctx, models.NewGatewayStatus(models.StatusConnected,
		"Trading strategy started and connected to feed."))
	s.pub.PublishInfo(ctx, "Trading strategy started.")

	if s.onStarted != nil {
		s.onStarted(fctx)
	}
	return nil
}

func (s *Strategy) OnStop() error {
	s.log.WithComponent("strategy").Info("trading strategy stopped")

	ctx := context.Background()
	_ = s.pub.PublishGatewayStatus(ctx, models.NewGatewayStatus(models.StatusDisconnected,
		"Trading strategy stopped."))
	s.pub.PublishInfo(ctx, "Trading strategy stopped.")

	s.mu.Lock()
	s.fctx = nil
	s.mu.Unlock()
	return nil
}

// OnTick drops ticks for unsubscribed or incomplete records before they ever
// reach the lane.
func (s *Strategy) OnTick(instrument string, tick feed.Tick) {
	if instrument == "" || !s.subs.Contains(instrument) {
		return
	}

	dto := models.Tick{
		Instrument: instrument,
		Time:       tick.Time,
		Ask:        tick.Ask,
		Bid:        tick.Bid,
	}
	s.lane.Submit(lane.Job{Name: "tick:" + instrument, Run: func(ctx context.Context) error {
		s.store.RecordTick(instrument, dto)
		if err := s.pub.PublishTick(ctx, dto); err != nil {
			return err
		}
		if s.hub != nil {
			s.hub.BroadcastTick(dto)
		}
		return nil
	}})
}

// OnBar builds the bar from the bid side, mirroring the upstream feed
// convention, and drops bars for unconfigured periods.
func (s *Strategy) OnBar(instrument string, period models.Period, askBar, bidBar *feed.Bar) {
	if instrument == "" || bidBar == nil || !period.Valid() {
		return
	}
	if !s.subs.Contains(instrument) || !s.periods.Contains(period) {
		return
	}

	dto := models.Bar{
		Instrument: instrument,
		Period:     period.Label(),
		Time:       bidBar.Time,
		Open:       bidBar.Open,
		Close:      bidBar.Close,
		Low:        bidBar.Low,
		High:       bidBar.High,
	}
	s.submitBar(dto)
}

// SubmitHistoricalBar replays a backfilled bar through the lane under the
// same invariants as a live bar.
func (s *Strategy) SubmitHistoricalBar(instrument string, period models.Period, bar feed.Bar) {
	if instrument == "" || !s.subs.Contains(instrument) || !s.periods.Contains(period) {
		return
	}
	s.submitBar(models.Bar{
		Instrument: instrument,
		Period:     period.Label(),
		Time:       bar.Time,
		Open:       bar.Open,
		Close:      bar.Close,
		Low:        bar.Low,
		High:       bar.High,
	})
}

func (s *Strategy) submitBar(dto models.Bar) {
	s.lane.Submit(lane.Job{Name: "bar:" + dto.Instrument + ":" + dto.Period, Run: func(ctx context.Context) error {
		return s.store.RecordBar(ctx, dto.Instrument, dto)
	}})
}

func (s *Strategy) OnMessage(msg feed.Message) {
	event := newOrderEvent(msg)
	s.lane.Submit(lane.Job{Name: "order_event", Run: func(ctx context.Context) error {
		return s.pub.PublishOrderEvent(ctx, event)
	}})

	if msg.Order != nil && msg.Order.State() == feed.OrderFilled {
		s.log.WithComponent("strategy").WithFields(logger.Fields{
			"label": msg.Order.Label(),
		}).Info("order filled")
	}
}

func (s *Strategy) OnAccount(account feed.Account) {
	balance, equity := account.Balance, account.Equity
	s.lane.Submit(lane.Job{Name: "account_status", Run: func(ctx context.Context) error {
		return s.pub.PublishAccountStatus(ctx, balance, equity)
	}})
}

// newOrderEvent snapshots a feed message. Order fields stay zero when no
// order is attached; the message id then falls back to a content hash.
func newOrderEvent(msg feed.Message) models.OrderEvent {
	event := models.OrderEvent{
		EventType:    msg.Type,
		CreationTime: msg.CreationTime,
		Reason:       strings.Join(msg.Reasons, ", "),
	}

	if msg.Order == nil {
		event.MessageID = models.FallbackMessageID(msg.CreationTime, msg.Content)
		return event
	}

	order := msg.Order
	event.MessageID = order.ID()
	event.OrderLabel = order.Label()
	event.Instrument = order.Instrument()
	event.OrderState = string(order.State())
	event.OrderCommand = string(order.Command())
	event.Amount = order.Amount()
	event.OpenPrice = order.OpenPrice()
	if t, ok := order.FillTime(); ok {
		event.FillTime = &t
	}
	if p, ok := order.ClosePrice(); ok {
		event.ClosePrice = &p
	}
	if t, ok := order.CloseTime(); ok {
		event.CloseTime = &t
	}
	return event
}

func (s *Strategy) engine() (feed.Engine, error) {
	s.mu.RLock()
	fctx := s.fctx
	s.mu.RUnlock()
	if fctx == nil {
		return nil, fmt.Errorf("no live feed session")
	}
	return fctx.Engine(), nil
}

// ExecuteMarketOrder opens a market order. Absent slippage, stop loss and
// take profit default to zero; a missing label is synthesized.
func (s *Strategy) ExecuteMarketOrder(req models.OpenMarketOrderRequest) error {
	engine, err := s.engine()
	if err != nil {
		return err
	}

	var command feed.OrderCommand
	switch req.OrderType {
	case "BUY":
		command = feed.CommandBuy
	case "SELL":
		command = feed.CommandSell
	default:
		return fmt.Errorf("invalid order type '%s'", req.OrderType)
	}

	label := req.Label
	if label == "" {
		label = newLabel()
	}

	var slippage, stopLoss, takeProfit float64
	if req.Slippage != nil {
		slippage = *req.Slippage
	}
	if req.StopLossPrice != nil {
		stopLoss = *req.StopLossPrice
	}
	if req.TakeProfitPrice != nil {
		takeProfit = *req.TakeProfitPrice
	}

	_, err = engine.SubmitOrder(label, req.Instrument, command, req.Amount, 0, slippage, stopLoss, takeProfit)
	return err
}

// CloseMarketOrder is a no-op when the order id does not resolve.
func (s *Strategy) CloseMarketOrder(req models.CloseMarketOrderRequest) error {
	engine, err := s.engine()
	if err != nil {
		return err
	}
	order, err := engine.OrderByID(req.OrderID)
	if err != nil {
		return err
	}
	if order == nil {
		return nil
	}
	return order.Close()
}

// SubmitOrder places a pending order. Slippage does not apply to pending
// orders and is always zero.
func (s *Strategy) SubmitOrder(req models.SubmitOrderRequest) error {
	engine, err := s.engine()
	if err != nil {
		return err
	}

	command := feed.OrderCommand(req.OrderCommand)
	switch command {
	case feed.CommandBuy, feed.CommandSell, feed.CommandBuyLimit, feed.CommandSellLimit, feed.CommandBuyStop, feed.CommandSellStop:
	default:
		return fmt.Errorf("invalid order command '%s'", req.OrderCommand)
	}

	label := req.Label
	if label == "" {
		label = newLabel()
	}

	_, err = engine.SubmitOrder(label, req.Instrument, command, req.Amount, req.Price, 0, req.StopLossPrice, req.TakeProfitPrice)
	return err
}

// ModifyOrder applies stop loss and take profit only when positive; zero
// means "leave unchanged". Unknown order ids are a no-op.
func (s *Strategy) ModifyOrder(req models.ModifyOrderRequest) error {
	engine, err := s.engine()
	if err != nil {
		return err
	}
	order, err := engine.OrderByID(req.OrderID)
	if err != nil {
		return err
	}
	if order == nil {
		return nil
	}

	if req.StopLossPrice > 0 {
		if err := order.SetStopLossPrice(req.StopLossPrice); err != nil {
			return err
		}
	}
	if req.TakeProfitPrice > 0 {
		if err := order.SetTakeProfitPrice(req.TakeProfitPrice); err != nil {
			return err
		}
	}
	return nil
}

// CancelOrder closes the order only while it is still in the opened state;
// any other state, filled included, is a no-op rather than an error.
func (s *Strategy) CancelOrder(req models.CancelOrderRequest) error {
	engine, err := s.engine()
	if err != nil {
		return err
	}
	order, err := engine.OrderByID(req.OrderID)
	if err != nil {
		return err
	}
	if order == nil || order.State() != feed.OrderOpened {
		return nil
	}
	return order.Close()
}

// HandleInstrumentInfoRequest answers an instrument-info request, reporting
// every lookup gap on gateway:error with the instrument named.
func (s *Strategy) HandleInstrumentInfoRequest(ctx context.Context, req models.InstrumentInfoRequest) {
	if req.Instrument == "" {
		s.pub.PublishError(ctx, "Instrument name is null in InstrumentInfoRequest.")
		return
	}
	if req.RequestID == "" {
		s.pub.PublishError(ctx, "Request ID is null in InstrumentInfoRequest for instrument: "+req.Instrument)
		return
	}

	s.mu.RLock()
	fctx := s.fctx
	s.mu.RUnlock()
	if fctx == nil {
		s.pub.PublishError(ctx, "Error fetching instrument info for "+req.Instrument+": no live feed session.")
		return
	}

	instrument, ok := fctx.ResolveInstrument(req.Instrument)
	if !ok {
		s.pub.PublishError(ctx, "Instrument not found: "+req.Instrument)
		return
	}

	name := instrument.Name()
	primary := instrument.PrimaryCurrency()
	secondary := instrument.SecondaryCurrency()
	if name == "" || primary == "" || secondary == "" {
		s.pub.PublishError(ctx, "Error fetching instrument info for "+req.Instrument+
			": received null values from API for name or currency objects.")
		return
	}

	info := models.InstrumentInfo{
		Name:        name,
		Currency:    primary + "/" + secondary,
		Pip:         instrument.PipValue(),
		Point:       instrument.PipValue() / 10,
		Description: name,
	}
	if err := s.pub.PublishInstrumentInfo(ctx, info, req.RequestID); err != nil {
		s.pub.PublishError(ctx, "Error fetching instrument info for "+req.Instrument+": "+err.Error())
	}
}

func newLabel() string {
	return "Order-" + strconv.FormatInt(time.Now().UnixMilli(), 10)
}
