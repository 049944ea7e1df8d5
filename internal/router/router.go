// Package router subscribes to the inbound command channels and dispatches
// each command to the gateway's engine operations.
package router

import (
	"context"
	"fmt"
	"sync"

	"fxgateway/internal/bus"
	"fxgateway/internal/codec"
	"fxgateway/internal/publish"
	"fxgateway/logger"
	"fxgateway/models"
)

const (
	channelOpenOrder      = "order:open"
	channelCloseOrder     = "order:close"
	channelSubmitOrder    = "order:submit"
	channelModifyOrder    = "order:modify"
	channelCancelOrder    = "order:cancel"
	channelInstrumentInfo = "system:request:instrument_info"
)

var channelKinds = map[string]models.CommandKind{
	channelOpenOrder:      models.CommandOpenOrder,
	channelCloseOrder:     models.CommandCloseOrder,
	channelSubmitOrder:    models.CommandSubmitOrder,
	channelModifyOrder:    models.CommandModifyOrder,
	channelCancelOrder:    models.CommandCancelOrder,
	channelInstrumentInfo: models.CommandInstrumentInfo,
}

// Commands is the gateway surface the router drives. The strategy implements
// it against the live feed session.
type Commands interface {
	ExecuteMarketOrder(req models.OpenMarketOrderRequest) error
	CloseMarketOrder(req models.CloseMarketOrderRequest) error
	SubmitOrder(req models.SubmitOrderRequest) error
	ModifyOrder(req models.ModifyOrderRequest) error
	CancelOrder(req models.CancelOrderRequest) error
	HandleInstrumentInfoRequest(ctx context.Context, req models.InstrumentInfoRequest)
}

// Router consumes the command channels. Commands run on their own goroutines,
// independent of the market-data lane, so a slow engine call never stalls
// tick flow.
type Router struct {
	bus      bus.Bus
	commands Commands
	pub      *publish.Publisher
	log      *logger.Log

	mu      sync.Mutex
	running bool
	sub     bus.Subscription
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewRouter(b bus.Bus, commands Commands, pub *publish.Publisher) *Router {
	return &Router{
		bus:      b,
		commands: commands,
		pub:      pub,
		log:      logger.GetLogger(),
	}
}

func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("router already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub, err := r.bus.Subscribe(runCtx,
		channelOpenOrder, channelCloseOrder, channelSubmitOrder,
		channelModifyOrder, channelCancelOrder, channelInstrumentInfo)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to command channels: %w", err)
	}

	r.sub = sub
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go r.consume(runCtx, sub)

	r.log.WithComponent("router").Info("command router started")
	return nil
}

func (r *Router) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	sub := r.sub
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	if sub != nil {
		_ = sub.Close()
	}
	r.wg.Wait()
	r.log.WithComponent("router").Info("command router stopped")
}

func (r *Router) consume(ctx context.Context, sub bus.Subscription) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			r.wg.Add(1)
			go func(msg bus.Message) {
				defer r.wg.Done()
				r.dispatch(ctx, msg)
			}(msg)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, msg bus.Message) {
	kind, ok := channelKinds[msg.Channel]
	if !ok {
		r.log.WithComponent("router").WithFields(logger.Fields{"channel": msg.Channel}).
			Warn("message on unrouted channel")
		return
	}

	log := r.log.WithComponent("router").WithFields(logger.Fields{"command": kind.String()})
	log.Debug("dispatching command")

	var err error
	switch kind {
	case models.CommandOpenOrder:
		err = r.handleOpenOrder(msg.Payload)
	case models.CommandCloseOrder:
		err = r.handleCloseOrder(msg.Payload)
	case models.CommandSubmitOrder:
		err = r.handleSubmitOrder(msg.Payload)
	case models.CommandModifyOrder:
		err = r.handleModifyOrder(msg.Payload)
	case models.CommandCancelOrder:
		err = r.handleCancelOrder(msg.Payload)
	case models.CommandInstrumentInfo:
		err = r.handleInstrumentInfo(ctx, msg.Payload)
	}
	if err != nil {
		log.WithError(err).Error("command failed")
		r.pub.PublishError(ctx, fmt.Sprintf("Error processing %s command: %s", kind, err.Error()))
	}
}

func (r *Router) handleOpenOrder(payload []byte) error {
	var req models.OpenMarketOrderRequest
	if err := codec.Decode(payload, &req); err != nil {
		return fmt.Errorf("failed to decode open order request: %w", err)
	}
	if req.Instrument == "" {
		return fmt.Errorf("instrument is required")
	}
	if req.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return r.commands.ExecuteMarketOrder(req)
}

func (r *Router) handleCloseOrder(payload []byte) error {
	var req models.CloseMarketOrderRequest
	if err := codec.Decode(payload, &req); err != nil {
		return fmt.Errorf("failed to decode close order request: %w", err)
	}
	if req.OrderID == "" {
		return fmt.Errorf("orderId is required")
	}
	return r.commands.CloseMarketOrder(req)
}

func (r *Router) handleSubmitOrder(payload []byte) error {
	var req models.SubmitOrderRequest
	if err := codec.Decode(payload, &req); err != nil {
		return fmt.Errorf("failed to decode submit order request: %w", err)
	}
	if req.Instrument == "" {
		return fmt.Errorf("instrument is required")
	}
	if req.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return r.commands.SubmitOrder(req)
}

func (r *Router) handleModifyOrder(payload []byte) error {
	var req models.ModifyOrderRequest
	if err := codec.Decode(payload, &req); err != nil {
		return fmt.Errorf("failed to decode modify order request: %w", err)
	}
	if req.OrderID == "" {
		return fmt.Errorf("orderId is required")
	}
	return r.commands.ModifyOrder(req)
}

func (r *Router) handleCancelOrder(payload []byte) error {
	var req models.CancelOrderRequest
	if err := codec.Decode(payload, &req); err != nil {
		return fmt.Errorf("failed to decode cancel order request: %w", err)
	}
	if req.OrderID == "" {
		return fmt.Errorf("orderId is required")
	}
	return r.commands.CancelOrder(req)
}

// handleInstrumentInfo never returns a decode of the request as a command
// failure twice: the strategy reports its own lookup errors on gateway:error.
func (r *Router) handleInstrumentInfo(ctx context.Context, payload []byte) error {
	var req models.InstrumentInfoRequest
	if err := codec.Decode(payload, &req); err != nil {
		return fmt.Errorf("failed to decode instrument info request: %w", err)
	}
	r.commands.HandleInstrumentInfoRequest(ctx, req)
	return nil
}
