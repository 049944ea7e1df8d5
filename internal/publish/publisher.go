// Package publish owns the outward bus surface: channel naming, encoding and
// the single place where internal failures become gateway:error /
// gateway:info messages.
package publish

import (
	"context"
	"fmt"
	"strings"

	"fxgateway/internal/bus"
	"fxgateway/internal/codec"
	"fxgateway/logger"
	"fxgateway/models"
)

const (
	channelOrderEvent    = "order:event"
	channelAccountStatus = "account:status"
	channelGatewayStatus = "gateway:status"
	channelGatewayError  = "gateway:error"
	channelGatewayInfo   = "gateway:info"

	klineKeyPrefix = "kline"

	keyConfigInstruments = "config:instruments"
	keyConfigPeriods     = "config:periods"
)

type Publisher struct {
	bus        bus.Bus
	klineLimit int64
	log        *logger.Log
}

func NewPublisher(b bus.Bus, klineLimit int) *Publisher {
	return &Publisher{
		bus:        b,
		klineLimit: int64(klineLimit),
		log:        logger.GetLogger(),
	}
}

func tickChannel(instrument string) string {
	return "tick:" + models.ChannelKey(instrument)
}

func klineName(instrument, period string) string {
	return fmt.Sprintf("%s:%s:%s", klineKeyPrefix, models.ChannelKey(instrument), period)
}

// PublishTick publishes a tick on tick:{instrument}. Encode failures are
// logged and skipped, never fatal.
func (p *Publisher) PublishTick(ctx context.Context, tick models.Tick) error {
	if tick.Instrument == "" {
		return fmt.Errorf("cannot publish tick with empty instrument")
	}
	data, err := codec.Encode(tick)
	if err != nil {
		p.log.WithComponent("publisher").WithError(err).Warn("skipping tick publish")
		return nil
	}
	return p.bus.Publish(ctx, tickChannel(tick.Instrument), data)
}

// PublishBar publishes a bar on kline:{instrument}:{period}.
func (p *Publisher) PublishBar(ctx context.Context, bar models.Bar) error {
	if bar.Instrument == "" || bar.Period == "" {
		return fmt.Errorf("cannot publish bar with empty instrument/period")
	}
	data, err := codec.Encode(bar)
	if err != nil {
		p.log.WithComponent("publisher").WithError(err).Warn("skipping bar publish")
		return nil
	}
	return p.bus.Publish(ctx, klineName(bar.Instrument, bar.Period), data)
}

// AddBarToKLine pushes a bar onto the bounded k-line list and trims it to the
// storage limit.
func (p *Publisher) AddBarToKLine(ctx context.Context, bar models.Bar) error {
	if bar.Instrument == "" || bar.Period == "" {
		return fmt.Errorf("cannot store bar with empty instrument/period")
	}
	data, err := codec.Encode(bar)
	if err != nil {
		p.log.WithComponent("publisher").WithError(err).Warn("skipping k-line store")
		return nil
	}
	return p.bus.PushBounded(ctx, klineName(bar.Instrument, bar.Period), data, p.klineLimit)
}

// KLine reads the stored bars for an instrument and period label, most recent
// first. Undecodable entries are dropped.
func (p *Publisher) KLine(ctx context.Context, instrument, period string) ([]models.Bar, error) {
	entries, err := p.bus.Range(ctx, klineName(instrument, period))
	if err != nil {
		return nil, err
	}
	bars := make([]models.Bar, 0, len(entries))
	for _, e := range entries {
		var bar models.Bar
		if err := codec.Decode(e, &bar); err != nil {
			p.log.WithComponent("publisher").WithError(err).Warn("dropping undecodable k-line entry")
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func (p *Publisher) PublishOrderEvent(ctx context.Context, event models.OrderEvent) error {
	data, err := codec.Encode(event)
	if err != nil {
		p.log.WithComponent("publisher").WithError(err).Warn("skipping order event publish")
		return nil
	}
	return p.bus.Publish(ctx, channelOrderEvent, data)
}

func (p *Publisher) PublishAccountStatus(ctx context.Context, balance, equity float64) error {
	data, err := codec.Encode(models.AccountStatus{Balance: balance, Equity: equity})
	if err != nil {
		p.log.WithComponent("publisher").WithError(err).Warn("skipping account status publish")
		return nil
	}
	return p.bus.Publish(ctx, channelAccountStatus, data)
}

func (p *Publisher) PublishGatewayStatus(ctx context.Context, status models.GatewayStatus) error {
	data, err := codec.Encode(status)
	if err != nil {
		p.log.WithComponent("publisher").WithError(err).Warn("skipping gateway status publish")
		return nil
	}
	return p.bus.Publish(ctx, channelGatewayStatus, data)
}

func (p *Publisher) PublishInstrumentInfo(ctx context.Context, info models.InstrumentInfo, requestID string) error {
	data, err := codec.Encode(info)
	if err != nil {
		p.log.WithComponent("publisher").WithError(err).Warn("skipping instrument info publish")
		return nil
	}
	channel := fmt.Sprintf("info:instrument:response:%s", requestID)
	return p.bus.Publish(ctx, channel, data)
}

// PublishError reports a non-fatal failure on gateway:error. Transport
// problems here are logged only; there is nowhere further to report them.
func (p *Publisher) PublishError(ctx context.Context, message string) {
	if err := p.bus.PublishString(ctx, channelGatewayError, message); err != nil {
		p.log.WithComponent("publisher").WithError(err).Warn("failed to publish error message")
	}
}

func (p *Publisher) PublishInfo(ctx context.Context, message string) {
	if err := p.bus.PublishString(ctx, channelGatewayInfo, message); err != nil {
		p.log.WithComponent("publisher").WithError(err).Warn("failed to publish info message")
	}
}

// SaveConfigInstruments records the configured instrument list under
// config:instruments for bus consumers that bootstrap from it.
func (p *Publisher) SaveConfigInstruments(ctx context.Context, instruments []string) error {
	return p.bus.Set(ctx, keyConfigInstruments, strings.Join(instruments, ","))
}

func (p *Publisher) SaveConfigPeriods(ctx context.Context, periods []string) error {
	return p.bus.Set(ctx, keyConfigPeriods, strings.Join(periods, ","))
}
