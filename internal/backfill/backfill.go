// Package backfill resolves the configured instruments against the feed,
// establishes the subscriptions and replays recent history so bus consumers
// start with warm k-line buffers.
package backfill

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"fxgateway/internal/feed"
	"fxgateway/internal/publish"
	"fxgateway/internal/state"
	"fxgateway/logger"
	"fxgateway/models"
)

// BarSink receives replayed historical bars. The gateway strategy implements
// it, applying the same subscription invariants as for live bars.
type BarSink interface {
	SubmitHistoricalBar(instrument string, period models.Period, bar feed.Bar)
}

type Coordinator struct {
	instruments []string
	periods     *state.PeriodSet
	subs        *state.SubscriptionSet
	sink        BarSink
	pub         *publish.Publisher
	log         *logger.Log

	// depth is the number of bars replayed per (instrument, period).
	depth        int64
	pollInterval time.Duration
	pollTimeout  time.Duration
	limiter      *rate.Limiter
}

func NewCoordinator(instruments []string, periods *state.PeriodSet, subs *state.SubscriptionSet,
	sink BarSink, pub *publish.Publisher, depth int, pollInterval, pollTimeout time.Duration,
	requestsPerSecond float64) *Coordinator {
	return &Coordinator{
		instruments:  instruments,
		periods:      periods,
		subs:         subs,
		sink:         sink,
		pub:          pub,
		log:          logger.GetLogger(),
		depth:        int64(depth),
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		limiter:      rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// Run performs one full subscription and backfill pass. It is launched once
// per confirmed session; failures on individual (instrument, period) pairs
// are reported and skipped, never fatal to the pass.
func (c *Coordinator) Run(ctx context.Context, fctx feed.Context) error {
	runID := uuid.New().String()
	log := c.log.WithComponent("backfill").WithFields(logger.Fields{"run_id": runID})
	log.Info("starting subscription and backfill pass")

	resolved := c.resolveInstruments(ctx, fctx)
	if len(resolved) == 0 {
		return fmt.Errorf("no valid instruments in configuration")
	}

	c.subs.Add(resolved...)
	if err := fctx.SetSubscribedInstruments(c.subs.Names()); err != nil {
		return fmt.Errorf("failed to subscribe instruments: %w", err)
	}

	c.pub.PublishInfo(ctx, "Successfully subscribed to instruments: "+strings.Join(c.subs.Names(), ", "))
	c.pub.PublishInfo(ctx, "Will process bars for periods: "+periodLabels(c.periods.Periods()))

	c.awaitSubscriptions(ctx, fctx, log)
	c.replayHistory(ctx, fctx, log)

	log.Info("subscription and backfill pass complete")
	return nil
}

// resolveInstruments validates the configured names against the feed.
// Unresolvable names are reported on gateway:error and dropped.
func (c *Coordinator) resolveInstruments(ctx context.Context, fctx feed.Context) []string {
	resolved := make([]string, 0, len(c.instruments))
	for _, name := range c.instruments {
		if name == "" {
			continue
		}
		if _, ok := fctx.ResolveInstrument(name); !ok {
			c.log.WithComponent("backfill").WithFields(logger.Fields{"instrument": name}).
				Warn("dropping invalid instrument from configuration")
			c.pub.PublishError(ctx, "Invalid instrument name in configuration: "+name)
			continue
		}
		resolved = append(resolved, name)
	}
	return resolved
}

// awaitSubscriptions polls until the feed confirms every requested
// instrument, or the poll timeout lapses. A timeout is logged and the pass
// continues; missing instruments simply receive no data.
func (c *Coordinator) awaitSubscriptions(ctx context.Context, fctx feed.Context, log *logger.Entry) {
	deadline := time.NewTimer(c.pollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		missing := c.missingSubscriptions(fctx)
		if len(missing) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			log.WithFields(logger.Fields{"missing": strings.Join(missing, ", ")}).
				Warn("feed did not confirm all subscriptions before timeout")
			return
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) missingSubscriptions(fctx feed.Context) []string {
	confirmed := make(map[string]struct{})
	for _, in := range fctx.SubscribedInstruments() {
		confirmed[in] = struct{}{}
	}
	var missing []string
	for _, in := range c.subs.Names() {
		if _, ok := confirmed[in]; !ok {
			missing = append(missing, in)
		}
	}
	return missing
}

// replayHistory fetches the most recent completed bars per (instrument,
// period) and feeds them through the sink oldest first. The window ends at
// the last completed bar boundary and spans depth bars.
func (c *Coordinator) replayHistory(ctx context.Context, fctx feed.Context, log *logger.Entry) {
	history := fctx.History()
	for _, instrument := range c.subs.Names() {
		for _, period := range c.periods.Periods() {
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}

			end, err := history.PreviousBarStart(period, fctx.Time())
			if err != nil {
				c.reportPairFailure(ctx, instrument, period, err)
				continue
			}
			from := end - c.depth*period.Duration().Milliseconds()

			bars, err := history.Bars(ctx, instrument, period, feed.AskSide, from, end)
			if err != nil {
				c.reportPairFailure(ctx, instrument, period, err)
				continue
			}
			for _, bar := range bars {
				c.sink.SubmitHistoricalBar(instrument, period, bar)
			}
			log.WithFields(logger.Fields{
				"instrument": instrument,
				"period":     period.Label(),
				"bars":       len(bars),
			}).Debug("replayed historical bars")
		}
	}
}

func (c *Coordinator) reportPairFailure(ctx context.Context, instrument string, period models.Period, err error) {
	c.log.WithComponent("backfill").WithFields(logger.Fields{
		"instrument": instrument,
		"period":     period.Label(),
	}).WithError(err).Warn("failed to load historical bars")
	c.pub.PublishError(ctx, fmt.Sprintf("Error preloading historical data for %s %s: %s",
		instrument, period.Label(), err.Error()))
}

func periodLabels(periods []models.Period) string {
	labels := make([]string, 0, len(periods))
	for _, p := range periods {
		labels = append(labels, p.Label())
	}
	return strings.Join(labels, ", ")
}
