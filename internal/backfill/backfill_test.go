package backfill

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"fxgateway/internal/bus"
	"fxgateway/internal/feed"
	"fxgateway/internal/publish"
	"fxgateway/internal/state"
	"fxgateway/models"
)

type stringBus struct {
	mu       sync.Mutex
	messages map[string][]string
}

func newStringBus() *stringBus { return &stringBus{messages: make(map[string][]string)} }

func (b *stringBus) Ping(ctx context.Context) error                                  { return nil }
func (b *stringBus) Publish(ctx context.Context, channel string, payload []byte) error { return nil }
func (b *stringBus) PublishString(ctx context.Context, channel, message string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[channel] = append(b.messages[channel], message)
	return nil
}
func (b *stringBus) PushBounded(ctx context.Context, key string, payload []byte, limit int64) error {
	return nil
}
func (b *stringBus) Range(ctx context.Context, key string) ([][]byte, error) { return nil, nil }
func (b *stringBus) Set(ctx context.Context, key, value string) error        { return nil }
func (b *stringBus) Subscribe(ctx context.Context, channels ...string) (bus.Subscription, error) {
	return nil, nil
}
func (b *stringBus) Close() error { return nil }

func (b *stringBus) on(channel string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.messages[channel]...)
}

type historyRequest struct {
	instrument string
	period     models.Period
	side       feed.OfferSide
	from, to   int64
}

type fakeHistory struct {
	mu       sync.Mutex
	requests []historyRequest
	bars     map[string][]feed.Bar
	failFor  string
}

func (h *fakeHistory) Bars(ctx context.Context, instrument string, period models.Period, side feed.OfferSide, from, to int64) ([]feed.Bar, error) {
	h.mu.Lock()
	h.requests = append(h.requests, historyRequest{instrument, period, side, from, to})
	h.mu.Unlock()
	if instrument == h.failFor {
		return nil, fmt.Errorf("history unavailable")
	}
	return h.bars[instrument], nil
}

func (h *fakeHistory) PreviousBarStart(period models.Period, t int64) (int64, error) {
	return t, nil
}

type fakeFeedContext struct {
	valid     map[string]bool
	confirmed []string
	history   *fakeHistory
	now       int64

	mu         sync.Mutex
	subscribed []string
}

func (c *fakeFeedContext) Engine() feed.Engine   { return nil }
func (c *fakeFeedContext) History() feed.History { return c.history }
func (c *fakeFeedContext) ResolveInstrument(name string) (feed.Instrument, bool) {
	if c.valid[name] {
		return nil, true
	}
	return nil, false
}
func (c *fakeFeedContext) SetSubscribedInstruments(instruments []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append([]string(nil), instruments...)
	return nil
}
func (c *fakeFeedContext) SubscribedInstruments() []string { return c.confirmed }
func (c *fakeFeedContext) Time() int64                     { return c.now }

type recordSink struct {
	mu   sync.Mutex
	bars []models.Bar
}

func (s *recordSink) SubmitHistoricalBar(instrument string, period models.Period, bar feed.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars = append(s.bars, models.Bar{
		Instrument: instrument,
		Period:     period.Label(),
		Time:       bar.Time,
		Open:       bar.Open,
		Close:      bar.Close,
		Low:        bar.Low,
		High:       bar.High,
	})
}

func TestRunSubscribesAndReplaysWindow(t *testing.T) {
	const now = int64(1700000000000)
	b := newStringBus()
	history := &fakeHistory{bars: map[string][]feed.Bar{
		"EUR/USD": {
			{Time: now - 120000, Open: 1.1, Close: 1.11, Low: 1.09, High: 1.12},
			{Time: now - 60000, Open: 1.11, Close: 1.12, Low: 1.1, High: 1.13},
		},
	}}
	fctx := &fakeFeedContext{
		valid:     map[string]bool{"EUR/USD": true},
		confirmed: []string{"EUR/USD"},
		history:   history,
		now:       now,
	}

	subs := state.NewSubscriptionSet()
	periods := state.NewPeriodSet([]models.Period{models.PeriodOneMin})
	sink := &recordSink{}
	c := NewCoordinator([]string{"EUR/USD", "BAD/XXX"}, periods, subs, sink,
		publish.NewPublisher(b, 5), 100, 10*time.Millisecond, 100*time.Millisecond, 1000)

	if err := c.Run(context.Background(), fctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !subs.Contains("EUR/USD") || subs.Contains("BAD/XXX") {
		t.Fatalf("unexpected subscription set: %v", subs.Names())
	}
	if len(fctx.subscribed) != 1 || fctx.subscribed[0] != "EUR/USD" {
		t.Fatalf("unexpected instruments requested from feed: %v", fctx.subscribed)
	}

	errs := b.on("gateway:error")
	if len(errs) != 1 || errs[0] != "Invalid instrument name in configuration: BAD/XXX" {
		t.Fatalf("unexpected error messages: %v", errs)
	}
	found := false
	for _, m := range b.on("gateway:info") {
		if strings.Contains(m, "Successfully subscribed to instruments: EUR/USD") {
			found = true
		}
	}
	if !found {
		t.Fatal("subscription confirmation not published on gateway:info")
	}

	if len(history.requests) != 1 {
		t.Fatalf("expected 1 history request, got %d", len(history.requests))
	}
	req := history.requests[0]
	if req.side != feed.AskSide {
		t.Fatalf("expected ask-side history, got %v", req.side)
	}
	if req.to != now {
		t.Fatalf("expected window ending at %d, got %d", now, req.to)
	}
	if want := now - 100*60000; req.from != want {
		t.Fatalf("expected window starting at %d, got %d", want, req.from)
	}

	if len(sink.bars) != 2 || sink.bars[0].Time != now-120000 || sink.bars[1].Time != now-60000 {
		t.Fatalf("bars must replay oldest first, got %+v", sink.bars)
	}
	if sink.bars[0].Period != "1Min" {
		t.Fatalf("unexpected period label %q", sink.bars[0].Period)
	}
}

func TestRunFailsWhenNoInstrumentResolves(t *testing.T) {
	b := newStringBus()
	fctx := &fakeFeedContext{valid: map[string]bool{}, history: &fakeHistory{}}
	c := NewCoordinator([]string{"BAD/XXX"}, state.NewPeriodSet([]models.Period{models.PeriodOneMin}),
		state.NewSubscriptionSet(), &recordSink{}, publish.NewPublisher(b, 5),
		100, 10*time.Millisecond, 50*time.Millisecond, 1000)

	if err := c.Run(context.Background(), fctx); err == nil {
		t.Fatal("expected error when no instrument resolves")
	}
}

func TestUnconfirmedSubscriptionTimesOutButProceeds(t *testing.T) {
	b := newStringBus()
	history := &fakeHistory{bars: map[string][]feed.Bar{}}
	fctx := &fakeFeedContext{
		valid:   map[string]bool{"EUR/USD": true},
		history: history,
		now:     1700000000000,
	}
	c := NewCoordinator([]string{"EUR/USD"}, state.NewPeriodSet([]models.Period{models.PeriodOneMin}),
		state.NewSubscriptionSet(), &recordSink{}, publish.NewPublisher(b, 5),
		100, 5*time.Millisecond, 30*time.Millisecond, 1000)

	start := time.Now()
	if err := c.Run(context.Background(), fctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("expected to wait out the poll timeout, returned after %s", elapsed)
	}
	if len(history.requests) != 1 {
		t.Fatalf("history should still be queried after timeout, got %d requests", len(history.requests))
	}
}

func TestPairFailureDoesNotAbortPass(t *testing.T) {
	const now = int64(1700000000000)
	b := newStringBus()
	history := &fakeHistory{
		failFor: "EUR/USD",
		bars: map[string][]feed.Bar{
			"GBP/USD": {{Time: now - 60000, Open: 1.2, Close: 1.21, Low: 1.19, High: 1.22}},
		},
	}
	fctx := &fakeFeedContext{
		valid:     map[string]bool{"EUR/USD": true, "GBP/USD": true},
		confirmed: []string{"EUR/USD", "GBP/USD"},
		history:   history,
		now:       now,
	}
	sink := &recordSink{}
	c := NewCoordinator([]string{"EUR/USD", "GBP/USD"}, state.NewPeriodSet([]models.Period{models.PeriodOneMin}),
		state.NewSubscriptionSet(), sink, publish.NewPublisher(b, 5),
		100, 10*time.Millisecond, 100*time.Millisecond, 1000)

	if err := c.Run(context.Background(), fctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(sink.bars) != 1 || sink.bars[0].Instrument != "GBP/USD" {
		t.Fatalf("expected the healthy pair replayed, got %+v", sink.bars)
	}
	foundErr := false
	for _, m := range b.on("gateway:error") {
		if strings.Contains(m, "EUR/USD") && strings.Contains(m, "history unavailable") {
			foundErr = true
		}
	}
	if !foundErr {
		t.Fatal("history failure not reported on gateway:error")
	}
}
