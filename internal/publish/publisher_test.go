package publish

import (
	"context"
	"sync"
	"testing"

	"fxgateway/internal/bus"
	"fxgateway/internal/codec"
	"fxgateway/models"
)

// fakeBus records every operation for assertions.
type fakeBus struct {
	mu        sync.Mutex
	published []bus.Message
	pushed    map[string][][]byte
	limits    map[string]int64
	sets      map[string]string
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		pushed: make(map[string][][]byte),
		limits: make(map[string]int64),
		sets:   make(map[string]string),
	}
}

func (f *fakeBus) Ping(ctx context.Context) error { return nil }

func (f *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, bus.Message{Channel: channel, Payload: payload})
	return nil
}

func (f *fakeBus) PublishString(ctx context.Context, channel, message string) error {
	return f.Publish(ctx, channel, []byte(message))
}

func (f *fakeBus) PushBounded(ctx context.Context, key string, payload []byte, limit int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := append([][]byte{payload}, f.pushed[key]...)
	if int64(len(entries)) > limit {
		entries = entries[:limit]
	}
	f.pushed[key] = entries
	f.limits[key] = limit
	return nil
}

func (f *fakeBus) Range(ctx context.Context, key string) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.pushed[key]...), nil
}

func (f *fakeBus) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets[key] = value
	return nil
}

func (f *fakeBus) Subscribe(ctx context.Context, channels ...string) (bus.Subscription, error) {
	return nil, nil
}

func (f *fakeBus) Close() error { return nil }

func (f *fakeBus) channels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.published))
	for _, m := range f.published {
		out = append(out, m.Channel)
	}
	return out
}

func TestPublishTickChannelName(t *testing.T) {
	fb := newFakeBus()
	p := NewPublisher(fb, 100)

	tick := models.Tick{Instrument: "EUR/USD", Time: 1, Ask: 1.1, Bid: 1.0}
	if err := p.PublishTick(context.Background(), tick); err != nil {
		t.Fatalf("PublishTick failed: %v", err)
	}

	chs := fb.channels()
	if len(chs) != 1 || chs[0] != "tick:EURUSD" {
		t.Errorf("unexpected channels: %v", chs)
	}
}

func TestPublishTickEmptyInstrument(t *testing.T) {
	fb := newFakeBus()
	p := NewPublisher(fb, 100)
	if err := p.PublishTick(context.Background(), models.Tick{}); err == nil {
		t.Fatalf("expected error for empty instrument")
	}
	if len(fb.channels()) != 0 {
		t.Errorf("nothing should have been published")
	}
}

func TestAddBarToKLineRoundTrip(t *testing.T) {
	fb := newFakeBus()
	p := NewPublisher(fb, 5)
	ctx := context.Background()

	bar := models.Bar{Instrument: "EUR/USD", Period: "1Min", Time: 60_000, Open: 1, Close: 2, Low: 0.5, High: 2.5}
	if err := p.AddBarToKLine(ctx, bar); err != nil {
		t.Fatalf("AddBarToKLine failed: %v", err)
	}
	if fb.limits["kline:EURUSD:1Min"] != 5 {
		t.Errorf("trim limit not forwarded: %v", fb.limits)
	}

	bars, err := p.KLine(ctx, "EUR/USD", "1Min")
	if err != nil {
		t.Fatalf("KLine failed: %v", err)
	}
	if len(bars) != 1 || bars[0] != bar {
		t.Errorf("unexpected bars: %+v", bars)
	}
}

func TestKLineDropsUndecodableEntries(t *testing.T) {
	fb := newFakeBus()
	p := NewPublisher(fb, 5)
	ctx := context.Background()

	good, err := codec.Encode(models.Bar{Instrument: "EUR/USD", Period: "1Min", Time: 1})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	fb.pushed["kline:EURUSD:1Min"] = [][]byte{good, {0xc1}}

	bars, err := p.KLine(ctx, "EUR/USD", "1Min")
	if err != nil {
		t.Fatalf("KLine failed: %v", err)
	}
	if len(bars) != 1 {
		t.Errorf("expected 1 decodable bar, got %d", len(bars))
	}
}

func TestPublishErrorUsesErrorChannel(t *testing.T) {
	fb := newFakeBus()
	p := NewPublisher(fb, 100)
	p.PublishError(context.Background(), "something broke")

	chs := fb.channels()
	if len(chs) != 1 || chs[0] != "gateway:error" {
		t.Errorf("unexpected channels: %v", chs)
	}
	if string(fb.published[0].Payload) != "something broke" {
		t.Errorf("unexpected payload: %s", fb.published[0].Payload)
	}
}

func TestSaveConfig(t *testing.T) {
	fb := newFakeBus()
	p := NewPublisher(fb, 100)
	ctx := context.Background()

	if err := p.SaveConfigInstruments(ctx, []string{"EUR/USD", "GBP/USD"}); err != nil {
		t.Fatalf("SaveConfigInstruments failed: %v", err)
	}
	if err := p.SaveConfigPeriods(ctx, []string{"ONE_MIN"}); err != nil {
		t.Fatalf("SaveConfigPeriods failed: %v", err)
	}
	if fb.sets["config:instruments"] != "EUR/USD,GBP/USD" {
		t.Errorf("unexpected instruments value: %s", fb.sets["config:instruments"])
	}
	if fb.sets["config:periods"] != "ONE_MIN" {
		t.Errorf("unexpected periods value: %s", fb.sets["config:periods"])
	}
}
