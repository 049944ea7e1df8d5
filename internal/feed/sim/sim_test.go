package sim

import (
	"context"
	"sync"
	"testing"
	"time"

	"fxgateway/internal/feed"
	"fxgateway/models"
)

type collectStrategy struct {
	mu    sync.Mutex
	ticks int
	fctx  feed.Context
}

func (s *collectStrategy) OnStart(fctx feed.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fctx = fctx
	return nil
}
func (s *collectStrategy) OnStop() error { return nil }
func (s *collectStrategy) OnTick(instrument string, tick feed.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
}
func (s *collectStrategy) OnBar(string, models.Period, *feed.Bar, *feed.Bar) {}
func (s *collectStrategy) OnMessage(feed.Message)                            {}
func (s *collectStrategy) OnAccount(feed.Account)                            {}

func (s *collectStrategy) tickCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

type connectListener struct {
	connected chan struct{}
}

func (l *connectListener) OnStart(int64) {}
func (l *connectListener) OnStop(int64)  {}
func (l *connectListener) OnConnect()    { l.connected <- struct{}{} }
func (l *connectListener) OnDisconnect() {}

func TestSessionDeliversTicks(t *testing.T) {
	client := NewClient()
	listener := &connectListener{connected: make(chan struct{}, 1)}
	client.SetSystemListener(listener)

	if err := client.Connect("sim", "", ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	select {
	case <-listener.connected:
	case <-time.After(time.Second):
		t.Fatal("OnConnect not signaled")
	}

	strategy := &collectStrategy{}
	id, err := client.StartStrategy(strategy)
	if err != nil {
		t.Fatalf("StartStrategy failed: %v", err)
	}
	if err := strategy.fctx.SetSubscribedInstruments([]string{"EUR/USD"}); err != nil {
		t.Fatalf("SetSubscribedInstruments failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for strategy.tickCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no ticks delivered")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := client.StopStrategy(id); err != nil {
		t.Fatalf("StopStrategy failed: %v", err)
	}
}

func TestResolveInstrument(t *testing.T) {
	fctx := newSimContext()

	in, ok := fctx.ResolveInstrument("EUR/USD")
	if !ok {
		t.Fatal("EUR/USD should resolve")
	}
	if in.PrimaryCurrency() != "EUR" || in.SecondaryCurrency() != "USD" || in.PipValue() != 0.0001 {
		t.Fatalf("unexpected metadata: %s %s %v", in.PrimaryCurrency(), in.SecondaryCurrency(), in.PipValue())
	}
	if _, ok := fctx.ResolveInstrument("NOT/REAL"); ok {
		t.Fatal("unknown instrument must not resolve")
	}
}

func TestMarketOrderFillsImmediately(t *testing.T) {
	engine := newSimContext().Engine()

	order, err := engine.SubmitOrder("lbl", "EUR/USD", feed.CommandBuy, 0.01, 0, 0, 0, 0)
	if err != nil {
		t.Fatalf("SubmitOrder failed: %v", err)
	}
	if order.State() != feed.OrderFilled {
		t.Fatalf("expected FILLED, got %s", order.State())
	}
	if _, ok := order.FillTime(); !ok {
		t.Fatal("filled order must carry a fill time")
	}

	pending, err := engine.SubmitOrder("lbl2", "EUR/USD", feed.CommandBuyLimit, 0.01, 1.05, 0, 0, 0)
	if err != nil {
		t.Fatalf("SubmitOrder failed: %v", err)
	}
	if pending.State() != feed.OrderOpened {
		t.Fatalf("expected OPENED, got %s", pending.State())
	}

	got, err := engine.OrderByID(order.ID())
	if err != nil || got == nil {
		t.Fatalf("OrderByID failed: %v %v", got, err)
	}
	missing, err := engine.OrderByID("nope")
	if err != nil || missing != nil {
		t.Fatalf("unknown id should return nil, nil; got %v %v", missing, err)
	}
}

func TestHistoryWindowBoundaries(t *testing.T) {
	h := &simHistory{}
	now := int64(1700000000000)

	end, err := h.PreviousBarStart(models.PeriodOneMin, now)
	if err != nil {
		t.Fatalf("PreviousBarStart failed: %v", err)
	}
	if end%60000 != 0 || end >= now {
		t.Fatalf("unexpected previous bar start %d for t=%d", end, now)
	}

	from := end - 100*60000
	bars, err := h.Bars(context.Background(), "EUR/USD", models.PeriodOneMin, feed.AskSide, from, end)
	if err != nil {
		t.Fatalf("Bars failed: %v", err)
	}
	if len(bars) != 101 {
		t.Fatalf("expected 101 bar boundaries in window, got %d", len(bars))
	}
	if bars[0].Time != from || bars[len(bars)-1].Time != end {
		t.Fatalf("unexpected bar range %d..%d", bars[0].Time, bars[len(bars)-1].Time)
	}
	for i := 1; i < len(bars); i++ {
		if bars[i].Time-bars[i-1].Time != 60000 {
			t.Fatalf("bars not on period boundaries at index %d", i)
		}
	}
}
