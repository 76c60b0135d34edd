package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"tradewire/conf"
	"tradewire/internal/model"
)

type fakeBars struct {
	mu     sync.Mutex
	series map[string][]model.Kline
}

func (f *fakeBars) GetHistoricalBars(_ context.Context, symbol, _ string, count int) ([]model.Kline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ks := f.series[symbol]
	if len(ks) > count {
		ks = ks[len(ks)-count:]
	}
	return ks, nil
}

type fakeSink struct {
	mu   sync.Mutex
	cmds []*model.TradeCommand
}

func (f *fakeSink) Push(_ context.Context, cmd *model.TradeCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return nil
}

func (f *fakeSink) all() []*model.TradeCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.TradeCommand, len(f.cmds))
	copy(out, f.cmds)
	return out
}

type fakeAccount struct {
	acct  model.AccountInfo
	stats model.TradeStats
	pos   []model.Position
}

func (f *fakeAccount) Account(context.Context) (model.AccountInfo, error) { return f.acct, nil }
func (f *fakeAccount) Stats(context.Context, string) (model.TradeStats, error) {
	return f.stats, nil
}
func (f *fakeAccount) OpenPositions(context.Context) ([]model.Position, error) {
	return f.pos, nil
}

func trendingKlines(n int) []model.Kline {
	ks := make([]model.Kline, n)
	price := 100.0
	for i := range ks {
		price += 0.5
		ks[i] = model.Kline{
			Timestamp: time.Unix(int64(i)*60, 0),
			Open:      price - 0.3,
			Close:     price,
			High:      price + 0.4,
			Low:       price - 0.6,
			Vol:       1000,
		}
	}
	return ks
}

func testStrategy() model.Strategy {
	return model.Strategy{
		ID:           "s-1",
		Name:         "test",
		Symbols:      []string{"EURUSD"},
		Timeframe:    "M15",
		MaxPositions: 2,
		Status:       model.StrategyActive,
		Sizing:       model.SizingConfig{Method: model.SizingFixedLot, FixedLot: 0.1},
		StopLoss:     model.StopSpec{Type: "atr", ATRMultiplier: 2},
		TakeProfit:   model.StopSpec{Type: "atr", ATRMultiplier: 4},
		EntryConditions: []model.Condition{
			{Indicator: "close", Comparison: model.CompGreaterThan, Value: 0.0, Enabled: true},
		},
		EntryLogic: model.LogicAnd,
	}
}

func newTestEngine(bars *fakeBars, sink *fakeSink, acct *fakeAccount) *Engine {
	return NewEngine(conf.EngineConfig{
		TickInterval:  time.Hour, // 测试里只靠 NotifyBar 驱动
		MinBars:       50,
		MaxConcurrent: 2,
	}, bars, sink, acct)
}

func TestStartStopStrategy(t *testing.T) {
	bars := &fakeBars{series: map[string][]model.Kline{"EURUSD": trendingKlines(60)}}
	sink := &fakeSink{}
	acct := &fakeAccount{acct: model.AccountInfo{Balance: 10000}}
	e := newTestEngine(bars, sink, acct)

	strat := testStrategy()
	if err := e.StartStrategy(strat); err != nil {
		t.Fatalf("StartStrategy: %v", err)
	}
	if e.Running() != 1 {
		t.Fatalf("Running = %d, want 1", e.Running())
	}
	if err := e.StartStrategy(strat); err != ErrStrategyRunning {
		t.Fatalf("duplicate start err = %v, want ErrStrategyRunning", err)
	}
	if err := e.StopStrategy(strat.ID); err != nil {
		t.Fatalf("StopStrategy: %v", err)
	}
	if e.Running() != 0 {
		t.Fatalf("Running = %d after stop, want 0", e.Running())
	}
	if err := e.StopStrategy(strat.ID); err != ErrStrategyNotFound {
		t.Fatalf("stop missing err = %v, want ErrStrategyNotFound", err)
	}
}

func TestInactiveStrategyRejected(t *testing.T) {
	e := newTestEngine(&fakeBars{}, &fakeSink{}, &fakeAccount{})
	strat := testStrategy()
	strat.Status = model.StrategyPaused
	if err := e.StartStrategy(strat); err == nil {
		t.Fatal("paused strategy must not start")
	}
}

func TestEntrySignalPushed(t *testing.T) {
	bars := &fakeBars{series: map[string][]model.Kline{"EURUSD": trendingKlines(60)}}
	sink := &fakeSink{}
	acct := &fakeAccount{acct: model.AccountInfo{Balance: 10000}}
	e := newTestEngine(bars, sink, acct)

	if err := e.StartStrategy(testStrategy()); err != nil {
		t.Fatalf("StartStrategy: %v", err)
	}
	defer e.StopAll()

	e.NotifyBar("EURUSD")

	waitFor(t, func() bool { return len(sink.all()) > 0 })
	cmd := sink.all()[0]
	if cmd.Type != model.CmdTradeSignal {
		t.Fatalf("Type = %s, want TRADE_SIGNAL", cmd.Type)
	}
	if cmd.Payload.Action != model.ActionOpenPosition {
		t.Fatalf("Action = %s, want OPEN_POSITION", cmd.Payload.Action)
	}
	if cmd.Payload.Volume != 0.1 {
		t.Fatalf("Volume = %v, want 0.1", cmd.Payload.Volume)
	}
	if cmd.Payload.StopLoss >= cmd.Payload.TakeProfit && cmd.Payload.Side == "buy" {
		t.Fatal("buy command must have stop below take profit")
	}
}

func TestExitBeatsEntryPriority(t *testing.T) {
	bars := &fakeBars{series: map[string][]model.Kline{"EURUSD": trendingKlines(60)}}
	sink := &fakeSink{}
	acct := &fakeAccount{
		acct: model.AccountInfo{Balance: 10000},
		pos: []model.Position{{
			Ticket: 77, Symbol: "EURUSD", StrategyID: "s-1", Side: "buy", Volume: 0.1,
		}},
	}
	e := newTestEngine(bars, sink, acct)

	strat := testStrategy()
	strat.ExitConditions = []model.Condition{
		{Indicator: "close", Comparison: model.CompGreaterThan, Value: 0.0, Enabled: true},
	}
	strat.ExitLogic = model.LogicAnd
	if err := e.StartStrategy(strat); err != nil {
		t.Fatalf("StartStrategy: %v", err)
	}
	defer e.StopAll()

	e.NotifyBar("EURUSD")
	waitFor(t, func() bool { return len(sink.all()) > 0 })

	var exit *model.TradeCommand
	for _, c := range sink.all() {
		if c.Payload.Action == model.ActionClosePosition {
			exit = c
		}
	}
	if exit == nil {
		t.Fatal("expected a CLOSE_POSITION command")
	}
	if exit.Priority != model.PriorityHigh {
		t.Fatalf("exit priority = %s, want HIGH", exit.Priority)
	}
	if exit.Payload.Ticket != 77 {
		t.Fatalf("exit ticket = %d, want 77", exit.Payload.Ticket)
	}
}

func TestMaxPositionsBlocksEntry(t *testing.T) {
	bars := &fakeBars{series: map[string][]model.Kline{"EURUSD": trendingKlines(60)}}
	sink := &fakeSink{}
	acct := &fakeAccount{
		acct: model.AccountInfo{Balance: 10000},
		pos: []model.Position{
			{Ticket: 1, Symbol: "EURUSD", StrategyID: "s-1"},
			{Ticket: 2, Symbol: "EURUSD", StrategyID: "s-1"},
		},
	}
	e := newTestEngine(bars, sink, acct)

	if err := e.StartStrategy(testStrategy()); err != nil {
		t.Fatalf("StartStrategy: %v", err)
	}
	defer e.StopAll()

	e.NotifyBar("EURUSD")
	time.Sleep(200 * time.Millisecond)
	for _, c := range sink.all() {
		if c.Payload.Action == model.ActionOpenPosition {
			t.Fatal("entry must be blocked at max positions")
		}
	}
}

func TestInsufficientBarsNoSignal(t *testing.T) {
	bars := &fakeBars{series: map[string][]model.Kline{"EURUSD": trendingKlines(10)}}
	sink := &fakeSink{}
	e := newTestEngine(bars, sink, &fakeAccount{acct: model.AccountInfo{Balance: 10000}})

	if err := e.StartStrategy(testStrategy()); err != nil {
		t.Fatalf("StartStrategy: %v", err)
	}
	defer e.StopAll()

	e.NotifyBar("EURUSD")
	time.Sleep(200 * time.Millisecond)
	if len(sink.all()) != 0 {
		t.Fatal("short history must not produce signals")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
