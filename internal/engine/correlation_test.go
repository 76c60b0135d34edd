package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"tradewire/internal/model"
)

func TestPearson(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{2, 4, 6, 8, 10}
	if c := pearson(a, b); math.Abs(c-1) > 1e-9 {
		t.Fatalf("perfect positive correlation = %v, want 1", c)
	}
	inv := []float64{10, 8, 6, 4, 2}
	if c := pearson(a, inv); math.Abs(c+1) > 1e-9 {
		t.Fatalf("perfect negative correlation = %v, want -1", c)
	}
	flat := []float64{3, 3, 3, 3, 3}
	if c := pearson(a, flat); c != 0 {
		t.Fatalf("zero-variance correlation = %v, want 0", c)
	}
}

func correlatedBars() *fakeBars {
	// EURUSD 和 GBPUSD 走势完全同步，USDJPY 独立
	mk := func(step func(i int) float64) []model.Kline {
		ks := make([]model.Kline, 60)
		price := 100.0
		for i := range ks {
			price += step(i)
			ks[i] = model.Kline{Timestamp: time.Unix(int64(i)*60, 0), Open: price, Close: price, High: price + 1, Low: price - 1, Vol: 10}
		}
		return ks
	}
	up := func(i int) float64 {
		if i%2 == 0 {
			return 1.0
		}
		return -0.4
	}
	zig := func(i int) float64 {
		if i%3 == 0 {
			return -0.8
		}
		return 0.3
	}
	return &fakeBars{series: map[string][]model.Kline{
		"EURUSD": mk(up),
		"GBPUSD": mk(up),
		"USDJPY": mk(zig),
	}}
}

func TestCorrelationFilterRejectsCorrelated(t *testing.T) {
	f := NewCorrelationFilter(model.CorrelationConfig{
		Enabled:        true,
		MaxCorrelation: 0.9,
		Lookback:       40,
	}, correlatedBars())

	open := []model.Position{{Symbol: "GBPUSD", Ticket: 1}}
	ok, reason := f.Allow(context.Background(), "EURUSD", "M15", open)
	if ok {
		t.Fatal("highly correlated entry must be rejected")
	}
	if reason == "" {
		t.Fatal("rejection must carry a reason")
	}
}

func TestCorrelationFilterAllowsIndependent(t *testing.T) {
	f := NewCorrelationFilter(model.CorrelationConfig{
		Enabled:        true,
		MaxCorrelation: 0.9,
		Lookback:       40,
	}, correlatedBars())

	open := []model.Position{{Symbol: "USDJPY", Ticket: 1}}
	if ok, _ := f.Allow(context.Background(), "EURUSD", "M15", open); !ok {
		t.Fatal("independent symbols must pass")
	}
}

func TestCorrelationFilterDisabledOrNoPositions(t *testing.T) {
	f := NewCorrelationFilter(model.CorrelationConfig{Enabled: false}, correlatedBars())
	if ok, _ := f.Allow(context.Background(), "EURUSD", "M15", []model.Position{{Symbol: "GBPUSD"}}); !ok {
		t.Fatal("disabled filter must pass everything")
	}

	on := NewCorrelationFilter(model.CorrelationConfig{Enabled: true, MaxCorrelation: 0.5}, correlatedBars())
	if ok, _ := on.Allow(context.Background(), "EURUSD", "M15", nil); !ok {
		t.Fatal("no open positions must pass")
	}
}

func TestCorrelationFilterCheckPairsScope(t *testing.T) {
	// GBPUSD 高度相关但不在 check_pairs 里，不检查
	f := NewCorrelationFilter(model.CorrelationConfig{
		Enabled:        true,
		MaxCorrelation: 0.9,
		CheckPairs:     []string{"USDJPY"},
		Lookback:       40,
	}, correlatedBars())

	open := []model.Position{{Symbol: "GBPUSD", Ticket: 1}}
	if ok, _ := f.Allow(context.Background(), "EURUSD", "M15", open); !ok {
		t.Fatal("symbols outside check_pairs must be ignored")
	}
}
