package market

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"tradewire/internal/model"
)

type countingFeed struct {
	calls int32
	fail  bool
	bars  []model.Kline
}

func (f *countingFeed) FetchKlines(_ context.Context, _, _ string, count int) ([]model.Kline, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.fail {
		return nil, errors.New("feed down")
	}
	if len(f.bars) > count {
		return f.bars[len(f.bars)-count:], nil
	}
	return f.bars, nil
}

func bars(n int) []model.Kline {
	out := make([]model.Kline, n)
	for i := range out {
		out[i] = model.Kline{Timestamp: time.Unix(int64(i)*60, 0), Close: 100 + float64(i)}
	}
	return out
}

func TestGetHistoricalBarsCaches(t *testing.T) {
	feed := &countingFeed{bars: bars(100)}
	m := NewKlineManager(feed)

	ctx := context.Background()
	first, err := m.GetHistoricalBars(ctx, "EURUSD", "M15", 50)
	if err != nil {
		t.Fatalf("GetHistoricalBars: %v", err)
	}
	if len(first) != 50 {
		t.Fatalf("len = %d, want 50", len(first))
	}
	if _, err := m.GetHistoricalBars(ctx, "EURUSD", "M15", 50); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if n := atomic.LoadInt32(&feed.calls); n != 1 {
		t.Fatalf("feed calls = %d, want 1 (second read from cache)", n)
	}
}

func TestGetHistoricalBarsFallsBackToStaleCache(t *testing.T) {
	feed := &countingFeed{bars: bars(100)}
	m := NewKlineManager(feed)
	ctx := context.Background()

	if _, err := m.GetHistoricalBars(ctx, "EURUSD", "M15", 100); err != nil {
		t.Fatalf("warm up: %v", err)
	}

	// feed 挂掉后，更大的请求穿透缓存失败，应退回旧数据
	feed.fail = true
	got, err := m.GetHistoricalBars(ctx, "EURUSD", "M15", 200)
	if err != nil {
		t.Fatalf("expected stale cache fallback, got %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("len = %d, want 100 cached bars", len(got))
	}
}

func TestGetHistoricalBarsErrorWithoutCache(t *testing.T) {
	feed := &countingFeed{fail: true}
	m := NewKlineManager(feed)
	if _, err := m.GetHistoricalBars(context.Background(), "EURUSD", "M15", 10); err == nil {
		t.Fatal("expected error when feed fails with empty cache")
	}
}

func TestTimeframeDuration(t *testing.T) {
	if timeframeDuration("H1").Minutes() != 60 {
		t.Fatal("H1 should be 60 minutes")
	}
	if timeframeDuration("bogus").Minutes() != 15 {
		t.Fatal("unknown timeframe should default to 15 minutes")
	}
}
