package account

import (
	"context"
	"math"
	"testing"

	"tradewire/internal/model"
)

func TestAccountDrawdownTracking(t *testing.T) {
	tr := NewTracker()
	ctx := context.Background()

	tr.UpdateAccount(model.AccountInfo{Balance: 10000, Equity: 10000})
	acct, _ := tr.Account(ctx)
	if acct.CurrentDrawdown != 0 {
		t.Fatalf("drawdown = %v, want 0 at peak", acct.CurrentDrawdown)
	}

	tr.UpdateAccount(model.AccountInfo{Balance: 9000, Equity: 9000})
	acct, _ = tr.Account(ctx)
	if math.Abs(acct.CurrentDrawdown-0.1) > 1e-9 {
		t.Fatalf("drawdown = %v, want 0.1", acct.CurrentDrawdown)
	}

	// 权益创新高后回撤清零
	tr.UpdateAccount(model.AccountInfo{Balance: 11000, Equity: 11000})
	acct, _ = tr.Account(ctx)
	if acct.CurrentDrawdown != 0 {
		t.Fatalf("drawdown = %v, want 0 at new peak", acct.CurrentDrawdown)
	}
}

func TestPositionLifecycle(t *testing.T) {
	tr := NewTracker()
	ctx := context.Background()

	tr.RecordOpen(model.Position{Ticket: 1, Symbol: "EURUSD", StrategyID: "s-1"})
	tr.RecordOpen(model.Position{Ticket: 2, Symbol: "GBPUSD", StrategyID: "s-1"})

	pos, _ := tr.OpenPositions(ctx)
	if len(pos) != 2 {
		t.Fatalf("open positions = %d, want 2", len(pos))
	}

	tr.RecordClose(1, 120)
	pos, _ = tr.OpenPositions(ctx)
	if len(pos) != 1 || pos[0].Ticket != 2 {
		t.Fatalf("remaining positions = %+v, want ticket 2", pos)
	}

	// 找不到的ticket不影响状态
	tr.RecordClose(99, 10)
	pos, _ = tr.OpenPositions(ctx)
	if len(pos) != 1 {
		t.Fatalf("positions = %d after bogus close, want 1", len(pos))
	}
}

func TestStatsComputation(t *testing.T) {
	tr := NewTracker()
	ctx := context.Background()

	profits := []float64{100, -50, 200, -50, 100}
	for i, p := range profits {
		ticket := int64(i + 1)
		tr.RecordOpen(model.Position{Ticket: ticket, Symbol: "EURUSD", StrategyID: "s-1"})
		tr.RecordClose(ticket, p)
	}

	st, _ := tr.Stats(ctx, "s-1")
	if st.SampleSize != 5 {
		t.Fatalf("SampleSize = %d, want 5", st.SampleSize)
	}
	if math.Abs(st.WinRate-0.6) > 1e-9 {
		t.Fatalf("WinRate = %v, want 0.6", st.WinRate)
	}
	if math.Abs(st.AvgWin-400.0/3) > 1e-9 {
		t.Fatalf("AvgWin = %v, want %v", st.AvgWin, 400.0/3)
	}
	if math.Abs(st.AvgLoss-50) > 1e-9 {
		t.Fatalf("AvgLoss = %v, want 50", st.AvgLoss)
	}
	if math.Abs(st.RecentWinRatio-0.6) > 1e-9 {
		t.Fatalf("RecentWinRatio = %v, want 0.6", st.RecentWinRatio)
	}
}

func TestStatsUnknownStrategy(t *testing.T) {
	tr := NewTracker()
	st, err := tr.Stats(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.SampleSize != 0 {
		t.Fatalf("SampleSize = %d, want 0", st.SampleSize)
	}
}

func TestClearAll(t *testing.T) {
	tr := NewTracker()
	tr.RecordOpen(model.Position{Ticket: 1, Symbol: "EURUSD"})
	tr.ClearAll()
	pos, _ := tr.OpenPositions(context.Background())
	if len(pos) != 0 {
		t.Fatal("ClearAll must drop all positions")
	}
}
