package indicator

import (
	"math"
	"testing"

	"tradewire/internal/model"
)

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func rising(n int) (highs, lows, closes []float64) {
	for i := 0; i < n; i++ {
		c := 100 + float64(i)*0.5
		closes = append(closes, c)
		highs = append(highs, c+0.2)
		lows = append(lows, c-0.2)
	}
	return
}

func TestSMAKnownValues(t *testing.T) {
	out := CalculateSMA([]float64{1, 2, 3, 4, 5}, 3)
	want := []float64{2, 3, 4}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if !almost(out[i], want[i]) {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestInsufficientDataReturnsEmpty(t *testing.T) {
	if out := CalculateSMA([]float64{1, 2}, 5); len(out) != 0 {
		t.Fatalf("sma = %v, want empty", out)
	}
	if out := CalculateRSI([]float64{1, 2, 3}, 14); len(out) != 0 {
		t.Fatalf("rsi = %v, want empty", out)
	}
	_, _, h := CalculateMACD([]float64{1, 2, 3}, 12, 26, 9)
	if len(h) != 0 {
		t.Fatalf("macd hist = %v, want empty", h)
	}
}

func TestRSIRangeOnRisingSeries(t *testing.T) {
	_, _, closes := rising(60)
	out := CalculateRSI(closes, 14)
	if len(out) != len(closes)-14 {
		t.Fatalf("len = %d, want %d", len(out), len(closes)-14)
	}
	// 单边上涨行情RSI应贴近100
	last := out[len(out)-1]
	if last < 90 || last > 100 {
		t.Fatalf("rsi = %v, want near 100", last)
	}
}

func TestATRPositive(t *testing.T) {
	highs, lows, closes := rising(40)
	out := CalculateATR(highs, lows, closes, 14)
	if len(out) != len(closes)-14 {
		t.Fatalf("len = %d, want %d", len(out), len(closes)-14)
	}
	for i, v := range out {
		if v <= 0 {
			t.Fatalf("atr[%d] = %v, want > 0", i, v)
		}
	}
}

func TestMACDSeriesAligned(t *testing.T) {
	_, _, closes := rising(80)
	m, s, h := CalculateMACD(closes, 12, 26, 9)
	if len(m) == 0 || len(m) != len(s) || len(s) != len(h) {
		t.Fatalf("macd lengths %d/%d/%d, want equal and non-zero", len(m), len(s), len(h))
	}
	for i := range m {
		if !almost(h[i], m[i]-s[i]) {
			t.Fatalf("hist[%d] = %v, want macd-signal %v", i, h[i], m[i]-s[i])
		}
	}
}

func TestBBandsOrdering(t *testing.T) {
	closes := []float64{100, 101, 99, 102, 98, 103, 97, 104, 100, 101, 99, 102, 98, 103, 97, 104, 100, 101, 99, 102, 98, 103}
	u, m, l := CalculateBBands(closes, 20, 2)
	if len(u) == 0 {
		t.Fatal("bbands empty")
	}
	for i := range u {
		if !(u[i] > m[i] && m[i] > l[i]) {
			t.Fatalf("band order broken at %d: %v %v %v", i, u[i], m[i], l[i])
		}
	}
}

func TestWilliamsRRange(t *testing.T) {
	highs, lows, closes := rising(30)
	out := CalculateWilliamsR(highs, lows, closes, 14)
	for i, v := range out {
		if v < -100 || v > 0 {
			t.Fatalf("willr[%d] = %v, out of [-100,0]", i, v)
		}
	}
}

func TestOBVDirection(t *testing.T) {
	out := CalculateOBV([]float64{100, 101, 99}, []float64{10, 20, 30})
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	if out[1] <= out[0] {
		t.Fatalf("up bar should add volume: %v", out)
	}
	if out[2] >= out[1] {
		t.Fatalf("down bar should subtract volume: %v", out)
	}
}

func TestVWAPCumulative(t *testing.T) {
	klines := []model.Kline{
		{High: 1, Low: 1, Close: 1, Vol: 1},
		{High: 2, Low: 2, Close: 2, Vol: 1},
		{High: 3, Low: 3, Close: 3, Vol: 1},
	}
	out := CalculateVWAP(klines)
	want := []float64{1, 1.5, 2}
	for i := range want {
		if !almost(out[i], want[i]) {
			t.Fatalf("vwap[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestVWAPZeroVolumeFallsBackToTypical(t *testing.T) {
	out := CalculateVWAP([]model.Kline{{High: 3, Low: 1, Close: 2, Vol: 0}})
	if !almost(out[0], 2) {
		t.Fatalf("vwap = %v, want typical price 2", out[0])
	}
}
