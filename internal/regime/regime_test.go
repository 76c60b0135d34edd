package regime

import (
	"testing"

	"tradewire/internal/model"
)

func barsFromCloses(closes []float64, spread float64) []model.Kline {
	out := make([]model.Kline, len(closes))
	for i, c := range closes {
		out[i] = model.Kline{High: c + spread, Low: c - spread, Close: c, Vol: 100}
	}
	return out
}

func rampCloses(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestClassifyRisingSeriesAsBullish(t *testing.T) {
	cls := NewClassifier(model.RegimeConfig{Enabled: true})
	res, err := cls.Classify(barsFromCloses(rampCloses(60, 100, 0.3), 0.2))
	if err != nil {
		t.Fatal(err)
	}
	if res.Regime != BullishTrending {
		t.Fatalf("regime = %s, want BULLISH_TRENDING", res.Regime)
	}
	if res.Confidence < 60 || res.Confidence > 95 {
		t.Fatalf("confidence = %v, want in [60,95]", res.Confidence)
	}
	// 单边上涨行情ADX必须站上趋势线
	if res.Indicators.ADX <= 25 {
		t.Fatalf("adx = %v, want > 25 on a trending series", res.Indicators.ADX)
	}
}

func TestClassifyFallingSeriesAsBearish(t *testing.T) {
	cls := NewClassifier(model.RegimeConfig{Enabled: true})
	res, err := cls.Classify(barsFromCloses(rampCloses(60, 130, -0.3), 0.2))
	if err != nil {
		t.Fatal(err)
	}
	if res.Regime != BearishTrending {
		t.Fatalf("regime = %s, want BEARISH_TRENDING", res.Regime)
	}
}

func TestClassifyNarrowOscillationAsRanging(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100.05
		if i%2 == 1 {
			closes[i] = 99.95
		}
	}
	cls := NewClassifier(model.RegimeConfig{Enabled: true})
	res, err := cls.Classify(barsFromCloses(closes, 0.05))
	if err != nil {
		t.Fatal(err)
	}
	if res.Regime != Ranging {
		t.Fatalf("regime = %s, want RANGING", res.Regime)
	}
	// 横盘时方向运动互相抵消，ADX应低于趋势线
	if res.Indicators.ADX >= 25 {
		t.Fatalf("adx = %v, want < 25 on a ranging series", res.Indicators.ADX)
	}
}

func TestClassifyWildSwingsAsHighVolatility(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100
		if i%2 == 1 {
			closes[i] = 103
		}
	}
	cls := NewClassifier(model.RegimeConfig{Enabled: true})
	res, err := cls.Classify(barsFromCloses(closes, 0.5))
	if err != nil {
		t.Fatal(err)
	}
	if res.Regime != HighVolatility {
		t.Fatalf("regime = %s, want HIGH_VOLATILITY", res.Regime)
	}
	// 波动分数打满时置信度必须被封顶
	if res.Confidence != 95 {
		t.Fatalf("confidence = %v, want capped at 95", res.Confidence)
	}
}

func TestClassifyNeedsTwoTrendPeriods(t *testing.T) {
	cls := NewClassifier(model.RegimeConfig{Enabled: true})
	if _, err := cls.Classify(barsFromCloses(rampCloses(30, 100, 0.3), 0.2)); err == nil {
		t.Fatal("expected error on short window")
	}
}

func TestSuitabilityGate(t *testing.T) {
	open := NewClassifier(model.RegimeConfig{})
	if !open.IsSuitableForTrading(HighVolatility) {
		t.Fatal("empty allow list must pass everything")
	}

	strict := NewClassifier(model.RegimeConfig{SuitableRegimes: []string{"RANGING"}})
	if strict.IsSuitableForTrading(BullishTrending) {
		t.Fatal("regime outside allow list must be vetoed")
	}
	if !strict.IsSuitableForTrading(Ranging) {
		t.Fatal("allowed regime rejected")
	}
}

func TestMultiplierTables(t *testing.T) {
	if got := BullishTrending.SizeMultiplier(); got != 1.5 {
		t.Fatalf("trending size mult = %v, want 1.5", got)
	}
	if got := HighVolatility.SizeMultiplier(); got != 0.5 {
		t.Fatalf("high vol size mult = %v, want 0.5", got)
	}
	if got := Ranging.TakeProfitMultiplier(); got != 0.5 {
		t.Fatalf("ranging tp mult = %v, want 0.5", got)
	}
	if got := LowVolatility.StopLossMultiplier(); got != 0.7 {
		t.Fatalf("low vol sl mult = %v, want 0.7", got)
	}
}
