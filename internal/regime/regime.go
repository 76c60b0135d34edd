package regime

import (
	"errors"
	"math"

	"tradewire/internal/indicator"
	"tradewire/internal/model"
)

// 市场状态分类器：用趋势/波动/震荡三个分数给当前行情贴标签，
// 结果只用于偏置当轮决策，从不作为权威状态落库

type Regime string

const (
	BullishTrending Regime = "BULLISH_TRENDING"
	BearishTrending Regime = "BEARISH_TRENDING"
	Ranging         Regime = "RANGING"
	HighVolatility  Regime = "HIGH_VOLATILITY"
	LowVolatility   Regime = "LOW_VOLATILITY"
)

// Indicators 分类时的指标快照
type Indicators struct {
	ADX           float64 `json:"adx"`
	ATR           float64 `json:"atr"`
	PricePosition float64 `json:"price_position"` // 收盘价在窗口高低区间内的位置 0~1
}

// Result 单次分类结果
type Result struct {
	Regime     Regime     `json:"regime"`
	Confidence float64    `json:"confidence"` // 0~100，封顶95避免虚假确定性
	Strength   float64    `json:"strength"`   // 0~1，当前分支分数的归一化强度
	Indicators Indicators `json:"indicators"`
}

const (
	defaultTrendPeriod         = 20
	defaultVolatilityPeriod    = 14
	defaultTrendThreshold      = 0.02
	defaultVolatilityThreshold = 0.02
	defaultRangeThreshold      = 0.03

	maxConfidence = 95
)

type Classifier struct {
	cfg model.RegimeConfig
}

func NewClassifier(cfg model.RegimeConfig) *Classifier {
	if cfg.TrendPeriod <= 0 {
		cfg.TrendPeriod = defaultTrendPeriod
	}
	if cfg.VolatilityPeriod <= 0 {
		cfg.VolatilityPeriod = defaultVolatilityPeriod
	}
	if cfg.TrendThreshold <= 0 {
		cfg.TrendThreshold = defaultTrendThreshold
	}
	if cfg.VolatilityThreshold <= 0 {
		cfg.VolatilityThreshold = defaultVolatilityThreshold
	}
	if cfg.RangeThreshold <= 0 {
		cfg.RangeThreshold = defaultRangeThreshold
	}
	return &Classifier{cfg: cfg}
}

var ErrInsufficientData = errors.New("regime: not enough bars")

// Classify 对K线窗口做一次分类，窗口至少要覆盖两个趋势周期
func (c *Classifier) Classify(klines []model.Kline) (*Result, error) {
	tp := c.cfg.TrendPeriod
	if len(klines) < 2*tp {
		return nil, ErrInsufficientData
	}

	closes := model.ExtractCloses(klines)
	highs := model.ExtractHighs(klines)
	lows := model.ExtractLows(klines)

	// 趋势分数：最近一个周期均价相对前一个周期均价的漂移
	recent := model.Mean(closes[len(closes)-tp:])
	prior := model.Mean(closes[len(closes)-2*tp : len(closes)-tp])
	trendScore := 0.0
	if prior != 0 {
		trendScore = (recent - prior) / prior
	}

	// 波动分数：近期收益率标准差相对配置阈值，裁剪到 [0,1]
	vp := c.cfg.VolatilityPeriod
	rets := model.Returns(klines)
	if len(rets) > vp {
		rets = rets[len(rets)-vp:]
	}
	volScore := model.Stdev(rets) / c.cfg.VolatilityThreshold
	if volScore > 1 {
		volScore = 1
	}

	// 震荡分数：窗口高低带宽越窄分数越高，下限0
	window := klines[len(klines)-tp:]
	avgHigh := model.Mean(model.ExtractHighs(window))
	avgLow := model.Mean(model.ExtractLows(window))
	rangeScore := 0.0
	if avgLow > 0 {
		rangeScore = 1 - (avgHigh-avgLow)/avgLow/c.cfg.RangeThreshold
		if rangeScore < 0 {
			rangeScore = 0
		}
	}

	snap := c.snapshot(highs, lows, closes)

	// 判定顺序：波动优先，因为剧烈波动会让趋势和震荡信号失真
	var r Result
	switch {
	case volScore > 0.7:
		r = Result{
			Regime:     HighVolatility,
			Confidence: capConfidence(50 + volScore*50),
			Strength:   volScore,
		}
	case math.Abs(trendScore) > c.cfg.TrendThreshold:
		reg := BullishTrending
		if trendScore < 0 {
			reg = BearishTrending
		}
		excess := math.Abs(trendScore)/c.cfg.TrendThreshold - 1
		r = Result{
			Regime:     reg,
			Confidence: capConfidence(60 + 35*math.Min(1, excess)),
			Strength:   math.Min(1, math.Abs(trendScore)/(2*c.cfg.TrendThreshold)),
		}
	case rangeScore > 0.6:
		r = Result{
			Regime:     Ranging,
			Confidence: capConfidence(50 + rangeScore*40),
			Strength:   rangeScore,
		}
	case volScore < 0.2:
		// 波动极低且无趋势：低波动状态
		r = Result{
			Regime:     LowVolatility,
			Confidence: 60,
			Strength:   1 - volScore,
		}
	default:
		// 显式的低置信度兜底，不算错误
		r = Result{
			Regime:     Ranging,
			Confidence: 55,
			Strength:   rangeScore,
		}
	}
	r.Indicators = snap
	return &r, nil
}

func (c *Classifier) snapshot(highs, lows, closes []float64) Indicators {
	var snap Indicators
	if adx := indicator.CalculateADX(highs, lows, closes, 14); len(adx) > 0 {
		snap.ADX = adx[len(adx)-1]
	}
	if atr := indicator.CalculateATR(highs, lows, closes, 14); len(atr) > 0 {
		snap.ATR = atr[len(atr)-1]
	}
	lo, hi := lows[0], highs[0]
	for i := range highs {
		if highs[i] > hi {
			hi = highs[i]
		}
		if lows[i] < lo {
			lo = lows[i]
		}
	}
	if hi > lo {
		snap.PricePosition = (closes[len(closes)-1] - lo) / (hi - lo)
	}
	return snap
}

func capConfidence(v float64) float64 {
	if v > maxConfidence {
		return maxConfidence
	}
	return v
}

// SizeMultiplier 仓位倍数：趋势1.5，震荡0.7，高波动0.5，其余1.0
func (r Regime) SizeMultiplier() float64 {
	switch r {
	case BullishTrending, BearishTrending:
		return 1.5
	case Ranging:
		return 0.7
	case HighVolatility:
		return 0.5
	}
	return 1.0
}

// TakeProfitMultiplier 止盈倍数：趋势2.0，震荡0.5，其余1.0
func (r Regime) TakeProfitMultiplier() float64 {
	switch r {
	case BullishTrending, BearishTrending:
		return 2.0
	case Ranging:
		return 0.5
	}
	return 1.0
}

// StopLossMultiplier 止损倍数：高波动1.5，低波动0.7，其余1.0
func (r Regime) StopLossMultiplier() float64 {
	switch r {
	case HighVolatility:
		return 1.5
	case LowVolatility:
		return 0.7
	}
	return 1.0
}

// IsSuitableForTrading 允许清单闸门：检测到的状态不在配置集合内时直接否决信号
func (c *Classifier) IsSuitableForTrading(r Regime) bool {
	if len(c.cfg.SuitableRegimes) == 0 {
		return true
	}
	for _, s := range c.cfg.SuitableRegimes {
		if Regime(s) == r {
			return true
		}
	}
	return false
}
