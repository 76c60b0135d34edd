package engine

import (
	"context"
	"math"

	"tradewire/internal/model"
	"tradewire/pkg/logger"
)

// 相关性过滤：候选品种与已持仓品种的收益率相关性过高时拒绝新开仓，
// 避免同一波行情上重复堆敞口

const defaultCorrelationLookback = 50

// CorrelationFilter 基于皮尔逊相关系数的开仓闸门
type CorrelationFilter struct {
	cfg  model.CorrelationConfig
	bars BarSource
}

func NewCorrelationFilter(cfg model.CorrelationConfig, bars BarSource) *CorrelationFilter {
	if cfg.Lookback <= 0 {
		cfg.Lookback = defaultCorrelationLookback
	}
	if cfg.MaxCorrelation <= 0 {
		cfg.MaxCorrelation = 0.7
	}
	return &CorrelationFilter{cfg: cfg, bars: bars}
}

// Allow 判断 symbol 能否在当前持仓下新开仓
// 数据取不到时放行：过滤器只做增强，不能因为行情源抖动卡死所有开仓
func (f *CorrelationFilter) Allow(ctx context.Context, symbol, timeframe string, open []model.Position) (bool, string) {
	if !f.cfg.Enabled || len(open) == 0 {
		return true, ""
	}

	held := make(map[string]bool)
	for _, p := range open {
		if p.Symbol != symbol {
			held[p.Symbol] = true
		}
	}
	if len(held) == 0 {
		return true, ""
	}

	// check_pairs 限定检查范围，为空表示检查所有持仓品种
	if len(f.cfg.CheckPairs) > 0 {
		limited := make(map[string]bool)
		for _, s := range f.cfg.CheckPairs {
			if held[s] {
				limited[s] = true
			}
		}
		held = limited
	}

	base, err := f.returns(ctx, symbol, timeframe)
	if err != nil || len(base) == 0 {
		return true, ""
	}

	for other := range held {
		or, err := f.returns(ctx, other, timeframe)
		if err != nil || len(or) == 0 {
			continue
		}
		corr := pearson(base, or)
		if math.Abs(corr) > f.cfg.MaxCorrelation {
			logger.Info("相关性过滤拒绝开仓",
				logger.Pair("symbol", symbol),
				logger.Pair("against", other),
				logger.Pair("correlation", corr))
			return false, "correlated with " + other
		}
	}
	return true, ""
}

func (f *CorrelationFilter) returns(ctx context.Context, symbol, timeframe string) ([]float64, error) {
	klines, err := f.bars.GetHistoricalBars(ctx, symbol, timeframe, f.cfg.Lookback+1)
	if err != nil {
		return nil, err
	}
	return model.Returns(klines), nil
}

// pearson 皮尔逊相关系数，长度不齐时对齐到末尾较短段
func pearson(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	ma, mb := model.Mean(a), model.Mean(b)
	var cov, va, vb float64
	for i := 0; i < n; i++ {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0
	}
	return cov / math.Sqrt(va*vb)
}
