package indicator

import (
	"github.com/markcheno/go-talib"

	"tradewire/internal/model"
)

// 指标引擎：对talib的薄封装，全部为纯函数，可并行跨品种调用
//
// 约定：周期为 p 的指标去掉暖机段后返回 len(bars)-p+1 个值
// （或该方法的自然暖机长度）；数据不足时返回空序列而不是错误，
// 由上层把"数据不足"当作条件不成立处理。

// 去掉talib输出的暖机前缀
func trimWarmup(vals []float64, lookback int) []float64 {
	if lookback < 0 || len(vals) <= lookback {
		return nil
	}
	return vals[lookback:]
}

// CalculateSMA 简单移动平均
func CalculateSMA(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}
	return trimWarmup(talib.Sma(closes, period), period-1)
}

// CalculateEMA 指数移动平均
func CalculateEMA(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}
	return trimWarmup(talib.Ema(closes, period), period-1)
}

// CalculateRSI 相对强弱指数，Wilder平滑，取值范围 [0,100]
func CalculateRSI(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}
	return trimWarmup(talib.Rsi(closes, period), period)
}

// CalculateMACD 返回对齐的 MACD线、信号线、柱体三个序列
func CalculateMACD(closes []float64, fastPeriod, slowPeriod, signalPeriod int) (macdLine, signalLine, hist []float64) {
	lookback := slowPeriod + signalPeriod - 2
	if len(closes) <= lookback {
		return nil, nil, nil
	}
	m, s, h := talib.Macd(closes, fastPeriod, slowPeriod, signalPeriod)
	return trimWarmup(m, lookback), trimWarmup(s, lookback), trimWarmup(h, lookback)
}

// CalculateATR 真实波动幅度均值，非退化输入恒为正
func CalculateATR(highs, lows, closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}
	return trimWarmup(talib.Atr(highs, lows, closes, period), period)
}

// CalculateBBands 布林带，恒有 upper > middle > lower
func CalculateBBands(closes []float64, period int, nbDev float64) (upper, middle, lower []float64) {
	if period <= 0 || len(closes) < period {
		return nil, nil, nil
	}
	u, m, l := talib.BBands(closes, period, nbDev, nbDev, talib.SMA)
	return trimWarmup(u, period-1), trimWarmup(m, period-1), trimWarmup(l, period-1)
}

// CalculateStoch 随机指标 %K/%D，取值范围 [0,100]
func CalculateStoch(highs, lows, closes []float64, kPeriod, kSlow, dPeriod int) (kVals, dVals []float64) {
	lookback := kPeriod + kSlow + dPeriod - 3
	if len(closes) <= lookback {
		return nil, nil
	}
	k, d := talib.Stoch(highs, lows, closes, kPeriod, kSlow, talib.SMA, dPeriod, talib.SMA)
	return trimWarmup(k, lookback), trimWarmup(d, lookback)
}

// CalculateADX 平均趋向指数，取值范围 [0,100]
func CalculateADX(highs, lows, closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < 2*period {
		return nil
	}
	return trimWarmup(talib.Adx(highs, lows, closes, period), 2*period-1)
}

// CalculatePlusDI 正向趋向指标 +DI
func CalculatePlusDI(highs, lows, closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}
	return trimWarmup(talib.PlusDI(highs, lows, closes, period), period)
}

// CalculateMinusDI 负向趋向指标 -DI
func CalculateMinusDI(highs, lows, closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}
	return trimWarmup(talib.MinusDI(highs, lows, closes, period), period)
}

// CalculateCCI 顺势指标
func CalculateCCI(highs, lows, closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}
	return trimWarmup(talib.Cci(highs, lows, closes, period), period-1)
}

// CalculateWilliamsR 威廉指标，取值范围 [-100,0]
func CalculateWilliamsR(highs, lows, closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}
	return trimWarmup(talib.WillR(highs, lows, closes, period), period-1)
}

// CalculateOBV 能量潮，逐根累计的带符号成交量，每根K线一个值
func CalculateOBV(closes, volumes []float64) []float64 {
	if len(closes) == 0 || len(closes) != len(volumes) {
		return nil
	}
	return talib.Obv(closes, volumes)
}

// CalculateVWAP 成交量加权平均价，逐根累计，每根K线一个值
// talib没有提供，这里按典型价((H+L+C)/3)手工累计
func CalculateVWAP(klines []model.Kline) []float64 {
	if len(klines) == 0 {
		return nil
	}
	out := make([]float64, len(klines))
	var cumPV, cumVol float64
	for i, k := range klines {
		typical := (k.High + k.Low + k.Close) / 3
		cumPV += typical * k.Vol
		cumVol += k.Vol
		if cumVol == 0 {
			out[i] = typical
			continue
		}
		out[i] = cumPV / cumVol
	}
	return out
}
