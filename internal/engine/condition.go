package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"tradewire/internal/indicator"
	"tradewire/internal/model"
)

// 条件求值：一次评估周期内所有条件共享同一份指标快照，
// 同一指标只计算一次。缺数据一律判 false，不出信号而不是报错。

const equalsEpsilon = 1e-9

// Snapshot 单轮评估的指标快照，按指标键缓存计算结果
type Snapshot struct {
	klines []model.Kline

	mu     sync.Mutex
	series map[string][]float64
}

func NewSnapshot(klines []model.Kline) *Snapshot {
	return &Snapshot{
		klines: klines,
		series: make(map[string][]float64),
	}
}

func (s *Snapshot) Klines() []model.Kline { return s.klines }

// LastClose 最新收盘价
func (s *Snapshot) LastClose() float64 {
	if len(s.klines) == 0 {
		return 0
	}
	return s.klines[len(s.klines)-1].Close
}

func paramInt(params map[string]float64, key string, def int) int {
	if v, ok := params[key]; ok && v > 0 {
		return int(v)
	}
	return def
}

func paramFloat(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok && v > 0 {
		return v
	}
	return def
}

// Series 取指标序列，按 (名称, 参数) 缓存；不认识的指标或数据不足返回 nil
func (s *Snapshot) Series(name string, params map[string]float64) []float64 {
	key := seriesKey(name, params)
	s.mu.Lock()
	if v, ok := s.series[key]; ok {
		s.mu.Unlock()
		return v
	}
	s.mu.Unlock()

	v := s.compute(strings.ToLower(name), params)

	s.mu.Lock()
	s.series[key] = v
	s.mu.Unlock()
	return v
}

func seriesKey(name string, params map[string]float64) string {
	var sb strings.Builder
	sb.WriteString(strings.ToLower(name))
	for _, k := range []string{"period", "fast_period", "slow_period", "signal_period", "k_period", "k_slow", "d_period", "deviation"} {
		if v, ok := params[k]; ok {
			sb.WriteString(fmt.Sprintf("|%s=%g", k, v))
		}
	}
	return sb.String()
}

func (s *Snapshot) compute(name string, params map[string]float64) []float64 {
	closes := model.ExtractCloses(s.klines)
	highs := model.ExtractHighs(s.klines)
	lows := model.ExtractLows(s.klines)

	switch name {
	case "close", "price":
		return closes
	case "sma":
		return indicator.CalculateSMA(closes, paramInt(params, "period", 20))
	case "ema":
		return indicator.CalculateEMA(closes, paramInt(params, "period", 20))
	case "rsi":
		return indicator.CalculateRSI(closes, paramInt(params, "period", 14))
	case "macd", "macd_line":
		m, _, _ := s.macd(closes, params)
		return m
	case "macd_signal":
		_, sig, _ := s.macd(closes, params)
		return sig
	case "macd_hist":
		_, _, h := s.macd(closes, params)
		return h
	case "atr":
		return indicator.CalculateATR(highs, lows, closes, paramInt(params, "period", 14))
	case "bb_upper":
		u, _, _ := s.bbands(closes, params)
		return u
	case "bb_middle":
		_, m, _ := s.bbands(closes, params)
		return m
	case "bb_lower":
		_, _, l := s.bbands(closes, params)
		return l
	case "stoch_k":
		k, _ := s.stoch(highs, lows, closes, params)
		return k
	case "stoch_d":
		_, d := s.stoch(highs, lows, closes, params)
		return d
	case "adx":
		return indicator.CalculateADX(highs, lows, closes, paramInt(params, "period", 14))
	case "plus_di":
		return indicator.CalculatePlusDI(highs, lows, closes, paramInt(params, "period", 14))
	case "minus_di":
		return indicator.CalculateMinusDI(highs, lows, closes, paramInt(params, "period", 14))
	case "cci":
		return indicator.CalculateCCI(highs, lows, closes, paramInt(params, "period", 20))
	case "williams_r":
		return indicator.CalculateWilliamsR(highs, lows, closes, paramInt(params, "period", 14))
	case "obv":
		return indicator.CalculateOBV(closes, model.ExtractVols(s.klines))
	case "vwap":
		return indicator.CalculateVWAP(s.klines)
	}
	return nil
}

func (s *Snapshot) macd(closes []float64, params map[string]float64) (m, sig, h []float64) {
	return indicator.CalculateMACD(closes,
		paramInt(params, "fast_period", 12),
		paramInt(params, "slow_period", 26),
		paramInt(params, "signal_period", 9))
}

func (s *Snapshot) bbands(closes []float64, params map[string]float64) (u, m, l []float64) {
	return indicator.CalculateBBands(closes,
		paramInt(params, "period", 20),
		paramFloat(params, "deviation", 2.0))
}

func (s *Snapshot) stoch(highs, lows, closes []float64, params map[string]float64) (k, d []float64) {
	return indicator.CalculateStoch(highs, lows, closes,
		paramInt(params, "k_period", 14),
		paramInt(params, "k_slow", 3),
		paramInt(params, "d_period", 3))
}

// resolveTarget 把条件的比较目标解析成序列：
// 数值目标视为常量序列；字符串目标形如 "ema_50"，取该指标自身的序列
func (s *Snapshot) resolveTarget(v interface{}) (vals []float64, constant bool, ok bool) {
	switch t := v.(type) {
	case float64:
		return []float64{t}, true, true
	case int:
		return []float64{float64(t)}, true, true
	case string:
		name, params := parseIndicatorRef(t)
		series := s.Series(name, params)
		if len(series) == 0 {
			return nil, false, false
		}
		return series, false, true
	}
	return nil, false, false
}

// parseIndicatorRef 解析 "ema_50" 这类引用：末段是数字就当周期
func parseIndicatorRef(ref string) (string, map[string]float64) {
	idx := strings.LastIndex(ref, "_")
	if idx > 0 {
		if p, err := strconv.Atoi(ref[idx+1:]); err == nil {
			return ref[:idx], map[string]float64{"period": float64(p)}
		}
	}
	return ref, nil
}

// EvaluateCondition 求单个条件
// 穿越类比较需要两侧各至少两个点；任何数据缺口都判 false
func (s *Snapshot) EvaluateCondition(cond model.Condition) bool {
	left := s.Series(cond.Indicator, cond.Params)
	if len(left) == 0 {
		return false
	}
	right, constant, ok := s.resolveTarget(cond.Value)
	if !ok {
		return false
	}

	curL := left[len(left)-1]
	curR := right[len(right)-1]

	switch cond.Comparison {
	case model.CompLessThan:
		return curL < curR
	case model.CompGreaterThan:
		return curL > curR
	case model.CompEquals:
		return math.Abs(curL-curR) < equalsEpsilon
	case model.CompCrossesAbove, model.CompCrossesBelow:
		if len(left) < 2 {
			return false
		}
		prevL := left[len(left)-2]
		prevR := curR
		if !constant {
			if len(right) < 2 {
				return false
			}
			prevR = right[len(right)-2]
		}
		if cond.Comparison == model.CompCrossesAbove {
			return prevL <= prevR && curL > curR
		}
		return prevL >= prevR && curL < curR
	}
	return false
}

// EvaluateGroup 按 AND/OR 组合条件，禁用的条件直接跳过
// 没有任何启用条件时判 false：空条件组不应触发交易
func (s *Snapshot) EvaluateGroup(conds []model.Condition, logic model.ConditionLogic) bool {
	evaluated := 0
	for _, c := range conds {
		if !c.Enabled {
			continue
		}
		evaluated++
		hit := s.EvaluateCondition(c)
		if logic == model.LogicOr && hit {
			return true
		}
		if logic != model.LogicOr && !hit {
			return false
		}
	}
	if evaluated == 0 {
		return false
	}
	return logic != model.LogicOr
}
