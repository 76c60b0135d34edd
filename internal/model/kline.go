package model

import (
	"math"
	"time"
)

// Kline 单根K线，时间升序排列，指标计算假设无缺口（有缺口只影响精度不影响正确性）
type Kline struct {
	Timestamp time.Time `json:"time"`
	Open      float64   `json:"open"`
	Close     float64   `json:"close"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Vol       float64   `json:"vol"` // 成交量 以币为单位
}

// ExtractCloses 提取收盘价序列
func ExtractCloses(klines []Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out
}

// ExtractHighs 提取最高价序列
func ExtractHighs(klines []Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.High
	}
	return out
}

// ExtractLows 提取最低价序列
func ExtractLows(klines []Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Low
	}
	return out
}

// ExtractVols 提取成交量序列
func ExtractVols(klines []Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Vol
	}
	return out
}

// Returns 计算收盘价的逐根收益率，长度为 len(klines)-1
func Returns(klines []Kline) []float64 {
	if len(klines) < 2 {
		return nil
	}
	out := make([]float64, 0, len(klines)-1)
	for i := 1; i < len(klines); i++ {
		prev := klines[i-1].Close
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (klines[i].Close-prev)/prev)
	}
	return out
}

// Mean 均值，空切片返回0
func Mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// Stdev 总体标准差
func Stdev(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	m := Mean(vals)
	sum := 0.0
	for _, v := range vals {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vals)))
}
