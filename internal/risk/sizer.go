package risk

import (
	"fmt"
	"math"

	"tradewire/internal/indicator"
	"tradewire/internal/model"
)

// 仓位计算：把风险策略换算成下单手数
// 任何算不出合理值的情况都收敛到0并打上约束标记，信号在上层被抑制

// Constraints 约束命中情况
type Constraints struct {
	Applied bool   `json:"applied"`
	Reason  string `json:"reason,omitempty"`
}

// SizeResult 一次仓位计算的完整结果
type SizeResult struct {
	RecommendedSize float64            `json:"recommended_size"`
	Method          model.SizingMethod `json:"method"`
	RiskPercentage  float64            `json:"risk_percentage,omitempty"`
	Constraints     Constraints        `json:"constraints"`
	Reasoning       string             `json:"reasoning"`
}

// PriceInfo 计算仓位需要的价格上下文
type PriceInfo struct {
	CurrentPrice float64
	StopLoss     float64
	Klines       []model.Kline
}

const (
	defaultPipValue      = 10.0
	defaultContractValue = 100000.0
	defaultKellyFraction = 0.25
	defaultATRPeriod     = 14
	defaultATRMultiplier = 2.0
	// 凯利公式要求的最小成交样本量，样本不足时统计不可信
	kellyMinTrades = 20
)

type Sizer struct {
	cfg model.SizingConfig
}

func NewSizer(cfg model.SizingConfig) *Sizer {
	if cfg.PipValue <= 0 {
		cfg.PipValue = defaultPipValue
	}
	if cfg.KellyFraction <= 0 {
		cfg.KellyFraction = defaultKellyFraction
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = defaultATRPeriod
	}
	if cfg.ATRMultiplier <= 0 {
		cfg.ATRMultiplier = defaultATRMultiplier
	}
	return &Sizer{cfg: cfg}
}

// Calculate 按配置的方法计算原始手数，再依次做回撤调节、表现调节和上下限裁剪
func (s *Sizer) Calculate(acct model.AccountInfo, price PriceInfo, stats model.TradeStats) SizeResult {
	res := SizeResult{Method: s.cfg.Method}

	if acct.Balance <= 0 && s.cfg.Method != model.SizingFixedLot {
		res.Constraints = Constraints{Applied: true, Reason: "missing account balance"}
		res.Reasoning = "账户余额缺失，仓位归零"
		return res
	}

	var raw float64
	switch s.cfg.Method {
	case model.SizingFixedLot:
		raw = s.cfg.FixedLot
		res.Reasoning = fmt.Sprintf("固定手数 %.2f", raw)
	case model.SizingPercentageRisk:
		var ok bool
		raw, ok = s.percentageRisk(acct, price)
		if !ok {
			res.Constraints = Constraints{Applied: true, Reason: "zero stop distance"}
			res.Reasoning = "止损距离为零，仓位归零"
			return res
		}
		res.RiskPercentage = s.cfg.RiskPercentage
		res.Reasoning = fmt.Sprintf("按余额的 %.1f%% 风险，止损距离 %.5f",
			s.cfg.RiskPercentage, math.Abs(price.CurrentPrice-price.StopLoss))
	case model.SizingATRBased:
		raw = s.atrBased(acct, price)
		res.RiskPercentage = s.cfg.RiskPercentage
		res.Reasoning = "按ATR波动幅度反比确定仓位"
	case model.SizingKelly:
		raw = s.kelly(acct, stats)
		res.Reasoning = fmt.Sprintf("分数凯利 (系数 %.2f)", s.cfg.KellyFraction)
	default:
		res.Constraints = Constraints{Applied: true, Reason: "unknown sizing method"}
		res.Reasoning = "未知的仓位计算方法"
		return res
	}

	// 回撤调节：回撤越深，仓位按线性比例递减（80%最大回撤时打到0.75倍）
	if s.cfg.AdjustForDrawdown && s.cfg.MaxDrawdown > 0 && acct.CurrentDrawdown > 0 {
		ratio := acct.CurrentDrawdown / s.cfg.MaxDrawdown
		if ratio > 1 {
			ratio = 1
		}
		factor := 1 - 0.25*(ratio/0.8)
		if factor < 0 {
			factor = 0
		}
		raw *= factor
		res.Reasoning += fmt.Sprintf("；回撤调节 x%.3f", factor)
	}

	// 表现调节：近期胜率高于0.6加两成，低于0.3减三成
	if s.cfg.AdjustForPerformance && stats.SampleSize > 0 {
		switch {
		case stats.RecentWinRatio > 0.6:
			raw *= 1.2
			res.Reasoning += "；连胜加仓 x1.2"
		case stats.RecentWinRatio < 0.3:
			raw *= 0.7
			res.Reasoning += "；连败减仓 x0.7"
		}
	}

	// 方法本身收敛到0说明信号该被抑制，不允许最小手数把它抬起来
	if raw == 0 {
		res.Constraints = Constraints{Applied: true, Reason: "sizing resolved to zero"}
		return res
	}

	// 上下限裁剪，改变了结果就打约束标记
	clamped := raw
	if s.cfg.MaxPositionSize > 0 && clamped > s.cfg.MaxPositionSize {
		clamped = s.cfg.MaxPositionSize
	}
	if s.cfg.MinPositionSize > 0 && clamped < s.cfg.MinPositionSize {
		clamped = s.cfg.MinPositionSize
	}
	if clamped != raw {
		res.Constraints = Constraints{Applied: true, Reason: "clamped to position limits"}
	}

	res.RecommendedSize = clamped
	return res
}

// percentage_risk: size = 风险金额 / 止损距离 / 每点价值
func (s *Sizer) percentageRisk(acct model.AccountInfo, price PriceInfo) (float64, bool) {
	stopDist := math.Abs(price.CurrentPrice - price.StopLoss)
	if stopDist == 0 {
		return 0, false
	}
	riskAmount := acct.Balance * s.cfg.RiskPercentage / 100
	return riskAmount / stopDist / s.cfg.PipValue, true
}

// atr_based: size = 风险金额 / (ATR × 倍数)，可选按当前波动相对历史均值反向缩放
func (s *Sizer) atrBased(acct model.AccountInfo, price PriceInfo) float64 {
	atr := indicator.CalculateATR(
		model.ExtractHighs(price.Klines),
		model.ExtractLows(price.Klines),
		model.ExtractCloses(price.Klines),
		s.cfg.ATRPeriod,
	)
	if len(atr) == 0 || atr[len(atr)-1] <= 0 {
		return 0
	}
	current := atr[len(atr)-1]
	riskAmount := acct.Balance * s.cfg.RiskPercentage / 100
	size := riskAmount / (current * s.cfg.ATRMultiplier)

	// 波动调节：当前ATR高于历史均值时按反比缩小仓位
	if s.cfg.VolatilityAdjustment {
		avg := model.Mean(atr)
		if avg > 0 && current > 0 {
			size *= avg / current
		}
	}
	return size
}

// kelly_criterion: f = winRate − (1−winRate)/(avgWin/avgLoss)，乘以分数系数，永不为负
func (s *Sizer) kelly(acct model.AccountInfo, stats model.TradeStats) float64 {
	if stats.AvgLoss <= 0 || stats.AvgWin <= 0 || stats.SampleSize < kellyMinTrades {
		return 0
	}
	b := stats.AvgWin / stats.AvgLoss
	f := stats.WinRate - (1-stats.WinRate)/b
	if f <= 0 {
		return 0
	}
	f *= s.cfg.KellyFraction
	contract := defaultContractValue
	return acct.Balance * f / contract
}
