package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/plugin/soft_delete"
)

// 策略配置，由外部看板维护，引擎在评估时只读

type StrategyStatus string

const (
	StrategyDraft    StrategyStatus = "draft"
	StrategyActive   StrategyStatus = "active"
	StrategyPaused   StrategyStatus = "paused"
	StrategyArchived StrategyStatus = "archived"
)

type ConditionLogic string

const (
	LogicAnd ConditionLogic = "AND"
	LogicOr  ConditionLogic = "OR"
)

type Comparison string

const (
	CompLessThan     Comparison = "less_than"
	CompGreaterThan  Comparison = "greater_than"
	CompEquals       Comparison = "equals"
	CompCrossesAbove Comparison = "crosses_above"
	CompCrossesBelow Comparison = "crosses_below"
)

// Condition 单个进出场条件
// Value 可以是数值，也可以是另一个指标名（如 "ema_50"），比较时取其最新值
type Condition struct {
	Indicator  string             `json:"indicator"`
	Params     map[string]float64 `json:"params,omitempty"`
	Comparison Comparison         `json:"comparison"`
	Value      interface{}        `json:"value"`
	Enabled    bool               `json:"enabled"`
}

type SizingMethod string

const (
	SizingFixedLot       SizingMethod = "fixed_lot"
	SizingPercentageRisk SizingMethod = "percentage_risk"
	SizingATRBased       SizingMethod = "atr_based"
	SizingKelly          SizingMethod = "kelly_criterion"
)

// SizingConfig 仓位计算配置
type SizingConfig struct {
	Method         SizingMethod `json:"method"`
	FixedLot       float64      `json:"fixed_lot,omitempty"`
	RiskPercentage float64      `json:"risk_percentage,omitempty"`
	PipValue       float64      `json:"pip_value,omitempty"`

	ATRPeriod            int     `json:"atr_period,omitempty"`
	ATRMultiplier        float64 `json:"atr_multiplier,omitempty"`
	VolatilityAdjustment bool    `json:"volatility_adjustment,omitempty"`

	KellyFraction float64 `json:"kelly_fraction,omitempty"` // 分数凯利，安全系数

	AdjustForDrawdown    bool    `json:"adjust_for_drawdown,omitempty"`
	MaxDrawdown          float64 `json:"max_drawdown,omitempty"`
	AdjustForPerformance bool    `json:"adjust_for_performance,omitempty"`

	MinPositionSize float64 `json:"min_position_size,omitempty"`
	MaxPositionSize float64 `json:"max_position_size,omitempty"`
}

// StopSpec 止损/止盈规格，pips为固定点数，atr为ATR倍数
type StopSpec struct {
	Type          string  `json:"type"` // "pips" / "atr"
	Value         float64 `json:"value,omitempty"`
	ATRMultiplier float64 `json:"atr_multiplier,omitempty"`
}

// RegimeConfig 市场状态识别配置
type RegimeConfig struct {
	Enabled             bool     `json:"enabled"`
	TrendPeriod         int      `json:"trend_period,omitempty"`
	VolatilityPeriod    int      `json:"volatility_period,omitempty"`
	TrendThreshold      float64  `json:"trend_threshold,omitempty"`
	VolatilityThreshold float64  `json:"volatility_threshold,omitempty"`
	RangeThreshold      float64  `json:"range_threshold,omitempty"`
	SuitableRegimes     []string `json:"suitable_regimes,omitempty"` // 允许出信号的市场状态，硬性闸门
}

// CorrelationConfig 相关性过滤配置
type CorrelationConfig struct {
	Enabled        bool     `json:"enabled"`
	MaxCorrelation float64  `json:"max_correlation,omitempty"`
	CheckPairs     []string `json:"check_pairs,omitempty"`
	Lookback       int      `json:"lookback,omitempty"`
}

// Strategy 策略完整定义
type Strategy struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Symbols      []string       `json:"symbols"`
	Timeframe    string         `json:"timeframe"`
	MaxPositions int            `json:"max_positions"`
	RiskPercent  float64        `json:"risk_percent"`
	Status       StrategyStatus `json:"status"`

	Sizing      SizingConfig `json:"sizing"`
	StopLoss    StopSpec     `json:"stop_loss"`
	TakeProfit  StopSpec     `json:"take_profit"`

	EntryConditions []Condition    `json:"entry_conditions"`
	EntryLogic      ConditionLogic `json:"entry_logic"`
	ExitConditions  []Condition    `json:"exit_conditions"`
	ExitLogic       ConditionLogic `json:"exit_logic"`

	Regime      RegimeConfig      `json:"regime"`
	Correlation CorrelationConfig `json:"correlation"`
}

// StrategyRecord 策略的持久化记录，配置整体存JSON列
type StrategyRecord struct {
	ID        uint                  `gorm:"column:id;primary_key" json:"id"`
	StrategyID string               `gorm:"column:strategy_id;uniqueIndex" json:"strategy_id"`
	UserID    uint64                `gorm:"column:user_id;index" json:"user_id"`
	Name      string                `gorm:"column:name" json:"name"`
	Status    string                `gorm:"column:status;index" json:"status"`
	Config    datatypes.JSON        `gorm:"column:config;type:json" json:"config"`
	CreatedAt time.Time             `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time             `gorm:"column:updated_at" json:"updated_at"`
	DeletedAt time.Time             `gorm:"column:deleted_at" json:"deleted_at"`
	IsDel     soft_delete.DeletedAt `gorm:"softDelete:flag,DeletedAtField:DeletedAt"`
}

func (StrategyRecord) TableName() string {
	return "strategies"
}

// Position 当前持仓快照，由执行器回报维护
type Position struct {
	Ticket     int64     `json:"ticket"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"` // buy/sell
	Volume     float64   `json:"volume"`
	OpenPrice  float64   `json:"open_price"`
	StrategyID string    `json:"strategy_id"`
	OpenTime   time.Time `json:"open_time"`
}
