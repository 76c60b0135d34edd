package model

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
)

// 交易指令及其生命周期模型
// 指令一经进入终态（executed/failed/cancelled）即不可变，只允许补充审计信息

type CommandType string

const (
	CmdTradeSignal   CommandType = "TRADE_SIGNAL"
	CmdRiskUpdate    CommandType = "RISK_UPDATE"
	CmdEmergencyStop CommandType = "EMERGENCY_STOP"
	CmdStatusRequest CommandType = "STATUS_REQUEST"
)

// CommandPriority 数值越大越优先
type CommandPriority int

const (
	PriorityLow CommandPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func (p CommandPriority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityUrgent:
		return "URGENT"
	}
	return "UNKNOWN"
}

// ParsePriority 解析优先级名称，空串按NORMAL处理
func ParsePriority(s string) (CommandPriority, error) {
	switch s {
	case "", "NORMAL":
		return PriorityNormal, nil
	case "LOW":
		return PriorityLow, nil
	case "HIGH":
		return PriorityHigh, nil
	case "URGENT":
		return PriorityUrgent, nil
	}
	return PriorityLow, fmt.Errorf("unknown priority: %s", s)
}

type CommandAction string

const (
	ActionOpenPosition   CommandAction = "OPEN_POSITION"
	ActionClosePosition  CommandAction = "CLOSE_POSITION"
	ActionModifyPosition CommandAction = "MODIFY_POSITION"
	ActionCloseAll       CommandAction = "CLOSE_ALL"
)

type CommandStatus string

const (
	StatusPending   CommandStatus = "pending"
	StatusExecuting CommandStatus = "executing"
	StatusExecuted  CommandStatus = "executed"
	StatusFailed    CommandStatus = "failed"
	StatusCancelled CommandStatus = "cancelled"
)

// IsTerminal 终态判断
func (s CommandStatus) IsTerminal() bool {
	return s == StatusExecuted || s == StatusFailed || s == StatusCancelled
}

// CommandPayload 指令动作参数，按 action 的有限集合收紧字段
type CommandPayload struct {
	Action      CommandAction `json:"action" validate:"required,oneof=OPEN_POSITION CLOSE_POSITION MODIFY_POSITION CLOSE_ALL"`
	Symbol      string        `json:"symbol,omitempty"`
	Side        string        `json:"side,omitempty" validate:"omitempty,oneof=buy sell"`
	Volume      float64       `json:"volume,omitempty" validate:"omitempty,gt=0"`
	Ticket      int64         `json:"ticket,omitempty"`
	StopLoss    float64       `json:"stop_loss,omitempty"`
	TakeProfit  float64       `json:"take_profit,omitempty"`
	MagicNumber int64         `json:"magic_number,omitempty"`
	Comment     string        `json:"comment,omitempty"`
}

// TradeCommand 队列中的交易指令
type TradeCommand struct {
	ID         string          `json:"id"`
	StrategyID string          `json:"strategy_id"`
	ExecutorID string          `json:"executor_id,omitempty"` // 为空表示广播给任意符合条件的执行器
	Type       CommandType     `json:"type"`
	Priority   CommandPriority `json:"priority"`
	Payload    CommandPayload  `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiryMs   int64           `json:"expiry_ms,omitempty"` // 0表示不过期
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
}

// ExpiresAt 过期时间点，无过期返回零值
func (c *TradeCommand) ExpiresAt() time.Time {
	if c.ExpiryMs <= 0 {
		return time.Time{}
	}
	return c.CreatedAt.Add(time.Duration(c.ExpiryMs) * time.Millisecond)
}

// IsExpired 是否已过期
func (c *TradeCommand) IsExpired(now time.Time) bool {
	exp := c.ExpiresAt()
	return !exp.IsZero() && now.After(exp)
}

var validate = validator.New()

// Validate 队列边界的结构校验
// 校验失败属于致命错误：这类指令永远不可能执行成功，直接拒绝，绝不进入重试
func (c *TradeCommand) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("command missing id")
	}
	switch c.Type {
	case CmdTradeSignal, CmdRiskUpdate, CmdEmergencyStop, CmdStatusRequest:
	default:
		return fmt.Errorf("unknown command type: %s", c.Type)
	}
	if c.Priority < PriorityLow || c.Priority > PriorityUrgent {
		return fmt.Errorf("invalid priority: %d", c.Priority)
	}
	if c.RetryCount > c.MaxRetries {
		return fmt.Errorf("retryCount %d exceeds maxRetries %d", c.RetryCount, c.MaxRetries)
	}

	// 控制类指令不携带交易参数，无需继续校验
	if c.Type == CmdEmergencyStop || c.Type == CmdStatusRequest {
		return nil
	}

	if c.Type == CmdTradeSignal && c.StrategyID == "" {
		return fmt.Errorf("trade signal missing strategy context")
	}
	if err := validate.Struct(&c.Payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	// 按 action 收紧必填字段
	switch c.Payload.Action {
	case ActionOpenPosition:
		if c.Payload.Symbol == "" || c.Payload.Side == "" || c.Payload.Volume <= 0 {
			return fmt.Errorf("OPEN_POSITION requires symbol, side and volume")
		}
	case ActionClosePosition:
		if c.Payload.Symbol == "" || c.Payload.Ticket == 0 {
			return fmt.Errorf("CLOSE_POSITION requires symbol and ticket")
		}
	case ActionModifyPosition:
		if c.Payload.Ticket == 0 {
			return fmt.Errorf("MODIFY_POSITION requires ticket")
		}
	case ActionCloseAll:
		// symbol 可以为空，表示全部品种
	}
	return nil
}

// ExecutionDetail 终端回报的成交细节
type ExecutionDetail struct {
	Ticket          int64   `json:"ticket,omitempty"`
	OpenPrice       float64 `json:"open_price,omitempty"`
	ClosePrice      float64 `json:"close_price,omitempty"`
	Profit          float64 `json:"profit,omitempty"`
	ExecutionTimeMs int64   `json:"execution_time_ms,omitempty"`
	Slippage        float64 `json:"slippage,omitempty"`
}

type CommandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CommandResult 一条指令至多拥有一个终态结果
type CommandResult struct {
	CommandID  string           `json:"command_id"`
	Success    bool             `json:"success"`
	ExecutorID string           `json:"executor_id"`
	Result     *ExecutionDetail `json:"result,omitempty"`
	Error      *CommandError    `json:"error,omitempty"`
	Account    *AccountInfo     `json:"account,omitempty"` // 执行器随回报捎带的账户快照
	Timestamp  time.Time        `json:"timestamp"`
}

// CommandRecord 指令的持久化记录，进程重启后恢复队列状态的依据
type CommandRecord struct {
	ID         string          `gorm:"column:id;primary_key" json:"id"`
	StrategyID string          `gorm:"column:strategy_id;index" json:"strategy_id"`
	ExecutorID string          `gorm:"column:executor_id;index" json:"executor_id"`
	Type       string          `gorm:"column:type" json:"type"`
	Priority   int             `gorm:"column:priority" json:"priority"`
	Status     string          `gorm:"column:status;index" json:"status"`
	Payload    datatypes.JSON  `gorm:"column:payload;type:json" json:"payload"`
	Result     datatypes.JSON  `gorm:"column:result;type:json" json:"result"`
	FailReason string          `gorm:"column:fail_reason" json:"fail_reason"`
	RetryCount int             `gorm:"column:retry_count" json:"retry_count"`
	MaxRetries int             `gorm:"column:max_retries" json:"max_retries"`
	ExpiresAt  *time.Time      `gorm:"column:expires_at" json:"expires_at"`
	CreatedAt  time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (CommandRecord) TableName() string {
	return "trade_commands"
}

// CommandEvent 指令生命周期事件，发往kafka供外部看板消费
type CommandEvent struct {
	CommandID string    `json:"command_id"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
