package command

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"tradewire/internal/bridge"
	"tradewire/internal/dao"
	"tradewire/internal/model"
	"tradewire/internal/queue"
	"tradewire/pkg/errors"
	"tradewire/pkg/errors/ecode"
	"tradewire/pkg/response"
)

// 指令管理接口：看板手工下发、查询和取消指令

type CommandHandler struct {
	svc *bridge.Service
	q   *queue.Queue
	dao *dao.CommandDao
}

func NewCommandHandler(svc *bridge.Service, q *queue.Queue, d *dao.CommandDao) *CommandHandler {
	return &CommandHandler{svc: svc, q: q, dao: d}
}

type pushReq struct {
	StrategyID string               `json:"strategy_id"`
	ExecutorID string               `json:"executor_id"`
	Type       model.CommandType    `json:"type" binding:"required"`
	Priority   string               `json:"priority"`
	Payload    model.CommandPayload `json:"payload" binding:"required"`
	ExpiryMs   int64                `json:"expiry_ms"`
	MaxRetries int                  `json:"max_retries"`
}

// Push 手工下发一条指令
func (h *CommandHandler) Push() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req pushReq
		if err := ctx.ShouldBindJSON(&req); err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.InvalidParams, ""), nil)
			return
		}
		prio, err := model.ParsePriority(req.Priority)
		if err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.InvalidParams, ""), nil)
			return
		}
		cmd := &model.TradeCommand{
			StrategyID: req.StrategyID,
			ExecutorID: req.ExecutorID,
			Type:       req.Type,
			Priority:   prio,
			Payload:    req.Payload,
			ExpiryMs:   req.ExpiryMs,
			MaxRetries: req.MaxRetries,
			CreatedAt:  time.Now(),
		}
		if err := h.svc.Push(ctx, cmd); err != nil {
			response.JSON(ctx, err, nil)
			return
		}
		response.JSON(ctx, nil, gin.H{"command_id": cmd.ID})
	}
}

// Get 查询指令当前状态
func (h *CommandHandler) Get() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.Param("id")
		cmd, status, err := h.q.Get(id)
		if err != nil {
			response.JSON(ctx, err, nil)
			return
		}
		response.JSON(ctx, nil, gin.H{"command": cmd, "status": status})
	}
}

// Cancel 尽力取消指令，已投递未回报的标记为取消
func (h *CommandHandler) Cancel() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.Param("id")
		if err := h.q.Cancel(ctx, id); err != nil {
			response.JSON(ctx, err, nil)
			return
		}
		response.JSON(ctx, nil, gin.H{"command_id": id})
	}
}

// History 指令历史记录
func (h *CommandHandler) History() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		strategyID := ctx.Query("strategy_id")
		limit := cast.ToInt(ctx.Query("limit"))
		recs, err := h.dao.History(ctx, strategyID, limit)
		if err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.InternalErr, "query history"), nil)
			return
		}
		response.JSON(ctx, nil, recs)
	}
}

// Stats 队列各状态指令数
func (h *CommandHandler) Stats() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		response.JSON(ctx, nil, h.q.Stats())
	}
}

type emergencyStopReq struct {
	Reason string `json:"reason"`
}

// EmergencyStop 紧急停止：清空队列并给每个在线执行器下发URGENT平仓指令
// 独立于策略评估路径，评估环节卡死也能触发
func (h *CommandHandler) EmergencyStop() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req emergencyStopReq
		_ = ctx.ShouldBindJSON(&req)
		if req.Reason == "" {
			req.Reason = "manual emergency stop"
		}
		stopIDs, err := h.svc.EmergencyStop(ctx, req.Reason)
		if err != nil {
			// 部分落库失败不影响停止本身，把错误一并返回
			response.JSON(ctx, nil, gin.H{"command_ids": stopIDs, "warning": err.Error()})
			return
		}
		response.JSON(ctx, nil, gin.H{"command_ids": stopIDs})
	}
}
