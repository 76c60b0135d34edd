package executor

import (
	"encoding/hex"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"

	"tradewire/internal/bridge"
	"tradewire/internal/consts"
	"tradewire/internal/model"
	"tradewire/pkg/errors"
	"tradewire/pkg/errors/ecode"
	"tradewire/pkg/response"
)

// 执行器接口：注册、拉取指令、回报结果
// 拉取和回报都要求签名请求头，签名覆盖请求体原始字节

type ExecutorHandler struct {
	svc *bridge.Service
	reg *bridge.Registry
}

func NewExecutorHandler(svc *bridge.Service, reg *bridge.Registry) *ExecutorHandler {
	return &ExecutorHandler{svc: svc, reg: reg}
}

// envelopeFromRequest 从请求头和body还原信封
func envelopeFromRequest(ctx *gin.Context, body []byte) (*bridge.Envelope, error) {
	ts, err := strconv.ParseInt(ctx.GetHeader(consts.Timestamp), 10, 64)
	if err != nil {
		return nil, errors.New(ecode.InvalidSignature, "bad timestamp header")
	}
	return &bridge.Envelope{
		ExecutorID: ctx.GetHeader(consts.ExecutorId),
		Nonce:      ctx.GetHeader(consts.Nonce),
		Timestamp:  ts,
		Body:       body,
		Signature:  ctx.GetHeader(consts.Signature),
	}, nil
}

type registerReq struct {
	ExecutorID string `json:"executor_id" binding:"required"`
	Name       string `json:"name"`
}

// Register 注册执行器，共享密钥只在响应里出现一次
func (h *ExecutorHandler) Register() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req registerReq
		if err := ctx.ShouldBindJSON(&req); err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.InvalidParams, ""), nil)
			return
		}
		secret, err := h.reg.Register(ctx, req.ExecutorID, req.Name)
		if err != nil {
			response.JSON(ctx, err, nil)
			return
		}
		response.JSON(ctx, nil, gin.H{
			"executor_id": req.ExecutorID,
			"secret":      hex.EncodeToString(secret),
		})
	}
}

// List 执行器列表及最后活跃时间
func (h *ExecutorHandler) List() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		recs, err := h.reg.List(ctx)
		if err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.InternalErr, "list executors"), nil)
			return
		}
		type item struct {
			model.ExecutorRecord
			LastSeen string `json:"last_seen,omitempty"`
		}
		out := make([]item, 0, len(recs))
		for _, rec := range recs {
			it := item{ExecutorRecord: rec}
			if seen := h.reg.LastSeen(ctx, rec.ExecutorID); !seen.IsZero() {
				it.LastSeen = seen.Format(consts.TimeLayout)
			}
			out = append(out, it)
		}
		response.JSON(ctx, nil, out)
	}
}

type statusReq struct {
	Status model.ExecutorStatus `json:"status" binding:"required,oneof=active disabled"`
}

// SetStatus 启用/停用执行器
func (h *ExecutorHandler) SetStatus() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req statusReq
		if err := ctx.ShouldBindJSON(&req); err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.InvalidParams, ""), nil)
			return
		}
		if err := h.reg.SetStatus(ctx, ctx.Param("id"), req.Status); err != nil {
			response.JSON(ctx, err, nil)
			return
		}
		response.JSON(ctx, nil, nil)
	}
}

// Poll 拉取下一条指令（签名GET，body为空）
func (h *ExecutorHandler) Poll() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		executorID := ctx.GetHeader(consts.ExecutorId)
		env, err := envelopeFromRequest(ctx, nil)
		if err != nil {
			response.RequireAuthErr(ctx, err)
			return
		}
		if err := h.svc.Authenticate(ctx, executorID, env); err != nil {
			response.RequireAuthErr(ctx, err)
			return
		}

		out, err := h.svc.Poll(ctx, executorID)
		if err != nil {
			response.JSON(ctx, err, nil)
			return
		}
		// 无指令时返回空data，执行器按空轮询处理
		response.JSON(ctx, nil, out)
	}
}

// Ack 回报执行结果（签名POST，body是结果JSON）
func (h *ExecutorHandler) Ack() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		executorID := ctx.GetHeader(consts.ExecutorId)
		body, err := io.ReadAll(ctx.Request.Body)
		if err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.InvalidParams, "read body"), nil)
			return
		}
		env, err := envelopeFromRequest(ctx, body)
		if err != nil {
			response.RequireAuthErr(ctx, err)
			return
		}
		if err := h.svc.Acknowledge(ctx, executorID, env); err != nil {
			code, _ := errors.DecodeErr(err)
			if code == ecode.InvalidSignature || code == ecode.ReplayedNonce || code == ecode.UnknownExecutor {
				response.RequireAuthErr(ctx, err)
				return
			}
			response.JSON(ctx, err, nil)
			return
		}
		response.JSON(ctx, nil, nil)
	}
}
