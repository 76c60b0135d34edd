package strategy

import (
	"github.com/gin-gonic/gin"

	"tradewire/internal/dao"
	"tradewire/internal/engine"
	"tradewire/internal/model"
	"tradewire/pkg/errors"
	"tradewire/pkg/errors/ecode"
	"tradewire/pkg/response"
)

// 策略管理接口：配置增删改 + 启停引擎循环

type StrategyHandler struct {
	dao    *dao.StrategyDao
	engine *engine.Engine
}

func NewStrategyHandler(d *dao.StrategyDao, e *engine.Engine) *StrategyHandler {
	return &StrategyHandler{dao: d, engine: e}
}

// Save 新建或更新策略配置，不影响运行中的循环
func (h *StrategyHandler) Save() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var strat model.Strategy
		if err := ctx.ShouldBindJSON(&strat); err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.InvalidParams, ""), nil)
			return
		}
		if strat.ID == "" || len(strat.Symbols) == 0 || strat.Timeframe == "" {
			response.JSON(ctx, errors.New(ecode.InvalidParams, "id, symbols and timeframe are required"), nil)
			return
		}
		if strat.Status == "" {
			strat.Status = model.StrategyDraft
		}
		if err := h.dao.Save(ctx, &strat); err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.InternalErr, "save strategy"), nil)
			return
		}
		response.JSON(ctx, nil, gin.H{"strategy_id": strat.ID})
	}
}

// Get 查询策略完整配置
func (h *StrategyHandler) Get() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		strat, err := h.dao.Get(ctx, ctx.Param("id"))
		if err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.CommandNotFound, "strategy not found"), nil)
			return
		}
		response.JSON(ctx, nil, strat)
	}
}

// Start 激活策略并启动评估循环
func (h *StrategyHandler) Start() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.Param("id")
		strat, err := h.dao.Get(ctx, id)
		if err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.CommandNotFound, "strategy not found"), nil)
			return
		}
		strat.Status = model.StrategyActive
		if err := h.engine.StartStrategy(*strat); err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.InvalidParams, err.Error()), nil)
			return
		}
		if err := h.dao.UpdateStatus(ctx, id, model.StrategyActive); err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.InternalErr, "update status"), nil)
			return
		}
		response.JSON(ctx, nil, gin.H{"strategy_id": id, "status": model.StrategyActive})
	}
}

// Stop 停止评估循环并标记暂停
func (h *StrategyHandler) Stop() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.Param("id")
		if err := h.engine.StopStrategy(id); err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.InvalidParams, err.Error()), nil)
			return
		}
		if err := h.dao.UpdateStatus(ctx, id, model.StrategyPaused); err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.InternalErr, "update status"), nil)
			return
		}
		response.JSON(ctx, nil, gin.H{"strategy_id": id, "status": model.StrategyPaused})
	}
}

// Delete 软删除策略，运行中的先停掉
func (h *StrategyHandler) Delete() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.Param("id")
		_ = h.engine.StopStrategy(id) // 没在运行也没关系
		if err := h.dao.Delete(ctx, id); err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.InternalErr, "delete strategy"), nil)
			return
		}
		response.JSON(ctx, nil, nil)
	}
}
