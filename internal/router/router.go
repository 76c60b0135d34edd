package router

import (
	"github.com/gin-gonic/gin"

	"tradewire/conf"
	"tradewire/internal/handler/command"
	"tradewire/internal/handler/executor"
	"tradewire/internal/handler/ping"
	"tradewire/internal/handler/strategy"
	"tradewire/internal/handler/stream"
	"tradewire/internal/middleware"
)

// 路由注册

type Handlers struct {
	Command  *command.CommandHandler
	Executor *executor.ExecutorHandler
	Strategy *strategy.StrategyHandler
	Stream   *stream.StreamHandler
}

func NewRouter(h Handlers) *gin.Engine {
	if conf.AppConfig.Mode != "" {
		gin.SetMode(conf.AppConfig.Mode)
	}
	r := gin.New()
	r.Use(middleware.RequestId(), middleware.GinLogger(), middleware.GinRecovery())

	r.GET("/ping", ping.Ping())

	api := r.Group("/api/v1")
	{
		// 指令管理（看板侧）
		api.POST("/commands", h.Command.Push())
		api.GET("/commands", h.Command.History())
		api.GET("/commands/:id", h.Command.Get())
		api.POST("/commands/:id/cancel", h.Command.Cancel())
		api.GET("/queue/stats", h.Command.Stats())

		// 紧急停止走独立路径，不经过策略评估
		api.POST("/emergency-stop", h.Command.EmergencyStop())

		// 执行器管理（看板侧）
		api.POST("/executors", h.Executor.Register())
		api.GET("/executors", h.Executor.List())
		api.POST("/executors/:id/status", h.Executor.SetStatus())

		// 策略管理
		api.POST("/strategies", h.Strategy.Save())
		api.GET("/strategies/:id", h.Strategy.Get())
		api.POST("/strategies/:id/start", h.Strategy.Start())
		api.POST("/strategies/:id/stop", h.Strategy.Stop())
		api.DELETE("/strategies/:id", h.Strategy.Delete())
	}

	// 执行器侧（签名请求）
	exec := r.Group("/executor")
	{
		exec.GET("/commands", h.Executor.Poll())
		exec.POST("/ack", h.Executor.Ack())
	}

	// 执行器长连接
	r.GET("/ws/executor", h.Stream.Connect())

	return r
}
