package main

import (
	"context"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"tradewire/conf"
	"tradewire/internal/account"
	"tradewire/internal/bridge"
	"tradewire/internal/dao"
	"tradewire/internal/engine"
	commandh "tradewire/internal/handler/command"
	executorh "tradewire/internal/handler/executor"
	strategyh "tradewire/internal/handler/strategy"
	streamh "tradewire/internal/handler/stream"
	"tradewire/internal/market"
	"tradewire/internal/model"
	"tradewire/internal/queue"
	"tradewire/internal/router"
	"tradewire/pkg/cache"
	"tradewire/pkg/kafka"
	"tradewire/pkg/logger"
	"tradewire/utils/security"
)

// 显式装配：依赖关系全部在这里一眼可见

type App struct {
	Router *gin.Engine

	queue    *queue.Queue
	engine   *engine.Engine
	producer kafka.ProducerService
	consumer kafka.ConsumerService
	cancel   context.CancelFunc
}

func initApp(gormDB *gorm.DB) (*App, error) {
	appCfg := conf.AppConfig
	rdb := cache.GetRedisClient()

	// 自动建表
	if err := gormDB.AutoMigrate(
		&model.CommandRecord{},
		&model.StrategyRecord{},
		&model.ExecutorRecord{},
	); err != nil {
		return nil, err
	}

	// 存储与消息
	commandDao := dao.NewCommandDao(gormDB)
	strategyDao := dao.NewStrategyDao(gormDB)
	executorDao := dao.NewExecutorDao(gormDB)
	producer := kafka.NewKafkaProducer(appCfg.Kafka.Broker)
	consumer := kafka.NewKafkaConsumer(appCfg.Kafka.Broker)

	// 指令队列
	q, err := queue.NewQueue(appCfg.Queue, commandDao, producer)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	if err := q.Recover(ctx); err != nil {
		logger.Error("队列恢复失败", logger.Pair("err", err.Error()))
	}
	q.StartWatchdog()

	// 账户视图，执行回报在投递层回灌进来
	tracker := account.NewTracker()

	// 执行器通道
	box, err := security.NewSecretBox(appCfg.Bridge.MasterKey)
	if err != nil {
		cancel()
		return nil, err
	}
	registry := bridge.NewRegistry(executorDao, box, rdb)
	verifier := bridge.NewVerifier(appCfg.Bridge.SignatureSkew, appCfg.Bridge.NonceWindow, bridge.NewRedisNonceStore(rdb))
	hub := bridge.NewHub()
	bridgeSvc := bridge.NewService(appCfg.Bridge, q, registry, verifier, hub, consumer, tracker)

	// kafka结果通道回灌ack
	go func() {
		if err := bridgeSvc.RunResultConsumer(ctx); err != nil {
			logger.Error("结果消费退出", logger.Pair("err", err.Error()))
		}
	}()

	// 行情
	feed := market.NewRedisFeed(rdb)
	klines := market.NewKlineManager(feed)

	// 策略引擎
	eng := engine.NewEngine(appCfg.Engine, klines, bridgeSvc, tracker)
	klines.OnBar(eng.NotifyBar)

	// 恢复启用中的策略
	active, err := strategyDao.ListActive(ctx)
	if err != nil {
		logger.Error("加载启用策略失败", logger.Pair("err", err.Error()))
	}
	for _, strat := range active {
		if err := eng.StartStrategy(*strat); err != nil {
			logger.Error("策略恢复失败",
				logger.Pair("strategy", strat.ID),
				logger.Pair("err", err.Error()))
			continue
		}
		// 每个策略一组K线刷新调度，收线后触发重新评估
		go klines.RunScheduled(ctx, strat.Symbols, strat.Timeframe, appCfg.Engine.MinBars)
	}

	// 组装路由
	r := router.NewRouter(router.Handlers{
		Command:  commandh.NewCommandHandler(bridgeSvc, q, commandDao),
		Executor: executorh.NewExecutorHandler(bridgeSvc, registry),
		Strategy: strategyh.NewStrategyHandler(strategyDao, eng),
		Stream:   streamh.NewStreamHandler(bridgeSvc),
	})

	return &App{
		Router:   r,
		queue:    q,
		engine:   eng,
		producer: producer,
		consumer: consumer,
		cancel:   cancel,
	}, nil
}

// Close 按依赖的反序收尾
func (a *App) Close() {
	a.cancel()
	a.engine.StopAll()
	a.queue.Close()
	a.producer.Close()
	a.consumer.Close()
}
