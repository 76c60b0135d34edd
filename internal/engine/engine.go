package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradewire/conf"
	"tradewire/internal/model"
	"tradewire/internal/regime"
	"tradewire/internal/risk"
	"tradewire/pkg/logger"
)

// 策略引擎：每个 (策略, 交易对) 一个常驻评估循环
// 循环只在新K线或定时器触发时跑一轮，一轮内指标只算一次

// BarSource 历史K线来源
type BarSource interface {
	GetHistoricalBars(ctx context.Context, symbol, timeframe string, count int) ([]model.Kline, error)
}

// CommandSink 指令出口，评估产生的指令从这里进队列
type CommandSink interface {
	Push(ctx context.Context, cmd *model.TradeCommand) error
}

// AccountProvider 账户与持仓状态来源
type AccountProvider interface {
	Account(ctx context.Context) (model.AccountInfo, error)
	Stats(ctx context.Context, strategyID string) (model.TradeStats, error)
	OpenPositions(ctx context.Context) ([]model.Position, error)
}

var (
	ErrStrategyRunning  = errors.New("engine: strategy already running")
	ErrStrategyNotFound = errors.New("engine: strategy not running")
)

type Engine struct {
	cfg  conf.EngineConfig
	bars BarSource
	sink CommandSink
	acct AccountProvider

	mu    sync.Mutex
	loops map[string]*loop // key: strategyID|symbol

	// 限制单轮并发评估数
	sem chan struct{}
}

type loop struct {
	strat  model.Strategy
	symbol string
	// 容量1的合并通道：评估期间到达的多根K线只触发一轮
	tick chan struct{}
	stop chan struct{}
	done chan struct{}
}

func NewEngine(cfg conf.EngineConfig, bars BarSource, sink CommandSink, acct AccountProvider) *Engine {
	return &Engine{
		cfg:   cfg,
		bars:  bars,
		sink:  sink,
		acct:  acct,
		loops: make(map[string]*loop),
		sem:   make(chan struct{}, cfg.MaxConcurrent),
	}
}

func loopKey(strategyID, symbol string) string {
	return strategyID + "|" + symbol
}

// StartStrategy 为策略的每个交易对启动评估循环
func (e *Engine) StartStrategy(strat model.Strategy) error {
	if strat.Status != model.StrategyActive {
		return fmt.Errorf("engine: strategy %s not active", strat.ID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sym := range strat.Symbols {
		if _, ok := e.loops[loopKey(strat.ID, sym)]; ok {
			return ErrStrategyRunning
		}
	}
	for _, sym := range strat.Symbols {
		l := &loop{
			strat:  strat,
			symbol: sym,
			tick:   make(chan struct{}, 1),
			stop:   make(chan struct{}),
			done:   make(chan struct{}),
		}
		e.loops[loopKey(strat.ID, sym)] = l
		go e.run(l)
	}
	logger.Info("策略启动", logger.Pair("strategy", strat.ID), logger.Pair("symbols", strat.Symbols))
	return nil
}

// StopStrategy 停止策略的所有循环并等待退出
func (e *Engine) StopStrategy(strategyID string) error {
	e.mu.Lock()
	var stopped []*loop
	for key, l := range e.loops {
		if l.strat.ID == strategyID {
			close(l.stop)
			stopped = append(stopped, l)
			delete(e.loops, key)
		}
	}
	e.mu.Unlock()
	if len(stopped) == 0 {
		return ErrStrategyNotFound
	}
	for _, l := range stopped {
		<-l.done
	}
	logger.Info("策略停止", logger.Pair("strategy", strategyID))
	return nil
}

// StopAll 停止所有循环，进程退出时调用
func (e *Engine) StopAll() {
	e.mu.Lock()
	var all []*loop
	for key, l := range e.loops {
		close(l.stop)
		all = append(all, l)
		delete(e.loops, key)
	}
	e.mu.Unlock()
	for _, l := range all {
		<-l.done
	}
}

// Running 当前运行中的 (策略, 交易对) 数量
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.loops)
}

// NotifyBar 新K线到达通知，非阻塞；评估中到达的通知被合并
func (e *Engine) NotifyBar(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, l := range e.loops {
		if l.symbol != symbol {
			continue
		}
		select {
		case l.tick <- struct{}{}:
		default:
		}
	}
}

func (e *Engine) run(l *loop) {
	defer close(l.done)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-l.tick:
		case <-ticker.C:
		}

		e.sem <- struct{}{}
		e.evaluateSafe(l)
		<-e.sem
	}
}

func (e *Engine) evaluateSafe(l *loop) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("策略评估panic",
				logger.Pair("strategy", l.strat.ID),
				logger.Pair("symbol", l.symbol),
				logger.Pair("panic", r))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	e.evaluate(ctx, l.strat, l.symbol)
}

// evaluate 跑一轮完整评估：数据 -> 市场状态闸门 -> 出场 -> 入场
func (e *Engine) evaluate(ctx context.Context, strat model.Strategy, symbol string) {
	klines, err := e.bars.GetHistoricalBars(ctx, symbol, strat.Timeframe, e.cfg.MinBars)
	if err != nil {
		logger.Warn("获取K线失败", logger.Pair("symbol", symbol), logger.Pair("err", err.Error()))
		return
	}
	if len(klines) < e.cfg.MinBars {
		logger.Debug("K线数量不足",
			logger.Pair("symbol", symbol),
			logger.Pair("got", len(klines)),
			logger.Pair("need", e.cfg.MinBars))
		return
	}

	snap := NewSnapshot(klines)

	// 市场状态只偏置当轮决策，不落库
	var reg *regime.Result
	if strat.Regime.Enabled {
		cls := regime.NewClassifier(strat.Regime)
		reg, err = cls.Classify(klines)
		if err != nil {
			logger.Debug("市场状态分类跳过", logger.Pair("symbol", symbol), logger.Pair("err", err.Error()))
		}
	}

	positions, err := e.acct.OpenPositions(ctx)
	if err != nil {
		logger.Warn("获取持仓失败", logger.Pair("err", err.Error()))
		return
	}

	// 出场永远优先评估，且不受市场状态闸门限制
	e.evaluateExits(ctx, strat, symbol, snap, positions)
	e.evaluateEntry(ctx, strat, symbol, snap, reg, positions)
}

func (e *Engine) evaluateExits(ctx context.Context, strat model.Strategy, symbol string, snap *Snapshot, positions []model.Position) {
	if len(strat.ExitConditions) == 0 {
		return
	}
	if !snap.EvaluateGroup(strat.ExitConditions, strat.ExitLogic) {
		return
	}
	for _, p := range positions {
		if p.StrategyID != strat.ID || p.Symbol != symbol {
			continue
		}
		cmd := &model.TradeCommand{
			StrategyID: strat.ID,
			Type:       model.CmdTradeSignal,
			Priority:   model.PriorityHigh, // 出场优先于入场投递
			Payload: model.CommandPayload{
				Action:  model.ActionClosePosition,
				Symbol:  symbol,
				Ticket:  p.Ticket,
				Comment: "exit conditions met",
			},
			CreatedAt: time.Now(),
		}
		if err := e.sink.Push(ctx, cmd); err != nil {
			logger.Error("出场指令入队失败", logger.Pair("symbol", symbol), logger.Pair("err", err.Error()))
			continue
		}
		logger.Info("出场信号",
			logger.Pair("strategy", strat.ID),
			logger.Pair("symbol", symbol),
			logger.Pair("ticket", p.Ticket))
	}
}

func (e *Engine) evaluateEntry(ctx context.Context, strat model.Strategy, symbol string, snap *Snapshot, reg *regime.Result, positions []model.Position) {
	// 市场状态硬性闸门
	if reg != nil {
		cls := regime.NewClassifier(strat.Regime)
		if !cls.IsSuitableForTrading(reg.Regime) {
			logger.Debug("市场状态不适合交易",
				logger.Pair("symbol", symbol),
				logger.Pair("regime", string(reg.Regime)))
			return
		}
	}

	// 仓位上限
	held := 0
	for _, p := range positions {
		if p.StrategyID == strat.ID {
			held++
		}
	}
	if strat.MaxPositions > 0 && held >= strat.MaxPositions {
		return
	}

	if !snap.EvaluateGroup(strat.EntryConditions, strat.EntryLogic) {
		return
	}

	// 相关性过滤
	filter := NewCorrelationFilter(strat.Correlation, e.bars)
	if ok, reason := filter.Allow(ctx, symbol, strat.Timeframe, positions); !ok {
		logger.Info("入场被相关性过滤拒绝",
			logger.Pair("strategy", strat.ID),
			logger.Pair("symbol", symbol),
			logger.Pair("reason", reason))
		return
	}

	acct, err := e.acct.Account(ctx)
	if err != nil {
		logger.Warn("获取账户失败", logger.Pair("err", err.Error()))
		return
	}
	stats, err := e.acct.Stats(ctx, strat.ID)
	if err != nil {
		logger.Warn("获取交易统计失败", logger.Pair("err", err.Error()))
		stats = model.TradeStats{}
	}

	price := snap.LastClose()
	side, stopLoss, takeProfit := e.planTrade(strat, snap, reg, price)

	sizer := risk.NewSizer(strat.Sizing)
	res := sizer.Calculate(acct, risk.PriceInfo{
		CurrentPrice: price,
		StopLoss:     stopLoss,
		Klines:       snap.Klines(),
	}, stats)

	volume := res.RecommendedSize
	if reg != nil {
		volume *= reg.Regime.SizeMultiplier()
	}
	if volume <= 0 {
		logger.Info("仓位为零，抑制入场信号",
			logger.Pair("strategy", strat.ID),
			logger.Pair("symbol", symbol),
			logger.Pair("reason", res.Constraints.Reason))
		return
	}

	// 低置信度信号降为低优先级
	prio := model.PriorityNormal
	if reg != nil && reg.Confidence < 60 {
		prio = model.PriorityLow
	}

	cmd := &model.TradeCommand{
		StrategyID: strat.ID,
		Type:       model.CmdTradeSignal,
		Priority:   prio,
		Payload: model.CommandPayload{
			Action:     model.ActionOpenPosition,
			Symbol:     symbol,
			Side:       side,
			Volume:     volume,
			StopLoss:   stopLoss,
			TakeProfit: takeProfit,
			Comment:    res.Reasoning,
		},
		CreatedAt: time.Now(),
	}
	if err := e.sink.Push(ctx, cmd); err != nil {
		logger.Error("入场指令入队失败", logger.Pair("symbol", symbol), logger.Pair("err", err.Error()))
		return
	}
	logger.Info("入场信号",
		logger.Pair("strategy", strat.ID),
		logger.Pair("symbol", symbol),
		logger.Pair("side", side),
		logger.Pair("volume", volume),
		logger.Pair("priority", prio.String()))
}

// planTrade 根据最近趋势定方向，按配置和市场状态倍数折算止损止盈价位
func (e *Engine) planTrade(strat model.Strategy, snap *Snapshot, reg *regime.Result, price float64) (side string, stopLoss, takeProfit float64) {
	side = "buy"
	if reg != nil && reg.Regime == regime.BearishTrending {
		side = "sell"
	} else if fast := snap.Series("ema", map[string]float64{"period": 9}); len(fast) >= 2 && fast[len(fast)-1] < fast[len(fast)-2] {
		side = "sell"
	}

	slDist := e.stopDistance(strat.StopLoss, snap, price)
	tpDist := e.stopDistance(strat.TakeProfit, snap, price)
	if reg != nil {
		slDist *= reg.Regime.StopLossMultiplier()
		tpDist *= reg.Regime.TakeProfitMultiplier()
	}

	if side == "buy" {
		return side, price - slDist, price + tpDist
	}
	return side, price + slDist, price - tpDist
}

// stopDistance 止损/止盈距离：pips按点数折算，atr按ATR倍数
func (e *Engine) stopDistance(spec model.StopSpec, snap *Snapshot, price float64) float64 {
	switch spec.Type {
	case "atr":
		mult := spec.ATRMultiplier
		if mult <= 0 {
			mult = 2.0
		}
		if atr := snap.Series("atr", map[string]float64{"period": 14}); len(atr) > 0 {
			return atr[len(atr)-1] * mult
		}
	case "pips":
		return spec.Value * 0.0001
	}
	if spec.Value > 0 {
		return spec.Value
	}
	// 没有配置时兜底为当前价的1%
	return price * 0.01
}
