package account

import (
	"context"
	"sync"

	"tradewire/internal/model"
	"tradewire/pkg/logger"
)

// 账户状态跟踪：执行器的回报是唯一事实来源
// 这里只维护内存快照，供仓位计算和引擎闸门读取

const recentWindow = 10

type strategyStats struct {
	profits []float64 // 已平仓交易的盈亏序列
}

type Tracker struct {
	mu        sync.RWMutex
	acct      model.AccountInfo
	positions map[int64]model.Position
	stats     map[string]*strategyStats

	// 历史最高权益，算回撤用
	peakEquity float64
}

func NewTracker() *Tracker {
	return &Tracker{
		positions: make(map[int64]model.Position),
		stats:     make(map[string]*strategyStats),
	}
}

// UpdateAccount 执行器STATUS回报刷新账户快照
func (t *Tracker) UpdateAccount(info model.AccountInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if info.Equity > t.peakEquity {
		t.peakEquity = info.Equity
	}
	if t.peakEquity > 0 {
		info.CurrentDrawdown = (t.peakEquity - info.Equity) / t.peakEquity
		if info.CurrentDrawdown < 0 {
			info.CurrentDrawdown = 0
		}
	}
	info.OpenPositions = len(t.positions)
	t.acct = info
}

// RecordOpen 开仓成交回报
func (t *Tracker) RecordOpen(pos model.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions[pos.Ticket] = pos
	t.acct.OpenPositions = len(t.positions)
	logger.Info("持仓新增",
		logger.Pair("ticket", pos.Ticket),
		logger.Pair("symbol", pos.Symbol),
		logger.Pair("strategy", pos.StrategyID))
}

// RecordClose 平仓成交回报，盈亏进策略统计
func (t *Tracker) RecordClose(ticket int64, profit float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[ticket]
	if !ok {
		logger.Warn("平仓回报找不到持仓", logger.Pair("ticket", ticket))
		return
	}
	delete(t.positions, ticket)
	t.acct.OpenPositions = len(t.positions)

	if pos.StrategyID != "" {
		st, ok := t.stats[pos.StrategyID]
		if !ok {
			st = &strategyStats{}
			t.stats[pos.StrategyID] = st
		}
		st.profits = append(st.profits, profit)
	}
	logger.Info("持仓关闭",
		logger.Pair("ticket", ticket),
		logger.Pair("profit", profit))
}

// ClearAll 紧急停止后清空持仓视图
func (t *Tracker) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions = make(map[int64]model.Position)
	t.acct.OpenPositions = 0
}

// Account 当前账户快照
func (t *Tracker) Account(context.Context) (model.AccountInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.acct, nil
}

// OpenPositions 当前持仓列表
func (t *Tracker) OpenPositions(context.Context) ([]model.Position, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	return out, nil
}

// Stats 策略的交易表现统计
func (t *Tracker) Stats(_ context.Context, strategyID string) (model.TradeStats, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.stats[strategyID]
	if !ok || len(st.profits) == 0 {
		return model.TradeStats{}, nil
	}

	var wins, losses int
	var winSum, lossSum float64
	for _, p := range st.profits {
		if p > 0 {
			wins++
			winSum += p
		} else {
			losses++
			lossSum += -p
		}
	}
	out := model.TradeStats{
		SampleSize: len(st.profits),
		WinRate:    float64(wins) / float64(len(st.profits)),
	}
	if wins > 0 {
		out.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		out.AvgLoss = lossSum / float64(losses)
	}

	// 最近N笔胜率，连胜/连败调节用
	recent := st.profits
	if len(recent) > recentWindow {
		recent = recent[len(recent)-recentWindow:]
	}
	var recentWins int
	for _, p := range recent {
		if p > 0 {
			recentWins++
		}
	}
	out.RecentWinRatio = float64(recentWins) / float64(len(recent))
	return out, nil
}
