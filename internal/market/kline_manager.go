package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradewire/internal/engine"
	"tradewire/internal/model"
	"tradewire/pkg/logger"
)

// 行情数据层：带缓存的K线管理器
// 上游是任意 Feed（交易所、行情桥、回测数据源），下游统一通过
// GetHistoricalBars 读取，引擎不关心数据从哪来

// Feed 原始行情来源
type Feed interface {
	FetchKlines(ctx context.Context, symbol, timeframe string, count int) ([]model.Kline, error)
}

type cacheKey struct {
	symbol    string
	timeframe string
}

type cacheEntry struct {
	klines    []model.Kline
	fetchedAt time.Time
}

// KlineManager 按 (symbol, timeframe) 缓存K线，过了时间框周期自动刷新
type KlineManager struct {
	feed Feed

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry

	// 新K线回调，引擎用它触发评估
	onBar func(symbol string)
}

var _ engine.BarSource = (*KlineManager)(nil)

func NewKlineManager(feed Feed) *KlineManager {
	return &KlineManager{
		feed:  feed,
		cache: make(map[cacheKey]cacheEntry),
	}
}

// OnBar 注册新K线回调，须在调度启动前调用
func (m *KlineManager) OnBar(fn func(symbol string)) {
	m.onBar = fn
}

// GetHistoricalBars 读缓存，缓存过期或缺失时穿透到 Feed
func (m *KlineManager) GetHistoricalBars(ctx context.Context, symbol, timeframe string, count int) ([]model.Kline, error) {
	key := cacheKey{symbol: symbol, timeframe: timeframe}
	ttl := timeframeDuration(timeframe)

	m.mu.RLock()
	entry, ok := m.cache[key]
	m.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < ttl && len(entry.klines) >= count {
		return tail(entry.klines, count), nil
	}

	klines, err := m.feed.FetchKlines(ctx, symbol, timeframe, count)
	if err != nil {
		// 拉取失败时退回旧缓存，宁可用旧数据也不让引擎空转
		if ok && len(entry.klines) > 0 {
			logger.Warn("行情拉取失败，使用缓存",
				logger.Pair("symbol", symbol),
				logger.Pair("timeframe", timeframe),
				logger.Pair("err", err.Error()))
			return tail(entry.klines, count), nil
		}
		return nil, fmt.Errorf("fetch klines %s %s: %w", symbol, timeframe, err)
	}

	m.mu.Lock()
	m.cache[key] = cacheEntry{klines: klines, fetchedAt: time.Now()}
	m.mu.Unlock()
	return tail(klines, count), nil
}

// RunScheduled 定时按时间框对齐刷新并通知新K线，阻塞直到 ctx 取消
func (m *KlineManager) RunScheduled(ctx context.Context, symbols []string, timeframe string, count int) {
	period := timeframeDuration(timeframe)

	// 先铺底一轮
	m.refresh(ctx, symbols, timeframe, count)

	for {
		// 对齐到下一个周期边界，多等几秒确保上游数据完整
		next := time.Now().Truncate(period).Add(period + 5*time.Second)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		m.refresh(ctx, symbols, timeframe, count)
	}
}

func (m *KlineManager) refresh(ctx context.Context, symbols []string, timeframe string, count int) {
	for _, symbol := range symbols {
		klines, err := m.feed.FetchKlines(ctx, symbol, timeframe, count)
		if err != nil {
			logger.Warn("定时刷新K线失败",
				logger.Pair("symbol", symbol),
				logger.Pair("timeframe", timeframe),
				logger.Pair("err", err.Error()))
			continue
		}
		m.mu.Lock()
		m.cache[cacheKey{symbol: symbol, timeframe: timeframe}] = cacheEntry{
			klines:    klines,
			fetchedAt: time.Now(),
		}
		m.mu.Unlock()
		logger.Debug("K线已刷新",
			logger.Pair("symbol", symbol),
			logger.Pair("timeframe", timeframe),
			logger.Pair("bars", len(klines)))
		if m.onBar != nil {
			m.onBar(symbol)
		}
	}
}

func tail(ks []model.Kline, count int) []model.Kline {
	if count > 0 && len(ks) > count {
		return ks[len(ks)-count:]
	}
	return ks
}

// timeframeDuration 时间框字符串转周期，认不出来按15分钟处理
func timeframeDuration(tf string) time.Duration {
	switch tf {
	case "M1":
		return time.Minute
	case "M5":
		return 5 * time.Minute
	case "M15":
		return 15 * time.Minute
	case "M30":
		return 30 * time.Minute
	case "H1":
		return time.Hour
	case "H4":
		return 4 * time.Hour
	case "D1":
		return 24 * time.Hour
	}
	return 15 * time.Minute
}
