package market

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"

	"tradewire/internal/model"
)

// redis行情源：行情采集网关把各品种的K线写进redis，
// 服务端只读。键按 (symbol, timeframe) 组织，值是完整K线数组JSON。

const klineKeyPrefix = "Klines:"

type RedisFeed struct {
	rdb *redis.Client
}

func NewRedisFeed(rdb *redis.Client) *RedisFeed {
	return &RedisFeed{rdb: rdb}
}

func klineKey(symbol, timeframe string) string {
	return klineKeyPrefix + symbol + ":" + timeframe
}

func (f *RedisFeed) FetchKlines(ctx context.Context, symbol, timeframe string, count int) ([]model.Kline, error) {
	raw, err := f.rdb.Get(ctx, klineKey(symbol, timeframe)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("no kline data for %s %s", symbol, timeframe)
		}
		return nil, err
	}
	var klines []model.Kline
	if err := json.Unmarshal(raw, &klines); err != nil {
		return nil, fmt.Errorf("decode klines %s %s: %w", symbol, timeframe, err)
	}
	if count > 0 && len(klines) > count {
		klines = klines[len(klines)-count:]
	}
	return klines, nil
}
