package queue

import (
	"context"
	"time"

	"tradewire/internal/model"
	"tradewire/pkg/logger"
)

// 租约看门狗：executing 状态超过租约时长仍未ack的指令视为投递失败，
// 走正常重试路径；重试耗尽则判失败。防止执行器掉线后指令永远卡在执行中。

// StartWatchdog 启动租约巡检，Close 时退出
func (q *Queue) StartWatchdog() {
	interval := q.cfg.LeaseTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-q.stopCh:
				return
			case <-ticker.C:
				q.reapExpiredLeases()
			}
		}
	}()
}

func (q *Queue) reapExpiredLeases() {
	now := time.Now()

	type reaped struct {
		e        *entry
		failed   bool
		retry    time.Duration
	}
	var hits []reaped

	q.mu.Lock()
	for _, e := range q.entries {
		if e.status != model.StatusExecuting || e.leaseDeadline.IsZero() || now.Before(e.leaseDeadline) {
			continue
		}
		if e.cmd.RetryCount >= e.cmd.MaxRetries {
			q.markFailedLocked(e, "lease expired, retry exhausted")
			hits = append(hits, reaped{e: e, failed: true})
			continue
		}
		delay := q.scheduleRetryLocked(e, "lease expired")
		hits = append(hits, reaped{e: e, retry: delay})
	}
	q.mu.Unlock()

	if len(hits) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, h := range hits {
		q.persistStatus(ctx, h.e)
		if h.failed {
			q.emit(ctx, h.e.cmd.ID, model.StatusFailed, h.e.failReason)
			logger.Error("指令租约超时且重试耗尽", logger.Pair("id", h.e.cmd.ID))
			continue
		}
		q.emit(ctx, h.e.cmd.ID, model.StatusPending, "lease expired")
		logger.Warn("指令租约超时，重新投递",
			logger.Pair("id", h.e.cmd.ID),
			logger.Pair("delay", h.retry.String()))
	}
}
