package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/multierr"

	"tradewire/conf"
	"tradewire/internal/consts"
	"tradewire/internal/model"
	"tradewire/pkg/errors"
	"tradewire/pkg/errors/ecode"
	"tradewire/pkg/logger"
)

// 指令队列：优先级出队 + 租约投递 + 有界重试
//
// 不变式：
//   - 同优先级内严格FIFO（seq单调递增）
//   - 指令进入终态后状态不再变化，重复ack幂等
//   - 结构校验失败的指令直接拒绝，永不重试
//   - 生命周期事件在锁外发出，kafka抖动不能拖慢队列

// Store 指令持久化接口，进程重启后靠它恢复队列
type Store interface {
	Insert(ctx context.Context, cmd *model.TradeCommand, status model.CommandStatus) error
	UpdateStatus(ctx context.Context, id string, status model.CommandStatus, failReason string, retryCount int) error
	SaveResult(ctx context.Context, res *model.CommandResult, status model.CommandStatus) error
	LoadActive(ctx context.Context) ([]*model.TradeCommand, error)
}

// EventSink 生命周期事件出口，由kafka生产者实现
type EventSink interface {
	Produce(ctx context.Context, topic string, key []byte, msg interface{}) error
}

type entry struct {
	cmd    *model.TradeCommand
	status model.CommandStatus
	seq    uint64
	index  int // 堆内下标，-1表示不在堆中

	expireTimer *time.Timer
	retryTimer  *time.Timer

	// executing 状态的租约截止时间，过期视为投递失败
	leaseDeadline time.Time
	failReason    string
}

// 大顶堆：优先级高者先出，同优先级按seq先进先出
type cmdHeap []*entry

func (h cmdHeap) Len() int { return len(h) }
func (h cmdHeap) Less(i, j int) bool {
	if h[i].cmd.Priority != h[j].cmd.Priority {
		return h[i].cmd.Priority > h[j].cmd.Priority
	}
	return h[i].seq < h[j].seq
}
func (h cmdHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *cmdHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *cmdHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

type Queue struct {
	cfg    conf.QueueConfig
	store  Store
	events EventSink
	node   *snowflake.Node

	mu      sync.Mutex
	entries map[string]*entry
	heap    cmdHeap
	seq     uint64
	stopped bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewQueue(cfg conf.QueueConfig, store Store, events EventSink) (*Queue, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, err
	}
	return &Queue{
		cfg:     cfg,
		store:   store,
		events:  events,
		node:    node,
		entries: make(map[string]*entry),
		stopCh:  make(chan struct{}),
	}, nil
}

// Push 指令入队
// 校验失败直接拒绝：这类指令永远不可能执行成功，不入队也不重试
func (q *Queue) Push(ctx context.Context, cmd *model.TradeCommand) error {
	if cmd.ID == "" {
		cmd.ID = q.node.Generate().String()
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now()
	}
	if cmd.MaxRetries <= 0 {
		cmd.MaxRetries = q.cfg.DefaultMaxRetries
	}
	if err := cmd.Validate(); err != nil {
		return errors.Wrap(err, ecode.CommandInvalid, "")
	}
	if cmd.IsExpired(time.Now()) {
		return errors.New(ecode.CommandInvalid, "command already expired")
	}

	if q.store != nil {
		if err := q.store.Insert(ctx, cmd, model.StatusPending); err != nil {
			return errors.Wrap(err, ecode.InternalErr, "persist command")
		}
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return errors.New(ecode.QueueStopped, "")
	}
	if _, ok := q.entries[cmd.ID]; ok {
		q.mu.Unlock()
		return errors.New(ecode.CommandInvalid, "duplicate command id")
	}
	q.seq++
	e := &entry{cmd: cmd, status: model.StatusPending, seq: q.seq, index: -1}
	q.entries[cmd.ID] = e
	heap.Push(&q.heap, e)
	q.armExpiryLocked(e)
	q.mu.Unlock()

	q.emit(ctx, cmd.ID, model.StatusPending, "")
	logger.Info("指令入队",
		logger.Pair("id", cmd.ID),
		logger.Pair("type", string(cmd.Type)),
		logger.Pair("priority", cmd.Priority.String()))
	return nil
}

// Pop 取一条给该执行器的最高优先级指令并标记为执行中
// 没有可投递的指令时返回 (nil, nil)
func (q *Queue) Pop(ctx context.Context, executorID string) (*model.TradeCommand, error) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil, errors.New(ecode.QueueStopped, "")
	}

	now := time.Now()
	var skipped []*entry
	var picked *entry
	var expired []*entry
	for q.heap.Len() > 0 {
		e := heap.Pop(&q.heap).(*entry)
		if e.cmd.IsExpired(now) {
			expired = append(expired, e)
			continue
		}
		// 定向指令只投给指定执行器
		if e.cmd.ExecutorID != "" && e.cmd.ExecutorID != executorID {
			skipped = append(skipped, e)
			continue
		}
		picked = e
		break
	}
	for _, e := range skipped {
		heap.Push(&q.heap, e)
	}
	for _, e := range expired {
		q.markFailedLocked(e, "expired")
	}

	if picked != nil {
		picked.status = model.StatusExecuting
		picked.leaseDeadline = now.Add(q.cfg.LeaseTimeout)
		if picked.expireTimer != nil {
			picked.expireTimer.Stop()
			picked.expireTimer = nil
		}
	}
	q.mu.Unlock()

	for _, e := range expired {
		q.persistStatus(ctx, e)
		q.emit(ctx, e.cmd.ID, model.StatusFailed, "expired")
	}
	if picked == nil {
		return nil, nil
	}

	if q.store != nil {
		if err := q.store.UpdateStatus(ctx, picked.cmd.ID, model.StatusExecuting, "", picked.cmd.RetryCount); err != nil {
			logger.Error("指令状态落库失败", logger.Pair("id", picked.cmd.ID), logger.Pair("err", err.Error()))
		}
	}
	q.emit(ctx, picked.cmd.ID, model.StatusExecuting, "")

	out := *picked.cmd
	return &out, nil
}

// Acknowledge 执行器回报结果
// 对已终态指令的重复回报幂等返回成功；失败结果按策略重试
func (q *Queue) Acknowledge(ctx context.Context, res *model.CommandResult) error {
	q.mu.Lock()
	e, ok := q.entries[res.CommandID]
	if !ok {
		q.mu.Unlock()
		return errors.New(ecode.CommandNotFound, "")
	}
	if e.status.IsTerminal() {
		q.mu.Unlock()
		return nil
	}

	var finalStatus model.CommandStatus
	var reason string
	var retryIn time.Duration
	var retryCount int
	switch {
	case res.Success:
		finalStatus = model.StatusExecuted
		e.status = model.StatusExecuted
		q.detachLocked(e)
	case !retryable(res.Error):
		finalStatus = model.StatusFailed
		reason = failReason(res.Error)
		e.status = model.StatusFailed
		e.failReason = reason
		q.detachLocked(e)
	case e.cmd.RetryCount >= e.cmd.MaxRetries:
		finalStatus = model.StatusFailed
		reason = "retry exhausted: " + failReason(res.Error)
		e.status = model.StatusFailed
		e.failReason = reason
		q.detachLocked(e)
	default:
		retryIn = q.scheduleRetryLocked(e, failReason(res.Error))
		retryCount = e.cmd.RetryCount
	}
	q.mu.Unlock()

	if finalStatus != "" {
		if q.store != nil {
			if err := q.store.SaveResult(ctx, res, finalStatus); err != nil {
				logger.Error("结果落库失败", logger.Pair("id", res.CommandID), logger.Pair("err", err.Error()))
			}
		}
		q.emit(ctx, res.CommandID, finalStatus, reason)
		logger.Info("指令完成",
			logger.Pair("id", res.CommandID),
			logger.Pair("status", string(finalStatus)),
			logger.Pair("executor", res.ExecutorID))
		return nil
	}

	if q.store != nil {
		if err := q.store.UpdateStatus(ctx, res.CommandID, model.StatusPending, failReason(res.Error), retryCount); err != nil {
			logger.Error("重试状态落库失败", logger.Pair("id", res.CommandID), logger.Pair("err", err.Error()))
		}
	}
	q.emit(ctx, res.CommandID, model.StatusPending, "retrying")
	logger.Warn("指令执行失败，已安排重试",
		logger.Pair("id", res.CommandID),
		logger.Pair("retry", retryCount),
		logger.Pair("delay", retryIn.String()))
	return nil
}

// Cancel 尽力取消：未投递的直接取消；已投递未回报的本地标记取消，
// 执行器若已实际执行，迟到的回报会因终态而被幂等忽略
func (q *Queue) Cancel(ctx context.Context, id string) error {
	q.mu.Lock()
	e, ok := q.entries[id]
	if !ok {
		q.mu.Unlock()
		return errors.New(ecode.CommandNotFound, "")
	}
	if e.status.IsTerminal() {
		q.mu.Unlock()
		return errors.New(ecode.CommandTerminal, "")
	}
	e.status = model.StatusCancelled
	e.failReason = "cancelled"
	q.detachLocked(e)
	q.mu.Unlock()

	q.persistStatus(ctx, e)
	q.emit(ctx, id, model.StatusCancelled, "cancelled")
	logger.Info("指令已取消", logger.Pair("id", id))
	return nil
}

// EmergencyStop 同步取消所有未终态指令——执行中的也一并取消，
// 租约被清掉后看门狗不会再把它们送回重试；迟到的回报被幂等忽略。
// 随后给每个给定执行器下发一条定向URGENT平仓指令，名录为空时退化为一条广播指令。
// 返回的错误聚合了所有落库失败，但任何失败都不会中断清空过程
func (q *Queue) EmergencyStop(ctx context.Context, reason string, executorIDs []string) ([]string, error) {
	q.mu.Lock()
	var drained []*entry
	for _, e := range q.entries {
		if e.status == model.StatusPending || e.status == model.StatusExecuting {
			e.status = model.StatusCancelled
			e.failReason = "emergency stop"
			q.detachLocked(e)
			drained = append(drained, e)
		}
	}
	q.mu.Unlock()

	var errs error
	for _, e := range drained {
		if q.store != nil {
			if err := q.store.UpdateStatus(ctx, e.cmd.ID, model.StatusCancelled, "emergency stop", e.cmd.RetryCount); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		q.emit(ctx, e.cmd.ID, model.StatusCancelled, "emergency stop")
	}
	logger.Warn("紧急停止，清空队列",
		logger.Pair("drained", len(drained)),
		logger.Pair("reason", reason))

	targets := executorIDs
	if len(targets) == 0 {
		targets = []string{""}
	}
	stopIDs := make([]string, 0, len(targets))
	for _, execID := range targets {
		stop := &model.TradeCommand{
			ExecutorID: execID,
			Type:       model.CmdEmergencyStop,
			Priority:   model.PriorityUrgent,
			Payload: model.CommandPayload{
				Action:  model.ActionCloseAll,
				Comment: reason,
			},
			CreatedAt: time.Now(),
		}
		if err := q.Push(ctx, stop); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		stopIDs = append(stopIDs, stop.ID)
	}
	return stopIDs, errs
}

// Get 查询指令当前快照
func (q *Queue) Get(id string) (*model.TradeCommand, model.CommandStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return nil, "", errors.New(ecode.CommandNotFound, "")
	}
	out := *e.cmd
	return &out, e.status, nil
}

// Stats 各状态的指令数
func (q *Queue) Stats() map[model.CommandStatus]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[model.CommandStatus]int)
	for _, e := range q.entries {
		out[e.status]++
	}
	return out
}

// Recover 启动时从存储恢复未终态指令
// executing 的指令视为投递结果未知，回到 pending 重新投递
func (q *Queue) Recover(ctx context.Context) error {
	if q.store == nil {
		return nil
	}
	cmds, err := q.store.LoadActive(ctx)
	if err != nil {
		return errors.Wrap(err, ecode.InternalErr, "load active commands")
	}
	now := time.Now()
	var restored, dropped int
	q.mu.Lock()
	for _, cmd := range cmds {
		if _, ok := q.entries[cmd.ID]; ok {
			continue
		}
		q.seq++
		e := &entry{cmd: cmd, status: model.StatusPending, seq: q.seq, index: -1}
		q.entries[cmd.ID] = e
		if cmd.IsExpired(now) {
			q.markFailedLocked(e, "expired")
			dropped++
			continue
		}
		heap.Push(&q.heap, e)
		q.armExpiryLocked(e)
		restored++
	}
	q.mu.Unlock()
	logger.Info("队列恢复完成", logger.Pair("restored", restored), logger.Pair("expired", dropped))
	return nil
}

// Close 停止队列，拒绝后续操作并停掉所有定时器
func (q *Queue) Close() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.stopCh)
	for _, e := range q.entries {
		if e.expireTimer != nil {
			e.expireTimer.Stop()
		}
		if e.retryTimer != nil {
			e.retryTimer.Stop()
		}
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// ---- 内部 ----

// detachLocked 从堆和定时器中摘除，调用方持锁
func (q *Queue) detachLocked(e *entry) {
	if e.index >= 0 {
		heap.Remove(&q.heap, e.index)
	}
	if e.expireTimer != nil {
		e.expireTimer.Stop()
		e.expireTimer = nil
	}
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.leaseDeadline = time.Time{}
}

func (q *Queue) markFailedLocked(e *entry, reason string) {
	e.status = model.StatusFailed
	e.failReason = reason
	q.detachLocked(e)
}

// armExpiryLocked 给带过期时间的指令挂定时器，调用方持锁
func (q *Queue) armExpiryLocked(e *entry) {
	exp := e.cmd.ExpiresAt()
	if exp.IsZero() {
		return
	}
	id := e.cmd.ID
	e.expireTimer = time.AfterFunc(time.Until(exp), func() {
		q.expire(id)
	})
}

func (q *Queue) expire(id string) {
	q.mu.Lock()
	e, ok := q.entries[id]
	if !ok || e.status != model.StatusPending {
		q.mu.Unlock()
		return
	}
	q.markFailedLocked(e, "expired")
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.persistStatus(ctx, e)
	q.emit(ctx, id, model.StatusFailed, "expired")
	logger.Warn("指令过期", logger.Pair("id", id))
}

// scheduleRetryLocked 安排一次指数退避重试，返回延迟时长，调用方持锁
func (q *Queue) scheduleRetryLocked(e *entry, reason string) time.Duration {
	e.cmd.RetryCount++
	e.status = model.StatusPending
	e.failReason = reason
	e.leaseDeadline = time.Time{}

	delay := q.backoff(e.cmd.RetryCount)
	id := e.cmd.ID
	e.retryTimer = time.AfterFunc(delay, func() {
		q.requeue(id)
	})
	return delay
}

// backoff 第n次重试的延迟：基础延迟按次数翻倍，封顶
func (q *Queue) backoff(n int) time.Duration {
	delay := q.cfg.RetryBaseDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= q.cfg.RetryMaxDelay {
			return q.cfg.RetryMaxDelay
		}
	}
	if delay > q.cfg.RetryMaxDelay {
		return q.cfg.RetryMaxDelay
	}
	return delay
}

// requeue 重试延迟到点后重新进堆
func (q *Queue) requeue(id string) {
	q.mu.Lock()
	e, ok := q.entries[id]
	if !ok || q.stopped || e.status != model.StatusPending || e.index >= 0 {
		q.mu.Unlock()
		return
	}
	e.retryTimer = nil
	if e.cmd.IsExpired(time.Now()) {
		q.markFailedLocked(e, "expired")
		q.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		q.persistStatus(ctx, e)
		q.emit(ctx, id, model.StatusFailed, "expired")
		return
	}
	heap.Push(&q.heap, e)
	q.armExpiryLocked(e)
	q.mu.Unlock()
	logger.Debug("指令重新入队", logger.Pair("id", id))
}

func (q *Queue) persistStatus(ctx context.Context, e *entry) {
	if q.store == nil {
		return
	}
	if err := q.store.UpdateStatus(ctx, e.cmd.ID, e.status, e.failReason, e.cmd.RetryCount); err != nil {
		logger.Error("指令状态落库失败", logger.Pair("id", e.cmd.ID), logger.Pair("err", err.Error()))
	}
}

// emit 生命周期事件出kafka，永远在锁外调用
func (q *Queue) emit(ctx context.Context, id string, status model.CommandStatus, reason string) {
	if q.events == nil {
		return
	}
	evt := model.CommandEvent{
		CommandID: id,
		Status:    string(status),
		Reason:    reason,
		Timestamp: time.Now(),
	}
	if err := q.events.Produce(ctx, consts.TopicCommandEvents, []byte(id), evt); err != nil {
		logger.Warn("生命周期事件发送失败", logger.Pair("id", id), logger.Pair("err", err.Error()))
	}
}

// retryable 判断失败结果能否重试：结构性错误永不重试
func retryable(ce *model.CommandError) bool {
	if ce == nil {
		return true
	}
	switch ce.Code {
	case "INVALID_COMMAND", "INVALID_PARAMS", "UNSUPPORTED_ACTION":
		return false
	}
	return true
}

func failReason(ce *model.CommandError) string {
	if ce == nil {
		return "execution failed"
	}
	if ce.Message != "" {
		return ce.Code + ": " + ce.Message
	}
	return ce.Code
}
