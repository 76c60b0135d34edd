package bridge

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"tradewire/internal/consts"
	"tradewire/internal/dao"
	"tradewire/internal/model"
	"tradewire/pkg/errors"
	"tradewire/pkg/errors/ecode"
	"tradewire/utils/security"
)

// 执行器注册表：密钥密文在库里，明文只在内存缓存
// 最后活跃时间走redis，掉线判断不打数据库

type Executor struct {
	ID     string
	Name   string
	Secret []byte
	Status model.ExecutorStatus
}

type Registry struct {
	dao *dao.ExecutorDao
	box *security.SecretBox
	rdb *redis.Client

	mu    sync.RWMutex
	cache map[string]*Executor
}

func NewRegistry(d *dao.ExecutorDao, box *security.SecretBox, rdb *redis.Client) *Registry {
	return &Registry{
		dao:   d,
		box:   box,
		rdb:   rdb,
		cache: make(map[string]*Executor),
	}
}

// Register 注册执行器并返回生成的共享密钥（只在此处出现一次明文）
func (r *Registry) Register(ctx context.Context, executorID, name string) ([]byte, error) {
	existing, err := r.dao.GetByExecutorID(ctx, executorID)
	if err != nil {
		return nil, errors.Wrap(err, ecode.InternalErr, "query executor")
	}
	if existing.ID != 0 {
		return nil, errors.New(ecode.InvalidParams, "executor id already registered")
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, errors.Wrap(err, ecode.InternalErr, "generate secret")
	}
	enc, err := r.box.Seal(secret)
	if err != nil {
		return nil, errors.Wrap(err, ecode.InternalErr, "seal secret")
	}
	rec := &model.ExecutorRecord{
		ExecutorID: executorID,
		Name:       name,
		SecretEnc:  enc,
		Status:     string(model.ExecutorActive),
	}
	if err := r.dao.Insert(ctx, rec); err != nil {
		return nil, errors.Wrap(err, ecode.InternalErr, "insert executor")
	}

	r.mu.Lock()
	r.cache[executorID] = &Executor{
		ID:     executorID,
		Name:   name,
		Secret: secret,
		Status: model.ExecutorActive,
	}
	r.mu.Unlock()
	return secret, nil
}

// Secret 取执行器共享密钥，未注册或已停用返回UnknownExecutor
func (r *Registry) Secret(ctx context.Context, executorID string) ([]byte, error) {
	r.mu.RLock()
	if e, ok := r.cache[executorID]; ok {
		r.mu.RUnlock()
		if e.Status != model.ExecutorActive {
			return nil, errors.New(ecode.UnknownExecutor, "executor disabled")
		}
		return e.Secret, nil
	}
	r.mu.RUnlock()

	rec, err := r.dao.GetByExecutorID(ctx, executorID)
	if err != nil {
		return nil, errors.Wrap(err, ecode.InternalErr, "query executor")
	}
	if rec.ID == 0 {
		return nil, errors.New(ecode.UnknownExecutor, "")
	}
	secret, err := r.box.Open(rec.SecretEnc)
	if err != nil {
		return nil, errors.Wrap(err, ecode.InternalErr, "decrypt secret")
	}

	e := &Executor{
		ID:     rec.ExecutorID,
		Name:   rec.Name,
		Secret: secret,
		Status: model.ExecutorStatus(rec.Status),
	}
	r.mu.Lock()
	r.cache[executorID] = e
	r.mu.Unlock()

	if e.Status != model.ExecutorActive {
		return nil, errors.New(ecode.UnknownExecutor, "executor disabled")
	}
	return secret, nil
}

// SetStatus 启停执行器并刷新缓存
func (r *Registry) SetStatus(ctx context.Context, executorID string, status model.ExecutorStatus) error {
	if err := r.dao.UpdateStatus(ctx, executorID, status); err != nil {
		return errors.Wrap(err, ecode.InternalErr, "update executor status")
	}
	r.mu.Lock()
	if e, ok := r.cache[executorID]; ok {
		e.Status = status
	}
	r.mu.Unlock()
	return nil
}

// Touch 更新最后活跃时间
func (r *Registry) Touch(ctx context.Context, executorID string) {
	if r.rdb == nil {
		return
	}
	r.rdb.Set(ctx, consts.ExecutorSeenPrefix+executorID,
		time.Now().Format(consts.TimeLayoutMs), consts.RedisExrDefault)
}

// LastSeen 最后活跃时间，从未上线返回零值
func (r *Registry) LastSeen(ctx context.Context, executorID string) time.Time {
	if r.rdb == nil {
		return time.Time{}
	}
	s, err := r.rdb.Get(ctx, consts.ExecutorSeenPrefix+executorID).Result()
	if err != nil {
		return time.Time{}
	}
	t, _ := time.ParseInLocation(consts.TimeLayoutMs, s, time.Local)
	return t
}

// List 所有执行器及其活跃状态
func (r *Registry) List(ctx context.Context) ([]model.ExecutorRecord, error) {
	return r.dao.List(ctx)
}

// ActiveExecutors 当前启用的执行器ID列表
func (r *Registry) ActiveExecutors(ctx context.Context) ([]string, error) {
	recs, err := r.dao.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, ecode.InternalErr, "list executors")
	}
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		if model.ExecutorStatus(rec.Status) == model.ExecutorActive {
			ids = append(ids, rec.ExecutorID)
		}
	}
	return ids, nil
}
