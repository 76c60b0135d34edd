package dao

import (
	"context"

	"gorm.io/gorm"

	"tradewire/internal/model"
)

type ExecutorDao struct {
	db *gorm.DB
}

func NewExecutorDao(db *gorm.DB) *ExecutorDao {
	return &ExecutorDao{db: db}
}

// Insert 注册新执行器
func (d *ExecutorDao) Insert(ctx context.Context, rec *model.ExecutorRecord) error {
	return d.db.WithContext(ctx).Create(rec).Error
}

// GetByExecutorID 按执行器ID查找
func (d *ExecutorDao) GetByExecutorID(ctx context.Context, executorID string) (rec model.ExecutorRecord, err error) {
	err = d.db.WithContext(ctx).
		Where("executor_id = ?", executorID).
		Limit(1).
		Find(&rec).Error
	return
}

// List 列出所有执行器
func (d *ExecutorDao) List(ctx context.Context) ([]model.ExecutorRecord, error) {
	var recs []model.ExecutorRecord
	err := d.db.WithContext(ctx).Order("created_at ASC").Find(&recs).Error
	return recs, err
}

// UpdateStatus 启用/停用执行器
func (d *ExecutorDao) UpdateStatus(ctx context.Context, executorID string, status model.ExecutorStatus) error {
	return d.db.WithContext(ctx).Model(&model.ExecutorRecord{}).
		Where("executor_id = ?", executorID).
		Update("status", string(status)).Error
}

// Delete 软删除执行器
func (d *ExecutorDao) Delete(ctx context.Context, executorID string) error {
	return d.db.WithContext(ctx).
		Where("executor_id = ?", executorID).
		Delete(&model.ExecutorRecord{}).Error
}
