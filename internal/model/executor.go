package model

import (
	"time"

	"gorm.io/plugin/soft_delete"
)

// 远程执行器（终端侧的下单代理）

type ExecutorStatus string

const (
	ExecutorActive   ExecutorStatus = "active"
	ExecutorDisabled ExecutorStatus = "disabled"
)

// ExecutorRecord 执行器注册记录
// 共享密钥用主密钥加密后入库，明文只存在于内存
type ExecutorRecord struct {
	ID         uint                  `gorm:"column:id;primary_key" json:"id"`
	ExecutorID string                `gorm:"column:executor_id;uniqueIndex" json:"executor_id"`
	Name       string                `gorm:"column:name" json:"name"`
	SecretEnc  string                `gorm:"column:secret_enc" json:"-"`
	Status     string                `gorm:"column:status;index" json:"status"`
	CreatedAt  time.Time             `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time             `gorm:"column:updated_at" json:"updated_at"`
	DeletedAt  time.Time             `gorm:"column:deleted_at" json:"-"`
	IsDel      soft_delete.DeletedAt `gorm:"softDelete:flag,DeletedAtField:DeletedAt" json:"-"`
}

func (ExecutorRecord) TableName() string {
	return "executors"
}
