package dao

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"tradewire/internal/model"
)

// 指令持久化，队列重启恢复的依据

type CommandDao struct {
	db *gorm.DB
}

func NewCommandDao(db *gorm.DB) *CommandDao {
	return &CommandDao{db: db}
}

// Insert 新指令落库
func (d *CommandDao) Insert(ctx context.Context, cmd *model.TradeCommand, status model.CommandStatus) error {
	payload, err := json.Marshal(cmd.Payload)
	if err != nil {
		return err
	}
	rec := &model.CommandRecord{
		ID:         cmd.ID,
		StrategyID: cmd.StrategyID,
		ExecutorID: cmd.ExecutorID,
		Type:       string(cmd.Type),
		Priority:   int(cmd.Priority),
		Status:     string(status),
		Payload:    datatypes.JSON(payload),
		RetryCount: cmd.RetryCount,
		MaxRetries: cmd.MaxRetries,
		CreatedAt:  cmd.CreatedAt,
		UpdatedAt:  time.Now(),
	}
	if exp := cmd.ExpiresAt(); !exp.IsZero() {
		rec.ExpiresAt = &exp
	}
	return d.db.WithContext(ctx).Create(rec).Error
}

// UpdateStatus 状态迁移落库
func (d *CommandDao) UpdateStatus(ctx context.Context, id string, status model.CommandStatus, failReason string, retryCount int) error {
	return d.db.WithContext(ctx).Model(&model.CommandRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      string(status),
			"fail_reason": failReason,
			"retry_count": retryCount,
			"updated_at":  time.Now(),
		}).Error
}

// SaveResult 终态结果落库
func (d *CommandDao) SaveResult(ctx context.Context, res *model.CommandResult, status model.CommandStatus) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{
		"status":     string(status),
		"result":     datatypes.JSON(raw),
		"updated_at": time.Now(),
	}
	if res.Error != nil {
		updates["fail_reason"] = res.Error.Code + ": " + res.Error.Message
	}
	return d.db.WithContext(ctx).Model(&model.CommandRecord{}).
		Where("id = ?", res.CommandID).
		Updates(updates).Error
}

// LoadActive 加载所有未终态的指令
func (d *CommandDao) LoadActive(ctx context.Context) ([]*model.TradeCommand, error) {
	var recs []model.CommandRecord
	err := d.db.WithContext(ctx).
		Where("status IN ?", []string{string(model.StatusPending), string(model.StatusExecuting)}).
		Order("created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	out := make([]*model.TradeCommand, 0, len(recs))
	for _, rec := range recs {
		cmd := &model.TradeCommand{
			ID:         rec.ID,
			StrategyID: rec.StrategyID,
			ExecutorID: rec.ExecutorID,
			Type:       model.CommandType(rec.Type),
			Priority:   model.CommandPriority(rec.Priority),
			RetryCount: rec.RetryCount,
			MaxRetries: rec.MaxRetries,
			CreatedAt:  rec.CreatedAt,
		}
		if err := json.Unmarshal(rec.Payload, &cmd.Payload); err != nil {
			continue
		}
		if rec.ExpiresAt != nil {
			cmd.ExpiryMs = rec.ExpiresAt.Sub(rec.CreatedAt).Milliseconds()
		}
		out = append(out, cmd)
	}
	return out, nil
}

// History 按策略查询指令历史
func (d *CommandDao) History(ctx context.Context, strategyID string, limit int) ([]model.CommandRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var recs []model.CommandRecord
	q := d.db.WithContext(ctx).Model(&model.CommandRecord{})
	if strategyID != "" {
		q = q.Where("strategy_id = ?", strategyID)
	}
	err := q.Order("created_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}
