package dao

import (
	"context"

	"github.com/goccy/go-json"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"tradewire/internal/model"
)

// 策略配置持久化，软删除走 is_del 标记

type StrategyDao struct {
	db *gorm.DB
}

func NewStrategyDao(db *gorm.DB) *StrategyDao {
	return &StrategyDao{db: db}
}

// Save 新建或整体更新策略配置
func (d *StrategyDao) Save(ctx context.Context, strat *model.Strategy) error {
	cfg, err := json.Marshal(strat)
	if err != nil {
		return err
	}
	var existing model.StrategyRecord
	err = d.db.WithContext(ctx).Where("strategy_id = ?", strat.ID).Limit(1).Find(&existing).Error
	if err != nil {
		return err
	}
	if existing.ID == 0 {
		return d.db.WithContext(ctx).Create(&model.StrategyRecord{
			StrategyID: strat.ID,
			Name:       strat.Name,
			Status:     string(strat.Status),
			Config:     datatypes.JSON(cfg),
		}).Error
	}
	return d.db.WithContext(ctx).Model(&model.StrategyRecord{}).
		Where("strategy_id = ?", strat.ID).
		Updates(map[string]interface{}{
			"name":   strat.Name,
			"status": string(strat.Status),
			"config": datatypes.JSON(cfg),
		}).Error
}

// Get 按策略ID加载完整配置
func (d *StrategyDao) Get(ctx context.Context, strategyID string) (*model.Strategy, error) {
	var rec model.StrategyRecord
	err := d.db.WithContext(ctx).Where("strategy_id = ?", strategyID).First(&rec).Error
	if err != nil {
		return nil, err
	}
	var strat model.Strategy
	if err := json.Unmarshal(rec.Config, &strat); err != nil {
		return nil, err
	}
	// 库里的状态字段为准
	strat.Status = model.StrategyStatus(rec.Status)
	return &strat, nil
}

// ListActive 加载所有启用状态的策略，进程启动时恢复引擎循环用
func (d *StrategyDao) ListActive(ctx context.Context) ([]*model.Strategy, error) {
	var recs []model.StrategyRecord
	err := d.db.WithContext(ctx).
		Where("status = ?", string(model.StrategyActive)).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]*model.Strategy, 0, len(recs))
	for _, rec := range recs {
		var strat model.Strategy
		if err := json.Unmarshal(rec.Config, &strat); err != nil {
			continue
		}
		strat.Status = model.StrategyStatus(rec.Status)
		out = append(out, &strat)
	}
	return out, nil
}

// UpdateStatus 只切换策略状态
func (d *StrategyDao) UpdateStatus(ctx context.Context, strategyID string, status model.StrategyStatus) error {
	return d.db.WithContext(ctx).Model(&model.StrategyRecord{}).
		Where("strategy_id = ?", strategyID).
		Update("status", string(status)).Error
}

// Delete 软删除策略
func (d *StrategyDao) Delete(ctx context.Context, strategyID string) error {
	return d.db.WithContext(ctx).
		Where("strategy_id = ?", strategyID).
		Delete(&model.StrategyRecord{}).Error
}
