package repository

import (
	"context"

	"campuswallet/internal/model"

	"gorm.io/gorm"
)

type RiskRepository struct {
	db *gorm.DB
}

func NewRiskRepository(db *gorm.DB) *RiskRepository {
	return &RiskRepository{db: db}
}

func (r *RiskRepository) Create(ctx context.Context, event *model.RiskEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *RiskRepository) ListUnreviewed(ctx context.Context, limit int) ([]*model.RiskEvent, error) {
	var events []*model.RiskEvent
	err := r.db.WithContext(ctx).
		Where("reviewed = ?", false).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *RiskRepository) ListByAccount(ctx context.Context, accountID string) ([]*model.RiskEvent, error) {
	var events []*model.RiskEvent
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id ASC").
		Find(&events).Error
	return events, err
}
