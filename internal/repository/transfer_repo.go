package repository

import (
	"context"
	"time"

	"campuswallet/internal/model"

	"gorm.io/gorm"
)

type TransferRepository struct {
	db *gorm.DB
}

func NewTransferRepository(db *gorm.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

func (r *TransferRepository) Create(ctx context.Context, tx *gorm.DB, record *model.TransferRecord) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(record).Error
}

// CountCompletedSince 发送方在 since 之后成功转出的笔数
func (r *TransferRepository) CountCompletedSince(ctx context.Context, tx *gorm.DB, senderID string, since time.Time) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.TransferRecord{}).
		Where("sender_id = ? AND status = ? AND created_at > ?", senderID, model.TransferStatusCompleted, since).
		Count(&count).Error
	return count, err
}

// ListBySenderSince 风控读取发送方近期的全部尝试（含失败）
func (r *TransferRepository) ListBySenderSince(ctx context.Context, senderID string, since time.Time) ([]*model.TransferRecord, error) {
	var records []*model.TransferRecord
	err := r.db.WithContext(ctx).
		Where("sender_id = ? AND created_at > ?", senderID, since).
		Order("id ASC").
		Find(&records).Error
	return records, err
}

// ListCompletedByAccount 账户作为发送方或接收方的全部成功转账，对账用
func (r *TransferRepository) ListCompletedByAccount(ctx context.Context, accountID string) ([]*model.TransferRecord, error) {
	var records []*model.TransferRecord
	err := r.db.WithContext(ctx).
		Where("(sender_id = ? OR recipient_id = ?) AND status = ?", accountID, accountID, model.TransferStatusCompleted).
		Order("id ASC").
		Find(&records).Error
	return records, err
}
