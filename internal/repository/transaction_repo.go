package repository

import (
	"context"

	"campuswallet/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.AccountTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) ListByRefNo(ctx context.Context, refNo string) ([]*model.AccountTransaction, error) {
	var transactions []*model.AccountTransaction
	err := r.db.WithContext(ctx).
		Where("ref_no = ?", refNo).
		Order("id ASC").
		Find(&transactions).Error
	return transactions, err
}

// ListByAccount 按写入顺序返回账户的全部流水，对账用
func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID string) ([]*model.AccountTransaction, error) {
	var transactions []*model.AccountTransaction
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id ASC").
		Find(&transactions).Error
	return transactions, err
}
