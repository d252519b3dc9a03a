package repository

import (
	"context"
	"errors"
	"time"

	"campuswallet/internal/model"

	"gorm.io/gorm"
)

var (
	ErrPaymentNotFound   = errors.New("支付单不存在")
	ErrPaymentTransition = errors.New("支付单状态已变化")
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *PaymentRepository) Create(ctx context.Context, tx *gorm.DB, payment *model.PendingPayment) error {
	return r.conn(tx).WithContext(ctx).Create(payment).Error
}

func (r *PaymentRepository) GetByReference(ctx context.Context, tx *gorm.DB, reference string) (*model.PendingPayment, error) {
	var payment model.PendingPayment
	err := r.conn(tx).WithContext(ctx).Where("reference = ?", reference).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// LatestPendingSince 付款人在 since 之后创建、仍未处理的支付单，没有返回 nil
func (r *PaymentRepository) LatestPendingSince(ctx context.Context, payerID string, since time.Time) (*model.PendingPayment, error) {
	var payment model.PendingPayment
	err := r.db.WithContext(ctx).
		Where("payer_id = ? AND status = ? AND created_at > ?", payerID, model.PaymentStatusPending, since).
		Order("id DESC").
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// Transition 只有当前状态为 from 时才更新，保证每张支付单只会进入一次终态
func (r *PaymentRepository) Transition(ctx context.Context, tx *gorm.DB, reference, from, to string, updates map[string]interface{}) error {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = to

	result := r.conn(tx).WithContext(ctx).
		Model(&model.PendingPayment{}).
		Where("reference = ? AND status = ?", reference, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPaymentTransition
	}
	return nil
}

func (r *PaymentRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*model.PendingPayment, error) {
	var payments []*model.PendingPayment
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", model.PaymentStatusPending, now).
		Order("id ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

// ListStalePending 创建已久但还没收到回调、也未过期的支付单
func (r *PaymentRepository) ListStalePending(ctx context.Context, createdBefore, now time.Time, limit int) ([]*model.PendingPayment, error) {
	var payments []*model.PendingPayment
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ? AND expires_at >= ?", model.PaymentStatusPending, createdBefore, now).
		Order("id ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) ListByPayerSince(ctx context.Context, payerID string, since time.Time) ([]*model.PendingPayment, error) {
	var payments []*model.PendingPayment
	err := r.db.WithContext(ctx).
		Where("payer_id = ? AND created_at > ?", payerID, since).
		Order("id ASC").
		Find(&payments).Error
	return payments, err
}
