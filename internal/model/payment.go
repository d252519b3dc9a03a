package model

import (
	"time"
)

const (
	PaymentStatusPending  = "pending"
	PaymentStatusCredited = "credited"
	PaymentStatusFailed   = "failed"
	PaymentStatusExpired  = "expired"
)

// PaymentStatusIsTerminal 终态的支付单不会再被处理
func PaymentStatusIsTerminal(status string) bool {
	switch status {
	case PaymentStatusCredited, PaymentStatusFailed, PaymentStatusExpired:
		return true
	}
	return false
}

// PendingPayment 充值支付单
// 创建后状态为 pending，只能迁移一次到 credited/failed/expired。
type PendingPayment struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Reference      string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"reference"`
	PayerID        string     `gorm:"type:varchar(64);index:idx_payer_status;not null" json:"payer_id"`
	DeclaredAmount int64      `gorm:"not null" json:"declared_amount"`
	CreditedAmount int64      `gorm:"not null;default:0" json:"credited_amount"`
	Email          string     `gorm:"type:varchar(128);not null" json:"email"`
	Status         string     `gorm:"type:varchar(20);index:idx_payer_status;not null" json:"status"`
	FailureReason  string     `gorm:"type:varchar(256)" json:"failure_reason,omitempty"`
	GatewayTxnID   string     `gorm:"type:varchar(64)" json:"gateway_txn_id,omitempty"`
	ExpiresAt      time.Time  `gorm:"index;not null" json:"expires_at"`
	SettledAt      *time.Time `json:"settled_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PendingPayment) TableName() string {
	return "pending_payment"
}
