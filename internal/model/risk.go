package model

import (
	"time"
)

const (
	RiskTierLow    = "LOW"
	RiskTierMedium = "MEDIUM"
	RiskTierHigh   = "HIGH"
)

const (
	ActivityTransfer = "TRANSFER"
	ActivityPayment  = "PAYMENT"
)

// RiskEvent 可疑活动记录，供人工复核，只追加
type RiskEvent struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID    string    `gorm:"type:varchar(64);index;not null" json:"account_id"`
	ActivityType string    `gorm:"type:varchar(20);not null" json:"activity_type"`
	RefNo        string    `gorm:"type:varchar(64);index" json:"ref_no"`
	Amount       int64     `gorm:"not null" json:"amount"`
	Flags        string    `gorm:"type:varchar(256);not null" json:"flags"` // 逗号分隔
	Tier         string    `gorm:"type:varchar(10);index;not null" json:"tier"`
	Reviewed     bool      `gorm:"not null;default:false" json:"reviewed"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (RiskEvent) TableName() string {
	return "risk_event"
}
