package model

import (
	"time"
)

const (
	TransferStatusCompleted = "COMPLETED"
	TransferStatusFailed    = "FAILED"
)

// TransferRecord 用户间转账记录，只追加。
// 成功和失败的尝试各记一行，失败行的前后余额相同。
type TransferRecord struct {
	ID                     int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransferNo             string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transfer_no"`
	SenderID               string    `gorm:"type:varchar(64);index:idx_sender_created;not null" json:"sender_id"`
	RecipientID            string    `gorm:"type:varchar(64);index;not null" json:"recipient_id"`
	Amount                 int64     `gorm:"not null" json:"amount"`
	SenderBalanceBefore    int64     `gorm:"not null" json:"sender_balance_before"`
	SenderBalanceAfter     int64     `gorm:"not null" json:"sender_balance_after"`
	RecipientBalanceBefore int64     `gorm:"not null" json:"recipient_balance_before"`
	RecipientBalanceAfter  int64     `gorm:"not null" json:"recipient_balance_after"`
	Status                 string    `gorm:"type:varchar(20);not null" json:"status"`
	Reason                 string    `gorm:"type:varchar(128)" json:"reason,omitempty"`
	CreatedAt              time.Time `gorm:"autoCreateTime;index:idx_sender_created" json:"created_at"`
}

func (TransferRecord) TableName() string {
	return "transfer_record"
}
