package model

import (
	"time"
)

const (
	TransactionTypeRecharge    = "RECHARGE"     // 支付网关充值入账
	TransactionTypeOrderDebit  = "ORDER_DEBIT"  // 订单确认，买家扣款
	TransactionTypeOrderCredit = "ORDER_CREDIT" // 订单确认，餐厅入账
)

// AccountTransaction 账户流水表
//
// 只追加，不修改，不删除。每一次充值或订单结算引起的余额变动对应一条流水，
// 记录交易前后余额用于对账。转账的流水单独记在 transfer_record。
type AccountTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	AccountID     string    `gorm:"type:varchar(64);index;not null" json:"account_id"`
	RefNo         string    `gorm:"type:varchar(64);index;not null" json:"ref_no"` // 订单号或支付 reference
	Amount        int64     `gorm:"not null" json:"amount"`                        // 正数入账，负数出账
	Type          string    `gorm:"type:varchar(20);not null" json:"type"`
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	Remark        string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AccountTransaction) TableName() string {
	return "account_transaction"
}
