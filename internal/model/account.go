package model

import (
	"time"
)

const (
	RoleUser       = "user"
	RoleRestaurant = "restaurant"
)

// Account 钱包账户表，一个用户或一个餐厅对应一个账户
// Balance 为最小货币单位，任何引擎操作后都不能为负
type Account struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Role      string    `gorm:"type:varchar(16);index;not null" json:"role"`
	Email     string    `gorm:"type:varchar(128)" json:"email"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	Version   int       `gorm:"not null;default:0" json:"version"` // 每次余额变动 +1
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
