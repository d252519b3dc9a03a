package model

import (
	"time"
)

const (
	OrderStatusPending      = "PENDING"
	OrderStatusFeeRequested = "FEE_REQUESTED"
	OrderStatusConfirmed    = "CONFIRMED"
	OrderStatusCanceled     = "CANCELED"
	OrderStatusDelivered    = "DELIVERED"
)

var ValidStatusTransitions = map[string][]string{
	OrderStatusPending:      {OrderStatusConfirmed, OrderStatusFeeRequested, OrderStatusCanceled},
	OrderStatusFeeRequested: {OrderStatusConfirmed, OrderStatusCanceled},
	OrderStatusConfirmed:    {OrderStatusDelivered},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Order 外卖订单
//
// FoodAmount 在第一次确认时由 TotalPrice - Fee 推导出来，之后不再重算，
// 改配送费只影响 Fee，TotalPrice 始终等于 FoodAmount + Fee。
type Order struct {
	ID                      int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo                 string      `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	BuyerID                 string      `gorm:"type:varchar(64);index;not null" json:"buyer_id"`
	RestaurantID            string      `gorm:"type:varchar(64);index;not null" json:"restaurant_id"`
	Items                   []OrderItem `gorm:"foreignKey:OrderID" json:"items"`
	FoodAmount              *int64      `json:"food_amount"`
	Fee                     int64       `gorm:"not null;default:0" json:"fee"`
	TotalPrice              int64       `gorm:"not null" json:"total_price"`
	Status                  string      `gorm:"type:varchar(20);index;not null" json:"status"`
	RequestedFeeDescription string      `gorm:"type:varchar(256)" json:"requested_fee_description,omitempty"`
	ConfirmedAt             *time.Time  `json:"confirmed_at"`
	DeliveredAt             *time.Time  `json:"delivered_at"`
	CreatedAt               time.Time   `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt               time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "food_order"
}

// OrderItem 订单明细，下单后不可变
type OrderItem struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   int64  `gorm:"index;not null" json:"-"`
	MealID    string `gorm:"type:varchar(64);not null" json:"meal_id"`
	Quantity  int    `gorm:"not null" json:"quantity"`
	UnitPrice int64  `gorm:"not null" json:"unit_price"`
}

func (OrderItem) TableName() string {
	return "order_item"
}
