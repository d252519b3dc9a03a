package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"campuswallet/internal/config"
	"campuswallet/internal/infrastructure/lock"
	"campuswallet/internal/infrastructure/metrics"
	"campuswallet/internal/model"
	"campuswallet/internal/repository"
	"campuswallet/pkg/idgen"
	"campuswallet/pkg/money"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	FeeDecisionAccept = "accept"
	FeeDecisionCancel = "cancel"
)

type OrderService struct {
	deps            Deps
	db              *gorm.DB
	cfg             *config.Config
	logger          *zap.Logger
	orderRepo       *repository.OrderRepository
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
}

func NewOrderService(d Deps) *OrderService {
	return &OrderService{
		deps:            d,
		db:              d.DB,
		cfg:             d.Config,
		logger:          d.Logger.Named("order"),
		orderRepo:       repository.NewOrderRepository(d.DB),
		accountRepo:     repository.NewAccountRepository(d.DB),
		transactionRepo: repository.NewTransactionRepository(d.DB),
	}
}

type OrderItemInput struct {
	MealID    string
	Quantity  int
	UnitPrice int64
}

type PlaceOrderRequest struct {
	BuyerID      string
	RestaurantID string
	Items        []OrderItemInput
}

// PlaceOrder 下单，配送费先按默认值计入总价
func (s *OrderService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*model.Order, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: 订单不能为空", ErrValidation)
	}

	var food int64
	items := make([]model.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		if it.MealID == "" || it.Quantity <= 0 || it.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: 订单明细不合法", ErrValidation)
		}
		if it.UnitPrice > (math.MaxInt64-food)/int64(it.Quantity) {
			return nil, fmt.Errorf("%w: 订单金额超出范围", ErrValidation)
		}
		food += int64(it.Quantity) * it.UnitPrice
		items = append(items, model.OrderItem{MealID: it.MealID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}

	restaurant, err := s.accountRepo.Get(ctx, nil, req.RestaurantID)
	if err != nil || restaurant.Role != model.RoleRestaurant {
		return nil, fmt.Errorf("%w: 餐厅不存在", ErrNotFound)
	}
	if _, err := s.accountRepo.GetOrCreate(ctx, req.BuyerID, model.RoleUser, ""); err != nil {
		return nil, fmt.Errorf("获取买家账户失败: %w", err)
	}

	fee := s.cfg.Business.DefaultFee
	if fee > math.MaxInt64-food {
		return nil, fmt.Errorf("%w: 订单金额超出范围", ErrValidation)
	}
	order := &model.Order{
		OrderNo:      idgen.GenerateOrderNo(),
		BuyerID:      req.BuyerID,
		RestaurantID: req.RestaurantID,
		Items:        items,
		Fee:          fee,
		TotalPrice:   food + fee,
		Status:       model.OrderStatusPending,
	}
	if err := s.orderRepo.Create(ctx, nil, order); err != nil {
		return nil, fmt.Errorf("创建订单失败: %w", err)
	}

	notify(ctx, s.deps.Notifier, s.logger, order.RestaurantID, fmt.Sprintf("新订单 %s，金额 %s", order.OrderNo, money.Format(order.TotalPrice)))
	return order, nil
}

// GetOrder 只有买家和餐厅可以查看
func (s *OrderService) GetOrder(ctx context.Context, caller Identity, orderNo string) (*model.Order, error) {
	order, err := s.orderRepo.GetByOrderNo(ctx, nil, orderNo)
	if err != nil {
		return nil, err
	}
	if caller.AccountID != order.BuyerID && caller.AccountID != order.RestaurantID {
		return nil, ErrForbidden
	}
	return order, nil
}

// ConfirmationRequest 餐厅确认订单，ProposedFee 为空表示沿用当前配送费
type ConfirmationRequest struct {
	OrderNo     string
	ProposedFee *int64
	Description string
}

type ConfirmResult struct {
	Order   *model.Order `json:"order"`
	Settled bool         `json:"settled"`
}

func (s *OrderService) currentFee(order *model.Order) int64 {
	if order.Fee == 0 {
		return s.cfg.Business.DefaultFee
	}
	return order.Fee
}

// RequestConfirmation 餐厅确认订单。
//
// 提议的配送费不高于当前值时直接确认并结算；高于当前值时进入 FEE_REQUESTED，
// 等买家同意后再结算，期间不动余额。
func (s *OrderService) RequestConfirmation(ctx context.Context, caller Identity, req *ConfirmationRequest) (*ConfirmResult, error) {
	if req.ProposedFee != nil && *req.ProposedFee < 0 {
		return nil, fmt.Errorf("%w: 配送费不能为负数", ErrValidation)
	}

	release, err := enter(ctx, s.deps, req.OrderNo, "order", lock.OpOrder, req.OrderNo)
	if err != nil {
		return nil, err
	}
	defer release()

	order, err := s.orderRepo.GetByOrderNo(ctx, nil, req.OrderNo)
	if err != nil {
		return nil, err
	}
	if caller.AccountID != order.RestaurantID {
		return nil, ErrForbidden
	}
	if order.Status != model.OrderStatusPending {
		return nil, fmt.Errorf("%w: 订单状态 %s", ErrInvalidState, order.Status)
	}

	currentFee := s.currentFee(order)

	// 菜品金额只在第一次确认时推导一次，之后改费用不会影响它
	food := order.TotalPrice - currentFee
	if order.FoodAmount != nil {
		food = *order.FoodAmount
	}
	if food < 0 {
		return nil, fmt.Errorf("%w: 订单总价 %d 小于配送费 %d", ErrInvalidState, order.TotalPrice, currentFee)
	}

	if req.ProposedFee != nil && *req.ProposedFee > currentFee {
		fee := *req.ProposedFee
		if fee > math.MaxInt64-food {
			return nil, fmt.Errorf("%w: 配送费超出范围", ErrValidation)
		}
		err := s.orderRepo.UpdateStatus(ctx, nil, order.OrderNo, model.OrderStatusPending, model.OrderStatusFeeRequested,
			map[string]interface{}{
				"food_amount":               food,
				"fee":                       fee,
				"total_price":               food + fee,
				"requested_fee_description": req.Description,
			})
		if err != nil {
			return nil, err
		}
		metrics.OrderTransitionsTotal.WithLabelValues(model.OrderStatusFeeRequested).Inc()

		notify(ctx, s.deps.Notifier, s.logger, order.BuyerID,
			fmt.Sprintf("订单 %s 的配送费调整为 %s（%s），需要你确认", order.OrderNo, money.Format(fee), req.Description))

		updated, err := s.orderRepo.GetByOrderNo(ctx, nil, order.OrderNo)
		if err != nil {
			return nil, err
		}
		return &ConfirmResult{Order: updated}, nil
	}

	fee := currentFee
	if req.ProposedFee != nil {
		fee = *req.ProposedFee
	}
	return s.settle(ctx, order, model.OrderStatusPending, food, fee)
}

// ResolveFeeRequest 买家同意或拒绝新的配送费
func (s *OrderService) ResolveFeeRequest(ctx context.Context, caller Identity, orderNo, decision string) (*ConfirmResult, error) {
	if decision != FeeDecisionAccept && decision != FeeDecisionCancel {
		return nil, fmt.Errorf("%w: decision 只能是 accept 或 cancel", ErrValidation)
	}

	release, err := enter(ctx, s.deps, orderNo, "order", lock.OpOrder, orderNo)
	if err != nil {
		return nil, err
	}
	defer release()

	order, err := s.orderRepo.GetByOrderNo(ctx, nil, orderNo)
	if err != nil {
		return nil, err
	}
	if caller.AccountID != order.BuyerID {
		return nil, ErrForbidden
	}
	if order.Status != model.OrderStatusFeeRequested {
		return nil, fmt.Errorf("%w: 订单状态 %s", ErrInvalidState, order.Status)
	}

	if decision == FeeDecisionCancel {
		if err := s.orderRepo.UpdateStatus(ctx, nil, orderNo, model.OrderStatusFeeRequested, model.OrderStatusCanceled, nil); err != nil {
			return nil, err
		}
		metrics.OrderTransitionsTotal.WithLabelValues(model.OrderStatusCanceled).Inc()
		s.notifyBoth(ctx, order, fmt.Sprintf("订单 %s 已取消：买家未同意新的配送费", orderNo))

		updated, err := s.orderRepo.GetByOrderNo(ctx, nil, orderNo)
		if err != nil {
			return nil, err
		}
		return &ConfirmResult{Order: updated}, nil
	}

	food := order.TotalPrice - order.Fee
	if order.FoodAmount != nil {
		food = *order.FoodAmount
	}
	return s.settle(ctx, order, model.OrderStatusFeeRequested, food, order.Fee)
}

// settle 进入 CONFIRMED：买家扣 total、餐厅加 total、两条流水、订单状态，同一事务。
// 买家余额不足时订单自动取消，返回 ErrInsufficientFunds。
func (s *OrderService) settle(ctx context.Context, order *model.Order, fromStatus string, food, fee int64) (*ConfirmResult, error) {
	total := food + fee

	release, err := enter(ctx, s.deps, order.OrderNo, "order-settle", lock.OpBalance, order.BuyerID, order.RestaurantID)
	if err != nil {
		return nil, err
	}
	defer release()

	canceled := false
	err = s.db.Transaction(func(tx *gorm.DB) error {
		buyer, err := s.accountRepo.Get(ctx, tx, order.BuyerID)
		if err != nil {
			return fmt.Errorf("查询买家账户失败: %w", err)
		}
		restaurant, err := s.accountRepo.Get(ctx, tx, order.RestaurantID)
		if err != nil {
			return fmt.Errorf("查询餐厅账户失败: %w", err)
		}

		if buyer.Balance < total {
			canceled = true
			return s.orderRepo.UpdateStatus(ctx, tx, order.OrderNo, fromStatus, model.OrderStatusCanceled,
				map[string]interface{}{
					"food_amount": food,
					"fee":         fee,
					"total_price": total,
				})
		}

		if err := s.accountRepo.Deduct(ctx, tx, order.BuyerID, total); err != nil {
			if errors.Is(err, repository.ErrBalanceNotEnough) {
				return ErrInsufficientFunds
			}
			return fmt.Errorf("买家扣款失败: %w", err)
		}
		if err := s.accountRepo.Increase(ctx, tx, order.RestaurantID, total); err != nil {
			return fmt.Errorf("餐厅入账失败: %w", err)
		}

		entries := []*model.AccountTransaction{
			{
				TransactionNo: idgen.GenerateTransactionNo(),
				AccountID:     order.BuyerID,
				RefNo:         order.OrderNo,
				Amount:        -total,
				Type:          model.TransactionTypeOrderDebit,
				BalanceBefore: buyer.Balance,
				BalanceAfter:  buyer.Balance - total,
				Remark:        fmt.Sprintf("订单支付-%s", order.OrderNo),
			},
			{
				TransactionNo: idgen.GenerateTransactionNo(),
				AccountID:     order.RestaurantID,
				RefNo:         order.OrderNo,
				Amount:        total,
				Type:          model.TransactionTypeOrderCredit,
				BalanceBefore: restaurant.Balance,
				BalanceAfter:  restaurant.Balance + total,
				Remark:        fmt.Sprintf("订单收入-%s", order.OrderNo),
			},
		}
		for _, e := range entries {
			if err := s.transactionRepo.Create(ctx, tx, e); err != nil {
				return fmt.Errorf("记录流水失败: %w", err)
			}
		}

		now := time.Now()
		return s.orderRepo.UpdateStatus(ctx, tx, order.OrderNo, fromStatus, model.OrderStatusConfirmed,
			map[string]interface{}{
				"food_amount":  food,
				"fee":          fee,
				"total_price":  total,
				"confirmed_at": &now,
			})
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.orderRepo.GetByOrderNo(ctx, nil, order.OrderNo)
	if err != nil {
		return nil, err
	}

	if canceled {
		metrics.OrderTransitionsTotal.WithLabelValues(model.OrderStatusCanceled).Inc()
		s.logger.Info("买家余额不足，订单自动取消", zap.String("order_no", order.OrderNo), zap.Int64("total", total))
		s.notifyBoth(ctx, updated, fmt.Sprintf("订单 %s 已取消：买家余额不足 %s", order.OrderNo, money.Format(total)))
		return &ConfirmResult{Order: updated}, fmt.Errorf("%w: 订单已自动取消", ErrInsufficientFunds)
	}

	metrics.OrderTransitionsTotal.WithLabelValues(model.OrderStatusConfirmed).Inc()
	s.logger.Info("订单确认并结算",
		zap.String("order_no", order.OrderNo),
		zap.String("buyer", order.BuyerID),
		zap.String("restaurant", order.RestaurantID),
		zap.Int64("total", total),
	)
	s.notifyBoth(ctx, updated, fmt.Sprintf("订单 %s 已确认，结算金额 %s", order.OrderNo, money.Format(total)))

	return &ConfirmResult{Order: updated, Settled: true}, nil
}

// MarkDelivered 餐厅标记送达，不涉及余额
func (s *OrderService) MarkDelivered(ctx context.Context, caller Identity, orderNo string) (*model.Order, error) {
	return s.transition(ctx, caller, orderNo, model.OrderStatusConfirmed, model.OrderStatusDelivered, func(o *model.Order) bool {
		return caller.AccountID == o.RestaurantID
	}, func(o *model.Order) {
		notify(ctx, s.deps.Notifier, s.logger, o.BuyerID, fmt.Sprintf("订单 %s 已送达", o.OrderNo))
	})
}

// CancelOrder 待确认的订单买家或餐厅都可以取消，不涉及余额
func (s *OrderService) CancelOrder(ctx context.Context, caller Identity, orderNo string) (*model.Order, error) {
	return s.transition(ctx, caller, orderNo, model.OrderStatusPending, model.OrderStatusCanceled, func(o *model.Order) bool {
		return caller.AccountID == o.BuyerID || caller.AccountID == o.RestaurantID
	}, func(o *model.Order) {
		s.notifyBoth(ctx, o, fmt.Sprintf("订单 %s 已被取消", o.OrderNo))
	})
}

func (s *OrderService) transition(ctx context.Context, caller Identity, orderNo, from, to string,
	allowed func(*model.Order) bool, after func(*model.Order)) (*model.Order, error) {

	release, err := enter(ctx, s.deps, orderNo, "order", lock.OpOrder, orderNo)
	if err != nil {
		return nil, err
	}
	defer release()

	order, err := s.orderRepo.GetByOrderNo(ctx, nil, orderNo)
	if err != nil {
		return nil, err
	}
	if !allowed(order) {
		return nil, ErrForbidden
	}
	if order.Status != from {
		return nil, fmt.Errorf("%w: 订单状态 %s", ErrInvalidState, order.Status)
	}

	var updates map[string]interface{}
	if to == model.OrderStatusDelivered {
		now := time.Now()
		updates = map[string]interface{}{"delivered_at": &now}
	}
	if err := s.orderRepo.UpdateStatus(ctx, nil, orderNo, from, to, updates); err != nil {
		return nil, err
	}
	metrics.OrderTransitionsTotal.WithLabelValues(to).Inc()

	updated, err := s.orderRepo.GetByOrderNo(ctx, nil, orderNo)
	if err != nil {
		return nil, err
	}
	after(updated)
	return updated, nil
}

func (s *OrderService) notifyBoth(ctx context.Context, order *model.Order, message string) {
	notify(ctx, s.deps.Notifier, s.logger, order.BuyerID, message)
	notify(ctx, s.deps.Notifier, s.logger, order.RestaurantID, message)
}
