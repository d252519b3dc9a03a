package handler

import (
	"strings"

	"campuswallet/internal/service"
	"campuswallet/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	accountService  *service.AccountService
	transferService *service.TransferService
	paymentService  *service.PaymentService
	orderService    *service.OrderService
	webhookSecret   string
	logger          *zap.Logger
}

// Services 路由需要的全部服务
type Services struct {
	Accounts  *service.AccountService
	Transfers *service.TransferService
	Payments  *service.PaymentService
	Orders    *service.OrderService
}

func NewHandler(s Services, webhookSecret string, logger *zap.Logger) *Handler {
	return &Handler{
		accountService:  s.Accounts,
		transferService: s.Transfers,
		paymentService:  s.Payments,
		orderService:    s.Orders,
		webhookSecret:   webhookSecret,
		logger:          logger.Named("http"),
	}
}

// writeError 按错误类别映射业务码，未知错误不把细节暴露给客户端
func (h *Handler) writeError(c *gin.Context, err error) {
	switch service.KindOf(err) {
	case service.KindValidation:
		response.ParamError(c, err.Error())
	case service.KindNotFound:
		response.Error(c, response.CodeNotFound, err.Error())
	case service.KindForbidden:
		response.Error(c, response.CodeForbidden, err.Error())
	case service.KindInsufficientFunds:
		response.Error(c, response.CodeInsufficientFunds, err.Error())
	case service.KindRateLimited:
		response.Error(c, response.CodeRateLimited, err.Error())
	case service.KindBusy:
		response.Error(c, response.CodeBusy, err.Error())
	case service.KindAlreadyProcessed:
		response.Error(c, response.CodeAlreadyProcessed, err.Error())
	case service.KindVerificationMismatch:
		response.Error(c, response.CodeVerificationMismatch, err.Error())
	case service.KindExternalService:
		response.Error(c, response.CodeGatewayUnavailable, err.Error())
	case service.KindExpired:
		response.Error(c, response.CodeExpired, err.Error())
	case service.KindInvalidState:
		response.Error(c, response.CodeInvalidState, err.Error())
	default:
		h.logger.Error("请求处理失败", zap.String("path", c.FullPath()), zap.Error(err))
		response.ServerError(c, "服务器内部错误")
	}
}

// ============================================================
// 钱包相关接口
// ============================================================

// GetBalance 查询当前账户余额
// GET /api/v1/wallet/balance
func (h *Handler) GetBalance(c *gin.Context) {
	caller := identity(c)

	balance, err := h.accountService.GetBalance(c.Request.Context(), caller.AccountID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"account_id": caller.AccountID,
		"balance":    balance,
	})
}

// Reconcile 用流水重放核对当前账户余额
// GET /api/v1/wallet/reconcile
func (h *Handler) Reconcile(c *gin.Context) {
	report, err := h.accountService.Reconcile(c.Request.Context(), identity(c).AccountID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, report)
}

// TransferRequest 转账请求
type TransferRequest struct {
	RecipientID string `json:"recipient_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
}

// Transfer 向其他用户转账
// POST /api/v1/wallet/transfer
//
// 可选请求头 Idempotency-Key：相同 key 只执行一次，重复请求返回第一次的结果。
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.transferService.Transfer(c.Request.Context(), &service.TransferRequest{
		SenderID:       identity(c).AccountID,
		RecipientID:    strings.TrimSpace(req.RecipientID),
		Amount:         req.Amount,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// 充值相关接口
// ============================================================

type InitiatePaymentRequest struct {
	Amount int64  `json:"amount" binding:"required,gt=0"`
	Email  string `json:"email"`
}

// InitiatePayment 发起充值，返回网关支付地址
// POST /api/v1/payment/initiate
func (h *Handler) InitiatePayment(c *gin.Context) {
	var req InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.paymentService.Initiate(c.Request.Context(), &service.InitiateRequest{
		PayerID: identity(c).AccountID,
		Email:   req.Email,
		Amount:  req.Amount,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// VerifyPayment 用户从网关跳转回来后主动触发核实入账
// GET /api/v1/payment/verify?reference=xxx
func (h *Handler) VerifyPayment(c *gin.Context) {
	reference := c.Query("reference")
	if reference == "" {
		response.ParamError(c, "reference 参数不能为空")
		return
	}

	ctx := c.Request.Context()
	payment, err := h.paymentService.GetPayment(ctx, reference)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if payment.PayerID != identity(c).AccountID {
		h.writeError(c, service.ErrForbidden)
		return
	}

	result, err := h.paymentService.Settle(ctx, reference)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// 订单相关接口
// ============================================================

type PlaceOrderItem struct {
	MealID    string `json:"meal_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
	UnitPrice int64  `json:"unit_price" binding:"gte=0"`
}

type PlaceOrderRequest struct {
	RestaurantID string           `json:"restaurant_id" binding:"required"`
	Items        []PlaceOrderItem `json:"items" binding:"required,min=1,dive"`
}

// PlaceOrder 下单
// POST /api/v1/order/place
func (h *Handler) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	items := make([]service.OrderItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, service.OrderItemInput{MealID: it.MealID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}

	order, err := h.orderService.PlaceOrder(c.Request.Context(), &service.PlaceOrderRequest{
		BuyerID:      identity(c).AccountID,
		RestaurantID: req.RestaurantID,
		Items:        items,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, order)
}

// GetOrder 查询订单详情
// GET /api/v1/order/detail?order_no=xxx
func (h *Handler) GetOrder(c *gin.Context) {
	orderNo := c.Query("order_no")
	if orderNo == "" {
		response.ParamError(c, "order_no 参数不能为空")
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), identity(c), orderNo)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, order)
}

// ConfirmOrderRequest fee 缺省表示沿用当前配送费
type ConfirmOrderRequest struct {
	OrderNo     string `json:"order_no" binding:"required"`
	Fee         *int64 `json:"fee"`
	Description string `json:"description"`
}

// ConfirmOrder 餐厅确认订单，可同时提出新的配送费
// POST /api/v1/order/confirm
func (h *Handler) ConfirmOrder(c *gin.Context) {
	var req ConfirmOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.orderService.RequestConfirmation(c.Request.Context(), identity(c), &service.ConfirmationRequest{
		OrderNo:     req.OrderNo,
		ProposedFee: req.Fee,
		Description: req.Description,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

type ResolveFeeRequest struct {
	OrderNo  string `json:"order_no" binding:"required"`
	Decision string `json:"decision" binding:"required,oneof=accept cancel"`
}

// ResolveFee 买家同意或拒绝新的配送费
// POST /api/v1/order/fee/resolve
func (h *Handler) ResolveFee(c *gin.Context) {
	var req ResolveFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.orderService.ResolveFeeRequest(c.Request.Context(), identity(c), req.OrderNo, req.Decision)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

type orderNoRequest struct {
	OrderNo string `json:"order_no" binding:"required"`
}

// DeliverOrder 餐厅标记送达
// POST /api/v1/order/deliver
func (h *Handler) DeliverOrder(c *gin.Context) {
	var req orderNoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	order, err := h.orderService.MarkDelivered(c.Request.Context(), identity(c), req.OrderNo)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, order)
}

// CancelOrder 取消待确认的订单
// POST /api/v1/order/cancel
func (h *Handler) CancelOrder(c *gin.Context) {
	var req orderNoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	order, err := h.orderService.CancelOrder(c.Request.Context(), identity(c), req.OrderNo)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, order)
}
