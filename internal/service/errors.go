package service

import (
	"errors"

	"campuswallet/internal/infrastructure/gateway"
	"campuswallet/internal/infrastructure/lock"
	"campuswallet/internal/repository"
)

// Kind 错误分类，调用方据此决定重试还是直接展示给用户
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindInsufficientFunds
	KindRateLimited
	KindBusy
	KindAlreadyProcessed
	KindVerificationMismatch
	KindExternalService
	KindExpired
	KindInvalidState
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindNotFound:
		return "NotFound"
	case KindForbidden:
		return "Forbidden"
	case KindInsufficientFunds:
		return "InsufficientFunds"
	case KindRateLimited:
		return "RateLimitExceeded"
	case KindBusy:
		return "ConcurrentOperation"
	case KindAlreadyProcessed:
		return "AlreadyProcessed"
	case KindVerificationMismatch:
		return "VerificationMismatch"
	case KindExternalService:
		return "ExternalServiceTimeout"
	case KindExpired:
		return "Expired"
	case KindInvalidState:
		return "InvalidState"
	default:
		return "Unknown"
	}
}

var (
	ErrValidation           = errors.New("参数错误")
	ErrSelfTransfer         = errors.New("不能给自己转账")
	ErrRecipientNotFound    = errors.New("收款账户不存在")
	ErrNotFound             = errors.New("记录不存在")
	ErrForbidden            = errors.New("无权操作")
	ErrInsufficientFunds    = errors.New("余额不足")
	ErrRateLimitExceeded    = errors.New("转账过于频繁，请一小时后再试")
	ErrBusy                 = errors.New("操作进行中，请稍后重试")
	ErrPaymentInFlight      = errors.New("已有进行中的充值，请先完成或稍后再试")
	ErrAlreadyProcessed     = errors.New("请求已处理")
	ErrVerificationMismatch = errors.New("支付信息校验不一致")
	ErrGatewayUnavailable   = errors.New("支付网关暂不可用，请稍后重试")
	ErrPaymentExpired       = errors.New("支付单已过期")
	ErrPaymentFailed        = errors.New("支付未成功")
	ErrInvalidState         = errors.New("当前状态不允许该操作")
)

var kinds = []struct {
	target error
	kind   Kind
}{
	{ErrValidation, KindValidation},
	{ErrSelfTransfer, KindValidation},
	{ErrRecipientNotFound, KindNotFound},
	{ErrNotFound, KindNotFound},
	{repository.ErrAccountNotFound, KindNotFound},
	{repository.ErrOrderNotFound, KindNotFound},
	{repository.ErrPaymentNotFound, KindNotFound},
	{ErrForbidden, KindForbidden},
	{ErrInsufficientFunds, KindInsufficientFunds},
	{repository.ErrBalanceNotEnough, KindInsufficientFunds},
	{ErrRateLimitExceeded, KindRateLimited},
	{ErrBusy, KindBusy},
	{ErrPaymentInFlight, KindBusy},
	{lock.ErrBusy, KindBusy},
	{ErrAlreadyProcessed, KindAlreadyProcessed},
	{ErrVerificationMismatch, KindVerificationMismatch},
	{ErrPaymentFailed, KindVerificationMismatch},
	{ErrGatewayUnavailable, KindExternalService},
	{gateway.ErrUnavailable, KindExternalService},
	{ErrPaymentExpired, KindExpired},
	{ErrInvalidState, KindInvalidState},
	{repository.ErrOrderStatusInvalid, KindInvalidState},
}

// KindOf 对包装过的错误做分类，nil 返回 KindUnknown
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		if errors.Is(err, k.target) {
			return k.kind
		}
	}
	return KindUnknown
}

// Retryable 瞬时错误，原样重试可能成功
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindBusy, KindExternalService:
		return true
	}
	return false
}
