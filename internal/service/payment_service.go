package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"campuswallet/internal/config"
	"campuswallet/internal/infrastructure/gateway"
	"campuswallet/internal/infrastructure/lock"
	"campuswallet/internal/infrastructure/metrics"
	"campuswallet/internal/model"
	"campuswallet/internal/repository"
	"campuswallet/pkg/idgen"
	"campuswallet/pkg/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type SettleOutcome string

const (
	OutcomeCredited         SettleOutcome = "credited"
	OutcomeAlreadyProcessed SettleOutcome = "already_processed"
	OutcomeExpired          SettleOutcome = "expired"
	OutcomeFailed           SettleOutcome = "failed"
)

type PaymentService struct {
	deps            Deps
	db              *gorm.DB
	cfg             *config.Config
	logger          *zap.Logger
	feeRate         decimal.Decimal
	accountRepo     *repository.AccountRepository
	paymentRepo     *repository.PaymentRepository
	transactionRepo *repository.TransactionRepository
	now             func() time.Time
}

func NewPaymentService(d Deps) (*PaymentService, error) {
	feeRate, err := money.ParseRate(d.Config.Business.FeeRate)
	if err != nil {
		return nil, err
	}

	return &PaymentService{
		deps:            d,
		db:              d.DB,
		cfg:             d.Config,
		logger:          d.Logger.Named("payment"),
		feeRate:         feeRate,
		accountRepo:     repository.NewAccountRepository(d.DB),
		paymentRepo:     repository.NewPaymentRepository(d.DB),
		transactionRepo: repository.NewTransactionRepository(d.DB),
		now:             time.Now,
	}, nil
}

type InitiateRequest struct {
	PayerID string
	Email   string // 为空时使用账户邮箱
	Amount  int64  // 实际支付金额（含手续费），最小货币单位
}

type InitiateResult struct {
	Reference        string    `json:"reference"`
	AuthorizationURL string    `json:"authorization_url"`
	DeclaredAmount   int64     `json:"declared_amount"`
	CreditPreview    int64     `json:"credit_preview"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Initiate 创建支付单并在网关发起交易
func (s *PaymentService) Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResult, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: 充值金额必须大于0", ErrValidation)
	}

	account, err := s.accountRepo.GetOrCreate(ctx, req.PayerID, model.RoleUser, req.Email)
	if err != nil {
		return nil, fmt.Errorf("获取账户失败: %w", err)
	}
	if account.Role != model.RoleUser {
		return nil, fmt.Errorf("%w: 只有用户账户可以充值", ErrForbidden)
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = account.Email
	}
	if email == "" {
		return nil, fmt.Errorf("%w: 缺少付款邮箱", ErrValidation)
	}

	release, err := enter(ctx, s.deps, req.PayerID, "payment-init", lock.OpPaymentInit, req.PayerID)
	if err != nil {
		return nil, err
	}
	defer release()

	cooldown := time.Duration(s.cfg.Business.PaymentCooldownSeconds) * time.Second
	inflight, err := s.paymentRepo.LatestPendingSince(ctx, req.PayerID, s.now().Add(-cooldown))
	if err != nil {
		return nil, fmt.Errorf("查询支付单失败: %w", err)
	}
	if inflight != nil {
		return nil, fmt.Errorf("%w: %s", ErrPaymentInFlight, inflight.Reference)
	}

	payment := &model.PendingPayment{
		Reference:      idgen.GeneratePaymentReference(),
		PayerID:        req.PayerID,
		DeclaredAmount: req.Amount,
		Email:          email,
		Status:         model.PaymentStatusPending,
		ExpiresAt:      s.now().Add(time.Duration(s.cfg.Business.PaymentExpiryMinutes) * time.Minute),
	}
	if err := s.paymentRepo.Create(ctx, nil, payment); err != nil {
		return nil, fmt.Errorf("创建支付单失败: %w", err)
	}

	initRes, err := s.deps.Gateway.Initialize(ctx, gateway.InitRequest{
		Reference: payment.Reference,
		Email:     email,
		Amount:    payment.DeclaredAmount,
		Currency:  s.cfg.Gateway.Currency,
	})
	if err != nil {
		// 网关没建成交易，支付单直接作废，免得挡住用户下一次发起
		if markErr := s.paymentRepo.Transition(ctx, nil, payment.Reference, model.PaymentStatusPending, model.PaymentStatusFailed,
			map[string]interface{}{"failure_reason": "gateway initialize failed"}); markErr != nil {
			s.logger.Warn("作废支付单失败", zap.String("reference", payment.Reference), zap.Error(markErr))
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	s.logger.Info("发起充值",
		zap.String("reference", payment.Reference),
		zap.String("payer", payment.PayerID),
		zap.Int64("declared_amount", payment.DeclaredAmount),
	)

	return &InitiateResult{
		Reference:        payment.Reference,
		AuthorizationURL: initRes.AuthorizationURL,
		DeclaredAmount:   payment.DeclaredAmount,
		CreditPreview:    money.NetOfFee(payment.DeclaredAmount, s.feeRate),
		ExpiresAt:        payment.ExpiresAt,
	}, nil
}

type SettleResult struct {
	Outcome        SettleOutcome         `json:"outcome"`
	Payment        *model.PendingPayment `json:"payment"`
	CreditedAmount int64                 `json:"credited_amount"`
	BalanceAfter   int64                 `json:"balance_after,omitempty"`
}

func alreadyProcessed(p *model.PendingPayment) *SettleResult {
	metrics.SettlementsTotal.WithLabelValues(string(OutcomeAlreadyProcessed)).Inc()
	return &SettleResult{
		Outcome:        OutcomeAlreadyProcessed,
		Payment:        p,
		CreditedAmount: p.CreditedAmount,
	}
}

// Settle 处理网关回调：核实交易后给付款人入账，同一个 reference 最多入账一次。
//
// 已是终态的支付单直接返回 AlreadyProcessed（error 为 nil）。
// 网关不可用时支付单保持 pending，之后重试 Settle 是安全的。
func (s *PaymentService) Settle(ctx context.Context, reference string) (*SettleResult, error) {
	payment, err := s.paymentRepo.GetByReference(ctx, nil, reference)
	if err != nil {
		return nil, err
	}
	if model.PaymentStatusIsTerminal(payment.Status) {
		return alreadyProcessed(payment), nil
	}

	release, err := enter(ctx, s.deps, reference, "settle", lock.OpBalance, payment.PayerID)
	if err != nil {
		return nil, err
	}
	defer release()

	// 拿到锁之后重新读取，另一个回调可能刚处理完
	payment, err = s.paymentRepo.GetByReference(ctx, nil, reference)
	if err != nil {
		return nil, err
	}
	if model.PaymentStatusIsTerminal(payment.Status) {
		return alreadyProcessed(payment), nil
	}

	if s.now().After(payment.ExpiresAt) {
		if err := s.fail(ctx, payment, model.PaymentStatusExpired, "payment expired"); err != nil {
			return nil, err
		}
		metrics.SettlementsTotal.WithLabelValues(string(OutcomeExpired)).Inc()
		return &SettleResult{Outcome: OutcomeExpired, Payment: payment}, ErrPaymentExpired
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout())
	verification, err := s.deps.Gateway.Verify(verifyCtx, reference)
	cancel()
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues("gateway_unavailable").Inc()
		s.logger.Warn("网关核实失败，支付单保持 pending", zap.String("reference", reference), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	switch verification.Status {
	case gateway.StatusSuccess:
	case gateway.StatusFailed, gateway.StatusAbandoned, gateway.StatusReversed:
		if err := s.fail(ctx, payment, model.PaymentStatusFailed, "gateway status: "+verification.Status); err != nil {
			return nil, err
		}
		s.deps.Monitor.observePayment(ctx, payment, false)
		metrics.SettlementsTotal.WithLabelValues(string(OutcomeFailed)).Inc()
		return &SettleResult{Outcome: OutcomeFailed, Payment: payment}, ErrPaymentFailed
	default:
		// ongoing/pending 等中间状态，等下一次回调或补偿任务
		return nil, fmt.Errorf("%w: gateway status %s", ErrGatewayUnavailable, verification.Status)
	}

	if reason := crossCheck(payment, verification, s.cfg.Gateway.Currency); reason != "" {
		if err := s.fail(ctx, payment, model.PaymentStatusFailed, reason); err != nil {
			return nil, err
		}
		s.logger.Warn("支付校验不一致，需人工复核",
			zap.String("reference", reference),
			zap.String("payer", payment.PayerID),
			zap.String("reason", reason),
		)
		s.deps.Monitor.observePayment(ctx, payment, true)
		metrics.SettlementsTotal.WithLabelValues("mismatch").Inc()
		return &SettleResult{Outcome: OutcomeFailed, Payment: payment}, fmt.Errorf("%w: %s", ErrVerificationMismatch, reason)
	}

	credited := money.NetOfFee(payment.DeclaredAmount, s.feeRate)
	var balanceAfter int64

	err = s.db.Transaction(func(tx *gorm.DB) error {
		now := s.now()
		err := s.paymentRepo.Transition(ctx, tx, reference, model.PaymentStatusPending, model.PaymentStatusCredited,
			map[string]interface{}{
				"credited_amount": credited,
				"gateway_txn_id":  verification.TransactionID,
				"settled_at":      &now,
			})
		if err != nil {
			if errors.Is(err, repository.ErrPaymentTransition) {
				return ErrAlreadyProcessed
			}
			return fmt.Errorf("更新支付单失败: %w", err)
		}

		account, err := s.accountRepo.Get(ctx, tx, payment.PayerID)
		if err != nil {
			return fmt.Errorf("查询账户失败: %w", err)
		}
		if err := s.accountRepo.Increase(ctx, tx, payment.PayerID, credited); err != nil {
			return fmt.Errorf("入账失败: %w", err)
		}
		balanceAfter = account.Balance + credited

		return s.transactionRepo.Create(ctx, tx, &model.AccountTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			AccountID:     payment.PayerID,
			RefNo:         reference,
			Amount:        credited,
			Type:          model.TransactionTypeRecharge,
			BalanceBefore: account.Balance,
			BalanceAfter:  balanceAfter,
			Remark:        fmt.Sprintf("充值-%s-gw%s", reference, verification.TransactionID),
		})
	})
	if errors.Is(err, ErrAlreadyProcessed) {
		latest, getErr := s.paymentRepo.GetByReference(ctx, nil, reference)
		if getErr != nil {
			return nil, getErr
		}
		return alreadyProcessed(latest), nil
	}
	if err != nil {
		return nil, err
	}

	payment, err = s.paymentRepo.GetByReference(ctx, nil, reference)
	if err != nil {
		return nil, err
	}

	metrics.SettlementsTotal.WithLabelValues(string(OutcomeCredited)).Inc()
	s.logger.Info("充值入账成功",
		zap.String("reference", reference),
		zap.String("payer", payment.PayerID),
		zap.Int64("declared_amount", payment.DeclaredAmount),
		zap.Int64("credited_amount", credited),
	)

	msg := fmt.Sprintf("充值 %s 已到账，当前余额 %s", money.Format(credited), money.Format(balanceAfter))
	notify(ctx, s.deps.Notifier, s.logger, payment.PayerID, msg)
	sendEmail(ctx, s.deps.Notifier, s.logger, payment.Email, "充值到账通知", msg)
	s.deps.Monitor.observePayment(ctx, payment, false)

	return &SettleResult{
		Outcome:        OutcomeCredited,
		Payment:        payment,
		CreditedAmount: credited,
		BalanceAfter:   balanceAfter,
	}, nil
}

// Expire 把超时未支付的支付单置为 expired，和 Settle 使用同一把锁
func (s *PaymentService) Expire(ctx context.Context, reference string) error {
	payment, err := s.paymentRepo.GetByReference(ctx, nil, reference)
	if err != nil {
		return err
	}
	if payment.Status != model.PaymentStatusPending || !s.now().After(payment.ExpiresAt) {
		return nil
	}

	release, err := enter(ctx, s.deps, reference, "settle", lock.OpBalance, payment.PayerID)
	if err != nil {
		return err
	}
	defer release()

	err = s.fail(ctx, payment, model.PaymentStatusExpired, "payment expired")
	if errors.Is(err, repository.ErrPaymentTransition) {
		return nil
	}
	return err
}

func (s *PaymentService) GetPayment(ctx context.Context, reference string) (*model.PendingPayment, error) {
	return s.paymentRepo.GetByReference(ctx, nil, reference)
}

func (s *PaymentService) fail(ctx context.Context, payment *model.PendingPayment, status, reason string) error {
	if err := s.paymentRepo.Transition(ctx, nil, payment.Reference, model.PaymentStatusPending, status,
		map[string]interface{}{"failure_reason": reason}); err != nil {
		return err
	}
	payment.Status = status
	payment.FailureReason = reason
	return nil
}

func (s *PaymentService) gatewayTimeout() time.Duration {
	if t := time.Duration(s.cfg.Gateway.TimeoutSeconds) * time.Second; t > 0 {
		return t
	}
	return 5 * time.Second
}

// crossCheck 网关币种、金额与付款人必须和本地记录一致，返回不一致的原因。
// 金额都是最小货币单位，币种不同时数值相等也不能入账。
func crossCheck(p *model.PendingPayment, v *gateway.Verification, currency string) string {
	if !strings.EqualFold(strings.TrimSpace(v.Currency), currency) {
		return fmt.Sprintf("currency mismatch: gateway %q, expected %s", v.Currency, currency)
	}
	if v.Amount != p.DeclaredAmount {
		return fmt.Sprintf("amount mismatch: gateway %d, declared %d", v.Amount, p.DeclaredAmount)
	}
	if !strings.EqualFold(strings.TrimSpace(v.PayerEmail), strings.TrimSpace(p.Email)) {
		return fmt.Sprintf("payer mismatch: gateway %s, declared %s", v.PayerEmail, p.Email)
	}
	return ""
}
