package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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

const idempotencyTTL = 24 * time.Hour

type TransferService struct {
	deps         Deps
	db           *gorm.DB
	cfg          *config.Config
	logger       *zap.Logger
	idempotency  *IdempotencyGuard
	accountRepo  *repository.AccountRepository
	transferRepo *repository.TransferRepository
	now          func() time.Time
}

func NewTransferService(d Deps) *TransferService {
	return &TransferService{
		deps:         d,
		db:           d.DB,
		cfg:          d.Config,
		logger:       d.Logger.Named("transfer"),
		idempotency:  NewIdempotencyGuard(d.Redis, idempotencyTTL),
		accountRepo:  repository.NewAccountRepository(d.DB),
		transferRepo: repository.NewTransferRepository(d.DB),
		now:          time.Now,
	}
}

type TransferRequest struct {
	SenderID       string
	RecipientID    string
	Amount         int64
	IdempotencyKey string // 可选，客户端生成
}

type TransferResult struct {
	Record   *model.TransferRecord `json:"record"`
	Replayed bool                  `json:"replayed"`
}

// Transfer 用户间转账：扣发送方、加接收方、写一条转账记录，三者在同一个事务里。
func (s *TransferService) Transfer(ctx context.Context, req *TransferRequest) (result *TransferResult, err error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: 转账金额必须大于0", ErrValidation)
	}
	if req.SenderID == "" || req.RecipientID == "" {
		return nil, fmt.Errorf("%w: 账户不能为空", ErrValidation)
	}
	if req.SenderID == req.RecipientID {
		return nil, ErrSelfTransfer
	}

	if req.IdempotencyKey != "" {
		scope := "transfer:" + req.SenderID
		reservation, err := s.idempotency.Reserve(ctx, scope, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if !reservation.Fresh {
			var prior TransferResult
			if err := json.Unmarshal(reservation.Result, &prior); err != nil {
				return nil, fmt.Errorf("解析幂等结果失败: %w", err)
			}
			prior.Replayed = true
			return &prior, nil
		}
		defer func() {
			// 转账已提交后请求可能被取消，幂等结果仍要落到 Redis
			saveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err != nil {
				if abandonErr := s.idempotency.Abandon(saveCtx, scope, req.IdempotencyKey); abandonErr != nil {
					s.logger.Warn("释放幂等键失败", zap.Error(abandonErr))
				}
				return
			}
			if completeErr := s.idempotency.Complete(saveCtx, scope, req.IdempotencyKey, result); completeErr != nil {
				s.logger.Warn("保存幂等结果失败", zap.Error(completeErr))
			}
		}()
	}

	release, err := enter(ctx, s.deps, req.SenderID, "transfer", lock.OpBalance, req.SenderID, req.RecipientID)
	if err != nil {
		metrics.TransfersTotal.WithLabelValues("busy").Inc()
		return nil, err
	}
	defer release()

	record, err := s.execute(ctx, req)
	if err != nil {
		metrics.TransfersTotal.WithLabelValues(KindOf(err).String()).Inc()
		s.logger.Info("转账失败",
			zap.String("sender", req.SenderID),
			zap.String("recipient", req.RecipientID),
			zap.Int64("amount", req.Amount),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.TransfersTotal.WithLabelValues("completed").Inc()
	s.logger.Info("转账成功",
		zap.String("transfer_no", record.TransferNo),
		zap.String("sender", record.SenderID),
		zap.String("recipient", record.RecipientID),
		zap.Int64("amount", record.Amount),
	)

	amount := money.Format(record.Amount)
	notify(ctx, s.deps.Notifier, s.logger, record.SenderID,
		fmt.Sprintf("你向 %s 转账 %s 成功，当前余额 %s", record.RecipientID, amount, money.Format(record.SenderBalanceAfter)))
	notify(ctx, s.deps.Notifier, s.logger, record.RecipientID,
		fmt.Sprintf("收到 %s 的转账 %s，当前余额 %s", record.SenderID, amount, money.Format(record.RecipientBalanceAfter)))
	s.deps.Monitor.observeTransfer(ctx, record)

	return &TransferResult{Record: record}, nil
}

func (s *TransferService) execute(ctx context.Context, req *TransferRequest) (*model.TransferRecord, error) {
	var (
		record          *model.TransferRecord
		senderBalance   int64
		recipientExists bool
		recipientBefore int64
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		sender, err := s.accountRepo.Get(ctx, tx, req.SenderID)
		if err != nil {
			if errors.Is(err, repository.ErrAccountNotFound) {
				return fmt.Errorf("%w: 发送方账户不存在", ErrNotFound)
			}
			return fmt.Errorf("查询发送方失败: %w", err)
		}
		if sender.Role != model.RoleUser {
			return fmt.Errorf("%w: 只有用户账户可以转账", ErrForbidden)
		}
		senderBalance = sender.Balance

		recipient, err := s.accountRepo.Get(ctx, tx, req.RecipientID)
		if err != nil {
			if errors.Is(err, repository.ErrAccountNotFound) {
				return ErrRecipientNotFound
			}
			return fmt.Errorf("查询接收方失败: %w", err)
		}
		if recipient.Role != model.RoleUser {
			return ErrRecipientNotFound
		}
		recipientExists = true
		recipientBefore = recipient.Balance

		count, err := s.transferRepo.CountCompletedSince(ctx, tx, req.SenderID, s.now().Add(-time.Hour))
		if err != nil {
			return fmt.Errorf("查询转账次数失败: %w", err)
		}
		if limit := s.cfg.Business.TransferHourlyLimit; limit > 0 && count >= int64(limit) {
			return ErrRateLimitExceeded
		}

		if sender.Balance < req.Amount {
			return fmt.Errorf("%w: 余额 %s，需要 %s", ErrInsufficientFunds, money.Format(sender.Balance), money.Format(req.Amount))
		}

		if err := s.accountRepo.Deduct(ctx, tx, req.SenderID, req.Amount); err != nil {
			if errors.Is(err, repository.ErrBalanceNotEnough) {
				return ErrInsufficientFunds
			}
			return fmt.Errorf("扣款失败: %w", err)
		}
		if err := s.accountRepo.Increase(ctx, tx, req.RecipientID, req.Amount); err != nil {
			return fmt.Errorf("入账失败: %w", err)
		}

		record = &model.TransferRecord{
			TransferNo:             idgen.GenerateTransferNo(),
			SenderID:               req.SenderID,
			RecipientID:            req.RecipientID,
			Amount:                 req.Amount,
			SenderBalanceBefore:    sender.Balance,
			SenderBalanceAfter:     sender.Balance - req.Amount,
			RecipientBalanceBefore: recipient.Balance,
			RecipientBalanceAfter:  recipient.Balance + req.Amount,
			Status:                 model.TransferStatusCompleted,
		}
		if err := s.transferRepo.Create(ctx, tx, record); err != nil {
			return fmt.Errorf("记录转账失败: %w", err)
		}
		return nil
	})
	if err == nil {
		return record, nil
	}

	// 业务规则拒绝的尝试也留一条记录，风控要用失败率
	switch KindOf(err) {
	case KindInsufficientFunds, KindRateLimited, KindNotFound:
		if errors.Is(err, ErrNotFound) {
			break
		}
		failed := &model.TransferRecord{
			TransferNo:          idgen.GenerateTransferNo(),
			SenderID:            req.SenderID,
			RecipientID:         req.RecipientID,
			Amount:              req.Amount,
			SenderBalanceBefore: senderBalance,
			SenderBalanceAfter:  senderBalance,
			Status:              model.TransferStatusFailed,
			Reason:              KindOf(err).String(),
		}
		if recipientExists {
			failed.RecipientBalanceBefore = recipientBefore
			failed.RecipientBalanceAfter = recipientBefore
		}
		if createErr := s.transferRepo.Create(ctx, nil, failed); createErr != nil {
			s.logger.Warn("记录失败转账出错", zap.Error(createErr))
		} else {
			s.deps.Monitor.observeTransfer(ctx, failed)
		}
	}
	return nil, err
}
