package job

import (
	"context"
	"errors"
	"time"

	"campuswallet/internal/config"
	"campuswallet/internal/repository"
	"campuswallet/internal/service"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PaymentSettler 由 service.PaymentService 实现
type PaymentSettler interface {
	Settle(ctx context.Context, reference string) (*service.SettleResult, error)
	Expire(ctx context.Context, reference string) error
}

// PaymentExpiryJob 把过期仍未支付的支付单置为 expired
type PaymentExpiryJob struct {
	paymentRepo *repository.PaymentRepository
	payments    PaymentSettler
	logger      *zap.Logger
	stopCh      chan struct{}
	interval    time.Duration
	batchSize   int
	now         func() time.Time
}

func NewPaymentExpiryJob(db *gorm.DB, payments PaymentSettler, logger *zap.Logger) *PaymentExpiryJob {
	return &PaymentExpiryJob{
		paymentRepo: repository.NewPaymentRepository(db),
		payments:    payments,
		logger:      logger.Named("payment-expiry"),
		stopCh:      make(chan struct{}),
		interval:    30 * time.Second,
		batchSize:   100,
		now:         time.Now,
	}
}

func (j *PaymentExpiryJob) Start(ctx context.Context) {
	j.logger.Info("支付单超时任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.logger.Info("任务停止")
			return
		case <-ticker.C:
			j.expirePayments(ctx)
		}
	}
}

func (j *PaymentExpiryJob) Stop() {
	close(j.stopCh)
}

func (j *PaymentExpiryJob) expirePayments(ctx context.Context) int {
	payments, err := j.paymentRepo.ListExpiredPending(ctx, j.now(), j.batchSize)
	if err != nil {
		j.logger.Error("查询超时支付单失败", zap.Error(err))
		return 0
	}
	if len(payments) == 0 {
		return 0
	}

	expired := 0
	for _, p := range payments {
		if err := j.payments.Expire(ctx, p.Reference); err != nil {
			// 锁被占用说明回调正在处理，下一轮再看
			j.logger.Warn("关闭支付单失败", zap.String("reference", p.Reference), zap.Error(err))
			continue
		}
		expired++
	}

	j.logger.Info("本次处理超时支付单", zap.Int("found", len(payments)), zap.Int("expired", expired))
	return expired
}

// StalePaymentJob 回调迟迟没到的支付单，主动向网关核实一次。
// 用户已经付款但 webhook 丢失时靠它入账。
type StalePaymentJob struct {
	paymentRepo *repository.PaymentRepository
	payments    PaymentSettler
	cfg         *config.Config
	logger      *zap.Logger
	stopCh      chan struct{}
	interval    time.Duration
	batchSize   int
	now         func() time.Time
}

func NewStalePaymentJob(db *gorm.DB, payments PaymentSettler, cfg *config.Config, logger *zap.Logger) *StalePaymentJob {
	return &StalePaymentJob{
		paymentRepo: repository.NewPaymentRepository(db),
		payments:    payments,
		cfg:         cfg,
		logger:      logger.Named("stale-payment"),
		stopCh:      make(chan struct{}),
		interval:    time.Minute,
		batchSize:   50,
		now:         time.Now,
	}
}

func (j *StalePaymentJob) Start(ctx context.Context) {
	j.logger.Info("支付单补偿任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.logger.Info("任务停止")
			return
		case <-ticker.C:
			j.reconcilePayments(ctx)
		}
	}
}

func (j *StalePaymentJob) Stop() {
	close(j.stopCh)
}

func (j *StalePaymentJob) reconcilePayments(ctx context.Context) map[service.SettleOutcome]int {
	now := j.now()
	before := now.Add(-time.Duration(j.cfg.Business.StalePaymentMinutes) * time.Minute)
	payments, err := j.paymentRepo.ListStalePending(ctx, before, now, j.batchSize)
	if err != nil {
		j.logger.Error("查询待补偿支付单失败", zap.Error(err))
		return nil
	}
	if len(payments) == 0 {
		return nil
	}

	outcomes := make(map[service.SettleOutcome]int)
	for _, p := range payments {
		res, err := j.payments.Settle(ctx, p.Reference)
		switch {
		case err == nil:
			outcomes[res.Outcome]++
			if res.Outcome == service.OutcomeCredited {
				j.logger.Info("补偿入账成功", zap.String("reference", p.Reference), zap.Int64("credited", res.CreditedAmount))
			}
		case service.Retryable(err):
			j.logger.Debug("支付单暂时无法核实，下一轮重试", zap.String("reference", p.Reference), zap.Error(err))
		case res != nil:
			outcomes[res.Outcome]++
			j.logger.Info("支付单已终结", zap.String("reference", p.Reference), zap.String("outcome", string(res.Outcome)), zap.Error(err))
		case errors.Is(err, context.Canceled):
			return outcomes
		default:
			j.logger.Warn("补偿支付单失败", zap.String("reference", p.Reference), zap.Error(err))
		}
	}
	return outcomes
}
