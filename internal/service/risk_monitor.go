package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"campuswallet/internal/config"
	"campuswallet/internal/infrastructure/metrics"
	"campuswallet/internal/model"
	"campuswallet/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	FlagRapidRepetition      = "rapid_repetition"
	FlagLargeAmount          = "large_amount"
	FlagRoundAmount          = "round_amount"
	FlagRepeatedRecipient    = "repeated_recipient"
	FlagHighFailureRate      = "high_failure_rate"
	FlagVerificationMismatch = "verification_mismatch"
)

const riskLookback = time.Hour

// Assessment 一次评估的结果
type Assessment struct {
	Flags []string
	Tier  string
}

// RiskMonitor 可疑活动监控。只读账本，只写 risk_event，从不影响主流程。
type RiskMonitor struct {
	transferRepo *repository.TransferRepository
	paymentRepo  *repository.PaymentRepository
	riskRepo     *repository.RiskRepository
	cfg          config.RiskConfig
	logger       *zap.Logger
	now          func() time.Time
}

func NewRiskMonitor(db *gorm.DB, cfg config.RiskConfig, logger *zap.Logger) *RiskMonitor {
	return &RiskMonitor{
		transferRepo: repository.NewTransferRepository(db),
		paymentRepo:  repository.NewPaymentRepository(db),
		riskRepo:     repository.NewRiskRepository(db),
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// Classify 没有标记为 LOW；一个标记为 MEDIUM，校验不一致直接 HIGH；两个以上为 HIGH
func Classify(flags []string) string {
	switch {
	case len(flags) == 0:
		return model.RiskTierLow
	case len(flags) >= 2:
		return model.RiskTierHigh
	case flags[0] == FlagVerificationMismatch:
		return model.RiskTierHigh
	default:
		return model.RiskTierMedium
	}
}

func (m *RiskMonitor) amountFlags(amount int64) []string {
	var flags []string
	if m.cfg.LargeAmount > 0 && amount >= m.cfg.LargeAmount {
		flags = append(flags, FlagLargeAmount)
	}
	if unit := m.cfg.RoundAmountUnit; unit > 0 && amount >= unit && amount%unit == 0 {
		flags = append(flags, FlagRoundAmount)
	}
	return flags
}

func (m *RiskMonitor) failureRateHigh(failed, total int) bool {
	if total == 0 || total < m.cfg.FailureMinAttempts {
		return false
	}
	return float64(failed)/float64(total) > m.cfg.FailureRateThreshold
}

// AssessTransfer 评估一笔转账尝试（record 已经落库）
func (m *RiskMonitor) AssessTransfer(ctx context.Context, record *model.TransferRecord) (*Assessment, error) {
	now := m.now()
	history, err := m.transferRepo.ListBySenderSince(ctx, record.SenderID, now.Add(-riskLookback))
	if err != nil {
		return nil, err
	}

	rapidSince := now.Add(-time.Duration(m.cfg.RapidWindowMinutes) * time.Minute)
	var recent, sameRecipient, failed int
	for _, h := range history {
		if h.CreatedAt.After(rapidSince) {
			recent++
		}
		if h.RecipientID == record.RecipientID {
			sameRecipient++
		}
		if h.Status == model.TransferStatusFailed {
			failed++
		}
	}

	flags := m.amountFlags(record.Amount)
	if m.cfg.RapidCount > 0 && recent >= m.cfg.RapidCount {
		flags = append(flags, FlagRapidRepetition)
	}
	if m.cfg.SameRecipientCount > 0 && sameRecipient >= m.cfg.SameRecipientCount {
		flags = append(flags, FlagRepeatedRecipient)
	}
	if m.failureRateHigh(failed, len(history)) {
		flags = append(flags, FlagHighFailureRate)
	}

	return m.record(ctx, record.SenderID, model.ActivityTransfer, record.TransferNo, record.Amount, flags)
}

// AssessPayment 评估一次充值结算（成功、失败或校验不一致）
func (m *RiskMonitor) AssessPayment(ctx context.Context, payment *model.PendingPayment, mismatch bool) (*Assessment, error) {
	now := m.now()
	history, err := m.paymentRepo.ListByPayerSince(ctx, payment.PayerID, now.Add(-riskLookback))
	if err != nil {
		return nil, err
	}

	rapidSince := now.Add(-time.Duration(m.cfg.RapidWindowMinutes) * time.Minute)
	var recent, failed int
	for _, h := range history {
		if h.CreatedAt.After(rapidSince) {
			recent++
		}
		if h.Status == model.PaymentStatusFailed {
			failed++
		}
	}

	var flags []string
	if mismatch {
		flags = append(flags, FlagVerificationMismatch)
	}
	flags = append(flags, m.amountFlags(payment.DeclaredAmount)...)
	if m.cfg.RapidCount > 0 && recent >= m.cfg.RapidCount {
		flags = append(flags, FlagRapidRepetition)
	}
	if m.failureRateHigh(failed, len(history)) {
		flags = append(flags, FlagHighFailureRate)
	}

	return m.record(ctx, payment.PayerID, model.ActivityPayment, payment.Reference, payment.DeclaredAmount, flags)
}

func (m *RiskMonitor) record(ctx context.Context, accountID, activity, refNo string, amount int64, flags []string) (*Assessment, error) {
	tier := Classify(flags)
	sort.Strings(flags)
	a := &Assessment{Flags: flags, Tier: tier}
	if tier == model.RiskTierLow {
		return a, nil
	}

	event := &model.RiskEvent{
		AccountID:    accountID,
		ActivityType: activity,
		RefNo:        refNo,
		Amount:       amount,
		Flags:        strings.Join(flags, ","),
		Tier:         tier,
	}
	if err := m.riskRepo.Create(ctx, event); err != nil {
		return a, err
	}

	metrics.RiskEventsTotal.WithLabelValues(tier).Inc()
	m.logger.Warn("发现可疑活动",
		zap.String("account_id", accountID),
		zap.String("activity", activity),
		zap.String("ref_no", refNo),
		zap.Int64("amount", amount),
		zap.String("flags", event.Flags),
		zap.String("tier", tier),
	)
	return a, nil
}

// observeTransfer 主流程调用的入口，错误只记日志
func (m *RiskMonitor) observeTransfer(ctx context.Context, record *model.TransferRecord) {
	if m == nil || record == nil {
		return
	}
	if _, err := m.AssessTransfer(ctx, record); err != nil {
		m.logger.Warn("转账风控评估失败", zap.String("transfer_no", record.TransferNo), zap.Error(err))
	}
}

func (m *RiskMonitor) observePayment(ctx context.Context, payment *model.PendingPayment, mismatch bool) {
	if m == nil || payment == nil {
		return
	}
	if _, err := m.AssessPayment(ctx, payment, mismatch); err != nil {
		m.logger.Warn("充值风控评估失败", zap.String("reference", payment.Reference), zap.Error(err))
	}
}
