package service

import (
	"context"
	"encoding/json"
	"time"

	"campuswallet/internal/config"
	"campuswallet/internal/model"
	"campuswallet/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Notifier 站内通知和邮件。调用方不依赖它成功与否。
type Notifier interface {
	Notify(ctx context.Context, accountID, message string) error
	SendEmail(ctx context.Context, address, subject, body string) error
}

// OutboxNotifier 把通知写入 outbox 表，由 OutboxSender 投递到 Kafka
type OutboxNotifier struct {
	outboxRepo *repository.OutboxRepository
	topics     config.KafkaTopicConfig
}

func NewOutboxNotifier(db *gorm.DB, cfg *config.Config) *OutboxNotifier {
	return &OutboxNotifier{
		outboxRepo: repository.NewOutboxRepository(db),
		topics:     cfg.Kafka.Topic,
	}
}

type notificationPayload struct {
	AccountID string    `json:"account_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type emailPayload struct {
	Address string `json:"address"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (n *OutboxNotifier) Notify(ctx context.Context, accountID, message string) error {
	payload, err := json.Marshal(notificationPayload{
		AccountID: accountID,
		Message:   message,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return err
	}
	return n.outboxRepo.Create(ctx, nil, &model.OutboxMessage{
		MessageKey: accountID,
		Topic:      n.topics.Notification,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}

func (n *OutboxNotifier) SendEmail(ctx context.Context, address, subject, body string) error {
	if address == "" {
		return nil
	}
	payload, err := json.Marshal(emailPayload{Address: address, Subject: subject, Body: body})
	if err != nil {
		return err
	}
	return n.outboxRepo.Create(ctx, nil, &model.OutboxMessage{
		MessageKey: address,
		Topic:      n.topics.Email,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}

// notify 在账本事务提交之后调用，失败只记日志
func notify(ctx context.Context, n Notifier, logger *zap.Logger, accountID, message string) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, accountID, message); err != nil {
		logger.Warn("写入通知失败", zap.String("account_id", accountID), zap.Error(err))
	}
}

func sendEmail(ctx context.Context, n Notifier, logger *zap.Logger, address, subject, body string) {
	if n == nil || address == "" {
		return
	}
	if err := n.SendEmail(ctx, address, subject, body); err != nil {
		logger.Warn("写入邮件失败", zap.String("address", address), zap.Error(err))
	}
}
