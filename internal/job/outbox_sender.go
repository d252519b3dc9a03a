package job

import (
	"context"
	"time"

	"campuswallet/internal/config"
	"campuswallet/internal/infrastructure/metrics"
	"campuswallet/internal/model"
	"campuswallet/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MessagePublisher 由 mq.Publisher 实现
type MessagePublisher interface {
	Send(topic, key, value string) error
}

// OutboxSender 把 outbox 表里的通知投递到 Kafka，至少一次
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  MessagePublisher
	cfg        *config.Config
	logger     *zap.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, publisher MessagePublisher, cfg *config.Config, logger *zap.Logger) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger.Named("outbox"),
		stopCh:     make(chan struct{}),
		interval:   100 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info("消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.logger.Info("任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("查询消息失败", zap.Error(err))
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := s.publisher.Send(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		metrics.OutboxPublishedTotal.WithLabelValues("sent").Inc()
		if updateErr := s.outboxRepo.MarkAsSent(ctx, msg.ID); updateErr != nil {
			s.logger.Error("更新消息状态失败", zap.Int64("id", msg.ID), zap.Error(updateErr))
		}
		return
	}

	metrics.OutboxPublishedTotal.WithLabelValues("error").Inc()
	s.logger.Warn("消息发送失败", zap.Int64("id", msg.ID), zap.String("topic", msg.Topic), zap.Error(err))

	if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			s.logger.Error("标记消息失败状态失败", zap.Int64("id", msg.ID), zap.Error(err))
			return
		}
		metrics.OutboxPublishedTotal.WithLabelValues("dropped").Inc()
		s.logger.Warn("消息超过最大重试次数，标记为失败", zap.Int64("id", msg.ID))
		return
	}

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		s.logger.Error("增加重试次数失败", zap.Int64("id", msg.ID), zap.Error(err))
	}
}
