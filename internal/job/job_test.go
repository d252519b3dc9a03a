package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"campuswallet/internal/config"
	"campuswallet/internal/infrastructure/mq"
	"campuswallet/internal/model"
	"campuswallet/internal/repository"
	"campuswallet/internal/service"
	"campuswallet/internal/testutil"
)

type fakeSettler struct {
	mu        sync.Mutex
	settled   []string
	expired   []string
	settleErr error
}

func (f *fakeSettler) Settle(_ context.Context, reference string) (*service.SettleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settled = append(f.settled, reference)
	if f.settleErr != nil {
		return nil, f.settleErr
	}
	return &service.SettleResult{Outcome: service.OutcomeCredited, CreditedAmount: 1000}, nil
}

func (f *fakeSettler) Expire(_ context.Context, reference string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, reference)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func seedPayment(t *testing.T, repo *repository.PaymentRepository, ref string, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), nil, &model.PendingPayment{
		Reference:      ref,
		PayerID:        "u1",
		DeclaredAmount: 1100,
		Email:          "u1@campus.edu",
		Status:         model.PaymentStatusPending,
		ExpiresAt:      expiresAt,
	}))
}

func TestPaymentExpiryJob(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewPaymentRepository(db)
	seedPayment(t, repo, "OLD", time.Now().Add(-time.Minute))
	seedPayment(t, repo, "FRESH", time.Now().Add(time.Hour))

	settler := &fakeSettler{}
	job := NewPaymentExpiryJob(db, settler, zap.NewNop())

	assert.Equal(t, 1, job.expirePayments(context.Background()))
	assert.Equal(t, []string{"OLD"}, settler.expired)
}

func TestStalePaymentJob(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewPaymentRepository(db)
	seedPayment(t, repo, "STALE", time.Now().Add(24*time.Hour))
	seedPayment(t, repo, "DEAD", time.Now().Add(-time.Minute))

	settler := &fakeSettler{}
	job := NewStalePaymentJob(db, settler, testConfig(t), zap.NewNop())

	// 刚创建的支付单还不算 stale
	assert.Empty(t, job.reconcilePayments(context.Background()))
	assert.Empty(t, settler.settled)

	job.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	outcomes := job.reconcilePayments(context.Background())
	assert.Equal(t, 1, outcomes[service.OutcomeCredited])
	assert.Equal(t, []string{"STALE"}, settler.settled)

	settler.settleErr = service.ErrGatewayUnavailable
	outcomes = job.reconcilePayments(context.Background())
	assert.Zero(t, outcomes[service.OutcomeCredited])
}

func TestOutboxSenderDeliversAndRetries(t *testing.T) {
	db := testutil.NewDB(t)
	cfg := testConfig(t)
	cfg.Business.MaxRetryCount = 2

	notifier := service.NewOutboxNotifier(db, cfg)
	ctx := context.Background()
	require.NoError(t, notifier.Notify(ctx, "u1", "充值到账"))
	require.NoError(t, notifier.SendEmail(ctx, "u1@campus.edu", "充值到账通知", "hello"))

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if !assert.Contains(t, string(val), "充值到账") {
			return errors.New("unexpected payload")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := mq.NewPublisher(producer)
	defer publisher.Close()

	sender := NewOutboxSender(db, publisher, cfg, zap.NewNop())
	repo := repository.NewOutboxRepository(db)

	sender.processPendingMessages(ctx)
	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, cfg.Kafka.Topic.Email, pending[0].Topic)
	assert.Equal(t, 1, pending[0].RetryCount)

	// 第二次失败达到上限，不再投递
	sender.processPendingMessages(ctx)
	pending, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	var failed model.OutboxMessage
	require.NoError(t, db.Where("status = ?", model.OutboxStatusFailed).First(&failed).Error)
	assert.Equal(t, 2, failed.RetryCount)
}
