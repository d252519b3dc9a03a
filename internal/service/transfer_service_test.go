package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuswallet/internal/model"
	"campuswallet/internal/repository"
)

func TestTransferSequence(t *testing.T) {
	e := newEnv(t)
	e.open(t, "A", model.RoleUser)
	e.open(t, "B", model.RoleUser)
	e.fund(t, "A", 1000)
	svc := NewTransferService(e.deps)
	ctx := context.Background()

	_, err := svc.Transfer(ctx, &TransferRequest{SenderID: "A", RecipientID: "B", Amount: 300})
	require.NoError(t, err)
	assert.Equal(t, int64(700), e.balance(t, "A"))
	assert.Equal(t, int64(300), e.balance(t, "B"))

	res, err := svc.Transfer(ctx, &TransferRequest{SenderID: "A", RecipientID: "B", Amount: 300})
	require.NoError(t, err)
	assert.Equal(t, int64(400), res.Record.SenderBalanceAfter)
	assert.Equal(t, int64(600), res.Record.RecipientBalanceAfter)

	_, err = svc.Transfer(ctx, &TransferRequest{SenderID: "A", RecipientID: "B", Amount: 500})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, KindInsufficientFunds, KindOf(err))

	assert.Equal(t, int64(400), e.balance(t, "A"))
	assert.Equal(t, int64(600), e.balance(t, "B"))
	e.requireConsistent(t, "A", "B")

	records, err := repository.NewTransferRepository(e.deps.DB).ListBySenderSince(ctx, "A", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 3)
	var failed int
	for _, r := range records {
		if r.Status == model.TransferStatusFailed {
			failed++
			assert.Equal(t, r.SenderBalanceBefore, r.SenderBalanceAfter)
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 2, e.notifier.count("B"))
}

func TestTransferValidation(t *testing.T) {
	e := newEnv(t)
	e.open(t, "A", model.RoleUser)
	e.open(t, "R", model.RoleRestaurant)
	e.fund(t, "A", 1000)
	svc := NewTransferService(e.deps)
	ctx := context.Background()

	_, err := svc.Transfer(ctx, &TransferRequest{SenderID: "A", RecipientID: "A", Amount: 10})
	require.ErrorIs(t, err, ErrSelfTransfer)

	_, err = svc.Transfer(ctx, &TransferRequest{SenderID: "A", RecipientID: "B", Amount: 0})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = svc.Transfer(ctx, &TransferRequest{SenderID: "A", RecipientID: "ghost", Amount: 10})
	require.ErrorIs(t, err, ErrRecipientNotFound)

	// 餐厅账户不接受用户间转账
	_, err = svc.Transfer(ctx, &TransferRequest{SenderID: "A", RecipientID: "R", Amount: 10})
	require.ErrorIs(t, err, ErrRecipientNotFound)

	assert.Equal(t, int64(1000), e.balance(t, "A"))
}

func TestTransferHourlyLimit(t *testing.T) {
	e := newEnv(t)
	e.deps.Config.Business.TransferHourlyLimit = 2
	e.open(t, "A", model.RoleUser)
	e.open(t, "B", model.RoleUser)
	e.fund(t, "A", 1000)
	svc := NewTransferService(e.deps)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.Transfer(ctx, &TransferRequest{SenderID: "A", RecipientID: "B", Amount: 10})
		require.NoError(t, err)
	}
	_, err := svc.Transfer(ctx, &TransferRequest{SenderID: "A", RecipientID: "B", Amount: 10})
	require.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, KindRateLimited, KindOf(err))
	assert.Equal(t, int64(980), e.balance(t, "A"))
}

func TestTransferIdempotencyKey(t *testing.T) {
	e := newEnv(t)
	e.open(t, "A", model.RoleUser)
	e.open(t, "B", model.RoleUser)
	e.fund(t, "A", 1000)
	svc := NewTransferService(e.deps)
	ctx := context.Background()

	req := &TransferRequest{SenderID: "A", RecipientID: "B", Amount: 250, IdempotencyKey: "k-1"}
	first, err := svc.Transfer(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := svc.Transfer(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Record.TransferNo, second.Record.TransferNo)
	assert.Equal(t, int64(750), e.balance(t, "A"))

	// 失败的请求释放 key，同一个 key 可以重试
	failReq := &TransferRequest{SenderID: "A", RecipientID: "B", Amount: 5000, IdempotencyKey: "k-2"}
	_, err = svc.Transfer(ctx, failReq)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	_, err = svc.Transfer(ctx, failReq)
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

// cancelingNotifier 在发通知时取消请求 context，模拟客户端在提交后断开
type cancelingNotifier struct {
	*recordingNotifier
	cancel context.CancelFunc
}

func (n *cancelingNotifier) Notify(ctx context.Context, accountID, message string) error {
	n.cancel()
	return n.recordingNotifier.Notify(ctx, accountID, message)
}

func TestTransferIdempotencyResultSurvivesCanceledRequest(t *testing.T) {
	e := newEnv(t)
	e.open(t, "A", model.RoleUser)
	e.open(t, "B", model.RoleUser)
	e.fund(t, "A", 1000)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.deps.Notifier = &cancelingNotifier{recordingNotifier: newRecordingNotifier(), cancel: cancel}
	svc := NewTransferService(e.deps)

	req := &TransferRequest{SenderID: "A", RecipientID: "B", Amount: 300, IdempotencyKey: "k-cancel"}
	first, err := svc.Transfer(ctx, req)
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	second, err := svc.Transfer(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Record.TransferNo, second.Record.TransferNo)
	assert.Equal(t, int64(700), e.balance(t, "A"))
	assert.Equal(t, int64(300), e.balance(t, "B"))
}

func TestConcurrentTransfersNeverOverdraw(t *testing.T) {
	e := newEnv(t)
	e.open(t, "A", model.RoleUser)
	e.open(t, "B", model.RoleUser)
	e.open(t, "C", model.RoleUser)
	e.fund(t, "A", 1000)
	svc := NewTransferService(e.deps)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		succeeded int32
	)
	for i := 0; i < 8; i++ {
		recipient := "B"
		if i%2 == 1 {
			recipient = "C"
		}
		wg.Add(1)
		go func(recipient string) {
			defer wg.Done()
			err := retry(func() error {
				_, err := svc.Transfer(ctx, &TransferRequest{SenderID: "A", RecipientID: recipient, Amount: 300})
				return err
			})
			if err == nil {
				atomic.AddInt32(&succeeded, 1)
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientFunds)
		}(recipient)
	}
	wg.Wait()

	assert.Equal(t, int32(3), succeeded)
	assert.Equal(t, int64(100), e.balance(t, "A"))
	assert.Equal(t, int64(900), e.balance(t, "B")+e.balance(t, "C"))
	e.requireConsistent(t, "A", "B", "C")
}
