package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuswallet/internal/infrastructure/gateway"
	"campuswallet/internal/infrastructure/lock"
	"campuswallet/internal/model"
	"campuswallet/internal/repository"
	"campuswallet/internal/testutil"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{nil, KindUnknown},
		{fmt.Errorf("%w: amount", ErrValidation), KindValidation},
		{repository.ErrOrderNotFound, KindNotFound},
		{fmt.Errorf("wrap: %w", repository.ErrBalanceNotEnough), KindInsufficientFunds},
		{fmt.Errorf("%w: %v", ErrBusy, lock.ErrBusy), KindBusy},
		{gateway.ErrUnavailable, KindExternalService},
		{ErrPaymentExpired, KindExpired},
		{repository.ErrOrderStatusInvalid, KindInvalidState},
		{fmt.Errorf("boom"), KindUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.kind, KindOf(c.err), "%v", c.err)
	}

	assert.True(t, Retryable(ErrBusy))
	assert.True(t, Retryable(ErrGatewayUnavailable))
	assert.False(t, Retryable(ErrInsufficientFunds))
}

func TestIdempotencyGuard(t *testing.T) {
	rdb, mr := testutil.NewRedis(t)
	guard := NewIdempotencyGuard(rdb, time.Minute)
	ctx := context.Background()

	r, err := guard.Reserve(ctx, "transfer:A", "k")
	require.NoError(t, err)
	assert.True(t, r.Fresh)

	_, err = guard.Reserve(ctx, "transfer:A", "k")
	require.ErrorIs(t, err, ErrBusy)

	require.NoError(t, guard.Complete(ctx, "transfer:A", "k", map[string]int{"amount": 5}))
	r, err = guard.Reserve(ctx, "transfer:A", "k")
	require.NoError(t, err)
	assert.False(t, r.Fresh)
	assert.JSONEq(t, `{"amount":5}`, string(r.Result))

	// 不同发送方的 key 互不影响
	r, err = guard.Reserve(ctx, "transfer:B", "k")
	require.NoError(t, err)
	assert.True(t, r.Fresh)

	require.NoError(t, guard.Abandon(ctx, "transfer:B", "k"))
	r, err = guard.Reserve(ctx, "transfer:B", "k")
	require.NoError(t, err)
	assert.True(t, r.Fresh)

	mr.FastForward(2 * time.Minute)
	r, err = guard.Reserve(ctx, "transfer:A", "k")
	require.NoError(t, err)
	assert.True(t, r.Fresh)
}

func TestReconcileDetectsDrift(t *testing.T) {
	e := newEnv(t)
	e.open(t, "A", model.RoleUser)
	e.open(t, "B", model.RoleUser)
	e.fund(t, "A", 800)
	ctx := context.Background()

	_, err := NewTransferService(e.deps).Transfer(ctx, &TransferRequest{SenderID: "A", RecipientID: "B", Amount: 300})
	require.NoError(t, err)

	report, err := e.accounts.Reconcile(ctx, "A")
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(500), report.LedgerBalance)
	assert.Equal(t, 2, report.Entries)

	// 绕过账本直接改余额
	require.NoError(t, repository.NewAccountRepository(e.deps.DB).Increase(ctx, nil, "A", 1))
	report, err = e.accounts.Reconcile(ctx, "A")
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.Equal(t, int64(501), report.Balance)
}

func TestGetBalanceOfUnknownAccount(t *testing.T) {
	e := newEnv(t)
	b, err := e.accounts.GetBalance(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, b)

	_, err = e.accounts.Open(context.Background(), "x", "admin", "")
	assert.Equal(t, KindValidation, KindOf(err))
}
