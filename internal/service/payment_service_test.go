package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuswallet/internal/model"
	"campuswallet/internal/repository"
)

func newPaymentService(t *testing.T, e *env) *PaymentService {
	t.Helper()
	svc, err := NewPaymentService(e.deps)
	require.NoError(t, err)
	return svc
}

func initiate(t *testing.T, svc *PaymentService, payer string, amount int64) *model.PendingPayment {
	t.Helper()
	ctx := context.Background()
	res, err := svc.Initiate(ctx, &InitiateRequest{PayerID: payer, Amount: amount})
	require.NoError(t, err)
	p, err := svc.GetPayment(ctx, res.Reference)
	require.NoError(t, err)
	return p
}

func TestSettleCreditsNetOfFee(t *testing.T) {
	e := newEnv(t)
	e.open(t, "U", model.RoleUser)
	svc := newPaymentService(t, e)
	ctx := context.Background()

	res, err := svc.Initiate(ctx, &InitiateRequest{PayerID: "U", Amount: 1100})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.CreditPreview)
	assert.Contains(t, res.AuthorizationURL, res.Reference)

	p, err := svc.GetPayment(ctx, res.Reference)
	require.NoError(t, err)
	e.gateway.succeed(p)

	settled, err := svc.Settle(ctx, p.Reference)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, settled.Outcome)
	assert.Equal(t, int64(1000), settled.CreditedAmount)
	assert.Equal(t, int64(1000), settled.BalanceAfter)
	assert.Equal(t, model.PaymentStatusCredited, settled.Payment.Status)
	assert.Equal(t, int64(1000), e.balance(t, "U"))

	again, err := svc.Settle(ctx, p.Reference)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, again.Outcome)
	assert.Equal(t, int64(1000), e.balance(t, "U"))

	entries, err := repository.NewTransactionRepository(e.deps.DB).ListByRefNo(ctx, p.Reference)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.TransactionTypeRecharge, entries[0].Type)
	e.requireConsistent(t, "U")
	assert.Equal(t, []string{"U@campus.edu"}, e.notifier.emails)
}

func TestConcurrentSettleCreditsOnce(t *testing.T) {
	e := newEnv(t)
	e.open(t, "U", model.RoleUser)
	svc := newPaymentService(t, e)
	p := initiate(t, svc, "U", 1100)
	e.gateway.succeed(p)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[SettleOutcome]int{}
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var res *SettleResult
			err := retry(func() error {
				var err error
				res, err = svc.Settle(context.Background(), p.Reference)
				return err
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			outcomes[res.Outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[OutcomeCredited])
	assert.Equal(t, 1, outcomes[OutcomeAlreadyProcessed])
	assert.Equal(t, int64(1000), e.balance(t, "U"))
	e.requireConsistent(t, "U")
}

func TestSettleVerificationMismatch(t *testing.T) {
	e := newEnv(t)
	e.open(t, "U", model.RoleUser)
	svc := newPaymentService(t, e)
	ctx := context.Background()
	p := initiate(t, svc, "U", 1100)
	e.gateway.succeed(p)
	e.gateway.verifications[p.Reference].Amount = 110000

	res, err := svc.Settle(ctx, p.Reference)
	require.ErrorIs(t, err, ErrVerificationMismatch)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, int64(0), e.balance(t, "U"))

	stored, err := svc.GetPayment(ctx, p.Reference)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusFailed, stored.Status)
	assert.Contains(t, stored.FailureReason, "amount mismatch")

	events, err := repository.NewRiskRepository(e.deps.DB).ListByAccount(ctx, "U")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.RiskTierHigh, events[0].Tier)

	// 失败终态不会再被入账
	again, err := svc.Settle(ctx, p.Reference)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, again.Outcome)
	assert.Equal(t, int64(0), e.balance(t, "U"))
}

func TestSettleCurrencyMismatch(t *testing.T) {
	e := newEnv(t)
	e.open(t, "U", model.RoleUser)
	svc := newPaymentService(t, e)
	ctx := context.Background()
	p := initiate(t, svc, "U", 1100)
	e.gateway.succeed(p)
	// 金额数值一致，但单位是美分
	e.gateway.verifications[p.Reference].Currency = "USD"

	res, err := svc.Settle(ctx, p.Reference)
	require.ErrorIs(t, err, ErrVerificationMismatch)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, int64(0), e.balance(t, "U"))

	stored, err := svc.GetPayment(ctx, p.Reference)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusFailed, stored.Status)
	assert.Contains(t, stored.FailureReason, "currency mismatch")
}

func TestSettleCurrencyIsCaseInsensitive(t *testing.T) {
	e := newEnv(t)
	e.open(t, "U", model.RoleUser)
	svc := newPaymentService(t, e)
	p := initiate(t, svc, "U", 1100)
	e.gateway.succeed(p)
	e.gateway.verifications[p.Reference].Currency = "ngn"

	res, err := svc.Settle(context.Background(), p.Reference)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, res.Outcome)
	assert.Equal(t, int64(1000), e.balance(t, "U"))
}

func TestSettleGatewayUnavailableKeepsPending(t *testing.T) {
	e := newEnv(t)
	e.open(t, "U", model.RoleUser)
	svc := newPaymentService(t, e)
	ctx := context.Background()
	p := initiate(t, svc, "U", 1100)
	e.gateway.verifyErr = errors.New("connection reset")

	_, err := svc.Settle(ctx, p.Reference)
	require.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.True(t, Retryable(err))

	stored, err := svc.GetPayment(ctx, p.Reference)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, stored.Status)

	e.gateway.verifyErr = nil
	e.gateway.succeed(p)
	res, err := svc.Settle(ctx, p.Reference)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, res.Outcome)
}

func TestSettleGatewayFailedStatus(t *testing.T) {
	e := newEnv(t)
	e.open(t, "U", model.RoleUser)
	svc := newPaymentService(t, e)
	p := initiate(t, svc, "U", 1100)
	e.gateway.succeed(p)
	e.gateway.verifications[p.Reference].Status = "abandoned"

	res, err := svc.Settle(context.Background(), p.Reference)
	require.ErrorIs(t, err, ErrPaymentFailed)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, int64(0), e.balance(t, "U"))
}

func TestSettleExpiredPayment(t *testing.T) {
	e := newEnv(t)
	e.open(t, "U", model.RoleUser)
	svc := newPaymentService(t, e)
	ctx := context.Background()
	p := initiate(t, svc, "U", 1100)
	e.gateway.succeed(p)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	res, err := svc.Settle(ctx, p.Reference)
	require.ErrorIs(t, err, ErrPaymentExpired)
	assert.Equal(t, KindExpired, KindOf(err))
	assert.Equal(t, OutcomeExpired, res.Outcome)
	assert.Equal(t, 0, e.gateway.verifyCalls)
	assert.Equal(t, int64(0), e.balance(t, "U"))
}

func TestExpireOnlyTouchesOverduePending(t *testing.T) {
	e := newEnv(t)
	e.open(t, "U", model.RoleUser)
	svc := newPaymentService(t, e)
	ctx := context.Background()
	p := initiate(t, svc, "U", 1100)

	require.NoError(t, svc.Expire(ctx, p.Reference))
	stored, err := svc.GetPayment(ctx, p.Reference)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, stored.Status)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	require.NoError(t, svc.Expire(ctx, p.Reference))
	stored, err = svc.GetPayment(ctx, p.Reference)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusExpired, stored.Status)
}

func TestInitiateCooldown(t *testing.T) {
	e := newEnv(t)
	e.open(t, "U", model.RoleUser)
	svc := newPaymentService(t, e)
	ctx := context.Background()

	initiate(t, svc, "U", 1100)
	_, err := svc.Initiate(ctx, &InitiateRequest{PayerID: "U", Amount: 2200})
	require.ErrorIs(t, err, ErrPaymentInFlight)
	assert.Equal(t, KindBusy, KindOf(err))

	_, err = svc.Initiate(ctx, &InitiateRequest{PayerID: "U", Amount: -1})
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestInitiateGatewayFailureReleasesCooldown(t *testing.T) {
	e := newEnv(t)
	e.open(t, "U", model.RoleUser)
	svc := newPaymentService(t, e)
	ctx := context.Background()

	e.gateway.initErr = errors.New("dial tcp: timeout")
	_, err := svc.Initiate(ctx, &InitiateRequest{PayerID: "U", Amount: 1100})
	require.ErrorIs(t, err, ErrGatewayUnavailable)

	e.gateway.initErr = nil
	_, err = svc.Initiate(ctx, &InitiateRequest{PayerID: "U", Amount: 1100})
	require.NoError(t, err)
}

func TestInitiateRejectsRestaurant(t *testing.T) {
	e := newEnv(t)
	e.open(t, "R", model.RoleRestaurant)
	svc := newPaymentService(t, e)

	_, err := svc.Initiate(context.Background(), &InitiateRequest{PayerID: "R", Amount: 1100})
	require.ErrorIs(t, err, ErrForbidden)
}
