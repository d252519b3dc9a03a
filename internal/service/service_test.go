package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"campuswallet/internal/config"
	"campuswallet/internal/infrastructure/gateway"
	"campuswallet/internal/model"
	"campuswallet/internal/repository"
	"campuswallet/internal/testutil"
	"campuswallet/pkg/idgen"
)

// fakeGateway 按 reference 返回预设的核实结果
type fakeGateway struct {
	mu            sync.Mutex
	verifications map[string]*gateway.Verification
	verifyErr     error
	initErr       error
	verifyCalls   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{verifications: map[string]*gateway.Verification{}}
}

func (g *fakeGateway) Initialize(_ context.Context, req gateway.InitRequest) (*gateway.InitResult, error) {
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &gateway.InitResult{
		AuthorizationURL: "https://checkout.test/" + req.Reference,
		AccessCode:       "ac_" + req.Reference,
	}, nil
}

func (g *fakeGateway) Verify(_ context.Context, reference string) (*gateway.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	v, ok := g.verifications[reference]
	if !ok {
		return nil, fmt.Errorf("%w: unknown reference", gateway.ErrUnavailable)
	}
	return v, nil
}

func (g *fakeGateway) succeed(p *model.PendingPayment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifications[p.Reference] = &gateway.Verification{
		Status:        gateway.StatusSuccess,
		Amount:        p.DeclaredAmount,
		Currency:      "NGN",
		PayerEmail:    p.Email,
		TransactionID: "gw-" + p.Reference,
	}
}

// recordingNotifier 记录所有通知，便于断言
type recordingNotifier struct {
	mu       sync.Mutex
	messages map[string][]string
	emails   []string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{messages: map[string][]string{}}
}

func (n *recordingNotifier) Notify(_ context.Context, accountID, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages[accountID] = append(n.messages[accountID], message)
	return nil
}

func (n *recordingNotifier) SendEmail(_ context.Context, address, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emails = append(n.emails, address)
	return nil
}

func (n *recordingNotifier) count(accountID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages[accountID])
}

type env struct {
	deps     Deps
	gateway  *fakeGateway
	notifier *recordingNotifier
	accounts *AccountService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	idgen.Init(1)

	cfg, err := config.Load("")
	require.NoError(t, err)

	db := testutil.NewDB(t)
	rdb, _ := testutil.NewRedis(t)
	gw := newFakeGateway()
	notifier := newRecordingNotifier()

	deps := NewDeps(db, rdb, notifier, gw, cfg, zap.NewNop())
	return &env{
		deps:     deps,
		gateway:  gw,
		notifier: notifier,
		accounts: NewAccountService(deps),
	}
}

func (e *env) open(t *testing.T, id, role string) {
	t.Helper()
	_, err := e.accounts.Open(context.Background(), id, role, id+"@campus.edu")
	require.NoError(t, err)
}

// fund 以充值流水的方式加钱，保证对账一致
func (e *env) fund(t *testing.T, id string, amount int64) {
	t.Helper()
	ctx := context.Background()
	accountRepo := repository.NewAccountRepository(e.deps.DB)
	transactionRepo := repository.NewTransactionRepository(e.deps.DB)

	acc, err := accountRepo.Get(ctx, nil, id)
	require.NoError(t, err)
	require.NoError(t, accountRepo.Increase(ctx, nil, id, amount))
	require.NoError(t, transactionRepo.Create(ctx, nil, &model.AccountTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		AccountID:     id,
		RefNo:         "seed-" + id,
		Amount:        amount,
		Type:          model.TransactionTypeRecharge,
		BalanceBefore: acc.Balance,
		BalanceAfter:  acc.Balance + amount,
	}))
}

func (e *env) balance(t *testing.T, id string) int64 {
	t.Helper()
	b, err := e.accounts.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (e *env) requireConsistent(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		report, err := e.accounts.Reconcile(context.Background(), id)
		require.NoError(t, err)
		require.Truef(t, report.Consistent, "account %s: %+v", id, report)
	}
}

// retry 锁竞争失败的请求按客户端的做法重试
func retry(fn func() error) error {
	var err error
	for i := 0; i < 1000; i++ {
		err = fn()
		if err == nil || !Retryable(err) {
			return err
		}
		time.Sleep(5 * time.Millisecond)
	}
	return err
}
