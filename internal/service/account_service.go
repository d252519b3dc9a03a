package service

import (
	"context"
	"errors"
	"fmt"

	"campuswallet/internal/model"
	"campuswallet/internal/repository"

	"gorm.io/gorm"
)

type AccountService struct {
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	transferRepo    *repository.TransferRepository
	db              *gorm.DB
}

func NewAccountService(d Deps) *AccountService {
	return &AccountService{
		accountRepo:     repository.NewAccountRepository(d.DB),
		transactionRepo: repository.NewTransactionRepository(d.DB),
		transferRepo:    repository.NewTransferRepository(d.DB),
		db:              d.DB,
	}
}

// Open 开户，已存在时直接返回
func (s *AccountService) Open(ctx context.Context, id, role, email string) (*model.Account, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: 账户ID不能为空", ErrValidation)
	}
	if role != model.RoleUser && role != model.RoleRestaurant {
		return nil, fmt.Errorf("%w: 未知角色 %q", ErrValidation, role)
	}
	return s.accountRepo.GetOrCreate(ctx, id, role, email)
}

func (s *AccountService) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return s.accountRepo.Get(ctx, nil, id)
}

// GetBalance 未开户的账户余额视为 0
func (s *AccountService) GetBalance(ctx context.Context, id string) (int64, error) {
	account, err := s.accountRepo.Get(ctx, nil, id)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return account.Balance, nil
}

// ReconcileReport 对账结果
type ReconcileReport struct {
	AccountID     string `json:"account_id"`
	Balance       int64  `json:"balance"`
	LedgerBalance int64  `json:"ledger_balance"`
	Entries       int    `json:"entries"`
	BrokenEntries int    `json:"broken_entries"`
	Consistent    bool   `json:"consistent"`
}

// Reconcile 用流水和转账记录重放余额，并逐条检查前后余额与金额是否吻合。
// 不加锁读取，结果是最终一致的快照，只用于核查。
func (s *AccountService) Reconcile(ctx context.Context, id string) (*ReconcileReport, error) {
	account, err := s.accountRepo.Get(ctx, nil, id)
	if err != nil {
		return nil, err
	}

	transactions, err := s.transactionRepo.ListByAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("查询流水失败: %w", err)
	}
	transfers, err := s.transferRepo.ListCompletedByAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("查询转账记录失败: %w", err)
	}

	report := &ReconcileReport{AccountID: id, Balance: account.Balance}

	for _, t := range transactions {
		report.Entries++
		report.LedgerBalance += t.Amount
		if t.BalanceAfter-t.BalanceBefore != t.Amount || t.BalanceAfter < 0 {
			report.BrokenEntries++
		}
	}

	for _, t := range transfers {
		report.Entries++
		if t.SenderID == id {
			report.LedgerBalance -= t.Amount
			if t.SenderBalanceBefore-t.Amount != t.SenderBalanceAfter || t.SenderBalanceAfter < 0 {
				report.BrokenEntries++
			}
		}
		if t.RecipientID == id {
			report.LedgerBalance += t.Amount
			if t.RecipientBalanceBefore+t.Amount != t.RecipientBalanceAfter {
				report.BrokenEntries++
			}
		}
	}

	report.Consistent = report.BrokenEntries == 0 && report.LedgerBalance == report.Balance
	return report, nil
}
