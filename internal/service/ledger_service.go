package service

import (
	"context"
	"errors"
	"fmt"

	"creditpay/internal/model"
	"creditpay/internal/repository"
	"creditpay/pkg/idgen"

	"gorm.io/gorm"
)

var ErrInvalidAmount = errors.New("金额必须为非负数")

// LedgerService 算力账本
// 余额是唯一事实，所有变动走这里：余额原子更新和流水写入
// 必须在同一个数据库事务中提交，流水写入失败则整体回滚
type LedgerService struct {
	db              *gorm.DB
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{
		db:              db,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

// Debit 条件扣费并记 CONSUME 流水
// 必须在调用方的事务 tx 内执行；余额不足时返回 repository.ErrBalanceNotEnough
func (s *LedgerService) Debit(ctx context.Context, tx *gorm.DB, userID, amount int64, referenceID, description string) error {
	if amount < 0 {
		return ErrInvalidAmount
	}

	if amount > 0 {
		if err := s.accountRepo.Deduct(ctx, tx, userID, amount); err != nil {
			return err
		}
	}

	// 余额快照在扣减之后、同一事务内读取
	account, err := s.accountRepo.GetByUserID(ctx, tx, userID)
	if err != nil {
		return err
	}

	trans := &model.CreditTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        userID,
		Type:          model.TransactionTypeConsume,
		Amount:        -amount,
		BalanceAfter:  account.Balance,
		ReferenceID:   referenceID,
		Description:   description,
		SiteID:        account.SiteID,
	}
	if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
		return fmt.Errorf("记录扣费流水失败: %w", err)
	}

	return nil
}

// Credit 原子加款并记流水（transType 为 RECHARGE 或 REFUND）
// 必须在调用方的事务 tx 内执行
func (s *LedgerService) Credit(ctx context.Context, tx *gorm.DB, userID, amount int64, transType, referenceID, description string) error {
	if amount < 0 {
		return ErrInvalidAmount
	}

	if amount > 0 {
		if err := s.accountRepo.Increase(ctx, tx, userID, amount); err != nil {
			return err
		}
	}

	account, err := s.accountRepo.GetByUserID(ctx, tx, userID)
	if err != nil {
		return err
	}

	trans := &model.CreditTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        userID,
		Type:          transType,
		Amount:        amount,
		BalanceAfter:  account.Balance,
		ReferenceID:   referenceID,
		Description:   description,
		SiteID:        account.SiteID,
	}
	if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
		return fmt.Errorf("记录入账流水失败: %w", err)
	}

	return nil
}

// EnsureAccount 查询或初始化账户
func (s *LedgerService) EnsureAccount(ctx context.Context, userID, siteID int64) (*model.Account, error) {
	return s.accountRepo.GetOrCreate(ctx, userID, siteID)
}

// Balance 查询余额，账户不存在按 0 处理
func (s *LedgerService) Balance(ctx context.Context, userID int64) (int64, error) {
	account, err := s.accountRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return account.Balance, nil
}

// Transactions 分页查询用户流水
func (s *LedgerService) Transactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	return s.transactionRepo.ListByUserID(ctx, userID, page, pageSize)
}
