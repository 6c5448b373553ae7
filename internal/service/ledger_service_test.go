package service_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"creditpay/internal/model"
	"creditpay/internal/repository"
	"creditpay/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestLedger_Credit_AddsBalanceAndWritesRow(t *testing.T) {
	db := newTestDB(t)
	ledger := service.NewLedgerService(db)
	seedAccount(t, db, 1, 0)

	err := ledger.Credit(ctxBG(), nil, 1, 1050, model.TransactionTypeRecharge, "R10001", "算力充值")
	require.NoError(t, err)

	assert.Equal(t, int64(1050), accountBalance(t, db, 1))

	rows := transactionsOf(t, db, 1, model.TransactionTypeRecharge)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1050), rows[0].Amount)
	assert.Equal(t, int64(1050), rows[0].BalanceAfter, "流水快照应等于入账后余额")
	assert.Equal(t, "R10001", rows[0].ReferenceID)
	assert.NotEmpty(t, rows[0].TransactionNo)
}

func TestLedger_Debit_DeductsAndWritesNegativeRow(t *testing.T) {
	db := newTestDB(t)
	ledger := service.NewLedgerService(db)
	seedAccount(t, db, 1, 100)

	err := db.Transaction(func(tx *gorm.DB) error {
		return ledger.Debit(ctxBG(), tx, 1, 30, "42", "内容生成")
	})
	require.NoError(t, err)

	assert.Equal(t, int64(70), accountBalance(t, db, 1))

	rows := transactionsOf(t, db, 1, model.TransactionTypeConsume)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(-30), rows[0].Amount, "消费流水金额为负")
	assert.Equal(t, int64(70), rows[0].BalanceAfter)
}

func TestLedger_Debit_InsufficientBalance_NoChange(t *testing.T) {
	// 余额 20 扣 50：拒绝且不留任何痕迹

	db := newTestDB(t)
	ledger := service.NewLedgerService(db)
	seedAccount(t, db, 1, 20)

	err := db.Transaction(func(tx *gorm.DB) error {
		return ledger.Debit(ctxBG(), tx, 1, 50, "42", "内容生成")
	})
	assert.ErrorIs(t, err, repository.ErrBalanceNotEnough)

	assert.Equal(t, int64(20), accountBalance(t, db, 1))
	assert.Empty(t, transactionsOf(t, db, 1, ""))
}

func TestLedger_Debit_AccountMissing(t *testing.T) {
	db := newTestDB(t)
	ledger := service.NewLedgerService(db)

	err := db.Transaction(func(tx *gorm.DB) error {
		return ledger.Debit(ctxBG(), tx, 99, 50, "42", "内容生成")
	})
	assert.ErrorIs(t, err, repository.ErrAccountNotFound)
}

func TestLedger_NegativeAmount_Rejected(t *testing.T) {
	db := newTestDB(t)
	ledger := service.NewLedgerService(db)
	seedAccount(t, db, 1, 100)

	assert.ErrorIs(t, ledger.Debit(ctxBG(), nil, 1, -1, "42", "x"), service.ErrInvalidAmount)
	assert.ErrorIs(t, ledger.Credit(ctxBG(), nil, 1, -1, model.TransactionTypeRefund, "42", "x"), service.ErrInvalidAmount)
}

func TestLedger_ZeroAmount_WritesRowOnly(t *testing.T) {
	// 零额变动合法：记一条流水但余额不动

	db := newTestDB(t)
	ledger := service.NewLedgerService(db)
	seedAccount(t, db, 1, 100)

	require.NoError(t, ledger.Debit(ctxBG(), nil, 1, 0, "42", "免费任务"))

	assert.Equal(t, int64(100), accountBalance(t, db, 1))
	rows := transactionsOf(t, db, 1, model.TransactionTypeConsume)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(0), rows[0].Amount)
	assert.Equal(t, int64(100), rows[0].BalanceAfter)
}

func TestLedger_ConcurrentDebits_NeverNegative(t *testing.T) {
	// GIVEN: 余额 100
	// WHEN: 10个 goroutine 并发各扣 30
	// THEN: 恰好3笔成功，余额 10，绝不为负

	db := newTestDB(t)
	ledger := service.NewLedgerService(db)
	seedAccount(t, db, 1, 100)

	var succeeded int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.Transaction(func(tx *gorm.DB) error {
				return ledger.Debit(ctxBG(), tx, 1, 30, "42", "并发扣费")
			})
			if err == nil {
				atomic.AddInt64(&succeeded, 1)
			} else if !errors.Is(err, repository.ErrBalanceNotEnough) {
				t.Errorf("意外错误: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(3), succeeded)
	assert.Equal(t, int64(10), accountBalance(t, db, 1))
	assert.Len(t, transactionsOf(t, db, 1, model.TransactionTypeConsume), 3)
}

func TestLedger_ReplayInvariant(t *testing.T) {
	// 按 id 顺序重放全部流水，每一步都应与 balance_after 快照一致，
	// 最终结果等于账户当前余额

	db := newTestDB(t)
	ledger := service.NewLedgerService(db)
	seedAccount(t, db, 1, 0)

	require.NoError(t, ledger.Credit(ctxBG(), nil, 1, 1000, model.TransactionTypeRecharge, "R1", "充值"))
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return ledger.Debit(ctxBG(), tx, 1, 50, "1", "任务1")
	}))
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return ledger.Debit(ctxBG(), tx, 1, 50, "2", "任务2")
	}))
	require.NoError(t, ledger.Credit(ctxBG(), nil, 1, 50, model.TransactionTypeRefund, "2", "退款"))

	rows := transactionsOf(t, db, 1, "")
	require.Len(t, rows, 4)

	var replayed int64
	for _, row := range rows {
		replayed += row.Amount
		assert.Equal(t, row.BalanceAfter, replayed, "流水 %s 的快照与重放结果不一致", row.TransactionNo)
	}
	assert.Equal(t, accountBalance(t, db, 1), replayed)
}

func TestLedger_Balance_MissingAccountIsZero(t *testing.T) {
	db := newTestDB(t)
	ledger := service.NewLedgerService(db)

	balance, err := ledger.Balance(ctxBG(), 404)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestLedger_EnsureAccount_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ledger := service.NewLedgerService(db)

	first, err := ledger.EnsureAccount(ctxBG(), 7, 0)
	require.NoError(t, err)
	assert.Zero(t, first.Balance)

	require.NoError(t, ledger.Credit(ctxBG(), nil, 7, 100, model.TransactionTypeRecharge, "R1", "充值"))

	again, err := ledger.EnsureAccount(ctxBG(), 7, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(100), again.Balance, "已存在账户不应被重置")
}
