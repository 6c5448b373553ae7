package service_test

import (
	"context"
	"testing"

	"creditpay/internal/config"
	"creditpay/internal/infrastructure/database"
	"creditpay/internal/model"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB 内存 sqlite 库
// 连接池收紧到单连接：内存库的生命周期跟着这个连接走，
// 并发事务在连接上排队，语义与 MySQL 串行化提交一致
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

func newTestConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				OrderPaid:   "test.order.paid",
				TaskSettled: "test.task.settled",
			},
		},
		Business: config.BusinessConfig{
			MinRechargeAmount:   1.0,
			ExchangeRate:        100,
			OrderCancelMinutes:  15,
			OrderRateLimit:      100,
			OrderRateWindowSecs: 60,
			TaskCost:            50,
			TaskTimeoutMinutes:  10,
			MaxRetryCount:       5,
		},
	}
}

func seedAccount(t *testing.T, db *gorm.DB, userID, balance int64) {
	t.Helper()
	require.NoError(t, db.Create(&model.Account{UserID: userID, Balance: balance}).Error)
}

func seedPaymentConfig(t *testing.T, db *gorm.DB, paymentType, configJSON string, enabled bool) {
	t.Helper()
	require.NoError(t, db.Create(&model.PaymentConfig{
		PaymentType: paymentType,
		IsEnabled:   enabled,
		ConfigJSON:  configJSON,
	}).Error)
}

func accountBalance(t *testing.T, db *gorm.DB, userID int64) int64 {
	t.Helper()
	var account model.Account
	require.NoError(t, db.Where("user_id = ?", userID).First(&account).Error)
	return account.Balance
}

func transactionsOf(t *testing.T, db *gorm.DB, userID int64, transType string) []model.CreditTransaction {
	t.Helper()
	var rows []model.CreditTransaction
	query := db.Where("user_id = ?", userID)
	if transType != "" {
		query = query.Where("type = ?", transType)
	}
	require.NoError(t, query.Order("id ASC").Find(&rows).Error)
	return rows
}

func outboxMessages(t *testing.T, db *gorm.DB, topic string) []model.OutboxMessage {
	t.Helper()
	var rows []model.OutboxMessage
	require.NoError(t, db.Where("topic = ?", topic).Find(&rows).Error)
	return rows
}

func ctxBG() context.Context {
	return context.Background()
}
