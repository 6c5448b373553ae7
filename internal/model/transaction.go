package model

import (
	"time"
)

const (
	TransactionTypeRecharge = "RECHARGE" // 充值入账
	TransactionTypeConsume  = "CONSUME"  // 任务扣费
	TransactionTypeRefund   = "REFUND"   // 失败退款
)

// CreditTransaction 算力流水表
//
// 流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 每笔流水必须关联订单号或任务ID —— 便于对账
// 3. 记录交易后余额快照 —— 按创建顺序重放全部流水必须能复现每个 balance_after
type CreditTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"` // 流水号（全局唯一）
	UserID        int64     `gorm:"index;not null" json:"user_id"`
	Type          string    `gorm:"type:varchar(20);not null" json:"type"`            // 交易类型
	Amount        int64     `gorm:"not null" json:"amount"`                           // 算力变动（正数入账，负数出账）
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`                    // 交易后余额
	ReferenceID   string    `gorm:"type:varchar(64);index;not null" json:"reference_id"` // 关联订单号/任务ID
	Description   string    `gorm:"type:varchar(256)" json:"description"`
	SiteID        int64     `gorm:"index;not null;default:0" json:"site_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (CreditTransaction) TableName() string {
	return "credit_transaction"
}
