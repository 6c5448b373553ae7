package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPending   = "pending"   // 待支付
	OrderStatusPaying    = "paying"    // 已向网关下单，等待回调
	OrderStatusPaid      = "paid"      // 终态：支付成功并已入账
	OrderStatusFailed    = "failed"    // 终态：支付失败/校验失败
	OrderStatusCancelled = "cancelled" // 终态：用户取消
)

var ValidOrderTransitions = map[string][]string{
	OrderStatusPending: {OrderStatusPaying, OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusPaying:  {OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled},
}

// CanTransitionTo 校验订单状态迁移是否合法，终态不允许再迁移
func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowed, exists := ValidOrderTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == targetStatus {
			return true
		}
	}
	return false
}

const (
	PaymentTypeWechat = "wechat"
	PaymentTypeAlipay = "alipay"
)

// RechargeOrder 充值订单表
// 状态只允许由网关下单步骤（pending->paying）和幂等的支付完成迁移
// （paying->paid，原子条件更新）或失败/取消迁移修改，到达终态后不再变化
type RechargeOrder struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo           string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	UserID            int64           `gorm:"index;not null" json:"user_id"`
	Amount            decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"` // 充值金额（元）
	Points            int64           `gorm:"not null" json:"points"`                    // 到账算力 = floor(amount * exchange_rate)
	PaymentType       string          `gorm:"type:varchar(16);not null" json:"payment_type"`
	Status            string          `gorm:"type:varchar(20);index;not null" json:"status"`
	ThirdPartyOrderNo string          `gorm:"type:varchar(128)" json:"third_party_order_no"`
	CallbackInfo      string          `gorm:"type:text" json:"-"` // 网关回调原始数据，仅审计用
	PaidAt            *time.Time      `json:"paid_at"`
	CompletedAt       *time.Time      `json:"completed_at"`
	SiteID            int64           `gorm:"index;not null;default:0" json:"site_id"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RechargeOrder) TableName() string {
	return "recharge_order"
}
