package model

import (
	"time"
)

// Account 用户算力账户表
// balance 只允许通过账本的原子条件更新修改，其他组件不得直接改写
type Account struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex;not null" json:"user_id"` // 用户ID，业务方传入
	Balance   int64     `gorm:"not null;default:0" json:"balance"`   // 可用算力余额，恒 >= 0
	SiteID    int64     `gorm:"index;not null;default:0" json:"site_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
