package model

import (
	"time"
)

// PaymentConfig 支付网关配置表
// config_json 为网关私有配置（appid、商户号、密钥等），由对应网关实现解析
type PaymentConfig struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentType string    `gorm:"type:varchar(16);index;not null" json:"payment_type"`
	IsEnabled   bool      `gorm:"not null;default:false" json:"is_enabled"`
	ConfigJSON  string    `gorm:"type:text;not null" json:"-"`
	SiteID      int64     `gorm:"index;not null;default:0" json:"site_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentConfig) TableName() string {
	return "payment_config"
}
