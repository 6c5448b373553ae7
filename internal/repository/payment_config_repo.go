package repository

import (
	"context"
	"errors"

	"creditpay/internal/model"
	"creditpay/internal/tenant"

	"gorm.io/gorm"
)

var ErrPaymentConfigNotFound = errors.New("支付配置不存在")

type PaymentConfigRepository struct {
	db *gorm.DB
}

func NewPaymentConfigRepository(db *gorm.DB) *PaymentConfigRepository {
	return &PaymentConfigRepository{db: db}
}

// GetByType 查询当前站点的网关配置
func (r *PaymentConfigRepository) GetByType(ctx context.Context, paymentType string) (*model.PaymentConfig, error) {
	var cfg model.PaymentConfig
	err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(ctx)).
		Where("payment_type = ?", paymentType).
		First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentConfigNotFound
		}
		return nil, err
	}
	return &cfg, nil
}

// ListEnabledByTypeIgnoreTenant 跨站点列出某网关的全部启用配置
// 回调没有租户上下文时，逐个配置尝试验签定位所属站点
func (r *PaymentConfigRepository) ListEnabledByTypeIgnoreTenant(ctx context.Context, paymentType string) ([]*model.PaymentConfig, error) {
	var configs []*model.PaymentConfig
	err := r.db.WithContext(ctx).
		Where("payment_type = ? AND is_enabled = ?", paymentType, true).
		Find(&configs).Error
	return configs, err
}
