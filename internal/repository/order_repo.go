package repository

import (
	"context"
	"errors"
	"time"

	"creditpay/internal/model"
	"creditpay/internal/tenant"

	"gorm.io/gorm"
)

var (
	ErrOrderNotFound      = errors.New("订单不存在")
	ErrOrderStatusInvalid = errors.New("订单状态不合法")
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.RechargeOrder) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(order).Error
}

// GetByOrderNo 按订单号查询，不做站点过滤
// 支付回调不携带租户上下文，必须能跨站点定位订单
func (r *OrderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.RechargeOrder, error) {
	var order model.RechargeOrder
	err := r.db.WithContext(ctx).Where("order_no = ?", orderNo).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetByOrderNoAndUser 用户侧查询，校验归属，不泄露他人订单
func (r *OrderRepository) GetByOrderNoAndUser(ctx context.Context, orderNo string, userID int64) (*model.RechargeOrder, error) {
	var order model.RechargeOrder
	err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(ctx)).
		Where("order_no = ? AND user_id = ?", orderNo, userID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// UpdateStatus 带状态机校验的条件更新迁移
// WHERE 上带 fromStatus，零行受影响说明已被并发迁移走
func (r *OrderRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, orderNo string, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrOrderStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.RechargeOrder{}).
		Where("order_no = ? AND status = ?", orderNo, fromStatus).
		Update("status", toStatus)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrOrderStatusInvalid
	}

	return nil
}

// MarkPaying 网关下单成功后记录第三方单号并进入 paying
func (r *OrderRepository) MarkPaying(ctx context.Context, tx *gorm.DB, orderNo, thirdPartyOrderNo string) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.RechargeOrder{}).
		Where("order_no = ? AND status = ?", orderNo, model.OrderStatusPending).
		Updates(map[string]interface{}{
			"status":               model.OrderStatusPaying,
			"third_party_order_no": thirdPartyOrderNo,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderStatusInvalid
	}
	return nil
}

// MarkPaidIfNotPaid 幂等的支付完成迁移（核心正确性机制）
//
//	UPDATE recharge_order SET status='paid', ... WHERE order_no=? AND status <> 'paid'
//
// 返回是否由本次调用完成迁移：
// 零行受影响 = 并发回调已处理过，本次调用不得再入账
func (r *OrderRepository) MarkPaidIfNotPaid(ctx context.Context, tx *gorm.DB, orderNo, thirdPartyOrderNo, callbackInfo string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.RechargeOrder{}).
		Where("order_no = ? AND status <> ?", orderNo, model.OrderStatusPaid).
		Updates(map[string]interface{}{
			"status":               model.OrderStatusPaid,
			"third_party_order_no": thirdPartyOrderNo,
			"callback_info":        callbackInfo,
			"paid_at":              &now,
			"completed_at":         &now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkFailed 失败迁移，保留回调原文供审计
func (r *OrderRepository) MarkFailed(ctx context.Context, tx *gorm.DB, orderNo, callbackInfo string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.RechargeOrder{}).
		Where("order_no = ? AND status IN ?", orderNo, []string{model.OrderStatusPending, model.OrderStatusPaying}).
		Updates(map[string]interface{}{
			"status":        model.OrderStatusFailed,
			"callback_info": callbackInfo,
		}).Error
}

func (r *OrderRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.RechargeOrder, int64, error) {
	var orders []*model.RechargeOrder
	var total int64

	query := r.db.WithContext(ctx).
		Model(&model.RechargeOrder{}).
		Scopes(tenant.Scope(ctx)).
		Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error

	return orders, total, err
}
