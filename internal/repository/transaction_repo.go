package repository

import (
	"context"

	"creditpay/internal/model"
	"creditpay/internal/tenant"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.CreditTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

// GetByReference 按关联单号查流水（可按类型过滤，type 为空查全部）
func (r *TransactionRepository) GetByReference(ctx context.Context, referenceID, transType string) ([]*model.CreditTransaction, error) {
	var transactions []*model.CreditTransaction
	query := r.db.WithContext(ctx).Where("reference_id = ?", referenceID)
	if transType != "" {
		query = query.Where("type = ?", transType)
	}
	err := query.Order("created_at ASC").Find(&transactions).Error
	return transactions, err
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	var transactions []*model.CreditTransaction
	var total int64

	query := r.db.WithContext(ctx).
		Model(&model.CreditTransaction{}).
		Scopes(tenant.Scope(ctx)).
		Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// ListByUserInOrder 按创建顺序返回用户全部流水，对账校验用
func (r *TransactionRepository) ListByUserInOrder(ctx context.Context, userID int64) ([]*model.CreditTransaction, error) {
	var transactions []*model.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&transactions).Error
	return transactions, err
}
