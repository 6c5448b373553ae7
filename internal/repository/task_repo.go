package repository

import (
	"context"
	"errors"
	"time"

	"creditpay/internal/model"
	"creditpay/internal/tenant"

	"gorm.io/gorm"
)

var ErrTaskNotFound = errors.New("任务不存在")

type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, tx *gorm.DB, task *model.AnalysisTask) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(task).Error
}

func (r *TaskRepository) GetByID(ctx context.Context, taskID int64) (*model.AnalysisTask, error) {
	var task model.AnalysisTask
	err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(ctx)).
		Where("id = ?", taskID).
		First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

// MarkSuccessIfProcessing 幂等的成功结算迁移
// WHERE status=0 保证已结算（无论成功失败）的任务不会被覆盖
func (r *TaskRepository) MarkSuccessIfProcessing(ctx context.Context, tx *gorm.DB, taskID int64, result string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	res := tx.WithContext(ctx).
		Model(&model.AnalysisTask{}).
		Where("id = ? AND status = ?", taskID, model.TaskStatusProcessing).
		Updates(map[string]interface{}{
			"status": model.TaskStatusSuccess,
			"result": result,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkFailedIfProcessing 幂等的失败结算迁移
// 只有受影响行数为1的那次调用才拥有退款权，最多退一次
func (r *TaskRepository) MarkFailedIfProcessing(ctx context.Context, tx *gorm.DB, taskID int64, errorMsg string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	res := tx.WithContext(ctx).
		Model(&model.AnalysisTask{}).
		Where("id = ? AND status = ?", taskID, model.TaskStatusProcessing).
		Updates(map[string]interface{}{
			"status":    model.TaskStatusFailed,
			"error_msg": errorMsg,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// GetProcessingBefore 查询卡在 processing 超过阈值的任务
// 清理任务跨站点扫描，不做租户过滤
func (r *TaskRepository) GetProcessingBefore(ctx context.Context, before time.Time, limit int) ([]*model.AnalysisTask, error) {
	var tasks []*model.AnalysisTask
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.TaskStatusProcessing, before).
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

func (r *TaskRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.AnalysisTask, int64, error) {
	var tasks []*model.AnalysisTask
	var total int64

	query := r.db.WithContext(ctx).
		Model(&model.AnalysisTask{}).
		Scopes(tenant.Scope(ctx)).
		Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&tasks).Error

	return tasks, total, err
}
