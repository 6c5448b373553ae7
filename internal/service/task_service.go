package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"creditpay/internal/config"
	"creditpay/internal/infrastructure/lock"
	"creditpay/internal/model"
	"creditpay/internal/repository"
	"creditpay/internal/stream"
	"creditpay/internal/tenant"
	"creditpay/internal/upstream"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const (
	maxResultLen   = 20000
	maxErrorMsgLen = 500
)

// UpstreamClient 上游 AI 接口能力，便于测试替换
type UpstreamClient interface {
	OpenStream(ctx context.Context, model, systemPrompt, content string) (*stream.Reader, error)
	QueryTaskStatus(ctx context.Context, upstreamTaskID string) (status, result, errMsg string, err error)
}

var _ UpstreamClient = (*upstream.Client)(nil)

// FrameSink 逐帧透传回调（SSE 下发），失败不影响结算
type FrameSink func(raw string)

// TaskService 异步任务结算
//
// 结算协议：先扣费后调用，失败补偿退款，完成迁移幂等。
//   - Submit 在一个事务内完成 扣费 + 任务落库 + CONSUME 流水，
//     任何一步失败整体回滚，用户不会为不存在的任务买单
//   - SettleSuccess / SettleFailureAndRefund 都以 WHERE status=processing
//     的条件更新开头，零行受影响即视为已被别的路径结算，直接返回；
//     显式失败、流中断、超时清理三条路径可以放心并发调用
type TaskService struct {
	db          *gorm.DB
	cfg         *config.Config
	redisClient *redis.Client
	taskRepo    *repository.TaskRepository
	outboxRepo  *repository.OutboxRepository
	ledger      *LedgerService
	upstream    UpstreamClient
}

func NewTaskService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, ledger *LedgerService, up UpstreamClient) *TaskService {
	return &TaskService{
		db:          db,
		cfg:         cfg,
		redisClient: redisClient,
		taskRepo:    repository.NewTaskRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		ledger:      ledger,
		upstream:    up,
	}
}

// Submit 提交任务：扣费 + 任务落库 + 流水，单事务
// 余额不足返回 repository.ErrBalanceNotEnough，此时无任何状态变化
func (s *TaskService) Submit(ctx context.Context, userID int64, taskType, content, modelName string, cost int64) (*model.AnalysisTask, error) {
	if cost < 0 {
		return nil, ErrInvalidAmount
	}

	// 同一用户串行提交，防止网络抖动导致的重复点击双扣
	// 并发正确性不依赖这把锁，扣费本身是条件更新
	if s.redisClient != nil {
		submitLock := lock.NewSubmitLock(s.redisClient, userID)
		if err := submitLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
			return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
		}
		defer submitLock.Unlock(ctx)
	}

	siteID, _ := tenant.SiteFrom(ctx)
	if _, err := s.ledger.EnsureAccount(ctx, userID, siteID); err != nil {
		return nil, err
	}

	task := &model.AnalysisTask{
		UserID:  userID,
		Type:    taskType,
		Content: content,
		Model:   modelName,
		Status:  model.TaskStatusProcessing,
		Cost:    cost,
		SiteID:  siteID,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.taskRepo.Create(ctx, tx, task); err != nil {
			return fmt.Errorf("任务落库失败: %w", err)
		}
		if err := s.ledger.Debit(ctx, tx, userID, cost,
			strconv.FormatInt(task.ID, 10), taskDescription(taskType, modelName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return task, nil
}

// RunStream 调用上游流式接口并驱动结算，阻塞到流结束
// 网络调用期间不持有任何数据库事务
func (s *TaskService) RunStream(ctx context.Context, task *model.AnalysisTask, systemPrompt string, sink FrameSink) error {
	// 结算不跟随请求取消：客户端断开时流会报错，
	// 但补偿退款必须落库，否则只能等超时清理兜底
	settleCtx := context.WithoutCancel(ctx)

	reader, err := s.upstream.OpenStream(ctx, task.Model, systemPrompt, task.Content)
	if err != nil {
		// 连接层失败：直接终态 + 退款，对用户只暴露通用文案
		s.SettleFailureAndRefund(settleCtx, task, "生成请求失败，请稍后重试")
		return err
	}
	defer reader.Close()

	var fullResponse strings.Builder
	gotContent := false

	for {
		frame, err := reader.Next()
		switch {
		case err == nil:
			if frame.Content != "" {
				fullResponse.WriteString(frame.Content)
				gotContent = true
			}
			if sink != nil {
				sink(frame.Raw)
			}

		case errors.Is(err, stream.ErrDone):
			// 正常终止哨兵
			s.SettleSuccess(settleCtx, task, fullResponse.String())
			return nil

		case errors.Is(err, io.EOF):
			// 连接关闭但没有哨兵：
			// 收到过内容按降级成功处理，否则按失败退款
			if gotContent {
				log.Printf("[TaskService] 流无哨兵结束，按降级成功结算: taskID=%d", task.ID)
				s.SettleSuccess(settleCtx, task, fullResponse.String())
				return nil
			}
			s.SettleFailureAndRefund(settleCtx, task, "上游响应中断，未收到结果")
			return io.ErrUnexpectedEOF

		default:
			var upErr *stream.UpstreamError
			if errors.As(err, &upErr) {
				// 帧内错误信号：立即失败退款并停止消费
				s.SettleFailureAndRefund(settleCtx, task, upErr.Message)
				return upErr
			}
			// 传输层错误
			s.SettleFailureAndRefund(settleCtx, task, "生成请求超时，请稍后重试")
			return err
		}
	}
}

// SettleSuccess 幂等成功结算
// 已结算（成功或失败）的任务零行受影响，本次调用为无副作用空操作
func (s *TaskService) SettleSuccess(ctx context.Context, task *model.AnalysisTask, result string) {
	ctx = tenant.WithSite(ctx, task.SiteID)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		owned, err := s.taskRepo.MarkSuccessIfProcessing(ctx, tx, task.ID, truncate(result, maxResultLen))
		if err != nil {
			return err
		}
		if !owned {
			return nil
		}
		return s.appendSettledEvent(ctx, tx, task, "success")
	})
	if err != nil {
		log.Printf("[TaskService] 成功结算失败: taskID=%d, err=%v", task.ID, err)
	}
}

// SettleFailureAndRefund 幂等失败结算 + 补偿退款
// 只有抢到状态迁移（受影响行数=1）的调用才执行退款，
// 退款和迁移在同一事务中，即使多条失败路径并发也最多退一次
func (s *TaskService) SettleFailureAndRefund(ctx context.Context, task *model.AnalysisTask, reason string) {
	ctx = tenant.WithSite(ctx, task.SiteID)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		owned, err := s.taskRepo.MarkFailedIfProcessing(ctx, tx, task.ID, truncate(reason, maxErrorMsgLen))
		if err != nil {
			return err
		}
		if !owned {
			return nil
		}

		if task.Cost > 0 {
			if err := s.ledger.Credit(ctx, tx, task.UserID, task.Cost,
				model.TransactionTypeRefund, strconv.FormatInt(task.ID, 10),
				taskDescription(task.Type, task.Model)+"失败退款"); err != nil {
				return fmt.Errorf("失败退款入账失败: %w", err)
			}
		}

		return s.appendSettledEvent(ctx, tx, task, "failed")
	})
	if err != nil {
		log.Printf("[TaskService] 失败结算失败: taskID=%d, err=%v", task.ID, err)
	}
}

// SyncTaskStatus 向上游确认一次任务最终状态，并按结果驱动幂等结算
// 上游仍在处理或查询失败时不做任何状态变化
func (s *TaskService) SyncTaskStatus(ctx context.Context, taskID int64) (*model.AnalysisTask, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if task.Status != model.TaskStatusProcessing || task.UpstreamTaskID == "" {
		return task, nil
	}

	status, result, errMsg, err := s.upstream.QueryTaskStatus(ctx, task.UpstreamTaskID)
	if err != nil {
		return task, fmt.Errorf("同步任务状态失败: %w", err)
	}

	switch status {
	case upstream.StatusSuccess:
		s.SettleSuccess(ctx, task, result)
	case upstream.StatusFailed:
		if errMsg == "" {
			errMsg = "上游任务执行失败"
		}
		s.SettleFailureAndRefund(ctx, task, errMsg)
	}

	return s.taskRepo.GetByID(ctx, taskID)
}

// GetStuckTasks 查询卡在 processing 超过阈值的任务，清理任务用
func (s *TaskService) GetStuckTasks(ctx context.Context, age time.Duration, limit int) ([]*model.AnalysisTask, error) {
	return s.taskRepo.GetProcessingBefore(ctx, time.Now().Add(-age), limit)
}

func (s *TaskService) GetTask(ctx context.Context, taskID int64) (*model.AnalysisTask, error) {
	return s.taskRepo.GetByID(ctx, taskID)
}

func (s *TaskService) ListTasks(ctx context.Context, userID int64, page, pageSize int) ([]*model.AnalysisTask, int64, error) {
	return s.taskRepo.ListByUserID(ctx, userID, page, pageSize)
}

func (s *TaskService) appendSettledEvent(ctx context.Context, tx *gorm.DB, task *model.AnalysisTask, outcome string) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"task_id": task.ID,
		"user_id": task.UserID,
		"type":    task.Type,
		"outcome": outcome,
		"cost":    task.Cost,
	})
	msg := &model.OutboxMessage{
		MessageKey: strconv.FormatInt(task.ID, 10),
		Topic:      s.cfg.Kafka.Topic.TaskSettled,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入任务结算消息失败: %w", err)
	}
	return nil
}

func taskDescription(taskType, modelName string) string {
	switch taskType {
	case model.TaskTypeImage:
		return "图片分析-" + modelName
	case model.TaskTypeVideo:
		return "视频分析-" + modelName
	default:
		return "内容生成-" + modelName
	}
}

// truncate 按字节上限截断，回退到完整字符边界，避免把多字节字符切成半个
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
