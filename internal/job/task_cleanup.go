package job

import (
	"context"
	"log"
	"time"

	"creditpay/internal/config"
	"creditpay/internal/model"
	"creditpay/internal/service"
	"creditpay/internal/tenant"
)

// TaskCleanupJob 卡死任务清理
// 定期跨站点扫描超过阈值仍处于 processing 的任务：
// 先向上游确认一次最终状态，确认后仍未结算的按超时失败退款。
// 结算本身幂等，清理和并发完成的回调/流处理互不重复退款。
type TaskCleanupJob struct {
	taskService *service.TaskService
	cfg         *config.Config
	stopCh      chan struct{}
	interval    time.Duration
	batchSize   int
}

func NewTaskCleanupJob(taskService *service.TaskService, cfg *config.Config) *TaskCleanupJob {
	interval := time.Duration(cfg.Business.CleanupIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &TaskCleanupJob{
		taskService: taskService,
		cfg:         cfg,
		stopCh:      make(chan struct{}),
		interval:    interval,
		batchSize:   50,
	}
}

func (j *TaskCleanupJob) Start(ctx context.Context) {
	log.Println("[TaskCleanupJob] 超时任务清理启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[TaskCleanupJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[TaskCleanupJob] 任务停止")
			return
		case <-ticker.C:
			j.cleanupStuckTasks(ctx)
		}
	}
}

func (j *TaskCleanupJob) Stop() {
	close(j.stopCh)
}

func (j *TaskCleanupJob) cleanupStuckTasks(ctx context.Context) {
	tasks, err := j.taskService.GetStuckTasks(ctx, j.cfg.Business.TaskTimeout(), j.batchSize)
	if err != nil {
		log.Printf("[TaskCleanupJob] 查询超时任务失败: %v", err)
		return
	}

	if len(tasks) == 0 {
		return
	}

	log.Printf("[TaskCleanupJob] 发现 %d 个卡死任务", len(tasks))

	for _, task := range tasks {
		j.processStuckTask(ctx, task)
	}
}

func (j *TaskCleanupJob) processStuckTask(ctx context.Context, task *model.AnalysisTask) {
	// 站点上下文只在本任务的处理范围内生效
	taskCtx := tenant.WithSite(ctx, task.SiteID)

	// 判定超时前向上游最后确认一次，避免把已完成的任务退款
	refreshed, err := j.taskService.SyncTaskStatus(taskCtx, task.ID)
	if err != nil {
		log.Printf("[TaskCleanupJob] 同步任务状态失败: taskID=%d, err=%v", task.ID, err)
	}
	if refreshed != nil && refreshed.Status != model.TaskStatusProcessing {
		return
	}

	log.Printf("[TaskCleanupJob] 任务超时自动失败退款: taskID=%d, cost=%d", task.ID, task.Cost)
	j.taskService.SettleFailureAndRefund(taskCtx, task, "任务执行超时，系统自动退款")
}
