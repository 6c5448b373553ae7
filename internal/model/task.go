package model

import (
	"time"
)

const (
	TaskStatusProcessing = 0 // 已扣费，等待外部结果
	TaskStatusSuccess    = 1 // 终态：成功
	TaskStatusFailed     = 2 // 终态：失败，已退款
)

const (
	TaskTypeGeneration = "generation"
	TaskTypeImage      = "image"
	TaskTypeVideo      = "video"
)

// AnalysisTask 分析/生成任务表
// 任务行与 CONSUME 扣费流水在同一事务中创建；
// 成功/失败迁移都是 WHERE status=0 的条件更新，保证恰好结算一次
type AnalysisTask struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         int64     `gorm:"index;not null" json:"user_id"`
	Type           string    `gorm:"type:varchar(16);not null" json:"type"`
	Content        string    `gorm:"type:text" json:"content"` // 输入内容（提示词/图片地址）
	Model          string    `gorm:"type:varchar(64)" json:"model"`
	Status         int       `gorm:"index;not null;default:0" json:"status"`
	UpstreamTaskID string    `gorm:"type:varchar(128)" json:"upstream_task_id"` // 上游异步任务ID，流式任务为空
	Cost           int64     `gorm:"not null" json:"cost"`                      // 创建时预扣的算力
	Result         string    `gorm:"type:text" json:"result"`
	ErrorMsg       string    `gorm:"type:varchar(512)" json:"error_msg"`
	SiteID         int64     `gorm:"index;not null;default:0" json:"site_id"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AnalysisTask) TableName() string {
	return "analysis_task"
}
