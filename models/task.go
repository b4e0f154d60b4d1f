package models

import (
	"time"

	"gorm.io/gorm"
)

// 任务状态（在系统中统一使用这些状态）
const (
	// pending: 任务已就绪，等待执行器取走执行
	TaskStatusPending = "pending"
	// processing: 任务正在执行中（轮询外部 job）
	TaskStatusProcessing = "processing"
	TaskStatusSuccess    = "finished"
	TaskStatusFailed     = "failed"
	// cancelled: 任务被取代或取消（例如重新生成数字人视频后，旧的轮询任务作废）
	TaskStatusCancelled = "cancelled"

	// 核心任务类型
	TaskTypeAvatarVideo = "generate_avatar_video" // 数字人口播视频（异步 job 轮询）
)

// Task 一次长耗时生成任务的跟踪记录。
// JobID 是外部服务返回的 job 标识，轮询和去陈旧判断都以它为准。
type Task struct {
	ID        string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId string `gorm:"type:varchar(64)" json:"projectId"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Message   string `json:"message"`

	JobID     string `gorm:"column:job_id;type:varchar(128)" json:"jobId"`
	ResultUrl string `gorm:"type:varchar(512)" json:"resultUrl"`
	Error     string `json:"error"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (Task) TableName() string {
	return "task"
}

func (t *Task) UpdateStatus(db *gorm.DB, status string, resultUrl string, errMsg string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if resultUrl != "" {
		updates["result_url"] = resultUrl
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	if status == TaskStatusProcessing {
		updates["started_at"] = time.Now()
	}
	if status == TaskStatusSuccess {
		updates["progress"] = 100
	}
	if status == TaskStatusSuccess || status == TaskStatusFailed || status == TaskStatusCancelled {
		updates["finished_at"] = time.Now()
	}
	return db.Model(t).Updates(updates).Error
}

func GetTaskByIDGorm(db *gorm.DB, taskID string) (*Task, error) {
	var task Task
	if err := db.First(&task, "id = ?", taskID).Error; err != nil {
		return nil, err
	}
	return &task, nil
}
