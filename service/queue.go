package service

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"AvatarStudio-server/config"

	"github.com/hibiken/asynq"
)

const (
	TypeAvatarJob = "avatar:generate"
)

type TaskPayload struct {
	TaskID string `json:"task_id"`
}

var QueueClient *asynq.Client

// InitQueue 初始化
func InitQueue() {
	QueueClient = asynq.NewClient(asynq.RedisClientOpt{
		Addr:     config.AppConfig.Redis.Addr,
		Password: config.AppConfig.Redis.Password,
	})
}

// EnqueueAvatarJob 数字人生成任务入队，由 Processor 消费并轮询外部 job
func EnqueueAvatarJob(taskID string) error {
	payload, err := json.Marshal(TaskPayload{TaskID: taskID})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(TypeAvatarJob, payload,
		asynq.MaxRetry(0),             // 轮询任务失败不自动重试，由用户重新触发生成
		asynq.Timeout(40*time.Minute), // 留出轮询上限 + 转存时间
		asynq.Retention(24*time.Hour), // 任务结果在 Redis 保留时间
	)

	info, err := QueueClient.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	log.Printf("[Queue] Task Enqueued: ID=%s, TaskID=%s", info.ID, taskID)
	return nil
}
