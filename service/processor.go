package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"AvatarStudio-server/config"
	"AvatarStudio-server/models"

	"github.com/hibiken/asynq"
)

// Processor 消费数字人生成任务：轮询外部 job，完成后转存并写回项目
type Processor struct {
	Pipeline *Pipeline
	Tasks    TaskStore
	Poller   *JobPoller
	// Rehost 数字人视频转存；为空则直接用外部服务的地址
	Rehost func(sourceURL, objectName string) (string, error)
}

func NewProcessor(pl *Pipeline, tasks TaskStore, poller *JobPoller) *Processor {
	return &Processor{
		Pipeline: pl,
		Tasks:    tasks,
		Poller:   poller,
		Rehost:   DownloadAndUploadToMinIO,
	}
}

// Start 启动任务消费者
func (p *Processor) Start(concurrency int) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     config.AppConfig.Redis.Addr,
			Password: config.AppConfig.Redis.Password,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeAvatarJob, p.HandleAvatarJob)

	log.Printf("Starting Task Processor with concurrency %d...", concurrency)
	go func() {
		if err := srv.Run(mux); err != nil {
			log.Fatalf("could not run server: %v", err)
		}
	}()
}

// HandleAvatarJob 轮询一个数字人生成 job 直到终态
func (p *Processor) HandleAvatarJob(ctx context.Context, t *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	task, err := p.Tasks.Get(payload.TaskID)
	if err != nil {
		return fmt.Errorf("task not found: %v", err)
	}
	log.Printf("Processing Task: %s | Job: %s", task.ID, task.JobID)

	if err := p.Tasks.UpdateStatus(task.ID, models.TaskStatusProcessing, "", ""); err != nil {
		log.Printf("UpdateStatus processing failed: %v", err)
	}

	// 以 job id 为键注册可取消的轮询上下文；
	// 新的生成请求取代本 job 时，旧轮询从这里被取消
	pollCtx, cancel := context.WithCancel(ctx)
	RegisterJobCancel(task.JobID, cancel)
	defer UnregisterJobCancel(task.JobID)

	// 每个任务自己的进度回调，共享的 Poller 配置按值复制
	poller := *p.Poller
	poller.OnProgress = func(pct int) {
		_ = p.Tasks.UpdateProgress(task.ID, pct)
	}

	st, err := poller.Wait(pollCtx, task.JobID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("轮询被取消（job %s 被取代）", task.JobID)
			_ = p.Tasks.UpdateStatus(task.ID, models.TaskStatusCancelled, "", "superseded by a newer generation")
			return nil
		}
		log.Printf("轮询失败: %v", err)
		_ = p.Tasks.UpdateStatus(task.ID, models.TaskStatusFailed, "", err.Error())
		return nil
	}
	if st.State == JobError {
		// 配额类失败重试无意义，错误信息里直接告知
		reason := st.Reason
		if !st.Retryable {
			reason += " (not retryable)"
		}
		log.Printf("外部服务报告失败: %s", reason)
		_ = p.Tasks.UpdateStatus(task.ID, models.TaskStatusFailed, "", reason)
		return nil
	}

	videoUrl := st.ResultUrl
	if p.Rehost != nil {
		objectName := fmt.Sprintf("projects/%s/avatar.mp4", task.ProjectId)
		if hosted, err := p.Rehost(videoUrl, objectName); err == nil {
			videoUrl = hosted
		} else {
			log.Printf("数字人视频转存失败，使用外部地址: %v", err)
		}
	}

	applied, err := p.Pipeline.ApplyAvatarResult(task.ProjectId, task.JobID, videoUrl)
	if err != nil {
		log.Printf("写回数字人视频失败: %v", err)
		_ = p.Tasks.UpdateStatus(task.ID, models.TaskStatusFailed, "", err.Error())
		return nil
	}
	if !applied {
		// 项目上的 job id 已经换了新值，本结果作废
		_ = p.Tasks.UpdateStatus(task.ID, models.TaskStatusCancelled, "", "stale job result discarded")
		return nil
	}

	_ = p.Tasks.UpdateStatus(task.ID, models.TaskStatusSuccess, videoUrl, "")
	log.Printf("Task %s completed successfully", task.ID)
	return nil
}
