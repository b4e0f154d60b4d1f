package service

import (
	"context"

	"AvatarStudio-server/models"
)

// 外部生成服务的契约。全部按黑盒处理：可能慢、可能失败，核心不自动重试。

type TextExtractor interface {
	// ExtractVoiceover 从拍摄脚本中提取口播文案
	ExtractVoiceover(ctx context.Context, scenario string) (string, error)
}

type AudioSynthesizer interface {
	// Synthesize 文案 -> 配音，返回音频地址和逐字符对齐数据
	Synthesize(ctx context.Context, projectID, text, voiceID string) (string, *models.AudioAlignment, error)
}

type MaterialAnalyzer interface {
	// AnalyzeMaterial 视觉分析一个素材，返回描述文本
	AnalyzeMaterial(ctx context.Context, materialUrl string) (string, error)
}

// AvatarAPI 数字人服务（HeyGen photo avatar）
type AvatarAPI interface {
	UploadAsset(ctx context.Context, imageUrl string) (string, error)
	CreateAvatarGroup(ctx context.Context, name, imageKey string) (avatarID, groupID string, err error)
	AttachMotion(ctx context.Context, avatarID, motionType string) error
	SubmitVideoJob(ctx context.Context, avatarID, audioUrl string, params models.AvatarParams) (string, error)
	PollJob(ctx context.Context, jobID string) (*JobStatus, error)
}

type ComposeOptions struct {
	Subtitles bool `json:"subtitles"`
}

type VideoComposer interface {
	// Compose 数字人视频 + 时间轴 + 素材 -> 成片
	Compose(ctx context.Context, avatarVideoUrl string, timeline models.Timeline, materials models.MaterialList, opts ComposeOptions) (string, error)
}

// JobState 异步 job 的状态
type JobState string

const (
	JobPending   JobState = "pending"
	JobCompleted JobState = "completed"
	JobError     JobState = "error"
)

type JobStatus struct {
	State     JobState
	ResultUrl string
	Reason    string
	Retryable bool
}

func (s *JobStatus) Terminal() bool {
	return s.State == JobCompleted || s.State == JobError
}
