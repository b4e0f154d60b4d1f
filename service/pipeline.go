package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"AvatarStudio-server/models"

	"github.com/google/uuid"
)

// Pipeline 生产流水线的状态机。所有阶段操作都走这里：
// 校验前置条件 -> 调外部生成服务 -> 写回聚合并应用失效规则。
// 每次变更都带乐观锁版本校验，并发修改直接返回 ConflictError。
type Pipeline struct {
	Projects ProjectStore
	Bloggers BloggerStore
	Tasks    TaskStore

	Extractor TextExtractor
	Synth     AudioSynthesizer
	Analyzer  MaterialAnalyzer
	Avatar    AvatarAPI
	Resolver  *AvatarAssetResolver
	Reconcile *TimelineReconciler
	Composer  *ComposeOrchestrator

	// Enqueue 数字人任务入队钩子（生产环境为 asynq，测试里替换为同步假实现）
	Enqueue func(taskID string) error
}

func (pl *Pipeline) load(projectID string, expectedVersion int64) (*models.Project, error) {
	p, err := pl.Projects.Get(projectID)
	if err != nil {
		return nil, err
	}
	if p.Version != expectedVersion {
		return nil, &ConflictError{Expected: expectedVersion, Actual: p.Version}
	}
	return p, nil
}

func (pl *Pipeline) save(p *models.Project, expectedVersion int64) (*models.Project, error) {
	if p.Status == models.ProjectStatusDraft && p.Stage() > models.StageDraft {
		p.Status = models.ProjectStatusInProgress
	}
	if err := pl.Projects.Save(p, expectedVersion); err != nil {
		return nil, err
	}
	return p, nil
}

// ChooseLocation 选择拍摄机位。仅 Draft/LocationChosen 阶段可改。
func (pl *Pipeline) ChooseLocation(ctx context.Context, projectID, locationID string, expectedVersion int64) (*models.Project, error) {
	p, err := pl.load(projectID, expectedVersion)
	if err != nil {
		return nil, err
	}
	if p.Stage() > models.StageLocationChosen {
		return nil, &ValidationError{Reason: "location is fixed once the script is extracted"}
	}
	b, err := pl.Bloggers.Get(p.BloggerId)
	if err != nil {
		return nil, err
	}
	if b.FindLocation(locationID) < 0 {
		return nil, &NotFoundError{Resource: "location", ID: locationID}
	}
	p.LocationId = locationID
	return pl.save(p, expectedVersion)
}

// SetScenario 写入拍摄脚本。音频合成之后脚本不可再改。
func (pl *Pipeline) SetScenario(ctx context.Context, projectID, text string, expectedVersion int64) (*models.Project, error) {
	p, err := pl.load(projectID, expectedVersion)
	if err != nil {
		return nil, err
	}
	if p.Stage() > models.StageScriptReady {
		return nil, &ValidationError{Reason: "scenario is locked after audio synthesis"}
	}
	if text == "" {
		return nil, &ValidationError{Reason: "scenario text is empty"}
	}
	p.ScenarioText = text
	return pl.save(p, expectedVersion)
}

// ExtractVoiceover 从脚本提取口播文案。重跑全量替换。
func (pl *Pipeline) ExtractVoiceover(ctx context.Context, projectID string, expectedVersion int64) (*models.Project, error) {
	p, err := pl.load(projectID, expectedVersion)
	if err != nil {
		return nil, err
	}
	if p.ScenarioText == "" {
		return nil, &ValidationError{Reason: "scenario text is required before extraction"}
	}
	text, err := pl.Extractor.ExtractVoiceover(ctx, p.ScenarioText)
	if err != nil {
		return nil, err
	}
	p.VoiceoverText = text
	return pl.save(p, expectedVersion)
}

// SynthesizeAudio 合成配音。成功后下游产物全部失效：
// 时间轴、数字人视频、成片都基于旧音频，一并清空。
func (pl *Pipeline) SynthesizeAudio(ctx context.Context, projectID string, expectedVersion int64) (*models.Project, error) {
	p, err := pl.load(projectID, expectedVersion)
	if err != nil {
		return nil, err
	}
	if p.VoiceoverText == "" {
		return nil, &ValidationError{Reason: "voiceover text is required before synthesis"}
	}
	b, err := pl.Bloggers.Get(p.BloggerId)
	if err != nil {
		return nil, err
	}
	audioUrl, alignment, err := pl.Synth.Synthesize(ctx, p.ID, p.VoiceoverText, b.VoiceID)
	if err != nil {
		return nil, err
	}
	p.AudioUrl = audioUrl
	p.AudioAlignment = *alignment
	// 失效级联
	p.Timeline = nil
	p.AvatarVideoUrl = ""
	p.FinalVideoUrl = ""
	if p.Status == models.ProjectStatusCompleted {
		p.Status = models.ProjectStatusInProgress
	}
	return pl.save(p, expectedVersion)
}

// AddMaterial 追加素材。成片合成之前都可以上传。
func (pl *Pipeline) AddMaterial(ctx context.Context, projectID string, m models.Material, expectedVersion int64) (*models.Project, error) {
	p, err := pl.load(projectID, expectedVersion)
	if err != nil {
		return nil, err
	}
	if p.Stage() >= models.StageComposed {
		return nil, &ValidationError{Reason: "materials are frozen after final composition"}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	p.Materials = append(p.Materials, m)
	return pl.save(p, expectedVersion)
}

// RemoveMaterial 删除素材。引用它的时间轴片段置 MISSING，
// 时间轴整体保留，不整表清空。
func (pl *Pipeline) RemoveMaterial(ctx context.Context, projectID, materialID string, expectedVersion int64) (*models.Project, error) {
	p, err := pl.load(projectID, expectedVersion)
	if err != nil {
		return nil, err
	}
	idx := p.FindMaterial(materialID)
	if idx < 0 {
		return nil, &NotFoundError{Resource: "material", ID: materialID}
	}
	p.Materials = append(p.Materials[:idx], p.Materials[idx+1:]...)
	for i := range p.Timeline {
		if p.Timeline[i].MaterialRef == materialID {
			p.Timeline[i].MaterialRef = models.MaterialRefMissing
			p.Timeline[i].Rationale = "material removed"
		}
	}
	return pl.save(p, expectedVersion)
}

// AnalyzeMaterials 逐个分析还没有分析文本的素材。
// analysis_pending 落在聚合上，并发客户端和页面刷新都能看到一致状态。
func (pl *Pipeline) AnalyzeMaterials(ctx context.Context, projectID string, expectedVersion int64) (*models.Project, error) {
	p, err := pl.load(projectID, expectedVersion)
	if err != nil {
		return nil, err
	}
	if len(p.Materials) == 0 {
		return nil, &ValidationError{Reason: "no materials to analyze"}
	}
	if p.AnalysisPending {
		return nil, &ValidationError{Reason: "analysis is already running"}
	}

	p.AnalysisPending = true
	if _, err := pl.save(p, expectedVersion); err != nil {
		return nil, err
	}
	pendingVersion := p.Version

	var analyzeErr error
	for i := range p.Materials {
		if p.Materials[i].AnalysisText != "" {
			continue
		}
		text, err := pl.Analyzer.AnalyzeMaterial(ctx, p.Materials[i].Url)
		if err != nil {
			analyzeErr = err
			break
		}
		p.Materials[i].AnalysisText = text
	}

	// 已完成的分析结果保留；每个素材的分析文本是独立产物
	p.AnalysisPending = false
	saved, saveErr := pl.save(p, pendingVersion)
	if saveErr != nil {
		if !IsConflict(saveErr) {
			return nil, saveErr
		}
		// 分析期间有并发修改落库；pending 标志不能悬住，
		// 重读后把分析结果并回仍存在的素材再清掉标志
		saved, saveErr = pl.finishAnalysis(projectID, p.Materials)
		if saveErr != nil {
			return nil, saveErr
		}
	}
	if analyzeErr != nil {
		return saved, analyzeErr
	}
	return saved, nil
}

func (pl *Pipeline) finishAnalysis(projectID string, analyzed models.MaterialList) (*models.Project, error) {
	for attempt := 0; attempt < 3; attempt++ {
		p, err := pl.Projects.Get(projectID)
		if err != nil {
			return nil, err
		}
		for i := range p.Materials {
			if p.Materials[i].AnalysisText != "" {
				continue
			}
			for _, m := range analyzed {
				if m.ID == p.Materials[i].ID && m.AnalysisText != "" {
					p.Materials[i].AnalysisText = m.AnalysisText
				}
			}
		}
		p.AnalysisPending = false
		if _, err := pl.save(p, p.Version); err != nil {
			if IsConflict(err) {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return nil, err
		}
		return p, nil
	}
	return nil, &ConflictError{}
}

// GenerateTimeline 重算时间轴，整表替换，绝不合并
func (pl *Pipeline) GenerateTimeline(ctx context.Context, projectID string, expectedVersion int64) (*models.Project, error) {
	p, err := pl.load(projectID, expectedVersion)
	if err != nil {
		return nil, err
	}
	if p.AudioAlignment.Empty() {
		return nil, &ValidationError{Reason: "audio alignment is required before timeline generation"}
	}
	timeline, err := pl.Reconcile.Reconcile(p.VoiceoverText, &p.AudioAlignment, p.Materials)
	if err != nil {
		return nil, err
	}
	p.Timeline = timeline
	return pl.save(p, expectedVersion)
}

// GenerateAvatarVideo 解析机位形象并提交数字人生成 job。
// 旧的 job id 被新的取代（陈旧结果会被静默丢弃），旧轮询被取消；
// 旧的数字人视频和成片立刻失效。
func (pl *Pipeline) GenerateAvatarVideo(ctx context.Context, projectID string, params models.AvatarParams, expectedVersion int64) (*models.Project, *models.Task, error) {
	p, err := pl.load(projectID, expectedVersion)
	if err != nil {
		return nil, nil, err
	}
	if p.AudioUrl == "" {
		return nil, nil, &ValidationError{Reason: "audio is required before avatar generation"}
	}
	b, err := pl.Bloggers.Get(p.BloggerId)
	if err != nil {
		return nil, nil, err
	}

	// 未选机位回落到博主正面照的默认形象
	var avatarID string
	if p.LocationId == "" {
		avatarID, err = pl.Resolver.ResolveDefault(ctx, b)
	} else {
		locIdx := b.FindLocation(p.LocationId)
		if locIdx < 0 {
			return nil, nil, &NotFoundError{Resource: "location", ID: p.LocationId}
		}
		avatarID, err = pl.Resolver.Resolve(ctx, b.ID, &b.Locations[locIdx])
	}
	if err != nil {
		return nil, nil, err
	}

	jobID, err := pl.Avatar.SubmitVideoJob(ctx, avatarID, p.AudioUrl, params)
	if err != nil {
		// 提交失败不留半截状态：job id 不落库
		return nil, nil, err
	}

	oldJobID := p.AvatarJobId
	p.AvatarJobId = jobID
	p.AvatarVideoUrl = ""
	p.FinalVideoUrl = ""
	p.AvatarGenerationParams = params
	if p.Status == models.ProjectStatusCompleted {
		p.Status = models.ProjectStatusInProgress
	}
	if _, err := pl.save(p, expectedVersion); err != nil {
		// 版本冲突时提交出去的 job 不再可观测，由外部服务自行跑完
		return nil, nil, err
	}
	if oldJobID != "" {
		if CancelJobPolling(oldJobID) {
			log.Printf("旧 job %s 的轮询已取消（被 %s 取代）", oldJobID, jobID)
		}
	}

	task := &models.Task{
		ID:        uuid.NewString(),
		ProjectId: p.ID,
		Type:      models.TaskTypeAvatarVideo,
		Status:    models.TaskStatusPending,
		Message:   "数字人视频生成中...",
		JobID:     jobID,
	}
	if err := pl.Tasks.Create(task); err != nil {
		return nil, nil, err
	}
	if err := pl.Enqueue(task.ID); err != nil {
		_ = pl.Tasks.UpdateStatus(task.ID, models.TaskStatusFailed, "", fmt.Sprintf("enqueue failed: %v", err))
		return nil, nil, &ServiceError{Op: "enqueue_avatar_job", Retryable: true, Err: err}
	}
	return p, task, nil
}

// ApplyAvatarResult 轮询拿到完成结果后写回项目。
// 只有 job id 仍等于项目当前 avatar_job_id 时才生效，
// 陈旧 job 的结果静默丢弃，绝不覆盖更新的状态。
// 返回值标记结果是否被采用。
func (pl *Pipeline) ApplyAvatarResult(projectID, jobID, videoUrl string) (bool, error) {
	// 内部写回与用户操作并发，版本冲突时重读再试
	for attempt := 0; attempt < 3; attempt++ {
		p, err := pl.Projects.Get(projectID)
		if err != nil {
			return false, err
		}
		if p.AvatarJobId != jobID {
			log.Printf("丢弃陈旧 job 结果: job=%s 当前=%s", jobID, p.AvatarJobId)
			return false, nil
		}
		p.AvatarVideoUrl = videoUrl
		p.AvatarJobId = ""
		if _, err := pl.save(p, p.Version); err != nil {
			if IsConflict(err) {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return false, err
		}
		return true, nil
	}
	return false, &ConflictError{}
}

// ComposeFinal 合成成片。失败时上游产物原样保留，用户可以直接重试；
// 重跑只替换 final_video_url。
func (pl *Pipeline) ComposeFinal(ctx context.Context, projectID string, opts ComposeOptions, expectedVersion int64) (*models.Project, error) {
	p, err := pl.load(projectID, expectedVersion)
	if err != nil {
		return nil, err
	}
	if p.AvatarVideoUrl == "" {
		return nil, &ValidationError{Reason: "avatar video is required before final composition"}
	}
	finalUrl, err := pl.Composer.Compose(ctx, p, opts)
	if err != nil {
		return nil, err
	}
	p.FinalVideoUrl = finalUrl
	p.Status = models.ProjectStatusCompleted
	return pl.save(p, expectedVersion)
}
