package service

import (
	"context"
	"errors"
	"testing"

	"AvatarStudio-server/models"
)

func TestSynthesizeAudioInvalidatesDownstream(t *testing.T) {
	pl, projects, bloggers, _, _, _ := newTestPipeline()
	seedBlogger(bloggers, true)
	p := seedProject(projects, "p1")
	p.VoiceoverText = "Hello world"
	p.AudioUrl = "http://old/audio.mp3"
	p.Timeline = models.Timeline{{StartTime: 0, EndTime: 10, MaterialRef: models.MaterialRefMissing}}
	p.AvatarVideoUrl = "http://old/avatar.mp4"
	p.FinalVideoUrl = "http://old/final.mp4"
	_ = projects.Save(p, 0)

	updated, err := pl.SynthesizeAudio(context.Background(), "p1", p.Version)
	if err != nil {
		t.Fatal(err)
	}
	if updated.AudioUrl != "http://minio/voiceover.mp3" {
		t.Fatalf("audio url = %q", updated.AudioUrl)
	}
	if updated.Timeline != nil && len(updated.Timeline) != 0 {
		t.Fatalf("timeline not cleared: %+v", updated.Timeline)
	}
	if updated.AvatarVideoUrl != "" || updated.FinalVideoUrl != "" {
		t.Fatalf("downstream artifacts not cleared: avatar=%q final=%q", updated.AvatarVideoUrl, updated.FinalVideoUrl)
	}
	if updated.Version != p.Version+1 {
		t.Fatalf("version = %d, want %d", updated.Version, p.Version+1)
	}
}

func TestSynthesizeAudioRequiresVoiceover(t *testing.T) {
	pl, projects, bloggers, _, _, _ := newTestPipeline()
	seedBlogger(bloggers, true)
	seedProject(projects, "p1")

	if _, err := pl.SynthesizeAudio(context.Background(), "p1", 0); !IsValidation(err) {
		t.Fatalf("got %v, want ValidationError", err)
	}
}

func TestStaleVersionRejected(t *testing.T) {
	pl, projects, bloggers, _, _, _ := newTestPipeline()
	seedBlogger(bloggers, true)
	seedProject(projects, "p1")

	if _, err := pl.SetScenario(context.Background(), "p1", "script", 7); !IsConflict(err) {
		t.Fatalf("got %v, want ConflictError", err)
	}
}

func TestRemoveMaterialMarksSegmentMissing(t *testing.T) {
	pl, projects, bloggers, _, _, _ := newTestPipeline()
	seedBlogger(bloggers, true)
	p := seedProject(projects, "p1")
	p.Materials = models.MaterialList{
		{ID: "m1", Url: "u1"},
		{ID: "m2", Url: "u2"},
	}
	p.Timeline = models.Timeline{
		{StartTime: 0, EndTime: 5, MaterialRef: "m1"},
		{StartTime: 5, EndTime: 10, MaterialRef: "m2"},
	}
	_ = projects.Save(p, 0)

	updated, err := pl.RemoveMaterial(context.Background(), "p1", "m1", p.Version)
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.Timeline) != 2 {
		t.Fatalf("timeline was reshaped: %+v", updated.Timeline)
	}
	if updated.Timeline[0].MaterialRef != models.MaterialRefMissing {
		t.Fatalf("segment 0 ref = %q, want MISSING", updated.Timeline[0].MaterialRef)
	}
	if updated.Timeline[1].MaterialRef != "m2" {
		t.Fatalf("segment 1 ref = %q, want m2 untouched", updated.Timeline[1].MaterialRef)
	}
	if len(updated.Materials) != 1 || updated.Materials[0].ID != "m2" {
		t.Fatalf("materials = %+v", updated.Materials)
	}
}

func TestRemoveMaterialNotFound(t *testing.T) {
	pl, projects, bloggers, _, _, _ := newTestPipeline()
	seedBlogger(bloggers, true)
	seedProject(projects, "p1")

	if _, err := pl.RemoveMaterial(context.Background(), "p1", "nope", 0); !IsNotFound(err) {
		t.Fatalf("got %v, want NotFoundError", err)
	}
}

func TestAnalyzeMaterialsGuardsPending(t *testing.T) {
	pl, projects, bloggers, _, _, _ := newTestPipeline()
	seedBlogger(bloggers, true)
	p := seedProject(projects, "p1")
	p.Materials = models.MaterialList{{ID: "m1", Url: "u1"}}
	p.AnalysisPending = true
	_ = projects.Save(p, 0)

	if _, err := pl.AnalyzeMaterials(context.Background(), "p1", p.Version); !IsValidation(err) {
		t.Fatalf("got %v, want ValidationError while analysis pending", err)
	}
}

func TestAnalyzeMaterialsFillsAnalysisText(t *testing.T) {
	pl, projects, bloggers, _, _, _ := newTestPipeline()
	pl.Analyzer = &fakeAnalyzer{texts: map[string]string{
		"u1": "Tokyo skyline",
		"u2": "old map",
	}}
	seedBlogger(bloggers, true)
	p := seedProject(projects, "p1")
	p.Materials = models.MaterialList{{ID: "m1", Url: "u1"}, {ID: "m2", Url: "u2"}}
	_ = projects.Save(p, 0)

	updated, err := pl.AnalyzeMaterials(context.Background(), "p1", p.Version)
	if err != nil {
		t.Fatal(err)
	}
	if updated.AnalysisPending {
		t.Fatal("analysis_pending not cleared")
	}
	if updated.Materials[0].AnalysisText != "Tokyo skyline" || updated.Materials[1].AnalysisText != "old map" {
		t.Fatalf("analysis not persisted: %+v", updated.Materials)
	}
}

func TestGenerateAvatarVideoResolvesLazilyInOrder(t *testing.T) {
	pl, projects, bloggers, tasks, avatar, _ := newTestPipeline()
	seedBlogger(bloggers, false) // 机位未解析
	p := seedProject(projects, "p1")
	p.LocationId = "loc-1"
	p.AudioUrl = "http://minio/voiceover.mp3"
	_ = projects.Save(p, 0)

	updated, task, err := pl.GenerateAvatarVideo(context.Background(), "p1", models.AvatarParams{"scale": 1.0}, p.Version)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"upload_asset", "create_group", "attach_motion", "submit_job"}
	if len(avatar.callLog) != len(want) {
		t.Fatalf("call log = %v, want %v", avatar.callLog, want)
	}
	for i := range want {
		if avatar.callLog[i] != want[i] {
			t.Fatalf("call log = %v, want %v", avatar.callLog, want)
		}
	}

	if updated.AvatarJobId != "job-1" {
		t.Fatalf("avatar job id = %q", updated.AvatarJobId)
	}
	if updated.AvatarVideoUrl != "" || updated.FinalVideoUrl != "" {
		t.Fatal("previous avatar/final artifacts must be cleared on regeneration")
	}
	if task.JobID != "job-1" || task.Status != models.TaskStatusPending {
		t.Fatalf("task = %+v", task)
	}
	if _, err := tasks.Get(task.ID); err != nil {
		t.Fatalf("task not persisted: %v", err)
	}

	// 形象 ID 在动作挂载成功后写回机位
	b, _ := bloggers.Get("blogger-1")
	if !b.Locations[0].AvatarID.Resolved() {
		t.Fatal("location avatar not persisted after successful resolution")
	}
}

func TestGenerateAvatarVideoMotionFailureLeavesUnresolved(t *testing.T) {
	pl, projects, bloggers, _, avatar, _ := newTestPipeline()
	avatar.failMotion = &ServiceError{Op: "attach_motion", Retryable: true, Err: errors.New("boom")}
	seedBlogger(bloggers, false)
	p := seedProject(projects, "p1")
	p.LocationId = "loc-1"
	p.AudioUrl = "http://minio/voiceover.mp3"
	_ = projects.Save(p, 0)

	if _, _, err := pl.GenerateAvatarVideo(context.Background(), "p1", nil, p.Version); err == nil {
		t.Fatal("want error")
	}

	b, _ := bloggers.Get("blogger-1")
	if b.Locations[0].AvatarID.Resolved() {
		t.Fatal("avatar must not be persisted when motion attachment fails")
	}
	cur, _ := projects.Get("p1")
	if cur.AvatarJobId != "" {
		t.Fatalf("job id must not be set on failed submission, got %q", cur.AvatarJobId)
	}
}

func TestApplyAvatarResultDiscardsStaleJob(t *testing.T) {
	pl, projects, bloggers, _, _, _ := newTestPipeline()
	seedBlogger(bloggers, true)
	p := seedProject(projects, "p1")
	p.AvatarJobId = "job-2" // 项目已经换了新 job
	_ = projects.Save(p, 0)

	applied, err := pl.ApplyAvatarResult("p1", "job-1", "http://stale/avatar.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Fatal("stale job result must be discarded")
	}
	cur, _ := projects.Get("p1")
	if cur.AvatarVideoUrl != "" {
		t.Fatalf("stale result overwrote avatar url: %q", cur.AvatarVideoUrl)
	}
}

func TestApplyAvatarResultAppliesCurrentJob(t *testing.T) {
	pl, projects, bloggers, _, _, _ := newTestPipeline()
	seedBlogger(bloggers, true)
	p := seedProject(projects, "p1")
	p.AvatarJobId = "job-1"
	_ = projects.Save(p, 0)

	applied, err := pl.ApplyAvatarResult("p1", "job-1", "http://minio/avatar.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Fatal("current job result must be applied")
	}
	cur, _ := projects.Get("p1")
	if cur.AvatarVideoUrl != "http://minio/avatar.mp4" {
		t.Fatalf("avatar url = %q", cur.AvatarVideoUrl)
	}
	if cur.AvatarJobId != "" {
		t.Fatalf("job id should be cleared after apply, got %q", cur.AvatarJobId)
	}
}

func TestComposeFinalFailureLeavesUpstreamIntact(t *testing.T) {
	pl, projects, bloggers, _, _, composer := newTestPipeline()
	composer.err = &ServiceError{Op: "compose", Retryable: true, Err: errors.New("render crashed")}
	seedBlogger(bloggers, true)
	p := seedProject(projects, "p1")
	p.AvatarVideoUrl = "http://minio/avatar.mp4"
	_ = projects.Save(p, 0)

	if _, err := pl.ComposeFinal(context.Background(), "p1", ComposeOptions{Subtitles: true}, p.Version); err == nil {
		t.Fatal("want compose error")
	}

	cur, _ := projects.Get("p1")
	if cur.AvatarVideoUrl != "http://minio/avatar.mp4" {
		t.Fatalf("avatar url changed: %q", cur.AvatarVideoUrl)
	}
	if cur.FinalVideoUrl != "" {
		t.Fatalf("final url set on failure: %q", cur.FinalVideoUrl)
	}
	if cur.Version != p.Version {
		t.Fatalf("version bumped on failed stage: %d", cur.Version)
	}
}

func TestComposeFinalSetsCompleted(t *testing.T) {
	pl, projects, bloggers, _, _, _ := newTestPipeline()
	seedBlogger(bloggers, true)
	p := seedProject(projects, "p1")
	p.AvatarVideoUrl = "http://minio/avatar.mp4"
	_ = projects.Save(p, 0)

	updated, err := pl.ComposeFinal(context.Background(), "p1", ComposeOptions{}, p.Version)
	if err != nil {
		t.Fatal(err)
	}
	if updated.FinalVideoUrl != "http://minio/final.mp4" {
		t.Fatalf("final url = %q", updated.FinalVideoUrl)
	}
	if updated.Status != models.ProjectStatusCompleted {
		t.Fatalf("status = %q, want completed", updated.Status)
	}
	if updated.Stage() != models.StageComposed {
		t.Fatalf("stage = %s, want composed", updated.Stage())
	}
}

func TestScenarioLockedAfterSynthesis(t *testing.T) {
	pl, projects, bloggers, _, _, _ := newTestPipeline()
	seedBlogger(bloggers, true)
	p := seedProject(projects, "p1")
	p.VoiceoverText = "text"
	p.AudioUrl = "http://minio/voiceover.mp3"
	_ = projects.Save(p, 0)

	if _, err := pl.SetScenario(context.Background(), "p1", "rewrite", p.Version); !IsValidation(err) {
		t.Fatalf("got %v, want ValidationError", err)
	}
}

// 端到端：脚本 -> 提取 -> 配音 -> 素材 -> 时间轴
func TestEndToEndTwoSegments(t *testing.T) {
	pl, projects, bloggers, _, _, _ := newTestPipeline()
	pl.Analyzer = &fakeAnalyzer{texts: map[string]string{
		"u1": "hello greeting opener",
		"u2": "world globe spinning",
	}}
	seedBlogger(bloggers, true)
	p := seedProject(projects, "p1")

	p, err := pl.SetScenario(context.Background(), "p1", "[host looks at camera] Hello world", p.Version)
	if err != nil {
		t.Fatal(err)
	}
	p, err = pl.ExtractVoiceover(context.Background(), "p1", p.Version)
	if err != nil {
		t.Fatal(err)
	}
	if p.VoiceoverText != "Hello world" {
		t.Fatalf("voiceover = %q", p.VoiceoverText)
	}
	p, err = pl.SynthesizeAudio(context.Background(), "p1", p.Version)
	if err != nil {
		t.Fatal(err)
	}
	if p.AudioAlignment.AudioDuration != 10.0 {
		t.Fatalf("duration = %f", p.AudioAlignment.AudioDuration)
	}

	p, err = pl.AddMaterial(context.Background(), "p1", models.Material{ID: "m1", Url: "u1", Kind: models.MaterialKindImage}, p.Version)
	if err != nil {
		t.Fatal(err)
	}
	p, err = pl.AddMaterial(context.Background(), "p1", models.Material{ID: "m2", Url: "u2", Kind: models.MaterialKindImage}, p.Version)
	if err != nil {
		t.Fatal(err)
	}
	p, err = pl.AnalyzeMaterials(context.Background(), "p1", p.Version)
	if err != nil {
		t.Fatal(err)
	}

	p, err = pl.GenerateTimeline(context.Background(), "p1", p.Version)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Timeline) != 2 {
		t.Fatalf("got %d segments, want 2: %+v", len(p.Timeline), p.Timeline)
	}
	if p.Timeline[0].StartTime != 0 || p.Timeline[0].EndTime != 5.0 {
		t.Fatalf("segment 0: [%f,%f], want [0,5]", p.Timeline[0].StartTime, p.Timeline[0].EndTime)
	}
	if p.Timeline[1].StartTime != 5.0 || p.Timeline[1].EndTime != 10.0 {
		t.Fatalf("segment 1: [%f,%f], want [5,10]", p.Timeline[1].StartTime, p.Timeline[1].EndTime)
	}
	for i, seg := range p.Timeline {
		if seg.MaterialRef != "m1" && seg.MaterialRef != "m2" && seg.MaterialRef != models.MaterialRefMissing {
			t.Fatalf("segment %d has dangling ref %q", i, seg.MaterialRef)
		}
	}
	if p.Stage() != models.StageTimelineReady {
		t.Fatalf("stage = %s, want timeline_ready", p.Stage())
	}
}

// 分析期间的并发修改不能把 analysis_pending 悬在 true 上
func TestAnalyzeMaterialsConcurrentEditClearsPending(t *testing.T) {
	pl, projects, bloggers, _, _, _ := newTestPipeline()
	seedBlogger(bloggers, true)
	p := seedProject(projects, "p1")
	p.Materials = models.MaterialList{{ID: "m1", Url: "u1"}}
	_ = projects.Save(p, 0)

	pl.Analyzer = &fakeAnalyzer{
		texts: map[string]string{"u1": "city street"},
		onAnalyze: func() {
			// 另一个客户端在分析进行中合法地改了项目
			cur, _ := projects.Get("p1")
			cur.ScenarioText = "edited while analyzing"
			_ = projects.Save(cur, cur.Version)
		},
	}

	updated, err := pl.AnalyzeMaterials(context.Background(), "p1", p.Version)
	if err != nil {
		t.Fatal(err)
	}
	if updated.AnalysisPending {
		t.Fatal("analysis_pending left hanging after concurrent edit")
	}
	if updated.ScenarioText != "edited while analyzing" {
		t.Fatalf("concurrent edit lost: %q", updated.ScenarioText)
	}
	if updated.Materials[0].AnalysisText != "city street" {
		t.Fatalf("analysis result lost: %+v", updated.Materials)
	}

	// 后续分析不能再被挡
	if _, err := pl.AnalyzeMaterials(context.Background(), "p1", updated.Version); err != nil {
		t.Fatalf("follow-up analysis rejected: %v", err)
	}
}

// 没选机位时回落到博主正面照的默认形象
func TestGenerateAvatarVideoDefaultsToFrontalImage(t *testing.T) {
	pl, projects, bloggers, _, avatar, _ := newTestPipeline()
	b := seedBlogger(bloggers, false)
	b.FrontalImageUrl = "http://minio/frontal.jpg"
	_ = bloggers.Save(b)
	p := seedProject(projects, "p1")
	p.AudioUrl = "http://minio/voiceover.mp3" // LocationId 留空
	_ = projects.Save(p, 0)

	updated, _, err := pl.GenerateAvatarVideo(context.Background(), "p1", nil, p.Version)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"upload_asset", "create_group", "attach_motion", "submit_job"}
	for i := range want {
		if i >= len(avatar.callLog) || avatar.callLog[i] != want[i] {
			t.Fatalf("call log = %v, want %v", avatar.callLog, want)
		}
	}
	if updated.AvatarJobId != "job-1" {
		t.Fatalf("avatar job id = %q", updated.AvatarJobId)
	}

	stored, _ := bloggers.Get("blogger-1")
	if !stored.FrontalAvatarID.Resolved() {
		t.Fatal("default avatar not cached on blogger")
	}

	// 第二次生成复用缓存的默认形象，只提交 job
	avatar.callLog = nil
	if _, _, err := pl.GenerateAvatarVideo(context.Background(), "p1", nil, updated.Version); err != nil {
		t.Fatal(err)
	}
	if len(avatar.callLog) != 1 || avatar.callLog[0] != "submit_job" {
		t.Fatalf("cached default avatar re-resolved: %v", avatar.callLog)
	}
}

// 既没选机位也没有正面照，按校验错误拒绝
func TestGenerateAvatarVideoNoLocationNoFrontalImage(t *testing.T) {
	pl, projects, bloggers, _, _, _ := newTestPipeline()
	seedBlogger(bloggers, false)
	p := seedProject(projects, "p1")
	p.AudioUrl = "http://minio/voiceover.mp3"
	_ = projects.Save(p, 0)

	if _, _, err := pl.GenerateAvatarVideo(context.Background(), "p1", nil, p.Version); !IsValidation(err) {
		t.Fatalf("got %v, want ValidationError", err)
	}
}
