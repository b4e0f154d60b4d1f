package service

import (
	"context"
	"encoding/json"
	"sync"

	"AvatarStudio-server/models"
)

// ---- 内存实现的存储，只在测试里用 ----

type memProjectStore struct {
	mu       sync.Mutex
	projects map[string]*models.Project
}

func newMemProjectStore() *memProjectStore {
	return &memProjectStore{projects: map[string]*models.Project{}}
}

func cloneProject(p *models.Project) *models.Project {
	b, _ := json.Marshal(p)
	var out models.Project
	_ = json.Unmarshal(b, &out)
	return &out
}

func (s *memProjectStore) Get(id string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, &NotFoundError{Resource: "project", ID: id}
	}
	return cloneProject(p), nil
}

func (s *memProjectStore) Create(p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = cloneProject(p)
	return nil
}

func (s *memProjectStore) Save(p *models.Project, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.projects[p.ID]
	if !ok {
		return &NotFoundError{Resource: "project", ID: p.ID}
	}
	if cur.Version != expectedVersion {
		return &ConflictError{Expected: expectedVersion, Actual: cur.Version}
	}
	p.Version = expectedVersion + 1
	s.projects[p.ID] = cloneProject(p)
	return nil
}

func (s *memProjectStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, id)
	return nil
}

func (s *memProjectStore) List() ([]models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Project
	for _, p := range s.projects {
		out = append(out, *cloneProject(p))
	}
	return out, nil
}

type memBloggerStore struct {
	mu       sync.Mutex
	bloggers map[string]*models.Blogger
}

func newMemBloggerStore() *memBloggerStore {
	return &memBloggerStore{bloggers: map[string]*models.Blogger{}}
}

func cloneBlogger(b *models.Blogger) *models.Blogger {
	data, _ := json.Marshal(b)
	var out models.Blogger
	_ = json.Unmarshal(data, &out)
	return &out
}

func (s *memBloggerStore) Get(id string) (*models.Blogger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bloggers[id]
	if !ok {
		return nil, &NotFoundError{Resource: "blogger", ID: id}
	}
	return cloneBlogger(b), nil
}

func (s *memBloggerStore) Create(b *models.Blogger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bloggers[b.ID] = cloneBlogger(b)
	return nil
}

func (s *memBloggerStore) Save(b *models.Blogger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bloggers[b.ID] = cloneBlogger(b)
	return nil
}

func (s *memBloggerStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bloggers, id)
	return nil
}

func (s *memBloggerStore) List() ([]models.Blogger, error) {
	return nil, nil
}

func (s *memBloggerStore) SaveLocationAvatar(bloggerID, locationID string, ref models.AvatarRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bloggers[bloggerID]
	if !ok {
		return &NotFoundError{Resource: "blogger", ID: bloggerID}
	}
	idx := b.FindLocation(locationID)
	if idx < 0 {
		return &NotFoundError{Resource: "location", ID: locationID}
	}
	b.Locations[idx].AvatarID = ref
	return nil
}

func (s *memBloggerStore) SaveBloggerAvatar(bloggerID string, ref models.AvatarRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bloggers[bloggerID]
	if !ok {
		return &NotFoundError{Resource: "blogger", ID: bloggerID}
	}
	b.FrontalAvatarID = ref
	return nil
}

type memTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{tasks: map[string]*models.Task{}}
}

func (s *memTaskStore) Create(t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *memTaskStore) Get(id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, &NotFoundError{Resource: "task", ID: id}
	}
	cp := *t
	return &cp, nil
}

func (s *memTaskStore) UpdateStatus(id, status, resultUrl, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return &NotFoundError{Resource: "task", ID: id}
	}
	t.Status = status
	if resultUrl != "" {
		t.ResultUrl = resultUrl
	}
	if errMsg != "" {
		t.Error = errMsg
	}
	if status == models.TaskStatusSuccess {
		t.Progress = 100
	}
	return nil
}

func (s *memTaskStore) UpdateProgress(id string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return &NotFoundError{Resource: "task", ID: id}
	}
	t.Progress = progress
	return nil
}

// ---- 外部服务假实现 ----

type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) ExtractVoiceover(ctx context.Context, scenario string) (string, error) {
	return f.text, f.err
}

type fakeSynth struct {
	url       string
	alignment *models.AudioAlignment
	err       error
	calls     int
}

func (f *fakeSynth) Synthesize(ctx context.Context, projectID, text, voiceID string) (string, *models.AudioAlignment, error) {
	f.calls++
	if f.err != nil {
		return "", nil, f.err
	}
	return f.url, f.alignment, nil
}

type fakeAnalyzer struct {
	texts map[string]string // materialUrl -> analysis
	err   error
	// onAnalyze 分析期间触发，用于模拟并发修改
	onAnalyze func()
}

func (f *fakeAnalyzer) AnalyzeMaterial(ctx context.Context, materialUrl string) (string, error) {
	if f.onAnalyze != nil {
		f.onAnalyze()
	}
	if f.err != nil {
		return "", f.err
	}
	if t, ok := f.texts[materialUrl]; ok {
		return t, nil
	}
	return "generic footage", nil
}

type fakeAvatarAPI struct {
	callLog []string

	imageKey   string
	avatarID   string
	jobID      string
	failUpload error
	failGroup  error
	failMotion error
	failSubmit error

	pollStatus *JobStatus
	pollErr    error
}

func (f *fakeAvatarAPI) UploadAsset(ctx context.Context, imageUrl string) (string, error) {
	f.callLog = append(f.callLog, "upload_asset")
	if f.failUpload != nil {
		return "", f.failUpload
	}
	if f.imageKey == "" {
		return "image-key", nil
	}
	return f.imageKey, nil
}

func (f *fakeAvatarAPI) CreateAvatarGroup(ctx context.Context, name, imageKey string) (string, string, error) {
	f.callLog = append(f.callLog, "create_group")
	if f.failGroup != nil {
		return "", "", f.failGroup
	}
	id := f.avatarID
	if id == "" {
		id = "avatar-1"
	}
	return id, id, nil
}

func (f *fakeAvatarAPI) AttachMotion(ctx context.Context, avatarID, motionType string) error {
	f.callLog = append(f.callLog, "attach_motion")
	return f.failMotion
}

func (f *fakeAvatarAPI) SubmitVideoJob(ctx context.Context, avatarID, audioUrl string, params models.AvatarParams) (string, error) {
	f.callLog = append(f.callLog, "submit_job")
	if f.failSubmit != nil {
		return "", f.failSubmit
	}
	if f.jobID == "" {
		return "job-1", nil
	}
	return f.jobID, nil
}

func (f *fakeAvatarAPI) PollJob(ctx context.Context, jobID string) (*JobStatus, error) {
	f.callLog = append(f.callLog, "poll_job")
	return f.pollStatus, f.pollErr
}

type fakeComposer struct {
	url   string
	err   error
	calls int
}

func (f *fakeComposer) Compose(ctx context.Context, avatarVideoUrl string, timeline models.Timeline, materials models.MaterialList, opts ComposeOptions) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

// alignmentFor 按均匀节奏给文本造一份逐字符对齐数据
func alignmentFor(text string, duration float64) *models.AudioAlignment {
	runes := []rune(text)
	n := len(runes)
	a := &models.AudioAlignment{AudioDuration: duration}
	for i, r := range runes {
		a.Characters = append(a.Characters, string(r))
		a.CharStartTimes = append(a.CharStartTimes, duration*float64(i)/float64(n))
		a.CharEndTimes = append(a.CharEndTimes, duration*float64(i+1)/float64(n))
	}
	return a
}

// newTestPipeline 组装一条全假依赖的流水线
func newTestPipeline() (*Pipeline, *memProjectStore, *memBloggerStore, *memTaskStore, *fakeAvatarAPI, *fakeComposer) {
	projects := newMemProjectStore()
	bloggers := newMemBloggerStore()
	tasks := newMemTaskStore()
	avatar := &fakeAvatarAPI{}
	composer := &fakeComposer{url: "http://minio/final.mp4"}
	pl := &Pipeline{
		Projects:  projects,
		Bloggers:  bloggers,
		Tasks:     tasks,
		Extractor: &fakeExtractor{text: "Hello world"},
		Synth: &fakeSynth{
			url:       "http://minio/voiceover.mp3",
			alignment: alignmentFor("Hello world", 10.0),
		},
		Analyzer: &fakeAnalyzer{texts: map[string]string{}},
		Avatar:   avatar,
		Resolver: &AvatarAssetResolver{
			API:        avatar,
			Bloggers:   bloggers,
			MotionType: "veo2",
		},
		Reconcile: NewTimelineReconciler(5.0),
		Composer:  &ComposeOrchestrator{Composer: composer},
		Enqueue:   func(taskID string) error { return nil },
	}
	return pl, projects, bloggers, tasks, avatar, composer
}

func seedBlogger(bloggers *memBloggerStore, resolved bool) *models.Blogger {
	ref := models.UnresolvedAvatar()
	if resolved {
		ref = models.ResolvedAvatar("avatar-cached")
	}
	b := &models.Blogger{
		ID:      "blogger-1",
		Name:    "Alex",
		VoiceID: "voice-1",
		Locations: models.LocationList{
			{ID: "loc-1", Name: "Studio", ImageUrl: "http://minio/loc.jpg", AvatarID: ref},
		},
	}
	_ = bloggers.Create(b)
	return b
}

func seedProject(projects *memProjectStore, id string) *models.Project {
	p := &models.Project{
		ID:        id,
		BloggerId: "blogger-1",
		Status:    models.ProjectStatusDraft,
	}
	_ = projects.Create(p)
	return p
}
