package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// 项目状态常量（用于在业务层统一描述项目进度）
const (
	ProjectStatusDraft      = "draft"       // 项目已创建，还没有任何生成产物
	ProjectStatusInProgress = "in_progress" // 至少一个阶段已执行
	ProjectStatusCompleted  = "completed"   // 成片已合成，可播放/导出
)

// MaterialRefMissing 时间轴片段没有匹配到素材时的占位值
const MaterialRefMissing = "MISSING"

const (
	MaterialKindImage = "image"
	MaterialKindVideo = "video"
)

type Project struct {
	ID         string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	BloggerId  string `gorm:"type:varchar(64)" json:"bloggerId"`
	LocationId string `gorm:"type:varchar(64)" json:"locationId"` // 空串 = 使用博主默认形象

	Status string `json:"status"`

	// 第 1-2 步：文案
	ScenarioText  string `gorm:"type:text" json:"scenarioText"`
	VoiceoverText string `gorm:"type:text" json:"voiceoverText"`

	// 第 3 步：配音
	AudioUrl       string         `gorm:"type:varchar(512)" json:"audioUrl"`
	AudioAlignment AudioAlignment `gorm:"type:json" json:"audioAlignment"`

	// 第 4 步：素材
	Materials       MaterialList `gorm:"type:json" json:"materials"`
	AnalysisPending bool         `json:"analysisPending"`

	// 第 5 步：时间轴
	Timeline Timeline `gorm:"type:json" json:"timeline"`

	// 第 6 步：数字人视频
	AvatarVideoUrl         string       `gorm:"type:varchar(512)" json:"avatarVideoUrl"`
	AvatarJobId            string       `gorm:"type:varchar(128)" json:"avatarJobId"`
	AvatarGenerationParams AvatarParams `gorm:"type:json" json:"avatarGenerationParams"`

	// 第 7 步：成片
	FinalVideoUrl string `gorm:"type:varchar(512)" json:"finalVideoUrl"`

	// 乐观锁版本号，所有变更操作都会自增
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Project) TableName() string {
	return "project"
}

// AudioAlignment ElevenLabs 返回的逐字符时间戳
type AudioAlignment struct {
	Characters     []string  `json:"characters"`
	CharStartTimes []float64 `json:"character_start_times_seconds"`
	CharEndTimes   []float64 `json:"character_end_times_seconds"`
	AudioDuration  float64   `json:"audio_duration"`
}

func (a AudioAlignment) Empty() bool {
	return a.AudioDuration <= 0
}

type Material struct {
	ID           string `json:"id"`
	Url          string `json:"url"`
	Kind         string `json:"kind"` // image | video
	AnalysisText string `json:"analysis_text,omitempty"`
}

// MaterialList 按上传顺序排列
type MaterialList []Material

type TimelineSegment struct {
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	TextSnippet string  `json:"text_snippet"`
	Rationale   string  `json:"rationale"`
	MaterialRef string  `json:"material_id"` // 素材 ID 或 MISSING
}

type Timeline []TimelineSegment

type AvatarParams map[string]interface{}

// ---- JSON 列的 driver.Valuer / sql.Scanner 实现 ----

func (a AudioAlignment) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *AudioAlignment) Scan(value interface{}) error {
	return scanJSON(value, a)
}

func (m MaterialList) Value() (driver.Value, error) {
	if m == nil {
		m = MaterialList{}
	}
	return json.Marshal(m)
}

func (m *MaterialList) Scan(value interface{}) error {
	return scanJSON(value, m)
}

func (t Timeline) Value() (driver.Value, error) {
	if t == nil {
		t = Timeline{}
	}
	return json.Marshal(t)
}

func (t *Timeline) Scan(value interface{}) error {
	return scanJSON(value, t)
}

func (p AvatarParams) Value() (driver.Value, error) {
	if p == nil {
		p = AvatarParams{}
	}
	return json.Marshal(p)
}

func (p *AvatarParams) Scan(value interface{}) error {
	return scanJSON(value, p)
}

func scanJSON(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	if len(bytes) == 0 {
		return nil
	}
	return json.Unmarshal(bytes, dest)
}

// ---- 派生阶段 ----

// Stage 根据产物是否存在推导出的流水线阶段，不落库，避免与真实产物漂移
type Stage int

const (
	StageDraft Stage = iota
	StageLocationChosen
	StageScriptReady
	StageAudioReady
	StageMaterialsAnalyzed
	StageTimelineReady
	StageAvatarReady
	StageComposed
)

var stageNames = []string{
	"draft",
	"location_chosen",
	"script_ready",
	"audio_ready",
	"materials_analyzed",
	"timeline_ready",
	"avatar_ready",
	"composed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// Stage 派生当前阶段（只看产物，不看落库的 status 字段）
func (p *Project) Stage() Stage {
	switch {
	case p.FinalVideoUrl != "":
		return StageComposed
	case p.AvatarVideoUrl != "":
		return StageAvatarReady
	case len(p.Timeline) > 0:
		return StageTimelineReady
	case p.AudioUrl != "" && p.materialsAnalyzed():
		return StageMaterialsAnalyzed
	case p.AudioUrl != "":
		return StageAudioReady
	case p.VoiceoverText != "":
		return StageScriptReady
	case p.LocationId != "":
		return StageLocationChosen
	default:
		return StageDraft
	}
}

func (p *Project) materialsAnalyzed() bool {
	if len(p.Materials) == 0 {
		return false
	}
	for _, m := range p.Materials {
		if m.AnalysisText == "" {
			return false
		}
	}
	return true
}

// FindMaterial 按 ID 查找素材，返回下标；找不到返回 -1
func (p *Project) FindMaterial(id string) int {
	for i, m := range p.Materials {
		if m.ID == id {
			return i
		}
	}
	return -1
}
