package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// unresolvedAvatarID HeyGen 形象未创建时存储的占位值（历史数据兼容）
const unresolvedAvatarID = "00000"

// AvatarRef 机位的数字人形象标识。
// 用显式的 Unresolved/Resolved 两态代替魔法字符串 "00000"，
// 序列化时仍写回 "00000" 以兼容既有数据。
type AvatarRef struct {
	id string
}

func UnresolvedAvatar() AvatarRef {
	return AvatarRef{}
}

func ResolvedAvatar(id string) AvatarRef {
	if id == "" || id == unresolvedAvatarID {
		return AvatarRef{}
	}
	return AvatarRef{id: id}
}

func (r AvatarRef) Resolved() bool {
	return r.id != ""
}

// ID 已解析的形象 ID；未解析时返回空串
func (r AvatarRef) ID() string {
	return r.id
}

func (r AvatarRef) MarshalJSON() ([]byte, error) {
	if !r.Resolved() {
		return json.Marshal(unresolvedAvatarID)
	}
	return json.Marshal(r.id)
}

func (r *AvatarRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*r = ResolvedAvatar(s)
	return nil
}

// 独立 varchar 列（博主默认形象）也走同一套占位值约定

func (r AvatarRef) Value() (driver.Value, error) {
	if !r.Resolved() {
		return unresolvedAvatarID, nil
	}
	return r.id, nil
}

func (r *AvatarRef) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*r = AvatarRef{}
	case []byte:
		*r = ResolvedAvatar(string(v))
	case string:
		*r = ResolvedAvatar(v)
	default:
		return errors.New(fmt.Sprint("Failed to scan avatar ref:", value))
	}
	return nil
}

// Location 博主的一个拍摄机位（形象图 + 懒加载的数字人 ID）
type Location struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	ImageUrl string    `json:"image_url"`
	AvatarID AvatarRef `json:"heygen_avatar_id"`
}

type LocationList []Location

func (l LocationList) Value() (driver.Value, error) {
	if l == nil {
		l = LocationList{}
	}
	return json.Marshal(l)
}

func (l *LocationList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

type Blogger struct {
	ID   string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // podcaster, youtuber, ...

	FrontalImageUrl string `gorm:"type:varchar(512)" json:"frontalImageUrl"`
	// 未选机位的项目用正面照解析出的默认形象，与机位形象同样懒加载
	FrontalAvatarID AvatarRef `gorm:"column:frontal_avatar_id;type:varchar(128)" json:"frontalAvatarId"`
	ToneOfVoice     string    `gorm:"type:text" json:"toneOfVoice"`
	// ElevenLabs voice id
	VoiceID string `gorm:"column:voice_id;type:varchar(128)" json:"voiceId"`

	Locations LocationList `gorm:"type:json" json:"locations"`

	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Blogger) TableName() string {
	return "blogger"
}

// FindLocation 按 ID 查找机位，找不到返回 -1
func (b *Blogger) FindLocation(id string) int {
	for i, loc := range b.Locations {
		if loc.ID == id {
			return i
		}
	}
	return -1
}
