package service

import (
	"errors"
	"time"

	"AvatarStudio-server/models"

	"gorm.io/gorm"
)

// ProjectStore Project 聚合的读写口。Save 带乐观锁版本校验。
type ProjectStore interface {
	Get(id string) (*models.Project, error)
	Create(p *models.Project) error
	// Save 以 expectedVersion 做条件更新；版本过期返回 ConflictError。
	// 成功后 p.Version = expectedVersion + 1。
	Save(p *models.Project, expectedVersion int64) error
	Delete(id string) error
	List() ([]models.Project, error)
}

type BloggerStore interface {
	Get(id string) (*models.Blogger, error)
	Create(b *models.Blogger) error
	Save(b *models.Blogger) error
	Delete(id string) error
	List() ([]models.Blogger, error)
	// SaveLocationAvatar 把解析出的形象 ID 写回机位
	SaveLocationAvatar(bloggerID, locationID string, ref models.AvatarRef) error
	// SaveBloggerAvatar 把正面照解析出的默认形象 ID 写回博主
	SaveBloggerAvatar(bloggerID string, ref models.AvatarRef) error
}

type TaskStore interface {
	Create(t *models.Task) error
	Get(id string) (*models.Task, error)
	UpdateStatus(id, status, resultUrl, errMsg string) error
	// UpdateProgress 轮询期间的粗粒度进度（0-100）
	UpdateProgress(id string, progress int) error
}

// ---- GORM 实现 ----

type GormProjectStore struct {
	DB *gorm.DB
}

func (s *GormProjectStore) Get(id string) (*models.Project, error) {
	var p models.Project
	if err := s.DB.First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "project", ID: id}
		}
		return nil, err
	}
	return &p, nil
}

func (s *GormProjectStore) Create(p *models.Project) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	return s.DB.Create(p).Error
}

func (s *GormProjectStore) Save(p *models.Project, expectedVersion int64) error {
	p.Version = expectedVersion + 1
	p.UpdatedAt = time.Now()
	res := s.DB.Model(&models.Project{}).
		Where("id = ? AND version = ?", p.ID, expectedVersion).
		Select("*").Omit("id", "created_at").
		Updates(p)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var cur models.Project
		if err := s.DB.First(&cur, "id = ?", p.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Resource: "project", ID: p.ID}
			}
			return err
		}
		return &ConflictError{Expected: expectedVersion, Actual: cur.Version}
	}
	return nil
}

func (s *GormProjectStore) Delete(id string) error {
	// 素材与时间轴随聚合一起存在 JSON 列里，删除项目即级联
	if err := s.DB.Delete(&models.Project{}, "id = ?", id).Error; err != nil {
		return err
	}
	return s.DB.Delete(&models.Task{}, "project_id = ?", id).Error
}

func (s *GormProjectStore) List() ([]models.Project, error) {
	var ps []models.Project
	err := s.DB.Order("updated_at DESC").Find(&ps).Error
	return ps, err
}

type GormBloggerStore struct {
	DB *gorm.DB
}

func (s *GormBloggerStore) Get(id string) (*models.Blogger, error) {
	var b models.Blogger
	if err := s.DB.First(&b, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "blogger", ID: id}
		}
		return nil, err
	}
	return &b, nil
}

func (s *GormBloggerStore) Create(b *models.Blogger) error {
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now
	return s.DB.Create(b).Error
}

func (s *GormBloggerStore) Save(b *models.Blogger) error {
	b.UpdatedAt = time.Now()
	return s.DB.Save(b).Error
}

func (s *GormBloggerStore) Delete(id string) error {
	return s.DB.Delete(&models.Blogger{}, "id = ?", id).Error
}

func (s *GormBloggerStore) List() ([]models.Blogger, error) {
	var bs []models.Blogger
	err := s.DB.Order("created_at DESC").Find(&bs).Error
	return bs, err
}

func (s *GormBloggerStore) SaveLocationAvatar(bloggerID, locationID string, ref models.AvatarRef) error {
	b, err := s.Get(bloggerID)
	if err != nil {
		return err
	}
	idx := b.FindLocation(locationID)
	if idx < 0 {
		return &NotFoundError{Resource: "location", ID: locationID}
	}
	b.Locations[idx].AvatarID = ref
	return s.Save(b)
}

func (s *GormBloggerStore) SaveBloggerAvatar(bloggerID string, ref models.AvatarRef) error {
	b, err := s.Get(bloggerID)
	if err != nil {
		return err
	}
	b.FrontalAvatarID = ref
	return s.Save(b)
}

type GormTaskStore struct {
	DB *gorm.DB
}

func (s *GormTaskStore) Create(t *models.Task) error {
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	return s.DB.Create(t).Error
}

func (s *GormTaskStore) Get(id string) (*models.Task, error) {
	t, err := models.GetTaskByIDGorm(s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "task", ID: id}
		}
		return nil, err
	}
	return t, nil
}

func (s *GormTaskStore) UpdateStatus(id, status, resultUrl, errMsg string) error {
	t := models.Task{ID: id}
	return t.UpdateStatus(s.DB, status, resultUrl, errMsg)
}

func (s *GormTaskStore) UpdateProgress(id string, progress int) error {
	return s.DB.Model(&models.Task{ID: id}).Updates(map[string]interface{}{
		"progress":   progress,
		"updated_at": time.Now(),
	}).Error
}
