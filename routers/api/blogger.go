package api

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"AvatarStudio-server/models"
	"AvatarStudio-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 创建博主：POST /bloggers (multipart: name, type, tone_of_voice, voice_id, 可选 frontal_image)
func CreateBlogger(c *gin.Context) {
	name := c.PostForm("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	bloggerType := c.PostForm("type")
	if bloggerType == "" {
		bloggerType = "podcaster"
	}
	b := models.Blogger{
		ID:              uuid.NewString(),
		Name:            name,
		Type:            bloggerType,
		ToneOfVoice:     c.PostForm("tone_of_voice"),
		VoiceID:         c.PostForm("voice_id"),
		FrontalAvatarID: models.UnresolvedAvatar(),
		Locations:       models.LocationList{},
		IsActive:        true,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	if fileHeader, err := c.FormFile("frontal_image"); err == nil {
		url, err := uploadBloggerImage(c, b.ID, fileHeader)
		if err != nil {
			return
		}
		b.FrontalImageUrl = url
	}

	if err := Bloggers.Create(&b); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建博主失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, b)
}

// uploadBloggerImage 正面照上传，失败时已写入响应
func uploadBloggerImage(c *gin.Context, bloggerID string, fileHeader *multipart.FileHeader) (string, error) {
	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if ext != ".jpg" && ext != ".jpeg" && ext != ".png" && ext != ".webp" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported image type: " + ext})
		return "", fmt.Errorf("unsupported image type")
	}
	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return "", err
	}
	defer f.Close()

	objectName := fmt.Sprintf("bloggers/%s/frontal%s", bloggerID, ext)
	url, err := service.UploadToMinIO(f, objectName, fileHeader.Size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "上传正面照失败: " + err.Error()})
		return "", err
	}
	return url, nil
}

// 上传/替换正面照：POST /bloggers/:blogger_id/frontal-image (multipart: frontal_image)
// 换图后缓存的默认形象作废，下次生成时重新解析
func UploadFrontalImage(c *gin.Context) {
	b, err := Bloggers.Get(c.Param("blogger_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	fileHeader, err := c.FormFile("frontal_image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "frontal_image is required"})
		return
	}
	url, err := uploadBloggerImage(c, b.ID, fileHeader)
	if err != nil {
		return
	}
	b.FrontalImageUrl = url
	b.FrontalAvatarID = models.UnresolvedAvatar()
	if err := Bloggers.Save(b); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, b)
}

func ListBloggers(c *gin.Context) {
	bs, err := Bloggers.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bloggers": bs})
}

func GetBlogger(c *gin.Context) {
	b, err := Bloggers.Get(c.Param("blogger_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func UpdateBlogger(c *gin.Context) {
	b, err := Bloggers.Get(c.Param("blogger_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	var req struct {
		Name        *string `json:"name"`
		ToneOfVoice *string `json:"tone_of_voice"`
		VoiceID     *string `json:"voice_id"`
		IsActive    *bool   `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name != nil {
		b.Name = *req.Name
	}
	if req.ToneOfVoice != nil {
		b.ToneOfVoice = *req.ToneOfVoice
	}
	if req.VoiceID != nil {
		b.VoiceID = *req.VoiceID
	}
	if req.IsActive != nil {
		b.IsActive = *req.IsActive
	}
	if err := Bloggers.Save(b); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, b)
}

func DeleteBlogger(c *gin.Context) {
	if err := Bloggers.Delete(c.Param("blogger_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// 新增机位：POST /bloggers/:blogger_id/locations (multipart: image, name)
// 机位的数字人形象不在这里创建，首次生成数字人视频时懒加载解析
func AddLocation(c *gin.Context) {
	b, err := Bloggers.Get(c.Param("blogger_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image is required"})
		return
	}
	name := c.PostForm("name")
	if name == "" {
		name = fmt.Sprintf("Location %d", len(b.Locations)+1)
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if ext != ".jpg" && ext != ".jpeg" && ext != ".png" && ext != ".webp" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported image type: " + ext})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	locationID := uuid.NewString()
	objectName := fmt.Sprintf("bloggers/%s/locations/%s%s", b.ID, locationID, ext)
	url, err := service.UploadToMinIO(f, objectName, fileHeader.Size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "上传机位图失败: " + err.Error()})
		return
	}

	b.Locations = append(b.Locations, models.Location{
		ID:       locationID,
		Name:     name,
		ImageUrl: url,
		AvatarID: models.UnresolvedAvatar(),
	})
	if err := Bloggers.Save(b); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, b)
}

// 更新机位名称：PUT /bloggers/:blogger_id/locations/:location_id
func UpdateLocation(c *gin.Context) {
	b, err := Bloggers.Get(c.Param("blogger_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	idx := b.FindLocation(c.Param("location_id"))
	if idx < 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "location not found"})
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name != "" {
		b.Locations[idx].Name = req.Name
	}
	if err := Bloggers.Save(b); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, b)
}

// 删除机位
func DeleteLocation(c *gin.Context) {
	b, err := Bloggers.Get(c.Param("blogger_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	idx := b.FindLocation(c.Param("location_id"))
	if idx < 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "location not found"})
		return
	}
	b.Locations = append(b.Locations[:idx], b.Locations[idx+1:]...)
	if err := Bloggers.Save(b); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, b)
}
