package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"AvatarStudio-server/models"
	"AvatarStudio-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 上传素材：POST /projects/:project_id/materials (multipart)
// 表单字段: file, version
func UploadMaterial(c *gin.Context) {
	projectID := c.Param("project_id")
	version, err := strconv.ParseInt(c.PostForm("version"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "version is required"})
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	kind := models.MaterialKindImage
	switch ext {
	case ".mp4", ".mov", ".webm":
		kind = models.MaterialKindVideo
	case ".jpg", ".jpeg", ".png", ".webp":
		kind = models.MaterialKindImage
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type: " + ext})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	materialID := uuid.NewString()
	objectName := fmt.Sprintf("projects/%s/materials/%s%s", projectID, materialID, ext)
	url, err := service.UploadToMinIO(f, objectName, fileHeader.Size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "上传素材失败: " + err.Error()})
		return
	}

	p, err := Pipe.AddMaterial(c.Request.Context(), projectID, models.Material{
		ID:   materialID,
		Url:  url,
		Kind: kind,
	}, version)
	if err != nil {
		writeError(c, err)
		return
	}
	view := projectView(p)
	view["material_id"] = materialID
	c.JSON(http.StatusOK, view)
}

// 删除素材：DELETE /projects/:project_id/materials/:material_id?version=N
func DeleteMaterial(c *gin.Context) {
	version, err := strconv.ParseInt(c.Query("version"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "version is required"})
		return
	}
	p, err := Pipe.RemoveMaterial(c.Request.Context(), c.Param("project_id"), c.Param("material_id"), version)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, projectView(p))
}

// 分析素材：POST /projects/:project_id/materials/analyze
func AnalyzeMaterials(c *gin.Context) {
	var req struct {
		Version int64 `json:"version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := Pipe.AnalyzeMaterials(c.Request.Context(), c.Param("project_id"), req.Version)
	if err != nil {
		// 部分成功时 p 非空：已完成的分析结果已经落库
		if p != nil {
			view := projectView(p)
			view["error"] = err.Error()
			view["retryable"] = service.IsRetryable(err)
			c.JSON(http.StatusBadGateway, view)
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, projectView(p))
}
