package api

import (
	"net/http"
	"time"

	"AvatarStudio-server/models"
	"AvatarStudio-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 创建项目
func CreateProject(c *gin.Context) {
	var req struct {
		BloggerId string `json:"blogger_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.BloggerId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "blogger_id is required"})
		return
	}
	if _, err := Bloggers.Get(req.BloggerId); err != nil {
		writeError(c, err)
		return
	}

	project := models.Project{
		ID:        uuid.NewString(),
		BloggerId: req.BloggerId,
		Status:    models.ProjectStatusDraft,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := Projects.Create(&project); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建项目失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, projectView(&project))
}

// 项目列表
func ListProjects(c *gin.Context) {
	projects, err := Projects.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]gin.H, 0, len(projects))
	for i := range projects {
		views = append(views, projectView(&projects[i]))
	}
	c.JSON(http.StatusOK, gin.H{"projects": views})
}

// 获取项目详情
func GetProject(c *gin.Context) {
	project, err := Projects.Get(c.Param("project_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	tasks, err := models.ListTasksByProjectID(project.ID)
	if err != nil {
		tasks = nil
	}
	view := projectView(project)
	view["tasks"] = tasks
	c.JSON(http.StatusOK, view)
}

// 删除项目（素材与时间轴在聚合内，随项目级联删除）
func DeleteProject(c *gin.Context) {
	if err := Projects.Delete(c.Param("project_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// projectView 带派生阶段的项目视图。阶段永远按产物现算，不落库
func projectView(p *models.Project) gin.H {
	return gin.H{
		"project": p,
		"stage":   p.Stage().String(),
	}
}

type versionedReq struct {
	Version int64 `json:"version"`
}

// 选择机位：POST /projects/:project_id/location
func ChooseLocation(c *gin.Context) {
	var req struct {
		versionedReq
		LocationId string `json:"location_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := Pipe.ChooseLocation(c.Request.Context(), c.Param("project_id"), req.LocationId, req.Version)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, projectView(p))
}

// 写入拍摄脚本：POST /projects/:project_id/scenario
func SetScenario(c *gin.Context) {
	var req struct {
		versionedReq
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := Pipe.SetScenario(c.Request.Context(), c.Param("project_id"), req.Text, req.Version)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, projectView(p))
}

// 提取口播文案：POST /projects/:project_id/voiceover
func ExtractVoiceover(c *gin.Context) {
	var req versionedReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := Pipe.ExtractVoiceover(c.Request.Context(), c.Param("project_id"), req.Version)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, projectView(p))
}

// 合成配音：POST /projects/:project_id/audio
func SynthesizeAudio(c *gin.Context) {
	var req versionedReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := Pipe.SynthesizeAudio(c.Request.Context(), c.Param("project_id"), req.Version)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, projectView(p))
}

// 生成时间轴：POST /projects/:project_id/timeline
func GenerateTimeline(c *gin.Context) {
	var req versionedReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := Pipe.GenerateTimeline(c.Request.Context(), c.Param("project_id"), req.Version)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, projectView(p))
}

// 生成数字人视频：POST /projects/:project_id/avatar-video
func GenerateAvatarVideo(c *gin.Context) {
	var req struct {
		versionedReq
		Params models.AvatarParams `json:"params"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, task, err := Pipe.GenerateAvatarVideo(c.Request.Context(), c.Param("project_id"), req.Params, req.Version)
	if err != nil {
		writeError(c, err)
		return
	}
	view := projectView(p)
	view["task_id"] = task.ID
	c.JSON(http.StatusOK, view)
}

// 合成成片：POST /projects/:project_id/final
func ComposeFinal(c *gin.Context) {
	var req struct {
		versionedReq
		Subtitles bool `json:"subtitles"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := Pipe.ComposeFinal(c.Request.Context(), c.Param("project_id"),
		service.ComposeOptions{Subtitles: req.Subtitles}, req.Version)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, projectView(p))
}
