package api

import (
	"net/http"

	"AvatarStudio-server/service"

	"github.com/gin-gonic/gin"
)

// 包级依赖，main.go 初始化后注入
var (
	Pipe     *service.Pipeline
	Projects service.ProjectStore
	Bloggers service.BloggerStore
	Tasks    service.TaskStore
)

func Init(pipe *service.Pipeline, projects service.ProjectStore, bloggers service.BloggerStore, tasks service.TaskStore) {
	Pipe = pipe
	Projects = projects
	Bloggers = bloggers
	Tasks = tasks
}

// writeError 错误分类 -> HTTP 状态码
func writeError(c *gin.Context, err error) {
	switch {
	case service.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case service.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case service.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		// 外部服务错误；retryable 标记给前端决定要不要提示重试
		c.JSON(http.StatusBadGateway, gin.H{
			"error":     err.Error(),
			"retryable": service.IsRetryable(err),
		})
	}
}
