package routers

import (
	"AvatarStudio-server/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter() *gin.Engine {
	r := gin.Default()
	v1 := r.Group("/v1/api")
	{
		v1.POST("/bloggers", api.CreateBlogger)
		v1.GET("/bloggers", api.ListBloggers)
		v1.GET("/bloggers/:blogger_id", api.GetBlogger)
		v1.PUT("/bloggers/:blogger_id", api.UpdateBlogger)
		v1.DELETE("/bloggers/:blogger_id", api.DeleteBlogger)
		v1.POST("/bloggers/:blogger_id/frontal-image", api.UploadFrontalImage)
		v1.POST("/bloggers/:blogger_id/locations", api.AddLocation)
		v1.PUT("/bloggers/:blogger_id/locations/:location_id", api.UpdateLocation)
		v1.DELETE("/bloggers/:blogger_id/locations/:location_id", api.DeleteLocation)

		v1.POST("/projects", api.CreateProject)
		v1.GET("/projects", api.ListProjects)
		v1.GET("/projects/:project_id", api.GetProject)
		v1.DELETE("/projects/:project_id", api.DeleteProject)

		// 流水线阶段操作，全部带乐观锁版本
		v1.POST("/projects/:project_id/location", api.ChooseLocation)
		v1.POST("/projects/:project_id/scenario", api.SetScenario)
		v1.POST("/projects/:project_id/voiceover", api.ExtractVoiceover)
		v1.POST("/projects/:project_id/audio", api.SynthesizeAudio)
		v1.POST("/projects/:project_id/materials", api.UploadMaterial)
		v1.DELETE("/projects/:project_id/materials/:material_id", api.DeleteMaterial)
		v1.POST("/projects/:project_id/materials/analyze", api.AnalyzeMaterials)
		v1.POST("/projects/:project_id/timeline", api.GenerateTimeline)
		v1.POST("/projects/:project_id/avatar-video", api.GenerateAvatarVideo)
		v1.POST("/projects/:project_id/final", api.ComposeFinal)

		v1.GET("/tasks/:task_id", api.GetTaskStatus)
	}
	r.GET("/tasks/:task_id/wss", api.TaskProgressWebSocket)
	return r
}
