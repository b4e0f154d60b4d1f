package main

import (
	"fmt"
	"time"

	"AvatarStudio-server/config"
	"AvatarStudio-server/models"
	"AvatarStudio-server/routers"
	"AvatarStudio-server/routers/api"
	"AvatarStudio-server/service"
)

func main() {
	config.InitConfig()
	fmt.Println("Server starting on port", config.AppConfig.Server.Port)
	models.InitDB()
	fmt.Println("Database initialized")

	service.InitQueue()
	fmt.Println("Queue initialized")

	service.InitMinIO()
	fmt.Println("MinIO initialized")

	projects := &service.GormProjectStore{DB: models.GormDB}
	bloggers := &service.GormBloggerStore{DB: models.GormDB}
	tasks := &service.GormTaskStore{DB: models.GormDB}

	heygen := service.NewHeyGenClient()
	pipe := &service.Pipeline{
		Projects:  projects,
		Bloggers:  bloggers,
		Tasks:     tasks,
		Extractor: service.NewGPTClient(),
		Synth:     service.NewElevenLabsClient(),
		Analyzer:  service.NewGPTClient(),
		Avatar:    heygen,
		Resolver: &service.AvatarAssetResolver{
			API:        heygen,
			Bloggers:   bloggers,
			MotionType: config.AppConfig.HeyGen.MotionType,
		},
		Reconcile: service.NewTimelineReconciler(config.AppConfig.Pipeline.WindowSeconds),
		Composer: &service.ComposeOrchestrator{
			Composer: service.NewWorkerComposer(),
			Rehost:   service.DownloadAndUploadToMinIO,
		},
		Enqueue: service.EnqueueAvatarJob,
	}

	poller := &service.JobPoller{
		Poll:     heygen.PollJob,
		Interval: time.Duration(config.AppConfig.Pipeline.PollIntervalSeconds) * time.Second,
		Ceiling:  time.Duration(config.AppConfig.Pipeline.PollTimeoutMinutes) * time.Minute,
	}
	processor := service.NewProcessor(pipe, tasks, poller)
	processor.Start(5)

	api.Init(pipe, projects, bloggers, tasks)

	r := routers.InitRouter()
	r.Run(config.AppConfig.Server.Port)
}
