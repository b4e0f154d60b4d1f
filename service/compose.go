package service

import (
	"context"
	"fmt"
	"log"

	"AvatarStudio-server/models"
)

// ComposeOrchestrator 成片合成的纯组合步骤：数字人视频 + 时间轴 + 素材。
// 失败不触碰任何上游产物。
type ComposeOrchestrator struct {
	Composer VideoComposer
	// Rehost 把 worker 返回的成片转存到自己的对象存储；为空则直接用 worker 地址
	Rehost func(sourceURL, objectName string) (string, error)
}

func (o *ComposeOrchestrator) Compose(ctx context.Context, p *models.Project, opts ComposeOptions) (string, error) {
	if p.AvatarVideoUrl == "" {
		return "", &ValidationError{Reason: "avatar video is missing"}
	}
	finalUrl, err := o.Composer.Compose(ctx, p.AvatarVideoUrl, p.Timeline, p.Materials, opts)
	if err != nil {
		return "", err
	}
	if o.Rehost != nil {
		objectName := fmt.Sprintf("projects/%s/final.mp4", p.ID)
		hosted, err := o.Rehost(finalUrl, objectName)
		if err != nil {
			// 转存失败不算合成失败，先用 worker 的地址
			log.Printf("成片转存失败，使用 worker 地址: %v", err)
			return finalUrl, nil
		}
		return hosted, nil
	}
	return finalUrl, nil
}
