package service

import (
	"context"
	"fmt"
	"log"

	"AvatarStudio-server/models"
)

// AvatarAssetResolver 数字人形象的懒加载解析。
// 核心不变量：已有形象的机位/博主绝不会再创建第二个 avatar group。
type AvatarAssetResolver struct {
	API        AvatarAPI
	Bloggers   BloggerStore
	MotionType string
}

// Resolve 返回机位的数字人形象 ID。
// 已解析的机位直接返回缓存值，零网络调用。
// 未解析时依次执行：上传机位图 -> 创建 avatar group -> 挂载动作引擎，
// 三步全部成功后才把形象 ID 写回机位；中途任何一步失败，机位保持未解析，
// 下次调用从上传重新来过（幂等重建，半成品 group 不会被引用）。
func (r *AvatarAssetResolver) Resolve(ctx context.Context, bloggerID string, loc *models.Location) (string, error) {
	if loc.AvatarID.Resolved() {
		return loc.AvatarID.ID(), nil
	}
	if loc.ImageUrl == "" {
		return "", &ValidationError{Reason: "location has no image"}
	}

	avatarID, err := r.buildAvatar(ctx, fmt.Sprintf("location-%s", loc.ID), loc.ImageUrl)
	if err != nil {
		return "", err
	}
	if err := r.Bloggers.SaveLocationAvatar(bloggerID, loc.ID, models.ResolvedAvatar(avatarID)); err != nil {
		return "", err
	}
	loc.AvatarID = models.ResolvedAvatar(avatarID)
	return avatarID, nil
}

// ResolveDefault 项目没选机位时用博主正面照解析默认形象。
// 缓存与失败语义同机位路径。
func (r *AvatarAssetResolver) ResolveDefault(ctx context.Context, b *models.Blogger) (string, error) {
	if b.FrontalAvatarID.Resolved() {
		return b.FrontalAvatarID.ID(), nil
	}
	if b.FrontalImageUrl == "" {
		return "", &ValidationError{Reason: "blogger has no frontal image"}
	}

	avatarID, err := r.buildAvatar(ctx, fmt.Sprintf("blogger-%s", b.ID), b.FrontalImageUrl)
	if err != nil {
		return "", err
	}
	if err := r.Bloggers.SaveBloggerAvatar(b.ID, models.ResolvedAvatar(avatarID)); err != nil {
		return "", err
	}
	b.FrontalAvatarID = models.ResolvedAvatar(avatarID)
	return avatarID, nil
}

func (r *AvatarAssetResolver) buildAvatar(ctx context.Context, groupName, imageUrl string) (string, error) {
	imageKey, err := r.API.UploadAsset(ctx, imageUrl)
	if err != nil {
		return "", err
	}

	avatarID, groupID, err := r.API.CreateAvatarGroup(ctx, groupName, imageKey)
	if err != nil {
		// 已上传的资产无主，外部服务侧资产廉价无状态，不做回收
		return "", err
	}
	log.Printf("Avatar group created: group=%s avatar=%s", groupID, avatarID)

	if err := r.API.AttachMotion(ctx, avatarID, r.MotionType); err != nil {
		// 动作挂载失败不落库：形象保持未解析，整个流程下次重试
		return "", err
	}
	return avatarID, nil
}
