package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"AvatarStudio-server/config"
	"AvatarStudio-server/models"
)

// WorkerComposer 调用 ffmpeg 渲染 worker 做最终合成。
// 合成是同步接口：worker 渲染完成后直接返回成片地址。
type WorkerComposer struct {
	Endpoint string
	HTTP     *http.Client
}

func NewWorkerComposer() *WorkerComposer {
	return &WorkerComposer{
		Endpoint: config.AppConfig.Worker.Addr,
		HTTP:     &http.Client{Timeout: 30 * time.Minute},
	}
}

func (c *WorkerComposer) Compose(ctx context.Context, avatarVideoUrl string, timeline models.Timeline, materials models.MaterialList, opts ComposeOptions) (string, error) {
	reqBody := map[string]interface{}{
		"avatar_video_url": avatarVideoUrl,
		"timeline":         timeline,
		"materials":        materials,
		"options":          opts,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/v1/compose", bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", &ServiceError{Op: "compose", Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &ServiceError{Op: "compose", Retryable: resp.StatusCode >= 500,
			Err: fmt.Errorf("worker status code: %d", resp.StatusCode)}
	}

	var respData struct {
		VideoUrl string `json:"video_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", &ServiceError{Op: "compose", Retryable: true,
			Err: fmt.Errorf("decode response failed: %w", err)}
	}
	if respData.VideoUrl == "" {
		return "", &ServiceError{Op: "compose", Retryable: false,
			Err: fmt.Errorf("response missing video_url")}
	}
	return respData.VideoUrl, nil
}
