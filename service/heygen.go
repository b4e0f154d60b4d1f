package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"AvatarStudio-server/config"
	"AvatarStudio-server/models"
)

// HeyGenClient photo avatar 数字人服务客户端
type HeyGenClient struct {
	APIKey        string
	BaseURL       string
	UploadBaseURL string
	HTTP          *http.Client
}

func NewHeyGenClient() *HeyGenClient {
	cfg := config.AppConfig.HeyGen
	uploadBase := cfg.UploadBaseURL
	if uploadBase == "" {
		uploadBase = "https://upload.heygen.com"
	}
	return &HeyGenClient{
		APIKey:        cfg.APIKey,
		BaseURL:       cfg.BaseURL,
		UploadBaseURL: uploadBase,
		HTTP:          &http.Client{Timeout: 120 * time.Second},
	}
}

// UploadAsset 把机位图转存到 HeyGen 资产库，返回 image_key
func (c *HeyGenClient) UploadAsset(ctx context.Context, imageUrl string) (string, error) {
	srcReq, err := http.NewRequestWithContext(ctx, http.MethodGet, imageUrl, nil)
	if err != nil {
		return "", err
	}
	srcResp, err := c.HTTP.Do(srcReq)
	if err != nil {
		return "", &ServiceError{Op: "upload_asset", Retryable: true, Err: err}
	}
	defer srcResp.Body.Close()
	if srcResp.StatusCode != http.StatusOK {
		return "", &ServiceError{Op: "upload_asset", Retryable: true,
			Err: fmt.Errorf("download image status: %d", srcResp.StatusCode)}
	}
	imageBytes, err := io.ReadAll(srcResp.Body)
	if err != nil {
		return "", &ServiceError{Op: "upload_asset", Retryable: true, Err: err}
	}

	contentType := srcResp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.UploadBaseURL+"/v1/asset", bytes.NewReader(imageBytes))
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Api-Key", c.APIKey)
	req.Header.Set("Content-Type", contentType)

	var respData struct {
		Data struct {
			ImageKey string `json:"image_key"`
		} `json:"data"`
	}
	if err := c.do(req, &respData); err != nil {
		return "", &ServiceError{Op: "upload_asset", Retryable: true, Err: err}
	}
	if respData.Data.ImageKey == "" {
		return "", &ServiceError{Op: "upload_asset", Retryable: false,
			Err: fmt.Errorf("response missing image_key")}
	}
	return respData.Data.ImageKey, nil
}

func (c *HeyGenClient) CreateAvatarGroup(ctx context.Context, name, imageKey string) (string, string, error) {
	body := map[string]interface{}{
		"name":      name,
		"image_key": imageKey,
	}
	var respData struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
		Error *heygenError `json:"error"`
	}
	if err := c.post(ctx, "/v2/photo_avatar/avatar_group/create", body, &respData); err != nil {
		return "", "", &ServiceError{Op: "create_avatar_group", Retryable: true, Err: err}
	}
	if respData.Error != nil {
		return "", "", &ServiceError{Op: "create_avatar_group", Retryable: respData.Error.retryable(),
			Err: fmt.Errorf("heygen: %s", respData.Error.Message)}
	}
	if respData.Data.ID == "" {
		return "", "", &ServiceError{Op: "create_avatar_group", Retryable: false,
			Err: fmt.Errorf("response missing group id")}
	}
	// HeyGen 的 group id 同时就是 avatar id
	return respData.Data.ID, respData.Data.ID, nil
}

func (c *HeyGenClient) AttachMotion(ctx context.Context, avatarID, motionType string) error {
	if motionType == "" {
		motionType = "veo2"
	}
	body := map[string]interface{}{
		"id":          avatarID,
		"motion_type": motionType,
	}
	var respData struct {
		Error *heygenError `json:"error"`
	}
	if err := c.post(ctx, "/v2/photo_avatar/add_motion", body, &respData); err != nil {
		return &ServiceError{Op: "attach_motion", Retryable: true, Err: err}
	}
	if respData.Error != nil {
		return &ServiceError{Op: "attach_motion", Retryable: respData.Error.retryable(),
			Err: fmt.Errorf("heygen: %s", respData.Error.Message)}
	}
	return nil
}

func (c *HeyGenClient) SubmitVideoJob(ctx context.Context, avatarID, audioUrl string, params models.AvatarParams) (string, error) {
	character := map[string]interface{}{
		"type":             "talking_photo",
		"talking_photo_id": avatarID,
	}
	for k, v := range params {
		character[k] = v
	}
	body := map[string]interface{}{
		"video_inputs": []map[string]interface{}{
			{
				"character": character,
				"voice": map[string]interface{}{
					"type":      "audio",
					"audio_url": audioUrl,
				},
			},
		},
	}
	var respData struct {
		Data struct {
			VideoID string `json:"video_id"`
		} `json:"data"`
		Error *heygenError `json:"error"`
	}
	if err := c.post(ctx, "/v2/video/generate", body, &respData); err != nil {
		return "", &ServiceError{Op: "submit_avatar_job", Retryable: true, Err: err}
	}
	if respData.Error != nil {
		return "", &ServiceError{Op: "submit_avatar_job", Retryable: respData.Error.retryable(),
			Err: fmt.Errorf("heygen: %s", respData.Error.Message)}
	}
	if respData.Data.VideoID == "" {
		return "", &ServiceError{Op: "submit_avatar_job", Retryable: false,
			Err: fmt.Errorf("response missing video_id")}
	}
	return respData.Data.VideoID, nil
}

func (c *HeyGenClient) PollJob(ctx context.Context, jobID string) (*JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/video_status.get?video_id=%s", c.BaseURL, jobID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.APIKey)

	var respData struct {
		Data struct {
			Status   string `json:"status"`
			VideoURL string `json:"video_url"`
			Error    *struct {
				Message string `json:"message"`
			} `json:"error"`
		} `json:"data"`
	}
	if err := c.do(req, &respData); err != nil {
		return nil, &ServiceError{Op: "poll_job", Retryable: true, Err: err}
	}

	switch respData.Data.Status {
	case "completed":
		return &JobStatus{State: JobCompleted, ResultUrl: respData.Data.VideoURL}, nil
	case "failed", "error":
		reason := "generation failed"
		if respData.Data.Error != nil {
			reason = respData.Data.Error.Message
		}
		return &JobStatus{State: JobError, Reason: reason, Retryable: true}, nil
	default:
		// pending / processing / waiting
		return &JobStatus{State: JobPending}, nil
	}
}

type heygenError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// 配额/额度类错误不值得重试
func (e *heygenError) retryable() bool {
	switch e.Code {
	case "quota_not_enough", "insufficient_credit", "trial_limit_exceeded":
		return false
	}
	return true
}

func (c *HeyGenClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HeyGenClient) do(req *http.Request, out interface{}) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(resp.Body)
		bodyStr := string(bodyBytes)
		if len(bodyStr) > 500 {
			bodyStr = bodyStr[:500] + "..."
		}
		return fmt.Errorf("heygen status code: %d, body: %s", resp.StatusCode, bodyStr)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response failed: %w", err)
	}
	return nil
}
