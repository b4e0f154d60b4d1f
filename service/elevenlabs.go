package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"AvatarStudio-server/config"
	"AvatarStudio-server/models"
)

// ElevenLabsClient TTS 客户端，with-timestamps 接口同时拿回逐字符对齐
type ElevenLabsClient struct {
	APIKey  string
	BaseURL string
	HTTP    *http.Client
	// Upload 生成的音频重新托管到对象存储；为空则无法落盘
	Upload UploadFunc
}

func NewElevenLabsClient() *ElevenLabsClient {
	cfg := config.AppConfig.ElevenLabs
	return &ElevenLabsClient{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		HTTP:    &http.Client{Timeout: 180 * time.Second},
		Upload:  UploadToMinIO,
	}
}

func (c *ElevenLabsClient) Synthesize(ctx context.Context, projectID, text, voiceID string) (string, *models.AudioAlignment, error) {
	if voiceID == "" {
		return "", nil, &ServiceError{Op: "audio_synthesis", Retryable: false, Err: fmt.Errorf("blogger has no voice id")}
	}

	body := map[string]interface{}{
		"text":     text,
		"model_id": "eleven_multilingual_v2",
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", nil, fmt.Errorf("marshal request failed: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s/with-timestamps?output_format=mp3_44100_128", c.BaseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("xi-api-key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", nil, &ServiceError{Op: "audio_synthesis", Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// 401/402 配额类错误重试无意义
		retryable := resp.StatusCode >= 500
		return "", nil, &ServiceError{Op: "audio_synthesis", Retryable: retryable,
			Err: fmt.Errorf("elevenlabs status code: %d", resp.StatusCode)}
	}

	var respData struct {
		AudioBase64 string `json:"audio_base64"`
		Alignment   struct {
			Characters     []string  `json:"characters"`
			CharStartTimes []float64 `json:"character_start_times_seconds"`
			CharEndTimes   []float64 `json:"character_end_times_seconds"`
		} `json:"alignment"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", nil, &ServiceError{Op: "audio_synthesis", Retryable: true,
			Err: fmt.Errorf("decode response failed: %w", err)}
	}

	audio, err := base64.StdEncoding.DecodeString(respData.AudioBase64)
	if err != nil {
		return "", nil, &ServiceError{Op: "audio_synthesis", Retryable: false,
			Err: fmt.Errorf("decode audio failed: %w", err)}
	}

	alignment := &models.AudioAlignment{
		Characters:     respData.Alignment.Characters,
		CharStartTimes: respData.Alignment.CharStartTimes,
		CharEndTimes:   respData.Alignment.CharEndTimes,
	}
	if n := len(alignment.CharEndTimes); n > 0 {
		alignment.AudioDuration = alignment.CharEndTimes[n-1]
	}

	objectName := fmt.Sprintf("projects/%s/voiceover.mp3", projectID)
	audioUrl, err := c.Upload(bytes.NewReader(audio), objectName, int64(len(audio)))
	if err != nil {
		return "", nil, &ServiceError{Op: "audio_synthesis", Retryable: true,
			Err: fmt.Errorf("upload audio failed: %w", err)}
	}
	log.Printf("配音生成完成: %s (%.2fs)", objectName, alignment.AudioDuration)

	return audioUrl, alignment, nil
}
