package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"AvatarStudio-server/config"
)

// GPTClient OpenAI Chat Completions 客户端，承担文案提取和素材视觉分析
type GPTClient struct {
	APIKey  string
	BaseURL string
	Model   string
	HTTP    *http.Client
}

func NewGPTClient() *GPTClient {
	cfg := config.AppConfig.OpenAI
	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}
	return &GPTClient{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   model,
		HTTP:    &http.Client{Timeout: 120 * time.Second},
	}
}

const extractPrompt = `You are a voiceover editor. Extract from the shooting scenario below only the text
the host speaks on camera. Drop stage directions, camera notes and bracketed remarks.
Return the spoken text only, no commentary.`

func (c *GPTClient) ExtractVoiceover(ctx context.Context, scenario string) (string, error) {
	content, err := c.chat(ctx, []chatMessage{
		{Role: "system", Content: extractPrompt},
		{Role: "user", Content: scenario},
	})
	if err != nil {
		return "", &ServiceError{Op: "text_extraction", Retryable: true, Err: err}
	}
	return content, nil
}

const analyzePrompt = `Describe this material for video montage matching: what/who is shown, named titles,
objects, mood. One short paragraph, keywords first.`

func (c *GPTClient) AnalyzeMaterial(ctx context.Context, materialUrl string) (string, error) {
	body := map[string]interface{}{
		"model": c.Model,
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": []map[string]interface{}{
					{"type": "text", "text": analyzePrompt},
					{"type": "image_url", "image_url": map[string]string{"url": materialUrl}},
				},
			},
		},
	}
	content, err := c.chatRaw(ctx, body)
	if err != nil {
		return "", &ServiceError{Op: "material_analysis", Retryable: true, Err: err}
	}
	return content, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *GPTClient) chat(ctx context.Context, messages []chatMessage) (string, error) {
	return c.chatRaw(ctx, map[string]interface{}{
		"model":    c.Model,
		"messages": messages,
	})
}

func (c *GPTClient) chatRaw(ctx context.Context, body map[string]interface{}) (string, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai status code: %d", resp.StatusCode)
	}

	var respData struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("decode response failed: %w", err)
	}
	if len(respData.Choices) == 0 {
		return "", fmt.Errorf("response has no choices")
	}
	return respData.Choices[0].Message.Content, nil
}
