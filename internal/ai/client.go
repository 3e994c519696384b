package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"soundscape/internal/config"
	"soundscape/pkg/types"
)

// Client talks to the two external AI collaborators over HTTP: the
// analysis service (emotion classification, music synthesis) and the
// generation service (chat completion, speech synthesis). Every failure
// surfaces as an external-service error; callers never retry.
type Client struct {
	analysisBaseURL   string
	generationBaseURL string
	apiKey            string
	chatModel         string
	speechModel       string
	httpClient        *http.Client
	logger            *logrus.Logger
}

func NewClient(cfg config.AIConfig, logger *logrus.Logger) *Client {
	return &Client{
		analysisBaseURL:   strings.TrimRight(cfg.AnalysisBaseURL, "/"),
		generationBaseURL: strings.TrimRight(cfg.GenerationBaseURL, "/"),
		apiKey:            cfg.APIKey,
		chatModel:         cfg.ChatModel,
		speechModel:       cfg.SpeechModel,
		httpClient:        &http.Client{Timeout: cfg.RequestTimeout},
		logger:            logger,
	}
}

// AnalyzeEmotion classifies a voice or text input in its scene context.
// The analysis service wraps results in a data envelope; a bare result
// body is accepted too.
func (c *Client) AnalyzeEmotion(ctx context.Context, req types.EmotionRequest) (*types.EmotionReading, error) {
	body, err := c.postJSON(ctx, c.analysisBaseURL+"/api/v1/emotion/analyze", req, false)
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		Data *types.EmotionReading `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Data != nil && wrapped.Data.Emotion != "" {
		return wrapped.Data, nil
	}

	var reading types.EmotionReading
	if err := json.Unmarshal(body, &reading); err != nil {
		return nil, types.NewExternalServiceError("emotion analysis returned malformed response", err)
	}
	if reading.Emotion == "" {
		return nil, types.NewExternalServiceError("emotion analysis returned no classification", nil)
	}
	return &reading, nil
}

type chatRequest struct {
	Model       string              `json:"model"`
	Messages    []types.ChatMessage `json:"messages"`
	Temperature float64             `json:"temperature,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message types.ChatMessage `json:"message"`
	} `json:"choices"`
}

// Chat requests generated text for role-tagged prompt messages.
func (c *Client) Chat(ctx context.Context, messages []types.ChatMessage, opts types.ChatOptions) (string, error) {
	body, err := c.postJSON(ctx, c.generationBaseURL+"/v1/chat/completions", chatRequest{
		Model:       c.chatModel,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}, true)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", types.NewExternalServiceError("chat completion returned malformed response", err)
	}
	if len(resp.Choices) == 0 {
		return "", types.NewExternalServiceError("chat completion returned no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

type speechRequest struct {
	Model string  `json:"model"`
	Input string  `json:"input"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed,omitempty"`
}

// SynthesizeSpeech returns base64-encoded audio for the given text.
func (c *Client) SynthesizeSpeech(ctx context.Context, text, voice string, speed float64) (string, error) {
	body, err := c.postJSON(ctx, c.generationBaseURL+"/v1/audio/speech", speechRequest{
		Model: c.speechModel,
		Input: text,
		Voice: voice,
		Speed: speed,
	}, true)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(body), nil
}

// ComposeMix requests a synthesized music mix from the analysis service.
// The mix is opaque to the coordinator; the data envelope is unwrapped
// when present and the body passed through otherwise.
func (c *Client) ComposeMix(ctx context.Context, req types.MixRequest) (json.RawMessage, error) {
	body, err := c.postJSON(ctx, c.analysisBaseURL+"/api/v1/music/mix", req, false)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, types.NewExternalServiceError("music mix returned malformed response", nil)
	}

	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.Data) > 0 {
		return wrapped.Data, nil
	}
	return json.RawMessage(body), nil
}

// postJSON performs one request/response round trip. Non-2xx statuses and
// transport failures both map to external-service errors.
func (c *Client) postJSON(ctx context.Context, url string, payload interface{}, authorize bool) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewInternalError("failed to encode request payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, types.NewInternalError("failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authorize && c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithField("url", url).WithError(err).Warn("ai request failed")
		return nil, types.NewExternalServiceError("ai service unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewExternalServiceError("failed to read ai response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.WithFields(logrus.Fields{
			"url":    url,
			"status": resp.StatusCode,
		}).Warn("ai request rejected")
		return nil, types.NewExternalServiceError(fmt.Sprintf("ai service returned status %d", resp.StatusCode), nil)
	}
	return body, nil
}
