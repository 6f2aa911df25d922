// Package critique asks a multimodal completion model for a mock-serious art
// critique of a doodle.
package critique

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Moonto97/DoodleAnalyzer/internal/apperr"
	"github.com/Moonto97/DoodleAnalyzer/internal/metrics"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

const (
	maxTokens   = 1500
	temperature = 0.9
)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Result holds the completion text exactly as the model returned it along
// with its validated form.
type Result struct {
	Raw      string
	Critique Critique
}

type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
	log     logrus.FieldLogger
}

func NewClient(cfg Config, log logrus.FieldLogger) *Client {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		api:     openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		log:     log.WithField("component", "critique"),
	}
}

// Analyze sends image to the model and returns its critique. The image is
// forwarded untouched as an image URL (data URIs included).
func (c *Client) Analyze(ctx context.Context, image string) (Result, error) {
	if image == "" {
		return Result{}, apperr.Validation("이미지 데이터가 필요합니다.")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, c.request(image))
	if err != nil {
		metrics.RecordCritique("upstream_error", time.Since(started))
		c.log.WithError(err).Warn("completion call failed")
		return Result{}, upstreamError(err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		metrics.RecordCritique("empty", time.Since(started))
		return Result{}, apperr.Upstream("AI 응답에 평론 내용이 없습니다.", errors.New("completion has no content"))
	}
	raw := resp.Choices[0].Message.Content

	parsed, err := Parse(raw)
	if err != nil {
		metrics.RecordCritique("malformed", time.Since(started))
		c.log.WithError(err).Warn("completion did not match the critique shape")
		return Result{}, apperr.Upstream("AI 평론 형식이 올바르지 않습니다.", err)
	}

	metrics.RecordCritique("ok", time.Since(started))
	return Result{Raw: raw, Critique: parsed}, nil
}

func (c *Client) request(image string) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: userPrompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: image}},
				},
			},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
}

// upstreamError keeps the service's own message when it sent one.
func upstreamError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apperr.Upstream(apiErr.Message, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Upstream("AI 서비스 응답 시간이 초과되었습니다.", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Upstream("AI 서비스 응답 시간이 초과되었습니다.", err)
	}
	return apperr.Upstream(err.Error(), err)
}
