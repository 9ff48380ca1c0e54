package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"taleBook/internal/config"
)

// ErrEmptyResponse 表示接口调用成功但没有返回任何候选。
var ErrEmptyResponse = errors.New("generation api returned no choices")

const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Message 是一条对话消息。
type Message struct {
	Role    string
	Content string
}

// CompletionRequest 描述一次文本生成。
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// ImageRequest 描述一次图片生成。BaseImage 非空时走图片编辑接口，Mask 可选。
type ImageRequest struct {
	Prompt    string
	Size      string
	N         int
	BaseImage string
	Mask      string
}

// Client 封装 OpenAI 兼容接口的文本与图片生成。
type Client struct {
	api        *openai.Client
	imageModel string
	logger     *slog.Logger
}

// New 按配置构造客户端。BaseURL 为空时使用官方地址。
func New(cfg config.OpenAIConfig, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &Client{
		api:        openai.NewClientWithConfig(clientCfg),
		imageModel: cfg.ImageModel,
		logger:     logger.With(slog.String("component", "llm")),
	}, nil
}

// Complete 返回第一个候选的文本内容。
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion (%s): %w", req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	c.logger.Debug("chat completion done",
		slog.String("model", req.Model),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return resp.Choices[0].Message.Content, nil
}

// GenerateImage 返回生成图片的 URL 列表。
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) ([]string, error) {
	if req.N <= 0 {
		req.N = 1
	}

	var (
		resp openai.ImageResponse
		err  error
	)
	if req.BaseImage != "" {
		resp, err = c.editImage(ctx, req)
	} else {
		resp, err = c.api.CreateImage(ctx, openai.ImageRequest{
			Prompt:         req.Prompt,
			Model:          c.imageModel,
			N:              req.N,
			Size:           req.Size,
			ResponseFormat: openai.CreateImageResponseFormatURL,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("generate image: %w", err)
	}

	urls := make([]string, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.URL != "" {
			urls = append(urls, d.URL)
		}
	}
	if len(urls) == 0 {
		return nil, ErrEmptyResponse
	}
	return urls, nil
}

func (c *Client) editImage(ctx context.Context, req ImageRequest) (openai.ImageResponse, error) {
	base, err := os.Open(req.BaseImage)
	if err != nil {
		return openai.ImageResponse{}, fmt.Errorf("open base image: %w", err)
	}
	defer base.Close()

	edit := openai.ImageEditRequest{
		Image:          base,
		Prompt:         req.Prompt,
		Model:          c.imageModel,
		N:              req.N,
		Size:           req.Size,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	}
	if req.Mask != "" {
		mask, err := os.Open(req.Mask)
		if err != nil {
			return openai.ImageResponse{}, fmt.Errorf("open mask: %w", err)
		}
		defer mask.Close()
		edit.Mask = mask
	}
	return c.api.CreateEditImage(ctx, edit)
}
