package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	xerrors "SwapAgent-Chain/internal/errors"

	goopenai "github.com/sashabaranov/go-openai"
)

const (
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 OpenAI 兼容 Chat Completions API 所需的信息。
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Temperature  float32
	Timeout      time.Duration
}

// Client 通过 go-openai 调用大模型。
type Client struct {
	api          *goopenai.Client
	model        string
	systemPrompt string
	temperature  float32
}

// NewClient 根据配置创建 OpenAI 客户端。缺少 API Key 视为配置错误。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未提供 OpenAI API Key")
	}

	clientCfg := goopenai.DefaultConfig(apiKey)
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	return &Client{
		api:          goopenai.NewClientWithConfig(clientCfg),
		model:        model,
		systemPrompt: cfg.SystemPrompt,
		temperature:  cfg.Temperature,
	}, nil
}

// Complete 发送单轮提示词并返回完整回复。
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if c.systemPrompt != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: c.systemPrompt,
		})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
	})
	if err != nil {
		var apiErr *goopenai.APIError
		if errors.As(err, &apiErr) && (apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden) {
			return "", xerrors.Wrap(xerrors.CodeConfiguration, err, "OpenAI 认证失败")
		}
		return "", xerrors.Wrap(xerrors.CodeExternalService, err, "请求 OpenAI 失败")
	}
	if len(resp.Choices) == 0 {
		return "", xerrors.New(xerrors.CodeExternalService, "OpenAI 响应中没有有效的 choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", xerrors.New(xerrors.CodeExternalService, "OpenAI 响应内容为空")
	}
	return content, nil
}
