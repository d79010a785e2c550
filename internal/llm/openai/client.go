package openai

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 30 * time.Second
)

// Config 描述了调用 OpenAI 兼容 Chat Completions API 所需的信息。
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client 通过 go-openai 调用兼容 OpenAI 协议的模型服务。单次请求，不重试、不流式。
type Client struct {
	api     *goopenai.Client
	model   string
	timeout time.Duration
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	clientCfg := goopenai.DefaultConfig(apiKey)
	clientCfg.BaseURL = strings.TrimRight(baseURL, "/")
	clientCfg.HTTPClient = httpClient

	return &Client{
		api:     goopenai.NewClientWithConfig(clientCfg),
		model:   model,
		timeout: timeout,
	}, nil
}

// Model 返回固定的模型 ID。
func (c *Client) Model() string { return c.model }

// Complete 发送一次对话补全请求并返回首个候选的文本。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: req.System},
			{Role: goopenai.ChatMessageRoleUser, Content: req.User},
		},
	})
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, xerrors.New(xerrors.CodeAdvisoryFailure, "模型响应中没有有效的 choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, xerrors.New(xerrors.CodeAdvisoryFailure, "模型响应内容为空")
	}
	model := resp.Model
	if model == "" {
		model = c.model
	}
	return &llm.Response{Content: content, Model: model}, nil
}

func mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "模型请求超时")
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return xerrors.Wrap(xerrors.CodeAdvisoryFailure, err, "模型服务返回错误",
			xerrors.WithMetadata("status", strconv.Itoa(apiErr.HTTPStatusCode)))
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return xerrors.Wrap(xerrors.CodeAdvisoryFailure, err, "模型服务返回错误",
			xerrors.WithMetadata("status", strconv.Itoa(reqErr.HTTPStatusCode)))
	}
	return xerrors.Wrap(xerrors.CodeAdvisoryFailure, err, "请求模型服务失败")
}

var _ llm.Client = (*Client)(nil)
