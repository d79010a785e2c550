package llm

import "context"

// Request 是一次无状态的对话补全请求，只包含固定的 system 与 user 两条消息。
type Request struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// Response 是模型返回的原始文本。
type Response struct {
	Content string
	Model   string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Model() string
}
