// Package mcp 把投稿与查询能力注册为 MCP 工具，供外部智能体通过 stdio 调用。
// 写操作与 HTTP 接口一样经单写者队列串行执行。
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"TopEquations/internal/curation"
	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/intake"
	"TopEquations/internal/queue"
	"TopEquations/pkg/logger"
)

const (
	serverName        = "topeq"
	serverVersion     = "0.1.0"
	defaultWait       = 10 * time.Second
	defaultEquationsN = 20
)

// Tools 持有工具处理所需的依赖。
type Tools struct {
	curation   *curation.Service
	dispatcher *queue.Dispatcher
	wait       time.Duration
	logger     *slog.Logger
}

// Option 定义可选配置。
type Option func(*Tools)

// WithWaitTimeout 设置投稿作业的等待时长。
func WithWaitTimeout(d time.Duration) Option {
	return func(t *Tools) {
		if d > 0 {
			t.wait = d
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(t *Tools) {
		if l != nil {
			t.logger = l
		}
	}
}

// New 构造工具集合。
func New(svc *curation.Service, dispatcher *queue.Dispatcher, opts ...Option) *Tools {
	t := &Tools{
		curation:   svc,
		dispatcher: dispatcher,
		wait:       defaultWait,
		logger:     logger.Named("mcp"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Server 返回注册了全部工具的 MCP 服务。
func (t *Tools) Server() *server.MCPServer {
	srv := server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(true))

	srv.AddTool(mcp.NewToolWithRawSchema("submit_equation",
		"Submit a candidate equation for curation; returns the stored submission", schema(map[string]any{
			"name":        stringProp("Short equation name"),
			"equation":    stringProp("LaTeX source"),
			"description": stringProp("What the equation describes"),
			"source":      stringProp("Origin label"),
			"submitter":   stringProp("Submitter handle"),
			"units":       stringProp("OK, TBD or WARN"),
			"theory":      stringProp("Theory check status"),
			"assumptions": listProp("Stated assumptions"),
			"evidence":    listProp("Evidence references"),
		}, "name", "equation", "description")), t.handleSubmit)

	srv.AddTool(mcp.NewToolWithRawSchema("get_submission",
		"Fetch one submission with its latest review", schema(map[string]any{
			"submission_id": stringProp("Submission id, e.g. sub-2026-02-20-entropy-gate"),
		}, "submission_id")), t.handleGetSubmission)

	srv.AddTool(mcp.NewToolWithRawSchema("list_equations",
		"List ranked equations ordered by score", schema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Maximum entries, default 20"},
		})), t.handleListEquations)

	return srv
}

// ServeStdio 在标准输入输出上运行 MCP 服务，直到 ctx 结束。
func (t *Tools) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	t.logger.Info("MCP 服务已启动", slog.String("transport", "stdio"))
	return server.NewStdioServer(t.Server()).Listen(ctx, in, out)
}

func (t *Tools) handleSubmit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(req.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("参数编码失败: %v", err)), nil
	}
	sub, err := intake.ParseWith(string(raw), intake.BatchDefaults)
	if err != nil {
		return toolError(err), nil
	}
	if t.dispatcher == nil {
		return toolError(xerrors.New(xerrors.CodeQueueFailure, "写队列未配置")), nil
	}
	job, err := t.dispatcher.Enqueue(ctx, queue.KindSubmit, sub)
	if err != nil {
		return toolError(err), nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, t.wait)
	defer cancel()
	result, err := t.dispatcher.Tracker().Wait(waitCtx, job.ID)
	if err != nil {
		return mcp.NewToolResultText(fmt.Sprintf(`{"job_id":%q,"state":"queued"}`, job.ID)), nil
	}
	if result.State == queue.StateFailed {
		return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", result.Code, result.Error)), nil
	}
	t.logger.Info("MCP 投稿已接收", slog.String("job_id", job.ID))
	return mcp.NewToolResultText(string(result.Output)), nil
}

func (t *Tools) handleGetSubmission(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, _ := req.GetArguments()["submission_id"].(string)
	entry, err := t.curation.Get(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(entry)
}

func (t *Tools) handleListEquations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := defaultEquationsN
	if v, ok := req.GetArguments()["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}
	entries, err := t.curation.Equations(ctx, limit)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"entries": entries})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}

func schema(properties map[string]any, required ...string) json.RawMessage {
	body := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		body["required"] = required
	}
	data, _ := json.Marshal(body)
	return data
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func listProp(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]string{"type": "string"}, "description": desc}
}
