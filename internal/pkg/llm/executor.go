package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"k8s.io/klog/v2"
)

var (
	// ErrToolRoundsExceeded 工具调用轮数超过上限
	ErrToolRoundsExceeded = errors.New("exceeded maximum tool call rounds")
	// ErrEmptyResponse 模型没有返回内容
	ErrEmptyResponse = errors.New("no response from LLM")
)

// ExecutorConfig 执行器配置
type ExecutorConfig struct {
	MaxToolRounds int // 最大工具调用轮数
	MaxResultLen  int // 工具结果最大长度（字节）
}

// DefaultExecutorConfig 返回默认配置
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxToolRounds: 5,
		MaxResultLen:  10000,
	}
}

// ToolResult 工具执行结果
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// ToolExecutor 按名称分发工具调用
type ToolExecutor struct {
	config   *ExecutorConfig
	handlers map[string]tool.InvokableTool
	infos    []*schema.ToolInfo
}

// NewToolExecutor 用给定工具创建执行器
func NewToolExecutor(ctx context.Context, config *ExecutorConfig, tools ...tool.InvokableTool) (*ToolExecutor, error) {
	if config == nil {
		config = DefaultExecutorConfig()
	}

	e := &ToolExecutor{
		config:   config,
		handlers: make(map[string]tool.InvokableTool, len(tools)),
	}
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		if _, dup := e.handlers[info.Name]; dup {
			return nil, fmt.Errorf("duplicate tool: %s", info.Name)
		}
		e.handlers[info.Name] = t
		e.infos = append(e.infos, info)
	}
	return e, nil
}

// Infos 返回可绑定到模型的工具描述
func (e *ToolExecutor) Infos() []*schema.ToolInfo {
	return e.infos
}

// Execute 执行工具调用
// 未知工具返回错误结果交给模型处理；工具自身失败返回 error，由调用方向上传递
func (e *ToolExecutor) Execute(ctx context.Context, call schema.ToolCall) (ToolResult, error) {
	handler, ok := e.handlers[call.Function.Name]
	if !ok {
		return ToolResult{
			Content: fmt.Sprintf("unknown tool: %s", call.Function.Name),
			IsError: true,
		}, nil
	}

	result, err := handler.InvokableRun(ctx, call.Function.Arguments)
	if err != nil {
		return ToolResult{}, fmt.Errorf("tool %s failed: %w", call.Function.Name, err)
	}

	// 限制结果长度
	if max := e.config.MaxResultLen; max > 0 && len(result) > max {
		result = result[:max] + fmt.Sprintf("\n... (%d more bytes truncated)", len(result)-max)
	}

	return ToolResult{Content: result}, nil
}

// RunToolLoop 调用模型并自动处理工具调用，直到得到不含工具调用的最终回复
// 返回本次循环新增的全部消息（含工具调用与工具结果），最后一条为最终回复
func RunToolLoop(ctx context.Context, chatModel model.ToolCallingChatModel, messages []*schema.Message, executor *ToolExecutor) ([]*schema.Message, error) {
	if executor == nil {
		executor = &ToolExecutor{config: DefaultExecutorConfig()}
	}

	bound := chatModel
	if len(executor.infos) > 0 {
		var err error
		bound, err = chatModel.WithTools(executor.infos)
		if err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
	}

	maxRounds := executor.config.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = DefaultExecutorConfig().MaxToolRounds
	}

	history := append([]*schema.Message{}, messages...)
	var produced []*schema.Message

	// 最多 maxRounds 轮工具调用，外加一次最终回复
	for round := 0; round <= maxRounds; round++ {
		klog.V(6).Infof("Tool执行循环: round=%d/%d", round+1, maxRounds+1)
		resp, err := bound.Generate(ctx, history)
		if err != nil {
			return produced, fmt.Errorf("LLM request failed: %w", err)
		}
		if resp == nil {
			return produced, ErrEmptyResponse
		}

		produced = append(produced, resp)
		history = append(history, resp)

		if len(resp.ToolCalls) == 0 {
			klog.V(6).Infof("LLM 返回文本响应，循环结束")
			return produced, nil
		}

		klog.V(6).Infof("LLM 返回工具调用: count=%d", len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			result, err := executor.Execute(ctx, call)
			if err != nil {
				return produced, err
			}
			klog.V(8).Infof("工具执行结果 %s: %s", call.Function.Name, result.Content)

			toolMsg := schema.ToolMessage(result.Content, call.ID)
			toolMsg.Name = call.Function.Name
			produced = append(produced, toolMsg)
			history = append(history, toolMsg)
		}
	}

	return produced, fmt.Errorf("%w (%d)", ErrToolRoundsExceeded, maxRounds)
}
