package dialogue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"k8s.io/klog/v2"
)

// EinoCallbacks Eino 回调处理器
// 记录对话图中各节点的执行时间，以及模型调用的 token 用量
// 同一个处理器被所有会话共享，开始时间放在 ctx 中
type EinoCallbacks struct {
	enabled      bool
	callSequence atomic.Int64
	running      atomic.Int64
}

type startTimeKey struct{}

// NewEinoCallbacks 创建回调处理器
func NewEinoCallbacks(enabled bool) *EinoCallbacks {
	return &EinoCallbacks{enabled: enabled}
}

// Handler 获取 Eino 的 Handler 接口实现
func (ec *EinoCallbacks) Handler() callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnStartFn(ec.onStart).
		OnEndFn(ec.onEnd).
		OnErrorFn(ec.onError).
		OnEndWithStreamOutputFn(ec.onEndWithStreamOutput).
		Build()
}

func (ec *EinoCallbacks) onStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	if !ec.enabled || info == nil {
		return ctx
	}

	seq := ec.callSequence.Add(1)
	ec.running.Add(1)
	ctx = context.WithValue(ctx, startTimeKey{}, time.Now())

	klog.V(6).InfoS("[EinoCallback] 节点开始执行",
		"sequence", seq,
		"component", info.Component,
		"type", info.Type,
		"name", info.Name,
	)

	if modelInput := model.ConvCallbackInput(input); modelInput != nil && info.Component == "ChatModel" {
		klog.V(6).InfoS("[EinoCallback] Model 输入",
			"name", info.Name,
			"message_count", len(modelInput.Messages),
			"tool_count", len(modelInput.Tools),
		)
	}
	return ctx
}

func (ec *EinoCallbacks) onEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	if !ec.enabled || info == nil {
		return ctx
	}

	klog.V(6).InfoS("[EinoCallback] 节点执行完成",
		"component", info.Component,
		"type", info.Type,
		"name", info.Name,
		"duration_ms", ec.elapsed(ctx, info).Milliseconds(),
	)

	if info.Component == "ChatModel" {
		ec.logModelOutput(output, info)
	}
	return ctx
}

func (ec *EinoCallbacks) onError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	if !ec.enabled || info == nil {
		return ctx
	}

	klog.ErrorS(err, "[EinoCallback] 节点执行出错",
		"component", info.Component,
		"type", info.Type,
		"name", info.Name,
		"duration_ms", ec.elapsed(ctx, info).Milliseconds(),
	)
	return ctx
}

// onEndWithStreamOutput 流式输出时无法直接读取内容，只记录结束事件
func (ec *EinoCallbacks) onEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo, output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	if output != nil {
		output.Close()
	}
	if !ec.enabled || info == nil {
		return ctx
	}

	klog.V(6).InfoS("[EinoCallback] 流式输出结束",
		"component", info.Component,
		"name", info.Name,
		"duration_ms", ec.elapsed(ctx, info).Milliseconds(),
	)
	return ctx
}

// logModelOutput 记录模型输出与 token 使用情况
func (ec *EinoCallbacks) logModelOutput(output callbacks.CallbackOutput, info *callbacks.RunInfo) {
	modelOutput := model.ConvCallbackOutput(output)
	if modelOutput == nil {
		return
	}

	if modelOutput.Message != nil {
		klog.V(6).InfoS("[EinoCallback] Model 输出 Message",
			"name", info.Name,
			"content_length", len(modelOutput.Message.Content),
			"tool_call_count", len(modelOutput.Message.ToolCalls),
		)
		klog.V(8).InfoS("[EinoCallback] Model 输出 Content",
			"name", info.Name,
			"content", modelOutput.Message.Content,
		)
	}

	if modelOutput.TokenUsage != nil {
		klog.V(6).InfoS("[EinoCallback] Model Token 使用情况",
			"name", info.Name,
			"prompt_tokens", modelOutput.TokenUsage.PromptTokens,
			"completion_tokens", modelOutput.TokenUsage.CompletionTokens,
			"total_tokens", modelOutput.TokenUsage.TotalTokens,
		)
	}
}

func (ec *EinoCallbacks) elapsed(ctx context.Context, info *callbacks.RunInfo) time.Duration {
	start, ok := ctx.Value(startTimeKey{}).(time.Time)
	if !ok {
		return 0
	}
	ec.running.Add(-1)
	return time.Since(start)
}

// IsEnabled 检查回调是否启用
func (ec *EinoCallbacks) IsEnabled() bool {
	return ec.enabled
}

// GetStats 获取回调统计信息
func (ec *EinoCallbacks) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"enabled":       ec.enabled,
		"running_nodes": ec.running.Load(),
		"total_calls":   ec.callSequence.Load(),
	}
}
