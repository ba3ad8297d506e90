package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/careguide/backend/config"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"
)

// ChatModel 推理引擎，封装 Eino 的 ToolCallingChatModel
// 每次调用前经过限速器，所有派生实例共享同一个限速器
type ChatModel struct {
	inner   model.ToolCallingChatModel
	limiter *rate.Limiter
}

// NewChatModel 基于 eino-ext OpenAI 实现创建推理引擎
func NewChatModel(ctx context.Context, cfg *config.Config) (*ChatModel, error) {
	klog.V(6).Infof("[ChatModel] 创建 OpenAI ChatModel: model=%s, baseURL=%s", cfg.LLM.Model, cfg.LLM.APIURL)

	modelConfig := &openai.ChatModelConfig{
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: 5 * time.Minute,
	}
	if cfg.LLM.APIURL != "" {
		modelConfig.BaseURL = cfg.LLM.APIURL
	}
	if cfg.LLM.MaxTokens > 0 {
		maxTokens := cfg.LLM.MaxTokens
		modelConfig.MaxTokens = &maxTokens
	}
	temperature := cfg.LLM.Temperature
	modelConfig.Temperature = &temperature

	inner, err := openai.NewChatModel(ctx, modelConfig)
	if err != nil {
		klog.Errorf("[ChatModel] 创建 ChatModel 失败: %v", err)
		return nil, err
	}

	return WrapChatModel(inner, newLimiter(cfg.LLM.RequestsPerSecond, cfg.LLM.Burst)), nil
}

// WrapChatModel 为已有模型加上限速，limiter 为 nil 时不限速
func WrapChatModel(inner model.ToolCallingChatModel, limiter *rate.Limiter) *ChatModel {
	return &ChatModel{inner: inner, limiter: limiter}
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func (m *ChatModel) wait(ctx context.Context) error {
	if m.limiter == nil {
		return nil
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// Generate 同步生成
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	klog.V(6).Infof("[ChatModel] Generate 开始: messageCount=%d", len(input))
	for i, msg := range input {
		klog.V(8).Infof("[ChatModel]   Message[%d]: role=%s, content=%s", i, msg.Role, msg.Content)
	}

	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	resp, err := m.inner.Generate(ctx, input, opts...)
	if err != nil {
		klog.Errorf("[ChatModel] Generate 失败: %v", err)
		return nil, err
	}

	klog.V(6).Infof("[ChatModel] Generate 完成: responseLength=%d, toolCalls=%d", len(resp.Content), len(resp.ToolCalls))
	return resp, nil
}

// Stream 流式生成
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (
	*schema.StreamReader[*schema.Message], error) {
	klog.V(6).Infof("[ChatModel] Stream 开始: messageCount=%d", len(input))

	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.inner.Stream(ctx, input, opts...)
}

// WithTools 返回绑定了工具的新实例，不修改当前实例
func (m *ChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	klog.V(6).Infof("[ChatModel] WithTools 被调用: toolCount=%d", len(tools))
	inner, err := m.inner.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &ChatModel{inner: inner, limiter: m.limiter}, nil
}
