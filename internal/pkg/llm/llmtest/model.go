// Package llmtest 提供脚本化的 ToolCallingChatModel，供各包测试使用
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrScriptExhausted 脚本中的回复已用完
var ErrScriptExhausted = errors.New("llmtest: script exhausted")

// Responder 根据输入生成回复
type Responder func(ctx context.Context, input []*schema.Message, tools []*schema.ToolInfo) (*schema.Message, error)

// Call 一次模型调用的记录
type Call struct {
	Input []*schema.Message
	Tools []*schema.ToolInfo
}

type recorder struct {
	mu    sync.Mutex
	calls []Call
}

// Model 脚本化模型，WithTools 派生的实例共享调用记录
type Model struct {
	respond Responder
	tools   []*schema.ToolInfo
	rec     *recorder
}

// New 用自定义 Responder 创建模型
func New(fn Responder) *Model {
	return &Model{respond: fn, rec: &recorder{}}
}

// Sequence 按顺序返回给定回复，用完后返回 ErrScriptExhausted
func Sequence(replies ...*schema.Message) *Model {
	var mu sync.Mutex
	next := 0
	return New(func(ctx context.Context, input []*schema.Message, tools []*schema.ToolInfo) (*schema.Message, error) {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(replies) {
			return nil, ErrScriptExhausted
		}
		reply := replies[next]
		next++
		return reply, nil
	})
}

func (m *Model) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	snapshot := append([]*schema.Message{}, input...)
	m.rec.mu.Lock()
	m.rec.calls = append(m.rec.calls, Call{Input: snapshot, Tools: m.tools})
	m.rec.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.respond(ctx, snapshot, m.tools)
}

func (m *Model) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *Model) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return &Model{respond: m.respond, tools: tools, rec: m.rec}, nil
}

// Calls 返回全部调用记录
func (m *Model) Calls() []Call {
	m.rec.mu.Lock()
	defer m.rec.mu.Unlock()
	return append([]Call{}, m.rec.calls...)
}

// ToolCallReply 构造一条请求调用工具的助手消息
func ToolCallReply(id, name, arguments string) *schema.Message {
	return schema.AssistantMessage("", []schema.ToolCall{{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: arguments},
	}})
}

// TextReply 构造一条纯文本助手消息
func TextReply(content string) *schema.Message {
	return schema.AssistantMessage(content, nil)
}
