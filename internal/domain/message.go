package domain

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"k8s.io/klog/v2"
)

// Role 消息角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall 模型发起的能力调用
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message 对话中的一条消息，追加后不可修改
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"` // 产生该消息的节点或专科 Agent
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// NewMessageID 生成消息 ID
func NewMessageID() string {
	id, err := gonanoid.New()
	if err != nil {
		klog.Warningf("[domain] 生成消息 ID 失败，使用时间戳: %v", err)
		return time.Now().Format("20060102150405.000000000")
	}
	return id
}

// UserMessage 创建用户消息
func UserMessage(content string) Message {
	return Message{
		ID:        NewMessageID(),
		Role:      RoleUser,
		Content:   content,
		CreatedAt: Now(),
	}
}

// AssistantMessage 创建助手消息，name 为产生该消息的节点
func AssistantMessage(name, content string) Message {
	return Message{
		ID:        NewMessageID(),
		Role:      RoleAssistant,
		Name:      name,
		Content:   content,
		CreatedAt: Now(),
	}
}

// ToolResultMessage 创建工具结果消息
func ToolResultMessage(name, toolCallID, content string) Message {
	return Message{
		ID:         NewMessageID(),
		Role:       RoleTool,
		Name:       name,
		ToolCallID: toolCallID,
		Content:    content,
		CreatedAt:  Now(),
	}
}

// IsFinalAnswer 是否为面向用户的助手文本（不含待执行的工具调用）
func (m Message) IsFinalAnswer() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) == 0 && m.Content != ""
}

// Now 返回当前时间（用于测试）
var Now = func() time.Time {
	return time.Now()
}
