package domain

import "time"

// ConversationState 一个会话的持久化状态
// Messages 只追加，不修改、不删除
type ConversationState struct {
	SessionID string         `json:"session_id"`
	Messages  []Message      `json:"messages"`
	Context   PatientContext `json:"context"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewConversationState 创建空会话
func NewConversationState(sessionID string) *ConversationState {
	return &ConversationState{SessionID: sessionID}
}

// Append 返回追加消息后的新状态，不修改接收者
func (s ConversationState) Append(msgs ...Message) ConversationState {
	next := s
	next.Messages = AppendMessages(s.Messages, msgs...)
	return next
}

// Len 消息条数
func (s ConversationState) Len() int {
	return len(s.Messages)
}

// Since 返回 anchor 之后（含）的消息
func (s ConversationState) Since(anchor int) []Message {
	if anchor < 0 {
		anchor = 0
	}
	if anchor >= len(s.Messages) {
		return nil
	}
	return s.Messages[anchor:]
}

// AppendMessages 复制后追加，结果不与入参共享底层数组
func AppendMessages(base []Message, msgs ...Message) []Message {
	out := make([]Message, 0, len(base)+len(msgs))
	out = append(out, base...)
	return append(out, msgs...)
}

// Window 返回最近 max 条消息的有界视图
// 尽量从一条用户消息开始，避免截断后第一条是孤立的工具结果；max<=0 表示不限制
// 最新的用户消息总是包含在内，因此结果可能超过 max 条
func Window(msgs []Message, max int) []Message {
	if max <= 0 || len(msgs) <= max {
		return msgs
	}
	start := len(msgs) - max
	// 最新的用户消息必须在视图内
	if last := LastUserIndex(msgs); last >= 0 && last < start {
		return msgs[last:]
	}
	for i := start; i < len(msgs); i++ {
		if msgs[i].Role == RoleUser {
			return msgs[i:]
		}
	}
	// 窗口内没有用户消息时，跳过开头的工具结果
	for start < len(msgs)-1 && msgs[start].Role == RoleTool {
		start++
	}
	return msgs[start:]
}

// LastUserIndex 最后一条用户消息的下标，没有返回 -1
func LastUserIndex(msgs []Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return i
		}
	}
	return -1
}
