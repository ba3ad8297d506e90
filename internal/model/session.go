package model

import (
	"time"
)

// ChatSession 一个 thread_id 对应的会话
type ChatSession struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	ThreadID    string    `json:"thread_id" gorm:"size:128;uniqueIndex;not null"`
	ContextJSON string    `json:"context_json" gorm:"type:text"` // 最近一次请求的患者上下文快照
	MessageSeq  int       `json:"message_seq" gorm:"default:0"`  // 已持久化的消息条数
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChatMessage 会话中的单条消息，按 Seq 顺序追加
type ChatMessage struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	SessionID     uint      `json:"session_id" gorm:"uniqueIndex:idx_session_seq;not null"`
	Seq           int       `json:"seq" gorm:"uniqueIndex:idx_session_seq;not null"`
	MessageID     string    `json:"message_id" gorm:"size:64"`
	Role          string    `json:"role" gorm:"size:20;not null"` // user, assistant, tool
	Name          string    `json:"name" gorm:"size:64"`
	Content       string    `json:"content" gorm:"type:text"`
	ToolCallsJSON string    `json:"tool_calls_json" gorm:"type:text"`
	ToolCallID    string    `json:"tool_call_id" gorm:"size:128"`
	CreatedAt     time.Time `json:"created_at"`
}

// AppointmentChange 预约改期记录，由预约 Agent 的改期能力写入
type AppointmentChange struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	ThreadID    string    `json:"thread_id" gorm:"size:128;index"`
	PatientName string    `json:"patient_name" gorm:"size:255"`
	Disease     string    `json:"disease" gorm:"size:255"`
	FromDate    string    `json:"from_date" gorm:"size:64"`
	ToDate      string    `json:"to_date" gorm:"size:64;not null"`
	Reason      string    `json:"reason" gorm:"size:1000"`
	CreatedAt   time.Time `json:"created_at"`
}
