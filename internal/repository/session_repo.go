package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/careguide/backend/internal/domain"
	"github.com/careguide/backend/internal/model"
	"gorm.io/gorm"
	"k8s.io/klog/v2"
)

var (
	// ErrStaleState 待保存状态的消息少于已持久化的消息
	ErrStaleState = errors.New("conversation state is older than the stored checkpoint")
	// ErrCheckpointConflict 已持久化的消息前缀与待保存状态不一致
	ErrCheckpointConflict = errors.New("conversation state diverges from the stored checkpoint")
)

type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 基于 gorm 的检查点存储
func NewSessionRepository(db *gorm.DB) CheckpointStore {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Load(ctx context.Context, threadID string) (*domain.ConversationState, error) {
	var session model.ChatSession
	err := r.db.WithContext(ctx).Where("thread_id = ?", threadID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session %s: %w", threadID, err)
	}

	var rows []model.ChatMessage
	if err := r.db.WithContext(ctx).Where("session_id = ?", session.ID).Order("seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load messages of %s: %w", threadID, err)
	}

	state := &domain.ConversationState{
		SessionID: session.ThreadID,
		Messages:  make([]domain.Message, 0, len(rows)),
		UpdatedAt: session.UpdatedAt,
	}
	if session.ContextJSON != "" {
		if err := json.Unmarshal([]byte(session.ContextJSON), &state.Context); err != nil {
			klog.Warningf("[SessionRepo] 上下文快照解析失败，忽略: thread=%s, err=%v", threadID, err)
		}
	}
	for _, row := range rows {
		msg, err := toDomainMessage(row)
		if err != nil {
			return nil, fmt.Errorf("decode message %d of %s: %w", row.Seq, threadID, err)
		}
		state.Messages = append(state.Messages, msg)
	}

	klog.V(6).Infof("[SessionRepo] 加载会话: thread=%s, messages=%d", threadID, len(state.Messages))
	return state, nil
}

func (r *sessionRepository) Save(ctx context.Context, state *domain.ConversationState) error {
	if state == nil || state.SessionID == "" {
		return fmt.Errorf("save session: thread id is required")
	}

	contextJSON, err := json.Marshal(state.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session model.ChatSession
		err := tx.Where("thread_id = ?", state.SessionID).First(&session).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			session = model.ChatSession{ThreadID: state.SessionID, ContextJSON: string(contextJSON)}
			if err := tx.Create(&session).Error; err != nil {
				return fmt.Errorf("create session: %w", err)
			}
		case err != nil:
			return fmt.Errorf("find session: %w", err)
		}

		if len(state.Messages) < session.MessageSeq {
			return fmt.Errorf("%w: thread=%s stored=%d given=%d", ErrStaleState, state.SessionID, session.MessageSeq, len(state.Messages))
		}
		if session.MessageSeq > 0 {
			var last model.ChatMessage
			if err := tx.Where("session_id = ? AND seq = ?", session.ID, session.MessageSeq-1).First(&last).Error; err != nil {
				return fmt.Errorf("find last message: %w", err)
			}
			if last.MessageID != state.Messages[session.MessageSeq-1].ID {
				return fmt.Errorf("%w: thread=%s seq=%d", ErrCheckpointConflict, state.SessionID, session.MessageSeq-1)
			}
		}

		pending := state.Messages[session.MessageSeq:]
		if len(pending) == 0 && session.ContextJSON == string(contextJSON) {
			// 没有新内容，不触碰记录
			return nil
		}

		rows := make([]model.ChatMessage, 0, len(pending))
		for i, msg := range pending {
			row, err := toMessageRow(session.ID, session.MessageSeq+i, msg)
			if err != nil {
				return err
			}
			rows = append(rows, row)
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("append messages: %w", err)
			}
		}

		session.MessageSeq += len(rows)
		session.ContextJSON = string(contextJSON)
		if err := tx.Save(&session).Error; err != nil {
			return fmt.Errorf("update session: %w", err)
		}

		klog.V(6).Infof("[SessionRepo] 保存会话: thread=%s, appended=%d, total=%d", state.SessionID, len(rows), session.MessageSeq)
		return nil
	})
}

func toMessageRow(sessionID uint, seq int, msg domain.Message) (model.ChatMessage, error) {
	row := model.ChatMessage{
		SessionID:  sessionID,
		Seq:        seq,
		MessageID:  msg.ID,
		Role:       string(msg.Role),
		Name:       msg.Name,
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
		CreatedAt:  msg.CreatedAt,
	}
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return row, fmt.Errorf("marshal tool calls: %w", err)
		}
		row.ToolCallsJSON = string(data)
	}
	return row, nil
}

func toDomainMessage(row model.ChatMessage) (domain.Message, error) {
	msg := domain.Message{
		ID:         row.MessageID,
		Role:       domain.Role(row.Role),
		Name:       row.Name,
		Content:    row.Content,
		ToolCallID: row.ToolCallID,
		CreatedAt:  row.CreatedAt,
	}
	if row.ToolCallsJSON != "" {
		if err := json.Unmarshal([]byte(row.ToolCallsJSON), &msg.ToolCalls); err != nil {
			return msg, err
		}
	}
	return msg, nil
}
