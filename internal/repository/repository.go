package repository

import (
	"context"
	"errors"

	"github.com/careguide/backend/internal/domain"
	"github.com/careguide/backend/internal/model"
)

// ErrNotFound 记录不存在错误
var ErrNotFound = errors.New("record not found")

// CheckpointStore 会话检查点存储
// Load 对未知会话返回 ErrNotFound；Save 只追加尚未持久化的消息
type CheckpointStore interface {
	Load(ctx context.Context, threadID string) (*domain.ConversationState, error)
	Save(ctx context.Context, state *domain.ConversationState) error
}

type AppointmentRepository interface {
	Create(ctx context.Context, change *model.AppointmentChange) error
	ListByThread(ctx context.Context, threadID string) ([]model.AppointmentChange, error)
}
