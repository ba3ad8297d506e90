package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/careguide/backend/internal/domain"
	"github.com/careguide/backend/internal/repository"
	"github.com/careguide/backend/internal/service/dialogue"
	"github.com/careguide/backend/internal/service/orchestrator"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// ErrEmptyQuery 用户消息为空
var ErrEmptyQuery = errors.New("query is required")

// checkpointTimeout 调用方断开后保存检查点的时限
const checkpointTimeout = 10 * time.Second

// ChatService 对话服务接口
type ChatService interface {
	// Chat 执行一轮对话，助手消息产生后立即交给 emitter
	Chat(ctx context.Context, req *ChatRequest, emitter dialogue.Emitter) (*ChatResult, error)

	// History 获取会话的全部消息
	History(ctx context.Context, threadID string) (*domain.ConversationState, error)

	// Cancel 取消会话正在执行的轮次，没有执行中的轮次时返回 false
	Cancel(threadID string) bool
}

// ChatRequest 对话请求
type ChatRequest struct {
	ThreadID    string
	Query       string
	UserContext map[string]any
}

// ChatResult 一轮对话的结果
type ChatResult struct {
	ThreadID string
	// Answers 本轮面向用户的回答，按产生顺序
	Answers []domain.Message
	Halt    dialogue.HaltReason
}

// DialogueRunner 执行对话图
type DialogueRunner interface {
	Run(ctx context.Context, in dialogue.TurnInput) (*dialogue.TurnResult, error)
}

// TurnScheduler 按会话调度轮次
type TurnScheduler interface {
	Run(ctx context.Context, sessionID string, fn orchestrator.TurnFunc) error
	CancelSession(sessionID string) bool
}

// chatService 对话服务实现
type chatService struct {
	store     repository.CheckpointStore
	graph     DialogueRunner
	scheduler TurnScheduler
}

// NewChatService 创建对话服务
func NewChatService(store repository.CheckpointStore, graph DialogueRunner, scheduler TurnScheduler) ChatService {
	return &chatService{store: store, graph: graph, scheduler: scheduler}
}

// Chat 加载会话、追加用户消息、执行对话图并保存检查点
// 对话图中途失败时，已完成节点的消息仍会被保存
func (s *chatService) Chat(ctx context.Context, req *ChatRequest, emitter dialogue.Emitter) (*ChatResult, error) {
	if req == nil || strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		threadID = uuid.NewString()
	}
	patient := domain.ParsePatientContext(req.UserContext)
	result := &ChatResult{ThreadID: threadID}

	err := s.scheduler.Run(ctx, threadID, func(ctx context.Context) error {
		state, err := s.load(ctx, threadID)
		if err != nil {
			return err
		}
		state.Context = patient
		next := state.Append(domain.UserMessage(req.Query))

		klog.V(6).Infof("[ChatService] 开始执行: thread=%s, history=%d", threadID, next.Len())
		turn, runErr := s.graph.Run(ctx, dialogue.TurnInput{
			SessionID: threadID,
			History:   next.Messages,
			Patient:   patient,
			Emitter:   emitter,
		})
		if turn != nil {
			next = next.Append(turn.Messages...)
			result.Answers = turn.Answers()
			result.Halt = turn.Halt
		}

		// 调用方断开时依然保存已完成节点的消息
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointTimeout)
		defer cancel()
		if err := s.store.Save(saveCtx, &next); err != nil {
			klog.Errorf("[ChatService] 保存检查点失败: thread=%s, error=%v", threadID, err)
			return errors.Join(runErr, fmt.Errorf("save checkpoint: %w", err))
		}
		return runErr
	})
	if err != nil {
		return result, err
	}

	klog.V(6).Infof("[ChatService] 执行完成: thread=%s, answers=%d, halt=%q", threadID, len(result.Answers), result.Halt)
	return result, nil
}

// load 读取会话，不存在时创建新会话
func (s *chatService) load(ctx context.Context, threadID string) (*domain.ConversationState, error) {
	state, err := s.store.Load(ctx, threadID)
	if errors.Is(err, repository.ErrNotFound) {
		klog.V(6).Infof("[ChatService] 新会话: thread=%s", threadID)
		return domain.NewConversationState(threadID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return state, nil
}

// History 获取会话的全部消息
func (s *chatService) History(ctx context.Context, threadID string) (*domain.ConversationState, error) {
	return s.store.Load(ctx, threadID)
}

func (s *chatService) Cancel(threadID string) bool {
	return s.scheduler.CancelSession(threadID)
}
