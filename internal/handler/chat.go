package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/careguide/backend/internal/domain"
	"github.com/careguide/backend/internal/repository"
	"github.com/careguide/backend/internal/service"
	"github.com/careguide/backend/internal/service/orchestrator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// ThreadIDHeader 响应头中回传的会话 ID，调用方未传 thread_id 时由服务端生成
const ThreadIDHeader = "X-Thread-ID"

// ChatHandler 对话处理器
type ChatHandler struct {
	service service.ChatService
}

// NewChatHandler 创建对话处理器
func NewChatHandler(service service.ChatService) *ChatHandler {
	return &ChatHandler{service: service}
}

// ChatRequest 对话请求，同时接受 snake_case 与 camelCase
type ChatRequest struct {
	Query          string         `json:"query"`
	UserContext    map[string]any `json:"user_context"`
	UserContextAlt map[string]any `json:"userContext"`
	ThreadID       string         `json:"thread_id"`
	ThreadIDAlt    string         `json:"threadId"`
}

func (r *ChatRequest) toServiceRequest() *service.ChatRequest {
	req := &service.ChatRequest{
		Query:       r.Query,
		ThreadID:    r.ThreadID,
		UserContext: r.UserContext,
	}
	if req.ThreadID == "" {
		req.ThreadID = r.ThreadIDAlt
	}
	if req.UserContext == nil {
		req.UserContext = r.UserContextAlt
	}
	if strings.TrimSpace(req.ThreadID) == "" {
		req.ThreadID = uuid.NewString()
	}
	return req
}

// MessagesResponse 会话消息响应
type MessagesResponse struct {
	ThreadID string                `json:"thread_id"`
	Context  domain.PatientContext `json:"context"`
	Messages []domain.Message      `json:"messages"`
}

// Chat 执行一轮对话，以 SSE 逐条推送助手消息
// 每条消息一个 `data: <json 字符串>` 事件；本轮结束即关闭流，没有结束标记
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chatReq := req.toServiceRequest()
	stream := newSSEStream(c, chatReq.ThreadID)
	_, err := h.service.Chat(c.Request.Context(), chatReq, stream)

	if err != nil {
		klog.Errorf("[ChatHandler] 对话失败: thread=%s, error=%v", stream.threadID, err)
		if stream.Started() {
			stream.Error(err)
			return
		}
		c.Header(ThreadIDHeader, stream.threadID)
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}

	// 没有任何消息时仍返回一个空的流
	stream.Open()
}

// Messages 获取会话的全部消息
func (h *ChatHandler) Messages(c *gin.Context) {
	threadID := c.Param("id")
	state, err := h.service.History(c.Request.Context(), threadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, MessagesResponse{
		ThreadID: state.SessionID,
		Context:  state.Context,
		Messages: state.Messages,
	})
}

// Cancel 取消会话正在执行的轮次，已完成节点的消息仍会保存
func (h *ChatHandler) Cancel(c *gin.Context) {
	threadID := c.Param("id")
	if !h.service.Cancel(threadID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no running turn"})
		return
	}
	klog.V(6).Infof("[ChatHandler] 已取消轮次: thread=%s", threadID)
	c.JSON(http.StatusOK, gin.H{"thread_id": threadID, "canceled": true})
}

// statusOf 首个事件之前失败时的 HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrSessionBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, orchestrator.ErrOrchestratorStopped), errors.Is(err, orchestrator.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// sseStream 把助手消息写成 SSE 事件
// Emit 在工作协程中调用，写入需要加锁
type sseStream struct {
	c        *gin.Context
	mu       sync.Mutex
	started  bool
	threadID string
}

func newSSEStream(c *gin.Context, threadID string) *sseStream {
	return &sseStream{c: c, threadID: threadID}
}

// Open 写入响应头，只执行一次
func (s *sseStream) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open()
}

func (s *sseStream) open() {
	if s.started {
		return
	}
	s.started = true
	h := s.c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	if s.threadID != "" {
		h.Set(ThreadIDHeader, s.threadID)
	}
	s.c.Writer.WriteHeader(http.StatusOK)
	s.c.Writer.Flush()
}

func (s *sseStream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Emit 推送一条助手消息
func (s *sseStream) Emit(ctx context.Context, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	s.open()
	return s.write("", msg.Content)
}

// Error 流中途失败时推送错误事件，属于传输层，不是对话内容
func (s *sseStream) Error(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if werr := s.write("error", err.Error()); werr != nil {
		klog.Warningf("[ChatHandler] 写入错误事件失败: %v", werr)
	}
}

func (s *sseStream) write(event, text string) error {
	// 与 JSON 字符串一致，但不转义 HTML 字符
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(text); err != nil {
		return err
	}
	data := bytes.TrimRight(buf.Bytes(), "\n")
	if event != "" {
		if _, err := fmt.Fprintf(s.c.Writer, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.c.Writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	s.c.Writer.Flush()
	return nil
}
