package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/careguide/backend/internal/domain"
	"github.com/careguide/backend/internal/repository"
	"github.com/careguide/backend/internal/service"
	"github.com/careguide/backend/internal/service/dialogue"
	"github.com/careguide/backend/internal/service/orchestrator"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockChatService struct {
	answers []string
	err     error
	got     *service.ChatRequest
	history *domain.ConversationState
	running map[string]bool
}

func (m *mockChatService) Chat(ctx context.Context, req *service.ChatRequest, emitter dialogue.Emitter) (*service.ChatResult, error) {
	m.got = req
	res := &service.ChatResult{ThreadID: req.ThreadID}
	for _, a := range m.answers {
		msg := domain.AssistantMessage("GeneralChatAgent", a)
		if err := emitter.Emit(ctx, msg); err != nil {
			return res, err
		}
		res.Answers = append(res.Answers, msg)
	}
	return res, m.err
}

func (m *mockChatService) History(ctx context.Context, threadID string) (*domain.ConversationState, error) {
	if m.history == nil || m.history.SessionID != threadID {
		return nil, repository.ErrNotFound
	}
	return m.history, nil
}

func (m *mockChatService) Cancel(threadID string) bool {
	return m.running[threadID]
}

func newTestRouter(svc service.ChatService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewChatHandler(svc)
	r := gin.New()
	r.POST("/chat", h.Chat)
	r.GET("/api/sessions/:id/messages", h.Messages)
	r.POST("/api/sessions/:id/cancel", h.Cancel)
	return r
}

func postChat(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestChatStreamsEachAnswer(t *testing.T) {
	svc := &mockChatService{answers: []string{"ขอเลื่อนเป็นวันจันทร์ใช่ไหมครับ?", "ทุเรียนทานได้นิดหน่อย <ครับ>"}}
	r := newTestRouter(svc)

	rec := postChat(r, `{"query":"hi","user_context":{"disease":"เบาหวาน"},"thread_id":"t1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "t1", rec.Header().Get(ThreadIDHeader))
	assert.Equal(t,
		"data: \"ขอเลื่อนเป็นวันจันทร์ใช่ไหมครับ?\"\n\n"+
			"data: \"ทุเรียนทานได้นิดหน่อย <ครับ>\"\n\n",
		rec.Body.String())

	assert.Equal(t, "t1", svc.got.ThreadID)
	assert.Equal(t, "เบาหวาน", svc.got.UserContext["disease"])
}

func TestChatAcceptsCamelCaseKeys(t *testing.T) {
	svc := &mockChatService{answers: []string{"ok"}}
	r := newTestRouter(svc)

	rec := postChat(r, `{"query":"hi","userContext":{"isAlert":false},"threadId":"t2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t2", svc.got.ThreadID)
	assert.Equal(t, false, svc.got.UserContext["isAlert"])
}

func TestChatGeneratesThreadID(t *testing.T) {
	svc := &mockChatService{answers: []string{"ok"}}
	r := newTestRouter(svc)

	rec := postChat(r, `{"query":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, svc.got.ThreadID)
	assert.Equal(t, svc.got.ThreadID, rec.Header().Get(ThreadIDHeader))
}

func TestChatErrorBeforeFirstEvent(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"empty query", service.ErrEmptyQuery, http.StatusBadRequest},
		{"busy", orchestrator.ErrSessionBusy, http.StatusTooManyRequests},
		{"stopped", orchestrator.ErrOrchestratorStopped, http.StatusServiceUnavailable},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"engine", errors.New("engine down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(&mockChatService{err: tc.err})
			rec := postChat(r, `{"query":"hi","thread_id":"t1"}`)

			assert.Equal(t, tc.code, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.err.Error(), body["error"])
		})
	}
}

func TestChatErrorMidStream(t *testing.T) {
	r := newTestRouter(&mockChatService{answers: []string{"first"}, err: errors.New("engine down")})

	rec := postChat(r, `{"query":"hi","thread_id":"t1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "data: \"first\"\n\nevent: error\ndata: \"engine down\"\n\n", rec.Body.String())
}

func TestChatWithoutAnswersClosesEmptyStream(t *testing.T) {
	r := newTestRouter(&mockChatService{})

	rec := postChat(r, `{"query":"hi","thread_id":"t1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Body.String())
}

func TestChatInvalidJSON(t *testing.T) {
	r := newTestRouter(&mockChatService{})

	rec := postChat(r, `{"query":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessages(t *testing.T) {
	state := domain.NewConversationState("t1").Append(
		domain.UserMessage("สวัสดีครับ"),
		domain.AssistantMessage("GeneralChatAgent", "สวัสดีครับ?"),
	)
	r := newTestRouter(&mockChatService{history: &state})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/t1/messages", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MessagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "t1", resp.ThreadID)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "GeneralChatAgent", resp.Messages[1].Name)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/missing/messages", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancel(t *testing.T) {
	r := newTestRouter(&mockChatService{running: map[string]bool{"t1": true}})

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/t1/cancel", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"canceled":true`)

	req = httptest.NewRequest(http.MethodPost, "/api/sessions/idle/cancel", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
