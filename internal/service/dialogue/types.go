package dialogue

import (
	"context"

	"github.com/careguide/backend/internal/domain"
	"github.com/careguide/backend/internal/service/statemachine"
)

// Emitter 接收本轮产生的面向用户的助手消息
// 返回错误会中止本轮
type Emitter interface {
	Emit(ctx context.Context, msg domain.Message) error
}

// EmitterFunc 函数形式的 Emitter
type EmitterFunc func(ctx context.Context, msg domain.Message) error

func (f EmitterFunc) Emit(ctx context.Context, msg domain.Message) error {
	return f(ctx, msg)
}

// HaltReason 本轮提前结束的原因
type HaltReason string

const (
	HaltNone     HaltReason = ""
	HaltSafety   HaltReason = "safety"
	HaltOffTopic HaltReason = "off_topic"
	HaltCycleCap HaltReason = "cycle_cap"
)

// TurnInput 一轮对话的输入
type TurnInput struct {
	SessionID string
	// History 会话全部消息，最后一条为本轮用户消息
	History []domain.Message
	Patient domain.PatientContext
	Emitter Emitter
}

// TurnResult 一轮对话的结果
// 执行失败时同样返回已完成节点产生的消息
type TurnResult struct {
	Messages        []domain.Message
	Path            []statemachine.Node
	Halt            HaltReason
	SupervisorCalls int
	Reasoning       []string
}

// Answers 本轮面向用户的回答
func (r *TurnResult) Answers() []domain.Message {
	var out []domain.Message
	for _, m := range r.Messages {
		if m.IsFinalAnswer() {
			out = append(out, m)
		}
	}
	return out
}

// turn 在图节点之间传递的本轮状态
// 节点顺序执行，不需要加锁
type turn struct {
	in     TurnInput
	anchor int
	result *TurnResult
	next   statemachine.Node
}

func newTurn(in TurnInput) *turn {
	return &turn{
		in:     in,
		anchor: len(in.History) - 1,
		result: &TurnResult{},
	}
}

// view 当前节点看到的只读视图
func (t *turn) view() domain.TurnView {
	history := domain.AppendMessages(t.in.History, t.result.Messages...)
	return domain.TurnView{
		SessionID: t.in.SessionID,
		History:   history,
		Anchor:    t.anchor,
		Patient:   t.in.Patient,
	}
}

// hopState 图的本地状态，记录当前节点与 Supervisor 调用次数
type hopState struct {
	current         statemachine.Node
	supervisorCalls int
}
