package statemachine

import (
	"k8s.io/klog/v2"
)

// TurnStatus 一轮对话的执行状态
type TurnStatus string

const (
	TurnStatusQueued    TurnStatus = "queued"    // 等待同一会话的上一轮或等待工作池
	TurnStatusRunning   TurnStatus = "running"   // 正在执行
	TurnStatusSucceeded TurnStatus = "succeeded" // 正常结束（包括闸门中断）
	TurnStatusFailed    TurnStatus = "failed"    // 模型或能力调用失败
	TurnStatusCanceled  TurnStatus = "canceled"  // 调用方断开或超时
)

// TurnTransition 定义执行状态迁移
type TurnTransition struct {
	From TurnStatus
	To   TurnStatus
}

// TurnStateMachine 对话轮次状态机
type TurnStateMachine struct {
	allowedTransitions map[TurnTransition]bool
}

// NewTurnStateMachine 创建轮次状态机
func NewTurnStateMachine() *TurnStateMachine {
	sm := &TurnStateMachine{
		allowedTransitions: make(map[TurnTransition]bool),
	}

	// queued -> running -> succeeded/failed/canceled
	// queued -> canceled（排队期间调用方断开）
	transitions := []TurnTransition{
		{TurnStatusQueued, TurnStatusRunning},
		{TurnStatusQueued, TurnStatusCanceled},
		{TurnStatusRunning, TurnStatusSucceeded},
		{TurnStatusRunning, TurnStatusFailed},
		{TurnStatusRunning, TurnStatusCanceled},
	}

	for _, t := range transitions {
		sm.allowedTransitions[t] = true
	}

	return sm
}

// CanTransition 检查状态迁移是否合法
func (sm *TurnStateMachine) CanTransition(from, to TurnStatus) bool {
	if from == to {
		return false
	}
	return sm.allowedTransitions[TurnTransition{From: from, To: to}]
}

// ValidateTransition 验证状态迁移并返回错误
func (sm *TurnStateMachine) ValidateTransition(from, to TurnStatus) error {
	if !sm.CanTransition(from, to) {
		return &InvalidTransitionError{
			Kind: "turn",
			From: string(from),
			To:   string(to),
		}
	}
	return nil
}

// Transition 执行状态迁移（带日志）
func (sm *TurnStateMachine) Transition(from, to TurnStatus, turnID string) error {
	if err := sm.ValidateTransition(from, to); err != nil {
		klog.V(6).Infof("轮次状态迁移被拒绝: turn=%s, %s -> %s, error=%v", turnID, from, to, err)
		return err
	}

	klog.V(6).Infof("轮次状态迁移成功: turn=%s, %s -> %s", turnID, from, to)
	return nil
}
