package statemachine

import (
	"fmt"

	"github.com/careguide/backend/internal/domain"
	"k8s.io/klog/v2"
)

// Node 对话图中的节点
type Node string

const (
	NodeStart      Node = "start"
	NodeSafetyGate Node = domain.NodeSafetyGate
	NodeTopicGuard Node = domain.NodeTopicGuard
	NodeSupervisor Node = domain.NodeSupervisor
	NodeTerminal   Node = "terminal"
)

// SpecialistNode 专科对应的节点
func SpecialistNode(s domain.Specialist) Node {
	return Node(s.String())
}

// NodeTransition 定义节点迁移
type NodeTransition struct {
	From Node
	To   Node
}

// DialogueStateMachine 对话节点状态机
type DialogueStateMachine struct {
	// 定义所有合法的节点迁移
	allowedTransitions map[NodeTransition]bool
}

// NewDialogueStateMachine 创建对话状态机
func NewDialogueStateMachine() *DialogueStateMachine {
	sm := &DialogueStateMachine{
		allowedTransitions: make(map[NodeTransition]bool),
	}

	// start -> safety_gate -> topic_guard -> supervisor <-> specialist
	// 三个决策节点都可以直接结束本轮
	transitions := []NodeTransition{
		{NodeStart, NodeSafetyGate},

		{NodeSafetyGate, NodeTerminal},
		{NodeSafetyGate, NodeTopicGuard},

		{NodeTopicGuard, NodeTerminal},
		{NodeTopicGuard, NodeSupervisor},

		{NodeSupervisor, NodeTerminal},
	}
	for _, s := range domain.AllSpecialists() {
		transitions = append(transitions,
			NodeTransition{NodeSupervisor, SpecialistNode(s)},
			NodeTransition{SpecialistNode(s), NodeSupervisor},
		)
	}

	for _, t := range transitions {
		sm.allowedTransitions[t] = true
	}

	return sm
}

// CanTransition 检查节点迁移是否合法
func (sm *DialogueStateMachine) CanTransition(from, to Node) bool {
	if from == to {
		return false
	}
	return sm.allowedTransitions[NodeTransition{From: from, To: to}]
}

// ValidateTransition 验证节点迁移并返回错误
func (sm *DialogueStateMachine) ValidateTransition(from, to Node) error {
	if !sm.CanTransition(from, to) {
		return &InvalidTransitionError{
			Kind: "dialogue",
			From: string(from),
			To:   string(to),
		}
	}
	return nil
}

// Transition 执行节点迁移（带日志）
func (sm *DialogueStateMachine) Transition(from, to Node, sessionID string) error {
	if err := sm.ValidateTransition(from, to); err != nil {
		klog.Warningf("对话节点迁移被拒绝: session=%s, %s -> %s, error=%v", sessionID, from, to, err)
		return err
	}

	klog.V(6).Infof("对话节点迁移: session=%s, %s -> %s", sessionID, from, to)
	return nil
}

// InvalidTransitionError 无效的状态迁移错误
type InvalidTransitionError struct {
	Kind string
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition: %s -> %s", e.Kind, e.From, e.To)
}

// IsTerminal 判断节点是否为终止节点
func IsTerminal(n Node) bool {
	return n == NodeTerminal
}
